package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite"
)

// EventKind names a job lifecycle event recorded in the history ledger.
type EventKind string

const (
	EventRunStart    EventKind = "run-start"
	EventRunEnd      EventKind = "run-end"
	EventDispatched  EventKind = "dispatched"
	EventCompleted   EventKind = "completed"
	EventCrashed     EventKind = "crashed"
	EventTimeoutKill EventKind = "timeout-kill"
	EventKillAll     EventKind = "kill-all"
	EventAdopted     EventKind = "adopted"
)

// Event is one row of the history ledger.
type Event struct {
	ID       int64     `json:"id" yaml:"id"`
	RunID    string    `json:"run_id" yaml:"run_id"`
	Batch    string    `json:"batch,omitempty" yaml:"batch,omitempty"`
	JobIndex int       `json:"job_index" yaml:"job_index"`
	Command  string    `json:"command,omitempty" yaml:"command,omitempty"`
	Kind     EventKind `json:"event" yaml:"event"`
	PID      int       `json:"pid" yaml:"pid"`
	Slot     int       `json:"slot" yaml:"slot"`
	ExitCode *int      `json:"exit_code,omitempty" yaml:"exit_code,omitempty"`
	Detail   string    `json:"detail,omitempty" yaml:"detail,omitempty"`
	At       time.Time `json:"at" yaml:"at"`
}

// History records job events for later inspection.
type History interface {
	Record(ctx context.Context, ev Event) error
	Recent(ctx context.Context, limit int) ([]Event, error)
	Close() error
}

// SQLiteHistory implements History using SQLite.
type SQLiteHistory struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteHistory opens (or creates) a SQLite database at dbPath.
// Use ":memory:" for an in-memory database (useful in tests).
func NewSQLiteHistory(dbPath string, logger *slog.Logger) (*SQLiteHistory, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", dbPath, err)
	}
	// A single connection keeps ":memory:" databases shared across calls.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma wal: %w", err)
	}

	return &SQLiteHistory{
		db:     db,
		logger: logger.With("component", "history"),
	}, nil
}

// Close closes the underlying database connection.
func (h *SQLiteHistory) Close() error {
	return h.db.Close()
}

// Migrate creates all required tables and indexes.
func (h *SQLiteHistory) Migrate(ctx context.Context) error {
	h.logger.Debug("sql", "op", "migrate")
	return migrate(ctx, h.db)
}

// Record appends ev. A zero At is replaced with the current time.
func (h *SQLiteHistory) Record(ctx context.Context, ev Event) error {
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	h.logger.Debug("sql", "op", "insert", "table", "job_events", "event", ev.Kind)

	var exitCode any
	if ev.ExitCode != nil {
		exitCode = *ev.ExitCode
	}

	_, err := h.db.ExecContext(ctx,
		`INSERT INTO job_events (run_id, batch, job_index, command, event, pid, slot, exit_code, detail, at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.RunID, ev.Batch, ev.JobIndex, ev.Command, string(ev.Kind), ev.PID, ev.Slot,
		exitCode, ev.Detail, ev.At.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert job event: %w", err)
	}
	return nil
}

// Recent returns up to limit events, newest first.
func (h *SQLiteHistory) Recent(ctx context.Context, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 50
	}
	h.logger.Debug("sql", "op", "select", "table", "job_events", "limit", limit)

	rows, err := h.db.QueryContext(ctx,
		`SELECT id, run_id, batch, job_index, command, event, pid, slot, exit_code, detail, at
		 FROM job_events ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query job events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var ev Event
		var kind, at string
		var exitCode sql.NullInt64
		if err := rows.Scan(&ev.ID, &ev.RunID, &ev.Batch, &ev.JobIndex, &ev.Command, &kind,
			&ev.PID, &ev.Slot, &exitCode, &ev.Detail, &at); err != nil {
			return nil, fmt.Errorf("scan job event: %w", err)
		}
		ev.Kind = EventKind(kind)
		if exitCode.Valid {
			code := int(exitCode.Int64)
			ev.ExitCode = &code
		}
		ev.At, _ = time.Parse(time.RFC3339Nano, at)
		events = append(events, ev)
	}
	return events, rows.Err()
}

// NopHistory discards every event.
type NopHistory struct{}

func (NopHistory) Record(context.Context, Event) error          { return nil }
func (NopHistory) Recent(context.Context, int) ([]Event, error) { return nil, nil }
func (NopHistory) Close() error                                 { return nil }
