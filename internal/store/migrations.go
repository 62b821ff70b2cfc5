package store

import (
	"context"
	"database/sql"
	"strings"
)

// schema contains the DDL for the history ledger.
// Each statement uses IF NOT EXISTS for idempotency.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS job_events (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id     TEXT NOT NULL,
		batch      TEXT NOT NULL DEFAULT '',
		job_index  INTEGER NOT NULL DEFAULT -1,
		command    TEXT NOT NULL DEFAULT '',
		event      TEXT NOT NULL,
		pid        INTEGER NOT NULL DEFAULT -1,
		slot       INTEGER NOT NULL DEFAULT -1,
		at         TEXT NOT NULL
	)`,

	`CREATE INDEX IF NOT EXISTS idx_job_events_run_id ON job_events(run_id)`,
	`CREATE INDEX IF NOT EXISTS idx_job_events_batch ON job_events(batch, job_index)`,
}

// alterStatements are column additions that need special handling since
// SQLite doesn't support IF NOT EXISTS for ALTER TABLE ADD COLUMN.
var alterStatements = []struct {
	table    string
	column   string
	alterSQL string
	indexSQL string // Optional index to create after column is added
}{
	{
		table:    "job_events",
		column:   "exit_code",
		alterSQL: "ALTER TABLE job_events ADD COLUMN exit_code INTEGER",
	},
	{
		table:    "job_events",
		column:   "detail",
		alterSQL: "ALTER TABLE job_events ADD COLUMN detail TEXT NOT NULL DEFAULT ''",
		indexSQL: "CREATE INDEX IF NOT EXISTS idx_job_events_event ON job_events(event)",
	},
}

// migrate executes all schema DDL statements and alter migrations.
func migrate(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}

	for _, alter := range alterStatements {
		if err := addColumnIfNotExists(ctx, db, alter.table, alter.column, alter.alterSQL); err != nil {
			return err
		}
		if alter.indexSQL != "" {
			if _, err := db.ExecContext(ctx, alter.indexSQL); err != nil {
				return err
			}
		}
	}

	return nil
}

// addColumnIfNotExists adds a column to a table if it doesn't already exist.
func addColumnIfNotExists(ctx context.Context, db *sql.DB, table, column, alterSQL string) error {
	rows, err := db.QueryContext(ctx, "PRAGMA table_info("+table+")")
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull, pk int
		var dfltValue *string
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dfltValue, &pk); err != nil {
			return err
		}
		if strings.EqualFold(name, column) {
			return nil
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}
	rows.Close()

	_, err = db.ExecContext(ctx, alterSQL)
	return err
}
