package store

import (
	"context"
	"testing"
	"time"
)

func testHistory(t *testing.T) *SQLiteHistory {
	t.Helper()
	h, err := NewSQLiteHistory(":memory:", newTestLogger())
	if err != nil {
		t.Fatalf("open history: %v", err)
	}
	if err := h.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() { h.Close() })
	return h
}

func TestSQLiteHistory_RecordAndRecent(t *testing.T) {
	h := testHistory(t)
	ctx := context.Background()
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	code := 3
	events := []Event{
		{RunID: "run-1", Kind: EventRunStart, JobIndex: -1, PID: -1, Slot: -1, At: at},
		{RunID: "run-1", Batch: "b1", JobIndex: 0, Command: "echo 1", Kind: EventDispatched, PID: 10, Slot: 2, At: at.Add(time.Second)},
		{RunID: "run-1", Batch: "b1", JobIndex: 0, Command: "echo 1", Kind: EventCrashed, PID: 10, Slot: 2, ExitCode: &code, At: at.Add(2 * time.Second)},
	}
	for _, ev := range events {
		if err := h.Record(ctx, ev); err != nil {
			t.Fatalf("Record(%s): %v", ev.Kind, err)
		}
	}

	got, err := h.Recent(ctx, 2)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("Recent returned %d events, want 2", len(got))
	}
	if got[0].Kind != EventCrashed || got[1].Kind != EventDispatched {
		t.Errorf("order = %s,%s, want crashed,dispatched", got[0].Kind, got[1].Kind)
	}
	if got[0].ExitCode == nil || *got[0].ExitCode != 3 {
		t.Errorf("exit code = %v, want 3", got[0].ExitCode)
	}
	if got[1].ExitCode != nil {
		t.Errorf("dispatch exit code = %v, want nil", *got[1].ExitCode)
	}
	if !got[1].At.Equal(at.Add(time.Second)) || got[1].Slot != 2 || got[1].Batch != "b1" {
		t.Errorf("dispatch event = %+v", got[1])
	}
}

func TestSQLiteHistory_MigrateIdempotent(t *testing.T) {
	h := testHistory(t)
	if err := h.Migrate(context.Background()); err != nil {
		t.Fatalf("second Migrate: %v", err)
	}
}

func TestSQLiteHistory_RecordDefaultsTime(t *testing.T) {
	h := testHistory(t)
	ctx := context.Background()
	before := time.Now().Add(-time.Second)
	if err := h.Record(ctx, Event{RunID: "r", Kind: EventRunEnd}); err != nil {
		t.Fatalf("Record: %v", err)
	}
	got, _ := h.Recent(ctx, 0)
	if len(got) != 1 || got[0].At.Before(before) {
		t.Errorf("Recent = %+v", got)
	}
}
