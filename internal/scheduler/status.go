package scheduler

import (
	"time"

	"github.com/me/pyra/internal/slots"
	"github.com/me/pyra/pkg/model"
)

// BatchStatus is the progress of one batch.
type BatchStatus struct {
	Name   string       `json:"name" yaml:"name"`
	Counts model.Counts `json:"counts" yaml:"counts"`
	Done   bool         `json:"done" yaml:"done"`
}

// Status is an immutable progress snapshot published after every tick.
type Status struct {
	RunID      string        `json:"run_id,omitempty" yaml:"run_id,omitempty"`
	Phase      string        `json:"phase" yaml:"phase"`
	Ticks      int           `json:"ticks" yaml:"ticks"`
	MaxJobs    int           `json:"maxjobs" yaml:"maxjobs"`
	MaxJobTime int           `json:"maxjobtime" yaml:"maxjobtime"`
	Slots      int           `json:"slots" yaml:"slots"`
	FreeSlots  int           `json:"free_slots" yaml:"free_slots"`
	Totals     model.Counts  `json:"totals" yaml:"totals"`
	Batches    []BatchStatus `json:"batches" yaml:"batches"`
	UpdatedAt  time.Time     `json:"updated_at" yaml:"updated_at"`
}

// Phases reported in Status.
const (
	PhaseStarting = "starting"
	PhaseRunning  = "running"
	PhaseFinished = "finished"
	PhaseKilled   = "killed"
	PhaseStopped  = "stopped"
)

// Summarize builds a Status from batches and an optional slot pool.
func Summarize(batches []*model.Batch, pool *slots.Pool, now time.Time) *Status {
	st := &Status{
		Phase:     PhaseRunning,
		Batches:   make([]BatchStatus, 0, len(batches)),
		UpdatedAt: now.UTC(),
	}
	for _, b := range batches {
		c := b.Counts()
		st.Totals = st.Totals.Add(c)
		st.Batches = append(st.Batches, BatchStatus{Name: b.Name, Counts: c, Done: c.Remaining() == 0})
	}
	if pool != nil {
		st.Slots = pool.Len()
		st.FreeSlots = pool.Free()
	}
	return st
}

func phaseFor(o Outcome) string {
	switch o {
	case Finished:
		return PhaseFinished
	case Killed:
		return PhaseKilled
	default:
		return PhaseRunning
	}
}
