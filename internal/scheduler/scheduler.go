// Package scheduler runs the tick loop that dispatches pending jobs onto
// free slots, polls running jobs, and enforces the per-job time limit.
package scheduler

import "context"

// Scheduler drives batches to completion.
type Scheduler interface {
	// Start runs the loop until all work is done, a kill is requested, ctx
	// is cancelled, or Stop is called.
	Start(ctx context.Context) error

	// Stop ends the loop after the current tick and waits for it to exit.
	Stop() error

	// Tick runs a single scheduling iteration. Used for testing.
	Tick(ctx context.Context) (Outcome, error)
}

// Outcome is what a tick decided about the run.
type Outcome int

const (
	// Continue means work remains.
	Continue Outcome = iota
	// Finished means no job is pending or running.
	Finished
	// Killed means the operator asked for every job to be terminated.
	Killed
)

func (o Outcome) String() string {
	switch o {
	case Continue:
		return "continue"
	case Finished:
		return "finished"
	case Killed:
		return "killed"
	default:
		return "unknown"
	}
}
