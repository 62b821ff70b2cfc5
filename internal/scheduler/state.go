package scheduler

import (
	"fmt"

	"github.com/me/pyra/internal/params"
	"github.com/me/pyra/internal/slots"
	"github.com/me/pyra/pkg/model"
)

// State is everything the loop learns and decides across ticks. It is owned
// by the loop goroutine; readers outside it use Loop.Status.
type State struct {
	Pool   *slots.Pool
	Params *params.Snapshot

	// MaxJobs is the global running ceiling from the last params reload.
	MaxJobs int
	// MaxJobTime is the per-job limit in seconds; 0 disables it.
	MaxJobTime int

	Ticks int

	batchesLoaded bool
	// exhausted marks batches, by store index, that had no remaining work
	// and are never serviced again in this run.
	exhausted map[int]bool
	// adopted holds running jobs left over by an earlier daemon whose pids
	// are alive but not children of this process.
	adopted map[*model.Job]bool
}

func newState() *State {
	return &State{
		exhausted: make(map[int]bool),
		adopted:   make(map[*model.Job]bool),
	}
}

// LoadError reports a failure to load the slot pool or the batch store.
// The loop cannot make progress without them and stops.
type LoadError struct {
	What string
	Err  error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("load %s: %v", e.What, e.Err)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}
