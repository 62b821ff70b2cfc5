// Package executor spawns job commands as OS processes, polls them without
// blocking, and terminates process trees.
package executor

import (
	"errors"
	"fmt"
)

// Sentinel errors.
var (
	ErrEmptyCommand = errors.New("empty command")
	ErrNotTracked   = errors.New("pid is not tracked")
)

// PollResult is the outcome of a non-blocking liveness check.
type PollResult struct {
	Exited   bool
	ExitCode int
}

// TerminateResult summarises one termination pass.
type TerminateResult struct {
	// Targets is every pid signalled, descendants first.
	Targets []int
	// Gone lists pids confirmed dead within the retry budget.
	Gone []int
	// Resisted lists pids still present after every attempt.
	Resisted []int
	// Errors holds signal failures other than "no such process".
	Errors []error
}

// Supervisor is the process-control surface the scheduler depends on.
type Supervisor interface {
	// Spawn starts command on addr and indexes the process by pid.
	Spawn(command, addr string) (pid int, err error)
	// Poll checks pid without blocking. An exited pid leaves the index.
	Poll(pid int) (PollResult, error)
	// IsTracked reports whether pid is in the live-process index.
	IsTracked(pid int) bool
	// Tracked returns every indexed pid.
	Tracked() []int
	// Forget drops pid from the index.
	Forget(pid int)
	// Alive reports whether a pid exists at all, tracked or not.
	Alive(pid int) bool
	// KillTree terminates pids and their direct children.
	KillTree(pids []int) TerminateResult
}

// SignalError records a failed signal delivery.
type SignalError struct {
	PID     int
	Attempt int
	Err     error
}

func (e *SignalError) Error() string {
	return fmt.Sprintf("signal pid %d (attempt %d): %v", e.PID, e.Attempt, e.Err)
}

func (e *SignalError) Unwrap() error {
	return e.Err
}
