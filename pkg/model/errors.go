package model

import "fmt"

// InvalidTransitionError is returned when a job status transition is invalid.
type InvalidTransitionError struct {
	Command string
	From    JobStatus
	To      JobStatus
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid job state transition: %s → %s (command %q)", e.From, e.To, e.Command)
}
