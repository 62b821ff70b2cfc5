package model

// JobStatus represents the lifecycle state of a Job.
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusCrashed   JobStatus = "crashed"
)

// String returns the string representation of the job status.
func (s JobStatus) String() string {
	return string(s)
}

// IsTerminal returns true if the job is in a final state.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusCrashed:
		return true
	}
	return false
}

// IsValid reports whether s is one of the known statuses.
func (s JobStatus) IsValid() bool {
	switch s {
	case JobStatusPending, JobStatusRunning, JobStatusCompleted, JobStatusCrashed:
		return true
	}
	return false
}

// ValidJobTransitions defines the allowed state transitions for Jobs.
// Terminal states have no outgoing edges.
var ValidJobTransitions = map[JobStatus][]JobStatus{
	JobStatusPending: {JobStatusRunning},
	JobStatusRunning: {JobStatusCompleted, JobStatusCrashed},
}

// CanTransitionTo returns true if moving from the current status to next is valid.
func (s JobStatus) CanTransitionTo(next JobStatus) bool {
	for _, allowed := range ValidJobTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}
