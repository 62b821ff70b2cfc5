package model

// NoSlot marks a job that was never dispatched, or one read from the legacy
// five-field format that carried no slot index.
const NoSlot = -1

// NoPID is the pid recorded for jobs that have never been spawned.
const NoPID = -1

// Job is one shell command and its execution record.
// Start and Stop are Unix epoch seconds; while the job runs, Stop doubles as
// the time it was last observed.
type Job struct {
	Command string
	PID     int
	Slot    int
	Start   float64
	Stop    float64
	Status  JobStatus
}

// NewJob returns a pending job for cmd.
func NewJob(cmd string) *Job {
	return &Job{
		Command: cmd,
		PID:     NoPID,
		Slot:    NoSlot,
		Start:   -1,
		Stop:    -1,
		Status:  JobStatusPending,
	}
}

func (j *Job) IsPending() bool   { return j.Status == JobStatusPending }
func (j *Job) IsRunning() bool   { return j.Status == JobStatusRunning }
func (j *Job) IsCompleted() bool { return j.Status == JobStatusCompleted }
func (j *Job) IsCrashed() bool   { return j.Status == JobStatusCrashed }

// Elapsed returns Stop - Start in seconds. Only meaningful once the job has
// been dispatched.
func (j *Job) Elapsed() float64 {
	return j.Stop - j.Start
}

// MarkRunning records a dispatch: pid and slot are assigned and both
// timestamps are set to now.
func (j *Job) MarkRunning(pid, slot int, now float64) error {
	if err := j.transition(JobStatusRunning); err != nil {
		return err
	}
	j.PID = pid
	j.Slot = slot
	j.Start = now
	j.Stop = now
	return nil
}

// Touch refreshes the last-observed timestamp of a running job.
func (j *Job) Touch(now float64) {
	if j.Status != JobStatusRunning {
		return
	}
	j.Stop = now
}

// MarkExited moves a running job to completed (exit code 0) or crashed.
func (j *Job) MarkExited(exitCode int) error {
	if exitCode == 0 {
		return j.transition(JobStatusCompleted)
	}
	return j.transition(JobStatusCrashed)
}

func (j *Job) transition(next JobStatus) error {
	if !j.Status.CanTransitionTo(next) {
		return &InvalidTransitionError{Command: j.Command, From: j.Status, To: next}
	}
	j.Status = next
	return nil
}
