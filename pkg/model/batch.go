package model

// Counts aggregates job statuses over one or more batches.
type Counts struct {
	Total     int `json:"total" yaml:"total"`
	Pending   int `json:"pending" yaml:"pending"`
	Running   int `json:"running" yaml:"running"`
	Completed int `json:"completed" yaml:"completed"`
	Crashed   int `json:"crashed" yaml:"crashed"`
}

// Remaining returns the number of jobs that are not yet terminal.
func (c Counts) Remaining() int {
	return c.Pending + c.Running
}

// Add returns the element-wise sum of c and o.
func (c Counts) Add(o Counts) Counts {
	return Counts{
		Total:     c.Total + o.Total,
		Pending:   c.Pending + o.Pending,
		Running:   c.Running + o.Running,
		Completed: c.Completed + o.Completed,
		Crashed:   c.Crashed + o.Crashed,
	}
}

// Batch is a named, ordered list of jobs. Membership is fixed once the batch
// is built; only the jobs themselves change.
type Batch struct {
	Name string
	Jobs []*Job
}

// NewBatch creates a batch of pending jobs, one per command.
func NewBatch(name string, cmds []string) *Batch {
	b := &Batch{Name: name, Jobs: make([]*Job, 0, len(cmds))}
	for _, c := range cmds {
		b.Jobs = append(b.Jobs, NewJob(c))
	}
	return b
}

// Counts tallies job statuses. Computed on every call.
func (b *Batch) Counts() Counts {
	c := Counts{Total: len(b.Jobs)}
	for _, j := range b.Jobs {
		switch j.Status {
		case JobStatusPending:
			c.Pending++
		case JobStatusRunning:
			c.Running++
		case JobStatusCompleted:
			c.Completed++
		case JobStatusCrashed:
			c.Crashed++
		}
	}
	return c
}

func (b *Batch) Running() int { return b.Counts().Running }
func (b *Batch) Pending() int { return b.Counts().Pending }
func (b *Batch) Crashed() int { return b.Counts().Crashed }
func (b *Batch) Total() int   { return len(b.Jobs) }

// Status returns (total, completed, running, crashed).
func (b *Batch) Status() (total, completed, running, crashed int) {
	c := b.Counts()
	return c.Total, c.Completed, c.Running, c.Crashed
}

// Done reports whether the batch has no pending or running jobs left.
func (b *Batch) Done() bool {
	return b.Counts().Remaining() == 0
}
