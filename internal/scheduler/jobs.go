package scheduler

import (
	"context"
	"errors"
	"fmt"

	"github.com/me/pyra/internal/executor"
	"github.com/me/pyra/internal/store"
	"github.com/me/pyra/pkg/model"
)

// serviceBatch polls the running jobs of b and dispatches its pending jobs
// while the global running count stays under MaxJobs and slots are free.
// running is the global count at the start of the tick; jobs finishing
// during this pass free their slots for the next tick.
func (l *Loop) serviceBatch(ctx context.Context, b *model.Batch, running int) {
	dispatching := true
	for i, job := range b.Jobs {
		switch {
		case job.IsRunning():
			l.checkJob(ctx, b, i, job)
		case job.IsPending() && dispatching:
			if running >= l.state.MaxJobs {
				dispatching = false
				continue
			}
			slot, ok := l.state.Pool.AnyFree()
			if !ok {
				l.logger.Debug("no free slot", "batch", b.Name)
				dispatching = false
				continue
			}
			if err := l.dispatch(ctx, b, i, job, slot); err != nil {
				// A job that can never start was marked crashed; the rest
				// of the batch still goes out.
				if !errors.Is(err, executor.ErrEmptyCommand) {
					dispatching = false
				}
				continue
			}
			running++
			if running >= l.state.MaxJobs {
				dispatching = false
			}
		}
	}
}

// dispatch starts job on slot. A transient spawn failure leaves the job
// pending and ends dispatching for this tick. A command the supervisor can
// never run (ErrEmptyCommand) crashes the job at once.
func (l *Loop) dispatch(ctx context.Context, b *model.Batch, idx int, job *model.Job, slot int) error {
	addr := l.state.Pool.Addr(slot)
	pid, err := l.deps.Supervisor.Spawn(job.Command, addr)
	if errors.Is(err, executor.ErrEmptyCommand) {
		l.logger.Error("job cannot be started, marking crashed", "batch", b.Name, "job", idx, "addr", addr, "error", err)
		if merr := job.MarkRunning(model.NoPID, slot, l.epoch()); merr != nil {
			return merr
		}
		l.complete(ctx, b, idx, job, -1)
		return err
	}
	if err != nil {
		l.logger.Error("spawn failed", "batch", b.Name, "job", idx, "addr", addr, "error", err)
		return err
	}
	if err := job.MarkRunning(pid, slot, l.epoch()); err != nil {
		// The process stays tracked and is still covered by a kill request.
		l.logger.Error("mark running", "batch", b.Name, "job", idx, "error", err)
		return err
	}
	l.state.Pool.Reserve(slot)

	l.logger.Info("job dispatched", "batch", b.Name, "job", idx, "pid", pid, "slot", slot,
		"addr", addr, "local", l.state.Pool.IsLocal(slot))
	l.record(ctx, store.Event{
		Batch: b.Name, JobIndex: idx, Command: job.Command,
		Kind: store.EventDispatched, PID: pid, Slot: slot, Detail: addr,
	})
	return nil
}

// checkJob observes a running job. A time-limit breach only requests
// termination; the status changes once the exit is actually seen.
func (l *Loop) checkJob(ctx context.Context, b *model.Batch, idx int, job *model.Job) {
	sup := l.deps.Supervisor
	if !sup.IsTracked(job.PID) {
		l.checkAdopted(ctx, b, idx, job)
		return
	}

	res, err := sup.Poll(job.PID)
	job.Touch(l.epoch())
	l.enforceTimeLimit(ctx, b, idx, job)

	if err != nil {
		l.logger.Warn("poll failed", "batch", b.Name, "job", idx, "pid", job.PID, "error", err)
		return
	}
	if !res.Exited {
		return
	}

	l.complete(ctx, b, idx, job, res.ExitCode)
	sup.Forget(job.PID)
}

// checkAdopted handles a running job whose pid this process did not spawn,
// which happens after a daemon restart. A vanished pid is recorded as
// crashed since its exit status cannot be known.
func (l *Loop) checkAdopted(ctx context.Context, b *model.Batch, idx int, job *model.Job) {
	if !l.deps.Supervisor.Alive(job.PID) {
		delete(l.state.adopted, job)
		l.logger.Warn("running job has no process", "batch", b.Name, "job", idx, "pid", job.PID)
		l.complete(ctx, b, idx, job, -1)
		return
	}

	if !l.state.adopted[job] {
		l.state.adopted[job] = true
		l.logger.Info("adopted running job", "batch", b.Name, "job", idx, "pid", job.PID, "slot", job.Slot)
		l.record(ctx, store.Event{
			Batch: b.Name, JobIndex: idx, Command: job.Command,
			Kind: store.EventAdopted, PID: job.PID, Slot: job.Slot,
		})
	}
	job.Touch(l.epoch())
	l.enforceTimeLimit(ctx, b, idx, job)
}

func (l *Loop) enforceTimeLimit(ctx context.Context, b *model.Batch, idx int, job *model.Job) {
	limit := l.state.MaxJobTime
	if limit <= 0 || job.Elapsed() <= float64(limit) {
		return
	}

	res := l.deps.Supervisor.KillTree([]int{job.PID})
	l.logger.Warn("job exceeded maxjobtime, killing",
		"batch", b.Name, "job", idx, "pid", job.PID,
		"elapsed", int(job.Elapsed()), "maxjobtime", limit,
		"targets", len(res.Targets), "resisted", len(res.Resisted))
	l.record(ctx, store.Event{
		Batch: b.Name, JobIndex: idx, Command: job.Command,
		Kind: store.EventTimeoutKill, PID: job.PID, Slot: job.Slot,
	})
}

// complete moves job to its terminal state and frees its slot.
func (l *Loop) complete(ctx context.Context, b *model.Batch, idx int, job *model.Job, code int) {
	if err := job.MarkExited(code); err != nil {
		l.logger.Error("mark exited", "batch", b.Name, "job", idx, "error", err)
		return
	}
	l.state.Pool.Release(job.Slot)
	delete(l.state.adopted, job)

	kind := store.EventCompleted
	if job.IsCrashed() {
		kind = store.EventCrashed
		l.logger.Warn("job crashed", "batch", b.Name, "job", idx, "pid", job.PID, "exit_code", code)
	} else {
		l.logger.Info("job completed", "batch", b.Name, "job", idx, "pid", job.PID, "elapsed", int(job.Elapsed()))
	}
	exit := code
	l.record(ctx, store.Event{
		Batch: b.Name, JobIndex: idx, Command: job.Command,
		Kind: kind, PID: job.PID, Slot: job.Slot, ExitCode: &exit,
	})
}

// killAll terminates every tracked process tree and every adopted job.
func (l *Loop) killAll(ctx context.Context) {
	var pids []int
	for _, pid := range l.deps.Supervisor.Tracked() {
		if pid > 0 {
			pids = append(pids, pid)
		}
	}
	for job := range l.state.adopted {
		if job.IsRunning() && job.PID > 0 && !l.deps.Supervisor.IsTracked(job.PID) {
			pids = append(pids, job.PID)
		}
	}

	l.logger.Warn("killing running jobs", "count", len(pids))
	res := l.deps.Supervisor.KillTree(pids)
	for _, err := range res.Errors {
		l.logger.Error("kill error", "error", err)
	}
	l.logger.Info("kill finished", "targets", len(res.Targets), "gone", len(res.Gone), "resisted", len(res.Resisted))

	l.record(ctx, store.Event{
		Kind: store.EventKillAll, JobIndex: -1, PID: -1, Slot: -1,
		Detail: fmt.Sprintf("targets=%d resisted=%d", len(res.Targets), len(res.Resisted)),
	})
}

func (l *Loop) epoch() float64 {
	return float64(l.now().UnixNano()) / 1e9
}
