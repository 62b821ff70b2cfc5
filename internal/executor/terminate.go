package executor

import (
	"errors"
	"time"

	"golang.org/x/sys/unix"
)

// KillTree sends SIGKILL to pids and their direct children, descendants
// first. The process group of every pid is signalled once before that, so a
// shell cannot start its next command while the tree is taken down. Each pid
// then gets up to the configured number of attempts, spaced by the retry
// interval, and is abandoned once confirmed gone. Delivery failures other
// than "no such process" are logged and recorded, and termination continues
// with the next pid.
func (s *LocalSupervisor) KillTree(pids []int) TerminateResult {
	targets, err := WithDescendants(s.table, pids)
	if err != nil {
		s.logger.Warn("descendant discovery failed", "pids", pids, "error", err)
	}

	for _, pid := range pids {
		if pid <= 0 {
			continue
		}
		if p, ok := s.procs[pid]; ok {
			s.logger.Info("killing job", "pid", pid, "addr", p.addr,
				"runtime", time.Since(p.started).Round(time.Second), "command", p.command)
		}
		// Spawned jobs lead their group. A pid that leads no group fails
		// with ESRCH.
		if err := s.ops.Kill(-pid, unix.SIGKILL); err != nil && !errors.Is(err, unix.ESRCH) {
			s.logger.Warn("group kill failed", "pgid", pid, "error", err)
		}
	}

	res := TerminateResult{Targets: targets}
	for _, pid := range targets {
		if s.killOne(pid, &res) {
			res.Gone = append(res.Gone, pid)
		} else {
			res.Resisted = append(res.Resisted, pid)
		}
	}

	if len(res.Resisted) > 0 {
		s.logger.Warn("processes survived termination", "pids", res.Resisted)
	}
	return res
}

func (s *LocalSupervisor) killOne(pid int, res *TerminateResult) bool {
	attempts := s.attempts
	if attempts < 1 {
		attempts = 1
	}
	for attempt := 1; attempt <= attempts; attempt++ {
		err := s.ops.Kill(pid, unix.SIGKILL)
		switch {
		case err == nil:
		case errors.Is(err, unix.ESRCH):
			s.reap(pid)
			return true
		default:
			serr := &SignalError{PID: pid, Attempt: attempt, Err: err}
			s.logger.Error("kill failed", "pid", pid, "attempt", attempt, "error", err)
			res.Errors = append(res.Errors, serr)
			return false
		}

		if s.reap(pid) {
			return true
		}
		if attempt < attempts {
			s.sleep(s.interval)
		}
	}
	return false
}

// reap reports whether pid is gone. A tracked child is collected with a
// non-blocking wait and its exit code kept for the next Poll.
func (s *LocalSupervisor) reap(pid int) bool {
	if _, ok := s.procs[pid]; ok {
		wpid, ws, err := s.ops.Wait(pid)
		switch {
		case err != nil:
			if errors.Is(err, unix.ECHILD) {
				s.exited[pid] = -1
				return true
			}
			return false
		case wpid == 0:
			return false
		default:
			s.exited[pid] = exitCode(ws)
			return true
		}
	}
	return !s.Alive(pid)
}
