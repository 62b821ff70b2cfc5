package executor

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/me/pyra/internal/slots"
	"golang.org/x/sys/unix"
)

// sysOps is the OS surface used for polling and signalling. Tests replace it.
type sysOps interface {
	Kill(pid int, sig unix.Signal) error
	// Wait reaps pid without blocking. wpid is 0 while pid still runs.
	Wait(pid int) (wpid int, status unix.WaitStatus, err error)
}

type unixOps struct{}

func (unixOps) Kill(pid int, sig unix.Signal) error { return unix.Kill(pid, sig) }

func (unixOps) Wait(pid int) (int, unix.WaitStatus, error) {
	var ws unix.WaitStatus
	for {
		wpid, err := unix.Wait4(pid, &ws, unix.WNOHANG, nil)
		if err == unix.EINTR {
			continue
		}
		return wpid, ws, err
	}
}

type process struct {
	cmd     *exec.Cmd
	command string
	addr    string
	started time.Time
}

// LocalSupervisor runs job commands as children of the current process.
// It keeps the live-process index and is not safe for concurrent use.
type LocalSupervisor struct {
	procs       map[int]*process
	exited      map[int]int // exit codes collected during termination, not yet polled
	table       ProcessTable
	ops         sysOps
	sleep       func(time.Duration)
	shell       string
	remoteShell []string
	stdout      *os.File
	stderr      *os.File
	dir         string
	attempts    int
	interval    time.Duration
	logger      *slog.Logger
}

// Option configures a LocalSupervisor.
type Option func(*LocalSupervisor)

// WithShell sets the local shell binary.
func WithShell(shell string) Option {
	return func(s *LocalSupervisor) { s.shell = shell }
}

// WithRemoteShell sets the transport argv prefix for remote slots, e.g.
// {"ssh", "-o", "BatchMode=yes"}.
func WithRemoteShell(argv []string) Option {
	return func(s *LocalSupervisor) { s.remoteShell = argv }
}

// WithOutput sends job stdout and stderr to the given files. Files, not
// arbitrary writers, so no copying goroutine outlives the job.
func WithOutput(stdout, stderr *os.File) Option {
	return func(s *LocalSupervisor) {
		s.stdout = stdout
		s.stderr = stderr
	}
}

// WithWorkDir sets the directory jobs start in.
func WithWorkDir(dir string) Option {
	return func(s *LocalSupervisor) { s.dir = dir }
}

// WithProcessTable replaces the /proc reader.
func WithProcessTable(t ProcessTable) Option {
	return func(s *LocalSupervisor) { s.table = t }
}

// WithKillRetry sets the per-pid termination budget.
func WithKillRetry(attempts int, interval time.Duration) Option {
	return func(s *LocalSupervisor) {
		s.attempts = attempts
		s.interval = interval
	}
}

// DefaultKillAttempts and DefaultKillInterval bound termination of one pid.
const (
	DefaultKillAttempts = 10
	DefaultKillInterval = 100 * time.Millisecond
)

// NewLocalSupervisor creates a LocalSupervisor.
func NewLocalSupervisor(logger *slog.Logger, opts ...Option) *LocalSupervisor {
	s := &LocalSupervisor{
		procs:       make(map[int]*process),
		exited:      make(map[int]int),
		table:       ProcFS{},
		ops:         unixOps{},
		sleep:       time.Sleep,
		shell:       DefaultShell,
		remoteShell: DefaultRemoteShell,
		stdout:      os.Stdout,
		stderr:      os.Stderr,
		attempts:    DefaultKillAttempts,
		interval:    DefaultKillInterval,
		logger:      logger.With("component", "supervisor"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Spawn starts command for a slot on addr. The process leads its own process
// group so KillTree can signal everything it starts. A blank command runs
// locally like any other, but is refused for a remote host, where the
// transport would open a login session instead.
func (s *LocalSupervisor) Spawn(command, addr string) (int, error) {
	if strings.TrimSpace(command) == "" && !slots.IsLocalAddr(addr) {
		return 0, fmt.Errorf("spawn on %s: %w", addr, ErrEmptyCommand)
	}
	argv := CommandArgs(command, addr, s.shell, s.remoteShell)

	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Dir = s.dir
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	if s.stdout != nil {
		cmd.Stdout = s.stdout
	}
	if s.stderr != nil {
		cmd.Stderr = s.stderr
	}

	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("start %q: %w", argv[0], err)
	}

	pid := cmd.Process.Pid
	s.procs[pid] = &process{cmd: cmd, command: command, addr: addr, started: time.Now()}
	s.logger.Info("job spawned", "pid", pid, "addr", addr, "argv0", argv[0], "command", command)
	return pid, nil
}

// Poll checks whether pid has exited. Exit by signal is reported as
// 128+signal, matching shell convention.
func (s *LocalSupervisor) Poll(pid int) (PollResult, error) {
	if code, ok := s.exited[pid]; ok {
		delete(s.exited, pid)
		s.logExit(pid, code)
		s.drop(pid)
		return PollResult{Exited: true, ExitCode: code}, nil
	}
	if _, ok := s.procs[pid]; !ok {
		return PollResult{}, fmt.Errorf("poll %d: %w", pid, ErrNotTracked)
	}

	wpid, ws, err := s.ops.Wait(pid)
	if err != nil {
		if errors.Is(err, unix.ECHILD) {
			// Reaped elsewhere; the exit status is lost.
			s.logExit(pid, -1)
			s.drop(pid)
			return PollResult{Exited: true, ExitCode: -1}, nil
		}
		return PollResult{}, fmt.Errorf("wait %d: %w", pid, err)
	}
	if wpid == 0 {
		return PollResult{}, nil
	}

	code := exitCode(ws)
	s.logExit(pid, code)
	s.drop(pid)
	return PollResult{Exited: true, ExitCode: code}, nil
}

func (s *LocalSupervisor) logExit(pid, code int) {
	p, ok := s.procs[pid]
	if !ok {
		return
	}
	s.logger.Debug("job exited", "pid", pid, "exit_code", code, "addr", p.addr,
		"runtime", time.Since(p.started).Round(time.Millisecond), "command", p.command)
}

func exitCode(ws unix.WaitStatus) int {
	switch {
	case ws.Exited():
		return ws.ExitStatus()
	case ws.Signaled():
		return 128 + int(ws.Signal())
	default:
		return -1
	}
}

// IsTracked reports whether pid is indexed.
func (s *LocalSupervisor) IsTracked(pid int) bool {
	_, ok := s.procs[pid]
	return ok
}

// Tracked returns the indexed pids in ascending order.
func (s *LocalSupervisor) Tracked() []int {
	pids := make([]int, 0, len(s.procs))
	for pid := range s.procs {
		pids = append(pids, pid)
	}
	sort.Ints(pids)
	return pids
}

// Forget drops pid from the index.
func (s *LocalSupervisor) Forget(pid int) {
	delete(s.exited, pid)
	s.drop(pid)
}

func (s *LocalSupervisor) drop(pid int) {
	p, ok := s.procs[pid]
	if !ok {
		return
	}
	delete(s.procs, pid)
	if p.cmd != nil && p.cmd.Process != nil {
		// Frees the pidfd; the process was already reaped with wait4.
		p.cmd.Process.Release()
	}
}

// Alive reports whether pid exists and is not a zombie.
func (s *LocalSupervisor) Alive(pid int) bool {
	if pid <= 0 {
		return false
	}
	if err := s.ops.Kill(pid, 0); errors.Is(err, unix.ESRCH) {
		return false
	}
	if state, err := s.table.State(pid); err == nil && state == 'Z' {
		return false
	}
	return true
}
