// Package daemon manages the background scheduler process: its PID file,
// detaching from the terminal, and stopping it by signal.
package daemon

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// Sentinel errors.
var (
	ErrAlreadyRunning = errors.New("daemon already running")
	ErrNotRunning     = errors.New("daemon not running")
)

// ForegroundFlag is appended to the re-executed command line so the child
// runs the loop instead of detaching again.
const ForegroundFlag = "--foreground"

// ReadPID returns the pid stored in path.
func ReadPID(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, fmt.Errorf("malformed pid file %s", path)
	}
	return pid, nil
}

// WritePID records the current process in path. It fails if another live
// process already owns the file; a stale file is replaced.
func WritePID(path string) error {
	if pid, err := ReadPID(path); err == nil && pid != os.Getpid() && Running(pid) {
		return fmt.Errorf("%w (pid %d)", ErrAlreadyRunning, pid)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := fmt.Fprintf(tmp, "%d\n", os.Getpid()); err != nil {
		tmp.Close()
		return fmt.Errorf("write pid file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("install pid file: %w", err)
	}
	return nil
}

// RemovePID deletes path if it still names the current process.
func RemovePID(path string) error {
	pid, err := ReadPID(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err == nil && pid != os.Getpid() {
		return nil
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// Running reports whether pid exists. EPERM means it exists but belongs to
// someone else.
func Running(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := unix.Kill(pid, 0)
	return err == nil || errors.Is(err, unix.EPERM)
}

// Status returns the pid from path and whether that process is alive.
func Status(path string) (int, bool) {
	pid, err := ReadPID(path)
	if err != nil {
		return 0, false
	}
	return pid, Running(pid)
}

// Detach starts exe with args plus ForegroundFlag in a new session, with
// stdin from /dev/null and stdout/stderr appended to logPath. It returns the
// child's pid without waiting for it.
func Detach(exe string, args []string, dir, logPath string) (int, error) {
	devnull, err := os.Open(os.DevNull)
	if err != nil {
		return 0, err
	}
	defer devnull.Close()

	logf, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return 0, fmt.Errorf("open log file: %w", err)
	}
	defer logf.Close()

	cmd := exec.Command(exe, append(append([]string(nil), args...), ForegroundFlag)...)
	cmd.Dir = dir
	cmd.Stdin = devnull
	cmd.Stdout = logf
	cmd.Stderr = logf
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("start daemon: %w", err)
	}
	pid := cmd.Process.Pid
	if err := cmd.Process.Release(); err != nil {
		return pid, err
	}
	return pid, nil
}

// Stop sends SIGTERM to the process in pidPath and waits up to timeout for it
// to exit, then removes a leftover PID file.
func Stop(pidPath string, timeout time.Duration) (int, error) {
	pid, err := ReadPID(pidPath)
	if errors.Is(err, os.ErrNotExist) {
		return 0, ErrNotRunning
	}
	if err != nil {
		return 0, err
	}
	if !Running(pid) {
		os.Remove(pidPath)
		return pid, ErrNotRunning
	}

	if err := unix.Kill(pid, unix.SIGTERM); err != nil && !errors.Is(err, unix.ESRCH) {
		return pid, fmt.Errorf("signal pid %d: %w", pid, err)
	}

	deadline := time.Now().Add(timeout)
	for Running(pid) {
		if time.Now().After(deadline) {
			return pid, fmt.Errorf("pid %d still running after %s", pid, timeout)
		}
		time.Sleep(100 * time.Millisecond)
	}
	if err := os.Remove(pidPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return pid, err
	}
	return pid, nil
}
