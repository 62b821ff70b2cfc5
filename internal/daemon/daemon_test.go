package daemon

import (
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"
)

func TestWriteReadRemovePID(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".pyrasol.pid")

	if err := WritePID(path); err != nil {
		t.Fatalf("WritePID: %v", err)
	}
	pid, err := ReadPID(path)
	if err != nil {
		t.Fatalf("ReadPID: %v", err)
	}
	if pid != os.Getpid() {
		t.Errorf("pid = %d, want %d", pid, os.Getpid())
	}
	if got, alive := Status(path); got != pid || !alive {
		t.Errorf("Status = %d,%v, want %d,true", got, alive, pid)
	}

	if err := RemovePID(path); err != nil {
		t.Fatalf("RemovePID: %v", err)
	}
	if _, err := os.Stat(path); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("pid file still present: %v", err)
	}
	if err := RemovePID(path); err != nil {
		t.Errorf("RemovePID on missing file: %v", err)
	}
}

func startSleeper(t *testing.T) *exec.Cmd {
	t.Helper()
	cmd := exec.Command("sleep", "30")
	if err := cmd.Start(); err != nil {
		t.Skipf("cannot start sleep: %v", err)
	}
	waited := make(chan struct{})
	go func() {
		cmd.Wait()
		close(waited)
	}()
	t.Cleanup(func() {
		cmd.Process.Kill()
		<-waited
	})
	return cmd
}

func TestWritePID_RefusesLiveOwner(t *testing.T) {
	cmd := startSleeper(t)
	path := filepath.Join(t.TempDir(), "pid")
	if err := os.WriteFile(path, []byte(strconv.Itoa(cmd.Process.Pid)), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := WritePID(path); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("WritePID err = %v, want ErrAlreadyRunning", err)
	}
	if err := RemovePID(path); err != nil {
		t.Fatalf("RemovePID: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Error("RemovePID deleted a file owned by another process")
	}
}

func TestWritePID_ReplacesStale(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pid")
	if err := os.WriteFile(path, []byte("not-a-pid\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := WritePID(path); err != nil {
		t.Fatalf("WritePID: %v", err)
	}
	if pid, _ := ReadPID(path); pid != os.Getpid() {
		t.Errorf("pid = %d, want %d", pid, os.Getpid())
	}
}

func TestReadPID_Malformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pid")
	for _, content := range []string{"", "abc", "-4", "0"} {
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
		if _, err := ReadPID(path); err == nil {
			t.Errorf("ReadPID(%q) expected error", content)
		}
	}
}

func TestStop(t *testing.T) {
	cmd := startSleeper(t)
	path := filepath.Join(t.TempDir(), "pid")
	if err := os.WriteFile(path, []byte(strconv.Itoa(cmd.Process.Pid)+"\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	pid, err := Stop(path, 5*time.Second)
	if err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if pid != cmd.Process.Pid {
		t.Errorf("pid = %d, want %d", pid, cmd.Process.Pid)
	}
	if _, err := os.Stat(path); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("pid file not removed: %v", err)
	}
}

func TestStop_NotRunning(t *testing.T) {
	dir := t.TempDir()
	if _, err := Stop(filepath.Join(dir, "missing"), time.Second); !errors.Is(err, ErrNotRunning) {
		t.Errorf("Stop(missing) err = %v, want ErrNotRunning", err)
	}

	// A pid that cannot exist: above the kernel's pid_max ceiling.
	stale := filepath.Join(dir, "stale")
	if err := os.WriteFile(stale, []byte("99999999\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Stop(stale, time.Second); !errors.Is(err, ErrNotRunning) {
		t.Errorf("Stop(stale) err = %v, want ErrNotRunning", err)
	}
	if _, err := os.Stat(stale); !errors.Is(err, os.ErrNotExist) {
		t.Error("stale pid file not removed")
	}
}

func TestDetach(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "err.log")
	script := filepath.Join(dir, "run.sh")
	// Echo the arguments so the appended flag is visible in the log.
	if err := os.WriteFile(script, []byte("#!/bin/sh\necho \"args: $*\"\npwd\n"), 0o755); err != nil {
		t.Fatal(err)
	}

	pid, err := Detach(script, []string{"run"}, dir, logPath)
	if err != nil {
		t.Fatalf("Detach: %v", err)
	}
	if pid <= 0 {
		t.Fatalf("pid = %d", pid)
	}

	deadline := time.Now().Add(5 * time.Second)
	var data []byte
	for time.Now().Before(deadline) {
		data, _ = os.ReadFile(logPath)
		if len(data) > 0 && strings.Contains(string(data), dir) {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if !strings.Contains(string(data), "args: run "+ForegroundFlag) {
		t.Errorf("log = %q, want foreground flag appended", data)
	}
}
