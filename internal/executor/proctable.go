package executor

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// ProcessTable queries the OS process list.
type ProcessTable interface {
	// Children returns the direct children of any of pids.
	Children(pids []int) ([]int, error)
	// State returns the one-letter scheduler state of pid (R, S, Z, ...).
	State(pid int) (byte, error)
}

// ProcFS reads /proc.
type ProcFS struct {
	Root string // defaults to /proc
}

func (p ProcFS) root() string {
	if p.Root == "" {
		return "/proc"
	}
	return p.Root
}

// Children walks every /proc/<pid>/stat and matches the ppid field.
func (p ProcFS) Children(pids []int) ([]int, error) {
	parents := make(map[int]bool, len(pids))
	for _, pid := range pids {
		parents[pid] = true
	}

	entries, err := os.ReadDir(p.root())
	if err != nil {
		return nil, err
	}

	var children []int
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		pid, err := strconv.Atoi(entry.Name())
		if err != nil {
			continue
		}
		st, err := p.stat(pid)
		if err != nil {
			// Process exited between ReadDir and ReadFile.
			continue
		}
		if parents[st.ppid] {
			children = append(children, pid)
		}
	}
	return children, nil
}

// State returns the state letter of pid.
func (p ProcFS) State(pid int) (byte, error) {
	st, err := p.stat(pid)
	if err != nil {
		return 0, err
	}
	return st.state, nil
}

type procStat struct {
	state byte
	ppid  int
}

func (p ProcFS) stat(pid int) (procStat, error) {
	data, err := os.ReadFile(filepath.Join(p.root(), strconv.Itoa(pid), "stat"))
	if err != nil {
		return procStat{}, err
	}
	return parseStat(string(data))
}

// parseStat reads "pid (comm) state ppid ...". comm may hold spaces and
// parentheses, so fields are taken after the last ')'.
func parseStat(s string) (procStat, error) {
	idx := strings.LastIndex(s, ")")
	if idx < 0 || idx+2 > len(s) {
		return procStat{}, fmt.Errorf("malformed stat")
	}
	fields := strings.Fields(s[idx+1:])
	if len(fields) < 2 || len(fields[0]) == 0 {
		return procStat{}, fmt.Errorf("insufficient fields in stat")
	}
	ppid, err := strconv.Atoi(fields[1])
	if err != nil {
		return procStat{}, fmt.Errorf("ppid: %w", err)
	}
	return procStat{state: fields[0][0], ppid: ppid}, nil
}

// WithDescendants returns the direct children of pids followed by pids
// themselves, without duplicates. Job commands run under a shell, so the
// real work lives one level down.
func WithDescendants(table ProcessTable, pids []int) ([]int, error) {
	children, err := table.Children(pids)

	seen := make(map[int]bool, len(children)+len(pids))
	out := make([]int, 0, len(children)+len(pids))
	for _, list := range [][]int{children, pids} {
		for _, pid := range list {
			if pid <= 0 || seen[pid] {
				continue
			}
			seen[pid] = true
			out = append(out, pid)
		}
	}
	return out, err
}
