package executor

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"strconv"
	"testing"
)

func TestParseStat(t *testing.T) {
	tests := []struct {
		name      string
		in        string
		wantState byte
		wantPPID  int
		wantErr   bool
	}{
		{"plain", "123 (sleep) S 100 123 100 0", 'S', 100, false},
		{"comm with spaces", "124 (my job) R 1 124 1 0", 'R', 1, false},
		{"comm with parens", "125 (a) b (c)) Z 77 125", 'Z', 77, false},
		{"no paren", "126 sleep S 1", 0, 0, true},
		{"truncated", "127 (x)", 0, 0, true},
		{"bad ppid", "128 (x) S abc", 0, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st, err := parseStat(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("parseStat(%q) expected error", tt.in)
				}
				return
			}
			if err != nil {
				t.Fatalf("parseStat(%q): %v", tt.in, err)
			}
			if st.state != tt.wantState || st.ppid != tt.wantPPID {
				t.Errorf("parseStat(%q) = {%c %d}, want {%c %d}", tt.in, st.state, st.ppid, tt.wantState, tt.wantPPID)
			}
		})
	}
}

func writeStat(t *testing.T, root string, pid int, content string) {
	t.Helper()
	dir := filepath.Join(root, strconv.Itoa(pid))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "stat"), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestProcFS_Children(t *testing.T) {
	root := t.TempDir()
	writeStat(t, root, 10, "10 (sh) S 1 10 10")
	writeStat(t, root, 11, "11 (job a) R 10 10 10")
	writeStat(t, root, 12, "12 (job b) S 10 10 10")
	writeStat(t, root, 13, "13 (grandchild) S 11 10 10")
	writeStat(t, root, 20, "20 (other) S 1 20 20")
	if err := os.MkdirAll(filepath.Join(root, "self"), 0o755); err != nil {
		t.Fatal(err)
	}
	// A pid directory whose stat vanished.
	if err := os.MkdirAll(filepath.Join(root, "30"), 0o755); err != nil {
		t.Fatal(err)
	}

	fs := ProcFS{Root: root}
	got, err := fs.Children([]int{10})
	if err != nil {
		t.Fatalf("Children: %v", err)
	}
	sort.Ints(got)
	if want := []int{11, 12}; !reflect.DeepEqual(got, want) {
		t.Errorf("Children(10) = %v, want %v", got, want)
	}

	state, err := fs.State(13)
	if err != nil {
		t.Fatalf("State: %v", err)
	}
	if state != 'S' {
		t.Errorf("State(13) = %c, want S", state)
	}
	if _, err := fs.State(99); err == nil {
		t.Error("State(99) expected error for missing pid")
	}
}

func TestProcFS_MissingRoot(t *testing.T) {
	fs := ProcFS{Root: filepath.Join(t.TempDir(), "nope")}
	if _, err := fs.Children([]int{1}); err == nil {
		t.Error("Children expected error for missing root")
	}
}

type fakeTable struct {
	children map[int][]int
	states   map[int]byte
	err      error
}

func (f *fakeTable) Children(pids []int) ([]int, error) {
	if f.err != nil {
		return nil, f.err
	}
	var out []int
	for _, pid := range pids {
		out = append(out, f.children[pid]...)
	}
	return out, nil
}

func (f *fakeTable) State(pid int) (byte, error) {
	if s, ok := f.states[pid]; ok {
		return s, nil
	}
	return 'S', nil
}

func TestWithDescendants(t *testing.T) {
	table := &fakeTable{children: map[int][]int{100: {101, 102}, 200: {102}}}

	got, err := WithDescendants(table, []int{100, 200, 0, 100})
	if err != nil {
		t.Fatalf("WithDescendants: %v", err)
	}
	want := []int{101, 102, 100, 200}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("WithDescendants = %v, want %v", got, want)
	}
}

func TestWithDescendants_DiscoveryError(t *testing.T) {
	boom := errors.New("boom")
	table := &fakeTable{err: boom}

	got, err := WithDescendants(table, []int{5})
	if !errors.Is(err, boom) {
		t.Errorf("err = %v, want %v", err, boom)
	}
	if !reflect.DeepEqual(got, []int{5}) {
		t.Errorf("WithDescendants = %v, want [5]", got)
	}
}
