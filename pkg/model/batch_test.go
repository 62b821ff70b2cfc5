package model

import (
	"strings"
	"testing"
)

func sampleBatch() *Batch {
	b := NewBatch("b1", []string{"a", "b", "c", "d"})
	b.Jobs[0].MarkRunning(1, 0, 10)
	b.Jobs[0].Touch(20)
	b.Jobs[0].MarkExited(0)
	b.Jobs[1].MarkRunning(2, 1, 15)
	b.Jobs[1].Touch(25)
	b.Jobs[1].MarkExited(3)
	b.Jobs[2].MarkRunning(3, 2, 30)
	b.Jobs[2].Touch(40)
	return b
}

func TestBatch_Counts(t *testing.T) {
	b := sampleBatch()
	want := Counts{Total: 4, Pending: 1, Running: 1, Completed: 1, Crashed: 1}
	if got := b.Counts(); got != want {
		t.Errorf("Counts() = %+v, want %+v", got, want)
	}
	total, completed, running, crashed := b.Status()
	if total != 4 || completed != 1 || running != 1 || crashed != 1 {
		t.Errorf("Status() = %d,%d,%d,%d", total, completed, running, crashed)
	}
	if b.Done() {
		t.Error("batch with pending work reported done")
	}
}

func TestBatch_CountsNotCached(t *testing.T) {
	b := NewBatch("b", []string{"x"})
	if b.Pending() != 1 {
		t.Fatalf("Pending() = %d, want 1", b.Pending())
	}
	b.Jobs[0].MarkRunning(5, 0, 1)
	if b.Pending() != 0 || b.Running() != 1 {
		t.Errorf("counts did not follow job mutation: %+v", b.Counts())
	}
	b.Jobs[0].MarkExited(0)
	if !b.Done() {
		t.Error("batch should be done")
	}
}

func TestCounts_Add(t *testing.T) {
	a := Counts{Total: 2, Pending: 1, Running: 1}
	b := Counts{Total: 3, Completed: 2, Crashed: 1}
	got := a.Add(b)
	want := Counts{Total: 5, Pending: 1, Running: 1, Completed: 2, Crashed: 1}
	if got != want {
		t.Errorf("Add = %+v, want %+v", got, want)
	}
	if got.Remaining() != 2 {
		t.Errorf("Remaining() = %d, want 2", got.Remaining())
	}
}

func TestClock(t *testing.T) {
	tests := []struct {
		in   float64
		want string
	}{
		{0, "00:00:00"},
		{59.9, "00:00:59"},
		{61, "00:01:01"},
		{3600*2 + 60*3 + 4, "02:03:04"},
		{3600 * 123, "123:00:00"},
		{-5, "00:00:00"},
	}
	for _, tt := range tests {
		if got := Clock(tt.in); got != tt.want {
			t.Errorf("Clock(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestBatch_Bar(t *testing.T) {
	b := sampleBatch()
	want := "  b1\t[*Xr ] 2 of 4 jobs"
	if got := b.Bar(); got != want {
		t.Errorf("Bar() = %q, want %q", got, want)
	}
}

func TestBatch_BarCapsWidth(t *testing.T) {
	cmds := make([]string, 96)
	for i := range cmds {
		cmds[i] = "true"
	}
	b := NewBatch("wide", cmds)
	for i := 0; i < 48; i++ {
		b.Jobs[i].MarkRunning(i+1, i, 1)
		b.Jobs[i].MarkExited(0)
	}
	bar := b.Bar()
	open := strings.Index(bar, "[")
	end := strings.Index(bar, "]")
	if end-open-1 != maxBarWidth {
		t.Errorf("bar width = %d, want %d (%q)", end-open-1, maxBarWidth, bar)
	}
	if strings.Count(bar, "*") != 24 {
		t.Errorf("completed glyphs = %d, want 24", strings.Count(bar, "*"))
	}
}

func TestReport(t *testing.T) {
	b := sampleBatch()
	addr := func(slot int) string {
		if slot == 1 {
			return "node2"
		}
		return "localhost"
	}
	out := Report([]*Batch{b}, addr)

	for _, want := range []string{
		"\t1 running\n",
		"\t1 of 4 completed\n",
		"\t1 of 4 crashed\n",
		"\trunning time: 00:00:30\n",
		"\twall clock: 00:00:30\n",
		"\tlocalhost:2 node2:1\n",
		"  b1\t[*Xr ] 2 of 4 jobs\n",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("report missing %q:\n%s", want, out)
		}
	}
}

func TestReport_NothingDispatched(t *testing.T) {
	out := Report([]*Batch{NewBatch("idle", []string{"x"})}, nil)
	if !strings.Contains(out, "wall clock: N/A") {
		t.Errorf("expected N/A wall clock:\n%s", out)
	}
}

func TestMeasureUsage_LegacySlot(t *testing.T) {
	b := NewBatch("legacy", []string{"x"})
	b.Jobs[0].Status = JobStatusCompleted
	b.Jobs[0].Start, b.Jobs[0].Stop = 5, 9
	u := MeasureUsage([]*Batch{b}, func(int) string { return "unknown" })
	if u.PerHost["localhost"] != 1 {
		t.Errorf("PerHost = %v, want legacy slot counted as localhost", u.PerHost)
	}
	if u.CPUSeconds != 4 || u.WallSeconds != 4 {
		t.Errorf("usage = %+v", u)
	}
}
