package model

import (
	"fmt"
	"math"
	"sort"
	"strings"
)

// Progress bar glyphs.
const (
	CompletedGlyph = '*'
	CrashedGlyph   = 'X'
	RunningGlyph   = 'r'
)

const maxBarWidth = 48

// Clock formats a duration in seconds as HH:MM:SS. Hours are not wrapped.
func Clock(seconds float64) string {
	if seconds < 0 {
		seconds = 0
	}
	total := int64(math.Floor(seconds))
	h := total / 3600
	m := (total % 3600) / 60
	s := total % 60
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}

// Bar renders the batch progress line, e.g. "  b1\t[***Xr   ] 4 of 8 jobs".
func (b *Batch) Bar() string {
	c := b.Counts()
	width := c.Total
	if width > maxBarWidth {
		width = maxBarWidth
	}

	var pco, pr, pcr int
	if c.Total > 0 {
		scale := float64(width) / float64(c.Total)
		pco = int(math.Round(scale * float64(c.Completed)))
		pr = int(math.Round(scale * float64(c.Running)))
		pcr = int(math.Round(scale * float64(c.Crashed)))
	}
	np := width - pco - pr - pcr
	if np < 0 {
		np = 0
	}

	var sb strings.Builder
	sb.WriteString("  ")
	sb.WriteString(b.Name)
	sb.WriteString("\t[")
	sb.WriteString(strings.Repeat(string(CompletedGlyph), pco))
	sb.WriteString(strings.Repeat(string(CrashedGlyph), pcr))
	sb.WriteString(strings.Repeat(string(RunningGlyph), pr))
	sb.WriteString(strings.Repeat(" ", np))
	fmt.Fprintf(&sb, "] %d of %d jobs", c.Completed+c.Crashed, c.Total)
	return sb.String()
}

// Usage summarises wall-clock use over a set of batches.
type Usage struct {
	// CPUSeconds is the sum of elapsed time of every dispatched job.
	CPUSeconds float64
	// WallSeconds spans the earliest start to the latest stop; negative
	// when no job has run.
	WallSeconds float64
	// PerHost counts dispatched jobs per host address.
	PerHost map[string]int
}

// MeasureUsage walks every dispatched job. addrOf maps a slot index to its
// host address and may be nil, in which case the slot number is used.
func MeasureUsage(batches []*Batch, addrOf func(slot int) string) Usage {
	u := Usage{WallSeconds: -1, PerHost: make(map[string]int)}
	minStart, maxStop := math.Inf(1), math.Inf(-1)
	seen := false

	for _, b := range batches {
		for _, j := range b.Jobs {
			if j.IsPending() {
				continue
			}
			u.CPUSeconds += j.Elapsed()

			host := hostLabel(j.Slot, addrOf)
			u.PerHost[host]++

			if j.Start > 0 && j.Start < minStart {
				minStart = j.Start
			}
			if j.Stop > 0 && j.Stop > maxStop {
				maxStop = j.Stop
			}
			seen = true
		}
	}
	if seen && !math.IsInf(minStart, 1) && !math.IsInf(maxStop, -1) {
		u.WallSeconds = maxStop - minStart
	}
	return u
}

func hostLabel(slot int, addrOf func(int) string) string {
	if slot == NoSlot {
		return "localhost"
	}
	if addrOf == nil {
		return fmt.Sprintf("%d", slot)
	}
	return addrOf(slot)
}

// Report renders the multi-line progress summary used by the status command
// and the completion notification.
func Report(batches []*Batch, addrOf func(slot int) string) string {
	var c Counts
	for _, b := range batches {
		c = c.Add(b.Counts())
	}
	u := MeasureUsage(batches, addrOf)

	var sb strings.Builder
	sb.WriteString("  pyra batch info:\n")
	fmt.Fprintf(&sb, "\t%d running\n", c.Running)
	fmt.Fprintf(&sb, "\t%d of %d completed\n", c.Completed, c.Total)
	fmt.Fprintf(&sb, "\t%d of %d crashed\n", c.Crashed, c.Total)
	fmt.Fprintf(&sb, "\trunning time: %s\n", Clock(u.CPUSeconds))
	if u.WallSeconds < 0 {
		sb.WriteString("\twall clock: N/A\n")
	} else {
		fmt.Fprintf(&sb, "\twall clock: %s\n", Clock(u.WallSeconds))
	}

	sb.WriteString("  jobs on nodes: (node:jobs)\n")
	hosts := make([]string, 0, len(u.PerHost))
	for h, n := range u.PerHost {
		hosts = append(hosts, fmt.Sprintf("%s:%d", h, n))
	}
	sort.Strings(hosts)
	sb.WriteString("\t" + strings.Join(hosts, " ") + "\n")

	for _, b := range batches {
		sb.WriteString(b.Bar())
		sb.WriteString("\n")
	}
	fmt.Fprintf(&sb, "  (complete = '%c', running = '%c', crashed = '%c')",
		CompletedGlyph, RunningGlyph, CrashedGlyph)
	return sb.String()
}
