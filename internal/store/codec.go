package store

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"

	"github.com/me/pyra/pkg/model"
)

// ErrMalformedJobLine is returned for a job record with an unexpected field count.
var ErrMalformedJobLine = errors.New("job line must have 5 or 6 tab-separated fields")

// LineError attaches the input line number to a decoding error.
type LineError struct {
	Line int
	Err  error
}

func (e *LineError) Error() string {
	return fmt.Sprintf("line %d: %v", e.Line, e.Err)
}

func (e *LineError) Unwrap() error {
	return e.Err
}

const headerPrefix = ">"

// EncodeJob renders the six-field job line (without trailing newline).
func EncodeJob(j *model.Job) string {
	fields := []string{
		`"` + j.Command + `"`,
		strconv.Itoa(j.PID),
		strconv.Itoa(j.Slot),
		formatEpoch(j.Start),
		formatEpoch(j.Stop),
		string(j.Status),
	}
	return strings.Join(fields, "\t")
}

// DecodeJob parses a job line in either the six-field form or the legacy
// five-field form, in which the slot index is missing and defaults to NoSlot.
func DecodeJob(line string) (*model.Job, error) {
	fields := strings.Split(line, "\t")
	if len(fields) != 5 && len(fields) != 6 {
		return nil, fmt.Errorf("%w: got %d", ErrMalformedJobLine, len(fields))
	}

	j := &model.Job{Command: unquote(fields[0]), Slot: model.NoSlot}

	pid, err := strconv.Atoi(fields[1])
	if err != nil {
		return nil, fmt.Errorf("pid: %w", err)
	}
	j.PID = pid

	rest := fields[2:]
	if len(fields) == 6 {
		slot, err := strconv.Atoi(fields[2])
		if err != nil {
			return nil, fmt.Errorf("slot: %w", err)
		}
		j.Slot = slot
		rest = fields[3:]
	}

	if j.Start, err = strconv.ParseFloat(rest[0], 64); err != nil {
		return nil, fmt.Errorf("start: %w", err)
	}
	if j.Stop, err = strconv.ParseFloat(rest[1], 64); err != nil {
		return nil, fmt.Errorf("stop: %w", err)
	}

	j.Status = model.JobStatus(rest[2])
	if !j.Status.IsValid() {
		return nil, fmt.Errorf("unknown status %q", rest[2])
	}
	return j, nil
}

// Encode writes every batch as a header line followed by its job lines.
func Encode(w io.Writer, batches []*model.Batch) error {
	bw := bufio.NewWriter(w)
	for _, b := range batches {
		if _, err := fmt.Fprintf(bw, "%s%s\n", headerPrefix, b.Name); err != nil {
			return err
		}
		for _, j := range b.Jobs {
			if _, err := bw.WriteString(EncodeJob(j) + "\n"); err != nil {
				return err
			}
		}
	}
	return bw.Flush()
}

// Decode reads batches from r. Records before the first header are dropped,
// malformed job lines are logged and skipped, and a batch left with no valid
// jobs is omitted.
func Decode(r io.Reader, logger *slog.Logger) ([]*model.Batch, error) {
	var (
		batches []*model.Batch
		current *model.Batch
		lineNo  int
	)

	flush := func() {
		if current != nil && len(current.Jobs) > 0 {
			batches = append(batches, current)
		}
		current = nil
	}

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, headerPrefix) {
			flush()
			name := strings.Fields(line[len(headerPrefix):])
			if len(name) == 0 {
				logger.Warn("batch header without a name, skipping its jobs", "line", lineNo)
				continue
			}
			current = &model.Batch{Name: name[0]}
			continue
		}

		if current == nil {
			continue
		}

		j, err := DecodeJob(line)
		if err != nil {
			logger.Warn("skipping malformed job line",
				"batch", current.Name,
				"error", &LineError{Line: lineNo, Err: err},
				"text", line,
			)
			continue
		}
		current.Jobs = append(current.Jobs, j)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("scan batch file: %w", err)
	}
	flush()

	return batches, nil
}

// formatEpoch emits the shortest decimal that parses back to the same float.
func formatEpoch(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func unquote(s string) string {
	if len(s) >= 2 && strings.HasPrefix(s, `"`) && strings.HasSuffix(s, `"`) {
		return s[1 : len(s)-1]
	}
	return s
}
