package store

import (
	"compress/gzip"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/me/pyra/pkg/model"
)

// BackupSuffix is appended to the store path to name the previous version.
const BackupSuffix = ".bak"

// DefaultPath is the store file name used when none is configured.
const DefaultPath = "pybatch.gz"

// ErrDuplicateBatch is returned when adding a batch whose name is taken.
var ErrDuplicateBatch = errors.New("batch name already in store")

// BatchStore is the ordered list of batches backed by a gzip-compressed file.
// It is owned by a single goroutine and is not safe for concurrent use.
type BatchStore struct {
	Path    string
	Batches []*model.Batch
	logger  *slog.Logger
}

// NewBatchStore returns an empty store bound to path.
func NewBatchStore(path string, logger *slog.Logger) *BatchStore {
	if path == "" {
		path = DefaultPath
	}
	return &BatchStore{
		Path:   path,
		logger: logger.With("component", "batch-store"),
	}
}

// BackupPath returns the path the previous store version is rotated to.
func (s *BatchStore) BackupPath() string {
	return s.Path + BackupSuffix
}

// Exists reports whether the backing file is present.
func (s *BatchStore) Exists() bool {
	_, err := os.Stat(s.Path)
	return err == nil
}

// Add appends a batch. Names must be unique within the store.
func (s *BatchStore) Add(b *model.Batch) error {
	if s.Find(b.Name) != nil {
		return fmt.Errorf("%w: %q", ErrDuplicateBatch, b.Name)
	}
	s.Batches = append(s.Batches, b)
	return nil
}

// Find returns the batch called name, or nil.
func (s *BatchStore) Find(name string) *model.Batch {
	for _, b := range s.Batches {
		if b.Name == name {
			return b
		}
	}
	return nil
}

// Load replaces the in-memory batches with the file contents. A missing file
// leaves the store empty and is not an error.
func (s *BatchStore) Load() error {
	f, err := os.Open(s.Path)
	if errors.Is(err, os.ErrNotExist) {
		s.logger.Debug("no batch file", "path", s.Path)
		s.Batches = nil
		return nil
	}
	if err != nil {
		return fmt.Errorf("open batch file %s: %w", s.Path, err)
	}
	defer f.Close()

	zr, err := gzip.NewReader(f)
	if err != nil {
		return fmt.Errorf("read batch file %s: %w", s.Path, err)
	}
	defer zr.Close()

	batches, err := Decode(zr, s.logger)
	if err != nil {
		return fmt.Errorf("decode batch file %s: %w", s.Path, err)
	}

	seen := make(map[string]bool, len(batches))
	for _, b := range batches {
		if seen[b.Name] {
			s.logger.Warn("duplicate batch name in file", "batch", b.Name)
		}
		seen[b.Name] = true
	}

	s.Batches = batches
	s.logger.Info("batch file loaded", "path", s.Path, "batches", len(batches), "jobs", s.Total())
	return nil
}

// Save writes the store. The new contents go to a temporary file first; the
// existing file is then rotated to BackupPath and the temporary file renamed
// into place, so at every point at least one complete version is on disk.
func (s *BatchStore) Save() error {
	dir := filepath.Dir(s.Path)
	tmp, err := os.CreateTemp(dir, filepath.Base(s.Path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp batch file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	zw := gzip.NewWriter(tmp)
	if err := Encode(zw, s.Batches); err != nil {
		tmp.Close()
		return fmt.Errorf("encode batches: %w", err)
	}
	if err := zw.Close(); err != nil {
		tmp.Close()
		return fmt.Errorf("flush gzip: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync batch file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close batch file: %w", err)
	}

	if s.Exists() {
		if err := os.Rename(s.Path, s.BackupPath()); err != nil {
			return fmt.Errorf("rotate %s: %w", s.Path, err)
		}
	}
	if err := os.Rename(tmpName, s.Path); err != nil {
		return fmt.Errorf("install %s: %w", s.Path, err)
	}

	s.logger.Debug("batch file written", "path", s.Path, "batches", len(s.Batches))
	return nil
}

// Clean removes the store file and its backup.
func (s *BatchStore) Clean() error {
	for _, p := range []string{s.Path, s.BackupPath()} {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("remove %s: %w", p, err)
		}
	}
	return nil
}

// Counts aggregates job statuses over every batch.
func (s *BatchStore) Counts() model.Counts {
	var c model.Counts
	for _, b := range s.Batches {
		c = c.Add(b.Counts())
	}
	return c
}

func (s *BatchStore) Running() int { return s.Counts().Running }
func (s *BatchStore) Pending() int { return s.Counts().Pending }
func (s *BatchStore) Crashed() int { return s.Counts().Crashed }
func (s *BatchStore) Total() int   { return s.Counts().Total }

// Status returns (total, completed, running, crashed) across all batches.
func (s *BatchStore) Status() (total, completed, running, crashed int) {
	c := s.Counts()
	return c.Total, c.Completed, c.Running, c.Crashed
}

// Report renders the progress summary. addrOf may be nil.
func (s *BatchStore) Report(addrOf func(slot int) string) string {
	return model.Report(s.Batches, addrOf)
}
