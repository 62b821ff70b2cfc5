// Package params holds the operator-editable runtime parameters
// ("<key>\t<value>" lines) and reloads them when the file changes.
package params

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync/atomic"
)

// DefaultPath is the params file name used when none is configured.
const DefaultPath = "pyra.params"

// Recognised keys.
const (
	KeyMaxJobs         = "maxjobs"
	KeyMaxJobTime      = "maxjobtime"
	KeyKillJobs        = "killjobs"
	NotificationPrefix = "notification_"
)

// Version identifies one state of the backing file.
type Version struct {
	Exists  bool
	ModTime int64 // UnixNano
	Size    int64
}

// Snapshot is an immutable view of the parameters at one Version.
type Snapshot struct {
	values  map[string]string
	version Version
}

// Empty is the snapshot used before a file exists.
var Empty = &Snapshot{values: map[string]string{}}

// NewSnapshot returns a snapshot holding a copy of values.
func NewSnapshot(values map[string]string) *Snapshot {
	m := make(map[string]string, len(values))
	for k, v := range values {
		m[k] = v
	}
	return &Snapshot{values: m}
}

// Version returns the file state the snapshot was parsed from.
func (s *Snapshot) Version() Version { return s.version }

// Get returns the raw value for key.
func (s *Snapshot) Get(key string) (string, bool) {
	v, ok := s.values[key]
	return v, ok
}

// Has reports whether key is present, whatever its value.
func (s *Snapshot) Has(key string) bool {
	_, ok := s.values[key]
	return ok
}

// Int returns the integer value for key, or def when absent or unparsable.
func (s *Snapshot) Int(key string, def int) int {
	v, ok := s.values[key]
	if !ok {
		return def
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return def
	}
	return n
}

// Enabled reports whether notification channel is switched "on".
func (s *Snapshot) Enabled(channel string) bool {
	return s.values[NotificationPrefix+channel] == "on"
}

// Keys returns every key in sorted order.
func (s *Snapshot) Keys() []string {
	keys := make([]string, 0, len(s.values))
	for k := range s.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Parse reads "<key>\t<value>" lines. Lines without a tab are ignored.
func Parse(r io.Reader) (map[string]string, error) {
	values := make(map[string]string)
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimRight(sc.Text(), "\r")
		key, value, ok := strings.Cut(line, "\t")
		if !ok || key == "" {
			continue
		}
		values[key] = value
	}
	return values, sc.Err()
}

// Store owns the params file and the current snapshot.
type Store struct {
	path    string
	current atomic.Pointer[Snapshot]
	logger  *slog.Logger
}

// NewStore returns a Store for path. No file access happens until Refresh.
func NewStore(path string, logger *slog.Logger) *Store {
	if path == "" {
		path = DefaultPath
	}
	return &Store{
		path:   path,
		logger: logger.With("component", "params"),
	}
}

// Path returns the backing file path.
func (s *Store) Path() string { return s.path }

// Snapshot returns the current snapshot; Empty before the first read.
func (s *Store) Snapshot() *Snapshot {
	if snap := s.current.Load(); snap != nil {
		return snap
	}
	return Empty
}

func (s *Store) stat() (Version, error) {
	fi, err := os.Stat(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return Version{}, nil
	}
	if err != nil {
		return Version{}, err
	}
	return Version{Exists: true, ModTime: fi.ModTime().UnixNano(), Size: fi.Size()}, nil
}

// IsStale reports whether no read has happened yet or the file changed since.
func (s *Store) IsStale() bool {
	snap := s.current.Load()
	if snap == nil {
		return true
	}
	v, err := s.stat()
	if err != nil {
		return true
	}
	return v != snap.version
}

// Read parses the file into a new snapshot and swaps it in. A missing file
// produces an empty snapshot.
func (s *Store) Read() (*Snapshot, error) {
	v, err := s.stat()
	if err != nil {
		return nil, fmt.Errorf("stat params %s: %w", s.path, err)
	}
	values := map[string]string{}
	if v.Exists {
		f, err := os.Open(s.path)
		if err != nil {
			return nil, fmt.Errorf("open params %s: %w", s.path, err)
		}
		values, err = Parse(f)
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("read params %s: %w", s.path, err)
		}
	}

	snap := &Snapshot{values: values, version: v}
	s.current.Store(snap)
	s.logger.Debug("params loaded", "path", s.path, "keys", len(values))
	return snap, nil
}

// Refresh re-reads the file only when it is stale.
func (s *Store) Refresh() (snap *Snapshot, reloaded bool, err error) {
	if !s.IsStale() {
		return s.Snapshot(), false, nil
	}
	snap, err = s.Read()
	if err != nil {
		return s.Snapshot(), false, err
	}
	return snap, true, nil
}

// Set writes key=value to the file, keeping every other entry.
func (s *Store) Set(key, value string) error {
	if key == "" || strings.ContainsAny(key, "\t\n") || strings.Contains(value, "\n") {
		return fmt.Errorf("invalid parameter %q", key)
	}
	return s.update(func(m map[string]string) { m[key] = value })
}

// Unset removes key from the file.
func (s *Store) Unset(key string) error {
	return s.update(func(m map[string]string) { delete(m, key) })
}

// Clean removes the params file.
func (s *Store) Clean() error {
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove %s: %w", s.path, err)
	}
	return nil
}

func (s *Store) update(mutate func(map[string]string)) error {
	snap, err := s.Read()
	if err != nil {
		return err
	}
	values := make(map[string]string, len(snap.values)+1)
	for k, v := range snap.values {
		values[k] = v
	}
	mutate(values)
	return s.write(values)
}

// write replaces the file via a temporary file and rename, so the daemon
// never parses a half-written file.
func (s *Store) write(values map[string]string) error {
	tmp, err := os.CreateTemp(filepath.Dir(s.path), filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp params: %w", err)
	}
	defer os.Remove(tmp.Name())

	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	w := bufio.NewWriter(tmp)
	for _, k := range keys {
		fmt.Fprintf(w, "%s\t%s\n", k, values[k])
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		return fmt.Errorf("write params: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close params: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("install params %s: %w", s.path, err)
	}
	return nil
}
