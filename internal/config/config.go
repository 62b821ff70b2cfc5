// Package config holds the daemon settings. Runtime parameters that change
// while a run is in progress live in the params file instead.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// DaemonConfig holds configuration for the pyra daemon.
type DaemonConfig struct {
	WorkDir      string        `yaml:"work_dir"`      // Directory holding the run files (default ".")
	StorePath    string        `yaml:"store"`         // Batch store (default "pybatch.gz")
	ParamsPath   string        `yaml:"params"`        // Runtime params (default "pyra.params")
	NodeFile     string        `yaml:"nodes"`         // Node description (default ".config")
	PIDFile      string        `yaml:"pid_file"`      // Daemon PID file (default ".pyrasol.pid")
	LogFile      string        `yaml:"log_file"`      // Daemon and job output (default "err.log")
	LogLevel     string        `yaml:"log_level"`     // debug, info, warn, error
	LogFormat    string        `yaml:"log_format"`    // text, json
	TickInterval time.Duration `yaml:"tick_interval"` // Scheduler tick (default 5s)
	PersistEvery int           `yaml:"persist_every"` // Write the store every N ticks (default 6)
	StatusAddr   string        `yaml:"status_addr"`   // Status HTTP listen address; empty disables
	HistoryDB    string        `yaml:"history_db"`    // SQLite event ledger; empty disables
	Shell        string        `yaml:"shell"`         // Local shell (default "/bin/sh")
	RemoteShell  []string      `yaml:"remote_shell"`  // Transport for remote slots (default ["ssh"])
}

// DefaultDaemonConfig returns sensible defaults.
func DefaultDaemonConfig() DaemonConfig {
	return DaemonConfig{
		WorkDir:      ".",
		StorePath:    "pybatch.gz",
		ParamsPath:   "pyra.params",
		NodeFile:     ".config",
		PIDFile:      ".pyrasol.pid",
		LogFile:      "err.log",
		LogLevel:     "info",
		LogFormat:    "text",
		TickInterval: 5 * time.Second,
		PersistEvery: 6,
		Shell:        "/bin/sh",
		RemoteShell:  []string{"ssh"},
	}
}

// Load overlays the YAML file at path onto the defaults. Keys absent from the
// file keep their default values; unknown keys are an error.
func Load(path string) (DaemonConfig, error) {
	cfg := DefaultDaemonConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, cfg.Validate()
}

// Validate checks value ranges.
func (c DaemonConfig) Validate() error {
	if c.TickInterval <= 0 {
		return fmt.Errorf("tick_interval must be positive, got %s", c.TickInterval)
	}
	if c.PersistEvery <= 0 {
		return fmt.Errorf("persist_every must be positive, got %d", c.PersistEvery)
	}
	if c.StorePath == "" || c.ParamsPath == "" || c.PIDFile == "" {
		return errors.New("store, params and pid_file must be set")
	}
	return nil
}

// Path resolves p against WorkDir. Absolute paths and empty values are
// returned unchanged.
func (c DaemonConfig) Path(p string) string {
	if p == "" || filepath.IsAbs(p) || p == ":memory:" {
		return p
	}
	return filepath.Join(c.WorkDir, p)
}

// Marshal renders the configuration as YAML.
func (c DaemonConfig) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}
