package config

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pyra.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDefaultDaemonConfig(t *testing.T) {
	cfg := DefaultDaemonConfig()
	if cfg.StorePath != "pybatch.gz" || cfg.ParamsPath != "pyra.params" || cfg.NodeFile != ".config" {
		t.Errorf("file defaults = %+v", cfg)
	}
	if cfg.TickInterval != 5*time.Second || cfg.PersistEvery != 6 {
		t.Errorf("tick=%s persist=%d, want 5s and 6", cfg.TickInterval, cfg.PersistEvery)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults invalid: %v", err)
	}
}

func TestLoad_Overlay(t *testing.T) {
	path := writeConfig(t, `
tick_interval: 2s
status_addr: 127.0.0.1:9090
history_db: history.db
remote_shell: [ssh, -o, BatchMode=yes]
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.TickInterval != 2*time.Second {
		t.Errorf("TickInterval = %s, want 2s", cfg.TickInterval)
	}
	if cfg.StatusAddr != "127.0.0.1:9090" || cfg.HistoryDB != "history.db" {
		t.Errorf("cfg = %+v", cfg)
	}
	if want := []string{"ssh", "-o", "BatchMode=yes"}; !reflect.DeepEqual(cfg.RemoteShell, want) {
		t.Errorf("RemoteShell = %v, want %v", cfg.RemoteShell, want)
	}
	if cfg.StorePath != "pybatch.gz" || cfg.PersistEvery != 6 {
		t.Errorf("untouched keys lost defaults: %+v", cfg)
	}
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"unknown key", "maxjobs: 4\n", "maxjobs"},
		{"bad duration", "tick_interval: soon\n", "parse config"},
		{"zero persist", "persist_every: 0\n", "persist_every"},
		{"negative tick", "tick_interval: -1s\n", "tick_interval"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Load err = %v, want mention of %q", err, tt.want)
			}
		})
	}
}

func TestLoad_EmptyFileAndNoPath(t *testing.T) {
	cfg, err := Load(writeConfig(t, ""))
	if err != nil {
		t.Fatalf("Load(empty): %v", err)
	}
	if !reflect.DeepEqual(cfg, DefaultDaemonConfig()) {
		t.Errorf("empty file changed defaults: %+v", cfg)
	}

	if _, err := Load(""); err != nil {
		t.Errorf("Load(\"\"): %v", err)
	}
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("Load(missing) expected error")
	}
}

func TestPath(t *testing.T) {
	cfg := DefaultDaemonConfig()
	cfg.WorkDir = "/runs/r1"

	tests := map[string]string{
		"pybatch.gz": "/runs/r1/pybatch.gz",
		"sub/x.db":   "/runs/r1/sub/x.db",
		"/abs/x.db":  "/abs/x.db",
		"":           "",
		":memory:":   ":memory:",
	}
	for in, want := range tests {
		if got := cfg.Path(in); got != want {
			t.Errorf("Path(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestMarshal_RoundTrip(t *testing.T) {
	cfg := DefaultDaemonConfig()
	cfg.StatusAddr = ":9000"
	data, err := cfg.Marshal()
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if !strings.Contains(string(data), "tick_interval: 5s") {
		t.Errorf("yaml = %s", data)
	}

	got, err := Load(writeConfig(t, string(data)))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !reflect.DeepEqual(got, cfg) {
		t.Errorf("round trip = %+v, want %+v", got, cfg)
	}
}
