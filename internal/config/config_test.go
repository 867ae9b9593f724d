package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.RunsDir != "runs" || cfg.Addr != ":8080" || cfg.LogLevel != "info" {
		t.Errorf("Default = %+v", cfg)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "goflow.yaml")
	data := `
runs_dir: /var/goflow/runs
modules_dir: ./funcs
max_workers: 4
fail_fast: true
backoff:
  initial: 50ms
  max: 2s
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.RunsDir != "/var/goflow/runs" || cfg.ModulesDir != "./funcs" {
		t.Errorf("dirs = %q, %q", cfg.RunsDir, cfg.ModulesDir)
	}
	if cfg.MaxWorkers != 4 || !cfg.FailFast {
		t.Errorf("workers = %d, fail_fast = %v", cfg.MaxWorkers, cfg.FailFast)
	}
	if cfg.Backoff.Initial != 50*time.Millisecond || cfg.Backoff.Max != 2*time.Second {
		t.Errorf("backoff = %+v", cfg.Backoff)
	}
	// Unset keys keep their defaults.
	if cfg.Addr != ":8080" || cfg.LogFormat != "text" {
		t.Errorf("defaults lost: %+v", cfg)
	}
}

func TestLoad_Missing(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load without a project file: %v", err)
	}
	if cfg != Default() {
		t.Errorf("cfg = %+v, want defaults", cfg)
	}

	if _, err := Load("nope.yaml"); err == nil {
		t.Error("Load of an explicit missing file should fail")
	}
}

func TestLoad_Invalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "goflow.yaml")
	if err := os.WriteFile(path, []byte("max_workers: [1, 2]\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("expected a parse error")
	}
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("GOFLOW_RUNS_DIR", "/tmp/runs")
	t.Setenv("GOFLOW_DB", ":memory:")
	t.Setenv("GOFLOW_MODULES", "/opt/modules")
	t.Setenv("GOFLOW_ADDR", "127.0.0.1:9090")
	t.Setenv("GOFLOW_MAX_WORKERS", "3")

	cfg := Default()
	if err := cfg.ApplyEnv(); err != nil {
		t.Fatalf("ApplyEnv: %v", err)
	}
	if cfg.RunsDir != "/tmp/runs" || cfg.DBPath != ":memory:" || cfg.ModulesDir != "/opt/modules" {
		t.Errorf("cfg = %+v", cfg)
	}
	if cfg.Addr != "127.0.0.1:9090" || cfg.MaxWorkers != 3 {
		t.Errorf("addr = %q, workers = %d", cfg.Addr, cfg.MaxWorkers)
	}

	t.Setenv("GOFLOW_MAX_WORKERS", "many")
	if err := cfg.ApplyEnv(); err == nil {
		t.Error("expected an error for a non-numeric GOFLOW_MAX_WORKERS")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"log level", func(c *Config) { c.LogLevel = "loud" }},
		{"log format", func(c *Config) { c.LogFormat = "xml" }},
		{"workers", func(c *Config) { c.MaxWorkers = -1 }},
		{"concurrency", func(c *Config) { c.MaxConcurrency = -2 }},
		{"negative backoff", func(c *Config) { c.Backoff.Initial = -time.Second }},
		{"max below initial", func(c *Config) { c.Backoff.Max = 100 * time.Millisecond }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Errorf("Validate accepted %+v", cfg)
			}
		})
	}
}
