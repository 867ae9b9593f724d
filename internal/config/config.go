// Package config loads goflow project settings from goflow.yaml and the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/me/goflow/internal/logging"
)

// DefaultFile is the project file Load reads when no path is given.
const DefaultFile = "goflow.yaml"

// Config holds the settings shared by the goflow commands.
type Config struct {
	RunsDir        string        `yaml:"runs_dir"`        // Root of per-run directories (default "runs")
	DBPath         string        `yaml:"db"`              // SQLite run history ("" disables history, ":memory:" for testing)
	ModulesDir     string        `yaml:"modules_dir"`     // Directory of <module>.js function modules
	LogLevel       string        `yaml:"log_level"`       // debug, info, warn, error
	LogFormat      string        `yaml:"log_format"`      // text, json
	MaxWorkers     int           `yaml:"max_workers"`     // Steps run at once (0 = number of CPUs)
	MaxConcurrency int           `yaml:"max_concurrency"` // Invocations in flight per run (0 = unlimited)
	FailFast       bool          `yaml:"fail_fast"`
	Addr           string        `yaml:"addr"` // Listen address of the history API (default ":8080")
	Backoff        BackoffConfig `yaml:"backoff"`
}

// BackoffConfig is the default retry delay for steps that declare none.
type BackoffConfig struct {
	Initial time.Duration `yaml:"initial"`
	Max     time.Duration `yaml:"max"`
}

// Default returns sensible defaults.
func Default() Config {
	return Config{
		RunsDir:    "runs",
		DBPath:     filepath.Join("runs", "goflow.db"),
		ModulesDir: "modules",
		LogLevel:   "info",
		LogFormat:  "text",
		Addr:       ":8080",
		Backoff: BackoffConfig{
			Initial: 200 * time.Millisecond,
			Max:     10 * time.Second,
		},
	}
}

// Load reads a YAML project file over the defaults. A missing file is not
// an error unless the path was given explicitly.
func Load(path string) (Config, error) {
	cfg := Default()
	explicit := path != ""
	if !explicit {
		path = DefaultFile
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) && !explicit {
			return cfg, nil
		}
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// ApplyEnv overrides settings from GOFLOW_* environment variables.
func (c *Config) ApplyEnv() error {
	for name, dst := range map[string]*string{
		"GOFLOW_RUNS_DIR":   &c.RunsDir,
		"GOFLOW_DB":         &c.DBPath,
		"GOFLOW_MODULES":    &c.ModulesDir,
		"GOFLOW_ADDR":       &c.Addr,
		"GOFLOW_LOG_LEVEL":  &c.LogLevel,
		"GOFLOW_LOG_FORMAT": &c.LogFormat,
	} {
		if v, ok := os.LookupEnv(name); ok {
			*dst = v
		}
	}
	if v, ok := os.LookupEnv("GOFLOW_MAX_WORKERS"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("GOFLOW_MAX_WORKERS: %w", err)
		}
		c.MaxWorkers = n
	}
	return nil
}

// Validate reports the first setting that cannot be used.
func (c *Config) Validate() error {
	if _, err := logging.ParseLevel(c.LogLevel); err != nil {
		return err
	}
	if _, err := logging.ParseFormat(c.LogFormat); err != nil {
		return err
	}
	if c.MaxWorkers < 0 {
		return fmt.Errorf("max_workers must not be negative, got %d", c.MaxWorkers)
	}
	if c.MaxConcurrency < 0 {
		return fmt.Errorf("max_concurrency must not be negative, got %d", c.MaxConcurrency)
	}
	if c.Backoff.Initial < 0 || c.Backoff.Max < 0 {
		return errors.New("backoff durations must not be negative")
	}
	if c.Backoff.Max > 0 && c.Backoff.Max < c.Backoff.Initial {
		return fmt.Errorf("backoff max %s is below initial %s", c.Backoff.Max, c.Backoff.Initial)
	}
	return nil
}
