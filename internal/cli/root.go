// Package cli implements the goflow command line.
package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/me/goflow/internal/config"
	"github.com/me/goflow/internal/logging"
	"github.com/me/goflow/internal/store"
)

var (
	flagConfig    string
	flagDebug     bool
	flagLogLevel  string
	flagLogFormat string
	flagRunsDir   string
	flagDB        string
	flagModules   string

	cfg    config.Config
	logger *slog.Logger
)

// NewRootCmd creates the root cobra command for the goflow CLI.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "goflow",
		Short: "goflow runs declarative fan-out workflows",
		Long: `goflow resolves a YAML or HCL workflow document into a dependency graph,
fans each step out over its sequence arguments (map, zip, broadcast), retries
failed invocations, and writes the declared artifacts.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return setup(cmd)
		},
		SilenceUsage: true,
	}

	pf := root.PersistentFlags()
	pf.StringVar(&flagConfig, "config", "", "Project config file (default ./"+config.DefaultFile+" when present)")
	pf.BoolVar(&flagDebug, "debug", false, "Shorthand for --log-level=debug")
	pf.StringVar(&flagLogLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	pf.StringVar(&flagLogFormat, "log-format", "text", "Log format (text, json)")
	pf.StringVar(&flagRunsDir, "runs-dir", "", "Root directory for run outputs (or GOFLOW_RUNS_DIR)")
	pf.StringVar(&flagDB, "db", "", "SQLite run history path (or GOFLOW_DB)")
	pf.StringVar(&flagModules, "modules", "", "Directory of JavaScript function modules (or GOFLOW_MODULES)")

	root.AddCommand(
		newRunCmd(),
		newValidateCmd(),
		newGraphCmd(),
		newRunsCmd(),
		newServeCmd(),
	)

	return root
}

// setup resolves the effective configuration (defaults, project file,
// environment, then flags) and builds the logger.
func setup(cmd *cobra.Command) error {
	loaded, err := config.Load(flagConfig)
	if err != nil {
		return err
	}
	if err := loaded.ApplyEnv(); err != nil {
		return err
	}

	flags := cmd.Flags()
	if flags.Changed("log-level") {
		loaded.LogLevel = flagLogLevel
	}
	if flags.Changed("log-format") {
		loaded.LogFormat = flagLogFormat
	}
	if flagDebug {
		loaded.LogLevel = "debug"
	}
	if flags.Changed("runs-dir") {
		loaded.RunsDir = flagRunsDir
	}
	if flags.Changed("db") {
		loaded.DBPath = flagDB
	}
	if flags.Changed("modules") {
		loaded.ModulesDir = flagModules
	}
	if err := loaded.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}

	level, _ := logging.ParseLevel(loaded.LogLevel)
	format, _ := logging.ParseFormat(loaded.LogFormat)
	cfg = loaded
	logger = logging.NewLoggerWithWriter(level, format, cmd.ErrOrStderr())
	return nil
}

// openStore opens and migrates the run history database.
func openStore(ctx context.Context) (*store.SQLiteStore, error) {
	if cfg.DBPath == "" {
		return nil, fmt.Errorf("no run history database configured (set --db or GOFLOW_DB)")
	}
	if cfg.DBPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}
	st, err := store.NewSQLiteStore(cfg.DBPath, logger)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	logger.Debug("database ready", "path", cfg.DBPath)
	return st, nil
}
