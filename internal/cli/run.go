package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/me/goflow/internal/backoff"
	"github.com/me/goflow/internal/engine"
	"github.com/me/goflow/internal/executor"
	"github.com/me/goflow/internal/parser"
	"github.com/me/goflow/internal/store"
	"github.com/me/goflow/pkg/model"
)

// runOptions are the per-invocation settings of the run command.
type runOptions struct {
	RunID          string
	Overrides      map[string]any
	MaxWorkers     int
	MaxConcurrency int
	FailFast       bool
	NoHistory      bool
}

func newRunCmd() *cobra.Command {
	var (
		params     []string
		inputsFile string
		opts       runOptions
	)

	cmd := &cobra.Command{
		Use:   "run <workflow-file>",
		Short: "Execute a workflow and write its artifacts",
		Long: `Run parses and validates a workflow document, executes its steps in
dependency order, and writes artifacts and summary.json under
<runs-dir>/<workflow>/<run-id>/.

Parameter overrides come from --inputs (a YAML or JSON object) and then
--param name=value, which wins. Values are parsed as YAML, so
--param urls='[a, b]' passes a list.

Exits non-zero when the run outcome is failure. A partial success prints
the failed invocations and exits zero.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			overrides, err := loadOverrides(inputsFile, params)
			if err != nil {
				return err
			}
			opts.Overrides = overrides

			flags := cmd.Flags()
			if !flags.Changed("jobs") {
				opts.MaxWorkers = cfg.MaxWorkers
			}
			if !flags.Changed("concurrency") {
				opts.MaxConcurrency = cfg.MaxConcurrency
			}
			if !flags.Changed("fail-fast") {
				opts.FailFast = cfg.FailFast
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			report, runDir, err := executeRun(ctx, args[0], opts)
			if report != nil {
				printReport(cmd.OutOrStdout(), report, runDir)
			}
			if err != nil {
				return err
			}
			if report.Outcome == model.OutcomeFailure {
				return fmt.Errorf("run %s failed: %s", report.ID, report.Error)
			}
			return nil
		},
	}

	f := cmd.Flags()
	f.StringArrayVarP(&params, "param", "p", nil, "Override a parameter as name=value (repeatable)")
	f.StringVarP(&inputsFile, "inputs", "i", "", "YAML or JSON file of parameter overrides")
	f.StringVar(&opts.RunID, "run-id", "", "Run identifier (default: generated)")
	f.IntVarP(&opts.MaxWorkers, "jobs", "j", 0, "Steps to run at once (default: number of CPUs)")
	f.IntVar(&opts.MaxConcurrency, "concurrency", 0, "Function invocations in flight across the run (0 = unlimited)")
	f.BoolVar(&opts.FailFast, "fail-fast", false, "Stop the run at the first fatal step failure")
	f.BoolVar(&opts.NoHistory, "no-history", false, "Do not record the run in the history database")

	return cmd
}

// executeRun runs one workflow file. The report is nil only when the file
// could not be loaded or failed validation.
func executeRun(ctx context.Context, path string, opts runOptions) (*model.RunReport, string, error) {
	doc, err := parser.New(logger).ParseFile(path)
	if err != nil {
		return nil, "", fmt.Errorf("parse workflow: %w", err)
	}
	if err := parser.NewValidator(logger).Validate(doc); err != nil {
		return nil, "", fmt.Errorf("validate workflow %s: %w", path, err)
	}
	if _, err := parser.BuildDAG(doc); err != nil {
		return nil, "", err
	}

	if opts.RunID == "" {
		opts.RunID = engine.NewRunID()
	}
	runDir := filepath.Join(cfg.RunsDir, doc.Metadata.Name, opts.RunID)
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return nil, "", fmt.Errorf("create run directory: %w", err)
	}

	registry := executor.NewRegistry(logger)
	executor.RegisterBuiltins(registry)
	invoker := executor.Chain{registry, executor.NewScriptExecutor(cfg.ModulesDir, logger)}

	var sink store.Sink
	if !opts.NoHistory && cfg.DBPath != "" {
		st, err := openStore(ctx)
		if err != nil {
			return nil, "", err
		}
		defer st.Close()
		sink = st
	}

	engOpts := engine.DefaultOptions()
	if opts.MaxWorkers > 0 {
		engOpts.MaxWorkers = opts.MaxWorkers
	}
	engOpts.MaxConcurrency = opts.MaxConcurrency
	engOpts.FailFast = opts.FailFast
	engOpts.Backoff = backoff.NewExponential(cfg.Backoff.Initial, cfg.Backoff.Max)

	report, runErr := engine.New(invoker, sink, engOpts, logger).Run(ctx, doc, engine.RunRequest{
		RunID:       opts.RunID,
		Overrides:   opts.Overrides,
		RunDir:      runDir,
		ArtifactDir: filepath.Join(runDir, "artifacts"),
	})
	if err := writeSummary(runDir, report); err != nil {
		logger.Error("write run summary", "run_id", report.ID, "error", err)
	}
	return report, runDir, runErr
}

// loadOverrides merges the inputs file with --param values; --param wins.
func loadOverrides(inputsFile string, params []string) (map[string]any, error) {
	overrides := make(map[string]any)
	if inputsFile != "" {
		data, err := os.ReadFile(inputsFile)
		if err != nil {
			return nil, fmt.Errorf("read inputs file: %w", err)
		}
		if err := yaml.Unmarshal(data, &overrides); err != nil {
			return nil, fmt.Errorf("parse inputs file %s: %w", inputsFile, err)
		}
		if overrides == nil {
			overrides = make(map[string]any)
		}
	}
	for _, p := range params {
		name, value, err := parseParam(p)
		if err != nil {
			return nil, err
		}
		overrides[name] = value
	}
	return overrides, nil
}

// parseParam splits name=value and decodes value as YAML. Values that are
// not valid YAML are kept as strings.
func parseParam(s string) (string, any, error) {
	name, raw, ok := strings.Cut(s, "=")
	name = strings.TrimSpace(name)
	if !ok || name == "" {
		return "", nil, fmt.Errorf("invalid --param %q: want name=value", s)
	}
	if strings.TrimSpace(raw) == "" {
		return name, "", nil
	}
	var value any
	if err := yaml.Unmarshal([]byte(raw), &value); err != nil {
		return name, raw, nil
	}
	return name, value, nil
}
