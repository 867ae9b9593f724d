package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/me/goflow/internal/store"
	"github.com/me/goflow/pkg/model"
)

// history is the read side of run history, served either by the local
// database or by a remote goflow server.
type history interface {
	ListRuns(ctx context.Context, opts model.ListOptions) ([]*model.RunRecord, int, error)
	GetRun(ctx context.Context, id string) (*model.RunRecord, error)
	ListStepResults(ctx context.Context, runID string) ([]*model.ResolvedStepResult, error)
	ListArtifacts(ctx context.Context, runID string) ([]model.ArtifactResult, error)
}

var flagServer string

func newRunsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Inspect recorded runs",
	}
	cmd.PersistentFlags().StringVar(&flagServer, "server", "", "Read history from a goflow server instead of the local database")
	cmd.AddCommand(newRunsListCmd(), newRunsShowCmd())
	return cmd
}

// openHistory returns the history source and a function that releases it.
func openHistory(ctx context.Context) (history, func(), error) {
	if flagServer != "" {
		return NewClient(flagServer, logger), func() {}, nil
	}
	st, err := openStore(ctx)
	if err != nil {
		return nil, nil, err
	}
	return st, func() { st.Close() }, nil
}

func newRunsListCmd() *cobra.Command {
	var (
		workflow string
		outcome  string
		limit    int
		offset   int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recorded runs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := model.ListOptions{
				Limit:    limit,
				Offset:   offset,
				Workflow: workflow,
				Outcome:  model.RunOutcome(outcome),
			}
			opts.Clamp()

			h, closeFn, err := openHistory(cmd.Context())
			if err != nil {
				return err
			}
			defer closeFn()

			runs, total, err := h.ListRuns(cmd.Context(), opts)
			if err != nil {
				return fmt.Errorf("list runs: %w", err)
			}
			printRuns(cmd.OutOrStdout(), runs, total, time.Now())
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&workflow, "workflow", "", "Only runs of this workflow")
	f.StringVar(&outcome, "outcome", "", "Only runs with this outcome (success, partial_success, failure, running)")
	f.IntVar(&limit, "limit", 20, "Maximum runs to show")
	f.IntVar(&offset, "offset", 0, "Runs to skip")
	return cmd
}

func printRuns(w io.Writer, runs []*model.RunRecord, total int, now time.Time) {
	if len(runs) == 0 {
		fmt.Fprintln(w, "No runs recorded.")
		return
	}
	fmt.Fprintf(w, "%-42s %-20s %-16s %-16s %s\n", "RUN", "WORKFLOW", "OUTCOME", "STARTED", "DURATION")
	for _, r := range runs {
		duration := "-"
		if r.FinishedAt != nil {
			duration = r.Duration().Round(time.Millisecond).String()
		}
		fmt.Fprintf(w, "%-42s %-20s %-16s %-16s %s\n",
			r.ID, r.Workflow, r.Outcome, humanize.RelTime(r.StartedAt, now, "ago", "from now"), duration)
	}
	if total > len(runs) {
		fmt.Fprintf(w, "(%d of %d runs)\n", len(runs), total)
	}
}

func newRunsShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show one run with its steps and artifacts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			h, closeFn, err := openHistory(ctx)
			if err != nil {
				return err
			}
			defer closeFn()

			run, err := h.GetRun(ctx, args[0])
			if errors.Is(err, store.ErrNotFound) {
				return fmt.Errorf("run %s not found", args[0])
			}
			if err != nil {
				return fmt.Errorf("get run: %w", err)
			}
			steps, err := h.ListStepResults(ctx, run.ID)
			if err != nil {
				return fmt.Errorf("list steps: %w", err)
			}
			artifacts, err := h.ListArtifacts(ctx, run.ID)
			if err != nil {
				return fmt.Errorf("list artifacts: %w", err)
			}

			printReport(cmd.OutOrStdout(), &model.RunReport{
				RunRecord: *run,
				Steps:     steps,
				Artifacts: artifacts,
			}, run.RunDir)
			return nil
		},
	}
}
