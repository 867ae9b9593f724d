// Package engine drives a validated workflow document to completion: it
// schedules steps in dependency order, fans each one out into invocations,
// retries failures per policy, and materializes the declared artifacts.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"time"

	"github.com/google/uuid"

	"github.com/me/goflow/internal/artifact"
	"github.com/me/goflow/internal/backoff"
	"github.com/me/goflow/internal/executor"
	"github.com/me/goflow/internal/expr"
	"github.com/me/goflow/internal/parser"
	"github.com/me/goflow/internal/store"
	"github.com/me/goflow/pkg/model"
)

// Options configures execution behavior.
type Options struct {
	// MaxWorkers limits how many steps run at once. 1 runs steps sequentially.
	// Default: runtime.NumCPU()
	MaxWorkers int

	// MaxConcurrency limits function invocations in flight across the run.
	// 0 means unlimited.
	MaxConcurrency int

	// FailFast cancels the run when a step fails fatally. Steps that have not
	// started are skipped. Default: false
	FailFast bool

	// Backoff is the retry delay strategy for steps that declare none.
	Backoff backoff.Strategy
}

// DefaultOptions returns the default execution options.
func DefaultOptions() Options {
	return Options{
		MaxWorkers: runtime.NumCPU(),
		Backoff:    backoff.DefaultStrategy(),
	}
}

// RunRequest describes one run of a document.
type RunRequest struct {
	// RunID identifies the run; a new one is generated when empty.
	RunID string
	// Overrides replace declared parameter values and may supply missing ones.
	Overrides map[string]any
	// RunDir is recorded on the run for reference.
	RunDir string
	// ArtifactDir is where relative artifact paths are written. Artifacts
	// are not materialized when it is empty.
	ArtifactDir string
}

// Engine executes workflow documents.
type Engine struct {
	invoker   executor.Invoker
	sink      store.Sink
	artifacts *artifact.Materializer
	validator *parser.Validator
	opts      Options
	logger    *slog.Logger
}

// New creates an Engine. sink may be nil.
func New(invoker executor.Invoker, sink store.Sink, opts Options, logger *slog.Logger) *Engine {
	if opts.Backoff == nil {
		opts.Backoff = backoff.DefaultStrategy()
	}
	if opts.MaxWorkers < 1 {
		opts.MaxWorkers = runtime.NumCPU()
	}
	return &Engine{
		invoker:   invoker,
		sink:      sink,
		artifacts: artifact.NewMaterializer(logger),
		validator: parser.NewValidator(logger),
		opts:      opts,
		logger:    logger.With("component", "engine"),
	}
}

// runState is everything one run shares between the scheduler and the workers.
type runState struct {
	id      string
	doc     *model.WorkflowDocument
	dag     *parser.DAGResult
	scope   *expr.Scope
	results *ResultsStore
	invoker executor.Invoker
	sink    store.Sink
	opts    Options
	sem     *Semaphore
	logger  *slog.Logger
}

// NewRunID returns a fresh run identifier.
func NewRunID() string {
	return "run_" + uuid.New().String()
}

// Run executes doc and returns its report. The report is never nil.
//
// Schema and dependency-graph errors are returned as the error, with the
// report's outcome set to failure. Failures during execution are reflected in
// the report's outcome and step results, not in the error, except that a
// cancelled ctx is also returned.
func (e *Engine) Run(ctx context.Context, doc *model.WorkflowDocument, req RunRequest) (*model.RunReport, error) {
	if req.RunID == "" {
		req.RunID = NewRunID()
	}
	report := &model.RunReport{
		RunRecord: model.RunRecord{
			ID:        req.RunID,
			Workflow:  doc.Metadata.Name,
			Version:   doc.Metadata.Version,
			Outcome:   model.OutcomeRunning,
			RunDir:    req.RunDir,
			StartedAt: time.Now().UTC(),
		},
		UserInputs: req.Overrides,
	}
	logger := e.logger.With("run_id", req.RunID, "workflow", doc.Metadata.Name)

	if err := e.validator.Validate(doc); err != nil {
		return e.abort(ctx, report, fmt.Errorf("validate workflow: %w", err), logger)
	}
	dag, err := parser.BuildDAG(doc)
	if err != nil {
		return e.abort(ctx, report, fmt.Errorf("build dependency graph: %w", err), logger)
	}

	results := NewResultsStore(dag.Order)
	scope := expr.NewScope(doc, req.Overrides, results)
	report.Params = scope.Params

	e.beginRun(ctx, &report.RunRecord, logger)
	logger.Info("run started", "steps", len(dag.Order), "order", dag.Order)

	rs := &runState{
		id:      req.RunID,
		doc:     doc,
		dag:     dag,
		scope:   scope,
		results: results,
		invoker: e.invoker,
		sink:    e.sink,
		opts:    e.opts,
		sem:     NewSemaphore(e.opts.MaxConcurrency),
		logger:  logger,
	}
	fatal := rs.schedule(ctx)

	report.Steps = results.Ordered()

	if req.ArtifactDir != "" && len(doc.Artifacts) > 0 {
		report.Artifacts = e.artifacts.Materialize(context.WithoutCancel(ctx), doc.Artifacts, scope, req.ArtifactDir)
		if e.sink != nil {
			if err := e.sink.RecordArtifacts(context.WithoutCancel(ctx), req.RunID, report.Artifacts); err != nil {
				logger.Warn("record artifacts", "error", err)
			}
		}
	}

	report.Outcome = outcome(report, fatal)
	var runErr error
	if ctxErr := ctx.Err(); ctxErr != nil {
		report.Outcome = model.OutcomeFailure
		runErr = fmt.Errorf("run %s: %w", req.RunID, ctxErr)
	}
	report.Error = summarizeErrors(report, runErr)
	e.finishRun(ctx, report, logger)
	return report, runErr
}

// abort finishes a run that could not start.
func (e *Engine) abort(ctx context.Context, report *model.RunReport, err error, logger *slog.Logger) (*model.RunReport, error) {
	report.Outcome = model.OutcomeFailure
	report.Error = err.Error()
	logger.Error("run aborted", "error", err)
	e.beginRun(ctx, &report.RunRecord, logger)
	e.finishRun(ctx, report, logger)
	return report, err
}

func (e *Engine) beginRun(ctx context.Context, run *model.RunRecord, logger *slog.Logger) {
	if e.sink == nil {
		return
	}
	if err := e.sink.BeginRun(context.WithoutCancel(ctx), run); err != nil {
		logger.Warn("record run start", "error", err)
	}
}

func (e *Engine) finishRun(ctx context.Context, report *model.RunReport, logger *slog.Logger) {
	now := time.Now().UTC()
	report.FinishedAt = &now
	logger.Info("run finished",
		"outcome", report.Outcome,
		"duration", report.Duration())
	if e.sink == nil {
		return
	}
	if err := e.sink.FinishRun(context.WithoutCancel(ctx), &report.RunRecord); err != nil {
		logger.Warn("record run finish", "error", err)
	}
}

// outcome derives the run verdict. A fatal step failure is a failure; any
// failed slot, failed or skipped step, or unwritten artifact is a partial success.
func outcome(report *model.RunReport, fatal bool) model.RunOutcome {
	if fatal {
		return model.OutcomeFailure
	}
	for _, s := range report.Steps {
		if s.Status != model.StepStatusSucceeded {
			return model.OutcomePartialSuccess
		}
	}
	for _, a := range report.Artifacts {
		if !a.OK() {
			return model.OutcomePartialSuccess
		}
	}
	return model.OutcomeSuccess
}

// summarizeErrors returns a one-line description of what went wrong, or "".
func summarizeErrors(report *model.RunReport, runErr error) string {
	if runErr != nil {
		return runErr.Error()
	}
	var failed, partial, skipped, artifacts int
	for _, s := range report.Steps {
		switch s.Status {
		case model.StepStatusFailed:
			failed++
		case model.StepStatusPartial:
			partial++
		case model.StepStatusSkipped:
			skipped++
		}
	}
	for _, a := range report.Artifacts {
		if !a.OK() {
			artifacts++
		}
	}
	if failed+partial+skipped+artifacts == 0 {
		return ""
	}
	return fmt.Sprintf("%d failed, %d partial, %d skipped steps; %d artifacts not written",
		failed, partial, skipped, artifacts)
}
