package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/me/goflow/internal/backoff"
	"github.com/me/goflow/internal/expr"
	"github.com/me/goflow/internal/planner"
	"github.com/me/goflow/pkg/model"
)

// stepOutcome is what a worker hands back to the scheduler.
type stepOutcome struct {
	result *model.ResolvedStepResult
	// fatal is set when an aggregate invocation exhausted its attempts.
	// It makes the run outcome a failure.
	fatal bool
}

// slot is the outcome of one planned invocation.
type slot struct {
	value    any
	attempts int
	err      error
	upstream *model.Failure
}

func (s *slot) failed() bool {
	return s.err != nil || s.upstream != nil
}

// executeStep resolves, plans, and runs one step. It never returns a nil result.
func (r *runState) executeStep(ctx context.Context, step *model.StepSpec, scope *expr.Scope) stepOutcome {
	logger := r.logger.With("step", step.Name)
	res := &model.ResolvedStepResult{
		Step:      step.Name,
		Produces:  step.Produces,
		Mode:      step.Options.MapMode,
		StartedAt: time.Now().UTC(),
	}
	fail := func(err error) stepOutcome {
		res.Status = model.StepStatusFailed
		res.Error = err.Error()
		res.FinishedAt = time.Now().UTC()
		logger.Error("step failed", "error", err)
		return stepOutcome{result: res}
	}

	for _, producer := range r.dag.Edges[step.Name] {
		if _, err := r.results.Wait(ctx, producer); err != nil {
			return fail(fmt.Errorf("step %q: waiting for %q: %w", step.Name, producer, err))
		}
	}

	args, err := expr.ResolveStep(step, scope)
	if err != nil {
		return fail(err)
	}
	plan, err := planner.PlanStep(step, args)
	if err != nil {
		return fail(err)
	}
	strategy, err := backoff.FromSpec(step.Options.Retry.Backoff, r.opts.Backoff)
	if err != nil {
		return fail(fmt.Errorf("step %q: %w", step.Name, err))
	}

	res.Mode = plan.Mode
	res.Fanout = plan.Fanout
	res.Invocations = plan.Len()
	logger.Info("executing step",
		"func", step.Func,
		"mode", plan.Mode,
		"invocations", plan.Len())

	slots := r.runInvocations(ctx, step, plan, strategy, logger)

	for i := range slots {
		res.Attempts += slots[i].attempts
	}
	if plan.Fanout {
		r.collectFanout(step, plan, slots, res)
	} else if out := r.collectSingle(step, plan, slots, res); out.fatal {
		logger.Error("step failed", "error", res.Error)
		return out
	}
	res.FinishedAt = time.Now().UTC()

	logger.Info("step finished",
		"status", res.Status,
		"invocations", res.Invocations,
		"failed", res.Failed,
		"attempts", res.Attempts,
		"duration", res.FinishedAt.Sub(res.StartedAt))
	return stepOutcome{result: res}
}

// runInvocations runs every planned invocation, bounded by the per-step limit
// and the run-wide semaphore. Each goroutine writes only its own slot.
func (r *runState) runInvocations(ctx context.Context, step *model.StepSpec, plan *planner.Plan,
	strategy backoff.Strategy, logger *slog.Logger) []slot {

	slots := make([]slot, plan.Len())
	logger.Debug("dispatching invocations",
		"count", plan.Len(),
		"run_limit", r.sem.Capacity(),
		"run_in_use", r.sem.InUse())
	var g errgroup.Group
	if r.opts.MaxConcurrency > 0 {
		g.SetLimit(r.opts.MaxConcurrency)
	}
	for i := range plan.Invocations {
		inv := plan.Invocations[i]
		if inv.Upstream != nil {
			slots[i] = slot{upstream: inv.Upstream}
			logger.Debug("invocation skipped: upstream failure", "index", inv.Index)
			continue
		}
		g.Go(func() error {
			v, attempts, err := r.invokeWithRetry(ctx, step, inv, strategy, logger)
			slots[inv.Index] = slot{value: v, attempts: attempts, err: err}
			return nil
		})
	}
	_ = g.Wait()
	return slots
}

// invokeWithRetry calls the function until it succeeds or MaxAttempts is
// reached, sleeping strategy.Delay(n) before retry n.
func (r *runState) invokeWithRetry(ctx context.Context, step *model.StepSpec, inv planner.Invocation,
	strategy backoff.Strategy, logger *slog.Logger) (any, int, error) {

	maxAttempts := step.Options.Retry.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var lastErr error
	attempts := 0
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			delay := strategy.Delay(attempt - 1)
			logger.Debug("retrying invocation", "index", inv.Index, "attempt", attempt, "delay", delay)
			if err := backoff.Sleep(ctx, delay); err != nil {
				break
			}
		}
		if !r.sem.Acquire(ctx) {
			if lastErr == nil {
				lastErr = ctx.Err()
			}
			break
		}
		attempts++
		v, err := r.invoker.Invoke(ctx, step.Func, inv.Args)
		r.sem.Release()
		if err == nil {
			return v, attempts, nil
		}
		lastErr = err
		logger.Warn("invocation attempt failed",
			"index", inv.Index,
			"attempt", attempt,
			"max_attempts", maxAttempts,
			"error", err)
		if ctx.Err() != nil {
			break
		}
	}
	if lastErr == nil {
		lastErr = ctx.Err()
	}
	return nil, attempts, &model.InvocationError{
		Step:     step.Name,
		Index:    inv.Index,
		Args:     inv.Args,
		Attempts: attempts,
		Err:      lastErr,
	}
}

// collectFanout fills one ordered slot per invocation for every produce name.
// Failed slots hold *model.Failure markers.
func (r *runState) collectFanout(step *model.StepSpec, plan *planner.Plan, slots []slot, res *model.ResolvedStepResult) {
	outputs := make(map[string]any, len(step.Produces))
	columns := make(map[string][]any, len(step.Produces))
	for _, p := range step.Produces {
		columns[p] = make([]any, len(slots))
	}

	for i := range slots {
		inv := plan.Invocations[i]
		s := &slots[i]
		var values map[string]any
		if !s.failed() {
			var err error
			values, err = extractOutputs(step.Produces, s.value)
			if err != nil {
				s.err = &model.InvocationError{Step: step.Name, Index: i, Args: inv.Args, Attempts: s.attempts, Err: err}
			}
		}
		if s.failed() {
			marker := failureMarker(i, inv.Args, s)
			res.Failed++
			res.Failures = append(res.Failures, model.InvocationFailure{
				Index:    i,
				Args:     inv.Args,
				Attempts: s.attempts,
				Error:    marker.Error,
			})
			for _, p := range step.Produces {
				columns[p][i] = marker
			}
			continue
		}
		for _, p := range step.Produces {
			columns[p][i] = values[p]
		}
	}

	for p, col := range columns {
		outputs[p] = col
	}
	res.Outputs = outputs
	res.Status = model.StepStatusSucceeded
	if res.Failed > 0 {
		res.Status = model.StepStatusPartial
		res.Error = fmt.Sprintf("%d of %d invocations failed", res.Failed, res.Invocations)
	}
}

// collectSingle handles a step planned as one aggregate invocation. A failure
// here fails the step and the run.
func (r *runState) collectSingle(step *model.StepSpec, plan *planner.Plan, slots []slot, res *model.ResolvedStepResult) stepOutcome {
	s := &slots[0]
	inv := plan.Invocations[0]
	if s.err == nil {
		values, err := extractOutputs(step.Produces, s.value)
		if err != nil {
			s.err = &model.InvocationError{Step: step.Name, Index: 0, Args: inv.Args, Attempts: s.attempts, Err: err}
		} else {
			res.Outputs = values
			res.Status = model.StepStatusSucceeded
			return stepOutcome{result: res}
		}
	}

	res.Status = model.StepStatusFailed
	res.Failed = 1
	res.Error = s.err.Error()
	res.Failures = []model.InvocationFailure{{
		Index:    0,
		Args:     inv.Args,
		Attempts: s.attempts,
		Error:    s.err.Error(),
	}}
	res.FinishedAt = time.Now().UTC()
	return stepOutcome{result: res, fatal: true}
}

func failureMarker(index int, args map[string]any, s *slot) *model.Failure {
	f := &model.Failure{Index: index, Attempts: s.attempts, Args: args}
	switch {
	case s.upstream != nil:
		f.Error = fmt.Sprintf("upstream failure at index %d: %s", s.upstream.Index, s.upstream.Error)
	default:
		var ie *model.InvocationError
		if errors.As(s.err, &ie) {
			f.Error = ie.Err.Error()
		} else {
			f.Error = s.err.Error()
		}
	}
	return f
}

// extractOutputs maps a function's return value onto the step's produce names.
// A single name takes the whole value. Several names take the entries of a
// map by key, or the elements of a list by position.
func extractOutputs(produces []string, v any) (map[string]any, error) {
	if len(produces) == 1 {
		return map[string]any{produces[0]: v}, nil
	}
	out := make(map[string]any, len(produces))
	switch r := v.(type) {
	case map[string]any:
		for _, p := range produces {
			pv, ok := r[p]
			if !ok {
				return nil, fmt.Errorf("result has no key %q for produce name", p)
			}
			out[p] = pv
		}
		return out, nil
	case []any:
		if len(r) != len(produces) {
			return nil, fmt.Errorf("result has %d values for %d produce names", len(r), len(produces))
		}
		for i, p := range produces {
			out[p] = r[i]
		}
		return out, nil
	}
	return nil, fmt.Errorf("result of type %T cannot fill %d produce names; return a map or a list", v, len(produces))
}

// skippedResult builds the result of a step that never ran.
func skippedResult(step *model.StepSpec, reason string) *model.ResolvedStepResult {
	now := time.Now().UTC()
	return &model.ResolvedStepResult{
		Step:       step.Name,
		Produces:   step.Produces,
		Mode:       step.Options.MapMode,
		Status:     model.StepStatusSkipped,
		Error:      reason,
		StartedAt:  now,
		FinishedAt: now,
	}
}
