package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/me/goflow/pkg/model"
)

// schedule runs every step of the document once its producers have published,
// using a pool of MaxWorkers goroutines. Steps whose producers failed or were
// skipped are skipped. It returns whether any step failed fatally.
func (r *runState) schedule(ctx context.Context) bool {
	total := len(r.dag.Order)
	if total == 0 {
		return false
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Buffered to total: every step is sent and reported at most once,
	// so neither side ever blocks on a send.
	jobs := make(chan *model.StepSpec, total)
	done := make(chan stepOutcome, total)

	numWorkers := r.opts.MaxWorkers
	if numWorkers > total {
		numWorkers = total
	}
	if numWorkers < 1 {
		numWorkers = 1
	}
	r.logger.Debug("starting step scheduler", "steps", total, "workers", numWorkers)

	var wg sync.WaitGroup
	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go r.stepWorker(ctx, jobs, done, &wg)
	}
	defer func() {
		close(jobs)
		wg.Wait()
	}()

	state := newStepStates(r.dag.Order, r.logger)
	pending := make(map[string]int, total)
	for _, name := range r.dag.Order {
		pending[name] = len(r.dag.Edges[name])
	}

	completed := 0
	inFlight := 0
	stopped := false
	fatal := false

	// publish settles a step. A result the step's lifecycle does not allow
	// is dropped.
	publish := func(res *model.ResolvedStepResult) bool {
		if !state.advance(res.Step, res.Status) {
			return false
		}
		completed++
		if err := r.results.Publish(res); err != nil {
			r.logger.Error("publish result", "step", res.Step, "error", err)
		}
		r.recordStep(ctx, res)
		return true
	}

	// skip marks a pending step and everything downstream of it as skipped.
	var skip func(name, reason string)
	skip = func(name, reason string) {
		if state.get(name) != model.StepStatusPending {
			return
		}
		r.logger.Info("skipping step", "step", name, "reason", reason)
		publish(skippedResult(r.doc.Step(name), reason))
		for _, d := range r.dag.Dependents[name] {
			skip(d, fmt.Sprintf("upstream step %q was skipped", name))
		}
	}

	dispatch := func(name string) {
		if stopped {
			skip(name, "run stopped before the step started")
			return
		}
		if !state.advance(name, model.StepStatusRunning) {
			return
		}
		inFlight++
		jobs <- r.doc.Step(name)
	}

	stop := func(reason string) {
		if stopped {
			return
		}
		stopped = true
		cancel()
		for _, name := range r.dag.Order {
			skip(name, reason)
		}
	}

	for _, name := range r.dag.Order {
		if pending[name] == 0 {
			dispatch(name)
		}
	}

	ctxDone := ctx.Done()
	for completed < total {
		select {
		case out := <-done:
			inFlight--
			res := out.result
			if !publish(res) {
				continue
			}

			if out.fatal {
				fatal = true
				if r.opts.FailFast {
					stop(fmt.Sprintf("fail-fast: step %q failed", res.Step))
				}
			}

			r.logger.Debug("step completed",
				"step", res.Step,
				"status", res.Status,
				"completed", completed,
				"total", total)

			for _, d := range r.dag.Dependents[res.Step] {
				if !res.Status.HasOutputs() {
					skip(d, fmt.Sprintf("upstream step %q is %s", res.Step, res.Status))
					continue
				}
				pending[d]--
				if pending[d] == 0 && state.get(d) == model.StepStatusPending {
					dispatch(d)
				}
			}

		case <-ctxDone:
			// Stop dispatching; in-flight steps still report back.
			ctxDone = nil
			stop(fmt.Sprintf("run cancelled: %v", ctx.Err()))
		}
	}

	return fatal
}

// stepWorker executes steps from the jobs channel until it is closed.
func (r *runState) stepWorker(ctx context.Context, jobs <-chan *model.StepSpec,
	done chan<- stepOutcome, wg *sync.WaitGroup) {
	defer wg.Done()

	for step := range jobs {
		done <- r.executeStep(ctx, step, r.scope)
	}
}

// recordStep forwards a published result to the sink. Sink errors are logged.
func (r *runState) recordStep(ctx context.Context, res *model.ResolvedStepResult) {
	if r.sink == nil {
		return
	}
	if err := r.sink.RecordStep(context.WithoutCancel(ctx), r.id, res); err != nil {
		r.logger.Warn("record step result", "step", res.Step, "error", err)
	}
}

// stepStates tracks the lifecycle status of every step in a run. It is
// owned by the scheduler goroutine.
type stepStates struct {
	status map[string]model.StepStatus
	logger *slog.Logger
}

func newStepStates(steps []string, logger *slog.Logger) *stepStates {
	status := make(map[string]model.StepStatus, len(steps))
	for _, name := range steps {
		status[name] = model.StepStatusPending
	}
	return &stepStates{status: status, logger: logger}
}

func (s *stepStates) get(name string) model.StepStatus {
	return s.status[name]
}

// advance moves a step to next and reports whether the move was allowed.
// Illegal moves leave the status unchanged.
func (s *stepStates) advance(name string, next model.StepStatus) bool {
	cur := s.status[name]
	if !cur.CanTransitionTo(next) {
		s.logger.Error("illegal step transition", "step", name, "from", cur, "to", next)
		return false
	}
	s.status[name] = next
	return true
}
