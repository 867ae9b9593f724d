package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/me/goflow/pkg/model"
)

// ErrAlreadyPublished is returned when a step's result is published twice.
var ErrAlreadyPublished = errors.New("result already published")

// ResultsStore holds the step results of one run. Each step publishes exactly
// once; published results are never modified, so readers need no copies.
type ResultsStore struct {
	mu      sync.RWMutex
	results map[string]*model.ResolvedStepResult
	steps   []string
	done    map[string]chan struct{}
}

// NewResultsStore creates a store expecting results for the given steps.
func NewResultsStore(steps []string) *ResultsStore {
	rs := &ResultsStore{
		results: make(map[string]*model.ResolvedStepResult, len(steps)),
		steps:   steps,
		done:    make(map[string]chan struct{}, len(steps)),
	}
	for _, s := range steps {
		rs.done[s] = make(chan struct{})
	}
	return rs
}

// Publish records the result of a step and wakes any waiters.
func (rs *ResultsStore) Publish(res *model.ResolvedStepResult) error {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	if _, ok := rs.results[res.Step]; ok {
		return fmt.Errorf("step %q: %w", res.Step, ErrAlreadyPublished)
	}
	ch, ok := rs.done[res.Step]
	if !ok {
		return fmt.Errorf("step %q is not part of this run", res.Step)
	}
	rs.results[res.Step] = res
	close(ch)
	return nil
}

// Lookup returns the published result of a step. It implements expr.ResultLookup.
func (rs *ResultsStore) Lookup(step string) (*model.ResolvedStepResult, bool) {
	rs.mu.RLock()
	defer rs.mu.RUnlock()
	res, ok := rs.results[step]
	return res, ok
}

// Wait blocks until the step has published or ctx is done. A result that is
// already published is returned even when ctx is done.
func (rs *ResultsStore) Wait(ctx context.Context, step string) (*model.ResolvedStepResult, error) {
	rs.mu.RLock()
	ch, ok := rs.done[step]
	rs.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("step %q is not part of this run", step)
	}
	select {
	case <-ch:
		res, _ := rs.Lookup(step)
		return res, nil
	default:
	}
	select {
	case <-ch:
		res, _ := rs.Lookup(step)
		return res, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Ordered returns the published results in the run's step order. Steps
// that never published are left out.
func (rs *ResultsStore) Ordered() []*model.ResolvedStepResult {
	rs.mu.RLock()
	defer rs.mu.RUnlock()
	out := make([]*model.ResolvedStepResult, 0, len(rs.results))
	for _, name := range rs.steps {
		if res, ok := rs.results[name]; ok {
			out = append(out, res)
		}
	}
	return out
}
