// Package backoff provides the retry delay strategies used between attempts
// of a failing invocation. Every strategy is stateless and returns delays
// that never decrease as the attempt number grows.
package backoff

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/me/goflow/pkg/model"
)

// Strategy computes the delay before a retry attempt.
type Strategy interface {
	// Delay returns how long to wait before retry n (1-indexed).
	// Retry 1 follows the first failed attempt.
	Delay(attempt int) time.Duration
}

// Constant always returns the same delay.
type Constant struct {
	Interval time.Duration
}

// NewConstant creates a constant backoff strategy.
func NewConstant(interval time.Duration) *Constant {
	return &Constant{Interval: interval}
}

// Delay returns the fixed interval.
func (c *Constant) Delay(_ int) time.Duration {
	return c.Interval
}

// Linear grows the delay by Initial each attempt, capped at Max.
type Linear struct {
	Initial time.Duration
	Max     time.Duration
}

// NewLinear creates a linear backoff strategy.
func NewLinear(initial, maxDelay time.Duration) *Linear {
	return &Linear{Initial: initial, Max: maxDelay}
}

// Delay returns Initial * attempt, capped at Max.
func (l *Linear) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := l.Initial * time.Duration(attempt)
	if l.Max > 0 && (d > l.Max || d < 0) {
		return l.Max
	}
	return d
}

// Exponential doubles the delay each attempt, capped at Max.
type Exponential struct {
	Initial time.Duration
	Max     time.Duration
}

// NewExponential creates an exponential backoff strategy.
func NewExponential(initial, maxDelay time.Duration) *Exponential {
	return &Exponential{Initial: initial, Max: maxDelay}
}

// Delay returns Initial * 2^(attempt-1), capped at Max.
func (e *Exponential) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	f := float64(e.Initial) * math.Pow(2, float64(attempt-1))
	if f >= math.MaxInt64 {
		if e.Max > 0 {
			return e.Max
		}
		return time.Duration(math.MaxInt64)
	}
	d := time.Duration(f)
	if e.Max > 0 && d > e.Max {
		return e.Max
	}
	return d
}

// Default initial and maximum delays of the engine's exponential strategy.
const (
	DefaultInitial = 200 * time.Millisecond
	DefaultMax     = 10 * time.Second
)

// DefaultStrategy returns the engine default: exponential, 200ms doubling up to 10s.
func DefaultStrategy() Strategy {
	return NewExponential(DefaultInitial, DefaultMax)
}

// FromSpec builds the strategy a step declares. A nil spec yields fallback.
// Zero durations in the spec inherit DefaultInitial and DefaultMax.
func FromSpec(spec *model.BackoffSpec, fallback Strategy) (Strategy, error) {
	if spec == nil {
		if fallback == nil {
			fallback = DefaultStrategy()
		}
		return fallback, nil
	}
	initial, maxDelay := spec.Initial, spec.Max
	if initial == 0 {
		initial = DefaultInitial
	}
	if maxDelay == 0 {
		maxDelay = DefaultMax
	}
	switch spec.Strategy {
	case model.BackoffConstant:
		return NewConstant(initial), nil
	case model.BackoffLinear:
		return NewLinear(initial, maxDelay), nil
	case model.BackoffExponential, "":
		return NewExponential(initial, maxDelay), nil
	}
	return nil, fmt.Errorf("unknown backoff strategy %q", spec.Strategy)
}

// Sleep waits for d or until ctx is done, whichever comes first.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
