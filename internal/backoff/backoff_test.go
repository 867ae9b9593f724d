package backoff_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/me/goflow/internal/backoff"
	"github.com/me/goflow/pkg/model"
)

func TestConstant(t *testing.T) {
	c := backoff.NewConstant(3 * time.Millisecond)
	for attempt := 1; attempt <= 5; attempt++ {
		if got := c.Delay(attempt); got != 3*time.Millisecond {
			t.Errorf("Delay(%d) = %v, want 3ms", attempt, got)
		}
	}
}

func TestLinear(t *testing.T) {
	l := backoff.NewLinear(time.Second, 4*time.Second)
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, time.Second},
		{2, 2 * time.Second},
		{4, 4 * time.Second},
		{9, 4 * time.Second},
	}
	for _, tt := range tests {
		if got := l.Delay(tt.attempt); got != tt.want {
			t.Errorf("Delay(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestExponential(t *testing.T) {
	e := backoff.NewExponential(100*time.Millisecond, time.Second)
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 100 * time.Millisecond},
		{2, 200 * time.Millisecond},
		{3, 400 * time.Millisecond},
		{4, 800 * time.Millisecond},
		{5, time.Second},
		{200, time.Second},
	}
	for _, tt := range tests {
		if got := e.Delay(tt.attempt); got != tt.want {
			t.Errorf("Delay(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestStrategies_NeverDecrease(t *testing.T) {
	strategies := map[string]backoff.Strategy{
		"constant":    backoff.NewConstant(time.Millisecond),
		"linear":      backoff.NewLinear(time.Millisecond, 50*time.Millisecond),
		"exponential": backoff.NewExponential(time.Millisecond, time.Minute),
		"default":     backoff.DefaultStrategy(),
	}
	for name, s := range strategies {
		prev := time.Duration(0)
		for attempt := 1; attempt <= 80; attempt++ {
			d := s.Delay(attempt)
			if d < prev {
				t.Errorf("%s: Delay(%d) = %v < Delay(%d) = %v", name, attempt, d, attempt-1, prev)
			}
			prev = d
		}
	}
}

func TestFromSpec(t *testing.T) {
	fallback := backoff.NewConstant(0)

	s, err := backoff.FromSpec(nil, fallback)
	if err != nil || s != backoff.Strategy(fallback) {
		t.Errorf("nil spec = %v, %v; want fallback", s, err)
	}

	s, err = backoff.FromSpec(&model.BackoffSpec{Strategy: model.BackoffLinear, Initial: time.Millisecond}, fallback)
	if err != nil {
		t.Fatalf("FromSpec linear: %v", err)
	}
	if got := s.Delay(3); got != 3*time.Millisecond {
		t.Errorf("linear Delay(3) = %v, want 3ms", got)
	}

	s, err = backoff.FromSpec(&model.BackoffSpec{Strategy: model.BackoffExponential}, fallback)
	if err != nil {
		t.Fatalf("FromSpec exponential: %v", err)
	}
	if got := s.Delay(1); got != backoff.DefaultInitial {
		t.Errorf("exponential Delay(1) = %v, want %v", got, backoff.DefaultInitial)
	}

	if _, err := backoff.FromSpec(&model.BackoffSpec{Strategy: "random"}, fallback); err == nil {
		t.Error("expected error for unknown strategy")
	}
}

func TestSleep_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	start := time.Now()
	err := backoff.Sleep(ctx, time.Hour)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Sleep error = %v, want context.Canceled", err)
	}
	if time.Since(start) > time.Second {
		t.Error("Sleep did not return promptly on cancellation")
	}
}

func TestSleep_Elapses(t *testing.T) {
	if err := backoff.Sleep(context.Background(), time.Millisecond); err != nil {
		t.Errorf("Sleep: %v", err)
	}
	if err := backoff.Sleep(context.Background(), 0); err != nil {
		t.Errorf("Sleep(0): %v", err)
	}
}
