package executor

import (
	"context"
	"fmt"
)

// Chain dispatches each call to the first provider that has the function.
type Chain []Provider

// Has reports whether any provider in the chain has fn.
func (c Chain) Has(fn string) bool {
	for _, p := range c {
		if p.Has(fn) {
			return true
		}
	}
	return false
}

// Invoke implements Invoker.
func (c Chain) Invoke(ctx context.Context, fn string, args map[string]any) (any, error) {
	for _, p := range c {
		if p.Has(fn) {
			return p.Invoke(ctx, fn, args)
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownFunction, fn)
}
