package executor

import (
	"context"
	"errors"
	"strings"
)

// ErrUnknownFunction is returned when no executor provides a function.
var ErrUnknownFunction = errors.New("unknown function")

// Invoker runs one function invocation. Implementations must be safe for
// concurrent use: the engine calls Invoke from many goroutines.
type Invoker interface {
	Invoke(ctx context.Context, fn string, args map[string]any) (any, error)
}

// Provider is an Invoker that can tell which functions it serves.
type Provider interface {
	Invoker
	Has(fn string) bool
}

// splitFunc splits a module-qualified reference "mod.fn" at its last dot.
func splitFunc(fn string) (module, name string) {
	i := strings.LastIndex(fn, ".")
	if i < 0 {
		return "", fn
	}
	return fn[:i], fn[i+1:]
}
