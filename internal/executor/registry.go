package executor

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
)

// Func is a Go function callable from a workflow step.
type Func func(ctx context.Context, args map[string]any) (any, error)

// Registry maps module-qualified names to Go functions.
type Registry struct {
	mu     sync.RWMutex
	funcs  map[string]Func
	logger *slog.Logger
}

// NewRegistry creates an empty Registry.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		funcs:  make(map[string]Func),
		logger: logger.With("component", "func-registry"),
	}
}

// Register adds a function under the given module-qualified name,
// replacing any previous registration.
func (r *Registry) Register(name string, fn Func) {
	r.mu.Lock()
	r.funcs[name] = fn
	r.mu.Unlock()
	r.logger.Debug("function registered", "func", name)
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.funcs[name]
	return ok
}

// Names returns the registered names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.funcs))
	for n := range r.funcs {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Invoke calls a registered function. A panic inside the function is
// returned as an error.
func (r *Registry) Invoke(ctx context.Context, name string, args map[string]any) (out any, err error) {
	r.mu.RLock()
	fn, ok := r.funcs[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownFunction, name)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	defer func() {
		if p := recover(); p != nil {
			out = nil
			err = fmt.Errorf("function %q panicked: %v", name, p)
		}
	}()
	return fn(ctx, args)
}
