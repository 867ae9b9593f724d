package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/dop251/goja"
)

// ScriptExecutor runs functions defined in JavaScript modules. The function
// "text.count" is the top-level function count in <dir>/text.js, called with
// a single object holding the invocation arguments.
//
// Each call gets a fresh runtime; compiled programs are cached per module.
type ScriptExecutor struct {
	dir    string
	logger *slog.Logger

	mu       sync.Mutex
	programs map[string]*goja.Program
}

// NewScriptExecutor creates a ScriptExecutor loading modules from dir.
func NewScriptExecutor(dir string, logger *slog.Logger) *ScriptExecutor {
	return &ScriptExecutor{
		dir:      dir,
		logger:   logger.With("component", "script-executor"),
		programs: make(map[string]*goja.Program),
	}
}

func (s *ScriptExecutor) modulePath(module string) string {
	return filepath.Join(s.dir, filepath.FromSlash(strings.ReplaceAll(module, ".", "/"))+".js")
}

// Has reports whether the module file for fn exists.
func (s *ScriptExecutor) Has(fn string) bool {
	module, name := splitFunc(fn)
	if s.dir == "" || module == "" || name == "" {
		return false
	}
	info, err := os.Stat(s.modulePath(module))
	return err == nil && !info.IsDir()
}

// program returns the compiled module, compiling it on first use.
func (s *ScriptExecutor) program(module string) (*goja.Program, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.programs[module]; ok {
		return p, nil
	}
	path := s.modulePath(module)
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load module %q: %w", module, err)
	}
	p, err := goja.Compile(path, string(src), false)
	if err != nil {
		return nil, fmt.Errorf("compile module %q: %w", module, err)
	}
	s.programs[module] = p
	s.logger.Debug("module compiled", "module", module, "path", path)
	return p, nil
}

// Invoke runs fn in a new runtime. Cancelling ctx interrupts the script.
func (s *ScriptExecutor) Invoke(ctx context.Context, fn string, args map[string]any) (any, error) {
	module, name := splitFunc(fn)
	if module == "" {
		return nil, fmt.Errorf("%w: %q is not module-qualified", ErrUnknownFunction, fn)
	}
	prog, err := s.program(module)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	vm := goja.New()
	stop := context.AfterFunc(ctx, func() {
		vm.Interrupt(ctx.Err())
	})
	defer stop()

	if _, err := vm.RunProgram(prog); err != nil {
		return nil, scriptError(fn, err)
	}
	call, ok := goja.AssertFunction(vm.Get(name))
	if !ok {
		return nil, fmt.Errorf("%w: module %q has no function %q", ErrUnknownFunction, module, name)
	}
	val, err := call(goja.Undefined(), vm.ToValue(args))
	if err != nil {
		return nil, scriptError(fn, err)
	}
	if val == nil || goja.IsUndefined(val) || goja.IsNull(val) {
		return nil, nil
	}
	return val.Export(), nil
}

// scriptError turns goja errors into plain errors. Interrupts keep the
// context error in the chain.
func scriptError(fn string, err error) error {
	var interrupted *goja.InterruptedError
	if errors.As(err, &interrupted) {
		if cause, ok := interrupted.Value().(error); ok {
			return fmt.Errorf("%s: interrupted: %w", fn, cause)
		}
		return fmt.Errorf("%s: interrupted", fn)
	}
	var ex *goja.Exception
	if errors.As(err, &ex) {
		return fmt.Errorf("%s: %s", fn, ex.Value().String())
	}
	return fmt.Errorf("%s: %w", fn, err)
}
