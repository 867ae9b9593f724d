package executor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/me/goflow/pkg/model"
)

// BuiltinModule is the module name the builtin functions are registered under.
const BuiltinModule = "builtin"

// RegisterBuiltins adds the builtin.* functions to r.
func RegisterBuiltins(r *Registry) {
	builtins := map[string]Func{
		"identity":  builtinIdentity,
		"collect":   builtinCollect,
		"length":    builtinLength,
		"sum":       builtinSum,
		"join":      builtinJoin,
		"summarize": builtinSummarize,
		"fail":      builtinFail,
		"sleep":     builtinSleep,
	}
	for name, fn := range builtins {
		r.Register(BuiltinModule+"."+name, fn)
	}
}

// builtinIdentity returns its value argument.
func builtinIdentity(_ context.Context, args map[string]any) (any, error) {
	v, ok := args["value"]
	if !ok {
		return nil, errors.New("identity: missing argument \"value\"")
	}
	return v, nil
}

// builtinCollect returns a copy of its arguments.
func builtinCollect(_ context.Context, args map[string]any) (any, error) {
	out := make(map[string]any, len(args))
	for k, v := range args {
		out[k] = v
	}
	return out, nil
}

func builtinLength(_ context.Context, args map[string]any) (any, error) {
	items, err := itemsArg("length", args)
	if err != nil {
		return nil, err
	}
	return len(items), nil
}

// builtinSum adds the numeric items, skipping failure markers. The result
// is an int when every item is an integer.
func builtinSum(_ context.Context, args map[string]any) (any, error) {
	items, err := itemsArg("sum", args)
	if err != nil {
		return nil, err
	}
	var (
		isum    int64
		fsum    float64
		isFloat bool
	)
	for i, v := range model.Successful(items) {
		switch n := v.(type) {
		case int:
			isum += int64(n)
		case int64:
			isum += n
		case float64:
			fsum += n
			isFloat = true
		default:
			return nil, fmt.Errorf("sum: item %d is %T, not a number", i, v)
		}
	}
	if isFloat {
		return fsum + float64(isum), nil
	}
	return int(isum), nil
}

func builtinJoin(_ context.Context, args map[string]any) (any, error) {
	items, err := itemsArg("join", args)
	if err != nil {
		return nil, err
	}
	sep := ""
	if s, ok := args["sep"].(string); ok {
		sep = s
	}
	parts := make([]string, 0, len(items))
	for _, v := range model.Successful(items) {
		parts = append(parts, fmt.Sprint(v))
	}
	return strings.Join(parts, sep), nil
}

// builtinSummarize reports how many items succeeded and failed.
func builtinSummarize(_ context.Context, args map[string]any) (any, error) {
	items, err := itemsArg("summarize", args)
	if err != nil {
		return nil, err
	}
	failed := model.CountFailures(items)
	failures := make([]any, 0, failed)
	for _, v := range items {
		if f, ok := v.(*model.Failure); ok {
			failures = append(failures, map[string]any{"index": f.Index, "error": f.Error, "attempts": f.Attempts})
		}
	}
	return map[string]any{
		"total":     len(items),
		"succeeded": len(items) - failed,
		"failed":    failed,
		"failures":  failures,
	}, nil
}

// builtinFail always returns an error carrying the message argument.
func builtinFail(_ context.Context, args map[string]any) (any, error) {
	msg, _ := args["message"].(string)
	if msg == "" {
		msg = "failed"
	}
	return nil, errors.New(msg)
}

// builtinSleep waits for "duration" and then returns "value".
func builtinSleep(ctx context.Context, args map[string]any) (any, error) {
	var d time.Duration
	switch v := args["duration"].(type) {
	case string:
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("sleep: %w", err)
		}
		d = parsed
	case int:
		d = time.Duration(v) * time.Millisecond
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
	}
	return args["value"], nil
}

func itemsArg(fn string, args map[string]any) ([]any, error) {
	v, ok := args["items"]
	if !ok {
		return nil, fmt.Errorf("%s: missing argument \"items\"", fn)
	}
	items, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("%s: argument \"items\" is %T, not a list", fn, v)
	}
	return items, nil
}
