// Package planner turns a step's resolved arguments into the ordered list of
// invocations its map mode calls for.
package planner

import (
	"fmt"
	"reflect"

	"github.com/me/goflow/internal/expr"
	"github.com/me/goflow/pkg/model"
)

// Invocation is one planned call of a step's function.
type Invocation struct {
	Index int
	Args  map[string]any
	// Upstream is set when an element taken from an axis is a failure marker.
	// The invocation is then recorded as failed without calling the function.
	Upstream *model.Failure
}

// Plan is the ordered set of invocations for one step.
type Plan struct {
	Step string
	Mode model.MapMode
	// Axes are the arguments iterated over, outermost first.
	Axes []string
	// Fanout is true when the step's outputs hold one slot per invocation.
	// It is false for a single aggregate invocation.
	Fanout      bool
	Invocations []Invocation
}

// Len returns the number of planned invocations.
func (p *Plan) Len() int {
	return len(p.Invocations)
}

// strategy is implemented by each map mode. The set is closed.
type strategy interface {
	plan(step *model.StepSpec, args []expr.Argument) (*Plan, error)
}

var strategies = map[model.MapMode]strategy{
	model.MapModeMap:       mapStrategy{},
	model.MapModeZip:       zipStrategy{},
	model.MapModeBroadcast: broadcastStrategy{},
	model.MapModeNone:      noneStrategy{},
}

// PlanStep builds the invocation plan for a step from its resolved arguments.
// Arguments must be in declaration order.
func PlanStep(step *model.StepSpec, args []expr.Argument) (*Plan, error) {
	mode := modeOf(step)
	s, ok := strategies[mode]
	if !ok {
		return nil, fmt.Errorf("step %q: unknown map mode %q", step.Name, mode)
	}
	return s.plan(step, args)
}

func modeOf(step *model.StepSpec) model.MapMode {
	if step.Options.MapMode == "" {
		return model.MapModeMap
	}
	return step.Options.MapMode
}

// axis is one argument iterated over, with its elements.
type axis struct {
	name  string
	items []any
}

// sequenceArgs returns the arguments whose values are sequences, in declaration order.
func sequenceArgs(args []expr.Argument) []axis {
	var out []axis
	for _, a := range args {
		if items, ok := toSequence(a.Value); ok {
			out = append(out, axis{name: a.Name, items: items})
		}
	}
	return out
}

// explicitAxes resolves the step's declared axes, in the order declared.
// Every explicit axis must be bound to a sequence.
func explicitAxes(step *model.StepSpec, args []expr.Argument) ([]axis, error) {
	byName := make(map[string]any, len(args))
	for _, a := range args {
		byName[a.Name] = a.Value
	}
	out := make([]axis, 0, len(step.Options.Axes))
	for _, name := range step.Options.Axes {
		v, ok := byName[name]
		if !ok {
			return nil, &model.ShapeMismatchError{
				Step:   step.Name,
				Mode:   modeOf(step),
				Reason: fmt.Sprintf("axis %q is not a bound argument", name),
			}
		}
		items, ok := toSequence(v)
		if !ok {
			return nil, &model.ShapeMismatchError{
				Step:   step.Name,
				Mode:   modeOf(step),
				Reason: fmt.Sprintf("axis %q is not a sequence (got %T)", name, v),
			}
		}
		out = append(out, axis{name: name, items: items})
	}
	return out, nil
}

// selectAxes picks explicit axes when declared, else every sequence argument.
func selectAxes(step *model.StepSpec, args []expr.Argument) ([]axis, error) {
	if len(step.Options.Axes) > 0 {
		return explicitAxes(step, args)
	}
	return sequenceArgs(args), nil
}

func lengths(axes []axis) []model.ArgLength {
	out := make([]model.ArgLength, len(axes))
	for i, a := range axes {
		out[i] = model.ArgLength{Arg: a.name, Length: len(a.items)}
	}
	return out
}

func axisNames(axes []axis) []string {
	names := make([]string, len(axes))
	for i, a := range axes {
		names[i] = a.name
	}
	return names
}

// baseArgs returns the argument map with every value passed whole.
func baseArgs(args []expr.Argument) map[string]any {
	return expr.ArgsMap(args)
}

func copyArgs(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// newInvocation builds an invocation with the given axis elements bound.
func newInvocation(index int, base map[string]any, axes []axis, pick []int) Invocation {
	args := copyArgs(base)
	inv := Invocation{Index: index, Args: args}
	for i, a := range axes {
		v := a.items[pick[i]]
		args[a.name] = v
		if f, ok := v.(*model.Failure); ok && inv.Upstream == nil {
			inv.Upstream = f
		}
	}
	return inv
}

func single(step *model.StepSpec, args []expr.Argument) *Plan {
	return &Plan{
		Step:        step.Name,
		Mode:        modeOf(step),
		Invocations: []Invocation{{Index: 0, Args: baseArgs(args)}},
	}
}

// toSequence reports whether v is a sequence and returns its elements.
// Any slice or array counts, except []byte. Strings and maps never do.
func toSequence(v any) ([]any, bool) {
	switch arr := v.(type) {
	case nil, []byte:
		return nil, false
	case []any:
		return arr, true
	case []string:
		out := make([]any, len(arr))
		for i, s := range arr {
			out[i] = s
		}
		return out, true
	}

	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}
