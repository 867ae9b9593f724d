package expr

import (
	"fmt"

	"github.com/me/goflow/pkg/model"
)

// Argument is one resolved function argument.
type Argument struct {
	Name  string
	Value any
}

// Resolve returns the value an expression refers to.
//
// A params.* lookup fails with *model.UnknownParameterError when the name has
// no value in the scope. A steps.* lookup fails with
// *model.UnresolvedDependencyError when the step has not published a usable
// result or does not produce the requested name.
func Resolve(e model.Expression, scope *Scope) (any, error) {
	switch e.Namespace {
	case model.NamespaceParams:
		v, ok := scope.Params[e.Param]
		if !ok {
			return nil, &model.UnknownParameterError{Name: e.Param, Declared: scope.Declared[e.Param]}
		}
		return v, nil

	case model.NamespaceSteps:
		if scope.Results == nil {
			return nil, &model.UnresolvedDependencyError{Step: e.Step, Produce: e.Produce, Reason: "no results available"}
		}
		res, ok := scope.Results.Lookup(e.Step)
		if !ok || res == nil {
			return nil, &model.UnresolvedDependencyError{Step: e.Step, Produce: e.Produce, Reason: "step has not completed"}
		}
		if !res.Status.HasOutputs() {
			reason := fmt.Sprintf("step is %s", res.Status)
			if res.Error != "" {
				reason += ": " + res.Error
			}
			return nil, &model.UnresolvedDependencyError{Step: e.Step, Produce: e.Produce, Reason: reason}
		}
		v, ok := res.Output(e.Produce)
		if !ok {
			return nil, &model.UnresolvedDependencyError{
				Step:    e.Step,
				Produce: e.Produce,
				Reason:  fmt.Sprintf("step produces %v", res.Produces),
			}
		}
		return v, nil
	}
	return nil, fmt.Errorf("unsupported expression namespace %q", e.Namespace)
}

// ResolveStep resolves every binding of a step in declaration order.
// Literals pass through unchanged.
func ResolveStep(step *model.StepSpec, scope *Scope) ([]Argument, error) {
	args := make([]Argument, 0, len(step.Bindings))
	for _, b := range step.Bindings {
		if b.IsLiteral() {
			args = append(args, Argument{Name: b.Arg, Value: b.Literal})
			continue
		}
		v, err := Resolve(*b.Expr, scope)
		if err != nil {
			return nil, fmt.Errorf("step %q argument %q: %w", step.Name, b.Arg, err)
		}
		args = append(args, Argument{Name: b.Arg, Value: v})
	}
	return args, nil
}

// ArgsMap converts resolved arguments into the map handed to a function.
func ArgsMap(args []Argument) map[string]any {
	m := make(map[string]any, len(args))
	for _, a := range args {
		m[a.Name] = a.Value
	}
	return m
}
