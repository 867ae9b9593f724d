package planner

import (
	"github.com/me/goflow/internal/expr"
	"github.com/me/goflow/pkg/model"
)

// mapStrategy iterates over exactly one sequence argument.
type mapStrategy struct{}

func (mapStrategy) plan(step *model.StepSpec, args []expr.Argument) (*Plan, error) {
	var axes []axis
	if len(step.Options.Axes) > 0 {
		explicit, err := explicitAxes(step, args)
		if err != nil {
			return nil, err
		}
		axes = explicit
	} else {
		axes = sequenceArgs(args)
	}

	switch {
	case len(axes) == 0:
		// Nothing to map over: one aggregate call.
		return single(step, args), nil
	case len(axes) > 1:
		return nil, &model.ShapeAmbiguityError{Step: step.Name, Args: axisNames(axes)}
	}

	a := axes[0]
	base := baseArgs(args)
	plan := &Plan{
		Step:        step.Name,
		Mode:        model.MapModeMap,
		Axes:        []string{a.name},
		Fanout:      true,
		Invocations: make([]Invocation, 0, len(a.items)),
	}
	for i := range a.items {
		plan.Invocations = append(plan.Invocations, newInvocation(i, base, axes, []int{i}))
	}
	return plan, nil
}

// zipStrategy pairs the i-th elements of every axis. Lengths must match.
type zipStrategy struct{}

func (zipStrategy) plan(step *model.StepSpec, args []expr.Argument) (*Plan, error) {
	axes, err := selectAxes(step, args)
	if err != nil {
		return nil, err
	}
	if len(axes) == 0 {
		return nil, &model.ShapeMismatchError{
			Step:   step.Name,
			Mode:   model.MapModeZip,
			Reason: "zip needs at least one sequence argument",
		}
	}
	n := len(axes[0].items)
	for _, a := range axes[1:] {
		if len(a.items) != n {
			return nil, &model.ShapeMismatchError{
				Step:    step.Name,
				Mode:    model.MapModeZip,
				Lengths: lengths(axes),
				Reason:  "zipped sequences must have equal length",
			}
		}
	}

	base := baseArgs(args)
	plan := &Plan{
		Step:        step.Name,
		Mode:        model.MapModeZip,
		Axes:        axisNames(axes),
		Fanout:      true,
		Invocations: make([]Invocation, 0, n),
	}
	pick := make([]int, len(axes))
	for i := 0; i < n; i++ {
		for j := range pick {
			pick[j] = i
		}
		plan.Invocations = append(plan.Invocations, newInvocation(i, base, axes, pick))
	}
	return plan, nil
}

// broadcastStrategy takes the cartesian product of every axis. The first
// axis varies slowest.
type broadcastStrategy struct{}

func (broadcastStrategy) plan(step *model.StepSpec, args []expr.Argument) (*Plan, error) {
	axes, err := selectAxes(step, args)
	if err != nil {
		return nil, err
	}
	if len(axes) == 0 {
		return nil, &model.ShapeMismatchError{
			Step:   step.Name,
			Mode:   model.MapModeBroadcast,
			Reason: "broadcast needs at least one sequence argument",
		}
	}

	total := 1
	for _, a := range axes {
		total *= len(a.items)
	}

	base := baseArgs(args)
	plan := &Plan{
		Step:        step.Name,
		Mode:        model.MapModeBroadcast,
		Axes:        axisNames(axes),
		Fanout:      true,
		Invocations: make([]Invocation, 0, total),
	}
	if total == 0 {
		return plan, nil
	}

	// Odometer over the axes: the last index turns fastest.
	pick := make([]int, len(axes))
	for idx := 0; idx < total; idx++ {
		plan.Invocations = append(plan.Invocations, newInvocation(idx, base, axes, pick))
		for j := len(pick) - 1; j >= 0; j-- {
			pick[j]++
			if pick[j] < len(axes[j].items) {
				break
			}
			pick[j] = 0
		}
	}
	return plan, nil
}

// noneStrategy makes one call with every argument passed whole.
type noneStrategy struct{}

func (noneStrategy) plan(step *model.StepSpec, args []expr.Argument) (*Plan, error) {
	if len(step.Options.Axes) > 0 {
		return nil, &model.ShapeMismatchError{
			Step:   step.Name,
			Mode:   model.MapModeNone,
			Reason: "none mode takes no axes",
		}
	}
	return single(step, args), nil
}
