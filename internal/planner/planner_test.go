package planner

import (
	"errors"
	"reflect"
	"testing"

	"github.com/me/goflow/internal/expr"
	"github.com/me/goflow/pkg/model"
)

func step(mode model.MapMode, axes ...string) *model.StepSpec {
	return &model.StepSpec{
		Name:    "s",
		Func:    "m.s",
		Options: model.OptionsSpec{MapMode: mode, Axes: axes, Retry: model.DefaultRetryPolicy()},
	}
}

func args(kv ...any) []expr.Argument {
	out := make([]expr.Argument, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		out = append(out, expr.Argument{Name: kv[i].(string), Value: kv[i+1]})
	}
	return out
}

func argList(p *Plan) []map[string]any {
	out := make([]map[string]any, len(p.Invocations))
	for i, inv := range p.Invocations {
		out[i] = inv.Args
	}
	return out
}

func TestPlan_BroadcastOrder(t *testing.T) {
	plan, err := PlanStep(step(model.MapModeBroadcast), args("a", []any{1, 2}, "b", []any{"x", "y"}))
	if err != nil {
		t.Fatalf("PlanStep: %v", err)
	}
	want := []map[string]any{
		{"a": 1, "b": "x"},
		{"a": 1, "b": "y"},
		{"a": 2, "b": "x"},
		{"a": 2, "b": "y"},
	}
	if got := argList(plan); !reflect.DeepEqual(got, want) {
		t.Errorf("invocations = %v, want %v", got, want)
	}
	for i, inv := range plan.Invocations {
		if inv.Index != i {
			t.Errorf("invocation %d has index %d", i, inv.Index)
		}
	}
	if !plan.Fanout || !reflect.DeepEqual(plan.Axes, []string{"a", "b"}) {
		t.Errorf("plan = %+v", plan)
	}
}

func TestPlan_BroadcastCountIsProduct(t *testing.T) {
	plan, err := PlanStep(step(model.MapModeBroadcast),
		args("a", []any{1, 2, 3}, "k", "fixed", "b", []any{"x", "y"}, "c", []any{true, false}))
	if err != nil {
		t.Fatalf("PlanStep: %v", err)
	}
	if plan.Len() != 12 {
		t.Fatalf("Len = %d, want 12", plan.Len())
	}
	last := plan.Invocations[11].Args
	if last["a"] != 3 || last["b"] != "y" || last["c"] != false || last["k"] != "fixed" {
		t.Errorf("last invocation = %v", last)
	}
}

func TestPlan_BroadcastExplicitAxesOrder(t *testing.T) {
	// Explicit axes set the nesting: b is outermost here.
	plan, err := PlanStep(step(model.MapModeBroadcast, "b", "a"),
		args("a", []any{1, 2}, "b", []any{"x", "y"}))
	if err != nil {
		t.Fatalf("PlanStep: %v", err)
	}
	want := []map[string]any{
		{"a": 1, "b": "x"},
		{"a": 2, "b": "x"},
		{"a": 1, "b": "y"},
		{"a": 2, "b": "y"},
	}
	if got := argList(plan); !reflect.DeepEqual(got, want) {
		t.Errorf("invocations = %v, want %v", got, want)
	}
}

func TestPlan_BroadcastEmptyAxis(t *testing.T) {
	plan, err := PlanStep(step(model.MapModeBroadcast), args("a", []any{1, 2}, "b", []any{}))
	if err != nil {
		t.Fatalf("PlanStep: %v", err)
	}
	if plan.Len() != 0 || !plan.Fanout {
		t.Errorf("plan = %+v, want empty fan-out", plan)
	}
}

func TestPlan_Zip(t *testing.T) {
	plan, err := PlanStep(step(model.MapModeZip),
		args("name", []any{"a", "b", "c"}, "age", []any{1, 2, 3}, "world", "earth"))
	if err != nil {
		t.Fatalf("PlanStep: %v", err)
	}
	want := []map[string]any{
		{"name": "a", "age": 1, "world": "earth"},
		{"name": "b", "age": 2, "world": "earth"},
		{"name": "c", "age": 3, "world": "earth"},
	}
	if got := argList(plan); !reflect.DeepEqual(got, want) {
		t.Errorf("invocations = %v, want %v", got, want)
	}
}

func TestPlan_ZipLengthMismatch(t *testing.T) {
	_, err := PlanStep(step(model.MapModeZip), args("name", []any{"a", "b", "c"}, "age", []any{1, 2}))
	var sme *model.ShapeMismatchError
	if !errors.As(err, &sme) {
		t.Fatalf("error = %v, want ShapeMismatchError", err)
	}
	want := []model.ArgLength{{Arg: "name", Length: 3}, {Arg: "age", Length: 2}}
	if !reflect.DeepEqual(sme.Lengths, want) {
		t.Errorf("Lengths = %v, want %v", sme.Lengths, want)
	}
	if sme.Step != "s" || sme.Mode != model.MapModeZip {
		t.Errorf("error = %+v", sme)
	}
}

func TestPlan_ZipAndBroadcastNeedASequence(t *testing.T) {
	for _, mode := range []model.MapMode{model.MapModeZip, model.MapModeBroadcast} {
		_, err := PlanStep(step(mode), args("x", 1, "y", "two"))
		var sme *model.ShapeMismatchError
		if !errors.As(err, &sme) {
			t.Errorf("%s: error = %v, want ShapeMismatchError", mode, err)
		}
	}
}

func TestPlan_MapSingleSequence(t *testing.T) {
	plan, err := PlanStep(step(model.MapModeMap), args("url", []any{"a", "b", "c"}, "timeout", 5))
	if err != nil {
		t.Fatalf("PlanStep: %v", err)
	}
	if plan.Len() != 3 || !plan.Fanout {
		t.Fatalf("plan = %+v", plan)
	}
	for i, inv := range plan.Invocations {
		if inv.Args["timeout"] != 5 {
			t.Errorf("invocation %d timeout = %v", i, inv.Args["timeout"])
		}
	}
	if plan.Invocations[2].Args["url"] != "c" {
		t.Errorf("third url = %v", plan.Invocations[2].Args["url"])
	}
}

func TestPlan_MapAmbiguous(t *testing.T) {
	_, err := PlanStep(step(model.MapModeMap), args("a", []any{1}, "b", []any{2}))
	var sae *model.ShapeAmbiguityError
	if !errors.As(err, &sae) {
		t.Fatalf("error = %v, want ShapeAmbiguityError", err)
	}
	if !reflect.DeepEqual(sae.Args, []string{"a", "b"}) {
		t.Errorf("Args = %v", sae.Args)
	}
}

func TestPlan_MapExplicitAxis(t *testing.T) {
	plan, err := PlanStep(step(model.MapModeMap, "b"), args("a", []any{1, 2}, "b", []any{"x", "y", "z"}))
	if err != nil {
		t.Fatalf("PlanStep: %v", err)
	}
	if plan.Len() != 3 {
		t.Fatalf("Len = %d, want 3", plan.Len())
	}
	// The non-axis sequence is passed whole.
	if !reflect.DeepEqual(plan.Invocations[0].Args["a"], []any{1, 2}) {
		t.Errorf("a = %v", plan.Invocations[0].Args["a"])
	}
}

func TestPlan_MapExplicitAxisNotSequence(t *testing.T) {
	_, err := PlanStep(step(model.MapModeMap, "a"), args("a", 3))
	var sme *model.ShapeMismatchError
	if !errors.As(err, &sme) {
		t.Fatalf("error = %v, want ShapeMismatchError", err)
	}
}

func TestPlan_MapNoSequenceIsAggregate(t *testing.T) {
	plan, err := PlanStep(step(model.MapModeMap), args("a", 1, "b", "x"))
	if err != nil {
		t.Fatalf("PlanStep: %v", err)
	}
	if plan.Len() != 1 || plan.Fanout {
		t.Errorf("plan = %+v, want one aggregate invocation", plan)
	}
}

func TestPlan_None(t *testing.T) {
	items := []any{1, &model.Failure{Index: 1}, 3}
	plan, err := PlanStep(step(model.MapModeNone), args("items", items, "n", 2))
	if err != nil {
		t.Fatalf("PlanStep: %v", err)
	}
	if plan.Len() != 1 || plan.Fanout {
		t.Fatalf("plan = %+v", plan)
	}
	inv := plan.Invocations[0]
	if inv.Upstream != nil {
		t.Error("aggregate invocation must not be marked by upstream failures")
	}
	if !reflect.DeepEqual(inv.Args["items"], items) {
		t.Errorf("items = %v, want whole list", inv.Args["items"])
	}
}

func TestPlan_UpstreamFailureMarker(t *testing.T) {
	marker := &model.Failure{Index: 1, Error: "boom", Attempts: 3}
	plan, err := PlanStep(step(model.MapModeMap), args("v", []any{"a", marker, "c"}))
	if err != nil {
		t.Fatalf("PlanStep: %v", err)
	}
	for i, inv := range plan.Invocations {
		if (i == 1) != (inv.Upstream != nil) {
			t.Errorf("invocation %d Upstream = %v", i, inv.Upstream)
		}
	}
	if plan.Invocations[1].Upstream != marker {
		t.Error("Upstream should point at the marker")
	}
}

func TestPlan_InvocationArgsAreIndependent(t *testing.T) {
	plan, err := PlanStep(step(model.MapModeMap), args("v", []any{1, 2}))
	if err != nil {
		t.Fatalf("PlanStep: %v", err)
	}
	plan.Invocations[0].Args["v"] = 99
	if plan.Invocations[1].Args["v"] != 2 {
		t.Error("invocations share an argument map")
	}
}

type ids []int64

func TestToSequence(t *testing.T) {
	tests := []struct {
		v    any
		want bool
	}{
		{[]any{1}, true},
		{[]string{"a"}, true},
		{[]int{1}, true},
		{[]float64{1.5}, true},
		{[]int64{1, 2}, true},
		{[]bool{true}, true},
		{[]float32{0.5}, true},
		{[][]any{{1}, {2}}, true},
		{ids{7}, true},
		{[2]int{1, 2}, true},
		{[]byte("ab"), false},
		{"abc", false},
		{map[string]any{"a": 1}, false},
		{nil, false},
		{3, false},
	}
	for _, tt := range tests {
		if _, ok := toSequence(tt.v); ok != tt.want {
			t.Errorf("toSequence(%#v) = %v, want %v", tt.v, ok, tt.want)
		}
	}
}

func TestPlan_TypedSlices(t *testing.T) {
	plan, err := PlanStep(step(model.MapModeZip), args("id", []int64{1, 2, 3}, "flag", []bool{true, false, true}))
	if err != nil {
		t.Fatalf("PlanStep: %v", err)
	}
	if plan.Len() != 3 || !plan.Fanout {
		t.Fatalf("plan = %+v", plan)
	}
	want := []map[string]any{
		{"id": int64(1), "flag": true},
		{"id": int64(2), "flag": false},
		{"id": int64(3), "flag": true},
	}
	if got := argList(plan); !reflect.DeepEqual(got, want) {
		t.Errorf("args = %v, want %v", got, want)
	}

	plan, err = PlanStep(step(model.MapModeMap), args("id", ids{4, 5}))
	if err != nil {
		t.Fatalf("PlanStep named slice: %v", err)
	}
	if plan.Len() != 2 || plan.Invocations[1].Args["id"] != int64(5) {
		t.Errorf("named slice plan = %+v", plan)
	}
}
