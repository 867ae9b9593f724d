package expr

import "github.com/me/goflow/pkg/model"

// ResultLookup gives read access to the results published so far in a run.
type ResultLookup interface {
	Lookup(step string) (*model.ResolvedStepResult, bool)
}

// Results is a fixed set of step results, keyed by step name.
type Results map[string]*model.ResolvedStepResult

// Lookup implements ResultLookup.
func (r Results) Lookup(step string) (*model.ResolvedStepResult, bool) {
	res, ok := r[step]
	return res, ok
}

// Scope holds everything an expression may be resolved against.
// Neither map is mutated by resolution.
type Scope struct {
	// Params is the merged view of declared parameter values and run-time overrides.
	Params map[string]any

	// Declared lists every parameter name the document declares, with or
	// without a value. It lets the resolver tell an unknown name from one
	// whose value was expected as an override.
	Declared map[string]bool

	// Results gives access to upstream step outputs.
	Results ResultLookup
}

// NewScope builds the scope for a run of doc with the given overrides.
func NewScope(doc *model.WorkflowDocument, overrides map[string]any, results ResultLookup) *Scope {
	declared := make(map[string]bool, len(doc.Parameters))
	for name := range doc.Parameters {
		declared[name] = true
	}
	if results == nil {
		results = Results(nil)
	}
	return &Scope{
		Params:   BuildParams(doc, overrides),
		Declared: declared,
		Results:  results,
	}
}

// BuildParams merges declared parameter values with overrides. Overrides win,
// and may introduce names the document does not declare. Parameters declared
// without a value and not overridden are left out.
func BuildParams(doc *model.WorkflowDocument, overrides map[string]any) map[string]any {
	params := make(map[string]any, len(doc.Parameters)+len(overrides))
	for name, p := range doc.Parameters {
		if p.HasValue {
			params[name] = p.Value
		}
	}
	for name, v := range overrides {
		params[name] = v
	}
	return params
}
