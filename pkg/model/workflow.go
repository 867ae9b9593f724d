package model

import "time"

// Parameter type tags accepted on ParameterSpec.Type.
const (
	ParamTypeString  = "string"
	ParamTypeNumber  = "number"
	ParamTypeInteger = "integer"
	ParamTypeBoolean = "boolean"
	ParamTypeList    = "list"
	ParamTypeObject  = "object"
)

// WorkflowDocument is the typed in-memory form of a workflow definition.
// It is built once by a loader and never mutated afterwards.
type WorkflowDocument struct {
	APIVersion    string                    `json:"api_version,omitempty"`
	Kind          string                    `json:"kind,omitempty"`
	Metadata      Metadata                  `json:"metadata"`
	DefaultModule string                    `json:"default_module,omitempty"`
	Parameters    map[string]*ParameterSpec `json:"parameters"`
	Steps         []*StepSpec               `json:"steps"`
	Artifacts     []ArtifactSpec            `json:"artifacts,omitempty"`
}

// Metadata identifies a workflow document.
type Metadata struct {
	Name        string            `json:"name"`
	Version     string            `json:"version,omitempty"`
	Description string            `json:"description,omitempty"`
	Labels      map[string]string `json:"labels,omitempty"`
}

// ParameterSpec is a globally visible, named workflow parameter.
type ParameterSpec struct {
	Name        string `json:"name"`
	Type        string `json:"type,omitempty"`
	Description string `json:"description,omitempty"`
	Value       any    `json:"value,omitempty"`
	// HasValue is false when the value is expected from a run-time override.
	HasValue bool `json:"has_value"`
}

// BindingSource tells which step section an argument binding was declared in.
type BindingSource string

const (
	// SourceParameters holds direct parameter bindings: params.* expressions or literals.
	SourceParameters BindingSource = "parameters"
	// SourceInputs holds bindings that consume other steps' outputs.
	SourceInputs BindingSource = "inputs"
)

// Binding binds one function argument to either an expression or an inline literal.
type Binding struct {
	Arg     string        `json:"arg"`
	Source  BindingSource `json:"source"`
	Expr    *Expression   `json:"expr,omitempty"`
	Literal any           `json:"literal,omitempty"`
}

// IsLiteral reports whether the binding carries an inline literal value.
func (b Binding) IsLiteral() bool {
	return b.Expr == nil
}

// StepSpec declares one step of a workflow.
type StepSpec struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	// Func is the module-qualified function reference, already defaulted
	// from the document's default module by the loader.
	Func string `json:"func"`
	// Bindings are kept in source declaration order.
	Bindings []Binding   `json:"bindings"`
	Produces []string    `json:"produces"`
	Options  OptionsSpec `json:"options"`
}

// Binding returns the binding for arg, if any.
func (s *StepSpec) Binding(arg string) (Binding, bool) {
	for _, b := range s.Bindings {
		if b.Arg == arg {
			return b, true
		}
	}
	return Binding{}, false
}

// StepRefs returns the distinct step names this step reads outputs from,
// in binding order.
func (s *StepSpec) StepRefs() []string {
	var refs []string
	seen := make(map[string]bool)
	for _, b := range s.Bindings {
		if b.Expr == nil || b.Expr.Namespace != NamespaceSteps {
			continue
		}
		if !seen[b.Expr.Step] {
			seen[b.Expr.Step] = true
			refs = append(refs, b.Expr.Step)
		}
	}
	return refs
}

// HasProduce reports whether the step declares the given produce name.
func (s *StepSpec) HasProduce(name string) bool {
	for _, p := range s.Produces {
		if p == name {
			return true
		}
	}
	return false
}

// OptionsSpec controls fan-out and retry behavior of a step.
type OptionsSpec struct {
	MapMode MapMode     `json:"map_mode"`
	Axes    []string    `json:"axes,omitempty"`
	Retry   RetryPolicy `json:"retry"`
}

// RetryPolicy bounds how often a failing invocation is attempted.
type RetryPolicy struct {
	MaxAttempts int          `json:"max_attempts"`
	Backoff     *BackoffSpec `json:"backoff,omitempty"`
}

// DefaultRetryPolicy runs every invocation once.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 1}
}

// Backoff strategies accepted on BackoffSpec.Strategy.
const (
	BackoffConstant    = "constant"
	BackoffLinear      = "linear"
	BackoffExponential = "exponential"
)

// BackoffSpec overrides the engine's default delay between attempts.
type BackoffSpec struct {
	Strategy string        `json:"strategy"`
	Initial  time.Duration `json:"initial"`
	Max      time.Duration `json:"max,omitempty"`
}

// ArtifactSpec maps an output file name to the expression producing its content.
type ArtifactSpec struct {
	Name string     `json:"name"`
	Expr Expression `json:"expr"`
}

// Step returns the step with the given name, or nil.
func (d *WorkflowDocument) Step(name string) *StepSpec {
	for _, s := range d.Steps {
		if s.Name == name {
			return s
		}
	}
	return nil
}

// StepNames returns step names in document order.
func (d *WorkflowDocument) StepNames() []string {
	names := make([]string, len(d.Steps))
	for i, s := range d.Steps {
		names[i] = s.Name
	}
	return names
}
