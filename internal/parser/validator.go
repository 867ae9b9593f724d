package parser

import (
	"fmt"
	"log/slog"
	"regexp"

	"github.com/me/goflow/pkg/model"
)

var (
	dnsLabelRe   = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]{0,61}[a-z0-9])?$`)
	apiVersionRe = regexp.MustCompile(`^[a-z0-9.-]+/v[0-9]+((alpha|beta)[0-9]+)?$`)
	stepNameRe   = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_-]*$`)
)

// KindPipeline is the only document kind accepted.
const KindPipeline = "Pipeline"

// Validator performs semantic validation on a parsed WorkflowDocument.
type Validator struct {
	logger *slog.Logger
}

// NewValidator creates a Validator with the given logger.
func NewValidator(logger *slog.Logger) *Validator {
	return &Validator{logger: logger.With("component", "validator")}
}

// Validate checks semantic correctness of a WorkflowDocument.
// Returns nil if valid, or model.SchemaErrors listing every problem found.
func (v *Validator) Validate(doc *model.WorkflowDocument) error {
	var errs model.SchemaErrors

	errs = append(errs, v.validateHeader(doc)...)
	errs = append(errs, v.validateParameters(doc)...)
	errs = append(errs, v.validateSteps(doc)...)
	errs = append(errs, v.validateReferences(doc)...)
	errs = append(errs, v.validateArtifacts(doc)...)

	if len(errs) == 0 {
		return nil
	}
	v.logger.Debug("workflow validation failed", "name", doc.Metadata.Name, "errors", len(errs))
	return errs
}

func (v *Validator) validateHeader(doc *model.WorkflowDocument) model.SchemaErrors {
	var errs model.SchemaErrors
	switch {
	case doc.Metadata.Name == "":
		errs = append(errs, &model.SchemaError{Field: "metadata.name", Message: "metadata.name is required"})
	case !dnsLabelRe.MatchString(doc.Metadata.Name):
		errs = append(errs, &model.SchemaError{
			Field:   "metadata.name",
			Message: fmt.Sprintf("%q must be lowercase alphanumeric or '-', at most 63 characters", doc.Metadata.Name),
		})
	}
	if doc.Kind != "" && doc.Kind != KindPipeline {
		errs = append(errs, &model.SchemaError{
			Field:   "kind",
			Message: fmt.Sprintf("unsupported kind %q; expected %s", doc.Kind, KindPipeline),
		})
	}
	if doc.APIVersion != "" && !apiVersionRe.MatchString(doc.APIVersion) {
		errs = append(errs, &model.SchemaError{
			Field:   "apiVersion",
			Message: fmt.Sprintf("%q must look like <group>/v<N>", doc.APIVersion),
		})
	}
	if len(doc.Steps) == 0 {
		errs = append(errs, &model.SchemaError{Field: "steps", Message: "workflow must declare at least one step"})
	}
	return errs
}

func (v *Validator) validateParameters(doc *model.WorkflowDocument) model.SchemaErrors {
	var errs model.SchemaErrors
	for _, name := range sortedKeys(doc.Parameters) {
		p := doc.Parameters[name]
		field := "params." + name
		if p.Type == "" {
			continue
		}
		if !knownParamType(p.Type) {
			errs = append(errs, &model.SchemaError{Field: field + ".type", Message: fmt.Sprintf("unknown parameter type %q", p.Type)})
			continue
		}
		if p.HasValue && !valueMatchesType(p.Type, p.Value) {
			errs = append(errs, &model.SchemaError{
				Field:   field + ".value",
				Message: fmt.Sprintf("value %v is not of type %s", p.Value, p.Type),
			})
		}
	}
	return errs
}

func (v *Validator) validateSteps(doc *model.WorkflowDocument) model.SchemaErrors {
	var errs model.SchemaErrors
	seen := make(map[string]bool)
	for i, s := range doc.Steps {
		field := fmt.Sprintf("steps[%d]", i)
		if s.Name != "" {
			field = "steps." + s.Name
		}
		switch {
		case s.Name == "":
			errs = append(errs, &model.SchemaError{Field: field + ".name", Message: "step name is required"})
		case !stepNameRe.MatchString(s.Name):
			errs = append(errs, &model.SchemaError{Field: field + ".name", Message: fmt.Sprintf("invalid step name %q", s.Name)})
		case seen[s.Name]:
			errs = append(errs, &model.SchemaError{Field: field + ".name", Message: fmt.Sprintf("duplicate step name %q", s.Name)})
		}
		seen[s.Name] = true

		if s.Func == "" {
			errs = append(errs, &model.SchemaError{
				Field:   field + ".func",
				Message: "step has no function reference and the document has no default_module",
			})
		}

		produces := make(map[string]bool)
		for _, p := range s.Produces {
			if produces[p] {
				errs = append(errs, &model.SchemaError{Field: field + ".produces", Message: fmt.Sprintf("duplicate produce name %q", p)})
			}
			produces[p] = true
		}

		bound := make(map[string]bool)
		for _, b := range s.Bindings {
			bfield := fmt.Sprintf("%s.%s.%s", field, b.Source, b.Arg)
			if bound[b.Arg] {
				errs = append(errs, &model.SchemaError{Field: bfield, Message: fmt.Sprintf("argument %q is bound more than once", b.Arg)})
			}
			bound[b.Arg] = true
			switch b.Source {
			case model.SourceInputs:
				if b.IsLiteral() {
					errs = append(errs, &model.SchemaError{Field: bfield, Message: "inputs must be references"})
				}
			case model.SourceParameters:
				if b.Expr != nil && b.Expr.Namespace != model.NamespaceParams {
					errs = append(errs, &model.SchemaError{
						Field:   bfield,
						Message: "step outputs must be bound under inputs, not parameters",
					})
				}
			}
		}

		errs = append(errs, validateOptions(field+".options", s, bound)...)
	}
	return errs
}

func validateOptions(field string, s *model.StepSpec, bound map[string]bool) model.SchemaErrors {
	var errs model.SchemaErrors
	opts := s.Options
	if !opts.MapMode.Valid() {
		errs = append(errs, &model.SchemaError{
			Field:   field + ".map_mode",
			Message: fmt.Sprintf("unknown map_mode %q; expected map, zip, broadcast or none", opts.MapMode),
		})
	}
	if opts.Retry.MaxAttempts < 1 {
		errs = append(errs, &model.SchemaError{
			Field:   field + ".retry.max_attempts",
			Message: fmt.Sprintf("max_attempts must be at least 1, got %d", opts.Retry.MaxAttempts),
		})
	}
	if bo := opts.Retry.Backoff; bo != nil {
		switch bo.Strategy {
		case model.BackoffConstant, model.BackoffLinear, model.BackoffExponential:
		default:
			errs = append(errs, &model.SchemaError{
				Field:   field + ".retry.backoff.strategy",
				Message: fmt.Sprintf("unknown backoff strategy %q", bo.Strategy),
			})
		}
		if bo.Initial < 0 || bo.Max < 0 {
			errs = append(errs, &model.SchemaError{Field: field + ".retry.backoff", Message: "durations must not be negative"})
		}
		if bo.Max > 0 && bo.Max < bo.Initial {
			errs = append(errs, &model.SchemaError{Field: field + ".retry.backoff.max", Message: "max must not be less than initial"})
		}
	}

	axes := make(map[string]bool)
	for _, a := range opts.Axes {
		switch {
		case !bound[a]:
			errs = append(errs, &model.SchemaError{
				Field:   field + ".axes",
				Message: fmt.Sprintf("axis %q is not a bound argument of step %q", a, s.Name),
			})
		case axes[a]:
			errs = append(errs, &model.SchemaError{Field: field + ".axes", Message: fmt.Sprintf("duplicate axis %q", a)})
		}
		axes[a] = true
	}
	switch opts.MapMode {
	case model.MapModeMap:
		if len(opts.Axes) > 1 {
			errs = append(errs, &model.SchemaError{
				Field:   field + ".axes",
				Message: "map mode takes at most one axis; use zip or broadcast for several",
			})
		}
	case model.MapModeNone:
		if len(opts.Axes) > 0 {
			errs = append(errs, &model.SchemaError{Field: field + ".axes", Message: "none mode takes no axes"})
		}
	}
	return errs
}

// validateReferences checks every steps.* reference in step bindings.
func (v *Validator) validateReferences(doc *model.WorkflowDocument) model.SchemaErrors {
	var errs model.SchemaErrors
	for _, s := range doc.Steps {
		for _, b := range s.Bindings {
			if b.Expr == nil || b.Expr.Namespace != model.NamespaceSteps {
				continue
			}
			field := fmt.Sprintf("steps.%s.%s.%s", s.Name, b.Source, b.Arg)
			if err := checkStepRef(doc, field, *b.Expr); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errs
}

func (v *Validator) validateArtifacts(doc *model.WorkflowDocument) model.SchemaErrors {
	var errs model.SchemaErrors
	seen := make(map[string]bool)
	for _, a := range doc.Artifacts {
		field := "artifacts." + a.Name
		if a.Name == "" {
			errs = append(errs, &model.SchemaError{Field: "artifacts", Message: "artifact name is required"})
			continue
		}
		if seen[a.Name] {
			errs = append(errs, &model.SchemaError{Field: field, Message: fmt.Sprintf("duplicate artifact %q", a.Name)})
		}
		seen[a.Name] = true
		if a.Expr.Namespace == model.NamespaceSteps {
			if err := checkStepRef(doc, field, a.Expr); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errs
}

func checkStepRef(doc *model.WorkflowDocument, field string, e model.Expression) *model.SchemaError {
	target := doc.Step(e.Step)
	if target == nil {
		return &model.SchemaError{Field: field, Message: fmt.Sprintf("%s references unknown step %q", e, e.Step)}
	}
	if !target.HasProduce(e.Produce) {
		return &model.SchemaError{
			Field:   field,
			Message: fmt.Sprintf("%s: step %q does not produce %q", e, e.Step, e.Produce),
		}
	}
	return nil
}

func knownParamType(t string) bool {
	switch t {
	case model.ParamTypeString, model.ParamTypeNumber, model.ParamTypeInteger,
		model.ParamTypeBoolean, model.ParamTypeList, model.ParamTypeObject:
		return true
	}
	return false
}

func valueMatchesType(t string, v any) bool {
	switch t {
	case model.ParamTypeString:
		_, ok := v.(string)
		return ok
	case model.ParamTypeInteger:
		switch n := v.(type) {
		case int, int64:
			return true
		case float64:
			return n == float64(int64(n))
		}
		return false
	case model.ParamTypeNumber:
		switch v.(type) {
		case int, int64, float64:
			return true
		}
		return false
	case model.ParamTypeBoolean:
		_, ok := v.(bool)
		return ok
	case model.ParamTypeList:
		_, ok := v.([]any)
		return ok
	case model.ParamTypeObject:
		_, ok := v.(map[string]any)
		return ok
	}
	return true
}
