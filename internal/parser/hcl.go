package parser

import (
	"fmt"
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/me/goflow/pkg/model"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/gocty"
)

// hclRoot is the top-level shape of an HCL workflow document.
type hclRoot struct {
	APIVersion    string         `hcl:"api_version,optional"`
	Kind          string         `hcl:"kind,optional"`
	DefaultModule string         `hcl:"default_module,optional"`
	Metadata      *hclMetadata   `hcl:"metadata,block"`
	Params        []*hclParam    `hcl:"param,block"`
	Steps         []*hclStep     `hcl:"step,block"`
	Artifacts     []*hclArtifact `hcl:"artifact,block"`
}

type hclMetadata struct {
	Name        string            `hcl:"name"`
	Version     string            `hcl:"version,optional"`
	Description string            `hcl:"description,optional"`
	Labels      map[string]string `hcl:"labels,optional"`
}

type hclParam struct {
	Name        string         `hcl:"name,label"`
	Type        string         `hcl:"type,optional"`
	Description string         `hcl:"description,optional"`
	Value       hcl.Expression `hcl:"value,optional"`
}

type hclStep struct {
	Name        string      `hcl:"name,label"`
	Func        string      `hcl:"func,optional"`
	Description string      `hcl:"description,optional"`
	Produces    []string    `hcl:"produces,optional"`
	Parameters  *hclArgs    `hcl:"parameters,block"`
	Inputs      *hclArgs    `hcl:"inputs,block"`
	Options     *hclOptions `hcl:"options,block"`
}

type hclArgs struct {
	Body hcl.Body `hcl:",remain"`
}

type hclOptions struct {
	MapMode string    `hcl:"map_mode,optional"`
	Axes    []string  `hcl:"axes,optional"`
	Retry   *hclRetry `hcl:"retry,block"`
}

type hclRetry struct {
	MaxAttempts *int   `hcl:"max_attempts,optional"`
	Backoff     string `hcl:"backoff,optional"`
	Initial     string `hcl:"initial,optional"`
	Max         string `hcl:"max,optional"`
}

type hclArtifact struct {
	Name string `hcl:"name,label"`
	From string `hcl:"from"`
}

// ParseHCL parses an HCL workflow document. References may be written as
// quoted strings ("params.x") or as bare traversals (params.x).
func (p *Parser) ParseHCL(data []byte, filename string) (*model.WorkflowDocument, error) {
	file, diags := hclparse.NewParser().ParseHCL(data, filename)
	if diags.HasErrors() {
		return nil, &model.SchemaError{Message: fmt.Sprintf("HCL parse error: %s", diags.Error())}
	}

	var root hclRoot
	if diags := gohcl.DecodeBody(file.Body, nil, &root); diags.HasErrors() {
		return nil, &model.SchemaError{Message: fmt.Sprintf("HCL decode error: %s", diags.Error())}
	}

	doc := &model.WorkflowDocument{
		APIVersion:    root.APIVersion,
		Kind:          root.Kind,
		DefaultModule: root.DefaultModule,
		Parameters:    make(map[string]*model.ParameterSpec),
	}
	if root.Metadata != nil {
		doc.Metadata = model.Metadata{
			Name:        root.Metadata.Name,
			Version:     root.Metadata.Version,
			Description: root.Metadata.Description,
			Labels:      root.Metadata.Labels,
		}
	}

	for _, prm := range root.Params {
		field := "param." + prm.Name
		if _, dup := doc.Parameters[prm.Name]; dup {
			return nil, &model.SchemaError{Field: field, Message: "duplicate parameter name"}
		}
		spec := &model.ParameterSpec{Name: prm.Name, Type: prm.Type, Description: prm.Description}
		if prm.Value != nil {
			v, diags := prm.Value.Value(nil)
			if diags.HasErrors() {
				return nil, &model.SchemaError{Field: field + ".value", Message: diags.Error()}
			}
			if !v.IsNull() {
				native, err := ctyToNative(v)
				if err != nil {
					return nil, &model.SchemaError{Field: field + ".value", Message: err.Error()}
				}
				spec.Value = native
				spec.HasValue = true
			}
		}
		doc.Parameters[prm.Name] = spec
	}

	for _, s := range root.Steps {
		step, err := hclStepSpec(s, doc.DefaultModule)
		if err != nil {
			return nil, err
		}
		doc.Steps = append(doc.Steps, step)
	}

	for _, a := range root.Artifacts {
		expr, err := model.ParseExpression(a.From)
		if err != nil {
			return nil, &model.SchemaError{Field: "artifact." + a.Name + ".from", Message: err.Error()}
		}
		doc.Artifacts = append(doc.Artifacts, model.ArtifactSpec{Name: a.Name, Expr: expr})
	}

	p.logger.Debug("parsed hcl workflow",
		"file", filename,
		"name", doc.Metadata.Name,
		"params", len(doc.Parameters),
		"steps", len(doc.Steps))
	return doc, nil
}

func hclStepSpec(s *hclStep, defaultModule string) (*model.StepSpec, error) {
	prefix := "step." + s.Name
	step := &model.StepSpec{
		Name:        s.Name,
		Description: s.Description,
		Func:        resolveFunc(s.Func, defaultModule, s.Name),
		Produces:    s.Produces,
		Options: model.OptionsSpec{
			MapMode: model.MapModeMap,
			Retry:   model.DefaultRetryPolicy(),
		},
	}
	if len(step.Produces) == 0 {
		step.Produces = []string{s.Name}
	}
	if o := s.Options; o != nil {
		if o.MapMode != "" {
			step.Options.MapMode = model.MapMode(o.MapMode)
		}
		step.Options.Axes = o.Axes
		if r := o.Retry; r != nil {
			if r.MaxAttempts != nil {
				step.Options.Retry.MaxAttempts = *r.MaxAttempts
			}
			spec, err := parseBackoff(prefix+".options.retry", r.Backoff, r.Initial, r.Max)
			if err != nil {
				return nil, err
			}
			step.Options.Retry.Backoff = spec
		}
	}

	var bindings []positioned
	for _, section := range []struct {
		source model.BindingSource
		args   *hclArgs
	}{
		{model.SourceParameters, s.Parameters},
		{model.SourceInputs, s.Inputs},
	} {
		if section.args == nil || section.args.Body == nil {
			continue
		}
		field := prefix + "." + string(section.source)
		attrs, diags := section.args.Body.JustAttributes()
		if diags.HasErrors() {
			return nil, &model.SchemaError{Field: field, Message: diags.Error()}
		}
		for name, attr := range attrs {
			value, err := hclArgValue(attr.Expr)
			if err != nil {
				return nil, &model.SchemaError{Field: field + "." + name, Message: err.Error()}
			}
			b, err := newBinding(field+"."+name, name, section.source, value)
			if err != nil {
				return nil, err
			}
			bindings = append(bindings, positioned{
				binding: b,
				line:    attr.NameRange.Start.Line,
				column:  attr.NameRange.Start.Column,
			})
		}
	}
	step.Bindings = sortBindings(bindings)
	return step, nil
}

// hclArgValue evaluates an argument expression without variables. A bare
// traversal such as steps.a.produces.b is returned in its dotted text form.
func hclArgValue(expr hcl.Expression) (any, error) {
	if trav, diags := hcl.AbsTraversalForExpr(expr); !diags.HasErrors() {
		switch root := trav.RootName(); root {
		case string(model.NamespaceParams), string(model.NamespaceSteps):
		default:
			return nil, fmt.Errorf("unknown reference %q: references start with params. or steps.; quote literal strings", root)
		}
		s, err := traversalString(trav)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
	v, diags := expr.Value(nil)
	if diags.HasErrors() {
		return nil, diags
	}
	return ctyToNative(v)
}

func traversalString(trav hcl.Traversal) (string, error) {
	var sb strings.Builder
	sb.WriteString(trav.RootName())
	for _, step := range trav[1:] {
		attr, ok := step.(hcl.TraverseAttr)
		if !ok {
			return "", fmt.Errorf("only attribute access is allowed in references")
		}
		sb.WriteString(".")
		sb.WriteString(attr.Name)
	}
	return sb.String(), nil
}

// ctyToNative converts a cty.Value into plain Go values matching what the
// YAML loader produces: whole numbers become int, other numbers float64.
func ctyToNative(v cty.Value) (any, error) {
	if v.IsNull() || !v.IsKnown() {
		return nil, nil
	}
	ty := v.Type()
	switch {
	case ty == cty.String:
		return v.AsString(), nil
	case ty == cty.Number:
		bf := v.AsBigFloat()
		if bf.IsInt() {
			if i, acc := bf.Int64(); acc == 0 {
				return int(i), nil
			}
		}
		var f float64
		if err := gocty.FromCtyValue(v, &f); err != nil {
			return nil, fmt.Errorf("convert number: %w", err)
		}
		return f, nil
	case ty == cty.Bool:
		return v.True(), nil
	case ty.IsListType() || ty.IsTupleType() || ty.IsSetType():
		out := make([]any, 0, v.LengthInt())
		for it := v.ElementIterator(); it.Next(); {
			_, ev := it.Element()
			native, err := ctyToNative(ev)
			if err != nil {
				return nil, err
			}
			out = append(out, native)
		}
		return out, nil
	case ty.IsObjectType() || ty.IsMapType():
		out := make(map[string]any, v.LengthInt())
		for it := v.ElementIterator(); it.Next(); {
			k, ev := it.Element()
			native, err := ctyToNative(ev)
			if err != nil {
				return nil, fmt.Errorf("in attribute %q: %w", k.AsString(), err)
			}
			out[k.AsString()] = native
		}
		return out, nil
	}
	return nil, fmt.Errorf("unsupported value type %s", ty.FriendlyName())
}
