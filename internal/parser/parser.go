package parser

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/me/goflow/pkg/model"
)

// Parser converts workflow documents (YAML or HCL) into a model.WorkflowDocument.
type Parser struct {
	logger *slog.Logger
}

// New creates a Parser with the given logger.
func New(logger *slog.Logger) *Parser {
	return &Parser{logger: logger.With("component", "parser")}
}

// ParseFile reads a workflow document and dispatches on its extension.
// .hcl files use the HCL loader; everything else is treated as YAML.
func (p *Parser) ParseFile(path string) (*model.WorkflowDocument, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read workflow file: %w", err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".hcl":
		return p.ParseHCL(data, path)
	default:
		return p.ParseYAML(data)
	}
}

// positioned is a binding together with its source position, used to
// restore declaration order across the parameters and inputs sections.
type positioned struct {
	binding model.Binding
	line    int
	column  int
}

// sortBindings orders bindings by source position.
func sortBindings(ps []positioned) []model.Binding {
	sort.SliceStable(ps, func(i, j int) bool {
		if ps[i].line != ps[j].line {
			return ps[i].line < ps[j].line
		}
		return ps[i].column < ps[j].column
	})
	out := make([]model.Binding, len(ps))
	for i, p := range ps {
		out[i] = p.binding
	}
	return out
}

// newBinding classifies a decoded value. Strings written in a reference
// namespace become expressions; in the inputs section anything else is an error.
func newBinding(field, arg string, source model.BindingSource, value any) (model.Binding, error) {
	b := model.Binding{Arg: arg, Source: source}
	if s, ok := value.(string); ok && model.LooksLikeExpression(s) {
		expr, err := model.ParseExpression(s)
		if err != nil {
			return b, &model.SchemaError{Field: field, Message: err.Error()}
		}
		b.Expr = &expr
		return b, nil
	}
	if source == model.SourceInputs {
		return b, &model.SchemaError{
			Field:   field,
			Message: fmt.Sprintf("inputs must be references (params.<name> or steps.<step>.produces.<name>), got %v", value),
		}
	}
	b.Literal = value
	return b, nil
}

// resolveFunc applies default-module inheritance to a step's function reference.
func resolveFunc(fn, defaultModule, stepName string) string {
	switch {
	case fn == "" && defaultModule != "":
		return defaultModule + "." + stepName
	case fn != "" && !strings.Contains(fn, ".") && defaultModule != "":
		return defaultModule + "." + fn
	}
	return fn
}

// parseBackoff builds a BackoffSpec from its textual fields.
func parseBackoff(field, strategy, initial, max string) (*model.BackoffSpec, error) {
	if strategy == "" && initial == "" && max == "" {
		return nil, nil
	}
	spec := &model.BackoffSpec{Strategy: strategy}
	if spec.Strategy == "" {
		spec.Strategy = model.BackoffExponential
	}
	if initial != "" {
		d, err := time.ParseDuration(initial)
		if err != nil {
			return nil, &model.SchemaError{Field: field + ".initial", Message: err.Error()}
		}
		spec.Initial = d
	}
	if max != "" {
		d, err := time.ParseDuration(max)
		if err != nil {
			return nil, &model.SchemaError{Field: field + ".max", Message: err.Error()}
		}
		spec.Max = d
	}
	return spec, nil
}
