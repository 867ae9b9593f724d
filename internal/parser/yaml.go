package parser

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/me/goflow/pkg/model"
	"gopkg.in/yaml.v3"
)

type yamlDocument struct {
	APIVersion string       `yaml:"apiVersion"`
	Kind       string       `yaml:"kind"`
	Metadata   yamlMetadata `yaml:"metadata"`
	Spec       yamlSpec     `yaml:"spec"`
}

type yamlMetadata struct {
	Name        string            `yaml:"name"`
	Version     string            `yaml:"version"`
	Description string            `yaml:"description"`
	Labels      map[string]string `yaml:"labels"`
}

type yamlSpec struct {
	DefaultModule string     `yaml:"default_module"`
	Params        yaml.Node  `yaml:"params"`
	Steps         []yamlStep `yaml:"steps"`
	Artifacts     yaml.Node  `yaml:"artifacts"`
}

type yamlStep struct {
	Name        string      `yaml:"name"`
	Func        string      `yaml:"func"`
	Description string      `yaml:"description"`
	Parameters  yaml.Node   `yaml:"parameters"`
	Inputs      yaml.Node   `yaml:"inputs"`
	Produces    yaml.Node   `yaml:"produces"`
	Options     yamlOptions `yaml:"options"`
}

type yamlOptions struct {
	MapMode string     `yaml:"map_mode"`
	Axes    []string   `yaml:"axes"`
	Retry   *yamlRetry `yaml:"retry"`
}

type yamlRetry struct {
	MaxAttempts *int         `yaml:"max_attempts"`
	Backoff     *yamlBackoff `yaml:"backoff"`
}

type yamlBackoff struct {
	Strategy string `yaml:"strategy"`
	Initial  string `yaml:"initial"`
	Max      string `yaml:"max"`
}

// parameterKeys are the keys of the long parameter form. A mapping made only
// of these keys is read as a ParameterSpec; any other value is a literal.
var parameterKeys = map[string]bool{"type": true, "description": true, "value": true}

// ParseYAML parses a YAML workflow document. Unknown fields are rejected.
func (p *Parser) ParseYAML(data []byte) (*model.WorkflowDocument, error) {
	var raw yamlDocument
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&raw); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, &model.SchemaError{Message: "empty workflow document"}
		}
		return nil, &model.SchemaError{Message: fmt.Sprintf("YAML parse error: %v", err)}
	}

	doc := &model.WorkflowDocument{
		APIVersion: raw.APIVersion,
		Kind:       raw.Kind,
		Metadata: model.Metadata{
			Name:        raw.Metadata.Name,
			Version:     raw.Metadata.Version,
			Description: raw.Metadata.Description,
			Labels:      raw.Metadata.Labels,
		},
		DefaultModule: raw.Spec.DefaultModule,
		Parameters:    make(map[string]*model.ParameterSpec),
	}

	if err := p.yamlParams(&raw.Spec.Params, doc); err != nil {
		return nil, err
	}
	for i := range raw.Spec.Steps {
		step, err := p.yamlStep(i, &raw.Spec.Steps[i], doc.DefaultModule)
		if err != nil {
			return nil, err
		}
		doc.Steps = append(doc.Steps, step)
	}
	if err := yamlArtifacts(&raw.Spec.Artifacts, doc); err != nil {
		return nil, err
	}

	p.logger.Debug("parsed yaml workflow",
		"name", doc.Metadata.Name,
		"params", len(doc.Parameters),
		"steps", len(doc.Steps),
		"artifacts", len(doc.Artifacts))
	return doc, nil
}

// mappingPairs returns the key/value node pairs of a mapping node.
// A zero node (absent field) or an explicit null yields no pairs.
func mappingPairs(field string, n *yaml.Node) ([][2]*yaml.Node, error) {
	if n == nil || n.Kind == 0 || (n.Kind == yaml.ScalarNode && n.Tag == "!!null") {
		return nil, nil
	}
	if n.Kind != yaml.MappingNode {
		return nil, &model.SchemaError{Field: field, Message: "must be a mapping"}
	}
	pairs := make([][2]*yaml.Node, 0, len(n.Content)/2)
	for i := 0; i+1 < len(n.Content); i += 2 {
		pairs = append(pairs, [2]*yaml.Node{n.Content[i], n.Content[i+1]})
	}
	return pairs, nil
}

func (p *Parser) yamlParams(n *yaml.Node, doc *model.WorkflowDocument) error {
	pairs, err := mappingPairs("spec.params", n)
	if err != nil {
		return err
	}
	for _, kv := range pairs {
		name := kv[0].Value
		field := "spec.params." + name
		if _, dup := doc.Parameters[name]; dup {
			return &model.SchemaError{Field: field, Message: "duplicate parameter name"}
		}
		spec := &model.ParameterSpec{Name: name}
		if isParameterSpecNode(kv[1]) {
			var long struct {
				Type        string    `yaml:"type"`
				Description string    `yaml:"description"`
				Value       yaml.Node `yaml:"value"`
			}
			if err := kv[1].Decode(&long); err != nil {
				return &model.SchemaError{Field: field, Message: err.Error()}
			}
			spec.Type = long.Type
			spec.Description = long.Description
			if long.Value.Kind != 0 && long.Value.Tag != "!!null" {
				if err := long.Value.Decode(&spec.Value); err != nil {
					return &model.SchemaError{Field: field + ".value", Message: err.Error()}
				}
				spec.HasValue = true
			}
		} else if kv[1].Tag != "!!null" {
			if err := kv[1].Decode(&spec.Value); err != nil {
				return &model.SchemaError{Field: field, Message: err.Error()}
			}
			spec.HasValue = true
		}
		doc.Parameters[name] = spec
	}
	return nil
}

func isParameterSpecNode(n *yaml.Node) bool {
	if n.Kind != yaml.MappingNode || len(n.Content) == 0 {
		return false
	}
	for i := 0; i < len(n.Content); i += 2 {
		if !parameterKeys[n.Content[i].Value] {
			return false
		}
	}
	return true
}

func (p *Parser) yamlStep(idx int, raw *yamlStep, defaultModule string) (*model.StepSpec, error) {
	prefix := fmt.Sprintf("spec.steps[%d]", idx)
	step := &model.StepSpec{
		Name:        raw.Name,
		Description: raw.Description,
		Func:        resolveFunc(raw.Func, defaultModule, raw.Name),
		Options: model.OptionsSpec{
			MapMode: model.MapMode(raw.Options.MapMode),
			Axes:    raw.Options.Axes,
			Retry:   model.DefaultRetryPolicy(),
		},
	}
	if step.Options.MapMode == "" {
		step.Options.MapMode = model.MapModeMap
	}
	if r := raw.Options.Retry; r != nil {
		if r.MaxAttempts != nil {
			step.Options.Retry.MaxAttempts = *r.MaxAttempts
		}
		if r.Backoff != nil {
			spec, err := parseBackoff(prefix+".options.retry.backoff", r.Backoff.Strategy, r.Backoff.Initial, r.Backoff.Max)
			if err != nil {
				return nil, err
			}
			step.Options.Retry.Backoff = spec
		}
	}

	produces, err := yamlProduces(prefix+".produces", &raw.Produces)
	if err != nil {
		return nil, err
	}
	if len(produces) == 0 {
		produces = []string{raw.Name}
	}
	step.Produces = produces

	var bindings []positioned
	for _, section := range []struct {
		source model.BindingSource
		node   *yaml.Node
	}{
		{model.SourceParameters, &raw.Parameters},
		{model.SourceInputs, &raw.Inputs},
	} {
		field := prefix + "." + string(section.source)
		pairs, err := mappingPairs(field, section.node)
		if err != nil {
			return nil, err
		}
		for _, kv := range pairs {
			var value any
			if err := kv[1].Decode(&value); err != nil {
				return nil, &model.SchemaError{Field: field + "." + kv[0].Value, Message: err.Error()}
			}
			b, err := newBinding(field+"."+kv[0].Value, kv[0].Value, section.source, value)
			if err != nil {
				return nil, err
			}
			bindings = append(bindings, positioned{binding: b, line: kv[0].Line, column: kv[0].Column})
		}
	}
	step.Bindings = sortBindings(bindings)
	return step, nil
}

// yamlProduces accepts a single produce name or a list of names.
func yamlProduces(field string, n *yaml.Node) ([]string, error) {
	switch n.Kind {
	case 0:
		return nil, nil
	case yaml.ScalarNode:
		if n.Tag == "!!null" || n.Value == "" {
			return nil, nil
		}
		return []string{n.Value}, nil
	case yaml.SequenceNode:
		var names []string
		if err := n.Decode(&names); err != nil {
			return nil, &model.SchemaError{Field: field, Message: err.Error()}
		}
		return names, nil
	}
	return nil, &model.SchemaError{Field: field, Message: "must be a name or a list of names"}
}

func yamlArtifacts(n *yaml.Node, doc *model.WorkflowDocument) error {
	pairs, err := mappingPairs("spec.artifacts", n)
	if err != nil {
		return err
	}
	for _, kv := range pairs {
		field := "spec.artifacts." + kv[0].Value
		if kv[1].Kind != yaml.ScalarNode {
			return &model.SchemaError{Field: field, Message: "must be a reference string"}
		}
		expr, err := model.ParseExpression(kv[1].Value)
		if err != nil {
			return &model.SchemaError{Field: field, Message: err.Error()}
		}
		doc.Artifacts = append(doc.Artifacts, model.ArtifactSpec{Name: kv[0].Value, Expr: expr})
	}
	return nil
}
