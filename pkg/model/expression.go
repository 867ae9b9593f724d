package model

import (
	"fmt"
	"regexp"
	"strings"
)

// Namespace selects which lookup table an Expression is resolved against.
type Namespace string

const (
	NamespaceParams Namespace = "params"
	NamespaceSteps  Namespace = "steps"
)

// Expression is a reference to a global parameter (params.<name>) or
// to another step's named output (steps.<step>.produces.<name>).
type Expression struct {
	Namespace Namespace `json:"namespace"`
	Param     string    `json:"param,omitempty"`
	Step      string    `json:"step,omitempty"`
	Produce   string    `json:"produce,omitempty"`
}

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_-]*$`)

// ParseExpression parses the textual form of a reference.
func ParseExpression(s string) (Expression, error) {
	parts := strings.Split(strings.TrimSpace(s), ".")
	switch {
	case len(parts) == 2 && parts[0] == string(NamespaceParams):
		if !identRe.MatchString(parts[1]) {
			return Expression{}, fmt.Errorf("invalid parameter name %q in %q", parts[1], s)
		}
		return Expression{Namespace: NamespaceParams, Param: parts[1]}, nil
	case len(parts) == 4 && parts[0] == string(NamespaceSteps) && parts[2] == "produces":
		if !identRe.MatchString(parts[1]) {
			return Expression{}, fmt.Errorf("invalid step name %q in %q", parts[1], s)
		}
		if !identRe.MatchString(parts[3]) {
			return Expression{}, fmt.Errorf("invalid produce name %q in %q", parts[3], s)
		}
		return Expression{Namespace: NamespaceSteps, Step: parts[1], Produce: parts[3]}, nil
	}
	return Expression{}, fmt.Errorf("%q is not a reference; expected params.<name> or steps.<step>.produces.<name>", s)
}

// LooksLikeExpression reports whether s is written in one of the reference namespaces.
// Strings that merely look like references but fail to parse are still reported,
// so loaders can surface a schema error instead of silently treating them as literals.
func LooksLikeExpression(s string) bool {
	s = strings.TrimSpace(s)
	return strings.HasPrefix(s, string(NamespaceParams)+".") || strings.HasPrefix(s, string(NamespaceSteps)+".")
}

// String returns the textual form of the expression.
func (e Expression) String() string {
	if e.Namespace == NamespaceSteps {
		return fmt.Sprintf("steps.%s.produces.%s", e.Step, e.Produce)
	}
	return fmt.Sprintf("params.%s", e.Param)
}

// MarshalText implements encoding.TextMarshaler.
func (e Expression) MarshalText() ([]byte, error) {
	return []byte(e.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (e *Expression) UnmarshalText(b []byte) error {
	parsed, err := ParseExpression(string(b))
	if err != nil {
		return err
	}
	*e = parsed
	return nil
}
