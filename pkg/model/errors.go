package model

import (
	"fmt"
	"sort"
	"strings"
)

// ErrorCode represents a structured API error code.
type ErrorCode string

const (
	ErrValidation ErrorCode = "VALIDATION_ERROR"
	ErrNotFound   ErrorCode = "NOT_FOUND"
	ErrInternal   ErrorCode = "INTERNAL_ERROR"
)

// APIError is a structured error returned by the run history API.
type APIError struct {
	Code    ErrorCode    `json:"code"`
	Message string       `json:"message"`
	Details []FieldError `json:"details,omitempty"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// FieldError describes a validation error on a specific field.
type FieldError struct {
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
}

// NewValidationError creates an APIError with validation details.
func NewValidationError(msg string, details ...FieldError) *APIError {
	return &APIError{Code: ErrValidation, Message: msg, Details: details}
}

// NewNotFoundError creates a NOT_FOUND APIError.
func NewNotFoundError(resource, id string) *APIError {
	return &APIError{
		Code:    ErrNotFound,
		Message: fmt.Sprintf("%s '%s' not found", resource, id),
	}
}

// SchemaError reports a malformed or ambiguous workflow document.
type SchemaError struct {
	Field   string
	Message string
}

func (e *SchemaError) Error() string {
	if e.Field == "" {
		return "schema: " + e.Message
	}
	return fmt.Sprintf("schema: %s: %s", e.Field, e.Message)
}

// SchemaErrors collects every SchemaError found while validating a document.
type SchemaErrors []*SchemaError

func (e SchemaErrors) Error() string {
	msgs := make([]string, len(e))
	for i, se := range e {
		msgs[i] = se.Error()
	}
	return strings.Join(msgs, "; ")
}

// Unwrap exposes the individual errors to errors.Is and errors.As.
func (e SchemaErrors) Unwrap() []error {
	errs := make([]error, len(e))
	for i, se := range e {
		errs[i] = se
	}
	return errs
}

// FieldErrors converts the collection into API field errors.
func (e SchemaErrors) FieldErrors() []FieldError {
	out := make([]FieldError, len(e))
	for i, se := range e {
		out[i] = FieldError{Field: se.Field, Message: se.Message}
	}
	return out
}

// UnknownParameterError is returned when a params.* reference has no value.
type UnknownParameterError struct {
	Name string
	// Declared is true when the document declares the parameter without a
	// value and no override supplied one.
	Declared bool
}

func (e *UnknownParameterError) Error() string {
	if e.Declared {
		return fmt.Sprintf("parameter %q is declared without a value and no override was supplied", e.Name)
	}
	return fmt.Sprintf("unknown parameter %q", e.Name)
}

// UnresolvedDependencyError is returned when a steps.* reference cannot be
// satisfied from the results produced so far.
type UnresolvedDependencyError struct {
	Step    string
	Produce string
	Reason  string
}

func (e *UnresolvedDependencyError) Error() string {
	return fmt.Sprintf("unresolved dependency steps.%s.produces.%s: %s", e.Step, e.Produce, e.Reason)
}

// CyclicDependencyError is returned when the step graph contains a cycle.
type CyclicDependencyError struct {
	Steps []string
}

func (e *CyclicDependencyError) Error() string {
	return fmt.Sprintf("workflow contains a cycle involving steps: %s", strings.Join(e.Steps, ", "))
}

// ArgLength pairs an argument name with the length of its sequence value.
type ArgLength struct {
	Arg    string `json:"arg"`
	Length int    `json:"length"`
}

// ShapeMismatchError is returned when sequence arguments cannot be combined.
type ShapeMismatchError struct {
	Step    string
	Mode    MapMode
	Lengths []ArgLength
	Reason  string
}

func (e *ShapeMismatchError) Error() string {
	parts := make([]string, len(e.Lengths))
	for i, l := range e.Lengths {
		parts[i] = fmt.Sprintf("%s=%d", l.Arg, l.Length)
	}
	msg := fmt.Sprintf("step %q (%s): shape mismatch", e.Step, e.Mode)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if len(parts) > 0 {
		msg += " [" + strings.Join(parts, ", ") + "]"
	}
	return msg
}

// ShapeAmbiguityError is returned when map mode cannot pick a single axis.
type ShapeAmbiguityError struct {
	Step string
	Args []string
}

func (e *ShapeAmbiguityError) Error() string {
	return fmt.Sprintf("step %q: ambiguous map axis, arguments %s are all sequences; declare options.axes or use zip/broadcast",
		e.Step, strings.Join(e.Args, ", "))
}

// InvocationError reports one invocation that failed after exhausting its attempts.
type InvocationError struct {
	Step     string
	Index    int
	Args     map[string]any
	Attempts int
	Err      error
}

func (e *InvocationError) Error() string {
	return fmt.Sprintf("step %q invocation %d failed after %d attempt(s) (args: %s): %v",
		e.Step, e.Index, e.Attempts, FormatArgs(e.Args), e.Err)
}

func (e *InvocationError) Unwrap() error {
	return e.Err
}

// ArtifactWriteError reports a single artifact that could not be materialized.
type ArtifactWriteError struct {
	Artifact string
	Path     string
	Err      error
}

func (e *ArtifactWriteError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("artifact %q: %v", e.Artifact, e.Err)
	}
	return fmt.Sprintf("artifact %q (%s): %v", e.Artifact, e.Path, e.Err)
}

func (e *ArtifactWriteError) Unwrap() error {
	return e.Err
}

// FormatArgs renders an argument snapshot with keys in sorted order.
func FormatArgs(args map[string]any) string {
	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%v", k, args[k])
	}
	return "{" + strings.Join(parts, ", ") + "}"
}
