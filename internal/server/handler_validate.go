package server

import (
	"errors"
	"io"
	"net/http"

	"github.com/me/goflow/internal/parser"
	"github.com/me/goflow/pkg/model"
)

// maxDocumentBytes bounds the size of a posted workflow document.
const maxDocumentBytes = 1 << 20

type validateResponse struct {
	Valid bool                `json:"valid"`
	Name  string              `json:"name"`
	Order []string            `json:"order"`
	Edges map[string][]string `json:"edges"`
}

// handleValidateWorkflow parses, validates, and orders a posted document
// without running it.
func (s *Server) handleValidateWorkflow(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxDocumentBytes+1))
	if err != nil {
		s.fail(w, r, http.StatusBadRequest,
			&model.APIError{Code: model.ErrValidation, Message: "read body: " + err.Error()})
		return
	}
	if len(data) > maxDocumentBytes {
		s.fail(w, r, http.StatusRequestEntityTooLarge,
			&model.APIError{Code: model.ErrValidation, Message: "workflow document exceeds 1 MiB"})
		return
	}

	var doc *model.WorkflowDocument
	switch r.URL.Query().Get("format") {
	case "hcl":
		doc, err = s.parser.ParseHCL(data, "request.hcl")
	case "", "yaml":
		doc, err = s.parser.ParseYAML(data)
	default:
		s.fail(w, r, http.StatusBadRequest, model.NewValidationError("invalid query parameters",
			model.FieldError{Field: "format", Message: "must be yaml or hcl"}))
		return
	}
	if err == nil {
		err = s.validator.Validate(doc)
	}
	if err != nil {
		s.fail(w, r, http.StatusBadRequest, schemaAPIError(err))
		return
	}

	dag, err := parser.BuildDAG(doc)
	if err != nil {
		s.fail(w, r, http.StatusBadRequest, schemaAPIError(err))
		return
	}

	s.ok(w, r, validateResponse{
		Valid: true,
		Name:  doc.Metadata.Name,
		Order: dag.Order,
		Edges: dag.Edges,
	})
}

// schemaAPIError converts document errors into a validation APIError with
// one detail per offending field.
func schemaAPIError(err error) *model.APIError {
	var errs model.SchemaErrors
	if errors.As(err, &errs) {
		return model.NewValidationError("invalid workflow document", errs.FieldErrors()...)
	}
	var one *model.SchemaError
	if errors.As(err, &one) {
		return model.NewValidationError("invalid workflow document", model.SchemaErrors{one}.FieldErrors()...)
	}
	var cyc *model.CyclicDependencyError
	if errors.As(err, &cyc) {
		details := make([]model.FieldError, len(cyc.Steps))
		for i, step := range cyc.Steps {
			details[i] = model.FieldError{Field: "steps." + step, Message: "part of a dependency cycle"}
		}
		return model.NewValidationError(err.Error(), details...)
	}
	return model.NewValidationError(err.Error())
}
