package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/me/goflow/pkg/model"
)

// writeEnvelope wraps data or apiErr in the API envelope for r.
func (s *Server) writeEnvelope(w http.ResponseWriter, r *http.Request, status int, data any, page *model.Pagination, apiErr *model.APIError) {
	body := model.Response{
		Status:     "ok",
		RequestID:  RequestIDFromContext(r.Context()),
		Timestamp:  time.Now().UTC(),
		Data:       data,
		Pagination: page,
		Error:      apiErr,
	}
	if apiErr != nil {
		body.Status = "error"
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Warn("encode response", "path", r.URL.Path, "error", err)
	}
}

func (s *Server) ok(w http.ResponseWriter, r *http.Request, data any) {
	s.writeEnvelope(w, r, http.StatusOK, data, nil, nil)
}

func (s *Server) page(w http.ResponseWriter, r *http.Request, data any, page *model.Pagination) {
	s.writeEnvelope(w, r, http.StatusOK, data, page, nil)
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, status int, apiErr *model.APIError) {
	s.writeEnvelope(w, r, status, nil, nil, apiErr)
}

// internalError answers 500 and logs the cause.
func (s *Server) internalError(w http.ResponseWriter, r *http.Request, err error) {
	s.logger.Error("request failed",
		"request_id", RequestIDFromContext(r.Context()),
		"path", r.URL.Path,
		"error", err)
	s.fail(w, r, http.StatusInternalServerError, &model.APIError{Code: model.ErrInternal, Message: err.Error()})
}
