package server

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/me/goflow/internal/store"
	"github.com/me/goflow/pkg/model"
)

func defaultListOptions(limit int) model.ListOptions {
	opts := model.DefaultListOptions()
	opts.Limit = limit
	return opts
}

// parseListOptions reads pagination and filters from the query string.
func parseListOptions(r *http.Request) (model.ListOptions, *model.APIError) {
	q := r.URL.Query()
	opts := model.DefaultListOptions()
	var details []model.FieldError

	for _, p := range []struct {
		name string
		dst  *int
	}{{"limit", &opts.Limit}, {"offset", &opts.Offset}} {
		v := q.Get(p.name)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			details = append(details, model.FieldError{Field: p.name, Message: "must be a non-negative integer"})
			continue
		}
		*p.dst = n
	}

	opts.Workflow = q.Get("workflow")
	if o := model.RunOutcome(q.Get("outcome")); o != "" {
		switch o {
		case model.OutcomeRunning, model.OutcomeSuccess, model.OutcomePartialSuccess, model.OutcomeFailure:
			opts.Outcome = o
		default:
			details = append(details, model.FieldError{Field: "outcome",
				Message: "must be one of running, success, partial_success, failure"})
		}
	}

	if len(details) > 0 {
		return opts, model.NewValidationError("invalid query parameters", details...)
	}
	opts.Clamp()
	return opts, nil
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	opts, apiErr := parseListOptions(r)
	if apiErr != nil {
		s.fail(w, r, http.StatusBadRequest, apiErr)
		return
	}

	runs, total, err := s.store.ListRuns(r.Context(), opts)
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	if runs == nil {
		runs = []*model.RunRecord{}
	}

	s.page(w, r, runs, &model.Pagination{
		Total:   total,
		Limit:   opts.Limit,
		Offset:  opts.Offset,
		HasMore: opts.Offset+len(runs) < total,
	})
}

// lookupRun fetches the run named in the URL, writing the error response
// itself when it cannot.
func (s *Server) lookupRun(w http.ResponseWriter, r *http.Request) (*model.RunRecord, bool) {
	id := chi.URLParam(r, "id")

	run, err := s.store.GetRun(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		s.fail(w, r, http.StatusNotFound, model.NewNotFoundError("run", id))
		return nil, false
	}
	if err != nil {
		s.internalError(w, r, err)
		return nil, false
	}
	return run, true
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	run, ok := s.lookupRun(w, r)
	if !ok {
		return
	}
	s.ok(w, r, run)
}

func (s *Server) handleListSteps(w http.ResponseWriter, r *http.Request) {
	run, ok := s.lookupRun(w, r)
	if !ok {
		return
	}

	steps, err := s.store.ListStepResults(r.Context(), run.ID)
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	if steps == nil {
		steps = []*model.ResolvedStepResult{}
	}
	s.ok(w, r, steps)
}

func (s *Server) handleListArtifacts(w http.ResponseWriter, r *http.Request) {
	run, ok := s.lookupRun(w, r)
	if !ok {
		return
	}

	artifacts, err := s.store.ListArtifacts(r.Context(), run.ID)
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	if artifacts == nil {
		artifacts = []model.ArtifactResult{}
	}
	s.ok(w, r, artifacts)
}
