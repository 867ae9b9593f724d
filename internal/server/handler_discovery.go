package server

import (
	"net/http"

	"github.com/me/goflow/pkg/model"
)

type endpointInfo struct {
	Path        string   `json:"path"`
	Methods     []string `json:"methods"`
	Description string   `json:"description"`
}

type discoveryResponse struct {
	Name        string         `json:"name"`
	Version     string         `json:"version"`
	Description string         `json:"description"`
	Endpoints   []endpointInfo `json:"endpoints"`
}

func (s *Server) handleDiscovery(w http.ResponseWriter, r *http.Request) {
	s.ok(w, r, discoveryResponse{
		Name:        "goflow API",
		Version:     "v1",
		Description: "goflow run history: outcomes, step results and artifacts of workflow runs",
		Endpoints: []endpointInfo{
			{"/api/v1/runs", []string{"GET"}, "List runs, newest first. Filters: ?workflow=, ?outcome=, ?limit=, ?offset="},
			{"/api/v1/runs/{id}", []string{"GET"}, "Single run header"},
			{"/api/v1/runs/{id}/steps", []string{"GET"}, "Step results of a run, including fan-out slots and failures"},
			{"/api/v1/runs/{id}/artifacts", []string{"GET"}, "Artifact manifest of a run"},
			{"/api/v1/workflows/validate", []string{"POST"}, "Validate a YAML or HCL (?format=hcl) workflow document and return its step order"},
			{"/api/v1/health", []string{"GET"}, "Server health and version"},
		},
	})
}

func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	s.fail(w, r, http.StatusNotFound,
		model.NewNotFoundError("route", r.URL.Path))
}
