package server

import (
	"net/http"
	"runtime"
	"time"
)

type healthResponse struct {
	Status    string `json:"status"`
	Version   string `json:"version"`
	GoVersion string `json:"go_version"`
	Uptime    string `json:"uptime"`
	Store     string `json:"store"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status, storeState := "healthy", "ok"
	if s.store == nil {
		storeState = "disabled"
	} else if _, _, err := s.store.ListRuns(r.Context(), defaultListOptions(1)); err != nil {
		status, storeState = "degraded", err.Error()
	}

	s.ok(w, r, healthResponse{
		Status:    status,
		Version:   Version,
		GoVersion: runtime.Version(),
		Uptime:    time.Since(s.startTime).Round(time.Second).String(),
		Store:     storeState,
	})
}
