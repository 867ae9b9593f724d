package server

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/me/goflow/internal/config"
	"github.com/me/goflow/internal/store"
	"github.com/me/goflow/pkg/model"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(&bytes.Buffer{}, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testServer(t *testing.T) (*Server, *store.SQLiteStore) {
	t.Helper()
	st, err := store.NewSQLiteStore(":memory:", testLogger())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	if err := st.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return New(config.Default(), st, testLogger()), st
}

// seedRun records a finished partial run with one step and two artifacts.
func seedRun(t *testing.T, st *store.SQLiteStore, id, workflow string, started time.Time) {
	t.Helper()
	ctx := context.Background()
	run := &model.RunRecord{ID: id, Workflow: workflow, Outcome: model.OutcomeRunning, StartedAt: started}
	if err := st.BeginRun(ctx, run); err != nil {
		t.Fatalf("BeginRun: %v", err)
	}
	step := &model.ResolvedStepResult{
		Step:        "check",
		Produces:    []string{"result"},
		Mode:        model.MapModeMap,
		Fanout:      true,
		Outputs:     map[string]any{"result": []any{"ok", &model.Failure{Index: 1, Error: "boom", Attempts: 2}}},
		Invocations: 2,
		Failed:      1,
		Attempts:    3,
		Status:      model.StepStatusPartial,
		StartedAt:   started,
		FinishedAt:  started.Add(time.Second),
	}
	if err := st.RecordStep(ctx, id, step); err != nil {
		t.Fatalf("RecordStep: %v", err)
	}
	if err := st.RecordArtifacts(ctx, id, []model.ArtifactResult{
		{Name: "summary.json", Path: "/runs/summary.json", Expr: "steps.check.produces.result", Bytes: 42},
		{Name: "bad.bin", Expr: "steps.check.produces.result", Error: "no serializer for .bin"},
	}); err != nil {
		t.Fatalf("RecordArtifacts: %v", err)
	}
	finished := started.Add(2 * time.Second)
	run.Outcome = model.OutcomePartialSuccess
	run.FinishedAt = &finished
	if err := st.FinishRun(ctx, run); err != nil {
		t.Fatalf("FinishRun: %v", err)
	}
}

// envelope is used to decode the standard response envelope.
type envelope struct {
	Status     string            `json:"status"`
	RequestID  string            `json:"request_id"`
	Timestamp  string            `json:"timestamp"`
	Data       json.RawMessage   `json:"data"`
	Pagination *model.Pagination `json:"pagination"`
	Error      *model.APIError   `json:"error"`
}

func do(t *testing.T, srv *Server, method, path, body string, wantStatus int) envelope {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	if w.Code != wantStatus {
		t.Fatalf("%s %s: status=%d, want %d, body=%s", method, path, w.Code, wantStatus, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("%s %s: Content-Type = %q", method, path, ct)
	}
	var env envelope
	if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
		t.Fatalf("%s %s: invalid JSON: %v", method, path, err)
	}
	return env
}

func doGet(t *testing.T, srv *Server, path string) envelope {
	t.Helper()
	return do(t, srv, http.MethodGet, path, "", http.StatusOK)
}

func TestDiscovery(t *testing.T) {
	srv, _ := testServer(t)
	env := doGet(t, srv, "/api/v1/")
	if env.Status != "ok" {
		t.Errorf("status = %q, want ok", env.Status)
	}
	if env.RequestID == "" {
		t.Error("request_id is empty")
	}

	var data struct {
		Name      string `json:"name"`
		Endpoints []struct {
			Path string `json:"path"`
		} `json:"endpoints"`
	}
	json.Unmarshal(env.Data, &data)
	if data.Name != "goflow API" {
		t.Errorf("name = %q, want goflow API", data.Name)
	}
	if len(data.Endpoints) != 6 {
		t.Errorf("endpoints count = %d, want 6", len(data.Endpoints))
	}
}

func TestHealth(t *testing.T) {
	srv, _ := testServer(t)
	env := doGet(t, srv, "/api/v1/health")

	var data healthResponse
	json.Unmarshal(env.Data, &data)
	if data.Status != "healthy" || data.Store != "ok" {
		t.Errorf("health = %+v", data)
	}
	if data.Version != Version || !strings.HasPrefix(data.GoVersion, "go") {
		t.Errorf("version = %q, go = %q", data.Version, data.GoVersion)
	}
}

func TestRequestIDPropagation(t *testing.T) {
	srv, _ := testServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	req.Header.Set("X-Request-ID", "req_caller")
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	if got := w.Header().Get("X-Request-ID"); got != "req_caller" {
		t.Errorf("X-Request-ID = %q", got)
	}
	var env envelope
	json.Unmarshal(w.Body.Bytes(), &env)
	if env.RequestID != "req_caller" {
		t.Errorf("request_id = %q", env.RequestID)
	}
}

func TestListRuns(t *testing.T) {
	srv, st := testServer(t)

	env := doGet(t, srv, "/api/v1/runs")
	if string(env.Data) != "[]" || env.Pagination == nil || env.Pagination.Total != 0 {
		t.Errorf("empty list = %s, %+v", env.Data, env.Pagination)
	}

	base := time.Now().UTC().Truncate(time.Millisecond)
	seedRun(t, st, "run_a", "health-check", base)
	seedRun(t, st, "run_b", "health-check", base.Add(time.Minute))
	seedRun(t, st, "run_c", "text-stats", base.Add(2*time.Minute))

	env = doGet(t, srv, "/api/v1/runs?limit=2")
	var runs []model.RunRecord
	if err := json.Unmarshal(env.Data, &runs); err != nil {
		t.Fatalf("decode runs: %v", err)
	}
	if len(runs) != 2 || runs[0].ID != "run_c" {
		t.Errorf("runs = %+v", runs)
	}
	if env.Pagination.Total != 3 || !env.Pagination.HasMore || env.Pagination.Limit != 2 {
		t.Errorf("pagination = %+v", env.Pagination)
	}

	env = doGet(t, srv, "/api/v1/runs?workflow=health-check&outcome=partial_success")
	json.Unmarshal(env.Data, &runs)
	if len(runs) != 2 || env.Pagination.HasMore {
		t.Errorf("filtered runs = %+v, %+v", runs, env.Pagination)
	}
}

func TestListRuns_BadQuery(t *testing.T) {
	srv, _ := testServer(t)
	env := do(t, srv, http.MethodGet, "/api/v1/runs?limit=-1&outcome=great", "", http.StatusBadRequest)
	if env.Status != "error" || env.Error == nil || env.Error.Code != model.ErrValidation {
		t.Fatalf("error = %+v", env.Error)
	}
	if len(env.Error.Details) != 2 {
		t.Errorf("details = %+v, want limit and outcome", env.Error.Details)
	}
}

func TestGetRun(t *testing.T) {
	srv, st := testServer(t)
	seedRun(t, st, "run_a", "health-check", time.Now().UTC())

	env := doGet(t, srv, "/api/v1/runs/run_a")
	var run model.RunRecord
	if err := json.Unmarshal(env.Data, &run); err != nil {
		t.Fatalf("decode run: %v", err)
	}
	if run.ID != "run_a" || run.Outcome != model.OutcomePartialSuccess || run.FinishedAt == nil {
		t.Errorf("run = %+v", run)
	}

	for _, path := range []string{"/api/v1/runs/run_x", "/api/v1/runs/run_x/steps", "/api/v1/runs/run_x/artifacts"} {
		env = do(t, srv, http.MethodGet, path, "", http.StatusNotFound)
		if env.Error == nil || env.Error.Code != model.ErrNotFound {
			t.Errorf("%s: error = %+v", path, env.Error)
		}
	}
}

func TestRunStepsAndArtifacts(t *testing.T) {
	srv, st := testServer(t)
	seedRun(t, st, "run_a", "health-check", time.Now().UTC())

	env := doGet(t, srv, "/api/v1/runs/run_a/steps")
	var steps []model.ResolvedStepResult
	if err := json.Unmarshal(env.Data, &steps); err != nil {
		t.Fatalf("decode steps: %v", err)
	}
	if len(steps) != 1 || steps[0].Status != model.StepStatusPartial || steps[0].Failed != 1 {
		t.Errorf("steps = %+v", steps)
	}

	env = doGet(t, srv, "/api/v1/runs/run_a/artifacts")
	var artifacts []model.ArtifactResult
	if err := json.Unmarshal(env.Data, &artifacts); err != nil {
		t.Fatalf("decode artifacts: %v", err)
	}
	if len(artifacts) != 2 || !artifacts[0].OK() || artifacts[1].OK() {
		t.Errorf("artifacts = %+v", artifacts)
	}
}

func TestValidateWorkflow(t *testing.T) {
	srv, _ := testServer(t)
	body, err := os.ReadFile("../../testdata/workflows/pipeline.yaml")
	if err != nil {
		t.Fatal(err)
	}

	env := do(t, srv, http.MethodPost, "/api/v1/workflows/validate", string(body), http.StatusOK)
	var data validateResponse
	if err := json.Unmarshal(env.Data, &data); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !data.Valid || data.Name != "health-check" {
		t.Errorf("data = %+v", data)
	}
	if len(data.Order) != 2 || data.Order[0] != "check" || data.Order[1] != "summarize" {
		t.Errorf("order = %v", data.Order)
	}

	hcl, err := os.ReadFile("../../testdata/workflows/pipeline.hcl")
	if err != nil {
		t.Fatal(err)
	}
	do(t, srv, http.MethodPost, "/api/v1/workflows/validate?format=hcl", string(hcl), http.StatusOK)
}

func TestValidateWorkflow_Errors(t *testing.T) {
	srv, _ := testServer(t)

	invalid := `
metadata:
  name: Bad_Name
spec:
  steps:
    - name: a
      func: builtin.identity
      inputs:
        value: steps.ghost.produces.x
`
	env := do(t, srv, http.MethodPost, "/api/v1/workflows/validate", invalid, http.StatusBadRequest)
	if env.Error == nil || env.Error.Code != model.ErrValidation || len(env.Error.Details) < 2 {
		t.Errorf("schema error = %+v", env.Error)
	}

	cycle, err := os.ReadFile("../../testdata/workflows/cycle.yaml")
	if err != nil {
		t.Fatal(err)
	}
	env = do(t, srv, http.MethodPost, "/api/v1/workflows/validate", string(cycle), http.StatusBadRequest)
	if env.Error == nil || !strings.Contains(env.Error.Message, "cycle") || len(env.Error.Details) != 2 {
		t.Errorf("cycle error = %+v", env.Error)
	}

	do(t, srv, http.MethodPost, "/api/v1/workflows/validate?format=toml", "x", http.StatusBadRequest)
}

func TestNotFoundRoute(t *testing.T) {
	srv, _ := testServer(t)
	env := do(t, srv, http.MethodGet, "/api/v2/nothing", "", http.StatusNotFound)
	if env.Error == nil || env.Error.Code != model.ErrNotFound {
		t.Errorf("error = %+v", env.Error)
	}
}
