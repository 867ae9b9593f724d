package model

import (
	"fmt"
	"time"
)

// Failure marks a fan-out output slot that is missing because its invocation failed.
// Downstream steps see it in place of the value.
type Failure struct {
	Index    int            `json:"index" yaml:"index"`
	Error    string         `json:"error" yaml:"error"`
	Attempts int            `json:"attempts" yaml:"attempts"`
	Args     map[string]any `json:"args,omitempty" yaml:"args,omitempty"`
}

func (f *Failure) String() string {
	return fmt.Sprintf("<failed #%d: %s>", f.Index, f.Error)
}

// IsFailure reports whether v is a failure marker.
func IsFailure(v any) bool {
	_, ok := v.(*Failure)
	return ok
}

// CountFailures returns how many elements of seq are failure markers.
func CountFailures(seq []any) int {
	n := 0
	for _, v := range seq {
		if IsFailure(v) {
			n++
		}
	}
	return n
}

// Successful returns the elements of seq that are not failure markers.
func Successful(seq []any) []any {
	out := make([]any, 0, len(seq))
	for _, v := range seq {
		if !IsFailure(v) {
			out = append(out, v)
		}
	}
	return out
}

// InvocationFailure describes one failed invocation for reporting.
type InvocationFailure struct {
	Index    int            `json:"index"`
	Args     map[string]any `json:"args"`
	Attempts int            `json:"attempts"`
	Error    string         `json:"error"`
}

// ResolvedStepResult is the outcome of one step, held in the run's results
// store and consumed by downstream expression lookups.
type ResolvedStepResult struct {
	Step     string   `json:"step"`
	Produces []string `json:"produces"`
	Mode     MapMode  `json:"mode"`
	// Fanout is true when Outputs hold one ordered slot per invocation.
	Fanout      bool                `json:"fanout"`
	Outputs     map[string]any      `json:"outputs,omitempty"`
	Invocations int                 `json:"invocations"`
	Failed      int                 `json:"failed"`
	Attempts    int                 `json:"attempts"`
	Status      StepStatus          `json:"status"`
	Error       string              `json:"error,omitempty"`
	Failures    []InvocationFailure `json:"failures,omitempty"`
	StartedAt   time.Time           `json:"started_at"`
	FinishedAt  time.Time           `json:"finished_at"`
}

// Output returns the value published under a produce name.
func (r *ResolvedStepResult) Output(produce string) (any, bool) {
	if r == nil || r.Outputs == nil {
		return nil, false
	}
	v, ok := r.Outputs[produce]
	return v, ok
}

// ArtifactResult reports what happened to one declared artifact.
type ArtifactResult struct {
	Name  string `json:"name"`
	Path  string `json:"path,omitempty"`
	Expr  string `json:"expr"`
	Bytes int64  `json:"bytes"`
	Error string `json:"error,omitempty"`
}

// OK reports whether the artifact was written.
func (a ArtifactResult) OK() bool {
	return a.Error == ""
}

// RunRecord is the persisted header of a workflow run.
type RunRecord struct {
	ID         string         `json:"id"`
	Workflow   string         `json:"workflow"`
	Version    string         `json:"version,omitempty"`
	Outcome    RunOutcome     `json:"outcome"`
	Params     map[string]any `json:"params,omitempty"`
	Error      string         `json:"error,omitempty"`
	RunDir     string         `json:"run_dir,omitempty"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt *time.Time     `json:"finished_at,omitempty"`
}

// RunReport is the full outcome of a run as returned by the engine.
type RunReport struct {
	RunRecord
	UserInputs map[string]any        `json:"user_inputs,omitempty"`
	Steps      []*ResolvedStepResult `json:"steps"`
	Artifacts  []ArtifactResult      `json:"artifacts,omitempty"`
}

// Duration returns the wall time of a finished run.
func (r *RunRecord) Duration() time.Duration {
	if r.FinishedAt == nil {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// StepResult returns the result recorded for a step, or nil.
func (r *RunReport) StepResult(name string) *ResolvedStepResult {
	for _, s := range r.Steps {
		if s.Step == name {
			return s
		}
	}
	return nil
}
