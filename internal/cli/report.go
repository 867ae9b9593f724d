package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/me/goflow/internal/artifact"
	"github.com/me/goflow/pkg/model"
)

// SummaryFile is written into every run directory.
const SummaryFile = "summary.json"

// runSummary is the on-disk record of a finished run.
type runSummary struct {
	RunID          string                      `json:"run_id"`
	Workflow       string                      `json:"workflow"`
	Version        string                      `json:"version,omitempty"`
	Outcome        model.RunOutcome            `json:"outcome"`
	Error          string                      `json:"error,omitempty"`
	StartedAt      time.Time                   `json:"started_at"`
	FinishedAt     *time.Time                  `json:"finished_at,omitempty"`
	DurationMillis int64                       `json:"duration_ms"`
	UserInputs     map[string]any              `json:"user_inputs"`
	ResolvedInputs map[string]any              `json:"resolved_inputs"`
	Steps          []*model.ResolvedStepResult `json:"steps"`
	Artifacts      []model.ArtifactResult      `json:"artifacts"`
}

func writeSummary(runDir string, report *model.RunReport) error {
	s := runSummary{
		RunID:          report.ID,
		Workflow:       report.Workflow,
		Version:        report.Version,
		Outcome:        report.Outcome,
		Error:          report.Error,
		StartedAt:      report.StartedAt,
		FinishedAt:     report.FinishedAt,
		DurationMillis: report.Duration().Milliseconds(),
		UserInputs:     nonNilMap(report.UserInputs),
		ResolvedInputs: nonNilMap(report.Params),
		Steps:          report.Steps,
		Artifacts:      report.Artifacts,
	}
	if s.Steps == nil {
		s.Steps = []*model.ResolvedStepResult{}
	}
	if s.Artifacts == nil {
		s.Artifacts = []model.ArtifactResult{}
	}
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal summary: %w", err)
	}
	return artifact.WriteFileAtomic(filepath.Join(runDir, SummaryFile), append(data, '\n'), 0o644)
}

func nonNilMap(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

// printReport writes the human-readable outcome of a run.
func printReport(w io.Writer, report *model.RunReport, runDir string) {
	fmt.Fprintf(w, "Run:      %s\n", report.ID)
	fmt.Fprintf(w, "Workflow: %s", report.Workflow)
	if report.Version != "" {
		fmt.Fprintf(w, " (%s)", report.Version)
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "Outcome:  %s\n", report.Outcome)
	fmt.Fprintf(w, "Duration: %s\n", report.Duration().Round(time.Millisecond))
	if runDir != "" {
		fmt.Fprintf(w, "Run dir:  %s\n", runDir)
	}
	if report.Error != "" {
		fmt.Fprintf(w, "Error:    %s\n", report.Error)
	}

	if len(report.Steps) > 0 {
		fmt.Fprintf(w, "\nSteps:\n")
		printSteps(w, report.Steps)
	}
	if len(report.Artifacts) > 0 {
		fmt.Fprintf(w, "\nArtifacts:\n")
		printArtifacts(w, report.Artifacts)
	}
}

func printSteps(w io.Writer, steps []*model.ResolvedStepResult) {
	fmt.Fprintf(w, "  %-20s %-10s %-10s %6s %6s %8s\n", "STEP", "STATUS", "MODE", "CALLS", "FAILED", "ATTEMPTS")
	for _, s := range steps {
		fmt.Fprintf(w, "  %-20s %-10s %-10s %6d %6d %8d\n",
			s.Step, s.Status, s.Mode, s.Invocations, s.Failed, s.Attempts)
		for _, f := range s.Failures {
			fmt.Fprintf(w, "    #%d after %d attempts: %s\n", f.Index, f.Attempts, oneLine(f.Error))
		}
		if s.Status == model.StepStatusSkipped || (s.Status == model.StepStatusFailed && len(s.Failures) == 0) {
			fmt.Fprintf(w, "    %s\n", oneLine(s.Error))
		}
	}
}

func printArtifacts(w io.Writer, artifacts []model.ArtifactResult) {
	for _, a := range artifacts {
		if a.OK() {
			fmt.Fprintf(w, "  %-30s %10s  %s\n", a.Name, humanize.Bytes(uint64(a.Bytes)), a.Path)
			continue
		}
		fmt.Fprintf(w, "  %-30s %10s  %s\n", a.Name, "-", oneLine(a.Error))
	}
}

func oneLine(s string) string {
	return strings.ReplaceAll(s, "\n", " ")
}
