package model

// StepStatus represents the lifecycle state of one step within a run.
type StepStatus string

const (
	StepStatusPending   StepStatus = "PENDING"
	StepStatusRunning   StepStatus = "RUNNING"
	StepStatusSucceeded StepStatus = "SUCCEEDED"
	StepStatusPartial   StepStatus = "PARTIAL"
	StepStatusFailed    StepStatus = "FAILED"
	StepStatusSkipped   StepStatus = "SKIPPED"
)

// String returns the string representation of the step status.
func (s StepStatus) String() string {
	return string(s)
}

// IsTerminal returns true if the step is in a final state.
func (s StepStatus) IsTerminal() bool {
	switch s {
	case StepStatusSucceeded, StepStatusPartial, StepStatusFailed, StepStatusSkipped:
		return true
	}
	return false
}

// HasOutputs returns true if downstream steps may consume the step's outputs.
func (s StepStatus) HasOutputs() bool {
	return s == StepStatusSucceeded || s == StepStatusPartial
}

// ValidStepTransitions defines the allowed state transitions for steps.
var ValidStepTransitions = map[StepStatus][]StepStatus{
	StepStatusPending: {StepStatusRunning, StepStatusSkipped},
	StepStatusRunning: {StepStatusSucceeded, StepStatusPartial, StepStatusFailed},
}

// CanTransitionTo returns true if moving from the current state to next is valid.
func (s StepStatus) CanTransitionTo(next StepStatus) bool {
	for _, allowed := range ValidStepTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// RunOutcome is the final verdict of a workflow run.
type RunOutcome string

const (
	OutcomeRunning        RunOutcome = "running"
	OutcomeSuccess        RunOutcome = "success"
	OutcomePartialSuccess RunOutcome = "partial_success"
	OutcomeFailure        RunOutcome = "failure"
)

// String returns the string representation of the outcome.
func (o RunOutcome) String() string {
	return string(o)
}

// IsTerminal returns true if the run has finished.
func (o RunOutcome) IsTerminal() bool {
	return o != OutcomeRunning && o != ""
}
