package engine

import (
	"testing"

	"github.com/me/goflow/pkg/model"
)

func TestStepStates_Advance(t *testing.T) {
	tests := []struct {
		name  string
		moves []model.StepStatus
		want  []bool
		final model.StepStatus
	}{
		{
			name:  "run to success",
			moves: []model.StepStatus{model.StepStatusRunning, model.StepStatusSucceeded},
			want:  []bool{true, true},
			final: model.StepStatusSucceeded,
		},
		{
			name:  "skip before start",
			moves: []model.StepStatus{model.StepStatusSkipped},
			want:  []bool{true},
			final: model.StepStatusSkipped,
		},
		{
			name:  "result without running",
			moves: []model.StepStatus{model.StepStatusSucceeded},
			want:  []bool{false},
			final: model.StepStatusPending,
		},
		{
			name:  "second result is refused",
			moves: []model.StepStatus{model.StepStatusRunning, model.StepStatusPartial, model.StepStatusFailed},
			want:  []bool{true, true, false},
			final: model.StepStatusPartial,
		},
		{
			name:  "skipped step cannot start",
			moves: []model.StepStatus{model.StepStatusSkipped, model.StepStatusRunning},
			want:  []bool{true, false},
			final: model.StepStatusSkipped,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			states := newStepStates([]string{"a"}, newTestLogger())
			for i, next := range tt.moves {
				if got := states.advance("a", next); got != tt.want[i] {
					t.Errorf("advance(%s) = %v, want %v", next, got, tt.want[i])
				}
			}
			if got := states.get("a"); got != tt.final {
				t.Errorf("final status = %s, want %s", got, tt.final)
			}
		})
	}
}
