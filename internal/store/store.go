package store

import (
	"context"
	"errors"

	"github.com/me/goflow/pkg/model"
)

// ErrNotFound is returned when a run lookup matches nothing.
var ErrNotFound = errors.New("not found")

// Sink receives run progress from the engine as it happens.
type Sink interface {
	BeginRun(ctx context.Context, run *model.RunRecord) error
	RecordStep(ctx context.Context, runID string, res *model.ResolvedStepResult) error
	RecordArtifacts(ctx context.Context, runID string, artifacts []model.ArtifactResult) error
	FinishRun(ctx context.Context, run *model.RunRecord) error
}

// Store defines the persistence layer for run history.
type Store interface {
	Sink

	// Run history
	GetRun(ctx context.Context, id string) (*model.RunRecord, error)
	ListRuns(ctx context.Context, opts model.ListOptions) ([]*model.RunRecord, int, error)
	ListStepResults(ctx context.Context, runID string) ([]*model.ResolvedStepResult, error)
	ListArtifacts(ctx context.Context, runID string) ([]model.ArtifactResult, error)

	// Lifecycle
	Close() error
	Migrate(ctx context.Context) error
}
