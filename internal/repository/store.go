// Package repository persists runs, stage outputs and trace events.
package repository

import (
	"context"

	"github.com/ambitus/orchestrator/internal/domain"
)

// Store is the persistence boundary for runs. Implementations return
// (nil, nil) for lookups of unknown IDs.
type Store interface {
	// CreateRun inserts a new run row.
	CreateRun(ctx context.Context, rc *domain.RunContext) error
	// SaveRun updates the run's status, candidates, selection, failure and
	// end time. Stage outputs are written separately.
	SaveRun(ctx context.Context, rc *domain.RunContext) error
	// GetRun reconstructs the full run context, outputs included.
	GetRun(ctx context.Context, runID string) (*domain.RunContext, error)
	// ListRuns returns the most recent runs, newest first.
	ListRuns(ctx context.Context, limit int) ([]*domain.RunContext, error)

	// SaveOutput records one stage output. Outputs are append-only: writing
	// a stage twice for the same run is an error.
	SaveOutput(ctx context.Context, runID string, stage domain.Stage, output []byte) error

	CreateEvent(ctx context.Context, event *domain.Event) error
	GetEvents(ctx context.Context, runID string, afterTs int64, limit int) ([]domain.Event, error)

	Close() error
}
