// Package persistence provides the storage abstraction for workflow run
// snapshots.
package persistence

import (
	"context"

	"github.com/fermata-dev/fermata/pkg/models"
)

type Persistence interface {
	RunRepository() RunRepository
	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}

// RunRepository stores one record per run, overwritten snapshot-style on
// every state transition.
type RunRepository interface {
	SaveRun(ctx context.Context, record *models.RunRecord) error
	RunByID(ctx context.Context, runID string) (*models.RunRecord, error)
	RunsByWorkflowID(ctx context.Context, workflowID string) ([]*models.RunRecord, error)
	ListRuns(ctx context.Context) ([]*models.RunRecord, error)
	DeleteRun(ctx context.Context, runID string) error
}
