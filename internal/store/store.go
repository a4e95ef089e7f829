package store

import (
	"context"

	"github.com/joescharf/buildbench/internal/models"
)

// Store defines the persistence interface for benchmark run history.
type Store interface {
	CreateRun(ctx context.Context, r *models.Run) error
	GetRun(ctx context.Context, id string) (*models.Run, error)
	ListRuns(ctx context.Context, limit int) ([]*models.Run, error)
	UpdateRunScore(ctx context.Context, id string, score int) error
	FinishRun(ctx context.Context, id string, status models.RunStatus, errMsg string) error
	// CloseStaleRuns marks every run still recorded as running as ended.
	CloseStaleRuns(ctx context.Context) (int64, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
