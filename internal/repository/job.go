package repository

import (
	"context"
	"time"

	"collabrun/internal/domain"
)

// JobRepository is the durable record of every job and its lifecycle.
type JobRepository interface {
	Create(ctx context.Context, job *domain.Job) error
	FindByID(ctx context.Context, id string) (*domain.Job, error)
	FindByUser(ctx context.Context, userID string, limit int) ([]domain.Job, error)
	FindRunningJobs(ctx context.Context) ([]domain.Job, error)
	MarkStarted(ctx context.Context, id string, startedAt time.Time) error
	MarkCompleted(ctx context.Context, id string, result domain.ExecutionResult) error
	MarkFailed(ctx context.Context, id string, stderr string, exitCode *int) error
	MarkTimeout(ctx context.Context, id string) error
	Cancel(ctx context.Context, id string) (bool, error)
	DeleteOlderThan(ctx context.Context, days int) (int64, error)
	CountRecentByUser(ctx context.Context, userID string, since time.Time) (int64, error)
}
