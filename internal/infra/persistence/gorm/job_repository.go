package gormpersistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"collabrun/internal/domain"
	"collabrun/internal/repository"
)

// GormJobRepository is the GORM implementation of repository.JobRepository.
type GormJobRepository struct {
	db *gorm.DB
}

func NewGormJobRepository(db *gorm.DB) *GormJobRepository {
	if db == nil {
		panic("database connection cannot be nil for GormJobRepository")
	}
	return &GormJobRepository{db: db}
}

func (r *GormJobRepository) Create(ctx context.Context, job *domain.Job) error {
	if err := r.db.WithContext(ctx).Create(job).Error; err != nil {
		return fmt.Errorf("gorm: create job %s: %w", job.ID, err)
	}
	return nil
}

func (r *GormJobRepository) FindByID(ctx context.Context, id string) (*domain.Job, error) {
	var job domain.Job
	err := r.db.WithContext(ctx).First(&job, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("gorm: find job %s: %w", id, err)
	}
	return &job, nil
}

func (r *GormJobRepository) FindByUser(ctx context.Context, userID string, limit int) ([]domain.Job, error) {
	var jobs []domain.Job
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).Order("created_at DESC").Limit(limit).Find(&jobs).Error
	if err != nil {
		return nil, fmt.Errorf("gorm: find jobs for user %s: %w", userID, err)
	}
	return jobs, nil
}

func (r *GormJobRepository) FindRunningJobs(ctx context.Context) ([]domain.Job, error) {
	var jobs []domain.Job
	err := r.db.WithContext(ctx).Where("state = ?", domain.JobRunning).Find(&jobs).Error
	if err != nil {
		return nil, fmt.Errorf("gorm: find running jobs: %w", err)
	}
	return jobs, nil
}

func (r *GormJobRepository) MarkStarted(ctx context.Context, id string, startedAt time.Time) error {
	err := r.db.WithContext(ctx).Model(&domain.Job{}).
		Where("id = ? AND state = ?", id, domain.JobQueued).
		Updates(map[string]interface{}{"state": domain.JobRunning, "started_at": startedAt}).Error
	if err != nil {
		return fmt.Errorf("gorm: mark job %s started: %w", id, err)
	}
	return nil
}

func (r *GormJobRepository) MarkCompleted(ctx context.Context, id string, result domain.ExecutionResult) error {
	now := time.Now().UTC()
	state := domain.JobCompleted
	if result.TimedOut {
		state = domain.JobTimeout
	} else if !result.Success {
		state = domain.JobFailed
	}
	updates := map[string]interface{}{
		"state":             state,
		"completed_at":      now,
		"stdout":            result.Stdout,
		"stderr":            result.Stderr,
		"exit_code":         result.ExitCode,
		"execution_time_ms": result.ExecutionTimeMs,
	}
	if result.MemoryBytes > 0 {
		updates["memory_bytes"] = result.MemoryBytes
	}
	err := r.db.WithContext(ctx).Model(&domain.Job{}).
		Where("id = ? AND state NOT IN ?", id, terminalStates()).
		Updates(updates).Error
	if err != nil {
		return fmt.Errorf("gorm: mark job %s completed: %w", id, err)
	}
	return nil
}

func (r *GormJobRepository) MarkFailed(ctx context.Context, id string, stderr string, exitCode *int) error {
	updates := map[string]interface{}{
		"state":        domain.JobFailed,
		"completed_at": time.Now().UTC(),
		"stderr":       stderr,
	}
	if exitCode != nil {
		updates["exit_code"] = *exitCode
	}
	err := r.db.WithContext(ctx).Model(&domain.Job{}).
		Where("id = ? AND state NOT IN ?", id, terminalStates()).
		Updates(updates).Error
	if err != nil {
		return fmt.Errorf("gorm: mark job %s failed: %w", id, err)
	}
	return nil
}

func (r *GormJobRepository) MarkTimeout(ctx context.Context, id string) error {
	err := r.db.WithContext(ctx).Model(&domain.Job{}).
		Where("id = ? AND state NOT IN ?", id, terminalStates()).
		Updates(map[string]interface{}{"state": domain.JobTimeout, "completed_at": time.Now().UTC()}).Error
	if err != nil {
		return fmt.Errorf("gorm: mark job %s timeout: %w", id, err)
	}
	return nil
}

// Cancel cancels a job in Queued or Running state. The first terminal write wins: the
// WHERE clause only matches non-terminal rows, so a concurrent terminal write that lands
// first makes this a no-op rather than clobbering the authoritative result.
func (r *GormJobRepository) Cancel(ctx context.Context, id string) (bool, error) {
	result := r.db.WithContext(ctx).Model(&domain.Job{}).
		Where("id = ? AND state IN ?", id, []domain.JobState{domain.JobQueued, domain.JobRunning}).
		Updates(map[string]interface{}{"state": domain.JobCancelled, "completed_at": time.Now().UTC()})
	if result.Error != nil {
		return false, fmt.Errorf("gorm: cancel job %s: %w", id, result.Error)
	}
	return result.RowsAffected > 0, nil
}

func (r *GormJobRepository) DeleteOlderThan(ctx context.Context, days int) (int64, error) {
	cutoff := time.Now().Add(-time.Duration(days) * 24 * time.Hour)
	result := r.db.WithContext(ctx).
		Where("created_at < ? AND state IN ?", cutoff, terminalStates()).
		Delete(&domain.Job{})
	if result.Error != nil {
		return 0, fmt.Errorf("gorm: delete old jobs: %w", result.Error)
	}
	return result.RowsAffected, nil
}

func (r *GormJobRepository) CountRecentByUser(ctx context.Context, userID string, since time.Time) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&domain.Job{}).
		Where("user_id = ? AND created_at > ?", userID, since).Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("gorm: count recent jobs for user %s: %w", userID, err)
	}
	return count, nil
}

func terminalStates() []domain.JobState {
	return []domain.JobState{domain.JobCompleted, domain.JobFailed, domain.JobTimeout, domain.JobCancelled}
}
