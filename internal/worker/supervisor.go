package worker

import (
	"context"
	"time"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"collabrun/internal/repository"
)

// stuckJobGraceMs is added on top of a job's own wallTimeoutMs before the sweep
// considers a still-Running job stuck; execution, persistence, and notification all
// take some time beyond the sandbox's own deadline.
const stuckJobGraceMs = 30_000

// StuckJobSweepHandler implements the Background Supervisor's periodic sweep: any job
// left in Running past wallTimeoutMs+grace is force-marked Timeout, recovering from a
// worker crash mid-execution that never reached MarkCompleted.
type StuckJobSweepHandler struct {
	jobs repository.JobRepository
}

func NewStuckJobSweepHandler(jobs repository.JobRepository) *StuckJobSweepHandler {
	return &StuckJobSweepHandler{jobs: jobs}
}

func (h *StuckJobSweepHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	running, err := h.jobs.FindRunningJobs(ctx)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	swept := 0
	for _, job := range running {
		if job.StartedAt == nil {
			continue
		}
		opts, err := job.Options()
		if err != nil {
			continue
		}
		deadline := job.StartedAt.Add(time.Duration(opts.WallTimeoutMs+stuckJobGraceMs) * time.Millisecond)
		if now.Before(deadline) {
			continue
		}
		if err := h.jobs.MarkTimeout(ctx, job.ID); err != nil {
			logrus.WithField("job_id", job.ID).WithError(err).Error("stuck job sweep: mark timeout failed")
			continue
		}
		swept++
	}
	if swept > 0 {
		logrus.WithField("count", swept).Warn("stuck job sweep: recovered jobs stuck past their deadline")
	}
	return nil
}

// CleanupHandler implements the Background Supervisor's periodic retention cleanup,
// deleting terminal-state job rows past the configured retention window.
type CleanupHandler struct {
	jobs          repository.JobRepository
	retentionDays int
}

func NewCleanupHandler(jobs repository.JobRepository, retentionDays int) *CleanupHandler {
	if retentionDays <= 0 {
		retentionDays = 7
	}
	return &CleanupHandler{jobs: jobs, retentionDays: retentionDays}
}

func (h *CleanupHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	deleted, err := h.jobs.DeleteOlderThan(ctx, h.retentionDays)
	if err != nil {
		return err
	}
	if deleted > 0 {
		logrus.WithField("count", deleted).Info("cleanup: purged expired job records")
	}
	return nil
}
