package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"

	"collabrun/internal/domain"
	"collabrun/internal/repository"
	"collabrun/internal/sandbox"
	"collabrun/internal/tasks"
	"collabrun/internal/telemetry"
)

// ResultNotifier pushes a completed job's result onward to whatever is holding the
// caller's live connection. Defined here, consumer-side, so the worker package never
// imports the hub. The composition root passes no notifier, so the no-op one is used.
type ResultNotifier interface {
	NotifyJobResult(roomID string, job *domain.Job)
}

// noopNotifier is used when no notifier is wired, e.g. in tests.
type noopNotifier struct{}

func (noopNotifier) NotifyJobResult(string, *domain.Job) {}

// ExecuteJobHandler runs one admitted job end to end: marks it started, executes it in
// the sandbox pool, persists the result, and notifies the room.
type ExecuteJobHandler struct {
	jobs     repository.JobRepository
	pool     *sandbox.Pool
	notifier ResultNotifier
}

func NewExecuteJobHandler(jobs repository.JobRepository, pool *sandbox.Pool, notifier ResultNotifier) *ExecuteJobHandler {
	if jobs == nil || pool == nil {
		panic("JobRepository and sandbox.Pool must be non-nil for ExecuteJobHandler")
	}
	if notifier == nil {
		notifier = noopNotifier{}
	}
	return &ExecuteJobHandler{jobs: jobs, pool: pool, notifier: notifier}
}

// ProcessTask implements asynq.Handler.
func (h *ExecuteJobHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload tasks.ExecuteJobPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("execute job: unmarshal payload: %v: %w", err, asynq.SkipRetry)
	}
	ctx, span := telemetry.StartSpan(ctx, "Dispatcher.ExecuteJob", attribute.String("job.id", payload.JobID))
	defer span.End()
	logCtx := logrus.WithField("job_id", payload.JobID)

	job, err := h.jobs.FindByID(ctx, payload.JobID)
	if err != nil {
		if err == repository.ErrNotFound {
			logCtx.Warn("execute job: job no longer exists, skipping")
			return nil
		}
		return fmt.Errorf("execute job: find job %s: %w", payload.JobID, err)
	}
	if job.State == domain.JobCancelled {
		logCtx.Info("execute job: job was cancelled before execution, skipping")
		return nil
	}

	if err := h.jobs.MarkStarted(ctx, job.ID, time.Now().UTC()); err != nil {
		return fmt.Errorf("execute job: mark started %s: %w", job.ID, err)
	}

	opts, err := job.Options()
	if err != nil {
		return fmt.Errorf("execute job: decode options for %s: %v: %w", job.ID, err, asynq.SkipRetry)
	}

	result, err := h.pool.ExecuteCode(ctx, job.ID, job.Code, opts)
	if err != nil {
		// Pool refused admission (capacity); let asynq's retry/backoff re-deliver later.
		telemetry.RecordError(ctx, err)
		return fmt.Errorf("execute job: sandbox pool: %w", err)
	}

	if err := h.jobs.MarkCompleted(ctx, job.ID, result); err != nil {
		telemetry.RecordError(ctx, err)
		logCtx.WithError(err).Error("execute job: failed to persist result")
		return fmt.Errorf("execute job: persist result for %s: %w", job.ID, err)
	}

	job.Stdout, job.Stderr = result.Stdout, result.Stderr
	job.ExitCode = &result.ExitCode
	job.ExecutionTimeMs = &result.ExecutionTimeMs
	h.notifier.NotifyJobResult(job.RoomID, job)

	logCtx.WithFields(logrus.Fields{"success": result.Success, "exit_code": result.ExitCode, "timed_out": result.TimedOut}).Info("job executed")
	return nil
}
