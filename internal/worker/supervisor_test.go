package worker

import (
	"context"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"collabrun/internal/domain"
)

func sweepTask() *asynq.Task {
	return asynq.NewTask("supervisor:stuck_job_sweep", nil)
}

func TestStuckJobSweepMarksJobsPastDeadlineTimeout(t *testing.T) {
	jobs := &mockJobRepository{}
	started := time.Now().UTC().Add(-time.Hour)
	opts := domain.ExecutionOptions{WallTimeoutMs: 1000}
	job := domain.Job{ID: "job-1", State: domain.JobRunning, StartedAt: &started}
	require.NoError(t, job.SetOptions(opts))

	jobs.On("FindRunningJobs", mock.Anything).Return([]domain.Job{job}, nil)
	jobs.On("MarkTimeout", mock.Anything, "job-1").Return(nil)

	h := NewStuckJobSweepHandler(jobs)
	require.NoError(t, h.ProcessTask(context.Background(), sweepTask()))
	jobs.AssertExpectations(t)
}

func TestStuckJobSweepSkipsJobsStillWithinDeadline(t *testing.T) {
	jobs := &mockJobRepository{}
	started := time.Now().UTC()
	opts := domain.ExecutionOptions{WallTimeoutMs: 60_000}
	job := domain.Job{ID: "job-1", State: domain.JobRunning, StartedAt: &started}
	require.NoError(t, job.SetOptions(opts))

	jobs.On("FindRunningJobs", mock.Anything).Return([]domain.Job{job}, nil)

	h := NewStuckJobSweepHandler(jobs)
	require.NoError(t, h.ProcessTask(context.Background(), sweepTask()))
	jobs.AssertNotCalled(t, "MarkTimeout", mock.Anything, mock.Anything)
}

func TestStuckJobSweepSkipsJobsWithoutStartedAt(t *testing.T) {
	jobs := &mockJobRepository{}
	job := domain.Job{ID: "job-1", State: domain.JobRunning, StartedAt: nil}

	jobs.On("FindRunningJobs", mock.Anything).Return([]domain.Job{job}, nil)

	h := NewStuckJobSweepHandler(jobs)
	require.NoError(t, h.ProcessTask(context.Background(), sweepTask()))
	jobs.AssertNotCalled(t, "MarkTimeout", mock.Anything, mock.Anything)
}

func TestCleanupHandlerDeletesRetainedRows(t *testing.T) {
	jobs := &mockJobRepository{}
	jobs.On("DeleteOlderThan", mock.Anything, 7).Return(int64(3), nil)

	h := NewCleanupHandler(jobs, 7)
	require.NoError(t, h.ProcessTask(context.Background(), asynq.NewTask("supervisor:cleanup", nil)))
	jobs.AssertExpectations(t)
}

func TestCleanupHandlerDefaultsRetentionWhenNonPositive(t *testing.T) {
	jobs := &mockJobRepository{}
	jobs.On("DeleteOlderThan", mock.Anything, 7).Return(int64(0), nil)

	h := NewCleanupHandler(jobs, 0)
	require.NoError(t, h.ProcessTask(context.Background(), asynq.NewTask("supervisor:cleanup", nil)))
	jobs.AssertExpectations(t)
}
