package worker

import (
	"context"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"collabrun/internal/domain"
	"collabrun/internal/repository"
	"collabrun/internal/sandbox"
	"collabrun/internal/tasks"
)

type mockJobRepository struct{ mock.Mock }

func (m *mockJobRepository) Create(ctx context.Context, job *domain.Job) error {
	return m.Called(ctx, job).Error(0)
}
func (m *mockJobRepository) FindByID(ctx context.Context, id string) (*domain.Job, error) {
	args := m.Called(ctx, id)
	job, _ := args.Get(0).(*domain.Job)
	return job, args.Error(1)
}
func (m *mockJobRepository) FindByUser(ctx context.Context, userID string, limit int) ([]domain.Job, error) {
	args := m.Called(ctx, userID, limit)
	jobs, _ := args.Get(0).([]domain.Job)
	return jobs, args.Error(1)
}
func (m *mockJobRepository) FindRunningJobs(ctx context.Context) ([]domain.Job, error) {
	args := m.Called(ctx)
	jobs, _ := args.Get(0).([]domain.Job)
	return jobs, args.Error(1)
}
func (m *mockJobRepository) MarkStarted(ctx context.Context, id string, startedAt time.Time) error {
	return m.Called(ctx, id, startedAt).Error(0)
}
func (m *mockJobRepository) MarkCompleted(ctx context.Context, id string, result domain.ExecutionResult) error {
	return m.Called(ctx, id, result).Error(0)
}
func (m *mockJobRepository) MarkFailed(ctx context.Context, id string, stderr string, exitCode *int) error {
	return m.Called(ctx, id, stderr, exitCode).Error(0)
}
func (m *mockJobRepository) MarkTimeout(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}
func (m *mockJobRepository) Cancel(ctx context.Context, id string) (bool, error) {
	args := m.Called(ctx, id)
	return args.Bool(0), args.Error(1)
}
func (m *mockJobRepository) DeleteOlderThan(ctx context.Context, days int) (int64, error) {
	args := m.Called(ctx, days)
	return args.Get(0).(int64), args.Error(1)
}
func (m *mockJobRepository) CountRecentByUser(ctx context.Context, userID string, since time.Time) (int64, error) {
	args := m.Called(ctx, userID, since)
	return args.Get(0).(int64), args.Error(1)
}

type noopStateRepository struct{}

func (noopStateRepository) CheckRateLimit(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	return false, nil
}
func (noopStateRepository) PublishEvent(ctx context.Context, channel string, payload []byte) error {
	return nil
}
func (noopStateRepository) CacheCrdtState(ctx context.Context, roomID string, state []byte, minInterval time.Duration) (bool, error) {
	return false, nil
}
func (noopStateRepository) QueueDepth(ctx context.Context) (int, error) { return 0, nil }

func newTestPool() *sandbox.Pool {
	runner := sandbox.NewRunner(sandbox.RunnerConfig{})
	return sandbox.NewPool(runner, noopStateRepository{}, sandbox.PoolConfig{MaxConcurrent: 1})
}

func taskFor(t *testing.T, jobID string) *asynq.Task {
	t.Helper()
	payload, err := tasks.NewExecuteJobPayload(jobID)
	require.NoError(t, err)
	return asynq.NewTask(tasks.TypeExecuteJob, payload)
}

func TestProcessTaskRejectsMalformedPayload(t *testing.T) {
	jobs := &mockJobRepository{}
	h := NewExecuteJobHandler(jobs, newTestPool(), nil)

	task := asynq.NewTask(tasks.TypeExecuteJob, []byte("not json"))
	err := h.ProcessTask(context.Background(), task)
	require.Error(t, err)
	assert.ErrorIs(t, err, asynq.SkipRetry)
}

func TestProcessTaskSkipsWhenJobNoLongerExists(t *testing.T) {
	jobs := &mockJobRepository{}
	jobs.On("FindByID", mock.Anything, "missing").Return(nil, repository.ErrNotFound)

	h := NewExecuteJobHandler(jobs, newTestPool(), nil)
	err := h.ProcessTask(context.Background(), taskFor(t, "missing"))
	require.NoError(t, err)
}

func TestProcessTaskSkipsCancelledJob(t *testing.T) {
	jobs := &mockJobRepository{}
	jobs.On("FindByID", mock.Anything, "job-1").Return(&domain.Job{ID: "job-1", State: domain.JobCancelled}, nil)

	h := NewExecuteJobHandler(jobs, newTestPool(), nil)
	err := h.ProcessTask(context.Background(), taskFor(t, "job-1"))
	require.NoError(t, err)
}

func TestNewExecuteJobHandlerPanicsOnNilDependencies(t *testing.T) {
	assert.Panics(t, func() {
		NewExecuteJobHandler(nil, newTestPool(), nil)
	})
	assert.Panics(t, func() {
		NewExecuteJobHandler(&mockJobRepository{}, nil, nil)
	})
}
