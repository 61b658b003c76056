package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"collabrun/internal/domain"
	"collabrun/internal/repository"
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

type mockJobQueue struct{ mock.Mock }

func (m *mockJobQueue) Enqueue(ctx context.Context, job *domain.Job) error {
	return m.Called(ctx, job).Error(0)
}
func (m *mockJobQueue) Cancel(ctx context.Context, jobID string) error {
	return m.Called(ctx, jobID).Error(0)
}
func (m *mockJobQueue) QueuePosition(ctx context.Context, jobID string) (int, bool, error) {
	args := m.Called(ctx, jobID)
	return args.Int(0), args.Bool(1), args.Error(2)
}
func (m *mockJobQueue) Stats(ctx context.Context) (QueueStats, error) {
	args := m.Called(ctx)
	return args.Get(0).(QueueStats), args.Error(1)
}

func newTestJobService(jobs *mockJobRepository, queue *mockJobQueue) *JobService {
	return NewJobService(jobs, queue, DefaultJobServiceConfig())
}

func TestSubmitJobRejectsEmptyCode(t *testing.T) {
	svc := newTestJobService(&mockJobRepository{}, &mockJobQueue{})
	_, err := svc.SubmitJob(context.Background(), "room-1", "user-1", "", OptionsInput{})
	require.Error(t, err)
	assert.Equal(t, KindValidation, KindOf(err))
}

func TestSubmitJobRejectsWhenQueueFull(t *testing.T) {
	jobs := &mockJobRepository{}
	queue := &mockJobQueue{}
	queue.On("Stats", mock.Anything).Return(QueueStats{Waiting: 100, Active: 0}, nil)

	svc := newTestJobService(jobs, queue)
	_, err := svc.SubmitJob(context.Background(), "room-1", "user-1", "print(1)", OptionsInput{})
	require.Error(t, err)
	assert.Equal(t, KindQueueFull, KindOf(err))
	queue.AssertExpectations(t)
}

func TestSubmitJobRejectsWhenRateLimited(t *testing.T) {
	jobs := &mockJobRepository{}
	queue := &mockJobQueue{}
	queue.On("Stats", mock.Anything).Return(QueueStats{}, nil)
	jobs.On("CountRecentByUser", mock.Anything, "user-1", mock.Anything).Return(int64(5), nil)

	svc := newTestJobService(jobs, queue)
	_, err := svc.SubmitJob(context.Background(), "room-1", "user-1", "print(1)", OptionsInput{})
	require.Error(t, err)
	assert.Equal(t, KindRateLimited, KindOf(err))
}

func TestSubmitJobAdmitsAndEnqueues(t *testing.T) {
	jobs := &mockJobRepository{}
	queue := &mockJobQueue{}
	queue.On("Stats", mock.Anything).Return(QueueStats{}, nil)
	jobs.On("CountRecentByUser", mock.Anything, "user-1", mock.Anything).Return(int64(0), nil)
	jobs.On("Create", mock.Anything, mock.AnythingOfType("*domain.Job")).Return(nil)
	queue.On("Enqueue", mock.Anything, mock.AnythingOfType("*domain.Job")).Return(nil)

	svc := newTestJobService(jobs, queue)
	job, err := svc.SubmitJob(context.Background(), "room-1", "user-1", "print(1)", OptionsInput{})
	require.NoError(t, err)
	assert.Equal(t, domain.JobQueued, job.State)
	assert.NotEmpty(t, job.ID)
	jobs.AssertExpectations(t)
	queue.AssertExpectations(t)
}

func TestEffectiveOptionsClampsToServerMaxima(t *testing.T) {
	jobs := &mockJobRepository{}
	queue := &mockJobQueue{}
	svc := newTestJobService(jobs, queue)
	svc.config.MaxWallTimeoutMs = 5000
	svc.config.MaxCPULimit = 0.5

	requestedTimeout := 9000
	requestedCPU := 2.0
	opts, err := svc.effectiveOptions(OptionsInput{
		WallTimeoutMs: &requestedTimeout,
		CPULimit:      &requestedCPU,
	})
	require.NoError(t, err)
	assert.Equal(t, 5000, opts.WallTimeoutMs)
	assert.Equal(t, 0.5, opts.CPULimit)
}

func TestEffectiveOptionsRejectsOutOfRangeTimeout(t *testing.T) {
	svc := newTestJobService(&mockJobRepository{}, &mockJobQueue{})
	bad := 500
	_, err := svc.effectiveOptions(OptionsInput{WallTimeoutMs: &bad})
	require.Error(t, err)
	assert.Equal(t, KindValidation, KindOf(err))
}

func TestCancelJobRejectsWrongOwner(t *testing.T) {
	jobs := &mockJobRepository{}
	queue := &mockJobQueue{}
	jobs.On("FindByID", mock.Anything, "job-1").Return(&domain.Job{ID: "job-1", UserID: "owner", State: domain.JobQueued}, nil)

	svc := newTestJobService(jobs, queue)
	cancelled, err := svc.CancelJob(context.Background(), "job-1", "someone-else")
	require.NoError(t, err)
	assert.False(t, cancelled)
}

func TestCancelJobReturnsNotFound(t *testing.T) {
	jobs := &mockJobRepository{}
	queue := &mockJobQueue{}
	jobs.On("FindByID", mock.Anything, "missing").Return(nil, repository.ErrNotFound)

	svc := newTestJobService(jobs, queue)
	_, err := svc.CancelJob(context.Background(), "missing", "user-1")
	require.Error(t, err)
	assert.Equal(t, KindNotFound, KindOf(err))
}
