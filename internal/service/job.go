package service

import (
	"context"
	"errors"
	"regexp"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"collabrun/internal/domain"
	"collabrun/internal/repository"
)

const maxCodeBytes = 100 * 1024

var memoryLimitPattern = regexp.MustCompile(`^\d+[kmg]?$`)

// OptionsInput is the caller-supplied, possibly-partial resource profile accepted at
// admission; nil/zero fields fall back to JobServiceConfig defaults.
type OptionsInput struct {
	MemoryLimit       *string
	CPULimit          *float64
	WallTimeoutMs     *int
	ProcessCountLimit *int
	CompilerFlags     []string
}

// QueueStats mirrors the Dispatcher's queueStats() contract.
type QueueStats struct {
	Waiting   int
	Active    int
	Completed int
	Failed    int
	Delayed   int
}

// JobQueue is the durable queue the Execution Dispatcher enqueues admitted jobs onto;
// implemented by the asynq-backed worker package so the service layer never imports
// the queue's transport directly.
type JobQueue interface {
	Enqueue(ctx context.Context, job *domain.Job) error
	Cancel(ctx context.Context, jobID string) error
	QueuePosition(ctx context.Context, jobID string) (position int, stillQueued bool, err error)
	Stats(ctx context.Context) (QueueStats, error)
}

// JobServiceConfig holds the admission policy's tunables, sourced from §6.4's
// environment configuration.
type JobServiceConfig struct {
	MaxQueueDepth      int
	MaxUserSubmissions int
	RateWindow         time.Duration
	MaxWallTimeoutMs   int
	MaxMemoryLimit     string
	MaxCPULimit        float64
}

func DefaultJobServiceConfig() JobServiceConfig {
	return JobServiceConfig{
		MaxQueueDepth:      100,
		MaxUserSubmissions: 5,
		RateWindow:         60 * time.Second,
		MaxWallTimeoutMs:   30000,
		MaxMemoryLimit:     "128m",
		MaxCPULimit:        0.5,
	}
}

// JobService is the Execution Dispatcher's admission and status-retrieval surface,
// bridging the Job Store and the durable JobQueue.
type JobService struct {
	jobs   repository.JobRepository
	queue  JobQueue
	config JobServiceConfig
}

func NewJobService(jobs repository.JobRepository, queue JobQueue, config JobServiceConfig) *JobService {
	if jobs == nil || queue == nil {
		panic("JobRepository and JobQueue must be non-nil for JobService")
	}
	return &JobService{jobs: jobs, queue: queue, config: config}
}

// JobStatusView is the response shape for jobStatus().
type JobStatusView struct {
	Job           *domain.Job
	QueuePosition *int
}

// SubmitJob runs the admission policy in order (queue saturation, per-user rate limit,
// option merge/validation/clamp) then persists and enqueues the job.
func (s *JobService) SubmitJob(ctx context.Context, roomID, userID, code string, input OptionsInput) (*domain.Job, error) {
	if len(code) == 0 {
		return nil, ValidationError("code must not be empty")
	}
	if len(code) > maxCodeBytes {
		return nil, ValidationError("code exceeds 100 KB limit")
	}
	if roomID == "" || userID == "" {
		return nil, ValidationError("roomId and userId are required")
	}

	stats, err := s.queue.Stats(ctx)
	if err != nil {
		return nil, InternalError("read queue stats", err)
	}
	if stats.Waiting+stats.Active >= s.config.MaxQueueDepth {
		return nil, QueueFullError("queue is at capacity")
	}

	since := time.Now().Add(-s.config.RateWindow)
	recent, err := s.jobs.CountRecentByUser(ctx, userID, since)
	if err != nil {
		return nil, InternalError("count recent submissions", err)
	}
	if recent >= int64(s.config.MaxUserSubmissions) {
		return nil, RateLimitedError("submission rate limit exceeded")
	}

	opts, err := s.effectiveOptions(input)
	if err != nil {
		return nil, err
	}

	job := &domain.Job{
		ID:     uuid.NewString(),
		RoomID: roomID,
		UserID: userID,
		Code:   code,
		State:  domain.JobQueued,
	}
	if err := job.SetOptions(opts); err != nil {
		return nil, InternalError("serialize execution options", err)
	}
	if err := s.jobs.Create(ctx, job); err != nil {
		return nil, InternalError("persist job", err)
	}
	if err := s.queue.Enqueue(ctx, job); err != nil {
		logrus.WithField("job_id", job.ID).WithError(err).Error("failed to enqueue admitted job")
		return nil, InternalError("enqueue job", err)
	}
	logrus.WithFields(logrus.Fields{"job_id": job.ID, "room_id": roomID, "user_id": userID}).Info("job admitted")
	return job, nil
}

// effectiveOptions merges input over the configured defaults, validates bounds, then
// clamps wallTimeoutMs/memoryLimit/cpuLimit to the server-wide maxima. The result is
// always fully populated, resolving the source's sometimes-partial option sets.
func (s *JobService) effectiveOptions(input OptionsInput) (domain.ExecutionOptions, error) {
	opts := domain.DefaultExecutionOptions()
	opts.MemoryLimit = s.config.MaxMemoryLimit
	opts.CPULimit = s.config.MaxCPULimit
	opts.WallTimeoutMs = s.config.MaxWallTimeoutMs

	if input.MemoryLimit != nil {
		opts.MemoryLimit = *input.MemoryLimit
	}
	if input.CPULimit != nil {
		opts.CPULimit = *input.CPULimit
	}
	if input.WallTimeoutMs != nil {
		opts.WallTimeoutMs = *input.WallTimeoutMs
	}
	if input.ProcessCountLimit != nil {
		opts.ProcessCountLimit = *input.ProcessCountLimit
	}
	if input.CompilerFlags != nil {
		opts.CompilerFlags = input.CompilerFlags
	}

	if opts.WallTimeoutMs < 1000 || opts.WallTimeoutMs > 60000 {
		return opts, ValidationError("wallTimeoutMs must be in [1000, 60000]")
	}
	if !memoryLimitPattern.MatchString(opts.MemoryLimit) {
		return opts, ValidationError("memoryLimit must match ^\\d+[kmg]?$")
	}
	if opts.CPULimit <= 0 || opts.CPULimit > 4 {
		return opts, ValidationError("cpuLimit must be in (0, 4]")
	}
	if opts.ProcessCountLimit < 1 || opts.ProcessCountLimit > 1024 {
		return opts, ValidationError("processCountLimit must be in [1, 1024]")
	}

	if opts.WallTimeoutMs > s.config.MaxWallTimeoutMs {
		opts.WallTimeoutMs = s.config.MaxWallTimeoutMs
	}
	if opts.CPULimit > s.config.MaxCPULimit {
		opts.CPULimit = s.config.MaxCPULimit
	}
	if memoryLimitBytes(opts.MemoryLimit) > memoryLimitBytes(s.config.MaxMemoryLimit) {
		opts.MemoryLimit = s.config.MaxMemoryLimit
	}
	return opts, nil
}

// memoryLimitBytes converts a docker-style memory limit string ("128m", "1g", a bare
// byte count) to bytes so two limits can be compared for clamping. Returns 0 for a
// string it can't parse, which only ever happens after memoryLimitPattern has already
// rejected malformed input.
func memoryLimitBytes(s string) int64 {
	if s == "" {
		return 0
	}
	unit := s[len(s)-1]
	numPart := s
	multiplier := int64(1)
	switch unit {
	case 'k':
		multiplier = 1024
		numPart = s[:len(s)-1]
	case 'm':
		multiplier = 1024 * 1024
		numPart = s[:len(s)-1]
	case 'g':
		multiplier = 1024 * 1024 * 1024
		numPart = s[:len(s)-1]
	}
	n, err := strconv.ParseInt(numPart, 10, 64)
	if err != nil {
		return 0
	}
	return n * multiplier
}

// JobStatus returns the terminal result verbatim, or a 1-based queue position for a
// still-Queued job.
func (s *JobService) JobStatus(ctx context.Context, jobID string) (*JobStatusView, error) {
	job, err := s.jobs.FindByID(ctx, jobID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, NotFoundError("job not found")
		}
		return nil, InternalError("find job", err)
	}
	view := &JobStatusView{Job: job}
	if job.State == domain.JobQueued {
		if pos, stillQueued, err := s.queue.QueuePosition(ctx, jobID); err == nil && stillQueued {
			view.QueuePosition = &pos
		}
	}
	return view, nil
}

// CancelJob enforces ownership and the {Queued,Running} precondition before cancelling.
func (s *JobService) CancelJob(ctx context.Context, jobID, userID string) (bool, error) {
	job, err := s.jobs.FindByID(ctx, jobID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return false, NotFoundError("job not found")
		}
		return false, InternalError("find job", err)
	}
	if job.UserID != userID {
		return false, nil
	}
	if job.State != domain.JobQueued && job.State != domain.JobRunning {
		return false, nil
	}

	cancelled, err := s.jobs.Cancel(ctx, jobID)
	if err != nil {
		return false, InternalError("cancel job in store", err)
	}
	if !cancelled {
		return false, nil
	}
	if job.State == domain.JobQueued {
		if err := s.queue.Cancel(ctx, jobID); err != nil {
			logrus.WithField("job_id", jobID).WithError(err).Warn("failed to remove cancelled job from queue")
		}
	}
	return true, nil
}

func (s *JobService) QueueStats(ctx context.Context) (QueueStats, error) {
	stats, err := s.queue.Stats(ctx)
	if err != nil {
		return QueueStats{}, InternalError("read queue stats", err)
	}
	return stats, nil
}

// DeleteOldJobs purges terminal-state rows older than days. The Background Supervisor's
// 10-minute cleanup tick calls JobRepository.DeleteOlderThan directly, not this method.
func (s *JobService) DeleteOldJobs(ctx context.Context, days int) (int64, error) {
	n, err := s.jobs.DeleteOlderThan(ctx, days)
	if err != nil {
		return 0, InternalError("delete old jobs", err)
	}
	return n, nil
}
