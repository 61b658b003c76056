package worker

import (
	"context"
	"errors"
	"time"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"collabrun/internal/hub"
	"collabrun/internal/repository"
	"collabrun/internal/sandbox"
	"collabrun/internal/service"
	"collabrun/internal/tasks"
)

// Server wraps the asynq worker pool and the periodic scheduler that drives the
// Background Supervisor's stuck-job sweep, retention cleanup, and room/presence
// lifecycle sweep.
type Server struct {
	server    *asynq.Server
	scheduler *asynq.Scheduler
	handlers  struct {
		execute   *ExecuteJobHandler
		sweep     *StuckJobSweepHandler
		cleanup   *CleanupHandler
		lifecycle *RoomLifecycleHandler
	}
}

type ServerConfig struct {
	Concurrency   int
	RetentionDays int
}

// retryBackoffBase is the starting delay for asynq's exponential retry backoff, per
// §4.4's "up to 3 attempts, exponential backoff starting at 2s".
const retryBackoffBase = 2 * time.Second

func retryDelay(n int, _ error, _ *asynq.Task) time.Duration {
	delay := retryBackoffBase
	for i := 0; i < n; i++ {
		delay *= 2
	}
	return delay
}

func NewServer(
	redisOpt asynq.RedisClientOpt,
	jobs repository.JobRepository,
	pool *sandbox.Pool,
	notifier ResultNotifier,
	rooms *service.RoomService,
	presence *service.PresenceTracker,
	collab *service.CollaborationService,
	h *hub.Hub,
	cfg ServerConfig,
) *Server {
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 10
	}

	asynqServer := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency:    concurrency,
		RetryDelayFunc: retryDelay,
		Queues: map[string]int{
			tasks.QueueCritical: 6,
			tasks.QueueDefault:  3,
			tasks.QueueLow:      1,
		},
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			logrus.WithField("task_type", task.Type()).WithError(err).Error("task processing failed")
		}),
	})

	s := &Server{
		server:    asynqServer,
		scheduler: asynq.NewScheduler(redisOpt, nil),
	}
	s.handlers.execute = NewExecuteJobHandler(jobs, pool, notifier)
	s.handlers.sweep = NewStuckJobSweepHandler(jobs)
	s.handlers.cleanup = NewCleanupHandler(jobs, cfg.RetentionDays)
	s.handlers.lifecycle = NewRoomLifecycleHandler(rooms, presence, collab, h)
	return s
}

// Start runs the worker pool in the caller's goroutine; call it with `go`.
func (s *Server) Start() {
	mux := asynq.NewServeMux()
	mux.HandleFunc(tasks.TypeExecuteJob, s.handlers.execute.ProcessTask)
	mux.HandleFunc(tasks.TypeStuckJobSweep, s.handlers.sweep.ProcessTask)
	mux.HandleFunc(tasks.TypeCleanup, s.handlers.cleanup.ProcessTask)
	mux.HandleFunc(tasks.TypeRoomLifecycle, s.handlers.lifecycle.ProcessTask)

	if _, err := s.scheduler.Register("@every 30s", asynq.NewTask(tasks.TypeStuckJobSweep, nil)); err != nil {
		logrus.WithError(err).Fatal("worker: failed to register stuck job sweep")
	}
	if _, err := s.scheduler.Register("@every 10m", asynq.NewTask(tasks.TypeCleanup, nil)); err != nil {
		logrus.WithError(err).Fatal("worker: failed to register cleanup task")
	}
	if _, err := s.scheduler.Register("@every 5m", asynq.NewTask(tasks.TypeRoomLifecycle, nil)); err != nil {
		logrus.WithError(err).Fatal("worker: failed to register room lifecycle sweep")
	}
	go func() {
		if err := s.scheduler.Run(); err != nil {
			logrus.WithError(err).Error("worker: scheduler stopped")
		}
	}()

	logrus.Info("worker pool starting")
	if err := s.server.Run(mux); err != nil && !errors.Is(err, asynq.ErrServerClosed) {
		logrus.WithError(err).Fatal("worker: server stopped unexpectedly")
	}
}

func (s *Server) Shutdown() {
	s.scheduler.Shutdown()
	s.server.Shutdown()
}
