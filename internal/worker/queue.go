package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"collabrun/internal/domain"
	"collabrun/internal/service"
	"collabrun/internal/tasks"
)

// maxJobRetries is the number of additional delivery attempts asynq makes after a
// handler error; with the first delivery that is 3 attempts in all, per §4.4's retry policy.
const maxJobRetries = 2

// queueTimeoutGraceMs pads a job's own wallTimeoutMs so the per-attempt queue timeout
// never fires before the sandbox's own deadline would.
const queueTimeoutGraceMs = 5000

// AsynqQueue implements service.JobQueue over hibiken/asynq, keeping the service layer
// decoupled from the queue transport entirely.
type AsynqQueue struct {
	client    *asynq.Client
	inspector *asynq.Inspector
}

func NewAsynqQueue(redisOpt asynq.RedisClientOpt) *AsynqQueue {
	return &AsynqQueue{
		client:    asynq.NewClient(redisOpt),
		inspector: asynq.NewInspector(redisOpt),
	}
}

func (q *AsynqQueue) Close() error {
	cErr := q.client.Close()
	iErr := q.inspector.Close()
	if cErr != nil {
		return cErr
	}
	return iErr
}

func (q *AsynqQueue) Enqueue(ctx context.Context, job *domain.Job) error {
	payload, err := tasks.NewExecuteJobPayload(job.ID)
	if err != nil {
		return fmt.Errorf("asynq queue: marshal payload for job %s: %w", job.ID, err)
	}
	opts, err := job.Options()
	if err != nil {
		return fmt.Errorf("asynq queue: decode options for job %s: %w", job.ID, err)
	}
	timeout := time.Duration(opts.WallTimeoutMs)*time.Millisecond + queueTimeoutGraceMs*time.Millisecond

	task := asynq.NewTask(tasks.TypeExecuteJob, payload)
	if _, err := q.client.EnqueueContext(ctx, task,
		asynq.Queue(tasks.QueueDefault),
		asynq.TaskID(job.ID),
		asynq.MaxRetry(maxJobRetries),
		asynq.Timeout(timeout),
	); err != nil {
		return fmt.Errorf("asynq queue: enqueue job %s: %w", job.ID, err)
	}
	return nil
}

func (q *AsynqQueue) Cancel(ctx context.Context, jobID string) error {
	if err := q.inspector.DeleteTask(tasks.QueueDefault, jobID); err != nil {
		if err == asynq.ErrTaskNotFound {
			return nil
		}
		return fmt.Errorf("asynq queue: cancel job %s: %w", jobID, err)
	}
	return nil
}

// QueuePosition reports jobId's 1-based position among pending tasks in the default
// queue, in FIFO order. Not exact under heavy churn, but good enough for client display.
func (q *AsynqQueue) QueuePosition(ctx context.Context, jobID string) (int, bool, error) {
	pending, err := q.inspector.ListPendingTasks(tasks.QueueDefault, asynq.PageSize(1000))
	if err != nil {
		return 0, false, fmt.Errorf("asynq queue: list pending tasks: %w", err)
	}
	for i, info := range pending {
		if info.ID == jobID {
			return i + 1, true, nil
		}
	}
	return 0, false, nil
}

func (q *AsynqQueue) Stats(ctx context.Context) (service.QueueStats, error) {
	queueInfo, err := q.inspector.GetQueueInfo(tasks.QueueDefault)
	if err != nil {
		return service.QueueStats{}, fmt.Errorf("asynq queue: get queue info: %w", err)
	}
	return service.QueueStats{
		Waiting:   queueInfo.Pending + queueInfo.Scheduled + queueInfo.Retry,
		Active:    queueInfo.Active,
		Completed: queueInfo.Completed,
		Failed:    queueInfo.Failed,
		Delayed:   queueInfo.Scheduled,
	}, nil
}
