package sandbox

import (
	"context"
	"encoding/json"
	"errors"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"collabrun/internal/domain"
	"collabrun/internal/repository"
)

// ErrCapacityExceeded is returned by ExecuteCode when the number of live runs already
// equals maxConcurrent; the worker layer turns this into a queue retry.
var ErrCapacityExceeded = errors.New("sandbox: capacity exceeded")

const metricsRingSize = 60
const reaperInterval = 60 * time.Second
const reaperMaxRecordAge = 1 * time.Hour

// LifecycleEvent is published on every state change of a live run.
type LifecycleEvent struct {
	JobID string    `json:"jobId"`
	Event string    `json:"event"` // queued, started, completed, failed, stopped
	At    time.Time `json:"at"`
}

// MetricSample is one point in a job's bounded resource-usage ring buffer.
type MetricSample struct {
	At              time.Time `json:"at"`
	ExecutionTimeMs int64     `json:"executionTimeMs"`
}

type liveRun struct {
	containerName string
	startedAt     time.Time
	completedAt   *time.Time
}

// Pool is the Container Pool Manager: admission-controls concurrent sandbox runs,
// tracks live executions, publishes lifecycle events, and reaps orphans. Grounded on
// alexdev-tb-CodePortal's container_pool.go channel-semaphore idiom, adapted from
// bounding a fixed set of named containers to bounding concurrent ephemeral runs.
type Pool struct {
	runner *Runner
	state  repository.StateRepository

	sem chan struct{}

	mu      sync.Mutex
	live    map[string]*liveRun
	metrics map[string][]MetricSample

	dockerBin string
	stopOnce  sync.Once
	stopCh    chan struct{}
	draining  bool
}

type PoolConfig struct {
	MaxConcurrent int
	DockerBinary  string
}

func NewPool(runner *Runner, state repository.StateRepository, cfg PoolConfig) *Pool {
	if runner == nil || state == nil {
		panic("Runner and StateRepository must be non-nil for Pool")
	}
	maxConcurrent := cfg.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = 5
	}
	dockerBin := cfg.DockerBinary
	if dockerBin == "" {
		dockerBin = "docker"
	}
	return &Pool{
		runner:    runner,
		state:     state,
		sem:       make(chan struct{}, maxConcurrent),
		live:      make(map[string]*liveRun),
		metrics:   make(map[string][]MetricSample),
		dockerBin: dockerBin,
		stopCh:    make(chan struct{}),
	}
}

// ExecuteCode admission-controls, runs, and records one job's sandbox execution.
func (p *Pool) ExecuteCode(ctx context.Context, jobID, code string, opts domain.ExecutionOptions) (domain.ExecutionResult, error) {
	p.mu.Lock()
	if p.draining {
		p.mu.Unlock()
		return domain.ExecutionResult{}, ErrCapacityExceeded
	}
	p.mu.Unlock()

	select {
	case p.sem <- struct{}{}:
	default:
		return domain.ExecutionResult{}, ErrCapacityExceeded
	}
	defer func() { <-p.sem }()

	containerName := NewContainerName()
	run := &liveRun{containerName: containerName, startedAt: time.Now()}
	p.mu.Lock()
	p.live[jobID] = run
	p.mu.Unlock()
	p.publish(ctx, jobID, "started")

	result := p.runner.Run(ctx, jobID, containerName, code, opts)

	now := time.Now()
	p.mu.Lock()
	run.completedAt = &now
	p.recordSampleLocked(jobID, result)
	p.mu.Unlock()

	if result.TimedOut || !result.Success {
		p.publish(ctx, jobID, "failed")
	} else {
		p.publish(ctx, jobID, "completed")
	}
	return result, nil
}

func (p *Pool) recordSampleLocked(jobID string, result domain.ExecutionResult) {
	samples := p.metrics[jobID]
	samples = append(samples, MetricSample{At: time.Now(), ExecutionTimeMs: result.ExecutionTimeMs})
	if len(samples) > metricsRingSize {
		samples = samples[len(samples)-metricsRingSize:]
	}
	p.metrics[jobID] = samples
}

func (p *Pool) publish(ctx context.Context, jobID, event string) {
	payload, err := json.Marshal(LifecycleEvent{JobID: jobID, Event: event, At: time.Now().UTC()})
	if err != nil {
		return
	}
	if err := p.state.PublishEvent(ctx, "sandbox:lifecycle", payload); err != nil {
		logrus.WithField("job_id", jobID).WithError(err).Debug("lifecycle event publish failed")
	}
}

// Metrics returns a copy of jobId's bounded execution-time ring buffer.
func (p *Pool) Metrics(jobID string) []MetricSample {
	p.mu.Lock()
	defer p.mu.Unlock()
	samples := p.metrics[jobID]
	out := make([]MetricSample, len(samples))
	copy(out, samples)
	return out
}

// RunReaper blocks until ctx is cancelled, sweeping every reaperInterval: stale
// completed-run records older than reaperMaxRecordAge are dropped, and any docker
// container with collabrun's naming prefix not tracked as live is force-removed.
func (p *Pool) RunReaper(ctx context.Context) {
	ticker := time.NewTicker(reaperInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.sweepStaleRecords()
			p.sweepOrphanContainers()
		}
	}
}

func (p *Pool) sweepStaleRecords() {
	p.mu.Lock()
	defer p.mu.Unlock()
	cutoff := time.Now().Add(-reaperMaxRecordAge)
	for jobID, run := range p.live {
		if run.completedAt != nil && run.completedAt.Before(cutoff) {
			delete(p.live, jobID)
			delete(p.metrics, jobID)
		}
	}
}

// sweepOrphanContainers force-removes any docker container bearing the collabrun-
// sandbox name prefix that is not the container of a still-live run — a defensive
// backstop beyond Runner's own unconditional per-run teardown. Containers named in
// p.live are skipped; their owning job has not terminated, so removing them would kill
// it mid-run.
func (p *Pool) sweepOrphanContainers() {
	out, err := exec.Command(p.dockerBin, "ps", "-a", "--filter", "name=collabrun-", "--format", "{{.Names}}").Output()
	if err != nil {
		logrus.WithError(err).Debug("reaper: listing sandbox containers failed")
		return
	}

	p.mu.Lock()
	live := make(map[string]struct{}, len(p.live))
	for _, run := range p.live {
		if run.containerName != "" {
			live[run.containerName] = struct{}{}
		}
	}
	p.mu.Unlock()

	names := strings.Fields(string(out))
	for _, name := range names {
		if _, ok := live[name]; ok {
			continue
		}
		cmd := exec.Command(p.dockerBin, "rm", "-f", name)
		if err := cmd.Run(); err != nil {
			logrus.WithField("container", name).WithError(err).Debug("reaper: orphan removal no-op or failed")
		} else {
			logrus.WithField("container", name).Warn("reaper: removed orphaned sandbox container")
		}
	}
}

// Shutdown refuses new runs and waits (best-effort) for live runs to vacate the
// semaphore before returning.
func (p *Pool) Shutdown(ctx context.Context) {
	p.mu.Lock()
	p.draining = true
	p.mu.Unlock()
	p.stopOnce.Do(func() { close(p.stopCh) })

	for i := 0; i < cap(p.sem); i++ {
		select {
		case p.sem <- struct{}{}:
		case <-ctx.Done():
			return
		}
	}
}
