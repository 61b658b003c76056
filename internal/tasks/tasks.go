// Package tasks defines the asynq task types and payloads shared between the
// Execution Dispatcher (enqueue side) and the worker pool (handler side).
package tasks

import "encoding/json"

const (
	// TypeExecuteJob runs one admitted job's code through the sandbox.
	TypeExecuteJob = "job:execute"
	// TypeStuckJobSweep is the Background Supervisor's periodic sweep for jobs stuck
	// past their wallTimeoutMs plus a grace window.
	TypeStuckJobSweep = "supervisor:stuck_job_sweep"
	// TypeCleanup is the Background Supervisor's periodic retention cleanup.
	TypeCleanup = "supervisor:cleanup"
	// TypeRoomLifecycle is the Background Supervisor's periodic room/presence lifecycle
	// sweep: archiving inactive rooms, marking inactive participants, expiring stale
	// presence records, and releasing in-memory CRDT/presence state for rooms the hub
	// no longer has live connections for.
	TypeRoomLifecycle = "supervisor:room_lifecycle"
)

const (
	QueueCritical = "critical"
	QueueDefault  = "default"
	QueueLow      = "low"
)

// ExecuteJobPayload is TypeExecuteJob's task payload.
type ExecuteJobPayload struct {
	JobID string `json:"jobId"`
}

func NewExecuteJobPayload(jobID string) ([]byte, error) {
	return json.Marshal(ExecuteJobPayload{JobID: jobID})
}
