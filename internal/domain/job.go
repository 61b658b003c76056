package domain

import (
	"encoding/json"
	"time"
)

// JobState is the state a Job occupies in its monotonic lifecycle. Once terminal it never changes.
type JobState string

const (
	JobQueued    JobState = "Queued"
	JobRunning   JobState = "Running"
	JobCompleted JobState = "Completed"
	JobFailed    JobState = "Failed"
	JobTimeout   JobState = "Timeout"
	JobCancelled JobState = "Cancelled"
)

// IsTerminal reports whether state permits no further transition.
func (s JobState) IsTerminal() bool {
	switch s {
	case JobCompleted, JobFailed, JobTimeout, JobCancelled:
		return true
	default:
		return false
	}
}

// ExecutionOptions is the resource-limit profile for one sandbox run. Always fully populated
// after admission; no field is left zero-valued for "use the default".
type ExecutionOptions struct {
	MemoryLimit       string   `json:"memoryLimit"`
	CPULimit          float64  `json:"cpuLimit"`
	WallTimeoutMs      int      `json:"wallTimeoutMs"`
	ProcessCountLimit int      `json:"processCountLimit"`
	CompilerFlags     []string `json:"compilerFlags"`
}

// DefaultExecutionOptions returns the admission defaults from the external contract.
func DefaultExecutionOptions() ExecutionOptions {
	return ExecutionOptions{
		MemoryLimit:       "128m",
		CPULimit:          0.5,
		WallTimeoutMs:     30000,
		ProcessCountLimit: 32,
		CompilerFlags:     []string{"-std=c++17", "-Wall", "-Wextra"},
	}
}

// Job is one row per compilation/execution submission.
type Job struct {
	ID              string   `gorm:"primaryKey;size:36"`
	RoomID          string   `gorm:"index;size:36;not null"`
	UserID          string   `gorm:"size:191;not null"`
	Code            string   `gorm:"type:mediumtext;not null"`
	OptionsJSON     string   `gorm:"type:text;not null;column:options_json"`
	State           JobState `gorm:"size:20;not null;index"`
	CreatedAt       time.Time `gorm:"autoCreateTime;index"`
	StartedAt       *time.Time
	CompletedAt     *time.Time
	Stdout          string `gorm:"type:mediumtext"`
	Stderr          string `gorm:"type:mediumtext"`
	ExitCode        *int
	ExecutionTimeMs *int64
	MemoryBytes     *int64
}

func (Job) TableName() string { return "compile_jobs" }

// Options unmarshals the persisted effective options.
func (j *Job) Options() (ExecutionOptions, error) {
	var opts ExecutionOptions
	if j.OptionsJSON == "" {
		return opts, nil
	}
	return opts, json.Unmarshal([]byte(j.OptionsJSON), &opts)
}

// SetOptions serializes and stores the effective options.
func (j *Job) SetOptions(opts ExecutionOptions) error {
	data, err := json.Marshal(opts)
	if err != nil {
		return err
	}
	j.OptionsJSON = string(data)
	return nil
}
