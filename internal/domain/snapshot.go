package domain

import "time"

// SnapshotKind distinguishes why a Snapshot was written.
type SnapshotKind string

const (
	SnapshotAuto   SnapshotKind = "Auto"
	SnapshotManual SnapshotKind = "Manual"
	SnapshotBackup SnapshotKind = "Backup"
)

// Snapshot is one row per room snapshot event.
type Snapshot struct {
	ID        string       `gorm:"primaryKey;size:36"`
	RoomID    string       `gorm:"index;size:36;not null"`
	Content   string       `gorm:"type:longtext;not null"`
	CrdtState []byte       `gorm:"type:longblob"`
	CreatedAt time.Time    `gorm:"autoCreateTime;index"`
	Kind      SnapshotKind `gorm:"size:10;not null"`
}

func (Snapshot) TableName() string { return "room_snapshots" }

// MaxSnapshotsPerRoom is the retention cap; older rows are pruned after each write.
const MaxSnapshotsPerRoom = 20

// RoomUpdate is one applied CRDT update retained for audit/recovery between snapshots.
// Best-effort only: spec.md guarantees no durability of in-flight updates across crashes.
type RoomUpdate struct {
	ID        string `gorm:"primaryKey;size:36"`
	RoomID    string `gorm:"index;size:36;not null"`
	Sequence  uint64 `gorm:"not null"`
	Update    []byte `gorm:"type:blob;not null"`
	Origin    string `gorm:"size:191"`
	CreatedAt time.Time `gorm:"autoCreateTime;index"`
}

func (RoomUpdate) TableName() string { return "room_updates" }

// ExecutionResult is the output of one Sandbox Runner invocation.
type ExecutionResult struct {
	Success         bool   `json:"success"`
	Stdout          string `json:"stdout"`
	Stderr          string `json:"stderr"`
	ExitCode        int    `json:"exitCode"`
	ExecutionTimeMs int64  `json:"executionTimeMs"`
	MemoryBytes     int64  `json:"memoryBytes,omitempty"`
	TimedOut        bool   `json:"timedOut"`
	Error           string `json:"error,omitempty"`
}
