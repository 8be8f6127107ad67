// Package deadletter implements the dead-letter store for permanently failed
// stages: durable records with payload snapshots for inspection and replay.
// Records are never auto-deleted; retention is an operational concern.
package deadletter

import (
	"time"

	"github.com/google/uuid"

	"github.com/curricle/curricle/workflow"
)

// Record is a permanently failed stage retained for inspection and replay.
// SnapshotKey references the blob holding the stage payload at failure time.
type Record struct {
	ID          uuid.UUID             `json:"id"`
	WorkflowID  uuid.UUID             `json:"workflow_id"`
	StageID     string                `json:"stage_id"`
	Kind        workflow.StageKind    `json:"kind"`
	Attempts    int                   `json:"attempts"`
	Errors      []workflow.StageError `json:"errors"`
	SnapshotKey string                `json:"snapshot_key"`
	CreatedAt   time.Time             `json:"created_at"`
	ReplayedAt  *time.Time            `json:"replayed_at,omitempty"`
}

// CreateCommand carries the data needed to record a dead-lettered stage.
// Payload is the stage payload at failure time, snapshotted to blob storage.
type CreateCommand struct {
	WorkflowID uuid.UUID
	StageID    string
	Kind       workflow.StageKind
	Attempts   int
	Errors     []workflow.StageError
	Payload    []byte
}
