package workflow

import (
	"time"

	"github.com/google/uuid"
)

// ProgressEvent announces a stage or workflow status transition. Events are
// ephemeral: delivery to subscribers is at-most-once, and a disconnected
// subscriber re-queries workflow state rather than relying on replay.
type ProgressEvent struct {
	WorkflowID uuid.UUID `json:"workflow_id"`
	StageID    string    `json:"stage_id,omitempty"`
	Status     string    `json:"status"`
	Permanent  bool      `json:"permanent,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// StageEvent builds a ProgressEvent for a stage transition.
func StageEvent(workflowID uuid.UUID, stage *StageNode) ProgressEvent {
	return ProgressEvent{
		WorkflowID: workflowID,
		StageID:    stage.ID,
		Status:     string(stage.Status),
		Permanent:  stage.Status == StageDeadLettered,
		Timestamp:  time.Now().UTC(),
	}
}

// RunEvent builds a ProgressEvent for a workflow-level transition.
func RunEvent(workflowID uuid.UUID, status Status) ProgressEvent {
	return ProgressEvent{
		WorkflowID: workflowID,
		Status:     string(status),
		Timestamp:  time.Now().UTC(),
	}
}
