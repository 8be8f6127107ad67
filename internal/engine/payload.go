package engine

import (
	"encoding/json"

	"github.com/curricle/curricle/internal/units"
	"github.com/curricle/curricle/workflow"
)

// stagePayload is the input handed to every unit: the original request
// fields, the outputs of succeeded upstream stages keyed by stage id, and
// the degraded marker when an optional upstream permanently failed.
type stagePayload struct {
	DocumentID    string                     `json:"document_id"`
	Program       string                     `json:"program"`
	Institution   string                     `json:"institution"`
	Options       workflow.AnalysisOptions   `json:"options"`
	Upstream      map[string]json.RawMessage `json:"upstream,omitempty"`
	DegradedInput bool                       `json:"degraded_input,omitempty"`
}

// envelope builds the call envelope for a stage about to dispatch.
// env.Attempt carries the attempts already consumed so numbering stays
// monotonic across replays.
func (e *Engine) envelope(
	wf *workflow.Workflow,
	node *workflow.StageNode,
) (units.Envelope, error) {
	payload := stagePayload{
		DocumentID:    wf.Request.DocumentID.String(),
		Program:       wf.Request.Program,
		Institution:   wf.Request.Institution,
		Options:       wf.Request.Options,
		DegradedInput: node.DegradedInput,
	}

	for _, dep := range node.DependsOn {
		up := wf.Stage(dep)
		if up == nil || up.Status != workflow.StageSucceeded {
			continue
		}
		if payload.Upstream == nil {
			payload.Upstream = make(map[string]json.RawMessage)
		}
		payload.Upstream[dep] = up.Output
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return units.Envelope{}, workflow.NewStageError(
			workflow.ErrKindInvalidInput,
			"encode stage payload: %v", err,
		)
	}

	return units.Envelope{
		WorkflowID: wf.ID,
		StageID:    node.ID,
		Attempt:    node.Attempts,
		Payload:    raw,
	}, nil
}
