package quality

import (
	"context"
	"encoding/json"

	"github.com/curricle/curricle/internal/units"
	"github.com/curricle/curricle/workflow"
)

// Unit is the in-process aggregate stage: it collects the quality-validate
// dimension scores and the cross-reference reports from upstream outputs,
// runs the gate, and returns the QualityVerdict as the stage result.
type Unit struct {
	gate *Gate
}

// NewUnit creates the aggregate unit over the given gate.
func NewUnit(gate *Gate) *Unit {
	return &Unit{gate: gate}
}

type aggregatePayload struct {
	Upstream map[string]json.RawMessage `json:"upstream"`
}

type validateOutput struct {
	Dimensions map[workflow.Dimension]float64 `json:"dimensions"`
}

// Call evaluates the quality gate over the upstream stage outputs.
func (u *Unit) Call(ctx context.Context, env units.Envelope) (*units.Response, error) {
	var payload aggregatePayload
	if err := json.Unmarshal(env.Payload, &payload); err != nil {
		return nil, workflow.NewStageError(
			workflow.ErrKindInvalidInput,
			"decode aggregate payload: %v", err,
		)
	}

	scores, err := DimensionScores(payload.Upstream)
	if err != nil {
		return nil, err
	}

	verdict := u.gate.Evaluate(scores, CrossReferences(payload.Upstream))
	return units.Success(verdict)
}

// DimensionScores parses the quality-validate output from a set of upstream
// stage outputs.
func DimensionScores(upstream map[string]json.RawMessage) (map[workflow.Dimension]float64, error) {
	raw, ok := upstream[string(workflow.KindQualityValidate)]
	if !ok {
		return nil, workflow.NewStageError(
			workflow.ErrKindInvalidInput,
			"missing %s output in payload", workflow.KindQualityValidate,
		)
	}

	var validated validateOutput
	if err := json.Unmarshal(raw, &validated); err != nil {
		return nil, workflow.NewStageError(
			workflow.ErrKindInvalidInput,
			"decode validation scores: %v", err,
		)
	}

	return validated.Dimensions, nil
}

// CrossReferences extracts source reports from any upstream output that
// carries one. Peer discovery and accreditation checks both contribute.
func CrossReferences(upstream map[string]json.RawMessage) []SourceReport {
	var reports []SourceReport
	for _, id := range []string{
		string(workflow.KindPeerDiscover),
		string(workflow.KindAccreditationCheck),
	} {
		raw, ok := upstream[id]
		if !ok {
			continue
		}
		var report SourceReport
		if err := json.Unmarshal(raw, &report); err != nil || report.Source == "" {
			continue
		}
		reports = append(reports, report)
	}
	return reports
}
