package units

import (
	"encoding/json"

	"github.com/curricle/curricle/workflow"
)

// payloadFields lists the top-level fields a stage kind's payload must
// carry before dispatch. Payloads are otherwise opaque to the engine.
var payloadFields = map[workflow.StageKind][]string{
	workflow.KindExtractContent:     {"document_id"},
	workflow.KindSemanticCompare:    {"upstream"},
	workflow.KindPeerDiscover:       {"institution", "program"},
	workflow.KindAccreditationCheck: {"upstream"},
	workflow.KindQualityValidate:    {"upstream"},
	workflow.KindAggregate:          {"upstream"},
}

// resultFields lists the top-level fields a stage kind's result must carry
// after return.
var resultFields = map[workflow.StageKind][]string{
	workflow.KindExtractContent:     {"sections"},
	workflow.KindSemanticCompare:    {"comparisons"},
	workflow.KindPeerDiscover:       {"source"},
	workflow.KindAccreditationCheck: {"source"},
	workflow.KindQualityValidate:    {"dimensions"},
	workflow.KindAggregate:          {"aggregate"},
}

// ValidatePayload checks the stage payload against the kind's schema.
// Violations are invalid-input errors and never retried.
func ValidatePayload(kind workflow.StageKind, payload json.RawMessage) error {
	return validate(kind, payload, payloadFields[kind], "payload")
}

// ValidateResult checks a unit result against the kind's schema.
// A malformed result is a unit failure, retryable up to budget.
func ValidateResult(kind workflow.StageKind, result json.RawMessage) error {
	if err := validate(kind, result, resultFields[kind], "result"); err != nil {
		return workflow.NewStageError(workflow.ErrKindUnitFailure, "%s", err.Error())
	}
	return nil
}

func validate(kind workflow.StageKind, doc json.RawMessage, fields []string, label string) error {
	if len(doc) == 0 {
		return workflow.NewStageError(
			workflow.ErrKindInvalidInput,
			"empty %s for stage kind %s", label, kind,
		)
	}

	var parsed map[string]json.RawMessage
	if err := json.Unmarshal(doc, &parsed); err != nil {
		return workflow.NewStageError(
			workflow.ErrKindInvalidInput,
			"%s for stage kind %s is not a JSON object: %v", label, kind, err,
		)
	}

	for _, field := range fields {
		if _, ok := parsed[field]; !ok {
			return workflow.NewStageError(
				workflow.ErrKindInvalidInput,
				"%s for stage kind %s missing required field %q", label, kind, field,
			)
		}
	}

	return nil
}
