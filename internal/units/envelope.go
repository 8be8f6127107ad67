// Package units implements the work unit client: a uniform request/response
// contract for invoking processing units (document extraction, semantic
// comparison, peer discovery, accreditation checking, quality validation),
// with timeout enforcement and classified error reporting. The client never
// retries; retry policy is owned by internal/retry.
package units

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/curricle/curricle/workflow"
)

// Envelope is the uniform request wrapper sent to every work unit.
// Attempt numbering makes retried calls distinguishable so units with side
// effects can key their writes by (workflow_id, stage_id, attempt).
type Envelope struct {
	WorkflowID uuid.UUID       `json:"workflow_id"`
	StageID    string          `json:"stage_id"`
	Attempt    int             `json:"attempt"`
	Payload    json.RawMessage `json:"payload"`
}

// Response is the uniform result wrapper returned by every work unit.
type Response struct {
	Status string          `json:"status"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *ResponseError  `json:"error,omitempty"`
}

// ResponseError is a unit-reported failure. Kind is optional; units that
// omit it are treated as unit failures, retryable up to budget.
type ResponseError struct {
	Kind    workflow.ErrorKind `json:"kind,omitempty"`
	Message string             `json:"message"`
}

// Response status values.
const (
	ResponseSuccess = "success"
	ResponseFailure = "failure"
)

// Unwrap validates the response and returns its result payload, converting
// a reported failure into a classified StageError.
func (r *Response) Unwrap() (json.RawMessage, error) {
	switch r.Status {
	case ResponseSuccess:
		return r.Result, nil
	case ResponseFailure:
		kind := workflow.ErrKindUnitFailure
		msg := "unit reported failure without detail"
		if r.Error != nil {
			if r.Error.Kind != "" {
				kind = r.Error.Kind
			}
			msg = r.Error.Message
		}
		return nil, workflow.NewStageError(kind, "%s", msg)
	default:
		return nil, workflow.NewStageError(
			workflow.ErrKindUnitFailure,
			"unrecognized response status %q", r.Status,
		)
	}
}

// Success builds a success Response around result.
func Success(result any) (*Response, error) {
	data, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("marshal unit result: %w", err)
	}
	return &Response{Status: ResponseSuccess, Result: data}, nil
}

// Failure builds a failure Response carrying a classified error.
func Failure(kind workflow.ErrorKind, message string) *Response {
	return &Response{
		Status: ResponseFailure,
		Error:  &ResponseError{Kind: kind, Message: message},
	}
}
