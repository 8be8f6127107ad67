package workflow

import (
	"errors"
	"fmt"
)

// ErrorKind classifies stage-level failures for retry and escalation policy.
type ErrorKind string

// Error kinds. Transient and UnitFailure are retryable up to the attempt
// budget; InvalidInput bypasses retry and dead-letters immediately;
// Cancelled is terminal and never retried.
const (
	ErrKindTransient    ErrorKind = "transient"
	ErrKindInvalidInput ErrorKind = "invalid-input"
	ErrKindUnitFailure  ErrorKind = "unit-failure"
	ErrKindCancelled    ErrorKind = "cancelled"
)

// Retryable reports whether errors of this kind are subject to retry.
func (k ErrorKind) Retryable() bool {
	return k == ErrKindTransient || k == ErrKindUnitFailure
}

// StageError is a classified stage failure.
type StageError struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// NewStageError creates a StageError with the given kind.
func NewStageError(kind ErrorKind, format string, args ...any) *StageError {
	return &StageError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Classify extracts the ErrorKind from err. Errors that do not carry a
// StageError are treated as transient, which keeps unknown infrastructure
// failures retryable.
func Classify(err error) ErrorKind {
	var se *StageError
	if errors.As(err, &se) {
		return se.Kind
	}
	return ErrKindTransient
}

// AsStageError converts err to a StageError, classifying it if needed.
func AsStageError(err error) *StageError {
	var se *StageError
	if errors.As(err, &se) {
		return se
	}
	return &StageError{Kind: Classify(err), Message: err.Error()}
}

// Sentinel errors for workflow operations.
var (
	ErrUnknownType    = errors.New("unknown analysis type")
	ErrAlreadyRunning = errors.New("workflow already running")
	ErrNotFound       = errors.New("workflow not found")
	ErrNotTerminal    = errors.New("workflow has not reached a terminal state")
	ErrStageNotFound  = errors.New("stage not found")
)
