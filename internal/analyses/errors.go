package analyses

import (
	"errors"
	"net/http"

	"github.com/curricle/curricle/workflow"
)

// Analysis domain errors.
var (
	ErrNotFound       = errors.New("analysis not found")
	ErrDuplicate      = errors.New("analysis already exists")
	ErrInvalidID      = errors.New("invalid analysis id")
	ErrInvalidRequest = errors.New("invalid analysis request")
	ErrNoValidation   = errors.New("analysis has no validation output to re-evaluate")

	// ErrAlreadyTerminal rejects cancellation of a finished analysis.
	ErrAlreadyTerminal = errors.New("analysis already terminal")
)

// MapHTTPStatus maps analysis errors to HTTP status codes.
func MapHTTPStatus(err error) int {
	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, workflow.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrInvalidID),
		errors.Is(err, ErrInvalidRequest),
		errors.Is(err, workflow.ErrUnknownType):
		return http.StatusBadRequest
	case errors.Is(err, ErrDuplicate),
		errors.Is(err, ErrNoValidation),
		errors.Is(err, ErrAlreadyTerminal),
		errors.Is(err, workflow.ErrAlreadyRunning),
		errors.Is(err, workflow.ErrNotTerminal):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
