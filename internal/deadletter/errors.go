package deadletter

import (
	"errors"
	"net/http"

	"github.com/curricle/curricle/pkg/storage"
	"github.com/curricle/curricle/workflow"
)

// Domain errors for dead-letter operations.
var (
	ErrNotFound  = errors.New("dead-letter record not found")
	ErrDuplicate = errors.New("dead-letter record already exists")
	ErrInvalidID = errors.New("invalid dead-letter id")
)

// MapHTTPStatus maps dead-letter domain errors, the workflow sentinels a
// replay can surface, and storage errors to HTTP status codes. A classified
// stage failure means the replayed unit ran and failed again.
func MapHTTPStatus(err error) int {
	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, workflow.ErrNotFound),
		errors.Is(err, workflow.ErrStageNotFound),
		errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrDuplicate),
		errors.Is(err, workflow.ErrAlreadyRunning),
		errors.Is(err, workflow.ErrNotTerminal):
		return http.StatusConflict
	case errors.Is(err, ErrInvalidID):
		return http.StatusBadRequest
	}

	var stageErr *workflow.StageError
	if errors.As(err, &stageErr) {
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}
