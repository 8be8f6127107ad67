package deadletter

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/curricle/curricle/pkg/handlers"
	"github.com/curricle/curricle/pkg/pagination"
	"github.com/curricle/curricle/pkg/routes"
	"github.com/curricle/curricle/workflow"
)

// Replayer re-attempts a dead-lettered stage. Implemented by the workflow
// engine; the replayed attempt updates the original stage node.
type Replayer interface {
	Replay(ctx context.Context, rec *Record) (*workflow.StageNode, error)
}

// Handler provides HTTP endpoints for dead-letter inspection and replay.
type Handler struct {
	sys        System
	replayer   Replayer
	logger     *slog.Logger
	pagination pagination.Config
}

// NewHandler creates a Handler with the given system, replayer, logger, and
// pagination config.
func NewHandler(
	sys System,
	replayer Replayer,
	logger *slog.Logger,
	pagination pagination.Config,
) *Handler {
	return &Handler{
		sys:        sys,
		replayer:   replayer,
		logger:     logger.With("handler", "deadletter"),
		pagination: pagination,
	}
}

// Routes returns the route group definition for dead-letter endpoints.
func (h *Handler) Routes() routes.Group {
	return routes.Group{
		Prefix: "/dead-letters",
		Routes: []routes.Route{
			{Method: "GET", Pattern: "", Handler: h.List},
			{Method: "GET", Pattern: "/{id}", Handler: h.Find},
			{Method: "GET", Pattern: "/{id}/payload", Handler: h.Payload},
			{Method: "POST", Pattern: "/{id}/replay", Handler: h.Replay},
		},
	}
}

// List returns a paginated list of dead-letter records with optional filters.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	page := pagination.PageRequestFromQuery(r.URL.Query(), h.pagination)
	filters := FiltersFromQuery(r.URL.Query())

	result, err := h.sys.List(r.Context(), page, filters)
	if err != nil {
		handlers.RespondError(w, h.logger, http.StatusInternalServerError, err)
		return
	}

	handlers.RespondJSON(w, http.StatusOK, result)
}

// Find returns a single record by its UUID path parameter.
func (h *Handler) Find(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		handlers.RespondError(w, h.logger, http.StatusBadRequest, ErrInvalidID)
		return
	}

	rec, err := h.sys.Find(r.Context(), id)
	if err != nil {
		handlers.RespondError(w, h.logger, MapHTTPStatus(err), err)
		return
	}

	handlers.RespondJSON(w, http.StatusOK, rec)
}

// Payload streams the payload snapshot captured when the stage dead-lettered.
func (h *Handler) Payload(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		handlers.RespondError(w, h.logger, http.StatusBadRequest, ErrInvalidID)
		return
	}

	rec, err := h.sys.Find(r.Context(), id)
	if err != nil {
		handlers.RespondError(w, h.logger, MapHTTPStatus(err), err)
		return
	}

	info, body, err := h.sys.Payload(r.Context(), rec)
	if err != nil {
		handlers.RespondError(w, h.logger, MapHTTPStatus(err), err)
		return
	}
	defer body.Close()

	w.Header().Set("Content-Type", info.ContentType)
	if info.Size > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(info.Size, 10))
	}
	w.WriteHeader(http.StatusOK)

	if _, err := io.Copy(w, body); err != nil {
		h.logger.Warn("payload stream interrupted", "id", rec.ID, "error", err)
	}
}

// Replay re-attempts the recorded stage against its snapshotted payload.
// On success the record is marked replayed and the updated stage returned.
func (h *Handler) Replay(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		handlers.RespondError(w, h.logger, http.StatusBadRequest, ErrInvalidID)
		return
	}

	rec, err := h.sys.Find(r.Context(), id)
	if err != nil {
		handlers.RespondError(w, h.logger, MapHTTPStatus(err), err)
		return
	}

	stage, err := h.replayer.Replay(r.Context(), rec)
	if err != nil {
		handlers.RespondError(w, h.logger, MapHTTPStatus(err), err)
		return
	}

	if _, err := h.sys.MarkReplayed(r.Context(), rec.ID); err != nil {
		handlers.RespondError(w, h.logger, MapHTTPStatus(err), err)
		return
	}

	handlers.RespondJSON(w, http.StatusOK, stage)
}
