package analyses

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/curricle/curricle/pkg/handlers"
	"github.com/curricle/curricle/pkg/pagination"
	"github.com/curricle/curricle/pkg/routes"
	"github.com/curricle/curricle/workflow"
)

// Handler provides HTTP endpoints for accepting and observing analyses.
type Handler struct {
	sys        System
	runner     Runner
	logger     *slog.Logger
	pagination pagination.Config
}

// NewHandler creates a Handler with the given system, runner, logger, and
// pagination config.
func NewHandler(
	sys System,
	runner Runner,
	logger *slog.Logger,
	pagination pagination.Config,
) *Handler {
	return &Handler{
		sys:        sys,
		runner:     runner,
		logger:     logger.With("handler", "analyses"),
		pagination: pagination,
	}
}

// Routes returns the route group definition for analysis endpoints.
func (h *Handler) Routes() routes.Group {
	return routes.Group{
		Prefix: "/analyses",
		Routes: []routes.Route{
			{Method: "POST", Pattern: "", Handler: h.Start},
			{Method: "GET", Pattern: "", Handler: h.List},
			{Method: "GET", Pattern: "/{id}", Handler: h.Find},
			{Method: "POST", Pattern: "/{id}/cancel", Handler: h.Cancel},
			{Method: "POST", Pattern: "/{id}/verdict", Handler: h.Reevaluate},
		},
	}
}

// Start accepts an analysis request and returns the pending workflow.
func (h *Handler) Start(w http.ResponseWriter, r *http.Request) {
	var req workflow.AnalysisRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		handlers.RespondError(w, h.logger, http.StatusBadRequest, ErrInvalidRequest)
		return
	}

	if err := validateRequest(req); err != nil {
		handlers.RespondError(w, h.logger, MapHTTPStatus(err), err)
		return
	}

	wf, err := h.runner.Start(r.Context(), req)
	if err != nil {
		handlers.RespondError(w, h.logger, MapHTTPStatus(err), err)
		return
	}

	handlers.RespondJSON(w, http.StatusAccepted, wf)
}

// List returns a paginated list of workflows with optional filters.
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

// Find returns the current workflow state: the live run when active, the
// stored snapshot otherwise.
func (h *Handler) Find(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		handlers.RespondError(w, h.logger, http.StatusBadRequest, ErrInvalidID)
		return
	}

	if wf, ok := h.runner.Status(id); ok {
		handlers.RespondJSON(w, http.StatusOK, wf)
		return
	}

	wf, err := h.sys.Find(r.Context(), id)
	if err != nil {
		handlers.RespondError(w, h.logger, MapHTTPStatus(err), err)
		return
	}

	handlers.RespondJSON(w, http.StatusOK, wf)
}

// Cancel stops an active workflow. Cancelling a terminal workflow conflicts.
func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		handlers.RespondError(w, h.logger, http.StatusBadRequest, ErrInvalidID)
		return
	}

	if err := h.runner.Cancel(id); err != nil {
		if errors.Is(err, workflow.ErrNotFound) {
			// Not active: distinguish unknown from already terminal.
			if _, findErr := h.sys.Find(r.Context(), id); findErr == nil {
				err = ErrAlreadyTerminal
			}
		}
		handlers.RespondError(w, h.logger, MapHTTPStatus(err), err)
		return
	}

	handlers.RespondJSON(w, http.StatusAccepted, map[string]string{
		"id":     id.String(),
		"status": string(workflow.StatusCancelled),
	})
}

// Reevaluate re-runs the quality gate over a terminal workflow.
func (h *Handler) Reevaluate(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		handlers.RespondError(w, h.logger, http.StatusBadRequest, ErrInvalidID)
		return
	}

	verdict, err := h.sys.Reevaluate(r.Context(), id)
	if err != nil {
		handlers.RespondError(w, h.logger, MapHTTPStatus(err), err)
		return
	}

	handlers.RespondJSON(w, http.StatusOK, verdict)
}

func validateRequest(req workflow.AnalysisRequest) error {
	if req.DocumentID == uuid.Nil {
		return ErrInvalidRequest
	}
	if req.Program == "" || req.Institution == "" {
		return ErrInvalidRequest
	}
	if _, err := workflow.TemplateFor(req.Type); err != nil {
		return err
	}
	return nil
}
