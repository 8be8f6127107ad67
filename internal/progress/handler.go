package progress

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/curricle/curricle/pkg/handlers"
	"github.com/curricle/curricle/pkg/routes"
)

// ErrStreamingUnsupported indicates the response writer cannot flush,
// which server-sent events require.
var ErrStreamingUnsupported = errors.New("streaming unsupported")

// Handler serves progress event streams over server-sent events.
type Handler struct {
	notifier *Notifier
	logger   *slog.Logger
}

// NewHandler creates a Handler over the given notifier.
func NewHandler(notifier *Notifier, logger *slog.Logger) *Handler {
	return &Handler{
		notifier: notifier,
		logger:   logger.With("handler", "progress"),
	}
}

// Routes returns the route group definition for progress endpoints.
func (h *Handler) Routes() routes.Group {
	return routes.Group{
		Prefix: "/progress",
		Routes: []routes.Route{
			{Method: "GET", Pattern: "", Handler: h.StreamAll},
			{Method: "GET", Pattern: "/{id}", Handler: h.Stream},
		},
	}
}

// Stream subscribes the caller to one workflow's events.
func (h *Handler) Stream(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		handlers.RespondError(w, h.logger, http.StatusBadRequest, err)
		return
	}

	sub := h.notifier.Connect(id)
	defer h.notifier.Disconnect(sub)

	h.serve(w, r, sub)
}

// StreamAll subscribes the caller to the global event feed.
func (h *Handler) StreamAll(w http.ResponseWriter, r *http.Request) {
	sub := h.notifier.ConnectGlobal()
	defer h.notifier.Disconnect(sub)

	h.serve(w, r, sub)
}

func (h *Handler) serve(w http.ResponseWriter, r *http.Request, sub *Subscription) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		handlers.RespondError(w, h.logger, http.StatusInternalServerError, ErrStreamingUnsupported)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case ev, ok := <-sub.Events():
			if !ok {
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				h.logger.Error("marshal progress event", "error", err)
				continue
			}
			fmt.Fprintf(w, "data: %s\n\n", data)
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}
