package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/branchsight/branchsight-engine/pkg/auth"
	"github.com/branchsight/branchsight-engine/pkg/models"
)

// JobSubscriber delivers job-completion events for one tenant's session.
type JobSubscriber interface {
	Subscribe(ctx context.Context, tenantID string) (<-chan models.JobCompletionEvent, func(), error)
}

// keepaliveInterval is how often an SSE comment is written to hold idle
// connections open through proxies.
const keepaliveInterval = 30 * time.Second

// EventsHandler streams job-completion notifications over SSE.
type EventsHandler struct {
	subscriber JobSubscriber
	logger     *zap.Logger
}

// NewEventsHandler creates a new EventsHandler.
func NewEventsHandler(subscriber JobSubscriber, logger *zap.Logger) *EventsHandler {
	return &EventsHandler{subscriber: subscriber, logger: logger}
}

// RegisterRoutes registers the events route on the given mux.
func (h *EventsHandler) RegisterRoutes(mux *http.ServeMux, authMiddleware *auth.Middleware) {
	mux.HandleFunc("GET /api/events", authMiddleware.RequireTenant(h.Stream))
}

// Stream handles GET /api/events. The connection stays open until the
// client disconnects or a newer subscriber for the same tenant displaces
// this one.
func (h *EventsHandler) Stream(w http.ResponseWriter, r *http.Request) {
	tenantID := auth.TenantID(r.Context())

	flusher, ok := w.(http.Flusher)
	if !ok {
		h.logger.Error("SSE not supported")
		if err := ErrorResponse(w, http.StatusInternalServerError, "sse_unsupported", "SSE not supported"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	events, cancel, err := h.subscriber.Subscribe(r.Context(), tenantID)
	if err != nil {
		h.logger.Error("Event subscription failed",
			zap.String("tenant_id", tenantID),
			zap.Error(err))
		if err := ErrorResponse(w, http.StatusServiceUnavailable, "relay_unavailable", "Event stream is unavailable"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	keepalive := time.NewTicker(keepaliveInterval)
	defer keepalive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-keepalive.C:
			fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		case evt, open := <-events:
			if !open {
				// Displaced by a newer subscriber for this tenant.
				return
			}
			data, err := json.Marshal(evt)
			if err != nil {
				h.logger.Error("Failed to marshal event", zap.Error(err))
				continue
			}
			fmt.Fprintf(w, "data: %s\n\n", data)
			flusher.Flush()
		}
	}
}
