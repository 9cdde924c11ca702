package handlers

import (
	"net/http"
	"strconv"

	"github.com/isdelr/access-panel-be/internal/auth"
	"github.com/isdelr/access-panel-be/internal/services"
	"github.com/rs/zerolog/log"
)

const maxEventLimit = 200

// EventHandler handles HTTP requests related to audit events.
type EventHandler struct {
	service services.EventServiceProvider
}

// NewEventHandler creates a new EventHandler.
func NewEventHandler(service services.EventServiceProvider) *EventHandler {
	return &EventHandler{service: service}
}

// GetRecent handles the request to get the caller's recent activity.
func (h *EventHandler) GetRecent(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok || claims.Username == "" {
		writeError(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || limit <= 0 {
		limit = 20 // Default limit
	}
	limit = min(limit, maxEventLimit)

	events, err := h.service.GetRecentEvents(claims.Username, limit)
	if err != nil {
		log.Error().Err(err).Msg("Failed to retrieve events")
		writeError(w, http.StatusInternalServerError, "Failed to retrieve events")
		return
	}
	writeJSON(w, http.StatusOK, events)
}
