package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/isdelr/access-panel-be/internal/monitoring"
	"github.com/rs/zerolog/log"
)

// Pinger is satisfied by *sql.DB.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// HostStatusSource returns the latest host sample.
type HostStatusSource interface {
	Status() monitoring.HostStatus
}

// HealthHandler reports database reachability and host resources.
type HealthHandler struct {
	db   Pinger
	host HostStatusSource
}

// NewHealthHandler creates a new HealthHandler. host may be nil.
func NewHealthHandler(db Pinger, host HostStatusSource) *HealthHandler {
	return &HealthHandler{db: db, host: host}
}

// Health handles GET /health.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	body := map[string]any{"status": "ok", "database": "ok"}
	status := http.StatusOK
	if err := h.db.PingContext(ctx); err != nil {
		log.Error().Err(err).Msg("Health check: database unreachable")
		body["status"] = "degraded"
		body["database"] = "unreachable"
		status = http.StatusServiceUnavailable
	}
	if h.host != nil {
		body["host"] = h.host.Status()
	}
	writeJSON(w, status, body)
}
