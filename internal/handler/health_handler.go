package handler

import (
	"context"
	"net/http"

	"github.com/rs/zerolog"

	"clubmailer/internal/service"
)

// HealthChecker reports dependency health
type HealthChecker interface {
	CheckHealth(ctx context.Context) (*service.HealthStatus, error)
}

// HealthHandler handles health check requests
type HealthHandler struct {
	healthService HealthChecker
}

// NewHealthHandler creates a new HealthHandler instance
func NewHealthHandler(healthService HealthChecker) *HealthHandler {
	return &HealthHandler{
		healthService: healthService,
	}
}

// HandleHealth handles GET /health
func (h *HealthHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	healthStatus, err := h.healthService.CheckHealth(r.Context())
	if err != nil {
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("health check failed")
		WriteError(w, http.StatusInternalServerError, "HEALTH_CHECK_FAILED", "Failed to perform health check")
		return
	}

	status := http.StatusInternalServerError
	switch healthStatus.Status {
	case service.StatusHealthy:
		status = http.StatusOK
	case service.StatusDegraded, service.StatusUnhealthy:
		status = http.StatusServiceUnavailable
	}

	_ = WriteJSON(w, status, healthStatus)
}
