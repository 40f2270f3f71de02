package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/pburglin/EpicSagaBuilder/internal/services"
	"github.com/pburglin/EpicSagaBuilder/pkg/storage"
)

type HealthResponse struct {
	Status     string                 `json:"status"`
	Timestamp  time.Time              `json:"timestamp"`
	Service    string                 `json:"service"`
	Components map[string]interface{} `json:"components"`
}

type HealthHandler struct {
	store  storage.Storage
	cache  services.Cache
	logger *slog.Logger
}

// NewHealthHandler creates a health handler. cache may be nil when Redis
// is disabled.
func NewHealthHandler(store storage.Storage, cache services.Cache, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{
		store:  store,
		cache:  cache,
		logger: logger,
	}
}

func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.logger.Debug("Health check requested",
		"method", r.Method,
		"path", r.URL.Path,
		"remote_addr", r.RemoteAddr)

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	components := make(map[string]interface{})
	overallStatus := "healthy"

	if err := h.store.Ping(ctx); err != nil {
		h.logger.Warn("Database health check failed", "error", err)
		components["database"] = "unhealthy"
		overallStatus = "degraded"
	} else {
		components["database"] = "healthy"
	}

	switch {
	case h.cache == nil:
		components["redis"] = "disabled"
	case h.cache.Ping(ctx) != nil:
		h.logger.Warn("Redis health check failed")
		components["redis"] = "unhealthy"
		overallStatus = "degraded"
	default:
		components["redis"] = "healthy"
	}

	statusCode := http.StatusOK
	if overallStatus != "healthy" {
		statusCode = http.StatusServiceUnavailable
	}

	writeJSON(w, h.logger, statusCode, HealthResponse{
		Status:     overallStatus,
		Timestamp:  time.Now(),
		Service:    "epic-saga-builder",
		Components: components,
	})
}
