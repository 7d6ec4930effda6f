package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/etofiasko/tg-bot-v2/internal/backend"
	"github.com/go-chi/chi/v5"
)

// Pinger checks a dependency's connectivity.
type Pinger interface {
	Ping(ctx context.Context) error
}

// EngineStatus reports which backends have a loaded document engine.
type EngineStatus interface {
	Loaded(id backend.ID) bool
}

// HealthHandler handles health check endpoints.
type HealthHandler struct {
	repo    Pinger
	engines EngineStatus
	timeout time.Duration
}

// NewHealthHandler creates a new health handler. engines may be nil.
func NewHealthHandler(repo Pinger, engines EngineStatus, timeout time.Duration) *HealthHandler {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HealthHandler{repo: repo, engines: engines, timeout: timeout}
}

// Health returns the health status of the API and its dependencies.
// Engines load lazily, so an unloaded engine does not degrade health.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	checks := map[string]string{"api": "ok"}
	status := map[string]interface{}{
		"status": "healthy",
		"checks": checks,
	}
	statusCode := http.StatusOK

	if err := h.repo.Ping(ctx); err != nil {
		slog.Error("Health check failed", "error", err)
		status["status"] = "degraded"
		checks["database"] = "unreachable"
		statusCode = http.StatusServiceUnavailable
	} else {
		checks["database"] = "ok"
	}

	if h.engines != nil {
		for _, id := range []backend.ID{backend.Primary, backend.Secondary} {
			state := "idle"
			if h.engines.Loaded(id) {
				state = "loaded"
			}
			checks["engine_"+string(id)] = state
		}
	}

	JSON(w, statusCode, status)
}

// RegisterHealth registers the health check route.
func (h *HealthHandler) RegisterHealth(r chi.Router) {
	r.Get("/health", h.Health)
}
