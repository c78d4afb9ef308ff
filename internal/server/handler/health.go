package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

// healthCheckTimeout bounds each dependency probe.
const healthCheckTimeout = 3 * time.Second

// Check probes one dependency.
type Check func(ctx context.Context) error

// HealthHandler serves the health-check endpoint, probing each registered
// dependency.
type HealthHandler struct {
	checks map[string]Check
	logger *slog.Logger
}

// NewHealthHandler creates a HealthHandler. checks maps a dependency name
// (e.g. "postgres", "redis") to its probe; nil probes are skipped.
func NewHealthHandler(checks map[string]Check, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{
		checks: checks,
		logger: logHandler(logger, "health"),
	}
}

// HealthCheck probes all dependencies and reports per-dependency status. The
// response is 200 when everything passes, 503 otherwise.
// GET /api/health
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	deps := make(map[string]string, len(h.checks))

	for name, check := range h.checks {
		if check == nil {
			continue
		}
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		err := check(ctx)
		cancel()

		if err != nil {
			deps[name] = err.Error()
			status = http.StatusServiceUnavailable
			h.logger.WarnContext(r.Context(), "health check failed",
				slog.String("dependency", name),
				slog.String("error", err.Error()),
			)
			continue
		}
		deps[name] = "ok"
	}

	overall := "ok"
	if status != http.StatusOK {
		overall = "degraded"
	}

	writeJSON(w, status, map[string]any{
		"status":       overall,
		"dependencies": deps,
		"timestamp":    time.Now().UTC().Format(time.RFC3339),
	})
}
