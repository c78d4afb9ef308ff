// Package server exposes the monitor's HTTP + WebSocket API.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tradewatch/sentinel/internal/domain"
	"github.com/tradewatch/sentinel/internal/server/handler"
	"github.com/tradewatch/sentinel/internal/server/middleware"
	"github.com/tradewatch/sentinel/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // if empty, authentication is disabled

	// RateLimit caps requests per client IP per RateWindow. Zero disables
	// rate limiting.
	RateLimit  int
	RateWindow time.Duration
}

// Handlers aggregates all HTTP handlers that the server needs to register.
type Handlers struct {
	Health     *handler.HealthHandler
	Alerts     *handler.AlertHandler
	Thresholds *handler.ThresholdHandler
	Exposure   *handler.ExposureHandler
	Archive    *handler.ArchiveHandler
	Audit      *handler.AuditHandler
}

// Server is the headless HTTP + WebSocket API server for the risk monitor.
type Server struct {
	httpServer *http.Server
	mux        *http.ServeMux
	logger     *slog.Logger
}

// NewServer creates a new Server with all routes registered on the ServeMux.
// It wires up middleware (logging, CORS, auth, rate limiting) and attaches
// the WebSocket hub. limiter may be nil.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	// Health check and metrics (no auth required in the chain below; the
	// auth middleware guards everything uniformly, which is acceptable for
	// an internal ops API).
	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)
	mux.Handle("GET /metrics", promhttp.Handler())

	// Alert endpoints.
	mux.HandleFunc("GET /api/alerts", handlers.Alerts.ListAlerts)
	mux.HandleFunc("GET /api/alerts/statistics", handlers.Alerts.GetStatistics)
	mux.HandleFunc("GET /api/alerts/{id}", handlers.Alerts.GetAlert)
	mux.HandleFunc("POST /api/alerts/{id}/acknowledge", handlers.Alerts.AcknowledgeAlert)
	mux.HandleFunc("POST /api/alerts/{id}/resolve", handlers.Alerts.ResolveAlert)
	mux.HandleFunc("GET /api/alerts/{id}/notifications", handlers.Alerts.ListNotifications)

	// Threshold configuration.
	mux.HandleFunc("GET /api/thresholds/{category}/{severity}", handlers.Thresholds.GetThreshold)
	mux.HandleFunc("PUT /api/thresholds", handlers.Thresholds.UpdateGlobalThreshold)
	mux.HandleFunc("PUT /api/users/{id}/thresholds", handlers.Thresholds.SetUserThreshold)

	// Positions and exposure.
	mux.HandleFunc("GET /api/positions/{user_id}", handlers.Exposure.GetPosition)
	mux.HandleFunc("POST /api/exposure/{user_id}/snapshot", handlers.Exposure.CreateSnapshot)
	mux.HandleFunc("GET /api/exposure/snapshots", handlers.Exposure.ListSnapshots)

	// Cold-storage archives.
	mux.HandleFunc("GET /api/archives", handlers.Archive.ListArchives)
	mux.HandleFunc("POST /api/archives/run", handlers.Archive.TriggerArchive)

	// Audit log.
	mux.HandleFunc("GET /api/audit", handlers.Audit.ListAudit)

	// WebSocket endpoint.
	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	// Build the middleware chain, innermost first.
	var h http.Handler = mux
	h = middleware.Auth(cfg.APIKey)(h)
	if limiter != nil && cfg.RateLimit > 0 {
		window := cfg.RateWindow
		if window <= 0 {
			window = time.Second
		}
		h = middleware.RateLimit(limiter, cfg.RateLimit, window)(h)
	}
	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      h,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		httpServer: srv,
		mux:        mux,
		logger:     logger,
	}
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting",
		slog.String("addr", s.httpServer.Addr),
	)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server, waiting for in-flight requests
// to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
