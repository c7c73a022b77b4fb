package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nerrad567/dali-center/internal/auth"
)

// healthCheckTimeout bounds each dependency check of /health.
const healthCheckTimeout = 2 * time.Second

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	r.Route("/api/v1", func(r chi.Router) {
		// Health check (no auth required)
		r.Get("/health", s.handleHealth)

		// Prometheus metrics (no auth required for scrapers)
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			r.Route("/flows", func(r chi.Router) {
				r.With(s.requirePermission(auth.PermGatewayRead)).Get("/", s.handleListFlows)
				r.With(s.requirePermission(auth.PermFlowOperate)).Post("/", s.handleStartDiscovery)

				r.Route("/{id}", func(r chi.Router) {
					r.With(s.requirePermission(auth.PermGatewayRead)).Get("/", s.handleGetFlow)

					r.Group(func(r chi.Router) {
						r.Use(s.requirePermission(auth.PermFlowOperate))
						r.Post("/rescan", s.handleRescan)
						r.Post("/gateway", s.handleSelectGateway)
						r.Post("/entities", s.handleSelectEntities)
						r.Post("/cancel", s.handleCancelFlow)
					})
				})
			})

			r.Route("/gateways", func(r chi.Router) {
				r.With(s.requirePermission(auth.PermGatewayRead)).Get("/", s.handleListGateways)

				r.Route("/{serial}", func(r chi.Router) {
					r.With(s.requirePermission(auth.PermGatewayRead)).Get("/", s.handleGetGateway)
					r.With(s.requirePermission(auth.PermGatewayRemove)).Delete("/", s.handleRemoveGateway)
					r.With(s.requirePermission(auth.PermFlowOperate)).Post("/refresh", s.handleStartRefresh)
				})
			})

			r.With(s.requirePermission(auth.PermAuditRead)).Get("/audit", s.handleListAuditLogs)

			// WebSocket (token via query parameter, validated by authMiddleware)
			r.With(s.requirePermission(auth.PermGatewayRead)).Get("/ws", s.handleWebSocket)
		})
	})

	return r
}

// handleHealth returns the server health status and the state of each
// registered dependency.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	checks := make(map[string]string, len(s.health))
	for name, hc := range s.health {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		err := hc.HealthCheck(ctx)
		cancel()
		if err != nil {
			checks[name] = err.Error()
			status = "degraded"
			continue
		}
		checks[name] = "ok"
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":         status,
		"version":        s.version,
		"uptime_seconds": int64(time.Since(s.startTime).Seconds()),
		"ws_clients":     s.hub.ClientCount(),
		"checks":         checks,
	})
}
