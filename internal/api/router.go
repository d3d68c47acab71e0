package api

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
)

// healthCheckTimeout bounds each component check in GET /health.
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
		r.Get("/health", s.handleHealth)
		r.Handle("/metrics", s.metricsHandler())

		r.Group(func(r chi.Router) {
			r.Use(s.identityMiddleware)

			// Live subscriptions run as the caller's role; anonymous is allowed.
			r.Get("/live", s.handleWebSocket)

			r.Group(func(r chi.Router) {
				r.Use(s.requireAuthenticated)
				r.Get("/audit", s.handleListAuditLogs)
				r.Post("/publish", s.handlePublish)
			})
		})
	})

	return r
}

// handleHealth reports the status of each registered component. Any
// failing component turns the response into a 503.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	names := make([]string, 0, len(s.health))
	for name := range s.health {
		names = append(names, name)
	}
	sort.Strings(names)

	status := "ok"
	components := make(map[string]string, len(names))
	for _, name := range names {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		err := s.health[name].HealthCheck(ctx)
		cancel()
		if err != nil {
			status = "degraded"
			components[name] = err.Error()
			continue
		}
		components[name] = "ok"
	}

	code := http.StatusOK
	if status != "ok" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]any{
		"status":        status,
		"version":       s.version,
		"uptime":        int64(time.Since(s.startTime).Seconds()),
		"subscriptions": s.manager.Count(),
		"clients":       s.hub.ClientCount(),
		"components":    components,
	})
}
