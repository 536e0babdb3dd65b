package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nerrad567/qlc-bridge/internal/bridges/qlc"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	// Prometheus scrape endpoint (no auth, same as health)
	r.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			r.Get("/metrics", s.handleMetrics)

			r.Route("/functions", func(r chi.Router) {
				r.Get("/", s.handleListFunctions)
				r.Get("/{id}", s.handleGetFunction)
				r.Get("/{id}/history", s.handleFunctionHistory)
			})

			r.Route("/widgets", func(r chi.Router) {
				r.Get("/", s.handleListWidgets)
				r.Get("/{id}", s.handleGetWidget)
			})

			r.Get("/audit", s.handleListAudit)
			r.Get("/ws", s.handleWebSocket)

			// Mutating routes
			r.Group(func(r chi.Router) {
				r.Use(s.requireOperator)

				r.Post("/commands", s.handleCommand)
				r.Post("/refresh", s.handleRefresh)
				r.Delete("/classifications", s.handleResetClassifications)
			})
		})
	})

	return r
}

// handleHealth returns the server health status.
// The response is 200 even when the controller is down; status says degraded.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	state := s.controller.State()
	status := "ok"
	if state != qlc.StateConnected {
		status = "degraded"
	}

	resp := map[string]any{
		"status":     status,
		"version":    s.version,
		"controller": state.String(),
	}
	if s.mqtt != nil {
		resp["mqtt_connected"] = s.mqtt.IsConnected()
	}
	writeJSON(w, http.StatusOK, resp)
}
