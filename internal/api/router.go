package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware())
	r.Use(s.bodySizeLimitMiddleware)

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeNotFound(w, "no such route")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, ErrCodeBadRequest, "method not allowed")
	})

	// Unauthenticated monitoring endpoints
	r.Get("/health", s.handleHealth)
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			r.Get("/status", s.handleStatus)
			r.Get("/actuators", s.handleActuators)

			r.Route("/matrix", func(r chi.Router) {
				r.Post("/on", s.handleMatrixOn)
				r.Post("/off", s.handleMatrixOff)
				r.Get("/presets", s.handleMatrixPresets)
				r.Post("/color/{name}", s.handleMatrixColor)
				r.Put("/brightness", s.handleMatrixBrightness)
			})

			r.Route("/fan", func(r chi.Router) {
				r.Post("/on", s.handleFan(true))
				r.Post("/off", s.handleFan(false))
			})

			r.Route("/pump", func(r chi.Router) {
				r.Post("/on", s.handlePumpOn)
				r.Post("/off", s.handlePumpOff)
			})

			r.Route("/auto", func(r chi.Router) {
				r.Get("/", s.handleGetAuto)
				r.Put("/targets", s.handleUpdateTargets)
				r.Post("/enable", s.handleSetAuto(true))
				r.Post("/disable", s.handleSetAuto(false))
			})

			r.Route("/sensor", func(r chi.Router) {
				r.Get("/latest", s.handleSensorLatest)
				r.Get("/history", s.handleSensorHistory)
				r.Post("/upload", s.handleSensorUpload)
			})

			r.Get("/events", s.handleEvents)

			r.Get(s.wsPath(), s.handleWebSocket)
		})
	})

	return r
}

// handleHealth returns the server health status.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"version":        s.version,
		"uptime_seconds": int64(time.Since(s.started).Seconds()),
	})
}

// wsPath is the WebSocket route under /api/v1.
func (s *Server) wsPath() string {
	if s.wsCfg.Path == "" {
		return "/ws"
	}
	return "/" + strings.TrimPrefix(s.wsCfg.Path, "/")
}
