package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
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

	// Module connections (firmware hardcodes the path, outside /api/v1)
	if s.gateway != nil {
		path := s.devicesCfg.Path
		if path == "" {
			path = "/esp32"
		}
		r.Handle(path, s.gateway)
	}

	r.Route("/api/v1", func(r chi.Router) {
		// Health check (no auth required)
		r.Get("/health", s.handleHealth)

		r.Post("/auth/login", s.handleLogin)

		// WebSocket (auth via ticket, validated in handler)
		r.Get(wsPath(s.wsCfg.Path), s.handleWebSocket)

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			r.Post("/auth/logout", s.handleLogout)
			r.Post("/auth/ws-ticket", s.handleWSTicket)

			r.Get("/me", s.handleGetMe)
			r.Patch("/me", s.handleUpdateMe)

			r.Route("/modules", func(r chi.Router) {
				r.Get("/", s.handleListModules)
				r.Post("/claim", s.handleClaimModule)

				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", s.handleGetModule)
					r.Delete("/", s.handleReleaseModule)
					r.Post("/command", s.handleModuleCommand)
				})
			})

			r.Route("/admin", func(r chi.Router) {
				r.Use(s.requireAdmin)

				r.Get("/stats", s.handleAdminStats)
				r.Get("/modules", s.handleAdminListModules)
				r.Post("/modules", s.handleProvisionModule)
				r.Get("/audit", s.handleAdminAudit)
			})
		})
	})

	return r
}

// wsPath returns the dashboard WebSocket route relative to /api/v1.
func wsPath(configured string) string {
	if configured == "" {
		return "/ws"
	}
	return configured
}
