package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/crm-core/internal/auth"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.metricsMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	// Prometheus scrape (no auth, no persistence)
	r.Method(http.MethodGet, "/metrics", s.handleMetrics())

	// Everything else is one unit of work against a single backend.
	r.Group(func(r chi.Router) {
		r.Use(s.unitOfWork)

		r.Get("/health", s.handleHealth)

		r.With(s.rateLimitMiddleware).Post("/auth/login", s.handleLogin)
		r.With(s.rateLimitMiddleware).Post("/auth/refresh", s.handleRefresh)

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(s.authenticate)

			r.Post("/auth/logout", s.handleLogout)
			r.Get("/auth/me", s.handleMe)

			r.Route("/users", func(r chi.Router) {
				r.With(s.requirePermission(auth.RouteID("users", auth.ActionList))).Get("/", s.handleListUsers)
				r.With(s.requirePermission(auth.RouteID("users", auth.ActionCreate))).Post("/", s.handleCreateUser)
				r.With(s.requirePermission(auth.RouteID("users", auth.ActionGet))).Get("/{id}", s.handleGetUser)
				r.With(s.requirePermission(auth.RouteID("users", auth.ActionUpdate))).Patch("/{id}", s.handleUpdateUser)
				r.With(s.requirePermission(auth.RouteID("users", auth.ActionDelete))).Delete("/{id}", s.handleDeleteUser)
			})

			r.Route("/contacts", resourceRoutes(s, contactsResource))
			r.Route("/companies", resourceRoutes(s, companiesResource))
			r.Route("/deals", resourceRoutes(s, dealsResource))
			r.Route("/campaigns", resourceRoutes(s, campaignsResource))
			r.Route("/tickets", resourceRoutes(s, ticketsResource))

			r.With(s.requirePermission(auth.RouteID("audit", auth.ActionList))).Get("/audit", s.handleListAudit)
		})
	})

	return r
}
