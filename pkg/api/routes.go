package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ethpandaops/testcycle/pkg/config"
)

// buildRouter wires every route. Rate limit tiers: public for health and
// config, auth for login and logout, authenticated for the rest.
func (s *server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID, chimw.RealIP, chimw.Recoverer)
	r.Use(s.requestLogger)
	r.Use(s.cors())

	if s.registry != nil {
		r.Handle("/metrics", promhttp.HandlerFor(
			s.registry, promhttp.HandlerOpts{Registry: s.registry},
		))
	}

	tiers := s.cfg.Server.RateLimit
	authed := s.limit(tiers.Authenticated)

	r.Route("/api/v1", func(r chi.Router) {
		public := r.With(s.limit(tiers.Public))
		public.Get("/health", s.handleHealth)
		public.Get("/config", s.handleConfig)

		r.Route("/auth", func(r chi.Router) {
			login := r.With(s.limit(tiers.Auth))
			login.Post("/login", s.handleLogin)
			login.Post("/logout", s.handleLogout)

			r.With(authed, s.authenticate(false)).
				Get("/me", s.handleMe)
		})

		r.Group(func(r chi.Router) {
			r.Use(authed)

			r.Group(s.executionRoutes)

			r.Route("/admin", func(r chi.Router) {
				r.Use(s.authenticate(false), allowRoles(config.RoleAdmin))
				s.adminRoutes(r)
			})
		})
	})

	return r
}

// executionRoutes mounts the lifecycle. Reads are anonymous when
// auth.anonymous_read is set; writes need a user or admin account.
func (s *server) executionRoutes(r chi.Router) {
	read := r.With(s.authenticate(s.cfg.Auth.AnonymousRead))
	read.Get("/executions", s.handleListExecutions)
	read.Get("/executions/next-cycle", s.handleNextCycle)
	read.Get("/executions/{executionID}", s.handleGetExecution)
	read.Get("/projects/{projectID}/capabilities", s.handleProjectCapabilities)

	write := r.With(s.authenticate(false), writers)
	write.Post("/executions", s.handleSubmitExecution)
	write.Post("/executions/{executionID}/send-for-review", s.handleSendForReview)
	write.Post("/executions/{executionID}/review", s.handleReview)
	write.Post("/executions/{executionID}/approval", s.handleApproval)
	write.Post("/executions/{executionID}/reopen", s.handleReopen)
}

func (s *server) adminRoutes(r chi.Router) {
	r.Get("/memberships", s.handleListMemberships)
	r.Post("/memberships", s.handleUpsertMembership)
	r.Delete("/memberships/{id}", s.handleDeleteMembership)

	r.Delete("/executions/{executionID}", s.handleDeleteExecution)
}

// cors allows the configured origins to call the API with credentials.
// No origins, or a lone "*", reflects any origin.
func (s *server) cors() func(http.Handler) http.Handler {
	opts := cors.Options{
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		ExposedHeaders:   []string{"Retry-After"},
		AllowCredentials: true,
		MaxAge:           300,
	}

	switch origins := s.cfg.Server.CORSOrigins; {
	case len(origins) == 0, len(origins) == 1 && origins[0] == "*":
		opts.AllowOriginFunc = func(*http.Request, string) bool { return true }
	default:
		opts.AllowedOrigins = origins
	}

	return cors.Handler(opts)
}
