package web

import (
	"github.com/go-chi/chi/v5"
	"github.com/kozaktomas/face-auth/internal/web/handlers"
	"github.com/kozaktomas/face-auth/internal/web/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func (s *Server) setupRoutes() {
	authHandler := handlers.NewAuthHandler(s.service)
	facesHandler := handlers.NewFacesHandler(s.service, s.config.Auth.FusionIoUThreshold)
	identitiesHandler := handlers.NewIdentitiesHandler(s.service)

	s.router.Get("/api/v1/health", handlers.HealthCheck)
	s.router.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Post("/enroll", authHandler.Enroll)
		r.Post("/login", authHandler.Login)

		r.Post("/detect", facesHandler.Detect)
		r.Post("/analyze", facesHandler.Analyze)

		r.Get("/identities", identitiesHandler.List)
		r.Get("/identities/{owner}", identitiesHandler.Get)

		// Administrative routes
		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireAdminToken(s.config.Web.AdminToken))

			r.Delete("/identities/{owner}", identitiesHandler.Delete)
			r.Post("/identities/train", identitiesHandler.Train)
		})
	})
}
