package api

import (
	"github.com/go-chi/chi/v5"
)

// setupAPIRoutes sets up API v1 routes
func (s *RESTServer) setupAPIRoutes(r chi.Router) {
	// Health check
	r.Get("/health", s.HandleHealth)

	// Auth routes (public)
	r.Route("/auth", func(r chi.Router) {
		r.Post("/login", s.HandleLogin)
	})

	// Protected routes
	r.Group(func(r chi.Router) {
		r.Use(s.authMiddleware)

		r.Route("/device", func(r chi.Router) {
			r.Get("/status", s.HandleStatus)
			r.Post("/join", s.HandleJoin)
			r.Post("/send", s.HandleSend)
			r.Get("/events", s.HandleListEvents)
			r.Post("/link-check", s.HandleRequestLinkCheck)
			r.Post("/device-time", s.HandleRequestDeviceTime)
		})
	})
}
