// Package api exposes the device agent's REST control surface: login, join,
// uplink send, event feed and status.
package api

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog/log"

	"github.com/lorawan-server/lorawan-device-pro/internal/auth"
	"github.com/lorawan-server/lorawan-device-pro/internal/config"
	"github.com/lorawan-server/lorawan-device-pro/internal/mac"
	"github.com/lorawan-server/lorawan-device-pro/internal/storage"
	"github.com/lorawan-server/lorawan-device-pro/internal/validation"
	"github.com/lorawan-server/lorawan-device-pro/pkg/lorawan"
)

// RESTServer represents the REST API server. The device engine is
// single-threaded, so every handler that drives it holds the mutex.
type RESTServer struct {
	config    *config.Config
	store     storage.Store
	device    *mac.Device
	devEUI    lorawan.EUI64
	auth      *auth.JWTManager
	validator *validation.Validator
	router    chi.Router
	server    *http.Server

	mu sync.Mutex
}

// NewRESTServer creates a new REST API server
func NewRESTServer(cfg *config.Config, store storage.Store, device *mac.Device) (*RESTServer, error) {
	devEUI, err := lorawan.EUI64FromString(cfg.Device.DevEUI)
	if err != nil {
		return nil, err
	}

	s := &RESTServer{
		config:    cfg,
		store:     store,
		device:    device,
		devEUI:    devEUI,
		auth:      auth.NewJWTManager(&cfg.JWT),
		validator: validation.NewValidator(),
		router:    chi.NewRouter(),
	}

	s.setupRoutes()

	s.server = &http.Server{
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s, nil
}

// setupRoutes configures all routes
func (s *RESTServer) setupRoutes() {
	// Middleware
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(60 * time.Second))

	// CORS
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// API routes
	s.router.Route("/api/v1", func(r chi.Router) {
		s.setupAPIRoutes(r)
	})
}

// ListenAndServe starts the server
func (s *RESTServer) ListenAndServe(addr string) error {
	s.server.Addr = addr
	log.Info().Str("addr", addr).Msg("starting REST API server")
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *RESTServer) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// authMiddleware is the authentication middleware
func (s *RESTServer) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			s.respondError(w, http.StatusUnauthorized, "missing authorization header")
			return
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			s.respondError(w, http.StatusUnauthorized, "invalid authorization header")
			return
		}

		claims, err := s.auth.ValidateToken(parts[1])
		if err != nil {
			s.respondError(w, http.StatusUnauthorized, "invalid token")
			return
		}

		ctx := context.WithValue(r.Context(), claimsKey{}, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

type claimsKey struct{}
