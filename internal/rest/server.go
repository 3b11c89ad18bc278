// Copyright (c) 2026 Gatekeep Project
//
// This file is part of go-gatekeep.
//
// go-gatekeep is licensed under the GNU Affero General Public License v3.0.
// See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html

package rest

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gatekeep/go-gatekeep/pkg/health"
	"github.com/gatekeep/go-gatekeep/pkg/logging"
	"github.com/gatekeep/go-gatekeep/pkg/ratelimit"
	"github.com/gatekeep/go-gatekeep/pkg/security"
	"github.com/gatekeep/go-gatekeep/pkg/webauthn"
)

// Server is the HTTP API server.
type Server struct {
	server           *http.Server
	service          *webauthn.Service
	validator        *security.Validator
	tokens           *webauthn.JWTIssuer
	checker          *health.Checker
	limiter          *ratelimit.Limiter
	logger           *logging.Logger
	maxContentLength int64
	metricsPath      string
	port             int
}

// Config holds the HTTP server configuration.
type Config struct {
	// Host and Port form the listen address.
	Host string
	Port int

	// Service is the ceremony service (required).
	Service *webauthn.Service

	// Validator performs request inspection (required).
	Validator *security.Validator

	// Tokens verifies Bearer tokens on protected routes (required).
	Tokens *webauthn.JWTIssuer

	// Checker serves the health probes (required).
	Checker *health.Checker

	// Limiter applies per-client rate limits (optional).
	Limiter *ratelimit.Limiter

	// Logger defaults to logging.DefaultLogger().
	Logger *logging.Logger

	// MaxContentLength caps request bodies, in bytes.
	MaxContentLength int64

	// MetricsPath exposes Prometheus metrics when non-empty.
	MetricsPath string

	// ReadTimeout, WriteTimeout, and IdleTimeout bound connections.
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// NewServer creates the HTTP API server.
func NewServer(cfg *Config) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if cfg.Service == nil {
		return nil, fmt.Errorf("ceremony service is required")
	}
	if cfg.Validator == nil {
		return nil, fmt.Errorf("security validator is required")
	}
	if cfg.Tokens == nil {
		return nil, fmt.Errorf("token issuer is required")
	}
	if cfg.Checker == nil {
		return nil, fmt.Errorf("health checker is required")
	}

	if cfg.Port == 0 {
		cfg.Port = 8443
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.DefaultLogger()
	}
	if cfg.MaxContentLength == 0 {
		cfg.MaxContentLength = security.DefaultMaxContentLength
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 15 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 30 * time.Second
	}
	if cfg.IdleTimeout == 0 {
		cfg.IdleTimeout = 60 * time.Second
	}

	server := &Server{
		service:          cfg.Service,
		validator:        cfg.Validator,
		tokens:           cfg.Tokens,
		checker:          cfg.Checker,
		limiter:          cfg.Limiter,
		logger:           cfg.Logger,
		maxContentLength: cfg.MaxContentLength,
		metricsPath:      cfg.MetricsPath,
		port:             cfg.Port,
	}

	router := server.setupRouter()

	server.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	return server, nil
}

// setupRouter configures the chi router with all routes and middleware.
func (s *Server) setupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(s.RecoveryMiddleware())
	r.Use(s.CorrelationMiddleware())
	r.Use(s.LoggingMiddleware())
	r.Use(MetricsMiddleware)
	r.Use(s.RateLimitMiddleware())

	// Health probes carry no auth.
	r.Get("/health", s.HealthHandler)
	r.Head("/health", s.HealthHandler)
	r.Get("/health/live", s.LivenessHandler)
	r.Get("/health/ready", s.ReadinessHandler)
	r.Get("/health/startup", s.StartupHandler)

	if s.metricsPath != "" {
		r.Handle(s.metricsPath, promhttp.Handler())
	}

	r.Route("/api/v1/webauthn", func(r chi.Router) {
		// Registration requires an authenticated caller.
		r.Group(func(r chi.Router) {
			r.Use(s.AuthMiddleware())
			r.Use(s.SecurityMiddleware(security.OperationRegistration))
			r.Post("/register/begin", s.RegisterBeginHandler)
			r.Post("/register/complete", s.RegisterCompleteHandler)
		})

		r.Group(func(r chi.Router) {
			r.Use(s.SecurityMiddleware(security.OperationAuthentication))
			r.Post("/authenticate/begin", s.AuthenticateBeginHandler)
			r.Post("/authenticate/complete", s.AuthenticateCompleteHandler)
		})

		r.Group(func(r chi.Router) {
			r.Use(s.AuthMiddleware())
			r.Use(s.SecurityMiddleware(security.OperationGeneric))
			r.Get("/credentials", s.ListCredentialsHandler)
			r.Delete("/credentials/{id}", s.DeleteCredentialHandler)
		})
	})

	return r
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.logger.Info("starting http server", "addr", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start http server: %w", err)
	}
	return nil
}

// Stop gracefully stops the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown http server: %w", err)
	}
	return nil
}

// Port returns the configured listen port.
func (s *Server) Port() int {
	return s.port
}

// Handler returns the configured router, for tests.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}
