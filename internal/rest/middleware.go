// Copyright (c) 2026 Gatekeep Project
//
// This file is part of go-gatekeep.
//
// go-gatekeep is licensed under the GNU Affero General Public License v3.0.
// See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html

package rest

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gatekeep/go-gatekeep/pkg/correlation"
	"github.com/gatekeep/go-gatekeep/pkg/metrics"
	"github.com/gatekeep/go-gatekeep/pkg/ratelimit"
	"github.com/gatekeep/go-gatekeep/pkg/security"
)

type contextKey string

// userIDKey holds the authenticated user's ID in the request context.
const userIDKey contextKey = "gatekeep.user_id"

// UserID returns the authenticated user ID from the request context, or
// empty when unauthenticated.
func UserID(ctx context.Context) string {
	if id, ok := ctx.Value(userIDKey).(string); ok {
		return id
	}
	return ""
}

// statusRecorder captures the response status code for logging and metrics.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// RecoveryMiddleware converts handler panics into 500 responses.
func (s *Server) RecoveryMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					s.logger.Errorf("panic serving %s %s: %v", r.Method, r.URL.Path, rec)
					writeError(w, ErrInternalError, http.StatusInternalServerError)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// CorrelationMiddleware propagates or generates a correlation ID and
// echoes it in the response.
func (s *Server) CorrelationMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get(correlation.CorrelationIDHeader)
			if id == "" {
				id = r.Header.Get(correlation.RequestIDHeader)
			}
			if id == "" {
				id = correlation.NewID()
			}
			ctx := correlation.WithCorrelationID(r.Context(), id)
			w.Header().Set(correlation.CorrelationIDHeader, id)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// LoggingMiddleware logs one line per request with status and duration.
func (s *Server) LoggingMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)
			s.logger.Info("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", rec.status,
				"duration_ms", time.Since(start).Milliseconds(),
				"correlation_id", correlation.GetCorrelationID(r.Context()),
			)
		})
	}
}

// MetricsMiddleware records request counts and latency.
func MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		metrics.HTTPRequestsTotal.WithLabelValues(r.Method, strconv.Itoa(rec.status)).Inc()
		metrics.HTTPRequestDuration.WithLabelValues(r.Method, r.URL.Path).Observe(time.Since(start).Seconds())
	})
}

// RateLimitMiddleware applies the per-client limiter, if configured.
func (s *Server) RateLimitMiddleware() func(http.Handler) http.Handler {
	if s.limiter == nil {
		return func(next http.Handler) http.Handler { return next }
	}
	return ratelimit.Middleware(s.limiter)
}

// SecurityMiddleware validates request metadata for a ceremony operation
// and stamps the hardened response headers. Rejections are logged inside
// the validator.
func (s *Server) SecurityMiddleware(op security.Operation) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			s.validator.AddSecurityHeaders(w, r, op)

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			clientIP := ratelimit.ClientIP(r)
			if _, err := s.validator.ValidateRequest(r.Header, clientIP, r.Method, op, UserID(r.Context())); err != nil {
				handleError(w, err)
				return
			}

			// Integrity assessment observes but never blocks.
			s.validator.AssessRequestIntegrity(r, clientIP)

			next.ServeHTTP(w, r)
		})
	}
}

// AuthMiddleware requires a valid Bearer token and stores the subject in
// the request context.
func (s *Server) AuthMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if !strings.HasPrefix(header, "Bearer ") {
				writeError(w, ErrUnauthorized, http.StatusUnauthorized)
				return
			}
			token := strings.TrimPrefix(header, "Bearer ")

			userID, err := s.tokens.Verify(token)
			if err != nil {
				s.logger.Debug("token verification failed", "error", err.Error())
				writeError(w, ErrUnauthorized, http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), userIDKey, userID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
