// Copyright (c) 2026 Gatekeep Project
//
// This file is part of go-gatekeep.
//
// go-gatekeep is licensed under the GNU Affero General Public License v3.0.
// See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html

package rest

import (
	"net/http"

	"github.com/gatekeep/go-gatekeep/pkg/health"
)

// HealthHandler is the legacy health endpoint.
func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	code := http.StatusOK
	if !s.checker.IsHealthy(r.Context()) {
		status = "unhealthy"
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, HealthResponse{
		Status: status,
		Uptime: s.checker.Uptime().String(),
	}, code)
}

// LivenessHandler reports whether the process is alive.
func (s *Server) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	result := s.checker.Live(r.Context())
	code := http.StatusOK
	if result.Status != health.StatusHealthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, result, code)
}

// ReadinessHandler reports whether the server can take traffic. Each
// registered backend check contributes a result.
func (s *Server) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	results := s.checker.Ready(r.Context())
	code := http.StatusOK
	if health.AggregateStatus(results) == health.StatusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, map[string]any{
		"status": health.AggregateStatus(results),
		"checks": results,
	}, code)
}

// StartupHandler reports whether initialization has completed.
func (s *Server) StartupHandler(w http.ResponseWriter, r *http.Request) {
	result := s.checker.Startup(r.Context())
	code := http.StatusOK
	if result.Status != health.StatusHealthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, result, code)
}
