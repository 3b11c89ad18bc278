// Copyright (c) 2026 Gatekeep Project
//
// This file is part of go-gatekeep.
//
// go-gatekeep is licensed under the GNU Affero General Public License v3.0.
// See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html

// Package metrics provides Prometheus instrumentation for ceremony,
// challenge, credential, and monitoring operations.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	// Namespace is the Prometheus namespace for all gatekeep metrics
	Namespace = "gatekeep"

	// Label names
	LabelOperation = "operation"
	LabelBackend   = "backend"
	LabelStatus    = "status"
	LabelErrorType = "error_type"
	LabelEvent     = "event"
	LabelSeverity  = "severity"
	LabelTier      = "tier"

	// Status values
	StatusSuccess = "success"
	StatusError   = "error"

	// Operation names
	OpRegisterBegin    = "register_begin"
	OpRegisterComplete = "register_complete"
	OpAuthBegin        = "authenticate_begin"
	OpAuthComplete     = "authenticate_complete"
	OpChallengeIssue   = "challenge_issue"
	OpChallengeConsume = "challenge_consume"
	OpCredentialStore  = "credential_store"
	OpCredentialList   = "credential_list"
	OpCredentialDelete = "credential_delete"
)

var (
	// CeremonyTotal tracks ceremony operations by operation and status.
	CeremonyTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "ceremony_operations_total",
			Help:      "Total number of WebAuthn ceremony operations by operation and status",
		},
		[]string{LabelOperation, LabelStatus},
	)

	// CeremonyDuration tracks the duration of ceremony operations in seconds.
	CeremonyDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "ceremony_duration_seconds",
			Help:      "Duration of WebAuthn ceremony operations in seconds",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		},
		[]string{LabelOperation},
	)

	// ChallengeTotal tracks challenge store operations by operation, backend, and status.
	ChallengeTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "challenge",
			Name:      "operations_total",
			Help:      "Total number of challenge store operations by operation, backend, and status",
		},
		[]string{LabelOperation, LabelBackend, LabelStatus},
	)

	// CredentialCacheTotal tracks credential cache hits and misses.
	CredentialCacheTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "credential",
			Name:      "cache_total",
			Help:      "Credential cache lookups by status (hit, miss)",
		},
		[]string{LabelStatus},
	)

	// SecurityEventsTotal tracks security validation events by event type and status.
	SecurityEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "security",
			Name:      "events_total",
			Help:      "Total number of security validation events by event type and status",
		},
		[]string{LabelEvent, LabelStatus},
	)

	// ErrorsRecorded tracks errors ingested by the error monitor.
	ErrorsRecorded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "monitor",
			Name:      "errors_recorded_total",
			Help:      "Total number of error events recorded by operation and severity",
		},
		[]string{LabelOperation, LabelSeverity},
	)

	// AlertsGenerated tracks alerts emitted by the error monitor.
	AlertsGenerated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "monitor",
			Name:      "alerts_total",
			Help:      "Total number of alerts generated by check and escalation tier",
		},
		[]string{"check", LabelTier},
	)

	// HTTPRequestsTotal tracks HTTP requests by method and status code.
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests by method and status code",
		},
		[]string{"method", "status_code"},
	)

	// HTTPRequestDuration tracks HTTP request latency in seconds.
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
)

// RecordCeremony increments the ceremony counter and observes its duration.
func RecordCeremony(operation string, start time.Time, err error) {
	status := StatusSuccess
	if err != nil {
		status = StatusError
	}
	CeremonyTotal.WithLabelValues(operation, status).Inc()
	CeremonyDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

// RecordChallengeOp increments the challenge operation counter.
func RecordChallengeOp(operation, backend string, err error) {
	status := StatusSuccess
	if err != nil {
		status = StatusError
	}
	ChallengeTotal.WithLabelValues(operation, backend, status).Inc()
}

// RecordSecurityEvent increments the security event counter.
func RecordSecurityEvent(event string, success bool) {
	status := StatusSuccess
	if !success {
		status = StatusError
	}
	SecurityEventsTotal.WithLabelValues(event, status).Inc()
}
