// Copyright (c) 2026 Gatekeep Project
//
// This file is part of go-gatekeep.
//
// go-gatekeep is licensed under the GNU Affero General Public License v3.0.
// See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html

// Package security implements stateless request inspection for the
// ceremony endpoints: header/origin/referer validation, payload
// sanitization, response security headers, and automated-request
// detection. The only state is the origin allow-list computed at startup.
package security

import (
	"errors"
	"fmt"
)

// Operation tags the ceremony a request belongs to. The set is closed so
// per-operation validation branches stay exhaustively checkable.
type Operation string

const (
	// OperationRegistration covers the registration ceremony endpoints.
	OperationRegistration Operation = "registration"

	// OperationAuthentication covers the authentication ceremony endpoints.
	OperationAuthentication Operation = "authentication"

	// OperationGeneric covers credential management endpoints.
	OperationGeneric Operation = "generic"
)

// DefaultMaxContentLength is the declared-payload ceiling (10 MiB).
const DefaultMaxContentLength = 10 << 20

// Sentinel errors for request validation. Every failure is logged as a
// security event before being returned.
var (
	// ErrMissingUserAgent is returned when no User-Agent header is present.
	ErrMissingUserAgent = errors.New("missing user agent")

	// ErrSuspiciousUserAgent is returned when the User-Agent matches known
	// injection or script patterns.
	ErrSuspiciousUserAgent = errors.New("suspicious user agent")

	// ErrOriginNotAllowed is returned when an Origin header is present and
	// not in the allow-list.
	ErrOriginNotAllowed = errors.New("origin not allowed")

	// ErrRefererNotAllowed is returned when a Referer header parses to an
	// origin outside the allow-list.
	ErrRefererNotAllowed = errors.New("referer not allowed")

	// ErrInvalidContentType is returned when a mutating request does not
	// carry the expected structured content type.
	ErrInvalidContentType = errors.New("invalid content type")

	// ErrPayloadTooLarge is returned when the declared content length
	// exceeds the configured ceiling.
	ErrPayloadTooLarge = errors.New("payload too large")

	// ErrAuthenticationRequired is returned when a registration-path
	// request arrives without an authenticated caller.
	ErrAuthenticationRequired = errors.New("authentication required")

	// ErrInvalidRequestData is returned by Sanitize for any field
	// violation; the concrete error names the offending field and reason.
	ErrInvalidRequestData = errors.New("invalid request data")
)

// RequestDataError names the field and reason behind a sanitization failure.
type RequestDataError struct {
	Field  string
	Reason string
}

// Error returns the error message.
func (e *RequestDataError) Error() string {
	return fmt.Sprintf("invalid request data: field %q: %s", e.Field, e.Reason)
}

// Is reports whether the target error matches.
func (e *RequestDataError) Is(target error) bool {
	return target == ErrInvalidRequestData
}

// Context is the ephemeral per-request validation record. It is never
// persisted beyond the request; it feeds logging and decisioning only.
type Context struct {
	Operation   Operation `json:"operation"`
	ClientIP    string    `json:"client_ip"`
	UserAgent   string    `json:"user_agent"`
	Origin      string    `json:"origin,omitempty"`
	Referer     string    `json:"referer,omitempty"`
	ContentType string    `json:"content_type,omitempty"`
	Flags       []string  `json:"flags,omitempty"`
}

// IntegrityContext is the result of AssessRequestIntegrity.
type IntegrityContext struct {
	// Fingerprint is a stable hash of the request's identifying headers.
	Fingerprint string `json:"fingerprint"`

	// AutomationScore is in [0, 1]; higher means more likely automated.
	AutomationScore float64 `json:"automation_score"`

	// Suspicious is set when AutomationScore reaches the detection
	// threshold. Detection only: it never blocks the request by itself.
	Suspicious bool `json:"suspicious"`

	// Flags lists the individual signals that contributed to the score.
	Flags []string `json:"flags,omitempty"`
}
