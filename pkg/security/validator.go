// Copyright (c) 2026 Gatekeep Project
//
// This file is part of go-gatekeep.
//
// go-gatekeep is licensed under the GNU Affero General Public License v3.0.
// See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html

package security

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/gatekeep/go-gatekeep/pkg/logging"
	"github.com/gatekeep/go-gatekeep/pkg/metrics"
)

// developmentOrigins are appended to the allow-list outside production.
var developmentOrigins = []string{
	"http://localhost:3000",
	"http://localhost:8080",
	"http://127.0.0.1:3000",
	"http://127.0.0.1:8080",
}

// suspiciousUserAgentPatterns are substrings that mark a User-Agent as an
// injection or script attempt rather than a browser identity.
var suspiciousUserAgentPatterns = []string{
	"<script",
	"javascript:",
	"onerror=",
	"eval(",
	"union select",
	"' or '",
	"\x00",
}

// Config configures the validator.
type Config struct {
	// Environment selects production behavior when set to "production".
	Environment string

	// PrimaryOrigin is the relying party's canonical origin, e.g.
	// "https://example.com" (required).
	PrimaryOrigin string

	// ExtraOrigins are additional allowed origins.
	ExtraOrigins []string

	// MaxContentLength is the declared-payload ceiling in bytes.
	// Defaults to DefaultMaxContentLength.
	MaxContentLength int64
}

// Validator performs stateless request inspection. The origin allow-list
// is computed once at construction.
type Validator struct {
	allowedOrigins map[string]struct{}
	primaryOrigin  string
	production     bool
	maxContent     int64
	logger         *logging.Logger
}

// NewValidator creates a validator from configuration.
func NewValidator(cfg *Config, logger *logging.Logger) (*Validator, error) {
	if cfg == nil || cfg.PrimaryOrigin == "" {
		return nil, &RequestDataError{Field: "primary_origin", Reason: "required"}
	}
	if logger == nil {
		logger = logging.DefaultLogger()
	}

	maxContent := cfg.MaxContentLength
	if maxContent == 0 {
		maxContent = DefaultMaxContentLength
	}

	production := strings.EqualFold(cfg.Environment, "production")

	allowed := map[string]struct{}{
		cfg.PrimaryOrigin: {},
	}
	for _, origin := range cfg.ExtraOrigins {
		allowed[origin] = struct{}{}
	}
	if !production {
		for _, origin := range developmentOrigins {
			allowed[origin] = struct{}{}
		}
	}

	return &Validator{
		allowedOrigins: allowed,
		primaryOrigin:  cfg.PrimaryOrigin,
		production:     production,
		maxContent:     maxContent,
		logger:         logger,
	}, nil
}

// OriginAllowed reports whether an origin is in the allow-list.
func (v *Validator) OriginAllowed(origin string) bool {
	_, ok := v.allowedOrigins[origin]
	return ok
}

// ValidateRequest inspects request headers and metadata for the given
// operation. On failure a security event is emitted and the matching
// sentinel error returned; on success a success event is emitted and the
// per-request validation context returned.
func (v *Validator) ValidateRequest(headers http.Header, clientIP, method string, op Operation, userID string) (*Context, error) {
	vctx := &Context{
		Operation:   op,
		ClientIP:    clientIP,
		UserAgent:   headers.Get("User-Agent"),
		Origin:      headers.Get("Origin"),
		Referer:     headers.Get("Referer"),
		ContentType: headers.Get("Content-Type"),
	}

	if vctx.UserAgent == "" {
		return nil, v.fail(vctx, "missing_user_agent", ErrMissingUserAgent)
	}
	if matchesSuspiciousPattern(vctx.UserAgent) {
		return nil, v.fail(vctx, "suspicious_user_agent", ErrSuspiciousUserAgent)
	}

	if vctx.Origin != "" && !v.OriginAllowed(vctx.Origin) {
		return nil, v.fail(vctx, "origin_not_allowed", ErrOriginNotAllowed)
	}

	if vctx.Referer != "" {
		refOrigin, err := originOf(vctx.Referer)
		if err != nil {
			// Malformed referers are logged but never fail the request.
			v.logger.Debug("malformed referer header",
				"referer", vctx.Referer, "client_ip", clientIP)
			vctx.Flags = append(vctx.Flags, "malformed_referer")
		} else if !v.OriginAllowed(refOrigin) {
			return nil, v.fail(vctx, "referer_not_allowed", ErrRefererNotAllowed)
		}
	}

	if isMutating(method) {
		if !isJSONContentType(vctx.ContentType) {
			return nil, v.fail(vctx, "invalid_content_type", ErrInvalidContentType)
		}
	}

	if cl := headers.Get("Content-Length"); cl != "" {
		if n, ok := parseContentLength(cl); ok && n > v.maxContent {
			return nil, v.fail(vctx, "payload_too_large", ErrPayloadTooLarge)
		}
	}

	// Registration is only reachable by an already-authenticated caller;
	// authentication by definition is not.
	if op == OperationRegistration && userID == "" {
		return nil, v.fail(vctx, "unauthenticated_registration", ErrAuthenticationRequired)
	}

	v.logger.SecurityEvent("request_validated", true,
		"operation", string(op), "client_ip", clientIP, "user_id", userID)
	metrics.RecordSecurityEvent("request_validated", true)
	return vctx, nil
}

func (v *Validator) fail(vctx *Context, event string, err error) error {
	vctx.Flags = append(vctx.Flags, event)
	v.logger.SecurityEvent(event, false,
		"operation", string(vctx.Operation),
		"client_ip", vctx.ClientIP,
		"user_agent", vctx.UserAgent,
		"origin", vctx.Origin)
	metrics.RecordSecurityEvent(event, false)
	return err
}

func matchesSuspiciousPattern(userAgent string) bool {
	lowered := strings.ToLower(userAgent)
	for _, pattern := range suspiciousUserAgentPatterns {
		if strings.Contains(lowered, pattern) {
			return true
		}
	}
	return false
}

// originOf reduces a referer URL to its origin (scheme://host[:port]).
func originOf(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	if u.Scheme == "" || u.Host == "" {
		return "", &url.Error{Op: "parse", URL: raw, Err: ErrRefererNotAllowed}
	}
	return u.Scheme + "://" + u.Host, nil
}

func isMutating(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	}
	return false
}

func isJSONContentType(contentType string) bool {
	if contentType == "" {
		return false
	}
	mediaType := contentType
	if idx := strings.IndexByte(contentType, ';'); idx >= 0 {
		mediaType = contentType[:idx]
	}
	return strings.EqualFold(strings.TrimSpace(mediaType), "application/json")
}

func parseContentLength(value string) (int64, bool) {
	var n int64
	for i := 0; i < len(value); i++ {
		c := value[i]
		if c < '0' || c > '9' {
			return 0, false
		}
		n = n*10 + int64(c-'0')
		if n < 0 {
			return 0, false
		}
	}
	return n, true
}
