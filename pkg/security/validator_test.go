// Copyright (c) 2026 Gatekeep Project
//
// This file is part of go-gatekeep.
//
// go-gatekeep is licensed under the GNU Affero General Public License v3.0.
// See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html

package security

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const browserUA = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36"

func newTestValidator(t *testing.T, environment string) *Validator {
	t.Helper()
	v, err := NewValidator(&Config{
		Environment:   environment,
		PrimaryOrigin: "https://example.com",
		ExtraOrigins:  []string{"https://app.example.com"},
	}, nil)
	require.NoError(t, err)
	return v
}

func baseHeaders() http.Header {
	h := http.Header{}
	h.Set("User-Agent", browserUA)
	h.Set("Origin", "https://example.com")
	h.Set("Content-Type", "application/json")
	return h
}

func TestNewValidator_RequiresPrimaryOrigin(t *testing.T) {
	_, err := NewValidator(nil, nil)
	require.ErrorIs(t, err, ErrInvalidRequestData)

	_, err = NewValidator(&Config{}, nil)
	require.ErrorIs(t, err, ErrInvalidRequestData)
}

func TestOriginAllowList(t *testing.T) {
	t.Run("production excludes development origins", func(t *testing.T) {
		v := newTestValidator(t, "production")
		assert.True(t, v.OriginAllowed("https://example.com"))
		assert.True(t, v.OriginAllowed("https://app.example.com"))
		assert.False(t, v.OriginAllowed("http://localhost:3000"))
		assert.False(t, v.OriginAllowed("https://evil.example.net"))
	})

	t.Run("development includes localhost origins", func(t *testing.T) {
		v := newTestValidator(t, "development")
		assert.True(t, v.OriginAllowed("http://localhost:3000"))
		assert.True(t, v.OriginAllowed("http://127.0.0.1:8080"))
	})
}

func TestValidateRequest(t *testing.T) {
	v := newTestValidator(t, "production")

	tests := []struct {
		name    string
		mutate  func(h http.Header)
		method  string
		op      Operation
		userID  string
		wantErr error
	}{
		{
			name:   "valid authenticated registration",
			method: http.MethodPost,
			op:     OperationRegistration,
			userID: "user-1",
		},
		{
			name:   "valid anonymous authentication",
			method: http.MethodPost,
			op:     OperationAuthentication,
		},
		{
			name:    "missing user agent",
			mutate:  func(h http.Header) { h.Del("User-Agent") },
			method:  http.MethodPost,
			op:      OperationAuthentication,
			wantErr: ErrMissingUserAgent,
		},
		{
			name:    "script injection in user agent",
			mutate:  func(h http.Header) { h.Set("User-Agent", "Mozilla/5.0 <script>alert(1)</script>") },
			method:  http.MethodPost,
			op:      OperationAuthentication,
			wantErr: ErrSuspiciousUserAgent,
		},
		{
			name:    "sql injection in user agent",
			mutate:  func(h http.Header) { h.Set("User-Agent", "x' OR '1'='1") },
			method:  http.MethodPost,
			op:      OperationAuthentication,
			wantErr: ErrSuspiciousUserAgent,
		},
		{
			name:    "disallowed origin",
			mutate:  func(h http.Header) { h.Set("Origin", "https://evil.example.net") },
			method:  http.MethodPost,
			op:      OperationAuthentication,
			wantErr: ErrOriginNotAllowed,
		},
		{
			name:   "absent origin header is acceptable",
			mutate: func(h http.Header) { h.Del("Origin") },
			method: http.MethodPost,
			op:     OperationAuthentication,
		},
		{
			name:    "disallowed referer origin",
			mutate:  func(h http.Header) { h.Set("Referer", "https://evil.example.net/login") },
			method:  http.MethodPost,
			op:      OperationAuthentication,
			wantErr: ErrRefererNotAllowed,
		},
		{
			name:   "allowed referer",
			mutate: func(h http.Header) { h.Set("Referer", "https://example.com/account/security") },
			method: http.MethodPost,
			op:     OperationAuthentication,
		},
		{
			name:    "wrong content type on mutating method",
			mutate:  func(h http.Header) { h.Set("Content-Type", "text/plain") },
			method:  http.MethodPost,
			op:      OperationAuthentication,
			wantErr: ErrInvalidContentType,
		},
		{
			name:   "content type with charset parameter",
			mutate: func(h http.Header) { h.Set("Content-Type", "application/json; charset=utf-8") },
			method: http.MethodPost,
			op:     OperationAuthentication,
		},
		{
			name:   "content type not required for GET",
			mutate: func(h http.Header) { h.Del("Content-Type") },
			method: http.MethodGet,
			op:     OperationGeneric,
		},
		{
			name:    "declared payload over the ceiling",
			mutate:  func(h http.Header) { h.Set("Content-Length", "99999999") },
			method:  http.MethodPost,
			op:      OperationAuthentication,
			wantErr: ErrPayloadTooLarge,
		},
		{
			name:    "unauthenticated registration",
			method:  http.MethodPost,
			op:      OperationRegistration,
			userID:  "",
			wantErr: ErrAuthenticationRequired,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := baseHeaders()
			if tt.mutate != nil {
				tt.mutate(h)
			}

			vctx, err := v.ValidateRequest(h, "203.0.113.7", tt.method, tt.op, tt.userID)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			require.NotNil(t, vctx)
			assert.Equal(t, tt.op, vctx.Operation)
			assert.Equal(t, "203.0.113.7", vctx.ClientIP)
		})
	}
}

func TestValidateRequest_MalformedRefererIsNotFatal(t *testing.T) {
	v := newTestValidator(t, "production")

	h := baseHeaders()
	h.Set("Referer", "not a url at all")

	vctx, err := v.ValidateRequest(h, "203.0.113.7", http.MethodPost, OperationAuthentication, "")
	require.NoError(t, err)
	assert.Contains(t, vctx.Flags, "malformed_referer")
}

func TestValidateRequest_PayloadCeilingOverride(t *testing.T) {
	v, err := NewValidator(&Config{
		PrimaryOrigin:    "https://example.com",
		MaxContentLength: 1024,
	}, nil)
	require.NoError(t, err)

	h := baseHeaders()
	h.Set("Content-Length", "2048")
	_, err = v.ValidateRequest(h, "203.0.113.7", http.MethodPost, OperationAuthentication, "")
	require.ErrorIs(t, err, ErrPayloadTooLarge)

	h.Set("Content-Length", "512")
	_, err = v.ValidateRequest(h, "203.0.113.7", http.MethodPost, OperationAuthentication, "")
	require.NoError(t, err)
}
