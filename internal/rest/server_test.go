// Copyright (c) 2026 Gatekeep Project
//
// This file is part of go-gatekeep.
//
// go-gatekeep is licensed under the GNU Affero General Public License v3.0.
// See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html

package rest

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/gatekeep/go-gatekeep/pkg/cache"
	"github.com/gatekeep/go-gatekeep/pkg/challenge"
	"github.com/gatekeep/go-gatekeep/pkg/credential"
	"github.com/gatekeep/go-gatekeep/pkg/health"
	"github.com/gatekeep/go-gatekeep/pkg/security"
	"github.com/gatekeep/go-gatekeep/pkg/webauthn"
)

const (
	testRPID      = "localhost"
	testOrigin    = "http://localhost:8080"
	testUserAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36"
)

type testServer struct {
	handler http.Handler
	tokens  *webauthn.JWTIssuer
	checker *health.Checker
	account *webauthn.Account
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	mem := cache.NewMemory()
	t.Cleanup(func() { _ = mem.Close() })

	challenges, err := challenge.NewStore(challenge.StoreParams{
		Cache:   mem,
		Durable: challenge.NewMemoryBackend(),
	})
	require.NoError(t, err)

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	durable, err := credential.NewGormStore(db)
	require.NoError(t, err)
	creds, err := credential.NewStore(credential.StoreParams{
		Durable: durable,
		Cache:   mem,
	})
	require.NoError(t, err)

	directory := webauthn.NewMemoryDirectory()
	account := directory.Create(&webauthn.Account{
		Username:    "alice",
		DisplayName: "Alice",
		Active:      true,
	})

	tokens, err := webauthn.NewJWTIssuer(nil)
	require.NoError(t, err)

	service, err := webauthn.NewService(webauthn.ServiceParams{
		Config: &webauthn.Config{
			RPID:          testRPID,
			RPDisplayName: "Gatekeep Test",
			RPOrigins:     []string{testOrigin},
		},
		Directory:   directory,
		Challenges:  challenges,
		Credentials: creds,
		Tokens:      tokens,
	})
	require.NoError(t, err)

	validator, err := security.NewValidator(&security.Config{
		Environment:   "development",
		PrimaryOrigin: testOrigin,
	}, nil)
	require.NoError(t, err)

	checker := health.NewChecker()
	checker.RegisterCheck("cache", func(ctx context.Context) health.CheckResult {
		return health.CheckResult{Name: "cache", Status: health.StatusHealthy}
	})

	server, err := NewServer(&Config{
		Service:   service,
		Validator: validator,
		Tokens:    tokens,
		Checker:   checker,
	})
	require.NoError(t, err)

	return &testServer{
		handler: server.Handler(),
		tokens:  tokens,
		checker: checker,
		account: account,
	}
}

// bearer mints a valid token for the harness account.
func (ts *testServer) bearer(t *testing.T) string {
	t.Helper()
	token, err := ts.tokens.Issue(context.Background(), ts.account)
	require.NoError(t, err)
	return "Bearer " + token
}

// do sends a request through the router with browser-like headers.
func (ts *testServer) do(method, path, authorization string, body []byte) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	req.Header.Set("User-Agent", testUserAgent)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")
	req.Header.Set("Accept-Encoding", "gzip, deflate")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

// challengeFrom extracts the base64url challenge from ceremony options.
func challengeFrom(t *testing.T, body []byte) string {
	t.Helper()
	var options struct {
		PublicKey struct {
			Challenge string `json:"challenge"`
		} `json:"publicKey"`
	}
	require.NoError(t, json.Unmarshal(body, &options))
	require.NotEmpty(t, options.PublicKey.Challenge)
	return options.PublicKey.Challenge
}

// registerCredential runs the registration ceremony over HTTP.
func (ts *testServer) registerCredential(t *testing.T, auth *webauthn.MockAuthenticator) {
	t.Helper()
	bearer := ts.bearer(t)

	rec := ts.do(http.MethodPost, "/api/v1/webauthn/register/begin", bearer, []byte("{}"))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	body, err := auth.RegistrationResponse(challengeFrom(t, rec.Body.Bytes()), testOrigin)
	require.NoError(t, err)

	rec = ts.do(http.MethodPost, "/api/v1/webauthn/register/complete", bearer, body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
}

func TestHealthEndpoints(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(http.MethodGet, "/health/live", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(http.MethodGet, "/health/startup", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code, "startup fails before MarkStarted")

	ts.checker.MarkStarted()
	rec = ts.do(http.MethodGet, "/health/startup", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(http.MethodGet, "/health/ready", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	var ready struct {
		Status string               `json:"status"`
		Checks []health.CheckResult `json:"checks"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ready))
	assert.Equal(t, "healthy", ready.Status)
	require.Len(t, ready.Checks, 1)
	assert.Equal(t, "cache", ready.Checks[0].Name)
}

func TestAuthMiddleware(t *testing.T) {
	ts := newTestServer(t)

	t.Run("missing token", func(t *testing.T) {
		rec := ts.do(http.MethodPost, "/api/v1/webauthn/register/begin", "", []byte("{}"))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("malformed header", func(t *testing.T) {
		rec := ts.do(http.MethodPost, "/api/v1/webauthn/register/begin", "Basic abc", []byte("{}"))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("garbage token", func(t *testing.T) {
		rec := ts.do(http.MethodPost, "/api/v1/webauthn/register/begin", "Bearer not.a.token", []byte("{}"))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("valid token", func(t *testing.T) {
		rec := ts.do(http.MethodPost, "/api/v1/webauthn/register/begin", ts.bearer(t), []byte("{}"))
		assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	})
}

func TestUnauthorizedBodyIsUniform(t *testing.T) {
	ts := newTestServer(t)

	// Missing token, unknown login user, and a failed completion all
	// produce the same body, so a caller cannot probe for valid accounts.
	responses := []*httptest.ResponseRecorder{
		ts.do(http.MethodPost, "/api/v1/webauthn/register/begin", "", []byte("{}")),
		ts.do(http.MethodPost, "/api/v1/webauthn/authenticate/begin", "", []byte(`{"username":"nobody"}`)),
	}

	for _, rec := range responses {
		require.Equal(t, http.StatusUnauthorized, rec.Code)

		var body ErrorResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, ErrUnauthorized.Error(), body.Error)
		assert.Equal(t, http.StatusUnauthorized, body.Code)
	}
}

func TestRegistrationFlow(t *testing.T) {
	ts := newTestServer(t)
	auth, err := webauthn.NewMockAuthenticator(testRPID)
	require.NoError(t, err)

	ts.registerCredential(t, auth)

	rec := ts.do(http.MethodGet, "/api/v1/webauthn/credentials", ts.bearer(t), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var list CredentialListResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list.Credentials, 1)
}

func TestAuthenticationFlow(t *testing.T) {
	ts := newTestServer(t)
	auth, err := webauthn.NewMockAuthenticator(testRPID)
	require.NoError(t, err)
	ts.registerCredential(t, auth)

	rec := ts.do(http.MethodPost, "/api/v1/webauthn/authenticate/begin", "",
		[]byte(`{"username":"alice"}`))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	body, err := auth.AssertionResponse(
		challengeFrom(t, rec.Body.Bytes()), testOrigin, []byte(ts.account.ID))
	require.NoError(t, err)

	rec = ts.do(http.MethodPost, "/api/v1/webauthn/authenticate/complete", "", body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var result webauthn.AuthResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, "alice", result.Username)

	// The minted token works on protected routes.
	rec = ts.do(http.MethodGet, "/api/v1/webauthn/credentials", "Bearer "+result.AccessToken, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAuthenticateBegin_BadRequests(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(http.MethodPost, "/api/v1/webauthn/authenticate/begin", "", []byte(`{`))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(http.MethodPost, "/api/v1/webauthn/authenticate/begin", "", []byte(`{}`))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAuthenticateComplete_Rejections(t *testing.T) {
	ts := newTestServer(t)
	auth, err := webauthn.NewMockAuthenticator(testRPID)
	require.NoError(t, err)
	ts.registerCredential(t, auth)

	t.Run("unknown challenge", func(t *testing.T) {
		body, err := auth.AssertionResponse(
			base64.RawURLEncoding.EncodeToString([]byte("never-issued-0123456789abcdef")),
			testOrigin, []byte(ts.account.ID))
		require.NoError(t, err)

		rec := ts.do(http.MethodPost, "/api/v1/webauthn/authenticate/complete", "", body)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("sanitizer rejects injection", func(t *testing.T) {
		rec := ts.do(http.MethodPost, "/api/v1/webauthn/authenticate/complete", "",
			[]byte(`{"id":"<script>","rawId":"YWJj","type":"public-key","response":{}}`))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestDeleteCredentialEndpoint(t *testing.T) {
	ts := newTestServer(t)
	auth, err := webauthn.NewMockAuthenticator(testRPID)
	require.NoError(t, err)
	ts.registerCredential(t, auth)

	credID := base64.RawURLEncoding.EncodeToString(auth.CredentialID)
	bearer := ts.bearer(t)

	rec := ts.do(http.MethodDelete, fmt.Sprintf("/api/v1/webauthn/credentials/%s", credID), bearer, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var confirmation CredentialDeleteResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &confirmation))
	assert.Equal(t, credID, confirmation.CredentialID)
	assert.False(t, confirmation.DeletedAt.IsZero())

	// Deleting again is a 404.
	rec = ts.do(http.MethodDelete, fmt.Sprintf("/api/v1/webauthn/credentials/%s", credID), bearer, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSecurityMiddleware(t *testing.T) {
	ts := newTestServer(t)

	t.Run("suspicious user agent", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/webauthn/authenticate/begin",
			bytes.NewReader([]byte(`{"username":"alice"}`)))
		req.Header.Set("User-Agent", "<script>alert(1)</script>")
		req.Header.Set("Content-Type", "application/json")
		rec := httptest.NewRecorder()
		ts.handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("wrong content type", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/webauthn/authenticate/begin",
			bytes.NewReader([]byte(`{"username":"alice"}`)))
		req.Header.Set("User-Agent", testUserAgent)
		req.Header.Set("Content-Type", "text/plain")
		rec := httptest.NewRecorder()
		ts.handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnsupportedMediaType, rec.Code)
	})

	t.Run("disallowed origin", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/webauthn/authenticate/begin",
			bytes.NewReader([]byte(`{"username":"alice"}`)))
		req.Header.Set("User-Agent", testUserAgent)
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Origin", "https://evil.example.com")
		rec := httptest.NewRecorder()
		ts.handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("security headers stamped", func(t *testing.T) {
		rec := ts.do(http.MethodPost, "/api/v1/webauthn/authenticate/begin", "",
			[]byte(`{"username":"nobody"}`))
		assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
		assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	})
}

func TestCorrelationHeaderEchoed(t *testing.T) {
	ts := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Correlation-ID", "fixed-id")
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)

	assert.Equal(t, "fixed-id", rec.Header().Get("X-Correlation-ID"))

	// When absent, one is generated.
	rec = ts.do(http.MethodGet, "/health", "", nil)
	assert.NotEmpty(t, rec.Header().Get("X-Correlation-ID"))
}

func TestNewServer_Validation(t *testing.T) {
	_, err := NewServer(nil)
	require.Error(t, err)

	_, err = NewServer(&Config{})
	require.Error(t, err)
}
