// Copyright (c) 2026 Gatekeep Project
//
// This file is part of go-gatekeep.
//
// go-gatekeep is licensed under the GNU Affero General Public License v3.0.
// See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html

package webauthn

import (
	"context"
	"encoding/base64"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/gatekeep/go-gatekeep/pkg/cache"
	"github.com/gatekeep/go-gatekeep/pkg/challenge"
	"github.com/gatekeep/go-gatekeep/pkg/credential"
)

const (
	testRPID   = "localhost"
	testOrigin = "http://localhost:8080"
)

type testHarness struct {
	service   *Service
	directory *MemoryDirectory
	tokens    *JWTIssuer
	account   *Account
	creds     *credential.Store
}

func newTestHarness(t *testing.T) *testHarness {
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

	directory := NewMemoryDirectory()
	account := directory.Create(&Account{
		Username:    "alice",
		Email:       "alice@example.com",
		DisplayName: "Alice",
		Active:      true,
	})

	tokens, err := NewJWTIssuer(&JWTIssuerConfig{})
	require.NoError(t, err)

	service, err := NewService(ServiceParams{
		Config: &Config{
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

	return &testHarness{
		service:   service,
		directory: directory,
		tokens:    tokens,
		account:   account,
		creds:     creds,
	}
}

// register runs a full registration ceremony for the harness account.
func (h *testHarness) register(t *testing.T, auth *MockAuthenticator, deviceName string) *RegistrationResult {
	t.Helper()
	ctx := context.Background()

	options, err := h.service.BeginRegistration(ctx, h.account.ID)
	require.NoError(t, err)

	chal := base64.RawURLEncoding.EncodeToString(options.Response.Challenge)
	body, err := auth.RegistrationResponse(chal, testOrigin)
	require.NoError(t, err)

	result, err := h.service.CompleteRegistration(ctx, h.account.ID, deviceName, "", body)
	require.NoError(t, err)
	return result
}

// authenticate runs a full authentication ceremony for the harness account.
func (h *testHarness) authenticate(t *testing.T, auth *MockAuthenticator) (*AuthResult, error) {
	t.Helper()
	ctx := context.Background()

	options, err := h.service.BeginAuthentication(ctx, h.account.Username)
	require.NoError(t, err)

	chal := base64.RawURLEncoding.EncodeToString(options.Response.Challenge)
	body, err := auth.AssertionResponse(chal, testOrigin, []byte(h.account.ID))
	require.NoError(t, err)

	return h.service.CompleteAuthentication(ctx, body)
}

func TestRegistrationCeremony(t *testing.T) {
	h := newTestHarness(t)
	auth, err := NewMockAuthenticator(testRPID)
	require.NoError(t, err)

	result := h.register(t, auth, "My Passkey")
	assert.Equal(t, "My Passkey", result.Credential.DeviceName)
	assert.Equal(t, credential.TypeCrossPlatform, result.Credential.AuthenticatorType)
	assert.Equal(t,
		base64.RawURLEncoding.EncodeToString(auth.CredentialID),
		result.Credential.CredentialID)

	summaries, err := h.service.ListCredentials(context.Background(), h.account.ID)
	require.NoError(t, err)
	require.Len(t, summaries, 1)
}

func TestBeginRegistration_UnknownOrInactiveUser(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()

	_, err := h.service.BeginRegistration(ctx, "no-such-user")
	require.ErrorIs(t, err, ErrUserNotFound)

	disabled := h.directory.Create(&Account{Username: "mallory", Active: false})
	_, err = h.service.BeginRegistration(ctx, disabled.ID)
	require.ErrorIs(t, err, ErrUserNotFound)
}

func TestCompleteRegistration_MalformedBody(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()

	_, err := h.service.BeginRegistration(ctx, h.account.ID)
	require.NoError(t, err)

	_, err = h.service.CompleteRegistration(ctx, h.account.ID, "", "", []byte("{not json"))
	require.ErrorIs(t, err, ErrMalformedCredentialResponse)
}

func TestCompleteRegistration_ReplayRejected(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()
	auth, err := NewMockAuthenticator(testRPID)
	require.NoError(t, err)

	options, err := h.service.BeginRegistration(ctx, h.account.ID)
	require.NoError(t, err)

	chal := base64.RawURLEncoding.EncodeToString(options.Response.Challenge)
	body, err := auth.RegistrationResponse(chal, testOrigin)
	require.NoError(t, err)

	_, err = h.service.CompleteRegistration(ctx, h.account.ID, "", "", body)
	require.NoError(t, err)

	// The challenge was consumed; the identical response must be rejected.
	_, err = h.service.CompleteRegistration(ctx, h.account.ID, "", "", body)
	require.ErrorIs(t, err, ErrInvalidOrExpiredChallenge)
}

func TestCompleteRegistration_ChallengeBoundToUser(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()
	auth, err := NewMockAuthenticator(testRPID)
	require.NoError(t, err)

	bob := h.directory.Create(&Account{Username: "bob", Active: true})

	// A challenge issued to alice cannot complete bob's registration.
	options, err := h.service.BeginRegistration(ctx, h.account.ID)
	require.NoError(t, err)

	chal := base64.RawURLEncoding.EncodeToString(options.Response.Challenge)
	body, err := auth.RegistrationResponse(chal, testOrigin)
	require.NoError(t, err)

	_, err = h.service.CompleteRegistration(ctx, bob.ID, "", "", body)
	require.ErrorIs(t, err, ErrInvalidOrExpiredChallenge)
}

func TestAuthenticationCeremony(t *testing.T) {
	h := newTestHarness(t)
	auth, err := NewMockAuthenticator(testRPID)
	require.NoError(t, err)
	h.register(t, auth, "key")

	result, err := h.authenticate(t, auth)
	require.NoError(t, err)
	assert.Equal(t, "alice", result.Username)
	assert.NotEmpty(t, result.AccessToken)
	assert.Equal(t,
		base64.RawURLEncoding.EncodeToString(auth.CredentialID),
		result.CredentialID)

	// The minted token verifies back to the account.
	subject, err := h.tokens.Verify(result.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, h.account.ID, subject)

	// One successful ceremony advances the stored sign count by exactly 1.
	stored, err := h.creds.GetByID(context.Background(), result.CredentialID)
	require.NoError(t, err)
	assert.Equal(t, uint32(1), stored.SignCount)
}

func TestAuthentication_RepeatedCeremonies(t *testing.T) {
	h := newTestHarness(t)
	auth, err := NewMockAuthenticator(testRPID)
	require.NoError(t, err)
	h.register(t, auth, "key")

	for i := 0; i < 3; i++ {
		_, err := h.authenticate(t, auth)
		require.NoError(t, err, "ceremony %d", i+1)
	}
}

func TestBeginAuthentication_Failures(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()

	t.Run("unknown username", func(t *testing.T) {
		_, err := h.service.BeginAuthentication(ctx, "nobody")
		require.ErrorIs(t, err, ErrInvalidCredentials)
	})

	t.Run("inactive account", func(t *testing.T) {
		h.directory.Create(&Account{Username: "disabled", Active: false})
		_, err := h.service.BeginAuthentication(ctx, "disabled")
		require.ErrorIs(t, err, ErrInvalidCredentials)
	})

	t.Run("no registered credentials", func(t *testing.T) {
		_, err := h.service.BeginAuthentication(ctx, h.account.Username)
		require.ErrorIs(t, err, ErrNoCredentialsFound)
	})
}

func TestCompleteAuthentication_GenericFailure(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()
	auth, err := NewMockAuthenticator(testRPID)
	require.NoError(t, err)
	h.register(t, auth, "key")

	t.Run("assertion from wrong key", func(t *testing.T) {
		options, err := h.service.BeginAuthentication(ctx, h.account.Username)
		require.NoError(t, err)

		// Same credential ID, different private key: the signature check
		// fails and the caller learns nothing beyond the uniform error.
		impostor, err := NewMockAuthenticator(testRPID, WithCredentialID(auth.CredentialID))
		require.NoError(t, err)
		impostor.SetSignCount(auth.SignCount)

		chal := base64.RawURLEncoding.EncodeToString(options.Response.Challenge)
		body, err := impostor.AssertionResponse(chal, testOrigin, []byte(h.account.ID))
		require.NoError(t, err)

		_, err = h.service.CompleteAuthentication(ctx, body)
		require.ErrorIs(t, err, ErrAuthenticationFailed)
		assert.Equal(t, ErrAuthenticationFailed.Error(), err.Error(),
			"completion failures must not leak their cause")
	})

	t.Run("unknown challenge", func(t *testing.T) {
		body, err := auth.AssertionResponse(
			base64.RawURLEncoding.EncodeToString([]byte("never-issued-value-0123456789ab")),
			testOrigin, []byte(h.account.ID))
		require.NoError(t, err)

		_, err = h.service.CompleteAuthentication(ctx, body)
		require.ErrorIs(t, err, ErrInvalidOrExpiredChallenge)
	})

	t.Run("malformed body", func(t *testing.T) {
		_, err := h.service.CompleteAuthentication(ctx, []byte("junk"))
		require.ErrorIs(t, err, ErrMalformedCredentialResponse)
	})
}

func TestCompleteAuthentication_CounterRegression(t *testing.T) {
	h := newTestHarness(t)
	auth, err := NewMockAuthenticator(testRPID)
	require.NoError(t, err)
	h.register(t, auth, "key")

	// A legitimate authentication advances the stored counter.
	_, err = h.authenticate(t, auth)
	require.NoError(t, err)

	// A cloned authenticator replays an old counter value. The response
	// is cryptographically valid but the counter does not advance, so the
	// attempt fails with the same generic error as any other failure.
	auth.SetSignCount(0)
	_, err = h.authenticate(t, auth)
	require.ErrorIs(t, err, ErrAuthenticationFailed)

	// The real authenticator's next counter is ahead of the stored value
	// and continues to work.
	auth.SetSignCount(10)
	_, err = h.authenticate(t, auth)
	require.NoError(t, err)
}

func TestDeleteCredential(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()
	auth, err := NewMockAuthenticator(testRPID)
	require.NoError(t, err)
	result := h.register(t, auth, "key")

	confirmation, err := h.service.DeleteCredential(ctx, h.account.ID, result.Credential.CredentialID)
	require.NoError(t, err)
	assert.Equal(t, result.Credential.CredentialID, confirmation.CredentialID)

	// Deleted credentials cannot begin authentication.
	_, err = h.service.BeginAuthentication(ctx, h.account.Username)
	require.ErrorIs(t, err, ErrNoCredentialsFound)

	// Deleting someone else's credential is indistinguishable from a
	// missing one.
	other := h.directory.Create(&Account{Username: "bob", Active: true})
	_, err = h.service.DeleteCredential(ctx, other.ID, result.Credential.CredentialID)
	require.ErrorIs(t, err, credential.ErrNotFoundOrNotOwned)
}

func TestNewService_Validation(t *testing.T) {
	h := newTestHarness(t)

	base := func() ServiceParams {
		return ServiceParams{
			Config: &Config{
				RPID:          testRPID,
				RPDisplayName: "Gatekeep Test",
				RPOrigins:     []string{testOrigin},
			},
			Directory:   h.directory,
			Challenges:  h.service.challenges,
			Credentials: h.service.creds,
			Tokens:      h.tokens,
		}
	}

	tests := []struct {
		name   string
		mutate func(p *ServiceParams)
	}{
		{"missing config", func(p *ServiceParams) { p.Config = nil }},
		{"missing directory", func(p *ServiceParams) { p.Directory = nil }},
		{"missing challenges", func(p *ServiceParams) { p.Challenges = nil }},
		{"missing credentials", func(p *ServiceParams) { p.Credentials = nil }},
		{"missing tokens", func(p *ServiceParams) { p.Tokens = nil }},
		{"config without rpid", func(p *ServiceParams) { p.Config = &Config{RPDisplayName: "x", RPOrigins: []string{testOrigin}} }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			params := base()
			tt.mutate(&params)
			_, err := NewService(params)
			require.Error(t, err)
		})
	}
}
