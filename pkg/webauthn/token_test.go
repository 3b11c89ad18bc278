// Copyright (c) 2026 Gatekeep Project
//
// This file is part of go-gatekeep.
//
// go-gatekeep is licensed under the GNU Affero General Public License v3.0.
// See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html

package webauthn

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testAccount() *Account {
	return &Account{
		ID:          "user-123",
		Username:    "alice",
		DisplayName: "Alice",
		Active:      true,
	}
}

func TestJWTIssuer_RoundTrip(t *testing.T) {
	issuer, err := NewJWTIssuer(nil)
	require.NoError(t, err)

	token, err := issuer.Issue(context.Background(), testAccount())
	require.NoError(t, err)
	require.NotEmpty(t, token)

	subject, err := issuer.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "user-123", subject)
}

func TestJWTIssuer_Defaults(t *testing.T) {
	issuer, err := NewJWTIssuer(&JWTIssuerConfig{})
	require.NoError(t, err)
	assert.Equal(t, time.Hour, issuer.ExpiresIn())
	assert.NotNil(t, issuer.PublicKey())
}

func TestJWTIssuer_RejectsForeignSignature(t *testing.T) {
	a, err := NewJWTIssuer(nil)
	require.NoError(t, err)
	b, err := NewJWTIssuer(nil)
	require.NoError(t, err)

	// Both issuers use the default iss/aud claims, so only the signing
	// key differs.
	token, err := a.Issue(context.Background(), testAccount())
	require.NoError(t, err)

	_, err = b.Verify(token)
	require.Error(t, err)
}

func TestJWTIssuer_RejectsWrongIssuerAndAudience(t *testing.T) {
	minter, err := NewJWTIssuer(&JWTIssuerConfig{
		Issuer:   "other-service",
		Audience: []string{"other-audience"},
	})
	require.NoError(t, err)

	verifier, err := NewJWTIssuer(&JWTIssuerConfig{
		PrivateKey: minter.privateKey,
	})
	require.NoError(t, err)

	token, err := minter.Issue(context.Background(), testAccount())
	require.NoError(t, err)

	_, err = verifier.Verify(token)
	require.Error(t, err)
}

func TestJWTIssuer_RejectsExpiredToken(t *testing.T) {
	issuer, err := NewJWTIssuer(&JWTIssuerConfig{ExpiresIn: -time.Minute})
	require.NoError(t, err)

	token, err := issuer.Issue(context.Background(), testAccount())
	require.NoError(t, err)

	_, err = issuer.Verify(token)
	require.Error(t, err)
}

func TestJWTIssuer_RejectsUnsignedAlgorithm(t *testing.T) {
	issuer, err := NewJWTIssuer(nil)
	require.NoError(t, err)

	unsigned := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{
		"iss": "go-gatekeep",
		"aud": "go-gatekeep",
		"sub": "user-123",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	token, err := unsigned.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = issuer.Verify(token)
	require.Error(t, err)
}
