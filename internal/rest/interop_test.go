// Copyright (c) 2026 Gatekeep Project
//
// This file is part of go-gatekeep.
//
// go-gatekeep is licensed under the GNU Affero General Public License v3.0.
// See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html

package rest

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/descope/virtualwebauthn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gatekeep/go-gatekeep/pkg/webauthn"
)

// TestVirtualAuthenticatorInterop drives both ceremonies end to end with
// an independently implemented client-side authenticator, so the wire
// format is not just checked against our own mock.
func TestVirtualAuthenticatorInterop(t *testing.T) {
	ts := newTestServer(t)

	rp := virtualwebauthn.RelyingParty{
		Name:   "Gatekeep Test",
		ID:     testRPID,
		Origin: testOrigin,
	}
	authenticator := virtualwebauthn.NewAuthenticator()
	cred := virtualwebauthn.NewCredential(virtualwebauthn.KeyTypeEC2)

	// Registration.
	rec := ts.do(http.MethodPost, "/api/v1/webauthn/register/begin", ts.bearer(t), []byte("{}"))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	attestationOptions, err := virtualwebauthn.ParseAttestationOptions(rec.Body.String())
	require.NoError(t, err)

	attestationResponse := virtualwebauthn.CreateAttestationResponse(rp, authenticator, cred, *attestationOptions)
	rec = ts.do(http.MethodPost, "/api/v1/webauthn/register/complete", ts.bearer(t), []byte(attestationResponse))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	authenticator.AddCredential(cred)

	// Authentication.
	rec = ts.do(http.MethodPost, "/api/v1/webauthn/authenticate/begin", "",
		[]byte(`{"username":"alice"}`))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	assertionOptions, err := virtualwebauthn.ParseAssertionOptions(rec.Body.String())
	require.NoError(t, err)

	assertionResponse := virtualwebauthn.CreateAssertionResponse(rp, authenticator, cred, *assertionOptions)
	rec = ts.do(http.MethodPost, "/api/v1/webauthn/authenticate/complete", "", []byte(assertionResponse))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var result webauthn.AuthResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, "alice", result.Username)
	assert.NotEmpty(t, result.AccessToken)
}
