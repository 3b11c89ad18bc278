// Copyright (c) 2026 Gatekeep Project
//
// This file is part of go-gatekeep.
//
// go-gatekeep is licensed under the GNU Affero General Public License v3.0.
// See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html

package security

import (
	"encoding/base64"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func b64(s string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(s))
}

func registrationPayload() map[string]any {
	return map[string]any{
		"id":    b64("credential-id"),
		"rawId": b64("credential-id"),
		"type":  "public-key",
		"response": map[string]any{
			"attestationObject": b64("attestation"),
			"clientDataJSON":    b64(`{"type":"webauthn.create"}`),
			"transports":        []any{"usb", "nfc"},
		},
		"deviceName": "My Passkey",
	}
}

func assertionPayload() map[string]any {
	return map[string]any{
		"id":    b64("credential-id"),
		"rawId": b64("credential-id"),
		"type":  "public-key",
		"response": map[string]any{
			"authenticatorData": b64("authdata"),
			"clientDataJSON":    b64(`{"type":"webauthn.get"}`),
			"signature":         b64("signature"),
			"userHandle":        b64("user-1"),
		},
	}
}

func TestSanitizeCredentialPayload_Registration(t *testing.T) {
	out, err := SanitizeCredentialPayload(registrationPayload(), OperationRegistration)
	require.NoError(t, err)

	assert.Equal(t, b64("credential-id"), out["id"])
	assert.Equal(t, "public-key", out["type"])
	assert.Equal(t, "My Passkey", out["deviceName"])

	response, ok := out["response"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, b64("attestation"), response["attestationObject"])
	assert.Equal(t, []string{"usb", "nfc"}, response["transports"])
}

func TestSanitizeCredentialPayload_Authentication(t *testing.T) {
	out, err := SanitizeCredentialPayload(assertionPayload(), OperationAuthentication)
	require.NoError(t, err)

	response, ok := out["response"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, b64("signature"), response["signature"])
	assert.Equal(t, b64("user-1"), response["userHandle"])
}

func TestSanitizeCredentialPayload_DropsUnknownFields(t *testing.T) {
	payload := registrationPayload()
	payload["__proto__"] = map[string]any{"polluted": true}
	payload["extensions"] = "anything"
	response := payload["response"].(map[string]any)
	response["evalMe"] = "alert(1)"

	out, err := SanitizeCredentialPayload(payload, OperationRegistration)
	require.NoError(t, err)

	assert.NotContains(t, out, "__proto__")
	assert.NotContains(t, out, "extensions")
	assert.NotContains(t, out["response"].(map[string]any), "evalMe")
}

func TestSanitizeCredentialPayload_AuthenticationExcludesRegistrationFields(t *testing.T) {
	payload := assertionPayload()
	payload["deviceName"] = "should not survive"
	response := payload["response"].(map[string]any)
	response["attestationObject"] = b64("attestation")

	out, err := SanitizeCredentialPayload(payload, OperationAuthentication)
	require.NoError(t, err)

	assert.NotContains(t, out, "deviceName")
	assert.NotContains(t, out["response"].(map[string]any), "attestationObject")
}

func TestSanitizeCredentialPayload_InvalidFields(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(p map[string]any)
		field  string
	}{
		{
			name:   "non-base64 credential id",
			mutate: func(p map[string]any) { p["id"] = "not!!!base64***" },
			field:  "id",
		},
		{
			name:   "credential id over size limit",
			mutate: func(p map[string]any) { p["id"] = b64(strings.Repeat("a", 2048)) },
			field:  "id",
		},
		{
			name:   "wrong credential type",
			mutate: func(p map[string]any) { p["type"] = "password" },
			field:  "type",
		},
		{
			name:   "non-string credential id",
			mutate: func(p map[string]any) { p["id"] = 42 },
			field:  "id",
		},
		{
			name:   "response not an object",
			mutate: func(p map[string]any) { p["response"] = "flat" },
			field:  "response",
		},
		{
			name: "non-base64 attestation object",
			mutate: func(p map[string]any) {
				p["response"].(map[string]any)["attestationObject"] = "<script>"
			},
			field: "attestationObject",
		},
		{
			name:   "non-string device name",
			mutate: func(p map[string]any) { p["deviceName"] = []any{"x"} },
			field:  "deviceName",
		},
		{
			name:   "unknown authenticator attachment",
			mutate: func(p map[string]any) { p["authenticatorAttachment"] = "usb-dongle" },
			field:  "authenticatorAttachment",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payload := registrationPayload()
			tt.mutate(payload)

			_, err := SanitizeCredentialPayload(payload, OperationRegistration)
			require.ErrorIs(t, err, ErrInvalidRequestData)

			var rde *RequestDataError
			require.True(t, errors.As(err, &rde))
			assert.Equal(t, tt.field, rde.Field)
		})
	}
}

func TestSanitizeDeviceName_StripsMarkup(t *testing.T) {
	payload := registrationPayload()
	payload["deviceName"] = `<script>alert("x")</script> Tim's & Key`

	out, err := SanitizeCredentialPayload(payload, OperationRegistration)
	require.NoError(t, err)
	assert.Equal(t, "scriptalert(x)/script Tims  Key", out["deviceName"])
}

func TestSanitizeDeviceName_SizeLimit(t *testing.T) {
	payload := registrationPayload()
	payload["deviceName"] = strings.Repeat("n", maxDeviceNameLength+1)

	_, err := SanitizeCredentialPayload(payload, OperationRegistration)
	require.ErrorIs(t, err, ErrInvalidRequestData)
}

func TestSanitizeTransports(t *testing.T) {
	t.Run("unknown transports dropped", func(t *testing.T) {
		payload := registrationPayload()
		payload["response"].(map[string]any)["transports"] = []any{"usb", "carrier-pigeon", "internal"}

		out, err := SanitizeCredentialPayload(payload, OperationRegistration)
		require.NoError(t, err)
		assert.Equal(t, []string{"usb", "internal"},
			out["response"].(map[string]any)["transports"])
	})

	t.Run("non-string entry is fatal", func(t *testing.T) {
		payload := registrationPayload()
		payload["response"].(map[string]any)["transports"] = []any{"usb", 7}

		_, err := SanitizeCredentialPayload(payload, OperationRegistration)
		require.ErrorIs(t, err, ErrInvalidRequestData)
	})
}
