// Copyright (c) 2026 Gatekeep Project
//
// This file is part of go-gatekeep.
//
// go-gatekeep is licensed under the GNU Affero General Public License v3.0.
// See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html

package security

import (
	"encoding/base64"
	"strings"
)

// Per-field size ceilings, in bytes of base64url text.
const (
	maxCredentialIDLength      = 1024
	maxAttestationObjectLength = 131072
	maxClientDataJSONLength    = 16384
	maxAuthenticatorDataLength = 8192
	maxSignatureLength         = 2048
	maxUserHandleLength        = 256
	maxDeviceNameLength        = 64
)

var deviceNameStripper = strings.NewReplacer(
	"<", "", ">", "", "\"", "", "'", "", "&", "")

// SanitizeCredentialPayload filters a decoded ceremony payload down to the
// fields the given operation is allowed to carry, validating each value's
// shape and size. Unknown fields are dropped silently; a present field with
// an invalid value is an error.
func SanitizeCredentialPayload(payload map[string]any, op Operation) (map[string]any, error) {
	out := make(map[string]any, len(payload))

	if err := copyBase64Field(payload, out, "id", maxCredentialIDLength); err != nil {
		return nil, err
	}
	if err := copyBase64Field(payload, out, "rawId", maxCredentialIDLength); err != nil {
		return nil, err
	}

	if raw, ok := payload["type"]; ok {
		s, ok := raw.(string)
		if !ok || s != "public-key" {
			return nil, &RequestDataError{Field: "type", Reason: "must be public-key"}
		}
		out["type"] = s
	}

	response, err := sanitizeResponse(payload, op)
	if err != nil {
		return nil, err
	}
	if response != nil {
		out["response"] = response
	}

	switch op {
	case OperationRegistration:
		if raw, ok := payload["deviceName"]; ok {
			name, err := sanitizeDeviceName(raw)
			if err != nil {
				return nil, err
			}
			out["deviceName"] = name
		}
		if raw, ok := payload["authenticatorAttachment"]; ok {
			s, ok := raw.(string)
			if !ok || (s != "platform" && s != "cross-platform" && s != "") {
				return nil, &RequestDataError{Field: "authenticatorAttachment", Reason: "unknown attachment"}
			}
			out["authenticatorAttachment"] = s
		}
	}

	return out, nil
}

func sanitizeResponse(payload map[string]any, op Operation) (map[string]any, error) {
	raw, ok := payload["response"]
	if !ok {
		return nil, nil
	}
	in, ok := raw.(map[string]any)
	if !ok {
		return nil, &RequestDataError{Field: "response", Reason: "must be an object"}
	}

	out := make(map[string]any, len(in))
	switch op {
	case OperationRegistration:
		if err := copyBase64Field(in, out, "attestationObject", maxAttestationObjectLength); err != nil {
			return nil, err
		}
		if err := copyBase64Field(in, out, "clientDataJSON", maxClientDataJSONLength); err != nil {
			return nil, err
		}
		if transports, ok := in["transports"]; ok {
			cleaned, err := sanitizeTransports(transports)
			if err != nil {
				return nil, err
			}
			out["transports"] = cleaned
		}
	case OperationAuthentication:
		if err := copyBase64Field(in, out, "authenticatorData", maxAuthenticatorDataLength); err != nil {
			return nil, err
		}
		if err := copyBase64Field(in, out, "clientDataJSON", maxClientDataJSONLength); err != nil {
			return nil, err
		}
		if err := copyBase64Field(in, out, "signature", maxSignatureLength); err != nil {
			return nil, err
		}
		if err := copyBase64Field(in, out, "userHandle", maxUserHandleLength); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func copyBase64Field(in, out map[string]any, field string, maxLen int) error {
	raw, ok := in[field]
	if !ok {
		return nil
	}
	s, ok := raw.(string)
	if !ok {
		return &RequestDataError{Field: field, Reason: "must be a string"}
	}
	if s == "" {
		out[field] = s
		return nil
	}
	if len(s) > maxLen {
		return &RequestDataError{Field: field, Reason: "exceeds size limit"}
	}
	if !isBase64URL(s) {
		return &RequestDataError{Field: field, Reason: "not base64url"}
	}
	out[field] = s
	return nil
}

func sanitizeTransports(raw any) ([]string, error) {
	list, ok := raw.([]any)
	if !ok {
		return nil, &RequestDataError{Field: "transports", Reason: "must be an array"}
	}
	out := make([]string, 0, len(list))
	for _, item := range list {
		s, ok := item.(string)
		if !ok {
			return nil, &RequestDataError{Field: "transports", Reason: "must contain strings"}
		}
		switch s {
		case "usb", "nfc", "ble", "internal", "hybrid", "smart-card":
			out = append(out, s)
		default:
			// Unknown transport hints are dropped, not fatal.
		}
	}
	return out, nil
}

func sanitizeDeviceName(raw any) (string, error) {
	s, ok := raw.(string)
	if !ok {
		return "", &RequestDataError{Field: "deviceName", Reason: "must be a string"}
	}
	s = strings.TrimSpace(deviceNameStripper.Replace(s))
	if len(s) > maxDeviceNameLength {
		return "", &RequestDataError{Field: "deviceName", Reason: "exceeds size limit"}
	}
	return s, nil
}

func isBase64URL(s string) bool {
	if _, err := base64.RawURLEncoding.DecodeString(s); err == nil {
		return true
	}
	_, err := base64.URLEncoding.DecodeString(s)
	return err == nil
}
