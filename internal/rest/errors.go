// Copyright (c) 2026 Gatekeep Project
//
// This file is part of go-gatekeep.
//
// go-gatekeep is licensed under the GNU Affero General Public License v3.0.
// See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html

package rest

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/gatekeep/go-gatekeep/pkg/challenge"
	"github.com/gatekeep/go-gatekeep/pkg/credential"
	"github.com/gatekeep/go-gatekeep/pkg/security"
	"github.com/gatekeep/go-gatekeep/pkg/webauthn"
)

// Common errors
var (
	ErrInvalidRequest = errors.New("invalid request")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrInternalError  = errors.New("internal server error")
)

// writeError writes an error response to the client.
func writeError(w http.ResponseWriter, err error, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	resp := ErrorResponse{
		Error: err.Error(),
		Code:  statusCode,
	}

	if encErr := json.NewEncoder(w).Encode(resp); encErr != nil {
		log.Printf("Failed to encode error response: %v", encErr)
	}
}

// mapErrorToStatusCode maps domain errors to HTTP status codes.
//
// Authentication-completion failures are mapped before domain storage
// errors so the uniform ErrAuthenticationFailed always yields the same
// 401 body regardless of underlying cause.
func mapErrorToStatusCode(err error) int {
	switch {
	case errors.Is(err, webauthn.ErrAuthenticationFailed),
		errors.Is(err, webauthn.ErrInvalidCredentials),
		errors.Is(err, ErrUnauthorized),
		errors.Is(err, security.ErrAuthenticationRequired):
		return http.StatusUnauthorized

	case errors.Is(err, webauthn.ErrNoCredentialsFound),
		errors.Is(err, webauthn.ErrUserNotFound),
		errors.Is(err, credential.ErrNotFoundOrNotOwned),
		errors.Is(err, credential.ErrNotFound):
		return http.StatusNotFound

	case errors.Is(err, security.ErrOriginNotAllowed),
		errors.Is(err, security.ErrRefererNotAllowed):
		return http.StatusForbidden

	case errors.Is(err, security.ErrPayloadTooLarge):
		return http.StatusRequestEntityTooLarge

	case errors.Is(err, security.ErrInvalidContentType):
		return http.StatusUnsupportedMediaType

	case errors.Is(err, webauthn.ErrInvalidOrExpiredChallenge),
		errors.Is(err, webauthn.ErrMalformedCredentialResponse),
		errors.Is(err, webauthn.ErrInvalidCredential),
		errors.Is(err, challenge.ErrNotFound),
		errors.Is(err, security.ErrMissingUserAgent),
		errors.Is(err, security.ErrSuspiciousUserAgent),
		errors.Is(err, security.ErrInvalidRequestData),
		errors.Is(err, ErrInvalidRequest):
		return http.StatusBadRequest

	case errors.Is(err, challenge.ErrStorageFailed),
		errors.Is(err, credential.ErrStorageFailed):
		return http.StatusServiceUnavailable

	default:
		return http.StatusInternalServerError
	}
}

// handleError maps the error to a status code and writes the response.
// Internal errors are not echoed to the client.
func handleError(w http.ResponseWriter, err error) {
	statusCode := mapErrorToStatusCode(err)
	switch {
	case statusCode >= http.StatusInternalServerError:
		writeError(w, ErrInternalError, statusCode)
	case statusCode == http.StatusUnauthorized:
		// One body for every unauthorized cause.
		writeError(w, ErrUnauthorized, statusCode)
	default:
		writeError(w, err, statusCode)
	}
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Printf("Failed to encode JSON response: %v", err)
	}
}
