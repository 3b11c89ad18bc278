// Copyright (c) 2026 Gatekeep Project
//
// This file is part of go-gatekeep.
//
// go-gatekeep is licensed under the GNU Affero General Public License v3.0.
// See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html

package rest

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/gatekeep/go-gatekeep/pkg/security"
)

// readSanitizedPayload reads the request body, decodes it, and filters it
// through the per-operation field allow-list. It returns the sanitized
// payload map and its re-encoded JSON form.
func (s *Server) readSanitizedPayload(w http.ResponseWriter, r *http.Request, op security.Operation) (map[string]any, []byte, error) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.maxContentLength))
	if err != nil {
		return nil, nil, ErrInvalidRequest
	}

	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, nil, ErrInvalidRequest
	}

	sanitized, err := security.SanitizeCredentialPayload(payload, op)
	if err != nil {
		return nil, nil, err
	}

	// The ceremony parser only understands the credential fields.
	credentialOnly := make(map[string]any, len(sanitized))
	for k, v := range sanitized {
		if k == "deviceName" || k == "authenticatorAttachment" {
			continue
		}
		credentialOnly[k] = v
	}
	encoded, err := json.Marshal(credentialOnly)
	if err != nil {
		return nil, nil, ErrInvalidRequest
	}
	return sanitized, encoded, nil
}

// RegisterBeginHandler starts a registration ceremony for the
// authenticated user.
func (s *Server) RegisterBeginHandler(w http.ResponseWriter, r *http.Request) {
	userID := UserID(r.Context())
	if userID == "" {
		writeError(w, ErrUnauthorized, http.StatusUnauthorized)
		return
	}

	options, err := s.service.BeginRegistration(r.Context(), userID)
	if err != nil {
		handleError(w, err)
		return
	}
	writeJSON(w, options, http.StatusOK)
}

// RegisterCompleteHandler verifies an attestation response and stores the
// credential.
func (s *Server) RegisterCompleteHandler(w http.ResponseWriter, r *http.Request) {
	userID := UserID(r.Context())
	if userID == "" {
		writeError(w, ErrUnauthorized, http.StatusUnauthorized)
		return
	}

	sanitized, body, err := s.readSanitizedPayload(w, r, security.OperationRegistration)
	if err != nil {
		handleError(w, err)
		return
	}

	deviceName, _ := sanitized["deviceName"].(string)
	attachment, _ := sanitized["authenticatorAttachment"].(string)

	result, err := s.service.CompleteRegistration(r.Context(), userID, deviceName, attachment, body)
	if err != nil {
		handleError(w, err)
		return
	}
	writeJSON(w, result, http.StatusCreated)
}

// AuthenticateBeginHandler starts an authentication ceremony.
func (s *Server) AuthenticateBeginHandler(w http.ResponseWriter, r *http.Request) {
	var req AuthenticateBeginRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, s.maxContentLength)).Decode(&req); err != nil {
		writeError(w, ErrInvalidRequest, http.StatusBadRequest)
		return
	}
	if req.Username == "" {
		writeError(w, ErrInvalidRequest, http.StatusBadRequest)
		return
	}

	options, err := s.service.BeginAuthentication(r.Context(), req.Username)
	if err != nil {
		handleError(w, err)
		return
	}
	writeJSON(w, options, http.StatusOK)
}

// AuthenticateCompleteHandler verifies an assertion response and returns
// a session token.
func (s *Server) AuthenticateCompleteHandler(w http.ResponseWriter, r *http.Request) {
	_, body, err := s.readSanitizedPayload(w, r, security.OperationAuthentication)
	if err != nil {
		handleError(w, err)
		return
	}

	result, err := s.service.CompleteAuthentication(r.Context(), body)
	if err != nil {
		handleError(w, err)
		return
	}
	writeJSON(w, result, http.StatusOK)
}

// ListCredentialsHandler lists the authenticated user's active
// credentials.
func (s *Server) ListCredentialsHandler(w http.ResponseWriter, r *http.Request) {
	userID := UserID(r.Context())
	if userID == "" {
		writeError(w, ErrUnauthorized, http.StatusUnauthorized)
		return
	}

	summaries, err := s.service.ListCredentials(r.Context(), userID)
	if err != nil {
		handleError(w, err)
		return
	}
	writeJSON(w, CredentialListResponse{Credentials: summaries}, http.StatusOK)
}

// DeleteCredentialHandler retires one of the authenticated user's
// credentials.
func (s *Server) DeleteCredentialHandler(w http.ResponseWriter, r *http.Request) {
	userID := UserID(r.Context())
	if userID == "" {
		writeError(w, ErrUnauthorized, http.StatusUnauthorized)
		return
	}

	credentialID := chi.URLParam(r, "id")
	if credentialID == "" {
		writeError(w, ErrInvalidRequest, http.StatusBadRequest)
		return
	}

	confirmation, err := s.service.DeleteCredential(r.Context(), userID, credentialID)
	if err != nil {
		handleError(w, err)
		return
	}
	writeJSON(w, CredentialDeleteResponse{
		CredentialID: confirmation.CredentialID,
		DeletedAt:    confirmation.DeletedAt,
	}, http.StatusOK)
}
