// Copyright (c) 2026 Gatekeep Project
//
// This file is part of go-gatekeep.
//
// go-gatekeep is licensed under the GNU Affero General Public License v3.0.
// See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html

package rest

import (
	"time"

	"github.com/gatekeep/go-gatekeep/pkg/credential"
)

// ErrorResponse is the uniform error body.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
	Code    int    `json:"code"`
}

// RegisterCompleteRequest carries a registration completion.
type RegisterCompleteRequest struct {
	// DeviceName is the user-facing label for the new authenticator.
	DeviceName string `json:"deviceName,omitempty"`

	// AuthenticatorAttachment is "platform" or "cross-platform".
	AuthenticatorAttachment string `json:"authenticatorAttachment,omitempty"`
}

// AuthenticateBeginRequest identifies the user starting authentication.
type AuthenticateBeginRequest struct {
	Username string `json:"username"`
}

// CredentialListResponse lists a user's active credentials.
type CredentialListResponse struct {
	Credentials []credential.Summary `json:"credentials"`
}

// CredentialDeleteResponse confirms a credential deletion.
type CredentialDeleteResponse struct {
	CredentialID string    `json:"credential_id"`
	DeletedAt    time.Time `json:"deleted_at"`
}

// HealthResponse is the legacy health endpoint body.
type HealthResponse struct {
	Status string `json:"status"`
	Uptime string `json:"uptime"`
}
