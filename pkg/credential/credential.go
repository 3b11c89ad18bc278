// Copyright (c) 2026 Gatekeep Project
//
// This file is part of go-gatekeep.
//
// go-gatekeep is licensed under the GNU Affero General Public License v3.0.
// See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html

// Package credential manages WebAuthn public-key credential persistence:
// upsert-on-registration, per-user read-through caching, counter
// advancement with replay detection, and soft deletion.
package credential

import (
	"errors"
	"fmt"
	"time"
)

// Authenticator attachment types.
const (
	TypePlatform      = "platform"
	TypeCrossPlatform = "cross-platform"
)

// CacheTTL bounds how long cached credential projections are served.
const CacheTTL = time.Hour

// Sentinel errors for credential operations.
var (
	// ErrNotFound is returned when no active credential matches.
	ErrNotFound = errors.New("credential not found")

	// ErrNotFoundOrNotOwned is returned uniformly for deactivate/delete
	// paths whether the credential is missing or owned by someone else,
	// so existence is never leaked.
	ErrNotFoundOrNotOwned = errors.New("credential not found or not owned")

	// ErrStorageFailed is returned when the underlying store write fails.
	ErrStorageFailed = errors.New("credential storage failed")

	// ErrDeletionFailed is returned when a delete mutation does not take effect.
	ErrDeletionFailed = errors.New("credential deletion failed")

	// ErrCounterRegression is returned when a sign count does not strictly
	// increase from a non-zero stored value. Per FIDO2 this is a
	// clone-detection signal and the authentication is rejected.
	ErrCounterRegression = errors.New("signature counter regression")
)

// Credential is a WebAuthn public-key credential owned by exactly one
// user. Ownership is immutable after creation; retirement is a soft
// delete that clears the active flag.
type Credential struct {
	// CredentialID is the opaque identifier assigned by the authenticator,
	// base64url-encoded. Globally unique among active credentials.
	CredentialID string `json:"credential_id"`

	// UserID is the owning user.
	UserID string `json:"user_id"`

	// PublicKey is the credential's public key in COSE format.
	PublicKey []byte `json:"public_key"`

	// SignCount is the signature counter for clone detection. Monotonically
	// non-decreasing across successful authentications.
	SignCount uint32 `json:"sign_count"`

	// DeviceName is the user-facing label for the authenticator.
	DeviceName string `json:"device_name,omitempty"`

	// AuthenticatorType is "platform" or "cross-platform".
	AuthenticatorType string `json:"authenticator_type"`

	// Transports lists the transports hinted by the authenticator.
	Transports []string `json:"transports,omitempty"`

	// AAGUID is the authenticator model identifier, if conveyed.
	AAGUID string `json:"aaguid,omitempty"`

	// CreatedAt is when the credential was first registered.
	CreatedAt time.Time `json:"created_at"`

	// LastUsedAt is when the credential last completed an authentication.
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`

	// Active is false once the credential has been revoked.
	Active bool `json:"active"`

	// DeactivatedAt records when the credential was revoked.
	DeactivatedAt *time.Time `json:"deactivated_at,omitempty"`
}

// Summary is the caller-facing projection of a credential. It omits the
// key material.
type Summary struct {
	CredentialID      string     `json:"credential_id"`
	DeviceName        string     `json:"device_name,omitempty"`
	AuthenticatorType string     `json:"authenticator_type"`
	Transports        []string   `json:"transports,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	LastUsedAt        *time.Time `json:"last_used_at,omitempty"`
}

// Summarize returns the caller-facing projection.
func (c *Credential) Summarize() Summary {
	return Summary{
		CredentialID:      c.CredentialID,
		DeviceName:        c.DeviceName,
		AuthenticatorType: c.AuthenticatorType,
		Transports:        c.Transports,
		CreatedAt:         c.CreatedAt,
		LastUsedAt:        c.LastUsedAt,
	}
}

// CredentialError wraps an error with the operation that produced it.
type CredentialError struct {
	Op  string
	Err error
}

// Error returns the error message.
func (e *CredentialError) Error() string {
	if e.Op != "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return e.Err.Error()
}

// Unwrap returns the underlying error.
func (e *CredentialError) Unwrap() error {
	return e.Err
}

// Is reports whether the target error matches.
func (e *CredentialError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// WrapError wraps an error with an operation name if it's not nil.
func WrapError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &CredentialError{Op: op, Err: err}
}

// IsNotFound returns true if the error indicates a missing credential.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, ErrNotFoundOrNotOwned)
}
