// Copyright (c) 2026 Gatekeep Project
//
// This file is part of go-gatekeep.
//
// go-gatekeep is licensed under the GNU Affero General Public License v3.0.
// See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html

package webauthn

import (
	"errors"
	"fmt"
)

// Sentinel errors for ceremony operations.
var (
	// ErrUserNotFound is returned when a user cannot be found.
	ErrUserNotFound = errors.New("user not found")

	// ErrInvalidCredentials is returned from authentication-begin when the
	// presented identity cannot be used, without revealing why.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrNoCredentialsFound is returned when a known user has no active
	// credentials to authenticate with.
	ErrNoCredentialsFound = errors.New("no credentials registered")

	// ErrInvalidOrExpiredChallenge is returned when the ceremony's
	// challenge cannot be consumed: unknown, expired, already used, or
	// bound to a different user or ceremony kind.
	ErrInvalidOrExpiredChallenge = errors.New("invalid or expired challenge")

	// ErrMalformedCredentialResponse is returned when the authenticator
	// response cannot be parsed.
	ErrMalformedCredentialResponse = errors.New("malformed credential response")

	// ErrInvalidCredential is returned when attestation verification
	// rejects a registration response.
	ErrInvalidCredential = errors.New("invalid credential")

	// ErrAuthenticationFailed is the uniform authentication-completion
	// failure. All completion failure causes collapse to it so response
	// shape and status cannot distinguish them.
	ErrAuthenticationFailed = errors.New("authentication failed")

	// ErrNotConfigured is returned when the service is missing required
	// dependencies.
	ErrNotConfigured = errors.New("webauthn service not configured")
)

// CeremonyError wraps an error with the operation that produced it.
type CeremonyError struct {
	Op  string
	Err error
}

func (e *CeremonyError) Error() string {
	if e.Op != "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return e.Err.Error()
}

// Unwrap returns the underlying error.
func (e *CeremonyError) Unwrap() error {
	return e.Err
}

// Is reports whether the target error matches.
func (e *CeremonyError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// WrapError wraps an error with an operation name if it's not nil.
func WrapError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &CeremonyError{Op: op, Err: err}
}

// IsAuthenticationFailed returns true if the error is the uniform
// authentication failure.
func IsAuthenticationFailed(err error) bool {
	return errors.Is(err, ErrAuthenticationFailed)
}

// IsChallengeFailure returns true if the error indicates the challenge
// could not be consumed.
func IsChallengeFailure(err error) bool {
	return errors.Is(err, ErrInvalidOrExpiredChallenge)
}
