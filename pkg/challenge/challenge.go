// Copyright (c) 2026 Gatekeep Project
//
// This file is part of go-gatekeep.
//
// go-gatekeep is licensed under the GNU Affero General Public License v3.0.
// See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html

// Package challenge implements the one-time cryptographic challenge
// lifecycle backing the WebAuthn ceremonies: issuance into a fast cache
// plus a durable store, atomic validate-and-consume, and expiry sweeps.
package challenge

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Kind identifies the ceremony a challenge was issued for.
type Kind string

const (
	// KindRegistration marks challenges issued by begin-registration.
	KindRegistration Kind = "registration"

	// KindAuthentication marks challenges issued by begin-authentication.
	KindAuthentication Kind = "authentication"
)

// DefaultTTL is how long an issued challenge stays valid.
const DefaultTTL = 5 * time.Minute

// Sentinel errors for challenge operations.
var (
	// ErrNotFound is returned when a challenge is absent, expired, already
	// consumed, or bound to a different user or ceremony kind. Lookup
	// failures collapse to ErrNotFound as well: consumption fails closed.
	ErrNotFound = errors.New("challenge not found")

	// ErrStorageFailed is returned when neither backend recorded an issued
	// challenge. The calling ceremony cannot proceed.
	ErrStorageFailed = errors.New("challenge storage failed")
)

// Challenge is a single-use cryptographic challenge. It is never mutated:
// created by begin-ceremony and deleted by complete-ceremony or expiry.
type Challenge struct {
	// Value is the opaque random token, base64url without padding.
	Value string `json:"value"`

	// UserID is the owning user, empty for authentication-begin challenges.
	UserID string `json:"user_id,omitempty"`

	// Kind is the ceremony this challenge was issued for.
	Kind Kind `json:"kind"`

	// CreatedAt is when the challenge was issued.
	CreatedAt time.Time `json:"created_at"`

	// ExpiresAt is when the challenge stops being valid.
	ExpiresAt time.Time `json:"expires_at"`
}

// Expired reports whether the challenge is past its TTL at the given time.
func (c *Challenge) Expired(now time.Time) bool {
	return now.After(c.ExpiresAt)
}

// ChallengeError wraps an error with the operation that produced it.
type ChallengeError struct {
	Op  string
	Err error
}

// Error returns the error message.
func (e *ChallengeError) Error() string {
	if e.Op != "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return e.Err.Error()
}

// Unwrap returns the underlying error.
func (e *ChallengeError) Unwrap() error {
	return e.Err
}

// Is reports whether the target error matches.
func (e *ChallengeError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// WrapError wraps an error with an operation name if it's not nil.
func WrapError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &ChallengeError{Op: op, Err: err}
}

// IsNotFound returns true if the error indicates a missing or consumed challenge.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// DurableBackend is the durable store behind the challenge cache. The
// atomic Take is the correctness-critical primitive: a plain get-then-delete
// is not safe under concurrency.
type DurableBackend interface {
	// Insert persists an issued challenge.
	Insert(ctx context.Context, ch *Challenge) error

	// Take atomically removes and returns the challenge with the given
	// value. Exactly one of any set of concurrent callers succeeds; the
	// rest observe ErrNotFound.
	Take(ctx context.Context, value string) (*Challenge, error)

	// DeleteExpired removes challenges whose expiry is before the cutoff.
	DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error)

	// Ping verifies the backend is reachable.
	Ping(ctx context.Context) error
}
