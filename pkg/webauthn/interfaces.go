// Copyright (c) 2026 Gatekeep Project
//
// This file is part of go-gatekeep.
//
// go-gatekeep is licensed under the GNU Affero General Public License v3.0.
// See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html

package webauthn

import (
	"context"

	"github.com/gatekeep/go-gatekeep/pkg/challenge"
	"github.com/gatekeep/go-gatekeep/pkg/credential"
)

// UserDirectory resolves accounts. Implementations must return
// ErrUserNotFound for unknown identifiers.
type UserDirectory interface {
	// GetByID looks an account up by its stable identifier.
	GetByID(ctx context.Context, id string) (*Account, error)

	// GetByUsername looks an account up by login name.
	GetByUsername(ctx context.Context, username string) (*Account, error)
}

// ChallengeStore issues and consumes single-use ceremony challenges.
// Satisfied by *challenge.Store.
type ChallengeStore interface {
	// IssueValue records a challenge value minted by the protocol engine.
	IssueValue(ctx context.Context, kind challenge.Kind, userID, value string) (*challenge.Challenge, error)

	// ValidateAndConsume atomically validates and removes a challenge.
	ValidateAndConsume(ctx context.Context, value, expectedUserID string, kind challenge.Kind) (*challenge.Challenge, error)
}

// CredentialStore persists credentials. Satisfied by *credential.Store.
type CredentialStore interface {
	Store(ctx context.Context, cred *credential.Credential) (*credential.Credential, error)
	ListForUser(ctx context.Context, userID string, activeOnly bool) ([]*credential.Credential, error)
	UpdateUsage(ctx context.Context, credentialID string, newSignCount uint32) error
	DeleteByID(ctx context.Context, userID, credentialID string) (*credential.DeletionConfirmation, error)
}

// TokenIssuer mints session tokens for authenticated users.
type TokenIssuer interface {
	// Issue creates a token for the given account.
	Issue(ctx context.Context, account *Account) (string, error)
}
