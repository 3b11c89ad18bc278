// Copyright (c) 2026 Gatekeep Project
//
// This file is part of go-gatekeep.
//
// go-gatekeep is licensed under the GNU Affero General Public License v3.0.
// See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html

package webauthn

import (
	"encoding/base64"
	"encoding/hex"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"

	"github.com/gatekeep/go-gatekeep/pkg/credential"
)

// Account is a directory entry for a user who can hold credentials.
type Account struct {
	// ID is the stable user identifier, used as the WebAuthn user handle.
	ID string `json:"id"`

	// Username is the login name presented at authentication begin.
	Username string `json:"username"`

	// Email is the user's email address.
	Email string `json:"email,omitempty"`

	// DisplayName is shown by authenticator UIs during ceremonies.
	DisplayName string `json:"display_name,omitempty"`

	// Active is false for disabled accounts, which cannot begin ceremonies.
	Active bool `json:"active"`
}

// AuthResult is returned from a successful authentication completion.
type AuthResult struct {
	// AccessToken is the minted session token.
	AccessToken string `json:"access_token"`

	// Username is the authenticated user's login name.
	Username string `json:"username"`

	// CredentialID identifies the credential that satisfied the assertion.
	CredentialID string `json:"credential_id"`
}

// RegistrationResult is returned from a successful registration completion.
type RegistrationResult struct {
	// Credential summarizes the newly stored credential.
	Credential credential.Summary `json:"credential"`
}

// ceremonyUser adapts an Account plus its stored credentials to the
// protocol engine's user interface.
type ceremonyUser struct {
	account *Account
	creds   []*credential.Credential
}

func (u *ceremonyUser) WebAuthnID() []byte {
	return []byte(u.account.ID)
}

func (u *ceremonyUser) WebAuthnName() string {
	return u.account.Username
}

func (u *ceremonyUser) WebAuthnDisplayName() string {
	if u.account.DisplayName == "" {
		return u.account.Username
	}
	return u.account.DisplayName
}

func (u *ceremonyUser) WebAuthnCredentials() []webauthn.Credential {
	out := make([]webauthn.Credential, 0, len(u.creds))
	for _, c := range u.creds {
		wc, err := toEngineCredential(c)
		if err != nil {
			continue
		}
		out = append(out, wc)
	}
	return out
}

func (u *ceremonyUser) WebAuthnIcon() string {
	return ""
}

// toEngineCredential converts a stored credential to the protocol engine's
// representation.
func toEngineCredential(c *credential.Credential) (webauthn.Credential, error) {
	id, err := base64.RawURLEncoding.DecodeString(c.CredentialID)
	if err != nil {
		return webauthn.Credential{}, WrapError("decode credential id", err)
	}

	var aaguid []byte
	if c.AAGUID != "" {
		aaguid, _ = hex.DecodeString(c.AAGUID)
	}

	transports := make([]protocol.AuthenticatorTransport, 0, len(c.Transports))
	for _, t := range c.Transports {
		transports = append(transports, protocol.AuthenticatorTransport(t))
	}

	return webauthn.Credential{
		ID:        id,
		PublicKey: c.PublicKey,
		Transport: transports,
		Authenticator: webauthn.Authenticator{
			AAGUID:    aaguid,
			SignCount: c.SignCount,
		},
	}, nil
}

// fromEngineCredential maps a verified registration to the stored form.
func fromEngineCredential(userID, deviceName, authenticatorType string, wc *webauthn.Credential) *credential.Credential {
	transports := make([]string, 0, len(wc.Transport))
	for _, t := range wc.Transport {
		transports = append(transports, string(t))
	}

	return &credential.Credential{
		CredentialID:      base64.RawURLEncoding.EncodeToString(wc.ID),
		UserID:            userID,
		PublicKey:         wc.PublicKey,
		SignCount:         wc.Authenticator.SignCount,
		DeviceName:        deviceName,
		AuthenticatorType: authenticatorType,
		Transports:        transports,
		AAGUID:            hex.EncodeToString(wc.Authenticator.AAGUID),
		Active:            true,
	}
}
