// Copyright (c) 2026 Gatekeep Project
//
// This file is part of go-gatekeep.
//
// go-gatekeep is licensed under the GNU Affero General Public License v3.0.
// See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html

// Package webauthn implements the WebAuthn ceremony layer: registration
// and authentication of passkey credentials against a relying party.
//
// The package owns no storage of its own. Challenges are held by a
// challenge.Store with single-use consumption semantics, credentials by a
// credential.Store, and user identity by a UserDirectory. The Service
// wires these together around the go-webauthn protocol engine.
//
// Failure policy: completion failures that could reveal whether a user or
// credential exists collapse to ErrAuthenticationFailed. Callers map that
// to a generic unauthorized response.
package webauthn
