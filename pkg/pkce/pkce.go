// Copyright (c) 2026 Gatekeep Project
//
// This file is part of go-gatekeep.
//
// go-gatekeep is licensed under the GNU Affero General Public License v3.0.
// See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html

// Package pkce implements RFC 7636 (Proof Key for Code Exchange)
// code-verifier and code-challenge generation and validation. All
// functions are pure and safe for concurrent use.
package pkce

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"math/big"
)

// Method is a PKCE code challenge method.
type Method string

const (
	// MethodS256 is base64url(SHA-256(verifier)), the recommended method.
	MethodS256 Method = "S256"

	// MethodPlain passes the verifier through unchanged.
	MethodPlain Method = "plain"
)

const (
	// VerifierMinLength and VerifierMaxLength are the RFC 7636 §4.1 bounds.
	VerifierMinLength = 43
	VerifierMaxLength = 128

	// S256ChallengeLength is the length of an unpadded base64url SHA-256 digest.
	S256ChallengeLength = 43

	// verifierAlphabet is the RFC 7636 unreserved character set.
	verifierAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789-._~"
)

// Sentinel errors. Malformed inputs raise rather than returning false so
// callers can distinguish a malformed request from a wrong proof.
var (
	// ErrUnsupportedMethod is returned for any method other than S256 or plain.
	ErrUnsupportedMethod = errors.New("unsupported PKCE method")

	// ErrInvalidVerifier is returned when a verifier fails the RFC 7636
	// length bounds or character set.
	ErrInvalidVerifier = errors.New("invalid code verifier")

	// ErrInvalidChallenge is returned when a challenge has an impossible
	// shape for the stated method.
	ErrInvalidChallenge = errors.New("invalid code challenge")
)

// GenerateCodeVerifier returns a 128-character verifier drawn uniformly
// from the RFC 7636 unreserved alphabet using a cryptographically secure
// source.
func GenerateCodeVerifier() (string, error) {
	verifier := make([]byte, VerifierMaxLength)
	max := big.NewInt(int64(len(verifierAlphabet)))
	for i := range verifier {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("generate code verifier: %w", err)
		}
		verifier[i] = verifierAlphabet[n.Int64()]
	}
	return string(verifier), nil
}

// GenerateCodeChallenge derives the code challenge for a verifier.
// S256 produces the unpadded base64url SHA-256 digest (exactly 43
// characters); plain returns the verifier unchanged.
func GenerateCodeChallenge(verifier string, method Method) (string, error) {
	if err := validateVerifier(verifier); err != nil {
		return "", err
	}

	switch method {
	case MethodS256:
		digest := sha256.Sum256([]byte(verifier))
		return base64.RawURLEncoding.EncodeToString(digest[:]), nil
	case MethodPlain:
		return verifier, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedMethod, method)
	}
}

// ValidateCodeChallenge recomputes the expected challenge from the
// verifier and compares it to the supplied challenge in constant time.
// Malformed verifier, challenge, or method shapes return an error; a
// well-formed but wrong proof returns (false, nil).
func ValidateCodeChallenge(verifier, challenge string, method Method) (bool, error) {
	if err := validateVerifier(verifier); err != nil {
		return false, err
	}
	if err := validateChallengeShape(challenge, method); err != nil {
		return false, err
	}

	expected, err := GenerateCodeChallenge(verifier, method)
	if err != nil {
		return false, err
	}

	// subtle.ConstantTimeCompare never short-circuits on the first
	// differing byte; unequal lengths were rejected by shape validation.
	if len(expected) != len(challenge) {
		return false, nil
	}
	return subtle.ConstantTimeCompare([]byte(expected), []byte(challenge)) == 1, nil
}

// GenerateVerifierAndChallenge returns a fresh verifier together with its
// challenge for the given method. Intended for client simulation and tests.
func GenerateVerifierAndChallenge(method Method) (verifier, challenge string, err error) {
	verifier, err = GenerateCodeVerifier()
	if err != nil {
		return "", "", err
	}
	challenge, err = GenerateCodeChallenge(verifier, method)
	if err != nil {
		return "", "", err
	}
	return verifier, challenge, nil
}

func validateVerifier(verifier string) error {
	if len(verifier) < VerifierMinLength || len(verifier) > VerifierMaxLength {
		return fmt.Errorf("%w: length %d outside [%d, %d]",
			ErrInvalidVerifier, len(verifier), VerifierMinLength, VerifierMaxLength)
	}
	for i := 0; i < len(verifier); i++ {
		if !isVerifierChar(verifier[i]) {
			return fmt.Errorf("%w: invalid character at position %d", ErrInvalidVerifier, i)
		}
	}
	return nil
}

func validateChallengeShape(challenge string, method Method) error {
	switch method {
	case MethodS256:
		if len(challenge) != S256ChallengeLength {
			return fmt.Errorf("%w: S256 challenge must be %d characters",
				ErrInvalidChallenge, S256ChallengeLength)
		}
		for i := 0; i < len(challenge); i++ {
			if !isBase64URLChar(challenge[i]) {
				return fmt.Errorf("%w: invalid character at position %d", ErrInvalidChallenge, i)
			}
		}
		return nil
	case MethodPlain:
		if len(challenge) < VerifierMinLength || len(challenge) > VerifierMaxLength {
			return fmt.Errorf("%w: plain challenge length %d outside [%d, %d]",
				ErrInvalidChallenge, len(challenge), VerifierMinLength, VerifierMaxLength)
		}
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedMethod, method)
	}
}

func isVerifierChar(c byte) bool {
	switch {
	case c >= 'A' && c <= 'Z', c >= 'a' && c <= 'z', c >= '0' && c <= '9':
		return true
	case c == '-', c == '.', c == '_', c == '~':
		return true
	}
	return false
}

func isBase64URLChar(c byte) bool {
	switch {
	case c >= 'A' && c <= 'Z', c >= 'a' && c <= 'z', c >= '0' && c <= '9':
		return true
	case c == '-', c == '_':
		return true
	}
	return false
}
