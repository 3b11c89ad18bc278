// Copyright (c) 2026 Gatekeep Project
//
// This file is part of go-gatekeep.
//
// go-gatekeep is licensed under the GNU Affero General Public License v3.0.
// See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html

package webauthn

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// JWTIssuer mints and verifies ES256 session tokens.
type JWTIssuer struct {
	privateKey *ecdsa.PrivateKey
	issuer     string
	audience   []string
	expiresIn  time.Duration
}

// JWTIssuerConfig configures a JWTIssuer.
type JWTIssuerConfig struct {
	// PrivateKey signs tokens. Generated if nil.
	PrivateKey *ecdsa.PrivateKey

	// Issuer is the iss claim. Default: "go-gatekeep".
	Issuer string

	// Audience is the aud claim. Default: ["go-gatekeep"].
	Audience []string

	// ExpiresIn is the token lifetime. Default: 1 hour.
	ExpiresIn time.Duration
}

// NewJWTIssuer creates an issuer from configuration.
func NewJWTIssuer(config *JWTIssuerConfig) (*JWTIssuer, error) {
	if config == nil {
		config = &JWTIssuerConfig{}
	}

	key := config.PrivateKey
	if key == nil {
		var err error
		key, err = ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
		if err != nil {
			return nil, fmt.Errorf("generate signing key: %w", err)
		}
	}

	issuer := config.Issuer
	if issuer == "" {
		issuer = "go-gatekeep"
	}
	audience := config.Audience
	if len(audience) == 0 {
		audience = []string{"go-gatekeep"}
	}
	expiresIn := config.ExpiresIn
	if expiresIn == 0 {
		expiresIn = time.Hour
	}

	return &JWTIssuer{
		privateKey: key,
		issuer:     issuer,
		audience:   audience,
		expiresIn:  expiresIn,
	}, nil
}

// Issue creates a signed token for the account.
func (g *JWTIssuer) Issue(_ context.Context, account *Account) (string, error) {
	now := time.Now()

	claims := jwt.MapClaims{
		"iss":      g.issuer,
		"aud":      g.audience,
		"sub":      account.ID,
		"iat":      now.Unix(),
		"nbf":      now.Unix(),
		"exp":      now.Add(g.expiresIn).Unix(),
		"username": account.Username,
		"name":     account.DisplayName,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodES256, claims)
	signed, err := token.SignedString(g.privateKey)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Verify validates a token's signature and registered claims, returning
// the subject (user ID) on success.
func (g *JWTIssuer) Verify(tokenString string) (string, error) {
	token, err := jwt.Parse(tokenString,
		func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodECDSA); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
			}
			return &g.privateKey.PublicKey, nil
		},
		jwt.WithIssuer(g.issuer),
		jwt.WithAudience(g.audience[0]),
		jwt.WithExpirationRequired(),
		jwt.WithValidMethods([]string{"ES256"}),
	)
	if err != nil {
		return "", fmt.Errorf("token verification failed: %w", err)
	}

	subject, err := token.Claims.GetSubject()
	if err != nil || subject == "" {
		return "", fmt.Errorf("token missing subject")
	}
	return subject, nil
}

// PublicKey returns the verification key.
func (g *JWTIssuer) PublicKey() *ecdsa.PublicKey {
	return &g.privateKey.PublicKey
}

// ExpiresIn returns the token lifetime.
func (g *JWTIssuer) ExpiresIn() time.Duration {
	return g.expiresIn
}
