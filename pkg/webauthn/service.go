// Copyright (c) 2026 Gatekeep Project
//
// This file is part of go-gatekeep.
//
// go-gatekeep is licensed under the GNU Affero General Public License v3.0.
// See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html

package webauthn

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"

	"github.com/gatekeep/go-gatekeep/pkg/challenge"
	"github.com/gatekeep/go-gatekeep/pkg/correlation"
	"github.com/gatekeep/go-gatekeep/pkg/credential"
	"github.com/gatekeep/go-gatekeep/pkg/logging"
	"github.com/gatekeep/go-gatekeep/pkg/metrics"
	"github.com/gatekeep/go-gatekeep/pkg/monitor"
)

// Service provides WebAuthn registration and authentication ceremonies.
type Service struct {
	engine     *webauthn.WebAuthn
	config     *Config
	directory  UserDirectory
	challenges ChallengeStore
	creds      CredentialStore
	tokens     TokenIssuer
	monitor    *monitor.Monitor
	logger     *logging.Logger
	configured bool
}

// ServiceParams contains dependencies for creating a ceremony service.
type ServiceParams struct {
	// Config is the relying party configuration (required).
	Config *Config

	// Directory resolves user accounts (required).
	Directory UserDirectory

	// Challenges is the single-use challenge store (required).
	Challenges ChallengeStore

	// Credentials is the credential persistence layer (required).
	Credentials CredentialStore

	// Tokens mints post-authentication session tokens (required).
	Tokens TokenIssuer

	// Monitor receives error observations (optional).
	Monitor *monitor.Monitor

	// Logger defaults to logging.DefaultLogger().
	Logger *logging.Logger
}

// NewService creates a ceremony service with the provided dependencies.
func NewService(params ServiceParams) (*Service, error) {
	if params.Config == nil {
		return nil, fmt.Errorf("config is required")
	}
	if params.Directory == nil {
		return nil, fmt.Errorf("user directory is required")
	}
	if params.Challenges == nil {
		return nil, fmt.Errorf("challenge store is required")
	}
	if params.Credentials == nil {
		return nil, fmt.Errorf("credential store is required")
	}
	if params.Tokens == nil {
		return nil, fmt.Errorf("token issuer is required")
	}
	if params.Logger == nil {
		params.Logger = logging.DefaultLogger()
	}

	params.Config.SetDefaults()
	if err := params.Config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	engine, err := webauthn.New(params.Config.toEngineConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to create protocol engine: %w", err)
	}

	return &Service{
		engine:     engine,
		config:     params.Config,
		directory:  params.Directory,
		challenges: params.Challenges,
		creds:      params.Credentials,
		tokens:     params.Tokens,
		monitor:    params.Monitor,
		logger:     params.Logger,
		configured: true,
	}, nil
}

// BeginRegistration starts a registration ceremony for an authenticated
// user. The returned options carry the challenge; the challenge store
// holds the single-use record that completion will consume.
func (s *Service) BeginRegistration(ctx context.Context, userID string) (*protocol.CredentialCreation, error) {
	start := time.Now()
	options, err := s.beginRegistration(ctx, userID)
	metrics.RecordCeremony(metrics.OpRegisterBegin, start, err)
	return options, err
}

func (s *Service) beginRegistration(ctx context.Context, userID string) (*protocol.CredentialCreation, error) {
	if !s.configured {
		return nil, ErrNotConfigured
	}

	account, err := s.directory.GetByID(ctx, userID)
	if err != nil {
		s.observe(ctx, metrics.OpRegisterBegin, monitor.KindCeremony, monitor.SeverityMedium, err, userID)
		return nil, WrapError("get user", err)
	}
	if !account.Active {
		return nil, WrapError("get user", ErrUserNotFound)
	}

	existing, err := s.creds.ListForUser(ctx, userID, true)
	if err != nil {
		s.observe(ctx, metrics.OpRegisterBegin, monitor.KindCredential, monitor.SeverityHigh, err, userID)
		return nil, WrapError("list credentials", err)
	}

	// Exclude already-registered authenticators so the client prompts
	// for a new one instead of re-registering.
	exclusions := make([]protocol.CredentialDescriptor, 0, len(existing))
	for _, c := range existing {
		wc, convErr := toEngineCredential(c)
		if convErr != nil {
			continue
		}
		exclusions = append(exclusions, protocol.CredentialDescriptor{
			Type:         protocol.PublicKeyCredentialType,
			CredentialID: wc.ID,
			Transport:    wc.Transport,
		})
	}

	user := &ceremonyUser{account: account, creds: existing}
	options, session, err := s.engine.BeginRegistration(user,
		webauthn.WithExclusions(exclusions),
	)
	if err != nil {
		s.observe(ctx, metrics.OpRegisterBegin, monitor.KindCeremony, monitor.SeverityHigh, err, userID)
		return nil, WrapError("begin registration", err)
	}

	if _, err := s.challenges.IssueValue(ctx, challenge.KindRegistration, userID, session.Challenge); err != nil {
		s.observe(ctx, metrics.OpRegisterBegin, monitor.KindChallenge, monitor.SeverityCritical, err, userID)
		return nil, WrapError("issue challenge", err)
	}

	s.logger.SecurityEvent("registration_begin", true, "user_id", userID)
	return options, nil
}

// CompleteRegistration verifies an attestation response and stores the
// new credential. The ceremony challenge is consumed before verification,
// so a replayed response fails regardless of verification outcome.
func (s *Service) CompleteRegistration(ctx context.Context, userID, deviceName, authenticatorType string, body []byte) (*RegistrationResult, error) {
	start := time.Now()
	result, err := s.completeRegistration(ctx, userID, deviceName, authenticatorType, body)
	metrics.RecordCeremony(metrics.OpRegisterComplete, start, err)
	return result, err
}

func (s *Service) completeRegistration(ctx context.Context, userID, deviceName, authenticatorType string, body []byte) (*RegistrationResult, error) {
	if !s.configured {
		return nil, ErrNotConfigured
	}

	account, err := s.directory.GetByID(ctx, userID)
	if err != nil {
		return nil, WrapError("get user", err)
	}

	parsed, err := protocol.ParseCredentialCreationResponseBody(bytes.NewReader(body))
	if err != nil {
		s.observe(ctx, metrics.OpRegisterComplete, monitor.KindCeremony, monitor.SeverityMedium, err, userID)
		s.logger.SecurityEvent("registration_complete", false, "user_id", userID, "reason", "malformed_response")
		return nil, WrapError("parse response", ErrMalformedCredentialResponse)
	}

	challengeValue := parsed.Response.CollectedClientData.Challenge
	ch, err := s.challenges.ValidateAndConsume(ctx, challengeValue, userID, challenge.KindRegistration)
	if err != nil {
		s.observe(ctx, metrics.OpRegisterComplete, monitor.KindChallenge, monitor.SeverityMedium, err, userID)
		s.logger.SecurityEvent("registration_complete", false, "user_id", userID, "reason", "challenge_rejected")
		return nil, WrapError("consume challenge", ErrInvalidOrExpiredChallenge)
	}

	session := webauthn.SessionData{
		Challenge:        challengeValue,
		UserID:           []byte(userID),
		Expires:          ch.ExpiresAt,
		UserVerification: s.config.userVerificationRequirement(),
	}

	user := &ceremonyUser{account: account}
	engineCred, err := s.engine.CreateCredential(user, session, parsed)
	if err != nil {
		s.observe(ctx, metrics.OpRegisterComplete, monitor.KindCeremony, monitor.SeverityHigh, err, userID)
		s.logger.SecurityEvent("registration_complete", false, "user_id", userID, "reason", "attestation_rejected")
		return nil, WrapError("create credential", ErrInvalidCredential)
	}

	if authenticatorType == "" {
		authenticatorType = credential.TypeCrossPlatform
	}
	cred := fromEngineCredential(userID, deviceName, authenticatorType, engineCred)
	stored, err := s.creds.Store(ctx, cred)
	if err != nil {
		s.observe(ctx, metrics.OpRegisterComplete, monitor.KindCredential, monitor.SeverityCritical, err, userID)
		return nil, WrapError("store credential", err)
	}

	s.logger.SecurityEvent("registration_complete", true,
		"user_id", userID, "credential_id", stored.CredentialID)
	return &RegistrationResult{Credential: stored.Summarize()}, nil
}

// BeginAuthentication starts an authentication ceremony for a username.
// An unknown or inactive user yields ErrInvalidCredentials; a known user
// with no active credentials yields ErrNoCredentialsFound.
func (s *Service) BeginAuthentication(ctx context.Context, username string) (*protocol.CredentialAssertion, error) {
	start := time.Now()
	options, err := s.beginAuthentication(ctx, username)
	metrics.RecordCeremony(metrics.OpAuthBegin, start, err)
	return options, err
}

func (s *Service) beginAuthentication(ctx context.Context, username string) (*protocol.CredentialAssertion, error) {
	if !s.configured {
		return nil, ErrNotConfigured
	}

	account, err := s.directory.GetByUsername(ctx, username)
	if err != nil || !account.Active {
		s.logger.SecurityEvent("authentication_begin", false, "username", username, "reason", "unknown_user")
		return nil, WrapError("get user", ErrInvalidCredentials)
	}

	creds, err := s.creds.ListForUser(ctx, account.ID, true)
	if err != nil {
		s.observe(ctx, metrics.OpAuthBegin, monitor.KindCredential, monitor.SeverityHigh, err, account.ID)
		return nil, WrapError("list credentials", ErrInvalidCredentials)
	}
	if len(creds) == 0 {
		s.logger.SecurityEvent("authentication_begin", false, "username", username, "reason", "no_credentials")
		return nil, WrapError("list credentials", ErrNoCredentialsFound)
	}

	user := &ceremonyUser{account: account, creds: creds}
	options, session, err := s.engine.BeginLogin(user)
	if err != nil {
		s.observe(ctx, metrics.OpAuthBegin, monitor.KindCeremony, monitor.SeverityHigh, err, account.ID)
		return nil, WrapError("begin login", ErrInvalidCredentials)
	}

	if _, err := s.challenges.IssueValue(ctx, challenge.KindAuthentication, account.ID, session.Challenge); err != nil {
		s.observe(ctx, metrics.OpAuthBegin, monitor.KindChallenge, monitor.SeverityCritical, err, account.ID)
		return nil, WrapError("issue challenge", err)
	}

	s.logger.SecurityEvent("authentication_begin", true, "user_id", account.ID)
	return options, nil
}

// CompleteAuthentication verifies an assertion response and mints a
// session token. The ceremony's user binding comes from the consumed
// challenge record, not from caller input. All failure causes collapse
// to ErrAuthenticationFailed.
func (s *Service) CompleteAuthentication(ctx context.Context, body []byte) (*AuthResult, error) {
	start := time.Now()
	result, err := s.completeAuthentication(ctx, body)
	metrics.RecordCeremony(metrics.OpAuthComplete, start, err)
	return result, err
}

func (s *Service) completeAuthentication(ctx context.Context, body []byte) (*AuthResult, error) {
	if !s.configured {
		return nil, ErrNotConfigured
	}

	parsed, err := protocol.ParseCredentialRequestResponseBody(bytes.NewReader(body))
	if err != nil {
		s.logger.SecurityEvent("authentication_complete", false, "reason", "malformed_response")
		return nil, WrapError("parse response", ErrMalformedCredentialResponse)
	}

	challengeValue := parsed.Response.CollectedClientData.Challenge
	ch, err := s.challenges.ValidateAndConsume(ctx, challengeValue, "", challenge.KindAuthentication)
	if err != nil {
		s.observe(ctx, metrics.OpAuthComplete, monitor.KindChallenge, monitor.SeverityMedium, err, "")
		s.logger.SecurityEvent("authentication_complete", false, "reason", "challenge_rejected")
		return nil, WrapError("consume challenge", ErrInvalidOrExpiredChallenge)
	}

	account, err := s.directory.GetByID(ctx, ch.UserID)
	if err != nil || !account.Active {
		return nil, s.authFailure(ctx, ch.UserID, "unknown_user", err)
	}

	creds, err := s.creds.ListForUser(ctx, account.ID, true)
	if err != nil || len(creds) == 0 {
		return nil, s.authFailure(ctx, account.ID, "no_credentials", err)
	}

	allowed := make([][]byte, 0, len(creds))
	for _, c := range creds {
		if wc, convErr := toEngineCredential(c); convErr == nil {
			allowed = append(allowed, wc.ID)
		}
	}

	session := webauthn.SessionData{
		Challenge:            challengeValue,
		UserID:               []byte(account.ID),
		AllowedCredentialIDs: allowed,
		Expires:              ch.ExpiresAt,
		UserVerification:     s.config.userVerificationRequirement(),
	}

	user := &ceremonyUser{account: account, creds: creds}
	engineCred, err := s.engine.ValidateLogin(user, session, parsed)
	if err != nil {
		return nil, s.authFailure(ctx, account.ID, "assertion_rejected", err)
	}

	usedID := fromEngineCredential(account.ID, "", "", engineCred).CredentialID
	if err := s.creds.UpdateUsage(ctx, usedID, engineCred.Authenticator.SignCount); err != nil {
		if errors.Is(err, credential.ErrCounterRegression) {
			// Clone signal. The credential store already audited it;
			// the caller sees the same generic failure as any other.
			return nil, s.authFailure(ctx, account.ID, "counter_regression", err)
		}
		return nil, s.authFailure(ctx, account.ID, "usage_update_failed", err)
	}

	token, err := s.tokens.Issue(ctx, account)
	if err != nil {
		s.observe(ctx, metrics.OpAuthComplete, monitor.KindInternal, monitor.SeverityCritical, err, account.ID)
		return nil, s.authFailure(ctx, account.ID, "token_mint_failed", err)
	}

	s.logger.SecurityEvent("authentication_complete", true,
		"user_id", account.ID, "credential_id", usedID)
	return &AuthResult{
		AccessToken:  token,
		Username:     account.Username,
		CredentialID: usedID,
	}, nil
}

// ListCredentials returns the caller-facing summaries of a user's active
// credentials.
func (s *Service) ListCredentials(ctx context.Context, userID string) ([]credential.Summary, error) {
	start := time.Now()
	creds, err := s.creds.ListForUser(ctx, userID, true)
	metrics.RecordCeremony(metrics.OpCredentialList, start, err)
	if err != nil {
		s.observe(ctx, metrics.OpCredentialList, monitor.KindCredential, monitor.SeverityMedium, err, userID)
		return nil, WrapError("list credentials", err)
	}

	summaries := make([]credential.Summary, 0, len(creds))
	for _, c := range creds {
		summaries = append(summaries, c.Summarize())
	}
	return summaries, nil
}

// DeleteCredential retires a credential owned by the user.
func (s *Service) DeleteCredential(ctx context.Context, userID, credentialID string) (*credential.DeletionConfirmation, error) {
	start := time.Now()
	confirmation, err := s.creds.DeleteByID(ctx, userID, credentialID)
	metrics.RecordCeremony(metrics.OpCredentialDelete, start, err)
	if err != nil {
		return nil, WrapError("delete credential", err)
	}
	return confirmation, nil
}

// Config returns the service configuration.
func (s *Service) Config() *Config {
	return s.config
}

// authFailure logs and records a completion failure and returns the
// uniform error.
func (s *Service) authFailure(ctx context.Context, userID, reason string, cause error) error {
	msg := reason
	if cause != nil {
		msg = fmt.Sprintf("%s: %v", reason, cause)
	}
	s.observe(ctx, metrics.OpAuthComplete, monitor.KindCeremony, monitor.SeverityMedium, errors.New(msg), userID)
	s.logger.SecurityEvent("authentication_complete", false, "user_id", userID, "reason", reason)
	return ErrAuthenticationFailed
}

// observe forwards an error to the monitor, if one is attached.
func (s *Service) observe(ctx context.Context, op string, kind monitor.ErrorKind, severity monitor.Severity, err error, userID string) {
	if s.monitor == nil || err == nil {
		return
	}
	s.monitor.RecordError(monitor.Record{
		Operation:     op,
		Kind:          kind,
		Severity:      severity,
		Message:       err.Error(),
		UserID:        userID,
		CorrelationID: correlation.GetCorrelationID(ctx),
	})
}
