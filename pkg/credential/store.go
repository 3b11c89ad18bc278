// Copyright (c) 2026 Gatekeep Project
//
// This file is part of go-gatekeep.
//
// go-gatekeep is licensed under the GNU Affero General Public License v3.0.
// See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html

package credential

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/gatekeep/go-gatekeep/pkg/cache"
	"github.com/gatekeep/go-gatekeep/pkg/correlation"
	"github.com/gatekeep/go-gatekeep/pkg/logging"
	"github.com/gatekeep/go-gatekeep/pkg/metrics"
)

const (
	userCacheKeyPrefix = "gatekeep:creds:user:"
	credCacheKeyPrefix = "gatekeep:creds:id:"
)

// Store is the credential store: a durable store fronted by a TTL-bounded
// read-through cache. The cache is never the source of truth; every write
// invalidates the affected entries before the write is acknowledged.
// Every operation emits a structured audit event.
type Store struct {
	durable  DurableStore
	cache    cache.Backend
	cacheTTL time.Duration
	logger   *logging.Logger
}

// StoreParams contains dependencies for creating a credential store.
type StoreParams struct {
	// Durable is the durable persistence layer (required).
	Durable DurableStore

	// Cache is the read-through cache backend (required).
	Cache cache.Backend

	// CacheTTL bounds cached reads. Defaults to CacheTTL.
	CacheTTL time.Duration

	// Logger defaults to logging.DefaultLogger().
	Logger *logging.Logger
}

// NewStore creates a new credential store.
func NewStore(params StoreParams) (*Store, error) {
	if params.Durable == nil {
		return nil, errors.New("durable store is required")
	}
	if params.Cache == nil {
		return nil, errors.New("cache backend is required")
	}
	if params.CacheTTL == 0 {
		params.CacheTTL = CacheTTL
	}
	if params.Logger == nil {
		params.Logger = logging.DefaultLogger()
	}
	return &Store{
		durable:  params.Durable,
		cache:    params.Cache,
		cacheTTL: params.CacheTTL,
		logger:   params.Logger,
	}, nil
}

// Store upserts a credential: a new credential ID is inserted with a zero
// counter, an existing one has its key material and metadata updated and
// is reactivated. Cache entries for the affected user and credential are
// invalidated before the write is acknowledged.
func (s *Store) Store(ctx context.Context, cred *Credential) (*Credential, error) {
	stored, err := s.durable.Upsert(ctx, cred)
	if err != nil {
		s.audit(ctx, "credential_store", cred.UserID, cred.CredentialID, false, "error", err.Error())
		return nil, WrapError("store credential", ErrStorageFailed)
	}

	s.invalidate(ctx, stored.UserID, stored.CredentialID)
	s.audit(ctx, "credential_store", stored.UserID, stored.CredentialID, true,
		"device_name", stored.DeviceName)
	return stored, nil
}

// ListForUser returns a user's credentials, most recently created first.
// Active-only reads are served from the cache when present and fresh;
// reads that include inactive credentials always hit the durable store.
func (s *Store) ListForUser(ctx context.Context, userID string, activeOnly bool) ([]*Credential, error) {
	if activeOnly {
		if creds, ok := s.cachedUserList(ctx, userID); ok {
			metrics.CredentialCacheTotal.WithLabelValues("hit").Inc()
			return creds, nil
		}
		metrics.CredentialCacheTotal.WithLabelValues("miss").Inc()
	}

	creds, err := s.durable.FindByUser(ctx, userID, activeOnly)
	if err != nil {
		return nil, err
	}

	if activeOnly {
		s.populateUserList(ctx, userID, creds)
	}
	return creds, nil
}

// GetByID returns the active credential with the given ID.
func (s *Store) GetByID(ctx context.Context, credentialID string) (*Credential, error) {
	if payload, err := s.cache.Get(ctx, credCacheKeyPrefix+credentialID); err == nil {
		var cred Credential
		if err := json.Unmarshal(payload, &cred); err == nil {
			metrics.CredentialCacheTotal.WithLabelValues("hit").Inc()
			return &cred, nil
		}
	}
	metrics.CredentialCacheTotal.WithLabelValues("miss").Inc()

	cred, err := s.durable.FindActiveByID(ctx, credentialID)
	if err != nil {
		return nil, err
	}

	if payload, err := json.Marshal(cred); err == nil {
		s.logCacheErr(s.cache.Set(ctx, credCacheKeyPrefix+credentialID, payload, s.cacheTTL))
	}
	return cred, nil
}

// UpdateUsage advances the sign counter and last-used time on an active
// credential. A counter that does not strictly increase from a non-zero
// stored value is a clone signal: the update is rejected with
// ErrCounterRegression and a clone-warning audit event is emitted.
func (s *Store) UpdateUsage(ctx context.Context, credentialID string, newSignCount uint32) error {
	current, err := s.durable.FindActiveByID(ctx, credentialID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			s.audit(ctx, "credential_usage", "", credentialID, false, "reason", "not_found")
			return ErrNotFound
		}
		return err
	}

	if current.SignCount > 0 && newSignCount <= current.SignCount {
		s.audit(ctx, "credential_clone_warning", current.UserID, credentialID, false,
			"stored_count", current.SignCount, "presented_count", newSignCount)
		return ErrCounterRegression
	}

	updated, err := s.durable.UpdateUsage(ctx, credentialID, newSignCount, time.Now().UTC())
	if err != nil {
		return err
	}
	if !updated {
		s.audit(ctx, "credential_usage", current.UserID, credentialID, false, "reason", "not_found")
		return ErrNotFound
	}

	s.invalidate(ctx, current.UserID, credentialID)
	s.audit(ctx, "credential_usage", current.UserID, credentialID, true,
		"sign_count", newSignCount)
	return nil
}

// Deactivate revokes an active credential after an id+owner match.
// Missing and not-owned collapse to the same result.
func (s *Store) Deactivate(ctx context.Context, credentialID, userID string) error {
	ok, err := s.durable.Deactivate(ctx, credentialID, userID, time.Now().UTC())
	if err != nil {
		return WrapError("deactivate credential", ErrStorageFailed)
	}
	if !ok {
		s.audit(ctx, "credential_deactivate", userID, credentialID, false,
			"reason", "not_found_or_not_owned")
		return ErrNotFoundOrNotOwned
	}

	s.invalidate(ctx, userID, credentialID)
	s.audit(ctx, "credential_deactivate", userID, credentialID, true)
	return nil
}

// ValidateOwnership reports whether the given user owns an active
// credential with the given ID. Read-only.
func (s *Store) ValidateOwnership(ctx context.Context, credentialID, userID string) (bool, error) {
	cred, err := s.durable.FindActiveByID(ctx, credentialID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return cred.UserID == userID, nil
}

// DeletionConfirmation is returned by DeleteByID.
type DeletionConfirmation struct {
	CredentialID string    `json:"credential_id"`
	DeletedAt    time.Time `json:"deleted_at"`
}

// DeleteByID is the user-initiated framing of Deactivate.
func (s *Store) DeleteByID(ctx context.Context, userID, credentialID string) (*DeletionConfirmation, error) {
	now := time.Now().UTC()
	ok, err := s.durable.Deactivate(ctx, credentialID, userID, now)
	if err != nil {
		s.audit(ctx, "credential_delete", userID, credentialID, false, "error", err.Error())
		return nil, WrapError("delete credential", ErrDeletionFailed)
	}
	if !ok {
		s.audit(ctx, "credential_delete", userID, credentialID, false,
			"reason", "not_found_or_not_owned")
		return nil, ErrNotFoundOrNotOwned
	}

	s.invalidate(ctx, userID, credentialID)
	s.audit(ctx, "credential_delete", userID, credentialID, true)
	return &DeletionConfirmation{CredentialID: credentialID, DeletedAt: now}, nil
}

// cachedUserList returns the cached active-credential list for a user.
func (s *Store) cachedUserList(ctx context.Context, userID string) ([]*Credential, bool) {
	payload, err := s.cache.Get(ctx, userCacheKeyPrefix+userID)
	if err != nil {
		return nil, false
	}
	var creds []*Credential
	if err := json.Unmarshal(payload, &creds); err != nil {
		return nil, false
	}
	return creds, true
}

func (s *Store) populateUserList(ctx context.Context, userID string, creds []*Credential) {
	payload, err := json.Marshal(creds)
	if err != nil {
		return
	}
	s.logCacheErr(s.cache.Set(ctx, userCacheKeyPrefix+userID, payload, s.cacheTTL))
}

// invalidate drops the cache entries touched by a write. It runs before
// the write is acknowledged so a stale list is never served afterwards.
func (s *Store) invalidate(ctx context.Context, userID, credentialID string) {
	s.logCacheErr(s.cache.Delete(ctx, userCacheKeyPrefix+userID))
	s.logCacheErr(s.cache.Delete(ctx, credCacheKeyPrefix+credentialID))
}

func (s *Store) logCacheErr(err error) {
	if err != nil {
		s.logger.Debug("credential cache operation failed", "error", err.Error())
	}
}

func (s *Store) audit(ctx context.Context, event, userID, credentialID string, success bool, args ...any) {
	attrs := append([]any{"user_id", userID, "credential_id", credentialID}, args...)
	if id := correlation.GetCorrelationID(ctx); id != "" {
		attrs = append(attrs, "correlation_id", id)
	}
	s.logger.SecurityEvent(event, success, attrs...)
	metrics.RecordSecurityEvent(event, success)
}
