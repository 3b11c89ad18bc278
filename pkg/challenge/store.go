// Copyright (c) 2026 Gatekeep Project
//
// This file is part of go-gatekeep.
//
// go-gatekeep is licensed under the GNU Affero General Public License v3.0.
// See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html

package challenge

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"time"

	"github.com/gatekeep/go-gatekeep/pkg/cache"
	"github.com/gatekeep/go-gatekeep/pkg/logging"
	"github.com/gatekeep/go-gatekeep/pkg/metrics"
)

const cacheKeyPrefix = "gatekeep:challenge:"

// cacheEntry is the serialized form stored in the cache backend. The
// durable flag records whether the durable write succeeded at issue time,
// which determines the deciding backend at consume time.
type cacheEntry struct {
	Challenge Challenge `json:"challenge"`
	Durable   bool      `json:"durable"`
}

// Store issues, persists, and consumes one-time challenges across a cache
// backend and a durable backend.
//
// Consumption discipline: the backend that decides whether a consume wins
// is fixed per challenge at issue time. When the durable write succeeded,
// the durable backend's atomic Take decides and the cache entry is only an
// accelerator. Only a challenge that was never durably recorded (degraded
// issue) is decided by the cache's atomic GetDel. A consume therefore has
// exactly one atomic deciding step, so two concurrent callers can never
// both succeed.
type Store struct {
	cache   cache.Backend
	durable DurableBackend
	ttl     time.Duration
	logger  *logging.Logger
}

// StoreParams contains dependencies for creating a challenge store.
type StoreParams struct {
	// Cache is the fast cache backend (required).
	Cache cache.Backend

	// Durable is the durable backend (required).
	Durable DurableBackend

	// TTL is the challenge lifetime. Defaults to DefaultTTL.
	TTL time.Duration

	// Logger defaults to logging.DefaultLogger().
	Logger *logging.Logger
}

// NewStore creates a new challenge store.
func NewStore(params StoreParams) (*Store, error) {
	if params.Cache == nil {
		return nil, errors.New("cache backend is required")
	}
	if params.Durable == nil {
		return nil, errors.New("durable backend is required")
	}
	if params.TTL == 0 {
		params.TTL = DefaultTTL
	}
	if params.Logger == nil {
		params.Logger = logging.DefaultLogger()
	}
	return &Store{
		cache:   params.Cache,
		durable: params.Durable,
		ttl:     params.TTL,
		logger:  params.Logger,
	}, nil
}

// Issue generates a high-entropy challenge bound to the given ceremony
// kind and optional user, and records it in both backends.
func (s *Store) Issue(ctx context.Context, kind Kind, userID string) (*Challenge, error) {
	value, err := generateValue()
	if err != nil {
		return nil, WrapError("generate challenge", err)
	}
	return s.IssueValue(ctx, kind, userID, value)
}

// IssueValue records a caller-supplied challenge value. The ceremony layer
// uses this to persist the challenge minted inside the WebAuthn options so
// custody stays with the store.
//
// If both backend writes fail the ceremony cannot proceed and the call
// fails with ErrStorageFailed. If exactly one write fails the challenge is
// still usable and degraded redundancy is logged.
func (s *Store) IssueValue(ctx context.Context, kind Kind, userID, value string) (*Challenge, error) {
	now := time.Now().UTC()
	ch := &Challenge{
		Value:     value,
		UserID:    userID,
		Kind:      kind,
		CreatedAt: now,
		ExpiresAt: now.Add(s.ttl),
	}

	durableErr := s.durable.Insert(ctx, ch)
	metrics.RecordChallengeOp(metrics.OpChallengeIssue, "durable", durableErr)

	entry := cacheEntry{Challenge: *ch, Durable: durableErr == nil}
	payload, err := json.Marshal(entry)
	if err != nil {
		return nil, WrapError("encode challenge", err)
	}
	cacheErr := s.cache.Set(ctx, cacheKeyPrefix+value, payload, s.ttl)
	metrics.RecordChallengeOp(metrics.OpChallengeIssue, "cache", cacheErr)

	if durableErr != nil && cacheErr != nil {
		s.logger.SecurityEvent("challenge_issue", false,
			"kind", string(kind), "user_id", userID,
			"durable_error", durableErr.Error(), "cache_error", cacheErr.Error())
		return nil, WrapError("issue challenge", ErrStorageFailed)
	}
	if durableErr != nil {
		s.logger.Warn("challenge issued with degraded redundancy",
			"backend", "durable", "error", durableErr.Error())
	}
	if cacheErr != nil {
		s.logger.Warn("challenge issued with degraded redundancy",
			"backend", "cache", "error", cacheErr.Error())
	}

	return ch, nil
}

// ValidateAndConsume looks the challenge up by value, verifies expiry,
// user binding, and ceremony kind, and atomically deletes it so a second
// concurrent caller observes ErrNotFound. Every failure mode, including
// backend lookup errors, collapses to ErrNotFound.
func (s *Store) ValidateAndConsume(ctx context.Context, value, expectedUserID string, kind Kind) (*Challenge, error) {
	ch, err := s.take(ctx, value)
	metrics.RecordChallengeOp(metrics.OpChallengeConsume, "store", err)
	if err != nil {
		return nil, ErrNotFound
	}

	if ch.Expired(time.Now().UTC()) {
		return nil, ErrNotFound
	}
	if ch.Kind != kind {
		return nil, ErrNotFound
	}
	if expectedUserID != "" && ch.UserID != expectedUserID {
		return nil, ErrNotFound
	}

	return ch, nil
}

// take resolves the deciding backend and performs the atomic removal.
func (s *Store) take(ctx context.Context, value string) (*Challenge, error) {
	key := cacheKeyPrefix + value

	payload, cacheErr := s.cache.Get(ctx, key)
	if cacheErr == nil {
		var entry cacheEntry
		if err := json.Unmarshal(payload, &entry); err != nil {
			return nil, ErrNotFound
		}
		if !entry.Durable {
			// Degraded issue: the cache is the only record, so its
			// atomic GetDel decides.
			taken, err := s.cache.GetDel(ctx, key)
			if err != nil {
				return nil, ErrNotFound
			}
			var winner cacheEntry
			if err := json.Unmarshal(taken, &winner); err != nil {
				return nil, ErrNotFound
			}
			return &winner.Challenge, nil
		}
		// Durable copy exists: fall through so the durable Take decides.
	} else if !errors.Is(cacheErr, cache.ErrNotFound) {
		s.logger.Debug("challenge cache lookup failed", "error", cacheErr.Error())
	}

	ch, err := s.durable.Take(ctx, value)
	if err != nil {
		return nil, ErrNotFound
	}

	// Winner cleans up the accelerator copy.
	if err := s.cache.Delete(ctx, key); err != nil {
		s.logger.Debug("challenge cache cleanup failed", "error", err.Error())
	}
	return ch, nil
}

// TTL returns the configured challenge lifetime.
func (s *Store) TTL() time.Duration {
	return s.ttl
}

// RunSweep removes expired challenges from the durable backend at the
// given interval until the context is cancelled. The cache backend
// expires entries natively.
func (s *Store) RunSweep(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			removed, err := s.durable.DeleteExpired(ctx, time.Now().UTC())
			if err != nil {
				s.logger.Warn("challenge expiry sweep failed", "error", err.Error())
				continue
			}
			if removed > 0 {
				s.logger.Debug("challenge expiry sweep", "removed", removed)
			}
		case <-ctx.Done():
			return
		}
	}
}

// generateValue returns 32 bytes (256 bits) of cryptographically secure
// randomness, base64url-encoded without padding.
func generateValue() (string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}
