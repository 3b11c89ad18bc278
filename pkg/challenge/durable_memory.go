// Copyright (c) 2026 Gatekeep Project
//
// This file is part of go-gatekeep.
//
// go-gatekeep is licensed under the GNU Affero General Public License v3.0.
// See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html

package challenge

import (
	"context"
	"sync"
	"time"
)

// MemoryBackend is an in-memory DurableBackend.
// This is intended for development and testing only.
type MemoryBackend struct {
	mu         sync.Mutex
	byValue    map[string]*Challenge
	failInsert error
	failTake   error
}

// NewMemoryBackend creates a new in-memory durable backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		byValue: make(map[string]*Challenge),
	}
}

// Insert persists an issued challenge.
func (b *MemoryBackend) Insert(ctx context.Context, ch *Challenge) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.failInsert != nil {
		return b.failInsert
	}
	copied := *ch
	b.byValue[ch.Value] = &copied
	return nil
}

// Take atomically removes and returns the challenge with the given value.
func (b *MemoryBackend) Take(ctx context.Context, value string) (*Challenge, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.failTake != nil {
		return nil, b.failTake
	}
	ch, ok := b.byValue[value]
	if !ok {
		return nil, ErrNotFound
	}
	delete(b.byValue, value)
	return ch, nil
}

// DeleteExpired removes challenges whose expiry is before the cutoff.
func (b *MemoryBackend) DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var removed int64
	for value, ch := range b.byValue {
		if ch.ExpiresAt.Before(cutoff) {
			delete(b.byValue, value)
			removed++
		}
	}
	return removed, nil
}

// Ping always succeeds for the in-memory backend.
func (b *MemoryBackend) Ping(ctx context.Context) error {
	return nil
}

// Count returns the number of stored challenges.
func (b *MemoryBackend) Count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.byValue)
}

// FailWith makes subsequent Insert and Take calls return the given errors.
// Passing nil clears the failure. Used by tests to exercise degraded and
// fatal storage paths.
func (b *MemoryBackend) FailWith(insertErr, takeErr error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failInsert = insertErr
	b.failTake = takeErr
}
