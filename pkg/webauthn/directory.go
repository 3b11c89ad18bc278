// Copyright (c) 2026 Gatekeep Project
//
// This file is part of go-gatekeep.
//
// go-gatekeep is licensed under the GNU Affero General Public License v3.0.
// See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html

package webauthn

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// MemoryDirectory is an in-memory UserDirectory, suitable for testing and
// single-node deployments where account provisioning happens at startup.
type MemoryDirectory struct {
	mu         sync.RWMutex
	byID       map[string]*Account
	byUsername map[string]*Account
}

// NewMemoryDirectory creates an empty in-memory directory.
func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{
		byID:       make(map[string]*Account),
		byUsername: make(map[string]*Account),
	}
}

// Create adds an account. A zero ID is assigned a fresh UUID. Returns the
// stored account.
func (d *MemoryDirectory) Create(account *Account) *Account {
	d.mu.Lock()
	defer d.mu.Unlock()

	stored := *account
	if stored.ID == "" {
		stored.ID = uuid.New().String()
	}
	d.byID[stored.ID] = &stored
	d.byUsername[stored.Username] = &stored
	return &stored
}

// GetByID looks an account up by identifier.
func (d *MemoryDirectory) GetByID(_ context.Context, id string) (*Account, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	account, ok := d.byID[id]
	if !ok {
		return nil, ErrUserNotFound
	}
	copied := *account
	return &copied, nil
}

// GetByUsername looks an account up by login name.
func (d *MemoryDirectory) GetByUsername(_ context.Context, username string) (*Account, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	account, ok := d.byUsername[username]
	if !ok {
		return nil, ErrUserNotFound
	}
	copied := *account
	return &copied, nil
}

// Count returns the number of accounts.
func (d *MemoryDirectory) Count() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.byID)
}
