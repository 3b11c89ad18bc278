// Copyright (c) 2026 Gatekeep Project
//
// This file is part of go-gatekeep.
//
// go-gatekeep is licensed under the GNU Affero General Public License v3.0.
// See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html

package challenge

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
)

// challengeRecord is the GORM model for durably stored challenges.
type challengeRecord struct {
	ID        uint   `gorm:"primarykey"`
	Value     string `gorm:"uniqueIndex;size:512;not null"`
	UserID    string `gorm:"index;size:128"`
	Kind      string `gorm:"size:32;not null"`
	CreatedAt time.Time
	ExpiresAt time.Time `gorm:"index"`
}

// TableName sets the table name for challenge records.
func (challengeRecord) TableName() string {
	return "webauthn_challenges"
}

// GormBackend is a DurableBackend on a GORM-managed relational store.
type GormBackend struct {
	db *gorm.DB
}

// NewGormBackend creates the backend and migrates its table.
func NewGormBackend(db *gorm.DB) (*GormBackend, error) {
	if db == nil {
		return nil, errors.New("db is required")
	}
	if err := db.AutoMigrate(&challengeRecord{}); err != nil {
		return nil, WrapError("migrate challenges", err)
	}
	return &GormBackend{db: db}, nil
}

// Insert persists an issued challenge.
func (b *GormBackend) Insert(ctx context.Context, ch *Challenge) error {
	rec := challengeRecord{
		Value:     ch.Value,
		UserID:    ch.UserID,
		Kind:      string(ch.Kind),
		CreatedAt: ch.CreatedAt,
		ExpiresAt: ch.ExpiresAt,
	}
	if err := b.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return WrapError("insert challenge", err)
	}
	return nil
}

// Take atomically removes and returns the challenge with the given value.
// The read and delete run in one transaction and the delete's affected-row
// count decides the winner, so concurrent callers cannot both succeed.
func (b *GormBackend) Take(ctx context.Context, value string) (*Challenge, error) {
	var rec challengeRecord
	err := b.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&rec, "value = ?", value).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}
		res := tx.Where("value = ?", value).Delete(&challengeRecord{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			// Lost the race to a concurrent consumer.
			return ErrNotFound
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, WrapError("take challenge", err)
	}

	return &Challenge{
		Value:     rec.Value,
		UserID:    rec.UserID,
		Kind:      Kind(rec.Kind),
		CreatedAt: rec.CreatedAt,
		ExpiresAt: rec.ExpiresAt,
	}, nil
}

// DeleteExpired removes challenges whose expiry is before the cutoff.
func (b *GormBackend) DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	res := b.db.WithContext(ctx).Where("expires_at < ?", cutoff).Delete(&challengeRecord{})
	if res.Error != nil {
		return 0, WrapError("delete expired challenges", res.Error)
	}
	return res.RowsAffected, nil
}

// Ping verifies the database is reachable.
func (b *GormBackend) Ping(ctx context.Context) error {
	sqlDB, err := b.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}
