// Copyright (c) 2026 Gatekeep Project
//
// This file is part of go-gatekeep.
//
// go-gatekeep is licensed under the GNU Affero General Public License v3.0.
// See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html

package credential

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
)

// DurableStore is the durable persistence layer behind the credential
// store's cache.
type DurableStore interface {
	// Upsert inserts a new credential or, when the credential ID already
	// exists, updates its key material and metadata and reactivates it.
	Upsert(ctx context.Context, cred *Credential) (*Credential, error)

	// FindByUser returns a user's credentials, most recently created first.
	FindByUser(ctx context.Context, userID string, activeOnly bool) ([]*Credential, error)

	// FindActiveByID returns the active credential with the given ID.
	// Returns ErrNotFound if no active match exists.
	FindActiveByID(ctx context.Context, credentialID string) (*Credential, error)

	// UpdateUsage sets the sign count and last-used time on an active
	// credential. Returns false if no active match exists.
	UpdateUsage(ctx context.Context, credentialID string, signCount uint32, usedAt time.Time) (bool, error)

	// Deactivate soft-deletes an active credential owned by the given
	// user. Returns false if no active owned match exists.
	Deactivate(ctx context.Context, credentialID, userID string, at time.Time) (bool, error)

	// Ping verifies the store is reachable.
	Ping(ctx context.Context) error
}

// credentialRecord is the GORM model for stored credentials.
type credentialRecord struct {
	ID                uint   `gorm:"primarykey"`
	CredentialID      string `gorm:"uniqueIndex;size:1024;not null"`
	UserID            string `gorm:"index;size:128;not null"`
	PublicKey         []byte `gorm:"not null"`
	SignCount         uint32
	DeviceName        string   `gorm:"size:64"`
	AuthenticatorType string   `gorm:"size:32"`
	Transports        []string `gorm:"serializer:json"`
	AAGUID            string   `gorm:"size:64"`
	CreatedAt         time.Time
	LastUsedAt        *time.Time
	Active            bool `gorm:"index"`
	DeactivatedAt     *time.Time
}

// TableName sets the table name for credential records.
func (credentialRecord) TableName() string {
	return "webauthn_credentials"
}

func (r *credentialRecord) toCredential() *Credential {
	return &Credential{
		CredentialID:      r.CredentialID,
		UserID:            r.UserID,
		PublicKey:         r.PublicKey,
		SignCount:         r.SignCount,
		DeviceName:        r.DeviceName,
		AuthenticatorType: r.AuthenticatorType,
		Transports:        r.Transports,
		AAGUID:            r.AAGUID,
		CreatedAt:         r.CreatedAt,
		LastUsedAt:        r.LastUsedAt,
		Active:            r.Active,
		DeactivatedAt:     r.DeactivatedAt,
	}
}

// GormStore is a DurableStore on a GORM-managed relational database.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore creates the store and migrates its table.
func NewGormStore(db *gorm.DB) (*GormStore, error) {
	if db == nil {
		return nil, errors.New("db is required")
	}
	if err := db.AutoMigrate(&credentialRecord{}); err != nil {
		return nil, WrapError("migrate credentials", err)
	}
	return &GormStore{db: db}, nil
}

// Upsert inserts or updates-and-reactivates a credential by credential ID.
func (s *GormStore) Upsert(ctx context.Context, cred *Credential) (*Credential, error) {
	var out *Credential
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rec credentialRecord
		err := tx.First(&rec, "credential_id = ?", cred.CredentialID).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			rec = credentialRecord{
				CredentialID:      cred.CredentialID,
				UserID:            cred.UserID,
				PublicKey:         cred.PublicKey,
				SignCount:         0,
				DeviceName:        cred.DeviceName,
				AuthenticatorType: cred.AuthenticatorType,
				Transports:        cred.Transports,
				AAGUID:            cred.AAGUID,
				CreatedAt:         time.Now().UTC(),
				Active:            true,
			}
			if err := tx.Create(&rec).Error; err != nil {
				return err
			}
		case err != nil:
			return err
		default:
			rec.PublicKey = cred.PublicKey
			rec.DeviceName = cred.DeviceName
			rec.AuthenticatorType = cred.AuthenticatorType
			rec.Transports = cred.Transports
			rec.AAGUID = cred.AAGUID
			rec.Active = true
			rec.DeactivatedAt = nil
			if err := tx.Save(&rec).Error; err != nil {
				return err
			}
		}
		out = rec.toCredential()
		return nil
	})
	if err != nil {
		return nil, WrapError("upsert credential", err)
	}
	return out, nil
}

// FindByUser returns a user's credentials, most recently created first.
func (s *GormStore) FindByUser(ctx context.Context, userID string, activeOnly bool) ([]*Credential, error) {
	query := s.db.WithContext(ctx).Where("user_id = ?", userID)
	if activeOnly {
		query = query.Where("active = ?", true)
	}

	var records []credentialRecord
	if err := query.Order("created_at DESC").Find(&records).Error; err != nil {
		return nil, WrapError("find credentials", err)
	}

	creds := make([]*Credential, len(records))
	for i := range records {
		creds[i] = records[i].toCredential()
	}
	return creds, nil
}

// FindActiveByID returns the active credential with the given ID.
func (s *GormStore) FindActiveByID(ctx context.Context, credentialID string) (*Credential, error) {
	var rec credentialRecord
	err := s.db.WithContext(ctx).
		First(&rec, "credential_id = ? AND active = ?", credentialID, true).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, WrapError("find credential", err)
	}
	return rec.toCredential(), nil
}

// UpdateUsage sets the sign count and last-used time on an active credential.
func (s *GormStore) UpdateUsage(ctx context.Context, credentialID string, signCount uint32, usedAt time.Time) (bool, error) {
	res := s.db.WithContext(ctx).
		Model(&credentialRecord{}).
		Where("credential_id = ? AND active = ?", credentialID, true).
		Updates(map[string]any{
			"sign_count":   signCount,
			"last_used_at": usedAt,
		})
	if res.Error != nil {
		return false, WrapError("update credential usage", res.Error)
	}
	return res.RowsAffected > 0, nil
}

// Deactivate soft-deletes an active credential owned by the given user.
func (s *GormStore) Deactivate(ctx context.Context, credentialID, userID string, at time.Time) (bool, error) {
	res := s.db.WithContext(ctx).
		Model(&credentialRecord{}).
		Where("credential_id = ? AND user_id = ? AND active = ?", credentialID, userID, true).
		Updates(map[string]any{
			"active":         false,
			"deactivated_at": at,
		})
	if res.Error != nil {
		return false, WrapError("deactivate credential", res.Error)
	}
	return res.RowsAffected > 0, nil
}

// Ping verifies the database is reachable.
func (s *GormStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}
