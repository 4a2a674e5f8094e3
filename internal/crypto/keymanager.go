package crypto

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/kuitang/thoughtflow/internal/db"
)

// ErrOwnerKeyNotFound is returned when an owner's key entry does not exist
var ErrOwnerKeyNotFound = errors.New("owner key not found")

// KeyManager creates and unwraps per-owner DEKs stored in the accounts database.
type KeyManager struct {
	masterKey []byte
	db        *db.AccountsDB

	// Serializes first-time creation so two requests for a new owner
	// cannot race to store different DEKs.
	createMu sync.Mutex
}

// NewKeyManager creates a KeyManager backed by the accounts database.
func NewKeyManager(masterKey []byte, accounts *db.AccountsDB) *KeyManager {
	return &KeyManager{
		masterKey: masterKey,
		db:        accounts,
	}
}

// GetOrCreateOwnerDEK returns the owner's DEK, generating and storing one on
// first use.
func (km *KeyManager) GetOrCreateOwnerDEK(ctx context.Context, ownerID string) ([]byte, error) {
	dek, err := km.GetOwnerDEK(ctx, ownerID)
	if !errors.Is(err, ErrOwnerKeyNotFound) {
		return dek, err
	}

	km.createMu.Lock()
	defer km.createMu.Unlock()

	dek, err = km.GetOwnerDEK(ctx, ownerID)
	if !errors.Is(err, ErrOwnerKeyNotFound) {
		return dek, err
	}

	dek, err = GenerateDEK()
	if err != nil {
		return nil, err
	}
	const kekVersion = 1
	encryptedDEK, err := EncryptDEK(DeriveKEK(km.masterKey, ownerID, kekVersion), dek)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt DEK: %w", err)
	}

	err = km.db.InsertOwnerKey(ctx, db.OwnerKeyRow{
		OwnerID:      ownerID,
		KEKVersion:   kekVersion,
		EncryptedDEK: encryptedDEK,
		CreatedAt:    time.Now().Unix(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to store owner key: %w", err)
	}
	return dek, nil
}

// GetOwnerDEK returns ErrOwnerKeyNotFound if the owner has no key.
func (km *KeyManager) GetOwnerDEK(ctx context.Context, ownerID string) ([]byte, error) {
	key, err := km.db.GetOwnerKey(ctx, ownerID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrOwnerKeyNotFound
		}
		return nil, fmt.Errorf("failed to get owner key: %w", err)
	}

	dek, err := DecryptDEK(DeriveKEK(km.masterKey, ownerID, int(key.KEKVersion)), key.EncryptedDEK)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt DEK: %w", err)
	}
	return dek, nil
}

// RotateOwnerKEK re-wraps the owner's DEK under the next KEK version. The
// DEK itself, and so the database file, is unchanged.
func (km *KeyManager) RotateOwnerKEK(ctx context.Context, ownerID string) error {
	key, err := km.db.GetOwnerKey(ctx, ownerID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrOwnerKeyNotFound
		}
		return fmt.Errorf("failed to get owner key: %w", err)
	}

	dek, err := DecryptDEK(DeriveKEK(km.masterKey, ownerID, int(key.KEKVersion)), key.EncryptedDEK)
	if err != nil {
		return fmt.Errorf("failed to decrypt current DEK: %w", err)
	}

	newVersion := key.KEKVersion + 1
	wrapped, err := EncryptDEK(DeriveKEK(km.masterKey, ownerID, int(newVersion)), dek)
	if err != nil {
		return fmt.Errorf("failed to encrypt DEK with new KEK: %w", err)
	}

	if err := km.db.UpdateOwnerKey(ctx, ownerID, newVersion, wrapped, time.Now().Unix()); err != nil {
		return fmt.Errorf("failed to update owner key: %w", err)
	}
	return nil
}
