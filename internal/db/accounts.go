package db

import (
	"context"
	"database/sql"
	"fmt"
)

// SessionRow is a stored bearer token session.
type SessionRow struct {
	TokenHash string
	OwnerID   string
	ExpiresAt int64
	CreatedAt int64
}

// OwnerKeyRow is a wrapped per-owner DEK.
type OwnerKeyRow struct {
	OwnerID      string
	KEKVersion   int64
	EncryptedDEK []byte
	CreatedAt    int64
	RotatedAt    sql.NullInt64
}

func (a *AccountsDB) InsertSession(ctx context.Context, s SessionRow) error {
	_, err := a.db.ExecContext(ctx,
		`INSERT INTO sessions (token_hash, owner_id, expires_at, created_at) VALUES (?, ?, ?, ?)`,
		s.TokenHash, s.OwnerID, s.ExpiresAt, s.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

// GetValidSession returns the session for tokenHash if it expires after now.
// Returns sql.ErrNoRows otherwise.
func (a *AccountsDB) GetValidSession(ctx context.Context, tokenHash string, now int64) (SessionRow, error) {
	var s SessionRow
	err := a.db.QueryRowContext(ctx,
		`SELECT token_hash, owner_id, expires_at, created_at FROM sessions WHERE token_hash = ? AND expires_at > ?`,
		tokenHash, now).Scan(&s.TokenHash, &s.OwnerID, &s.ExpiresAt, &s.CreatedAt)
	return s, err
}

func (a *AccountsDB) DeleteSession(ctx context.Context, tokenHash string) error {
	_, err := a.db.ExecContext(ctx, `DELETE FROM sessions WHERE token_hash = ?`, tokenHash)
	return err
}

func (a *AccountsDB) DeleteSessionsByOwner(ctx context.Context, ownerID string) error {
	_, err := a.db.ExecContext(ctx, `DELETE FROM sessions WHERE owner_id = ?`, ownerID)
	return err
}

// DeleteExpiredSessions removes sessions that expired at or before now.
func (a *AccountsDB) DeleteExpiredSessions(ctx context.Context, now int64) (int64, error) {
	res, err := a.db.ExecContext(ctx, `DELETE FROM sessions WHERE expires_at <= ?`, now)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// GetOwnerKey returns sql.ErrNoRows when the owner has no key yet.
func (a *AccountsDB) GetOwnerKey(ctx context.Context, ownerID string) (OwnerKeyRow, error) {
	var k OwnerKeyRow
	err := a.db.QueryRowContext(ctx,
		`SELECT owner_id, kek_version, encrypted_dek, created_at, rotated_at FROM owner_keys WHERE owner_id = ?`,
		ownerID).Scan(&k.OwnerID, &k.KEKVersion, &k.EncryptedDEK, &k.CreatedAt, &k.RotatedAt)
	return k, err
}

func (a *AccountsDB) InsertOwnerKey(ctx context.Context, k OwnerKeyRow) error {
	_, err := a.db.ExecContext(ctx,
		`INSERT INTO owner_keys (owner_id, kek_version, encrypted_dek, created_at) VALUES (?, ?, ?, ?)`,
		k.OwnerID, k.KEKVersion, k.EncryptedDEK, k.CreatedAt)
	return err
}

func (a *AccountsDB) UpdateOwnerKey(ctx context.Context, ownerID string, kekVersion int64, encryptedDEK []byte, rotatedAt int64) error {
	res, err := a.db.ExecContext(ctx,
		`UPDATE owner_keys SET kek_version = ?, encrypted_dek = ?, rotated_at = ? WHERE owner_id = ?`,
		kekVersion, encryptedDEK, rotatedAt, ownerID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sql.ErrNoRows
	}
	return nil
}
