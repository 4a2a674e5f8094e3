// Package crypto provides envelope encryption for per-owner database keys.
// A KEK is derived from the master key with HKDF-SHA256; each owner's
// random DEK is stored wrapped by that KEK using AES-256-GCM.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

const (
	// DEKSize is the size of a Data Encryption Key in bytes (256 bits)
	DEKSize = 32

	// KEKSize is the size of a Key Encryption Key in bytes (256 bits)
	KEKSize = 32

	// NonceSize is the size of the AES-GCM nonce in bytes (96 bits)
	NonceSize = 12

	gcmTagSize = 16
)

// DeriveKEK derives the KEK for ownerID at version. The HKDF info string
// "owner:<id>:v<version>" separates owners and key generations.
func DeriveKEK(masterKey []byte, ownerID string, version int) []byte {
	info := fmt.Sprintf("owner:%s:v%d", ownerID, version)
	reader := hkdf.New(sha256.New, masterKey, nil, []byte(info))

	kek := make([]byte, KEKSize)
	if _, err := io.ReadFull(reader, kek); err != nil {
		// HKDF-SHA256 can emit up to 8160 bytes; 32 never fails.
		panic(fmt.Sprintf("HKDF failed: %v", err))
	}
	return kek
}

// GenerateDEK returns a fresh random 32-byte DEK.
func GenerateDEK() ([]byte, error) {
	dek := make([]byte, DEKSize)
	if _, err := rand.Read(dek); err != nil {
		return nil, fmt.Errorf("failed to generate DEK: %w", err)
	}
	return dek, nil
}

func newGCM(kek []byte) (cipher.AEAD, error) {
	if len(kek) != KEKSize {
		return nil, fmt.Errorf("KEK must be %d bytes, got %d", KEKSize, len(kek))
	}
	block, err := aes.NewCipher(kek)
	if err != nil {
		return nil, fmt.Errorf("failed to create AES cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return gcm, nil
}

// EncryptDEK wraps dek with kek. Output: nonce (12) || ciphertext || tag (16).
func EncryptDEK(kek, dek []byte) ([]byte, error) {
	if len(dek) != DEKSize {
		return nil, fmt.Errorf("DEK must be %d bytes, got %d", DEKSize, len(dek))
	}
	gcm, err := newGCM(kek)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, NonceSize, NonceSize+DEKSize+gcmTagSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	return gcm.Seal(nonce, nonce, dek, nil), nil
}

// DecryptDEK unwraps a DEK produced by EncryptDEK.
func DecryptDEK(kek, encryptedDEK []byte) ([]byte, error) {
	if len(encryptedDEK) < NonceSize+gcmTagSize {
		return nil, fmt.Errorf("encrypted DEK too short: got %d bytes, need at least %d", len(encryptedDEK), NonceSize+gcmTagSize)
	}
	gcm, err := newGCM(kek)
	if err != nil {
		return nil, err
	}

	dek, err := gcm.Open(nil, encryptedDEK[:NonceSize], encryptedDEK[NonceSize:], nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt DEK: %w", err)
	}
	return dek, nil
}
