package storage

import (
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// ErrCiphertextTooShort is returned when a sealed value is truncated
var ErrCiphertextTooShort = errors.New("ciphertext too short")

const sealerSalt = "agentwatch/storage/v1"

// Sealer encrypts row payloads at rest with XChaCha20-Poly1305. Each value
// carries its own random nonce; the row ID is bound as additional data so a
// sealed payload cannot be moved to another row.
type Sealer struct {
	aead cipher.AEAD
}

// NewSealer derives the storage key from secret with HKDF-SHA256
func NewSealer(secret string) (*Sealer, error) {
	if secret == "" {
		return nil, fmt.Errorf("encryption secret cannot be empty")
	}

	key := make([]byte, chacha20poly1305.KeySize)
	kdf := hkdf.New(sha256.New, []byte(secret), []byte(sealerSalt), []byte("row-payload"))
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, fmt.Errorf("failed to derive storage key: %w", err)
	}

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	return &Sealer{aead: aead}, nil
}

// Seal encrypts plaintext; the returned value is nonce || ciphertext
func (s *Sealer) Seal(plaintext []byte, rowID string) ([]byte, error) {
	nonce := make([]byte, s.aead.NonceSize(), s.aead.NonceSize()+len(plaintext)+s.aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	return s.aead.Seal(nonce, nonce, plaintext, []byte(rowID)), nil
}

// Open decrypts a value produced by Seal for the same rowID
func (s *Sealer) Open(sealed []byte, rowID string) ([]byte, error) {
	if len(sealed) < s.aead.NonceSize() {
		return nil, ErrCiphertextTooShort
	}
	nonce, ciphertext := sealed[:s.aead.NonceSize()], sealed[s.aead.NonceSize():]
	plaintext, err := s.aead.Open(nil, nonce, ciphertext, []byte(rowID))
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt row %s: %w", rowID, err)
	}
	return plaintext, nil
}
