package storage

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
)

const (
	keySize   = 32 // AES-256
	nonceSize = 12
	tagSize   = 16
)

// ErrDecrypt is returned for any blob that cannot be authenticated or parsed.
var ErrDecrypt = errors.New("failed to decrypt credential")

// Encryption provides AES-256-GCM encryption for user provider credentials.
// Blobs are hex(iv || tag || ciphertext).
type Encryption struct {
	aead cipher.AEAD
}

// NewEncryption creates a new encryption service with the given 32-byte key
func NewEncryption(key []byte) (*Encryption, error) {
	if len(key) != keySize {
		return nil, fmt.Errorf("invalid key size: must be %d bytes, got %d", keySize, len(key))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCMWithNonceSize(block, nonceSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	return &Encryption{aead: gcm}, nil
}

// NewEncryptionFromHex creates a new encryption service from a 64-character hex key
func NewEncryptionFromHex(encodedKey string) (*Encryption, error) {
	if encodedKey == "" {
		return nil, fmt.Errorf("encryption key cannot be empty")
	}
	if len(encodedKey) != keySize*2 {
		return nil, fmt.Errorf("encryption key must be %d hex characters (%d bytes)", keySize*2, keySize)
	}

	key, err := hex.DecodeString(encodedKey)
	if err != nil {
		return nil, fmt.Errorf("encryption key must be valid hex: %w", err)
	}

	return NewEncryption(key)
}

// GenerateKey generates a new random 32-byte key, hex encoded for use in ENCRYPTION_KEY
func GenerateKey() (string, error) {
	key := make([]byte, keySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return "", fmt.Errorf("failed to generate random key: %w", err)
	}
	return hex.EncodeToString(key), nil
}

// Encrypt encrypts plaintext with a fresh random IV and returns the hex blob
func (e *Encryption) Encrypt(plaintext string) (string, error) {
	iv := make([]byte, nonceSize)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	// Seal returns ciphertext || tag
	sealed := e.aead.Seal(nil, iv, []byte(plaintext), nil)
	ct, tag := sealed[:len(sealed)-tagSize], sealed[len(sealed)-tagSize:]

	blob := make([]byte, 0, nonceSize+tagSize+len(ct))
	blob = append(blob, iv...)
	blob = append(blob, tag...)
	blob = append(blob, ct...)

	return hex.EncodeToString(blob), nil
}

// Decrypt authenticates and decrypts a hex blob produced by Encrypt.
// Any tampering, truncation or key mismatch yields ErrDecrypt.
func (e *Encryption) Decrypt(blobHex string) (string, error) {
	blob, err := hex.DecodeString(blobHex)
	if err != nil {
		return "", fmt.Errorf("%w: invalid hex: %v", ErrDecrypt, err)
	}
	if len(blob) < nonceSize+tagSize {
		return "", fmt.Errorf("%w: blob too short", ErrDecrypt)
	}

	iv := blob[:nonceSize]
	tag := blob[nonceSize : nonceSize+tagSize]
	ct := blob[nonceSize+tagSize:]

	sealed := make([]byte, 0, len(ct)+tagSize)
	sealed = append(sealed, ct...)
	sealed = append(sealed, tag...)

	plaintext, err := e.aead.Open(nil, iv, sealed, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecrypt, err)
	}

	return string(plaintext), nil
}
