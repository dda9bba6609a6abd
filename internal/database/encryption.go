package database

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"os"

	"leadwire/internal/constants"

	"golang.org/x/crypto/pbkdf2"
)

// encryptedPrefix marks values written by an enabled encryptor so rows
// stored before a secret was configured can still be read back.
const encryptedPrefix = "enc:"

type encryptor struct {
	gcm cipher.AEAD
}

// NewEncryptor builds an AES-GCM encryptor keyed from
// LEADWIRE_ENCRYPTION_SECRET. Without a secret values pass through.
func NewEncryptor() (*encryptor, error) {
	secret := os.Getenv("LEADWIRE_ENCRYPTION_SECRET")
	if secret == "" {
		return &encryptor{gcm: nil}, nil
	}
	return newEncryptorWithSecret(secret)
}

func newEncryptorWithSecret(secret string) (*encryptor, error) {
	if len(secret) < constants.MinEncryptionSecret {
		return nil, fmt.Errorf("encryption secret must be at least %d characters long", constants.MinEncryptionSecret)
	}

	key := pbkdf2.Key([]byte(secret), []byte(constants.EncryptionSalt), constants.EncryptionIterations, constants.EncryptionKeySize, sha256.New)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	return &encryptor{gcm: gcm}, nil
}

func (e *encryptor) Enabled() bool {
	return e != nil && e.gcm != nil
}

func (e *encryptor) Encrypt(plaintext string) (string, error) {
	if plaintext == "" || !e.Enabled() {
		return plaintext, nil
	}

	nonce := make([]byte, constants.EncryptionNonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	sealed := e.gcm.Seal(nil, nonce, []byte(plaintext), nil)
	result := append(nonce, sealed...)
	return encryptedPrefix + base64.StdEncoding.EncodeToString(result), nil
}

func (e *encryptor) Decrypt(stored string) (string, error) {
	if len(stored) < len(encryptedPrefix) || stored[:len(encryptedPrefix)] != encryptedPrefix {
		return stored, nil
	}
	if !e.Enabled() {
		return "", fmt.Errorf("value is encrypted but LEADWIRE_ENCRYPTION_SECRET is not set")
	}

	data, err := base64.StdEncoding.DecodeString(stored[len(encryptedPrefix):])
	if err != nil {
		return "", fmt.Errorf("failed to decode base64: %w", err)
	}
	if len(data) < constants.EncryptionNonceSize {
		return "", fmt.Errorf("ciphertext too short")
	}

	nonce, sealed := data[:constants.EncryptionNonceSize], data[constants.EncryptionNonceSize:]
	plaintext, err := e.gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt: %w", err)
	}
	return string(plaintext), nil
}
