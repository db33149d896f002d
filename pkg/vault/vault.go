// Package vault provides credential-at-rest encryption for connector
// instances. Two implementations of core.CredentialVault are available: a
// local AES-GCM vault keyed from configuration, and a HashiCorp Vault
// transit-engine adapter for deployments with a central KMS.
package vault

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"io"

	"github.com/PNdlovu/WriteCareNotes-sub010/pkg/errors"
)

// LocalVault encrypts credentials with AES-256-GCM using a process-local
// key. Ciphertexts are base64-encoded with the nonce prepended.
type LocalVault struct {
	aead cipher.AEAD
}

// NewLocalVault creates a local vault from a 32-byte key.
func NewLocalVault(key []byte) (*LocalVault, error) {
	if len(key) != 32 {
		return nil, errors.New(errors.ErrorTypeConfig, "local vault key must be exactly 32 bytes")
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to initialize cipher")
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to initialize GCM")
	}

	return &LocalVault{aead: aead}, nil
}

// Encrypt seals the plaintext. The result is never equal to the input.
func (v *LocalVault) Encrypt(_ context.Context, plaintext string) (string, error) {
	nonce := make([]byte, v.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", errors.Wrap(err, errors.ErrorTypeInternal, "failed to generate nonce")
	}

	sealed := v.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a ciphertext produced by Encrypt.
func (v *LocalVault) Decrypt(_ context.Context, ciphertext string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", errors.Wrap(err, errors.ErrorTypeData, "ciphertext is not valid base64")
	}

	nonceSize := v.aead.NonceSize()
	if len(raw) < nonceSize {
		return "", errors.New(errors.ErrorTypeData, "ciphertext is too short")
	}

	plaintext, err := v.aead.Open(nil, raw[:nonceSize], raw[nonceSize:], nil)
	if err != nil {
		return "", errors.Wrap(err, errors.ErrorTypeData, "failed to decrypt credential")
	}
	return string(plaintext), nil
}
