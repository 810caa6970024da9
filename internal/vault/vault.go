// Package vault encrypts provider secrets at rest with AES-256-GCM.
//
// The configured key material is not run through a KDF: it is padded with
// ASCII '0' or truncated to exactly KeySize bytes. Ciphertexts written by the
// booking app use the same convention, so changing it requires re-encrypting
// every stored credential.
package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"
	"io"

	"github.com/turnosalon/salon-payments/internal/core/domain"
)

const (
	// KeySize is the AES-256 key length.
	KeySize = 32

	// NonceSize is the standard 96-bit GCM nonce.
	NonceSize = 12

	padByte = '0'
)

// Vault seals and opens secrets with a process-wide key.
type Vault struct {
	aead cipher.AEAD
	rand io.Reader
}

// New builds a Vault from raw key material.
func New(keyMaterial string) (*Vault, error) {
	if keyMaterial == "" {
		return nil, domain.NewServiceError(domain.ErrConfiguration, "vault key is empty", "VAULT_KEY_MISSING")
	}

	block, err := aes.NewCipher(NormalizeKey(keyMaterial))
	if err != nil {
		return nil, fmt.Errorf("aes.NewCipher: %w", err)
	}
	aead, err := cipher.NewGCMWithNonceSize(block, NonceSize)
	if err != nil {
		return nil, fmt.Errorf("cipher.NewGCM: %w", err)
	}

	return &Vault{aead: aead, rand: rand.Reader}, nil
}

// NormalizeKey pads or truncates key material to KeySize bytes.
func NormalizeKey(keyMaterial string) []byte {
	key := make([]byte, KeySize)
	n := copy(key, keyMaterial)
	for i := n; i < KeySize; i++ {
		key[i] = padByte
	}
	return key
}

// Encrypt seals plaintext under a fresh random nonce.
func (v *Vault) Encrypt(plaintext string) (domain.EncryptedSecret, error) {
	nonce := make([]byte, NonceSize)
	if _, err := io.ReadFull(v.rand, nonce); err != nil {
		return domain.EncryptedSecret{}, fmt.Errorf("rand nonce: %w", err)
	}

	ciphertext := v.aead.Seal(nil, nonce, []byte(plaintext), nil)
	return domain.EncryptedSecret{Ciphertext: ciphertext, Nonce: nonce}, nil
}

// Decrypt opens a sealed secret. Tampered ciphertext, a wrong nonce or a
// wrong key all fail with domain.ErrDecryption.
func (v *Vault) Decrypt(secret domain.EncryptedSecret) (string, error) {
	return v.DecryptParts(secret.Ciphertext, secret.Nonce)
}

// DecryptParts is Decrypt for callers holding the columns separately.
func (v *Vault) DecryptParts(ciphertext, nonce []byte) (string, error) {
	if len(nonce) != NonceSize {
		return "", domain.ErrDecryption
	}

	plaintext, err := v.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", domain.ErrDecryption
	}
	return string(plaintext), nil
}
