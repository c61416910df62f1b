package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"

	"github.com/google/uuid"
	"golang.org/x/crypto/hkdf"
)

const keyLen = 32 // AES-256

// Cipher encrypts and decrypts credential secrets with AES-256-GCM using
// per-tenant keys derived from a single master key.
type Cipher struct {
	masterKey []byte
}

// NewCipher validates the master key and returns a Cipher.
func NewCipher(masterKey []byte) (*Cipher, error) {
	if len(masterKey) < keyLen {
		return nil, fmt.Errorf("vault: master key must be at least %d bytes, got %d", keyLen, len(masterKey))
	}
	return &Cipher{masterKey: masterKey}, nil
}

// tenantKey derives the AES key for one tenant. Binding the tenant ID into
// the derivation means a ciphertext moved to another tenant's row fails to
// decrypt.
func (c *Cipher) tenantKey(tenantID uuid.UUID) ([]byte, error) {
	r := hkdf.New(sha256.New, c.masterKey, nil, []byte("praetor/credential/"+tenantID.String()))
	key := make([]byte, keyLen)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("vault: derive tenant key: %w", err)
	}
	return key, nil
}

// Encrypt seals plaintext under the tenant's derived key. The random nonce
// is prepended to the ciphertext.
func (c *Cipher) Encrypt(tenantID uuid.UUID, plaintext []byte) ([]byte, error) {
	key, err := c.tenantKey(tenantID)
	if err != nil {
		return nil, err
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("vault: init cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("vault: init gcm: %w", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("vault: generate nonce: %w", err)
	}

	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

// Decrypt opens a ciphertext produced by Encrypt for the same tenant.
func (c *Cipher) Decrypt(tenantID uuid.UUID, ciphertext []byte) ([]byte, error) {
	key, err := c.tenantKey(tenantID)
	if err != nil {
		return nil, err
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("vault: init cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("vault: init gcm: %w", err)
	}

	if len(ciphertext) < gcm.NonceSize() {
		return nil, fmt.Errorf("vault: ciphertext too short")
	}
	nonce, sealed := ciphertext[:gcm.NonceSize()], ciphertext[gcm.NonceSize():]

	plaintext, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, fmt.Errorf("vault: decrypt: %w", err)
	}
	return plaintext, nil
}
