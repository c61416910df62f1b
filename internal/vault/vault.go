// Package vault stores and resolves per-tenant BYOK credentials.
//
// Secrets are encrypted with AES-256-GCM before they reach the database.
// The data key for each tenant is derived from a master secret via
// HKDF-SHA256 with the tenant ID as info, so ciphertext copied between
// tenant rows cannot be decrypted. Plaintext secrets exist only in memory
// for the duration of a call and are never logged.
package vault

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/praetor-ai/praetor/internal/model"
	"github.com/praetor-ai/praetor/internal/storage"
)

// Sentinel errors for credential resolution.
var (
	// ErrNoCredential means the tenant has no stored credential.
	ErrNoCredential = errors.New("vault: no credential")

	// ErrCredentialUnavailable means a credential exists but could not be
	// decrypted or validated. Callers surface this as a BYOK
	// misconfiguration, prompting the user to re-enter the key.
	ErrCredentialUnavailable = errors.New("vault: credential unavailable")
)

// Store is the persistence surface the vault needs. *storage.DB satisfies it.
type Store interface {
	GetCredential(ctx context.Context, tenantID uuid.UUID) (model.CredentialRecord, error)
	UpsertCredential(ctx context.Context, rec model.CredentialRecord) error
	DeleteCredential(ctx context.Context, tenantID uuid.UUID) error
}

// Vault resolves, saves, and deletes tenant credentials.
type Vault struct {
	store  Store
	cipher *Cipher
	logger *slog.Logger
}

// New creates a Vault. masterKey must be at least 32 bytes of entropy
// (PRAETOR_VAULT_MASTER_KEY, base64).
func New(store Store, masterKey []byte, logger *slog.Logger) (*Vault, error) {
	c, err := NewCipher(masterKey)
	if err != nil {
		return nil, err
	}
	return &Vault{store: store, cipher: c, logger: logger}, nil
}

// Get loads and decrypts a tenant's credential. The decrypted secret lives
// only in the returned value; it is the caller's job not to persist it.
func (v *Vault) Get(ctx context.Context, tenantID uuid.UUID) (model.ResolvedCredential, error) {
	rec, err := v.store.GetCredential(ctx, tenantID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return model.ResolvedCredential{}, ErrNoCredential
		}
		return model.ResolvedCredential{}, fmt.Errorf("%w: %w", ErrCredentialUnavailable, err)
	}

	secret, err := v.cipher.Decrypt(tenantID, rec.EncryptedSecret)
	if err != nil {
		// Do not include the ciphertext or any key material in the log.
		v.logger.Warn("vault: credential decrypt failed", "tenant_id", tenantID)
		return model.ResolvedCredential{}, fmt.Errorf("%w: %w", ErrCredentialUnavailable, err)
	}

	return model.ResolvedCredential{
		Provider: rec.Provider,
		Model:    rec.Model,
		Secret:   string(secret),
	}, nil
}

// Upsert encrypts and stores a credential, replacing any existing record
// atomically. The provider/model pair is validated against the capability
// table before anything is written.
func (v *Vault) Upsert(ctx context.Context, tenantID uuid.UUID, provider model.Provider, modelID, plaintextSecret string) error {
	if _, ok := provider.Capabilities(); !ok {
		return fmt.Errorf("vault: unsupported provider %q", provider)
	}
	if !provider.SupportsModel(modelID) {
		return fmt.Errorf("vault: provider %q does not support model %q", provider, modelID)
	}
	if plaintextSecret == "" {
		return fmt.Errorf("vault: empty secret")
	}

	ciphertext, err := v.cipher.Encrypt(tenantID, []byte(plaintextSecret))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrCredentialUnavailable, err)
	}

	if err := v.store.UpsertCredential(ctx, model.CredentialRecord{
		TenantID:        tenantID,
		Provider:        provider,
		Model:           modelID,
		EncryptedSecret: ciphertext,
	}); err != nil {
		return err
	}

	v.logger.Info("vault: credential saved", "tenant_id", tenantID, "provider", provider, "model", modelID)
	return nil
}

// Delete removes a tenant's credential. Missing records are not an error:
// delete is idempotent from the caller's perspective.
func (v *Vault) Delete(ctx context.Context, tenantID uuid.UUID) error {
	err := v.store.DeleteCredential(ctx, tenantID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	return err
}
