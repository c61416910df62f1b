package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/praetor-ai/praetor/internal/model"
)

// GetCredential retrieves a tenant's stored credential record, ciphertext
// included. Returns ErrNotFound when the tenant has no credential.
func (db *DB) GetCredential(ctx context.Context, tenantID uuid.UUID) (model.CredentialRecord, error) {
	var rec model.CredentialRecord
	err := db.pool.QueryRow(ctx,
		`SELECT tenant_id, provider, model, encrypted_secret, created_at, updated_at
		 FROM provider_credentials WHERE tenant_id = $1`, tenantID,
	).Scan(&rec.TenantID, &rec.Provider, &rec.Model, &rec.EncryptedSecret, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.CredentialRecord{}, ErrNotFound
		}
		return model.CredentialRecord{}, fmt.Errorf("storage: get credential: %w", err)
	}
	return rec, nil
}

// UpsertCredential replaces a tenant's credential record in one statement.
// The ON CONFLICT form guarantees no partial state is ever visible: readers
// see either the old record or the new one.
func (db *DB) UpsertCredential(ctx context.Context, rec model.CredentialRecord) error {
	now := time.Now().UTC()
	_, err := db.pool.Exec(ctx,
		`INSERT INTO provider_credentials (tenant_id, provider, model, encrypted_secret, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $5)
		 ON CONFLICT (tenant_id) DO UPDATE SET
		   provider = EXCLUDED.provider,
		   model = EXCLUDED.model,
		   encrypted_secret = EXCLUDED.encrypted_secret,
		   updated_at = EXCLUDED.updated_at`,
		rec.TenantID, rec.Provider, rec.Model, rec.EncryptedSecret, now,
	)
	if err != nil {
		return fmt.Errorf("storage: upsert credential: %w", err)
	}
	return nil
}

// DeleteCredential removes a tenant's credential record. Deleting a
// credential flips the tenant back to trial-credit gating.
func (db *DB) DeleteCredential(ctx context.Context, tenantID uuid.UUID) error {
	tag, err := db.pool.Exec(ctx,
		`DELETE FROM provider_credentials WHERE tenant_id = $1`, tenantID,
	)
	if err != nil {
		return fmt.Errorf("storage: delete credential: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
