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

// CreateBillingState inserts the billing record for a new tenant.
// Called once at firm signup.
func (db *DB) CreateBillingState(ctx context.Context, s model.TenantBillingState) (model.TenantBillingState, error) {
	now := time.Now().UTC()
	if s.CreatedAt.IsZero() {
		s.CreatedAt = now
	}
	s.UpdatedAt = now

	_, err := db.pool.Exec(ctx,
		`INSERT INTO tenant_billing (tenant_id, plan, trial_credits_total, trial_credits_used,
		 subscription_valid_until, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		s.TenantID, s.Plan, s.TrialCreditsTotal, s.TrialCreditsUsed,
		s.SubscriptionValidUntil, s.CreatedAt, s.UpdatedAt,
	)
	if err != nil {
		return model.TenantBillingState{}, fmt.Errorf("storage: create billing state: %w", err)
	}
	return s, nil
}

// GetBillingState retrieves a tenant's billing record. HasByok is derived
// from the presence of a credential row, not stored as a column, so the two
// can never drift apart.
func (db *DB) GetBillingState(ctx context.Context, tenantID uuid.UUID) (model.TenantBillingState, error) {
	var s model.TenantBillingState
	err := db.pool.QueryRow(ctx,
		`SELECT b.tenant_id, b.plan, b.trial_credits_total, b.trial_credits_used,
		 b.subscription_valid_until, b.created_at, b.updated_at,
		 EXISTS (SELECT 1 FROM provider_credentials c WHERE c.tenant_id = b.tenant_id)
		 FROM tenant_billing b WHERE b.tenant_id = $1`, tenantID,
	).Scan(
		&s.TenantID, &s.Plan, &s.TrialCreditsTotal, &s.TrialCreditsUsed,
		&s.SubscriptionValidUntil, &s.CreatedAt, &s.UpdatedAt, &s.HasByok,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.TenantBillingState{}, ErrNotFound
		}
		return model.TenantBillingState{}, fmt.Errorf("storage: get billing state: %w", err)
	}
	return s, nil
}

// RenewSubscription extends a tenant's subscription window. Driven by
// external billing webhooks.
func (db *DB) RenewSubscription(ctx context.Context, tenantID uuid.UUID, plan model.Plan, validUntil time.Time) error {
	tag, err := db.pool.Exec(ctx,
		`UPDATE tenant_billing SET plan = $1, subscription_valid_until = $2, updated_at = $3
		 WHERE tenant_id = $4`,
		plan, validUntil, time.Now().UTC(), tenantID,
	)
	if err != nil {
		return fmt.Errorf("storage: renew subscription: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ConsumeTrialCredit spends one trial credit and appends the matching ledger
// entry as a single transaction. The increment is a conditional UPDATE
// guarded by trial_credits_used < trial_credits_total: under N concurrent
// calls with k credits remaining, exactly k succeed and the rest get
// ErrCreditsExhausted. A plain read-then-write would over-spend.
func (db *DB) ConsumeTrialCredit(ctx context.Context, entry model.UsageLedgerEntry) (model.UsageLedgerEntry, error) {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return model.UsageLedgerEntry{}, fmt.Errorf("storage: begin consume tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx,
		`UPDATE tenant_billing
		 SET trial_credits_used = trial_credits_used + 1, updated_at = now()
		 WHERE tenant_id = $1 AND trial_credits_used < trial_credits_total`,
		entry.TenantID,
	)
	if err != nil {
		return model.UsageLedgerEntry{}, fmt.Errorf("storage: consume trial credit: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.UsageLedgerEntry{}, ErrCreditsExhausted
	}

	entry, err = insertLedgerEntry(ctx, tx, entry)
	if err != nil {
		return model.UsageLedgerEntry{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return model.UsageLedgerEntry{}, fmt.Errorf("storage: commit consume tx: %w", err)
	}
	return entry, nil
}
