// Package gate is the admission control for every AI-backed feature.
//
// Evaluate decides whether a call may proceed and which credential to use;
// Consume records the spend afterwards. The two are deliberately separate so
// a failed downstream call never burns a trial credit.
package gate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/praetor-ai/praetor/internal/model"
	"github.com/praetor-ai/praetor/internal/storage"
)

// DenialReason codes why an AI call was refused. Denials are expected,
// frequent outcomes, so they are decision values rather than errors.
type DenialReason string

const (
	DenyNoTenant            DenialReason = "NO_TENANT"
	DenySubscriptionExpired DenialReason = "SUBSCRIPTION_EXPIRED"
	DenyByokMisconfigured   DenialReason = "BYOK_MISCONFIGURED"
	DenyCreditsExhausted    DenialReason = "CREDITS_EXHAUSTED"
)

// Decision is the outcome of Evaluate. When Allowed and UsingByok, Credential
// holds the decrypted tenant credential for this call only.
type Decision struct {
	Allowed    bool
	Reason     DenialReason
	UsingByok  bool
	Credential *model.ResolvedCredential
}

// denied builds a denial decision.
func denied(reason DenialReason) Decision {
	return Decision{Allowed: false, Reason: reason}
}

// Store is the billing persistence surface the gate needs.
// *storage.DB satisfies it; tests use an in-memory fake.
type Store interface {
	GetBillingState(ctx context.Context, tenantID uuid.UUID) (model.TenantBillingState, error)
	// ConsumeTrialCredit must be atomic: conditional increment guarded by
	// trial_credits_used < trial_credits_total plus the ledger insert, as one
	// unit. Returns storage.ErrCreditsExhausted when no credit remains.
	ConsumeTrialCredit(ctx context.Context, entry model.UsageLedgerEntry) (model.UsageLedgerEntry, error)
	InsertLedgerEntry(ctx context.Context, entry model.UsageLedgerEntry) (model.UsageLedgerEntry, error)
}

// CredentialSource resolves a tenant's decrypted BYOK credential.
// *vault.Vault satisfies it.
type CredentialSource interface {
	Get(ctx context.Context, tenantID uuid.UUID) (model.ResolvedCredential, error)
}

// Gate evaluates and meters AI usage per tenant.
type Gate struct {
	store  Store
	creds  CredentialSource
	logger *slog.Logger
	now    func() time.Time
}

// New creates a Gate.
func New(store Store, creds CredentialSource, logger *slog.Logger) *Gate {
	return &Gate{store: store, creds: creds, logger: logger, now: time.Now}
}

// Evaluate decides whether an AI call for this tenant may proceed. It is a
// pure read: no state is mutated, and calling it repeatedly without an
// intervening Consume never changes the trial balance.
//
// Checks short-circuit in order: missing billing record, expired paid
// subscription, BYOK credential, trial credits.
func (g *Gate) Evaluate(ctx context.Context, tenantID, userID uuid.UUID) (Decision, error) {
	if tenantID == uuid.Nil {
		return Decision{}, fmt.Errorf("gate: tenant not resolved")
	}

	state, err := g.store.GetBillingState(ctx, tenantID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return denied(DenyNoTenant), nil
		}
		return Decision{}, fmt.Errorf("gate: load billing state: %w", err)
	}

	if state.SubscriptionExpired(g.now()) {
		return denied(DenySubscriptionExpired), nil
	}

	if state.HasByok {
		cred, err := g.creds.Get(ctx, tenantID)
		if err != nil {
			// Lookup or decrypt failure: the user must reconfigure the key.
			// A BYOK tenant never falls back to trial credits.
			g.logger.Warn("gate: byok credential unavailable",
				"tenant_id", tenantID, "user_id", userID)
			return denied(DenyByokMisconfigured), nil
		}
		return Decision{Allowed: true, UsingByok: true, Credential: &cred}, nil
	}

	if state.Remaining() <= 0 {
		return denied(DenyCreditsExhausted), nil
	}
	return Decision{Allowed: true, UsingByok: false}, nil
}

// ErrCreditsExhausted is returned by Consume when the conditional increment
// lost the race: another call spent the last credit between Evaluate and now.
var ErrCreditsExhausted = errors.New("gate: trial credits exhausted")

// ledger write retry policy. The ledger is the accounting of record: on a
// transient failure the write is retried with backoff, and a terminal
// failure is logged at error severity for offline reconciliation.
const (
	ledgerRetries   = 3
	ledgerBaseDelay = 100 * time.Millisecond
)

// Consume records one AI call after the downstream work succeeded.
//
// BYOK calls append a zero-credit ledger entry and touch no balance. Trial
// calls go through the storage layer's atomic compare-and-increment, so
// concurrent consumers can never push trial_credits_used past the total.
// Consume is not cancellable mid-write: it runs to completion or fails
// cleanly without partial state.
func (g *Gate) Consume(ctx context.Context, tenantID, userID uuid.UUID, feature model.Feature, usingByok bool) (model.UsageLedgerEntry, error) {
	if !model.ValidFeature(feature) {
		return model.UsageLedgerEntry{}, fmt.Errorf("gate: unknown feature %q", feature)
	}

	entry := model.UsageLedgerEntry{
		TenantID:    tenantID,
		UserID:      userID,
		Feature:     feature,
		CreditsUsed: 1,
		UsedTrial:   true,
	}
	if usingByok {
		entry.CreditsUsed = 0
		entry.UsedTrial = false
	}

	var out model.UsageLedgerEntry
	err := storage.WithRetry(ctx, ledgerRetries, ledgerBaseDelay, func() error {
		var err error
		if usingByok {
			out, err = g.store.InsertLedgerEntry(ctx, entry)
		} else {
			out, err = g.store.ConsumeTrialCredit(ctx, entry)
		}
		return err
	})
	if err != nil {
		if errors.Is(err, storage.ErrCreditsExhausted) {
			return model.UsageLedgerEntry{}, ErrCreditsExhausted
		}
		g.logger.Error("gate: ledger write failed, usage unrecorded",
			"tenant_id", tenantID, "user_id", userID, "feature", feature,
			"using_byok", usingByok, "error", err)
		return model.UsageLedgerEntry{}, fmt.Errorf("gate: record usage: %w", err)
	}
	return out, nil
}
