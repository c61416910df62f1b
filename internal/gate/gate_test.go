package gate

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/praetor-ai/praetor/internal/model"
	"github.com/praetor-ai/praetor/internal/storage"
)

// fakeStore is an in-memory billing store with the same atomicity contract
// as the Postgres implementation.
type fakeStore struct {
	mu      sync.Mutex
	states  map[uuid.UUID]model.TenantBillingState
	entries []model.UsageLedgerEntry

	getErr     error
	consumeErr error
	insertErr  error
}

func newFakeStore() *fakeStore {
	return &fakeStore{states: map[uuid.UUID]model.TenantBillingState{}}
}

func (f *fakeStore) GetBillingState(_ context.Context, tenantID uuid.UUID) (model.TenantBillingState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return model.TenantBillingState{}, f.getErr
	}
	s, ok := f.states[tenantID]
	if !ok {
		return model.TenantBillingState{}, storage.ErrNotFound
	}
	return s, nil
}

func (f *fakeStore) ConsumeTrialCredit(_ context.Context, entry model.UsageLedgerEntry) (model.UsageLedgerEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.consumeErr != nil {
		return model.UsageLedgerEntry{}, f.consumeErr
	}
	s, ok := f.states[entry.TenantID]
	if !ok {
		return model.UsageLedgerEntry{}, storage.ErrNotFound
	}
	if s.TrialCreditsUsed >= s.TrialCreditsTotal {
		return model.UsageLedgerEntry{}, storage.ErrCreditsExhausted
	}
	s.TrialCreditsUsed++
	f.states[entry.TenantID] = s

	entry.ID = uuid.New()
	entry.CreatedAt = time.Now()
	f.entries = append(f.entries, entry)
	return entry, nil
}

func (f *fakeStore) InsertLedgerEntry(_ context.Context, entry model.UsageLedgerEntry) (model.UsageLedgerEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.insertErr != nil {
		return model.UsageLedgerEntry{}, f.insertErr
	}
	entry.ID = uuid.New()
	entry.CreatedAt = time.Now()
	f.entries = append(f.entries, entry)
	return entry, nil
}

type fakeCreds struct {
	cred model.ResolvedCredential
	err  error
}

func (f *fakeCreds) Get(context.Context, uuid.UUID) (model.ResolvedCredential, error) {
	return f.cred, f.err
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestEvaluate(t *testing.T) {
	tenantID := uuid.New()
	userID := uuid.New()
	past := time.Now().Add(-24 * time.Hour)
	future := time.Now().Add(24 * time.Hour)

	tests := []struct {
		name       string
		state      *model.TenantBillingState
		credErr    error
		wantAllow  bool
		wantReason DenialReason
		wantByok   bool
	}{
		{
			name:       "no billing record",
			state:      nil,
			wantAllow:  false,
			wantReason: DenyNoTenant,
		},
		{
			name: "expired team subscription",
			state: &model.TenantBillingState{
				Plan:                   model.PlanTeam,
				TrialCreditsTotal:      10,
				SubscriptionValidUntil: &past,
			},
			wantAllow:  false,
			wantReason: DenySubscriptionExpired,
		},
		{
			name: "free plan ignores expiry date",
			state: &model.TenantBillingState{
				Plan:                   model.PlanFree,
				TrialCreditsTotal:      10,
				SubscriptionValidUntil: &past,
			},
			wantAllow: true,
		},
		{
			name: "byok credential resolves",
			state: &model.TenantBillingState{
				Plan:              model.PlanFree,
				TrialCreditsTotal: 10,
				TrialCreditsUsed:  10,
				HasByok:           true,
			},
			wantAllow: true,
			wantByok:  true,
		},
		{
			name: "byok credential unusable",
			state: &model.TenantBillingState{
				Plan:              model.PlanFree,
				TrialCreditsTotal: 10,
				HasByok:           true,
			},
			credErr:    errors.New("decrypt failed"),
			wantAllow:  false,
			wantReason: DenyByokMisconfigured,
		},
		{
			name: "byok tenant never falls back to trial credits",
			state: &model.TenantBillingState{
				Plan:              model.PlanFree,
				TrialCreditsTotal: 10,
				TrialCreditsUsed:  0,
				HasByok:           true,
			},
			credErr:    errors.New("decrypt failed"),
			wantAllow:  false,
			wantReason: DenyByokMisconfigured,
		},
		{
			name: "trial credits exhausted",
			state: &model.TenantBillingState{
				Plan:              model.PlanFree,
				TrialCreditsTotal: 10,
				TrialCreditsUsed:  10,
			},
			wantAllow:  false,
			wantReason: DenyCreditsExhausted,
		},
		{
			name: "trial credits remaining",
			state: &model.TenantBillingState{
				Plan:              model.PlanFree,
				TrialCreditsTotal: 10,
				TrialCreditsUsed:  9,
			},
			wantAllow: true,
		},
		{
			name: "active team subscription with credits",
			state: &model.TenantBillingState{
				Plan:                   model.PlanTeam,
				TrialCreditsTotal:      10,
				TrialCreditsUsed:       3,
				SubscriptionValidUntil: &future,
			},
			wantAllow: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newFakeStore()
			if tt.state != nil {
				s := *tt.state
				s.TenantID = tenantID
				store.states[tenantID] = s
			}
			creds := &fakeCreds{
				cred: model.ResolvedCredential{Provider: model.ProviderOpenAI, Model: "gpt-4o", Secret: "sk-test"},
				err:  tt.credErr,
			}
			g := New(store, creds, discardLogger())

			decision, err := g.Evaluate(context.Background(), tenantID, userID)
			require.NoError(t, err)

			assert.Equal(t, tt.wantAllow, decision.Allowed)
			assert.Equal(t, tt.wantReason, decision.Reason)
			assert.Equal(t, tt.wantByok, decision.UsingByok)
			if tt.wantByok {
				require.NotNil(t, decision.Credential)
				assert.Equal(t, model.ProviderOpenAI, decision.Credential.Provider)
			} else {
				assert.Nil(t, decision.Credential)
			}
		})
	}
}

func TestEvaluateUnresolvedTenant(t *testing.T) {
	g := New(newFakeStore(), &fakeCreds{}, discardLogger())

	_, err := g.Evaluate(context.Background(), uuid.Nil, uuid.New())
	require.Error(t, err)
}

func TestEvaluateIsPure(t *testing.T) {
	tenantID := uuid.New()
	store := newFakeStore()
	store.states[tenantID] = model.TenantBillingState{
		TenantID:          tenantID,
		Plan:              model.PlanFree,
		TrialCreditsTotal: 5,
		TrialCreditsUsed:  2,
	}
	g := New(store, &fakeCreds{err: errors.New("no credential")}, discardLogger())

	for range 10 {
		decision, err := g.Evaluate(context.Background(), tenantID, uuid.New())
		require.NoError(t, err)
		assert.True(t, decision.Allowed)
	}
	assert.Equal(t, 2, store.states[tenantID].TrialCreditsUsed)
	assert.Empty(t, store.entries)
}

func TestEvaluateByokUpsertFlipsExhaustedTenant(t *testing.T) {
	tenantID := uuid.New()
	store := newFakeStore()
	store.states[tenantID] = model.TenantBillingState{
		TenantID:          tenantID,
		Plan:              model.PlanFree,
		TrialCreditsTotal: 3,
		TrialCreditsUsed:  3,
	}
	creds := &fakeCreds{err: errors.New("no credential")}
	g := New(store, creds, discardLogger())

	decision, err := g.Evaluate(context.Background(), tenantID, uuid.New())
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
	assert.Equal(t, DenyCreditsExhausted, decision.Reason)

	// The tenant saves an API key in settings.
	s := store.states[tenantID]
	s.HasByok = true
	store.states[tenantID] = s
	creds.cred = model.ResolvedCredential{Provider: model.ProviderAnthropic, Model: "claude-sonnet-4-5", Secret: "sk-ant"}
	creds.err = nil

	decision, err = g.Evaluate(context.Background(), tenantID, uuid.New())
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
	assert.True(t, decision.UsingByok)
}

func TestConsumeTrial(t *testing.T) {
	tenantID := uuid.New()
	userID := uuid.New()
	store := newFakeStore()
	store.states[tenantID] = model.TenantBillingState{
		TenantID:          tenantID,
		Plan:              model.PlanFree,
		TrialCreditsTotal: 5,
		TrialCreditsUsed:  0,
	}
	g := New(store, &fakeCreds{}, discardLogger())

	entry, err := g.Consume(context.Background(), tenantID, userID, model.FeatureCaseSummary, false)
	require.NoError(t, err)

	assert.Equal(t, 1, entry.CreditsUsed)
	assert.True(t, entry.UsedTrial)
	assert.Equal(t, model.FeatureCaseSummary, entry.Feature)
	assert.NotEqual(t, uuid.Nil, entry.ID)
	assert.Equal(t, 1, store.states[tenantID].TrialCreditsUsed)
}

func TestConsumeByok(t *testing.T) {
	tenantID := uuid.New()
	store := newFakeStore()
	store.states[tenantID] = model.TenantBillingState{
		TenantID:          tenantID,
		Plan:              model.PlanFree,
		TrialCreditsTotal: 5,
		TrialCreditsUsed:  5,
		HasByok:           true,
	}
	g := New(store, &fakeCreds{}, discardLogger())

	entry, err := g.Consume(context.Background(), tenantID, uuid.New(), model.FeatureContractDraft, true)
	require.NoError(t, err)

	assert.Equal(t, 0, entry.CreditsUsed)
	assert.False(t, entry.UsedTrial)
	// BYOK usage never touches the trial balance.
	assert.Equal(t, 5, store.states[tenantID].TrialCreditsUsed)
	assert.Len(t, store.entries, 1)
}

func TestConsumeUnknownFeature(t *testing.T) {
	g := New(newFakeStore(), &fakeCreds{}, discardLogger())

	_, err := g.Consume(context.Background(), uuid.New(), uuid.New(), model.Feature("billing_export"), false)
	require.Error(t, err)
}

func TestConsumeExhausted(t *testing.T) {
	tenantID := uuid.New()
	store := newFakeStore()
	store.states[tenantID] = model.TenantBillingState{
		TenantID:          tenantID,
		Plan:              model.PlanFree,
		TrialCreditsTotal: 3,
		TrialCreditsUsed:  3,
	}
	g := New(store, &fakeCreds{}, discardLogger())

	_, err := g.Consume(context.Background(), tenantID, uuid.New(), model.FeatureLegalResearch, false)
	require.ErrorIs(t, err, ErrCreditsExhausted)
	assert.Empty(t, store.entries)
}

// Concurrent consumers racing for the last credits: with k remaining,
// exactly k succeed no matter how many race.
func TestConsumeConcurrent(t *testing.T) {
	const (
		total     = 10
		used      = 7
		remaining = total - used
		callers   = 20
	)

	tenantID := uuid.New()
	store := newFakeStore()
	store.states[tenantID] = model.TenantBillingState{
		TenantID:          tenantID,
		Plan:              model.PlanFree,
		TrialCreditsTotal: total,
		TrialCreditsUsed:  used,
	}
	g := New(store, &fakeCreds{}, discardLogger())

	var wg sync.WaitGroup
	results := make([]error, callers)
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, results[i] = g.Consume(context.Background(), tenantID, uuid.New(), model.FeatureDocumentReview, false)
		}()
	}
	wg.Wait()

	succeeded := 0
	for _, err := range results {
		if err == nil {
			succeeded++
		} else {
			assert.ErrorIs(t, err, ErrCreditsExhausted)
		}
	}
	assert.Equal(t, remaining, succeeded)
	assert.Equal(t, total, store.states[tenantID].TrialCreditsUsed)
	assert.Len(t, store.entries, remaining)
}

func TestConsumeTerminalFailure(t *testing.T) {
	tenantID := uuid.New()
	store := newFakeStore()
	store.states[tenantID] = model.TenantBillingState{
		TenantID:          tenantID,
		Plan:              model.PlanFree,
		TrialCreditsTotal: 5,
	}
	store.consumeErr = errors.New("connection refused")
	g := New(store, &fakeCreds{}, discardLogger())

	_, err := g.Consume(context.Background(), tenantID, uuid.New(), model.FeatureCaseSummary, false)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrCreditsExhausted)
}
