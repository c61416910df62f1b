package assist

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/praetor-ai/praetor/internal/gate"
	"github.com/praetor-ai/praetor/internal/model"
	"github.com/praetor-ai/praetor/internal/storage"
	"github.com/praetor-ai/praetor/internal/workflow"
)

type fakeBillingStore struct {
	state      model.TenantBillingState
	stateErr   error
	consumeErr error
	consumed   int
	inserted   int
}

func (f *fakeBillingStore) GetBillingState(context.Context, uuid.UUID) (model.TenantBillingState, error) {
	return f.state, f.stateErr
}

func (f *fakeBillingStore) ConsumeTrialCredit(_ context.Context, entry model.UsageLedgerEntry) (model.UsageLedgerEntry, error) {
	if f.consumeErr != nil {
		return model.UsageLedgerEntry{}, f.consumeErr
	}
	f.consumed++
	entry.ID = uuid.New()
	entry.CreatedAt = time.Now()
	return entry, nil
}

func (f *fakeBillingStore) InsertLedgerEntry(_ context.Context, entry model.UsageLedgerEntry) (model.UsageLedgerEntry, error) {
	f.inserted++
	entry.ID = uuid.New()
	entry.CreatedAt = time.Now()
	return entry, nil
}

type fakeCreds struct {
	cred model.ResolvedCredential
	err  error
}

func (f *fakeCreds) Get(context.Context, uuid.UUID) (model.ResolvedCredential, error) {
	return f.cred, f.err
}

type fakeRetriever struct {
	sources []model.RetrievedSource
	err     error
}

func (f *fakeRetriever) Retrieve(context.Context, uuid.UUID, string, int) ([]model.RetrievedSource, error) {
	return f.sources, f.err
}

type fakeGenerator struct {
	result  workflow.GenerateResult
	err     error
	lastReq workflow.GenerateRequest
	calls   int
}

func (f *fakeGenerator) Generate(_ context.Context, req workflow.GenerateRequest) (workflow.GenerateResult, error) {
	f.calls++
	f.lastReq = req
	return f.result, f.err
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func activeTrialState(tenantID uuid.UUID) model.TenantBillingState {
	return model.TenantBillingState{
		TenantID:          tenantID,
		Plan:              model.PlanFree,
		TrialCreditsTotal: 10,
		TrialCreditsUsed:  2,
	}
}

func TestRunTrialCall(t *testing.T) {
	tenantID := uuid.New()
	store := &fakeBillingStore{state: activeTrialState(tenantID)}
	gen := &fakeGenerator{result: workflow.GenerateResult{Text: "the drafted clause"}}
	retr := &fakeRetriever{sources: []model.RetrievedSource{{ID: "doc-1", Scope: model.ScopePublic}}}

	svc := New(gate.New(store, &fakeCreds{err: errors.New("none")}, discardLogger()), retr, gen, 8, discardLogger())

	result, err := svc.Run(context.Background(), tenantID, uuid.New(), model.FeatureContractDraft, "draft an NDA")
	require.NoError(t, err)

	assert.False(t, result.Denied)
	assert.Equal(t, "the drafted clause", result.Answer)
	assert.Len(t, result.Sources, 1)
	require.NotNil(t, result.Ledger)
	assert.True(t, result.Ledger.UsedTrial)
	assert.Equal(t, 1, store.consumed)
	assert.Equal(t, 0, store.inserted)
	// Trial calls carry no credential downstream.
	assert.Nil(t, gen.lastReq.Credential)
}

func TestRunByokCall(t *testing.T) {
	tenantID := uuid.New()
	state := activeTrialState(tenantID)
	state.HasByok = true
	store := &fakeBillingStore{state: state}
	creds := &fakeCreds{cred: model.ResolvedCredential{
		Provider: model.ProviderAnthropic, Model: "claude-sonnet-4-5", Secret: "sk-ant",
	}}
	gen := &fakeGenerator{result: workflow.GenerateResult{Text: "research memo"}}

	svc := New(gate.New(store, creds, discardLogger()), &fakeRetriever{}, gen, 8, discardLogger())

	result, err := svc.Run(context.Background(), tenantID, uuid.New(), model.FeatureLegalResearch, "find precedents")
	require.NoError(t, err)

	assert.False(t, result.Denied)
	require.NotNil(t, result.Ledger)
	assert.False(t, result.Ledger.UsedTrial)
	assert.Equal(t, 0, result.Ledger.CreditsUsed)
	assert.Equal(t, 0, store.consumed)
	assert.Equal(t, 1, store.inserted)
	require.NotNil(t, gen.lastReq.Credential)
	assert.Equal(t, "sk-ant", gen.lastReq.Credential.Secret)
}

func TestRunDenied(t *testing.T) {
	tenantID := uuid.New()
	store := &fakeBillingStore{stateErr: storage.ErrNotFound}
	gen := &fakeGenerator{}

	svc := New(gate.New(store, &fakeCreds{}, discardLogger()), &fakeRetriever{}, gen, 8, discardLogger())

	result, err := svc.Run(context.Background(), tenantID, uuid.New(), model.FeatureCaseSummary, "summarize")
	require.NoError(t, err)

	assert.True(t, result.Denied)
	assert.Equal(t, gate.DenyNoTenant, result.Reason)
	// Denied calls never reach retrieval or generation.
	assert.Equal(t, 0, gen.calls)
}

func TestRunEmptyPrompt(t *testing.T) {
	svc := New(gate.New(&fakeBillingStore{}, &fakeCreds{}, discardLogger()), &fakeRetriever{}, &fakeGenerator{}, 8, discardLogger())

	_, err := svc.Run(context.Background(), uuid.New(), uuid.New(), model.FeatureCaseSummary, "")
	require.Error(t, err)
}

func TestRunGenerationFailureSpendsNoCredit(t *testing.T) {
	tenantID := uuid.New()
	store := &fakeBillingStore{state: activeTrialState(tenantID)}
	gen := &fakeGenerator{err: errors.New("workflow timeout")}

	svc := New(gate.New(store, &fakeCreds{err: errors.New("none")}, discardLogger()), &fakeRetriever{}, gen, 8, discardLogger())

	_, err := svc.Run(context.Background(), tenantID, uuid.New(), model.FeatureDocumentReview, "review this")
	require.Error(t, err)
	assert.Equal(t, 0, store.consumed)
	assert.Equal(t, 0, store.inserted)
}

func TestRunConsumeRaceDenies(t *testing.T) {
	tenantID := uuid.New()
	store := &fakeBillingStore{
		state:      activeTrialState(tenantID),
		consumeErr: storage.ErrCreditsExhausted,
	}
	gen := &fakeGenerator{result: workflow.GenerateResult{Text: "answer"}}

	svc := New(gate.New(store, &fakeCreds{err: errors.New("none")}, discardLogger()), &fakeRetriever{}, gen, 8, discardLogger())

	result, err := svc.Run(context.Background(), tenantID, uuid.New(), model.FeatureCaseSummary, "summarize")
	require.NoError(t, err)

	// The answer existed but the last credit was lost to a concurrent call.
	assert.True(t, result.Denied)
	assert.Equal(t, gate.DenyCreditsExhausted, result.Reason)
	assert.Empty(t, result.Answer)
}

func TestRunLedgerFailureStillAnswers(t *testing.T) {
	tenantID := uuid.New()
	store := &fakeBillingStore{
		state:      activeTrialState(tenantID),
		consumeErr: errors.New("connection reset"),
	}
	gen := &fakeGenerator{result: workflow.GenerateResult{Text: "answer"}}

	svc := New(gate.New(store, &fakeCreds{err: errors.New("none")}, discardLogger()), &fakeRetriever{}, gen, 8, discardLogger())

	result, err := svc.Run(context.Background(), tenantID, uuid.New(), model.FeatureCaseSummary, "summarize")
	require.NoError(t, err)

	assert.False(t, result.Denied)
	assert.Equal(t, "answer", result.Answer)
	assert.Nil(t, result.Ledger)
}

func TestRunRetrievalErrorFails(t *testing.T) {
	tenantID := uuid.New()
	store := &fakeBillingStore{state: activeTrialState(tenantID)}
	gen := &fakeGenerator{}

	svc := New(gate.New(store, &fakeCreds{err: errors.New("none")}, discardLogger()),
		&fakeRetriever{err: errors.New("engine broken")}, gen, 8, discardLogger())

	_, err := svc.Run(context.Background(), tenantID, uuid.New(), model.FeatureCaseSummary, "summarize")
	require.Error(t, err)
	assert.Equal(t, 0, gen.calls)
	assert.Equal(t, 0, store.consumed)
}
