package model

import (
	"time"

	"github.com/google/uuid"
)

// Feature tags which AI capability a ledger entry belongs to.
type Feature string

const (
	FeatureContractDraft  Feature = "contract_draft"
	FeatureCaseSummary    Feature = "case_summary"
	FeatureLegalResearch  Feature = "legal_research"
	FeatureDocumentReview Feature = "document_review"
)

// ValidFeature reports whether f is a known feature tag.
func ValidFeature(f Feature) bool {
	switch f {
	case FeatureContractDraft, FeatureCaseSummary, FeatureLegalResearch, FeatureDocumentReview:
		return true
	}
	return false
}

// UsageLedgerEntry records one AI call that passed the gate. Append-only:
// entries are never mutated or deleted. CreditsUsed is call-count, not
// token-count: 0 for BYOK calls, 1 for trial calls.
type UsageLedgerEntry struct {
	ID          uuid.UUID `json:"id"`
	TenantID    uuid.UUID `json:"tenant_id"`
	UserID      uuid.UUID `json:"user_id"`
	Feature     Feature   `json:"feature"`
	CreditsUsed int       `json:"credits_used"`
	UsedTrial   bool      `json:"used_trial"`
	CreatedAt   time.Time `json:"created_at"`
}
