package model

import (
	"time"

	"github.com/google/uuid"
)

// Plan enumerates subscription tiers. FREE runs on trial credits with no
// expiry check; paid plans are gated on subscription_valid_until.
type Plan string

const (
	PlanFree       Plan = "free"
	PlanSolo       Plan = "solo"
	PlanTeam       Plan = "team"
	PlanEnterprise Plan = "enterprise"
)

// ValidPlan reports whether p is a known plan value.
func ValidPlan(p Plan) bool {
	switch p {
	case PlanFree, PlanSolo, PlanTeam, PlanEnterprise:
		return true
	}
	return false
}

// TenantBillingState is the per-firm billing record. One row per tenant,
// created at signup, never deleted.
type TenantBillingState struct {
	TenantID               uuid.UUID  `json:"tenant_id"`
	Plan                   Plan       `json:"plan"`
	TrialCreditsTotal      int        `json:"trial_credits_total"`
	TrialCreditsUsed       int        `json:"trial_credits_used"`
	SubscriptionValidUntil *time.Time `json:"subscription_valid_until,omitempty"`
	HasByok                bool       `json:"has_byok"`
	CreatedAt              time.Time  `json:"created_at"`
	UpdatedAt              time.Time  `json:"updated_at"`
}

// Remaining returns the unspent trial credit balance. Never negative:
// trial_credits_used <= trial_credits_total is enforced at the storage layer.
func (s TenantBillingState) Remaining() int {
	r := s.TrialCreditsTotal - s.TrialCreditsUsed
	if r < 0 {
		return 0
	}
	return r
}

// SubscriptionExpired reports whether a paid plan's subscription has lapsed
// as of now. FREE has no expiry.
func (s TenantBillingState) SubscriptionExpired(now time.Time) bool {
	if s.Plan == PlanFree {
		return false
	}
	return s.SubscriptionValidUntil != nil && s.SubscriptionValidUntil.Before(now)
}
