package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/praetor-ai/praetor/internal/assist"
	"github.com/praetor-ai/praetor/internal/gate"
	"github.com/praetor-ai/praetor/internal/model"
	"github.com/praetor-ai/praetor/internal/search"
	"github.com/praetor-ai/praetor/internal/storage"
	"github.com/praetor-ai/praetor/internal/vault"
)

type handlers struct {
	db      Store
	assist  *assist.Service
	vault   *vault.Vault
	public  *search.PublicCorpus
	logger  *slog.Logger
	version string
}

// handleHealth reports database and public corpus reachability.
func (h *handlers) handleHealth(w http.ResponseWriter, r *http.Request) {
	type health struct {
		Status  string `json:"status"`
		Version string `json:"version"`
		DB      string `json:"db"`
		Qdrant  string `json:"qdrant,omitempty"`
	}
	out := health{Status: "ok", Version: h.version, DB: "ok"}

	if err := h.db.Ping(r.Context()); err != nil {
		out.Status = "degraded"
		out.DB = "unreachable"
	}
	if h.public != nil {
		out.Qdrant = "ok"
		if err := h.public.Healthy(r.Context()); err != nil {
			out.Status = "degraded"
			out.Qdrant = "unreachable"
		}
	}

	status := http.StatusOK
	if out.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, out)
}

type assistRequest struct {
	Feature model.Feature `json:"feature"`
	Prompt  string        `json:"prompt"`
}

type assistResponse struct {
	Answer  string                  `json:"answer"`
	Sources []model.RetrievedSource `json:"sources"`
}

// handleAssist runs one AI feature call end to end.
func (h *handlers) handleAssist(w http.ResponseWriter, r *http.Request) {
	claims := ClaimsFromContext(r.Context())

	var req assistRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input", "malformed JSON body")
		return
	}
	if !model.ValidFeature(req.Feature) {
		writeError(w, http.StatusBadRequest, "invalid_input", "unknown feature")
		return
	}
	if req.Prompt == "" {
		writeError(w, http.StatusBadRequest, "invalid_input", "prompt is required")
		return
	}

	result, err := h.assist.Run(r.Context(), claims.TenantID, claims.UserID, req.Feature, req.Prompt)
	if err != nil {
		h.logger.Error("assist failed",
			"tenant_id", claims.TenantID, "feature", req.Feature,
			"request_id", RequestIDFromContext(r.Context()), "error", err)
		writeError(w, http.StatusBadGateway, "assist_failed", "AI workflow failed, no credit was spent")
		return
	}
	if result.Denied {
		writeDenial(w, result.Reason)
		return
	}

	writeJSON(w, http.StatusOK, assistResponse{Answer: result.Answer, Sources: result.Sources})
}

// writeDenial maps gate denial reasons to HTTP statuses and user-facing codes.
func writeDenial(w http.ResponseWriter, reason gate.DenialReason) {
	switch reason {
	case gate.DenyNoTenant:
		writeError(w, http.StatusForbidden, "no_tenant", "no billing record for this firm")
	case gate.DenySubscriptionExpired:
		writeError(w, http.StatusPaymentRequired, "subscription_expired", "your subscription has expired")
	case gate.DenyByokMisconfigured:
		writeError(w, http.StatusUnprocessableEntity, "byok_misconfigured", "your API key could not be used; please re-enter it in settings")
	case gate.DenyCreditsExhausted:
		writeError(w, http.StatusPaymentRequired, "credits_exhausted", "trial credits exhausted; add your own API key or upgrade")
	default:
		writeError(w, http.StatusForbidden, "denied", "AI usage not permitted")
	}
}

type billingResponse struct {
	Plan              model.Plan `json:"plan"`
	TrialCreditsTotal int        `json:"trial_credits_total"`
	TrialCreditsUsed  int        `json:"trial_credits_used"`
	Remaining         int        `json:"remaining"`
	HasByok           bool       `json:"has_byok"`
}

// handleBillingStatus returns the tenant's plan and trial balance.
func (h *handlers) handleBillingStatus(w http.ResponseWriter, r *http.Request) {
	claims := ClaimsFromContext(r.Context())

	state, err := h.db.GetBillingState(r.Context(), claims.TenantID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "no_tenant", "no billing record for this firm")
			return
		}
		h.serverError(w, r.Context(), "get billing state", err)
		return
	}

	writeJSON(w, http.StatusOK, billingResponse{
		Plan:              state.Plan,
		TrialCreditsTotal: state.TrialCreditsTotal,
		TrialCreditsUsed:  state.TrialCreditsUsed,
		Remaining:         state.Remaining(),
		HasByok:           state.HasByok,
	})
}

// handleLedger returns the tenant's usage history, newest first.
func (h *handlers) handleLedger(w http.ResponseWriter, r *http.Request) {
	claims := ClaimsFromContext(r.Context())

	entries, err := h.db.ListLedgerEntries(r.Context(), claims.TenantID, 100, 0)
	if err != nil {
		h.serverError(w, r.Context(), "list ledger", err)
		return
	}
	if entries == nil {
		entries = []model.UsageLedgerEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

// credentialResponse never carries the secret, encrypted or otherwise.
type credentialResponse struct {
	Provider model.Provider `json:"provider"`
	Model    string         `json:"model"`
}

// handleGetCredential reports the configured provider/model, if any.
func (h *handlers) handleGetCredential(w http.ResponseWriter, r *http.Request) {
	claims := ClaimsFromContext(r.Context())

	rec, err := h.db.GetCredential(r.Context(), claims.TenantID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "no_credential", "no API key configured")
			return
		}
		h.serverError(w, r.Context(), "get credential", err)
		return
	}
	writeJSON(w, http.StatusOK, credentialResponse{Provider: rec.Provider, Model: rec.Model})
}

type upsertCredentialRequest struct {
	Provider model.Provider `json:"provider"`
	Model    string         `json:"model"`
	Secret   string         `json:"secret"`
}

// handleUpsertCredential saves or replaces the tenant's BYOK credential.
func (h *handlers) handleUpsertCredential(w http.ResponseWriter, r *http.Request) {
	claims := ClaimsFromContext(r.Context())

	var req upsertCredentialRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input", "malformed JSON body")
		return
	}

	if err := h.vault.Upsert(r.Context(), claims.TenantID, req.Provider, req.Model, req.Secret); err != nil {
		if errors.Is(err, vault.ErrCredentialUnavailable) {
			h.serverError(w, r.Context(), "upsert credential", err)
			return
		}
		// Validation failure: unsupported provider/model or empty secret.
		writeError(w, http.StatusBadRequest, "invalid_input", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, credentialResponse{Provider: req.Provider, Model: req.Model})
}

// handleDeleteCredential removes the tenant's BYOK credential.
func (h *handlers) handleDeleteCredential(w http.ResponseWriter, r *http.Request) {
	claims := ClaimsFromContext(r.Context())

	if err := h.vault.Delete(r.Context(), claims.TenantID); err != nil {
		h.serverError(w, r.Context(), "delete credential", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) serverError(w http.ResponseWriter, ctx context.Context, op string, err error) {
	h.logger.Error("internal error", "op", op, "request_id", RequestIDFromContext(ctx), "error", err)
	writeError(w, http.StatusInternalServerError, "internal", "internal server error")
}

// roleAdmin is the app tier's service role; only it may provision tenants.
const roleAdmin = "admin"

// requireAdmin rejects callers whose token lacks the admin role.
func requireAdmin(w http.ResponseWriter, r *http.Request) bool {
	claims := ClaimsFromContext(r.Context())
	if claims == nil || claims.Role != roleAdmin {
		writeError(w, http.StatusForbidden, "forbidden", "admin role required")
		return false
	}
	return true
}

type provisionTenantRequest struct {
	TenantID               uuid.UUID  `json:"tenant_id"`
	Plan                   model.Plan `json:"plan"`
	TrialCreditsTotal      int        `json:"trial_credits_total"`
	SubscriptionValidUntil *time.Time `json:"subscription_valid_until,omitempty"`
}

// handleProvisionTenant creates the billing record for a new firm.
// Called once by the app tier at signup.
func (h *handlers) handleProvisionTenant(w http.ResponseWriter, r *http.Request) {
	if !requireAdmin(w, r) {
		return
	}

	var req provisionTenantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input", "malformed JSON body")
		return
	}
	if req.TenantID == uuid.Nil {
		writeError(w, http.StatusBadRequest, "invalid_input", "tenant_id is required")
		return
	}
	if req.Plan == "" {
		req.Plan = model.PlanFree
	}
	if !model.ValidPlan(req.Plan) {
		writeError(w, http.StatusBadRequest, "invalid_input", "unknown plan")
		return
	}
	if req.TrialCreditsTotal < 0 {
		writeError(w, http.StatusBadRequest, "invalid_input", "trial_credits_total must not be negative")
		return
	}
	if req.TrialCreditsTotal == 0 {
		req.TrialCreditsTotal = defaultTrialCredits
	}

	state, err := h.db.CreateBillingState(r.Context(), model.TenantBillingState{
		TenantID:               req.TenantID,
		Plan:                   req.Plan,
		TrialCreditsTotal:      req.TrialCreditsTotal,
		SubscriptionValidUntil: req.SubscriptionValidUntil,
	})
	if err != nil {
		h.serverError(w, r.Context(), "provision tenant", err)
		return
	}

	writeJSON(w, http.StatusCreated, billingResponse{
		Plan:              state.Plan,
		TrialCreditsTotal: state.TrialCreditsTotal,
		TrialCreditsUsed:  state.TrialCreditsUsed,
		Remaining:         state.Remaining(),
	})
}

// defaultTrialCredits matches the schema default for new firms.
const defaultTrialCredits = 20

type renewSubscriptionRequest struct {
	Plan       model.Plan `json:"plan"`
	ValidUntil time.Time  `json:"valid_until"`
}

// handleRenewSubscription extends a tenant's subscription window. Driven by
// the app tier's payment webhooks.
func (h *handlers) handleRenewSubscription(w http.ResponseWriter, r *http.Request) {
	if !requireAdmin(w, r) {
		return
	}

	tenantID, err := uuid.Parse(r.PathValue("tenant_id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input", "invalid tenant ID")
		return
	}

	var req renewSubscriptionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input", "malformed JSON body")
		return
	}
	if !model.ValidPlan(req.Plan) {
		writeError(w, http.StatusBadRequest, "invalid_input", "unknown plan")
		return
	}
	if req.ValidUntil.IsZero() {
		writeError(w, http.StatusBadRequest, "invalid_input", "valid_until is required")
		return
	}

	if err := h.db.RenewSubscription(r.Context(), tenantID, req.Plan, req.ValidUntil); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "no_tenant", "no billing record for this firm")
			return
		}
		h.serverError(w, r.Context(), "renew subscription", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
