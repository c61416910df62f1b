package model

import (
	"time"

	"github.com/google/uuid"
)

// Provider enumerates supported external model providers for BYOK. Closed
// set: adding a provider means adding a variant and a capabilities row,
// not another string branch.
type Provider string

const (
	ProviderOpenAI     Provider = "openai"
	ProviderAnthropic  Provider = "anthropic"
	ProviderMistral    Provider = "mistral"
	ProviderSelfHosted Provider = "self_hosted"
)

// ProviderCapabilities describes what a provider supports, for validation
// and for the settings UI.
type ProviderCapabilities struct {
	Name            string
	Models          []string // Empty for self-hosted: any model identifier is accepted.
	DocsURL         string
	RequiresBaseURL bool
}

// providerTable is the capability table for all supported providers.
var providerTable = map[Provider]ProviderCapabilities{
	ProviderOpenAI: {
		Name:    "OpenAI",
		Models:  []string{"gpt-4o", "gpt-4o-mini", "gpt-4.1"},
		DocsURL: "https://platform.openai.com/docs/api-reference",
	},
	ProviderAnthropic: {
		Name:    "Anthropic",
		Models:  []string{"claude-sonnet-4-5", "claude-haiku-4-5"},
		DocsURL: "https://docs.anthropic.com",
	},
	ProviderMistral: {
		Name:    "Mistral",
		Models:  []string{"mistral-large-latest", "mistral-small-latest"},
		DocsURL: "https://docs.mistral.ai",
	},
	ProviderSelfHosted: {
		Name:            "Self-hosted",
		DocsURL:         "https://docs.praetor.legal/byok/self-hosted",
		RequiresBaseURL: true,
	},
}

// Capabilities returns the capability row for a provider.
// ok is false for unknown providers.
func (p Provider) Capabilities() (ProviderCapabilities, bool) {
	c, ok := providerTable[p]
	return c, ok
}

// SupportsModel reports whether the provider accepts the given model
// identifier. Self-hosted providers accept any non-empty identifier.
func (p Provider) SupportsModel(model string) bool {
	c, ok := providerTable[p]
	if !ok || model == "" {
		return false
	}
	if len(c.Models) == 0 {
		return true
	}
	for _, m := range c.Models {
		if m == model {
			return true
		}
	}
	return false
}

// CredentialRecord is the stored form of a tenant's BYOK credential.
// At most one active record per tenant; the secret is ciphertext at rest.
type CredentialRecord struct {
	TenantID        uuid.UUID `json:"tenant_id"`
	Provider        Provider  `json:"provider"`
	Model           string    `json:"model"`
	EncryptedSecret []byte    `json:"-"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// ResolvedCredential is a decrypted credential held in memory for the
// duration of one AI call. The secret must never be logged or written
// back to any client-facing response.
type ResolvedCredential struct {
	Provider Provider
	Model    string
	Secret   string
}
