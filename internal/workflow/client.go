// Package workflow is the HTTP client for the externally hosted workflow
// engine that performs embedding and text generation. Praetor treats both as
// opaque capabilities: it sends text plus retrieval context and relays the
// result, computing nothing itself.
package workflow

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/praetor-ai/praetor/internal/model"
)

// Embedder generates a query embedding from text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Generator runs the generation workflow with grounding sources and an
// optional BYOK credential.
type Generator interface {
	Generate(ctx context.Context, req GenerateRequest) (GenerateResult, error)
}

// GenerateRequest is the payload forwarded to the generation workflow.
// Credential is non-nil only for BYOK calls; its secret travels in the
// request body over TLS and is never logged.
type GenerateRequest struct {
	Feature    model.Feature
	Prompt     string
	Sources    []model.RetrievedSource
	Credential *model.ResolvedCredential
}

// GenerateResult is the workflow engine's answer.
type GenerateResult struct {
	Text     string `json:"text"`
	Workflow string `json:"workflow_id,omitempty"`
}

// Config holds the workflow engine endpoints and auth.
type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// Client calls the workflow engine over HTTP. Safe for concurrent use.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates a workflow engine client.
func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		baseURL:    cfg.BaseURL,
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type embedRequest struct {
	Text string `json:"text"`
}

type embedResponse struct {
	Embedding []float32 `json:"embedding"`
}

// Embed generates an embedding vector for query text.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	var out embedResponse
	if err := c.post(ctx, "/v1/embed", embedRequest{Text: text}, &out); err != nil {
		return nil, err
	}
	if len(out.Embedding) == 0 {
		return nil, fmt.Errorf("workflow: empty embedding returned")
	}
	return out.Embedding, nil
}

type generateRequest struct {
	Feature    model.Feature            `json:"feature"`
	Prompt     string                   `json:"prompt"`
	Sources    []model.RetrievedSource  `json:"sources"`
	Credential *generateCredentialBlock `json:"credential,omitempty"`
}

type generateCredentialBlock struct {
	Provider model.Provider `json:"provider"`
	Model    string         `json:"model"`
	Secret   string         `json:"secret"`
}

// Generate forwards the prompt, grounding sources, and (for BYOK calls) the
// resolved credential to the generation workflow.
func (c *Client) Generate(ctx context.Context, req GenerateRequest) (GenerateResult, error) {
	body := generateRequest{
		Feature: req.Feature,
		Prompt:  req.Prompt,
		Sources: req.Sources,
	}
	if req.Credential != nil {
		body.Credential = &generateCredentialBlock{
			Provider: req.Credential.Provider,
			Model:    req.Credential.Model,
			Secret:   req.Credential.Secret,
		}
	}

	var out GenerateResult
	if err := c.post(ctx, "/v1/generate", body, &out); err != nil {
		return GenerateResult{}, err
	}
	return out, nil
}

// post sends a JSON request and decodes a JSON response.
func (c *Client) post(ctx context.Context, path string, in, out any) error {
	reqBody, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("workflow: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(reqBody))
	if err != nil {
		return fmt.Errorf("workflow: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("workflow: send request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		// Cap the error body: workflow engines can return large HTML error pages.
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("workflow: %s status %d: %s", path, resp.StatusCode, string(body))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("workflow: decode response: %w", err)
	}
	return nil
}
