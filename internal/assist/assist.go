// Package assist orchestrates one AI-backed feature call: gate check,
// hybrid retrieval, generation via the external workflow engine, then usage
// recording. Every AI feature in the product goes through Run.
package assist

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/praetor-ai/praetor/internal/gate"
	"github.com/praetor-ai/praetor/internal/model"
	"github.com/praetor-ai/praetor/internal/workflow"
)

// Retriever is the hybrid retrieval engine surface assist needs.
type Retriever interface {
	Retrieve(ctx context.Context, tenantID uuid.UUID, query string, limit int) ([]model.RetrievedSource, error)
}

// Result is the outcome of one assist call. Exactly one of Denied or the
// generated answer applies.
type Result struct {
	Denied  bool
	Reason  gate.DenialReason
	Answer  string
	Sources []model.RetrievedSource
	Ledger  *model.UsageLedgerEntry
}

// Service runs AI-backed feature calls end to end.
type Service struct {
	gate        *gate.Gate
	retriever   Retriever
	generator   workflow.Generator
	logger      *slog.Logger
	sourceLimit int
}

// New creates an assist Service. sourceLimit caps the grounding sources per
// call; zero means a default of 8.
func New(g *gate.Gate, r Retriever, gen workflow.Generator, sourceLimit int, logger *slog.Logger) *Service {
	if sourceLimit <= 0 {
		sourceLimit = 8
	}
	return &Service{gate: g, retriever: r, generator: gen, logger: logger, sourceLimit: sourceLimit}
}

// Run executes one AI feature call for an authenticated user.
//
// Order matters: the gate decides first, retrieval supplies context, the
// workflow engine generates, and only a successful generation is metered.
// The credential resolved at Evaluate time is used for the whole call; a
// credential upsert or delete racing this request takes effect on the next
// call (snapshot semantics).
func (s *Service) Run(ctx context.Context, tenantID, userID uuid.UUID, feature model.Feature, prompt string) (Result, error) {
	if prompt == "" {
		return Result{}, fmt.Errorf("assist: empty prompt")
	}

	decision, err := s.gate.Evaluate(ctx, tenantID, userID)
	if err != nil {
		return Result{}, err
	}
	if !decision.Allowed {
		return Result{Denied: true, Reason: decision.Reason}, nil
	}

	// Retrieval degrades internally; an empty source list is a valid outcome.
	sources, err := s.retriever.Retrieve(ctx, tenantID, prompt, s.sourceLimit)
	if err != nil {
		return Result{}, fmt.Errorf("assist: retrieve sources: %w", err)
	}

	gen, err := s.generator.Generate(ctx, workflow.GenerateRequest{
		Feature:    feature,
		Prompt:     prompt,
		Sources:    sources,
		Credential: decision.Credential,
	})
	if err != nil {
		// Downstream failed: no credit is spent, no ledger entry written.
		return Result{}, fmt.Errorf("assist: generate: %w", err)
	}

	entry, err := s.gate.Consume(ctx, tenantID, userID, feature, decision.UsingByok)
	if err != nil {
		if errors.Is(err, gate.ErrCreditsExhausted) {
			// A concurrent call spent the last credit after our Evaluate.
			// The answer was already produced; deny rather than deliver
			// unmetered output.
			return Result{Denied: true, Reason: gate.DenyCreditsExhausted}, nil
		}
		// The answer was delivered but the accounting write failed after
		// retries; gate.Consume already logged it for reconciliation.
		return Result{Answer: gen.Text, Sources: sources}, nil
	}

	return Result{Answer: gen.Text, Sources: sources, Ledger: &entry}, nil
}
