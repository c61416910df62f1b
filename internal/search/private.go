package search

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"

	"github.com/praetor-ai/praetor/internal/model"
)

// ChunkStore is the persistence surface for the private partition.
// *storage.DB satisfies it.
type ChunkStore interface {
	SearchPrivateChunks(ctx context.Context, tenantID uuid.UUID, embedding pgvector.Vector, limit int) ([]model.CorpusChunk, []float32, error)
}

// PrivateCorpus is the tenant-scoped partition backed by Postgres/pgvector.
// Isolation lives in the SQL: every query carries the tenant predicate, so a
// chunk owned by tenant A can never surface for tenant B.
type PrivateCorpus struct {
	store ChunkStore
}

// NewPrivateCorpus wraps the storage layer's pgvector search.
func NewPrivateCorpus(store ChunkStore) *PrivateCorpus {
	return &PrivateCorpus{store: store}
}

// Scope identifies this corpus as the private partition.
func (p *PrivateCorpus) Scope() model.Scope { return model.ScopePrivate }

// Search returns the tenant's own chunks ordered by cosine similarity.
// tenantID is mandatory: this is a hard isolation boundary, not an
// optimization, and a zero tenant ID is refused before any query runs.
func (p *PrivateCorpus) Search(ctx context.Context, tenantID uuid.UUID, embedding []float32, limit int) ([]Hit, error) {
	if tenantID == uuid.Nil {
		return nil, fmt.Errorf("search: private corpus requires tenant ID")
	}

	chunks, scores, err := p.store.SearchPrivateChunks(ctx, tenantID, pgvector.NewVector(embedding), limit)
	if err != nil {
		return nil, err
	}

	hits := make([]Hit, len(chunks))
	for i := range chunks {
		hits[i] = Hit{Chunk: chunks[i], Similarity: clampScore(scores[i])}
	}
	return hits, nil
}
