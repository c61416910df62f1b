// Package search provides similarity search over the two corpus partitions:
// the shared public legal corpus (Qdrant) and the strictly tenant-scoped
// private corpus (Postgres/pgvector).
package search

import (
	"context"

	"github.com/google/uuid"

	"github.com/praetor-ai/praetor/internal/model"
)

// Hit is one chunk with its raw cosine similarity in [0,1].
type Hit struct {
	Chunk      model.CorpusChunk
	Similarity float32
}

// Corpus is one searchable partition. Implementations must be safe for
// concurrent use; the retrieval engine queries both partitions in parallel.
type Corpus interface {
	// Search returns up to limit chunks ordered descending by similarity.
	// The public partition ignores tenantID; the private partition requires
	// it and returns only chunks owned by that tenant.
	Search(ctx context.Context, tenantID uuid.UUID, embedding []float32, limit int) ([]Hit, error)

	// Scope identifies which partition this corpus serves.
	Scope() model.Scope
}
