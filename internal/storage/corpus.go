package storage

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"

	"github.com/praetor-ai/praetor/internal/model"
)

// InsertPrivateChunk writes one embedded chunk into the tenant's private
// corpus partition. Called by the ingestion pipeline after document upload.
// The conflict target is the (tenant_id, doc_id) key, so re-ingesting a
// document replaces the tenant's own row and can never touch another
// tenant's chunk with the same doc_id.
func (db *DB) InsertPrivateChunk(ctx context.Context, chunk model.CorpusChunk) error {
	if chunk.TenantID == nil {
		return fmt.Errorf("storage: private chunk requires tenant_id")
	}
	_, err := db.pool.Exec(ctx,
		`INSERT INTO corpus_chunks (tenant_id, doc_id, title, text, embedding)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (tenant_id, doc_id) DO UPDATE SET
		   title = EXCLUDED.title,
		   text = EXCLUDED.text,
		   embedding = EXCLUDED.embedding`,
		chunk.TenantID, chunk.DocID, chunk.Title, chunk.Text, chunk.Embedding,
	)
	if err != nil {
		return fmt.Errorf("storage: insert private chunk: %w", err)
	}
	return nil
}

// SearchPrivateChunks performs cosine similarity search over the tenant's
// private corpus partition. The tenant_id predicate is part of the SQL, not
// client-side filtering: a chunk owned by another tenant can never appear in
// the result set.
func (db *DB) SearchPrivateChunks(ctx context.Context, tenantID uuid.UUID, embedding pgvector.Vector, limit int) ([]model.CorpusChunk, []float32, error) {
	if limit <= 0 {
		limit = 10
	}
	if limit > 100 {
		limit = 100
	}

	rows, err := db.pool.Query(ctx,
		`SELECT doc_id, tenant_id, title, text,
		 GREATEST(0, LEAST(1, 1 - (embedding <=> $1))) AS similarity
		 FROM corpus_chunks
		 WHERE tenant_id = $2 AND embedding IS NOT NULL
		 ORDER BY embedding <=> $1
		 LIMIT $3`,
		embedding, tenantID, limit,
	)
	if err != nil {
		return nil, nil, fmt.Errorf("storage: search private chunks: %w", err)
	}
	defer rows.Close()

	var chunks []model.CorpusChunk
	var scores []float32
	for rows.Next() {
		var c model.CorpusChunk
		var sim float32
		if err := rows.Scan(&c.DocID, &c.TenantID, &c.Title, &c.Text, &sim); err != nil {
			return nil, nil, fmt.Errorf("storage: scan private chunk: %w", err)
		}
		chunks = append(chunks, c)
		scores = append(scores, sim)
	}
	return chunks, scores, rows.Err()
}

// DeletePrivateChunksByDoc removes a document's chunk within a tenant.
// Used when a firm deletes an uploaded document.
func (db *DB) DeletePrivateChunksByDoc(ctx context.Context, tenantID uuid.UUID, docID string) error {
	_, err := db.pool.Exec(ctx,
		`DELETE FROM corpus_chunks WHERE tenant_id = $1 AND doc_id = $2`,
		tenantID, docID,
	)
	if err != nil {
		return fmt.Errorf("storage: delete private chunks: %w", err)
	}
	return nil
}
