package model

import (
	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
)

// Scope identifies which corpus partition a retrieved source came from.
type Scope string

const (
	// ScopePublic is the shared legal corpus: case law and legislation,
	// readable by every tenant.
	ScopePublic Scope = "public"
	// ScopePrivate is the tenant's own document corpus. A private chunk is
	// never visible outside its owning tenant.
	ScopePrivate Scope = "private"
)

// CorpusChunk is one embedded text chunk from either partition. Chunks are
// written by the offline ingestion pipeline and are read-only here.
// TenantID is nil for public chunks and mandatory for private ones.
type CorpusChunk struct {
	DocID     string           `json:"doc_id"`
	TenantID  *uuid.UUID       `json:"tenant_id,omitempty"`
	Title     *string          `json:"title,omitempty"`
	Court     *string          `json:"court,omitempty"`
	URL       *string          `json:"url,omitempty"`
	Text      string           `json:"text"`
	Embedding *pgvector.Vector `json:"-"`
}

// RetrievedSource is the uniform output contract handed to the generation
// step. Ephemeral: built per query, never persisted.
type RetrievedSource struct {
	ID         string  `json:"id"`
	Title      *string `json:"title,omitempty"`
	Court      *string `json:"court,omitempty"`
	URL        *string `json:"url,omitempty"`
	Similarity float32 `json:"similarity"`
	Scope      Scope   `json:"scope"`
	Snippet    string  `json:"snippet"`
}
