package search

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
	"golang.org/x/sync/singleflight"

	"github.com/praetor-ai/praetor/internal/model"
)

// QdrantConfig holds configuration for connecting to Qdrant.
type QdrantConfig struct {
	URL        string // e.g. "https://xyz.cloud.qdrant.io:6333" or "http://localhost:6333"
	APIKey     string
	Collection string
	Dims       uint64
}

// PublicCorpus is the shared legal corpus (case law and legislation) backed
// by Qdrant. Read-only for the retrieval path; chunks are written by the
// offline ingestion pipeline.
type PublicCorpus struct {
	client     *qdrant.Client
	collection string
	dims       uint64
	logger     *slog.Logger

	healthGroup singleflight.Group
	healthErr   atomic.Value // stores *error (pointer-to-error, never nil pointer; inner error may be nil)
	healthAt    atomic.Int64 // unix nanos of last check
}

// parseQdrantURL extracts host, port, and TLS flag from a Qdrant URL.
// Accepts forms like "https://host:6333", "http://host:6333", or "host:6334".
func parseQdrantURL(rawURL string) (host string, port int, useTLS bool, err error) {
	u, parseErr := url.Parse(rawURL)
	if parseErr != nil || u.Host == "" {
		return "", 0, false, fmt.Errorf("search: invalid qdrant URL: %q", rawURL)
	}

	useTLS = u.Scheme == "https"
	host = u.Hostname()

	if portStr := u.Port(); portStr != "" {
		p, err := strconv.Atoi(portStr)
		if err != nil {
			return "", 0, false, fmt.Errorf("search: invalid port in qdrant URL: %q", portStr)
		}
		// If the user specified the REST port (6333), use the gRPC port (6334).
		if p == 6333 {
			port = 6334
		} else {
			port = p
		}
	} else {
		port = 6334
	}

	return host, port, useTLS, nil
}

// NewPublicCorpus connects to the Qdrant server over gRPC.
func NewPublicCorpus(cfg QdrantConfig, logger *slog.Logger) (*PublicCorpus, error) {
	host, port, useTLS, err := parseQdrantURL(cfg.URL)
	if err != nil {
		return nil, err
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   host,
		Port:   port,
		APIKey: cfg.APIKey,
		UseTLS: useTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("search: connect to qdrant at %s:%d: %w", host, port, err)
	}

	return &PublicCorpus{
		client:     client,
		collection: cfg.Collection,
		dims:       cfg.Dims,
		logger:     logger,
	}, nil
}

// Scope identifies this corpus as the shared public partition.
func (p *PublicCorpus) Scope() model.Scope { return model.ScopePublic }

// EnsureCollection creates the collection if it doesn't already exist.
// Cosine distance so Qdrant scores are directly usable as similarities.
func (p *PublicCorpus) EnsureCollection(ctx context.Context) error {
	exists, err := p.client.CollectionExists(ctx, p.collection)
	if err != nil {
		return fmt.Errorf("search: check collection exists: %w", err)
	}
	if exists {
		p.logger.Info("qdrant: collection already exists", "collection", p.collection)
		return nil
	}

	if err := p.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: p.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     p.dims,
			Distance: qdrant.Distance_Cosine,
		}),
	}); err != nil {
		return fmt.Errorf("search: create collection %q: %w", p.collection, err)
	}
	p.logger.Info("qdrant: created collection", "collection", p.collection, "dims", p.dims)
	return nil
}

// Search queries the public partition. tenantID is deliberately unused:
// every tenant reads the same shared corpus.
func (p *PublicCorpus) Search(ctx context.Context, _ uuid.UUID, embedding []float32, limit int) ([]Hit, error) {
	if limit <= 0 {
		limit = 10
	}

	fetchLimit := uint64(limit) //nolint:gosec // limit is bounded by caller
	scored, err := p.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: p.collection,
		Query:          qdrant.NewQueryDense(embedding),
		Limit:          &fetchLimit,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("search: qdrant query: %w", err)
	}

	hits := make([]Hit, 0, len(scored))
	for _, sp := range scored {
		payload := sp.Payload
		chunk := model.CorpusChunk{
			DocID: sp.Id.GetUuid(),
		}
		if v, ok := payload["doc_id"]; ok && v.GetStringValue() != "" {
			chunk.DocID = v.GetStringValue()
		}
		if chunk.DocID == "" {
			p.logger.Warn("qdrant: point without usable ID, skipping")
			continue
		}
		if v, ok := payload["title"]; ok && v.GetStringValue() != "" {
			s := v.GetStringValue()
			chunk.Title = &s
		}
		if v, ok := payload["court"]; ok && v.GetStringValue() != "" {
			s := v.GetStringValue()
			chunk.Court = &s
		}
		if v, ok := payload["url"]; ok && v.GetStringValue() != "" {
			s := v.GetStringValue()
			chunk.URL = &s
		}
		if v, ok := payload["text"]; ok {
			chunk.Text = v.GetStringValue()
		}

		hits = append(hits, Hit{Chunk: chunk, Similarity: clampScore(sp.Score)})
	}
	return hits, nil
}

// clampScore bounds a raw Qdrant score to [0,1]. Cosine scores already land
// there for normalized embeddings, but the contract promises the range.
func clampScore(s float32) float32 {
	if s < 0 {
		return 0
	}
	if s > 1 {
		return 1
	}
	return s
}

// Healthy returns nil if Qdrant is reachable. Results are cached for 5
// seconds so health probes don't hammer the endpoint; concurrent checks
// after expiry are deduplicated via singleflight.
func (p *PublicCorpus) Healthy(ctx context.Context) error {
	if time.Since(time.Unix(0, p.healthAt.Load())) < 5*time.Second {
		return p.loadHealthErr()
	}

	// Use context.Background() instead of the caller's ctx: singleflight
	// reuses the first caller's context, and if that caller cancels, all
	// waiters would get a stale error.
	result, _, _ := p.healthGroup.Do("health", func() (any, error) {
		checkCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()

		_, err := p.client.HealthCheck(checkCtx)
		if err != nil {
			p.storeHealthErr(fmt.Errorf("search: qdrant unhealthy: %w", err))
		} else {
			p.storeHealthErr(nil)
		}
		p.healthAt.Store(time.Now().UnixNano())
		return p.loadHealthErr(), nil
	})
	if result == nil {
		return nil
	}
	return result.(error)
}

// storeHealthErr stores an error (or nil) in the atomic.Value.
// atomic.Value cannot store nil directly, so it is wrapped in a pointer.
func (p *PublicCorpus) storeHealthErr(err error) {
	p.healthErr.Store(&err)
}

// loadHealthErr loads the cached health error.
func (p *PublicCorpus) loadHealthErr() error {
	v := p.healthErr.Load()
	if v == nil {
		return nil
	}
	return *v.(*error)
}

// Close shuts down the Qdrant gRPC connection.
func (p *PublicCorpus) Close() error {
	return p.client.Close()
}
