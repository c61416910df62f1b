// Package retrieval merges similarity search over the public and private
// corpus partitions into one ranked source list for the generation step.
//
// Retrieval degrades rather than fails: an unreachable embedding service or
// a failing partition yields fewer (possibly zero) sources, never an error.
// The product choice is that generation without citations beats no answer.
package retrieval

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/praetor-ai/praetor/internal/model"
	"github.com/praetor-ai/praetor/internal/search"
	"github.com/praetor-ai/praetor/internal/workflow"
)

// Engine is the hybrid retrieval engine. Stateless across requests: nothing
// here is shared mutable state, so concurrent retrievals from different
// tenants cannot interfere by construction.
type Engine struct {
	public   search.Corpus
	private  search.Corpus
	embedder workflow.Embedder
	logger   *slog.Logger
	timeout  time.Duration
}

// New creates an Engine. timeout bounds one whole retrieval including the
// embedding call; zero means a 10s default.
func New(public, private search.Corpus, embedder workflow.Embedder, timeout time.Duration, logger *slog.Logger) *Engine {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Engine{
		public:   public,
		private:  private,
		embedder: embedder,
		logger:   logger,
		timeout:  timeout,
	}
}

// Retrieve returns up to limit normalized sources for the query, ranked by
// similarity with a public-before-private tie-break (public sources are
// citable case law and preferred as authoritative when scores tie).
//
// Both partitions are searched concurrently, each asked for the full limit:
// the partitions differ in result quality, so over-fetching then truncating
// after the merge beats splitting the budget up front.
func (e *Engine) Retrieve(ctx context.Context, tenantID uuid.UUID, query string, limit int) ([]model.RetrievedSource, error) {
	if limit <= 0 {
		limit = 8
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	embedding, err := e.embedder.Embed(ctx, query)
	if err != nil {
		// No embedding, no search. Degrade to source-free generation.
		e.logger.Warn("retrieval: embed query failed, returning no sources",
			"tenant_id", tenantID, "error", err)
		return []model.RetrievedSource{}, nil
	}

	var (
		wg          sync.WaitGroup
		pubHits     []search.Hit
		privHits    []search.Hit
		pubErr      error
		privErr     error
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		pubHits, pubErr = e.public.Search(ctx, tenantID, embedding, limit)
	}()
	go func() {
		defer wg.Done()
		privHits, privErr = e.private.Search(ctx, tenantID, embedding, limit)
	}()
	wg.Wait()

	// A failing partition contributes zero results; the other still counts.
	if pubErr != nil {
		e.logger.Warn("retrieval: public corpus search failed", "tenant_id", tenantID, "error", pubErr)
		pubHits = nil
	}
	if privErr != nil {
		e.logger.Warn("retrieval: private corpus search failed", "tenant_id", tenantID, "error", privErr)
		privHits = nil
	}

	merged := mergeHits(pubHits, privHits, limit)

	sources := make([]model.RetrievedSource, len(merged))
	for i, sh := range merged {
		sources[i] = Normalize(sh.hit.Chunk, sh.hit.Similarity, sh.scope)
	}
	return sources, nil
}

type scopedHit struct {
	hit   search.Hit
	scope model.Scope
}

// mergeHits combines the two partitions' results: tag with scope, drop
// duplicate chunks (same scope and doc, keep the better score), stable sort
// by similarity descending with public winning ties, truncate to limit.
func mergeHits(pub, priv []search.Hit, limit int) []scopedHit {
	merged := make([]scopedHit, 0, len(pub)+len(priv))
	for _, h := range pub {
		merged = append(merged, scopedHit{hit: h, scope: model.ScopePublic})
	}
	for _, h := range priv {
		merged = append(merged, scopedHit{hit: h, scope: model.ScopePrivate})
	}

	sort.SliceStable(merged, func(i, j int) bool {
		if merged[i].hit.Similarity != merged[j].hit.Similarity {
			return merged[i].hit.Similarity > merged[j].hit.Similarity
		}
		return merged[i].scope == model.ScopePublic && merged[j].scope == model.ScopePrivate
	})

	seen := make(map[string]bool, len(merged))
	out := merged[:0]
	for _, sh := range merged {
		key := string(sh.scope) + "/" + sh.hit.Chunk.DocID
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, sh)
		if len(out) == limit {
			break
		}
	}
	return out
}
