package retrieval

import (
	"github.com/praetor-ai/praetor/internal/model"
)

// snippetMaxLen bounds the excerpt carried to the generation workflow so the
// outgoing payload stays small regardless of chunk size.
const snippetMaxLen = 400

// ellipsis marks a truncated snippet.
const ellipsis = "…"

// Normalize maps one chunk and its similarity into the uniform source
// contract. Pure function: citation metadata passes through (private chunks
// have none), the similarity is clamped to [0,1], and the snippet is bounded.
func Normalize(chunk model.CorpusChunk, similarity float32, scope model.Scope) model.RetrievedSource {
	if similarity < 0 {
		similarity = 0
	}
	if similarity > 1 {
		similarity = 1
	}

	return model.RetrievedSource{
		ID:         chunk.DocID,
		Title:      chunk.Title,
		Court:      chunk.Court,
		URL:        chunk.URL,
		Similarity: similarity,
		Scope:      scope,
		Snippet:    truncateSnippet(chunk.Text, snippetMaxLen),
	}
}

// truncateSnippet cuts text to max runes, appending the ellipsis marker when
// anything was dropped. Rune-safe so multi-byte legal citations don't get
// split mid-character.
func truncateSnippet(text string, max int) string {
	runes := []rune(text)
	if len(runes) <= max {
		return text
	}
	return string(runes[:max]) + ellipsis
}
