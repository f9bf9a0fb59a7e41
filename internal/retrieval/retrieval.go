// Package retrieval answers "which course chunks are relevant to this
// query" by embedding the query and searching the vector store.
package retrieval

import (
	"context"
	"fmt"

	"github.com/studiumlabs/studium/config"
	"github.com/studiumlabs/studium/internal/store"
)

// Embedder is the query-embedding dependency. Satisfied by provider.Provider.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// RankedChunk is one retrieval hit, ordered by descending score.
type RankedChunk struct {
	DocumentID    string  `json:"document_id"`
	SequenceIndex int     `json:"sequence_index"`
	Text          string  `json:"text"`
	CourseID      string  `json:"course_id"`
	Score         float64 `json:"score"`
}

// Retriever embeds queries and searches stored chunks. An empty result
// means the corpus has no relevant material; embedding failures are
// returned as errors so callers can tell the two apart.
type Retriever struct {
	Store    *store.Store
	Embedder Embedder
	Config   config.RetrievalConfig
}

// New builds a Retriever.
func New(st *store.Store, emb Embedder, cfg config.RetrievalConfig) *Retriever {
	return &Retriever{Store: st, Embedder: emb, Config: cfg.Normalize()}
}

// Retrieve returns up to k chunks relevant to query, scoped to courseID
// when non-empty. k <= 0 uses the configured default. Chunks scoring
// below the threshold are excluded rather than padding out k results.
func (r *Retriever) Retrieve(ctx context.Context, query, courseID string, k int) ([]RankedChunk, error) {
	vectors, err := r.Embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(vectors) != 1 {
		return nil, fmt.Errorf("embed query: got %d vectors, want 1", len(vectors))
	}
	if k <= 0 {
		k = r.Config.TopK
	}
	results, err := r.Store.SearchChunks(ctx, courseID, vectors[0], k, r.Config.ScoreThreshold)
	if err != nil {
		return nil, fmt.Errorf("search chunks: %w", err)
	}
	ranked := make([]RankedChunk, len(results))
	for i, res := range results {
		ranked[i] = RankedChunk{
			DocumentID:    res.DocumentID,
			SequenceIndex: res.SequenceIndex,
			Text:          res.Text,
			CourseID:      res.CourseID,
			Score:         res.Score,
		}
	}
	return ranked, nil
}
