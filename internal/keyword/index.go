// Package keyword provides chunk-level keyword (BM25) indexing and search.
package keyword

import (
	"context"

	"github.com/hyperjump/kotae/internal/models"
)

// SearchOptions optional parameters for keyword search. Nil means use defaults.
type SearchOptions struct {
	// DocumentID restricts hits to chunks of one document. Empty searches everything.
	DocumentID string
	// PhraseBoost multiplies the contribution of chunks where the query terms appear
	// close together. Values <= 1 disable the phrase clause.
	PhraseBoost float64
	// SectionBoost weights matches in the section heading relative to the body.
	// Zero disables the section clause.
	SectionBoost float64
}

// Index defines keyword search operations over chunks.
type Index interface {
	// Add replaces every chunk previously indexed for docID with chunks.
	Add(ctx context.Context, docID string, chunks []models.Chunk) error
	Search(ctx context.Context, query string, limit int, opts *SearchOptions) ([]Hit, error)
	// Remove deletes all chunks of docID.
	Remove(ctx context.Context, docID string) error
	Count(ctx context.Context, docID string) (int, error)
	// DocCount returns the total number of chunks in the index.
	DocCount() (uint64, error)
	// CorpusStats returns the chunk count and, per term, the number of chunks containing it.
	CorpusStats(ctx context.Context, terms []string) (total int, docFreqs map[string]int, err error)
	Reset(ctx context.Context) error
	Close() error
}

// Hit is a single keyword search hit. Score is the raw relevance score and is
// only comparable within one result set.
type Hit struct {
	Chunk models.Chunk
	Score float64
}

// Normalize rescales hit scores into [0,1] by dividing by the best score.
func Normalize(hits []Hit) []Hit {
	if len(hits) == 0 {
		return hits
	}
	best := 0.0
	for _, h := range hits {
		if h.Score > best {
			best = h.Score
		}
	}
	out := make([]Hit, len(hits))
	for i, h := range hits {
		out[i] = h
		if best > 0 {
			out[i].Score = h.Score / best
		} else {
			out[i].Score = 0
		}
	}
	return out
}
