// Package vector stores chunk embeddings per document and answers nearest-neighbor
// queries over them.
package vector

import (
	"context"
	"errors"
	"sort"

	"github.com/hyperjump/kotae/internal/models"
)

// ErrModelMismatch is returned by Load when persisted vectors were built with a
// different embedding model or dimensionality.
var ErrModelMismatch = errors.New("index was built with a different embedding model")

// Entry pairs a chunk with its vector.
type Entry struct {
	Chunk  models.Chunk
	Vector []float32
}

// Hit is one search result. Score is the inner product of unit vectors.
type Hit struct {
	Chunk models.Chunk
	Score float64
}

// SearchOption narrows a search.
type SearchOption func(*searchOptions)

type searchOptions struct {
	documentID string
}

// InDocument restricts a search to the chunks of one document.
func InDocument(id string) SearchOption {
	return func(o *searchOptions) { o.documentID = id }
}

func applySearchOptions(opts []SearchOption) searchOptions {
	var o searchOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Index is a per-document vector store.
//
// Add replaces every entry of a document, so re-adding is idempotent. Search
// returns at most k hits ordered by descending score, then ascending chunk
// sequence, then document id; a search concurrent with Add or Remove sees the
// document either entirely before or entirely after the mutation.
type Index interface {
	Add(ctx context.Context, documentID string, entries []Entry) error
	Remove(ctx context.Context, documentID string) error
	Search(ctx context.Context, query []float32, k int, opts ...SearchOption) ([]Hit, error)
	// Count returns the number of entries held for a document.
	Count(documentID string) int
	// Size returns the total number of entries.
	Size() int
	Dimensions() int
	Model() string
	Type() string
	// Reset drops every entry, e.g. after ErrModelMismatch.
	Reset(ctx context.Context) error
	Persist() error
	Load() error
	Close() error
}

// sortHits orders hits deterministically.
func sortHits(hits []Hit) {
	sort.SliceStable(hits, func(i, j int) bool {
		a, b := hits[i], hits[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.Chunk.Seq != b.Chunk.Seq {
			return a.Chunk.Seq < b.Chunk.Seq
		}
		return a.Chunk.DocumentID < b.Chunk.DocumentID
	})
}

func dot(a, b []float32) float64 {
	var s float64
	for i := range a {
		s += float64(a[i]) * float64(b[i])
	}
	return s
}

// ExactSearch scores every entry against query and returns the top k with the
// same ordering the indexes use. It is the reference for recall measurements.
func ExactSearch(query []float32, entries []Entry, k int) []Hit {
	if k <= 0 {
		return nil
	}
	hits := make([]Hit, 0, len(entries))
	for _, e := range entries {
		if len(e.Vector) != len(query) {
			continue
		}
		hits = append(hits, Hit{Chunk: e.Chunk, Score: dot(query, e.Vector)})
	}
	sortHits(hits)
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits
}

// Recall returns the fraction of exact hits that also appear in approx, matched
// by chunk id. An empty exact set has recall 1.
func Recall(approx, exact []Hit) float64 {
	if len(exact) == 0 {
		return 1
	}
	seen := make(map[string]bool, len(approx))
	for _, h := range approx {
		seen[h.Chunk.ID] = true
	}
	found := 0
	for _, h := range exact {
		if seen[h.Chunk.ID] {
			found++
		}
	}
	return float64(found) / float64(len(exact))
}
