// Package rerank reorders retrieval candidates by joint query-passage relevance.
package rerank

import "context"

// Scorer assigns each passage a relevance score for query, in [0,1].
// Implementations see the query and passage together, unlike retrieval.
type Scorer interface {
	Score(ctx context.Context, query string, passages []string) ([]float64, error)
	// Name identifies the backend in health reports.
	Name() string
	Close() error
}

// StatsSource supplies corpus statistics for term weighting. keyword.BleveIndex
// satisfies it.
type StatsSource interface {
	CorpusStats(ctx context.Context, terms []string) (total int, docFreqs map[string]int, err error)
}
