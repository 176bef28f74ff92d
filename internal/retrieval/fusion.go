package retrieval

import (
	"github.com/hyperjump/kotae/internal/keyword"
	"github.com/hyperjump/kotae/internal/models"
	"github.com/hyperjump/kotae/internal/vector"
	"github.com/hyperjump/kotae/pkg/utils"
)

// Fuse merges semantic and keyword hits per chunk. Each candidate's Score is
// semanticWeight·similarity + keywordWeight·normalized keyword score, divided by
// the weight sum so it stays in [0,1]. Keyword scores are normalized by the best
// keyword hit; similarities are clamped to [0,1].
func Fuse(semantic []vector.Hit, lexical []keyword.Hit, semanticWeight, keywordWeight float64) []models.Candidate {
	if semanticWeight < 0 {
		semanticWeight = 0
	}
	if keywordWeight < 0 {
		keywordWeight = 0
	}
	total := semanticWeight + keywordWeight
	if total == 0 {
		semanticWeight, keywordWeight, total = 1, 0, 1
	}

	byID := make(map[string]*models.Candidate, len(semantic)+len(lexical))
	order := make([]string, 0, len(semantic)+len(lexical))
	get := func(c models.Chunk) *models.Candidate {
		if cand, ok := byID[c.ID]; ok {
			return cand
		}
		cand := &models.Candidate{Chunk: c}
		byID[c.ID] = cand
		order = append(order, c.ID)
		return cand
	}
	for _, h := range semantic {
		get(h.Chunk).Similarity = utils.Clamp01(h.Score)
	}
	for _, h := range keyword.Normalize(lexical) {
		get(h.Chunk).Keyword = h.Score
	}

	out := make([]models.Candidate, 0, len(order))
	for _, id := range order {
		c := byID[id]
		c.Score = (semanticWeight*c.Similarity + keywordWeight*c.Keyword) / total
		out = append(out, *c)
	}
	models.SortCandidates(out)
	return out
}

// FromSemantic converts vector hits into candidates scored by similarity alone.
func FromSemantic(hits []vector.Hit) []models.Candidate {
	out := make([]models.Candidate, len(hits))
	for i, h := range hits {
		sim := utils.Clamp01(h.Score)
		out[i] = models.Candidate{Chunk: h.Chunk, Similarity: sim, Score: sim}
	}
	models.SortCandidates(out)
	return out
}

// FromKeyword converts keyword hits into candidates scored by normalized keyword
// score alone. Similarity carries the same value so downstream scoring that
// reads it still sees a retrieval signal.
func FromKeyword(hits []keyword.Hit) []models.Candidate {
	norm := keyword.Normalize(hits)
	out := make([]models.Candidate, len(norm))
	for i, h := range norm {
		out[i] = models.Candidate{Chunk: h.Chunk, Similarity: h.Score, Keyword: h.Score, Score: h.Score}
	}
	models.SortCandidates(out)
	return out
}
