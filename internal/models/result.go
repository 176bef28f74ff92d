package models

import (
	"sort"

	"github.com/hyperjump/kotae/internal/errs"
)

// Candidate is a chunk returned by retrieval, with the scores accumulated so far.
// Score is the value the current ordering is based on.
type Candidate struct {
	Chunk      Chunk   `json:"chunk"`
	Similarity float64 `json:"similarity"`
	Keyword    float64 `json:"keyword_score,omitempty"`
	CrossScore float64 `json:"cross_score,omitempty"`
	Score      float64 `json:"score"`
}

// SortCandidates orders by descending score, ties broken by ascending chunk
// sequence and then document id.
func SortCandidates(c []Candidate) {
	sort.SliceStable(c, func(i, j int) bool {
		if c[i].Score != c[j].Score {
			return c[i].Score > c[j].Score
		}
		if c[i].Chunk.Seq != c[j].Chunk.Seq {
			return c[i].Chunk.Seq < c[j].Chunk.Seq
		}
		return c[i].Chunk.DocumentID < c[j].Chunk.DocumentID
	})
}

// Evidence is a passage used to support an answer.
type Evidence struct {
	ChunkID  string  `json:"chunk_id"`
	Seq      int     `json:"seq"`
	Location string  `json:"location,omitempty"`
	Text     string  `json:"text"`
	Score    float64 `json:"score"`
}

// Rationale is the structured justification accompanying an answer.
type Rationale struct {
	SupportingClauses   []string `json:"supporting_clauses"`
	Confidence          float64  `json:"confidence"`
	KeyFactors          []string `json:"key_factors,omitempty"`
	Decision            string   `json:"decision,omitempty"`
	Reasoning           string   `json:"reasoning,omitempty"`
	ConflictingEvidence []string `json:"conflicting_evidence,omitempty"`
	Limitations         []string `json:"limitations,omitempty"`
}

// Answer is the result for a single question. Error is set only when the
// question itself failed; sibling questions are unaffected.
type Answer struct {
	Question         string      `json:"question"`
	Answer           string      `json:"answer"`
	Decision         string      `json:"decision,omitempty"`
	Evidence         []Evidence  `json:"supporting_evidence"`
	Confidence       float64     `json:"confidence"`
	Rationale        *Rationale  `json:"rationale,omitempty"`
	Strategy         string      `json:"strategy,omitempty"`
	Degraded         []string    `json:"degraded,omitempty"` // stages that fell back
	ProcessingTimeMS int64       `json:"processing_time_ms"`
	Error            *errs.Body  `json:"error,omitempty"`
}
