package synth

import (
	"context"
	"fmt"
	"math"

	"github.com/hyperjump/kotae/internal/errs"
	"github.com/hyperjump/kotae/internal/models"
	"github.com/hyperjump/kotae/pkg/utils"
)

const (
	extractivePrefix   = "Based on the most relevant section: "
	extractiveMaxConf  = 0.7
	extractiveMinConf  = 0.1
	maxKeyFactors      = 5
	keyFactorMaxLength = 160
)

// Extractive answers with the sentence of the highest-ranked passage that
// best overlaps the question. It is deterministic and calls no model.
type Extractive struct{}

// NewExtractive creates an Extractive strategy.
func NewExtractive() *Extractive {
	return &Extractive{}
}

func (e *Extractive) Name() string { return StrategyExtractive }

// Produce implements Strategy.
func (e *Extractive) Produce(ctx context.Context, q models.StructuredQuery, passages []models.Candidate) (*models.Answer, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	passages = usable(passages)
	if len(passages) == 0 {
		return nil, errs.E(errs.NoEvidence, "synth.extractive", "no passage has text")
	}
	best := passages[0]
	sentence := bestSentence(q, best.Chunk.Text)
	confidence := utils.Clamp01(math.Max(extractiveMinConf, math.Min(best.Score, extractiveMaxConf)))
	decision := Decide(q, sentence)

	reasoning := "Answer taken from the highest-ranked passage"
	if loc := best.Chunk.Label(); loc != "" {
		reasoning += " (" + loc + ")"
	}
	reasoning += fmt.Sprintf(" with relevance %.3f.", best.Score)

	return &models.Answer{
		Question:   q.Original,
		Answer:     extractivePrefix + sentence,
		Decision:   decision,
		Evidence:   evidenceFrom(passages),
		Confidence: confidence,
		Strategy:   StrategyExtractive,
		Rationale: &models.Rationale{
			SupportingClauses: []string{best.Chunk.Text},
			Confidence:        confidence,
			KeyFactors:        keyFactors(passages),
			Decision:          decision,
			Reasoning:         reasoning,
			Limitations:       []string{"Extractive answer: no language model was used."},
		},
	}, nil
}

// bestSentence returns the sentence with the most question terms, the earliest
// on ties. Without any overlap the first sentence is used.
func bestSentence(q models.StructuredQuery, text string) string {
	sentences := utils.SplitSentences(text)
	if len(sentences) == 0 {
		return text
	}
	terms := make(map[string]bool)
	for _, t := range utils.ContentTerms(q.Original) {
		terms[utils.Stem(t)] = true
	}
	best, bestHits := 0, 0
	for i, s := range sentences {
		seen := make(map[string]bool)
		hits := 0
		for _, t := range utils.Tokenize(s.Text) {
			st := utils.Stem(t)
			if terms[st] && !seen[st] {
				seen[st] = true
				hits++
			}
		}
		if hits > bestHits {
			best, bestHits = i, hits
		}
	}
	return sentences[best].Text
}

// keyFactors lists classified clauses of the passages, skipping general ones.
func keyFactors(passages []models.Candidate) []string {
	var out []string
	for _, c := range ExtractClauses(texts(passages)) {
		if c.Type == ClauseGeneral {
			continue
		}
		out = append(out, string(c.Type)+": "+utils.Truncate(c.Text, keyFactorMaxLength))
		if len(out) == maxKeyFactors {
			break
		}
	}
	return out
}
