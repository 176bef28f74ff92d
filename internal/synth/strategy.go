package synth

import (
	"context"
	"strings"

	"github.com/hyperjump/kotae/internal/models"
)

// Strategy names recorded on answers.
const (
	StrategyGenerative = "generative"
	StrategyExtractive = "extractive"
)

// Strategy produces an answer from ranked passages. Passages are ordered best
// first and are never empty when Produce is called.
type Strategy interface {
	Name() string
	Produce(ctx context.Context, q models.StructuredQuery, passages []models.Candidate) (*models.Answer, error)
}

func evidenceFrom(passages []models.Candidate) []models.Evidence {
	out := make([]models.Evidence, 0, len(passages))
	for _, p := range passages {
		out = append(out, models.Evidence{
			ChunkID:  p.Chunk.ID,
			Seq:      p.Chunk.Seq,
			Location: p.Chunk.Label(),
			Text:     p.Chunk.Text,
			Score:    p.Score,
		})
	}
	return out
}

// usable drops passages without text.
func usable(passages []models.Candidate) []models.Candidate {
	out := make([]models.Candidate, 0, len(passages))
	for _, p := range passages {
		if strings.TrimSpace(p.Chunk.Text) != "" {
			out = append(out, p)
		}
	}
	return out
}

func texts(passages []models.Candidate) []string {
	out := make([]string, len(passages))
	for i, p := range passages {
		out[i] = p.Chunk.Text
	}
	return out
}
