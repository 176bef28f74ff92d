package rerank

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hyperjump/kotae/internal/errs"
	"github.com/hyperjump/kotae/internal/models"
	"github.com/hyperjump/kotae/pkg/utils"
)

// Strategy names.
const (
	StrategyCrossEncoder   = "cross_encoder"
	StrategyRetrievalOrder = "retrieval_order"
)

// Strategy orders candidates and keeps at most k of them.
type Strategy interface {
	Name() string
	Rank(ctx context.Context, query string, candidates []models.Candidate, k int) ([]models.Candidate, error)
}

// Weights combine the retrieval score with the cross-encoder score.
type Weights struct {
	Similarity float64
	Cross      float64
}

// DefaultWeights favours the cross-encoder: 0.3·retrieval + 0.7·cross.
func DefaultWeights() Weights { return Weights{Similarity: 0.3, Cross: 0.7} }

// CrossEncoder rescores candidates with a Scorer. A candidate's new Score is
// Similarity·(retrieval score) + Cross·(cross score), clamped to [0,1].
type CrossEncoder struct {
	scorer  Scorer
	weights Weights
	timeout time.Duration
}

// NewCrossEncoder creates the strategy. A zero timeout disables the deadline.
func NewCrossEncoder(scorer Scorer, weights Weights, timeout time.Duration) *CrossEncoder {
	return &CrossEncoder{scorer: scorer, weights: weights, timeout: timeout}
}

func (c *CrossEncoder) Name() string { return StrategyCrossEncoder }

type scoreResult struct {
	scores []float64
	err    error
}

// Rank implements Strategy. Every backend failure, including a timeout, is a
// rerank_unavailable error; the input slice is never modified.
func (c *CrossEncoder) Rank(ctx context.Context, query string, candidates []models.Candidate, k int) ([]models.Candidate, error) {
	callCtx, cancel := ctx, context.CancelFunc(func() {})
	if c.timeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, c.timeout)
	}
	defer cancel()

	passages := make([]string, len(candidates))
	for i, cand := range candidates {
		passages[i] = cand.Chunk.Text
	}

	done := make(chan scoreResult, 1)
	go func() {
		scores, err := c.scorer.Score(callCtx, query, passages)
		done <- scoreResult{scores, err}
	}()

	var res scoreResult
	select {
	case res = <-done:
	case <-callCtx.Done():
		res.err = callCtx.Err()
	}

	if res.err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("rerank: %w", ctx.Err())
		}
		if errors.Is(res.err, context.DeadlineExceeded) {
			return nil, errs.E(errs.RerankUnavailable, "rerank", "reranker did not respond within %s", c.timeout)
		}
		return nil, errs.Wrap(errs.RerankUnavailable, "rerank", res.err, "reranker failed")
	}
	if len(res.scores) != len(candidates) {
		return nil, errs.E(errs.RerankUnavailable, "rerank", "reranker returned %d scores for %d passages", len(res.scores), len(candidates))
	}

	out := make([]models.Candidate, len(candidates))
	for i, cand := range candidates {
		cross := utils.Clamp01(res.scores[i])
		cand.CrossScore = cross
		cand.Score = utils.Clamp01(c.weights.Similarity*cand.Score + c.weights.Cross*cross)
		out[i] = cand
	}
	models.SortCandidates(out)
	return keep(out, k), nil
}

// RetrievalOrder keeps the retrieval ordering unchanged.
type RetrievalOrder struct{}

func (RetrievalOrder) Name() string { return StrategyRetrievalOrder }

// Rank implements Strategy.
func (RetrievalOrder) Rank(_ context.Context, _ string, candidates []models.Candidate, k int) ([]models.Candidate, error) {
	out := make([]models.Candidate, len(candidates))
	copy(out, candidates)
	return keep(out, k), nil
}

func keep(c []models.Candidate, k int) []models.Candidate {
	if k > 0 && len(c) > k {
		return c[:k]
	}
	return c
}
