package rerank

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperjump/kotae/internal/config"
	"github.com/hyperjump/kotae/internal/errs"
	"github.com/hyperjump/kotae/internal/models"
)

// stubScorer returns scripted scores, an error, or blocks until ctx ends.
type stubScorer struct {
	scores []float64
	err    error
	block  bool
	calls  atomic.Int32
}

func (s *stubScorer) Score(ctx context.Context, _ string, passages []string) ([]float64, error) {
	s.calls.Add(1)
	if s.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if s.err != nil {
		return nil, s.err
	}
	return s.scores, nil
}

func (s *stubScorer) Name() string { return "stub" }
func (s *stubScorer) Close() error { return nil }

func candidates(scores ...float64) []models.Candidate {
	out := make([]models.Candidate, len(scores))
	for i, sc := range scores {
		out[i] = models.Candidate{
			Chunk:      models.Chunk{ID: string(rune('a' + i)), DocumentID: "doc", Seq: i, Text: "passage"},
			Similarity: sc,
			Score:      sc,
		}
	}
	return out
}

func ids(c []models.Candidate) []string {
	out := make([]string, len(c))
	for i, cand := range c {
		out[i] = cand.Chunk.ID
	}
	return out
}

func TestReranker_CombinesScores(t *testing.T) {
	scorer := &stubScorer{scores: []float64{0.1, 0.9, 0.5}}
	r := New(scorer, Config{TopK: 2})

	res, err := r.Rerank(context.Background(), "q", candidates(0.9, 0.6, 0.8), 0)
	require.NoError(t, err)
	assert.Equal(t, StrategyCrossEncoder, res.Strategy)
	assert.NoError(t, res.Err)
	// b: 0.3*0.6+0.7*0.9 = 0.81, c: 0.3*0.8+0.7*0.5 = 0.59, a: 0.3*0.9+0.7*0.1 = 0.34
	assert.Equal(t, []string{"b", "c"}, ids(res.Candidates))
	assert.InDelta(t, 0.81, res.Candidates[0].Score, 1e-9)
	assert.InDelta(t, 0.9, res.Candidates[0].CrossScore, 1e-9)
	assert.InDelta(t, 0.6, res.Candidates[0].Similarity, 1e-9)
}

func TestReranker_KOverridesTopK(t *testing.T) {
	r := New(&stubScorer{scores: []float64{0.1, 0.2, 0.3}}, Config{TopK: 1})
	res, err := r.Rerank(context.Background(), "q", candidates(0.5, 0.5, 0.5), 3)
	require.NoError(t, err)
	assert.Equal(t, []string{"c", "b", "a"}, ids(res.Candidates))
}

func TestReranker_FallsBackToRetrievalOrder(t *testing.T) {
	tests := []struct {
		name   string
		scorer *stubScorer
	}{
		{"backend error", &stubScorer{err: errors.New("model crashed")}},
		{"timeout", &stubScorer{block: true}},
		{"wrong score count", &stubScorer{scores: []float64{0.5}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := New(tt.scorer, Config{TopK: 2, Timeout: 20 * time.Millisecond})
			in := candidates(0.9, 0.8, 0.7)

			res, err := r.Rerank(context.Background(), "q", in, 0)
			require.NoError(t, err)
			assert.Equal(t, StrategyRetrievalOrder, res.Strategy)
			assert.True(t, errs.IsKind(res.Err, errs.RerankUnavailable), "Err = %v", res.Err)
			assert.Equal(t, []string{"a", "b"}, ids(res.Candidates))
			assert.Equal(t, 0.9, res.Candidates[0].Score)

			h := r.Health()
			assert.False(t, h.Available)
			assert.Equal(t, "stub", h.Backend)
		})
	}
}

func TestReranker_CooldownSkipsBackend(t *testing.T) {
	scorer := &stubScorer{err: errors.New("down")}
	r := New(scorer, Config{TopK: 3}, WithCooldown(time.Minute))
	now := time.Unix(1000, 0)
	r.now = func() time.Time { return now }

	_, err := r.Rerank(context.Background(), "q", candidates(0.5, 0.4), 0)
	require.NoError(t, err)
	require.Equal(t, int32(1), scorer.calls.Load())

	res, err := r.Rerank(context.Background(), "q", candidates(0.5, 0.4), 0)
	require.NoError(t, err)
	assert.Equal(t, int32(1), scorer.calls.Load(), "backend should be skipped while cooling down")
	assert.Equal(t, StrategyRetrievalOrder, res.Strategy)
	assert.Error(t, res.Err)

	// After the cooldown the backend is tried again and recovers.
	now = now.Add(2 * time.Minute)
	scorer.err = nil
	scorer.scores = []float64{0.1, 0.9}
	res, err = r.Rerank(context.Background(), "q", candidates(0.5, 0.4), 0)
	require.NoError(t, err)
	assert.Equal(t, int32(2), scorer.calls.Load())
	assert.Equal(t, StrategyCrossEncoder, res.Strategy)
	assert.Equal(t, []string{"b", "a"}, ids(res.Candidates))
	assert.True(t, r.Health().Available)
}

func TestReranker_Disabled(t *testing.T) {
	r := New(nil, Config{TopK: 2})
	res, err := r.Rerank(context.Background(), "q", candidates(0.9, 0.8, 0.7), 0)
	require.NoError(t, err)
	assert.Equal(t, StrategyRetrievalOrder, res.Strategy)
	assert.NoError(t, res.Err)
	assert.Equal(t, []string{"a", "b"}, ids(res.Candidates))

	h := r.Health()
	assert.Equal(t, "none", h.Backend)
	assert.False(t, h.Available)
	assert.NoError(t, r.Probe(context.Background()))
	assert.NoError(t, r.Close())
}

func TestReranker_EmptyCandidates(t *testing.T) {
	scorer := &stubScorer{}
	res, err := New(scorer, Config{TopK: 5}).Rerank(context.Background(), "q", nil, 0)
	require.NoError(t, err)
	assert.Empty(t, res.Candidates)
	assert.Zero(t, scorer.calls.Load())
}

func TestReranker_CallerCancellation(t *testing.T) {
	scorer := &stubScorer{block: true}
	r := New(scorer, Config{TopK: 5})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := r.Rerank(ctx, "q", candidates(0.5), 0)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	// Caller cancellation does not mark the backend unavailable.
	assert.True(t, r.Health().Available)
}

func TestReranker_DoesNotModifyInput(t *testing.T) {
	in := candidates(0.2, 0.1)
	_, err := New(&stubScorer{scores: []float64{0.0, 1.0}}, Config{}).Rerank(context.Background(), "q", in, 0)
	require.NoError(t, err)
	assert.Equal(t, 0.2, in[0].Score)
	assert.Zero(t, in[0].CrossScore)
}

func TestReranker_ProbeRecordsAvailability(t *testing.T) {
	scorer := &stubScorer{err: errors.New("down")}
	r := New(scorer, Config{})
	assert.Error(t, r.Probe(context.Background()))
	assert.False(t, r.Health().Available)

	scorer.err = nil
	scorer.scores = []float64{0.5}
	assert.NoError(t, r.Probe(context.Background()))
	assert.True(t, r.Health().Available)
}

func TestNewFromConfig(t *testing.T) {
	r, err := NewFromConfig(config.RerankConfig{Provider: "lexical", TopK: 5}, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "lexical", r.Backend())

	r, err = NewFromConfig(config.RerankConfig{Provider: "none"}, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "none", r.Backend())

	_, err = NewFromConfig(config.RerankConfig{Provider: "http"}, nil, nil)
	assert.Error(t, err, "http provider needs a url")

	_, err = NewFromConfig(config.RerankConfig{Provider: "bogus"}, nil, nil)
	assert.Error(t, err)

	// A missing model only surfaces when the reranker is used.
	r, err = NewFromConfig(config.RerankConfig{Provider: "onnx", ModelPath: "/nonexistent/model.onnx", Model: "ce"}, nil, nil)
	require.NoError(t, err)
	res, err := r.Rerank(context.Background(), "q", candidates(0.5, 0.4), 0)
	require.NoError(t, err)
	assert.Equal(t, StrategyRetrievalOrder, res.Strategy)
	assert.Error(t, res.Err)
}
