package rerank

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/kotae/internal/models"
	"github.com/hyperjump/kotae/pkg/utils"
)

const defaultCooldown = 30 * time.Second

// Config tunes a Reranker.
type Config struct {
	TopK    int
	Timeout time.Duration
	Weights Weights
}

// Result is a reranked candidate list and the strategy that produced it.
type Result struct {
	Candidates []models.Candidate
	Strategy   string
	// Err explains why the cross-encoder was not used; nil when it ran or is disabled.
	Err error
}

// Reranker selects between the cross-encoder and the retrieval ordering. A
// failed cross-encoder call falls back to retrieval order for that request and
// marks the backend unavailable; during the cooldown that follows, requests go
// straight to retrieval order, after which the cross-encoder is tried again.
type Reranker struct {
	scorer   Scorer
	cross    *CrossEncoder // nil when reranking is disabled
	topK     int
	cooldown time.Duration
	logger   *zap.Logger
	now      func() time.Time

	mu       sync.Mutex
	lastErr  error
	failedAt time.Time
}

// Option configures a Reranker.
type Option func(*Reranker)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(r *Reranker) { r.logger = l }
}

// WithCooldown sets how long a failed cross-encoder is skipped. Zero retries on every request.
func WithCooldown(d time.Duration) Option {
	return func(r *Reranker) { r.cooldown = d }
}

// New creates a Reranker. A nil scorer disables cross-encoding: candidates keep
// their retrieval order.
func New(scorer Scorer, cfg Config, opts ...Option) *Reranker {
	r := &Reranker{scorer: scorer, topK: cfg.TopK, cooldown: defaultCooldown, now: time.Now}
	if scorer != nil {
		w := cfg.Weights
		if w.Similarity == 0 && w.Cross == 0 {
			w = DefaultWeights()
		}
		r.cross = NewCrossEncoder(scorer, w, cfg.Timeout)
	}
	for _, o := range opts {
		o(r)
	}
	r.logger = utils.OrNop(r.logger)
	return r
}

// Rerank orders candidates for query and keeps at most k (the configured top_k
// when k <= 0). It only fails when ctx ends; cross-encoder failures are reported
// in Result.Err with the retrieval order returned instead.
func (r *Reranker) Rerank(ctx context.Context, query string, candidates []models.Candidate, k int) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if k <= 0 {
		k = r.topK
	}

	strategy, skipped := r.choose(len(candidates))
	out, err := strategy.Rank(ctx, query, candidates, k)
	switch {
	case err != nil:
		if ctx.Err() != nil {
			return nil, err
		}
		r.record(err)
		r.logger.Warn("reranking unavailable, keeping retrieval order",
			zap.String("backend", r.Backend()),
			zap.String("fallback", StrategyRetrievalOrder),
			zap.Error(err))
		skipped = err
		strategy = RetrievalOrder{}
		out, _ = strategy.Rank(ctx, query, candidates, k)
	case strategy.Name() == StrategyCrossEncoder:
		r.record(nil)
	case skipped != nil:
		r.logger.Debug("reranker cooling down, keeping retrieval order", zap.String("backend", r.Backend()))
	}

	return &Result{Candidates: out, Strategy: strategy.Name(), Err: skipped}, nil
}

// choose picks the cross-encoder unless it is disabled, cooling down after a
// failure, or there is nothing to score.
func (r *Reranker) choose(n int) (Strategy, error) {
	if r.cross == nil || n == 0 {
		return RetrievalOrder{}, nil
	}
	if err := r.cooling(); err != nil {
		return RetrievalOrder{}, err
	}
	return r.cross, nil
}

// cooling returns the last failure while the cooldown after it lasts.
func (r *Reranker) cooling() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.lastErr == nil || r.cooldown <= 0 {
		return nil
	}
	if r.now().Sub(r.failedAt) < r.cooldown {
		return r.lastErr
	}
	return nil
}

func (r *Reranker) record(err error) {
	r.mu.Lock()
	prev := r.lastErr
	r.lastErr = err
	if err != nil {
		r.failedAt = r.now()
	}
	r.mu.Unlock()
	if err == nil && prev != nil {
		r.logger.Info("reranker recovered", zap.String("backend", r.Backend()))
	}
}

// Backend names the scorer, or "none" when reranking is disabled.
func (r *Reranker) Backend() string {
	if r.scorer == nil {
		return "none"
	}
	return r.scorer.Name()
}

// Health reports whether the cross-encoder is enabled and its last call succeeded.
func (r *Reranker) Health() models.ComponentHealth {
	h := models.ComponentHealth{Name: "reranker", Backend: r.Backend()}
	if r.cross == nil {
		h.Detail = "disabled, retrieval order is kept"
		return h
	}
	r.mu.Lock()
	err := r.lastErr
	r.mu.Unlock()
	h.Available = err == nil
	if err != nil {
		h.Detail = err.Error()
	}
	return h
}

// Probe scores a single passage to check the backend, updating availability.
func (r *Reranker) Probe(ctx context.Context) error {
	if r.cross == nil {
		return nil
	}
	_, err := r.cross.Rank(ctx, "readiness probe", []models.Candidate{{Chunk: models.Chunk{Text: "readiness probe"}}}, 1)
	if ctx.Err() == nil {
		r.record(err)
	}
	return err
}

// Close releases the scorer.
func (r *Reranker) Close() error {
	if r.scorer == nil {
		return nil
	}
	return r.scorer.Close()
}
