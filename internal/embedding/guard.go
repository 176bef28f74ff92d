package embedding

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/kotae/internal/errs"
	"github.com/hyperjump/kotae/pkg/utils"
)

// Guard enforces the embedding contract around a backend: calls are bounded by
// a timeout, split into batches, and their output is checked for count and
// dimensionality. Every backend failure, including a timeout, becomes an
// embedding_unavailable error; vectors are returned L2-normalized.
type Guard struct {
	inner     Embedder
	timeout   time.Duration
	batchSize int
	logger    *zap.Logger

	mu      sync.Mutex
	lastErr error
	lastAt  time.Time
}

// Option configures a Guard.
type Option func(*Guard)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(g *Guard) { g.logger = l }
}

// NewGuard wraps inner. A zero timeout disables the deadline; batchSize <= 0 sends
// all texts in one call.
func NewGuard(inner Embedder, timeout time.Duration, batchSize int, opts ...Option) *Guard {
	g := &Guard{inner: inner, timeout: timeout, batchSize: batchSize}
	for _, o := range opts {
		o(g)
	}
	g.logger = utils.OrNop(g.logger)
	return g
}

// Embed embeds a single text through the same path as EmbedBatch.
func (g *Guard) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := g.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch embeds texts in order.
func (g *Guard) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	size := g.batchSize
	if size <= 0 {
		size = len(texts)
	}
	for start := 0; start < len(texts); start += size {
		end := start + size
		if end > len(texts) {
			end = len(texts)
		}
		vecs, err := g.call(ctx, texts[start:end])
		g.record(ctx, err)
		if err != nil {
			return nil, err
		}
		out = append(out, vecs...)
	}
	return out, nil
}

type embedResult struct {
	vecs [][]float32
	err  error
}

func (g *Guard) call(ctx context.Context, batch []string) ([][]float32, error) {
	callCtx, cancel := ctx, context.CancelFunc(func() {})
	if g.timeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, g.timeout)
	}
	defer cancel()

	// local models may not observe ctx, so the deadline is enforced here
	done := make(chan embedResult, 1)
	go func() {
		vecs, err := g.inner.EmbedBatch(callCtx, batch)
		done <- embedResult{vecs, err}
	}()

	var res embedResult
	select {
	case res = <-done:
	case <-callCtx.Done():
		res.err = callCtx.Err()
	}

	if res.err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("embed: %w", ctx.Err())
		}
		if errors.Is(res.err, context.DeadlineExceeded) {
			return nil, errs.E(errs.EmbeddingUnavailable, "embed", "embedding model did not respond within %s", g.timeout)
		}
		return nil, errs.Wrap(errs.EmbeddingUnavailable, "embed", res.err, "embedding model failed")
	}
	if len(res.vecs) != len(batch) {
		return nil, errs.E(errs.EmbeddingUnavailable, "embed", "embedding model returned %d vectors for %d texts", len(res.vecs), len(batch))
	}
	dims := g.inner.Dimensions()
	out := make([][]float32, len(res.vecs))
	for i, v := range res.vecs {
		if len(v) != dims {
			return nil, errs.E(errs.EmbeddingUnavailable, "embed", "embedding model returned %d dimensions, index expects %d", len(v), dims)
		}
		if isZero(v) {
			return nil, errs.E(errs.EmbeddingUnavailable, "embed", "embedding model returned a zero vector")
		}
		nv := cloneVec(v)
		utils.NormalizeL2(nv)
		out[i] = nv
	}
	return out, nil
}

func (g *Guard) record(ctx context.Context, err error) {
	if err != nil && ctx.Err() != nil {
		return
	}
	g.mu.Lock()
	prev := g.lastErr
	g.lastErr, g.lastAt = err, time.Now()
	g.mu.Unlock()
	switch {
	case err != nil && prev == nil:
		g.logger.Warn("embedding backend unavailable", zap.String("model", g.inner.Model()), zap.Error(err))
	case err == nil && prev != nil:
		g.logger.Info("embedding backend recovered", zap.String("model", g.inner.Model()))
	}
}

// LastError returns the outcome of the most recent call, nil if it succeeded
// or no call was made yet.
func (g *Guard) LastError() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.lastErr
}

// Probe embeds a short text to check the backend is reachable.
func (g *Guard) Probe(ctx context.Context) error {
	_, err := g.Embed(ctx, "readiness probe")
	return err
}

// Dimensions returns the backend dimensions.
func (g *Guard) Dimensions() int { return g.inner.Dimensions() }

// Model returns the backend model name.
func (g *Guard) Model() string { return g.inner.Model() }

// Reload drops cached and loaded model state.
func (g *Guard) Reload() error {
	if r, ok := g.inner.(Reloader); ok {
		return r.Reload()
	}
	return nil
}

// Close closes the backend.
func (g *Guard) Close() error { return g.inner.Close() }
