package embedding

import (
	"context"

	"github.com/hyperjump/kotae/internal/errs"
	"github.com/hyperjump/kotae/internal/lazy"
)

// LazyEmbedder defers building its backend until the first embedding call.
type LazyEmbedder struct {
	loader     *lazy.Loader[Embedder]
	model      string
	dimensions int
}

// NewLazyEmbedder returns an embedder that calls build on first use. model and
// dimensions are reported before the backend exists.
func NewLazyEmbedder(model string, dimensions int, build func(ctx context.Context) (Embedder, error)) *LazyEmbedder {
	return &LazyEmbedder{
		loader:     lazy.New(build, func(e Embedder) error { return e.Close() }),
		model:      model,
		dimensions: dimensions,
	}
}

func (l *LazyEmbedder) get(ctx context.Context) (Embedder, error) {
	e, err := l.loader.Get(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, errs.Wrap(errs.EmbeddingUnavailable, "embed.load", err, "embedding model could not be loaded")
	}
	return e, nil
}

// Embed loads the backend if needed and embeds text.
func (l *LazyEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	e, err := l.get(ctx)
	if err != nil {
		return nil, err
	}
	return e.Embed(ctx, text)
}

// EmbedBatch loads the backend if needed and embeds texts.
func (l *LazyEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	e, err := l.get(ctx)
	if err != nil {
		return nil, err
	}
	return e.EmbedBatch(ctx, texts)
}

func (l *LazyEmbedder) Dimensions() int { return l.dimensions }
func (l *LazyEmbedder) Model() string   { return l.model }

// Loaded reports whether the backend has been built.
func (l *LazyEmbedder) Loaded() bool { return l.loader.Loaded() }

// Reload releases the backend; the next call rebuilds it.
func (l *LazyEmbedder) Reload() error { return l.loader.Reload() }

// Close releases the backend for good.
func (l *LazyEmbedder) Close() error { return l.loader.Close() }
