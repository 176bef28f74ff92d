package rerank

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/hyperjump/kotae/internal/config"
	"github.com/hyperjump/kotae/internal/lazy"
)

// NewFromConfig builds the Reranker for cfg.Provider: "lexical" (default), "onnx",
// "http", or "none" to keep retrieval order. stats feeds the lexical scorer and may be nil.
func NewFromConfig(cfg config.RerankConfig, stats StatsSource, logger *zap.Logger) (*Reranker, error) {
	var scorer Scorer
	switch cfg.Provider {
	case "", "lexical":
		scorer = NewLexicalScorer(stats)
	case "onnx":
		if cfg.ModelPath == "" {
			return nil, fmt.Errorf("onnx reranker: model_path is not set")
		}
		scorer = newLazyScorer("onnx:"+cfg.Model, func(context.Context) (Scorer, error) {
			return NewONNXScorer(cfg.ModelPath, cfg.Model, cfg.MaxTokens)
		})
	case "http":
		s, err := NewHTTPScorer(cfg.URL, cfg.Model, cfg.Timeout)
		if err != nil {
			return nil, err
		}
		scorer = s
	case "none":
	default:
		return nil, fmt.Errorf("unknown rerank provider %q", cfg.Provider)
	}
	return New(scorer, Config{
		TopK:    cfg.TopK,
		Timeout: cfg.Timeout,
		Weights: Weights{Similarity: cfg.SimilarityWeight, Cross: cfg.CrossWeight},
	}, WithLogger(logger)), nil
}

// lazyScorer loads its model on first use, so a missing model makes the
// reranker unavailable instead of failing startup.
type lazyScorer struct {
	name   string
	loader *lazy.Loader[Scorer]
}

func newLazyScorer(name string, build func(context.Context) (Scorer, error)) *lazyScorer {
	return &lazyScorer{name: name, loader: lazy.New(build, func(s Scorer) error { return s.Close() })}
}

func (l *lazyScorer) Name() string { return l.name }
func (l *lazyScorer) Close() error { return l.loader.Close() }

func (l *lazyScorer) Score(ctx context.Context, query string, passages []string) ([]float64, error) {
	s, err := l.loader.Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load reranker: %w", err)
	}
	return s.Score(ctx, query, passages)
}
