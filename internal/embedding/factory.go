package embedding

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/hyperjump/kotae/internal/config"
)

// New builds the configured embedder: the provider backend, loaded lazily when
// it is a model, behind an LRU cache and a Guard.
func New(cfg config.EmbeddingConfig, logger *zap.Logger) (*Guard, error) {
	var backend Embedder
	switch cfg.Provider {
	case "", "hash":
		backend = NewHashEmbedder(cfg.Dimensions)
	case "onnx":
		oc := ONNXConfig{ModelPath: cfg.ModelPath, Model: cfg.Model, Dimensions: cfg.Dimensions, MaxTokens: cfg.MaxTokens}
		backend = NewLazyEmbedder(cfg.Model, cfg.Dimensions, func(ctx context.Context) (Embedder, error) {
			return NewONNXEmbedder(oc)
		})
	case "openai":
		backend = NewLazyEmbedder(cfg.Model, cfg.Dimensions, func(ctx context.Context) (Embedder, error) {
			return NewRemoteEmbedder(cfg.BaseURL, cfg.APIKey(), cfg.Model, cfg.Dimensions, cfg.BatchSize)
		})
	case "gemini":
		backend = NewLazyEmbedder(cfg.Model, cfg.Dimensions, func(ctx context.Context) (Embedder, error) {
			return NewGeminiEmbedder(ctx, cfg.APIKey(), cfg.Model, cfg.Dimensions)
		})
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.Provider)
	}
	if cfg.CacheSize > 0 {
		backend = NewCachedEmbedder(backend, cfg.CacheSize)
	}
	return NewGuard(backend, cfg.Timeout, cfg.BatchSize, WithLogger(logger)), nil
}
