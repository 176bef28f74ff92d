package llm

import (
	"context"
	"fmt"

	"github.com/hyperjump/kotae/internal/config"
)

// New builds the configured generator behind a rate limiter. Provider "none"
// (or empty) returns nil: answers are then always extractive.
func New(ctx context.Context, cfg config.LLMConfig) (Generator, error) {
	var g Generator
	switch cfg.Provider {
	case "", "none":
		return nil, nil
	case "openai":
		og, err := NewOpenAIGenerator(cfg.BaseURL, cfg.APIKey(), cfg.Model)
		if err != nil {
			return nil, err
		}
		g = og
	case "gemini":
		gg, err := NewGeminiGenerator(ctx, cfg.APIKey(), cfg.Model)
		if err != nil {
			return nil, err
		}
		g = gg
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
	return NewLimited(g, cfg.RequestsPerSecond, cfg.Burst), nil
}
