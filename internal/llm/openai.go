package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
)

// OpenAIGenerator talks to the OpenAI chat completions API or any compatible
// endpoint (Together, vLLM, Ollama) through langchaingo.
type OpenAIGenerator struct {
	llm   llms.Model
	model string
}

var _ Generator = (*OpenAIGenerator)(nil)

// NewOpenAIGenerator creates a generator. An empty baseURL uses the OpenAI API.
func NewOpenAIGenerator(baseURL, apiKey, model string) (*OpenAIGenerator, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai generator: api key is not set")
	}
	opts := []openai.Option{
		openai.WithToken(strings.TrimPrefix(apiKey, "Bearer ")),
		openai.WithModel(model),
	}
	if baseURL != "" {
		opts = append(opts, openai.WithBaseURL(baseURL))
	}
	client, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create openai client: %w", err)
	}
	return &OpenAIGenerator{llm: client, model: model}, nil
}

// Generate implements Generator.
func (g *OpenAIGenerator) Generate(ctx context.Context, req Request) (string, error) {
	opts := []llms.CallOption{llms.WithTemperature(req.Temperature)}
	if req.MaxTokens > 0 {
		opts = append(opts, llms.WithMaxTokens(req.MaxTokens))
	}
	if req.JSON {
		opts = append(opts, llms.WithJSONMode())
	}
	out, err := llms.GenerateFromSinglePrompt(ctx, g.llm, req.Prompt, opts...)
	if err != nil {
		return "", fmt.Errorf("openai completion failed: %w", err)
	}
	return out, nil
}

func (g *OpenAIGenerator) Name() string { return "openai:" + g.model }
func (g *OpenAIGenerator) Close() error { return nil }
