package embedding

import (
	"context"
	"fmt"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// GeminiEmbedder uses the Gemini embedding API.
type GeminiEmbedder struct {
	client     *genai.Client
	em         *genai.EmbeddingModel
	model      string
	dimensions int
}

// NewGeminiEmbedder creates a client for model, e.g. text-embedding-004.
func NewGeminiEmbedder(ctx context.Context, apiKey, model string, dimensions int) (*GeminiEmbedder, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini embedder: API key is not set")
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	return &GeminiEmbedder{
		client:     client,
		em:         client.EmbeddingModel(model),
		model:      model,
		dimensions: dimensions,
	}, nil
}

// Embed embeds one text.
func (g *GeminiEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	res, err := g.em.EmbedContent(ctx, genai.Text(text))
	if err != nil {
		return nil, err
	}
	if res.Embedding == nil {
		return nil, fmt.Errorf("gemini returned no embedding")
	}
	return res.Embedding.Values, nil
}

// EmbedBatch embeds texts with one batch request.
func (g *GeminiEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	b := g.em.NewBatch()
	for _, t := range texts {
		b.AddContent(genai.Text(t))
	}
	res, err := g.em.BatchEmbedContents(ctx, b)
	if err != nil {
		return nil, err
	}
	out := make([][]float32, len(res.Embeddings))
	for i, e := range res.Embeddings {
		if e != nil {
			out[i] = e.Values
		}
	}
	return out, nil
}

func (g *GeminiEmbedder) Dimensions() int { return g.dimensions }
func (g *GeminiEmbedder) Model() string   { return g.model }

// Close closes the client.
func (g *GeminiEmbedder) Close() error { return g.client.Close() }
