package embedding

import (
	"context"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/openai"
)

// RemoteEmbedder calls an OpenAI-compatible /embeddings endpoint.
type RemoteEmbedder struct {
	client     *embeddings.EmbedderImpl
	model      string
	dimensions int
}

// NewRemoteEmbedder creates a client for model. baseURL may be empty for the
// OpenAI default.
func NewRemoteEmbedder(baseURL, apiKey, model string, dimensions, batchSize int) (*RemoteEmbedder, error) {
	opts := []openai.Option{
		openai.WithToken(strings.TrimPrefix(apiKey, "Bearer ")),
		openai.WithEmbeddingModel(model),
	}
	if baseURL != "" {
		opts = append(opts, openai.WithBaseURL(baseURL))
	}
	llm, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedding client: %w", err)
	}
	if batchSize <= 0 {
		batchSize = 32
	}
	client, err := embeddings.NewEmbedder(llm,
		embeddings.WithBatchSize(batchSize),
		embeddings.WithStripNewLines(false))
	if err != nil {
		return nil, fmt.Errorf("failed to create embedder: %w", err)
	}
	return &RemoteEmbedder{client: client, model: model, dimensions: dimensions}, nil
}

// Embed embeds one text.
func (r *RemoteEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return r.client.EmbedQuery(ctx, text)
}

// EmbedBatch embeds texts in provider-sized batches.
func (r *RemoteEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return r.client.EmbedDocuments(ctx, texts)
}

func (r *RemoteEmbedder) Dimensions() int { return r.dimensions }
func (r *RemoteEmbedder) Model() string   { return r.model }
func (r *RemoteEmbedder) Close() error    { return nil }
