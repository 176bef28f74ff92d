package config

import (
	"errors"
	"fmt"
)

var (
	embeddingProviders = []string{"hash", "onnx", "openai", "gemini"}
	rerankProviders    = []string{"lexical", "onnx", "http", "none"}
	llmProviders       = []string{"none", "openai", "gemini"}
	indexTypes         = []string{"memory", "chromem", "faiss"}
	storageDrivers     = []string{"sqlite", "postgres", "none"}
)

// Validate reports every invalid setting in cfg, joined into one error.
func (c *Config) Validate() error {
	var problems []error
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Errorf(format, args...))
	}

	if c.Ingest.ChunkSize <= 0 {
		add("ingest.chunk_size must be positive, got %d", c.Ingest.ChunkSize)
	}
	if c.Ingest.ChunkOverlap < 0 || c.Ingest.ChunkOverlap >= c.Ingest.ChunkSize {
		add("ingest.chunk_overlap must be in [0, chunk_size), got %d", c.Ingest.ChunkOverlap)
	}
	if c.Ingest.MinChunkSize < 0 {
		add("ingest.min_chunk_size must not be negative")
	}
	if c.Embedding.Dimensions <= 0 {
		add("embedding.dimensions must be positive, got %d", c.Embedding.Dimensions)
	}
	for name, w := range map[string]float64{
		"index.keyword_weight":     c.Index.KeywordWeight,
		"index.semantic_weight":    c.Index.SemanticWeight,
		"rerank.similarity_weight": c.Rerank.SimilarityWeight,
		"rerank.cross_weight":      c.Rerank.CrossWeight,
	} {
		if w < 0 || w > 1 {
			add("%s must be in [0, 1], got %g", name, w)
		}
	}
	if t := c.LLM.TemperatureOrDefault(); t < 0 || t > 2 {
		add("llm.temperature must be in [0, 2], got %g", t)
	}
	if c.Query.MaxConcurrency <= 0 {
		add("query.max_concurrency must be positive")
	}
	oneOf := func(field, v string, allowed []string) {
		for _, a := range allowed {
			if v == a {
				return
			}
		}
		add("%s: unknown value %q (want one of %v)", field, v, allowed)
	}
	oneOf("embedding.provider", c.Embedding.Provider, embeddingProviders)
	oneOf("rerank.provider", c.Rerank.Provider, rerankProviders)
	oneOf("llm.provider", c.LLM.Provider, llmProviders)
	oneOf("index.type", c.Index.Type, indexTypes)
	oneOf("storage.driver", c.Storage.Driver, storageDrivers)

	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(problems...))
	}
	return nil
}
