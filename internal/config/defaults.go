package config

import "time"

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.RequestTimeout == 0 {
		cfg.Server.RequestTimeout = 120 * time.Second
	}

	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = "sqlite"
	}
	if cfg.Storage.DatabasePath == "" {
		cfg.Storage.DatabasePath = ".local/share/kotae/kotae.db"
	}
	if cfg.Storage.DSNEnv == "" {
		cfg.Storage.DSNEnv = "KOTAE_POSTGRES_DSN"
	}
	if cfg.Storage.DataDir == "" {
		cfg.Storage.DataDir = ".local/share/kotae"
	}

	if cfg.Ingest.ChunkSize == 0 {
		cfg.Ingest.ChunkSize = 512
	}
	if cfg.Ingest.ChunkOverlap == 0 {
		cfg.Ingest.ChunkOverlap = 50
	}
	if cfg.Ingest.MinChunkSize == 0 {
		cfg.Ingest.MinChunkSize = 20
	}
	if cfg.Ingest.MaxDocumentBytes == 0 {
		cfg.Ingest.MaxDocumentBytes = 50 << 20
	}
	if cfg.Ingest.FetchTimeout == 0 {
		cfg.Ingest.FetchTimeout = 60 * time.Second
	}
	if cfg.Ingest.UserAgent == "" {
		cfg.Ingest.UserAgent = "kotae/1.0"
	}
	if cfg.Ingest.RequestsPerSecond == 0 {
		cfg.Ingest.RequestsPerSecond = 5
	}
	if cfg.Ingest.Burst == 0 {
		cfg.Ingest.Burst = 10
	}
	if cfg.Ingest.IngestTimeout == 0 {
		cfg.Ingest.IngestTimeout = 5 * time.Minute
	}
	if cfg.Ingest.S3Region == "" {
		cfg.Ingest.S3Region = "us-east-1"
	}

	if cfg.Embedding.Provider == "" {
		cfg.Embedding.Provider = "hash"
	}
	if cfg.Embedding.Model == "" {
		cfg.Embedding.Model = "all-MiniLM-L6-v2"
	}
	if cfg.Embedding.Dimensions == 0 {
		cfg.Embedding.Dimensions = 384
	}
	if cfg.Embedding.MaxTokens == 0 {
		cfg.Embedding.MaxTokens = 256
	}
	if cfg.Embedding.CacheSize == 0 {
		cfg.Embedding.CacheSize = 10000
	}
	if cfg.Embedding.BatchSize == 0 {
		cfg.Embedding.BatchSize = 32
	}
	if cfg.Embedding.Timeout == 0 {
		cfg.Embedding.Timeout = 30 * time.Second
	}
	if cfg.Embedding.APIKeyEnv == "" {
		cfg.Embedding.APIKeyEnv = "OPENAI_API_KEY"
	}

	if cfg.Index.Type == "" {
		cfg.Index.Type = "memory"
	}
	if cfg.Index.Path == "" {
		cfg.Index.Path = ".local/share/kotae/index/vectors.kvx"
	}
	if cfg.Index.RetrieveK == 0 {
		cfg.Index.RetrieveK = 20
	}
	if cfg.Index.KeywordWeight == 0 {
		cfg.Index.KeywordWeight = 0.3
	}
	if cfg.Index.SemanticWeight == 0 {
		cfg.Index.SemanticWeight = 0.7
	}

	if cfg.Rerank.Provider == "" {
		cfg.Rerank.Provider = "lexical"
	}
	if cfg.Rerank.Model == "" {
		cfg.Rerank.Model = "cross-encoder/ms-marco-MiniLM-L-6-v2"
	}
	if cfg.Rerank.TopK == 0 {
		cfg.Rerank.TopK = 5
	}
	if cfg.Rerank.Timeout == 0 {
		cfg.Rerank.Timeout = 10 * time.Second
	}
	if cfg.Rerank.SimilarityWeight == 0 {
		cfg.Rerank.SimilarityWeight = 0.3
	}
	if cfg.Rerank.CrossWeight == 0 {
		cfg.Rerank.CrossWeight = 0.7
	}
	if cfg.Rerank.MaxTokens == 0 {
		cfg.Rerank.MaxTokens = 512
	}

	if cfg.LLM.Provider == "" {
		cfg.LLM.Provider = "none"
	}
	if cfg.LLM.Model == "" {
		cfg.LLM.Model = "gpt-4o-mini"
	}
	if cfg.LLM.APIKeyEnv == "" {
		cfg.LLM.APIKeyEnv = "OPENAI_API_KEY"
	}
	if cfg.LLM.MaxTokens == 0 {
		cfg.LLM.MaxTokens = 4096
	}
	if cfg.LLM.Timeout == 0 {
		cfg.LLM.Timeout = 30 * time.Second
	}
	if cfg.LLM.ContextBudget == 0 {
		cfg.LLM.ContextBudget = 12000
	}
	if cfg.LLM.RequestsPerSecond == 0 {
		cfg.LLM.RequestsPerSecond = 2
	}
	if cfg.LLM.Burst == 0 {
		cfg.LLM.Burst = 4
	}
	if cfg.LLM.Cooldown == 0 {
		cfg.LLM.Cooldown = 30 * time.Second
	}

	if cfg.Query.MaxConcurrency == 0 {
		cfg.Query.MaxConcurrency = 4
	}
	if cfg.Query.QueryTimeout == 0 {
		cfg.Query.QueryTimeout = 60 * time.Second
	}

	if cfg.Watch.Extensions == nil {
		cfg.Watch.Extensions = []string{".pdf", ".docx", ".eml", ".txt", ".md", ".xlsx", ".pptx", ".odp", ".ods", ".odt", ".rtf"}
	}
	if cfg.Watch.Debounce == 0 {
		cfg.Watch.Debounce = 400 * time.Millisecond
	}
	// Recursive defaults to true when unset (nil).
	if len(cfg.Watch.Directories) > 0 && cfg.Watch.Recursive == nil {
		t := true
		cfg.Watch.Recursive = &t
	}
}
