// Package config provides configuration loading and structs for the kotae server and CLI.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application.
type Config struct {
	Debug     bool            `yaml:"debug"`
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Ingest    IngestConfig    `yaml:"ingest"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Index     IndexConfig     `yaml:"index"`
	Rerank    RerankConfig    `yaml:"rerank"`
	LLM       LLMConfig       `yaml:"llm"`
	Query     QueryConfig     `yaml:"query"`
	Watch     WatchConfig     `yaml:"watch"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host           string        `yaml:"host"`
	Port           int           `yaml:"port"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	// AuthTokenEnv names the environment variable holding the bearer token.
	// Authentication is disabled when it is empty or the variable is unset.
	AuthTokenEnv string `yaml:"auth_token_env"`
}

// AuthToken returns the configured bearer token, or "".
func (s *ServerConfig) AuthToken() string {
	if s.AuthTokenEnv == "" {
		return ""
	}
	return os.Getenv(s.AuthTokenEnv)
}

// StorageConfig selects the bookkeeping store.
type StorageConfig struct {
	Driver       string `yaml:"driver"` // sqlite, postgres or none
	DatabasePath string `yaml:"database_path"`
	DSNEnv       string `yaml:"dsn_env"`
	DataDir      string `yaml:"data_dir"`
}

// DSN returns the PostgreSQL connection string from the environment.
func (s *StorageConfig) DSN() string { return os.Getenv(s.DSNEnv) }

// IngestConfig holds fetching and chunking settings. Sizes are in tokens.
type IngestConfig struct {
	ChunkSize         int           `yaml:"chunk_size"`
	ChunkOverlap      int           `yaml:"chunk_overlap"`
	MinChunkSize      int           `yaml:"min_chunk_size"`
	MaxDocumentBytes  int64         `yaml:"max_document_bytes"`
	FetchTimeout      time.Duration `yaml:"fetch_timeout"`
	UserAgent         string        `yaml:"user_agent"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	Burst             int           `yaml:"burst"`
	IngestTimeout     time.Duration `yaml:"ingest_timeout"`
	S3Region          string        `yaml:"s3_region"`
	S3Endpoint        string        `yaml:"s3_endpoint"`
	// S3AccessKeyEnv and S3SecretKeyEnv name variables holding static keys.
	// When either is unset the default AWS credential chain is used.
	S3AccessKeyEnv string `yaml:"s3_access_key_env"`
	S3SecretKeyEnv string `yaml:"s3_secret_key_env"`
}

// S3Keys returns the static S3 keys from the environment, or empty strings.
func (i *IngestConfig) S3Keys() (accessKey, secretKey string) {
	if i.S3AccessKeyEnv == "" || i.S3SecretKeyEnv == "" {
		return "", ""
	}
	return os.Getenv(i.S3AccessKeyEnv), os.Getenv(i.S3SecretKeyEnv)
}

// EmbeddingConfig selects and tunes the embedding model.
type EmbeddingConfig struct {
	Provider   string        `yaml:"provider"` // hash, onnx, openai or gemini
	Model      string        `yaml:"model"`
	ModelPath  string        `yaml:"model_path"`
	Dimensions int           `yaml:"dimensions"`
	MaxTokens  int           `yaml:"max_tokens"`
	CacheSize  int           `yaml:"cache_size"`
	BatchSize  int           `yaml:"batch_size"`
	Timeout    time.Duration `yaml:"timeout"`
	BaseURL    string        `yaml:"base_url"`
	APIKeyEnv  string        `yaml:"api_key_env"`
}

// APIKey returns the provider key from the environment.
func (e *EmbeddingConfig) APIKey() string { return os.Getenv(e.APIKeyEnv) }

// IndexConfig holds vector and keyword index settings.
type IndexConfig struct {
	Type           string  `yaml:"type"` // memory, chromem or faiss
	Path           string  `yaml:"path"`
	RetrieveK      int     `yaml:"retrieve_k"`
	Hybrid         *bool   `yaml:"hybrid"`
	KeywordPath    string  `yaml:"keyword_path"` // empty keeps the keyword index in memory
	KeywordWeight  float64 `yaml:"keyword_weight"`
	SemanticWeight float64 `yaml:"semantic_weight"`
}

// HybridOrDefault reports whether keyword retrieval runs alongside vector search; defaults to true.
func (i *IndexConfig) HybridOrDefault() bool {
	if i.Hybrid != nil {
		return *i.Hybrid
	}
	return true
}

// RerankConfig selects the cross-encoder.
type RerankConfig struct {
	Provider         string        `yaml:"provider"` // lexical, onnx, http or none
	Model            string        `yaml:"model"`
	ModelPath        string        `yaml:"model_path"`
	URL              string        `yaml:"url"`
	TopK             int           `yaml:"top_k"`
	Timeout          time.Duration `yaml:"timeout"`
	SimilarityWeight float64       `yaml:"similarity_weight"`
	CrossWeight      float64       `yaml:"cross_weight"`
	MaxTokens        int           `yaml:"max_tokens"`
}

// LLMConfig selects the generative backend.
type LLMConfig struct {
	Provider          string        `yaml:"provider"` // none, openai or gemini
	Model             string        `yaml:"model"`
	BaseURL           string        `yaml:"base_url"`
	APIKeyEnv         string        `yaml:"api_key_env"`
	MaxTokens         int           `yaml:"max_tokens"`
	Temperature       *float64      `yaml:"temperature"`
	Timeout           time.Duration `yaml:"timeout"`
	ContextBudget     int           `yaml:"context_budget"` // characters of passage text sent to the model
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	Burst             int           `yaml:"burst"`
	Cooldown          time.Duration `yaml:"cooldown"`
}

// APIKey returns the provider key from the environment.
func (l *LLMConfig) APIKey() string { return os.Getenv(l.APIKeyEnv) }

// TemperatureOrDefault returns the sampling temperature; defaults to 0.1.
func (l *LLMConfig) TemperatureOrDefault() float64 {
	if l.Temperature != nil {
		return *l.Temperature
	}
	return 0.1
}

// QueryConfig bounds per-question work.
type QueryConfig struct {
	MaxConcurrency int           `yaml:"max_concurrency"`
	QueryTimeout   time.Duration `yaml:"query_timeout"`
}

// WatchConfig holds directory watch settings.
type WatchConfig struct {
	Directories []string      `yaml:"directories"`
	Extensions  []string      `yaml:"extensions"`
	Recursive   *bool         `yaml:"recursive"`
	Debounce    time.Duration `yaml:"debounce"`
}

// RecursiveOrDefault returns whether to watch recursively; defaults to true when unset.
func (w *WatchConfig) RecursiveOrDefault() bool {
	if w.Recursive != nil {
		return *w.Recursive
	}
	return true
}

// Load reads and parses the config file at path, applies defaults, expands paths
// and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	ApplyDefaults(&cfg)
	cfg.expandPaths(filepath.Dir(path))
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns a configuration built only from defaults, with
// relative paths resolved against the home directory.
func Default() *Config {
	var cfg Config
	ApplyDefaults(&cfg)
	cfg.expandPaths(".")
	return &cfg
}

// Save writes the config to path.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

func (c *Config) expandPaths(configDir string) {
	c.Storage.DatabasePath = expandPath(c.Storage.DatabasePath, configDir)
	c.Storage.DataDir = expandPath(c.Storage.DataDir, configDir)
	c.Index.Path = expandPath(c.Index.Path, configDir)
	c.Index.KeywordPath = expandPath(c.Index.KeywordPath, configDir)
	c.Embedding.ModelPath = expandPath(c.Embedding.ModelPath, configDir)
	c.Rerank.ModelPath = expandPath(c.Rerank.ModelPath, configDir)
	for i := range c.Watch.Directories {
		c.Watch.Directories[i] = expandPath(c.Watch.Directories[i], configDir)
	}
}

// expandPath converts a path to absolute. Paths starting with "./" are relative to configDir;
// other relative paths (and "~/") are relative to the home directory. Empty stays empty.
func expandPath(path string, configDir string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." {
		return filepath.Join(configDir, path)
	}
	path = strings.TrimPrefix(path, "~/")
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, path)
	}
	return path
}
