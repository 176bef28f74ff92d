package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/hyperjump/kotae/internal/config"
	"github.com/hyperjump/kotae/internal/embedding"
	"github.com/hyperjump/kotae/internal/extract"
	"github.com/hyperjump/kotae/internal/ingest"
	"github.com/hyperjump/kotae/internal/keyword"
	"github.com/hyperjump/kotae/internal/llm"
	"github.com/hyperjump/kotae/internal/rerank"
	"github.com/hyperjump/kotae/internal/retrieval"
	"github.com/hyperjump/kotae/internal/storage"
	"github.com/hyperjump/kotae/internal/synth"
	"github.com/hyperjump/kotae/internal/vector"
	"github.com/hyperjump/kotae/pkg/utils"
)

// phraseBoost weights quoted phrases in keyword queries.
const phraseBoost = 1.5

// NewFromConfig opens storage and indexes and builds every backend named by cfg.
// A persisted vector index built with another embedding model is discarded;
// documents are re-embedded from their stored chunks on first use.
func NewFromConfig(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Orchestrator, error) {
	logger = utils.OrNop(logger)
	var closers []io.Closer
	fail := func(err error) (*Orchestrator, error) {
		for i := len(closers) - 1; i >= 0; i-- {
			_ = closers[i].Close()
		}
		return nil, err
	}

	store, err := storage.New(ctx, cfg.Storage)
	if err != nil {
		return fail(fmt.Errorf("open storage: %w", err))
	}
	closers = append(closers, store)

	emb, err := embedding.New(cfg.Embedding, logger)
	if err != nil {
		return fail(fmt.Errorf("embedding: %w", err))
	}
	closers = append(closers, emb)

	vectors, err := vector.New(vector.Options{
		Type:       cfg.Index.Type,
		Dimensions: emb.Dimensions(),
		Model:      emb.Model(),
		Path:       cfg.Index.Path,
	})
	if err != nil {
		return fail(fmt.Errorf("vector index: %w", err))
	}
	closers = append(closers, vectors)
	if err := vectors.Load(); err != nil {
		if !errors.Is(err, vector.ErrModelMismatch) {
			return fail(fmt.Errorf("load vector index: %w", err))
		}
		logger.Warn("vector index was built with another embedding model, starting empty",
			zap.String("model", emb.Model()), zap.Error(err))
		if err := vectors.Reset(ctx); err != nil {
			return fail(fmt.Errorf("reset vector index: %w", err))
		}
	}

	var keywords keyword.Index
	var stats rerank.StatsSource
	if cfg.Index.HybridOrDefault() || cfg.Rerank.Provider == "" || cfg.Rerank.Provider == "lexical" {
		bi, err := keyword.NewBleveIndex(cfg.Index.KeywordPath)
		if err != nil {
			return fail(fmt.Errorf("keyword index: %w", err))
		}
		closers = append(closers, bi)
		keywords, stats = bi, bi
	}

	reranker, err := rerank.NewFromConfig(cfg.Rerank, stats, logger)
	if err != nil {
		return fail(fmt.Errorf("reranker: %w", err))
	}
	closers = append(closers, reranker)

	gen, err := llm.New(ctx, cfg.LLM)
	if err != nil {
		return fail(fmt.Errorf("llm: %w", err))
	}
	synthesizer := synth.New(gen, cfg.LLM, synth.WithLogger(logger))
	closers = append(closers, synthesizer)

	deps := Deps{
		Store:    store,
		Ingestor: newIngestor(ctx, cfg, logger),
		Embedder: emb,
		Vectors:  vectors,
		Keywords: keywords,
		Reranker: reranker,
		Synth:    synthesizer,
	}
	o, err := New(deps, Config{
		Retrieval: retrieval.Config{
			Hybrid:         cfg.Index.HybridOrDefault(),
			SemanticWeight: cfg.Index.SemanticWeight,
			KeywordWeight:  cfg.Index.KeywordWeight,
			PhraseBoost:    phraseBoost,
		},
		RetrieveK:      cfg.Index.RetrieveK,
		MaxConcurrency: cfg.Query.MaxConcurrency,
		QueryTimeout:   cfg.Query.QueryTimeout,
		IngestTimeout:  cfg.Ingest.IngestTimeout,
		MaxFileBytes:   cfg.Ingest.MaxDocumentBytes,
		DiskPaths:      diskPaths(cfg),
	}, WithLogger(logger))
	if err != nil {
		return fail(err)
	}
	logger.Info("pipeline ready",
		zap.String("storage", cfg.Storage.Driver),
		zap.String("embedding", emb.Model()),
		zap.String("index", vectors.Type()),
		zap.Int("vectors", vectors.Size()),
		zap.Bool("keyword_index", keywords != nil),
		zap.String("rerank", reranker.Backend()),
		zap.String("answers", synthesizer.Mode()))
	return o, nil
}

// newIngestor routes http(s), s3 and local references. Without AWS
// configuration s3:// references are rejected instead of failing startup.
func newIngestor(ctx context.Context, cfg *config.Config, logger *zap.Logger) *ingest.Ingestor {
	ic := cfg.Ingest
	fetcher := &ingest.MultiFetcher{
		HTTP: ingest.NewHTTPFetcher(ingest.HTTPConfig{
			Timeout:           ic.FetchTimeout,
			MaxBytes:          ic.MaxDocumentBytes,
			UserAgent:         ic.UserAgent,
			RequestsPerSecond: ic.RequestsPerSecond,
			Burst:             ic.Burst,
		}, ingest.WithFetchLogger(logger)),
		File: ingest.NewFileFetcher("", ic.MaxDocumentBytes),
	}
	accessKey, secretKey := ic.S3Keys()
	s3opts := ingest.S3Options{
		Region:          ic.S3Region,
		Endpoint:        ic.S3Endpoint,
		AccessKeyID:     accessKey,
		SecretAccessKey: secretKey,
	}
	if s3f, err := ingest.NewS3Fetcher(ctx, s3opts, ic.MaxDocumentBytes); err != nil {
		logger.Warn("s3 sources disabled", zap.Error(err))
	} else {
		fetcher.S3 = s3f
	}
	chunker := ingest.NewChunker(ic.ChunkSize, ic.ChunkOverlap, ic.MinChunkSize)
	return ingest.NewIngestor(fetcher, extract.NewExtractor(extract.WithLogger(logger)), chunker, ingest.WithLogger(logger))
}

func diskPaths(cfg *config.Config) map[string]string {
	paths := map[string]string{}
	if cfg.Storage.Driver == "" || cfg.Storage.Driver == "sqlite" {
		paths["database"] = cfg.Storage.DatabasePath
	}
	if cfg.Index.Path != "" {
		paths["vector_index"] = cfg.Index.Path
	}
	if cfg.Index.KeywordPath != "" {
		paths["keyword_index"] = cfg.Index.KeywordPath
	}
	return paths
}
