// Package retrieval turns a question into ranked retrieval candidates by running
// vector search and keyword search over the chunk indexes.
package retrieval

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hyperjump/kotae/internal/errs"
	"github.com/hyperjump/kotae/internal/keyword"
	"github.com/hyperjump/kotae/internal/models"
	"github.com/hyperjump/kotae/internal/vector"
	"github.com/hyperjump/kotae/pkg/utils"
)

// Embedder embeds the query text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// VectorSearcher is the read side of a vector index.
type VectorSearcher interface {
	Search(ctx context.Context, query []float32, k int, opts ...vector.SearchOption) ([]vector.Hit, error)
}

// KeywordSearcher is the read side of a keyword index.
type KeywordSearcher interface {
	Search(ctx context.Context, query string, limit int, opts *keyword.SearchOptions) ([]keyword.Hit, error)
}

// Mode records which signals produced a result set.
type Mode string

const (
	ModeSemantic Mode = "semantic"
	ModeHybrid   Mode = "hybrid"
	ModeLexical  Mode = "lexical"
)

// Config tunes retrieval.
type Config struct {
	// Hybrid runs keyword search alongside vector search and fuses the scores.
	Hybrid         bool
	SemanticWeight float64
	KeywordWeight  float64
	// PhraseBoost is passed to the keyword index.
	PhraseBoost float64
}

// Result is the candidate list for one question.
type Result struct {
	Candidates []models.Candidate
	Mode       Mode
	// EmbedErr is set when the query could not be embedded and keyword search
	// stood in for vector search.
	EmbedErr error
	// SearchErr is set when the vector index failed the search and keyword
	// search stood in for it.
	SearchErr error
}

// Retriever runs vector and keyword search for a question.
type Retriever struct {
	embedder Embedder
	vectors  VectorSearcher
	keywords KeywordSearcher
	cfg      Config
	logger   *zap.Logger
}

// Option configures a Retriever.
type Option func(*Retriever)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(r *Retriever) { r.logger = l }
}

// New creates a Retriever. keywords may be nil, in which case retrieval is
// purely semantic and an embedding failure is returned to the caller.
func New(embedder Embedder, vectors VectorSearcher, keywords KeywordSearcher, cfg Config, opts ...Option) *Retriever {
	r := &Retriever{embedder: embedder, vectors: vectors, keywords: keywords, cfg: cfg}
	for _, o := range opts {
		o(r)
	}
	r.logger = utils.OrNop(r.logger)
	return r
}

// Retrieve returns up to k candidates for query from the chunks of documentID
// (all documents when empty), best first. With hybrid retrieval enabled both
// searches run concurrently. When the query cannot be embedded or the vector
// index fails, the keyword index alone provides candidates.
func (r *Retriever) Retrieve(ctx context.Context, documentID, query string, k int) (*Result, error) {
	if k <= 0 {
		return nil, errs.E(errs.InvalidInput, "retrieve", "k must be positive, got %d", k)
	}
	hybrid := r.cfg.Hybrid && r.keywords != nil

	var (
		semantic  []vector.Hit
		lexical   []keyword.Hit
		embedErr  error
		searchErr error
		kwErr     error
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		vec, err := r.embedder.Embed(gctx, query)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			embedErr = err
			return nil
		}
		var opts []vector.SearchOption
		if documentID != "" {
			opts = append(opts, vector.InDocument(documentID))
		}
		hits, err := r.vectors.Search(gctx, vec, k, opts...)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			searchErr = fmt.Errorf("vector search failed: %w", err)
			return nil
		}
		semantic = hits
		return nil
	})
	if hybrid {
		g.Go(func() error {
			lexical, kwErr = r.searchKeywords(gctx, documentID, query, k)
			if kwErr != nil && ctx.Err() != nil {
				return ctx.Err()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if embedErr != nil {
		res, err := r.lexicalFallback(ctx, documentID, query, k, lexical, hybrid && kwErr == nil, embedErr)
		if err != nil {
			return nil, err
		}
		res.EmbedErr = embedErr
		return res, nil
	}
	if searchErr != nil {
		res, err := r.lexicalFallback(ctx, documentID, query, k, lexical, hybrid && kwErr == nil, searchErr)
		if err != nil {
			return nil, err
		}
		res.SearchErr = searchErr
		return res, nil
	}

	if !hybrid {
		return &Result{Candidates: truncate(FromSemantic(semantic), k), Mode: ModeSemantic}, nil
	}
	if kwErr != nil {
		r.logger.Warn("keyword search failed, using semantic results only",
			zap.String("document_id", documentID), zap.Error(kwErr))
		return &Result{Candidates: truncate(FromSemantic(semantic), k), Mode: ModeSemantic}, nil
	}
	fused := Fuse(semantic, lexical, r.cfg.SemanticWeight, r.cfg.KeywordWeight)
	return &Result{Candidates: truncate(fused, k), Mode: ModeHybrid}, nil
}

// lexicalFallback serves a question from the keyword index after semantic
// retrieval failed with cause. done reports whether keyword search already ran.
func (r *Retriever) lexicalFallback(ctx context.Context, documentID, query string, k int, lexical []keyword.Hit, done bool, cause error) (*Result, error) {
	if r.keywords == nil {
		return nil, cause
	}
	r.logger.Warn("semantic retrieval unavailable, falling back to keyword retrieval",
		zap.String("document_id", documentID), zap.Error(cause))

	if !done {
		hits, err := r.searchKeywords(ctx, documentID, query, k)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, errors.Join(cause, err)
		}
		lexical = hits
	}
	return &Result{Candidates: truncate(FromKeyword(lexical), k), Mode: ModeLexical}, nil
}

// RetrieveLexical serves query from the keyword index alone. The orchestrator
// uses it for documents whose chunks have no vectors yet.
func (r *Retriever) RetrieveLexical(ctx context.Context, documentID, query string, k int) (*Result, error) {
	if k <= 0 {
		return nil, errs.E(errs.InvalidInput, "retrieve", "k must be positive, got %d", k)
	}
	if r.keywords == nil {
		return nil, errs.E(errs.EmbeddingUnavailable, "retrieve", "document has no vectors and keyword search is not configured")
	}
	hits, err := r.searchKeywords(ctx, documentID, query, k)
	if err != nil {
		return nil, err
	}
	return &Result{Candidates: truncate(FromKeyword(hits), k), Mode: ModeLexical}, nil
}

func (r *Retriever) searchKeywords(ctx context.Context, documentID, query string, k int) ([]keyword.Hit, error) {
	hits, err := r.keywords.Search(ctx, query, k, &keyword.SearchOptions{
		DocumentID:  documentID,
		PhraseBoost: r.cfg.PhraseBoost,
	})
	if err != nil {
		return nil, fmt.Errorf("keyword search failed: %w", err)
	}
	return hits, nil
}

func truncate(c []models.Candidate, k int) []models.Candidate {
	if len(c) > k {
		return c[:k]
	}
	return c
}
