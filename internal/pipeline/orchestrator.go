// Package pipeline is the query orchestrator. It keeps the document registry,
// makes sure a document is indexed before it is queried, and runs every
// question through retrieval, reranking and answer synthesis.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/hyperjump/kotae/internal/ingest"
	"github.com/hyperjump/kotae/internal/keyword"
	"github.com/hyperjump/kotae/internal/models"
	"github.com/hyperjump/kotae/internal/rerank"
	"github.com/hyperjump/kotae/internal/retrieval"
	"github.com/hyperjump/kotae/internal/storage"
	"github.com/hyperjump/kotae/internal/vector"
	"github.com/hyperjump/kotae/pkg/utils"
)

// Embedder is the embedding engine as seen by the orchestrator.
// embedding.Guard implements it.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
	Model() string
	// LastError is the error of the most recent call, nil after a success.
	LastError() error
	Probe(ctx context.Context) error
	Close() error
}

// Ingestor turns a reference or raw bytes into a document and its chunks.
type Ingestor interface {
	Ingest(ctx context.Context, docID, ref string, hint models.Format) (*ingest.Result, error)
	IngestBytes(ctx context.Context, docID, name, contentType string, data []byte, hint models.Format) (*ingest.Result, error)
}

// Reranker reorders retrieval candidates. rerank.Reranker implements it.
type Reranker interface {
	Rerank(ctx context.Context, query string, candidates []models.Candidate, k int) (*rerank.Result, error)
	Backend() string
	Health() models.ComponentHealth
	Probe(ctx context.Context) error
	Close() error
}

// Synthesizer produces answers from passages. synth.Synthesizer implements it.
type Synthesizer interface {
	Synthesize(ctx context.Context, question string, passages []models.Candidate) (*models.Answer, error)
	Mode() string
	Backend() string
	Health() models.ComponentHealth
	Probe(ctx context.Context) error
	Close() error
}

// Deps are the components the orchestrator drives. Keywords may be nil.
type Deps struct {
	Store    storage.Storage
	Ingestor Ingestor
	Embedder Embedder
	Vectors  vector.Index
	Keywords keyword.Index
	Reranker Reranker
	Synth    Synthesizer
}

// Config tunes the orchestrator.
type Config struct {
	Retrieval      retrieval.Config
	RetrieveK      int
	MaxConcurrency int
	QueryTimeout   time.Duration
	IngestTimeout  time.Duration
	// MaxFileBytes bounds local files indexed by IndexFile; zero means no limit.
	MaxFileBytes int64
	// DiskPaths names the on-disk artifacts reported by Stats.
	DiskPaths map[string]string
}

const (
	defaultRetrieveK      = 20
	defaultMaxConcurrency = 4
)

// Orchestrator answers questions against indexed documents.
type Orchestrator struct {
	store     storage.Storage
	ingestor  Ingestor
	embedder  Embedder
	vectors   vector.Index
	keywords  keyword.Index
	retriever *retrieval.Retriever
	reranker  Reranker
	synth     Synthesizer
	cfg       Config
	logger    *zap.Logger

	flight    singleflight.Group
	locks     *docLocks
	persistMu sync.Mutex
	closeOnce sync.Once
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// New wires an Orchestrator from its components.
func New(deps Deps, cfg Config, opts ...Option) (*Orchestrator, error) {
	switch {
	case deps.Store == nil:
		return nil, errors.New("pipeline: storage is required")
	case deps.Ingestor == nil:
		return nil, errors.New("pipeline: ingestor is required")
	case deps.Embedder == nil:
		return nil, errors.New("pipeline: embedder is required")
	case deps.Vectors == nil:
		return nil, errors.New("pipeline: vector index is required")
	case deps.Reranker == nil:
		return nil, errors.New("pipeline: reranker is required")
	case deps.Synth == nil:
		return nil, errors.New("pipeline: synthesizer is required")
	}
	if cfg.RetrieveK <= 0 {
		cfg.RetrieveK = defaultRetrieveK
	}
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = defaultMaxConcurrency
	}
	o := &Orchestrator{
		store:    deps.Store,
		ingestor: deps.Ingestor,
		embedder: deps.Embedder,
		vectors:  deps.Vectors,
		keywords: deps.Keywords,
		reranker: deps.Reranker,
		synth:    deps.Synth,
		cfg:      cfg,
		locks:    newDocLocks(),
	}
	for _, opt := range opts {
		opt(o)
	}
	o.logger = utils.OrNop(o.logger)

	var kw retrieval.KeywordSearcher
	if deps.Keywords != nil {
		kw = deps.Keywords
	}
	o.retriever = retrieval.New(deps.Embedder, deps.Vectors, kw, cfg.Retrieval, retrieval.WithLogger(o.logger))
	return o, nil
}

// Health reports which backends are currently usable, from the outcome of their
// most recent calls. It does not contact any backend; see Probe.
func (o *Orchestrator) Health(ctx context.Context) models.Health {
	h := models.Health{Mode: o.synth.Mode(), CheckedAt: time.Now().UTC()}

	emb := models.ComponentHealth{Name: "embedding", Backend: o.embedder.Model(), Available: true}
	if err := o.embedder.LastError(); err != nil {
		emb.Available = false
		emb.Detail = err.Error()
	}
	idx := models.ComponentHealth{
		Name:      "vector_index",
		Backend:   o.vectors.Type(),
		Available: true,
		Detail:    fmt.Sprintf("%d vectors", o.vectors.Size()),
	}
	h.Components = append(h.Components, emb, idx)
	if o.keywords != nil {
		kw := models.ComponentHealth{Name: "keyword_index", Backend: "bleve", Available: true}
		if n, err := o.keywords.DocCount(); err != nil {
			kw.Available = false
			kw.Detail = err.Error()
		} else {
			kw.Detail = fmt.Sprintf("%d chunks", n)
		}
		h.Components = append(h.Components, kw)
	}
	h.Components = append(h.Components, o.reranker.Health(), o.synth.Health())

	h.Status = "ok"
	for _, c := range h.Components {
		if !c.Available {
			h.Status = "degraded"
		}
	}
	if n, err := o.store.CountDocuments(ctx); err == nil {
		h.Documents = int(n)
	} else {
		h.Status = "degraded"
		o.logger.Warn("health: count documents", zap.Error(err))
	}
	if n, err := o.store.CountChunks(ctx); err == nil {
		h.Chunks = int(n)
	}
	return h
}

// Probe calls the embedding, reranking and generative backends once each,
// concurrently, and returns the resulting health.
func (o *Orchestrator) Probe(ctx context.Context) models.Health {
	var wg sync.WaitGroup
	probes := []func(context.Context) error{o.embedder.Probe, o.reranker.Probe, o.synth.Probe}
	for _, p := range probes {
		wg.Add(1)
		go func(p func(context.Context) error) {
			defer wg.Done()
			if err := p(ctx); err != nil {
				o.logger.Debug("probe failed", zap.Error(err))
			}
		}(p)
	}
	wg.Wait()
	return o.Health(ctx)
}

// Stats summarizes the registry and indexes.
type Stats struct {
	Documents         int64             `json:"documents"`
	Chunks            int64             `json:"chunks"`
	IndexType         string            `json:"index_type"`
	IndexSize         int               `json:"index_size"`
	Dimensions        int               `json:"dimensions"`
	EmbeddingModel    string            `json:"embedding_model"`
	RerankBackend     string            `json:"rerank_backend"`
	GenerationBackend string            `json:"generation_backend"`
	Mode              string            `json:"mode"`
	Disk              storage.Footprint `json:"disk_usage_bytes,omitempty"`
}

// Stats returns document and chunk counts, index details and disk usage.
func (o *Orchestrator) Stats(ctx context.Context) (*Stats, error) {
	docs, err := o.store.CountDocuments(ctx)
	if err != nil {
		return nil, fmt.Errorf("count documents: %w", err)
	}
	chunks, err := o.store.CountChunks(ctx)
	if err != nil {
		return nil, fmt.Errorf("count chunks: %w", err)
	}
	s := &Stats{
		Documents:         docs,
		Chunks:            chunks,
		IndexType:         o.vectors.Type(),
		IndexSize:         o.vectors.Size(),
		Dimensions:        o.vectors.Dimensions(),
		EmbeddingModel:    o.embedder.Model(),
		RerankBackend:     o.reranker.Backend(),
		GenerationBackend: o.synth.Backend(),
		Mode:              o.synth.Mode(),
	}
	if len(o.cfg.DiskPaths) > 0 {
		fp, err := storage.MeasureFootprint(o.cfg.DiskPaths)
		if err != nil {
			o.logger.Warn("measure disk usage", zap.Error(err))
		}
		s.Disk = fp
	}
	return s, nil
}

// persist writes the vector index to disk. Failures are logged; the index
// stays usable in memory and documents are re-embedded after a restart.
func (o *Orchestrator) persist() {
	o.persistMu.Lock()
	defer o.persistMu.Unlock()
	if err := o.vectors.Persist(); err != nil {
		o.logger.Warn("persist vector index", zap.Error(err))
	}
}

// Close persists the vector index and releases every component.
func (o *Orchestrator) Close() error {
	var err error
	o.closeOnce.Do(func() {
		o.persist()
		errs := []error{o.vectors.Close()}
		if o.keywords != nil {
			errs = append(errs, o.keywords.Close())
		}
		errs = append(errs,
			o.reranker.Close(),
			o.synth.Close(),
			o.embedder.Close(),
			o.store.Close(),
		)
		err = errors.Join(errs...)
	})
	return err
}

// docLocks serializes index mutations per document id.
type docLocks struct {
	mu    sync.Mutex
	locks map[string]*docLock
}

type docLock struct {
	mu   sync.Mutex
	refs int
}

func newDocLocks() *docLocks {
	return &docLocks{locks: make(map[string]*docLock)}
}

// lock acquires the lock for id and returns its release function.
func (d *docLocks) lock(id string) func() {
	d.mu.Lock()
	l, ok := d.locks[id]
	if !ok {
		l = &docLock{}
		d.locks[id] = l
	}
	l.refs++
	d.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		d.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(d.locks, id)
		}
		d.mu.Unlock()
	}
}
