package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/kotae/internal/errs"
	"github.com/hyperjump/kotae/internal/extract"
	"github.com/hyperjump/kotae/internal/models"
)

// Result is the output of one ingestion: the document record and its chunks.
type Result struct {
	Document models.Document
	Chunks   []models.Chunk
}

// Ingestor turns a document reference into chunks. It has no side effects
// beyond fetching; storing and indexing the result is the caller's job.
type Ingestor struct {
	fetcher   Fetcher
	extractor *extract.Extractor
	chunker   *Chunker
	logger    *zap.Logger
}

// Option configures an Ingestor.
type Option func(*Ingestor)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(in *Ingestor) { in.logger = l }
}

// NewIngestor creates an Ingestor. fetcher may be nil when only IngestBytes is used.
func NewIngestor(fetcher Fetcher, extractor *extract.Extractor, chunker *Chunker, opts ...Option) *Ingestor {
	in := &Ingestor{fetcher: fetcher, extractor: extractor, chunker: chunker}
	for _, o := range opts {
		o(in)
	}
	return in
}

// Ingest fetches ref and chunks it as document docID. hint may be empty.
func (in *Ingestor) Ingest(ctx context.Context, docID, ref string, hint models.Format) (*Result, error) {
	if in.fetcher == nil {
		return nil, errs.E(errs.InvalidInput, "ingest", "fetching documents by reference is not configured")
	}
	src, err := in.fetcher.Fetch(ctx, ref)
	if err != nil {
		return nil, err
	}
	res, err := in.IngestBytes(ctx, docID, src.Name, src.ContentType, src.Data, hint)
	if err != nil {
		return nil, err
	}
	res.Document.Source = ref
	return res, nil
}

// IngestBytes chunks already-fetched content. name and contentType feed format detection.
func (in *Ingestor) IngestBytes(ctx context.Context, docID, name, contentType string, data []byte, hint models.Format) (*Result, error) {
	start := time.Now()
	format, err := DetectFormat(hint, contentType, name, data)
	if err != nil {
		return nil, err
	}
	if !in.extractor.Supports(format) {
		return nil, errs.E(errs.UnsupportedFormat, "ingest", "format %q is not supported", format)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	x, err := in.extractor.Extract(data, format)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	chunks := in.chunker.Chunk(docID, x)

	sum := sha256.Sum256(data)
	now := time.Now().UTC()
	title := x.Title
	if title == "" {
		title = strings.TrimSuffix(name, pathExt(name))
	}
	doc := models.Document{
		ID:          docID,
		Source:      name,
		Title:       title,
		Format:      format,
		Status:      models.StatusParsed,
		SizeBytes:   int64(len(data)),
		PageCount:   len(x.Pages),
		ChunkCount:  len(chunks),
		ContentHash: hex.EncodeToString(sum[:]),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if in.logger != nil {
		in.logger.Debug("document chunked",
			zap.String("doc_id", docID),
			zap.String("format", string(format)),
			zap.Int("pages", doc.PageCount),
			zap.Int("chunks", len(chunks)),
			zap.Duration("elapsed", time.Since(start)))
	}
	return &Result{Document: doc, Chunks: chunks}, nil
}

func pathExt(name string) string {
	if i := strings.LastIndexByte(name, '.'); i > 0 {
		return name[i:]
	}
	return ""
}
