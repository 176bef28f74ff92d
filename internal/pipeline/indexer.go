package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/kotae/internal/docid"
	"github.com/hyperjump/kotae/internal/errs"
	"github.com/hyperjump/kotae/internal/ingest"
	"github.com/hyperjump/kotae/internal/models"
	"github.com/hyperjump/kotae/internal/vector"
)

// Document metadata keys.
const (
	metaOrigin      = "origin"
	metaSourcePath  = "source_path"
	metaSourceMtime = "source_mtime"
	metaSourceSize  = "source_size"
)

// Values of metaOrigin.
const (
	originSource = "source"
	originUpload = "upload"
	originFile   = "file"
)

// loadFunc fetches and chunks a document.
type loadFunc func(ctx context.Context) (*ingest.Result, error)

// ensureIndexed returns docID once it can be searched, ingesting it with load
// when needed. force re-ingests even an indexed document. Concurrent calls for
// the same document join one ingestion, which runs detached from the callers'
// contexts so a caller that gives up does not abort it for the others.
func (o *Orchestrator) ensureIndexed(ctx context.Context, docID string, load loadFunc, force bool) (*models.Document, error) {
	if !force {
		if doc, err := o.store.GetDocument(ctx, docID); err == nil && o.searchable(ctx, doc) {
			return doc, nil
		}
	}

	key := docID
	if force {
		key += "#force"
	}
	ch := o.flight.DoChan(key, func() (interface{}, error) {
		fctx := context.WithoutCancel(ctx)
		if o.cfg.IngestTimeout > 0 {
			var cancel context.CancelFunc
			fctx, cancel = context.WithTimeout(fctx, o.cfg.IngestTimeout)
			defer cancel()
		}
		return o.index(fctx, docID, load, force)
	})

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("ingest %s: %w", docID, ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		doc := *res.Val.(*models.Document)
		return &doc, nil
	}
}

// searchable reports whether doc can be queried as it is: either its vectors
// are current, or embedding is down and its keyword entries are complete.
func (o *Orchestrator) searchable(ctx context.Context, doc *models.Document) bool {
	if !o.keywordsComplete(ctx, doc) {
		return false
	}
	if o.vectorsCurrent(doc) {
		return true
	}
	return doc.Status == models.StatusParsed && o.keywords != nil && o.embedder.LastError() != nil
}

// vectorsCurrent reports whether every chunk of doc has a vector from the
// current embedding model.
func (o *Orchestrator) vectorsCurrent(doc *models.Document) bool {
	return doc.Status == models.StatusIndexed &&
		doc.ModelVersion == o.embedder.Model() &&
		doc.ChunkCount > 0 &&
		o.vectors.Count(doc.ID) == doc.ChunkCount
}

func (o *Orchestrator) keywordsComplete(ctx context.Context, doc *models.Document) bool {
	if o.keywords == nil {
		return true
	}
	n, err := o.keywords.Count(ctx, doc.ID)
	return err == nil && n == doc.ChunkCount
}

// index runs under the document lock. A document whose chunks are already
// stored is re-embedded from them; anything else is loaded from its source.
func (o *Orchestrator) index(ctx context.Context, docID string, load loadFunc, force bool) (*models.Document, error) {
	unlock := o.locks.lock(docID)
	defer unlock()

	existing, err := o.store.GetDocument(ctx, docID)
	if err != nil {
		if !errs.IsKind(err, errs.NotFound) {
			return nil, fmt.Errorf("look up document: %w", err)
		}
		existing = nil
	}

	if existing != nil && !force {
		if o.searchable(ctx, existing) {
			return existing, nil
		}
		if existing.Status == models.StatusParsed || existing.Status == models.StatusIndexed {
			chunks, err := o.store.GetChunks(ctx, docID)
			if err == nil && len(chunks) > 0 && len(chunks) == existing.ChunkCount {
				o.logger.Info("rebuilding indexes from stored chunks",
					zap.String("doc_id", docID),
					zap.String("model", o.embedder.Model()),
					zap.Int("chunks", len(chunks)))
				return o.indexChunks(ctx, existing, chunks)
			}
		}
	}

	if load == nil {
		load = o.reloader(existing)
	}
	if load == nil {
		return nil, errs.E(errs.NotFound, "ingest", "document %s is not indexed and has no source to ingest from", docID)
	}

	start := time.Now()
	res, err := load(ctx)
	if err != nil {
		o.markFailed(ctx, existing, err)
		return nil, err
	}
	doc := res.Document
	doc.ID = docID
	if existing != nil {
		doc.CreatedAt = existing.CreatedAt
	}
	if err := o.store.SaveDocument(ctx, &doc); err != nil {
		return nil, fmt.Errorf("save document: %w", err)
	}
	if err := o.store.ReplaceChunks(ctx, docID, res.Chunks); err != nil {
		return nil, fmt.Errorf("store chunks: %w", err)
	}
	out, err := o.indexChunks(ctx, &doc, res.Chunks)
	if err != nil {
		return nil, err
	}
	o.logger.Info("document ingested",
		zap.String("doc_id", docID),
		zap.String("source", doc.Source),
		zap.String("format", string(doc.Format)),
		zap.String("status", string(out.Status)),
		zap.Int("chunks", len(res.Chunks)),
		zap.Duration("elapsed", time.Since(start)))
	return out, nil
}

// indexChunks embeds chunks into the vector index and adds them to the keyword
// index. When embedding fails the document keeps status parsed and is served
// from the keyword index until its vectors can be built.
func (o *Orchestrator) indexChunks(ctx context.Context, doc *models.Document, chunks []models.Chunk) (*models.Document, error) {
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	vecs, embedErr := o.embedder.EmbedBatch(ctx, texts)
	if embedErr != nil && ctx.Err() != nil {
		return nil, fmt.Errorf("embed chunks: %w", ctx.Err())
	}

	if embedErr == nil {
		entries := make([]vector.Entry, len(chunks))
		for i := range chunks {
			entries[i] = vector.Entry{Chunk: chunks[i], Vector: vecs[i]}
		}
		if err := o.vectors.Add(ctx, doc.ID, entries); err != nil {
			return nil, errs.Wrap(errs.Internal, "index", err, "vector index rejected the document")
		}
	} else {
		if o.keywords == nil {
			return nil, errs.Wrap(errs.EmbeddingUnavailable, "index", embedErr, "cannot embed the document and keyword search is disabled")
		}
		o.logger.Warn("embedding unavailable at ingestion, serving document from the keyword index",
			zap.String("doc_id", doc.ID),
			zap.String("fallback", "keyword"),
			zap.Error(embedErr))
		if err := o.vectors.Remove(ctx, doc.ID); err != nil {
			return nil, errs.Wrap(errs.Internal, "index", err, "cannot drop stale vectors")
		}
	}
	if o.keywords != nil {
		if err := o.keywords.Add(ctx, doc.ID, chunks); err != nil {
			return nil, fmt.Errorf("keyword index: %w", err)
		}
	}

	now := time.Now().UTC()
	doc.ChunkCount = len(chunks)
	doc.UpdatedAt = now
	if embedErr == nil {
		doc.Status = models.StatusIndexed
		doc.ModelVersion = o.embedder.Model()
		doc.IndexedAt = &now
		doc.Error = ""
	} else {
		doc.Status = models.StatusParsed
		doc.ModelVersion = ""
		doc.Error = errs.ToBody(embedErr).Message
	}
	if err := o.store.SaveDocument(ctx, doc); err != nil {
		return nil, fmt.Errorf("save document: %w", err)
	}
	o.persist()
	return doc, nil
}

// markFailed records a failed ingestion. A document with a usable index keeps it.
func (o *Orchestrator) markFailed(ctx context.Context, doc *models.Document, cause error) {
	if doc == nil {
		return
	}
	if doc.Status == models.StatusIndexed {
		o.logger.Warn("re-ingestion failed, keeping previous index",
			zap.String("doc_id", doc.ID), zap.Error(cause))
		return
	}
	doc.Status = models.StatusFailed
	doc.Error = errs.ToBody(cause).Message
	doc.UpdatedAt = time.Now().UTC()
	if err := o.store.SaveDocument(ctx, doc); err != nil {
		o.logger.Warn("record failed ingestion", zap.String("doc_id", doc.ID), zap.Error(err))
	}
}

// reloader returns a loader for a known document whose chunks are gone, or nil
// when the content cannot be fetched again (uploads).
func (o *Orchestrator) reloader(doc *models.Document) loadFunc {
	if doc == nil || doc.Source == "" {
		return nil
	}
	switch doc.Metadata[metaOrigin] {
	case originUpload:
		return nil
	case originFile:
		return o.fileLoader(doc.ID, doc.Source)
	}
	return o.sourceLoader(doc.ID, doc.Source, doc.Format)
}

func (o *Orchestrator) sourceLoader(docID, ref string, hint models.Format) loadFunc {
	return func(ctx context.Context) (*ingest.Result, error) {
		res, err := o.ingestor.Ingest(ctx, docID, ref, hint)
		if err != nil {
			return nil, err
		}
		res.Document.Metadata = map[string]string{metaOrigin: originSource}
		return res, nil
	}
}

func (o *Orchestrator) bytesLoader(docID, name string, data []byte, hint models.Format) loadFunc {
	return func(ctx context.Context) (*ingest.Result, error) {
		res, err := o.ingestor.IngestBytes(ctx, docID, name, "", data, hint)
		if err != nil {
			return nil, err
		}
		res.Document.Metadata = map[string]string{metaOrigin: originUpload}
		return res, nil
	}
}

func (o *Orchestrator) fileLoader(docID, absPath string) loadFunc {
	return func(ctx context.Context) (*ingest.Result, error) {
		info, err := os.Stat(absPath)
		if err != nil {
			return nil, errs.Wrap(errs.SourceUnavailable, "index file", err, "cannot read file")
		}
		if o.cfg.MaxFileBytes > 0 && info.Size() > o.cfg.MaxFileBytes {
			return nil, errs.E(errs.SourceUnavailable, "index file", "file is larger than %d bytes", o.cfg.MaxFileBytes)
		}
		data, err := os.ReadFile(absPath)
		if err != nil {
			return nil, errs.Wrap(errs.SourceUnavailable, "index file", err, "cannot read file")
		}
		res, err := o.ingestor.IngestBytes(ctx, docID, filepath.Base(absPath), "", data, "")
		if err != nil {
			return nil, err
		}
		res.Document.Source = absPath
		res.Document.Metadata = map[string]string{
			metaOrigin:      originFile,
			metaSourcePath:  absPath,
			metaSourceMtime: strconv.FormatInt(info.ModTime().UnixNano(), 10),
			metaSourceSize:  strconv.FormatInt(info.Size(), 10),
		}
		return res, nil
	}
}

// FileDocID returns the document id of a local file.
func FileDocID(absPath string) string {
	return docid.FromSource(absPath)
}

// IndexFile ingests a local file, keyed by its absolute path so re-indexing
// updates the same document. If allowedExts is non-empty the extension must be in
// it. A file already indexed with the same mtime and size is not read again.
func (o *Orchestrator) IndexFile(ctx context.Context, path string, allowedExts []string) (*models.Document, error) {
	o.logger.Debug("indexing file", zap.String("path", path))
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("absolute path: %w", err)
	}
	ext := strings.ToLower(filepath.Ext(absPath))
	if len(allowedExts) > 0 && !extensionAllowed(ext, allowedExts) {
		return nil, errs.E(errs.UnsupportedFormat, "index file", "extension %q not in allowed list", ext)
	}
	info, err := os.Stat(absPath)
	if err != nil {
		return nil, errs.Wrap(errs.SourceUnavailable, "index file", err, "cannot stat file")
	}
	if !info.Mode().IsRegular() {
		return nil, errs.E(errs.InvalidInput, "index file", "not a regular file: %s", absPath)
	}

	docID := FileDocID(absPath)
	unchanged := o.unchangedFile(ctx, docID, absPath, info)
	if unchanged {
		o.logger.Debug("file unchanged since last ingestion", zap.String("path", absPath))
	}
	doc, err := o.ensureIndexed(ctx, docID, o.fileLoader(docID, absPath), !unchanged)
	if err != nil {
		return nil, err
	}
	o.logger.Debug("file indexed", zap.String("path", absPath), zap.String("doc_id", docID))
	return doc, nil
}

// unchangedFile reports whether docID was ingested from absPath with the same
// modification time and size.
func (o *Orchestrator) unchangedFile(ctx context.Context, docID, absPath string, info os.FileInfo) bool {
	doc, err := o.store.GetDocument(ctx, docID)
	if err != nil || doc.Metadata[metaSourcePath] != absPath {
		return false
	}
	// Stored as decimal strings; UnixNano does not survive a float64 round trip.
	mtime, _ := strconv.ParseInt(doc.Metadata[metaSourceMtime], 10, 64)
	size, _ := strconv.ParseInt(doc.Metadata[metaSourceSize], 10, 64)
	return mtime == info.ModTime().UnixNano() && size == info.Size()
}

// IndexDirectory walks dir recursively and indexes each regular file whose
// extension is in allowedExts (all files when empty). It returns the number of
// files indexed and the first error encountered.
func (o *Orchestrator) IndexDirectory(ctx context.Context, dir string, allowedExts []string) (n int, err error) {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return 0, fmt.Errorf("absolute path: %w", err)
	}
	info, err := os.Stat(absDir)
	if err != nil {
		return 0, fmt.Errorf("stat directory: %w", err)
	}
	if !info.IsDir() {
		return 0, fmt.Errorf("not a directory: %s", absDir)
	}
	err = filepath.WalkDir(absDir, func(path string, d os.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() {
			return nil
		}
		if len(allowedExts) > 0 && !extensionAllowed(filepath.Ext(path), allowedExts) {
			return nil
		}
		// follows symlinks
		finfo, statErr := os.Stat(path)
		if statErr != nil || !finfo.Mode().IsRegular() {
			return nil
		}
		if _, err := o.IndexFile(ctx, path, allowedExts); err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		n++
		return nil
	})
	return n, err
}

// RemoveFile removes the document ingested from a local file.
func (o *Orchestrator) RemoveFile(ctx context.Context, path string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("absolute path: %w", err)
	}
	return o.RemoveDocument(ctx, FileDocID(absPath))
}

func extensionAllowed(ext string, allowed []string) bool {
	ext = strings.ToLower(strings.TrimPrefix(ext, "."))
	for _, a := range allowed {
		if strings.ToLower(strings.TrimPrefix(a, ".")) == ext {
			return true
		}
	}
	return false
}
