package pipeline

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/hyperjump/kotae/internal/docid"
	"github.com/hyperjump/kotae/internal/errs"
	"github.com/hyperjump/kotae/internal/models"
)

// AddDocument ingests the document at ref (URL, s3:// or local path) unless it
// is already indexed; force re-ingests it.
func (o *Orchestrator) AddDocument(ctx context.Context, ref string, hint models.Format, force bool) (*models.Document, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, errs.E(errs.InvalidInput, "add document", "document reference is required")
	}
	id := docid.FromSource(ref)
	return o.ensureIndexed(ctx, id, o.sourceLoader(id, ref, hint), force)
}

// AddDocumentBytes ingests uploaded content. The document id is derived from
// the bytes, so uploading the same file twice yields the same document.
func (o *Orchestrator) AddDocumentBytes(ctx context.Context, name string, data []byte, hint models.Format, force bool) (*models.Document, error) {
	if len(data) == 0 {
		return nil, errs.E(errs.InvalidInput, "add document", "uploaded document is empty")
	}
	id := docid.FromContent(data)
	return o.ensureIndexed(ctx, id, o.bytesLoader(id, name, data, hint), force)
}

// ListDocuments returns registered documents, newest first.
func (o *Orchestrator) ListDocuments(ctx context.Context, offset, limit int) ([]*models.Document, error) {
	docs, err := o.store.ListDocuments(ctx, offset, limit)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	return docs, nil
}

// GetDocument returns a document by id or by the reference it was ingested from.
func (o *Orchestrator) GetDocument(ctx context.Context, idOrRef string) (*models.Document, error) {
	return o.store.GetDocument(ctx, resolveID(idOrRef))
}

// DocumentChunks returns the stored chunks of a document in sequence order.
func (o *Orchestrator) DocumentChunks(ctx context.Context, idOrRef string) ([]models.Chunk, error) {
	id := resolveID(idOrRef)
	if _, err := o.store.GetDocument(ctx, id); err != nil {
		return nil, err
	}
	chunks, err := o.store.GetChunks(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get chunks: %w", err)
	}
	return chunks, nil
}

// RemoveDocument drops a document from both indexes and the registry. Searches
// that start afterwards return no candidates from it.
func (o *Orchestrator) RemoveDocument(ctx context.Context, idOrRef string) error {
	id := resolveID(idOrRef)
	unlock := o.locks.lock(id)
	defer unlock()

	o.logger.Debug("removing document", zap.String("doc_id", id))
	if err := o.vectors.Remove(ctx, id); err != nil {
		return fmt.Errorf("failed to delete from vector index: %w", err)
	}
	if o.keywords != nil {
		if err := o.keywords.Remove(ctx, id); err != nil {
			return fmt.Errorf("failed to delete from keyword index: %w", err)
		}
	}
	o.persist()
	if err := o.store.DeleteDocument(ctx, id); err != nil {
		return err
	}
	o.logger.Info("document removed", zap.String("doc_id", id))
	return nil
}

func resolveID(idOrRef string) string {
	idOrRef = strings.TrimSpace(idOrRef)
	if docid.IsID(idOrRef) {
		return idOrRef
	}
	return docid.FromSource(idOrRef)
}
