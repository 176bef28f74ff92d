// Package storage persists document bookkeeping, chunk text and query logs.
// Vectors live in the vector index; this store is the registry the pipeline
// consults to decide whether a document needs ingesting.
package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hyperjump/kotae/internal/config"
	"github.com/hyperjump/kotae/internal/errs"
	"github.com/hyperjump/kotae/internal/models"
)

// Storage defines bookkeeping operations. Lookups of missing records fail
// with an errs.NotFound error.
type Storage interface {
	// Documents
	SaveDocument(ctx context.Context, doc *models.Document) error
	GetDocument(ctx context.Context, id string) (*models.Document, error)
	ListDocuments(ctx context.Context, offset, limit int) ([]*models.Document, error)
	DeleteDocument(ctx context.Context, id string) error

	// Chunks
	ReplaceChunks(ctx context.Context, docID string, chunks []models.Chunk) error
	GetChunks(ctx context.Context, docID string) ([]models.Chunk, error)

	// Query logs
	LogQuery(ctx context.Context, log *models.QueryLog) error
	ListQueryLogs(ctx context.Context, docID string, limit int) ([]*models.QueryLog, error)

	// Stats
	CountDocuments(ctx context.Context) (int64, error)
	CountChunks(ctx context.Context) (int64, error)

	Close() error
}

// New opens the store selected by cfg.Driver.
func New(ctx context.Context, cfg config.StorageConfig) (Storage, error) {
	switch cfg.Driver {
	case "", "sqlite":
		return NewSQLiteStorage(cfg.DatabasePath)
	case "postgres":
		dsn := cfg.DSN()
		if dsn == "" {
			return nil, fmt.Errorf("storage: postgres driver needs a DSN in $%s", cfg.DSNEnv)
		}
		return NewPostgresStorage(ctx, dsn)
	case "none", "memory":
		return NewMemoryStorage(), nil
	}
	return nil, fmt.Errorf("storage: unknown driver %q", cfg.Driver)
}

func documentNotFound(id string) error {
	return errs.E(errs.NotFound, "storage", "document %s not found", id)
}

func checkChunks(docID string, chunks []models.Chunk) error {
	for i := range chunks {
		if chunks[i].DocumentID != docID {
			return fmt.Errorf("chunk %s belongs to %s, not %s", chunks[i].ID, chunks[i].DocumentID, docID)
		}
	}
	return nil
}

func marshalMetadata(m map[string]string) (string, error) {
	if len(m) == 0 {
		return "", nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("failed to marshal metadata: %w", err)
	}
	return string(b), nil
}

func unmarshalMetadata(s string) (map[string]string, error) {
	if s == "" {
		return nil, nil
	}
	var m map[string]string
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
	}
	return m, nil
}

func clampLimit(limit int) int {
	if limit <= 0 || limit > 1000 {
		return 1000
	}
	return limit
}
