package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hyperjump/kotae/internal/models"
)

// PostgresStorage implements Storage on PostgreSQL through a pgx pool.
type PostgresStorage struct {
	db *pgxpool.Pool
}

var _ Storage = (*PostgresStorage)(nil)

// NewPostgresStorage connects to dsn and creates the schema when missing.
func NewPostgresStorage(ctx context.Context, dsn string) (*PostgresStorage, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return &PostgresStorage{db: pool}, nil
}

const postgresSchema = `
CREATE TABLE IF NOT EXISTS documents (
	id TEXT PRIMARY KEY,
	source TEXT NOT NULL DEFAULT '',
	title TEXT NOT NULL DEFAULT '',
	format TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL,
	size_bytes BIGINT NOT NULL DEFAULT 0,
	page_count INTEGER NOT NULL DEFAULT 0,
	chunk_count INTEGER NOT NULL DEFAULT 0,
	content_hash TEXT NOT NULL DEFAULT '',
	model_version TEXT NOT NULL DEFAULT '',
	error TEXT NOT NULL DEFAULT '',
	metadata TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL,
	indexed_at TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_documents_created_at ON documents(created_at);

CREATE TABLE IF NOT EXISTS chunks (
	id TEXT PRIMARY KEY,
	document_id TEXT NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
	seq INTEGER NOT NULL,
	text TEXT NOT NULL,
	start_offset INTEGER NOT NULL,
	end_offset INTEGER NOT NULL,
	page INTEGER NOT NULL DEFAULT 0,
	page_end INTEGER NOT NULL DEFAULT 0,
	section TEXT NOT NULL DEFAULT '',
	token_count INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_chunks_document_seq ON chunks(document_id, seq);

CREATE TABLE IF NOT EXISTS query_logs (
	id TEXT PRIMARY KEY,
	document_id TEXT NOT NULL,
	question TEXT NOT NULL,
	answer TEXT NOT NULL DEFAULT '',
	decision TEXT NOT NULL DEFAULT '',
	confidence DOUBLE PRECISION NOT NULL DEFAULT 0,
	strategy TEXT NOT NULL DEFAULT '',
	error_kind TEXT NOT NULL DEFAULT '',
	processing_time_ms BIGINT NOT NULL DEFAULT 0,
	created_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_query_logs_document ON query_logs(document_id, created_at);
`

// SaveDocument inserts doc or updates the stored copy.
func (s *PostgresStorage) SaveDocument(ctx context.Context, doc *models.Document) error {
	meta, err := marshalMetadata(doc.Metadata)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = now
	}
	doc.UpdatedAt = now

	query := `
		INSERT INTO documents (` + documentColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (id) DO UPDATE SET
			source = EXCLUDED.source, title = EXCLUDED.title, format = EXCLUDED.format,
			status = EXCLUDED.status, size_bytes = EXCLUDED.size_bytes, page_count = EXCLUDED.page_count,
			chunk_count = EXCLUDED.chunk_count, content_hash = EXCLUDED.content_hash,
			model_version = EXCLUDED.model_version, error = EXCLUDED.error, metadata = EXCLUDED.metadata,
			updated_at = EXCLUDED.updated_at, indexed_at = EXCLUDED.indexed_at`

	_, err = s.db.Exec(ctx, query,
		doc.ID, doc.Source, doc.Title, string(doc.Format), string(doc.Status), doc.SizeBytes, doc.PageCount,
		doc.ChunkCount, doc.ContentHash, doc.ModelVersion, doc.Error, meta, doc.CreatedAt, doc.UpdatedAt,
		doc.IndexedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save document %s: %w", doc.ID, err)
	}
	return nil
}

// GetDocument returns a document by ID.
func (s *PostgresStorage) GetDocument(ctx context.Context, id string) (*models.Document, error) {
	row := s.db.QueryRow(ctx, `SELECT `+documentColumns+` FROM documents WHERE id = $1`, id)
	doc, err := scanPgDocument(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, documentNotFound(id)
	}
	return doc, err
}

// ListDocuments returns documents newest first.
func (s *PostgresStorage) ListDocuments(ctx context.Context, offset, limit int) ([]*models.Document, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+documentColumns+` FROM documents ORDER BY created_at DESC, id LIMIT $1 OFFSET $2`,
		clampLimit(limit), offset,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []*models.Document
	for rows.Next() {
		doc, err := scanPgDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// DeleteDocument removes a document, its chunks and its query logs.
func (s *PostgresStorage) DeleteDocument(ctx context.Context, id string) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM query_logs WHERE document_id = $1`, id); err != nil {
		return err
	}
	tag, err := tx.Exec(ctx, `DELETE FROM documents WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return documentNotFound(id)
	}
	return tx.Commit(ctx)
}

// ReplaceChunks swaps the stored chunks of a document in one transaction.
func (s *PostgresStorage) ReplaceChunks(ctx context.Context, docID string, chunks []models.Chunk) error {
	if err := checkChunks(docID, chunks); err != nil {
		return err
	}
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM chunks WHERE document_id = $1`, docID); err != nil {
		return err
	}
	batch := &pgx.Batch{}
	for _, c := range chunks {
		batch.Queue(`
			INSERT INTO chunks (id, document_id, seq, text, start_offset, end_offset, page, page_end, section, token_count)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			c.ID, c.DocumentID, c.Seq, c.Text, c.Start, c.End, c.Page, c.PageEnd, c.Section, c.TokenCount)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("failed to insert chunks: %w", err)
	}
	return tx.Commit(ctx)
}

// GetChunks returns a document's chunks ordered by sequence.
func (s *PostgresStorage) GetChunks(ctx context.Context, docID string) ([]models.Chunk, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, document_id, seq, text, start_offset, end_offset, page, page_end, section, token_count
		FROM chunks WHERE document_id = $1 ORDER BY seq`, docID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var chunks []models.Chunk
	for rows.Next() {
		var c models.Chunk
		if err := rows.Scan(&c.ID, &c.DocumentID, &c.Seq, &c.Text, &c.Start, &c.End,
			&c.Page, &c.PageEnd, &c.Section, &c.TokenCount); err != nil {
			return nil, err
		}
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

// LogQuery stores a query log entry.
func (s *PostgresStorage) LogQuery(ctx context.Context, l *models.QueryLog) error {
	if l.CreatedAt.IsZero() {
		l.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.Exec(ctx, `
		INSERT INTO query_logs (id, document_id, question, answer, decision, confidence, strategy,
			error_kind, processing_time_ms, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		l.ID, l.DocumentID, l.Question, l.Answer, l.Decision, l.Confidence, l.Strategy,
		l.ErrorKind, l.ProcessingTimeMS, l.CreatedAt,
	)
	return err
}

// ListQueryLogs returns the latest entries for docID, or for every document
// when docID is empty.
func (s *PostgresStorage) ListQueryLogs(ctx context.Context, docID string, limit int) ([]*models.QueryLog, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, document_id, question, answer, decision, confidence, strategy, error_kind,
			processing_time_ms, created_at
		FROM query_logs WHERE $1 = '' OR document_id = $1
		ORDER BY created_at DESC, id LIMIT $2`, docID, clampLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var logs []*models.QueryLog
	for rows.Next() {
		var l models.QueryLog
		if err := rows.Scan(&l.ID, &l.DocumentID, &l.Question, &l.Answer, &l.Decision, &l.Confidence,
			&l.Strategy, &l.ErrorKind, &l.ProcessingTimeMS, &l.CreatedAt); err != nil {
			return nil, err
		}
		logs = append(logs, &l)
	}
	return logs, rows.Err()
}

// CountDocuments returns the total number of documents.
func (s *PostgresStorage) CountDocuments(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRow(ctx, `SELECT COUNT(*) FROM documents`).Scan(&count)
	return count, err
}

// CountChunks returns the total number of chunks.
func (s *PostgresStorage) CountChunks(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRow(ctx, `SELECT COUNT(*) FROM chunks`).Scan(&count)
	return count, err
}

// Close closes the pool.
func (s *PostgresStorage) Close() error {
	s.db.Close()
	return nil
}

func scanPgDocument(row pgx.Row) (*models.Document, error) {
	var (
		doc           models.Document
		format, state string
		meta          string
	)
	if err := row.Scan(&doc.ID, &doc.Source, &doc.Title, &format, &state, &doc.SizeBytes, &doc.PageCount,
		&doc.ChunkCount, &doc.ContentHash, &doc.ModelVersion, &doc.Error, &meta, &doc.CreatedAt,
		&doc.UpdatedAt, &doc.IndexedAt); err != nil {
		return nil, err
	}
	doc.Format = models.Format(format)
	doc.Status = models.Status(state)
	m, err := unmarshalMetadata(meta)
	if err != nil {
		return nil, err
	}
	doc.Metadata = m
	return &doc, nil
}
