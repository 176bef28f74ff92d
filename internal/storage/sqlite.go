package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/hyperjump/kotae/internal/models"
)

// SQLiteStorage implements Storage using SQLite.
type SQLiteStorage struct {
	db *sql.DB
}

var _ Storage = (*SQLiteStorage)(nil)

// NewSQLiteStorage opens or creates a SQLite database at dbPath and initializes the schema.
// Parent directories are created if they do not exist. ":memory:" opens a private
// in-memory database.
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	if dbPath == "" {
		return nil, errors.New("storage: empty database path")
	}
	if dbPath != ":memory:" {
		if dir := filepath.Dir(dbPath); dir != "." {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, fmt.Errorf("failed to create database directory: %w", err)
			}
		}
	}
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	if err := initSQLiteSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteStorage{db: db}, nil
}

func initSQLiteSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS documents (
		id TEXT PRIMARY KEY,
		source TEXT NOT NULL DEFAULT '',
		title TEXT NOT NULL DEFAULT '',
		format TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		size_bytes INTEGER NOT NULL DEFAULT 0,
		page_count INTEGER NOT NULL DEFAULT 0,
		chunk_count INTEGER NOT NULL DEFAULT 0,
		content_hash TEXT NOT NULL DEFAULT '',
		model_version TEXT NOT NULL DEFAULT '',
		error TEXT NOT NULL DEFAULT '',
		metadata TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL,
		indexed_at TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_documents_created_at ON documents(created_at);

	CREATE TABLE IF NOT EXISTS chunks (
		id TEXT PRIMARY KEY,
		document_id TEXT NOT NULL,
		seq INTEGER NOT NULL,
		text TEXT NOT NULL,
		start_offset INTEGER NOT NULL,
		end_offset INTEGER NOT NULL,
		page INTEGER NOT NULL DEFAULT 0,
		page_end INTEGER NOT NULL DEFAULT 0,
		section TEXT NOT NULL DEFAULT '',
		token_count INTEGER NOT NULL DEFAULT 0,
		FOREIGN KEY (document_id) REFERENCES documents(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_chunks_document_seq ON chunks(document_id, seq);

	CREATE TABLE IF NOT EXISTS query_logs (
		id TEXT PRIMARY KEY,
		document_id TEXT NOT NULL,
		question TEXT NOT NULL,
		answer TEXT NOT NULL DEFAULT '',
		decision TEXT NOT NULL DEFAULT '',
		confidence REAL NOT NULL DEFAULT 0,
		strategy TEXT NOT NULL DEFAULT '',
		error_kind TEXT NOT NULL DEFAULT '',
		processing_time_ms INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_query_logs_document ON query_logs(document_id, created_at);
	`
	_, err := db.Exec(schema)
	return err
}

const documentColumns = `id, source, title, format, status, size_bytes, page_count, chunk_count,
	content_hash, model_version, error, metadata, created_at, updated_at, indexed_at`

// SaveDocument inserts doc or updates the stored copy. CreatedAt is kept from
// the first save.
func (s *SQLiteStorage) SaveDocument(ctx context.Context, doc *models.Document) error {
	meta, err := marshalMetadata(doc.Metadata)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = now
	}
	doc.UpdatedAt = now

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO documents (`+documentColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			source = excluded.source, title = excluded.title, format = excluded.format,
			status = excluded.status, size_bytes = excluded.size_bytes, page_count = excluded.page_count,
			chunk_count = excluded.chunk_count, content_hash = excluded.content_hash,
			model_version = excluded.model_version, error = excluded.error, metadata = excluded.metadata,
			updated_at = excluded.updated_at, indexed_at = excluded.indexed_at`,
		doc.ID, doc.Source, doc.Title, string(doc.Format), string(doc.Status), doc.SizeBytes, doc.PageCount,
		doc.ChunkCount, doc.ContentHash, doc.ModelVersion, doc.Error, meta, doc.CreatedAt, doc.UpdatedAt,
		nullTime(doc.IndexedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save document %s: %w", doc.ID, err)
	}
	return nil
}

// GetDocument returns a document by ID.
func (s *SQLiteStorage) GetDocument(ctx context.Context, id string) (*models.Document, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+documentColumns+` FROM documents WHERE id = ?`, id)
	doc, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, documentNotFound(id)
	}
	return doc, err
}

// ListDocuments returns documents newest first.
func (s *SQLiteStorage) ListDocuments(ctx context.Context, offset, limit int) ([]*models.Document, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+documentColumns+` FROM documents ORDER BY created_at DESC, id LIMIT ? OFFSET ?`,
		clampLimit(limit), offset,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []*models.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// DeleteDocument removes a document, its chunks and its query logs.
func (s *SQLiteStorage) DeleteDocument(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM query_logs WHERE document_id = ?`, id); err != nil {
		return err
	}
	result, err := tx.ExecContext(ctx, `DELETE FROM documents WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return documentNotFound(id)
	}
	return tx.Commit()
}

// ReplaceChunks swaps the stored chunks of a document in one transaction.
func (s *SQLiteStorage) ReplaceChunks(ctx context.Context, docID string, chunks []models.Chunk) error {
	if err := checkChunks(docID, chunks); err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM chunks WHERE document_id = ?`, docID); err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO chunks (id, document_id, seq, text, start_offset, end_offset, page, page_end, section, token_count)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, c := range chunks {
		if _, err := stmt.ExecContext(ctx, c.ID, c.DocumentID, c.Seq, c.Text, c.Start, c.End,
			c.Page, c.PageEnd, c.Section, c.TokenCount); err != nil {
			return fmt.Errorf("failed to insert chunk %s: %w", c.ID, err)
		}
	}
	return tx.Commit()
}

// GetChunks returns a document's chunks ordered by sequence.
func (s *SQLiteStorage) GetChunks(ctx context.Context, docID string) ([]models.Chunk, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, document_id, seq, text, start_offset, end_offset, page, page_end, section, token_count
		 FROM chunks WHERE document_id = ? ORDER BY seq`,
		docID,
	)
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
func (s *SQLiteStorage) LogQuery(ctx context.Context, l *models.QueryLog) error {
	if l.CreatedAt.IsZero() {
		l.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO query_logs (id, document_id, question, answer, decision, confidence, strategy,
			error_kind, processing_time_ms, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		l.ID, l.DocumentID, l.Question, l.Answer, l.Decision, l.Confidence, l.Strategy,
		l.ErrorKind, l.ProcessingTimeMS, l.CreatedAt,
	)
	return err
}

// ListQueryLogs returns the latest entries for docID, or for every document
// when docID is empty.
func (s *SQLiteStorage) ListQueryLogs(ctx context.Context, docID string, limit int) ([]*models.QueryLog, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, document_id, question, answer, decision, confidence, strategy, error_kind,
			processing_time_ms, created_at
		 FROM query_logs WHERE ? = '' OR document_id = ?
		 ORDER BY created_at DESC, id LIMIT ?`,
		docID, docID, clampLimit(limit),
	)
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
func (s *SQLiteStorage) CountDocuments(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM documents`).Scan(&count)
	return count, err
}

// CountChunks returns the total number of chunks.
func (s *SQLiteStorage) CountChunks(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chunks`).Scan(&count)
	return count, err
}

// Close closes the database connection.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (*models.Document, error) {
	var (
		doc           models.Document
		format, state string
		meta          string
		indexedAt     sql.NullTime
	)
	if err := row.Scan(&doc.ID, &doc.Source, &doc.Title, &format, &state, &doc.SizeBytes, &doc.PageCount,
		&doc.ChunkCount, &doc.ContentHash, &doc.ModelVersion, &doc.Error, &meta, &doc.CreatedAt,
		&doc.UpdatedAt, &indexedAt); err != nil {
		return nil, err
	}
	doc.Format = models.Format(format)
	doc.Status = models.Status(state)
	if indexedAt.Valid {
		t := indexedAt.Time
		doc.IndexedAt = &t
	}
	m, err := unmarshalMetadata(meta)
	if err != nil {
		return nil, err
	}
	doc.Metadata = m
	return &doc, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
