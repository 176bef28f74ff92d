package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/hyperjump/kotae/internal/models"
)

// MemoryStorage keeps everything in process memory. It backs the "none"
// driver and tests.
type MemoryStorage struct {
	mu     sync.RWMutex
	docs   map[string]models.Document
	chunks map[string][]models.Chunk
	logs   []models.QueryLog
}

var _ Storage = (*MemoryStorage)(nil)

// NewMemoryStorage creates an empty store.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		docs:   make(map[string]models.Document),
		chunks: make(map[string][]models.Chunk),
	}
}

func (m *MemoryStorage) SaveDocument(_ context.Context, doc *models.Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now().UTC()
	if prev, ok := m.docs[doc.ID]; ok {
		doc.CreatedAt = prev.CreatedAt
	} else if doc.CreatedAt.IsZero() {
		doc.CreatedAt = now
	}
	doc.UpdatedAt = now
	m.docs[doc.ID] = copyDocument(*doc)
	return nil
}

func (m *MemoryStorage) GetDocument(_ context.Context, id string) (*models.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	doc, ok := m.docs[id]
	if !ok {
		return nil, documentNotFound(id)
	}
	out := copyDocument(doc)
	return &out, nil
}

func (m *MemoryStorage) ListDocuments(_ context.Context, offset, limit int) ([]*models.Document, error) {
	m.mu.RLock()
	all := make([]models.Document, 0, len(m.docs))
	for _, d := range m.docs {
		all = append(all, copyDocument(d))
	}
	m.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool {
		if !all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].CreatedAt.After(all[j].CreatedAt)
		}
		return all[i].ID < all[j].ID
	})
	if offset < 0 {
		offset = 0
	}
	if offset >= len(all) {
		return nil, nil
	}
	all = all[offset:]
	if limit = clampLimit(limit); len(all) > limit {
		all = all[:limit]
	}
	out := make([]*models.Document, len(all))
	for i := range all {
		out[i] = &all[i]
	}
	return out, nil
}

func (m *MemoryStorage) DeleteDocument(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.docs[id]; !ok {
		return documentNotFound(id)
	}
	delete(m.docs, id)
	delete(m.chunks, id)
	kept := m.logs[:0]
	for _, l := range m.logs {
		if l.DocumentID != id {
			kept = append(kept, l)
		}
	}
	m.logs = kept
	return nil
}

func (m *MemoryStorage) ReplaceChunks(_ context.Context, docID string, chunks []models.Chunk) error {
	if err := checkChunks(docID, chunks); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(chunks) == 0 {
		delete(m.chunks, docID)
		return nil
	}
	m.chunks[docID] = append([]models.Chunk(nil), chunks...)
	return nil
}

func (m *MemoryStorage) GetChunks(_ context.Context, docID string) ([]models.Chunk, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := append([]models.Chunk(nil), m.chunks[docID]...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}

func (m *MemoryStorage) LogQuery(_ context.Context, l *models.QueryLog) error {
	if l.CreatedAt.IsZero() {
		l.CreatedAt = time.Now().UTC()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logs = append(m.logs, *l)
	return nil
}

func (m *MemoryStorage) ListQueryLogs(_ context.Context, docID string, limit int) ([]*models.QueryLog, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	limit = clampLimit(limit)
	var out []*models.QueryLog
	for i := len(m.logs) - 1; i >= 0 && len(out) < limit; i-- {
		if docID == "" || m.logs[i].DocumentID == docID {
			l := m.logs[i]
			out = append(out, &l)
		}
	}
	return out, nil
}

func (m *MemoryStorage) CountDocuments(context.Context) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return int64(len(m.docs)), nil
}

func (m *MemoryStorage) CountChunks(context.Context) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var n int64
	for _, c := range m.chunks {
		n += int64(len(c))
	}
	return n, nil
}

func (m *MemoryStorage) Close() error { return nil }

func copyDocument(d models.Document) models.Document {
	if d.Metadata != nil {
		meta := make(map[string]string, len(d.Metadata))
		for k, v := range d.Metadata {
			meta[k] = v
		}
		d.Metadata = meta
	}
	if d.IndexedAt != nil {
		t := *d.IndexedAt
		d.IndexedAt = &t
	}
	return d
}
