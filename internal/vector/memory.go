package vector

import (
	"bufio"
	"bytes"
	"context"
	"encoding/gob"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
)

// snapshot is an immutable generation of the index. Writers build a new one
// and publish it atomically; readers never lock.
type snapshot struct {
	docs       map[string][]Entry
	size       int
	generation uint64
}

// MemoryIndex is an exact, brute-force inner product index with copy-on-write
// snapshots. It is the default backend and persists to a single file.
type MemoryIndex struct {
	dimensions int
	model      string
	path       string

	current atomic.Pointer[snapshot]
	writeMu sync.Mutex // serializes publication of new snapshots
	docMu   sync.Map   // document id -> *sync.Mutex
}

// NewMemoryIndex creates an empty index. path may be empty to disable persistence.
func NewMemoryIndex(dimensions int, model, path string) (*MemoryIndex, error) {
	if dimensions <= 0 {
		return nil, fmt.Errorf("dimensions must be positive")
	}
	m := &MemoryIndex{dimensions: dimensions, model: model, path: path}
	m.current.Store(&snapshot{docs: map[string][]Entry{}})
	return m, nil
}

func (m *MemoryIndex) Type() string       { return string(IndexTypeMemory) }
func (m *MemoryIndex) Dimensions() int    { return m.dimensions }
func (m *MemoryIndex) Model() string      { return m.model }
func (m *MemoryIndex) Size() int          { return m.current.Load().size }
func (m *MemoryIndex) Generation() uint64 { return m.current.Load().generation }

// Count returns the number of entries for documentID.
func (m *MemoryIndex) Count(documentID string) int {
	return len(m.current.Load().docs[documentID])
}

func (m *MemoryIndex) lockDoc(id string) func() {
	v, _ := m.docMu.LoadOrStore(id, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// Add replaces the entries of documentID. Vectors are copied.
func (m *MemoryIndex) Add(ctx context.Context, documentID string, entries []Entry) error {
	unlock := m.lockDoc(documentID)
	defer unlock()

	fresh := make([]Entry, len(entries))
	for i, e := range entries {
		if len(e.Vector) != m.dimensions {
			return fmt.Errorf("vector dimension mismatch: got %d, expected %d", len(e.Vector), m.dimensions)
		}
		if e.Chunk.DocumentID != documentID {
			return fmt.Errorf("chunk %s belongs to document %q, not %q", e.Chunk.ID, e.Chunk.DocumentID, documentID)
		}
		vec := make([]float32, m.dimensions)
		copy(vec, e.Vector)
		fresh[i] = Entry{Chunk: e.Chunk, Vector: vec}
	}
	sort.SliceStable(fresh, func(i, j int) bool { return fresh[i].Chunk.Seq < fresh[j].Chunk.Seq })
	if err := ctx.Err(); err != nil {
		return err
	}
	m.publish(func(docs map[string][]Entry) {
		if len(fresh) == 0 {
			delete(docs, documentID)
			return
		}
		docs[documentID] = fresh
	})
	return nil
}

// Remove drops every entry of documentID.
func (m *MemoryIndex) Remove(ctx context.Context, documentID string) error {
	unlock := m.lockDoc(documentID)
	defer unlock()
	if _, ok := m.current.Load().docs[documentID]; !ok {
		return nil
	}
	m.publish(func(docs map[string][]Entry) { delete(docs, documentID) })
	return nil
}

// publish copies the document map, applies mutate and swaps the snapshot in.
// Entry slices are shared between generations and never modified.
func (m *MemoryIndex) publish(mutate func(map[string][]Entry)) {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	old := m.current.Load()
	docs := make(map[string][]Entry, len(old.docs)+1)
	for k, v := range old.docs {
		docs[k] = v
	}
	mutate(docs)
	size := 0
	for _, v := range docs {
		size += len(v)
	}
	m.current.Store(&snapshot{docs: docs, size: size, generation: old.generation + 1})
}

// Search scores entries of the current snapshot.
func (m *MemoryIndex) Search(ctx context.Context, query []float32, k int, opts ...SearchOption) ([]Hit, error) {
	if len(query) != m.dimensions {
		return nil, fmt.Errorf("query dimension mismatch: got %d, expected %d", len(query), m.dimensions)
	}
	if k <= 0 {
		return nil, nil
	}
	o := applySearchOptions(opts)
	snap := m.current.Load()

	var hits []Hit
	score := func(entries []Entry) error {
		for _, e := range entries {
			hits = append(hits, Hit{Chunk: e.Chunk, Score: dot(query, e.Vector)})
		}
		return ctx.Err()
	}
	if o.documentID != "" {
		if err := score(snap.docs[o.documentID]); err != nil {
			return nil, err
		}
	} else {
		for _, entries := range snap.docs {
			if err := score(entries); err != nil {
				return nil, err
			}
		}
	}
	sortHits(hits)
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

// Reset drops every entry.
func (m *MemoryIndex) Reset(ctx context.Context) error {
	m.publish(func(docs map[string][]Entry) {
		for k := range docs {
			delete(docs, k)
		}
	})
	return nil
}

const memoryMagic = "KVX1"

type persistedIndex struct {
	Dimensions int
	Model      string
	Documents  []persistedDocument
}

type persistedDocument struct {
	ID      string
	Entries []Entry
}

// Persist writes the current snapshot to the index path. The file is replaced
// atomically so a crash never leaves a partial index.
func (m *MemoryIndex) Persist() error {
	if m.path == "" {
		return nil
	}
	snap := m.current.Load()
	ids := make([]string, 0, len(snap.docs))
	for id := range snap.docs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	p := persistedIndex{Dimensions: m.dimensions, Model: m.model}
	for _, id := range ids {
		p.Documents = append(p.Documents, persistedDocument{ID: id, Entries: snap.docs[id]})
	}

	var buf bytes.Buffer
	buf.WriteString(memoryMagic)
	if err := gob.NewEncoder(&buf).Encode(&p); err != nil {
		return fmt.Errorf("encode index: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(m.path), 0755); err != nil {
		return fmt.Errorf("create index dir: %w", err)
	}
	tmp := m.path + ".tmp"
	if err := os.WriteFile(tmp, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("write index file: %w", err)
	}
	if err := os.Rename(tmp, m.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("replace index file: %w", err)
	}
	return nil
}

// Load replaces the contents with the persisted index. A missing file leaves
// the index unchanged. Vectors from another model yield ErrModelMismatch.
func (m *MemoryIndex) Load() error {
	if m.path == "" {
		return nil
	}
	f, err := os.Open(m.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("open index file: %w", err)
	}
	defer f.Close()
	r := bufio.NewReader(f)
	magic := make([]byte, len(memoryMagic))
	if _, err := io.ReadFull(r, magic); err != nil || string(magic) != memoryMagic {
		return fmt.Errorf("%s is not a kotae vector index", m.path)
	}
	var p persistedIndex
	if err := gob.NewDecoder(r).Decode(&p); err != nil {
		return fmt.Errorf("decode index: %w", err)
	}
	if p.Dimensions != m.dimensions || p.Model != m.model {
		return fmt.Errorf("%w: file has %s/%d, expected %s/%d", ErrModelMismatch, p.Model, p.Dimensions, m.model, m.dimensions)
	}
	m.publish(func(docs map[string][]Entry) {
		for k := range docs {
			delete(docs, k)
		}
		for _, d := range p.Documents {
			if len(d.Entries) > 0 {
				docs[d.ID] = d.Entries
			}
		}
	})
	return nil
}

// Close is a no-op; call Persist first to keep the contents.
func (m *MemoryIndex) Close() error { return nil }
