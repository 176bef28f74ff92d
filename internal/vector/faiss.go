//go:build faiss && cgo
// +build faiss,cgo

package vector

/*
#cgo CFLAGS: -I/opt/homebrew/include -I/usr/local/include
#cgo LDFLAGS: -L/opt/homebrew/lib -L/usr/local/lib -lfaiss_c

#include <stdlib.h>
#include <faiss/c_api/Index_c.h>
#include <faiss/c_api/IndexFlat_c.h>
#include <faiss/c_api/index_io_c.h>
#include <faiss/c_api/error_c.h>
*/
import "C"

import (
	"context"
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"unsafe"

	"github.com/hyperjump/kotae/internal/models"
)

// FAISSIndex keeps vectors in a FAISS IndexFlatIP (inner product over unit
// vectors, i.e. cosine). FAISS flat indexes cannot delete, so removed labels
// are tombstoned and the index is compacted once tombstones outnumber live
// entries. Searches take a read lock; mutations take the write lock.
type FAISSIndex struct {
	index      *C.FaissIndex
	dimensions int
	model      string
	path       string

	labels  map[int64]models.Chunk // FAISS label -> chunk
	docs    map[string][]int64     // document id -> labels
	nextID  int64
	removed int
	mu      sync.RWMutex
}

// NewFAISSIndex creates an empty FAISS index. path may be empty to disable persistence.
func NewFAISSIndex(dimensions int, model, path string) (*FAISSIndex, error) {
	if dimensions <= 0 {
		return nil, fmt.Errorf("dimensions must be positive")
	}
	idx, err := newFlatIP(dimensions)
	if err != nil {
		return nil, err
	}
	return &FAISSIndex{
		index:      idx,
		dimensions: dimensions,
		model:      model,
		path:       path,
		labels:     make(map[int64]models.Chunk),
		docs:       make(map[string][]int64),
	}, nil
}

func newFlatIP(dimensions int) (*C.FaissIndex, error) {
	var flat *C.FaissIndexFlatIP
	if ret := C.faiss_IndexFlatIP_new_with(&flat, C.idx_t(dimensions)); ret != 0 {
		return nil, fmt.Errorf("failed to create FAISS index: %s", faissLastError())
	}
	return (*C.FaissIndex)(flat), nil
}

// faissLastError returns the last FAISS error message.
func faissLastError() string {
	cErr := C.faiss_get_last_error()
	if cErr == nil {
		return "unknown error"
	}
	return C.GoString(cErr)
}

func (f *FAISSIndex) Type() string    { return string(IndexTypeFAISS) }
func (f *FAISSIndex) Dimensions() int { return f.dimensions }
func (f *FAISSIndex) Model() string   { return f.model }

// Size returns the number of live entries.
func (f *FAISSIndex) Size() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.labels)
}

// Count returns the number of live entries for documentID.
func (f *FAISSIndex) Count(documentID string) int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.docs[documentID])
}

// Add replaces the entries of documentID.
func (f *FAISSIndex) Add(ctx context.Context, documentID string, entries []Entry) error {
	flat := make([]float32, len(entries)*f.dimensions)
	for i, e := range entries {
		if len(e.Vector) != f.dimensions {
			return fmt.Errorf("vector dimension mismatch: got %d, expected %d", len(e.Vector), f.dimensions)
		}
		copy(flat[i*f.dimensions:], e.Vector)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.removeLocked(documentID)
	if len(entries) > 0 {
		if ret := C.faiss_Index_add(f.index, C.idx_t(len(entries)), (*C.float)(unsafe.Pointer(&flat[0]))); ret != 0 {
			return fmt.Errorf("failed to add vectors to FAISS index: %s", faissLastError())
		}
		ids := make([]int64, len(entries))
		for i, e := range entries {
			ids[i] = f.nextID
			f.labels[f.nextID] = e.Chunk
			f.nextID++
		}
		f.docs[documentID] = ids
	}
	return f.maybeCompactLocked()
}

// Remove tombstones the entries of documentID.
func (f *FAISSIndex) Remove(ctx context.Context, documentID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removeLocked(documentID)
	return f.maybeCompactLocked()
}

func (f *FAISSIndex) removeLocked(documentID string) {
	for _, id := range f.docs[documentID] {
		delete(f.labels, id)
		f.removed++
	}
	delete(f.docs, documentID)
}

// maybeCompactLocked rebuilds the FAISS index from live vectors when more than
// half of the stored vectors are tombstones.
func (f *FAISSIndex) maybeCompactLocked() error {
	if f.removed == 0 || f.removed < len(f.labels) {
		return nil
	}
	fresh, err := newFlatIP(f.dimensions)
	if err != nil {
		return err
	}
	labels := make(map[int64]models.Chunk, len(f.labels))
	docs := make(map[string][]int64, len(f.docs))
	buf := make([]float32, f.dimensions)
	var next int64
	for doc, ids := range f.docs {
		newIDs := make([]int64, 0, len(ids))
		for _, id := range ids {
			if ret := C.faiss_Index_reconstruct(f.index, C.idx_t(id), (*C.float)(unsafe.Pointer(&buf[0]))); ret != 0 {
				C.faiss_Index_free(fresh)
				return fmt.Errorf("failed to reconstruct vector %d: %s", id, faissLastError())
			}
			if ret := C.faiss_Index_add(fresh, 1, (*C.float)(unsafe.Pointer(&buf[0]))); ret != 0 {
				C.faiss_Index_free(fresh)
				return fmt.Errorf("failed to add vector during compaction: %s", faissLastError())
			}
			labels[next] = f.labels[id]
			newIDs = append(newIDs, next)
			next++
		}
		docs[doc] = newIDs
	}
	C.faiss_Index_free(f.index)
	f.index, f.labels, f.docs, f.nextID, f.removed = fresh, labels, docs, next, 0
	return nil
}

// Reset drops every entry.
func (f *FAISSIndex) Reset(ctx context.Context) error {
	fresh, err := newFlatIP(f.dimensions)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	C.faiss_Index_free(f.index)
	f.index = fresh
	f.labels = make(map[int64]models.Chunk)
	f.docs = make(map[string][]int64)
	f.nextID, f.removed = 0, 0
	return nil
}

// Search runs an exhaustive FAISS search and drops tombstoned labels.
func (f *FAISSIndex) Search(ctx context.Context, query []float32, k int, opts ...SearchOption) ([]Hit, error) {
	if len(query) != f.dimensions {
		return nil, fmt.Errorf("query dimension mismatch: got %d, expected %d", len(query), f.dimensions)
	}
	if k <= 0 {
		return nil, nil
	}
	o := applySearchOptions(opts)

	f.mu.RLock()
	defer f.mu.RUnlock()
	ntotal := int(C.faiss_Index_ntotal(f.index))
	if ntotal == 0 {
		return nil, nil
	}
	// tombstones and the document filter are applied after the search
	want := ntotal
	if o.documentID == "" && f.removed == 0 && k < ntotal {
		want = k
	}
	distances := make([]float32, want)
	labels := make([]int64, want)
	ret := C.faiss_Index_search(
		f.index,
		1,
		(*C.float)(unsafe.Pointer(&query[0])),
		C.idx_t(want),
		(*C.float)(unsafe.Pointer(&distances[0])),
		(*C.idx_t)(unsafe.Pointer(&labels[0])),
	)
	if ret != 0 {
		return nil, fmt.Errorf("FAISS search failed: %s", faissLastError())
	}
	hits := make([]Hit, 0, k)
	for i, label := range labels {
		ch, ok := f.labels[label]
		if label < 0 || !ok {
			continue
		}
		if o.documentID != "" && ch.DocumentID != o.documentID {
			continue
		}
		hits = append(hits, Hit{Chunk: ch, Score: float64(distances[i])})
	}
	sortHits(hits)
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

// faissState is the sidecar persisted next to the FAISS index file.
type faissState struct {
	Dimensions int
	Model      string
	Labels     map[int64]models.Chunk
	Docs       map[string][]int64
	NextID     int64
	Removed    int
}

// Persist writes <path>.faiss and <path>.idmap.
func (f *FAISSIndex) Persist() error {
	if f.path == "" {
		return nil
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	if err := os.MkdirAll(filepath.Dir(f.path), 0755); err != nil {
		return fmt.Errorf("create index dir: %w", err)
	}
	cPath := C.CString(f.path + ".faiss")
	defer C.free(unsafe.Pointer(cPath))
	if ret := C.faiss_write_index_fname(f.index, cPath); ret != 0 {
		return fmt.Errorf("failed to save FAISS index: %s", faissLastError())
	}
	mapFile, err := os.Create(f.path + ".idmap")
	if err != nil {
		return fmt.Errorf("create id map file: %w", err)
	}
	defer mapFile.Close()
	state := faissState{Dimensions: f.dimensions, Model: f.model, Labels: f.labels, Docs: f.docs, NextID: f.nextID, Removed: f.removed}
	if err := gob.NewEncoder(mapFile).Encode(&state); err != nil {
		return fmt.Errorf("encode id map: %w", err)
	}
	return nil
}

// Load reads the files written by Persist. Missing files leave the index unchanged.
func (f *FAISSIndex) Load() error {
	if f.path == "" {
		return nil
	}
	mapFile, err := os.Open(f.path + ".idmap")
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("open id map file: %w", err)
	}
	defer mapFile.Close()
	var state faissState
	if err := gob.NewDecoder(mapFile).Decode(&state); err != nil {
		return fmt.Errorf("decode id map: %w", err)
	}
	if state.Dimensions != f.dimensions || state.Model != f.model {
		return fmt.Errorf("%w: file has %s/%d, expected %s/%d", ErrModelMismatch, state.Model, state.Dimensions, f.model, f.dimensions)
	}

	cPath := C.CString(f.path + ".faiss")
	defer C.free(unsafe.Pointer(cPath))
	var loaded *C.FaissIndex
	if ret := C.faiss_read_index_fname(cPath, 0, &loaded); ret != 0 {
		return fmt.Errorf("failed to load FAISS index: %s", faissLastError())
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	C.faiss_Index_free(f.index)
	f.index = loaded
	f.labels, f.docs, f.nextID, f.removed = state.Labels, state.Docs, state.NextID, state.Removed
	if f.labels == nil {
		f.labels = make(map[int64]models.Chunk)
	}
	if f.docs == nil {
		f.docs = make(map[string][]int64)
	}
	return nil
}

// Close frees the FAISS index.
func (f *FAISSIndex) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.index != nil {
		C.faiss_Index_free(f.index)
		f.index = nil
	}
	return nil
}
