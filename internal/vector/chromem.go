package vector

import (
	"context"
	"encoding/gob"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"sync"

	"github.com/philippgille/chromem-go"

	"github.com/hyperjump/kotae/internal/models"
)

const chromemCollection = "chunks"

// ChromemIndex stores vectors in a chromem-go collection. The collection is
// persisted by chromem itself on every write when a directory is given; a small
// manifest next to it records the model. Per-document counts are rebuilt from
// the collection on Load.
type ChromemIndex struct {
	dimensions int
	model      string
	dir        string
	db         *chromem.DB
	collection *chromem.Collection
	embed      chromem.EmbeddingFunc

	// chromem locks per call; this lock makes delete-then-add atomic for readers.
	mu     sync.RWMutex
	counts map[string]int
}

type chromemManifest struct {
	Dimensions int
	Model      string
}

// NewChromemIndex opens or creates the collection. An empty dir keeps it in memory.
func NewChromemIndex(dimensions int, model, dir string) (*ChromemIndex, error) {
	if dimensions <= 0 {
		return nil, fmt.Errorf("dimensions must be positive")
	}
	var db *chromem.DB
	if dir == "" {
		db = chromem.NewDB()
	} else {
		var err error
		if db, err = chromem.NewPersistentDB(dir, false); err != nil {
			return nil, fmt.Errorf("failed to open chromem database: %w", err)
		}
	}
	// Vectors are always supplied, so chromem never needs to embed.
	var noEmbed chromem.EmbeddingFunc = func(context.Context, string) ([]float32, error) {
		return nil, errors.New("chromem index requires precomputed embeddings")
	}
	c, err := db.GetOrCreateCollection(chromemCollection, nil, noEmbed)
	if err != nil {
		return nil, fmt.Errorf("failed to create/get collection: %w", err)
	}
	return &ChromemIndex{
		dimensions: dimensions,
		model:      model,
		dir:        dir,
		db:         db,
		collection: c,
		embed:      noEmbed,
		counts:     map[string]int{},
	}, nil
}

func (c *ChromemIndex) Type() string    { return string(IndexTypeChromem) }
func (c *ChromemIndex) Dimensions() int { return c.dimensions }
func (c *ChromemIndex) Model() string   { return c.model }

// Size returns the number of stored chunks.
func (c *ChromemIndex) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.collection.Count()
}

// Count returns the number of chunks stored for documentID.
func (c *ChromemIndex) Count(documentID string) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.counts[documentID]
}

// Add replaces the chunks of documentID.
func (c *ChromemIndex) Add(ctx context.Context, documentID string, entries []Entry) error {
	docs := make([]chromem.Document, len(entries))
	for i, e := range entries {
		if len(e.Vector) != c.dimensions {
			return fmt.Errorf("vector dimension mismatch: got %d, expected %d", len(e.Vector), c.dimensions)
		}
		vec := make([]float32, len(e.Vector))
		copy(vec, e.Vector)
		docs[i] = chromem.Document{
			ID:        e.Chunk.ID,
			Content:   e.Chunk.Text,
			Metadata:  chunkMetadata(e.Chunk, documentID),
			Embedding: vec,
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.removeLocked(ctx, documentID); err != nil {
		return err
	}
	if len(docs) == 0 {
		return nil
	}
	if err := c.collection.AddDocuments(ctx, docs, runtime.NumCPU()); err != nil {
		return fmt.Errorf("failed to add chunks: %w", err)
	}
	c.counts[documentID] = len(docs)
	return nil
}

// Remove deletes the chunks of documentID.
func (c *ChromemIndex) Remove(ctx context.Context, documentID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.removeLocked(ctx, documentID)
}

func (c *ChromemIndex) removeLocked(ctx context.Context, documentID string) error {
	if err := c.collection.Delete(ctx, map[string]string{"document_id": documentID}, nil); err != nil {
		return fmt.Errorf("failed to delete chunks: %w", err)
	}
	delete(c.counts, documentID)
	return nil
}

// Reset drops the collection and recreates it empty.
func (c *ChromemIndex) Reset(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.db.DeleteCollection(chromemCollection); err != nil {
		return fmt.Errorf("failed to drop collection: %w", err)
	}
	coll, err := c.db.CreateCollection(chromemCollection, nil, c.embed)
	if err != nil {
		return fmt.Errorf("failed to recreate collection: %w", err)
	}
	c.collection = coll
	c.counts = map[string]int{}
	return nil
}

// Search queries the collection by embedding.
func (c *ChromemIndex) Search(ctx context.Context, query []float32, k int, opts ...SearchOption) ([]Hit, error) {
	if len(query) != c.dimensions {
		return nil, fmt.Errorf("query dimension mismatch: got %d, expected %d", len(query), c.dimensions)
	}
	o := applySearchOptions(opts)

	c.mu.RLock()
	defer c.mu.RUnlock()
	var where map[string]string
	n := c.collection.Count()
	if o.documentID != "" {
		where = map[string]string{"document_id": o.documentID}
		n = c.counts[o.documentID]
	}
	if k > n {
		k = n
	}
	if k <= 0 {
		return nil, nil
	}
	res, err := c.collection.QueryEmbedding(ctx, query, k, where, nil)
	if err != nil {
		return nil, fmt.Errorf("chromem query failed: %w", err)
	}
	hits := make([]Hit, 0, len(res))
	for _, r := range res {
		hits = append(hits, Hit{Chunk: chunkFromResult(r), Score: float64(r.Similarity)})
	}
	sortHits(hits)
	return hits, nil
}

func chunkMetadata(ch models.Chunk, documentID string) map[string]string {
	return map[string]string{
		"document_id": documentID,
		"seq":         strconv.Itoa(ch.Seq),
		"start":       strconv.Itoa(ch.Start),
		"end":         strconv.Itoa(ch.End),
		"page":        strconv.Itoa(ch.Page),
		"page_end":    strconv.Itoa(ch.PageEnd),
		"section":     ch.Section,
		"tokens":      strconv.Itoa(ch.TokenCount),
	}
}

func chunkFromResult(r chromem.Result) models.Chunk {
	num := func(key string) int {
		n, _ := strconv.Atoi(r.Metadata[key])
		return n
	}
	return models.Chunk{
		ID:         r.ID,
		DocumentID: r.Metadata["document_id"],
		Seq:        num("seq"),
		Text:       r.Content,
		Start:      num("start"),
		End:        num("end"),
		Page:       num("page"),
		PageEnd:    num("page_end"),
		Section:    r.Metadata["section"],
		TokenCount: num("tokens"),
	}
}

func (c *ChromemIndex) manifestPath() string {
	return filepath.Join(c.dir, "manifest.gob")
}

// Persist writes the manifest; chromem has already written the documents.
func (c *ChromemIndex) Persist() error {
	if c.dir == "" {
		return nil
	}
	m := chromemManifest{Dimensions: c.dimensions, Model: c.model}
	tmp := c.manifestPath() + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create manifest: %w", err)
	}
	if err := gob.NewEncoder(f).Encode(&m); err != nil {
		f.Close()
		return fmt.Errorf("encode manifest: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	return os.Rename(tmp, c.manifestPath())
}

// Load checks the manifest written by Persist and recounts the chunks stored in
// the collection. Documents written without a later Persist are counted too.
func (c *ChromemIndex) Load() error {
	if c.dir == "" {
		return nil
	}
	if err := c.checkManifest(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.recountLocked(context.Background())
}

func (c *ChromemIndex) checkManifest() error {
	f, err := os.Open(c.manifestPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("open manifest: %w", err)
	}
	defer f.Close()
	var m chromemManifest
	if err := gob.NewDecoder(f).Decode(&m); err != nil {
		return fmt.Errorf("decode manifest: %w", err)
	}
	if m.Dimensions != c.dimensions || m.Model != c.model {
		return fmt.Errorf("%w: manifest has %s/%d, expected %s/%d", ErrModelMismatch, m.Model, m.Dimensions, c.model, c.dimensions)
	}
	return nil
}

// recountLocked rebuilds counts by listing every document in the collection.
// chromem has no listing call, so it queries with k equal to the collection size.
func (c *ChromemIndex) recountLocked(ctx context.Context) error {
	counts := map[string]int{}
	if n := c.collection.Count(); n > 0 {
		unit := make([]float32, c.dimensions)
		unit[0] = 1
		res, err := c.collection.QueryEmbedding(ctx, unit, n, nil, nil)
		if err != nil {
			return fmt.Errorf("%w: stored vectors do not match %d dimensions: %v", ErrModelMismatch, c.dimensions, err)
		}
		for _, r := range res {
			counts[r.Metadata["document_id"]]++
		}
	}
	c.counts = counts
	return nil
}

// Close is a no-op; chromem flushes on every write.
func (c *ChromemIndex) Close() error { return nil }
