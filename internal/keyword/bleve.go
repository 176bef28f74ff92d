package keyword

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/lang/en"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/search"
	blevequery "github.com/blevesearch/bleve/v2/search/query"
	"github.com/hyperjump/kotae/internal/models"
)

const (
	fieldDocument   = "document_id"
	fieldContent    = "content"
	fieldSection    = "section"
	fieldSeq        = "seq"
	fieldStart      = "start"
	fieldEnd        = "end"
	fieldPage       = "page"
	fieldPageEnd    = "page_end"
	fieldTokenCount = "token_count"
)

var storedFields = []string{
	fieldDocument, fieldContent, fieldSection, fieldSeq, fieldStart,
	fieldEnd, fieldPage, fieldPageEnd, fieldTokenCount,
}

// BleveIndex implements Index using Bleve. One bleve document per chunk, keyed by chunk id.
type BleveIndex struct {
	mu    sync.RWMutex
	path  string // empty for an in-memory index
	index bleve.Index
}

var _ Index = (*BleveIndex)(nil)

// NewBleveIndex creates or opens a Bleve index at path. An empty path keeps the
// index in memory. An existing index directory is opened and reused so chunks
// survive restarts; remove the directory after changing the mapping.
func NewBleveIndex(path string) (*BleveIndex, error) {
	idx, err := openIndex(path)
	if err != nil {
		return nil, err
	}
	return &BleveIndex{path: path, index: idx}, nil
}

func openIndex(path string) (bleve.Index, error) {
	if path == "" {
		idx, err := bleve.NewMemOnly(chunkMapping())
		if err != nil {
			return nil, fmt.Errorf("failed to create in-memory Bleve index: %w", err)
		}
		return idx, nil
	}
	if _, err := os.Stat(path); err == nil {
		idx, openErr := bleve.Open(path)
		if openErr != nil {
			return nil, fmt.Errorf("failed to open Bleve index: %w", openErr)
		}
		return idx, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create Bleve index directory: %w", err)
	}
	idx, err := bleve.New(path, chunkMapping())
	if err != nil {
		return nil, fmt.Errorf("failed to create Bleve index: %w", err)
	}
	return idx, nil
}

func chunkMapping() *mapping.IndexMappingImpl {
	im := bleve.NewIndexMapping()
	im.DefaultAnalyzer = en.AnalyzerName

	doc := bleve.NewDocumentMapping()

	// English analyzer stems so "payments" finds "payment".
	text := bleve.NewTextFieldMapping()
	text.Analyzer = en.AnalyzerName
	text.Store = true
	text.IncludeTermVectors = true
	doc.AddFieldMappingsAt(fieldContent, text)

	section := bleve.NewTextFieldMapping()
	section.Analyzer = en.AnalyzerName
	section.Store = true
	doc.AddFieldMappingsAt(fieldSection, section)

	docID := bleve.NewKeywordFieldMapping()
	docID.Store = true
	doc.AddFieldMappingsAt(fieldDocument, docID)

	for _, name := range []string{fieldSeq, fieldStart, fieldEnd, fieldPage, fieldPageEnd, fieldTokenCount} {
		num := bleve.NewNumericFieldMapping()
		num.Index = name == fieldSeq
		num.Store = true
		doc.AddFieldMappingsAt(name, num)
	}

	im.AddDocumentMapping("chunk", doc)
	im.DefaultType = "chunk"
	im.DefaultMapping = doc
	return im
}

func chunkFields(c models.Chunk) map[string]interface{} {
	return map[string]interface{}{
		fieldDocument:   c.DocumentID,
		fieldContent:    c.Text,
		fieldSection:    c.Section,
		fieldSeq:        float64(c.Seq),
		fieldStart:      float64(c.Start),
		fieldEnd:        float64(c.End),
		fieldPage:       float64(c.Page),
		fieldPageEnd:    float64(c.PageEnd),
		fieldTokenCount: float64(c.TokenCount),
	}
}

// Add replaces all chunks of docID in one batch.
func (b *BleveIndex) Add(ctx context.Context, docID string, chunks []models.Chunk) error {
	for _, c := range chunks {
		if c.DocumentID != docID {
			return fmt.Errorf("chunk %s belongs to %q, not %q", c.ID, c.DocumentID, docID)
		}
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	batch := b.index.NewBatch()
	ids, err := b.chunkIDsLocked(ctx, docID)
	if err != nil {
		return err
	}
	keep := make(map[string]struct{}, len(chunks))
	for _, c := range chunks {
		keep[c.ID] = struct{}{}
		if err := batch.Index(c.ID, chunkFields(c)); err != nil {
			return fmt.Errorf("failed to index chunk %s: %w", c.ID, err)
		}
	}
	for _, id := range ids {
		if _, ok := keep[id]; !ok {
			batch.Delete(id)
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := b.index.Batch(batch); err != nil {
		return fmt.Errorf("Bleve batch failed: %w", err)
	}
	return nil
}

// Remove deletes every chunk of docID.
func (b *BleveIndex) Remove(ctx context.Context, docID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	ids, err := b.chunkIDsLocked(ctx, docID)
	if err != nil || len(ids) == 0 {
		return err
	}
	batch := b.index.NewBatch()
	for _, id := range ids {
		batch.Delete(id)
	}
	if err := b.index.Batch(batch); err != nil {
		return fmt.Errorf("Bleve delete failed: %w", err)
	}
	return nil
}

func documentQuery(docID string) *blevequery.TermQuery {
	q := bleve.NewTermQuery(docID)
	q.SetField(fieldDocument)
	return q
}

func (b *BleveIndex) chunkIDsLocked(ctx context.Context, docID string) ([]string, error) {
	n, err := b.countLocked(ctx, docID)
	if err != nil || n == 0 {
		return nil, err
	}
	req := bleve.NewSearchRequestOptions(documentQuery(docID), n, 0, false)
	res, err := b.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("Bleve search failed: %w", err)
	}
	ids := make([]string, len(res.Hits))
	for i, hit := range res.Hits {
		ids[i] = hit.ID
	}
	return ids, nil
}

// Count returns the number of chunks indexed for docID.
func (b *BleveIndex) Count(ctx context.Context, docID string) (int, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.countLocked(ctx, docID)
}

func (b *BleveIndex) countLocked(ctx context.Context, docID string) (int, error) {
	req := bleve.NewSearchRequestOptions(documentQuery(docID), 0, 0, false)
	res, err := b.index.SearchInContext(ctx, req)
	if err != nil {
		return 0, fmt.Errorf("Bleve count failed: %w", err)
	}
	return int(res.Total), nil
}

// Search runs a match over chunk text and returns up to limit hits, best first.
// With opts.PhraseBoost > 1 a phrase clause rewards adjacent query terms; with
// opts.SectionBoost > 0 matches in the section heading also contribute.
func (b *BleveIndex) Search(ctx context.Context, query string, limit int, opts *SearchOptions) ([]Hit, error) {
	if strings.TrimSpace(query) == "" || limit <= 0 {
		return nil, nil
	}
	if opts == nil {
		opts = &SearchOptions{}
	}

	req := bleve.NewSearchRequestOptions(buildQuery(query, opts), limit, 0, false)
	req.Fields = storedFields

	b.mu.RLock()
	res, err := b.index.SearchInContext(ctx, req)
	b.mu.RUnlock()
	if err != nil {
		return nil, fmt.Errorf("Bleve search failed: %w", err)
	}

	out := make([]Hit, 0, len(res.Hits))
	for _, hit := range res.Hits {
		out = append(out, Hit{Chunk: chunkFromHit(hit), Score: hit.Score})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		if out[i].Chunk.DocumentID != out[j].Chunk.DocumentID {
			return out[i].Chunk.DocumentID < out[j].Chunk.DocumentID
		}
		return out[i].Chunk.Seq < out[j].Chunk.Seq
	})
	return out, nil
}

func buildQuery(query string, opts *SearchOptions) blevequery.Query {
	body := bleve.NewMatchQuery(query)
	body.SetField(fieldContent)
	clauses := []blevequery.Query{body}

	if opts.PhraseBoost > 1 && len(strings.Fields(query)) > 1 {
		phrase := bleve.NewMatchPhraseQuery(query)
		phrase.SetField(fieldContent)
		phrase.SetBoost(opts.PhraseBoost)
		clauses = append(clauses, phrase)
	}
	if opts.SectionBoost > 0 {
		section := bleve.NewMatchQuery(query)
		section.SetField(fieldSection)
		section.SetBoost(opts.SectionBoost)
		clauses = append(clauses, section)
	}

	var q blevequery.Query = body
	if len(clauses) > 1 {
		q = bleve.NewDisjunctionQuery(clauses...)
	}
	if opts.DocumentID != "" {
		q = bleve.NewConjunctionQuery(q, documentQuery(opts.DocumentID))
	}
	return q
}

func chunkFromHit(hit *search.DocumentMatch) models.Chunk {
	str := func(name string) string {
		s, _ := hit.Fields[name].(string)
		return s
	}
	num := func(name string) int {
		f, _ := hit.Fields[name].(float64)
		return int(f)
	}
	return models.Chunk{
		ID:         hit.ID,
		DocumentID: str(fieldDocument),
		Seq:        num(fieldSeq),
		Text:       str(fieldContent),
		Start:      num(fieldStart),
		End:        num(fieldEnd),
		Page:       num(fieldPage),
		PageEnd:    num(fieldPageEnd),
		Section:    str(fieldSection),
		TokenCount: num(fieldTokenCount),
	}
}

// DocCount returns the total number of chunks in the index.
func (b *BleveIndex) DocCount() (uint64, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.index.DocCount()
}

// CorpusStats returns the chunk count and the number of chunks matching each term.
// A term that fails to search is reported with frequency zero.
func (b *BleveIndex) CorpusStats(ctx context.Context, terms []string) (int, map[string]int, error) {
	count, err := b.DocCount()
	if err != nil {
		return 0, nil, fmt.Errorf("failed to get doc count: %w", err)
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	docFreqs := make(map[string]int, len(terms))
	for _, term := range terms {
		q := bleve.NewMatchQuery(term)
		q.SetField(fieldContent)
		res, err := b.index.SearchInContext(ctx, bleve.NewSearchRequestOptions(q, 0, 0, false))
		if err != nil {
			if ctx.Err() != nil {
				return 0, nil, ctx.Err()
			}
			docFreqs[term] = 0
			continue
		}
		docFreqs[term] = int(res.Total)
	}
	return int(count), docFreqs, nil
}

// Reset drops every chunk. A disk index is deleted and recreated in place.
func (b *BleveIndex) Reset(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.index.Close(); err != nil {
		return fmt.Errorf("failed to close Bleve index: %w", err)
	}
	if b.path != "" {
		if err := os.RemoveAll(b.path); err != nil {
			return fmt.Errorf("failed to remove Bleve index: %w", err)
		}
	}
	idx, err := openIndex(b.path)
	if err != nil {
		return err
	}
	b.index = idx
	return nil
}

// Close closes the Bleve index.
func (b *BleveIndex) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.index.Close()
}
