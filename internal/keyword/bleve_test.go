package keyword

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/hyperjump/kotae/internal/models"
)

func chunk(doc string, seq int, text string) models.Chunk {
	return models.Chunk{
		ID:         doc + "#" + string(rune('0'+seq)),
		DocumentID: doc,
		Seq:        seq,
		Text:       text,
		Start:      seq * 100,
		End:        seq*100 + len(text),
		Page:       seq + 1,
		PageEnd:    seq + 1,
		TokenCount: 8,
	}
}

func newMemIndex(t *testing.T) *BleveIndex {
	t.Helper()
	idx, err := NewBleveIndex("")
	if err != nil {
		t.Fatalf("NewBleveIndex: %v", err)
	}
	t.Cleanup(func() { _ = idx.Close() })
	return idx
}

func TestBleveIndex_SearchFindsContent(t *testing.T) {
	idx := newMemIndex(t)
	ctx := context.Background()

	chunks := []models.Chunk{
		chunk("policy", 0, "The policy covers hospitalisation expenses for the insured person."),
		chunk("policy", 1, "A grace period of thirty days applies to premium payment."),
		chunk("policy", 2, "Claims must be notified within seven days of discharge."),
	}
	if err := idx.Add(ctx, "policy", chunks); err != nil {
		t.Fatalf("Add: %v", err)
	}

	// English analyzer stems "payments" and "periods".
	hits, err := idx.Search(ctx, "grace periods for premium payments", 10, nil)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) == 0 {
		t.Fatal("expected at least one keyword hit")
	}
	got := hits[0].Chunk
	if got.ID != "policy#1" {
		t.Errorf("first hit = %q, want policy#1", got.ID)
	}
	if got != chunks[1] {
		t.Errorf("stored chunk = %+v, want %+v", got, chunks[1])
	}
}

func TestBleveIndex_DocumentFilter(t *testing.T) {
	idx := newMemIndex(t)
	ctx := context.Background()

	if err := idx.Add(ctx, "a", []models.Chunk{chunk("a", 0, "maternity benefits are covered after two years")}); err != nil {
		t.Fatal(err)
	}
	if err := idx.Add(ctx, "b", []models.Chunk{chunk("b", 0, "maternity expenses are excluded")}); err != nil {
		t.Fatal(err)
	}

	hits, err := idx.Search(ctx, "maternity", 10, &SearchOptions{DocumentID: "b"})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) != 1 || hits[0].Chunk.DocumentID != "b" {
		t.Fatalf("filtered hits = %+v, want only document b", hits)
	}

	all, err := idx.Search(ctx, "maternity", 10, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 2 {
		t.Errorf("unfiltered hits = %d, want 2", len(all))
	}
}

func TestBleveIndex_AddReplacesDocument(t *testing.T) {
	idx := newMemIndex(t)
	ctx := context.Background()

	first := []models.Chunk{
		chunk("doc", 0, "alpha one"),
		chunk("doc", 1, "alpha two"),
		chunk("doc", 2, "alpha three"),
	}
	if err := idx.Add(ctx, "doc", first); err != nil {
		t.Fatal(err)
	}
	if err := idx.Add(ctx, "doc", first[:1]); err != nil {
		t.Fatal(err)
	}

	n, err := idx.Count(ctx, "doc")
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("Count = %d, want 1 after re-add", n)
	}
	total, err := idx.DocCount()
	if err != nil {
		t.Fatal(err)
	}
	if total != 1 {
		t.Errorf("DocCount = %d, want 1", total)
	}
}

func TestBleveIndex_AddRejectsForeignChunk(t *testing.T) {
	idx := newMemIndex(t)
	if err := idx.Add(context.Background(), "a", []models.Chunk{chunk("b", 0, "text")}); err == nil {
		t.Fatal("expected error for chunk of another document")
	}
}

func TestBleveIndex_Remove(t *testing.T) {
	idx := newMemIndex(t)
	ctx := context.Background()

	if err := idx.Add(ctx, "doc1", []models.Chunk{chunk("doc1", 0, "onlyindoc1")}); err != nil {
		t.Fatal(err)
	}
	if err := idx.Add(ctx, "doc2", []models.Chunk{chunk("doc2", 0, "onlyindoc2")}); err != nil {
		t.Fatal(err)
	}
	if err := idx.Remove(ctx, "doc1"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	// Removing an unknown document is a no-op.
	if err := idx.Remove(ctx, "missing"); err != nil {
		t.Fatalf("Remove missing: %v", err)
	}

	hits, err := idx.Search(ctx, "onlyindoc1", 10, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 0 {
		t.Errorf("expected 0 hits after remove, got %d", len(hits))
	}
	if n, _ := idx.Count(ctx, "doc2"); n != 1 {
		t.Errorf("doc2 count = %d, want 1", n)
	}
}

func TestBleveIndex_PhraseAndSectionBoost(t *testing.T) {
	idx := newMemIndex(t)
	ctx := context.Background()

	near := chunk("doc", 0, "the waiting period is short")
	far := chunk("doc", 1, "the period before any waiting applies is short")
	far.Section = "Waiting Period"
	if err := idx.Add(ctx, "doc", []models.Chunk{near, far}); err != nil {
		t.Fatal(err)
	}

	hits, err := idx.Search(ctx, "waiting period", 10, &SearchOptions{PhraseBoost: 3})
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 2 || hits[0].Chunk.ID != near.ID {
		t.Fatalf("phrase boost: hits = %+v, want %s first", hits, near.ID)
	}

	hits, err = idx.Search(ctx, "waiting period", 10, &SearchOptions{SectionBoost: 5})
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 2 || hits[0].Chunk.ID != far.ID {
		t.Fatalf("section boost: hits = %+v, want %s first", hits, far.ID)
	}
	if hits[0].Chunk.Section != "Waiting Period" {
		t.Errorf("section = %q", hits[0].Chunk.Section)
	}
}

func TestBleveIndex_EmptyQuery(t *testing.T) {
	idx := newMemIndex(t)
	hits, err := idx.Search(context.Background(), "   ", 10, nil)
	if err != nil || hits != nil {
		t.Errorf("Search(blank) = %v, %v; want nil, nil", hits, err)
	}
}

func TestBleveIndex_CorpusStats(t *testing.T) {
	idx := newMemIndex(t)
	ctx := context.Background()
	chunks := []models.Chunk{
		chunk("doc", 0, "premium due monthly"),
		chunk("doc", 1, "premium due yearly"),
		chunk("doc", 2, "claims settled quickly"),
	}
	if err := idx.Add(ctx, "doc", chunks); err != nil {
		t.Fatal(err)
	}

	total, df, err := idx.CorpusStats(ctx, []string{"premium", "claims", "absent"})
	if err != nil {
		t.Fatalf("CorpusStats: %v", err)
	}
	if total != 3 {
		t.Errorf("total = %d, want 3", total)
	}
	if df["premium"] != 2 || df["claims"] != 1 || df["absent"] != 0 {
		t.Errorf("docFreqs = %v", df)
	}
}

func TestBleveIndex_ReopenKeepsChunks(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "bleve")
	ctx := context.Background()

	idx1, err := NewBleveIndex(path)
	if err != nil {
		t.Fatalf("NewBleveIndex: %v", err)
	}
	if err := idx1.Add(ctx, "doc", []models.Chunk{chunk("doc", 0, "uniqueword")}); err != nil {
		t.Fatal(err)
	}
	if err := idx1.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("index path should exist: %v", err)
	}

	idx2, err := NewBleveIndex(path)
	if err != nil {
		t.Fatalf("NewBleveIndex (reopen): %v", err)
	}
	defer func() {
		_ = idx2.Close()
	}()

	hits, err := idx2.Search(ctx, "uniqueword", 10, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 1 {
		t.Fatalf("after reopen got %d hits, want 1", len(hits))
	}

	if err := idx2.Reset(ctx); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if n, _ := idx2.DocCount(); n != 0 {
		t.Errorf("DocCount after Reset = %d, want 0", n)
	}
}

func TestNormalize(t *testing.T) {
	hits := Normalize([]Hit{{Score: 4}, {Score: 2}, {Score: 0}})
	want := []float64{1, 0.5, 0}
	for i, h := range hits {
		if h.Score != want[i] {
			t.Errorf("hits[%d].Score = %v, want %v", i, h.Score, want[i])
		}
	}
	if got := Normalize(nil); len(got) != 0 {
		t.Errorf("Normalize(nil) = %v", got)
	}
}
