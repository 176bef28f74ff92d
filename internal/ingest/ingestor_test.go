package ingest

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/hyperjump/kotae/internal/errs"
	"github.com/hyperjump/kotae/internal/extract"
	"github.com/hyperjump/kotae/internal/models"
	"github.com/hyperjump/kotae/internal/testutil"
)

func newTestIngestor(f Fetcher) *Ingestor {
	return NewIngestor(f, extract.NewExtractor(), NewChunker(300, 50, 20))
}

func TestIngestor_IngestBytes_policy(t *testing.T) {
	in := newTestIngestor(nil)
	res, err := in.IngestBytes(context.Background(), "doc:policy", "policy.txt", "", testutil.PolicyText(), "")
	if err != nil {
		t.Fatalf("IngestBytes: %v", err)
	}
	if len(res.Chunks) != 7 {
		t.Fatalf("got %d chunks, want 7", len(res.Chunks))
	}
	doc := res.Document
	if doc.Status != models.StatusParsed || doc.Format != models.FormatText {
		t.Errorf("document = %+v", doc)
	}
	if doc.PageCount != 3 || doc.ChunkCount != 7 || doc.Title != "policy" {
		t.Errorf("pages=%d chunks=%d title=%q", doc.PageCount, doc.ChunkCount, doc.Title)
	}
	if len(doc.ContentHash) != 64 {
		t.Errorf("content hash = %q", doc.ContentHash)
	}
	found := 0
	for _, c := range res.Chunks {
		if c.DocumentID != "doc:policy" {
			t.Errorf("chunk %s has document %q", c.ID, c.DocumentID)
		}
		if strings.Contains(c.Text, testutil.GraceSentence) {
			found++
		}
	}
	if found == 0 {
		t.Error("no chunk contains the grace period sentence intact")
	}
}

func TestIngestor_IngestBytes_docx(t *testing.T) {
	in := newTestIngestor(nil)
	res, err := in.IngestBytes(context.Background(), "upload:x", "policy.docx", "", testutil.PolicyDocx(), "")
	if err != nil {
		t.Fatalf("IngestBytes: %v", err)
	}
	if res.Document.Format != models.FormatDOCX {
		t.Errorf("format = %q", res.Document.Format)
	}
	if len(res.Chunks) != 7 {
		t.Errorf("got %d chunks, want 7", len(res.Chunks))
	}
}

func TestIngestor_IngestBytes_unsupported(t *testing.T) {
	in := newTestIngestor(nil)
	_, err := in.IngestBytes(context.Background(), "upload:x", "blob", "", []byte{0x00, 0x9f, 0x92, 0x96, 0x00, 0x01}, "")
	if !errs.IsKind(err, errs.UnsupportedFormat) {
		t.Errorf("want unsupported_format, got %v", err)
	}
}

func TestIngestor_IngestBytes_corrupt(t *testing.T) {
	in := newTestIngestor(nil)
	_, err := in.IngestBytes(context.Background(), "upload:x", "broken.pdf", "", []byte("%PDF-1.4 garbage"), "")
	if !errs.IsKind(err, errs.Parse) {
		t.Errorf("want parse_error, got %v", err)
	}
}

func TestIngestor_IngestBytes_cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := newTestIngestor(nil).IngestBytes(ctx, "upload:x", "a.txt", "", []byte("hello"), "")
	if errs.KindOf(err) != errs.Cancelled {
		t.Errorf("want cancelled, got %v", err)
	}
}

func TestIngestor_Ingest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/policy" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write(testutil.PolicyText())
	}))
	defer srv.Close()

	in := newTestIngestor(&MultiFetcher{HTTP: NewHTTPFetcher(HTTPConfig{})})
	res, err := in.Ingest(context.Background(), "doc:1", srv.URL+"/policy", "")
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if res.Document.Source != srv.URL+"/policy" {
		t.Errorf("source = %q", res.Document.Source)
	}
	if len(res.Chunks) != 7 {
		t.Errorf("got %d chunks, want 7", len(res.Chunks))
	}

	_, err = in.Ingest(context.Background(), "doc:2", srv.URL+"/gone.pdf", "")
	if !errs.IsKind(err, errs.SourceUnavailable) {
		t.Errorf("want source_unavailable, got %v", err)
	}
}

func TestIngestor_Ingest_noFetcher(t *testing.T) {
	_, err := newTestIngestor(nil).Ingest(context.Background(), "doc:1", "https://x/y", "")
	if !errs.IsKind(err, errs.InvalidInput) {
		t.Errorf("want invalid_input, got %v", err)
	}
}
