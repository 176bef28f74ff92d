// Package integration exercises the pipeline against real on-disk storage and
// indexes across restarts.
package integration

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/hyperjump/kotae/internal/config"
	"github.com/hyperjump/kotae/internal/models"
	"github.com/hyperjump/kotae/internal/pipeline"
	"github.com/hyperjump/kotae/internal/testutil"
)

func testConfig(dir string) *config.Config {
	cfg := config.Default()
	cfg.Storage.Driver = "sqlite"
	cfg.Storage.DatabasePath = filepath.Join(dir, "db.sqlite")
	cfg.Storage.DataDir = dir
	cfg.Ingest.ChunkSize = 300
	cfg.Ingest.ChunkOverlap = 50
	cfg.Ingest.MinChunkSize = 20
	cfg.Embedding.Provider = "hash"
	cfg.Embedding.Dimensions = 64
	cfg.Index.Type = "memory"
	cfg.Index.Path = filepath.Join(dir, "vectors.kvx")
	cfg.Index.KeywordPath = filepath.Join(dir, "keywords.bleve")
	cfg.LLM.Provider = "none"
	return cfg
}

func open(t *testing.T, cfg *config.Config) *pipeline.Orchestrator {
	t.Helper()
	orch, err := pipeline.NewFromConfig(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("NewFromConfig: %v", err)
	}
	return orch
}

func TestIntegration_SurvivesRestart(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	cfg := testConfig(dir)
	policy := filepath.Join(dir, "policy.txt")
	if err := os.WriteFile(policy, testutil.PolicyText(), 0644); err != nil {
		t.Fatal(err)
	}
	question := "What is the " + testutil.GraceQuery + "?"

	orch := open(t, cfg)
	resp, err := orch.Run(ctx, &models.QueryRequest{Documents: policy, Questions: []string{question}})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !strings.Contains(resp.Answers[0].Answer, testutil.GraceSentence) {
		t.Fatalf("answer = %q", resp.Answers[0].Answer)
	}
	docID := resp.DocumentID
	if err := orch.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// The source is gone; answers must come from what was persisted.
	if err := os.Remove(policy); err != nil {
		t.Fatal(err)
	}

	orch = open(t, cfg)
	defer orch.Close()

	docs, err := orch.ListDocuments(ctx, 0, 10)
	if err != nil {
		t.Fatalf("ListDocuments: %v", err)
	}
	if len(docs) != 1 || docs[0].ID != docID {
		t.Fatalf("documents after restart = %+v", docs)
	}
	if docs[0].Status != models.StatusIndexed || docs[0].ChunkCount != 7 {
		t.Errorf("document = %s with %d chunks, want indexed with 7", docs[0].Status, docs[0].ChunkCount)
	}

	resp, err = orch.Run(ctx, &models.QueryRequest{DocumentID: docID, Questions: []string{question}})
	if err != nil {
		t.Fatalf("Run after restart: %v", err)
	}
	if a := resp.Answers[0]; a.Error != nil || !strings.Contains(a.Answer, testutil.GraceSentence) {
		t.Errorf("answer after restart = %+v", a)
	}

	stats, err := orch.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.Documents != 1 || stats.Chunks != 7 {
		t.Errorf("stats = %+v", stats)
	}
	if stats.Disk.Total() == 0 {
		t.Error("disk usage should be reported for on-disk stores")
	}

	logs, err := orch.QueryLogs(ctx, docID, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(logs) != 2 {
		t.Errorf("got %d query logs, want 2", len(logs))
	}
}

func TestIntegration_RemoveDocumentPersists(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	cfg := testConfig(dir)

	orch := open(t, cfg)
	doc, err := orch.AddDocumentBytes(ctx, "policy.docx", testutil.PolicyDocx(), "", false)
	if err != nil {
		t.Fatalf("AddDocumentBytes: %v", err)
	}
	if doc.Format != models.FormatDOCX || doc.PageCount != 3 {
		t.Errorf("document = %s with %d pages, want docx with 3", doc.Format, doc.PageCount)
	}
	if err := orch.RemoveDocument(ctx, doc.ID); err != nil {
		t.Fatalf("RemoveDocument: %v", err)
	}
	if err := orch.Close(); err != nil {
		t.Fatal(err)
	}

	orch = open(t, cfg)
	defer orch.Close()
	docs, err := orch.ListDocuments(ctx, 0, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(docs) != 0 {
		t.Errorf("documents after removal and restart = %d", len(docs))
	}
	if _, err := orch.GetDocument(ctx, doc.ID); err == nil {
		t.Error("removed document should not be found")
	}
}
