package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/hyperjump/kotae/internal/config"
	"github.com/hyperjump/kotae/internal/models"
	"github.com/hyperjump/kotae/internal/pipeline"
	"github.com/hyperjump/kotae/internal/server"
	"github.com/hyperjump/kotae/internal/testutil"
)

const (
	e2eDimensions = 128
	e2eTokenEnv   = "KOTAE_E2E_TOKEN"
	e2eToken      = "e2e-secret"
)

type stack struct {
	orch *pipeline.Orchestrator
	api  *httptest.Server
}

// newStack builds the pipeline from a config rooted in dir and serves it.
func newStack(t *testing.T, dir string) *stack {
	t.Helper()
	t.Setenv(e2eTokenEnv, e2eToken)
	cfg := config.Default()
	cfg.Server.AuthTokenEnv = e2eTokenEnv
	cfg.Storage.DatabasePath = filepath.Join(dir, "kotae.db")
	cfg.Storage.DataDir = dir
	cfg.Ingest.ChunkSize = 300
	cfg.Ingest.ChunkOverlap = 50
	cfg.Ingest.MinChunkSize = 20
	cfg.Embedding.Provider = "hash"
	cfg.Embedding.Dimensions = e2eDimensions
	cfg.Index.Type = "memory"
	cfg.Index.Path = filepath.Join(dir, "index", "vectors.kvx")
	cfg.Index.KeywordPath = filepath.Join(dir, "index", "keywords.bleve")
	cfg.Rerank.Provider = "lexical"
	cfg.LLM.Provider = "none"

	orch, err := pipeline.NewFromConfig(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("NewFromConfig: %v", err)
	}
	api := httptest.NewServer(server.NewServer(orch, &cfg.Server, nil).Handler())
	t.Cleanup(func() {
		api.Close()
		if err := orch.Close(); err != nil {
			t.Errorf("close: %v", err)
		}
	})
	return &stack{orch: orch, api: api}
}

func (s *stack) post(t *testing.T, path string, body any, out any) int {
	t.Helper()
	b, err := json.Marshal(body)
	if err != nil {
		t.Fatal(err)
	}
	req, err := http.NewRequest(http.MethodPost, s.api.URL+path, bytes.NewReader(b))
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+e2eToken)
	return s.send(t, req, out)
}

func (s *stack) get(t *testing.T, path string, out any) int {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, s.api.URL+path, nil)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Authorization", "Bearer "+e2eToken)
	return s.send(t, req, out)
}

func (s *stack) send(t *testing.T, req *http.Request, out any) int {
	t.Helper()
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if out != nil && resp.StatusCode < 300 {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s: %v", req.URL.Path, err)
		}
	}
	return resp.StatusCode
}

func writeFile(t *testing.T, dir, name string, content []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, content, 0644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return path
}

func TestE2E_HandbookBatch(t *testing.T) {
	dir := t.TempDir()
	s := newStack(t, dir)
	path := writeFile(t, dir, "handbook.txt", []byte(HandbookText()))

	var resp models.QueryResponse
	code := s.post(t, "/api/v1/run", map[string]any{
		"documents": path,
		"questions": Questions(HandbookCases),
	}, &resp)
	if code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if len(resp.Answers) != len(HandbookCases) {
		t.Fatalf("got %d answers, want %d", len(resp.Answers), len(HandbookCases))
	}
	for i, c := range HandbookCases {
		a := resp.Answers[i]
		if a.Question != c.Question {
			t.Errorf("answer %d is for %q, want %q", i, a.Question, c.Question)
		}
		if a.Error != nil {
			t.Errorf("%q failed: %s", c.Question, a.Error.Message)
			continue
		}
		if !strings.Contains(a.Answer, c.Clause) {
			t.Errorf("%q: answer %q does not quote %q", c.Question, a.Answer, c.Clause)
		}
		if a.Decision != c.Decision {
			t.Errorf("%q: decision = %q, want %q", c.Question, a.Decision, c.Decision)
		}
		if a.Confidence < 0 || a.Confidence > 1 {
			t.Errorf("%q: confidence %f out of range", c.Question, a.Confidence)
		}
		if len(a.Evidence) == 0 {
			t.Errorf("%q: no evidence", c.Question)
		}
	}
}

func TestE2E_HackrxRunOverFormats(t *testing.T) {
	dir := t.TempDir()
	s := newStack(t, dir)

	for _, ext := range FileExtensions {
		t.Run(ext, func(t *testing.T) {
			content, err := FileFixture(ext, HandbookText())
			if err != nil {
				t.Fatal(err)
			}
			path := writeFile(t, dir, "handbook"+ext, content)

			var out struct {
				Answers []string `json:"answers"`
			}
			code := s.post(t, "/hackrx/run", map[string]any{
				"documents": path,
				"questions": []string{RemoteQuestion, "How many days of paid annual leave do employees receive?"},
			}, &out)
			if code != http.StatusOK {
				t.Fatalf("status = %d", code)
			}
			if len(out.Answers) != 2 {
				t.Fatalf("got %d answers, want 2", len(out.Answers))
			}
			if !strings.Contains(out.Answers[0], RemoteClause) {
				t.Errorf("answer %q does not quote %q", out.Answers[0], RemoteClause)
			}
			if !strings.Contains(out.Answers[1], HandbookClauses[2]) {
				t.Errorf("answer %q does not quote %q", out.Answers[1], HandbookClauses[2])
			}
		})
	}

	var listing struct {
		Documents []*models.Document `json:"documents"`
	}
	if code := s.get(t, "/api/v1/documents?limit=100", &listing); code != http.StatusOK {
		t.Fatalf("list status = %d", code)
	}
	if len(listing.Documents) != len(FileExtensions) {
		t.Errorf("listed %d documents, want %d", len(listing.Documents), len(FileExtensions))
	}
	for _, d := range listing.Documents {
		if d.Status != models.StatusIndexed {
			t.Errorf("%s: status %s (%s)", d.Source, d.Status, d.Error)
		}
	}
}

func TestE2E_RemotePolicy(t *testing.T) {
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/policy.txt" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write(testutil.PolicyText())
	}))
	defer origin.Close()

	s := newStack(t, t.TempDir())
	var resp models.QueryResponse
	code := s.post(t, "/api/v1/run", map[string]any{
		"documents": origin.URL + "/policy.txt",
		"questions": []string{"What is the " + testutil.GraceQuery + "?"},
	}, &resp)
	if code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if len(resp.Answers) != 1 || !strings.Contains(resp.Answers[0].Answer, testutil.GraceSentence) {
		t.Fatalf("answers = %+v", resp.Answers)
	}

	var doc models.Document
	if code := s.get(t, "/api/v1/documents/"+resp.DocumentID, &doc); code != http.StatusOK {
		t.Fatalf("get document status = %d", code)
	}
	if doc.ChunkCount != 7 || doc.PageCount != 3 {
		t.Errorf("chunks = %d, pages = %d, want 7 and 3", doc.ChunkCount, doc.PageCount)
	}

	var missing map[string]any
	code = s.post(t, "/api/v1/run", map[string]any{
		"documents": origin.URL + "/missing.pdf",
		"questions": []string{"anything?"},
	}, &missing)
	if code != http.StatusBadGateway {
		t.Errorf("missing source status = %d, want %d", code, http.StatusBadGateway)
	}
}

func TestE2E_RequiresToken(t *testing.T) {
	s := newStack(t, t.TempDir())
	resp, err := http.Post(s.api.URL+"/hackrx/run", "application/json",
		strings.NewReader(`{"documents":"/tmp/x.txt","questions":["q?"]}`))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", resp.StatusCode)
	}

	health, err := http.Get(s.api.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	health.Body.Close()
	if health.StatusCode != http.StatusOK {
		t.Errorf("health status = %d, want 200 without a token", health.StatusCode)
	}
}
