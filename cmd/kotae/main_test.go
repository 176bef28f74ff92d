package main

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/hyperjump/kotae/internal/docid"
	"github.com/hyperjump/kotae/internal/errs"
)

func TestReorderArgs(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		expected []string
	}{
		{
			name:     "flags after question are moved first",
			args:     []string{"what is the grace period", "-doc", "policy.pdf"},
			expected: []string{"-doc", "policy.pdf", "what is the grace period"},
		},
		{
			name:     "flags first returns unchanged",
			args:     []string{"-doc", "policy.pdf", "what is covered"},
			expected: []string{"-doc", "policy.pdf", "what is covered"},
		},
		{
			name:     "positional only returns unchanged",
			args:     []string{"what is covered"},
			expected: []string{"what is covered"},
		},
		{
			name:     "empty args returns unchanged",
			args:     []string{},
			expected: []string{},
		},
		{
			name:     "multiple positionals then flags",
			args:     []string{"is", "dental", "covered", "-output", "json"},
			expected: []string{"-output", "json", "is", "dental", "covered"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := reorderArgs(tt.args)
			if !reflect.DeepEqual(got, tt.expected) {
				t.Errorf("reorderArgs() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestJoinArgs(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		expected string
	}{
		{"single word", []string{"coverage"}, "coverage"},
		{"multiple words", []string{"is", "maternity", "covered?"}, "is maternity covered?"},
		{"quoted question", []string{"is maternity covered?"}, "is maternity covered?"},
		{"empty args", []string{}, ""},
		{"blank args", []string{"  ", "  "}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := joinArgs(tt.args); got != tt.expected {
				t.Errorf("joinArgs(%v) = %q, want %q", tt.args, got, tt.expected)
			}
		})
	}
}

func TestQuestionFlags(t *testing.T) {
	var q questionFlags
	if err := q.Set(" first? "); err != nil {
		t.Fatal(err)
	}
	if err := q.Set("second?"); err != nil {
		t.Fatal(err)
	}
	if err := q.Set("   "); err == nil {
		t.Error("empty question should be rejected")
	}
	if !reflect.DeepEqual([]string(q), []string{"first?", "second?"}) {
		t.Errorf("questions = %v", q)
	}
}

func TestRefHelpers(t *testing.T) {
	if !isRemoteRef("https://example.com/a.pdf") || !isRemoteRef("s3://bucket/key.pdf") {
		t.Error("URLs should be remote")
	}
	if isRemoteRef("./policy.pdf") || isRemoteRef("/tmp/policy.pdf") || isRemoteRef("file:///tmp/a.txt") {
		t.Error("paths should be local")
	}
	if got := absRef("https://example.com/a.pdf"); got != "https://example.com/a.pdf" {
		t.Errorf("absRef(url) = %q", got)
	}
	if got := absRef("policy.pdf"); !filepath.IsAbs(got) {
		t.Errorf("absRef(relative) = %q, want absolute", got)
	}

	if got := documentID("doc:abc"); got != "doc:abc" {
		t.Errorf("documentID(id) = %q", got)
	}
	want := docid.FromSource("https://example.com/a.pdf")
	if got := documentID("https://EXAMPLE.com/a.pdf"); got != want {
		t.Errorf("documentID(url) = %q, want %q", got, want)
	}
}

func TestHasExtension(t *testing.T) {
	exts := []string{".pdf", "docx"}
	if !hasExtension("/a/b.PDF", exts) || !hasExtension("/a/b.docx", exts) {
		t.Error("expected match")
	}
	if hasExtension("/a/b.png", exts) {
		t.Error("png should not match")
	}
	if !hasExtension("/a/b.png", nil) {
		t.Error("no filter matches everything")
	}
}

func TestAPIClient_StructuredError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte(`{"error":{"kind":"source_unavailable","message":"source returned 404","retryable":true}}`))
	}))
	defer srv.Close()

	err := newAPIClient(srv.URL, "tok").do(context.Background(), http.MethodPost, "/api/v1/run", map[string]any{}, nil, http.StatusOK)
	var apiErr *apiError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected apiError, got %v", err)
	}
	if apiErr.Status != http.StatusBadGateway || apiErr.Body == nil || apiErr.Body.Kind != errs.SourceUnavailable {
		t.Errorf("apiError = %+v", apiErr)
	}

	err = newAPIClient(srv.URL+"/", "").do(context.Background(), http.MethodGet, "/health", nil, nil, http.StatusOK)
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusUnauthorized || apiErr.Body != nil {
		t.Errorf("unauthenticated call: %v", err)
	}
}

func TestAPIClient_DecodesResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"directories":["/a","/b"]}`))
	}))
	defer srv.Close()
	var out struct {
		Directories []string `json:"directories"`
	}
	if err := newAPIClient(srv.URL, "").do(context.Background(), http.MethodGet, "/api/v1/watch/directories", nil, &out, http.StatusOK); err != nil {
		t.Fatal(err)
	}
	if len(out.Directories) != 2 {
		t.Errorf("directories = %v", out.Directories)
	}
}

func TestLoadConfig_prefersCwdConfigWhenDefaultPath(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")
	content := `
debug: true
server:
  host: "localhost"
  port: 8080
storage:
  database_path: "./test.db"
`
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	origWd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = os.Chdir(origWd) }()
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}

	cfg, resolved, err := loadConfig(defaultConfigPath)
	if err != nil {
		t.Fatal(err)
	}
	// On macOS, cwd can be /private/var/... while t.TempDir() is /var/...
	resolvedCanon, _ := filepath.EvalSymlinks(resolved)
	configPathCanon, _ := filepath.EvalSymlinks(configPath)
	if resolvedCanon != configPathCanon {
		t.Errorf("resolved path = %s, want %s", resolvedCanon, configPathCanon)
	}
	if !cfg.Debug {
		t.Error("debug should be true from cwd config.yaml")
	}
}

func TestLoadConfig_defaultsWhenNoFile(t *testing.T) {
	if _, err := os.Stat(defaultConfigPath); err == nil {
		t.Skip("a system config exists")
	}
	origWd, _ := os.Getwd()
	defer func() { _ = os.Chdir(origWd) }()
	if err := os.Chdir(t.TempDir()); err != nil {
		t.Fatal(err)
	}
	cfg, resolved, err := loadConfig(defaultConfigPath)
	if err != nil {
		t.Fatal(err)
	}
	if resolved != "" {
		t.Errorf("resolved = %q, want empty for built-in defaults", resolved)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("default port = %d", cfg.Server.Port)
	}
}

func TestLoadConfig_usesExplicitPath(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")
	content := `
server:
  host: "127.0.0.1"
  port: 9000
storage:
  database_path: "./test.db"
`
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, resolved, err := loadConfig(configPath)
	if err != nil {
		t.Fatal(err)
	}
	if resolved != configPath {
		t.Errorf("resolved path = %s, want %s", resolved, configPath)
	}
	if cfg.Server.Host != "127.0.0.1" || cfg.Server.Port != 9000 {
		t.Errorf("unexpected server config: %+v", cfg.Server)
	}
	if cfg.Storage.DatabasePath != filepath.Join(dir, "test.db") {
		t.Errorf("database path = %s, want it next to the config", cfg.Storage.DatabasePath)
	}

	if _, _, err := loadConfig(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Error("an explicit missing path should fail")
	}
}
