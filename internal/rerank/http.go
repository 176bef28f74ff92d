package rerank

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hyperjump/kotae/pkg/utils"
)

// HTTPScorer calls a text-embeddings-inference style /rerank endpoint:
// POST {"query": ..., "texts": [...]} answered by [{"index": i, "score": s}].
type HTTPScorer struct {
	url    string
	model  string
	client *http.Client
}

var _ Scorer = (*HTTPScorer)(nil)

// NewHTTPScorer creates a scorer for the service at baseURL. The /rerank path
// is appended unless baseURL already ends with it.
func NewHTTPScorer(baseURL, model string, timeout time.Duration) (*HTTPScorer, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("http reranker: url is not set")
	}
	u := strings.TrimRight(baseURL, "/")
	if !strings.HasSuffix(u, "/rerank") {
		u += "/rerank"
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPScorer{url: u, model: model, client: &http.Client{Timeout: timeout}}, nil
}

type rerankRequest struct {
	Query     string   `json:"query"`
	Texts     []string `json:"texts"`
	RawScores bool     `json:"raw_scores"`
	Truncate  bool     `json:"truncate"`
}

type rerankScore struct {
	Index int     `json:"index"`
	Score float64 `json:"score"`
}

func (s *HTTPScorer) Name() string { return "http:" + s.model }

// Close releases idle connections.
func (s *HTTPScorer) Close() error {
	s.client.CloseIdleConnections()
	return nil
}

// Score implements Scorer. Every passage must receive a score.
func (s *HTTPScorer) Score(ctx context.Context, query string, passages []string) ([]float64, error) {
	if len(passages) == 0 {
		return nil, nil
	}
	body, err := json.Marshal(rerankRequest{Query: query, Texts: passages, Truncate: true})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build rerank request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("rerank request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("rerank service returned %s: %s", resp.Status, strings.TrimSpace(string(msg)))
	}

	var scores []rerankScore
	if err := json.NewDecoder(resp.Body).Decode(&scores); err != nil {
		return nil, fmt.Errorf("failed to decode rerank response: %w", err)
	}
	out := make([]float64, len(passages))
	seen := make([]bool, len(passages))
	for _, sc := range scores {
		if sc.Index < 0 || sc.Index >= len(passages) {
			return nil, fmt.Errorf("rerank response index %d out of range", sc.Index)
		}
		out[sc.Index] = utils.Clamp01(sc.Score)
		seen[sc.Index] = true
	}
	for i, ok := range seen {
		if !ok {
			return nil, fmt.Errorf("rerank response missing passage %d", i)
		}
	}
	return out, nil
}
