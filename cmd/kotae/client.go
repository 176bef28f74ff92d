package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hyperjump/kotae/internal/errs"
)

// apiClient talks to a running kotae server.
type apiClient struct {
	base  string
	token string
	http  *http.Client
}

func newAPIClient(base, token string) *apiClient {
	return &apiClient{
		base:  strings.TrimRight(base, "/"),
		token: token,
		http:  &http.Client{Timeout: 10 * time.Minute},
	}
}

// apiError is a failed API call. Body is set when the server sent a
// structured error.
type apiError struct {
	Status int
	Body   *errs.Body
	Raw    string
}

func (e *apiError) Error() string {
	if e.Body != nil {
		return fmt.Sprintf("server returned %d: %s: %s", e.Status, e.Body.Kind, e.Body.Message)
	}
	return fmt.Sprintf("server returned %d: %s", e.Status, strings.TrimSpace(e.Raw))
}

// do sends a JSON request and decodes the JSON response into out when out is
// non-nil. Any status other than want fails.
func (c *apiClient) do(ctx context.Context, method, path string, in, out any, want int) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != want {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		apiErr := &apiError{Status: resp.StatusCode, Raw: string(raw)}
		var eb struct {
			Error *errs.Body `json:"error"`
		}
		if json.Unmarshal(raw, &eb) == nil && eb.Error != nil {
			apiErr.Body = eb.Error
		}
		return apiErr
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
