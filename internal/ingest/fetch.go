package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/hyperjump/kotae/internal/errs"
)

// Source is a fetched document.
type Source struct {
	Ref         string
	Name        string // base file name, used for format detection and titles
	ContentType string
	Data        []byte
}

// Fetcher retrieves raw document bytes for a reference.
type Fetcher interface {
	Fetch(ctx context.Context, ref string) (*Source, error)
}

var errTooLarge = errors.New("document too large")

// readLimited reads at most max bytes from r and fails if more are available.
func readLimited(r io.Reader, max int64) ([]byte, error) {
	if max <= 0 {
		return io.ReadAll(r)
	}
	data, err := io.ReadAll(io.LimitReader(r, max+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > max {
		return nil, fmt.Errorf("%w: more than %d bytes", errTooLarge, max)
	}
	return data, nil
}

// HTTPConfig tunes the HTTP fetcher.
type HTTPConfig struct {
	Timeout           time.Duration
	MaxBytes          int64
	UserAgent         string
	RequestsPerSecond float64 // zero disables throttling
	Burst             int
}

// HTTPFetcher downloads http and https references.
type HTTPFetcher struct {
	client    *http.Client
	limiter   *rate.Limiter
	maxBytes  int64
	userAgent string
	logger    *zap.Logger
}

// FetchOption configures a fetcher.
type FetchOption func(*fetchOptions)

type fetchOptions struct {
	client *http.Client
	logger *zap.Logger
}

// WithHTTPClient replaces the default client.
func WithHTTPClient(c *http.Client) FetchOption {
	return func(o *fetchOptions) { o.client = c }
}

// WithFetchLogger sets the logger.
func WithFetchLogger(l *zap.Logger) FetchOption {
	return func(o *fetchOptions) { o.logger = l }
}

// NewHTTPFetcher returns an HTTPFetcher.
func NewHTTPFetcher(cfg HTTPConfig, opts ...FetchOption) *HTTPFetcher {
	var o fetchOptions
	for _, opt := range opts {
		opt(&o)
	}
	if o.client == nil {
		o.client = &http.Client{Timeout: cfg.Timeout}
	}
	f := &HTTPFetcher{
		client:    o.client,
		maxBytes:  cfg.MaxBytes,
		userAgent: cfg.UserAgent,
		logger:    o.logger,
	}
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		f.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}
	return f
}

// Fetch downloads ref. Unreachable hosts, non-2xx responses and oversized bodies
// fail with source_unavailable.
func (f *HTTPFetcher) Fetch(ctx context.Context, ref string) (*Source, error) {
	u, err := url.Parse(ref)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, errs.E(errs.InvalidInput, "fetch", "invalid document URL %q: must be http or https", ref)
	}
	if f.limiter != nil {
		if err := f.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("fetch rate limit: %w", err)
		}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ref, nil)
	if err != nil {
		return nil, errs.Wrap(errs.InvalidInput, "fetch", err, "invalid document URL")
	}
	if f.userAgent != "" {
		req.Header.Set("User-Agent", f.userAgent)
	}
	start := time.Now()
	resp, err := f.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("fetch %s: %w", u.Host, ctx.Err())
		}
		return nil, errs.Wrap(errs.SourceUnavailable, "fetch", err, fmt.Sprintf("document at %s is unreachable", u.Host))
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, errs.E(errs.SourceUnavailable, "fetch", "document download failed with status %d", resp.StatusCode)
	}
	if f.maxBytes > 0 && resp.ContentLength > f.maxBytes {
		return nil, errs.E(errs.SourceUnavailable, "fetch", "document is %d bytes, limit is %d", resp.ContentLength, f.maxBytes)
	}
	data, err := readLimited(resp.Body, f.maxBytes)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("fetch %s: %w", u.Host, ctx.Err())
		}
		return nil, errs.Wrap(errs.SourceUnavailable, "fetch", err, "document download was interrupted or too large")
	}
	if f.logger != nil {
		f.logger.Debug("fetched document",
			zap.String("host", u.Host),
			zap.Int("bytes", len(data)),
			zap.Duration("elapsed", time.Since(start)))
	}
	return &Source{
		Ref:         ref,
		Name:        nameFromResponse(resp, u),
		ContentType: resp.Header.Get("Content-Type"),
		Data:        data,
	}, nil
}

// nameFromResponse prefers the Content-Disposition filename over the URL path.
func nameFromResponse(resp *http.Response, u *url.URL) string {
	if cd := resp.Header.Get("Content-Disposition"); cd != "" {
		if _, params, err := mime.ParseMediaType(cd); err == nil && params["filename"] != "" {
			return path.Base(params["filename"])
		}
	}
	if base := path.Base(u.Path); base != "/" && base != "." {
		return base
	}
	return u.Host
}

// FileFetcher reads local files. When root is set, references must resolve inside it.
type FileFetcher struct {
	root     string
	maxBytes int64
}

// NewFileFetcher returns a FileFetcher. An empty root allows any path.
func NewFileFetcher(root string, maxBytes int64) *FileFetcher {
	if root != "" {
		if abs, err := filepath.Abs(root); err == nil {
			root = abs
		}
	}
	return &FileFetcher{root: root, maxBytes: maxBytes}
}

// Fetch reads a bare path or file:// URL.
func (f *FileFetcher) Fetch(ctx context.Context, ref string) (*Source, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p := ref
	if strings.HasPrefix(ref, "file://") {
		u, err := url.Parse(ref)
		if err != nil {
			return nil, errs.Wrap(errs.InvalidInput, "fetch.file", err, "invalid file URL")
		}
		p = u.Path
	}
	abs, err := filepath.Abs(p)
	if err != nil {
		return nil, errs.Wrap(errs.InvalidInput, "fetch.file", err, "invalid path")
	}
	if f.root != "" {
		rel, err := filepath.Rel(f.root, abs)
		if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return nil, errs.E(errs.InvalidInput, "fetch.file", "path %q is outside the allowed directory", ref)
		}
	}
	fh, err := os.Open(abs)
	if err != nil {
		return nil, errs.Wrap(errs.SourceUnavailable, "fetch.file", err, fmt.Sprintf("cannot open %s", filepath.Base(abs)))
	}
	defer fh.Close()
	info, err := fh.Stat()
	if err != nil {
		return nil, errs.Wrap(errs.SourceUnavailable, "fetch.file", err, "cannot stat file")
	}
	if !info.Mode().IsRegular() {
		return nil, errs.E(errs.InvalidInput, "fetch.file", "%s is not a regular file", filepath.Base(abs))
	}
	data, err := readLimited(fh, f.maxBytes)
	if err != nil {
		return nil, errs.Wrap(errs.SourceUnavailable, "fetch.file", err, "cannot read file")
	}
	return &Source{Ref: ref, Name: filepath.Base(abs), Data: data}, nil
}

// MultiFetcher routes references by scheme. A nil route rejects that scheme.
type MultiFetcher struct {
	HTTP Fetcher
	S3   Fetcher
	File Fetcher
}

// Fetch dispatches ref: http(s) to HTTP, s3 to S3, file:// and bare paths to File.
func (m *MultiFetcher) Fetch(ctx context.Context, ref string) (*Source, error) {
	var route Fetcher
	scheme := ""
	if i := strings.Index(ref, "://"); i > 0 {
		scheme = strings.ToLower(ref[:i])
	}
	switch scheme {
	case "http", "https":
		route = m.HTTP
	case "s3":
		route = m.S3
	case "", "file":
		route = m.File
	}
	if route == nil {
		if scheme == "" {
			scheme = "local path"
		}
		return nil, errs.E(errs.InvalidInput, "fetch", "unsupported document reference scheme %q", scheme)
	}
	return route.Fetch(ctx, ref)
}
