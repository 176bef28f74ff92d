// Package server provides the HTTP API for kotae.
package server

import (
	"context"
	"crypto/subtle"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/hyperjump/kotae/internal/config"
	"github.com/hyperjump/kotae/internal/errs"
	"github.com/hyperjump/kotae/internal/models"
	"github.com/hyperjump/kotae/internal/pipeline"
	"github.com/hyperjump/kotae/pkg/utils"
)

// Service is the answering pipeline behind the API. pipeline.Orchestrator
// implements it.
type Service interface {
	Run(ctx context.Context, req *models.QueryRequest) (*models.QueryResponse, error)
	AddDocument(ctx context.Context, ref string, hint models.Format, force bool) (*models.Document, error)
	AddDocumentBytes(ctx context.Context, name string, data []byte, hint models.Format, force bool) (*models.Document, error)
	ListDocuments(ctx context.Context, offset, limit int) ([]*models.Document, error)
	GetDocument(ctx context.Context, idOrRef string) (*models.Document, error)
	DocumentChunks(ctx context.Context, idOrRef string) ([]models.Chunk, error)
	RemoveDocument(ctx context.Context, idOrRef string) error
	QueryLogs(ctx context.Context, documentID string, limit int) ([]*models.QueryLog, error)
	Health(ctx context.Context) models.Health
	Probe(ctx context.Context) models.Health
	Stats(ctx context.Context) (*pipeline.Stats, error)
}

// WatchService manages watched directories. watcher.Watcher implements it.
type WatchService interface {
	Directories() []string
	AddDirectory(path string, syncExisting bool) error
	RemoveDirectory(path string) error
}

const (
	defaultRequestTimeout = 120 * time.Second
	maxJSONBody           = 1 << 20
	defaultMaxUpload      = 50 << 20
)

// Server is the HTTP server for the kotae API.
type Server struct {
	svc       Service
	watch     WatchService
	onWatch   func(dirs []string) error
	config    *config.ServerConfig
	token     string
	maxUpload int64
	logger    *zap.Logger
	router    chi.Router
	server    *http.Server
}

// Option configures a Server.
type Option func(*Server)

// WithWatch enables the watch directory endpoints. persist, when non-nil, is
// called with the new directory list after every change.
func WithWatch(ws WatchService, persist func(dirs []string) error) Option {
	return func(s *Server) { s.watch, s.onWatch = ws, persist }
}

// WithMaxUploadBytes bounds multipart document uploads.
func WithMaxUploadBytes(n int64) Option {
	return func(s *Server) {
		if n > 0 {
			s.maxUpload = n
		}
	}
}

// WithToken overrides the bearer token read from the environment.
func WithToken(token string) Option {
	return func(s *Server) { s.token = token }
}

// NewServer creates a server. Requests under /api and /hackrx need the bearer
// token when one is configured.
func NewServer(svc Service, cfg *config.ServerConfig, logger *zap.Logger, opts ...Option) *Server {
	s := &Server{
		svc:       svc,
		config:    cfg,
		token:     cfg.AuthToken(),
		maxUpload: defaultMaxUpload,
		logger:    utils.OrNop(logger),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() chi.Router {
	timeout := s.config.RequestTimeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(timeout))

	r.Get("/health", s.handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(s.authenticate)
		r.Post("/hackrx/run", s.handleRunAnswers)
		r.Route("/api/v1", func(r chi.Router) {
			r.Post("/run", s.handleRun)
			r.Post("/hackrx/run", s.handleRunAnswers)
			r.Get("/status", s.handleStatus)
			r.Get("/queries", s.handleQueryLogs)

			r.Route("/documents", func(r chi.Router) {
				r.Get("/", s.handleListDocuments)
				r.Post("/", s.handleAddDocument)
				r.Get("/{id}", s.handleGetDocument)
				r.Delete("/{id}", s.handleDeleteDocument)
				r.Get("/{id}/chunks", s.handleDocumentChunks)
			})

			r.Get("/watch/directories", s.handleWatchDirectoriesList)
			r.Post("/watch/directories", s.handleWatchDirectoriesAdd)
			r.Delete("/watch/directories", s.handleWatchDirectoriesRemove)
		})
	})
	return r
}

// authenticate rejects requests without the configured bearer token.
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.token == "" {
			next.ServeHTTP(w, r)
			return
		}
		got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(strings.TrimSpace(got)), []byte(s.token)) != 1 {
			w.Header().Set("WWW-Authenticate", `Bearer realm="kotae"`)
			s.respondError(w, r, errs.E(errs.Unauthorized, "auth", "missing or invalid bearer token"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler { return s.router }

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("starting server", zap.String("addr", addr), zap.Bool("auth", s.token != ""))
	return s.server.ListenAndServe()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}
