package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/hyperjump/kotae/internal/errs"
	"github.com/hyperjump/kotae/internal/models"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// errorResponse is the body of every failed request.
type errorResponse struct {
	Error *errs.Body `json:"error"`
}

// answersResponse is the answer-texts-only shape of the batch endpoint.
type answersResponse struct {
	Answers []string `json:"answers"`
}

func (s *Server) decodeQuery(w http.ResponseWriter, r *http.Request) (*models.QueryRequest, bool) {
	var req models.QueryRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.respondError(w, r, err)
		return nil, false
	}
	return &req, true
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeQuery(w, r)
	if !ok {
		return
	}
	resp, err := s.svc.Run(r.Context(), req)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleRunAnswers(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeQuery(w, r)
	if !ok {
		return
	}
	resp, err := s.svc.Run(r.Context(), req)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, answersResponse{Answers: resp.AnswerTexts()})
}

type addDocumentRequest struct {
	Source string `json:"source"`
	Format string `json:"format,omitempty"`
	Force  bool   `json:"force,omitempty"`
}

// handleAddDocument ingests a document from a JSON source reference or a
// multipart upload in the "file" field.
func (s *Server) handleAddDocument(w http.ResponseWriter, r *http.Request) {
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		s.handleUploadDocument(w, r)
		return
	}
	var req addDocumentRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.respondError(w, r, err)
		return
	}
	if strings.TrimSpace(req.Source) == "" {
		s.respondError(w, r, errs.E(errs.InvalidInput, "documents.add", "source is required"))
		return
	}
	hint, err := parseFormat(req.Format)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.logger.Debug("add document request", zap.String("source", req.Source), zap.Bool("force", req.Force))
	doc, err := s.svc.AddDocument(r.Context(), strings.TrimSpace(req.Source), hint, req.Force)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusCreated, doc)
}

func (s *Server) handleUploadDocument(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload)
	file, header, err := r.FormFile("file")
	if err != nil {
		s.respondError(w, r, errs.Wrap(errs.InvalidInput, "documents.upload", err, "multipart field \"file\" is required"))
		return
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		s.respondError(w, r, errs.Wrap(errs.InvalidInput, "documents.upload", err, "upload too large or unreadable"))
		return
	}
	hint, err := parseFormat(r.FormValue("format"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	force, _ := strconv.ParseBool(r.FormValue("force"))
	s.logger.Debug("upload document request", zap.String("name", header.Filename), zap.Int("bytes", len(data)))
	doc, err := s.svc.AddDocumentBytes(r.Context(), header.Filename, data, hint, force)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusCreated, doc)
}

func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	offset, limit, err := pageParams(r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	docs, err := s.svc.ListDocuments(r.Context(), offset, limit)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	if docs == nil {
		docs = []*models.Document{}
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"documents": docs, "offset": offset, "limit": limit})
}

func (s *Server) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	doc, err := s.svc.GetDocument(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, doc)
}

func (s *Server) handleDocumentChunks(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	chunks, err := s.svc.DocumentChunks(r.Context(), id)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	if chunks == nil {
		chunks = []models.Chunk{}
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"document_id": id, "chunks": chunks})
}

func (s *Server) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	s.logger.Debug("delete document request", zap.String("id", id))
	if err := s.svc.RemoveDocument(r.Context(), id); err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"id": id, "status": "deleted"})
}

func (s *Server) handleQueryLogs(w http.ResponseWriter, r *http.Request) {
	_, limit, err := pageParams(r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	logs, err := s.svc.QueryLogs(r.Context(), r.URL.Query().Get("document_id"), limit)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	if logs == nil {
		logs = []*models.QueryLog{}
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"queries": logs})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	var h models.Health
	if probe, _ := strconv.ParseBool(r.URL.Query().Get("probe")); probe {
		h = s.svc.Probe(r.Context())
	} else {
		h = s.svc.Health(r.Context())
	}
	s.respondJSON(w, http.StatusOK, h)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	stats, err := s.svc.Stats(r.Context())
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, stats)
}

func (s *Server) handleWatchDirectoriesList(w http.ResponseWriter, r *http.Request) {
	if s.watch == nil {
		s.respondStatus(w, http.StatusNotImplemented, "watch not enabled")
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"directories": s.watch.Directories()})
}

type watchRequest struct {
	Path string `json:"path"`
	Sync *bool  `json:"sync,omitempty"`
}

func (s *Server) handleWatchDirectoriesAdd(w http.ResponseWriter, r *http.Request) {
	if s.watch == nil {
		s.respondStatus(w, http.StatusNotImplemented, "watch not enabled")
		return
	}
	var req watchRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.respondError(w, r, err)
		return
	}
	if req.Path == "" {
		s.respondError(w, r, errs.E(errs.InvalidInput, "watch.add", "path is required"))
		return
	}
	abs, err := filepath.Abs(req.Path)
	if err != nil {
		s.respondError(w, r, errs.Wrap(errs.InvalidInput, "watch.add", err, "invalid path"))
		return
	}
	info, err := os.Stat(abs)
	switch {
	case errors.Is(err, os.ErrNotExist):
		s.respondError(w, r, errs.E(errs.NotFound, "watch.add", "directory not found"))
		return
	case err != nil:
		s.respondError(w, r, err)
		return
	case !info.IsDir():
		s.respondError(w, r, errs.E(errs.InvalidInput, "watch.add", "path is not a directory"))
		return
	}
	syncExisting := req.Sync == nil || *req.Sync
	s.logger.Debug("watch add directory request", zap.String("path", abs), zap.Bool("sync_existing", syncExisting))
	if err := s.watch.AddDirectory(abs, syncExisting); err != nil {
		s.respondError(w, r, err)
		return
	}
	s.persistWatch()
	s.respondJSON(w, http.StatusCreated, map[string]string{"path": abs, "status": "added"})
}

func (s *Server) handleWatchDirectoriesRemove(w http.ResponseWriter, r *http.Request) {
	if s.watch == nil {
		s.respondStatus(w, http.StatusNotImplemented, "watch not enabled")
		return
	}
	path := r.URL.Query().Get("path")
	if path == "" {
		var req watchRequest
		if err := decodeJSON(w, r, &req); err == nil {
			path = req.Path
		}
	}
	if path == "" {
		s.respondError(w, r, errs.E(errs.InvalidInput, "watch.remove", "path is required"))
		return
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		s.respondError(w, r, errs.Wrap(errs.InvalidInput, "watch.remove", err, "invalid path"))
		return
	}
	if err := s.watch.RemoveDirectory(abs); err != nil {
		s.respondError(w, r, err)
		return
	}
	s.persistWatch()
	s.respondJSON(w, http.StatusOK, map[string]string{"path": abs, "status": "removed"})
}

func (s *Server) persistWatch() {
	if s.onWatch == nil {
		return
	}
	if err := s.onWatch(s.watch.Directories()); err != nil {
		s.logger.Warn("failed to persist watch config", zap.Error(err))
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return errs.Wrap(errs.InvalidInput, "decode", err, "invalid request body")
	}
	return nil
}

func parseFormat(s string) (models.Format, error) {
	if s == "" {
		return "", nil
	}
	f, ok := models.ParseFormat(strings.ToLower(s))
	if !ok {
		return "", errs.E(errs.InvalidInput, "format", "unknown format %q", s)
	}
	return f, nil
}

func pageParams(r *http.Request) (offset, limit int, err error) {
	q := r.URL.Query()
	limit = defaultListLimit
	if v := q.Get("limit"); v != "" {
		if limit, err = strconv.Atoi(v); err != nil || limit <= 0 {
			return 0, 0, errs.E(errs.InvalidInput, "page", "limit must be a positive integer")
		}
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	if v := q.Get("offset"); v != "" {
		if offset, err = strconv.Atoi(v); err != nil || offset < 0 {
			return 0, 0, errs.E(errs.InvalidInput, "page", "offset must be a non-negative integer")
		}
	}
	return offset, limit, nil
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Debug("write response", zap.Error(err))
	}
}

// respondError writes err as a structured error body with the status of its kind.
func (s *Server) respondError(w http.ResponseWriter, r *http.Request, err error) {
	body := errs.ToBody(err)
	status := errs.HTTPStatus(body.Kind)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", zap.String("path", r.URL.Path), zap.Error(err))
	} else {
		s.logger.Debug("request rejected", zap.String("path", r.URL.Path), zap.Error(err))
	}
	s.respondJSON(w, status, errorResponse{Error: body})
}

func (s *Server) respondStatus(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, errorResponse{Error: &errs.Body{Kind: errs.Internal, Message: message}})
}
