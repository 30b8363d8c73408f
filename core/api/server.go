// Package api exposes a library over HTTP.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/adalundhe/shelf/core/catalog"
	"github.com/adalundhe/shelf/core/citation"
	"github.com/adalundhe/shelf/core/content"
	liberrors "github.com/adalundhe/shelf/core/errors"
	"github.com/adalundhe/shelf/core/integrity"
	"github.com/adalundhe/shelf/core/library"
	"github.com/adalundhe/shelf/core/ranking"
	"github.com/adalundhe/shelf/core/search"
)

const (
	defaultSearchLimit = 10
	maxBodyBytes       = 32 << 20
)

// Library is the subset of *library.Library served over HTTP.
type Library interface {
	RegisterResource(ctx context.Context, reg catalog.Registration) (catalog.Result, error)
	LookupByID(ctx context.Context, id int64) (catalog.Entry, error)
	LookupByURL(ctx context.Context, url string) (catalog.Entry, error)
	Visit(ctx context.Context, id int64) (catalog.Entry, error)
	SetImportance(ctx context.Context, id int64, importance float64) error
	AssertCitation(ctx context.Context, source, target int64, citeContext string) (string, error)
	RetractCitation(ctx context.Context, edgeID string) error
	Citation(ctx context.Context, edgeID string) (citation.Edge, error)
	CitationGraphSnapshot(ctx context.Context) (map[int64][]citation.Edge, error)
	HybridQuery(ctx context.Context, req ranking.Request) ([]ranking.Result, error)
	RebuildIndex(ctx context.Context) (search.Stats, error)
	Related(ctx context.Context, id int64) (library.Related, error)
	Content(hash string) ([]byte, error)
	ContentInfo(hash string) (*content.Object, error)
	Status(ctx context.Context) (library.Status, error)
}

// Integrity receives failed requests and reports the health of each checked
// scope. *integrity.Monitor satisfies it.
type Integrity interface {
	CheckOnError(ctx context.Context, scope string, err error)
	Status() map[string]integrity.ScopeStatus
}

// Server holds the HTTP handlers.
type Server struct {
	lib       Library
	logger    *slog.Logger
	integrity Integrity
}

// Option configures a Server.
type Option func(*Server)

// WithIntegrity routes internal and corruption errors to m and reports its
// status from /health.
func WithIntegrity(m Integrity) Option {
	return func(s *Server) {
		s.integrity = m
	}
}

func New(lib Library, logger *slog.Logger, opts ...Option) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{lib: lib, logger: logger}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Routes builds the router with the standard middleware stack.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.HealthCheck)

	r.Route("/api", func(r chi.Router) {
		r.Post("/resources", s.RegisterResource)
		r.Get("/resources", s.LookupByURL)
		r.Get("/resources/{id}", s.GetResource)
		r.Get("/resources/{id}/related", s.Related)
		r.Post("/resources/{id}/visits", s.Visit)
		r.Put("/resources/{id}/importance", s.SetImportance)
		r.Post("/citations", s.AssertCitation)
		r.Get("/citations/{id}", s.GetCitation)
		r.Delete("/citations/{id}", s.RetractCitation)
		r.Get("/graph", s.Graph)
		r.Get("/search", s.Search)
		r.Post("/index/rebuild", s.RebuildIndex)
		r.Get("/content/{hash}", s.Content)
		r.Get("/status", s.Status)
	})

	return r
}

// NewHTTPServer wraps the routes with sane timeouts.
func (s *Server) NewHTTPServer(addr string) *http.Server {
	return &http.Server{
		Addr:         addr,
		Handler:      s.Routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

// HealthResponse is the body returned by GET /health.
type HealthResponse struct {
	Status    string                           `json:"status"`
	Integrity map[string]integrity.ScopeStatus `json:"integrity,omitempty"`
}

// HealthCheck handles GET /health. A scope whose latest check failed turns
// the response into 503 degraded.
func (s *Server) HealthCheck(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{Status: "ok"}
	status := http.StatusOK
	if s.integrity != nil {
		resp.Integrity = s.integrity.Status()
		for _, st := range resp.Integrity {
			if st.Error != "" {
				resp.Status = "degraded"
				status = http.StatusServiceUnavailable
			}
		}
	}
	writeJSON(w, status, resp)
}

// RegisterRequest is the body of POST /api/resources. Content is base64 in
// JSON.
type RegisterRequest struct {
	URL       string          `json:"url"`
	Type      string          `json:"type,omitempty"`
	Title     string          `json:"title,omitempty"`
	Summary   string          `json:"summary,omitempty"`
	Body      string          `json:"body,omitempty"`
	Content   []byte          `json:"content,omitempty"`
	MediaType string          `json:"media_type,omitempty"`
	Metadata  json.RawMessage `json:"metadata,omitempty"`
}

// RegisterResource handles POST /api/resources
func (s *Server) RegisterResource(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if !s.decode(w, r, &req) {
		return
	}

	reg := catalog.Registration{
		URL:       req.URL,
		Fields:    catalog.TextFields{Title: req.Title, Summary: req.Summary, Body: req.Body},
		Content:   req.Content,
		MediaType: req.MediaType,
		Metadata:  req.Metadata,
	}
	if req.Type != "" {
		t, err := catalog.ParseResourceType(req.Type)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		reg.Type = t
	}

	res, err := s.lib.RegisterResource(r.Context(), reg)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	status := http.StatusOK
	if res.IsNew {
		status = http.StatusCreated
	}
	writeJSON(w, status, res)
}

// GetResource handles GET /api/resources/{id}
func (s *Server) GetResource(w http.ResponseWriter, r *http.Request) {
	id, ok := s.resourceID(w, r)
	if !ok {
		return
	}

	entry, err := s.lib.LookupByID(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

// LookupByURL handles GET /api/resources?url=
func (s *Server) LookupByURL(w http.ResponseWriter, r *http.Request) {
	url := r.URL.Query().Get("url")
	if url == "" {
		s.writeError(w, r, liberrors.New(liberrors.KindInvalidInput, "api.LookupByURL", "url query parameter is required"))
		return
	}

	entry, err := s.lib.LookupByURL(r.Context(), url)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

// Visit handles POST /api/resources/{id}/visits. It records an access and
// returns the updated entry.
func (s *Server) Visit(w http.ResponseWriter, r *http.Request) {
	id, ok := s.resourceID(w, r)
	if !ok {
		return
	}

	entry, err := s.lib.Visit(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

type importanceRequest struct {
	Importance *float64 `json:"importance"`
}

// SetImportance handles PUT /api/resources/{id}/importance
func (s *Server) SetImportance(w http.ResponseWriter, r *http.Request) {
	id, ok := s.resourceID(w, r)
	if !ok {
		return
	}

	var req importanceRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.Importance == nil {
		s.writeError(w, r, liberrors.New(liberrors.KindInvalidInput, "api.SetImportance", "importance is required"))
		return
	}

	if err := s.lib.SetImportance(r.Context(), id, *req.Importance); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Related handles GET /api/resources/{id}/related
func (s *Server) Related(w http.ResponseWriter, r *http.Request) {
	id, ok := s.resourceID(w, r)
	if !ok {
		return
	}

	related, err := s.lib.Related(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, related)
}

// CitationRequest is the body of POST /api/citations.
type CitationRequest struct {
	Source  int64  `json:"source"`
	Target  int64  `json:"target"`
	Context string `json:"context,omitempty"`
}

// AssertCitation handles POST /api/citations
func (s *Server) AssertCitation(w http.ResponseWriter, r *http.Request) {
	var req CitationRequest
	if !s.decode(w, r, &req) {
		return
	}

	id, err := s.lib.AssertCitation(r.Context(), req.Source, req.Target, req.Context)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": id})
}

// GetCitation handles GET /api/citations/{id}
func (s *Server) GetCitation(w http.ResponseWriter, r *http.Request) {
	edge, err := s.lib.Citation(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, edge)
}

// RetractCitation handles DELETE /api/citations/{id}
func (s *Server) RetractCitation(w http.ResponseWriter, r *http.Request) {
	if err := s.lib.RetractCitation(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Graph handles GET /api/graph
func (s *Server) Graph(w http.ResponseWriter, r *http.Request) {
	graph, err := s.lib.CitationGraphSnapshot(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, graph)
}

// SearchResponse is the body returned by GET /api/search.
type SearchResponse struct {
	Terms   []string         `json:"terms"`
	Results []ranking.Result `json:"results"`
}

// Search handles GET /api/search?q=&limit=&candidates=
func (s *Server) Search(w http.ResponseWriter, r *http.Request) {
	const op = "api.Search"
	query := r.URL.Query()

	terms := strings.Fields(query.Get("q"))
	if len(terms) == 0 {
		s.writeError(w, r, liberrors.New(liberrors.KindInvalidInput, op, "q query parameter is required"))
		return
	}

	limit, err := intParam(query.Get("limit"), defaultSearchLimit)
	if err != nil {
		s.writeError(w, r, liberrors.Wrap(liberrors.KindInvalidInput, op, "invalid limit", err))
		return
	}
	candidates, err := intParam(query.Get("candidates"), 0)
	if err != nil {
		s.writeError(w, r, liberrors.Wrap(liberrors.KindInvalidInput, op, "invalid candidates", err))
		return
	}

	results, err := s.lib.HybridQuery(r.Context(), ranking.Request{
		Terms:          terms,
		Limit:          limit,
		CandidateLimit: candidates,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, SearchResponse{Terms: terms, Results: results})
}

// RebuildIndex handles POST /api/index/rebuild
func (s *Server) RebuildIndex(w http.ResponseWriter, r *http.Request) {
	stats, err := s.lib.RebuildIndex(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// Content handles GET /api/content/{hash}. The media type is the one
// recorded when the bytes were stored.
func (s *Server) Content(w http.ResponseWriter, r *http.Request) {
	hash := chi.URLParam(r, "hash")
	info, err := s.lib.ContentInfo(hash)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	data, err := s.lib.Content(hash)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	mediaType := info.MediaType
	if mediaType == "" {
		mediaType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", mediaType)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// Status handles GET /api/status
func (s *Server) Status(w http.ResponseWriter, r *http.Request) {
	status, err := s.lib.Status(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) resourceID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		s.writeError(w, r, liberrors.Newf(liberrors.KindInvalidInput, "api", "invalid resource id %q", raw))
		return 0, false
	}
	return id, true
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		s.writeError(w, r, liberrors.Wrap(liberrors.KindInvalidInput, "api", "decode request body", err))
		return false
	}
	return true
}

func intParam(raw string, fallback int) (int, error) {
	if raw == "" {
		return fallback, nil
	}
	return strconv.Atoi(raw)
}

type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

// writeError maps error kinds onto status codes. Errors without a kind are
// internal.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	resp := errorResponse{Error: err.Error()}

	if kind, ok := liberrors.KindOf(err); ok {
		status = kind.HTTPStatus()
		resp.Kind = kind.String()
	}
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", "error", err)
	}
	if s.integrity != nil && (status == http.StatusInternalServerError || liberrors.IsCorrupted(err)) {
		s.integrity.CheckOnError(r.Context(), integrityScope(err), err)
	}
	writeJSON(w, status, resp)
}

// integrityScope picks the check that covers err: corrupted objects belong to
// the content store, everything else to the catalog.
func integrityScope(err error) string {
	if liberrors.IsCorrupted(err) {
		return "content"
	}
	return "catalog"
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
