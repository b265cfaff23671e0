// Package server exposes screening over HTTP: a server-sent event stream
// for live runs, the raw search fallback and the run history API.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/ppiankov/kycscan/internal/metrics"
	"github.com/ppiankov/kycscan/internal/model"
	"github.com/ppiankov/kycscan/internal/progress"
	"github.com/ppiankov/kycscan/internal/query"
	"github.com/ppiankov/kycscan/internal/report"
	"github.com/ppiankov/kycscan/internal/search"
	"github.com/ppiankov/kycscan/internal/store"
)

const (
	maxBodyBytes         = 1 << 20
	readyTimeout         = 2 * time.Second
	defaultFallbackLimit = 3
)

// Streamer starts a run and streams its events. The channel is closed
// when the run ends and must be drained.
type Streamer interface {
	Stream(ctx context.Context, req model.SearchRequest) <-chan progress.Event
}

// Options are the collaborators of a Server. Categories and Logger are
// optional.
type Options struct {
	Streamer      Streamer
	Search        search.Provider
	Store         store.Store
	Builder       *query.Builder
	Categories    []query.Category
	FallbackLimit int
	Metrics       bool
	Logger        *slog.Logger
}

// Server holds the HTTP handlers
type Server struct {
	streamer      Streamer
	search        search.Provider
	store         store.Store
	builder       *query.Builder
	categories    []query.Category
	fallbackLimit int
	metrics       bool
	logger        *slog.Logger
}

// New creates a server
func New(opts Options) *Server {
	if opts.Builder == nil {
		opts.Builder = query.NewBuilder(nil)
	}
	if opts.Categories == nil {
		opts.Categories = query.DefaultCategories()
	}
	if opts.FallbackLimit <= 0 {
		opts.FallbackLimit = defaultFallbackLimit
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Server{
		streamer:      opts.Streamer,
		search:        opts.Search,
		store:         opts.Store,
		builder:       opts.Builder,
		categories:    opts.Categories,
		fallbackLimit: opts.FallbackLimit,
		metrics:       opts.Metrics,
		logger:        opts.Logger.With("component", "server"),
	}
}

// Routes returns the router with every endpoint mounted
func (s *Server) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(s.logger))
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	if s.metrics {
		r.Handle("/metrics", metrics.Handler())
	}

	r.Route("/api", func(r chi.Router) {
		r.Post("/search", s.handleSearch)
		r.Post("/search-fallback", s.handleFallback)
		r.Get("/keywords", s.handleKeywords)

		r.Route("/searches", func(r chi.Router) {
			r.Get("/", s.handleListRuns)
			r.Get("/{id}", s.handleGetRun)
			r.Delete("/{id}", s.handleDeleteRun)
			r.Get("/{id}/diagram", s.handleDiagram)
			r.Get("/{id}/report", s.handleReport)
		})
	})
	return r
}

// handleSearch streams a run as server-sent events. A client that goes
// away stops receiving frames but the run itself completes and is saved.
func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeRequest(w, r)
	if !ok {
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	rc := http.NewResponseController(w)
	_ = rc.SetWriteDeadline(time.Time{})

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	_ = rc.Flush()

	gone := false
	for e := range s.streamer.Stream(r.Context(), req) {
		if gone {
			continue
		}
		if err := writeEvent(w, e); err != nil {
			gone = true
			s.logger.Info("client went away, run continues", "name", req.IndividualName, "error", err)
			continue
		}
		if err := rc.Flush(); err != nil && !errors.Is(err, http.ErrNotSupported) {
			gone = true
			s.logger.Info("client went away, run continues", "name", req.IndividualName, "error", err)
		}
	}
}

func writeEvent(w http.ResponseWriter, e progress.Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	_, err = fmt.Fprintf(w, "data: %s\n\n", data)
	return err
}

type fallbackResponse struct {
	Success bool              `json:"success"`
	Results []model.SearchHit `json:"results,omitzero"`
	Query   string            `json:"query,omitempty"`
	Error   string            `json:"error,omitempty"`
}

// handleFallback runs a plain identity search without analysis
func (s *Server) handleFallback(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeRequest(w, r)
	if !ok {
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	q := query.FallbackQuery(req)
	resp, err := s.search.Search(r.Context(), q, s.fallbackLimit)
	if err != nil {
		s.logger.Warn("fallback search failed", "query", q, "error", err)
		writeJSON(w, http.StatusInternalServerError, fallbackResponse{Error: err.Error()})
		return
	}

	hits := []model.SearchHit{}
	if resp != nil {
		hits = search.Top(resp.Hits, s.fallbackLimit)
	}
	writeJSON(w, http.StatusOK, fallbackResponse{Success: true, Results: hits, Query: q})
}

func (s *Server) handleKeywords(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"dictionary": s.builder.Dictionary(),
		"categories": s.categories,
	})
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	opts, err := listOptions(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	runs, err := s.store.ListRuns(r.Context(), opts)
	if err != nil {
		s.storeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, runs)
}

func listOptions(r *http.Request) (store.ListOptions, error) {
	var opts store.ListOptions
	q := r.URL.Query()

	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return opts, fmt.Errorf("invalid limit: %q", v)
		}
		opts.Limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return opts, fmt.Errorf("invalid offset: %q", v)
		}
		opts.Offset = n
	}
	switch status := model.RunStatus(q.Get("status")); status {
	case "", model.RunInProgress, model.RunComplete, model.RunError:
		opts.Status = status
	default:
		return opts, fmt.Errorf("invalid status: %q", status)
	}
	return opts, nil
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	detail, err := s.store.GetRun(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.storeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

func (s *Server) handleDeleteRun(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteRun(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.storeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDiagram(w http.ResponseWriter, r *http.Request) {
	detail, err := s.store.GetRun(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.storeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte(report.Diagram(detail.Run.IndividualName, detail.Relationships)))
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	detail, err := s.store.GetRun(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.storeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
	if err := report.Markdown(w, detail); err != nil {
		s.logger.Warn("write report", "id", detail.Run.ID, "error", err)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleReady pings the store when the backend supports it
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if p, ok := s.store.(store.Pinger); ok {
		ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
		defer cancel()
		if err := p.Ping(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) decodeRequest(w http.ResponseWriter, r *http.Request) (model.SearchRequest, bool) {
	var req model.SearchRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return req, false
	}
	return req.Normalize(), true
}

func (s *Server) storeError(w http.ResponseWriter, err error) {
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "search not found")
		return
	}
	s.logger.Error("store request failed", "error", err)
	writeError(w, http.StatusInternalServerError, "internal error")
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// requestLogger logs one line per request with the chi request ID
func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.Debug("request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start),
				"request_id", middleware.GetReqID(r.Context()),
			)
		})
	}
}
