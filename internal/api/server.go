// Package api exposes the HTTP interface for the crawler service.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/policycheck/crawler/internal/crawler"
	"github.com/policycheck/crawler/internal/metrics"
)

// SessionRunner executes one admitted crawl session to completion.
type SessionRunner interface {
	Run(ctx context.Context, sessionID string)
}

// Config carries the request-independent knobs the handlers need.
type Config struct {
	// DefaultMaxPages and DefaultMaxMinutes fill in omitted limits.
	DefaultMaxPages   int
	DefaultMaxMinutes int
}

// Server wires HTTP handlers to the session store, admission controller and
// orchestrator.
type Server struct {
	router    chi.Router
	sessions  crawler.SessionStore
	admission *crawler.Admission
	runner    SessionRunner
	idGen     crawler.IDGenerator
	clock     crawler.Clock
	cfg       Config
	logger    *zap.Logger

	// runCtx outlives individual requests; session goroutines inherit it so
	// a closed client connection cannot cancel a running crawl.
	runCtx context.Context
}

// NewServer constructs a Server with middleware and routes.
func NewServer(
	runCtx context.Context,
	sessions crawler.SessionStore,
	admission *crawler.Admission,
	runner SessionRunner,
	idGen crawler.IDGenerator,
	clock crawler.Clock,
	cfg Config,
	logger *zap.Logger,
) *Server {
	s := &Server{
		sessions:  sessions,
		admission: admission,
		runner:    runner,
		idGen:     idGen,
		clock:     clock,
		cfg:       cfg,
		logger:    logger,
		runCtx:    runCtx,
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(timeoutMiddleware(60 * time.Second))

	r.Get("/healthz", s.healthz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/api/crawl", func(r chi.Router) {
		r.Post("/start", s.startCrawl)
		r.Get("/status/{session_id}", s.getStatus)
		r.Get("/sessions", s.listSessions)
	})

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type startCrawlRequest struct {
	UserID         string   `json:"user_id"`
	Country        string   `json:"country"`
	SeedURLs       []string `json:"seed_urls"`
	MaxPages       int      `json:"max_pages"`
	MaxMinutes     int      `json:"max_minutes"`
	PolicyTypes    []string `json:"policy_types"`
	KeywordFilters []string `json:"keyword_filters"`
}

func (s *Server) startCrawl(w http.ResponseWriter, r *http.Request) {
	var req startCrawlRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if err := validateSeeds(req.SeedURLs); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.MaxPages <= 0 {
		req.MaxPages = s.cfg.DefaultMaxPages
	}
	if req.MaxMinutes < 0 {
		writeError(w, http.StatusBadRequest, "max_minutes must not be negative")
		return
	}
	if req.MaxMinutes == 0 {
		req.MaxMinutes = s.cfg.DefaultMaxMinutes
	}

	sessionID, err := s.idGen.NewID()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to generate session id")
		return
	}

	admitted, reason := s.admission.TryAdmit(sessionID)
	if !admitted {
		writeJSON(w, http.StatusTooManyRequests, map[string]any{
			"error":  reason,
			"active": s.admission.Active(),
		})
		return
	}

	session := crawler.CrawlSession{
		ID:             sessionID,
		UserID:         req.UserID,
		Country:        req.Country,
		MaxPages:       req.MaxPages,
		MaxMinutes:     req.MaxMinutes,
		SeedURLs:       req.SeedURLs,
		PolicyTypes:    req.PolicyTypes,
		KeywordFilters: req.KeywordFilters,
		CreatedAt:      s.clock.Now(),
	}
	created, err := s.sessions.CreateSession(r.Context(), session)
	if err != nil {
		s.admission.Release(sessionID)
		s.logger.Error("create session failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to create session")
		return
	}

	go func() {
		defer s.admission.Release(sessionID)
		s.runner.Run(s.runCtx, sessionID)
	}()

	writeJSON(w, http.StatusAccepted, map[string]any{
		"session_id": created.ID,
		"status":     created.Status,
		"max_pages":  created.MaxPages,
	})
}

func (s *Server) getStatus(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "session_id")
	session, err := s.sessions.GetSession(r.Context(), sessionID)
	if err != nil {
		if errors.Is(err, crawler.ErrNotFound) {
			writeError(w, http.StatusNotFound, "session not found")
			return
		}
		s.logger.Error("get session failed", zap.String("session_id", sessionID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load session")
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse(session))
}

func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.sessions.ListSessions(r.Context(), 50)
	if err != nil {
		s.logger.Error("list sessions failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list sessions")
		return
	}
	out := make([]map[string]any, 0, len(sessions))
	for _, session := range sessions {
		out = append(out, sessionResponse(session))
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": out})
}

func sessionResponse(session crawler.CrawlSession) map[string]any {
	return map[string]any{
		"session_id":      session.ID,
		"user_id":         session.UserID,
		"country":         session.Country,
		"status":          session.Status,
		"max_pages":       session.MaxPages,
		"max_minutes":     session.MaxMinutes,
		"seed_urls":       session.SeedURLs,
		"policy_types":    session.PolicyTypes,
		"keyword_filters": session.KeywordFilters,
		"progress_pct":    session.Progress.ProgressPct,
		"pages_scanned":   session.Progress.PagesScanned,
		"pdfs_found":      session.Progress.PdfsFound,
		"pdfs_downloaded": session.Progress.PdfsDownloaded,
		"pdfs_filtered":   session.Progress.PdfsFiltered,
		"errors_count":    session.Progress.ErrorsCount,
		"started_at":      session.StartedAt,
		"completed_at":    session.CompletedAt,
		"created_at":      session.CreatedAt,
	}
}

func validateSeeds(seeds []string) error {
	if len(seeds) == 0 {
		return errors.New("at least one seed URL is required")
	}
	for _, seed := range seeds {
		u, err := url.Parse(seed)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return errors.New("seed URLs must be absolute http or https URLs")
		}
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		s.logger.Info("request completed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()))
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered", zap.Any("panic", rec))
				writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

type requestIDKey struct{}

// RequestID returns the request id stored by the middleware, if any.
func RequestID(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey{}).(string); ok {
		return id
	}
	return ""
}
