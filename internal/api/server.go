package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/menu-catalog-sync/internal/catalog"
	"github.com/JakeFAU/menu-catalog-sync/internal/config"
	"github.com/JakeFAU/menu-catalog-sync/internal/metrics"
	"github.com/JakeFAU/menu-catalog-sync/internal/reconcile"
)

// Syncer is the reconciler surface the API drives.
type Syncer interface {
	Run(ctx context.Context, opts reconcile.RunOptions) catalog.SyncRunResult
	Running() bool
	Diagnose(ctx context.Context, url string) reconcile.Diagnosis
}

// Options configure the server.
type Options struct {
	AuthEnabled    bool
	APIKey         string
	RequestTimeout time.Duration
	// Ready reports downstream readiness; nil means always ready.
	Ready func(ctx context.Context) error
}

// Server wires HTTP handlers to the reconciler and run log.
type Server struct {
	router chi.Router
	syncer Syncer
	runs   catalog.RunLog
	opts   Options
	logger *zap.Logger

	bgCtx    context.Context
	bgCancel context.CancelFunc
	bg       sync.WaitGroup
}

type syncRequest struct {
	Limit int `json:"limit"`
}

// NewServer constructs a Server with middleware and routes.
func NewServer(syncer Syncer, runs catalog.RunLog, opts Options, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 60 * time.Second
	}
	bgCtx, cancel := context.WithCancel(context.Background())
	s := &Server{
		syncer:   syncer,
		runs:     runs,
		opts:     opts,
		logger:   logger.Named("api"),
		bgCtx:    bgCtx,
		bgCancel: cancel,
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(metrics.Middleware)

	r.Group(func(r chi.Router) {
		r.Use(timeoutMiddleware(opts.RequestTimeout))
		r.Get("/healthz", s.healthz)
		r.Get("/readyz", s.readyz)
		r.Method(http.MethodGet, "/metrics", metrics.Handler())
	})

	r.Route("/v1", func(r chi.Router) {
		if opts.AuthEnabled {
			r.Use(apiKeyMiddleware(opts.APIKey))
		}
		// Synchronous runs can outlast the request timeout.
		r.Post("/sync", s.startSync)
		r.Group(func(r chi.Router) {
			r.Use(timeoutMiddleware(opts.RequestTimeout))
			r.Get("/sync/last", s.lastSync)
			r.Get("/diagnose", s.diagnose)
		})
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Close cancels background runs started by the API and waits for them.
func (s *Server) Close() {
	s.bgCancel()
	s.bg.Wait()
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if s.opts.Ready != nil {
		if err := s.opts.Ready(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) startSync(w http.ResponseWriter, r *http.Request) {
	var req syncRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Limit < 0 {
		writeError(w, http.StatusBadRequest, "limit must be >= 0")
		return
	}
	opts := reconcile.RunOptions{Limit: req.Limit}

	wait, _ := strconv.ParseBool(r.URL.Query().Get("wait"))
	if wait {
		result := s.syncer.Run(r.Context(), opts)
		if result.Busy {
			writeJSON(w, http.StatusConflict, result)
			return
		}
		writeJSON(w, http.StatusOK, result)
		return
	}

	if s.syncer.Running() {
		writeError(w, http.StatusConflict, catalog.ErrRunInProgress.Error())
		return
	}
	s.bg.Add(1)
	go func() {
		defer s.bg.Done()
		result := s.syncer.Run(s.bgCtx, opts)
		if result.Busy {
			s.logger.Info("background sync rejected: run in progress")
		}
	}()
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "started"})
}

func (s *Server) lastSync(w http.ResponseWriter, r *http.Request) {
	if s.runs == nil {
		writeError(w, http.StatusNotFound, "no sync has run yet")
		return
	}
	result, err := s.runs.LastRun(r.Context())
	if errors.Is(err, catalog.ErrNotFound) {
		writeError(w, http.StatusNotFound, "no sync has run yet")
		return
	}
	if err != nil {
		s.logger.Error("load last run failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load last run")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) diagnose(w http.ResponseWriter, r *http.Request) {
	target := r.URL.Query().Get("url")
	if target != "" {
		if err := config.CheckBaseURL(target); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	writeJSON(w, http.StatusOK, s.syncer.Diagnose(r.Context(), target))
}

type requestIDKey struct{}

// RequestID returns the request ID stored by the middleware.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = uuid.NewString()
		}
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
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
			zap.String("request_id", RequestID(r.Context())),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered", zap.Any("panic", rec), zap.String("path", r.URL.Path))
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

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("write response: %w", err)
	}
	return n, nil
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		conn, buf, err := h.Hijack()
		if err != nil {
			return nil, nil, fmt.Errorf("hijack connection: %w", err)
		}
		return conn, buf, nil
	}
	return nil, nil, errors.New("hijacker not supported")
}

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if key != expected {
				writeError(w, http.StatusForbidden, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
