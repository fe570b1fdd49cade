// Package preview serves the outputs of the latest pass over HTTP.
package preview

import (
	"encoding/json"
	"mime"
	"net/http"
	"path"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"github.com/JakeFAU/sitegen/internal/crawler"
	"github.com/JakeFAU/sitegen/internal/hash/sha256"
	"github.com/JakeFAU/sitegen/internal/metrics"
)

// Config controls how request paths are mapped to output slots.
type Config struct {
	PreferFoldersOutput *bool
}

// Server exposes the current output registry. The registry is swapped
// atomically after every pass.
type Server struct {
	handler  http.Handler
	cfg      Config
	outputs  atomic.Pointer[crawler.Registry]
	passes   atomic.Int64
	hasher   *sha256.Hasher
	logger   *zap.Logger
	lastPass atomic.Pointer[crawler.PassSummary]
}

// NewServer constructs a Server with middleware and routes.
func NewServer(cfg Config, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		cfg:    cfg,
		hasher: sha256.New(),
		logger: logger,
	}
	r := chi.NewRouter()
	r.Use(s.recoverMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(metrics.Middleware)

	r.Get("/healthz", s.healthz)
	r.Handle("/metrics", metrics.Handler())
	r.Get("/*", s.serveOutput)
	r.Head("/*", s.serveOutput)

	s.handler = otelhttp.NewHandler(r, "sitegen.preview")
	return s
}

// Handler returns the traced router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// SetPass publishes the outputs of a finished pass.
func (s *Server) SetPass(pass *crawler.Pass) {
	summary := pass.Summary()
	s.outputs.Store(pass.Outputs)
	s.lastPass.Store(&summary)
	s.passes.Add(1)
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	body := map[string]any{"status": "ok", "passes": s.passes.Load()}
	if last := s.lastPass.Load(); last != nil {
		body["last_pass"] = last
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) serveOutput(w http.ResponseWriter, r *http.Request) {
	outputs := s.outputs.Load()
	if outputs == nil {
		http.Error(w, "no pass has completed yet", http.StatusServiceUnavailable)
		return
	}

	slot, content, ok := s.lookup(outputs, r.URL.Path)
	if !ok {
		http.NotFound(w, r)
		return
	}

	data := []byte(content)
	etag := s.hasher.ETag(data)
	w.Header().Set("ETag", etag)
	w.Header().Set("Content-Type", contentType(slot))
	if match := r.Header.Get("If-None-Match"); match != "" && match == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	w.WriteHeader(http.StatusOK)
	if r.Method == http.MethodHead {
		return
	}
	if _, err := w.Write(data); err != nil {
		s.logger.Warn("write response failed", zap.String("slot", slot), zap.Error(err))
	}
}

// lookup maps the request path the way the crawl names pages, then falls
// back to the raw path so non-HTML slots stay reachable.
func (s *Server) lookup(outputs *crawler.Registry, requestPath string) (string, string, bool) {
	slot := crawler.MapPath(requestPath, s.cfg.PreferFoldersOutput)
	if content, ok := outputs.Get(slot); ok {
		return slot, content, true
	}
	raw := strings.TrimPrefix(requestPath, "/")
	if raw == "" {
		return "", "", false
	}
	if content, ok := outputs.Get(raw); ok {
		return raw, content, true
	}
	return "", "", false
}

func contentType(slot string) string {
	if ct := mime.TypeByExtension(path.Ext(slot)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		s.logger.Debug("request completed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered", zap.Any("error", rec))
				writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
			}
		}()
		next.ServeHTTP(w, r)
	})
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}
