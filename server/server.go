// Package server exposes the wallpaper daemon over HTTP: the JSON API used
// by the new tab page, the blob endpoint that serves image handles, and the
// health and metrics endpoints.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/freshtab/freshtab/custom"
	"github.com/freshtab/freshtab/handle"
	"github.com/freshtab/freshtab/telemetry"
	"github.com/freshtab/freshtab/wallpaper"
)

// Config holds server configuration.
type Config struct {
	// Address to listen on (e.g., ":8087")
	Address string

	// AuthToken protects the /api routes when set. Empty disables auth.
	AuthToken string

	// Logger for the server
	Logger *slog.Logger
}

// Server is the HTTP server for the wallpaper daemon.
type Server struct {
	config     Config
	httpServer *http.Server
	logger     *slog.Logger

	wallpapers *wallpaper.Service
	customs    *custom.Manager
	handles    *handle.Manager
}

// New creates a server around already-constructed components.
func New(cfg Config, wallpapers *wallpaper.Service, customs *custom.Manager, handles *handle.Manager) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Address == "" {
		cfg.Address = ":8087"
	}

	s := &Server{
		config:     cfg,
		logger:     cfg.Logger,
		wallpapers: wallpapers,
		customs:    customs,
		handles:    handles,
	}

	r := chi.NewRouter()
	r.Use(s.loggingMiddleware)

	r.Get("/health", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", telemetry.PrometheusHandler())
	r.Get("/blob/{id}", s.handleBlob)

	r.Route("/api", func(api chi.Router) {
		api.Use(s.authMiddleware)

		api.Get("/wallpaper/{resolution}", s.handleWallpaper)
		api.Post("/wallpaper/{resolution}/refresh", s.handleForceRefresh)

		api.Get("/custom", s.handleCustomList)
		api.Post("/custom", s.handleCustomUpload)
		api.Post("/custom/favorite", s.handleFavorite)
		api.Get("/custom/favorite", s.handleFavoriteStatus)
		api.Put("/custom/{id}/current", s.handleSetCurrent)
		api.Delete("/custom/current", s.handleClearCurrent)
		api.Delete("/custom/{id}", s.handleCustomDelete)
		api.Delete("/custom", s.handleCustomDeleteAll)
	})

	s.httpServer = &http.Server{
		Addr:         cfg.Address,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Handler returns the root handler, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start starts the server and blocks until it stops.
func (s *Server) Start() error {
	s.logger.Info("starting server", "address", s.config.Address)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down server")
	return s.httpServer.Shutdown(ctx)
}

// Address returns the server's listen address.
func (s *Server) Address() string {
	return s.config.Address
}

// handleHealth handles health check requests.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

// handleBlob serves an in-memory blob handle. Handles are ephemeral, so
// responses must not be cached by the browser.
func (s *Server) handleBlob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	data, mime, ok := s.handles.Resolve(id)
	if !ok {
		http.NotFound(w, r)
		return
	}

	w.Header().Set("Content-Type", mime)
	w.Header().Set("Content-Length", fmt.Sprintf("%d", len(data)))
	w.Header().Set("Cache-Control", "no-store")
	_, _ = w.Write(data)
}

// loggingMiddleware logs HTTP requests with structured fields for analysis.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}

		wrapped := &responseWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		duration := time.Since(start)

		s.logger.Info("http request",
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"status", wrapped.status,
			"bytes_sent", wrapped.bytesWritten,
			"duration_ms", duration.Milliseconds(),
			"remote_addr", r.RemoteAddr,
			"user_agent", r.UserAgent(),
		)
	})
}

// responseWriter wraps http.ResponseWriter to capture the status code and
// bytes written.
type responseWriter struct {
	http.ResponseWriter
	status       int
	bytesWritten int64
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.bytesWritten += int64(n)
	return n, err
}

// Flush implements http.Flusher for streaming responses.
func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Unwrap returns the underlying ResponseWriter.
func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}
