package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	readHeaderTimeout = 5 * time.Second
	healthTimeout     = 3 * time.Second
)

// HealthFunc reports the health of each named dependency. A nil error means
// healthy.
type HealthFunc func(ctx context.Context) map[string]error

type Routes struct {
	TranscriptionPath string
	Transcription     http.Handler
	MetricsPath       string
	Gatherer          prometheus.Gatherer
	Health            HealthFunc
}

func NewRouter(routes Routes, logger *slog.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(logger))
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/readyz", readyHandler(routes.Health, logger))
	if routes.Gatherer != nil && routes.MetricsPath != "" {
		r.Method(http.MethodGet, routes.MetricsPath, promhttp.HandlerFor(routes.Gatherer, promhttp.HandlerOpts{}))
	}
	if routes.Transcription != nil {
		r.Method(http.MethodGet, routes.TranscriptionPath, routes.Transcription)
	}
	return r
}

func readyHandler(health HealthFunc, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if health == nil {
			_, _ = w.Write([]byte("ok"))
			return
		}
		ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
		defer cancel()
		for name, err := range health(ctx) {
			if err != nil {
				logger.Warn("dependency unhealthy", "dependency", name, "error", err)
				http.Error(w, fmt.Sprintf("%s: unhealthy", name), http.StatusServiceUnavailable)
				return
			}
		}
		_, _ = w.Write([]byte("ok"))
	}
}

func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			logger.Debug("http request",
				"request_id", middleware.GetReqID(r.Context()),
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"duration_ms", time.Since(start).Milliseconds())
		})
	}
}

type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// New builds the HTTP server. No read or write timeouts are set beyond the
// header timeout since WebSocket connections stay open for a whole session.
func New(addr string, handler http.Handler, logger *slog.Logger) *Server {
	return &Server{
		httpServer: &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadHeaderTimeout: readHeaderTimeout,
		},
		logger: logger.With("component", "http_server"),
	}
}

// ListenAndServe blocks until the server stops. It returns nil after Shutdown.
func (s *Server) ListenAndServe() error {
	s.logger.Info("http server listening", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("listen and serve: %w", err)
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}
	return nil
}
