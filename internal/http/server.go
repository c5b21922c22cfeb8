// Package httpx is the visitor-facing HTTP surface.
package httpx

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

// NewRouter wires the routes and the middleware chain.
func NewRouter(e Env) http.Handler {
	if e.Logger == nil {
		e.Logger = zap.NewNop()
	}
	if e.Verifier == nil {
		e.Verifier = NewVerifier(e.Cfg.VerifySecret)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(RequestLogger(e.Logger))
	r.Use(MetricsMiddleware(e.Metrics))
	r.Use(Recoverer(e.Logger))
	r.Use(cors)

	r.Get("/healthz", e.Healthz)
	r.Get("/readyz", e.Readyz)

	for _, path := range []string{"/", "/go"} {
		r.Get(path, e.Serve)
		r.Head(path, e.Serve)
	}
	r.Post("/go", e.Report)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeErrorPage(w, r, http.StatusNotFound)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeErrorPage(w, r, http.StatusMethodNotAllowed)
	})
	return r
}

// Server runs the router on SERVER_ADDR.
type Server struct {
	server *http.Server
	logger *zap.Logger
}

func NewServer(e Env) *Server {
	logger := e.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		server: &http.Server{
			Addr:              e.Cfg.ServerAddr,
			Handler:           NewRouter(e),
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       10 * time.Second,
			WriteTimeout:      10 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
		logger: logger.Named("http"),
	}
}

// Run serves until ctx is done, then shuts down with a five second grace.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening", zap.String("addr", s.server.Addr))
		errCh <- s.server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.logger.Info("shutting down")
		return s.server.Shutdown(shutdownCtx)
	}
}

func (s *Server) Handler() http.Handler {
	return s.server.Handler
}
