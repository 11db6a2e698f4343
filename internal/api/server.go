// Package api serves a read-only JSON view of the catalog.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"wbh-go/internal/wbh"
)

// Reader is the part of the catalog the API exposes.
type Reader interface {
	GetBlackHoles(ctx context.Context) ([]*wbh.CatalogBlackHole, error)
	GetBlackHole(ctx context.Context, id int64) (*wbh.CatalogBlackHole, error)
	GetChildren(ctx context.Context, blackholeID, parentID int64) ([]*wbh.CatalogItem, error)
	GetItem(ctx context.Context, blackholeID, itemID int64) (*wbh.CatalogItem, error)
	GetChunks(ctx context.Context, blackholeID, itemID int64) ([]*wbh.CatalogChunk, error)
}

// Server routes catalog queries.
type Server struct {
	catalog Reader
	logger  wbh.Logger
	router  *chi.Mux
}

// New builds the router over catalog.
func New(catalog Reader, logger wbh.Logger) *Server {
	if logger == nil {
		logger = wbh.NewNopLogger()
	}
	s := &Server{catalog: catalog, logger: logger}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
	r.Route("/blackholes", func(r chi.Router) {
		r.Get("/", s.listBlackHoles)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", s.getBlackHole)
			r.Get("/items", s.listItems)
			r.Get("/items/{itemID}", s.getItem)
			r.Get("/items/{itemID}/chunks", s.listChunks)
		})
	})
	s.router = r
	return s
}

// Handler returns the traced router.
func (s *Server) Handler() http.Handler {
	return otelhttp.NewHandler(s.router, "wbh-api")
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("api listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("api request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start))
	})
}
