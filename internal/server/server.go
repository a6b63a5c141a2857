// Package server exposes the engine over HTTP.
//
// Routes:
//
//	POST /plywood     run a query expression against a data cube
//	POST /query       build and run the query of a view definition
//	GET  /config      the application settings
//	POST /views       save a view definition
//	GET  /views       list saved views, optionally ?dataCube=
//	GET  /views/{id}  one saved view
//	GET  /metrics     prometheus metrics
//	GET  /healthz     liveness
//
// Every response carries an X-Request-Id header. Failures are returned as
// {"error": {"code": ..., "message": ...}}.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/roach88/pivot/internal/engine"
	"github.com/roach88/pivot/internal/store"
)

// Server routes HTTP requests to the engine and the view store.
type Server struct {
	engine  *engine.Engine
	store   *store.Store
	fetcher *engine.Fetcher

	registry *prometheus.Registry
	requests *prometheus.CounterVec
	ids      engine.IDGenerator
	now      func() time.Time

	router *mux.Router
}

// Option configures a Server.
type Option func(*Server)

// WithRegistry serves and records metrics in reg.
//
// Default: a fresh registry holding only the server's collectors.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(s *Server) {
		s.registry = reg
	}
}

// WithRequestIDs sets the generator of request ids.
//
// Default: engine.UUIDv7Generator.
func WithRequestIDs(g engine.IDGenerator) Option {
	return func(s *Server) {
		s.ids = g
	}
}

// WithClock sets the clock relative time filters are evaluated against.
func WithClock(now func() time.Time) Option {
	return func(s *Server) {
		s.now = now
	}
}

// New creates a server over e and the views in st.
func New(e *engine.Engine, st *store.Store, opts ...Option) *Server {
	s := &Server{
		engine:  e,
		store:   st,
		fetcher: engine.NewFetcher(),
		ids:     engine.UUIDv7Generator{},
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.registry == nil {
		s.registry = prometheus.NewRegistry()
	}
	s.requests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pivot",
		Name:      "http_requests_total",
		Help:      "HTTP requests, by route, method and status code.",
	}, []string{"route", "method", "code"})
	s.registry.MustRegister(s.requests)
	s.router = s.routes()
	return s
}

func (s *Server) routes() *mux.Router {
	r := mux.NewRouter()
	r.Use(s.requestMiddleware)

	r.HandleFunc("/plywood", s.handlePlywood).Methods(http.MethodPost)
	r.HandleFunc("/query", s.handleQuery).Methods(http.MethodPost)
	r.HandleFunc("/config", s.handleConfig).Methods(http.MethodGet)
	r.HandleFunc("/views", s.handleSaveView).Methods(http.MethodPost)
	r.HandleFunc("/views", s.handleListViews).Methods(http.MethodGet)
	r.HandleFunc("/views/{id}", s.handleGetView).Methods(http.MethodGet)
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, apiError{Code: codeNotFound, Message: "no route for " + r.URL.Path})
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, apiError{Code: codeBadRequest, Message: r.Method + " not allowed on " + r.URL.Path})
	})
	return r
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// ListenAndServe serves on addr until ctx is done, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
	}

	errc := make(chan error, 1)
	go func() {
		slog.Info("server listening", "addr", addr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve %s: %w", addr, err)
	case <-ctx.Done():
	}

	slog.Info("server shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
