// Package httpapi exposes the conversation core over HTTP.
package httpapi

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/bdobrica/kotoba/internal/kotoba/conversation"
	"github.com/bdobrica/kotoba/internal/kotoba/dispatch"
)

// StatusProvider reports database health for GET /status. *store.Store
// satisfies it.
type StatusProvider interface {
	Ping() error
	SchemaVersion() (int, error)
}

// Server is the HTTP front end. It is optional; kotoba runs without it when
// the listen address is empty.
type Server struct {
	addr       string
	dispatcher *dispatch.Orchestrator
	manager    *conversation.Manager
	db         StatusProvider
	startedAt  time.Time
	logger     *slog.Logger
	router     *chi.Mux
	server     *http.Server
}

// NewServer builds the router. db may be nil.
func NewServer(addr string, d *dispatch.Orchestrator, m *conversation.Manager, db StatusProvider, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		addr:       addr,
		dispatcher: d,
		manager:    m,
		db:         db,
		startedAt:  time.Now(),
		logger:     logger,
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() *chi.Mux {
	r := chi.NewRouter()

	r.Use(traceID)
	r.Use(requestLogger(s.logger))
	r.Use(recovery(s.logger))

	r.Get("/health", s.handleHealth)
	r.Get("/status", s.handleStatus)

	r.Route("/v1", func(r chi.Router) {
		r.Route("/sessions", func(r chi.Router) {
			r.Post("/", s.handleStartSession)
			r.Get("/{id}", s.handleGetSession)
			r.Delete("/{id}", s.handleEndSession)
			r.Post("/{id}/messages", s.handlePostMessage)
			r.Get("/{id}/analytics", s.handleAnalytics)
			r.Post("/{id}/suggestions", s.handleSuggestions)
		})
		r.Post("/maintenance/cleanup", s.handleCleanup)
	})
	return r
}

// ServeHTTP implements http.Handler so the server can be tested with
// httptest without a listener.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Start begins listening in the background and returns once the listener is
// open. The server shuts down when ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("httpapi: listen %s: %w", s.addr, err)
	}

	s.server = &http.Server{
		Handler:      s,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		s.logger.Info("http server listening", "addr", ln.Addr().String())
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Error("http server stopped", "err", err)
		}
	}()

	go func() {
		<-ctx.Done()
		s.Stop()
	}()
	return nil
}

// Stop shuts down the HTTP server. Safe to call more than once.
func (s *Server) Stop() {
	if s.server == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.server.Shutdown(ctx); err != nil {
		s.logger.Warn("http server shutdown error", "err", err)
	}
}
