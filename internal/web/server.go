// Package web serves the HTTP API: script storage, execution dispatch,
// session inventory, execution history, SSE progress streams, and the
// websocket upgrade for pinned connections.
package web

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/sidegrid/sidegrid/api"
	"github.com/sidegrid/sidegrid/internal/dispatch"
	"github.com/sidegrid/sidegrid/internal/history"
	"github.com/sidegrid/sidegrid/internal/hub"
	"github.com/sidegrid/sidegrid/internal/lock"
	"github.com/sidegrid/sidegrid/internal/session"
	"github.com/sidegrid/sidegrid/internal/store"
	"github.com/sidegrid/sidegrid/internal/stream"
)

// Server is the HTTP front end. All state lives in the collaborators; the
// server itself only translates HTTP to their calls and errors to status
// codes.
type Server struct {
	scripts *store.Store
	pool    *session.Pool
	locks   *lock.Repository
	dsp     *dispatch.Dispatcher
	db      *history.DB
	hub     *hub.Hub
	ws      *stream.Manager
	mux     *http.ServeMux
	server  *http.Server
}

// New creates the server and registers all routes on addr.
func New(addr string, scripts *store.Store, pool *session.Pool, locks *lock.Repository, dsp *dispatch.Dispatcher, db *history.DB, events *hub.Hub, ws *stream.Manager) *Server {
	s := &Server{
		scripts: scripts,
		pool:    pool,
		locks:   locks,
		dsp:     dsp,
		db:      db,
		hub:     events,
		ws:      ws,
		mux:     http.NewServeMux(),
	}

	s.registerRoutes()

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // SSE and websocket connections outlive any fixed deadline
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Start begins serving HTTP requests. It blocks until the server is shut
// down.
func (s *Server) Start() error {
	log.Printf("api listening on %s", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /api/v1/health", s.handleHealth)

	s.mux.HandleFunc("GET /api/v1/sides", s.handleListSides)
	s.mux.HandleFunc("PUT /api/v1/sides/{id}", s.handlePutSide)
	s.mux.HandleFunc("GET /api/v1/sides/{id}", s.handleGetSide)
	s.mux.HandleFunc("DELETE /api/v1/sides/{id}", s.handleDeleteSide)

	s.mux.HandleFunc("GET /api/v1/sessions", s.handleListSessions)

	s.mux.HandleFunc("POST /api/v1/executions", s.handleCreateExecution)
	s.mux.HandleFunc("GET /api/v1/executions", s.handleListExecutions)
	s.mux.HandleFunc("GET /api/v1/executions/stats", s.handleExecutionStats)
	s.mux.HandleFunc("GET /api/v1/executions/{id}", s.handleGetExecution)
	s.mux.HandleFunc("GET /api/v1/executions/{id}/stream", s.handleExecutionStream)

	s.mux.HandleFunc("GET /api/v1/stream", s.ws.HandleWS)

	s.mux.HandleFunc("GET /api/openapi.yaml", s.handleOpenAPISpec)
}

func (s *Server) handleOpenAPISpec(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/yaml")
	_, _ = w.Write(api.OpenAPISpec)
}
