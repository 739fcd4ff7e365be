// Package server exposes extraction runs over HTTP: submit a table and a
// schema, inspect stored runs, and follow a run's turns over a WebSocket.
package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"github.com/vincentmin/table-agent/pkg/extract"
	"github.com/vincentmin/table-agent/pkg/store"
)

// Server serves the REST API and run event stream.
type Server struct {
	runs     store.RunStore
	base     extract.Options
	provider string
	srv      *http.Server

	// ctx outlives requests; extractions run under it.
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a Server. base supplies the model, sandbox and limits used
// for every submitted extraction; per-request fields override prompts and
// the model name.
func New(runs store.RunStore, base extract.Options) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	provider := ""
	if base.Model != nil {
		provider = base.Model.Name()
	}
	s := &Server{
		runs:     runs,
		base:     base,
		provider: provider,
		ctx:      ctx,
		cancel:   cancel,
	}
	s.srv = &http.Server{Handler: s.Handler()}
	return s
}

// Handler returns the routed API handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/extractions", s.handleCreateExtraction)

	mux.HandleFunc("GET /api/runs", s.handleListRuns)
	mux.HandleFunc("GET /api/runs/{id}", s.handleGetRun)
	mux.HandleFunc("GET /api/runs/{id}/turns", s.handleGetTurns)

	// Models
	mux.HandleFunc("GET /api/models", s.handleListModels)

	// WebSocket
	mux.HandleFunc("/api/runs/{id}/events", s.handleEventsWebSocket)

	return s.corsMiddleware(mux)
}

// Start starts the HTTP server.
func (s *Server) Start(addr string) error {
	s.srv.Addr = addr
	slog.Info("Starting web server", "addr", addr)
	return s.srv.ListenAndServe()
}

// Shutdown stops accepting requests, cancels in-flight extractions and
// waits for them to record their outcome.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.srv.Shutdown(ctx)
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return err
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) jsonResponse(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func (s *Server) errorResponse(w http.ResponseWriter, status int, err error) {
	slog.Error("API Error", "status", status, "error", err)
	s.jsonResponse(w, status, map[string]string{"error": err.Error()})
}
