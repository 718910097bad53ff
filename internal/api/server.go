// Package api implements the operator-facing HTTP API: health and
// readiness, per-provider status, the merged tool list, tool dispatch,
// and the lifecycle journal.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/parlane/seneschal/internal/bootstrap"
	"github.com/parlane/seneschal/internal/buildinfo"
	"github.com/parlane/seneschal/internal/connwatch"
	"github.com/parlane/seneschal/internal/journal"
	"github.com/parlane/seneschal/internal/tools"
)

// writeJSON encodes v as JSON to w, logging any errors at debug level.
// Errors here typically mean the client disconnected mid-response,
// which is not actionable but worth tracking for debugging.
func writeJSON(w http.ResponseWriter, v any, logger *slog.Logger) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Debug("failed to write JSON response", "error", err)
	}
}

// Server is the HTTP API server.
type Server struct {
	address  string
	port     int
	registry *bootstrap.Registry
	tools    *tools.Registry
	journal  *journal.Store
	watch    *connwatch.Manager
	logger   *slog.Logger
	server   *http.Server
}

// NewServer creates the API server over the given registries.
func NewServer(address string, port int, registry *bootstrap.Registry, toolReg *tools.Registry, logger *slog.Logger) *Server {
	return &Server{
		address:  address,
		port:     port,
		registry: registry,
		tools:    toolReg,
		logger:   logger,
	}
}

// SetJournal configures the journal store for event history endpoints.
func (s *Server) SetJournal(j *journal.Store) {
	s.journal = j
}

// SetWatch configures the connection watch manager for probe reporting.
func (s *Server) SetWatch(w *connwatch.Manager) {
	s.watch = w
}

// Start begins serving HTTP requests. It blocks until the listener
// fails or Shutdown is called.
func (s *Server) Start(ctx context.Context) error {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /api/version", s.handleVersion)
	mux.HandleFunc("GET /api/providers", s.handleProviders)
	mux.HandleFunc("GET /api/providers/{name}", s.handleProviderGet)
	mux.HandleFunc("GET /api/tools", s.handleTools)
	mux.HandleFunc("POST /api/tools/call", s.handleToolCall)
	mux.HandleFunc("GET /api/journal", s.handleJournal)

	s.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", s.address, s.port),
		Handler:      s.withLogging(mux),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second, // tool calls can be slow
	}

	addr := s.address
	if addr == "" {
		addr = "0.0.0.0"
	}
	s.logger.Info("starting API server", "address", addr, "port", s.port)
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"duration", time.Since(start),
		)
	})
}

func (s *Server) errorResponse(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	writeJSON(w, map[string]string{"error": msg}, s.logger)
}

// handleHealth reports aggregate readiness: healthy means every
// required provider bootstrapped successfully. Optional providers
// appear in the detail but never degrade the verdict.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ready := s.registry.Ready()

	body := map[string]any{
		"status":    "healthy",
		"providers": s.registry.Statuses(),
	}
	if s.watch != nil {
		body["probes"] = s.watch.Statuses()
	}

	if !ready {
		body["status"] = "degraded"
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	writeJSON(w, body, s.logger)
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, buildinfo.Info(), s.logger)
}

func (s *Server) handleProviders(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.registry.Statuses(), s.logger)
}

func (s *Server) handleProviderGet(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	m, ok := s.registry.Manager(name)
	if !ok {
		s.errorResponse(w, http.StatusNotFound, "unknown provider: "+name)
		return
	}

	body := map[string]any{"status": m.Status()}
	if s.journal != nil {
		entries, err := s.journal.ByProvider(r.Context(), name, 20)
		if err != nil {
			s.logger.Warn("journal query failed", "provider", name, "error", err)
		} else {
			body["events"] = entries
		}
	}
	writeJSON(w, body, s.logger)
}

func (s *Server) handleTools(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{
		"count": s.tools.Len(),
		"tools": s.tools.List(),
	}, s.logger)
}

// toolCallRequest is the body of POST /api/tools/call.
type toolCallRequest struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

func (s *Server) handleToolCall(w http.ResponseWriter, r *http.Request) {
	var req toolCallRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Name == "" {
		s.errorResponse(w, http.StatusBadRequest, "name is required")
		return
	}

	argsJSON, err := json.Marshal(req.Arguments)
	if err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid arguments")
		return
	}

	result, err := s.tools.Execute(r.Context(), req.Name, string(argsJSON))
	if err != nil {
		// 502 is reserved for failures inside the provider; a name we
		// never registered is the caller's mistake.
		status := http.StatusBadGateway
		if errors.Is(err, tools.ErrUnknownTool) {
			status = http.StatusNotFound
		}
		s.errorResponse(w, status, err.Error())
		return
	}

	writeJSON(w, map[string]string{"result": result}, s.logger)
}

func (s *Server) handleJournal(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "journal not configured")
		return
	}

	entries, err := s.journal.Recent(r.Context(), 100)
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, "journal query failed")
		return
	}
	writeJSON(w, entries, s.logger)
}
