// Package httpapi exposes the shopping agent engine over HTTP: health and
// discovery endpoints, task execution, and a WebSocket event stream.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/germanamz/shoppy/pkg/engine"
)

const (
	apiName    = "VkusVill Shopping Agent API"
	apiVersion = "1.0.0"
)

// Server serves the HTTP facade for one engine.
type Server struct {
	engine *engine.Engine
	log    *slog.Logger
	srv    *http.Server
}

// New builds a Server listening on addr.
func New(e *engine.Engine, addr string) *Server {
	s := &Server{
		engine: e,
		log:    slog.Default(),
	}
	s.srv = &http.Server{
		Addr:              addr,
		Handler:           s.logRequests(allowCORS(jsonContentType(s.routes()))),
		ReadHeaderTimeout: 10 * time.Second,
	}

	return s
}

func (s *Server) routes() http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/", s.handleRoot).Methods(http.MethodGet)
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/docs", s.handleDocs).Methods(http.MethodGet)
	r.HandleFunc("/agents", s.handleAgents).Methods(http.MethodGet)
	r.HandleFunc("/task", s.handleTask).Methods(http.MethodPost)
	r.HandleFunc("/events/ws", s.handleEvents).Methods(http.MethodGet)

	return r
}

// Handler returns the complete middleware-wrapped handler, mainly for tests.
func (s *Server) Handler() http.Handler { return s.srv.Handler }

// Start begins serving and blocks until the listener closes. A close
// initiated by Shutdown returns nil.
func (s *Server) Start() error {
	s.log.Info("http server listening", "addr", s.srv.Addr)

	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("httpapi: %w", err)
	}

	return nil
}

// Shutdown gracefully stops the server, waiting for in-flight requests up to
// the context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (s *Server) handleRoot(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"message": apiName,
		"version": apiVersion,
		"docs":    "/docs",
		"health":  "/health",
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

type routeDoc struct {
	Method      string `json:"method"`
	Path        string `json:"path"`
	Description string `json:"description"`
}

func (s *Server) handleDocs(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"routes": []routeDoc{
			{Method: http.MethodGet, Path: "/", Description: "API info"},
			{Method: http.MethodGet, Path: "/health", Description: "Health check"},
			{Method: http.MethodGet, Path: "/docs", Description: "This route index"},
			{Method: http.MethodGet, Path: "/agents", Description: "List registered agents"},
			{Method: http.MethodPost, Path: "/task", Description: "Run a shopping task and return the result"},
			{Method: http.MethodGet, Path: "/events/ws", Description: "Stream engine events over WebSocket"},
		},
	})
}

func (s *Server) handleAgents(w http.ResponseWriter, _ *http.Request) {
	entries := s.engine.Agents()
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"agents":  names,
		"default": s.engine.DefaultAgent(),
	})
}

type taskRequest struct {
	Task      string `json:"task"`
	AgentName string `json:"agent_name"`
}

// taskResponse mirrors the task outcome on the wire. Result and Error are
// pointers so the unused one serializes as null.
type taskResponse struct {
	Success bool    `json:"success"`
	Result  *string `json:"result"`
	AgentID string  `json:"agent_id"`
	Error   *string `json:"error"`
}

// handleTask runs one task to completion. Budget exhaustion and provider
// failures are task outcomes reported with 200, not server errors; only an
// unknown agent (404) or a broken request (400) fail the HTTP exchange.
func (s *Server) handleTask(w http.ResponseWriter, r *http.Request) {
	var req taskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Task) == "" {
		writeError(w, http.StatusBadRequest, "task is required")
		return
	}

	res, err := s.engine.RunTask(r.Context(), req.AgentName, req.Task)
	if err != nil {
		if errors.Is(err, engine.ErrAgentNotFound) {
			writeError(w, http.StatusNotFound, fmt.Sprintf("agent %q not found", req.AgentName))
			return
		}

		s.log.Error("task execution failed", "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	resp := taskResponse{Success: res.Success, AgentID: res.AgentID}
	if res.Success {
		resp.Result = &res.Result
	} else if res.Err != nil {
		msg := res.Err.Error()
		resp.Error = &msg
	}

	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
