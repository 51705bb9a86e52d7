package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/justinmoon/spool/internal/config"
	"github.com/justinmoon/spool/internal/stream"
)

const version = "0.1.0"

// Server is the API gateway: it authenticates callers, maps each token
// to its worker host, and serves the long-poll terminal facade over the
// worker's cursor-based stream contract.
type Server struct {
	cfg    *config.Config
	mgr    *Manager
	router *chi.Mux
	server *http.Server
}

func NewServer(cfg *config.Config) *Server {
	s := &Server{
		cfg:    cfg,
		mgr:    NewManager(cfg, NewNodeClient()),
		router: chi.NewRouter(),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(middleware.Logger)
	s.router.Use(middleware.Recoverer)

	s.router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	s.router.Get("/version", func(w http.ResponseWriter, r *http.Request) {
		jsonResponse(w, map[string]string{"name": "spool-gateway", "version": version}, http.StatusOK)
	})

	// Everything below requires a bearer token.
	authMiddleware := NewMiddleware(s.cfg)
	s.router.Group(func(r chi.Router) {
		r.Use(authMiddleware.Handler)
		r.Post("/terminal", s.handleTerminalPost)
		r.Get("/terminal", s.handleTerminalGet)
		r.Post("/terminal/signal", s.handleTerminalSignal)
		r.Get("/files/*", s.handleFileGet)
		r.Post("/files/*", s.handleFilePut)
	})
}

// Router exposes the handler for tests.
func (s *Server) Router() http.Handler {
	return s.router
}

func jsonResponse(w http.ResponseWriter, data interface{}, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func apiError(w http.ResponseWriter, message string, status int) {
	jsonResponse(w, map[string]string{"error": message}, status)
}

type terminalResponse struct {
	Running bool           `json:"running"`
	Frames  []stream.Frame `json:"frames"`
	Message string         `json:"message"`
}

func (s *Server) handleTerminalPost(w http.ResponseWriter, r *http.Request) {
	agent, ok := GetAgent(r.Context())
	if !ok {
		apiError(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	var req struct {
		Cmd string `json:"cmd"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apiError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Cmd == "" {
		apiError(w, "cmd must not be empty", http.StatusBadRequest)
		return
	}

	frames, err := s.mgr.Execute(r.Context(), agent, req.Cmd)
	if err != nil {
		log.Printf("terminal execute failed for %s: %v", agent.WorkspaceID, err)
		apiError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	jsonResponse(w, terminalResponse{Running: true, Frames: frames, Message: "ok"}, http.StatusOK)
}

func (s *Server) handleTerminalGet(w http.ResponseWriter, r *http.Request) {
	agent, ok := GetAgent(r.Context())
	if !ok {
		apiError(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	frames, tail, err := s.mgr.Read(r.Context(), agent)
	if err != nil {
		log.Printf("terminal read failed for %s: %v", agent.WorkspaceID, err)
		apiError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	message := "ok"
	if tail {
		message = "tail"
	}
	jsonResponse(w, terminalResponse{Running: true, Frames: frames, Message: message}, http.StatusOK)
}

func (s *Server) handleTerminalSignal(w http.ResponseWriter, r *http.Request) {
	agent, ok := GetAgent(r.Context())
	if !ok {
		apiError(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	var req struct {
		Signal string `json:"signal"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apiError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Signal == "" {
		req.Signal = "INT"
	}

	if err := s.mgr.Signal(r.Context(), agent, req.Signal); err != nil {
		apiError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	jsonResponse(w, map[string]bool{"ok": true}, http.StatusOK)
}

func (s *Server) handleFileGet(w http.ResponseWriter, r *http.Request) {
	agent, ok := GetAgent(r.Context())
	if !ok {
		apiError(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	body, status, err := s.mgr.client.GetFile(r.Context(), agent.NodeURL, chi.URLParam(r, "*"))
	if err != nil {
		apiError(w, err.Error(), http.StatusBadGateway)
		return
	}
	w.WriteHeader(status)
	w.Write(body)
}

func (s *Server) handleFilePut(w http.ResponseWriter, r *http.Request) {
	agent, ok := GetAgent(r.Context())
	if !ok {
		apiError(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	var req struct {
		Content string `json:"content"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apiError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	status, err := s.mgr.client.PutFile(r.Context(), agent.NodeURL, chi.URLParam(r, "*"), req.Content)
	if err != nil {
		apiError(w, err.Error(), http.StatusBadGateway)
		return
	}
	if status != http.StatusOK {
		apiError(w, fmt.Sprintf("worker returned %d", status), status)
		return
	}
	jsonResponse(w, map[string]bool{"ok": true}, http.StatusOK)
}

func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Gateway.Host, s.cfg.Gateway.Port)
	s.server = &http.Server{
		Addr:    addr,
		Handler: s.router,
	}

	log.Printf("gateway listening on http://%s", addr)
	return s.server.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}
