package worker

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/robfig/cron/v3"

	"github.com/justinmoon/spool/internal/config"
	"github.com/justinmoon/spool/internal/events"
)

// timeoutMiddleware applies timeout to all routes except streaming endpoints
func timeoutMiddleware(timeout time.Duration) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Skip timeout for streaming routes (NDJSON, WebSocket)
			path := r.URL.Path
			if strings.Contains(path, "/stream") ||
				strings.HasSuffix(path, "/ws") {
				next.ServeHTTP(w, r)
				return
			}
			middleware.Timeout(timeout)(next).ServeHTTP(w, r)
		})
	}
}

// Server is the worker host daemon: it owns the registry of live jobs
// and sessions and serves the execution + streaming HTTP surface.
type Server struct {
	cfg    *config.Config
	reg    *Registry
	bus    *events.Bus
	router *chi.Mux
	server *http.Server
	cron   *cron.Cron
}

func NewServer(cfg *config.Config, bus *events.Bus) (*Server, error) {
	if err := SetupHardening(cfg.Worker.Hardening); err != nil {
		return nil, err
	}
	if err := cfg.EnsureSandboxRoot(); err != nil {
		return nil, fmt.Errorf("failed to create sandbox root: %w", err)
	}

	s := &Server{
		cfg:    cfg,
		reg:    NewRegistry(),
		bus:    bus,
		router: chi.NewRouter(),
		cron:   cron.New(),
	}

	s.setupRoutes()

	retention := time.Duration(cfg.Worker.RetentionMinutes) * time.Minute
	if retention > 0 {
		if _, err := s.cron.AddFunc("@every 1m", func() {
			if n := s.reg.Sweep(retention); n > 0 {
				log.Printf("registry sweep evicted %d handles", n)
			}
		}); err != nil {
			return nil, err
		}
	}

	return s, nil
}

func (s *Server) setupRoutes() {
	s.router.Use(middleware.Logger)
	s.router.Use(middleware.Recoverer)
	// Custom timeout middleware that excludes streaming routes
	s.router.Use(timeoutMiddleware(60 * time.Second))

	s.router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})

	// One-shot jobs
	s.router.Post("/exec", s.handleExec)
	s.router.Get("/stream/{id}", s.handleJobStream)
	s.router.Get("/status/{id}", s.handleJobStatus)
	s.router.Post("/cancel/{id}", s.handleJobCancel)

	// Interactive sessions
	s.router.Post("/sessions", s.handleSessionStart)
	s.router.Get("/sessions", s.handleSessionList)
	s.router.Get("/sessions/{id}/stream", s.handleSessionStream)
	s.router.Get("/sessions/{id}/status", s.handleSessionStatus)
	s.router.Post("/sessions/{id}/write", s.handleSessionWrite)
	s.router.Post("/sessions/{id}/resize", s.handleSessionResize)
	s.router.Post("/sessions/{id}/close", s.handleSessionClose)
	s.router.Get("/sessions/{id}/ws", s.handleSessionWS)

	// Sandboxed filesystem surface
	s.router.Get("/files/*", s.handleFileGet)
	s.router.Post("/files/*", s.handleFilePut)
}

// Router exposes the handler for tests.
func (s *Server) Router() http.Handler {
	return s.router
}

func (s *Server) Registry() *Registry {
	return s.reg
}

func (s *Server) Start() error {
	s.cron.Start()

	addr := fmt.Sprintf("%s:%d", s.cfg.Worker.Host, s.cfg.Worker.Port)
	s.server = &http.Server{
		Addr:    addr,
		Handler: s.router,
	}

	log.Printf("worker listening on http://%s", addr)
	return s.server.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.cron.Stop()
	s.bus.Close()
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}
