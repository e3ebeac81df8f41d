// ABOUTME: HTTP server wiring the REST surface over mux routes
// ABOUTME: Owns route registration, JSON helpers and graceful shutdown

package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/zalokit/gateway/internal/dispatch"
	"github.com/zalokit/gateway/internal/jobs"
	"github.com/zalokit/gateway/internal/store"
	"github.com/zalokit/gateway/internal/view"
	"github.com/zalokit/gateway/internal/zalo"
)

// Config holds the server's listen and proxy settings
type Config struct {
	Addr              string
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	AvatarCDNPrefixes []string
}

// Server is the HTTP front of the gateway
type Server struct {
	cfg        Config
	router     *mux.Router
	httpServer *http.Server
	store      store.Store
	client     zalo.Client
	dispatcher *dispatch.Service
	views      *view.Service
	runner     *jobs.Runner
	proxy      *http.Client
	logger     *slog.Logger
}

// New creates a server with all routes registered
func New(cfg Config, st store.Store, client zalo.Client, dispatcher *dispatch.Service, views *view.Service, runner *jobs.Runner, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		cfg:        cfg,
		router:     mux.NewRouter(),
		store:      st,
		client:     client,
		dispatcher: dispatcher,
		views:      views,
		runner:     runner,
		proxy:      &http.Client{Timeout: 15 * time.Second},
		logger:     logger.With("component", "server"),
	}
	s.registerRoutes()

	s.httpServer = &http.Server{
		Addr:         cfg.Addr,
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return s
}

func (s *Server) registerRoutes() {
	s.router.HandleFunc("/init", s.handleInit).Methods(http.MethodPost)
	s.router.HandleFunc("/login/cookies", s.handleLoginCookies).Methods(http.MethodPost)
	s.router.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	s.router.HandleFunc("/logout", s.handleLogout).Methods(http.MethodPost)
	s.router.HandleFunc("/session", s.handleSession).Methods(http.MethodGet)
	s.router.HandleFunc("/me", s.handleMe).Methods(http.MethodGet)
	s.router.HandleFunc("/tasks/{taskId}", s.handleTask).Methods(http.MethodGet)
	s.router.HandleFunc("/send", s.handleSend).Methods(http.MethodPost)
	s.router.HandleFunc("/conversations", s.handleConversations).Methods(http.MethodGet)
	s.router.HandleFunc("/messages/{conversationId}", s.handleMessages).Methods(http.MethodGet)
	s.router.HandleFunc("/avatar-proxy", s.handleAvatarProxy).Methods(http.MethodGet)
	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
}

// Handler exposes the route tree for tests
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start runs the server until ctx is cancelled, then shuts down
// gracefully with a 10 second drain window.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", s.cfg.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.logger.Info("shutting down http server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return err
	}
	s.runner.Wait()
	return nil
}

// sendJSON writes a JSON response with the given status.
func (s *Server) sendJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Error("failed to encode response", "error", err)
	}
}

// sendJSONError writes a JSON error response.
func (s *Server) sendJSONError(w http.ResponseWriter, status int, message string) {
	s.sendJSON(w, status, map[string]string{"error": message})
}
