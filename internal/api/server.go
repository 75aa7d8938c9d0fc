// Package api serves the agent over HTTP and WebSocket.
package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/net/netutil"

	"github.com/turinglab/turinglab/internal/agent"
	"github.com/turinglab/turinglab/internal/connwatch"
	"github.com/turinglab/turinglab/internal/events"
	"github.com/turinglab/turinglab/internal/history"
	"github.com/turinglab/turinglab/internal/llm"
	"github.com/turinglab/turinglab/internal/tools"
)

// Runner executes agent runs. *agent.Orchestrator implements it.
type Runner interface {
	Run(ctx context.Context, prompt string, history []agent.Turn) (*agent.RunResult, error)
	RunSimple(ctx context.Context, prompt string, history []agent.Turn) (*agent.RunResult, error)
	Tools() []tools.Descriptor
}

// Store persists conversations. *history.Store implements it.
type Store interface {
	EnsureConversation(ctx context.Context, id string) (string, error)
	AppendTurn(ctx context.Context, convID string, turn agent.Turn) error
	RecentTurns(ctx context.Context, convID string, n int) ([]agent.Turn, error)
	ListConversations(ctx context.Context, limit int) ([]history.Summary, error)
	Conversation(ctx context.Context, id string) (*history.Conversation, error)
	RecordRun(ctx context.Context, convID, prompt string, res *agent.RunResult) error
	ToolCalls(ctx context.Context, convID string) ([]history.ToolCall, error)
}

// HealthSource reports external service status. *connwatch.Manager
// implements it.
type HealthSource interface {
	Status() map[string]connwatch.ServiceStatus
}

// Config holds server settings.
type Config struct {
	Address string
	Port    int
	// MaxConns caps concurrent connections; zero is unlimited.
	MaxConns int
	// APIKeyHash is a bcrypt hash; empty disables authentication.
	APIKeyHash string
	// HistoryLimit is how many prior turns reach the agent.
	HistoryLimit int
	// Generate holds the options used by POST /api/generate.
	Generate llm.Options
}

// Server is the HTTP API server.
type Server struct {
	cfg    Config
	runner Runner
	gen    llm.Generator
	store  Store
	bus    *events.Bus
	health HealthSource
	logger *slog.Logger

	mu     sync.Mutex
	server *http.Server
}

// NewServer creates a server. gen backs /api/generate and may be nil,
// in which case that endpoint answers 503.
func NewServer(cfg Config, runner Runner, gen llm.Generator, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = 10
	}
	return &Server{
		cfg:    cfg,
		runner: runner,
		gen:    gen,
		logger: logger,
	}
}

// SetStore enables conversation persistence.
func (s *Server) SetStore(st Store) {
	s.store = st
}

// SetEventBus enables the /ws/events stream.
func (s *Server) SetEventBus(b *events.Bus) {
	s.bus = b
}

// SetHealthSource adds service status to GET /health.
func (s *Server) SetHealthSource(h HealthSource) {
	s.health = h
}

// Handler returns the full middleware-wrapped route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/generate", s.handleGenerate)
	mux.HandleFunc("POST /api/agent", s.handleAgent)
	mux.HandleFunc("GET /api/tools", s.handleTools)
	mux.HandleFunc("GET /api/conversations", s.handleConversationList)
	mux.HandleFunc("GET /api/conversations/{id}", s.handleConversationGet)
	mux.HandleFunc("GET /api/conversations/{id}/tool-calls", s.handleToolCalls)
	mux.HandleFunc("GET /api/version", s.handleVersion)

	mux.HandleFunc("GET /ws", s.handleRelay)
	mux.HandleFunc("GET /ws/events", s.handleEventStream)

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /{$}", s.handleRoot)

	return s.withLogging(withCORS(s.withAuth(mux)))
}

// Start listens and serves until Shutdown. It returns nil after a
// graceful shutdown.
func (s *Server) Start(ctx context.Context) error {
	addr := net.JoinHostPort(s.cfg.Address, strconv.Itoa(s.cfg.Port))
	ln, err := (&net.ListenConfig{}).Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	if s.cfg.MaxConns > 0 {
		ln = netutil.LimitListener(ln, s.cfg.MaxConns)
	}

	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		// Agent runs make several backend calls in sequence.
		WriteTimeout: 10 * time.Minute,
		BaseContext:  func(net.Listener) context.Context { return ctx },
	}
	s.mu.Lock()
	s.server = srv
	s.mu.Unlock()

	s.logger.Info("starting API server",
		"address", ln.Addr().String(),
		"max_conns", s.cfg.MaxConns,
		"auth", s.cfg.APIKeyHash != "",
	)
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.server
	s.mu.Unlock()
	if srv != nil {
		return srv.Shutdown(ctx)
	}
	return nil
}

// writeJSON encodes v as JSON to w with the given status, logging
// encode errors at debug level (usually a disconnected client).
func writeJSON(w http.ResponseWriter, status int, v any, logger *slog.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Debug("failed to write JSON response", "error", err)
	}
}

// errorBody is the error shape every endpoint returns.
type errorBody struct {
	Error   string `json:"error"`
	Details any    `json:"details,omitempty"`
}

func (s *Server) errorResponse(w http.ResponseWriter, code int, message string, details any) {
	writeJSON(w, code, errorBody{Error: message, Details: details}, s.logger)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// Hijack hands the connection to the WebSocket upgrader.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(start).Round(time.Millisecond),
		)
	})
}

// withCORS allows any origin and answers preflight requests directly.
func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-API-Key")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
