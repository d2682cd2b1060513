// Package server exposes the bridge over a local JSON API. Host software
// polls /api/status, posts messages to /api/send, and subscribes to
// /api/events for live assistant replies and tool outcomes over SSE.
package server

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/jholhewres/clawbridge/pkg/clawbridge/bridge"
	"github.com/jholhewres/clawbridge/pkg/clawbridge/coordinator"
	"github.com/jholhewres/clawbridge/pkg/clawbridge/events"
	"github.com/jholhewres/clawbridge/pkg/clawbridge/gateway"
	"github.com/jholhewres/clawbridge/pkg/clawbridge/history"
	"github.com/jholhewres/clawbridge/pkg/clawbridge/scheduler"
)

// BridgeAPI is the bridge surface the HTTP layer uses. Defined here to
// avoid a hard dependency on the concrete bridge type in handlers.
type BridgeAPI interface {
	Send(ctx context.Context, req bridge.SendRequest) (*bridge.Reply, error)
	InvokeTool(ctx context.Context, treq gateway.ToolRequest) (*gateway.ToolResult, error)
	History(sessionID string) []history.Message
	ClearHistory(sessionID string)
	Status() coordinator.Snapshot
	Models() []string
	ActiveModel() string
	SetActiveModel(model string) error
}

// JobLister exposes scheduled jobs read-only over the API. Optional.
type JobLister interface {
	List() []*scheduler.Job
}

// Config holds HTTP server configuration.
type Config struct {
	// Enabled turns the host API on/off.
	Enabled bool `yaml:"enabled"`

	// Addr is the listen address (default: "127.0.0.1:8930").
	Addr string `yaml:"addr"`

	// AuthToken is the Bearer token for authentication (empty = no auth).
	AuthToken string `yaml:"auth_token"`
}

// Server is the host-facing HTTP server.
type Server struct {
	cfg    Config
	api    BridgeAPI
	bus    *events.Bus
	jobs   JobLister
	logger *slog.Logger
	server *http.Server
}

// New creates a host API server. bus and jobs may be nil.
func New(cfg Config, api BridgeAPI, bus *events.Bus, logger *slog.Logger) *Server {
	if cfg.Addr == "" {
		cfg.Addr = "127.0.0.1:8930"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		cfg:    cfg,
		api:    api,
		bus:    bus,
		logger: logger.With("component", "server"),
	}
}

// SetJobLister wires the scheduler's job list into /api/jobs.
func (s *Server) SetJobLister(jobs JobLister) { s.jobs = jobs }

// Handler builds the route table. Exposed so tests can drive the server
// without a listener.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("/api/status", s.auth(s.handleStatus))
	mux.HandleFunc("/api/models", s.auth(s.handleModels))
	mux.HandleFunc("/api/send", s.auth(s.handleSend))
	mux.HandleFunc("/api/history", s.auth(s.handleHistory))
	mux.HandleFunc("/api/history/clear", s.auth(s.handleHistoryClear))
	mux.HandleFunc("/api/tools/invoke", s.auth(s.handleToolInvoke))
	mux.HandleFunc("/api/jobs", s.auth(s.handleJobs))
	mux.HandleFunc("/api/events", s.auth(s.handleEvents))

	return mux
}

// Start begins serving the host API.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:         s.cfg.Addr,
		Handler:      s.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // Disabled for SSE streams (long-lived connections)
		IdleTimeout:  120 * time.Second,
	}

	s.logger.Info("host API starting", "addr", s.cfg.Addr)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("host API server error", "error", err)
		}
	}()
	return nil
}

// Stop gracefully shuts down the server.
func (s *Server) Stop() {
	if s.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.server.Shutdown(ctx)
		s.logger.Info("host API stopped")
	}
}

// ── Middleware ──

// auth validates the bearer token if configured.
func (s *Server) auth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.AuthToken == "" {
			next(w, r)
			return
		}
		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if subtle.ConstantTimeCompare([]byte(token), []byte(s.cfg.AuthToken)) != 1 {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
			return
		}
		next(w, r)
	}
}

// ── JSON helpers ──

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// writeSSE writes a named SSE event to the response writer.
func writeSSE(w http.ResponseWriter, flusher http.Flusher, eventType string, data any) {
	b, _ := json.Marshal(data)
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", eventType, string(b))
	flusher.Flush()
}
