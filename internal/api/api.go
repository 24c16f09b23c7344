// Package api provides HTTP handlers and the main API server for the SDR
// agent.
//
// It exposes the inbound webhook used by channel providers that deliver
// messages over HTTP, plus operational endpoints for health and profile
// inspection.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/nitroxinteligence/sdr-ia-solarprime-sub003/internal/models"
	"github.com/nitroxinteligence/sdr-ia-solarprime-sub003/internal/util"
)

// Constants for API server configuration
const (
	// DefaultAddr is the default listen address.
	DefaultAddr = ":8080"
	// DefaultShutdownTimeout bounds graceful shutdown.
	DefaultShutdownTimeout = 10 * time.Second
	// DefaultMaxBodyBytes caps the size of webhook request bodies.
	DefaultMaxBodyBytes = 1 << 20
)

// InboundHandler is the agent-side surface the server feeds events into.
type InboundHandler interface {
	HandleInbound(event models.InboundEvent) error
	Flush(key string) error
	Profile(key string) (*models.QualificationProfile, error)
	History(key string) ([]models.ConversationMessage, error)
	ActiveConversations() int
}

// Opts holds configuration options for the API server.
type Opts struct {
	Addr string
}

// Option defines a configuration option for the API server.
type Option func(*Opts)

// WithAddr sets the listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) { o.Addr = addr }
}

// Server is the HTTP API for the SDR agent.
type Server struct {
	agent  InboundHandler
	server *http.Server
}

// NewServer creates an API server over the given agent.
func NewServer(agent InboundHandler, opts ...Option) *Server {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Addr == "" {
		cfg.Addr = DefaultAddr
	}

	s := &Server{agent: agent}
	mux := http.NewServeMux()
	mux.HandleFunc("/receive", s.receiveHandler)
	mux.HandleFunc("/health", s.healthHandler)
	mux.HandleFunc("/conversations/", s.conversationHandler)
	s.server = &http.Server{Addr: cfg.Addr, Handler: mux}
	return s
}

// Handler returns the underlying handler, for tests.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Start begins serving in a background goroutine.
func (s *Server) Start() {
	go func() {
		slog.Info("API server listening", "addr", s.server.Addr)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("API server failed", "error", err)
		}
	}()
}

// Stop gracefully shuts the server down.
func (s *Server) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), DefaultShutdownTimeout)
	defer cancel()
	return s.server.Shutdown(ctx)
}

// receiveHandler accepts one inbound message event from a channel webhook.
func (s *Server) receiveHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONResponse(w, http.StatusMethodNotAllowed, models.Error("method not allowed"))
		return
	}

	var event models.InboundEvent
	r.Body = http.MaxBytesReader(w, r.Body, DefaultMaxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(&event); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error(fmt.Sprintf("invalid request body: %v", err)))
		return
	}
	if event.Kind == "" {
		event.Kind = models.FragmentKindText
	}
	if event.ProviderMessageID == "" {
		event.ProviderMessageID = util.GenerateEventID()
	}

	if err := s.agent.HandleInbound(event); err != nil {
		if errors.Is(err, models.ErrInvalidConversationKey) {
			writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
			return
		}
		slog.Error("API receive failed", "key", event.ConversationKey, "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("failed to process event"))
		return
	}

	writeJSONResponse(w, http.StatusAccepted, models.Success(nil))
}

// healthHandler reports liveness and the number of buffered conversations.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSONResponse(w, http.StatusMethodNotAllowed, models.Error("method not allowed"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(map[string]interface{}{
		"active_conversations": s.agent.ActiveConversations(),
	}))
}

// conversationHandler serves profile and history lookups:
//
//	GET /conversations/{key}          -> qualification profile
//	GET /conversations/{key}/history  -> persisted transcript
//	POST /conversations/{key}/flush   -> force an immediate buffer flush
func (s *Server) conversationHandler(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path[len("/conversations/"):]
	key := path
	var action string
	for i := 0; i < len(path); i++ {
		if path[i] == '/' {
			key = path[:i]
			action = path[i+1:]
			break
		}
	}
	if key == "" {
		writeJSONResponse(w, http.StatusNotFound, models.Error("conversation key required"))
		return
	}

	switch {
	case action == "" && r.Method == http.MethodGet:
		profile, err := s.agent.Profile(key)
		if err != nil {
			s.writeLookupError(w, key, err)
			return
		}
		if profile == nil {
			writeJSONResponse(w, http.StatusNotFound, models.Error("conversation not found"))
			return
		}
		writeJSONResponse(w, http.StatusOK, models.Success(profile))
	case action == "history" && r.Method == http.MethodGet:
		history, err := s.agent.History(key)
		if err != nil {
			s.writeLookupError(w, key, err)
			return
		}
		writeJSONResponse(w, http.StatusOK, models.Success(history))
	case action == "flush" && r.Method == http.MethodPost:
		if err := s.agent.Flush(key); err != nil {
			s.writeLookupError(w, key, err)
			return
		}
		writeJSONResponse(w, http.StatusAccepted, models.Success(nil))
	default:
		writeJSONResponse(w, http.StatusMethodNotAllowed, models.Error("method not allowed"))
	}
}

func (s *Server) writeLookupError(w http.ResponseWriter, key string, err error) {
	if errors.Is(err, models.ErrInvalidConversationKey) {
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}
	slog.Error("API conversation lookup failed", "key", key, "error", err)
	writeJSONResponse(w, http.StatusInternalServerError, models.Error("lookup failed"))
}
