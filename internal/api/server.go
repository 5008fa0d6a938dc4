// Package api is the JSON/SSE HTTP surface: sending messages, resuming
// streams, stopping generations, and chat listing.
package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/lumenchat/lumen/internal/log"
)

// ServerConfig contains configuration for creating the API server.
type ServerConfig struct {
	Logger    log.Logger
	Store     ChatStore // required
	Streams   Streams   // required
	Generator Generator // required
	DB        Pinger    // optional: nil skips the database readiness check

	Owner        string        // identity that owns all chats
	SystemPrompt string        // system prompt for generations
	Tools        []string      // tool names exposed to the model
	ReplayWindow time.Duration // how long a finished stream replays on resume

	APIToken   string // bearer token; empty disables auth
	TrustProxy bool   // trust X-Real-IP/X-Forwarded-For (behind reverse proxy)
	RateBurst  int    // rate limiter burst per IP (0 = default 60)
}

// Server is the HTTP server for the chat API.
type Server struct {
	mux *http.ServeMux
}

// NewServer creates a server with all routes configured.
func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Store == nil {
		return nil, errors.New("store is required")
	}
	if cfg.Streams == nil {
		return nil, errors.New("stream manager is required")
	}
	if cfg.Generator == nil {
		return nil, errors.New("generator is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = log.NewNop()
	}
	if cfg.Owner == "" {
		cfg.Owner = "local"
	}
	if cfg.ReplayWindow <= 0 {
		cfg.ReplayWindow = 15 * time.Second
	}

	ch := &chatHandler{
		store:        cfg.Store,
		streams:      cfg.Streams,
		generator:    cfg.Generator,
		logger:       logger,
		owner:        cfg.Owner,
		systemPrompt: cfg.SystemPrompt,
		tools:        cfg.Tools,
		replayWindow: cfg.ReplayWindow,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/chat", ch.send)
	mux.HandleFunc("GET /api/chats", ch.listChats)
	mux.HandleFunc("GET /api/chat/{id}", ch.getChat)
	mux.HandleFunc("GET /api/chat/{id}/stream", ch.resume)
	mux.HandleFunc("POST /api/chat/{id}/stop", ch.stop)

	burst := cfg.RateBurst
	if burst <= 0 {
		burst = 60
	}
	limiter := newIPLimiter(1.0, burst)

	// Middleware stack, outermost first:
	//   Recovery -> RequestID -> Logging -> RateLimit -> Auth -> Routes
	// RequestID sits before Logging so request_id shows up in log attributes.
	var handler http.Handler = mux
	handler = authMiddleware(cfg.APIToken, logger)(handler)
	handler = rateLimitMiddleware(limiter, cfg.TrustProxy, logger)(handler)
	handler = loggingMiddleware(logger)(handler)
	handler = requestIDMiddleware()(handler)
	handler = recoveryMiddleware(logger)(handler)

	// Health probes bypass auth and rate limiting.
	top := http.NewServeMux()
	top.HandleFunc("GET /health", health(logger))
	top.HandleFunc("GET /ready", readiness(cfg.DB, logger))
	top.Handle("/", handler)

	return &Server{mux: top}, nil
}

// Handler returns the server as an http.Handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}
