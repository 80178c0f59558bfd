package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/kioku-ai/kioku/internal/ratelimit"
	"github.com/kioku-ai/kioku/internal/resume"
	"github.com/kioku-ai/kioku/internal/service/memory"
	"github.com/kioku-ai/kioku/internal/service/sessions"
	"github.com/kioku-ai/kioku/internal/storage"
)

// Server is the Kioku HTTP server.
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	handlers   *Handlers
	logger     *slog.Logger
}

// Handler returns the root HTTP handler for use in tests.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// ServerConfig holds all dependencies and configuration for creating a Server.
// Optional fields (nil-safe): Limiter, MCPServer.
type ServerConfig struct {
	// Required dependencies.
	DB       *storage.DB
	Sessions *sessions.Manager
	Memory   *memory.Store
	Resume   *resume.Builder
	Logger   *slog.Logger

	// Optional dependencies (nil = disabled).
	Limiter   ratelimit.Limiter
	MCPServer *mcpserver.MCPServer

	// HTTP server settings.
	Port                int
	ReadTimeout         time.Duration
	WriteTimeout        time.Duration
	Version             string
	MaxRequestBodyBytes int64
}

// New creates a new HTTP server with all routes configured.
func New(cfg ServerConfig) *Server {
	h := NewHandlers(HandlersDeps{
		Sessions: cfg.Sessions,
		Memory:   cfg.Memory,
		Resume:   cfg.Resume,
		DB:       cfg.DB,
		Logger:   cfg.Logger,
		Version:  cfg.Version,
	})

	// Request ID extractor for rate limit error responses.
	reqIDFunc := func(r *http.Request) string {
		return RequestIDFromContext(r.Context())
	}

	// Rate limit rules. Writes and reads share a limiter but use
	// separate key prefixes so a chatty ingest loop cannot starve
	// resume or search traffic from the same client.
	ingestRL := ratelimit.Middleware(cfg.Limiter, "ingest", ratelimit.IPKeyFunc, reqIDFunc)
	queryRL := ratelimit.Middleware(cfg.Limiter, "query", ratelimit.IPKeyFunc, reqIDFunc)
	searchRL := ratelimit.Middleware(cfg.Limiter, "search", ratelimit.IPKeyFunc, reqIDFunc)

	mux := http.NewServeMux()

	// Session lifecycle.
	mux.Handle("POST /v1/sessions", ingestRL(http.HandlerFunc(h.HandleCreateSession)))
	mux.Handle("GET /v1/sessions/{session_id}", queryRL(http.HandlerFunc(h.HandleGetSession)))
	mux.Handle("PATCH /v1/sessions/{session_id}/status", ingestRL(http.HandlerFunc(h.HandleUpdateSessionStatus)))

	// Conversation ingest and readback.
	mux.Handle("POST /v1/sessions/{session_id}/turns", ingestRL(http.HandlerFunc(h.HandleAppendTurn)))
	mux.Handle("GET /v1/sessions/{session_id}/conversations", queryRL(http.HandlerFunc(h.HandleListConversations)))

	// Decisions.
	mux.Handle("POST /v1/sessions/{session_id}/decisions", ingestRL(http.HandlerFunc(h.HandleCreateDecision)))
	mux.Handle("GET /v1/sessions/{session_id}/decisions", queryRL(http.HandlerFunc(h.HandleListDecisions)))
	mux.Handle("GET /v1/decisions/{decision_id}", queryRL(http.HandlerFunc(h.HandleGetDecision)))
	mux.Handle("PATCH /v1/decisions/{decision_id}/status", ingestRL(http.HandlerFunc(h.HandleUpdateDecisionStatus)))

	// Artifacts.
	mux.Handle("POST /v1/sessions/{session_id}/artifacts", ingestRL(http.HandlerFunc(h.HandleCreateArtifact)))
	mux.Handle("GET /v1/sessions/{session_id}/artifacts", queryRL(http.HandlerFunc(h.HandleListArtifacts)))

	// Semantic search (tighter rate limit, each call embeds the query).
	mux.Handle("POST /v1/search", searchRL(http.HandlerFunc(h.HandleSearch)))

	// Resume context.
	mux.Handle("GET /v1/sessions/{session_id}/resume", queryRL(http.HandlerFunc(h.HandleResume)))

	// Contradictions.
	mux.Handle("GET /v1/sessions/{session_id}/contradictions", queryRL(http.HandlerFunc(h.HandleListContradictions)))
	mux.Handle("POST /v1/sessions/{session_id}/contradictions/{contradiction_id}/resolve", ingestRL(http.HandlerFunc(h.HandleResolveContradiction)))

	// MCP StreamableHTTP transport.
	if cfg.MCPServer != nil {
		mcpHTTP := mcpserver.NewStreamableHTTPServer(cfg.MCPServer)
		mux.Handle("/mcp", mcpHTTP)
	}

	// Health (no rate limit).
	mux.HandleFunc("GET /health", h.HandleHealth)

	// Middleware chain (outermost executes first):
	// request ID → security headers → tracing → logging → body cap → recovery → handler.
	var handler http.Handler = mux
	handler = recoveryMiddleware(cfg.Logger, handler)
	handler = maxBodyMiddleware(cfg.MaxRequestBodyBytes, handler)
	handler = loggingMiddleware(cfg.Logger, handler)
	handler = tracingMiddleware(handler)
	handler = securityHeadersMiddleware(handler)
	handler = requestIDMiddleware(handler)

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      handler,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		},
		handler:  handler,
		handlers: h,
		logger:   cfg.Logger,
	}
}

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("http server shutting down")
	return s.httpServer.Shutdown(ctx)
}
