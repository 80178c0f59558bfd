// Package mcp implements the Model Context Protocol server for Kioku.
//
// The MCP server exposes session memory through tools, letting
// MCP-compatible agents search past conversations, pull resume context,
// and inspect per-topic confidence without going through the HTTP API.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	mcplib "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/kioku-ai/kioku/internal/resume"
	"github.com/kioku-ai/kioku/internal/service/memory"
	"github.com/kioku-ai/kioku/internal/service/sessions"
	"github.com/kioku-ai/kioku/internal/storage"
)

// Server wraps the MCP server with Kioku's service layer.
type Server struct {
	mcpServer *mcpserver.MCPServer
	sessions  *sessions.Manager
	mem       *memory.Store
	resume    *resume.Builder
	logger    *slog.Logger
}

// New creates and configures a new MCP server with all tools and
// resources.
func New(sess *sessions.Manager, mem *memory.Store, rb *resume.Builder, logger *slog.Logger, version string) *Server {
	s := &Server{
		sessions: sess,
		mem:      mem,
		resume:   rb,
		logger:   logger,
	}

	s.mcpServer = mcpserver.NewMCPServer(
		"kioku",
		version,
		mcpserver.WithResourceCapabilities(true, true),
		mcpserver.WithToolCapabilities(true),
	)

	s.registerResources()
	s.registerTools()

	return s
}

// MCPServer returns the underlying mcp-go server for transport setup.
func (s *Server) MCPServer() *mcpserver.MCPServer {
	return s.mcpServer
}

func (s *Server) registerResources() {
	// kioku://session/{id}/state — session plus per-topic confidence.
	s.mcpServer.AddResourceTemplate(
		mcplib.NewResourceTemplate(
			"kioku://session/{id}/state",
			"Session State",
			mcplib.WithTemplateDescription("A session with per-topic confidence, completion, and missing items"),
			mcplib.WithTemplateMIMEType("application/json"),
		),
		s.handleSessionStateResource,
	)
}

func (s *Server) registerTools() {
	// kioku_search — semantic search over session memory.
	s.mcpServer.AddTool(
		mcplib.NewTool("kioku_search",
			mcplib.WithDescription(`Search past conversation turns, decisions, and artifacts by meaning.

WHEN TO USE: Before asking the user something they may already have
answered, or when drafting output that should reference earlier
discussion. Pass session_id to search one session, or project_id to
recall decisions across every session of a project.

WHAT YOU GET BACK: ranked hits with kind (turn/decision/artifact),
the matching text, its topic, and a similarity score.`),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithString("query",
				mcplib.Description("Natural language description of what to find"),
				mcplib.Required(),
			),
			mcplib.WithString("session_id",
				mcplib.Description("Session to search within (UUID)"),
			),
			mcplib.WithString("project_id",
				mcplib.Description("Project for cross-session decision recall (UUID). Either session_id or project_id is required."),
			),
			mcplib.WithString("topic",
				mcplib.Description("Restrict to one checklist topic"),
			),
			mcplib.WithNumber("limit",
				mcplib.Description("Maximum results to return"),
				mcplib.Min(1),
				mcplib.Max(100),
				mcplib.DefaultNumber(10),
			),
		),
		s.handleSearch,
	)

	// kioku_resume — rebuild conversational context for a session.
	s.mcpServer.AddTool(
		mcplib.NewTool("kioku_resume",
			mcplib.WithDescription(`Rebuild context for continuing a paused or interrupted session.

WHEN TO USE: At the start of a conversation with a returning user.
The response tells you what was covered, what is still missing, and
exactly what to do next (repeat the unanswered question, continue the
current topic, move to the next one, or offer to generate output).

Pass recap="quick" for a one-line summary, "detailed" for the full
per-topic breakdown, or "none" to get only the next action.`),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithString("session_id",
				mcplib.Description("Session to resume (UUID)"),
				mcplib.Required(),
			),
			mcplib.WithString("recap",
				mcplib.Description("Recap verbosity: detailed, quick, or none"),
				mcplib.DefaultString("detailed"),
			),
		),
		s.handleResume,
	)

	// kioku_session_status — readiness and per-topic confidence.
	s.mcpServer.AddTool(
		mcplib.NewTool("kioku_session_status",
			mcplib.WithDescription(`Check how complete a requirements session is.

WHEN TO USE: To decide whether enough has been gathered to offer
generation, or to pick which topic to ask about next.

WHAT YOU GET BACK: overall readiness (0-100), session status, every
topic's confidence, completion, and missing items, and next_topic (the
first checklist topic that is neither complete nor not-applicable;
absent when everything is done).`),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithString("session_id",
				mcplib.Description("Session to inspect (UUID)"),
				mcplib.Required(),
			),
		),
		s.handleSessionStatus,
	)
}

func (s *Server) handleSearch(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	query := request.GetString("query", "")
	if query == "" {
		return errorResult("query is required"), nil
	}

	sessionID, err := optionalUUID(request.GetString("session_id", ""))
	if err != nil {
		return errorResult("session_id must be a UUID"), nil
	}
	projectID, err := optionalUUID(request.GetString("project_id", ""))
	if err != nil {
		return errorResult("project_id must be a UUID"), nil
	}
	if sessionID == uuid.Nil && projectID == uuid.Nil {
		return errorResult("either session_id or project_id is required"), nil
	}

	hits, err := s.mem.Search(ctx, memory.SearchRequest{
		Query:     query,
		ProjectID: projectID,
		SessionID: sessionID,
		Topic:     request.GetString("topic", ""),
		Limit:     request.GetInt("limit", 10),
	})
	if err != nil {
		s.logger.Error("mcp: search", "error", err)
		return errorResult(fmt.Sprintf("search failed: %v", err)), nil
	}

	return jsonResult(map[string]any{
		"hits":  hits,
		"total": len(hits),
	}), nil
}

func (s *Server) handleResume(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	sessionID, err := uuid.Parse(request.GetString("session_id", ""))
	if err != nil {
		return errorResult("session_id must be a UUID"), nil
	}
	pref := resume.RecapPreference(request.GetString("recap", string(resume.RecapDetailed)))
	if !resume.ValidRecapPreference(pref) {
		return errorResult("recap must be detailed, quick, or none"), nil
	}

	resp, err := s.resume.Build(ctx, sessionID, pref)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return errorResult("session not found"), nil
		}
		s.logger.Error("mcp: resume", "error", err, "session_id", sessionID)
		return errorResult(fmt.Sprintf("resume failed: %v", err)), nil
	}
	return jsonResult(resp), nil
}

func (s *Server) handleSessionStatus(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	sessionID, err := uuid.Parse(request.GetString("session_id", ""))
	if err != nil {
		return errorResult("session_id must be a UUID"), nil
	}

	state, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return errorResult("session not found"), nil
		}
		s.logger.Error("mcp: session status", "error", err, "session_id", sessionID)
		return errorResult(fmt.Sprintf("status lookup failed: %v", err)), nil
	}

	payload := map[string]any{
		"session": state.Session,
		"topics":  state.Topics,
	}
	if next, ok := s.sessions.NextTopic(state.Topics); ok {
		payload["next_topic"] = next
	}
	return jsonResult(payload), nil
}

func (s *Server) handleSessionStateResource(ctx context.Context, request mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	id, ok := extractResourceID(request.Params.URI, "kioku://session/", "/state")
	if !ok {
		return nil, fmt.Errorf("invalid resource URI: %s", request.Params.URI)
	}
	sessionID, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("session id must be a UUID: %q", id)
	}

	state, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load session state: %w", err)
	}

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return nil, err
	}
	return []mcplib.ResourceContents{
		mcplib.TextResourceContents{
			URI:      request.Params.URI,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}

// extractResourceID pulls the {id} segment out of a templated URI.
func extractResourceID(uri, prefix, suffix string) (string, bool) {
	if len(uri) <= len(prefix)+len(suffix) {
		return "", false
	}
	if uri[:len(prefix)] != prefix || uri[len(uri)-len(suffix):] != suffix {
		return "", false
	}
	return uri[len(prefix) : len(uri)-len(suffix)], true
}

func optionalUUID(s string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, nil
	}
	return uuid.Parse(s)
}

func jsonResult(v any) *mcplib.CallToolResult {
	data, _ := json.MarshalIndent(v, "", "  ")
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: string(data)},
		},
	}
}

func errorResult(msg string) *mcplib.CallToolResult {
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
