package server

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/kioku-ai/kioku/internal/model"
	"github.com/kioku-ai/kioku/internal/resume"
	"github.com/kioku-ai/kioku/internal/service/memory"
	"github.com/kioku-ai/kioku/internal/service/sessions"
	"github.com/kioku-ai/kioku/internal/storage"
)

// Handlers holds dependencies for all HTTP handlers.
type Handlers struct {
	sessions *sessions.Manager
	mem      *memory.Store
	resume   *resume.Builder
	db       *storage.DB
	logger   *slog.Logger
	version  string
}

// HandlersDeps are the dependencies for NewHandlers.
type HandlersDeps struct {
	Sessions *sessions.Manager
	Memory   *memory.Store
	Resume   *resume.Builder
	DB       *storage.DB
	Logger   *slog.Logger
	Version  string
}

// NewHandlers creates the handler set.
func NewHandlers(d HandlersDeps) *Handlers {
	return &Handlers{
		sessions: d.Sessions,
		mem:      d.Memory,
		resume:   d.Resume,
		db:       d.DB,
		logger:   d.Logger,
		version:  d.Version,
	}
}

// writeStorageError maps storage sentinels onto the error envelope.
func writeStorageError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "resource not found")
	case errors.Is(err, storage.ErrCycleDetected):
		writeError(w, r, http.StatusConflict, model.ErrCodeCycleDetected, "supersede chain would form a cycle")
	case errors.Is(err, storage.ErrSessionClosed):
		writeError(w, r, http.StatusConflict, model.ErrCodeConflict, "session is complete or abandoned and accepts no writes")
	case errors.Is(err, storage.ErrInvalidTransition):
		writeError(w, r, http.StatusConflict, model.ErrCodeConflict, err.Error())
	default:
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "internal server error")
	}
}

func pathUUID(r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue(name))
	return id, err == nil
}

// HandleCreateSession handles POST /v1/sessions.
func (h *Handlers) HandleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req model.CreateSessionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid JSON body")
		return
	}
	if req.ProjectID == uuid.Nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "project_id is required")
		return
	}
	sess, err := h.sessions.Create(r.Context(), req.ProjectID)
	if err != nil {
		h.logger.Error("create session", "error", err)
		writeStorageError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, sess)
}

// HandleGetSession handles GET /v1/sessions/{session_id}.
func (h *Handlers) HandleGetSession(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(r, "session_id")
	if !ok {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "session_id must be a UUID")
		return
	}
	state, err := h.sessions.Get(r.Context(), id)
	if err != nil {
		writeStorageError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, state)
}

// HandleUpdateSessionStatus handles PATCH /v1/sessions/{session_id}/status.
func (h *Handlers) HandleUpdateSessionStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(r, "session_id")
	if !ok {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "session_id must be a UUID")
		return
	}
	var req model.UpdateSessionStatusRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid JSON body")
		return
	}
	if !model.ValidSessionStatus(req.Status) {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "status must be one of active, paused, complete, abandoned")
		return
	}
	sess, err := h.sessions.UpdateStatus(r.Context(), id, req.Status)
	if err != nil {
		writeStorageError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, sess)
}

// HandleAppendTurn handles POST /v1/sessions/{session_id}/turns.
func (h *Handlers) HandleAppendTurn(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(r, "session_id")
	if !ok {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "session_id must be a UUID")
		return
	}
	var req model.AppendTurnRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid JSON body")
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}
	turn, topic, err := h.sessions.AppendTurn(r.Context(), id, req)
	if err != nil {
		writeStorageError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, map[string]any{
		"turn":  turn,
		"topic": topic,
	})
}

// HandleListConversations handles GET /v1/sessions/{session_id}/conversations.
// With ?topic= it returns that topic's turns; otherwise the most recent
// turns, bounded by ?limit=.
func (h *Handlers) HandleListConversations(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(r, "session_id")
	if !ok {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "session_id must be a UUID")
		return
	}
	if _, err := h.db.GetSession(r.Context(), id); err != nil {
		writeStorageError(w, r, err)
		return
	}

	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, convErr := strconv.Atoi(v)
		if convErr != nil || n <= 0 || n > 500 {
			writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "limit must be in [1, 500]")
			return
		}
		limit = n
	}
	topic := r.URL.Query().Get("topic")

	// query= switches to semantic ranking over this session's turns.
	if query := r.URL.Query().Get("query"); query != "" {
		hits, err := h.mem.Search(r.Context(), memory.SearchRequest{
			Query:     query,
			SessionID: id,
			Topic:     topic,
			Kinds:     []storage.EmbedKind{storage.EmbedTurn},
			Limit:     limit,
		})
		if err != nil {
			writeStorageError(w, r, err)
			return
		}
		writeJSON(w, r, http.StatusOK, hits)
		return
	}

	var turns []model.ConversationTurn
	var err error
	if topic != "" {
		turns, err = h.db.TurnsByTopic(r.Context(), id, topic)
	} else {
		turns, err = h.mem.Recent(r.Context(), id, limit)
	}
	if err != nil {
		writeStorageError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, turns)
}

// HandleCreateDecision handles POST /v1/sessions/{session_id}/decisions.
func (h *Handlers) HandleCreateDecision(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(r, "session_id")
	if !ok {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "session_id must be a UUID")
		return
	}
	var req model.CreateDecisionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid JSON body")
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}
	d, err := h.sessions.CreateDecision(r.Context(), id, req)
	if err != nil {
		writeStorageError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, d)
}

// HandleListDecisions handles GET /v1/sessions/{session_id}/decisions.
func (h *Handlers) HandleListDecisions(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(r, "session_id")
	if !ok {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "session_id must be a UUID")
		return
	}
	decisions, err := h.sessions.ListDecisions(r.Context(), id)
	if err != nil {
		writeStorageError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, decisions)
}

// HandleGetDecision handles GET /v1/decisions/{decision_id}.
func (h *Handlers) HandleGetDecision(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(r, "decision_id")
	if !ok {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "decision_id must be a UUID")
		return
	}
	d, err := h.db.GetDecision(r.Context(), id)
	if err != nil {
		writeStorageError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, d)
}

// HandleUpdateDecisionStatus handles PATCH /v1/decisions/{decision_id}/status.
func (h *Handlers) HandleUpdateDecisionStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(r, "decision_id")
	if !ok {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "decision_id must be a UUID")
		return
	}
	var req model.UpdateDecisionStatusRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid JSON body")
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}
	d, err := h.sessions.UpdateDecisionStatus(r.Context(), id, req)
	if err != nil {
		writeStorageError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, d)
}

// HandleCreateArtifact handles POST /v1/sessions/{session_id}/artifacts.
func (h *Handlers) HandleCreateArtifact(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(r, "session_id")
	if !ok {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "session_id must be a UUID")
		return
	}
	var req model.CreateArtifactRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid JSON body")
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}
	a, err := h.mem.AddArtifact(r.Context(), id, req.Kind, req.Name, req.Topic, req.Content)
	if err != nil {
		writeStorageError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, a)
}

// HandleListArtifacts handles GET /v1/sessions/{session_id}/artifacts.
func (h *Handlers) HandleListArtifacts(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(r, "session_id")
	if !ok {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "session_id must be a UUID")
		return
	}
	artifacts, err := h.db.ListArtifacts(r.Context(), id)
	if err != nil {
		writeStorageError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, artifacts)
}

// HandleSearch handles POST /v1/search.
func (h *Handlers) HandleSearch(w http.ResponseWriter, r *http.Request) {
	var req model.SearchRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid JSON body")
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}
	kinds := make([]storage.EmbedKind, 0, len(req.Kinds))
	for _, k := range req.Kinds {
		kinds = append(kinds, storage.EmbedKind(k))
	}
	hits, err := h.mem.Search(r.Context(), memory.SearchRequest{
		Query:     req.Query,
		ProjectID: req.ProjectID,
		SessionID: req.SessionID,
		Topic:     req.Topic,
		Kinds:     kinds,
		Limit:     req.Limit,
		Threshold: req.Threshold,
	})
	if err != nil {
		h.logger.Error("search", "error", err)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "search failed")
		return
	}
	writeJSON(w, r, http.StatusOK, hits)
}

// HandleResume handles GET /v1/sessions/{session_id}/resume.
func (h *Handlers) HandleResume(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(r, "session_id")
	if !ok {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "session_id must be a UUID")
		return
	}
	pref := resume.RecapPreference(r.URL.Query().Get("recap"))
	if pref == "" {
		pref = resume.RecapDetailed
	}
	if !resume.ValidRecapPreference(pref) {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "recap must be detailed, quick, or none")
		return
	}
	resp, err := h.resume.Build(r.Context(), id, pref)
	if err != nil {
		writeStorageError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, resp)
}

// HandleListContradictions handles GET /v1/sessions/{session_id}/contradictions.
func (h *Handlers) HandleListContradictions(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(r, "session_id")
	if !ok {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "session_id must be a UUID")
		return
	}
	topic := r.URL.Query().Get("topic")
	if topic == "" {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "topic query parameter is required")
		return
	}
	found, err := h.sessions.Contradictions(r.Context(), id, topic)
	if err != nil {
		writeStorageError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, found)
}

// HandleResolveContradiction handles
// POST /v1/sessions/{session_id}/contradictions/{contradiction_id}/resolve.
func (h *Handlers) HandleResolveContradiction(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := pathUUID(r, "session_id")
	if !ok {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "session_id must be a UUID")
		return
	}
	contradictionID, ok := pathUUID(r, "contradiction_id")
	if !ok {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "contradiction_id must be a UUID")
		return
	}
	topic := r.URL.Query().Get("topic")
	if topic == "" {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "topic query parameter is required")
		return
	}
	topicState, err := h.sessions.ResolveContradiction(r.Context(), sessionID, contradictionID, topic)
	if err != nil {
		writeStorageError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, topicState)
}

// HandleHealth handles GET /health.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	httpStatus := http.StatusOK
	if err := h.db.Ping(r.Context()); err != nil {
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	}
	pending, _ := h.db.PendingEmbeds(r.Context())
	writeJSON(w, r, httpStatus, map[string]any{
		"status":         status,
		"version":        h.version,
		"pending_embeds": pending,
	})
}
