package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/google/uuid"

	"github.com/caseloop/caseloop/internal/agent"
	"github.com/caseloop/caseloop/internal/api/rest/middleware"
	"github.com/caseloop/caseloop/internal/models"
	"github.com/caseloop/caseloop/pkg/logger"
	"github.com/caseloop/caseloop/pkg/validator"
)

// AgentProvider resolves the cached agent instance for a caller context
type AgentProvider interface {
	AgentFor(actx *models.ActionContext) (*agent.Agent, error)
}

// ChatHandler handles streaming agent conversations
type ChatHandler struct {
	logger *logger.Logger
	agents AgentProvider
}

// NewChatHandler creates a new chat handler
func NewChatHandler(log *logger.Logger, agents AgentProvider) *ChatHandler {
	return &ChatHandler{
		logger: log,
		agents: agents,
	}
}

// ChatRequest is the body for agent chat turns
type ChatRequest struct {
	ConversationID uuid.UUID `json:"conversation_id,omitempty"`
	Message        string    `json:"message" validate:"required"`
	EntityType     string    `json:"entity_type" validate:"required"`
	EntityID       uuid.UUID `json:"entity_id" validate:"required"`
}

// Chat runs one agent turn and streams its events over SSE
func (h *ChatHandler) Chat(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := validator.Validate(&req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	actx := middleware.ActionContextFrom(r.Context())
	if actx == nil {
		respondError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}
	actx.EntityType = req.EntityType
	actx.EntityID = req.EntityID

	ag, err := h.agents.AgentFor(actx)
	if err != nil {
		h.logger.Error("failed to build agent", logger.Err(err))
		respondError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	events, err := ag.Chat(r.Context(), actx, agent.TurnRequest{
		ConversationID: req.ConversationID,
		Message:        req.Message,
	})
	if err != nil {
		respondEngineError(w, h.logger, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	// Once streaming starts the response status is committed; write failures
	// mean the client went away, so keep draining until the turn finishes.
	clientGone := false
	for event := range events {
		if clientGone {
			continue
		}

		payload, err := json.Marshal(event)
		if err != nil {
			h.logger.Error("failed to encode stream event", logger.Err(err))
			continue
		}
		if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Type, payload); err != nil {
			clientGone = true
			continue
		}
		flusher.Flush()
	}
}
