package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/caseloop/caseloop/internal/api/rest/middleware"
	"github.com/caseloop/caseloop/internal/engine"
	"github.com/caseloop/caseloop/internal/models"
	"github.com/caseloop/caseloop/pkg/logger"
	"github.com/caseloop/caseloop/pkg/validator"
)

// ActionHandler handles action catalog and execution requests
type ActionHandler struct {
	logger   *logger.Logger
	executor *engine.Executor
}

// NewActionHandler creates a new action handler
func NewActionHandler(log *logger.Logger, executor *engine.Executor) *ActionHandler {
	return &ActionHandler{
		logger:   log,
		executor: executor,
	}
}

// ActionDescription is the catalog view of one action for the caller
type ActionDescription struct {
	ID              string                `json:"id"`
	Name            string                `json:"name"`
	Description     string                `json:"description"`
	Category        models.ActionCategory `json:"category"`
	EntityTypes     []string              `json:"entity_types"`
	RequiresPreview bool                  `json:"requires_preview"`
	Undoable        bool                  `json:"undoable"`
	UndoWindowSecs  int                   `json:"undo_window_seconds,omitempty"`
	InputSchema     map[string]any        `json:"input_schema"`
}

// PreviewRequest is the body for preview calls
type PreviewRequest struct {
	EntityType string         `json:"entity_type" validate:"required"`
	EntityID   uuid.UUID      `json:"entity_id" validate:"required"`
	Input      map[string]any `json:"input"`
}

// ExecuteRequest is the body for execute calls
type ExecuteRequest struct {
	EntityType  string         `json:"entity_type" validate:"required"`
	EntityID    uuid.UUID      `json:"entity_id" validate:"required"`
	Input       map[string]any `json:"input"`
	SkipPreview bool           `json:"skip_preview"`
}

// List returns the actions the caller may run, optionally narrowed to an
// entity type
func (h *ActionHandler) List(w http.ResponseWriter, r *http.Request) {
	actx := middleware.ActionContextFrom(r.Context())
	if actx == nil {
		respondError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}
	actx.EntityType = r.URL.Query().Get("entity_type")

	defs := h.executor.AvailableActions(actx)
	catalog := h.executor.Catalog()

	descriptions := make([]ActionDescription, 0, len(defs))
	for _, def := range defs {
		descriptions = append(descriptions, ActionDescription{
			ID:              def.ID,
			Name:            def.Name,
			Description:     def.Description,
			Category:        def.Category,
			EntityTypes:     def.EntityTypes,
			RequiresPreview: catalog.RequiresPreview(def.ID),
			Undoable:        catalog.Undoable(def.ID),
			UndoWindowSecs:  int(catalog.UndoWindow(def.ID) / time.Second),
			InputSchema:     def.InputSchema.Describe(),
		})
	}

	respondJSON(w, http.StatusOK, map[string]any{"actions": descriptions})
}

// Preview generates a dry-run description of what an action would do
func (h *ActionHandler) Preview(w http.ResponseWriter, r *http.Request) {
	actionID := chi.URLParam(r, "id")

	var req PreviewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := validator.Validate(&req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	actx, ok := h.actionContext(w, r, req.EntityType, req.EntityID)
	if !ok {
		return
	}

	preview, err := h.executor.Preview(r.Context(), actionID, req.Input, actx)
	if err != nil {
		respondEngineError(w, h.logger, err)
		return
	}

	respondJSON(w, http.StatusOK, preview)
}

// Execute runs an action. Execution-time failures come back as a structured
// result with success=false, not as an HTTP error.
func (h *ActionHandler) Execute(w http.ResponseWriter, r *http.Request) {
	actionID := chi.URLParam(r, "id")

	var req ExecuteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := validator.Validate(&req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	actx, ok := h.actionContext(w, r, req.EntityType, req.EntityID)
	if !ok {
		return
	}

	result, err := h.executor.Execute(r.Context(), actionID, req.Input, actx, req.SkipPreview)
	if err != nil {
		respondEngineError(w, h.logger, err)
		return
	}

	respondJSON(w, http.StatusOK, result)
}

// actionContext builds the caller's context with the request's entity focus.
// Writes the error response and returns false when auth context is missing.
func (h *ActionHandler) actionContext(w http.ResponseWriter, r *http.Request, entityType string, entityID uuid.UUID) (*models.ActionContext, bool) {
	actx := middleware.ActionContextFrom(r.Context())
	if actx == nil {
		respondError(w, http.StatusUnauthorized, "Unauthorized")
		return nil, false
	}
	if entityType == "" || entityID == uuid.Nil {
		respondError(w, http.StatusBadRequest, "entity_type and entity_id are required")
		return nil, false
	}
	actx.EntityType = entityType
	actx.EntityID = entityID
	return actx, true
}
