package handlers

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/caseloop/caseloop/internal/api/rest/middleware"
	"github.com/caseloop/caseloop/internal/engine"
	"github.com/caseloop/caseloop/internal/models"
	"github.com/caseloop/caseloop/pkg/logger"
)

// RecordHandler handles action record history and undo requests
type RecordHandler struct {
	logger   *logger.Logger
	executor *engine.Executor
}

// NewRecordHandler creates a new record handler
func NewRecordHandler(log *logger.Logger, executor *engine.Executor) *RecordHandler {
	return &RecordHandler{
		logger:   log,
		executor: executor,
	}
}

// Undo reverses a completed action record
func (h *RecordHandler) Undo(w http.ResponseWriter, r *http.Request) {
	recordID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid record ID")
		return
	}

	actx := middleware.ActionContextFrom(r.Context())
	if actx == nil {
		respondError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	if err := h.executor.Undo(r.Context(), recordID, actx); err != nil {
		respondEngineError(w, h.logger, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{"record_id": recordID, "status": models.RecordStatusUndone})
}

// UndoState reports whether a record can currently be undone
func (h *RecordHandler) UndoState(w http.ResponseWriter, r *http.Request) {
	recordID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid record ID")
		return
	}

	actx := middleware.ActionContextFrom(r.Context())
	if actx == nil {
		respondError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	state, err := h.executor.GetUndoState(r.Context(), recordID, actx)
	if err != nil {
		respondEngineError(w, h.logger, err)
		return
	}

	respondJSON(w, http.StatusOK, state)
}

// History lists action records for the caller's organization
func (h *RecordHandler) History(w http.ResponseWriter, r *http.Request) {
	actx := middleware.ActionContextFrom(r.Context())
	if actx == nil {
		respondError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	filter, err := historyFilter(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	records, err := h.executor.History(r.Context(), actx, filter)
	if err != nil {
		respondEngineError(w, h.logger, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"records": records,
		"limit":   filter.Limit,
		"offset":  filter.Offset,
	})
}

// historyFilter parses history query parameters with sane paging defaults
func historyFilter(r *http.Request) (models.ActionRecordFilter, error) {
	q := r.URL.Query()

	filter := models.ActionRecordFilter{
		EntityType: q.Get("entity_type"),
		ActionID:   q.Get("action_id"),
		Status:     models.RecordStatus(q.Get("status")),
		Limit:      50,
	}

	if raw := q.Get("entity_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return filter, err
		}
		filter.EntityID = id
	}
	if raw := q.Get("actor_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return filter, err
		}
		filter.ActorID = id
	}
	if raw := q.Get("limit"); raw != "" {
		if limit, err := strconv.Atoi(raw); err == nil && limit > 0 && limit <= 200 {
			filter.Limit = limit
		}
	}
	if raw := q.Get("offset"); raw != "" {
		if offset, err := strconv.Atoi(raw); err == nil && offset >= 0 {
			filter.Offset = offset
		}
	}

	return filter, nil
}
