package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/caseloop/caseloop/internal/engine"
	"github.com/caseloop/caseloop/pkg/logger"
)

// Handlers aggregates all HTTP handlers
type Handlers struct {
	Health  *HealthHandler
	Actions *ActionHandler
	Records *RecordHandler
	Chat    *ChatHandler
}

// HealthCheckers holds all health check dependencies
type HealthCheckers struct {
	DB    HealthChecker
	Redis HealthChecker
}

// NewHandlers creates a new handlers instance
func NewHandlers(
	log *logger.Logger,
	executor *engine.Executor,
	agents AgentProvider,
	healthCheckers *HealthCheckers,
	version string,
) *Handlers {
	return &Handlers{
		Health:  NewHealthHandler(log, healthCheckers.DB, healthCheckers.Redis, version),
		Actions: NewActionHandler(log, executor),
		Records: NewRecordHandler(log, executor),
		Chat:    NewChatHandler(log, agents),
	}
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error  string `json:"error"`
	Fields any    `json:"fields,omitempty"`
}

// respondJSON writes a JSON response
func respondJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

// respondError writes an error response
func respondError(w http.ResponseWriter, statusCode int, message string) {
	respondJSON(w, statusCode, ErrorResponse{Error: message})
}

// respondEngineError maps executor sentinel errors onto HTTP statuses
func respondEngineError(w http.ResponseWriter, log *logger.Logger, err error) {
	var validationErr *engine.ValidationError
	var rateLimitErr *engine.RateLimitError

	switch {
	case errors.Is(err, engine.ErrActionNotFound),
		errors.Is(err, engine.ErrRecordNotFound):
		respondError(w, http.StatusNotFound, err.Error())
	case errors.As(err, &validationErr):
		respondJSON(w, http.StatusBadRequest, ErrorResponse{
			Error:  "input validation failed",
			Fields: validationErr.Fields,
		})
	case errors.Is(err, engine.ErrValidation):
		respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, engine.ErrForbidden),
		errors.Is(err, engine.ErrPreviewRequired):
		respondError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, engine.ErrUndoWindowExpired),
		errors.Is(err, engine.ErrNotUndoable),
		errors.Is(err, engine.ErrAlreadyUndone):
		respondError(w, http.StatusConflict, err.Error())
	case errors.As(err, &rateLimitErr):
		w.Header().Set("Retry-After", fmt.Sprintf("%d", int(rateLimitErr.RetryAfter.Seconds())))
		respondError(w, http.StatusTooManyRequests, err.Error())
	case errors.Is(err, engine.ErrRateLimited):
		respondError(w, http.StatusTooManyRequests, err.Error())
	default:
		log.Error("request failed", logger.Err(err))
		respondError(w, http.StatusInternalServerError, "Internal server error")
	}
}
