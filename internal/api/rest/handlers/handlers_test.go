package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/caseloop/caseloop/internal/actions"
	"github.com/caseloop/caseloop/internal/engine"
	"github.com/caseloop/caseloop/internal/models"
	"github.com/caseloop/caseloop/pkg/auth"
	"github.com/caseloop/caseloop/pkg/logger"
)

// memoryRecords is an in-memory engine.ActionRecordRepository for handler tests
type memoryRecords struct {
	mu      sync.Mutex
	records map[uuid.UUID]*models.ActionRecord
}

func newMemoryRecords() *memoryRecords {
	return &memoryRecords{records: make(map[uuid.UUID]*models.ActionRecord)}
}

func (m *memoryRecords) Create(ctx context.Context, record *models.ActionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	clone := *record
	m.records[record.ID] = &clone
	return nil
}

func (m *memoryRecords) GetByID(ctx context.Context, orgID, id uuid.UUID) (*models.ActionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	record, ok := m.records[id]
	if !ok || record.OrganizationID != orgID {
		return nil, nil
	}
	clone := *record
	return &clone, nil
}

func (m *memoryRecords) MarkCompleted(ctx context.Context, id uuid.UUID, result, previousState models.JSONB, undoable bool, undoExpiresAt *time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	record, ok := m.records[id]
	if !ok {
		return fmt.Errorf("record %s not found", id)
	}
	now := time.Now()
	record.Status = models.RecordStatusCompleted
	record.Result = result
	record.PreviousState = previousState
	record.Undoable = undoable
	record.UndoExpiresAt = undoExpiresAt
	record.CompletedAt = &now
	return nil
}

func (m *memoryRecords) MarkFailed(ctx context.Context, id uuid.UUID, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	record, ok := m.records[id]
	if !ok {
		return fmt.Errorf("record %s not found", id)
	}
	record.Status = models.RecordStatusFailed
	record.Error = &errMsg
	return nil
}

func (m *memoryRecords) MarkUndone(ctx context.Context, id, undoneBy uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	record, ok := m.records[id]
	if !ok || record.Status != models.RecordStatusCompleted {
		return false, nil
	}
	if record.UndoExpiresAt == nil || !time.Now().Before(*record.UndoExpiresAt) {
		return false, nil
	}
	now := time.Now()
	record.Status = models.RecordStatusUndone
	record.UndoneAt = &now
	record.UndoneBy = &undoneBy
	return true, nil
}

func (m *memoryRecords) List(ctx context.Context, orgID uuid.UUID, filter models.ActionRecordFilter) ([]*models.ActionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.ActionRecord
	for _, record := range m.records {
		if record.OrganizationID != orgID {
			continue
		}
		clone := *record
		out = append(out, &clone)
	}
	return out, nil
}

type noopEmitter struct{}

func (noopEmitter) ActionCompleted(ctx context.Context, record *models.ActionRecord) {}
func (noopEmitter) ActionUndone(ctx context.Context, record *models.ActionRecord)    {}

func testCatalog(t *testing.T) *actions.Catalog {
	t.Helper()
	log := logger.NewForTesting()
	catalog := actions.NewCatalog(log)

	noteSchema := actions.MustSchema(map[string]any{
		"type": "object",
		"properties": map[string]any{
			"text": map[string]any{"type": "string", "minLength": 1},
		},
		"required":             []any{"text"},
		"additionalProperties": false,
	})

	err := catalog.Register(&actions.Definition{
		ID:                  "case.add-note",
		Name:                "Add Note",
		Description:         "Adds a note to the case",
		Category:            models.CategoryQuick,
		EntityTypes:         []string{"case"},
		RequiredPermissions: []string{"note.create"},
		InputSchema:         noteSchema,
		Execute: func(ctx context.Context, actx *models.ActionContext, input map[string]any) (*models.ActionResult, error) {
			return &models.ActionResult{
				Summary:       "note added",
				Output:        models.JSONB{"note_id": uuid.New().String()},
				PreviousState: models.JSONB{"notes": []any{}},
			}, nil
		},
		Undo: func(ctx context.Context, actx *models.ActionContext, record *models.ActionRecord) error {
			return nil
		},
	})
	if err != nil {
		t.Fatalf("failed to register add-note action: %v", err)
	}

	err = catalog.Register(&actions.Definition{
		ID:                  "case.close",
		Name:                "Close Case",
		Description:         "Closes the case",
		Category:            models.CategoryCritical,
		EntityTypes:         []string{"case"},
		RequiredPermissions: []string{"case.close"},
		Preview: func(ctx context.Context, actx *models.ActionContext, input map[string]any) (*models.ActionPreview, error) {
			return &models.ActionPreview{ActionID: "case.close", Summary: "would close the case"}, nil
		},
		Execute: func(ctx context.Context, actx *models.ActionContext, input map[string]any) (*models.ActionResult, error) {
			return &models.ActionResult{Summary: "case closed"}, nil
		},
	})
	if err != nil {
		t.Fatalf("failed to register close action: %v", err)
	}

	return catalog
}

func testExecutor(t *testing.T) (*engine.Executor, *memoryRecords) {
	t.Helper()
	records := newMemoryRecords()
	executor := engine.NewExecutor(testCatalog(t), records, noopEmitter{}, nil, logger.NewForTesting())
	return executor, records
}

func testClaims() *auth.JWTClaims {
	return &auth.JWTClaims{
		UserID:         uuid.New(),
		OrganizationID: uuid.New(),
		Username:       "analyst",
		Email:          "analyst@example.com",
		Role:           "investigator",
		Permissions:    []string{"note.create", "case.close"},
	}
}

// authed injects validated claims the way the auth middleware does
func authed(r *http.Request, claims *auth.JWTClaims) *http.Request {
	ctx := context.WithValue(r.Context(), "claims", claims)
	ctx = context.WithValue(ctx, "user_id", claims.UserID)
	ctx = context.WithValue(ctx, "organization_id", claims.OrganizationID)
	return r.WithContext(ctx)
}

func testRouter(t *testing.T) (chi.Router, *memoryRecords) {
	t.Helper()
	executor, records := testExecutor(t)
	log := logger.NewForTesting()
	actionHandler := NewActionHandler(log, executor)
	recordHandler := NewRecordHandler(log, executor)

	r := chi.NewRouter()
	r.Get("/actions", actionHandler.List)
	r.Post("/actions/{id}/preview", actionHandler.Preview)
	r.Post("/actions/{id}/execute", actionHandler.Execute)
	r.Get("/action-records", recordHandler.History)
	r.Get("/action-records/{id}/undo-state", recordHandler.UndoState)
	r.Post("/action-records/{id}/undo", recordHandler.Undo)
	return r, records
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, into any) {
	t.Helper()
	if err := json.NewDecoder(rec.Body).Decode(into); err != nil {
		t.Fatalf("failed to decode response body: %v", err)
	}
}

func TestEngineErrorStatusMapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{"action not found", fmt.Errorf("%w: bogus", engine.ErrActionNotFound), http.StatusNotFound},
		{"record not found", engine.ErrRecordNotFound, http.StatusNotFound},
		{"validation sentinel", engine.ErrValidation, http.StatusBadRequest},
		{"forbidden", &engine.ForbiddenError{Reason: "entity type mismatch"}, http.StatusForbidden},
		{"preview required", fmt.Errorf("%w: action x", engine.ErrPreviewRequired), http.StatusForbidden},
		{"undo window expired", engine.ErrUndoWindowExpired, http.StatusConflict},
		{"not undoable", engine.ErrNotUndoable, http.StatusConflict},
		{"already undone", engine.ErrAlreadyUndone, http.StatusConflict},
		{"rate limited sentinel", engine.ErrRateLimited, http.StatusTooManyRequests},
		{"unexpected", errors.New("boom"), http.StatusInternalServerError},
	}

	log := logger.NewForTesting()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			respondEngineError(rec, log, tt.err)
			if rec.Code != tt.status {
				t.Errorf("expected status %d, got %d", tt.status, rec.Code)
			}
		})
	}
}

func TestEngineErrorValidationFields(t *testing.T) {
	rec := httptest.NewRecorder()
	respondEngineError(rec, logger.NewForTesting(), &engine.ValidationError{
		Fields: []actions.FieldError{{Field: "text", Message: "is required"}},
	})

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rec.Code)
	}

	var resp struct {
		Error  string `json:"error"`
		Fields []struct {
			Field   string `json:"field"`
			Message string `json:"message"`
		} `json:"fields"`
	}
	decodeBody(t, rec, &resp)

	if len(resp.Fields) != 1 || resp.Fields[0].Field != "text" {
		t.Errorf("expected field-level errors in response, got %+v", resp.Fields)
	}
}

func TestEngineErrorRateLimitHeader(t *testing.T) {
	rec := httptest.NewRecorder()
	respondEngineError(rec, logger.NewForTesting(), &engine.RateLimitError{RetryAfter: 42 * time.Second})

	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected status 429, got %d", rec.Code)
	}
	if got := rec.Header().Get("Retry-After"); got != "42" {
		t.Errorf("expected Retry-After header 42, got %q", got)
	}
}

func TestHistoryFilterDefaults(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/action-records", nil)

	filter, err := historyFilter(r)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if filter.Limit != 50 {
		t.Errorf("expected default limit 50, got %d", filter.Limit)
	}
	if filter.Offset != 0 {
		t.Errorf("expected default offset 0, got %d", filter.Offset)
	}
}

func TestHistoryFilterParsing(t *testing.T) {
	entityID := uuid.New()
	actorID := uuid.New()
	url := fmt.Sprintf("/action-records?entity_type=case&entity_id=%s&action_id=case.add-note&status=COMPLETED&actor_id=%s&limit=25&offset=10",
		entityID, actorID)
	r := httptest.NewRequest(http.MethodGet, url, nil)

	filter, err := historyFilter(r)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if filter.EntityType != "case" || filter.EntityID != entityID {
		t.Errorf("entity filter not parsed: %+v", filter)
	}
	if filter.ActionID != "case.add-note" || filter.Status != models.RecordStatusCompleted {
		t.Errorf("action filter not parsed: %+v", filter)
	}
	if filter.ActorID != actorID {
		t.Errorf("expected actor id %s, got %s", actorID, filter.ActorID)
	}
	if filter.Limit != 25 || filter.Offset != 10 {
		t.Errorf("paging not parsed: limit=%d offset=%d", filter.Limit, filter.Offset)
	}
}

func TestHistoryFilterCapsLimit(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/action-records?limit=5000", nil)

	filter, err := historyFilter(r)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if filter.Limit != 50 {
		t.Errorf("expected out-of-range limit to fall back to 50, got %d", filter.Limit)
	}
}

func TestHistoryFilterRejectsBadEntityID(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/action-records?entity_id=not-a-uuid", nil)

	if _, err := historyFilter(r); err == nil {
		t.Error("expected error for malformed entity_id")
	}
}

func TestListActionsRequiresAuth(t *testing.T) {
	router, _ := testRouter(t)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/actions", nil))

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected status 401, got %d", rec.Code)
	}
}

func TestListActionsForEntityType(t *testing.T) {
	router, _ := testRouter(t)
	claims := testClaims()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, authed(httptest.NewRequest(http.MethodGet, "/actions?entity_type=case", nil), claims))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		Actions []ActionDescription `json:"actions"`
	}
	decodeBody(t, rec, &resp)

	if len(resp.Actions) != 2 {
		t.Fatalf("expected 2 actions, got %d", len(resp.Actions))
	}
	byID := make(map[string]ActionDescription)
	for _, a := range resp.Actions {
		byID[a.ID] = a
	}
	if a := byID["case.add-note"]; a.RequiresPreview || !a.Undoable {
		t.Errorf("add-note should be previewless and undoable: %+v", a)
	}
	if a := byID["case.close"]; !a.RequiresPreview {
		t.Errorf("close should require preview: %+v", a)
	}
}

func TestListActionsHidesUnpermitted(t *testing.T) {
	router, _ := testRouter(t)
	claims := testClaims()
	claims.Permissions = []string{"note.create"}

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, authed(httptest.NewRequest(http.MethodGet, "/actions?entity_type=case", nil), claims))

	var resp struct {
		Actions []ActionDescription `json:"actions"`
	}
	decodeBody(t, rec, &resp)

	if len(resp.Actions) != 1 || resp.Actions[0].ID != "case.add-note" {
		t.Errorf("expected only add-note to be visible, got %+v", resp.Actions)
	}
}

func executeRequest(t *testing.T, actionID string, body map[string]any) *http.Request {
	t.Helper()
	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("failed to marshal request body: %v", err)
	}
	return httptest.NewRequest(http.MethodPost, "/actions/"+actionID+"/execute", bytes.NewReader(raw))
}

func TestExecuteQuickAction(t *testing.T) {
	router, records := testRouter(t)
	claims := testClaims()
	entityID := uuid.New()

	req := executeRequest(t, "case.add-note", map[string]any{
		"entity_type": "case",
		"entity_id":   entityID,
		"input":       map[string]any{"text": "called the customer"},
	})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, authed(req, claims))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var result models.ExecutionResult
	decodeBody(t, rec, &result)

	if !result.Success {
		t.Fatalf("expected success, got %+v", result)
	}
	if !result.UndoAvailable || result.UndoExpiresAt == nil {
		t.Errorf("expected undo to be available: %+v", result)
	}

	stored, err := records.GetByID(context.Background(), claims.OrganizationID, result.RecordID)
	if err != nil || stored == nil {
		t.Fatalf("expected stored record, got %v, %v", stored, err)
	}
	if stored.Status != models.RecordStatusCompleted {
		t.Errorf("expected COMPLETED record, got %s", stored.Status)
	}
	if stored.EntityID != entityID {
		t.Errorf("expected entity id %s, got %s", entityID, stored.EntityID)
	}
}

func TestExecuteRejectsInvalidInput(t *testing.T) {
	router, _ := testRouter(t)

	req := executeRequest(t, "case.add-note", map[string]any{
		"entity_type": "case",
		"entity_id":   uuid.New(),
		"input":       map[string]any{},
	})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, authed(req, testClaims()))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp ErrorResponse
	decodeBody(t, rec, &resp)
	if resp.Fields == nil {
		t.Errorf("expected field-level errors, got %+v", resp)
	}
}

func TestExecuteRequiresEntityFocus(t *testing.T) {
	router, _ := testRouter(t)

	req := executeRequest(t, "case.add-note", map[string]any{
		"input": map[string]any{"text": "orphan note"},
	})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, authed(req, testClaims()))

	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected status 400, got %d", rec.Code)
	}
}

func TestExecutePreviewGate(t *testing.T) {
	router, _ := testRouter(t)
	claims := testClaims()
	entityID := uuid.New()

	req := executeRequest(t, "case.close", map[string]any{
		"entity_type": "case",
		"entity_id":   entityID,
	})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, authed(req, claims))

	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected status 403 without preview confirmation, got %d", rec.Code)
	}

	req = executeRequest(t, "case.close", map[string]any{
		"entity_type":  "case",
		"entity_id":    entityID,
		"skip_preview": true,
	})
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, authed(req, claims))

	if rec.Code != http.StatusOK {
		t.Errorf("expected status 200 with preview confirmed, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestExecuteUnknownAction(t *testing.T) {
	router, _ := testRouter(t)

	req := executeRequest(t, "case.archive", map[string]any{
		"entity_type": "case",
		"entity_id":   uuid.New(),
	})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, authed(req, testClaims()))

	if rec.Code != http.StatusNotFound {
		t.Errorf("expected status 404, got %d", rec.Code)
	}
}

func TestPreviewEndpoint(t *testing.T) {
	router, _ := testRouter(t)

	body, _ := json.Marshal(map[string]any{
		"entity_type": "case",
		"entity_id":   uuid.New(),
	})
	req := httptest.NewRequest(http.MethodPost, "/actions/case.close/preview", bytes.NewReader(body))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, authed(req, testClaims()))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var preview models.ActionPreview
	decodeBody(t, rec, &preview)
	if preview.Summary != "would close the case" {
		t.Errorf("unexpected preview: %+v", preview)
	}
}

func TestUndoEndpoint(t *testing.T) {
	router, records := testRouter(t)
	claims := testClaims()

	req := executeRequest(t, "case.add-note", map[string]any{
		"entity_type": "case",
		"entity_id":   uuid.New(),
		"input":       map[string]any{"text": "wrong case"},
	})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, authed(req, claims))

	var result models.ExecutionResult
	decodeBody(t, rec, &result)
	if !result.Success {
		t.Fatalf("execute failed: %+v", result)
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, authed(httptest.NewRequest(http.MethodPost, "/action-records/"+result.RecordID.String()+"/undo", nil), claims))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rec.Code, rec.Body.String())
	}

	stored, _ := records.GetByID(context.Background(), claims.OrganizationID, result.RecordID)
	if stored.Status != models.RecordStatusUndone {
		t.Errorf("expected UNDONE record, got %s", stored.Status)
	}

	// Second undo of the same record conflicts
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, authed(httptest.NewRequest(http.MethodPost, "/action-records/"+result.RecordID.String()+"/undo", nil), claims))

	if rec.Code != http.StatusConflict {
		t.Errorf("expected status 409 on repeat undo, got %d", rec.Code)
	}
}

func TestUndoUnknownRecord(t *testing.T) {
	router, _ := testRouter(t)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, authed(httptest.NewRequest(http.MethodPost, "/action-records/"+uuid.New().String()+"/undo", nil), testClaims()))

	if rec.Code != http.StatusNotFound {
		t.Errorf("expected status 404, got %d", rec.Code)
	}
}

func TestUndoStateEndpoint(t *testing.T) {
	router, _ := testRouter(t)
	claims := testClaims()

	req := executeRequest(t, "case.add-note", map[string]any{
		"entity_type": "case",
		"entity_id":   uuid.New(),
		"input":       map[string]any{"text": "note"},
	})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, authed(req, claims))

	var result models.ExecutionResult
	decodeBody(t, rec, &result)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, authed(httptest.NewRequest(http.MethodGet, "/action-records/"+result.RecordID.String()+"/undo-state", nil), claims))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var state models.UndoState
	decodeBody(t, rec, &state)
	if !state.Undoable || state.ExpiresAt == nil {
		t.Errorf("expected open undo window, got %+v", state)
	}
}

func TestHistoryEndpoint(t *testing.T) {
	router, _ := testRouter(t)
	claims := testClaims()

	req := executeRequest(t, "case.add-note", map[string]any{
		"entity_type": "case",
		"entity_id":   uuid.New(),
		"input":       map[string]any{"text": "note"},
	})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, authed(req, claims))

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, authed(httptest.NewRequest(http.MethodGet, "/action-records", nil), claims))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		Records []models.ActionRecord `json:"records"`
		Limit   int                   `json:"limit"`
	}
	decodeBody(t, rec, &resp)

	if len(resp.Records) != 1 {
		t.Errorf("expected 1 record, got %d", len(resp.Records))
	}
	if resp.Limit != 50 {
		t.Errorf("expected default limit 50, got %d", resp.Limit)
	}
}
