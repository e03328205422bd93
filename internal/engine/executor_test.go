package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/caseloop/caseloop/internal/actions"
	"github.com/caseloop/caseloop/internal/models"
	"github.com/caseloop/caseloop/pkg/logger"
)

// memoryRecordRepository is an in-memory ActionRecordRepository with the same
// conditional-update semantics as the Postgres implementation
type memoryRecordRepository struct {
	mu      sync.Mutex
	records map[uuid.UUID]*models.ActionRecord
	now     func() time.Time
}

func newMemoryRecordRepository(now func() time.Time) *memoryRecordRepository {
	return &memoryRecordRepository{
		records: make(map[uuid.UUID]*models.ActionRecord),
		now:     now,
	}
}

func (r *memoryRecordRepository) Create(ctx context.Context, record *models.ActionRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	clone := *record
	r.records[record.ID] = &clone
	return nil
}

func (r *memoryRecordRepository) GetByID(ctx context.Context, orgID, id uuid.UUID) (*models.ActionRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	record, ok := r.records[id]
	if !ok || record.OrganizationID != orgID {
		return nil, nil
	}
	clone := *record
	return &clone, nil
}

func (r *memoryRecordRepository) MarkCompleted(ctx context.Context, id uuid.UUID, result, previousState models.JSONB, undoable bool, undoExpiresAt *time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	record := r.records[id]
	record.Status = models.RecordStatusCompleted
	record.Result = result
	record.PreviousState = previousState
	record.Undoable = undoable
	record.UndoExpiresAt = undoExpiresAt
	now := r.now()
	record.CompletedAt = &now
	return nil
}

func (r *memoryRecordRepository) MarkFailed(ctx context.Context, id uuid.UUID, errMsg string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	record := r.records[id]
	record.Status = models.RecordStatusFailed
	record.Error = &errMsg
	return nil
}

func (r *memoryRecordRepository) MarkUndone(ctx context.Context, id, undoneBy uuid.UUID) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	record, ok := r.records[id]
	if !ok {
		return false, nil
	}
	now := r.now()
	if record.Status != models.RecordStatusCompleted {
		return false, nil
	}
	if record.UndoExpiresAt == nil || !now.Before(*record.UndoExpiresAt) {
		return false, nil
	}
	record.Status = models.RecordStatusUndone
	record.UndoneAt = &now
	record.UndoneBy = &undoneBy
	return true, nil
}

func (r *memoryRecordRepository) List(ctx context.Context, orgID uuid.UUID, filter models.ActionRecordFilter) ([]*models.ActionRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.ActionRecord
	for _, record := range r.records {
		if record.OrganizationID != orgID {
			continue
		}
		if filter.ActionID != "" && record.ActionID != filter.ActionID {
			continue
		}
		if filter.Status != "" && record.Status != filter.Status {
			continue
		}
		clone := *record
		out = append(out, &clone)
	}
	return out, nil
}

func (r *memoryRecordRepository) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.records)
}

func (r *memoryRecordRepository) get(id uuid.UUID) *models.ActionRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.records[id]
}

type recordingEmitter struct {
	mu        sync.Mutex
	completed []uuid.UUID
	undone    []uuid.UUID
}

func (e *recordingEmitter) ActionCompleted(ctx context.Context, record *models.ActionRecord) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.completed = append(e.completed, record.ID)
}

func (e *recordingEmitter) ActionUndone(ctx context.Context, record *models.ActionRecord) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.undone = append(e.undone, record.ID)
}

// fakeClock lets tests move wall-clock time
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type executorFixture struct {
	executor *Executor
	catalog  *actions.Catalog
	records  *memoryRecordRepository
	emitter  *recordingEmitter
	store    *fakeStatusStore
	clock    *fakeClock
	actx     *models.ActionContext
}

type fakeStatusStore struct {
	mu       sync.Mutex
	statuses map[uuid.UUID]string
}

func (f *fakeStatusStore) GetStatus(ctx context.Context, orgID uuid.UUID, entityType string, entityID uuid.UUID) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.statuses[entityID], nil
}

func (f *fakeStatusStore) SetStatus(ctx context.Context, orgID uuid.UUID, entityType string, entityID uuid.UUID, status string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses[entityID] = status
	return nil
}

type nullAudit struct{}

func (nullAudit) Record(ctx context.Context, entry *models.AuditLog) error { return nil }

func newExecutorFixture(t *testing.T) *executorFixture {
	t.Helper()

	clock := newFakeClock()
	log := logger.NewForTesting()
	catalog := actions.NewCatalog(log)
	records := newMemoryRecordRepository(clock.Now)
	emitter := &recordingEmitter{}
	store := &fakeStatusStore{statuses: map[uuid.UUID]string{}}

	def := actions.NewStatusTransitionAction(store, nullAudit{})
	// 30s window keeps boundary tests readable
	def.UndoWindow = actions.UndoWindowOverride(30 * time.Second)
	if err := catalog.Register(def); err != nil {
		t.Fatalf("failed to register action: %v", err)
	}

	executor := NewExecutor(catalog, records, emitter, nil, log)
	executor.now = clock.Now

	entityID := uuid.New()
	store.statuses[entityID] = "NEW"

	return &executorFixture{
		executor: executor,
		catalog:  catalog,
		records:  records,
		emitter:  emitter,
		store:    store,
		clock:    clock,
		actx: &models.ActionContext{
			OrganizationID: uuid.New(),
			UserID:         uuid.New(),
			ActorType:      models.ActorTypeUser,
			EntityType:     models.EntityTypeCase,
			EntityID:       entityID,
			Permissions:    []string{"status.update"},
		},
	}
}

func TestExecutor_PreviewIsIdempotent(t *testing.T) {
	f := newExecutorFixture(t)
	input := map[string]any{"status": "OPEN"}

	var first *models.ActionPreview
	for i := 0; i < 3; i++ {
		preview, err := f.executor.Preview(context.Background(), actions.StatusTransitionActionID, input, f.actx)
		if err != nil {
			t.Fatalf("preview %d failed: %v", i, err)
		}
		if first == nil {
			first = preview
			continue
		}
		if preview.Summary != first.Summary || len(preview.Changes) != len(first.Changes) {
			t.Errorf("preview %d differs from first: %+v vs %+v", i, preview, first)
		}
	}

	if f.records.count() != 0 {
		t.Errorf("preview must create zero action records, got %d", f.records.count())
	}
	if f.store.statuses[f.actx.EntityID] != "NEW" {
		t.Error("preview must not mutate the entity")
	}
}

func TestExecutor_PreviewErrors(t *testing.T) {
	f := newExecutorFixture(t)

	tests := []struct {
		name    string
		mutate  func(actx *models.ActionContext) (string, map[string]any)
		wantErr error
	}{
		{
			name: "unknown action",
			mutate: func(actx *models.ActionContext) (string, map[string]any) {
				return "no-such-action", map[string]any{"status": "OPEN"}
			},
			wantErr: ErrActionNotFound,
		},
		{
			name: "missing permission",
			mutate: func(actx *models.ActionContext) (string, map[string]any) {
				actx.Permissions = nil
				return actions.StatusTransitionActionID, map[string]any{"status": "OPEN"}
			},
			wantErr: ErrForbidden,
		},
		{
			name: "wrong entity type",
			mutate: func(actx *models.ActionContext) (string, map[string]any) {
				actx.EntityType = "report"
				return actions.StatusTransitionActionID, map[string]any{"status": "OPEN"}
			},
			wantErr: ErrForbidden,
		},
		{
			name: "schema violation",
			mutate: func(actx *models.ActionContext) (string, map[string]any) {
				return actions.StatusTransitionActionID, map[string]any{}
			},
			wantErr: ErrValidation,
		},
		{
			name: "illegal transition",
			mutate: func(actx *models.ActionContext) (string, map[string]any) {
				return actions.StatusTransitionActionID, map[string]any{"status": "NEW"}
			},
			wantErr: ErrForbidden,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			actx := *f.actx
			actx.Permissions = append([]string(nil), f.actx.Permissions...)
			actionID, input := tt.mutate(&actx)

			_, err := f.executor.Preview(context.Background(), actionID, input, &actx)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestExecutor_ExecuteRequiresPreview(t *testing.T) {
	f := newExecutorFixture(t)
	input := map[string]any{"status": "OPEN"}

	// change-status is STANDARD: direct execution without the preview
	// assertion must be rejected
	_, err := f.executor.Execute(context.Background(), actions.StatusTransitionActionID, input, f.actx, false)
	if !errors.Is(err, ErrPreviewRequired) {
		t.Fatalf("expected ErrPreviewRequired, got %v", err)
	}
	if f.records.count() != 0 {
		t.Error("rejected execution must not create records")
	}

	result, err := f.executor.Execute(context.Background(), actions.StatusTransitionActionID, input, f.actx, true)
	if err != nil {
		t.Fatalf("execute failed: %v", err)
	}
	if !result.Success {
		t.Fatalf("expected success, got %+v", result)
	}
}

func TestExecutor_QuickActionNeedsNoPreview(t *testing.T) {
	f := newExecutorFixture(t)

	quick := &actions.Definition{
		ID:          "add-tag",
		Name:        "Add tag",
		Category:    models.CategoryQuick,
		EntityTypes: []string{models.EntityTypeCase},
		Execute: func(ctx context.Context, actx *models.ActionContext, input map[string]any) (*models.ActionResult, error) {
			return &models.ActionResult{Summary: "tagged"}, nil
		},
	}
	if err := f.catalog.Register(quick); err != nil {
		t.Fatalf("register failed: %v", err)
	}

	result, err := f.executor.Execute(context.Background(), "add-tag", map[string]any{}, f.actx, false)
	if err != nil {
		t.Fatalf("quick action with skipPreview=false failed: %v", err)
	}
	if !result.Success {
		t.Fatalf("expected success, got %+v", result)
	}
	if result.UndoAvailable {
		t.Error("action without undo behavior must not report undo availability")
	}
}

func TestExecutor_ExecuteUndoRoundTrip(t *testing.T) {
	f := newExecutorFixture(t)

	result, err := f.executor.Execute(context.Background(), actions.StatusTransitionActionID,
		map[string]any{"status": "OPEN"}, f.actx, true)
	if err != nil {
		t.Fatalf("execute failed: %v", err)
	}
	if !result.UndoAvailable || result.UndoExpiresAt == nil {
		t.Fatalf("expected an undoable execution, got %+v", result)
	}
	if f.store.statuses[f.actx.EntityID] != "OPEN" {
		t.Fatalf("expected status OPEN, got %s", f.store.statuses[f.actx.EntityID])
	}
	if len(f.emitter.completed) != 1 {
		t.Errorf("expected one completed event, got %d", len(f.emitter.completed))
	}

	if err := f.executor.Undo(context.Background(), result.RecordID, f.actx); err != nil {
		t.Fatalf("undo failed: %v", err)
	}

	if f.store.statuses[f.actx.EntityID] != "NEW" {
		t.Errorf("expected status restored to NEW, got %s", f.store.statuses[f.actx.EntityID])
	}
	if got := f.records.get(result.RecordID).Status; got != models.RecordStatusUndone {
		t.Errorf("expected record UNDONE, got %s", got)
	}
	if len(f.emitter.undone) != 1 {
		t.Errorf("expected one undone event, got %d", len(f.emitter.undone))
	}
}

func TestExecutor_UndoWindowBoundary(t *testing.T) {
	tests := []struct {
		name    string
		elapsed time.Duration
		wantErr error
	}{
		{"inside window", 29 * time.Second, nil},
		{"outside window", 31 * time.Second, ErrUndoWindowExpired},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newExecutorFixture(t)

			result, err := f.executor.Execute(context.Background(), actions.StatusTransitionActionID,
				map[string]any{"status": "OPEN"}, f.actx, true)
			if err != nil {
				t.Fatalf("execute failed: %v", err)
			}

			f.clock.Advance(tt.elapsed)

			err = f.executor.Undo(context.Background(), result.RecordID, f.actx)
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("expected undo to succeed at %s, got %v", tt.elapsed, err)
				}
				return
			}

			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v at %s, got %v", tt.wantErr, tt.elapsed, err)
			}
			// The failed attempt must not flip the record
			if got := f.records.get(result.RecordID).Status; got != models.RecordStatusCompleted {
				t.Errorf("expected record to stay COMPLETED, got %s", got)
			}
		})
	}
}

func TestExecutor_DoubleUndoRace(t *testing.T) {
	f := newExecutorFixture(t)

	result, err := f.executor.Execute(context.Background(), actions.StatusTransitionActionID,
		map[string]any{"status": "OPEN"}, f.actx, true)
	if err != nil {
		t.Fatalf("execute failed: %v", err)
	}

	const racers = 8
	errs := make(chan error, racers)
	var start sync.WaitGroup
	start.Add(1)

	for i := 0; i < racers; i++ {
		go func() {
			start.Wait()
			errs <- f.executor.Undo(context.Background(), result.RecordID, f.actx)
		}()
	}
	start.Done()

	var successes, alreadyUndone int
	for i := 0; i < racers; i++ {
		err := <-errs
		switch {
		case err == nil:
			successes++
		case errors.Is(err, ErrAlreadyUndone):
			alreadyUndone++
		default:
			t.Errorf("unexpected undo error: %v", err)
		}
	}

	if successes != 1 {
		t.Errorf("expected exactly one successful undo, got %d", successes)
	}
	if alreadyUndone != racers-1 {
		t.Errorf("expected %d already-undone failures, got %d", racers-1, alreadyUndone)
	}
	if len(f.emitter.undone) != 1 {
		t.Errorf("expected exactly one undone event, got %d", len(f.emitter.undone))
	}
}

func TestExecutor_ExecutionFailureIsRecordedNotThrown(t *testing.T) {
	f := newExecutorFixture(t)

	failing := &actions.Definition{
		ID:          "always-fails",
		Category:    models.CategoryQuick,
		EntityTypes: []string{models.EntityTypeCase},
		Execute: func(ctx context.Context, actx *models.ActionContext, input map[string]any) (*models.ActionResult, error) {
			return nil, fmt.Errorf("downstream unavailable")
		},
	}
	if err := f.catalog.Register(failing); err != nil {
		t.Fatalf("register failed: %v", err)
	}

	result, err := f.executor.Execute(context.Background(), "always-fails", map[string]any{}, f.actx, false)
	if err != nil {
		t.Fatalf("execution-time failure must not surface as an error, got %v", err)
	}
	if result.Success {
		t.Fatal("expected a structured failure")
	}
	if result.Error == "" {
		t.Error("expected the failure message on the result")
	}
	if got := f.records.get(result.RecordID).Status; got != models.RecordStatusFailed {
		t.Errorf("expected record FAILED, got %s", got)
	}
	if len(f.emitter.completed) != 0 {
		t.Error("failed execution must not emit a completed event")
	}
}

func TestExecutor_PanickingActionIsContained(t *testing.T) {
	f := newExecutorFixture(t)

	panicking := &actions.Definition{
		ID:          "panics",
		Category:    models.CategoryQuick,
		EntityTypes: []string{models.EntityTypeCase},
		Execute: func(ctx context.Context, actx *models.ActionContext, input map[string]any) (*models.ActionResult, error) {
			panic("boom")
		},
	}
	if err := f.catalog.Register(panicking); err != nil {
		t.Fatalf("register failed: %v", err)
	}

	result, err := f.executor.Execute(context.Background(), "panics", map[string]any{}, f.actx, false)
	if err != nil {
		t.Fatalf("panic must be contained, got %v", err)
	}
	if result.Success {
		t.Fatal("expected a structured failure")
	}
}

func TestExecutor_UndoForeignRecordIsNotFound(t *testing.T) {
	f := newExecutorFixture(t)

	result, err := f.executor.Execute(context.Background(), actions.StatusTransitionActionID,
		map[string]any{"status": "OPEN"}, f.actx, true)
	if err != nil {
		t.Fatalf("execute failed: %v", err)
	}

	foreign := *f.actx
	foreign.OrganizationID = uuid.New()

	err = f.executor.Undo(context.Background(), result.RecordID, &foreign)
	if !errors.Is(err, ErrRecordNotFound) {
		t.Errorf("expected ErrRecordNotFound for a foreign record, got %v", err)
	}
}

func TestExecutor_GetUndoState(t *testing.T) {
	f := newExecutorFixture(t)

	result, err := f.executor.Execute(context.Background(), actions.StatusTransitionActionID,
		map[string]any{"status": "OPEN"}, f.actx, true)
	if err != nil {
		t.Fatalf("execute failed: %v", err)
	}

	state, err := f.executor.GetUndoState(context.Background(), result.RecordID, f.actx)
	if err != nil {
		t.Fatalf("undo state failed: %v", err)
	}
	if !state.Undoable {
		t.Errorf("expected record to be undoable, got %+v", state)
	}

	f.clock.Advance(31 * time.Second)
	state, err = f.executor.GetUndoState(context.Background(), result.RecordID, f.actx)
	if err != nil {
		t.Fatalf("undo state failed: %v", err)
	}
	if state.Undoable {
		t.Error("expected record to no longer be undoable")
	}
}
