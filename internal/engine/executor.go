package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/caseloop/caseloop/internal/actions"
	"github.com/caseloop/caseloop/internal/models"
	"github.com/caseloop/caseloop/pkg/logger"
	"github.com/caseloop/caseloop/pkg/metrics"
)

// ActionRecordRepository is the durable store for action records
type ActionRecordRepository interface {
	Create(ctx context.Context, record *models.ActionRecord) error
	GetByID(ctx context.Context, orgID, id uuid.UUID) (*models.ActionRecord, error)
	MarkCompleted(ctx context.Context, id uuid.UUID, result, previousState models.JSONB, undoable bool, undoExpiresAt *time.Time) error
	MarkFailed(ctx context.Context, id uuid.UUID, errMsg string) error

	// MarkUndone transitions COMPLETED -> UNDONE if and only if the record is
	// still COMPLETED and its undo window has not lapsed at the store's clock.
	// Returns false when the guard did not match.
	MarkUndone(ctx context.Context, id, undoneBy uuid.UUID) (bool, error)

	List(ctx context.Context, orgID uuid.UUID, filter models.ActionRecordFilter) ([]*models.ActionRecord, error)
}

// EventEmitter publishes action lifecycle events to activity feeds.
// Implementations must not block the executor.
type EventEmitter interface {
	ActionCompleted(ctx context.Context, record *models.ActionRecord)
	ActionUndone(ctx context.Context, record *models.ActionRecord)
}

// Executor orchestrates preview, execute and undo against the catalog.
// Pre-execution failures surface as typed errors; execution-time failures
// are recorded and returned inside the ExecutionResult.
type Executor struct {
	catalog *actions.Catalog
	records ActionRecordRepository
	emitter EventEmitter
	metrics *metrics.Metrics
	logger  *logger.Logger

	now func() time.Time
}

// NewExecutor creates an executor. metrics may be nil in tests.
func NewExecutor(catalog *actions.Catalog, records ActionRecordRepository, emitter EventEmitter, m *metrics.Metrics, log *logger.Logger) *Executor {
	return &Executor{
		catalog: catalog,
		records: records,
		emitter: emitter,
		metrics: m,
		logger:  log,
		now:     time.Now,
	}
}

// validate runs the shared pre-execution checks: definition lookup,
// permissions, entity type, input schema, business rule
func (e *Executor) validate(ctx context.Context, actionID string, input map[string]any, actx *models.ActionContext) (*actions.Definition, error) {
	def, ok := e.catalog.Get(actionID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrActionNotFound, actionID)
	}

	if missing := actx.MissingPermissions(def.RequiredPermissions); len(missing) > 0 {
		return nil, &ForbiddenError{MissingPermissions: missing}
	}

	if !def.SupportsEntityType(actx.EntityType) {
		return nil, &ForbiddenError{
			Reason: fmt.Sprintf("action %s does not apply to entity type %s", actionID, actx.EntityType),
		}
	}

	if def.InputSchema != nil {
		if fieldErrs := def.InputSchema.Validate(input); len(fieldErrs) > 0 {
			return nil, &ValidationError{Fields: fieldErrs}
		}
	}

	if def.CanExecute != nil {
		if err := def.CanExecute(ctx, actx, input); err != nil {
			return nil, &ForbiddenError{Reason: err.Error()}
		}
	}

	return def, nil
}

// Preview produces a dry-run description of the action. It never mutates and
// never creates records; calling it repeatedly is safe.
func (e *Executor) Preview(ctx context.Context, actionID string, input map[string]any, actx *models.ActionContext) (*models.ActionPreview, error) {
	def, err := e.validate(ctx, actionID, input, actx)
	if err != nil {
		return nil, err
	}

	if e.metrics != nil {
		e.metrics.ActionPreviewsTotal.WithLabelValues(actionID).Inc()
	}

	if def.Preview == nil {
		return &models.ActionPreview{
			ActionID: actionID,
			Summary:  def.Description,
		}, nil
	}

	return def.Preview(ctx, actx, input)
}

// Execute runs the action. skipPreview=true asserts the caller has already
// confirmed through a preview (or is the agent, which decides for itself);
// without it, preview-gated categories are rejected.
func (e *Executor) Execute(ctx context.Context, actionID string, input map[string]any, actx *models.ActionContext, skipPreview bool) (*models.ExecutionResult, error) {
	def, err := e.validate(ctx, actionID, input, actx)
	if err != nil {
		return nil, err
	}

	if !skipPreview && e.catalog.RequiresPreview(actionID) {
		return nil, fmt.Errorf("%w: action %s is %s category", ErrPreviewRequired, actionID, def.Category)
	}

	started := e.now()
	record := &models.ActionRecord{
		ID:             uuid.New(),
		OrganizationID: actx.OrganizationID,
		ActionID:       actionID,
		EntityType:     actx.EntityType,
		EntityID:       actx.EntityID,
		ActorID:        actx.UserID,
		ActorType:      actx.ActorType,
		Status:         models.RecordStatusExecuting,
		Input:          models.JSONB(input),
		StartedAt:      started,
	}
	if err := e.records.Create(ctx, record); err != nil {
		return nil, fmt.Errorf("failed to create action record: %w", err)
	}

	result, execErr := e.runExecute(ctx, def, actx, input)
	duration := e.now().Sub(started)

	if execErr != nil {
		if err := e.records.MarkFailed(ctx, record.ID, execErr.Error()); err != nil {
			e.logger.Error("failed to mark action record failed",
				logger.String("record_id", record.ID.String()), logger.Err(err))
		}
		e.observeExecution(actionID, "failure", duration)
		e.logger.Warn("action execution failed",
			logger.String("action_id", actionID),
			logger.String("record_id", record.ID.String()),
			logger.Err(execErr))

		return &models.ExecutionResult{
			Success:  false,
			RecordID: record.ID,
			Error:    execErr.Error(),
		}, nil
	}

	window := e.catalog.UndoWindow(actionID)
	undoable := def.Undo != nil && window > 0 && result.PreviousState != nil

	var undoExpiresAt *time.Time
	if undoable {
		t := e.now().Add(window)
		undoExpiresAt = &t
	}

	if err := e.records.MarkCompleted(ctx, record.ID, result.Output, result.PreviousState, undoable, undoExpiresAt); err != nil {
		return nil, fmt.Errorf("failed to mark action record completed: %w", err)
	}

	record.Status = models.RecordStatusCompleted
	record.Result = result.Output
	record.PreviousState = result.PreviousState
	record.Undoable = undoable
	record.UndoExpiresAt = undoExpiresAt

	e.emitter.ActionCompleted(ctx, record)
	e.observeExecution(actionID, "success", duration)
	e.logger.Info("action executed",
		logger.String("action_id", actionID),
		logger.String("record_id", record.ID.String()),
		logger.String("entity_type", actx.EntityType),
		logger.Bool("undoable", undoable))

	return &models.ExecutionResult{
		Success:       true,
		RecordID:      record.ID,
		Result:        result,
		UndoAvailable: undoable,
		UndoExpiresAt: undoExpiresAt,
	}, nil
}

// runExecute invokes the definition's execute behavior, converting panics
// into recorded failures so a misbehaving action cannot crash the turn
func (e *Executor) runExecute(ctx context.Context, def *actions.Definition, actx *models.ActionContext, input map[string]any) (result *models.ActionResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = fmt.Errorf("action panicked: %v", r)
		}
	}()

	result, err = def.Execute(ctx, actx, input)
	if err == nil && result == nil {
		err = fmt.Errorf("action returned no result")
	}
	return result, err
}

// Undo reverses a completed execution while its window is open. The record
// transition is guarded in the store, so concurrent undos of the same record
// yield exactly one success.
func (e *Executor) Undo(ctx context.Context, recordID uuid.UUID, actx *models.ActionContext) error {
	record, err := e.records.GetByID(ctx, actx.OrganizationID, recordID)
	if err != nil {
		return err
	}
	if record == nil {
		return fmt.Errorf("%w: %s", ErrRecordNotFound, recordID)
	}

	def, ok := e.catalog.Get(record.ActionID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrActionNotFound, record.ActionID)
	}
	if missing := actx.MissingPermissions(def.RequiredPermissions); len(missing) > 0 {
		return &ForbiddenError{MissingPermissions: missing}
	}
	if def.Undo == nil {
		return fmt.Errorf("%w: %s has no undo behavior", ErrNotUndoable, record.ActionID)
	}

	state := record.UndoStateAt(e.now())
	if !state.Undoable {
		err := e.undoStateError(record, state)
		e.observeUndo(record.ActionID, "rejected")
		return err
	}

	undoCtx := &models.ActionContext{
		OrganizationID: actx.OrganizationID,
		UserID:         actx.UserID,
		Role:           actx.Role,
		Permissions:    actx.Permissions,
		ActorType:      actx.ActorType,
		EntityType:     record.EntityType,
		EntityID:       record.EntityID,
	}
	if err := def.Undo(ctx, undoCtx, record); err != nil {
		e.observeUndo(record.ActionID, "failure")
		return fmt.Errorf("undo failed: %w", err)
	}

	ok, err = e.records.MarkUndone(ctx, record.ID, actx.UserID)
	if err != nil {
		e.observeUndo(record.ActionID, "failure")
		return fmt.Errorf("failed to mark record undone: %w", err)
	}
	if !ok {
		// Lost the race or the window closed between check and write
		e.observeUndo(record.ActionID, "rejected")
		return fmt.Errorf("%w: record %s", ErrAlreadyUndone, record.ID)
	}

	record.Status = models.RecordStatusUndone
	now := e.now()
	record.UndoneAt = &now
	undoneBy := actx.UserID
	record.UndoneBy = &undoneBy

	e.emitter.ActionUndone(ctx, record)
	e.observeUndo(record.ActionID, "success")
	e.logger.Info("action undone",
		logger.String("action_id", record.ActionID),
		logger.String("record_id", record.ID.String()))

	return nil
}

func (e *Executor) undoStateError(record *models.ActionRecord, state models.UndoState) error {
	switch state.Reason {
	case "already undone":
		return fmt.Errorf("%w: record %s", ErrAlreadyUndone, record.ID)
	case "undo window expired":
		return fmt.Errorf("%w: record %s expired at %s", ErrUndoWindowExpired, record.ID, state.ExpiresAt.Format(time.RFC3339))
	default:
		return fmt.Errorf("%w: %s", ErrNotUndoable, state.Reason)
	}
}

// GetUndoState reports whether a record can currently be undone
func (e *Executor) GetUndoState(ctx context.Context, recordID uuid.UUID, actx *models.ActionContext) (models.UndoState, error) {
	record, err := e.records.GetByID(ctx, actx.OrganizationID, recordID)
	if err != nil {
		return models.UndoState{}, err
	}
	if record == nil {
		return models.UndoState{}, fmt.Errorf("%w: %s", ErrRecordNotFound, recordID)
	}

	def, ok := e.catalog.Get(record.ActionID)
	if !ok || def.Undo == nil {
		return models.UndoState{Reason: "action is not undoable"}, nil
	}

	return record.UndoStateAt(e.now()), nil
}

// History lists action records for the caller's organization
func (e *Executor) History(ctx context.Context, actx *models.ActionContext, filter models.ActionRecordFilter) ([]*models.ActionRecord, error) {
	return e.records.List(ctx, actx.OrganizationID, filter)
}

// AvailableActions returns the definitions the caller may run on the
// context's entity type
func (e *Executor) AvailableActions(actx *models.ActionContext) []*actions.Definition {
	return e.catalog.GetAvailableActions(actions.AvailableActionsFilter{
		EntityType:  actx.EntityType,
		Permissions: actx.Permissions,
	})
}

// Catalog exposes the underlying catalog for tool-list construction
func (e *Executor) Catalog() *actions.Catalog {
	return e.catalog
}

func (e *Executor) observeExecution(actionID, outcome string, duration time.Duration) {
	if e.metrics == nil {
		return
	}
	e.metrics.ActionExecutionsTotal.WithLabelValues(actionID, outcome).Inc()
	e.metrics.ActionDuration.WithLabelValues(actionID).Observe(duration.Seconds())
}

func (e *Executor) observeUndo(actionID, outcome string) {
	if e.metrics == nil {
		return
	}
	e.metrics.ActionUndosTotal.WithLabelValues(actionID, outcome).Inc()
}
