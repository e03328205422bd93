package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/caseloop/caseloop/internal/models"
)

const actionRecordColumns = `
	id, organization_id, action_id, entity_type, entity_id, actor_id, actor_type,
	status, input, result, previous_state, error, undoable, undo_expires_at,
	undone_at, undone_by, started_at, completed_at`

// ActionRecordRepository handles action record database operations
type ActionRecordRepository struct {
	db *sql.DB
}

// NewActionRecordRepository creates a new action record repository
func NewActionRecordRepository(db *sql.DB) *ActionRecordRepository {
	return &ActionRecordRepository{db: db}
}

// Create inserts a record in its initial EXECUTING state
func (r *ActionRecordRepository) Create(ctx context.Context, record *models.ActionRecord) error {
	query := `
		INSERT INTO action_records (
			id, organization_id, action_id, entity_type, entity_id, actor_id,
			actor_type, status, input, started_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	_, err := r.db.ExecContext(
		ctx, query,
		record.ID, record.OrganizationID, record.ActionID, record.EntityType,
		record.EntityID, record.ActorID, record.ActorType, record.Status,
		record.Input, record.StartedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create action record: %w", err)
	}

	return nil
}

// GetByID retrieves a record scoped to an organization. A record belonging to
// another organization comes back as not found (nil, nil).
func (r *ActionRecordRepository) GetByID(ctx context.Context, orgID, id uuid.UUID) (*models.ActionRecord, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM action_records
		WHERE organization_id = $1 AND id = $2`, actionRecordColumns)

	record, err := scanActionRecord(r.db.QueryRowContext(ctx, query, orgID, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get action record: %w", err)
	}

	return record, nil
}

// MarkCompleted transitions EXECUTING -> COMPLETED with the execution outcome
func (r *ActionRecordRepository) MarkCompleted(ctx context.Context, id uuid.UUID, result, previousState models.JSONB, undoable bool, undoExpiresAt *time.Time) error {
	query := `
		UPDATE action_records
		SET status = $2, result = $3, previous_state = $4, undoable = $5,
		    undo_expires_at = $6, completed_at = now()
		WHERE id = $1 AND status = $7`

	res, err := r.db.ExecContext(ctx, query, id, models.RecordStatusCompleted,
		result, previousState, undoable, undoExpiresAt, models.RecordStatusExecuting)
	if err != nil {
		return fmt.Errorf("failed to mark action record completed: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check completed update: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("action record %s is not in EXECUTING state", id)
	}

	return nil
}

// MarkFailed transitions EXECUTING -> FAILED with the error message
func (r *ActionRecordRepository) MarkFailed(ctx context.Context, id uuid.UUID, errMsg string) error {
	query := `
		UPDATE action_records
		SET status = $2, error = $3, completed_at = now()
		WHERE id = $1 AND status = $4`

	_, err := r.db.ExecContext(ctx, query, id, models.RecordStatusFailed, errMsg, models.RecordStatusExecuting)
	if err != nil {
		return fmt.Errorf("failed to mark action record failed: %w", err)
	}

	return nil
}

// MarkUndone transitions COMPLETED -> UNDONE under a single conditional
// update. The status and window guards make concurrent undos race safely:
// exactly one caller sees a row affected.
func (r *ActionRecordRepository) MarkUndone(ctx context.Context, id, undoneBy uuid.UUID) (bool, error) {
	query := `
		UPDATE action_records
		SET status = $2, undone_at = now(), undone_by = $3
		WHERE id = $1 AND status = $4 AND undoable AND undo_expires_at > now()`

	res, err := r.db.ExecContext(ctx, query, id, models.RecordStatusUndone, undoneBy, models.RecordStatusCompleted)
	if err != nil {
		return false, fmt.Errorf("failed to mark action record undone: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to check undone update: %w", err)
	}

	return affected == 1, nil
}

// List retrieves records for an organization, newest first
func (r *ActionRecordRepository) List(ctx context.Context, orgID uuid.UUID, filter models.ActionRecordFilter) ([]*models.ActionRecord, error) {
	whereClauses := []string{"organization_id = $1"}
	args := []interface{}{orgID}
	argPos := 2

	if filter.EntityType != "" {
		whereClauses = append(whereClauses, fmt.Sprintf("entity_type = $%d", argPos))
		args = append(args, filter.EntityType)
		argPos++
	}
	if filter.EntityID != uuid.Nil {
		whereClauses = append(whereClauses, fmt.Sprintf("entity_id = $%d", argPos))
		args = append(args, filter.EntityID)
		argPos++
	}
	if filter.ActionID != "" {
		whereClauses = append(whereClauses, fmt.Sprintf("action_id = $%d", argPos))
		args = append(args, filter.ActionID)
		argPos++
	}
	if filter.ActorID != uuid.Nil {
		whereClauses = append(whereClauses, fmt.Sprintf("actor_id = $%d", argPos))
		args = append(args, filter.ActorID)
		argPos++
	}
	if filter.Status != "" {
		whereClauses = append(whereClauses, fmt.Sprintf("status = $%d", argPos))
		args = append(args, filter.Status)
		argPos++
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}

	query := fmt.Sprintf(`
		SELECT %s
		FROM action_records
		WHERE %s
		ORDER BY started_at DESC
		LIMIT $%d OFFSET $%d`,
		actionRecordColumns, strings.Join(whereClauses, " AND "), argPos, argPos+1)
	args = append(args, limit, filter.Offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list action records: %w", err)
	}
	defer rows.Close()

	var records []*models.ActionRecord
	for rows.Next() {
		record, err := scanActionRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan action record: %w", err)
		}
		records = append(records, record)
	}

	return records, rows.Err()
}

// ClearExpiredPreviousState drops undo snapshots from completed records whose
// window lapsed before the cutoff. Returns the number of records cleaned.
func (r *ActionRecordRepository) ClearExpiredPreviousState(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `
		UPDATE action_records
		SET previous_state = NULL
		WHERE status = $1 AND previous_state IS NOT NULL AND undo_expires_at <= $2`

	res, err := r.db.ExecContext(ctx, query, models.RecordStatusCompleted, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to clear expired previous state: %w", err)
	}

	return res.RowsAffected()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanActionRecord(row rowScanner) (*models.ActionRecord, error) {
	record := &models.ActionRecord{}
	err := row.Scan(
		&record.ID, &record.OrganizationID, &record.ActionID, &record.EntityType,
		&record.EntityID, &record.ActorID, &record.ActorType, &record.Status,
		&record.Input, &record.Result, &record.PreviousState, &record.Error,
		&record.Undoable, &record.UndoExpiresAt, &record.UndoneAt, &record.UndoneBy,
		&record.StartedAt, &record.CompletedAt,
	)
	if err != nil {
		return nil, err
	}
	return record, nil
}
