package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/caseloop/caseloop/internal/models"
)

// AuditRepository handles audit log database operations. The audit log is
// append-only: there are no update or delete operations.
type AuditRepository struct {
	db *sql.DB
}

// NewAuditRepository creates a new audit repository
func NewAuditRepository(db *sql.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

// Record appends an audit log entry
func (r *AuditRepository) Record(ctx context.Context, entry *models.AuditLog) error {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}

	query := `
		INSERT INTO audit_log (
			id, organization_id, entity_type, entity_id, action, actor_id, actor_type, changes, timestamp
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err := r.db.ExecContext(
		ctx, query,
		entry.ID, entry.OrganizationID, entry.EntityType, entry.EntityID,
		entry.Action, entry.ActorID, entry.ActorType, entry.Changes, entry.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to create audit log: %w", err)
	}

	return nil
}

// List retrieves audit entries for an organization, newest first
func (r *AuditRepository) List(ctx context.Context, orgID uuid.UUID, filter models.AuditFilter) ([]models.AuditLog, error) {
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
	if filter.ActorID != uuid.Nil {
		whereClauses = append(whereClauses, fmt.Sprintf("actor_id = $%d", argPos))
		args = append(args, filter.ActorID)
		argPos++
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}

	query := fmt.Sprintf(`
		SELECT id, organization_id, entity_type, entity_id, action, actor_id, actor_type, changes, timestamp
		FROM audit_log
		WHERE %s
		ORDER BY timestamp DESC
		LIMIT $%d OFFSET $%d`, strings.Join(whereClauses, " AND "), argPos, argPos+1)
	args = append(args, limit, filter.Offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit logs: %w", err)
	}
	defer rows.Close()

	var entries []models.AuditLog
	for rows.Next() {
		entry := models.AuditLog{}
		err := rows.Scan(
			&entry.ID, &entry.OrganizationID, &entry.EntityType, &entry.EntityID,
			&entry.Action, &entry.ActorID, &entry.ActorType, &entry.Changes, &entry.Timestamp,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit log: %w", err)
		}
		entries = append(entries, entry)
	}

	return entries, rows.Err()
}
