package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/caseloop/caseloop/internal/models"
)

// CaseRepository handles case and investigation database operations. It also
// backs the status transition action's StatusStore.
type CaseRepository struct {
	db *sql.DB
}

// NewCaseRepository creates a new case repository
func NewCaseRepository(db *sql.DB) *CaseRepository {
	return &CaseRepository{db: db}
}

// CreateCase inserts a new case
func (r *CaseRepository) CreateCase(ctx context.Context, c *models.Case) error {
	query := `
		INSERT INTO cases (id, organization_id, title, description, status, assignee_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, now(), now())
		RETURNING created_at, updated_at`

	err := r.db.QueryRowContext(
		ctx, query,
		c.ID, c.OrganizationID, c.Title, c.Description, c.Status, c.AssigneeID,
	).Scan(&c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create case: %w", err)
	}

	return nil
}

// GetCase retrieves a case scoped to an organization
func (r *CaseRepository) GetCase(ctx context.Context, orgID, id uuid.UUID) (*models.Case, error) {
	query := `
		SELECT id, organization_id, title, description, status, assignee_id, created_at, updated_at
		FROM cases
		WHERE organization_id = $1 AND id = $2`

	c := &models.Case{}
	err := r.db.QueryRowContext(ctx, query, orgID, id).Scan(
		&c.ID, &c.OrganizationID, &c.Title, &c.Description, &c.Status,
		&c.AssigneeID, &c.CreatedAt, &c.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("case %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get case: %w", err)
	}

	return c, nil
}

// CreateInvestigation inserts a new investigation
func (r *CaseRepository) CreateInvestigation(ctx context.Context, inv *models.Investigation) error {
	query := `
		INSERT INTO investigations (id, organization_id, case_id, title, description, status, lead_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now(), now())
		RETURNING created_at, updated_at`

	err := r.db.QueryRowContext(
		ctx, query,
		inv.ID, inv.OrganizationID, inv.CaseID, inv.Title, inv.Description, inv.Status, inv.LeadID,
	).Scan(&inv.CreatedAt, &inv.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create investigation: %w", err)
	}

	return nil
}

// GetInvestigation retrieves an investigation scoped to an organization
func (r *CaseRepository) GetInvestigation(ctx context.Context, orgID, id uuid.UUID) (*models.Investigation, error) {
	query := `
		SELECT id, organization_id, case_id, title, description, status, lead_id, created_at, updated_at
		FROM investigations
		WHERE organization_id = $1 AND id = $2`

	inv := &models.Investigation{}
	err := r.db.QueryRowContext(ctx, query, orgID, id).Scan(
		&inv.ID, &inv.OrganizationID, &inv.CaseID, &inv.Title, &inv.Description,
		&inv.Status, &inv.LeadID, &inv.CreatedAt, &inv.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("investigation %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get investigation: %w", err)
	}

	return inv, nil
}

func tableForEntityType(entityType string) (string, error) {
	switch entityType {
	case models.EntityTypeCase:
		return "cases", nil
	case models.EntityTypeInvestigation:
		return "investigations", nil
	default:
		return "", fmt.Errorf("unknown entity type %q", entityType)
	}
}

// GetStatus reads the current status of a case or investigation
func (r *CaseRepository) GetStatus(ctx context.Context, orgID uuid.UUID, entityType string, entityID uuid.UUID) (string, error) {
	table, err := tableForEntityType(entityType)
	if err != nil {
		return "", err
	}

	query := fmt.Sprintf(`SELECT status FROM %s WHERE organization_id = $1 AND id = $2`, table)

	var status string
	err = r.db.QueryRowContext(ctx, query, orgID, entityID).Scan(&status)
	if err == sql.ErrNoRows {
		return "", fmt.Errorf("%s %s not found", entityType, entityID)
	}
	if err != nil {
		return "", fmt.Errorf("failed to get %s status: %w", entityType, err)
	}

	return status, nil
}

// SetStatus writes a new status for a case or investigation
func (r *CaseRepository) SetStatus(ctx context.Context, orgID uuid.UUID, entityType string, entityID uuid.UUID, status string) error {
	table, err := tableForEntityType(entityType)
	if err != nil {
		return err
	}

	query := fmt.Sprintf(`
		UPDATE %s
		SET status = $3, updated_at = now()
		WHERE organization_id = $1 AND id = $2`, table)

	res, err := r.db.ExecContext(ctx, query, orgID, entityID, status)
	if err != nil {
		return fmt.Errorf("failed to set %s status: %w", entityType, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check status update: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%s %s not found", entityType, entityID)
	}

	return nil
}
