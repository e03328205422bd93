package seeds

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/caseloop/caseloop/internal/models"
)

// DemoOrganizationID is the fixed organization all demo data belongs to, so
// seeded environments produce stable JWTs and URLs.
var DemoOrganizationID = uuid.MustParse("00000000-0000-0000-0000-000000000001")

// DemoUserID is the investigator the demo data is assigned to
var DemoUserID = uuid.MustParse("00000000-0000-0000-0000-000000000002")

// DemoSeeder inserts a small set of cases and investigations for local
// development
type DemoSeeder struct {
	db *sql.DB
}

// NewDemoSeeder creates a demo seeder
func NewDemoSeeder(db *sql.DB) *DemoSeeder {
	return &DemoSeeder{db: db}
}

func demoCases() []models.Case {
	return []models.Case{
		{
			ID:          uuid.MustParse("10000000-0000-0000-0000-000000000001"),
			Title:       "Suspicious wire transfers",
			Description: "Multiple transfers just under the reporting threshold within one week",
			Status:      models.CaseStatusOpen,
		},
		{
			ID:          uuid.MustParse("10000000-0000-0000-0000-000000000002"),
			Title:       "Sanctions screening hit",
			Description: "Fuzzy name match against the consolidated sanctions list",
			Status:      models.CaseStatusNew,
		},
		{
			ID:          uuid.MustParse("10000000-0000-0000-0000-000000000003"),
			Title:       "Dormant account reactivation",
			Description: "Account inactive for four years resumed high-volume activity",
			Status:      models.CaseStatusClosed,
		},
	}
}

func demoInvestigations() []models.Investigation {
	caseID := uuid.MustParse("10000000-0000-0000-0000-000000000001")
	return []models.Investigation{
		{
			ID:          uuid.MustParse("20000000-0000-0000-0000-000000000001"),
			CaseID:      &caseID,
			Title:       "Trace counterparty accounts",
			Description: "Follow the transfer chain across correspondent banks",
			Status:      models.InvestigationStatusActive,
		},
		{
			ID:          uuid.MustParse("20000000-0000-0000-0000-000000000002"),
			CaseID:      &caseID,
			Title:       "Customer due diligence refresh",
			Description: "Re-verify beneficial ownership for the originating entity",
			Status:      models.InvestigationStatusNew,
		},
	}
}

// SeedAll inserts all demo data. Existing rows with the same IDs are left
// untouched.
func (s *DemoSeeder) SeedAll(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now()

	for _, c := range demoCases() {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO cases (id, organization_id, title, description, status, assignee_id, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
			ON CONFLICT (id) DO NOTHING`,
			c.ID, DemoOrganizationID, c.Title, c.Description, c.Status, DemoUserID, now,
		)
		if err != nil {
			return fmt.Errorf("failed to seed case %s: %w", c.ID, err)
		}
	}

	for _, inv := range demoInvestigations() {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO investigations (id, organization_id, case_id, title, description, status, lead_id, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)
			ON CONFLICT (id) DO NOTHING`,
			inv.ID, DemoOrganizationID, inv.CaseID, inv.Title, inv.Description, inv.Status, DemoUserID, now,
		)
		if err != nil {
			return fmt.Errorf("failed to seed investigation %s: %w", inv.ID, err)
		}
	}

	return tx.Commit()
}

// Verify checks the demo rows are present
func (s *DemoSeeder) Verify(ctx context.Context) error {
	var caseCount, invCount int

	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM cases WHERE organization_id = $1`, DemoOrganizationID,
	).Scan(&caseCount); err != nil {
		return fmt.Errorf("failed to count cases: %w", err)
	}
	if caseCount < len(demoCases()) {
		return fmt.Errorf("expected at least %d cases, found %d", len(demoCases()), caseCount)
	}

	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM investigations WHERE organization_id = $1`, DemoOrganizationID,
	).Scan(&invCount); err != nil {
		return fmt.Errorf("failed to count investigations: %w", err)
	}
	if invCount < len(demoInvestigations()) {
		return fmt.Errorf("expected at least %d investigations, found %d", len(demoInvestigations()), invCount)
	}

	return nil
}

// Stats prints row counts for the demo organization
func (s *DemoSeeder) Stats(ctx context.Context) error {
	tables := []string{"cases", "investigations", "action_records", "audit_log", "conversations"}
	for _, table := range tables {
		var count int
		query := fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE organization_id = $1`, table)
		if err := s.db.QueryRowContext(ctx, query, DemoOrganizationID).Scan(&count); err != nil {
			return fmt.Errorf("failed to count %s: %w", table, err)
		}
		fmt.Printf("  %-16s %d\n", table, count)
	}
	return nil
}
