package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/caseloop/caseloop/internal/models"
	"github.com/caseloop/caseloop/pkg/llm"
)

// Skill is a read-only capability exposed to the model alongside catalog
// actions. Skills compute and return text; they never mutate.
type Skill struct {
	Name        string
	Description string
	InputSchema map[string]any
	Run         func(ctx context.Context, actx *models.ActionContext, input map[string]any) (string, error)
}

// CaseReader loads the entities skills summarize
type CaseReader interface {
	GetCase(ctx context.Context, orgID, id uuid.UUID) (*models.Case, error)
	GetInvestigation(ctx context.Context, orgID, id uuid.UUID) (*models.Investigation, error)
}

// AuditReader queries the audit trail
type AuditReader interface {
	List(ctx context.Context, orgID uuid.UUID, filter models.AuditFilter) ([]models.AuditLog, error)
}

// NewCaseSummarySkill builds the get_case_summary skill. Without an explicit
// case_id it summarizes the case the conversation is focused on.
func NewCaseSummarySkill(cases CaseReader, templates *llm.TemplateManager) Skill {
	return Skill{
		Name:        "get_case_summary",
		Description: "Summarize a compliance case: title, status, dates and description. Defaults to the current case when case_id is omitted.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"case_id": map[string]any{
					"type":        "string",
					"description": "UUID of the case to summarize",
				},
			},
			"additionalProperties": false,
		},
		Run: func(ctx context.Context, actx *models.ActionContext, input map[string]any) (string, error) {
			caseID, err := resolveCaseID(actx, input)
			if err != nil {
				return "", err
			}

			c, err := cases.GetCase(ctx, actx.OrganizationID, caseID)
			if err != nil {
				return "", err
			}

			return templates.Execute("case_summary", map[string]any{
				"ID":          c.ID.String(),
				"Title":       c.Title,
				"Status":      string(c.Status),
				"CreatedAt":   c.CreatedAt.Format(time.RFC3339),
				"UpdatedAt":   c.UpdatedAt.Format(time.RFC3339),
				"Description": c.Description,
			})
		},
	}
}

func resolveCaseID(actx *models.ActionContext, input map[string]any) (uuid.UUID, error) {
	if raw, ok := input["case_id"].(string); ok && raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return uuid.Nil, fmt.Errorf("invalid case_id %q: %w", raw, err)
		}
		return id, nil
	}
	if actx.EntityType == models.EntityTypeCase && actx.EntityID != uuid.Nil {
		return actx.EntityID, nil
	}
	return uuid.Nil, fmt.Errorf("no case_id given and the conversation is not focused on a case")
}

// NewRecentActivitySkill builds the list_recent_activity skill over the
// audit trail of the entity the conversation is focused on.
func NewRecentActivitySkill(audit AuditReader, templates *llm.TemplateManager) Skill {
	return Skill{
		Name:        "list_recent_activity",
		Description: "List recent audit activity on the current entity, newest first.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"limit": map[string]any{
					"type":        "integer",
					"minimum":     1,
					"maximum":     50,
					"description": "Maximum number of entries to return (default 10)",
				},
			},
			"additionalProperties": false,
		},
		Run: func(ctx context.Context, actx *models.ActionContext, input map[string]any) (string, error) {
			limit := 10
			if raw, ok := input["limit"].(float64); ok && raw > 0 {
				limit = int(raw)
			}

			entries, err := audit.List(ctx, actx.OrganizationID, models.AuditFilter{
				EntityType: actx.EntityType,
				EntityID:   actx.EntityID,
				Limit:      limit,
			})
			if err != nil {
				return "", err
			}

			digest := make([]map[string]any, 0, len(entries))
			for _, entry := range entries {
				digest = append(digest, map[string]any{
					"OccurredAt": entry.Timestamp.Format(time.RFC3339),
					"Actor":      fmt.Sprintf("%s %s", entry.ActorType, entry.ActorID),
					"Summary":    describeAuditEntry(entry),
				})
			}

			return templates.Execute("activity_digest", map[string]any{"Entries": digest})
		},
	}
}

func describeAuditEntry(entry models.AuditLog) string {
	if change, ok := entry.Changes["status"].(map[string]any); ok {
		return fmt.Sprintf("%s (%v -> %v)", entry.Action, change["from"], change["to"])
	}
	return entry.Action
}
