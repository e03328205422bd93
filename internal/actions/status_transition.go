package actions

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/caseloop/caseloop/internal/models"
)

// StatusTransitionActionID is the catalog id of the status transition action
const StatusTransitionActionID = "change-status"

// StatusStore reads and writes entity status for the transition action.
// Implemented by the case repository.
type StatusStore interface {
	GetStatus(ctx context.Context, orgID uuid.UUID, entityType string, entityID uuid.UUID) (string, error)
	SetStatus(ctx context.Context, orgID uuid.UUID, entityType string, entityID uuid.UUID, status string) error
}

// AuditWriter appends audit log entries
type AuditWriter interface {
	Record(ctx context.Context, entry *models.AuditLog) error
}

// statusTransitions is the legal transition graph per entity type
var statusTransitions = map[string]map[string][]string{
	models.EntityTypeCase: {
		string(models.CaseStatusNew):    {string(models.CaseStatusOpen), string(models.CaseStatusClosed)},
		string(models.CaseStatusOpen):   {string(models.CaseStatusNew), string(models.CaseStatusClosed)},
		string(models.CaseStatusClosed): {string(models.CaseStatusOpen)},
	},
	models.EntityTypeInvestigation: {
		string(models.InvestigationStatusNew):       {string(models.InvestigationStatusActive), string(models.InvestigationStatusClosed)},
		string(models.InvestigationStatusActive):    {string(models.InvestigationStatusOnHold), string(models.InvestigationStatusEscalated), string(models.InvestigationStatusResolved)},
		string(models.InvestigationStatusOnHold):    {string(models.InvestigationStatusActive), string(models.InvestigationStatusClosed)},
		string(models.InvestigationStatusEscalated): {string(models.InvestigationStatusActive), string(models.InvestigationStatusResolved)},
		string(models.InvestigationStatusResolved):  {string(models.InvestigationStatusActive), string(models.InvestigationStatusClosed)},
		string(models.InvestigationStatusClosed):    {},
	},
}

// LegalTransitions returns the statuses an entity may move to from its
// current status, sorted for stable output
func LegalTransitions(entityType, from string) []string {
	targets := statusTransitions[entityType][from]
	out := make([]string, len(targets))
	copy(out, targets)
	sort.Strings(out)
	return out
}

// NewStatusTransitionAction builds the status transition definition over a
// status store and an audit writer
func NewStatusTransitionAction(store StatusStore, audit AuditWriter) *Definition {
	a := &statusTransitionAction{store: store, audit: audit}

	return &Definition{
		ID:          StatusTransitionActionID,
		Name:        "Change status",
		Description: "Move a case or investigation to a new workflow status",
		Category:    models.CategoryStandard,
		EntityTypes: []string{models.EntityTypeCase, models.EntityTypeInvestigation},
		RequiredPermissions: []string{
			"status.update",
		},
		InputSchema: MustSchema(map[string]any{
			"type": "object",
			"properties": map[string]any{
				"status": map[string]any{
					"type":        "string",
					"minLength":   1,
					"description": "Target status for the entity",
				},
			},
			"required":             []any{"status"},
			"additionalProperties": false,
		}),
		CanExecute: a.canExecute,
		Preview:    a.preview,
		Execute:    a.execute,
		Undo:       a.undo,
	}
}

type statusTransitionAction struct {
	store StatusStore
	audit AuditWriter
}

func targetStatus(input map[string]any) string {
	s, _ := input["status"].(string)
	return s
}

// canExecute checks the transition against the legal graph. The entity is
// re-read on every call so the check always reflects current state.
func (a *statusTransitionAction) canExecute(ctx context.Context, actx *models.ActionContext, input map[string]any) error {
	current, err := a.store.GetStatus(ctx, actx.OrganizationID, actx.EntityType, actx.EntityID)
	if err != nil {
		return err
	}

	target := targetStatus(input)
	for _, allowed := range statusTransitions[actx.EntityType][current] {
		if allowed == target {
			return nil
		}
	}

	legal := LegalTransitions(actx.EntityType, current)
	if len(legal) == 0 {
		return fmt.Errorf("cannot transition %s from %s to %s; no transitions are allowed from %s",
			actx.EntityType, current, target, current)
	}
	return fmt.Errorf("cannot transition %s from %s to %s; legal transitions from %s: %s",
		actx.EntityType, current, target, current, strings.Join(legal, ", "))
}

func (a *statusTransitionAction) preview(ctx context.Context, actx *models.ActionContext, input map[string]any) (*models.ActionPreview, error) {
	current, err := a.store.GetStatus(ctx, actx.OrganizationID, actx.EntityType, actx.EntityID)
	if err != nil {
		return nil, err
	}

	target := targetStatus(input)
	preview := &models.ActionPreview{
		ActionID: StatusTransitionActionID,
		Summary:  fmt.Sprintf("Change %s status from %s to %s", actx.EntityType, current, target),
		Changes: []models.FieldChange{
			{Field: "status", OldValue: current, NewValue: target},
		},
	}

	if target == string(models.CaseStatusClosed) {
		preview.Warnings = append(preview.Warnings,
			fmt.Sprintf("closing a %s ends active work on it", actx.EntityType))
	}

	return preview, nil
}

// execute re-reads the entity before mutating so the recorded previous state
// is what was actually replaced, not what a stale caller saw
func (a *statusTransitionAction) execute(ctx context.Context, actx *models.ActionContext, input map[string]any) (*models.ActionResult, error) {
	current, err := a.store.GetStatus(ctx, actx.OrganizationID, actx.EntityType, actx.EntityID)
	if err != nil {
		return nil, err
	}

	target := targetStatus(input)
	if err := a.store.SetStatus(ctx, actx.OrganizationID, actx.EntityType, actx.EntityID, target); err != nil {
		return nil, err
	}

	if err := a.audit.Record(ctx, &models.AuditLog{
		ID:             uuid.New(),
		OrganizationID: actx.OrganizationID,
		EntityType:     actx.EntityType,
		EntityID:       actx.EntityID,
		Action:         "status_transition",
		ActorID:        actx.UserID,
		ActorType:      actx.ActorType,
		Changes:        models.JSONB{"status": map[string]any{"from": current, "to": target}},
		Timestamp:      time.Now(),
	}); err != nil {
		return nil, fmt.Errorf("failed to write audit entry: %w", err)
	}

	return &models.ActionResult{
		Summary:       fmt.Sprintf("%s status changed from %s to %s", actx.EntityType, current, target),
		Output:        models.JSONB{"status": target},
		PreviousState: models.JSONB{"status": current},
	}, nil
}

// undo restores the status captured at execute time and audits the restore
func (a *statusTransitionAction) undo(ctx context.Context, actx *models.ActionContext, record *models.ActionRecord) error {
	previous, ok := record.PreviousState["status"].(string)
	if !ok || previous == "" {
		return fmt.Errorf("record %s has no previous status to restore", record.ID)
	}

	current, err := a.store.GetStatus(ctx, record.OrganizationID, record.EntityType, record.EntityID)
	if err != nil {
		return err
	}

	if err := a.store.SetStatus(ctx, record.OrganizationID, record.EntityType, record.EntityID, previous); err != nil {
		return err
	}

	return a.audit.Record(ctx, &models.AuditLog{
		ID:             uuid.New(),
		OrganizationID: record.OrganizationID,
		EntityType:     record.EntityType,
		EntityID:       record.EntityID,
		Action:         "status_transition_undo",
		ActorID:        actx.UserID,
		ActorType:      actx.ActorType,
		Changes:        models.JSONB{"status": map[string]any{"from": current, "to": previous}},
		Timestamp:      time.Now(),
	})
}
