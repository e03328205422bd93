package testutil

import (
	"time"

	"github.com/google/uuid"

	"github.com/caseloop/caseloop/internal/models"
)

// FixtureBuilder provides methods to create test fixtures
type FixtureBuilder struct{}

// NewFixtureBuilder creates a new fixture builder
func NewFixtureBuilder() *FixtureBuilder {
	return &FixtureBuilder{}
}

// Case creates a test compliance case
func (fb *FixtureBuilder) Case(orgID uuid.UUID, overrides ...func(*models.Case)) *models.Case {
	now := time.Now()

	c := &models.Case{
		ID:             uuid.New(),
		OrganizationID: orgID,
		Title:          "Suspicious wire transfers",
		Description:    "Multiple transfers just under the reporting threshold",
		Status:         models.CaseStatusOpen,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	for _, override := range overrides {
		override(c)
	}

	return c
}

// Investigation creates a test investigation linked to a case
func (fb *FixtureBuilder) Investigation(orgID, caseID uuid.UUID, overrides ...func(*models.Investigation)) *models.Investigation {
	now := time.Now()

	inv := &models.Investigation{
		ID:             uuid.New(),
		OrganizationID: orgID,
		CaseID:         UUIDPtr(caseID),
		Title:          "Trace counterparty accounts",
		Description:    "Follow the transfer chain across correspondent banks",
		Status:         models.InvestigationStatusActive,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	for _, override := range overrides {
		override(inv)
	}

	return inv
}

// ActionContext creates a caller context focused on an entity
func (fb *FixtureBuilder) ActionContext(orgID uuid.UUID, entityType string, entityID uuid.UUID, overrides ...func(*models.ActionContext)) *models.ActionContext {
	actx := &models.ActionContext{
		OrganizationID: orgID,
		UserID:         uuid.New(),
		Role:           "investigator",
		Permissions:    []string{"status.update"},
		ActorType:      models.ActorTypeUser,
		EntityType:     entityType,
		EntityID:       entityID,
	}

	for _, override := range overrides {
		override(actx)
	}

	return actx
}

// ActionRecord creates a completed test action record with an open undo window
func (fb *FixtureBuilder) ActionRecord(orgID uuid.UUID, overrides ...func(*models.ActionRecord)) *models.ActionRecord {
	now := time.Now()

	record := &models.ActionRecord{
		ID:             uuid.New(),
		OrganizationID: orgID,
		ActionID:       "update-status",
		EntityType:     models.EntityTypeCase,
		EntityID:       uuid.New(),
		ActorID:        uuid.New(),
		ActorType:      models.ActorTypeUser,
		Status:         models.RecordStatusCompleted,
		Input:          models.JSONB{"status": "OPEN"},
		Result:         models.JSONB{"summary": "Moved case to OPEN"},
		PreviousState:  models.JSONB{"status": "NEW"},
		Undoable:       true,
		UndoExpiresAt:  TimePtr(now.Add(5 * time.Minute)),
		StartedAt:      now,
		CompletedAt:    TimePtr(now),
	}

	for _, override := range overrides {
		override(record)
	}

	return record
}

// AuditLog creates a test audit entry
func (fb *FixtureBuilder) AuditLog(orgID uuid.UUID, overrides ...func(*models.AuditLog)) *models.AuditLog {
	entry := &models.AuditLog{
		ID:             uuid.New(),
		OrganizationID: orgID,
		EntityType:     models.EntityTypeCase,
		EntityID:       uuid.New(),
		Action:         "status_changed",
		ActorID:        uuid.New(),
		ActorType:      models.ActorTypeUser,
		Changes:        models.JSONB{"from": "NEW", "to": "OPEN"},
		Timestamp:      time.Now(),
	}

	for _, override := range overrides {
		override(entry)
	}

	return entry
}

// Conversation creates a test conversation focused on an entity
func (fb *FixtureBuilder) Conversation(orgID uuid.UUID, overrides ...func(*models.Conversation)) *models.Conversation {
	now := time.Now()

	conv := &models.Conversation{
		ID:             uuid.New(),
		OrganizationID: orgID,
		UserID:         uuid.New(),
		AgentType:      "case_assistant",
		EntityType:     models.EntityTypeCase,
		EntityID:       UUIDPtr(uuid.New()),
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	for _, override := range overrides {
		override(conv)
	}

	return conv
}

// ChatMessage creates a test chat message
func (fb *FixtureBuilder) ChatMessage(conversationID uuid.UUID, overrides ...func(*models.ChatMessage)) *models.ChatMessage {
	msg := &models.ChatMessage{
		ID:             uuid.New(),
		ConversationID: conversationID,
		Role:           models.MessageRoleUser,
		Content:        "Summarize this case",
		CreatedAt:      time.Now(),
	}

	for _, override := range overrides {
		override(msg)
	}

	return msg
}

// Helper functions

// StringPtr returns a pointer to a string
func StringPtr(s string) *string {
	return &s
}

// Int64Ptr returns a pointer to an int64
func Int64Ptr(i int64) *int64 {
	return &i
}

// IntPtr returns a pointer to an int
func IntPtr(i int) *int {
	return &i
}

// TimePtr returns a pointer to a time
func TimePtr(t time.Time) *time.Time {
	return &t
}

// UUIDPtr returns a pointer to a UUID
func UUIDPtr(id uuid.UUID) *uuid.UUID {
	return &id
}
