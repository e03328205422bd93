package models

import (
	"time"

	"github.com/google/uuid"
)

// AuditLog represents an append-only audit log entry
type AuditLog struct {
	ID             uuid.UUID `json:"id" db:"id"`
	OrganizationID uuid.UUID `json:"organization_id" db:"organization_id"`
	EntityType     string    `json:"entity_type" db:"entity_type"`
	EntityID       uuid.UUID `json:"entity_id" db:"entity_id"`
	Action         string    `json:"action" db:"action"`
	ActorID        uuid.UUID `json:"actor_id" db:"actor_id"`
	ActorType      ActorType `json:"actor_type" db:"actor_type"`
	Changes        JSONB     `json:"changes" db:"changes"`
	Timestamp      time.Time `json:"timestamp" db:"timestamp"`
}

// AuditFilter narrows audit queries
type AuditFilter struct {
	EntityType string
	EntityID   uuid.UUID
	ActorID    uuid.UUID
	Limit      int
	Offset     int
}
