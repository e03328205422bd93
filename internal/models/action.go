package models

import (
	"time"

	"github.com/google/uuid"
)

// ActionCategory classifies how much ceremony an action carries before it runs
type ActionCategory string

const (
	// CategoryQuick actions are low-stakes and run without preview
	CategoryQuick ActionCategory = "QUICK"
	// CategoryStandard actions require preview and carry a medium undo window
	CategoryStandard ActionCategory = "STANDARD"
	// CategoryCritical actions require a preview step before execution
	CategoryCritical ActionCategory = "CRITICAL"
	// CategoryExternal actions have side effects outside the system and
	// require preview; they are never undoable
	CategoryExternal ActionCategory = "EXTERNAL"
)

// Valid reports whether the category is one of the known values
func (c ActionCategory) Valid() bool {
	switch c {
	case CategoryQuick, CategoryStandard, CategoryCritical, CategoryExternal:
		return true
	}
	return false
}

// RecordStatus is the lifecycle state of an action record
type RecordStatus string

const (
	RecordStatusExecuting RecordStatus = "EXECUTING"
	RecordStatusCompleted RecordStatus = "COMPLETED"
	RecordStatusFailed    RecordStatus = "FAILED"
	RecordStatusUndone    RecordStatus = "UNDONE"
)

// ActorType distinguishes who triggered an action
type ActorType string

const (
	ActorTypeUser   ActorType = "user"
	ActorTypeAgent  ActorType = "ai_agent"
	ActorTypeSystem ActorType = "system"
)

// ActionContext carries the caller identity and focus entity for a single
// action invocation. It is built from JWT claims for human callers and from
// the conversation context for agent callers.
type ActionContext struct {
	OrganizationID uuid.UUID `json:"organization_id"`
	UserID         uuid.UUID `json:"user_id"`
	Role           string    `json:"role"`
	Permissions    []string  `json:"permissions"`
	ActorType      ActorType `json:"actor_type"`

	EntityType string    `json:"entity_type"`
	EntityID   uuid.UUID `json:"entity_id"`
}

// HasPermission reports whether the context carries the named permission
func (c *ActionContext) HasPermission(perm string) bool {
	for _, p := range c.Permissions {
		if p == perm {
			return true
		}
	}
	return false
}

// MissingPermissions returns the subset of required not present on the context
func (c *ActionContext) MissingPermissions(required []string) []string {
	var missing []string
	for _, perm := range required {
		if !c.HasPermission(perm) {
			missing = append(missing, perm)
		}
	}
	return missing
}

// ActionRecord is the durable record of one action execution. Status moves
// EXECUTING -> COMPLETED or FAILED; COMPLETED -> UNDONE at most once.
type ActionRecord struct {
	ID             uuid.UUID    `json:"id" db:"id"`
	OrganizationID uuid.UUID    `json:"organization_id" db:"organization_id"`
	ActionID       string       `json:"action_id" db:"action_id"`
	EntityType     string       `json:"entity_type" db:"entity_type"`
	EntityID       uuid.UUID    `json:"entity_id" db:"entity_id"`
	ActorID        uuid.UUID    `json:"actor_id" db:"actor_id"`
	ActorType      ActorType    `json:"actor_type" db:"actor_type"`
	Status         RecordStatus `json:"status" db:"status"`
	Input          JSONB        `json:"input" db:"input"`
	Result         JSONB        `json:"result,omitempty" db:"result"`
	PreviousState  JSONB        `json:"previous_state,omitempty" db:"previous_state"`
	Error          *string      `json:"error,omitempty" db:"error"`
	Undoable       bool         `json:"undoable" db:"undoable"`
	UndoExpiresAt  *time.Time   `json:"undo_expires_at,omitempty" db:"undo_expires_at"`
	UndoneAt       *time.Time   `json:"undone_at,omitempty" db:"undone_at"`
	UndoneBy       *uuid.UUID   `json:"undone_by,omitempty" db:"undone_by"`
	StartedAt      time.Time    `json:"started_at" db:"started_at"`
	CompletedAt    *time.Time   `json:"completed_at,omitempty" db:"completed_at"`
}

// UndoState summarizes whether a record can still be undone at a point in time
type UndoState struct {
	Undoable  bool       `json:"undoable"`
	Reason    string     `json:"reason,omitempty"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// UndoStateAt evaluates undoability against a wall-clock instant. Expiry is
// passive: nothing flips the record when the window lapses, reads just
// compare timestamps.
func (r *ActionRecord) UndoStateAt(now time.Time) UndoState {
	switch r.Status {
	case RecordStatusUndone:
		return UndoState{Reason: "already undone"}
	case RecordStatusExecuting, RecordStatusFailed:
		return UndoState{Reason: "action did not complete"}
	}

	if !r.Undoable {
		return UndoState{Reason: "action is not undoable"}
	}
	if r.UndoExpiresAt == nil {
		return UndoState{Reason: "action has no undo window"}
	}
	if !now.Before(*r.UndoExpiresAt) {
		return UndoState{Reason: "undo window expired", ExpiresAt: r.UndoExpiresAt}
	}
	return UndoState{Undoable: true, ExpiresAt: r.UndoExpiresAt}
}

// ActionPreview describes what an action would do without doing it.
// Generated fresh on every call and never persisted.
type ActionPreview struct {
	ActionID string        `json:"action_id"`
	Summary  string        `json:"summary"`
	Changes  []FieldChange `json:"changes,omitempty"`
	Warnings []string      `json:"warnings,omitempty"`
}

// FieldChange is one field-level diff inside a preview or an executed result
type FieldChange struct {
	Field    string      `json:"field"`
	OldValue interface{} `json:"old_value"`
	NewValue interface{} `json:"new_value"`
}

// ActionResult is what an action's execute behavior returns
type ActionResult struct {
	Summary string `json:"summary"`
	Output  JSONB  `json:"output,omitempty"`

	// PreviousState is the snapshot undo restores from. Nil means the
	// execution cannot be undone regardless of the definition's window.
	PreviousState JSONB `json:"previous_state,omitempty"`
}

// ExecutionResult is the executor's structured reply to an execute call.
// Execution-time failures come back with Success=false rather than as errors;
// only pre-execution validation surfaces as an error return.
type ExecutionResult struct {
	Success       bool          `json:"success"`
	RecordID      uuid.UUID     `json:"record_id"`
	Result        *ActionResult `json:"result,omitempty"`
	Error         string        `json:"error,omitempty"`
	UndoAvailable bool          `json:"undo_available"`
	UndoExpiresAt *time.Time    `json:"undo_expires_at,omitempty"`
}

// ActionRecordFilter narrows history queries
type ActionRecordFilter struct {
	EntityType string
	EntityID   uuid.UUID
	ActionID   string
	ActorID    uuid.UUID
	Status     RecordStatus
	Limit      int
	Offset     int
}
