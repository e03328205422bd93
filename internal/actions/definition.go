package actions

import (
	"context"
	"time"

	"github.com/caseloop/caseloop/internal/models"
)

// PreviewFunc generates a dry-run description of what execute would do.
// It must not mutate anything.
type PreviewFunc func(ctx context.Context, actx *models.ActionContext, input map[string]any) (*models.ActionPreview, error)

// ExecuteFunc performs the action. A non-nil PreviousState on the result is
// the snapshot undo restores from; a nil one makes this execution
// non-undoable.
type ExecuteFunc func(ctx context.Context, actx *models.ActionContext, input map[string]any) (*models.ActionResult, error)

// UndoFunc reverses a completed execution from its recorded previous state
type UndoFunc func(ctx context.Context, actx *models.ActionContext, record *models.ActionRecord) error

// CanExecuteFunc is an optional business-rule gate checked before preview and
// execute. A returned error rejects the call with its message as the reason.
type CanExecuteFunc func(ctx context.Context, actx *models.ActionContext, input map[string]any) error

// Definition declares an action: what it is called, who may run it, what
// input it takes, and its preview/execute/undo behaviors. Definitions are
// immutable after registration.
type Definition struct {
	ID                  string
	Name                string
	Description         string
	Category            models.ActionCategory
	EntityTypes         []string
	RequiredPermissions []string
	InputSchema         *Schema

	// UndoWindow overrides the category default when set.
	// Zero means never undoable.
	UndoWindow *time.Duration

	CanExecute CanExecuteFunc
	Preview    PreviewFunc
	Execute    ExecuteFunc
	Undo       UndoFunc
}

// SupportsEntityType reports whether the definition applies to an entity type
func (d *Definition) SupportsEntityType(entityType string) bool {
	for _, t := range d.EntityTypes {
		if t == entityType {
			return true
		}
	}
	return false
}

// UndoWindowOverride is a convenience for building definitions with an
// explicit window
func UndoWindowOverride(window time.Duration) *time.Duration {
	return &window
}
