package actions

import (
	"time"

	"github.com/caseloop/caseloop/internal/models"
)

// categoryPolicy is the single place category behavior is decided. Adding a
// category means adding one row here.
type categoryPolicy struct {
	// RequiresPreview gates direct execution behind an explicit preview step
	RequiresPreview bool

	// DefaultUndoWindow applies when a definition does not set its own.
	// Zero means not undoable by default.
	DefaultUndoWindow time.Duration
}

var categoryPolicies = map[models.ActionCategory]categoryPolicy{
	models.CategoryQuick:    {RequiresPreview: false, DefaultUndoWindow: 30 * time.Second},
	models.CategoryStandard: {RequiresPreview: true, DefaultUndoWindow: 5 * time.Minute},
	models.CategoryCritical: {RequiresPreview: true, DefaultUndoWindow: time.Hour},
	models.CategoryExternal: {RequiresPreview: true, DefaultUndoWindow: 0},
}

// policyFor returns the policy row for a category. Unknown categories get the
// most conservative treatment.
func policyFor(category models.ActionCategory) categoryPolicy {
	if p, ok := categoryPolicies[category]; ok {
		return p
	}
	return categoryPolicy{RequiresPreview: true, DefaultUndoWindow: 0}
}
