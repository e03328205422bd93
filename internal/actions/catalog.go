package actions

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/caseloop/caseloop/internal/models"
	"github.com/caseloop/caseloop/pkg/logger"
)

// Catalog is the in-memory registry of action definitions. Lookups never
// fail with an error; a missing id simply comes back absent.
type Catalog struct {
	mu          sync.RWMutex
	definitions map[string]*Definition
	logger      *logger.Logger
}

// NewCatalog creates an empty catalog
func NewCatalog(log *logger.Logger) *Catalog {
	return &Catalog{
		definitions: make(map[string]*Definition),
		logger:      log,
	}
}

// Register adds a definition to the catalog. Registration is idempotent by
// id: a later registration replaces the earlier one with a logged warning.
func (c *Catalog) Register(def *Definition) error {
	if def == nil || def.ID == "" {
		return fmt.Errorf("action definition requires an id")
	}
	if !def.Category.Valid() {
		return fmt.Errorf("action %s has unknown category %q", def.ID, def.Category)
	}
	if len(def.EntityTypes) == 0 {
		return fmt.Errorf("action %s declares no entity types", def.ID)
	}
	if def.Execute == nil {
		return fmt.Errorf("action %s has no execute behavior", def.ID)
	}
	if policyFor(def.Category).RequiresPreview && def.Preview == nil {
		return fmt.Errorf("action %s requires preview but has no preview behavior", def.ID)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.definitions[def.ID]; exists {
		c.logger.Warn("action registered twice, replacing earlier definition",
			logger.String("action_id", def.ID))
	}
	c.definitions[def.ID] = def

	return nil
}

// Get returns the definition for an id, absent if unknown
func (c *Catalog) Get(id string) (*Definition, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	def, ok := c.definitions[id]
	return def, ok
}

// AvailableActionsFilter narrows GetAvailableActions
type AvailableActionsFilter struct {
	EntityType  string
	Permissions []string
	Category    models.ActionCategory // optional
}

// GetAvailableActions returns the definitions a caller can run: the entity
// type must be supported, every required permission present, and the
// category must match when the filter names one. Results are ordered by id.
func (c *Catalog) GetAvailableActions(filter AvailableActionsFilter) []*Definition {
	caller := &models.ActionContext{Permissions: filter.Permissions}

	c.mu.RLock()
	defer c.mu.RUnlock()

	var out []*Definition
	for _, def := range c.definitions {
		if !def.SupportsEntityType(filter.EntityType) {
			continue
		}
		if len(caller.MissingPermissions(def.RequiredPermissions)) > 0 {
			continue
		}
		if filter.Category != "" && def.Category != filter.Category {
			continue
		}
		out = append(out, def)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// RequiresPreview reports whether direct execution of the action must be
// preceded by a preview. Unknown ids report false.
func (c *Catalog) RequiresPreview(id string) bool {
	def, ok := c.Get(id)
	if !ok {
		return false
	}
	return policyFor(def.Category).RequiresPreview
}

// UndoWindow returns the undo window for an action: the definition's own
// override if set, otherwise the category default. Zero means not undoable.
func (c *Catalog) UndoWindow(id string) time.Duration {
	def, ok := c.Get(id)
	if !ok {
		return 0
	}
	if def.UndoWindow != nil {
		return *def.UndoWindow
	}
	return policyFor(def.Category).DefaultUndoWindow
}

// Undoable reports whether an action can be undone at all: it needs both an
// undo behavior and a non-zero window
func (c *Catalog) Undoable(id string) bool {
	def, ok := c.Get(id)
	if !ok {
		return false
	}
	return def.Undo != nil && c.UndoWindow(id) > 0
}
