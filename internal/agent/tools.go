package agent

import (
	"fmt"
	"sort"
	"strings"

	"github.com/caseloop/caseloop/internal/actions"
	"github.com/caseloop/caseloop/internal/models"
	"github.com/caseloop/caseloop/pkg/llm"
)

// actionToolPrefix namespaces catalog actions in the tool list so dispatch
// can tell them apart from skills
const actionToolPrefix = "action__"

// ActionToolName returns the tool name a catalog action is exposed under
func ActionToolName(actionID string) string {
	return actionToolPrefix + actionID
}

// ParseActionToolName extracts the action id from a prefixed tool name
func ParseActionToolName(name string) (string, bool) {
	if !strings.HasPrefix(name, actionToolPrefix) {
		return "", false
	}
	return strings.TrimPrefix(name, actionToolPrefix), true
}

// Toolset resolves tool names to skills or catalog actions. One toolset is
// shared across agents; the per-caller view comes from Definitions.
type Toolset struct {
	skills  map[string]Skill
	catalog *actions.Catalog
}

// NewToolset builds a toolset from the registered skills and the catalog
func NewToolset(catalog *actions.Catalog, skills []Skill) (*Toolset, error) {
	byName := make(map[string]Skill, len(skills))
	for _, skill := range skills {
		if strings.HasPrefix(skill.Name, actionToolPrefix) {
			return nil, fmt.Errorf("skill name %q collides with the action tool prefix", skill.Name)
		}
		if _, exists := byName[skill.Name]; exists {
			return nil, fmt.Errorf("duplicate skill name %q", skill.Name)
		}
		byName[skill.Name] = skill
	}

	return &Toolset{skills: byName, catalog: catalog}, nil
}

// Skill looks up a skill by tool name
func (t *Toolset) Skill(name string) (Skill, bool) {
	skill, ok := t.skills[name]
	return skill, ok
}

// Definitions returns the tool list for a caller: every skill plus the
// catalog actions the caller's context permits, each under its prefixed name
func (t *Toolset) Definitions(actx *models.ActionContext) []llm.ToolDefinition {
	defs := make([]llm.ToolDefinition, 0, len(t.skills))

	for _, skill := range t.skills {
		schema := skill.InputSchema
		if schema == nil {
			schema = map[string]any{"type": "object"}
		}
		defs = append(defs, llm.ToolDefinition{
			Name:        skill.Name,
			Description: skill.Description,
			InputSchema: schema,
		})
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })

	available := t.catalog.GetAvailableActions(actions.AvailableActionsFilter{
		EntityType:  actx.EntityType,
		Permissions: actx.Permissions,
	})
	for _, def := range available {
		schema := map[string]any{"type": "object"}
		if def.InputSchema != nil {
			schema = def.InputSchema.Describe()
		}
		defs = append(defs, llm.ToolDefinition{
			Name:        ActionToolName(def.ID),
			Description: def.Description,
			InputSchema: schema,
		})
	}

	return defs
}
