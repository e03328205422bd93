package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/caseloop/caseloop/internal/models"
	"github.com/caseloop/caseloop/pkg/logger"
)

// PromptContext is the layered data the system prompt renders from:
// organization, team, user, then the entity in focus
type PromptContext struct {
	OrgName       string `json:"org_name"`
	OrgGuidelines string `json:"org_guidelines,omitempty"`
	TeamName      string `json:"team_name,omitempty"`
	TeamFocus     string `json:"team_focus,omitempty"`
	UserName      string `json:"user_name,omitempty"`
	UserRole      string `json:"user_role,omitempty"`
	EntityType    string `json:"entity_type,omitempty"`
	EntityTitle   string `json:"entity_title,omitempty"`
	EntityStatus  string `json:"entity_status,omitempty"`
}

// ContextLoader assembles the prompt context hierarchy. The entity layer
// requires a database read, so loaded layers are cached in Redis for the
// configured TTL. Cache failures degrade to a direct load.
type ContextLoader struct {
	cases   CaseReader
	redis   *redis.Client
	ttl     time.Duration
	orgName string
	logger  *logger.Logger
}

// NewContextLoader creates a context loader. redisClient may be nil, which
// disables caching.
func NewContextLoader(cases CaseReader, redisClient *redis.Client, orgName string, ttl time.Duration, log *logger.Logger) *ContextLoader {
	return &ContextLoader{
		cases:   cases,
		redis:   redisClient,
		ttl:     ttl,
		orgName: orgName,
		logger:  log,
	}
}

func (l *ContextLoader) cacheKey(actx *models.ActionContext) string {
	return fmt.Sprintf("agentctx:%s:%s:%s", actx.OrganizationID, actx.EntityType, actx.EntityID)
}

// Load builds the prompt context for a caller
func (l *ContextLoader) Load(ctx context.Context, actx *models.ActionContext) (*PromptContext, error) {
	pc := &PromptContext{
		OrgName:    l.orgName,
		UserName:   actx.UserID.String(),
		UserRole:   actx.Role,
		EntityType: actx.EntityType,
	}

	if actx.EntityType == "" {
		return pc, nil
	}

	entity, err := l.loadEntityLayer(ctx, actx)
	if err != nil {
		return nil, err
	}
	pc.EntityTitle = entity.EntityTitle
	pc.EntityStatus = entity.EntityStatus

	return pc, nil
}

type entityLayer struct {
	EntityTitle  string `json:"entity_title"`
	EntityStatus string `json:"entity_status"`
}

func (l *ContextLoader) loadEntityLayer(ctx context.Context, actx *models.ActionContext) (*entityLayer, error) {
	key := l.cacheKey(actx)

	if l.redis != nil {
		cached, err := l.redis.Get(ctx, key).Result()
		if err == nil {
			layer := &entityLayer{}
			if err := json.Unmarshal([]byte(cached), layer); err == nil {
				return layer, nil
			}
		} else if err != redis.Nil {
			l.logger.Warn("context cache read failed", logger.String("key", key), logger.Err(err))
		}
	}

	layer, err := l.fetchEntityLayer(ctx, actx)
	if err != nil {
		return nil, err
	}

	if l.redis != nil {
		if data, err := json.Marshal(layer); err == nil {
			if err := l.redis.Set(ctx, key, data, l.ttl).Err(); err != nil {
				l.logger.Warn("context cache write failed", logger.String("key", key), logger.Err(err))
			}
		}
	}

	return layer, nil
}

func (l *ContextLoader) fetchEntityLayer(ctx context.Context, actx *models.ActionContext) (*entityLayer, error) {
	switch actx.EntityType {
	case models.EntityTypeCase:
		c, err := l.cases.GetCase(ctx, actx.OrganizationID, actx.EntityID)
		if err != nil {
			return nil, fmt.Errorf("failed to load case context: %w", err)
		}
		return &entityLayer{EntityTitle: c.Title, EntityStatus: string(c.Status)}, nil

	case models.EntityTypeInvestigation:
		inv, err := l.cases.GetInvestigation(ctx, actx.OrganizationID, actx.EntityID)
		if err != nil {
			return nil, fmt.Errorf("failed to load investigation context: %w", err)
		}
		return &entityLayer{EntityTitle: inv.Title, EntityStatus: string(inv.Status)}, nil

	default:
		return nil, fmt.Errorf("unknown entity type %q", actx.EntityType)
	}
}

// Invalidate drops the cached entity layer, e.g. after a status change
func (l *ContextLoader) Invalidate(ctx context.Context, actx *models.ActionContext) {
	if l.redis == nil {
		return
	}
	if err := l.redis.Del(ctx, l.cacheKey(actx)).Err(); err != nil {
		l.logger.Warn("context cache invalidation failed", logger.Err(err))
	}
}
