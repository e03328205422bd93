package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/caseloop/caseloop/internal/engine"
	"github.com/caseloop/caseloop/pkg/config"
	"github.com/caseloop/caseloop/pkg/llm"
	"github.com/caseloop/caseloop/pkg/logger"
	"github.com/caseloop/caseloop/pkg/metrics"
)

// RedisRateLimiter enforces a fixed-window token budget per organization.
// Counters live in Redis so the budget holds across API instances. Redis
// being down degrades to allowing traffic; agent turns should not fail
// because the limiter store is unreachable.
type RedisRateLimiter struct {
	client  *redis.Client
	cfg     config.RateLimitConfig
	metrics *metrics.Metrics
	logger  *logger.Logger

	now func() time.Time
}

// NewRedisRateLimiter creates a rate limiter. metrics may be nil in tests.
func NewRedisRateLimiter(client *redis.Client, cfg config.RateLimitConfig, m *metrics.Metrics, log *logger.Logger) *RedisRateLimiter {
	return &RedisRateLimiter{
		client:  client,
		cfg:     cfg,
		metrics: m,
		logger:  log,
		now:     time.Now,
	}
}

func (r *RedisRateLimiter) windowKey(orgID uuid.UUID, now time.Time) (string, time.Time) {
	windowStart := now.Truncate(r.cfg.Window)
	key := fmt.Sprintf("ratelimit:org:%s:%d", orgID, windowStart.Unix())
	return key, windowStart
}

// CheckBudget rejects with a RateLimitError when the organization's spent
// tokens plus the estimated cost would exceed the window budget.
//
// Check and charge are separate round trips: concurrent turns that each fit
// individually can overshoot the window by their combined estimates before
// RecordUsage settles. The budget is a throttle, not a hard ceiling; a turn
// admitted here is never aborted mid-stream.
func (r *RedisRateLimiter) CheckBudget(ctx context.Context, orgID uuid.UUID, estimatedTokens int) error {
	now := r.now()
	key, windowStart := r.windowKey(orgID, now)

	used, err := r.client.Get(ctx, key).Int()
	if err == redis.Nil {
		return nil
	}
	if err != nil {
		r.logger.Warn("rate limiter store unavailable, allowing request",
			logger.String("organization_id", orgID.String()),
			logger.Err(err))
		return nil
	}

	if used+estimatedTokens > r.cfg.OrgTokensPerWindow {
		if r.metrics != nil {
			r.metrics.AgentRateLimitedTotal.Inc()
		}
		retryAfter := windowStart.Add(r.cfg.Window).Sub(now)
		return &engine.RateLimitError{RetryAfter: retryAfter}
	}

	return nil
}

// RecordUsage charges consumed tokens against the organization's window.
// Best effort: a write failure is logged, never surfaced to the caller.
func (r *RedisRateLimiter) RecordUsage(ctx context.Context, orgID uuid.UUID, usage llm.TokenUsage) {
	if usage.TotalTokens <= 0 {
		return
	}

	key, _ := r.windowKey(orgID, r.now())

	pipe := r.client.Pipeline()
	pipe.IncrBy(ctx, key, int64(usage.TotalTokens))
	pipe.Expire(ctx, key, 2*r.cfg.Window)
	if _, err := pipe.Exec(ctx); err != nil {
		r.logger.Warn("failed to record token usage",
			logger.String("organization_id", orgID.String()),
			logger.Int("tokens", usage.TotalTokens),
			logger.Err(err))
	}

	if r.metrics != nil {
		r.metrics.AgentTokensConsumed.WithLabelValues("prompt").Add(float64(usage.PromptTokens))
		r.metrics.AgentTokensConsumed.WithLabelValues("completion").Add(float64(usage.CompletionTokens))
	}
}
