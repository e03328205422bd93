package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the application
type Metrics struct {
	// HTTP Metrics
	HTTPRequestsTotal *prometheus.CounterVec
	HTTPDuration      *prometheus.HistogramVec

	// Action Metrics
	ActionExecutionsTotal *prometheus.CounterVec
	ActionDuration        *prometheus.HistogramVec
	ActionPreviewsTotal   *prometheus.CounterVec
	ActionUndosTotal      *prometheus.CounterVec

	// Agent Metrics
	AgentTurnsTotal       *prometheus.CounterVec
	AgentTurnDuration     *prometheus.HistogramVec
	AgentToolCallsTotal   *prometheus.CounterVec
	AgentTokensConsumed   *prometheus.CounterVec
	AgentRateLimitedTotal prometheus.Counter

	// Database Metrics
	DBQueryDuration *prometheus.HistogramVec
	DBQueryErrors   *prometheus.CounterVec
}

// New creates and registers all Prometheus metrics
func New() *Metrics {
	return &Metrics{
		HTTPRequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		ActionExecutionsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "action_executions_total",
				Help: "Total number of action executions by action id and outcome",
			},
			[]string{"action_id", "outcome"},
		),
		ActionDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "action_execution_duration_seconds",
				Help:    "Action execution latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"action_id"},
		),
		ActionPreviewsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "action_previews_total",
				Help: "Total number of action previews",
			},
			[]string{"action_id"},
		),
		ActionUndosTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "action_undos_total",
				Help: "Total number of undo attempts by outcome",
			},
			[]string{"action_id", "outcome"},
		),
		AgentTurnsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agent_turns_total",
				Help: "Total number of agent chat turns by outcome",
			},
			[]string{"agent_type", "outcome"},
		),
		AgentTurnDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "agent_turn_duration_seconds",
				Help:    "Full agent turn latency in seconds",
				Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120},
			},
			[]string{"agent_type"},
		),
		AgentToolCallsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agent_tool_calls_total",
				Help: "Total number of tool dispatches by tool and outcome",
			},
			[]string{"tool", "outcome"},
		),
		AgentTokensConsumed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agent_tokens_consumed_total",
				Help: "Total provider tokens consumed by direction",
			},
			[]string{"direction"},
		),
		AgentRateLimitedTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "agent_rate_limited_total",
				Help: "Total number of chat turns rejected by the rate limiter",
			},
		),
		DBQueryDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "db_query_duration_seconds",
				Help:    "Database query latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"query"},
		),
		DBQueryErrors: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "db_query_errors_total",
				Help: "Total number of database query errors",
			},
			[]string{"query"},
		),
	}
}
