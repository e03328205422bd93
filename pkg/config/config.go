package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Logger    LoggerConfig
	App       AppConfig
	LLM       LLMConfig
	Agent     AgentConfig
	RateLimit RateLimitConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// DatabaseConfig holds PostgreSQL configuration
type DatabaseConfig struct {
	Host            string
	Port            int
	User            string
	Password        string
	Database        string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// LoggerConfig holds logging configuration
type LoggerConfig struct {
	Level  string
	Format string // json or text
}

// AppConfig holds application-specific configuration
type AppConfig struct {
	Environment string
	Version     string
	Name        string
}

// LLMConfig holds model provider configuration
type LLMConfig struct {
	Provider     string // anthropic or openai
	APIKey       string
	DefaultModel string
	MaxTokens    int
	Timeout      time.Duration
	MaxRetries   int
	RetryDelay   time.Duration
}

// AgentConfig holds agent loop configuration
type AgentConfig struct {
	HistoryLimit  int
	MaxToolRounds int
	CacheTTL      time.Duration

	// RequirePreviewCategories lists action categories for which AI-initiated
	// tool calls must NOT skip the preview guard. Empty by default: the agent
	// executes its own tool decisions directly.
	RequirePreviewCategories []string
}

// RateLimitConfig holds per-organization token budget configuration
type RateLimitConfig struct {
	OrgTokensPerWindow int
	Window             time.Duration
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Host:            getEnv("SERVER_HOST", "0.0.0.0"),
			Port:            getEnvAsInt("SERVER_PORT", 8080),
			ReadTimeout:     getEnvAsDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getEnvAsDuration("SERVER_WRITE_TIMEOUT", 120*time.Second),
			ShutdownTimeout: getEnvAsDuration("SERVER_SHUTDOWN_TIMEOUT", 30*time.Second),
		},
		Database: DatabaseConfig{
			Host:            getEnv("DB_HOST", "localhost"),
			Port:            getEnvAsInt("DB_PORT", 5432),
			User:            getEnv("DB_USER", "postgres"),
			Password:        getEnv("DB_PASSWORD", "postgres"),
			Database:        getEnv("DB_NAME", "caseloop"),
			SSLMode:         getEnv("DB_SSL_MODE", "disable"),
			MaxOpenConns:    getEnvAsInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getEnvAsDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnvAsInt("REDIS_PORT", 6379),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		Logger: LoggerConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
		App: AppConfig{
			Environment: getEnv("APP_ENV", "development"),
			Version:     getEnv("APP_VERSION", "0.1.0"),
			Name:        getEnv("APP_NAME", "caseloop"),
		},
		LLM: LLMConfig{
			Provider:     getEnv("LLM_PROVIDER", "anthropic"),
			APIKey:       getEnv("LLM_API_KEY", ""),
			DefaultModel: getEnv("LLM_DEFAULT_MODEL", ""),
			MaxTokens:    getEnvAsInt("LLM_MAX_TOKENS", 4096),
			Timeout:      getEnvAsDuration("LLM_TIMEOUT", 120*time.Second),
			MaxRetries:   getEnvAsInt("LLM_MAX_RETRIES", 2),
			RetryDelay:   getEnvAsDuration("LLM_RETRY_DELAY", 2*time.Second),
		},
		Agent: AgentConfig{
			HistoryLimit:             getEnvAsInt("AGENT_HISTORY_LIMIT", 20),
			MaxToolRounds:            getEnvAsInt("AGENT_MAX_TOOL_ROUNDS", 5),
			CacheTTL:                 getEnvAsDuration("AGENT_CACHE_TTL", 10*time.Minute),
			RequirePreviewCategories: getEnvAsSlice("AGENT_REQUIRE_PREVIEW_CATEGORIES", nil),
		},
		RateLimit: RateLimitConfig{
			OrgTokensPerWindow: getEnvAsInt("RATE_LIMIT_ORG_TOKENS", 100000),
			Window:             getEnvAsDuration("RATE_LIMIT_WINDOW", time.Minute),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}

	if c.Database.Database == "" {
		return fmt.Errorf("database name is required")
	}

	if c.Redis.Host == "" {
		return fmt.Errorf("redis host is required")
	}

	switch c.LLM.Provider {
	case "anthropic", "openai":
	default:
		return fmt.Errorf("unsupported llm provider: %s", c.LLM.Provider)
	}

	if c.Agent.MaxToolRounds <= 0 {
		return fmt.Errorf("agent max tool rounds must be positive")
	}

	if c.RateLimit.OrgTokensPerWindow <= 0 {
		return fmt.Errorf("rate limit token budget must be positive")
	}

	return nil
}

// DatabaseDSN returns the PostgreSQL connection string
func (c *Config) DatabaseDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Database.Host,
		c.Database.Port,
		c.Database.User,
		c.Database.Password,
		c.Database.Database,
		c.Database.SSLMode,
	)
}

// RedisAddr returns the Redis address
func (c *Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getEnvAsSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				out = append(out, trimmed)
			}
		}
		return out
	}
	return defaultValue
}
