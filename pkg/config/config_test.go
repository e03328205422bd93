package config

import (
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}

	if cfg.Server.Port != 8080 {
		t.Errorf("expected default server port 8080, got %d", cfg.Server.Port)
	}
	if cfg.Database.Database != "caseloop" {
		t.Errorf("expected default database name caseloop, got %s", cfg.Database.Database)
	}
	if cfg.LLM.Provider != "anthropic" {
		t.Errorf("expected default llm provider anthropic, got %s", cfg.LLM.Provider)
	}
	if cfg.Agent.MaxToolRounds != 5 {
		t.Errorf("expected default max tool rounds 5, got %d", cfg.Agent.MaxToolRounds)
	}
	if cfg.RateLimit.Window != time.Minute {
		t.Errorf("expected default rate limit window 1m, got %v", cfg.RateLimit.Window)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("SERVER_PORT", "9090")
	t.Setenv("LLM_PROVIDER", "openai")
	t.Setenv("AGENT_REQUIRE_PREVIEW_CATEGORIES", "CRITICAL, EXTERNAL")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Errorf("expected server port 9090, got %d", cfg.Server.Port)
	}
	if cfg.LLM.Provider != "openai" {
		t.Errorf("expected llm provider openai, got %s", cfg.LLM.Provider)
	}
	if len(cfg.Agent.RequirePreviewCategories) != 2 {
		t.Fatalf("expected 2 preview categories, got %v", cfg.Agent.RequirePreviewCategories)
	}
	if cfg.Agent.RequirePreviewCategories[0] != "CRITICAL" || cfg.Agent.RequirePreviewCategories[1] != "EXTERNAL" {
		t.Errorf("unexpected preview categories: %v", cfg.Agent.RequirePreviewCategories)
	}
}

func TestValidate_Rejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"invalid port", func(c *Config) { c.Server.Port = -1 }},
		{"missing db host", func(c *Config) { c.Database.Host = "" }},
		{"unknown provider", func(c *Config) { c.LLM.Provider = "mistral" }},
		{"zero tool rounds", func(c *Config) { c.Agent.MaxToolRounds = 0 }},
		{"zero token budget", func(c *Config) { c.RateLimit.OrgTokensPerWindow = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load()
			if err != nil {
				t.Fatalf("Load() returned error: %v", err)
			}
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Errorf("expected validation error")
			}
		})
	}
}
