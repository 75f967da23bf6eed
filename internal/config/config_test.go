package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Orchestrator.MaxConcurrent != 10 {
		t.Errorf("default max_concurrent = %d, want 10", cfg.Orchestrator.MaxConcurrent)
	}
	if cfg.Orchestrator.TokenCeiling != 100000 {
		t.Errorf("default token_ceiling = %d, want 100000", cfg.Orchestrator.TokenCeiling)
	}
	if cfg.Orchestrator.MaxIterations != 3 {
		t.Errorf("default max_iterations = %d, want 3", cfg.Orchestrator.MaxIterations)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func TestLoadMissingFile(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("Load of missing file should fall back to defaults: %v", err)
	}
	if cfg.Orchestrator.MaxConcurrent != 10 {
		t.Errorf("expected defaults, got max_concurrent=%d", cfg.Orchestrator.MaxConcurrent)
	}
}

func TestLoadYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
orchestrator:
  max_concurrent: 4
  token_ceiling: 50000
  outer_timeout: 120s
llm:
  model: gpt-4o
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Orchestrator.MaxConcurrent != 4 {
		t.Errorf("max_concurrent = %d, want 4", cfg.Orchestrator.MaxConcurrent)
	}
	if cfg.Orchestrator.TokenCeiling != 50000 {
		t.Errorf("token_ceiling = %d, want 50000", cfg.Orchestrator.TokenCeiling)
	}
	if cfg.LLM.Model != "gpt-4o" {
		t.Errorf("llm model = %q, want gpt-4o", cfg.LLM.Model)
	}
	if got := cfg.GetOuterTimeout(); got != 120*time.Second {
		t.Errorf("outer timeout = %v, want 120s", got)
	}
	// Untouched fields keep defaults
	if cfg.Orchestrator.MaxIterations != 3 {
		t.Errorf("max_iterations = %d, want default 3", cfg.Orchestrator.MaxIterations)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("HYPERCOG_TOKEN_CEILING", "2048")
	t.Setenv("HYPERCOG_MAX_CONCURRENT", "3")
	t.Setenv("HYPERCOG_LLM_API_KEY", "test-key")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Orchestrator.TokenCeiling != 2048 {
		t.Errorf("token_ceiling = %d, want env override 2048", cfg.Orchestrator.TokenCeiling)
	}
	if cfg.Orchestrator.MaxConcurrent != 3 {
		t.Errorf("max_concurrent = %d, want env override 3", cfg.Orchestrator.MaxConcurrent)
	}
	if cfg.LLM.APIKey != "test-key" {
		t.Errorf("api key override not applied")
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero concurrency", func(c *Config) { c.Orchestrator.MaxConcurrent = 0 }},
		{"zero ceiling", func(c *Config) { c.Orchestrator.TokenCeiling = 0 }},
		{"zero iterations", func(c *Config) { c.Orchestrator.MaxIterations = 0 }},
		{"bad confidence", func(c *Config) { c.Orchestrator.ConfidenceFloor = 1.5 }},
		{"bad timeout", func(c *Config) { c.Orchestrator.OuterTimeout = "not-a-duration" }},
		{"empty storage root", func(c *Config) { c.Storage.Root = "" }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestSaveRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sub", "config.yaml")

	cfg := DefaultConfig()
	cfg.Orchestrator.TokenCeiling = 42000
	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded.Orchestrator.TokenCeiling != 42000 {
		t.Errorf("round-trip token_ceiling = %d, want 42000", loaded.Orchestrator.TokenCeiling)
	}
}
