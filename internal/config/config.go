// Package config holds all HyperCog configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all HyperCog configuration.
type Config struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	// LLM backend used by all judgment agents
	LLM LLMConfig `yaml:"llm"`

	// Research sub-agent backends
	Research ResearchConfig `yaml:"research"`

	// Orchestration limits
	Orchestrator OrchestratorConfig `yaml:"orchestrator"`

	// Storage layout
	Storage StorageConfig `yaml:"storage"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// LLMConfig configures the language-model backend.
type LLMConfig struct {
	Provider string `yaml:"provider"` // openai, gemini
	APIKey   string `yaml:"api_key"`
	Model    string `yaml:"model"`
	BaseURL  string `yaml:"base_url"`
	Timeout  string `yaml:"timeout"`
}

// BackendConfig configures one research backend.
type BackendConfig struct {
	Enabled bool   `yaml:"enabled"`
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
	Model   string `yaml:"model"`
	Timeout string `yaml:"timeout"`
}

// ResearchConfig configures the four research backends.
type ResearchConfig struct {
	Web      BackendConfig `yaml:"web"`
	Document BackendConfig `yaml:"document"`
	Graph    BackendConfig `yaml:"graph"`
	Vector   BackendConfig `yaml:"vector"`
}

// OrchestratorConfig configures the enrichment pipeline limits.
type OrchestratorConfig struct {
	// Max in-flight sub-agent queries
	MaxConcurrent int `yaml:"max_concurrent"`

	// Bound on waiting for a dispatch slot before the query is failed
	SemaphoreWait string `yaml:"semaphore_wait"`

	// Wall-clock deadline across the whole pipeline
	OuterTimeout string `yaml:"outer_timeout"`

	// Token ceiling above which the decomposer is invoked
	TokenCeiling int `yaml:"token_ceiling"`

	// Hermeneutic iteration cap
	MaxIterations int `yaml:"max_iterations"`

	// Evaluations below this confidence are treated as insufficient
	ConfidenceFloor float64 `yaml:"confidence_floor"`
}

// StorageConfig configures on-disk layout.
type StorageConfig struct {
	// Root directory for prompt_store/, rough/, optimized/, logs/
	Root string `yaml:"root"`

	// SQLite session database
	DatabasePath string `yaml:"database_path"`

	// Optional overlay directory of user-editable prompt templates
	PromptsDir string `yaml:"prompts_dir"`
}

// LoggingConfig configures file logging.
type LoggingConfig struct {
	Debug bool   `yaml:"debug"`
	Level string `yaml:"level"` // debug, info, warn, error
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Name:    "hypercog",
		Version: "0.3.0",

		LLM: LLMConfig{
			Provider: "openai",
			Model:    "gpt-4",
			BaseURL:  "https://api.openai.com/v1",
			Timeout:  "60s",
		},

		Research: ResearchConfig{
			Web: BackendConfig{
				Enabled: true,
				BaseURL: "https://api.perplexity.ai",
				Model:   "llama-3.1-sonar-small-128k-online",
				Timeout: "30s",
			},
			Document: BackendConfig{
				Enabled: true,
				Model:   "gemini-1.5-flash",
				Timeout: "30s",
			},
			Graph: BackendConfig{
				Enabled: true,
				BaseURL: "http://localhost:8000",
				Timeout: "30s",
			},
			Vector: BackendConfig{
				Enabled: true,
				BaseURL: "http://localhost:8000",
				Timeout: "30s",
			},
		},

		Orchestrator: OrchestratorConfig{
			MaxConcurrent:   10,
			SemaphoreWait:   "30s",
			OuterTimeout:    "300s",
			TokenCeiling:    100000,
			MaxIterations:   3,
			ConfidenceFloor: 0.75,
		},

		Storage: StorageConfig{
			Root:         ".hypercog",
			DatabasePath: filepath.Join(".hypercog", "sessions.db"),
		},

		Logging: LoggingConfig{
			Debug: false,
			Level: "info",
		},
	}
}

// Load loads configuration from a YAML file. A missing file yields defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides.
// API keys are the common case: config files should not carry secrets.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("OPENAI_API_KEY"); v != "" && c.LLM.APIKey == "" {
		c.LLM.APIKey = v
	}
	if v := os.Getenv("HYPERCOG_LLM_API_KEY"); v != "" {
		c.LLM.APIKey = v
	}
	if v := os.Getenv("HYPERCOG_LLM_MODEL"); v != "" {
		c.LLM.Model = v
	}
	if v := os.Getenv("HYPERCOG_LLM_BASE_URL"); v != "" {
		c.LLM.BaseURL = v
	}
	if v := os.Getenv("PERPLEXITY_API_KEY"); v != "" && c.Research.Web.APIKey == "" {
		c.Research.Web.APIKey = v
	}
	if v := os.Getenv("GOOGLE_API_KEY"); v != "" && c.Research.Document.APIKey == "" {
		c.Research.Document.APIKey = v
	}
	if v := os.Getenv("HYPERCOG_STORAGE_ROOT"); v != "" {
		c.Storage.Root = v
		c.Storage.DatabasePath = filepath.Join(v, "sessions.db")
	}
	if v := os.Getenv("HYPERCOG_TOKEN_CEILING"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Orchestrator.TokenCeiling = n
		}
	}
	if v := os.Getenv("HYPERCOG_MAX_CONCURRENT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Orchestrator.MaxConcurrent = n
		}
	}
	if v := os.Getenv("HYPERCOG_OUTER_TIMEOUT"); v != "" {
		if _, err := time.ParseDuration(v); err == nil {
			c.Orchestrator.OuterTimeout = v
		}
	}
	if v := os.Getenv("HYPERCOG_DEBUG"); v == "1" || v == "true" {
		c.Logging.Debug = true
	}
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// Validate checks the configuration for inconsistencies.
func (c *Config) Validate() error {
	if c.Orchestrator.MaxConcurrent <= 0 {
		return fmt.Errorf("orchestrator.max_concurrent must be positive, got %d", c.Orchestrator.MaxConcurrent)
	}
	if c.Orchestrator.TokenCeiling <= 0 {
		return fmt.Errorf("orchestrator.token_ceiling must be positive, got %d", c.Orchestrator.TokenCeiling)
	}
	if c.Orchestrator.MaxIterations <= 0 {
		return fmt.Errorf("orchestrator.max_iterations must be positive, got %d", c.Orchestrator.MaxIterations)
	}
	if c.Orchestrator.ConfidenceFloor < 0 || c.Orchestrator.ConfidenceFloor > 1 {
		return fmt.Errorf("orchestrator.confidence_floor must be in [0,1], got %f", c.Orchestrator.ConfidenceFloor)
	}
	if _, err := time.ParseDuration(c.Orchestrator.OuterTimeout); err != nil {
		return fmt.Errorf("invalid orchestrator.outer_timeout: %w", err)
	}
	if _, err := time.ParseDuration(c.Orchestrator.SemaphoreWait); err != nil {
		return fmt.Errorf("invalid orchestrator.semaphore_wait: %w", err)
	}
	if c.Storage.Root == "" {
		return fmt.Errorf("storage.root must not be empty")
	}
	return nil
}

// GetLLMTimeout returns the LLM timeout as a duration.
func (c *Config) GetLLMTimeout() time.Duration {
	return parseDuration(c.LLM.Timeout, 60*time.Second)
}

// GetOuterTimeout returns the pipeline deadline as a duration.
func (c *Config) GetOuterTimeout() time.Duration {
	return parseDuration(c.Orchestrator.OuterTimeout, 300*time.Second)
}

// GetSemaphoreWait returns the dispatch slot wait bound as a duration.
func (c *Config) GetSemaphoreWait() time.Duration {
	return parseDuration(c.Orchestrator.SemaphoreWait, 30*time.Second)
}

// GetTimeout returns the backend's timeout as a duration.
func (b BackendConfig) GetTimeout() time.Duration {
	return parseDuration(b.Timeout, 30*time.Second)
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}
