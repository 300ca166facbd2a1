// Package config provides configuration loading and structs for the shiryo server.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application.
type Config struct {
	Debug        bool               `yaml:"debug"`
	LogLevel     string             `yaml:"log_level"` // debug, info, warn or error; ignored when Debug is set
	Server       ServerConfig       `yaml:"server"`
	Storage      StorageConfig      `yaml:"storage"`
	Source       SourceConfig       `yaml:"source"`
	Embedding    EmbeddingConfig    `yaml:"embedding"`
	Chunking     ChunkingConfig     `yaml:"chunking"`
	Sync         SyncConfig         `yaml:"sync"`
	Search       SearchConfig       `yaml:"search"`
	Router       RouterConfig       `yaml:"router"`
	LLM          LLMConfig          `yaml:"llm"`
	Conversation ConversationConfig `yaml:"conversation"`
	Telemetry    TelemetryConfig    `yaml:"telemetry"`
	Metrics      MetricsConfig      `yaml:"metrics"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// StorageConfig holds the database location.
type StorageConfig struct {
	DatabasePath string `yaml:"database_path"`
}

// Source types.
const (
	SourceDrive = "drive"
	SourceLocal = "local"
)

// SourceConfig describes the document tree to sync.
type SourceConfig struct {
	Type string `yaml:"type"`
	// RootID is the Drive folder ID to walk (drive only).
	RootID string `yaml:"root_id"`
	// RootPath is the directory to walk (local only).
	RootPath          string   `yaml:"root_path"`
	CredentialsFile   string   `yaml:"credentials_file"`
	AccessTokenEnv    string   `yaml:"access_token_env"`
	Ignore            []string `yaml:"ignore"`
	ContextFolder     string   `yaml:"context_folder"`
	ContextMarkers    []string `yaml:"context_markers"`
	PageSize          int      `yaml:"page_size"`
	RequestsPerSecond float64  `yaml:"requests_per_second"`
}

// EmbeddingConfig holds embedding service settings.
type EmbeddingConfig struct {
	Provider          string        `yaml:"provider"`
	Model             string        `yaml:"model"`
	BaseURL           string        `yaml:"base_url"`
	APIKeyEnv         string        `yaml:"api_key_env"`
	Dimensions        int           `yaml:"dimensions"`
	BatchSize         int           `yaml:"batch_size"`
	RequestsPerMinute int           `yaml:"requests_per_minute"`
	MaxRetries        int           `yaml:"max_retries"`
	InitialBackoff    time.Duration `yaml:"initial_backoff"`
	MaxBackoff        time.Duration `yaml:"max_backoff"`
	Timeout           time.Duration `yaml:"timeout"`
	CacheSize         int           `yaml:"cache_size"`
}

// APIKey returns the key from the configured environment variable.
func (e *EmbeddingConfig) APIKey() string {
	if e.APIKeyEnv == "" {
		return ""
	}
	return os.Getenv(e.APIKeyEnv)
}

// ChunkingConfig holds chunker settings.
type ChunkingConfig struct {
	MaxTokens int `yaml:"max_tokens"`
}

// SyncConfig holds orchestrator settings.
type SyncConfig struct {
	Concurrency int `yaml:"concurrency"`
	// Schedule is the interval between automatic incremental runs; zero disables it.
	Schedule     time.Duration `yaml:"schedule"`
	Watch        bool          `yaml:"watch"`
	FetchTimeout time.Duration `yaml:"fetch_timeout"`
}

// SearchConfig holds search settings.
type SearchConfig struct {
	DefaultLimit        int `yaml:"default_limit"`
	MaxLimit            int `yaml:"max_limit"`
	MinQueryLength      int `yaml:"min_query_length"`
	CandidateMultiplier int `yaml:"candidate_multiplier"`
}

// Decider kinds.
const (
	DeciderRules = "rules"
	DeciderLLM   = "llm"
)

// RouterConfig holds the tunable routing vocabulary.
type RouterConfig struct {
	FastPathKeywords  []string `yaml:"fast_path_keywords"`
	FastPathMinLength int      `yaml:"fast_path_min_length"`
	// FastPathTypos is the edit distance tolerated on long keyword words. Negative disables it.
	FastPathTypos int                 `yaml:"fast_path_typos"`
	Decider       string              `yaml:"decider"`
	Rules         map[string][]string `yaml:"rules"`
}

// LLMConfig holds the chat model used by the decider and the specialists.
type LLMConfig struct {
	Provider  string        `yaml:"provider"`
	Model     string        `yaml:"model"`
	BaseURL   string        `yaml:"base_url"`
	APIKeyEnv string        `yaml:"api_key_env"`
	Timeout   time.Duration `yaml:"timeout"`
	MaxTokens int           `yaml:"max_tokens"`
}

// APIKey returns the key from the configured environment variable.
func (l *LLMConfig) APIKey() string {
	if l.APIKeyEnv == "" {
		return ""
	}
	return os.Getenv(l.APIKeyEnv)
}

// ConversationConfig holds context window settings.
type ConversationConfig struct {
	ContextTurns int `yaml:"context_turns"`
}

// TelemetryConfig points at the latest-reading file written by the telemetry poller.
type TelemetryConfig struct {
	Path string `yaml:"path"`
}

// MetricsConfig toggles the Prometheus endpoint.
type MetricsConfig struct {
	Enabled *bool `yaml:"enabled"`
}

// EnabledOrDefault returns whether /metrics is served; defaults to true when unset.
func (m *MetricsConfig) EnabledOrDefault() bool {
	if m.Enabled != nil {
		return *m.Enabled
	}
	return true
}

// Load reads and parses the config file at path, applies defaults, and expands paths.
// Returns an error if the file cannot be read or parsed, or if the result is invalid.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	ApplyDefaults(&cfg)

	configDir := filepath.Dir(path)
	cfg.Storage.DatabasePath = expandPath(cfg.Storage.DatabasePath, configDir)
	if cfg.Source.RootPath != "" {
		cfg.Source.RootPath = expandPath(cfg.Source.RootPath, configDir)
	}
	if cfg.Source.CredentialsFile != "" {
		cfg.Source.CredentialsFile = expandPath(cfg.Source.CredentialsFile, configDir)
	}
	if cfg.Telemetry.Path != "" {
		cfg.Telemetry.Path = expandPath(cfg.Telemetry.Path, configDir)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks settings that have no sensible default.
func (c *Config) Validate() error {
	switch c.Source.Type {
	case SourceDrive:
		if c.Source.RootID == "" {
			return fmt.Errorf("source.root_id is required for drive sources")
		}
	case SourceLocal:
		if c.Source.RootPath == "" {
			return fmt.Errorf("source.root_path is required for local sources")
		}
	default:
		return fmt.Errorf("unknown source.type %q", c.Source.Type)
	}
	switch strings.ToLower(c.LogLevel) {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log_level %q", c.LogLevel)
	}
	switch c.Router.Decider {
	case DeciderRules:
	case DeciderLLM:
		if c.LLM.Provider == "" {
			return fmt.Errorf("router.decider %q requires llm.provider", DeciderLLM)
		}
	default:
		return fmt.Errorf("unknown router.decider %q", c.Router.Decider)
	}
	return nil
}

// Save writes the config to path.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// expandPath converts a path to absolute. Paths starting with "./" are relative to configDir;
// other relative paths are relative to the home directory.
func expandPath(path string, configDir string) string {
	if filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." {
		return filepath.Join(configDir, path)
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, path)
	}
	return path
}
