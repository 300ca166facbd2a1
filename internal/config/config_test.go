package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
server:
  host: "127.0.0.1"
  port: 9000
storage:
  database_path: "test.db"
source:
  type: drive
  root_id: "folder-123"
  ignore: ["Archive*", "/Old/**"]
embedding:
  provider: openai
  requests_per_minute: 30
  initial_backoff: 250ms
sync:
  schedule: 15m
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Host != "127.0.0.1" || cfg.Server.Port != 9000 {
		t.Errorf("unexpected server config: %+v", cfg.Server)
	}
	if cfg.Storage.DatabasePath == "" {
		t.Error("database_path should be set")
	}
	if cfg.Debug {
		t.Error("debug should default to false when unset")
	}
	if cfg.Source.RootID != "folder-123" || len(cfg.Source.Ignore) != 2 {
		t.Errorf("unexpected source config: %+v", cfg.Source)
	}
	if cfg.Embedding.RequestsPerMinute != 30 {
		t.Errorf("requests_per_minute = %d", cfg.Embedding.RequestsPerMinute)
	}
	if cfg.Embedding.InitialBackoff != 250*time.Millisecond {
		t.Errorf("initial_backoff = %v", cfg.Embedding.InitialBackoff)
	}
	if cfg.Sync.Schedule != 15*time.Minute {
		t.Errorf("schedule = %v", cfg.Sync.Schedule)
	}
}

func TestLoad_debugTrue(t *testing.T) {
	path := writeConfig(t, `
debug: true
source:
  type: local
  root_path: "./docs"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if !cfg.Debug {
		t.Error("debug should be true when set in config")
	}
}

func TestLoad_expandPathDotSlashRelativeToConfigDir(t *testing.T) {
	path := writeConfig(t, `
storage:
  database_path: "./data/shiryo.db"
source:
  type: local
  root_path: "./dev/sample"
telemetry:
  path: "./telemetry/latest.json"
`)
	dir := filepath.Dir(path)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if want := filepath.Join(dir, "data", "shiryo.db"); cfg.Storage.DatabasePath != want {
		t.Errorf("database_path = %s, want %s", cfg.Storage.DatabasePath, want)
	}
	if want := filepath.Join(dir, "dev", "sample"); cfg.Source.RootPath != want {
		t.Errorf("root_path = %s, want %s", cfg.Source.RootPath, want)
	}
	if want := filepath.Join(dir, "telemetry", "latest.json"); cfg.Telemetry.Path != want {
		t.Errorf("telemetry path = %s, want %s", cfg.Telemetry.Path, want)
	}
}

func TestLoad_invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"drive without root", "source:\n  type: drive\n"},
		{"local without path", "source:\n  type: local\n"},
		{"unknown source", "source:\n  type: ftp\n"},
		{"llm decider without provider", "source:\n  type: drive\n  root_id: x\nrouter:\n  decider: llm\n"},
		{"unknown decider", "source:\n  type: drive\n  root_id: x\nrouter:\n  decider: coin\n"},
		{"unknown log level", "log_level: loud\nsource:\n  type: drive\n  root_id: x\n"},
		{"bad yaml", "source: [\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, tt.content)); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestLoad_missingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestApplyDefaults(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)
	if cfg.Server.Host != "localhost" {
		t.Errorf("default host: got %s", cfg.Server.Host)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("default port: got %d", cfg.Server.Port)
	}
	if cfg.Chunking.MaxTokens != 512 {
		t.Errorf("default max_tokens: got %d", cfg.Chunking.MaxTokens)
	}
	if cfg.Sync.Concurrency != 5 {
		t.Errorf("default concurrency: got %d", cfg.Sync.Concurrency)
	}
	if cfg.Search.MinQueryLength != 3 {
		t.Errorf("default min_query_length: got %d", cfg.Search.MinQueryLength)
	}
	if cfg.Source.ContextFolder != "context" {
		t.Errorf("default context folder: got %s", cfg.Source.ContextFolder)
	}
	if len(cfg.Router.FastPathKeywords) != len(DefaultFastPathKeywords) {
		t.Errorf("fast path keywords: got %v", cfg.Router.FastPathKeywords)
	}
	if cfg.Router.Decider != DeciderRules {
		t.Errorf("default decider: got %s", cfg.Router.Decider)
	}
	if len(cfg.Router.Rules["telemetry"]) == 0 {
		t.Error("telemetry rules should be populated")
	}
	if cfg.Conversation.ContextTurns != 10 {
		t.Errorf("default context turns: got %d", cfg.Conversation.ContextTurns)
	}
	if !cfg.Metrics.EnabledOrDefault() {
		t.Error("metrics should default to enabled")
	}
}

func TestApplyDefaults_rulesAreCopied(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)
	cfg.Router.Rules["telemetry"][0] = "changed"
	if DefaultRouterRules["telemetry"][0] == "changed" {
		t.Error("ApplyDefaults must not alias DefaultRouterRules")
	}
}

func TestApplyDefaults_llmKeyEnv(t *testing.T) {
	cfg := &Config{LLM: LLMConfig{Provider: "anthropic"}}
	ApplyDefaults(cfg)
	if cfg.LLM.APIKeyEnv != "ANTHROPIC_API_KEY" {
		t.Errorf("api_key_env = %s", cfg.LLM.APIKeyEnv)
	}
}

func TestEmbeddingConfig_APIKey(t *testing.T) {
	t.Setenv("SHIRYO_TEST_KEY", "secret")
	e := &EmbeddingConfig{APIKeyEnv: "SHIRYO_TEST_KEY"}
	if e.APIKey() != "secret" {
		t.Errorf("APIKey() = %q", e.APIKey())
	}
	if (&EmbeddingConfig{}).APIKey() != "" {
		t.Error("empty env name should yield empty key")
	}
}

func TestMetricsConfig_EnabledOrDefault(t *testing.T) {
	f := false
	m := &MetricsConfig{Enabled: &f}
	if m.EnabledOrDefault() {
		t.Error("explicit false should disable metrics")
	}
}

func TestSave(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "saved.yaml")
	cfg := &Config{
		Server:  ServerConfig{Host: "localhost", Port: 9090},
		Storage: StorageConfig{DatabasePath: "/tmp/db"},
		Source:  SourceConfig{Type: SourceLocal, RootPath: "/tmp/docs"},
		Sync:    SyncConfig{Schedule: time.Hour},
	}
	if err := Save(path, cfg); err != nil {
		t.Fatal(err)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Server.Port != 9090 {
		t.Errorf("loaded port: got %d", loaded.Server.Port)
	}
	if loaded.Sync.Schedule != time.Hour {
		t.Errorf("loaded schedule: got %v", loaded.Sync.Schedule)
	}
}
