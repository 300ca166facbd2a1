package main

import (
	"context"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/hyperjump/shiryo/internal/config"
	"github.com/hyperjump/shiryo/internal/models"
	"github.com/hyperjump/shiryo/internal/syncer"
	"go.uber.org/zap"
)

func TestArgsReorder(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		expected []string
	}{
		{
			name:     "flags after query are moved first",
			args:     []string{"battery threshold", "-limit", "3"},
			expected: []string{"-limit", "3", "battery threshold"},
		},
		{
			name:     "flags first returns unchanged",
			args:     []string{"-limit", "3", "battery threshold"},
			expected: []string{"-limit", "3", "battery threshold"},
		},
		{
			name:     "query only returns unchanged",
			args:     []string{"battery threshold"},
			expected: []string{"battery threshold"},
		},
		{
			name:     "empty args returns unchanged",
			args:     []string{},
			expected: []string{},
		},
		{
			name:     "bool flag does not swallow the query",
			args:     []string{"-debug", "battery", "level"},
			expected: []string{"-debug", "battery", "level"},
		},
		{
			name:     "flag with inline value",
			args:     []string{"battery", "-format=json"},
			expected: []string{"-format=json", "battery"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := argsReorder(tt.args)
			if !reflect.DeepEqual(got, tt.expected) {
				t.Errorf("argsReorder() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestBuildQuery(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		expected string
	}{
		{"single word", []string{"battery"}, "battery"},
		{"multiple words", []string{"battery", "level"}, "battery level"},
		{"single quoted phrase", []string{"battery level"}, "battery level"},
		{"empty args", []string{}, ""},
		{"blank args", []string{"  ", "  "}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := buildQuery(tt.args); got != tt.expected {
				t.Errorf("buildQuery(%v) = %q, want %q", tt.args, got, tt.expected)
			}
		})
	}
}

func writeConfig(t *testing.T, dir, content string) string {
	t.Helper()
	p := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(p, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestLoadConfig_prefersCwdConfigWhenDefaultPath(t *testing.T) {
	dir := t.TempDir()
	configPath := writeConfig(t, dir, `
debug: true
source:
  type: local
  root_path: ./docs
storage:
  database_path: ./test.db
`)
	t.Chdir(dir)

	cfg, resolved, err := loadConfig(defaultConfigPath)
	if err != nil {
		t.Fatal(err)
	}
	// On macOS, cwd can be /private/var/... while t.TempDir() is /var/...; compare canonical paths.
	resolvedCanon, _ := filepath.EvalSymlinks(resolved)
	configPathCanon, _ := filepath.EvalSymlinks(configPath)
	if resolvedCanon != configPathCanon {
		t.Errorf("resolved path = %s, want %s", resolved, configPath)
	}
	if !cfg.Debug {
		t.Error("debug should be true from cwd config.yaml")
	}
}

func TestLoadConfig_usesExplicitPath(t *testing.T) {
	configPath := writeConfig(t, t.TempDir(), `
server:
  host: "127.0.0.1"
  port: 9000
source:
  type: drive
  root_id: folder-123
`)
	cfg, resolved, err := loadConfig(configPath)
	if err != nil {
		t.Fatal(err)
	}
	if resolved != configPath {
		t.Errorf("resolved path = %s, want %s", resolved, configPath)
	}
	if cfg.Server.Host != "127.0.0.1" || cfg.Server.Port != 9000 || cfg.Source.RootID != "folder-123" {
		t.Errorf("unexpected config: %+v", cfg)
	}
}

func TestBuildSource_Unknown(t *testing.T) {
	if _, err := buildSource(context.Background(), config.SourceConfig{Type: "ftp"}, zap.NewNop()); err == nil {
		t.Error("expected error for unknown source type")
	}
}

func TestInitializeComponents_LocalEndToEnd(t *testing.T) {
	dir := t.TempDir()
	docs := filepath.Join(dir, "docs")
	if err := os.MkdirAll(filepath.Join(docs, "Manuals"), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(docs, "Manuals", "Battery.txt"),
		[]byte("The minimum battery SOC threshold is 20 percent."), 0644); err != nil {
		t.Fatal(err)
	}

	cfg := &config.Config{
		Storage: config.StorageConfig{DatabasePath: filepath.Join(dir, "data", "shiryo.db")},
		Source:  config.SourceConfig{Type: config.SourceLocal, RootPath: docs},
	}
	config.ApplyDefaults(cfg)

	ctx := context.Background()
	c, err := initializeComponents(ctx, cfg, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	run, err := c.Orchestrator.Run(ctx, syncer.RunOptions{Mode: models.SyncFull, Trigger: syncer.TriggerCLI})
	if err != nil {
		t.Fatal(err)
	}
	if run.Status != models.SyncCompleted || run.Counts.Updated != 1 {
		t.Fatalf("run = %+v", run)
	}
	ans, err := c.Assistant.Ask(ctx, "What is the minimum battery SOC threshold?", "")
	if err != nil {
		t.Fatal(err)
	}
	if ans.ResponderUsed != string(models.ResponderFastPath) || !strings.Contains(ans.Response, "20 percent") {
		t.Errorf("answer = %+v", ans)
	}
	c.Close()

	// A fresh process reloads vectors from the database.
	c2, err := initializeComponents(ctx, cfg, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	defer c2.Close()
	if c2.Search.IndexSize() != 1 {
		t.Errorf("index size after restart = %d, want 1", c2.Search.IndexSize())
	}
}
