package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

func TestLoadExpandsEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	t.Setenv("TEST_OPENAI_KEY", "sk-test-123")

	yaml := `
llm:
  backend: openai
  openai:
    api_key: ${TEST_OPENAI_KEY}
    model: gpt-4o-mini
brain:
  max_history: 4
  max_tool_rounds: 3
`
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.LLM.Backend != "openai" {
		t.Errorf("Backend = %q, want openai", cfg.LLM.Backend)
	}
	if cfg.LLM.OpenAI.APIKey != "sk-test-123" {
		t.Errorf("APIKey = %q, want expanded env value", cfg.LLM.OpenAI.APIKey)
	}
	if cfg.Brain.MaxHistory != 4 {
		t.Errorf("MaxHistory = %d, want 4", cfg.Brain.MaxHistory)
	}
	if cfg.Brain.MaxToolRounds != 3 {
		t.Errorf("MaxToolRounds = %d, want 3", cfg.Brain.MaxToolRounds)
	}
}

func TestLoadKeepsDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("log_level: debug\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.LLM.Backend != "ollama" {
		t.Errorf("default Backend = %q, want ollama", cfg.LLM.Backend)
	}
	if cfg.Brain.MaxToolRounds != 5 {
		t.Errorf("default MaxToolRounds = %d, want 5", cfg.Brain.MaxToolRounds)
	}
	if cfg.Thought.IntervalSec != 15 {
		t.Errorf("default thought interval = %d, want 15", cfg.Thought.IntervalSec)
	}
}

func TestFindConfigExplicitMissing(t *testing.T) {
	if _, err := FindConfig(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error for missing explicit config")
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    slog.Level
		wantErr bool
	}{
		{"", slog.LevelInfo, false},
		{"info", slog.LevelInfo, false},
		{"TRACE", LevelTrace, false},
		{"debug", slog.LevelDebug, false},
		{"warning", slog.LevelWarn, false},
		{"error", slog.LevelError, false},
		{"loud", slog.LevelInfo, true},
	}

	for _, tt := range tests {
		got, err := ParseLogLevel(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseLogLevel(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if !tt.wantErr && got != tt.want {
			t.Errorf("ParseLogLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
