package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "hersite.yaml")

	yaml := `
listen:
  port: 4000
anthropic:
  model: claude-sonnet-4-5-20250929
agent:
  max_tool_rounds: 10
projects:
  dir: /srv/hersite/projects
  templates_dir: /srv/hersite/templates
log_level: debug
`
	if err := os.WriteFile(path, []byte(yaml), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Listen.Port != 4000 {
		t.Errorf("port = %d, want 4000", cfg.Listen.Port)
	}
	if cfg.Agent.MaxToolRounds != 10 {
		t.Errorf("max_tool_rounds = %d, want 10", cfg.Agent.MaxToolRounds)
	}
	if cfg.Projects.Dir != "/srv/hersite/projects" {
		t.Errorf("projects.dir = %q", cfg.Projects.Dir)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("log_level = %q, want debug", cfg.LogLevel)
	}
}

func TestLoadExpandsEnv(t *testing.T) {
	t.Setenv("HERSITE_TEST_TOKEN", "tok-123")

	dir := t.TempDir()
	path := filepath.Join(dir, "hersite.yaml")
	yaml := "deploy:\n  vercel_token: ${HERSITE_TEST_TOKEN}\n"
	if err := os.WriteFile(path, []byte(yaml), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Deploy.VercelToken != "tok-123" {
		t.Errorf("vercel_token = %q, want tok-123", cfg.Deploy.VercelToken)
	}
}

func TestLoadRejectsBadLevel(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "hersite.yaml")
	if err := os.WriteFile(path, []byte("log_level: loud\n"), 0644); err != nil {
		t.Fatal(err)
	}

	if _, err := Load(path); err == nil {
		t.Error("expected error for invalid log level")
	}
}

func TestDefaults(t *testing.T) {
	cfg := Default()
	if cfg.Agent.MaxToolRounds != 25 {
		t.Errorf("default max_tool_rounds = %d, want 25", cfg.Agent.MaxToolRounds)
	}
	if cfg.Agent.ModelTimeout().Seconds() != 120 {
		t.Errorf("default model timeout = %v", cfg.Agent.ModelTimeout())
	}
	if cfg.Listen.Port != 3001 {
		t.Errorf("default port = %d", cfg.Listen.Port)
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
		{" debug ", slog.LevelDebug, false},
		{"warning", slog.LevelWarn, false},
		{"error", slog.LevelError, false},
		{"verbose", slog.LevelInfo, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLogLevel(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseLogLevel(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("ParseLogLevel(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}
