package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestRunInit_FreshDirectory(t *testing.T) {
	dir := t.TempDir()
	var buf bytes.Buffer

	if err := runInit(&buf, dir); err != nil {
		t.Fatalf("runInit failed: %v", err)
	}

	out := buf.String()

	for _, sub := range []string{"data", "projects", "templates"} {
		info, err := os.Stat(filepath.Join(dir, sub))
		if err != nil {
			t.Errorf("expected directory %s: %v", sub, err)
		} else if !info.IsDir() {
			t.Errorf("%s is not a directory", sub)
		}
	}

	cfg, err := os.ReadFile(filepath.Join(dir, "hersite.yaml"))
	if err != nil {
		t.Fatalf("hersite.yaml not created: %v", err)
	}
	if !strings.Contains(string(cfg), "max_tool_rounds") {
		t.Error("config template missing agent settings")
	}

	if !strings.Contains(out, "✓") {
		t.Error("output missing ✓ marker for created files")
	}
	if !strings.Contains(out, "hersite.yaml") {
		t.Error("output missing hersite.yaml")
	}
}

func TestRunInit_SkipsExistingFiles(t *testing.T) {
	dir := t.TempDir()
	var buf bytes.Buffer

	if err := runInit(&buf, dir); err != nil {
		t.Fatalf("first runInit failed: %v", err)
	}

	// Customize the config, then re-run init.
	cfgPath := filepath.Join(dir, "hersite.yaml")
	custom := []byte("log_level: debug\n")
	if err := os.WriteFile(cfgPath, custom, 0o644); err != nil {
		t.Fatal(err)
	}

	if err := runInit(&buf, dir); err != nil {
		t.Fatalf("second runInit failed: %v", err)
	}

	got, err := os.ReadFile(cfgPath)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, custom) {
		t.Error("init overwrote an existing config file")
	}
}

func TestRunInit_GeneratedConfigLoads(t *testing.T) {
	dir := t.TempDir()
	var buf bytes.Buffer

	if err := runInit(&buf, dir); err != nil {
		t.Fatalf("runInit failed: %v", err)
	}

	cfg, _, err := loadConfig(filepath.Join(dir, "hersite.yaml"))
	if err != nil {
		t.Fatalf("generated config does not load: %v", err)
	}
	if cfg.Listen.Port != 3001 {
		t.Errorf("port = %d, want 3001", cfg.Listen.Port)
	}
	if cfg.Agent.MaxToolRounds != 25 {
		t.Errorf("max_tool_rounds = %d, want 25", cfg.Agent.MaxToolRounds)
	}
}
