package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestRun_Usage(t *testing.T) {
	var out, errOut bytes.Buffer
	if err := run(context.Background(), &out, &errOut, nil); err != nil {
		t.Fatalf("run with no args: %v", err)
	}
	if !strings.Contains(out.String(), "Usage: hersite") {
		t.Errorf("usage output missing: %q", out.String())
	}
}

func TestRun_UnknownCommand(t *testing.T) {
	var out, errOut bytes.Buffer
	err := run(context.Background(), &out, &errOut, []string{"frobnicate"})
	if err == nil || !strings.Contains(err.Error(), "unknown command") {
		t.Errorf("expected unknown command error, got %v", err)
	}
}

func TestRun_UnknownFlag(t *testing.T) {
	var out, errOut bytes.Buffer
	err := run(context.Background(), &out, &errOut, []string{"-bogus"})
	if err == nil || !strings.Contains(err.Error(), "unknown flag") {
		t.Errorf("expected unknown flag error, got %v", err)
	}
}

func TestRun_VersionText(t *testing.T) {
	var out, errOut bytes.Buffer
	if err := run(context.Background(), &out, &errOut, []string{"version"}); err != nil {
		t.Fatalf("version: %v", err)
	}
	if !strings.Contains(out.String(), "HerSite") {
		t.Errorf("version output missing banner: %q", out.String())
	}
}

func TestRun_VersionJSON(t *testing.T) {
	var out, errOut bytes.Buffer
	if err := run(context.Background(), &out, &errOut, []string{"-o", "json", "version"}); err != nil {
		t.Fatalf("version: %v", err)
	}
	var info map[string]string
	if err := json.Unmarshal(out.Bytes(), &info); err != nil {
		t.Fatalf("version output is not JSON: %v", err)
	}
	if info["version"] == "" {
		t.Error("version field missing")
	}
}

func TestRun_BadOutputFormat(t *testing.T) {
	var out, errOut bytes.Buffer
	err := run(context.Background(), &out, &errOut, []string{"-o", "yaml", "version"})
	if err == nil || !strings.Contains(err.Error(), "unknown output format") {
		t.Errorf("expected format error, got %v", err)
	}
}

func TestRun_ServeMissingConfig(t *testing.T) {
	var out, errOut bytes.Buffer
	err := run(context.Background(), &out, &errOut, []string{"-config", "/nonexistent/hersite.yaml", "serve"})
	if err == nil || !strings.Contains(err.Error(), "not found") {
		t.Errorf("expected config not found error, got %v", err)
	}
}

func TestRunInvite(t *testing.T) {
	dir := t.TempDir()
	var buf bytes.Buffer
	if err := runInit(&buf, dir); err != nil {
		t.Fatal(err)
	}

	// Point the config's data dir at the temp workspace.
	cfgPath := filepath.Join(dir, "hersite.yaml")
	cfg := "data_dir: " + filepath.Join(dir, "data") + "\n"
	if err := os.WriteFile(cfgPath, []byte(cfg), 0o644); err != nil {
		t.Fatal(err)
	}

	var out bytes.Buffer
	if err := runInvite(&out, cfgPath, "ada"); err != nil {
		t.Fatalf("invite: %v", err)
	}
	if !strings.Contains(out.String(), "Invite token:") {
		t.Errorf("output missing token: %q", out.String())
	}

	// A second invite for the same user fails on the primary key.
	if err := runInvite(&out, cfgPath, "ada"); err == nil {
		t.Error("expected duplicate user error")
	}
}
