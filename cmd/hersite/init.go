package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/R1cK-ChaN/hersite/internal/defaults"
)

// runInit initializes a HerSite working directory with default files.
// It creates the directory structure and writes the example config.
// Existing files are never overwritten.
func runInit(w io.Writer, dir string) error {
	fmt.Fprintf(w, "Initializing HerSite workspace in %s\n", dir)

	for _, sub := range []string{"data", "projects", "templates"} {
		path := filepath.Join(dir, sub)
		if err := os.MkdirAll(path, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", path, err)
		}
	}

	configPath := filepath.Join(dir, "hersite.yaml")
	if err := writeIfMissing(configPath, defaults.ConfigYAML); err != nil {
		return err
	}
	fmt.Fprintf(w, "  ✓ %s\n", configPath)

	fmt.Fprintln(w)
	fmt.Fprintln(w, "Edit hersite.yaml, place site templates under templates/,")
	fmt.Fprintln(w, "then create a user with: hersite invite <user-id>")
	return nil
}

// writeIfMissing writes content to path only if the file does not
// already exist, so init never overwrites user customizations.
func writeIfMissing(path string, content []byte) error {
	if _, err := os.Stat(path); err == nil {
		return nil // already exists, skip
	}
	return os.WriteFile(path, content, 0o644)
}
