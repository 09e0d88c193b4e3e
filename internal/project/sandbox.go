// Package project manages per-user site projects: the scoped file
// sandbox every mutation goes through, template scaffolding, and the
// registry mapping users to their active project.
package project

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

var (
	// ErrInvalidPath is returned when a path escapes the sandbox root.
	ErrInvalidPath = errors.New("invalid file path")

	// ErrNotFound is returned when a file does not exist in the sandbox.
	ErrNotFound = errors.New("file not found")
)

// Dirs never surfaced by listings. Build output and dependency trees
// are noise to the model and to clients.
var skipDirs = map[string]bool{
	"node_modules": true,
	".git":         true,
	"dist":         true,
}

var themeVarRe = regexp.MustCompile(`--([\w-]+):\s*([^;]+);`)

// Sandbox confines all file operations to a single project root. Every
// relative path is resolved and containment-checked before use.
type Sandbox struct {
	root        string
	ignoreGlobs []string
}

// NewSandbox creates a sandbox rooted at root. ignoreGlobs are
// doublestar patterns matched against relative paths during listing.
func NewSandbox(root string, ignoreGlobs []string) *Sandbox {
	return &Sandbox{root: filepath.Clean(root), ignoreGlobs: ignoreGlobs}
}

// Root returns the absolute project root.
func (s *Sandbox) Root() string {
	return s.root
}

// Resolve maps a caller-supplied relative path to an absolute path
// inside the root. Paths that resolve outside the root, including via
// .. traversal or absolute arguments, return ErrInvalidPath.
func (s *Sandbox) Resolve(rel string) (string, error) {
	if rel == "" {
		return "", fmt.Errorf("%w: empty path", ErrInvalidPath)
	}
	resolved := filepath.Clean(filepath.Join(s.root, rel))
	if resolved != s.root && !strings.HasPrefix(resolved, s.root+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrInvalidPath, rel)
	}
	return resolved, nil
}

// ReadFile returns the content of a file inside the sandbox.
func (s *Sandbox) ReadFile(rel string) (string, error) {
	abs, err := s.Resolve(rel)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("%w: %s", ErrNotFound, rel)
		}
		return "", fmt.Errorf("read %s: %w", rel, err)
	}
	return string(data), nil
}

// WriteFile writes content to a file inside the sandbox, creating
// parent directories as needed. The write goes to a temp file that is
// renamed into place, so concurrent readers (the dev server, the
// change watcher) never observe a partially written file.
func (s *Sandbox) WriteFile(rel, content string) error {
	abs, err := s.Resolve(rel)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0755); err != nil {
		return fmt.Errorf("create parent dirs for %s: %w", rel, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(abs), "."+filepath.Base(abs)+".tmp-*")
	if err != nil {
		return fmt.Errorf("write %s: %w", rel, err)
	}
	if _, err := tmp.Write([]byte(content)); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write %s: %w", rel, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("write %s: %w", rel, err)
	}
	if err := os.Chmod(tmp.Name(), 0644); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("write %s: %w", rel, err)
	}
	if err := os.Rename(tmp.Name(), abs); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("write %s: %w", rel, err)
	}
	return nil
}

// DeleteFile removes a file inside the sandbox.
func (s *Sandbox) DeleteFile(rel string) error {
	abs, err := s.Resolve(rel)
	if err != nil {
		return err
	}
	if err := os.Remove(abs); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrNotFound, rel)
		}
		return fmt.Errorf("delete %s: %w", rel, err)
	}
	return nil
}

// FileExists reports whether a file exists inside the sandbox.
func (s *Sandbox) FileExists(rel string) bool {
	abs, err := s.Resolve(rel)
	if err != nil {
		return false
	}
	info, err := os.Stat(abs)
	return err == nil && !info.IsDir()
}

// ListFiles returns all relative file paths in the sandbox, sorted,
// excluding skip dirs and any configured ignore globs.
func (s *Sandbox) ListFiles() ([]string, error) {
	files := []string{}
	err := filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if skipDirs[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		rel, err := filepath.Rel(s.root, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		for _, glob := range s.ignoreGlobs {
			if ok, _ := doublestar.Match(glob, rel); ok {
				return nil
			}
		}
		files = append(files, rel)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list files: %w", err)
	}
	sort.Strings(files)
	return files, nil
}

// Pages returns the .astro page paths under src/pages/.
func (s *Sandbox) Pages() ([]string, error) {
	files, err := s.ListFiles()
	if err != nil {
		return nil, err
	}
	var pages []string
	for _, f := range files {
		if strings.HasPrefix(f, "src/pages/") && strings.HasSuffix(f, ".astro") {
			pages = append(pages, f)
		}
	}
	return pages, nil
}

// ThemeVariables parses CSS custom properties from src/styles/theme.css.
// A missing theme file yields an empty map.
func (s *Sandbox) ThemeVariables() map[string]string {
	vars := map[string]string{}
	content, err := s.ReadFile("src/styles/theme.css")
	if err != nil {
		return vars
	}
	for _, m := range themeVarRe.FindAllStringSubmatch(content, -1) {
		vars["--"+m[1]] = strings.TrimSpace(m[2])
	}
	return vars
}
