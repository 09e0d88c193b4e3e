package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/sergi/go-diff/diffmatchpatch"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/renderer/html"

	"github.com/R1cK-ChaN/hersite/internal/project"
)

var errNoProject = errors.New("no active project")

var slugStripRe = regexp.MustCompile(`[^a-z0-9]+`)

// Slugify derives a URL slug: lowercase, runs of non-alphanumerics
// collapsed to single hyphens, leading/trailing hyphens trimmed. The
// same title always yields the same slug.
func Slugify(s string) string {
	slug := slugStripRe.ReplaceAllString(strings.ToLower(s), "-")
	return strings.Trim(slug, "-")
}

// markdown renders page bodies. Unsafe rendering is intentional: the
// agent emits raw HTML fragments alongside markdown and both must pass
// through.
var markdown = goldmark.New(goldmark.WithRendererOptions(html.WithUnsafe()))

func (r *Registry) sandbox(call *Call) (*project.Sandbox, error) {
	sb := r.projects.Sandbox(call.UserID)
	if sb == nil {
		return nil, errNoProject
	}
	return sb, nil
}

func (r *Registry) handleReadFile(_ context.Context, call *Call) (string, error) {
	sb, err := r.sandbox(call)
	if err != nil {
		return `{"error": "No active project"}`, nil
	}
	return sb.ReadFile(call.str("path"))
}

func (r *Registry) handleWriteFile(_ context.Context, call *Call) (string, error) {
	sb, err := r.sandbox(call)
	if err != nil {
		return `{"error": "No active project"}`, nil
	}
	path := call.str("path")
	if err := sb.WriteFile(path, call.str("content")); err != nil {
		return "", err
	}
	call.touch(path)
	return fmt.Sprintf("File written successfully: %s", path), nil
}

func (r *Registry) handleModifyFile(_ context.Context, call *Call) (string, error) {
	sb, err := r.sandbox(call)
	if err != nil {
		return `{"error": "No active project"}`, nil
	}
	path := call.str("path")
	search := call.str("search")
	replace := call.str("replace")

	content, err := sb.ReadFile(path)
	if err != nil {
		return "", err
	}
	if !strings.Contains(content, search) {
		return fmt.Sprintf("Error: Could not find the search text in %s. Try reading the file first to see its exact contents.", path), nil
	}

	updated := strings.Replace(content, search, replace, 1)
	if err := sb.WriteFile(path, updated); err != nil {
		return "", err
	}
	call.touch(path)
	return fmt.Sprintf("File modified successfully: %s (%s)", path, diffSummary(content, updated)), nil
}

func (r *Registry) handleListFiles(_ context.Context, call *Call) (string, error) {
	sb := r.projects.Sandbox(call.UserID)
	if sb == nil {
		return "[]", nil
	}
	files, err := sb.ListFiles()
	if err != nil {
		return "", err
	}
	data, err := json.Marshal(files)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func (r *Registry) handleCreateBlogPost(_ context.Context, call *Call) (string, error) {
	sb, err := r.sandbox(call)
	if err != nil {
		return `{"error": "No active project"}`, nil
	}

	title := call.str("title")
	slug := Slugify(title)
	if slug == "" {
		return "Error: title produces an empty slug", nil
	}
	path := fmt.Sprintf("src/content/blog/%s.mdx", slug)

	var tags []string
	if raw, ok := call.Args["tags"].([]any); ok {
		for _, t := range raw {
			if s, ok := t.(string); ok {
				tags = append(tags, s)
			}
		}
	}

	lines := []string{
		"---",
		fmt.Sprintf("title: %q", title),
		fmt.Sprintf("description: %q", call.str("description")),
		fmt.Sprintf("pubDate: %s", time.Now().UTC().Format("2006-01-02")),
	}
	if len(tags) > 0 {
		quoted := make([]string, len(tags))
		for i, t := range tags {
			quoted[i] = fmt.Sprintf("%q", t)
		}
		lines = append(lines, fmt.Sprintf("tags: [%s]", strings.Join(quoted, ", ")))
	}
	lines = append(lines, "---")

	content := strings.Join(lines, "\n") + "\n\n" + call.str("content")
	if err := sb.WriteFile(path, content); err != nil {
		return "", err
	}
	call.touch(path)
	return fmt.Sprintf("Blog post created: %s", path), nil
}

func (r *Registry) handleCreatePage(_ context.Context, call *Call) (string, error) {
	sb, err := r.sandbox(call)
	if err != nil {
		return `{"error": "No active project"}`, nil
	}

	slug := Slugify(call.str("slug"))
	if slug == "" {
		return "Error: slug is empty after normalization", nil
	}
	title := call.str("title")

	var body bytes.Buffer
	if err := markdown.Convert([]byte(call.str("content")), &body); err != nil {
		return "", fmt.Errorf("render page body: %w", err)
	}

	pageContent := fmt.Sprintf(`---
import Layout from '../layouts/Layout.astro';
---

<Layout title=%q>
  <article>
    <h1>%s</h1>
    %s
  </article>
</Layout>
`, title, title, strings.TrimSpace(body.String()))

	pagePath := fmt.Sprintf("src/pages/%s.astro", slug)
	if err := sb.WriteFile(pagePath, pageContent); err != nil {
		return "", err
	}
	call.touch(pagePath)

	// Best-effort nav link; layouts without a nav are left alone.
	const layoutPath = "src/layouts/Layout.astro"
	if layout, err := sb.ReadFile(layoutPath); err == nil && strings.Contains(layout, "</nav>") {
		navLink := fmt.Sprintf(`<a href="/%s">%s</a>`, slug, title)
		updated := strings.Replace(layout, "</nav>", fmt.Sprintf("  %s\n      </nav>", navLink), 1)
		if err := sb.WriteFile(layoutPath, updated); err == nil {
			call.touch(layoutPath)
		}
	}

	return fmt.Sprintf("Page created: %s (and added to navigation)", pagePath), nil
}

func (r *Registry) handleUpdateTheme(_ context.Context, call *Call) (string, error) {
	sb, err := r.sandbox(call)
	if err != nil {
		return `{"error": "No active project"}`, nil
	}

	rawVars, ok := call.Args["variables"].(map[string]any)
	if !ok || len(rawVars) == 0 {
		return "Error: variables must be a non-empty object", nil
	}

	const themePath = "src/styles/theme.css"
	content, err := sb.ReadFile(themePath)
	if err != nil {
		return "", err
	}

	names := make([]string, 0, len(rawVars))
	for name := range rawVars {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		value, ok := rawVars[name].(string)
		if !ok {
			continue
		}
		// Only rewrite declarations that already exist; unknown
		// variables are ignored rather than appended.
		re, err := regexp.Compile(`(` + regexp.QuoteMeta(name) + `):\s*[^;]+;`)
		if err != nil {
			continue
		}
		if re.MatchString(content) {
			content = re.ReplaceAllString(content, fmt.Sprintf("$1: %s;", value))
		}
	}

	if err := sb.WriteFile(themePath, content); err != nil {
		return "", err
	}
	call.touch(themePath)
	return fmt.Sprintf("Theme updated: %s", strings.Join(names, ", ")), nil
}

func (r *Registry) handleDeleteFile(_ context.Context, call *Call) (string, error) {
	sb, err := r.sandbox(call)
	if err != nil {
		return `{"error": "No active project"}`, nil
	}
	path := call.str("path")
	if err := sb.DeleteFile(path); err != nil {
		return "", err
	}
	call.touch(path)
	return fmt.Sprintf("File deleted: %s", path), nil
}

// diffSummary reports the character churn between two versions.
func diffSummary(before, after string) string {
	dmp := diffmatchpatch.New()
	diffs := dmp.DiffMain(before, after, false)
	var added, removed int
	for _, d := range diffs {
		switch d.Type {
		case diffmatchpatch.DiffInsert:
			added += len(d.Text)
		case diffmatchpatch.DiffDelete:
			removed += len(d.Text)
		}
	}
	return fmt.Sprintf("+%d/-%d chars", added, removed)
}
