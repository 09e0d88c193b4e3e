// Package tools defines the tools available to the agent and executes
// them against a user's project sandbox.
package tools

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/R1cK-ChaN/hersite/internal/llm"
	"github.com/R1cK-ChaN/hersite/internal/project"
)

// Tool represents a callable tool.
type Tool struct {
	Name        string
	Description string
	Parameters  map[string]any
	Handler     func(ctx context.Context, call *Call) (string, error)
}

// Call carries the arguments of one tool invocation plus the paths it
// mutated.
type Call struct {
	UserID string
	Args   map[string]any

	changed []string
}

// Changed returns the relative paths this call mutated, in order.
func (c *Call) Changed() []string {
	return c.changed
}

func (c *Call) touch(paths ...string) {
	c.changed = append(c.changed, paths...)
}

func (c *Call) str(key string) string {
	s, _ := c.Args[key].(string)
	return s
}

// Registry holds the available tools.
type Registry struct {
	tools    map[string]*Tool
	order    []string
	projects *project.Registry
	logger   *slog.Logger
}

// NewRegistry creates a tool registry bound to the project registry.
func NewRegistry(projects *project.Registry, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{
		tools:    make(map[string]*Tool),
		projects: projects,
		logger:   logger.With("component", "tools"),
	}
	r.registerBuiltins()
	return r
}

// Register adds a tool to the registry.
func (r *Registry) Register(t *Tool) {
	if _, exists := r.tools[t.Name]; !exists {
		r.order = append(r.order, t.Name)
	}
	r.tools[t.Name] = t
}

// Get returns a tool by name, or nil.
func (r *Registry) Get(name string) *Tool {
	return r.tools[name]
}

// Definitions returns the tool catalog in model wire form, in
// registration order. The catalog is identical on every request.
func (r *Registry) Definitions() []llm.ToolDef {
	defs := make([]llm.ToolDef, 0, len(r.order))
	for _, name := range r.order {
		t := r.tools[name]
		defs = append(defs, llm.ToolDef{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: t.Parameters,
		})
	}
	return defs
}

// Execute runs a named tool for a user. Failures are converted to
// textual results so the model can read them and self-correct; the
// returned slice lists the paths the invocation mutated.
func (r *Registry) Execute(ctx context.Context, userID, name string, args map[string]any) (string, []string) {
	tool := r.tools[name]
	if tool == nil {
		return fmt.Sprintf("Unknown tool: %s", name), nil
	}

	call := &Call{UserID: userID, Args: args}
	result, err := tool.Handler(ctx, call)
	if err != nil {
		r.logger.Debug("tool failed", "tool", name, "user", userID, "error", err)
		return fmt.Sprintf("Error: %s", err), nil
	}

	if len(call.changed) > 0 {
		r.projects.MarkDirty(userID)
	}
	r.logger.Debug("tool executed", "tool", name, "user", userID, "changed", len(call.changed))
	return result, call.changed
}

func (r *Registry) registerBuiltins() {
	r.Register(&Tool{
		Name:        "readFile",
		Description: "Read the contents of a file from the project. Use this to understand the current state of a file before modifying it.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"path": map[string]any{
					"type":        "string",
					"description": "Relative path from the project root (e.g., 'src/pages/index.astro')",
				},
			},
			"required": []string{"path"},
		},
		Handler: r.handleReadFile,
	})

	r.Register(&Tool{
		Name:        "writeFile",
		Description: "Create a new file or completely replace the contents of an existing file.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"path": map[string]any{
					"type":        "string",
					"description": "Relative path from the project root",
				},
				"content": map[string]any{
					"type":        "string",
					"description": "The full content to write to the file",
				},
			},
			"required": []string{"path", "content"},
		},
		Handler: r.handleWriteFile,
	})

	r.Register(&Tool{
		Name:        "modifyFile",
		Description: "Find and replace text in an existing file. Useful for making targeted changes without rewriting the entire file.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"path": map[string]any{
					"type":        "string",
					"description": "Relative path from the project root",
				},
				"search": map[string]any{
					"type":        "string",
					"description": "The exact text to find in the file",
				},
				"replace": map[string]any{
					"type":        "string",
					"description": "The text to replace it with",
				},
			},
			"required": []string{"path", "search", "replace"},
		},
		Handler: r.handleModifyFile,
	})

	r.Register(&Tool{
		Name:        "listFiles",
		Description: "List all files in the project directory.",
		Parameters: map[string]any{
			"type":       "object",
			"properties": map[string]any{},
			"required":   []string{},
		},
		Handler: r.handleListFiles,
	})

	r.Register(&Tool{
		Name:        "createBlogPost",
		Description: "Create a new blog post as an MDX file with proper frontmatter.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"title": map[string]any{
					"type":        "string",
					"description": "The title of the blog post",
				},
				"content": map[string]any{
					"type":        "string",
					"description": "The markdown content of the blog post (without frontmatter)",
				},
				"description": map[string]any{
					"type":        "string",
					"description": "A short description/summary of the post",
				},
				"tags": map[string]any{
					"type":        "array",
					"items":       map[string]any{"type": "string"},
					"description": "Optional tags for the post",
				},
			},
			"required": []string{"title", "content", "description"},
		},
		Handler: r.handleCreateBlogPost,
	})

	r.Register(&Tool{
		Name:        "createPage",
		Description: "Create a new Astro page and add it to the site navigation.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"slug": map[string]any{
					"type":        "string",
					"description": "The URL slug for the page (e.g., 'about' creates /about)",
				},
				"title": map[string]any{
					"type":        "string",
					"description": "The page title",
				},
				"content": map[string]any{
					"type":        "string",
					"description": "The page body as markdown or HTML",
				},
			},
			"required": []string{"slug", "title", "content"},
		},
		Handler: r.handleCreatePage,
	})

	r.Register(&Tool{
		Name:        "updateTheme",
		Description: "Update CSS custom properties in the theme file. Use this to change colors, fonts, spacing, etc.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"variables": map[string]any{
					"type":                 "object",
					"description":          `An object mapping CSS variable names to values (e.g., {"--color-primary": "#ff6b9d"})`,
					"additionalProperties": map[string]any{"type": "string"},
				},
			},
			"required": []string{"variables"},
		},
		Handler: r.handleUpdateTheme,
	})

	r.Register(&Tool{
		Name:        "deleteFile",
		Description: "Delete a file from the project.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"path": map[string]any{
					"type":        "string",
					"description": "Relative path from the project root",
				},
			},
			"required": []string{"path"},
		},
		Handler: r.handleDeleteFile,
	})
}
