package project

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Persister saves project records so they survive restarts. The sqlite
// store implements it; a nil Persister keeps projects in memory only.
type Persister interface {
	SaveProject(p *Project) error
}

var (
	siteNameRe = regexp.MustCompile(`My Personal Site|My Blog|My Portfolio|My Site`)
	taglineRe  = regexp.MustCompile(`(?s)Welcome to my.*?[.!]`)
)

// Registry tracks each user's active project and its sandbox.
type Registry struct {
	projectsDir  string
	templatesDir string
	ignoreGlobs  []string
	persister    Persister
	logger       *slog.Logger

	mu     sync.RWMutex
	active map[string]*entry // keyed by userID
}

type entry struct {
	project *Project
	sandbox *Sandbox
}

// NewRegistry creates a registry. persister may be nil.
func NewRegistry(projectsDir, templatesDir string, ignoreGlobs []string, persister Persister, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		projectsDir:  projectsDir,
		templatesDir: templatesDir,
		ignoreGlobs:  ignoreGlobs,
		persister:    persister,
		logger:       logger.With("component", "projects"),
		active:       make(map[string]*entry),
	}
}

// Get returns the user's active project and sandbox.
func (r *Registry) Get(userID string) (*Project, *Sandbox, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.active[userID]
	if !ok {
		return nil, nil, false
	}
	return e.project, e.sandbox, true
}

// Sandbox returns just the sandbox for a user, or nil.
func (r *Registry) Sandbox(userID string) *Sandbox {
	_, sb, ok := r.Get(userID)
	if !ok {
		return nil
	}
	return sb
}

// Scaffold creates a new project for the user from a template: copies
// the template tree, personalizes the index page, registers the project
// and persists it.
func (r *Registry) Scaffold(userID, templateID, name, tagline string) (*Project, error) {
	if !ValidTemplate(templateID) {
		return nil, fmt.Errorf("unknown template %q", templateID)
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generate project id: %w", err)
	}
	projectID := id.String()
	projectPath := filepath.Join(r.projectsDir, projectID)
	templatePath := filepath.Join(r.templatesDir, templateID)

	if err := copyTree(templatePath, projectPath); err != nil {
		return nil, fmt.Errorf("copy template %s: %w", templateID, err)
	}

	sb := NewSandbox(projectPath, r.ignoreGlobs)
	r.personalize(sb, name, tagline)

	p := &Project{
		ID:         projectID,
		UserID:     userID,
		Name:       name,
		Tagline:    tagline,
		TemplateID: templateID,
	}

	r.mu.Lock()
	r.active[userID] = &entry{project: p, sandbox: sb}
	r.mu.Unlock()

	r.persist(p)
	r.logger.Info("project scaffolded", "user", userID, "project", projectID, "template", templateID)
	return p, nil
}

// Restore re-registers a persisted project whose directory already
// exists on disk.
func (r *Registry) Restore(p *Project) error {
	projectPath := filepath.Join(r.projectsDir, p.ID)
	if _, err := os.Stat(projectPath); err != nil {
		return fmt.Errorf("project dir %s: %w", p.ID, err)
	}
	r.mu.Lock()
	r.active[p.UserID] = &entry{project: p, sandbox: NewSandbox(projectPath, r.ignoreGlobs)}
	r.mu.Unlock()
	return nil
}

// MarkDirty flags the user's project as having unpublished changes.
func (r *Registry) MarkDirty(userID string) {
	r.update(userID, func(p *Project) {
		p.HasUnpublishedChanges = true
	})
}

// SetPreviewURL records the running dev-server URL.
func (r *Registry) SetPreviewURL(userID, url string) {
	r.update(userID, func(p *Project) {
		p.PreviewURL = url
	})
}

// SetSiteURL records a successful deploy and clears the dirty flag.
func (r *Registry) SetSiteURL(userID, url string) {
	r.update(userID, func(p *Project) {
		p.SiteURL = url
		p.LastDeployedAt = time.Now().UnixMilli()
		p.HasUnpublishedChanges = false
	})
}

func (r *Registry) update(userID string, fn func(*Project)) {
	r.mu.Lock()
	e, ok := r.active[userID]
	if !ok {
		r.mu.Unlock()
		return
	}
	fn(e.project)
	p := *e.project
	r.mu.Unlock()
	r.persist(&p)
}

func (r *Registry) persist(p *Project) {
	if r.persister == nil {
		return
	}
	if err := r.persister.SaveProject(p); err != nil {
		r.logger.Error("persist project failed", "project", p.ID, "error", err)
	}
}

// personalize replaces template placeholder names and the welcome
// sentence on the index page. Best-effort; templates drift.
func (r *Registry) personalize(sb *Sandbox, name, tagline string) {
	const indexPath = "src/pages/index.astro"
	content, err := sb.ReadFile(indexPath)
	if err != nil {
		return
	}
	content = siteNameRe.ReplaceAllString(content, name)
	welcome := tagline
	if welcome == "" {
		welcome = fmt.Sprintf("Welcome to %s's website!", name)
	}
	content = taglineRe.ReplaceAllString(content, welcome)
	if err := sb.WriteFile(indexPath, content); err != nil {
		r.logger.Warn("personalize index failed", "error", err)
	}
}

func copyTree(src, dst string) error {
	entries, err := os.ReadDir(src)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dst, 0755); err != nil {
		return err
	}
	for _, e := range entries {
		srcPath := filepath.Join(src, e.Name())
		dstPath := filepath.Join(dst, e.Name())
		if e.IsDir() {
			if err := copyTree(srcPath, dstPath); err != nil {
				return err
			}
			continue
		}
		if err := copyFile(srcPath, dstPath); err != nil {
			return err
		}
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
