package project

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

type fakePersister struct {
	saved []*Project
}

func (f *fakePersister) SaveProject(p *Project) error {
	f.saved = append(f.saved, p)
	return nil
}

func writeTemplate(t *testing.T, templatesDir, id string) {
	t.Helper()
	base := filepath.Join(templatesDir, id)
	files := map[string]string{
		"src/pages/index.astro":  "<h1>My Personal Site</h1>\n<p>Welcome to my corner of the internet.</p>",
		"src/styles/theme.css":   ":root {\n  --primary-color: #222222;\n}",
		"src/layouts/Layout.astro": "<nav>\n  <a href=\"/\">Home</a>\n</nav>",
		"package.json":            "{}",
	}
	for rel, content := range files {
		path := filepath.Join(base, rel)
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
	}
}

func TestScaffoldPersonalizes(t *testing.T) {
	dir := t.TempDir()
	templatesDir := filepath.Join(dir, "templates")
	writeTemplate(t, templatesDir, "blog")

	fp := &fakePersister{}
	r := NewRegistry(filepath.Join(dir, "projects"), templatesDir, nil, fp, nil)

	p, err := r.Scaffold("user-1", "blog", "Ada's Corner", "Notes on computing.")
	if err != nil {
		t.Fatal(err)
	}
	if p.ID == "" || p.TemplateID != "blog" || p.HasUnpublishedChanges {
		t.Errorf("unexpected project: %+v", p)
	}

	_, sb, ok := r.Get("user-1")
	if !ok {
		t.Fatal("project not registered")
	}

	index, err := sb.ReadFile("src/pages/index.astro")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(index, "Ada's Corner") {
		t.Errorf("site name not personalized: %q", index)
	}
	if !strings.Contains(index, "Notes on computing.") {
		t.Errorf("tagline not applied: %q", index)
	}
	if strings.Contains(index, "Welcome to my") {
		t.Errorf("placeholder welcome left behind: %q", index)
	}

	if len(fp.saved) != 1 {
		t.Errorf("expected 1 persisted save, got %d", len(fp.saved))
	}
}

func TestScaffoldDefaultWelcome(t *testing.T) {
	dir := t.TempDir()
	templatesDir := filepath.Join(dir, "templates")
	writeTemplate(t, templatesDir, "portfolio")

	r := NewRegistry(filepath.Join(dir, "projects"), templatesDir, nil, nil, nil)
	if _, err := r.Scaffold("user-1", "portfolio", "Grace", ""); err != nil {
		t.Fatal(err)
	}

	sb := r.Sandbox("user-1")
	index, err := sb.ReadFile("src/pages/index.astro")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(index, "Welcome to Grace's website!") {
		t.Errorf("default welcome missing: %q", index)
	}
}

func TestScaffoldRejectsUnknownTemplate(t *testing.T) {
	dir := t.TempDir()
	r := NewRegistry(filepath.Join(dir, "projects"), filepath.Join(dir, "templates"), nil, nil, nil)
	if _, err := r.Scaffold("user-1", "ecommerce", "Shop", ""); err == nil {
		t.Fatal("expected error for unknown template")
	}
}

func TestDirtyFlagLifecycle(t *testing.T) {
	dir := t.TempDir()
	templatesDir := filepath.Join(dir, "templates")
	writeTemplate(t, templatesDir, "blog")

	fp := &fakePersister{}
	r := NewRegistry(filepath.Join(dir, "projects"), templatesDir, nil, fp, nil)
	if _, err := r.Scaffold("user-1", "blog", "Ada", ""); err != nil {
		t.Fatal(err)
	}

	r.MarkDirty("user-1")
	p, _, _ := r.Get("user-1")
	if !p.HasUnpublishedChanges {
		t.Error("expected dirty flag set")
	}

	r.SetSiteURL("user-1", "https://ada.vercel.app")
	p, _, _ = r.Get("user-1")
	if p.HasUnpublishedChanges {
		t.Error("expected dirty flag cleared after deploy")
	}
	if p.SiteURL != "https://ada.vercel.app" || p.LastDeployedAt == 0 {
		t.Errorf("deploy fields not recorded: %+v", p)
	}

	// scaffold + dirty + deploy = 3 persisted saves
	if len(fp.saved) != 3 {
		t.Errorf("expected 3 persisted saves, got %d", len(fp.saved))
	}
}

func TestRestore(t *testing.T) {
	dir := t.TempDir()
	templatesDir := filepath.Join(dir, "templates")
	writeTemplate(t, templatesDir, "blog")

	projectsDir := filepath.Join(dir, "projects")
	r := NewRegistry(projectsDir, templatesDir, nil, nil, nil)
	p, err := r.Scaffold("user-1", "blog", "Ada", "")
	if err != nil {
		t.Fatal(err)
	}

	// Fresh registry, as after a restart
	r2 := NewRegistry(projectsDir, templatesDir, nil, nil, nil)
	if err := r2.Restore(p); err != nil {
		t.Fatal(err)
	}
	if sb := r2.Sandbox("user-1"); sb == nil {
		t.Fatal("sandbox not restored")
	}

	missing := &Project{ID: "does-not-exist", UserID: "user-2"}
	if err := r2.Restore(missing); err == nil {
		t.Error("expected error restoring missing project dir")
	}
}
