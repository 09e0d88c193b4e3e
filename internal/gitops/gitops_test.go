package gitops

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
)

func requireGit(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
}

func writeFile(t *testing.T, root, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(root, name), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestInitCommitHistory(t *testing.T) {
	requireGit(t)
	g := New("", nil)
	ctx := context.Background()
	root := t.TempDir()

	writeFile(t, root, "index.astro", "<h1>Hi</h1>")
	if err := g.Init(ctx, root); err != nil {
		t.Fatal(err)
	}

	writeFile(t, root, "about.astro", "<h1>About</h1>")
	hash, err := g.Commit(ctx, root, "Add about page")
	if err != nil {
		t.Fatal(err)
	}
	if len(hash) != 40 {
		t.Errorf("expected full commit hash, got %q", hash)
	}

	entries, err := g.History(ctx, root, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 commits, got %d: %v", len(entries), entries)
	}
	if entries[0].Message != "Add about page" {
		t.Errorf("unexpected latest message: %q", entries[0].Message)
	}
	if entries[1].Message != "Initial commit from HerSite" {
		t.Errorf("unexpected initial message: %q", entries[1].Message)
	}
}

func TestCommitCleanWorktree(t *testing.T) {
	requireGit(t)
	g := New("", nil)
	ctx := context.Background()
	root := t.TempDir()

	writeFile(t, root, "index.astro", "x")
	if err := g.Init(ctx, root); err != nil {
		t.Fatal(err)
	}

	first, err := g.Commit(ctx, root, "nothing changed")
	if err != nil {
		t.Fatal(err)
	}
	second, err := g.Commit(ctx, root, "still nothing")
	if err != nil {
		t.Fatal(err)
	}
	if first != second {
		t.Errorf("clean worktree should not create commits: %s vs %s", first, second)
	}
}

func TestRevertLast(t *testing.T) {
	requireGit(t)
	g := New("", nil)
	ctx := context.Background()
	root := t.TempDir()

	writeFile(t, root, "index.astro", "v1")
	if err := g.Init(ctx, root); err != nil {
		t.Fatal(err)
	}

	writeFile(t, root, "index.astro", "v2")
	if _, err := g.Commit(ctx, root, "bad change"); err != nil {
		t.Fatal(err)
	}

	if _, err := g.RevertLast(ctx, root); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(filepath.Join(root, "index.astro"))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "v1" {
		t.Errorf("revert did not restore content: %q", data)
	}

	entries, err := g.History(ctx, root, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 3 {
		t.Errorf("expected 3 commits after revert, got %d", len(entries))
	}
}

func TestPushWithoutRemoteIsNoop(t *testing.T) {
	requireGit(t)
	g := New("", nil)
	root := t.TempDir()
	writeFile(t, root, "index.astro", "x")
	if err := g.Init(context.Background(), root); err != nil {
		t.Fatal(err)
	}
	// Must not panic or error
	g.Push(context.Background(), root)
}
