// Package gitops versions project directories with the git CLI. Every
// agent mutation lands as a commit so changes can be inspected and
// reverted.
package gitops

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"
)

const commandTimeout = 30 * time.Second

// Commit identity used when the host has none configured.
var identityArgs = []string{
	"-c", "user.name=HerSite",
	"-c", "user.email=agent@hersite.local",
}

// Entry is one commit in a project's history.
type Entry struct {
	Hash    string `json:"hash"`
	Message string `json:"message"`
	Date    string `json:"date"`
}

// Git runs git operations against project roots.
type Git struct {
	remote string
	logger *slog.Logger
}

// New creates a Git collaborator. remote may be empty; push becomes a
// no-op then.
func New(remote string, logger *slog.Logger) *Git {
	if logger == nil {
		logger = slog.Default()
	}
	return &Git{remote: remote, logger: logger.With("component", "git")}
}

func (g *Git) run(ctx context.Context, root string, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	full := append([]string{"-C", root}, identityArgs...)
	full = append(full, args...)
	cmd := exec.CommandContext(ctx, "git", full...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("git %s: %w\n%s", args[0], err, output)
	}
	return strings.TrimSpace(string(output)), nil
}

// Init initializes a repository in root with an initial commit and,
// when a remote is configured, an origin remote.
func (g *Git) Init(ctx context.Context, root string) error {
	if _, err := g.run(ctx, root, "init"); err != nil {
		return err
	}
	if _, err := g.run(ctx, root, "add", "."); err != nil {
		return err
	}
	if _, err := g.run(ctx, root, "commit", "-m", "Initial commit from HerSite"); err != nil {
		return err
	}
	if g.remote != "" {
		// Remote may already exist; not an error.
		if _, err := g.run(ctx, root, "remote", "add", "origin", g.remote); err != nil {
			g.logger.Debug("remote add skipped", "error", err)
		}
	}
	return nil
}

// Commit stages everything and commits, returning the new hash. An
// empty worktree is not an error; the current HEAD hash is returned.
func (g *Git) Commit(ctx context.Context, root, message string) (string, error) {
	if _, err := g.run(ctx, root, "add", "-A"); err != nil {
		return "", err
	}

	status, err := g.run(ctx, root, "status", "--porcelain")
	if err != nil {
		return "", err
	}
	if status != "" {
		if _, err := g.run(ctx, root, "commit", "-m", message); err != nil {
			return "", err
		}
	}
	return g.run(ctx, root, "rev-parse", "HEAD")
}

// Push force-pushes main to origin. Failures are logged, not returned;
// the remote is a best-effort backup.
func (g *Git) Push(ctx context.Context, root string) {
	if g.remote == "" {
		return
	}
	if _, err := g.run(ctx, root, "push", "--force", "origin", "HEAD:main"); err != nil {
		g.logger.Warn("git push failed", "root", root, "error", err)
	}
}

// History returns the most recent n commits, newest first.
func (g *Git) History(ctx context.Context, root string, n int) ([]Entry, error) {
	if n <= 0 {
		n = 10
	}
	out, err := g.run(ctx, root, "log", fmt.Sprintf("-%d", n), "--pretty=format:%H%x1f%s%x1f%cI")
	if err != nil {
		return nil, err
	}
	var entries []Entry
	for _, line := range strings.Split(out, "\n") {
		parts := strings.Split(line, "\x1f")
		if len(parts) != 3 {
			continue
		}
		entries = append(entries, Entry{Hash: parts[0], Message: parts[1], Date: parts[2]})
	}
	return entries, nil
}

// RevertLast reverts HEAD with a new commit and returns its hash.
func (g *Git) RevertLast(ctx context.Context, root string) (string, error) {
	if _, err := g.run(ctx, root, "revert", "--no-edit", "HEAD"); err != nil {
		return "", err
	}
	return g.run(ctx, root, "rev-parse", "HEAD")
}
