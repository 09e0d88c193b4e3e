// Package propagate turns a finished chat turn's changed files into
// commits and preview rebuilds, and watches the sandbox for
// out-of-band edits.
package propagate

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/R1cK-ChaN/hersite/internal/events"
	"github.com/R1cK-ChaN/hersite/internal/project"
)

// Committer records a mutation in version control. gitops.Git
// implements it.
type Committer interface {
	Commit(ctx context.Context, root, message string) (string, error)
	Push(ctx context.Context, root string)
}

// Rebuilder refreshes the preview build. builder.Builder implements it.
type Rebuilder interface {
	Rebuild(ctx context.Context, root string) error
}

// Propagator pushes project mutations through commit and rebuild. All
// work is asynchronous relative to the chat reply; failures surface as
// log lines and status events only.
type Propagator struct {
	projects *project.Registry
	git      Committer
	builder  Rebuilder
	bus      *events.Bus
	logger   *slog.Logger

	wg sync.WaitGroup
}

// New creates a propagator.
func New(projects *project.Registry, git Committer, b Rebuilder, bus *events.Bus, logger *slog.Logger) *Propagator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Propagator{
		projects: projects,
		git:      git,
		builder:  b,
		bus:      bus,
		logger:   logger.With("component", "propagate"),
	}
}

// OnChanges kicks off commit and rebuild for a turn's changed files.
// Returns immediately; no-op for an empty changed set.
func (p *Propagator) OnChanges(ctx context.Context, userID string, changedFiles []string) {
	if len(changedFiles) == 0 {
		return
	}

	p.bus.Publish(events.New(userID, events.KindPreviewUpdate, map[string]any{
		"changedFiles": changedFiles,
	}))

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.run(ctx, userID, changedFiles)
	}()
}

// Wait blocks until in-flight propagation finishes. Used on shutdown
// and in tests.
func (p *Propagator) Wait() {
	p.wg.Wait()
}

func (p *Propagator) run(ctx context.Context, userID string, changedFiles []string) {
	proj, sb, ok := p.projects.Get(userID)
	if !ok {
		p.logger.Warn("propagation for user without project", "user", userID)
		return
	}
	root := sb.Root()

	msg := commitMessage(changedFiles)
	if _, err := p.git.Commit(ctx, root, msg); err != nil {
		p.logger.Error("commit failed", "user", userID, "error", err)
	} else {
		p.git.Push(ctx, root)
	}

	start := time.Now()
	if err := p.builder.Rebuild(ctx, root); err != nil {
		p.logger.Error("preview rebuild failed", "user", userID, "error", err)
		return
	}

	p.logger.Info("preview rebuilt", "user", userID, "elapsed", time.Since(start).Round(time.Millisecond))
	p.bus.Publish(events.New(userID, events.KindPreviewRebuilt, map[string]any{
		"previewUrl": proj.PreviewURL,
	}))
}

func commitMessage(changedFiles []string) string {
	if len(changedFiles) == 1 {
		return fmt.Sprintf("Update %s", changedFiles[0])
	}
	return fmt.Sprintf("Update %d files: %s", len(changedFiles), strings.Join(changedFiles, ", "))
}
