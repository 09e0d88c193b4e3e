// Package builder runs the site toolchain: dependency install, static
// builds, and the per-user preview dev server.
package builder

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"path/filepath"
	"sync"
	"time"
)

// Builder manages build invocations and preview dev servers. One dev
// server runs per user; starting a new one stops the previous instance.
type Builder struct {
	basePort       int
	installTimeout time.Duration
	buildTimeout   time.Duration
	logger         *slog.Logger

	mu        sync.Mutex
	servers   map[string]*devServer // keyed by userID
	ports     map[string]int        // stable port assignment per user
	installed map[string]bool       // roots with deps installed
	nextPort  int
}

type devServer struct {
	cmd    *exec.Cmd
	cancel context.CancelFunc
	port   int
	done   chan struct{}
}

// New creates a builder. Ports are assigned from basePort upward.
func New(basePort int, installTimeout, buildTimeout time.Duration, logger *slog.Logger) *Builder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Builder{
		basePort:       basePort,
		installTimeout: installTimeout,
		buildTimeout:   buildTimeout,
		logger:         logger.With("component", "builder"),
		servers:        make(map[string]*devServer),
		ports:          make(map[string]int),
		installed:      make(map[string]bool),
	}
}

// StartPreview launches the dev server for a user's project and
// returns its URL. A previous instance for the same user is stopped
// first. The server keeps running after ctx is done; use StopPreview.
func (b *Builder) StartPreview(ctx context.Context, userID, root string) (string, error) {
	if err := b.ensureInstalled(ctx, root); err != nil {
		return "", err
	}

	b.StopPreview(userID)

	b.mu.Lock()
	port, ok := b.ports[userID]
	if !ok {
		port = b.basePort + b.nextPort
		b.nextPort++
		b.ports[userID] = port
	}
	b.mu.Unlock()

	srvCtx, cancel := context.WithCancel(context.Background())
	cmd := exec.CommandContext(srvCtx, "npx", "astro", "dev", "--port", fmt.Sprint(port), "--host")
	cmd.Dir = root

	if err := cmd.Start(); err != nil {
		cancel()
		return "", fmt.Errorf("start dev server: %w", err)
	}

	srv := &devServer{cmd: cmd, cancel: cancel, port: port, done: make(chan struct{})}
	go func() {
		err := cmd.Wait()
		close(srv.done)
		if err != nil && srvCtx.Err() == nil {
			b.logger.Warn("dev server exited", "user", userID, "error", err)
		}
	}()

	b.mu.Lock()
	b.servers[userID] = srv
	b.mu.Unlock()

	url := fmt.Sprintf("http://localhost:%d", port)
	b.logger.Info("preview started", "user", userID, "url", url)
	return url, nil
}

// StopPreview stops the user's dev server if one is running.
func (b *Builder) StopPreview(userID string) {
	b.mu.Lock()
	srv := b.servers[userID]
	delete(b.servers, userID)
	b.mu.Unlock()

	if srv == nil {
		return
	}
	srv.cancel()
	select {
	case <-srv.done:
	case <-time.After(5 * time.Second):
		b.logger.Warn("dev server slow to stop", "user", userID)
	}
}

// StopAll stops every running dev server. Called on shutdown.
func (b *Builder) StopAll() {
	b.mu.Lock()
	users := make([]string, 0, len(b.servers))
	for userID := range b.servers {
		users = append(users, userID)
	}
	b.mu.Unlock()
	for _, userID := range users {
		b.StopPreview(userID)
	}
}

// Rebuild runs a static build of the project. The build's combined
// output is included in the error on failure.
func (b *Builder) Rebuild(ctx context.Context, root string) error {
	_, err := b.build(ctx, root, "dist")
	return err
}

// BuildForDeploy builds the project for production and returns the
// output directory.
func (b *Builder) BuildForDeploy(ctx context.Context, root string) (string, error) {
	return b.build(ctx, root, filepath.Join("dist", "prod"))
}

func (b *Builder) build(ctx context.Context, root, outDir string) (string, error) {
	if err := b.ensureInstalled(ctx, root); err != nil {
		return "", err
	}

	buildCtx, cancel := context.WithTimeout(ctx, b.buildTimeout)
	defer cancel()

	start := time.Now()
	cmd := exec.CommandContext(buildCtx, "npx", "astro", "build", "--outDir", outDir)
	cmd.Dir = root
	cmd.Env = append(cmd.Environ(), "FORCE_COLOR=0")

	output, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("astro build failed: %w\n%s", err, output)
	}

	b.logger.Info("build complete", "root", root, "elapsed", time.Since(start).Round(time.Millisecond))
	return filepath.Join(root, outDir), nil
}

func (b *Builder) ensureInstalled(ctx context.Context, root string) error {
	b.mu.Lock()
	done := b.installed[root]
	b.mu.Unlock()
	if done {
		return nil
	}

	installCtx, cancel := context.WithTimeout(ctx, b.installTimeout)
	defer cancel()

	start := time.Now()
	cmd := exec.CommandContext(installCtx, "npm", "install")
	cmd.Dir = root
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("npm install failed: %w\n%s", err, output)
	}

	b.mu.Lock()
	b.installed[root] = true
	b.mu.Unlock()

	b.logger.Info("dependencies installed", "root", root, "elapsed", time.Since(start).Round(time.Second))
	return nil
}
