// HerSite is a chat-driven website editor server.
//
// An AI agent edits a per-user static Astro site in response to chat
// instructions delivered over a persistent WebSocket. Edits are placed
// in a sandboxed project directory, committed to git, rebuilt for a
// live preview, and published to Vercel on request. Configuration is
// loaded from a single YAML file discovered automatically (see
// [config.DefaultSearchPaths]).
//
// Usage:
//
//	hersite serve              Start the server
//	hersite init [dir]         Initialize a working directory with defaults
//	hersite invite <user-id>   Create a user and print their invite token
//	hersite version            Print version and build information
//	hersite -o json version    Output version information as JSON
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/R1cK-ChaN/hersite/internal/agent"
	"github.com/R1cK-ChaN/hersite/internal/buildinfo"
	"github.com/R1cK-ChaN/hersite/internal/builder"
	"github.com/R1cK-ChaN/hersite/internal/config"
	"github.com/R1cK-ChaN/hersite/internal/credentials"
	"github.com/R1cK-ChaN/hersite/internal/deploy"
	"github.com/R1cK-ChaN/hersite/internal/events"
	"github.com/R1cK-ChaN/hersite/internal/gitops"
	"github.com/R1cK-ChaN/hersite/internal/history"
	"github.com/R1cK-ChaN/hersite/internal/project"
	"github.com/R1cK-ChaN/hersite/internal/propagate"
	"github.com/R1cK-ChaN/hersite/internal/store"
	"github.com/R1cK-ChaN/hersite/internal/tools"
	"github.com/R1cK-ChaN/hersite/internal/web"
)

// historyMaxTurns bounds the in-memory model transcript per user.
const historyMaxTurns = 200

// main is intentionally minimal. It constructs the OS-level environment
// (context, stdio, argv) and delegates immediately to [run]. This keeps
// os.Exit, os.Stdout, and os.Args out of the application logic so that
// the full startup-to-shutdown lifecycle can be driven from tests.
func main() {
	ctx := context.Background()

	if err := run(ctx, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

// run is the real entry point for the hersite command. All OS-level
// dependencies are injected as parameters:
//
//   - ctx controls the lifetime of the process. Cancelling it triggers
//     graceful shutdown of the server and background goroutines.
//   - stdout and stderr receive all program output. Structured logs go
//     to stdout; fatal error messages go to stderr.
//   - args is os.Args[1:]. We parse these manually rather than using
//     the flag package to avoid global state that interferes with
//     parallel tests.
func run(ctx context.Context, stdout io.Writer, stderr io.Writer, args []string) error {
	var configPath string
	var outputFmt string // "text" (default) or "json"
	var command string
	var cmdArgs []string

	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "-config" && i+1 < len(args):
			configPath = args[i+1]
			i++ // skip the value
		case strings.HasPrefix(args[i], "-config="):
			configPath = strings.TrimPrefix(args[i], "-config=")
		case (args[i] == "-o" || args[i] == "--output") && i+1 < len(args):
			outputFmt = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-o="):
			outputFmt = strings.TrimPrefix(args[i], "-o=")
		case strings.HasPrefix(args[i], "--output="):
			outputFmt = strings.TrimPrefix(args[i], "--output=")
		case args[i] == "-h" || args[i] == "-help" || args[i] == "--help":
			return printUsage(stdout)
		case !strings.HasPrefix(args[i], "-") && command == "":
			command = args[i]
		default:
			if command != "" {
				cmdArgs = append(cmdArgs, args[i])
			} else {
				return fmt.Errorf("unknown flag: %s", args[i])
			}
		}
	}

	if outputFmt == "" {
		outputFmt = "text"
	}
	if outputFmt != "text" && outputFmt != "json" {
		return fmt.Errorf("unknown output format: %q (expected text or json)", outputFmt)
	}

	switch command {
	case "serve":
		return runServe(ctx, stdout, stderr, configPath)
	case "init":
		dir := "."
		if len(cmdArgs) > 0 {
			dir = cmdArgs[0]
		}
		return runInit(stdout, dir)
	case "invite":
		if len(cmdArgs) == 0 {
			return fmt.Errorf("usage: hersite invite <user-id>")
		}
		return runInvite(stdout, configPath, cmdArgs[0])
	case "version":
		return runVersion(stdout, outputFmt)
	case "":
		return printUsage(stdout)
	default:
		return fmt.Errorf("unknown command: %s", command)
	}
}

// runVersion prints build metadata in the requested output format.
func runVersion(w io.Writer, outputFmt string) error {
	info := buildinfo.BuildInfo()
	if outputFmt == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	}
	fmt.Fprintln(w, buildinfo.String())
	for _, k := range []string{"version", "git_commit", "build_time", "go_version", "os", "arch"} {
		if v, ok := info[k]; ok {
			fmt.Fprintf(w, "  %-12s %s\n", k+":", v)
		}
	}
	return nil
}

// printUsage writes the top-level help text to w.
func printUsage(w io.Writer) error {
	fmt.Fprintln(w, "HerSite - Chat-Driven Website Editor Server")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage: hersite [flags] <command> [args]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  serve             Start the server")
	fmt.Fprintln(w, "  init [dir]        Initialize working directory with defaults (default: .)")
	fmt.Fprintln(w, "  invite <user-id>  Create a user and print their invite token")
	fmt.Fprintln(w, "  version           Show version information")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	fmt.Fprintln(w, "  -config <path>    Path to config file (default: auto-discover)")
	fmt.Fprintln(w, "  -o, --output fmt  Output format: text (default) or json")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Config search order:")
	fmt.Fprintln(w, "  ./hersite.yaml, ~/.config/hersite/hersite.yaml, /etc/hersite/hersite.yaml")
	return nil
}

// runInvite creates a user account and prints the invite token that
// authenticates their WebSocket sessions.
func runInvite(stdout io.Writer, configPath, userID string) error {
	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	db, err := store.Open(filepath.Join(cfg.DataDir, "hersite.db"))
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()

	token, err := uuid.NewV7()
	if err != nil {
		return err
	}
	if err := db.CreateUser(userID, token.String()); err != nil {
		return fmt.Errorf("create user %s: %w", userID, err)
	}

	fmt.Fprintf(stdout, "Created user %s\n", userID)
	fmt.Fprintf(stdout, "Invite token: %s\n", token)
	return nil
}

// runServe handles the "hersite serve" subcommand. It is the primary
// operating mode: loads config, opens the database, restores persisted
// projects, wires the agent and the propagation pipeline, starts the
// server, and blocks until a shutdown signal arrives.
//
// The shutdown sequence is:
//  1. SIGINT or SIGTERM cancels the context
//  2. The HTTP server drains in-flight requests
//  3. Sandbox watchers and preview dev servers stop
//  4. In-flight commit/rebuild pipelines run to completion
func runServe(ctx context.Context, stdout io.Writer, stderr io.Writer, configPath string) error {
	logger := newLogger(stdout, slog.LevelInfo, "text")
	logger.Info("starting HerSite", "version", buildinfo.Version, "commit", buildinfo.GitCommit, "built", buildinfo.BuildTime)

	cfg, cfgPath, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	// Reconfigure the logger now that we know the desired level and
	// format. The initial Info-level text logger covers only the
	// startup banner.
	{
		level := slog.LevelInfo
		if cfg.LogLevel != "" {
			// Already validated by config.Validate().
			level, _ = config.ParseLogLevel(cfg.LogLevel)
		}
		logger = newLogger(stdout, level, cfg.LogFormat)
	}

	logger.Info("config loaded",
		"path", cfgPath,
		"port", cfg.Listen.Port,
		"model", cfg.Anthropic.Model,
		"projects_dir", cfg.Projects.Dir,
	)

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return fmt.Errorf("create data directory: %w", err)
	}

	db, err := store.Open(filepath.Join(cfg.DataDir, "hersite.db"))
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()

	bus := events.NewBus()
	registry := project.NewRegistry(cfg.Projects.Dir, cfg.Projects.TemplatesDir, cfg.Projects.IgnoreGlobs, db, logger)

	resolver := credentials.NewResolver(cfg.Anthropic.APIKey, "", logger)
	logger.Info("credentials", "source", resolver.CredentialSource())

	toolReg := tools.NewRegistry(registry, logger)
	hist := history.NewMemoryStore(historyMaxTurns)
	agentSvc := agent.New(agent.Config{
		Model:         cfg.Anthropic.Model,
		MaxToolRounds: cfg.Agent.MaxToolRounds,
		ModelTimeout:  cfg.Agent.ModelTimeout(),
		MaxTokens:     cfg.Agent.MaxTokens,
	}, resolver, registry, toolReg, hist, bus, logger)

	previews := builder.New(cfg.Builder.BasePort, cfg.Builder.InstallTimeout(), cfg.Builder.BuildTimeout(), logger)
	git := gitops.New(cfg.Git.Remote, logger)

	var deployer web.SiteDeployer
	if cfg.Deploy.VercelToken != "" {
		deployer = deploy.New(cfg.Deploy.VercelToken, cfg.Deploy.ProjectName, cfg.Deploy.Timeout(), bus, logger)
	} else {
		logger.Info("publishing disabled (no vercel token)")
	}

	propagator := propagate.New(registry, git, previews, bus, logger)
	watchers := newWatcherSet(cfg.Builder, propagator, logger)
	defer watchers.StopAll()

	// Restore persisted projects: re-register sandboxes, bring their
	// preview dev servers back up, and watch them for changes.
	restored, err := db.AllProjects()
	if err != nil {
		return fmt.Errorf("restore projects: %w", err)
	}
	for _, p := range restored {
		if err := registry.Restore(p); err != nil {
			logger.Warn("skipping unrestorable project", "project", p.ID, "user", p.UserID, "error", err)
			continue
		}
		root := registry.Sandbox(p.UserID).Root()
		if url, err := previews.StartPreview(ctx, p.UserID, root); err != nil {
			logger.Warn("preview failed to start", "user", p.UserID, "error", err)
		} else {
			registry.SetPreviewURL(p.UserID, url)
		}
		watchers.Watch(p.UserID, root)
		logger.Info("project restored", "project", p.ID, "user", p.UserID)
	}

	// Projects created during this run get a watcher as soon as their
	// scaffold lands.
	go watchers.followCreations(bus, registry)

	server := web.New(cfg.Listen.Address, cfg.Listen.Port, db, registry, agentSvc, previews, git, deployer, propagator, bus, logger)

	// --- Signal handling and graceful shutdown ---
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	go func() {
		<-ctx.Done()
		logger.Info("shutdown signal received")
		_ = server.Shutdown(context.Background())
	}()

	// Blocks until the server is shut down via context cancellation or
	// a fatal error.
	if err := server.Start(ctx); err != nil {
		if ctx.Err() == nil {
			return fmt.Errorf("server failed: %w", err)
		}
	}

	previews.StopAll()
	propagator.Wait()

	logger.Info("HerSite stopped")
	return nil
}

// watcherSet tracks the per-project sandbox watchers.
type watcherSet struct {
	cfg        config.BuilderConfig
	propagator *propagate.Propagator
	logger     *slog.Logger

	mu       sync.Mutex
	watchers map[string]*propagate.Watcher
}

func newWatcherSet(cfg config.BuilderConfig, p *propagate.Propagator, logger *slog.Logger) *watcherSet {
	return &watcherSet{
		cfg:        cfg,
		propagator: p,
		logger:     logger,
		watchers:   make(map[string]*propagate.Watcher),
	}
}

// Watch starts a sandbox watcher for the user's project root. No-op
// when watch rebuilds are disabled or the user is already watched.
func (ws *watcherSet) Watch(userID, root string) {
	if !ws.cfg.WatchRebuilds {
		return
	}

	ws.mu.Lock()
	defer ws.mu.Unlock()
	if _, ok := ws.watchers[userID]; ok {
		return
	}

	debounce := time.Duration(ws.cfg.WatchDebounceMs) * time.Millisecond
	w, err := propagate.NewWatcher(userID, root, debounce, ws.propagator, ws.logger)
	if err != nil {
		ws.logger.Warn("watcher unavailable", "user", userID, "error", err)
		return
	}
	if err := w.Start(); err != nil {
		ws.logger.Warn("watcher failed to start", "user", userID, "error", err)
		return
	}
	ws.watchers[userID] = w
}

// followCreations watches the event bus and attaches a sandbox watcher
// to every newly scaffolded project.
func (ws *watcherSet) followCreations(bus *events.Bus, registry *project.Registry) {
	ch := bus.Subscribe(16)
	defer bus.Unsubscribe(ch)

	for ev := range ch {
		if ev.Kind != events.KindProjectCreated {
			continue
		}
		if sb := registry.Sandbox(ev.User); sb != nil {
			ws.Watch(ev.User, sb.Root())
		}
	}
}

func (ws *watcherSet) StopAll() {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	for userID, w := range ws.watchers {
		if err := w.Stop(); err != nil {
			ws.logger.Warn("watcher stop failed", "user", userID, "error", err)
		}
	}
	ws.watchers = make(map[string]*propagate.Watcher)
}

// newLogger creates a structured logger that writes to w at the given
// level and format. Format must be "text" or "json"; any other value
// defaults to text.
func newLogger(w io.Writer, level slog.Level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: config.ReplaceLogLevelNames,
	}
	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}

// loadConfig locates and parses the YAML configuration file.
func loadConfig(explicit string) (*config.Config, string, error) {
	cfgPath, err := config.FindConfig(explicit)
	if err != nil {
		return nil, "", err
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, cfgPath, fmt.Errorf("load config %s: %w", cfgPath, err)
	}

	return cfg, cfgPath, nil
}
