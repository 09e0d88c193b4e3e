// Package web exposes the caller-facing surface: a WebSocket endpoint
// for the chat session and a small JSON API for project state.
package web

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/skip2/go-qrcode"

	"github.com/R1cK-ChaN/hersite/internal/agent"
	"github.com/R1cK-ChaN/hersite/internal/events"
	"github.com/R1cK-ChaN/hersite/internal/project"
	"github.com/R1cK-ChaN/hersite/internal/store"
)

// ChatAgent runs one chat turn for a user.
type ChatAgent interface {
	ProcessMessage(ctx context.Context, userID, message string, attachments []string) (*agent.Reply, error)
}

// PreviewRunner controls dev servers and deploy builds.
type PreviewRunner interface {
	StartPreview(ctx context.Context, userID, root string) (string, error)
	StopPreview(userID string)
	BuildForDeploy(ctx context.Context, root string) (string, error)
}

// Versioner covers the git operations the transport needs.
type Versioner interface {
	Init(ctx context.Context, root string) error
	Commit(ctx context.Context, root, message string) (string, error)
}

// SiteDeployer uploads a built site and returns its public URL.
type SiteDeployer interface {
	Deploy(ctx context.Context, userID, distPath string) (string, error)
}

// ChangeSink receives changed-file sets after a completed turn.
type ChangeSink interface {
	OnChanges(ctx context.Context, userID string, changedFiles []string)
}

// UserStore covers the persistence the transport needs.
type UserStore interface {
	UserByToken(inviteToken string) (*store.User, error)
	SaveChatMessage(userID string, m store.ChatMessage) error
	ChatHistory(userID string, limit int) ([]store.ChatMessage, error)
}

// Server is the HTTP and WebSocket server.
type Server struct {
	address  string
	port     int
	users    UserStore
	projects *project.Registry
	agent    ChatAgent
	builder  PreviewRunner
	git      Versioner
	deployer SiteDeployer
	changes  ChangeSink
	bus      *events.Bus
	logger   *slog.Logger
	server   *http.Server
}

// New creates a Server. The deployer may be nil when publishing is not
// configured; publish requests then fail with a status event.
func New(address string, port int, users UserStore, projects *project.Registry, chat ChatAgent, builder PreviewRunner, git Versioner, deployer SiteDeployer, changes ChangeSink, bus *events.Bus, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		address:  address,
		port:     port,
		users:    users,
		projects: projects,
		agent:    chat,
		builder:  builder,
		git:      git,
		deployer: deployer,
		changes:  changes,
		bus:      bus,
		logger:   logger.With("component", "web"),
	}
}

// Handler builds the route mux. Exposed for tests.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /api/templates", s.handleTemplates)
	mux.HandleFunc("GET /api/project", s.handleProject)
	mux.HandleFunc("GET /api/project/file", s.handleProjectFile)
	mux.HandleFunc("GET /api/share/qr", s.handleShareQR)
	mux.HandleFunc("GET /ws", s.handleWS)

	return s.withLogging(mux)
}

// Start runs the server until it fails or Shutdown is called.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:        fmt.Sprintf("%s:%d", s.address, s.port),
		Handler:     s.Handler(),
		ReadTimeout: 30 * time.Second,
		// No WriteTimeout: WebSocket connections are long-lived and
		// are hijacked out of the server's deadline handling anyway.
	}

	addr := s.address
	if addr == "" {
		addr = "0.0.0.0"
	}
	s.logger.Info("starting server", "address", addr, "port", s.port)
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"duration", time.Since(start),
		)
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Debug("failed to write JSON response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleTemplates(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, project.Templates)
}

// authFromQuery resolves the invite token in the request's query string
// to a user. Writes the error response itself when resolution fails.
func (s *Server) authFromQuery(w http.ResponseWriter, r *http.Request) (*store.User, bool) {
	token := r.URL.Query().Get("token")
	if token == "" {
		s.writeError(w, http.StatusUnauthorized, "token query parameter required")
		return nil, false
	}
	user, err := s.users.UserByToken(token)
	if err != nil {
		s.writeError(w, http.StatusUnauthorized, "invalid token")
		return nil, false
	}
	return user, true
}

func (s *Server) handleProject(w http.ResponseWriter, r *http.Request) {
	user, ok := s.authFromQuery(w, r)
	if !ok {
		return
	}

	p, _, ok := s.projects.Get(user.ID)
	if !ok {
		s.writeJSON(w, http.StatusOK, map[string]any{"exists": false})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"exists": true, "project": p})
}

func (s *Server) handleProjectFile(w http.ResponseWriter, r *http.Request) {
	user, ok := s.authFromQuery(w, r)
	if !ok {
		return
	}

	path := r.URL.Query().Get("path")
	if path == "" {
		s.writeError(w, http.StatusBadRequest, "path query parameter required")
		return
	}

	sb := s.projects.Sandbox(user.ID)
	if sb == nil {
		s.writeError(w, http.StatusNotFound, "no active project")
		return
	}

	content, err := sb.ReadFile(path)
	if err != nil {
		s.writeError(w, http.StatusNotFound, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"path": path, "content": content})
}

// handleShareQR renders the published site URL as a PNG QR code so the
// site can be opened on a phone by pointing the camera at the editor.
func (s *Server) handleShareQR(w http.ResponseWriter, r *http.Request) {
	user, ok := s.authFromQuery(w, r)
	if !ok {
		return
	}

	p, _, ok := s.projects.Get(user.ID)
	if !ok {
		s.writeError(w, http.StatusNotFound, "no active project")
		return
	}
	url := p.SiteURL
	if url == "" {
		url = p.PreviewURL
	}
	if url == "" {
		s.writeError(w, http.StatusNotFound, "site has not been published yet")
		return
	}

	png, err := qrcode.Encode(url, qrcode.Medium, 256)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to render QR code")
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(png); err != nil {
		s.logger.Debug("failed to write QR response", "error", err)
	}
}
