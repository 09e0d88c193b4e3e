package web

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/R1cK-ChaN/hersite/internal/events"
	"github.com/R1cK-ChaN/hersite/internal/store"
)

const (
	// authTimeout bounds how long a fresh connection may sit before
	// sending its auth:validate frame.
	authTimeout = 10 * time.Second

	writeTimeout   = 10 * time.Second
	maxMessageSize = 10 << 20 // matches the 10MB attachment budget

	// sendBufSize is the per-connection outbound queue. A client that
	// cannot keep up has frames dropped rather than stalling the bus.
	sendBufSize = 64

	historyLimit = 100
)

var wsUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// clientFrame is one inbound WebSocket message.
type clientFrame struct {
	Kind string          `json:"kind"`
	Data json.RawMessage `json:"data"`
}

// serverFrame is one outbound WebSocket message.
type serverFrame struct {
	Kind string         `json:"kind"`
	Data map[string]any `json:"data,omitempty"`
}

type authPayload struct {
	Token string `json:"token"`
}

type chatPayload struct {
	Content     string   `json:"content"`
	Attachments []string `json:"attachments"`
}

type createPayload struct {
	TemplateID string `json:"templateId"`
	Name       string `json:"name"`
	Tagline    string `json:"tagline"`
}

// session is one authenticated WebSocket connection. All writes go
// through the send channel so a single goroutine owns the socket.
type session struct {
	srv    *Server
	conn   *websocket.Conn
	userID string
	send   chan serverFrame
	done   chan struct{}
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	conn.SetReadLimit(maxMessageSize)

	user, ok := s.authenticate(conn)
	if !ok {
		return
	}

	sess := &session{
		srv:    s,
		conn:   conn,
		userID: user.ID,
		send:   make(chan serverFrame, sendBufSize),
		done:   make(chan struct{}),
	}
	defer close(sess.done)

	go sess.writeLoop()
	go sess.relayEvents()

	sess.enqueue(serverFrame{Kind: "auth:result", Data: map[string]any{"valid": true}})
	sess.sendRestoredState()

	s.logger.Info("client connected", "user", user.ID)
	sess.readLoop()
	s.logger.Info("client disconnected", "user", user.ID)
}

// authenticate reads the first frame, which must be auth:validate with
// a known invite token. Failures are answered on the socket directly
// since the session's writer is not running yet.
func (s *Server) authenticate(conn *websocket.Conn) (*store.User, bool) {
	refuse := func(msg string) {
		conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		conn.WriteJSON(serverFrame{Kind: "auth:result", Data: map[string]any{"valid": false, "error": msg}})
	}

	conn.SetReadDeadline(time.Now().Add(authTimeout))
	var frame clientFrame
	if err := conn.ReadJSON(&frame); err != nil {
		refuse("authentication timed out")
		return nil, false
	}
	conn.SetReadDeadline(time.Time{})

	if frame.Kind != "auth:validate" {
		refuse("first message must be auth:validate")
		return nil, false
	}

	var auth authPayload
	if err := json.Unmarshal(frame.Data, &auth); err != nil || auth.Token == "" {
		refuse("token required")
		return nil, false
	}

	user, err := s.users.UserByToken(auth.Token)
	if err != nil {
		refuse("invalid token")
		return nil, false
	}
	return user, true
}

// sendRestoredState replays the persisted session to a newly connected
// client: the active project (if any) and the recent chat transcript.
func (sess *session) sendRestoredState() {
	if p, _, ok := sess.srv.projects.Get(sess.userID); ok {
		sess.enqueue(serverFrame{Kind: "project:restored", Data: map[string]any{"project": p}})
	}

	history, err := sess.srv.users.ChatHistory(sess.userID, historyLimit)
	if err != nil {
		sess.srv.logger.Warn("failed to load chat history", "user", sess.userID, "error", err)
		return
	}
	if len(history) > 0 {
		sess.enqueue(serverFrame{Kind: "chat:history", Data: map[string]any{"messages": history}})
	}
}

// readLoop dispatches client frames until the connection drops. Each
// request runs in its own goroutine so a long agent turn does not
// block subsequent frames; per-user ordering is enforced downstream.
func (sess *session) readLoop() {
	for {
		var frame clientFrame
		if err := sess.conn.ReadJSON(&frame); err != nil {
			return
		}

		switch frame.Kind {
		case "chat:message":
			var p chatPayload
			if err := json.Unmarshal(frame.Data, &p); err != nil || p.Content == "" {
				sess.enqueue(errorFrame("message content required"))
				continue
			}
			go sess.srv.handleChat(sess.userID, p)
		case "project:create":
			var p createPayload
			if err := json.Unmarshal(frame.Data, &p); err != nil {
				sess.enqueue(errorFrame("invalid project:create payload"))
				continue
			}
			go sess.srv.handleProjectCreate(sess.userID, p)
		case "publish:confirm":
			go sess.srv.handlePublish(sess.userID)
		default:
			sess.srv.logger.Debug("unknown client frame", "kind", frame.Kind, "user", sess.userID)
		}
	}
}

// writeLoop is the only goroutine that writes to the socket.
func (sess *session) writeLoop() {
	for {
		select {
		case frame := <-sess.send:
			sess.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := sess.conn.WriteJSON(frame); err != nil {
				sess.conn.Close()
				return
			}
		case <-sess.done:
			return
		}
	}
}

// relayEvents forwards bus events for this session's user to the
// client, preserving publish order.
func (sess *session) relayEvents() {
	ch := sess.srv.bus.Subscribe(sendBufSize)
	defer sess.srv.bus.Unsubscribe(ch)

	for {
		select {
		case ev := <-ch:
			if ev.User != sess.userID {
				continue
			}
			sess.enqueue(serverFrame{Kind: ev.Kind, Data: ev.Data})
		case <-sess.done:
			return
		}
	}
}

func (sess *session) enqueue(frame serverFrame) {
	select {
	case sess.send <- frame:
	default:
		sess.srv.logger.Warn("dropping frame for slow client", "user", sess.userID, "kind", frame.Kind)
	}
}

func errorFrame(msg string) serverFrame {
	return serverFrame{Kind: events.KindAgentError, Data: map[string]any{"error": msg}}
}

// handleChat persists the user's message, runs the agent turn, persists
// and broadcasts the reply, then hands any changed files to the
// propagation pipeline.
func (s *Server) handleChat(userID string, p chatPayload) {
	// The turn outlives the connection on purpose: a dropped socket
	// mid-edit must not leave the sandbox half-changed.
	ctx := context.Background()

	userMsgID, _ := uuid.NewV7()
	if err := s.users.SaveChatMessage(userID, store.ChatMessage{
		ID:        userMsgID.String(),
		Role:      "user",
		Content:   p.Content,
		Timestamp: time.Now().UnixMilli(),
		Status:    "complete",
	}); err != nil {
		s.logger.Warn("failed to persist user message", "user", userID, "error", err)
	}

	reply, err := s.agent.ProcessMessage(ctx, userID, p.Content, p.Attachments)
	if err != nil {
		// The agent service already published agent:error. A failed
		// turn may still have mutated the sandbox (tool-round cap);
		// those edits must reach the commit/rebuild pipeline so the
		// preview does not drift.
		s.logger.Error("chat turn failed", "user", userID, "error", err)
		if reply != nil && len(reply.ChangedFiles) > 0 {
			s.changes.OnChanges(ctx, userID, reply.ChangedFiles)
		}
		return
	}

	msg := store.ChatMessage{
		ID:        reply.MessageID,
		Role:      "agent",
		Content:   reply.Content,
		Timestamp: time.Now().UnixMilli(),
		Status:    "complete",
	}
	if err := s.users.SaveChatMessage(userID, msg); err != nil {
		s.logger.Warn("failed to persist agent message", "user", userID, "error", err)
	}

	s.bus.Publish(events.New(userID, events.KindAgentMessage, map[string]any{"message": msg}))

	if len(reply.ChangedFiles) > 0 {
		s.changes.OnChanges(ctx, userID, reply.ChangedFiles)
	}
}

// handleProjectCreate scaffolds a project, puts it under version
// control, and starts its preview dev server.
func (s *Server) handleProjectCreate(userID string, p createPayload) {
	ctx := context.Background()

	proj, err := s.projects.Scaffold(userID, p.TemplateID, p.Name, p.Tagline)
	if err != nil {
		s.publishError(userID, "Failed to create project: "+err.Error())
		return
	}

	root := s.projects.Sandbox(userID).Root()

	if err := s.git.Init(ctx, root); err != nil {
		s.logger.Warn("git init failed", "user", userID, "error", err)
	}

	previewURL, err := s.builder.StartPreview(ctx, userID, root)
	if err != nil {
		s.publishError(userID, "Project created but preview failed to start: "+err.Error())
	} else {
		s.projects.SetPreviewURL(userID, previewURL)
		proj.PreviewURL = previewURL
	}

	s.bus.Publish(events.New(userID, events.KindProjectCreated, map[string]any{"project": proj}))
	s.logger.Info("project created", "user", userID, "project", proj.ID, "template", p.TemplateID)
}

// handlePublish runs the publish flow: commit pending work, stop the
// dev server, build for production, deploy, then bring the dev server
// back regardless of the outcome.
func (s *Server) handlePublish(userID string) {
	ctx := context.Background()

	_, sb, ok := s.projects.Get(userID)
	if !ok {
		s.publishError(userID, "No active project")
		return
	}
	root := sb.Root()

	if _, err := s.git.Commit(ctx, root, "Pre-deploy commit"); err != nil {
		s.logger.Warn("pre-deploy commit failed", "user", userID, "error", err)
	}

	s.builder.StopPreview(userID)
	defer s.restartPreview(ctx, userID, root)

	if s.deployer == nil {
		s.deployFailed(userID, "deployment is not configured")
		return
	}

	dist, err := s.builder.BuildForDeploy(ctx, root)
	if err != nil {
		s.deployFailed(userID, "build failed: "+err.Error())
		return
	}

	url, err := s.deployer.Deploy(ctx, userID, dist)
	if err != nil {
		// The deployer already published its failure status.
		s.logger.Error("deploy failed", "user", userID, "error", err)
		return
	}

	s.projects.SetSiteURL(userID, url)
	s.logger.Info("site published", "user", userID, "url", url)
}

func (s *Server) restartPreview(ctx context.Context, userID, root string) {
	previewURL, err := s.builder.StartPreview(ctx, userID, root)
	if err != nil {
		s.logger.Error("failed to restart preview", "user", userID, "error", err)
		return
	}
	s.projects.SetPreviewURL(userID, previewURL)
}

func (s *Server) publishError(userID, msg string) {
	s.logger.Error(msg, "user", userID)
	s.bus.Publish(events.New(userID, events.KindAgentError, map[string]any{"error": msg}))
}

func (s *Server) deployFailed(userID, msg string) {
	s.logger.Error("publish failed", "user", userID, "error", msg)
	s.bus.Publish(events.New(userID, events.KindDeployStatus, map[string]any{
		"status": "failed",
		"error":  msg,
	}))
}
