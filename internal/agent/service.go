package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/R1cK-ChaN/hersite/internal/credentials"
	"github.com/R1cK-ChaN/hersite/internal/events"
	"github.com/R1cK-ChaN/hersite/internal/history"
	"github.com/R1cK-ChaN/hersite/internal/llm"
	"github.com/R1cK-ChaN/hersite/internal/project"
	"github.com/R1cK-ChaN/hersite/internal/tools"
)

// fallbackReply is substituted when the model ends its turn without
// any text after using tools, so the user never sees an empty reply.
const fallbackReply = "I've made those changes for you!"

// Config holds the agent loop parameters.
type Config struct {
	Model         string
	MaxToolRounds int
	ModelTimeout  time.Duration
	MaxTokens     int
}

// Reply is the outcome of one chat turn.
type Reply struct {
	MessageID    string
	Content      string
	ChangedFiles []string
	Rounds       int
	InputTokens  int
	OutputTokens int
}

// Service runs chat turns. Turns for the same user are serialized;
// different users proceed concurrently.
type Service struct {
	cfg      Config
	resolver *credentials.Resolver
	projects *project.Registry
	tools    *tools.Registry
	history  history.Store
	bus      *events.Bus
	logger   *slog.Logger

	// newClient builds a model client for a resolved key. Tests swap in
	// a scripted fake.
	newClient func(apiKey string) llm.Client

	mu        sync.Mutex
	userLocks map[string]*sync.Mutex
	client    llm.Client
	clientKey string
}

// New creates the agent service.
func New(cfg Config, resolver *credentials.Resolver, projects *project.Registry, toolReg *tools.Registry, hist history.Store, bus *events.Bus, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxToolRounds <= 0 {
		cfg.MaxToolRounds = 25
	}
	if cfg.ModelTimeout <= 0 {
		cfg.ModelTimeout = 120 * time.Second
	}
	s := &Service{
		cfg:       cfg,
		resolver:  resolver,
		projects:  projects,
		tools:     toolReg,
		history:   hist,
		bus:       bus,
		logger:    logger.With("component", "agent"),
		userLocks: make(map[string]*sync.Mutex),
	}
	s.newClient = func(apiKey string) llm.Client {
		return llm.NewAnthropicClient(apiKey, logger)
	}
	return s
}

func (s *Service) userLock(userID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	mu, ok := s.userLocks[userID]
	if !ok {
		mu = &sync.Mutex{}
		s.userLocks[userID] = mu
	}
	return mu
}

// modelClient resolves credentials and returns the cached client,
// rebuilding it only when the resolved key changed.
func (s *Service) modelClient() (llm.Client, error) {
	key, err := s.resolver.APIKey()
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client == nil || s.clientKey != key {
		s.client = s.newClient(key)
		s.clientKey = key
		s.logger.Info("model client initialized", "source", s.resolver.CredentialSource())
	}
	return s.client, nil
}

// ClearHistory discards the user's model-facing transcript.
func (s *Service) ClearHistory(userID string) {
	s.history.Clear(userID)
}

// ProcessMessage runs one chat turn: append the user message, call the
// model until it stops requesting tools, execute tools sequentially,
// and return the assembled reply. Text segments stream to the bus as
// agent:stream events before the final agent:message.
func (s *Service) ProcessMessage(ctx context.Context, userID, message string, attachments []string) (*Reply, error) {
	mu := s.userLock(userID)
	mu.Lock()
	defer mu.Unlock()

	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generate message id: %w", err)
	}
	messageID := id.String()

	s.bus.Publish(events.New(userID, events.KindAgentTyping, map[string]any{"typing": true}))
	defer s.bus.Publish(events.New(userID, events.KindAgentTyping, map[string]any{"typing": false}))

	// Context and prompt reflect the site as it is right now.
	siteCtx := BuildSiteContext(s.projects, userID)
	systemPrompt := SystemPrompt(siteCtx)

	userContent := message
	if len(attachments) > 0 {
		userContent += fmt.Sprintf("\n\n[Attached files: %s]", strings.Join(attachments, ", "))
	}
	s.history.Append(userID, llm.TextMessage("user", userContent))

	var (
		fullResponse strings.Builder
		changedFiles []string
		inputTokens  int
		outputTokens int
	)

	stream := func(ev llm.StreamEvent) {
		if ev.Kind != llm.KindTextSegment || ev.Text == "" {
			return
		}
		fullResponse.WriteString(ev.Text)
		s.bus.Publish(events.New(userID, events.KindAgentStream, map[string]any{
			"messageId": messageID,
			"chunk":     ev.Text,
		}))
	}

	rounds := 0
	done := false
	for rounds < s.cfg.MaxToolRounds {
		rounds++

		client, err := s.modelClient()
		if err != nil {
			return nil, s.fail(userID, err)
		}

		req := &llm.Request{
			Model:     s.cfg.Model,
			System:    systemPrompt,
			Messages:  s.history.Get(userID),
			Tools:     s.tools.Definitions(),
			MaxTokens: s.cfg.MaxTokens,
		}

		callCtx, cancel := context.WithTimeout(ctx, s.cfg.ModelTimeout)
		resp, err := client.ChatStream(callCtx, req, stream)
		cancel()
		if err != nil {
			return nil, s.fail(userID, fmt.Errorf("model call failed: %w", err))
		}

		inputTokens += resp.InputTokens
		outputTokens += resp.OutputTokens

		// The assistant turn enters history verbatim, tool_use blocks
		// included, so correlation ids survive.
		s.history.Append(userID, resp.Message)

		toolUses := resp.Message.ToolUses()
		if len(toolUses) == 0 || resp.StopReason == llm.StopEndTurn {
			done = true
			break
		}

		// Execute sequentially in emission order; results answer in
		// the same order as a single user turn.
		results := make([]llm.Block, 0, len(toolUses))
		for _, use := range toolUses {
			result, changed := s.tools.Execute(ctx, userID, use.Name, use.Input)
			changedFiles = append(changedFiles, changed...)
			results = append(results, llm.Block{
				Type:      llm.BlockToolResult,
				ToolUseID: use.ID,
				Content:   result,
			})
		}
		s.history.Append(userID, llm.Message{Role: "user", Blocks: results})
	}

	if !done {
		err := fmt.Errorf("agent did not finish within %d tool rounds", s.cfg.MaxToolRounds)
		s.history.Append(userID, llm.TextMessage("assistant", "Error: "+err.Error()))
		// Tools may already have mutated the sandbox. Return the
		// partial changed set with the error so the caller can still
		// commit and refresh the preview.
		partial := &Reply{
			MessageID:    messageID,
			ChangedFiles: dedup(changedFiles),
			Rounds:       rounds,
			InputTokens:  inputTokens,
			OutputTokens: outputTokens,
		}
		return partial, s.fail(userID, err)
	}

	content := fullResponse.String()
	if content == "" {
		content = fallbackReply
	}

	reply := &Reply{
		MessageID:    messageID,
		Content:      content,
		ChangedFiles: dedup(changedFiles),
		Rounds:       rounds,
		InputTokens:  inputTokens,
		OutputTokens: outputTokens,
	}

	s.logger.Info("turn complete",
		"user", userID,
		"rounds", reply.Rounds,
		"changed_files", len(reply.ChangedFiles),
		"tokens_in", inputTokens,
		"tokens_out", outputTokens,
	)
	return reply, nil
}

func (s *Service) fail(userID string, err error) error {
	s.logger.Error("turn failed", "user", userID, "error", err)
	s.bus.Publish(events.New(userID, events.KindAgentError, map[string]any{"error": err.Error()}))
	return err
}

func dedup(paths []string) []string {
	seen := make(map[string]bool, len(paths))
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		if seen[p] {
			continue
		}
		seen[p] = true
		out = append(out, p)
	}
	return out
}
