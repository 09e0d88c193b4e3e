package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/R1cK-ChaN/hersite/internal/config"
	"github.com/R1cK-ChaN/hersite/internal/httpkit"
)

const (
	anthropicAPIURL     = "https://api.anthropic.com/v1/messages"
	anthropicAPIVersion = "2023-06-01"
)

// AnthropicClient is a client for the Anthropic Messages API.
type AnthropicClient struct {
	apiKey     string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewAnthropicClient creates a new Anthropic client.
func NewAnthropicClient(apiKey string, logger *slog.Logger) *AnthropicClient {
	if logger == nil {
		logger = slog.Default()
	}
	// Long prompts can take significant time before the first byte.
	// Use a generous response header timeout; end-to-end timeout
	// control comes from the caller's ctx.
	t := httpkit.NewTransport()
	t.ResponseHeaderTimeout = 120 * time.Second

	return &AnthropicClient{
		apiKey: apiKey,
		logger: logger.With("provider", "anthropic"),
		httpClient: httpkit.NewClient(
			httpkit.WithTimeout(0),
			httpkit.WithTransport(t),
		),
	}
}

// APIKey returns the key this client was constructed with. The agent
// service uses it to detect credential rotation.
func (c *AnthropicClient) APIKey() string {
	return c.apiKey
}

// Anthropic request/response types

type anthropicRequest struct {
	Model     string             `json:"model"`
	Messages  []anthropicMessage `json:"messages"`
	System    string             `json:"system,omitempty"`
	MaxTokens int                `json:"max_tokens"`
	Stream    bool               `json:"stream,omitempty"`
	Tools     []ToolDef          `json:"tools,omitempty"`
}

type anthropicMessage struct {
	Role    string  `json:"role"`
	Content []Block `json:"content"`
}

type anthropicResponse struct {
	ID         string         `json:"id"`
	Type       string         `json:"type"`
	Role       string         `json:"role"`
	Content    []Block        `json:"content"`
	Model      string         `json:"model"`
	StopReason string         `json:"stop_reason"`
	Usage      anthropicUsage `json:"usage"`
}

type anthropicUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// SSE event types for streaming
type anthropicStreamEvent struct {
	Type         string             `json:"type"`
	Index        int                `json:"index,omitempty"`
	ContentBlock *Block             `json:"content_block,omitempty"`
	Delta        *anthropicDelta    `json:"delta,omitempty"`
	Message      *anthropicResponse `json:"message,omitempty"`
	Usage        *anthropicUsage    `json:"usage,omitempty"`
}

type anthropicDelta struct {
	Type        string `json:"type,omitempty"`
	Text        string `json:"text,omitempty"`
	PartialJSON string `json:"partial_json,omitempty"`
	StopReason  string `json:"stop_reason,omitempty"`
}

// Chat sends a non-streaming chat request.
func (c *AnthropicClient) Chat(ctx context.Context, req *Request) (*Response, error) {
	return c.ChatStream(ctx, req, nil)
}

// ChatStream sends a chat request, optionally streaming completed text
// segments via callback.
func (c *AnthropicClient) ChatStream(ctx context.Context, req *Request, callback StreamCallback) (*Response, error) {
	stream := callback != nil

	wire := anthropicRequest{
		Model:     req.Model,
		Messages:  convertMessages(req.Messages),
		System:    req.System,
		MaxTokens: req.MaxTokens,
		Stream:    stream,
		Tools:     req.Tools,
	}
	if wire.MaxTokens <= 0 {
		wire.MaxTokens = 4096
	}

	c.logger.Debug("preparing request",
		"model", req.Model,
		"messages", len(wire.Messages),
		"tools", len(req.Tools),
		"stream", stream,
		"system_len", len(req.System),
	)

	jsonData, err := json.Marshal(wire)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	c.logger.Log(ctx, config.LevelTrace, "request payload", "json", string(jsonData))

	httpReq, err := http.NewRequestWithContext(ctx, "POST", anthropicAPIURL, bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", c.apiKey)
	httpReq.Header.Set("anthropic-version", anthropicAPIVersion)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		errBody := httpkit.ReadErrorBody(resp.Body, 4096)
		c.logger.Error("API error", "status", resp.StatusCode, "body", errBody)
		return nil, fmt.Errorf("anthropic API error %d: %s", resp.StatusCode, errBody)
	}

	if !stream {
		return c.handleNonStreaming(ctx, resp.Body)
	}
	return c.handleStreaming(ctx, resp.Body, callback)
}

func (c *AnthropicClient) handleNonStreaming(ctx context.Context, body io.Reader) (*Response, error) {
	var resp anthropicResponse
	if err := json.NewDecoder(body).Decode(&resp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	result := &Response{
		Model:        resp.Model,
		Message:      Message{Role: "assistant", Blocks: resp.Content},
		StopReason:   resp.StopReason,
		InputTokens:  resp.Usage.InputTokens,
		OutputTokens: resp.Usage.OutputTokens,
	}

	c.logger.Debug("response received",
		"model", result.Model,
		"stop_reason", result.StopReason,
		"input_tokens", result.InputTokens,
		"output_tokens", result.OutputTokens,
		"tool_calls", len(result.Message.ToolUses()),
	)
	c.logger.Log(ctx, config.LevelTrace, "response content", "content", result.Message.Text())

	return result, nil
}

func (c *AnthropicClient) handleStreaming(ctx context.Context, body io.Reader, callback StreamCallback) (*Response, error) {
	scanner := bufio.NewScanner(body)
	// Increase scanner buffer for large responses
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var (
		blocks      []Block
		currentText strings.Builder
		currentTool *Block // in-progress tool_use block
		inText      bool
		toolJSONBuf strings.Builder
		stopReason  string
		usage       anthropicUsage
		model       string
	)

	for scanner.Scan() {
		line := scanner.Text()

		// SSE format: "event: <type>" followed by "data: <json>"
		if !strings.HasPrefix(line, "data: ") {
			continue
		}

		data := strings.TrimSpace(strings.TrimPrefix(line, "data: "))
		if data == "[DONE]" {
			break
		}

		var event anthropicStreamEvent
		if err := json.Unmarshal([]byte(data), &event); err != nil {
			continue // Skip malformed events
		}

		switch event.Type {
		case "message_start":
			if event.Message != nil {
				model = event.Message.Model
				usage = event.Message.Usage
			}

		case "content_block_start":
			if event.ContentBlock != nil {
				switch event.ContentBlock.Type {
				case BlockToolUse:
					tool := *event.ContentBlock
					currentTool = &tool
					toolJSONBuf.Reset()
				case BlockText:
					inText = true
					currentText.Reset()
				}
			}

		case "content_block_delta":
			if event.Delta != nil {
				switch event.Delta.Type {
				case "text_delta":
					currentText.WriteString(event.Delta.Text)
				case "input_json_delta":
					toolJSONBuf.WriteString(event.Delta.PartialJSON)
				}
			}

		case "content_block_stop":
			switch {
			case currentTool != nil:
				// Parse accumulated tool arguments
				var args map[string]any
				if toolJSONBuf.Len() > 0 {
					if err := json.Unmarshal([]byte(toolJSONBuf.String()), &args); err != nil {
						args = map[string]any{"_raw": toolJSONBuf.String()}
					}
				}
				currentTool.Input = args
				blocks = append(blocks, *currentTool)
				currentTool = nil
			case inText:
				text := currentText.String()
				blocks = append(blocks, Block{Type: BlockText, Text: text})
				if callback != nil && text != "" {
					callback(StreamEvent{Kind: KindTextSegment, Text: text})
				}
				inText = false
			}

		case "message_delta":
			if event.Delta != nil && event.Delta.StopReason != "" {
				stopReason = event.Delta.StopReason
			}
			if event.Usage != nil {
				usage.OutputTokens = event.Usage.OutputTokens
			}
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read stream: %w", err)
	}

	if callback != nil {
		callback(StreamEvent{Kind: KindDone})
	}

	resp := &Response{
		Model:        model,
		Message:      Message{Role: "assistant", Blocks: blocks},
		StopReason:   stopReason,
		InputTokens:  usage.InputTokens,
		OutputTokens: usage.OutputTokens,
	}

	c.logger.Debug("stream complete",
		"model", resp.Model,
		"stop_reason", resp.StopReason,
		"input_tokens", resp.InputTokens,
		"output_tokens", resp.OutputTokens,
		"tool_calls", len(resp.Message.ToolUses()),
	)
	c.logger.Log(ctx, config.LevelTrace, "stream final content", "content", resp.Message.Text())

	return resp, nil
}

// convertMessages normalizes messages for the wire. Messages with no
// blocks are dropped; the API rejects empty content.
func convertMessages(messages []Message) []anthropicMessage {
	result := make([]anthropicMessage, 0, len(messages))
	for _, m := range messages {
		if len(m.Blocks) == 0 {
			continue
		}
		result = append(result, anthropicMessage{Role: m.Role, Content: m.Blocks})
	}
	return result
}
