// Package llm provides the language-model client used by the agent loop.
package llm

// Block content types on the Messages API wire.
const (
	BlockText       = "text"
	BlockToolUse    = "tool_use"
	BlockToolResult = "tool_result"
)

// Stop reasons signalled by the model.
const (
	StopEndTurn   = "end_turn"
	StopToolUse   = "tool_use"
	StopMaxTokens = "max_tokens"
)

// Block is one content block within a message. Assistant turns carry
// text and tool_use blocks; the user turn that answers a tool-using
// assistant turn carries tool_result blocks correlated by ToolUseID.
type Block struct {
	Type string `json:"type"`

	// Text is set for text blocks.
	Text string `json:"text,omitempty"`

	// ID, Name and Input are set for tool_use blocks. ID is the
	// model-assigned correlation id that the matching tool_result must
	// reference.
	ID    string         `json:"id,omitempty"`
	Name  string         `json:"name,omitempty"`
	Input map[string]any `json:"input,omitempty"`

	// ToolUseID and Content are set for tool_result blocks.
	ToolUseID string `json:"tool_use_id,omitempty"`
	Content   string `json:"content,omitempty"`
	IsError   bool   `json:"is_error,omitempty"`
}

// Message is one conversation turn. Role is "user" or "assistant";
// system instructions travel separately on the request.
type Message struct {
	Role   string  `json:"role"`
	Blocks []Block `json:"content"`
}

// TextMessage builds a plain-text message for the given role.
func TextMessage(role, text string) Message {
	return Message{Role: role, Blocks: []Block{{Type: BlockText, Text: text}}}
}

// Text returns the concatenated text block content of the message.
func (m Message) Text() string {
	var out string
	for _, b := range m.Blocks {
		if b.Type == BlockText {
			out += b.Text
		}
	}
	return out
}

// ToolUses returns the tool_use blocks of the message, in order.
func (m Message) ToolUses() []Block {
	var out []Block
	for _, b := range m.Blocks {
		if b.Type == BlockToolUse {
			out = append(out, b)
		}
	}
	return out
}

// ToolDef describes one callable tool as presented to the model.
type ToolDef struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	InputSchema map[string]any `json:"input_schema"`
}

// Request is a single model invocation.
type Request struct {
	Model     string
	System    string
	Messages  []Message
	Tools     []ToolDef
	MaxTokens int
}

// Response is the model's reply to one Request.
type Response struct {
	Model      string
	Message    Message // role "assistant"
	StopReason string

	InputTokens  int
	OutputTokens int
}

// StreamEvent is a single event delivered to a StreamCallback.
type StreamEvent struct {
	Kind StreamEventKind

	// Text is set for KindTextSegment: one complete text content block.
	Text string
}

// StreamEventKind identifies the type of stream event.
type StreamEventKind int

const (
	// KindTextSegment fires once per completed text content block, in
	// emission order. Chunk granularity is the text segment, not the
	// token.
	KindTextSegment StreamEventKind = iota

	// KindDone signals the response is complete.
	KindDone
)

// StreamCallback receives streaming events during a model call.
type StreamCallback func(event StreamEvent)
