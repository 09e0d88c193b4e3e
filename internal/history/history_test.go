package history

import (
	"testing"

	"github.com/R1cK-ChaN/hersite/internal/llm"
)

func TestAppendAndGet(t *testing.T) {
	s := NewMemoryStore(0)

	s.Append("user-1", llm.TextMessage("user", "hello"))
	s.Append("user-1", llm.TextMessage("assistant", "hi"))
	s.Append("user-2", llm.TextMessage("user", "other"))

	msgs := s.Get("user-1")
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}
	if msgs[0].Text() != "hello" || msgs[1].Text() != "hi" {
		t.Errorf("unexpected transcript: %+v", msgs)
	}

	if got := s.Get("user-2"); len(got) != 1 {
		t.Errorf("user transcripts leaked: %v", got)
	}
	if got := s.Get("user-3"); len(got) != 0 {
		t.Errorf("expected empty transcript, got %v", got)
	}
}

func TestGetReturnsCopy(t *testing.T) {
	s := NewMemoryStore(0)
	s.Append("user-1", llm.TextMessage("user", "hello"))

	msgs := s.Get("user-1")
	msgs[0] = llm.TextMessage("user", "tampered")

	if s.Get("user-1")[0].Text() != "hello" {
		t.Error("stored transcript mutated through returned slice")
	}
}

func TestClear(t *testing.T) {
	s := NewMemoryStore(0)
	s.Append("user-1", llm.TextMessage("user", "hello"))
	s.Clear("user-1")
	if len(s.Get("user-1")) != 0 {
		t.Error("transcript not cleared")
	}
}

func TestEvictionKeepsToolPairsIntact(t *testing.T) {
	s := NewMemoryStore(4)

	toolUse := llm.Message{Role: "assistant", Blocks: []llm.Block{
		{Type: llm.BlockToolUse, ID: "toolu_1", Name: "writeFile"},
	}}
	toolResult := llm.Message{Role: "user", Blocks: []llm.Block{
		{Type: llm.BlockToolResult, ToolUseID: "toolu_1", Content: "ok"},
	}}

	s.Append("user-1",
		llm.TextMessage("user", "first"),
		toolUse,
		toolResult,
		llm.TextMessage("assistant", "done"),
		llm.TextMessage("user", "second"),
		llm.TextMessage("assistant", "sure"),
	)

	msgs := s.Get("user-1")
	if len(msgs) == 0 {
		t.Fatal("transcript empty after eviction")
	}
	first := msgs[0]
	if first.Role != "user" {
		t.Errorf("transcript must start with a user turn, got %s", first.Role)
	}
	for _, b := range first.Blocks {
		if b.Type == llm.BlockToolResult {
			t.Error("transcript starts with an orphaned tool_result")
		}
	}
}
