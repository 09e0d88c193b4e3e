// Package history keeps per-user conversation transcripts for the
// agent loop. The transcript is the model-facing message list, tool_use
// and tool_result turns included.
package history

import (
	"sync"

	"github.com/R1cK-ChaN/hersite/internal/llm"
)

// Store is the conversation repository the agent loop reads and
// appends to.
type Store interface {
	// Get returns the user's transcript in order. The returned slice is
	// a copy; callers may not mutate stored state through it.
	Get(userID string) []llm.Message

	// Append adds messages to the end of the user's transcript.
	Append(userID string, msgs ...llm.Message)

	// Clear discards the user's transcript.
	Clear(userID string)
}

// MemoryStore is an in-memory Store.
type MemoryStore struct {
	mu       sync.RWMutex
	byUser   map[string][]llm.Message
	maxTurns int // 0 = unbounded
}

// NewMemoryStore creates an in-memory store. maxTurns bounds the
// transcript length; oldest turns are evicted first.
func NewMemoryStore(maxTurns int) *MemoryStore {
	return &MemoryStore{
		byUser:   make(map[string][]llm.Message),
		maxTurns: maxTurns,
	}
}

func (s *MemoryStore) Get(userID string) []llm.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msgs := s.byUser[userID]
	out := make([]llm.Message, len(msgs))
	copy(out, msgs)
	return out
}

func (s *MemoryStore) Append(userID string, msgs ...llm.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	transcript := append(s.byUser[userID], msgs...)
	if s.maxTurns > 0 && len(transcript) > s.maxTurns {
		cut := len(transcript) - s.maxTurns
		// Never start the transcript mid tool exchange: advance the cut
		// to the next plain user turn so tool_use/tool_result pairs
		// stay intact.
		for cut < len(transcript) && !isPlainUserTurn(transcript[cut]) {
			cut++
		}
		transcript = transcript[cut:]
	}
	s.byUser[userID] = transcript
}

func isPlainUserTurn(m llm.Message) bool {
	if m.Role != "user" {
		return false
	}
	for _, b := range m.Blocks {
		if b.Type == llm.BlockToolResult {
			return false
		}
	}
	return true
}

func (s *MemoryStore) Clear(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.byUser, userID)
}
