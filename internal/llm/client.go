package llm

import "context"

// Client is the interface the agent loop drives. Implementations wrap a
// concrete model provider; tests substitute a scripted fake.
type Client interface {
	// Chat sends a chat request and returns the complete response.
	Chat(ctx context.Context, req *Request) (*Response, error)

	// ChatStream sends a chat request, delivering text segments to the
	// callback as they complete. A nil callback degrades to Chat.
	ChatStream(ctx context.Context, req *Request, callback StreamCallback) (*Response, error)
}
