// Package events provides the publish/subscribe bus carrying
// caller-facing events from the agent, preview and deploy pipelines to
// connected clients. The bus is nil-safe: calling Publish on a nil
// *Bus is a no-op, so components do not need guard checks.
package events

import (
	"sync"
	"time"
)

// Kind constants name the event types on the wire.
const (
	// KindAgentTyping signals the agent started or stopped composing.
	// Data: typing (bool).
	KindAgentTyping = "agent:typing"
	// KindAgentStream delivers one streamed text segment of the reply.
	// Data: messageId, chunk.
	KindAgentStream = "agent:stream"
	// KindAgentMessage delivers the complete agent reply.
	// Data: message (chat message object).
	KindAgentMessage = "agent:message"
	// KindAgentError signals a failed agent turn.
	// Data: error.
	KindAgentError = "agent:error"

	// KindPreviewUpdate signals changed files are being rebuilt.
	// Data: changedFiles.
	KindPreviewUpdate = "preview:update"
	// KindPreviewRebuilt signals the preview is fresh again.
	// Data: previewUrl.
	KindPreviewRebuilt = "preview:rebuilt"

	// KindDeployStatus reports publish progress.
	// Data: status (deploying|deployed|failed), siteUrl, error.
	KindDeployStatus = "deploy:status"

	// KindProjectCreated signals a project was scaffolded.
	// Data: project (project object).
	KindProjectCreated = "project:created"
)

// Event is a single event addressed to one user's clients.
type Event struct {
	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"ts"`
	// User scopes delivery; transports relay an event only to
	// connections authenticated as this user.
	User string `json:"user"`
	// Kind names the event type.
	Kind string `json:"kind"`
	// Data holds event-specific key/value pairs.
	Data map[string]any `json:"data,omitempty"`
}

// New creates an event for a user, stamped now.
func New(user, kind string, data map[string]any) Event {
	return Event{Timestamp: time.Now(), User: user, Kind: kind, Data: data}
}

// Bus is a non-blocking broadcast event bus. Subscribers receive events
// on buffered channels; slow subscribers miss events rather than
// blocking publishers.
type Bus struct {
	mu   sync.RWMutex
	subs map[chan Event]struct{}
	// recvToSend maps the receive-only channel returned by Subscribe
	// back to the bidirectional channel stored in subs, so Unsubscribe
	// can accept the caller's <-chan Event view.
	recvToSend map[<-chan Event]chan Event
}

// NewBus creates an event bus ready for use.
func NewBus() *Bus {
	return &Bus{
		subs:       make(map[chan Event]struct{}),
		recvToSend: make(map[<-chan Event]chan Event),
	}
}

// Publish sends an event to all subscribers. Non-blocking: if a
// subscriber's channel is full, the event is dropped for that
// subscriber. Safe to call on a nil receiver (no-op).
func (b *Bus) Publish(e Event) {
	if b == nil {
		return
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subs {
		select {
		case ch <- e:
		default:
			// Subscriber is full, drop the event rather than block.
		}
	}
}

// Subscribe returns a channel that receives published events. The
// caller must eventually call Unsubscribe to avoid resource leaks.
// bufSize controls the channel buffer; 64 is a reasonable default for
// WebSocket consumers.
func (b *Bus) Subscribe(bufSize int) <-chan Event {
	ch := make(chan Event, bufSize)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[ch] = struct{}{}
	b.recvToSend[ch] = ch
	return ch
}

// Unsubscribe removes a subscription and closes the channel. Safe to
// call with a channel that is already unsubscribed (no-op).
func (b *Bus) Unsubscribe(ch <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	sendCh, ok := b.recvToSend[ch]
	if !ok {
		return
	}
	delete(b.subs, sendCh)
	delete(b.recvToSend, ch)
	close(sendCh)
}

// SubscriberCount returns the number of active subscribers.
func (b *Bus) SubscriberCount() int {
	if b == nil {
		return 0
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
