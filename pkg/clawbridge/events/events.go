// Package events implements the in-process pub/sub bus the bridge uses to
// notify host collaborators: one event per assistant reply and one per
// tool invocation outcome. Fan-out is synchronous — listeners must stay
// fast or dispatch to goroutines internally.
package events

import (
	"sync"
	"sync/atomic"
	"time"
)

// Event types.
const (
	TypeMessageReceived  = "message_received"
	TypeToolInvokedOK    = "tool_invoked_ok"
	TypeToolInvokedError = "tool_invoked_error"
)

// Event is a single typed bridge event.
type Event struct {
	Type      string         `json:"type"`
	SessionID string         `json:"session_id,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data,omitempty"`
}

// Listener receives bridge events.
type Listener func(Event)

// Bus is a thread-safe pub/sub hub.
type Bus struct {
	listeners sync.Map // listenerID (uint64) → Listener
	nextID    atomic.Uint64
}

// NewBus creates an event bus.
func NewBus() *Bus {
	return &Bus{}
}

// Subscribe registers a listener and returns an unsubscribe function.
func (b *Bus) Subscribe(fn Listener) func() {
	id := b.nextID.Add(1)
	b.listeners.Store(id, fn)
	return func() { b.listeners.Delete(id) }
}

// Emit sends an event to all registered listeners.
func (b *Bus) Emit(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	b.listeners.Range(func(_, value any) bool {
		if fn, ok := value.(Listener); ok {
			fn(event)
		}
		return true
	})
}

// EmitMessageReceived fires the event host automations react to when the
// assistant replies.
func (b *Bus) EmitMessageReceived(sessionID, message, model string) {
	b.Emit(Event{
		Type:      TypeMessageReceived,
		SessionID: sessionID,
		Data: map[string]any{
			"message": message,
			"model":   model,
		},
	})
}

// EmitToolInvoked fires a tool outcome event, split into ok/error types so
// listeners can trigger on failures alone.
func (b *Bus) EmitToolInvoked(sessionID, tool string, ok bool, durationMs int64, errMsg, preview string) {
	eventType := TypeToolInvokedOK
	if !ok {
		eventType = TypeToolInvokedError
	}
	b.Emit(Event{
		Type:      eventType,
		SessionID: sessionID,
		Data: map[string]any{
			"tool":        tool,
			"ok":          ok,
			"duration_ms": durationMs,
			"error":       errMsg,
			"preview":     preview,
		},
	})
}
