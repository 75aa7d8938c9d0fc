// Package events is a small publish/subscribe bus for run telemetry.
// The agent orchestrator publishes one event per step of a run; the
// /ws/events stream and the MQTT exporter subscribe. A nil *Bus accepts
// every call as a no-op, so publishers never need guard checks.
package events

import (
	"sync"
	"time"
)

// Sources.
const (
	SourceAgent     = "agent"
	SourceAPI       = "api"
	SourceConnwatch = "connwatch"
)

// Kinds. Every agent event carries run_id in Data.
const (
	// KindRequestStart opens a run. Data: run_id, mode, prompt_len,
	// history_len.
	KindRequestStart = "request_start"
	// KindLLMCall precedes a backend call. Data: run_id, iter, model.
	KindLLMCall = "llm_call"
	// KindLLMResponse follows a backend call. Data: run_id, iter,
	// response_len, directive, elapsed_ms.
	KindLLMResponse = "llm_response"
	// KindToolCall precedes a tool dispatch. Data: run_id, iter, tool.
	KindToolCall = "tool_call"
	// KindToolDone follows a tool dispatch. Data: run_id, iter, tool,
	// ok, duration_ms.
	KindToolDone = "tool_done"
	// KindRequestComplete closes a run. Data: run_id, iterations,
	// termination, tools_used, elapsed_ms; error on failure.
	KindRequestComplete = "request_complete"

	// KindClientConnected and KindClientDisconnected track WebSocket
	// relay clients. Data: remote.
	KindClientConnected    = "client_connected"
	KindClientDisconnected = "client_disconnected"

	// KindServiceUp and KindServiceDown report external service
	// reachability changes. Data: service; error on down.
	KindServiceUp   = "service_up"
	KindServiceDown = "service_down"
)

// Event is one published occurrence.
type Event struct {
	Timestamp time.Time      `json:"ts"`
	Source    string         `json:"source"`
	Kind      string         `json:"kind"`
	Data      map[string]any `json:"data,omitempty"`
}

// Bus broadcasts events to buffered subscriber channels. A full
// subscriber misses events instead of blocking the publisher.
type Bus struct {
	mu   sync.RWMutex
	subs map[<-chan Event]chan Event
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{subs: make(map[<-chan Event]chan Event)}
}

// Publish delivers e to every subscriber that has room for it.
func (b *Bus) Publish(e Event) {
	if b == nil {
		return
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

// Emit publishes an event stamped with the current time.
func (b *Bus) Emit(source, kind string, data map[string]any) {
	b.Publish(Event{Timestamp: time.Now(), Source: source, Kind: kind, Data: data})
}

// Subscribe registers a subscriber with a channel buffer of bufSize.
// Callers must Unsubscribe when done. On a nil bus the returned channel
// is already closed.
func (b *Bus) Subscribe(bufSize int) <-chan Event {
	ch := make(chan Event, bufSize)
	if b == nil {
		close(ch)
		return ch
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[ch] = ch
	return ch
}

// Unsubscribe removes a subscriber and closes its channel. Unknown or
// already removed channels are ignored.
func (b *Bus) Unsubscribe(ch <-chan Event) {
	if b == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	send, ok := b.subs[ch]
	if !ok {
		return
	}
	delete(b.subs, ch)
	close(send)
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
