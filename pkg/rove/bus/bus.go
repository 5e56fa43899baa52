// Package bus implements the Message Bus from spec.md §5: bounded
// per-subscriber channels with a *shed* backpressure policy — a full
// channel drops the event for that subscriber and logs a warning rather
// than blocking the publisher. The shape (named event types, a
// subscribe-by-topic map guarded by a mutex) follows the teacher's
// channel-manager registration pattern in assistant.go.
package bus

import (
	"fmt"
	"log/slog"
	"sync"
)

const subscriberCapacity = 100

// EventKind identifies a Message Bus event type.
type EventKind string

const (
	EventPluginCrashed  EventKind = "plugin_crashed"
	EventTaskProgress   EventKind = "task_progress"
	EventCircuitTripped EventKind = "circuit_breaker_tripped"
)

// Event is a single published message.
type Event struct {
	Kind    EventKind
	Payload any
}

// PluginCrashedPayload is the Payload shape for EventPluginCrashed.
type PluginCrashedPayload struct {
	PluginID string
	Error    string
}

// Bus fans events out to independent bounded subscriber channels.
type Bus struct {
	mu     sync.RWMutex
	subs   map[string]chan Event
	logger *slog.Logger
}

func New(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{subs: make(map[string]chan Event), logger: logger.With("component", "bus")}
}

// Subscribe registers a new named subscriber and returns its receive
// channel. Subscribing twice with the same name replaces the prior
// channel (the old one is left for its owner to drain and discard).
func (b *Bus) Subscribe(name string) <-chan Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan Event, subscriberCapacity)
	b.subs[name] = ch
	return ch
}

// Unsubscribe removes and closes a subscriber's channel.
func (b *Bus) Unsubscribe(name string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ch, ok := b.subs[name]; ok {
		delete(b.subs, name)
		close(ch)
	}
}

// Publish fans ev out to every subscriber without blocking; a full
// channel drops the event for that subscriber and logs a warning, per
// spec.md §5's shed policy.
func (b *Bus) Publish(ev Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for name, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			b.logger.Warn("dropping event for slow subscriber", "subscriber", name, "kind", ev.Kind)
		}
	}
}

// PublishPluginCrashed is a typed convenience wrapper for the one event
// kind the Extension Host is required to emit, per spec.md §4.5.
func (b *Bus) PublishPluginCrashed(pluginID string, err error) {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	b.Publish(Event{Kind: EventPluginCrashed, Payload: PluginCrashedPayload{PluginID: pluginID, Error: msg}})
}

// Describe is a debugging helper that reports the subscriber count.
func (b *Bus) Describe() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return fmt.Sprintf("%d subscribers", len(b.subs))
}
