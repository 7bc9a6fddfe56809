package events

import "sync"

// Event represents a structured state change emitted by an engine.
type Event interface {
	EventType() string
}

// Emitter broadcasts events to downstream subscribers (gateway feed,
// indexers, tests).
type Emitter interface {
	Emit(Event)
}

// NoopEmitter satisfies the Emitter interface while discarding all events. It
// is the default for engines whose callers did not wire an emitter.
type NoopEmitter struct{}

// Emit implements the Emitter interface.
func (NoopEmitter) Emit(Event) {}

// Capture retains emitted events in order. The gateway uses it to serve the
// commitment feed and tests use it to assert on emission contents.
type Capture struct {
	mu     sync.Mutex
	events []Event
}

// Emit appends the event to the capture buffer.
func (c *Capture) Emit(evt Event) {
	if c == nil || evt == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, evt)
}

// Events returns a snapshot of everything emitted so far.
func (c *Capture) Events() []Event {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Event, len(c.events))
	copy(out, c.events)
	return out
}

// Reset discards buffered events.
func (c *Capture) Reset() {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = nil
}
