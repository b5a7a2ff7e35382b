package events

import (
	"context"
	"log/slog"
	"sync"
)

// LogSink writes events to the structured log. The default sink in local
// deployments without an external observability endpoint.
type LogSink struct{}

// Push implements Sink.
func (LogSink) Push(_ context.Context, event Event) error {
	slog.Info("pipeline event",
		"event_type", event.HookEventType,
		"scope", event.Context,
		"status", event.Status,
		"message", event.Message,
		"step", event.Step)
	return nil
}

// MemorySink buffers events in memory. Used by tests and the debug API.
type MemorySink struct {
	mu     sync.Mutex
	events []Event
}

// NewMemorySink creates an empty memory sink.
func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

// Push implements Sink.
func (s *MemorySink) Push(_ context.Context, event Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

// Events returns a copy of the buffered events.
func (s *MemorySink) Events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Event, len(s.events))
	copy(out, s.events)
	return out
}

// OfType returns buffered events matching the given type.
func (s *MemorySink) OfType(eventType string) []Event {
	var out []Event
	for _, e := range s.Events() {
		if e.HookEventType == eventType {
			out = append(out, e)
		}
	}
	return out
}
