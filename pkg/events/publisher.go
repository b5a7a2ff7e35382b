package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"
)

// Sink receives events. Implementations may persist, forward over HTTP, or
// fan out to WebSocket clients; delivery is best-effort.
type Sink interface {
	Push(ctx context.Context, event Event) error
}

// Publisher builds typed lifecycle events and pushes them to the configured
// sinks. A failing sink never fails the originating operation.
//
// Each public method accepts a specific typed payload struct — see types.go.
type Publisher struct {
	mu    sync.RWMutex
	sinks []Sink
	now   func() time.Time
}

// NewPublisher creates a publisher over the given sinks.
func NewPublisher(sinks ...Sink) *Publisher {
	return &Publisher{sinks: sinks, now: time.Now}
}

// AddSink registers an additional sink.
func (p *Publisher) AddSink(s Sink) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sinks = append(p.sinks, s)
}

// PublishPredictorReady emits predictor.ready for a target whose pool just
// met its threshold.
func (p *Publisher) PublishPredictorReady(ctx context.Context, payload PredictorReadyPayload) {
	p.publish(ctx, payload.TargetID, EventPredictorReady, "threshold_met",
		"active predictor set meets generation threshold", "tier2.threshold", payload)
}

// PublishPredictionCreated emits prediction.created.
func (p *Publisher) PublishPredictionCreated(ctx context.Context, payload PredictionCreatedPayload) {
	p.publish(ctx, payload.TargetID, EventPredictionCreated, "created",
		"prediction generated", "tier3.generate", payload)
}

// PublishPredictionRefreshed emits prediction.refreshed.
func (p *Publisher) PublishPredictionRefreshed(ctx context.Context, payload PredictionRefreshedPayload) {
	p.publish(ctx, payload.TargetID, EventPredictionRefreshed, "refreshed",
		"prediction refreshed in place", "tier3.refresh", payload)
}

// PublishPositionsCreated emits positions.created.
func (p *Publisher) PublishPositionsCreated(ctx context.Context, payload PositionsCreatedPayload) {
	p.publish(ctx, payload.TargetID, EventPositionsCreated, "created",
		"position requests issued", "tier3.positions", payload)
}

func (p *Publisher) publish(ctx context.Context, scope, eventType, status, message, step string, payload any) {
	payloadMap, err := toMap(payload)
	if err != nil {
		slog.Error("Failed to marshal event payload", "event_type", eventType, "error", err)
		return
	}

	event := Event{
		Context:       scope,
		SourceApp:     SourceApp,
		HookEventType: eventType,
		Status:        status,
		Message:       message,
		Step:          step,
		Payload:       payloadMap,
		Timestamp:     p.now().UTC(),
	}

	p.mu.RLock()
	sinks := make([]Sink, len(p.sinks))
	copy(sinks, p.sinks)
	p.mu.RUnlock()

	for _, sink := range sinks {
		if err := sink.Push(ctx, event); err != nil {
			slog.Warn("Event sink push failed",
				"event_type", eventType,
				"scope", scope,
				"error", err)
		}
	}
}

func toMap(payload any) (map[string]any, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}
