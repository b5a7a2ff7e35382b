package events

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingSink struct{}

func (failingSink) Push(context.Context, Event) error {
	return errors.New("sink unavailable")
}

func TestPublish_BuildsEventEnvelope(t *testing.T) {
	sink := NewMemorySink()
	pub := NewPublisher(sink)
	fixed := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	pub.now = func() time.Time { return fixed }

	pub.PublishPredictionCreated(context.Background(), PredictionCreatedPayload{
		TargetID:     "target-1",
		PredictionID: "pred-1",
		Direction:    "up",
		Confidence:   0.72,
		AnalystCount: 5,
	})

	events := sink.Events()
	require.Len(t, events, 1)
	e := events[0]
	assert.Equal(t, EventPredictionCreated, e.HookEventType)
	assert.Equal(t, "target-1", e.Context)
	assert.Equal(t, SourceApp, e.SourceApp)
	assert.Equal(t, "created", e.Status)
	assert.Equal(t, "tier3.generate", e.Step)
	assert.Equal(t, fixed, e.Timestamp)

	// The payload travels as a JSON-shaped map.
	assert.Equal(t, "pred-1", e.Payload["prediction_id"])
	assert.Equal(t, 0.72, e.Payload["confidence"])
	assert.Equal(t, float64(5), e.Payload["analyst_count"])
}

func TestPublish_FailingSinkDoesNotBlockOthers(t *testing.T) {
	sink := NewMemorySink()
	pub := NewPublisher(failingSink{}, sink)

	pub.PublishPredictorReady(context.Background(), PredictorReadyPayload{
		TargetID:    "target-1",
		ActiveCount: 3,
	})

	require.Len(t, sink.Events(), 1, "delivery continues past a failing sink")
}

func TestAddSink_ReceivesSubsequentEvents(t *testing.T) {
	pub := NewPublisher(LogSink{})
	late := NewMemorySink()
	pub.AddSink(late)

	pub.PublishPositionsCreated(context.Background(), PositionsCreatedPayload{
		TargetID:     "target-1",
		PredictionID: "pred-1",
		Requested:    2,
		Skipped:      1,
	})
	pub.PublishPredictionRefreshed(context.Background(), PredictionRefreshedPayload{
		TargetID:     "target-1",
		PredictionID: "pred-1",
	})

	assert.Len(t, late.OfType(EventPositionsCreated), 1)
	assert.Len(t, late.OfType(EventPredictionRefreshed), 1)
	assert.Empty(t, late.OfType(EventPredictorReady))
}
