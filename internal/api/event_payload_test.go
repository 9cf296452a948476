package api

import (
	"testing"
	"time"

	"mdview/internal/event"
)

type otherEvent struct{}

func (otherEvent) Type() string         { return "other" }
func (otherEvent) Timestamp() time.Time { return time.Time{} }

func TestNewEventPayload(t *testing.T) {
	changed := event.FileChangedEvent{Path: "/a.png", Change: "modified"}
	payload, ok := newEventPayload(changed)
	if !ok {
		t.Fatalf("expected file-changed to be encoded")
	}
	if payload.EventType != "modified" || payload.Path != "/a.png" {
		t.Fatalf("unexpected payload %+v", payload)
	}
	if payload.Timestamp.IsZero() {
		t.Fatalf("expected zero timestamp to be filled")
	}

	if _, ok := newEventPayload(otherEvent{}); ok {
		t.Fatalf("unknown events should be skipped")
	}
	if _, ok := newEventPayload(nil); ok {
		t.Fatalf("nil events should be skipped")
	}
}

func TestProtoPayloadRoundTripKeepsNanos(t *testing.T) {
	stamp := time.Date(2026, 10, 18, 12, 0, 0, 123456789, time.UTC)
	data, err := marshalProtoPayload(eventPayload{Type: event.TypeFileOpen, Path: "/notes.md", Timestamp: stamp})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	payload, err := unmarshalProtoPayload(data)
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if payload.EventType != "" || payload.Path != "/notes.md" || !payload.Timestamp.Equal(stamp) {
		t.Fatalf("unexpected payload %+v", payload)
	}
}
