package api

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"mdview/internal/event"
	"mdview/internal/metrics"

	"github.com/gorilla/websocket"
)

func newEventsServer(t *testing.T, handler *EventsHandler) string {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func newUIBus(t *testing.T) *event.Bus[event.Event] {
	t.Helper()
	bus := event.NewBus[event.Event](context.Background(), event.BusOptions{Name: "ui_events"})
	t.Cleanup(bus.Close)
	return bus
}

func waitForSubscribers(t *testing.T, bus *event.Bus[event.Event], want int) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for bus.SubscriberCount() != want {
		if time.Now().After(deadline) {
			t.Fatalf("expected %d subscribers, got %d", want, bus.SubscriberCount())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestEventsHandlerStreamsJSON(t *testing.T) {
	bus := newUIBus(t)
	registry := &metrics.Registry{}
	url := newEventsServer(t, &EventsHandler{Bus: bus, Metrics: registry})

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial websocket: %v", err)
	}
	defer conn.Close()
	waitForSubscribers(t, bus, 1)

	bus.Publish(event.NewFileChangedEvent("/pics/photo.jpg", "created"))

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var payload map[string]any
	if err := conn.ReadJSON(&payload); err != nil {
		t.Fatalf("read websocket: %v", err)
	}
	if payload["type"] != "file-changed" || payload["path"] != "/pics/photo.jpg" || payload["event_type"] != "created" {
		t.Fatalf("unexpected payload %v", payload)
	}
	if _, ok := payload["timestamp"].(string); !ok {
		t.Fatalf("expected timestamp, got %v", payload["timestamp"])
	}
}

func TestEventsHandlerFileOpenOmitsEventType(t *testing.T) {
	bus := newUIBus(t)
	url := newEventsServer(t, &EventsHandler{Bus: bus})

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial websocket: %v", err)
	}
	defer conn.Close()
	waitForSubscribers(t, bus, 1)

	bus.Publish(event.NewFileOpenEvent("/docs/readme.md"))

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var payload map[string]any
	if err := conn.ReadJSON(&payload); err != nil {
		t.Fatalf("read websocket: %v", err)
	}
	if payload["type"] != "file-open" || payload["path"] != "/docs/readme.md" {
		t.Fatalf("unexpected payload %v", payload)
	}
	if _, ok := payload["event_type"]; ok {
		t.Fatalf("file-open should not carry event_type: %v", payload)
	}
}

func TestEventsHandlerSubscribeNarrowsStream(t *testing.T) {
	bus := newUIBus(t)
	url := newEventsServer(t, &EventsHandler{Bus: bus})

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial websocket: %v", err)
	}
	defer conn.Close()
	waitForSubscribers(t, bus, 1)

	if err := conn.WriteJSON(eventSubscribeMessage{Subscribe: []string{event.TypeFileOpen}}); err != nil {
		t.Fatalf("write subscribe: %v", err)
	}
	// The subscribe frame is applied asynchronously. Once it is, a file-changed
	// published ahead of a file-open no longer arrives first.
	deadline := time.Now().Add(2 * time.Second)
	for {
		bus.Publish(event.NewFileChangedEvent("/pics/a.png", "modified"))
		bus.Publish(event.NewFileOpenEvent("/docs/a.md"))
		first := readEventType(t, conn)
		if first == event.TypeFileOpen {
			break
		}
		if second := readEventType(t, conn); second != event.TypeFileOpen {
			t.Fatalf("expected file-open after file-changed, got %q", second)
		}
		if time.Now().After(deadline) {
			t.Fatalf("filter never applied")
		}
	}
}

func readEventType(t *testing.T, conn *websocket.Conn) string {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(time.Second))
	var payload map[string]any
	if err := conn.ReadJSON(&payload); err != nil {
		t.Fatalf("read websocket: %v", err)
	}
	eventType, _ := payload["type"].(string)
	return eventType
}

func TestEventsHandlerStreamsProto(t *testing.T) {
	bus := newUIBus(t)
	url := newEventsServer(t, &EventsHandler{Bus: bus})

	conn, _, err := websocket.DefaultDialer.Dial(url+"?format=proto", nil)
	if err != nil {
		t.Fatalf("dial websocket: %v", err)
	}
	defer conn.Close()
	waitForSubscribers(t, bus, 1)

	occurred := time.Date(2026, 3, 4, 5, 6, 7, 8000, time.UTC)
	bus.Publish(event.FileChangedEvent{Path: "/pics/d.svg", Change: "deleted", OccurredAt: occurred})

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	msgType, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read websocket: %v", err)
	}
	if msgType != websocket.BinaryMessage {
		t.Fatalf("expected binary frame, got %d", msgType)
	}
	payload, err := unmarshalProtoPayload(data)
	if err != nil {
		t.Fatalf("decode proto: %v", err)
	}
	if payload.Type != "file-changed" || payload.Path != "/pics/d.svg" || payload.EventType != "deleted" {
		t.Fatalf("unexpected payload %+v", payload)
	}
	if !payload.Timestamp.Equal(occurred) {
		t.Fatalf("expected timestamp %v, got %v", occurred, payload.Timestamp)
	}
}

func TestEventsHandlerRejectsBadToken(t *testing.T) {
	url := newEventsServer(t, &EventsHandler{Bus: newUIBus(t), AuthToken: "secret"})

	_, res, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatalf("expected dial to fail")
	}
	if res == nil || res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %v", res)
	}

	conn, _, err := websocket.DefaultDialer.Dial(url+"?token=secret", nil)
	if err != nil {
		t.Fatalf("dial with token: %v", err)
	}
	_ = conn.Close()
}

func TestEventsHandlerRejectsUnknownFormat(t *testing.T) {
	url := newEventsServer(t, &EventsHandler{Bus: newUIBus(t)})
	_, res, err := websocket.DefaultDialer.Dial(url+"?format=xml", nil)
	if err == nil {
		t.Fatalf("expected dial to fail")
	}
	if res == nil || res.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %v", res)
	}
}

func TestEventsHandlerRejectsForeignOrigin(t *testing.T) {
	url := newEventsServer(t, &EventsHandler{Bus: newUIBus(t)})
	header := http.Header{}
	header.Set("Origin", "http://evil.example")
	if _, _, err := websocket.DefaultDialer.Dial(url, header); err == nil {
		t.Fatalf("expected foreign origin to be rejected")
	}
}

func TestEventsHandlerWithoutBusSendsError(t *testing.T) {
	url := newEventsServer(t, &EventsHandler{})
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial websocket: %v", err)
	}
	defer conn.Close()

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var payload wsErrorPayload
	if err := conn.ReadJSON(&payload); err != nil {
		t.Fatalf("read error envelope: %v", err)
	}
	if payload.Type != "error" || payload.Status != http.StatusServiceUnavailable {
		t.Fatalf("unexpected error payload %+v", payload)
	}
}

func TestEventsHandlerReleasesSubscriptionOnClose(t *testing.T) {
	bus := newUIBus(t)
	registry := &metrics.Registry{}
	url := newEventsServer(t, &EventsHandler{Bus: bus, Metrics: registry})

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial websocket: %v", err)
	}
	waitForSubscribers(t, bus, 1)
	_ = conn.Close()
	waitForSubscribers(t, bus, 0)

	var out bytes.Buffer
	if err := registry.WritePrometheus(&out); err != nil {
		t.Fatalf("write metrics: %v", err)
	}
	if !strings.Contains(out.String(), "mdview_websocket_connections 0") {
		t.Fatalf("expected connection gauge back at zero:\n%s", out.String())
	}
}
