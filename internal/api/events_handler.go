package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"

	"mdview/internal/event"
	"mdview/internal/logging"
	"mdview/internal/metrics"
)

// EventSource is the subscription side of the event bus.
type EventSource interface {
	SubscribeFiltered(filter func(event.Event) bool) (<-chan event.Event, func())
}

// EventsHandler streams file-changed and file-open events over a websocket.
// Clients may narrow the stream by sending {"subscribe": ["file-open"]}.
type EventsHandler struct {
	Bus            EventSource
	Logger         *logging.Logger
	Metrics        *metrics.Registry
	AuthToken      string
	AllowedOrigins []string
}

type eventSubscribeMessage struct {
	Subscribe []string `json:"subscribe"`
}

var streamedEventTypes = map[string]struct{}{
	event.TypeFileChanged: {},
	event.TypeFileOpen:    {},
}

type eventFilter struct {
	mutex sync.RWMutex
	types map[string]struct{}
}

func newEventFilter(allowed map[string]struct{}) *eventFilter {
	types := make(map[string]struct{}, len(allowed))
	for eventType := range allowed {
		types[eventType] = struct{}{}
	}
	return &eventFilter{types: types}
}

func (filter *eventFilter) Allows(eventType string) bool {
	if filter == nil {
		return true
	}
	filter.mutex.RLock()
	defer filter.mutex.RUnlock()
	_, ok := filter.types[eventType]
	return ok
}

func (filter *eventFilter) Set(subscriptions []string, allowed map[string]struct{}) {
	if filter == nil {
		return
	}
	types := make(map[string]struct{})
	for _, eventType := range subscriptions {
		if _, ok := allowed[eventType]; ok {
			types[eventType] = struct{}{}
		}
	}
	filter.mutex.Lock()
	filter.types = types
	filter.mutex.Unlock()
}

func (h *EventsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !authorizeWS(w, r, h.AuthToken, h.Logger) {
		return
	}

	format := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("format")))
	if format == "" {
		format = formatJSON
	}
	if format != formatJSON && format != formatProto {
		rejectWS(w, r, h.Logger, http.StatusBadRequest, "unsupported format")
		return
	}

	conn, err := upgradeWebSocket(w, r, h.AllowedOrigins)
	if err != nil {
		logWSFailure(h.Logger, r, http.StatusBadRequest, "websocket upgrade failed", err)
		return
	}
	defer conn.Close()

	if h.Bus == nil {
		closeWS(conn, r, h.Logger, http.StatusServiceUnavailable, "event bus unavailable", nil)
		return
	}
	events, cancel := h.Bus.SubscribeFiltered(func(evt event.Event) bool {
		if evt == nil {
			return false
		}
		_, ok := streamedEventTypes[evt.Type()]
		return ok
	})
	defer cancel()
	if events == nil {
		closeWS(conn, r, h.Logger, http.StatusServiceUnavailable, "event stream unavailable", nil)
		return
	}

	filter := newEventFilter(streamedEventTypes)
	config := wsStreamConfig[event.Event]{
		Output: events,
		Logger: h.Logger,
		Encode: func(evt event.Event) (any, bool) {
			if !filter.Allows(evt.Type()) {
				return nil, false
			}
			return newEventPayload(evt)
		},
	}
	if format == formatProto {
		config.Encode = func(evt event.Event) (any, bool) {
			if !filter.Allows(evt.Type()) {
				return nil, false
			}
			payload, ok := newEventPayload(evt)
			if !ok {
				return nil, false
			}
			data, err := marshalProtoPayload(payload)
			if err != nil {
				h.Logger.Warn("encode event failed", map[string]string{
					"type":  payload.Type,
					"error": err.Error(),
				})
				return nil, false
			}
			return data, true
		}
		config.Send = sendBinaryFrame
	}

	writer, err := startWSWriter(conn, config)
	if err != nil {
		closeWS(conn, r, h.Logger, http.StatusInternalServerError, "event stream unavailable", err)
		return
	}
	defer writer.Stop()

	h.Metrics.WSConnected(1)
	defer h.Metrics.WSConnected(-1)

	readUntilClosed(conn, func(msg []byte) {
		var payload eventSubscribeMessage
		if err := json.Unmarshal(msg, &payload); err != nil {
			return
		}
		filter.Set(payload.Subscribe, streamedEventTypes)
	})
}
