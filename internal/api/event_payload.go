package api

import (
	"fmt"
	"time"

	"mdview/internal/event"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/timestamppb"
)

const (
	formatJSON  = "json"
	formatProto = "proto"
)

// eventPayload is the JSON frame sent on /ws/events.
type eventPayload struct {
	Type      string    `json:"type"`
	Path      string    `json:"path"`
	EventType string    `json:"event_type,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

func newEventPayload(evt event.Event) (eventPayload, bool) {
	if evt == nil {
		return eventPayload{}, false
	}
	payload := eventPayload{
		Type:      evt.Type(),
		Timestamp: evt.Timestamp(),
	}
	switch typed := evt.(type) {
	case event.FileChangedEvent:
		payload.Path = typed.Path
		payload.EventType = typed.Change
	case event.FileOpenEvent:
		payload.Path = typed.Path
	default:
		return eventPayload{}, false
	}
	if payload.Timestamp.IsZero() {
		payload.Timestamp = time.Now().UTC()
	}
	return payload, true
}

// marshalProtoPayload encodes the payload as a structpb.Struct. The timestamp
// is carried as a nested {seconds, nanos} struct built from timestamppb.
func marshalProtoPayload(payload eventPayload) ([]byte, error) {
	stamp := timestamppb.New(payload.Timestamp)
	if err := stamp.CheckValid(); err != nil {
		return nil, fmt.Errorf("event timestamp: %w", err)
	}
	fields := map[string]any{
		"type": payload.Type,
		"path": payload.Path,
		"timestamp": map[string]any{
			"seconds": float64(stamp.GetSeconds()),
			"nanos":   float64(stamp.GetNanos()),
		},
	}
	if payload.EventType != "" {
		fields["event_type"] = payload.EventType
	}
	message, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, fmt.Errorf("build event struct: %w", err)
	}
	return proto.Marshal(message)
}

// unmarshalProtoPayload reverses marshalProtoPayload.
func unmarshalProtoPayload(data []byte) (eventPayload, error) {
	var message structpb.Struct
	if err := proto.Unmarshal(data, &message); err != nil {
		return eventPayload{}, err
	}
	fields := message.GetFields()
	payload := eventPayload{
		Type:      fields["type"].GetStringValue(),
		Path:      fields["path"].GetStringValue(),
		EventType: fields["event_type"].GetStringValue(),
	}
	if stamp := fields["timestamp"].GetStructValue(); stamp != nil {
		ts := &timestamppb.Timestamp{
			Seconds: int64(stamp.GetFields()["seconds"].GetNumberValue()),
			Nanos:   int32(stamp.GetFields()["nanos"].GetNumberValue()),
		}
		payload.Timestamp = ts.AsTime()
	}
	return payload, nil
}
