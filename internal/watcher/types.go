package watcher

import (
	"context"
	"time"

	"mdview/internal/logging"

	"github.com/benbjohnson/clock"
)

// Kind classifies a raw filesystem event.
type Kind int

const (
	KindOther Kind = iota
	KindCreated
	KindModified
	KindRemoved
)

func (kind Kind) String() string {
	switch kind {
	case KindCreated:
		return "created"
	case KindModified:
		return "modified"
	case KindRemoved:
		return "removed"
	default:
		return "other"
	}
}

// Notification event types delivered to sinks.
const (
	EventTypeCreated  = "created"
	EventTypeModified = "modified"
	EventTypeDeleted  = "deleted"
)

// RawEvent is a single backend notification. One event may touch several paths.
type RawEvent struct {
	Kind  Kind
	Paths []string
}

// CoalescedEvent is the settled outcome for one path after the debounce window.
type CoalescedEvent struct {
	Path string
	Kind Kind
}

// ChangeNotification is the payload delivered to sinks as "file-changed".
type ChangeNotification struct {
	Path      string `json:"path"`
	EventType string `json:"event_type"`
}

// Sink receives change notifications. Emit is called from the notifier
// goroutine, never from the caller that requested the watch.
type Sink interface {
	Emit(ctx context.Context, notification ChangeNotification) error
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(ctx context.Context, notification ChangeNotification) error

func (fn SinkFunc) Emit(ctx context.Context, notification ChangeNotification) error {
	if fn == nil {
		return nil
	}
	return fn(ctx, notification)
}

// Backend establishes filesystem subscriptions.
type Backend interface {
	Subscribe(path string, recursive bool) (Subscription, error)
}

// Subscription is a live stream of raw events for one subscribed tree.
type Subscription interface {
	Events() <-chan RawEvent
	Errors() <-chan error
	Close() error
}

// Options controls watcher behavior.
type Options struct {
	Logger    *logging.Logger
	Backend   Backend
	Clock     clock.Clock
	Debounce  time.Duration
	QueueSize int
}

// WatchStatus describes one registered watch.
type WatchStatus struct {
	Path  string `json:"path"`
	Inert bool   `json:"inert"`
}

// Metrics reports counters for a watcher or an aggregate of watchers.
type Metrics struct {
	Watches       int    `json:"watches"`
	Inert         int    `json:"inert"`
	RawEvents     uint64 `json:"raw_events"`
	Flushed       uint64 `json:"flushed"`
	Filtered      uint64 `json:"filtered"`
	Delivered     uint64 `json:"delivered"`
	SinkErrors    uint64 `json:"sink_errors"`
	Dropped       uint64 `json:"dropped"`
	BackendErrors uint64 `json:"backend_errors"`
}

func (metrics Metrics) add(other Metrics) Metrics {
	metrics.Watches += other.Watches
	metrics.Inert += other.Inert
	metrics.RawEvents += other.RawEvents
	metrics.Flushed += other.Flushed
	metrics.Filtered += other.Filtered
	metrics.Delivered += other.Delivered
	metrics.SinkErrors += other.SinkErrors
	metrics.Dropped += other.Dropped
	metrics.BackendErrors += other.BackendErrors
	return metrics
}
