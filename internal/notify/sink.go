// Package notify holds the sinks that receive file-changed notifications from
// the directory watcher.
package notify

import (
	"context"
	"errors"
	"sync"

	"mdview/internal/event"
	"mdview/internal/logging"
	"mdview/internal/watcher"
)

var ErrSinkUnavailable = errors.New("notification sink unavailable")

// BusSink forwards notifications to the UI event bus as file-changed events.
type BusSink struct {
	bus event.Publisher[event.Event]
}

func NewBusSink(bus event.Publisher[event.Event]) *BusSink {
	return &BusSink{bus: bus}
}

func (sink *BusSink) Emit(ctx context.Context, notification watcher.ChangeNotification) error {
	if sink == nil || sink.bus == nil {
		return ErrSinkUnavailable
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	sink.bus.Publish(event.NewFileChangedEvent(notification.Path, notification.EventType))
	return nil
}

// LogSink records notifications in the log at debug level.
type LogSink struct {
	logger *logging.Logger
}

func NewLogSink(logger *logging.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (sink *LogSink) Emit(_ context.Context, notification watcher.ChangeNotification) error {
	if sink == nil || sink.logger == nil {
		return nil
	}
	sink.logger.Debug("file changed", map[string]string{
		"path":       notification.Path,
		"event_type": notification.EventType,
	})
	return nil
}

// Fanout delivers to every sink and joins their errors. One failing sink does
// not prevent delivery to the others.
type Fanout []watcher.Sink

func (sinks Fanout) Emit(ctx context.Context, notification watcher.ChangeNotification) error {
	var errs []error
	for _, sink := range sinks {
		if sink == nil {
			continue
		}
		if err := sink.Emit(ctx, notification); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// MemorySink keeps notifications in memory. SetError makes Emit fail after
// recording, which simulates a consumer that has gone away.
type MemorySink struct {
	mu            sync.Mutex
	notifications []watcher.ChangeNotification
	err           error
}

func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

func (sink *MemorySink) Emit(_ context.Context, notification watcher.ChangeNotification) error {
	if sink == nil {
		return nil
	}
	sink.mu.Lock()
	defer sink.mu.Unlock()
	sink.notifications = append(sink.notifications, notification)
	return sink.err
}

func (sink *MemorySink) Notifications() []watcher.ChangeNotification {
	if sink == nil {
		return nil
	}
	sink.mu.Lock()
	defer sink.mu.Unlock()
	notifications := make([]watcher.ChangeNotification, len(sink.notifications))
	copy(notifications, sink.notifications)
	return notifications
}

func (sink *MemorySink) SetError(err error) {
	if sink == nil {
		return
	}
	sink.mu.Lock()
	sink.err = err
	sink.mu.Unlock()
}

var (
	_ watcher.Sink = (*BusSink)(nil)
	_ watcher.Sink = (*LogSink)(nil)
	_ watcher.Sink = Fanout(nil)
	_ watcher.Sink = (*MemorySink)(nil)
)
