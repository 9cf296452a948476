package watcher

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"mdview/internal/logging"
)

const defaultQueueSize = 256

// notifier moves admitted notifications off the flush goroutine and delivers
// them to the sink in order.
type notifier struct {
	sink       Sink
	queue      chan ChangeNotification
	logger     *logging.Logger
	fields     map[string]string
	ctx        context.Context
	done       chan struct{}
	stopped    chan struct{}
	closeOnce  sync.Once
	delivered  atomic.Uint64
	sinkErrors atomic.Uint64
	dropped    atomic.Uint64
}

func newNotifier(ctx context.Context, sink Sink, size int, logger *logging.Logger, fields map[string]string) *notifier {
	if ctx == nil {
		ctx = context.Background()
	}
	if size <= 0 {
		size = defaultQueueSize
	}
	instance := &notifier{
		sink:    sink,
		queue:   make(chan ChangeNotification, size),
		logger:  logger,
		fields:  fields,
		ctx:     ctx,
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	go instance.run()
	return instance
}

// enqueue never blocks. A full queue drops the notification.
func (notifier *notifier) enqueue(notification ChangeNotification) bool {
	select {
	case <-notifier.done:
		notifier.dropped.Add(1)
		return false
	default:
	}
	select {
	case notifier.queue <- notification:
		return true
	default:
		notifier.dropped.Add(1)
		notifier.logWarn("notification dropped", map[string]string{
			"path":       notification.Path,
			"event_type": notification.EventType,
			"reason":     "queue full",
		})
		return false
	}
}

func (notifier *notifier) run() {
	defer close(notifier.stopped)
	for {
		select {
		case notification := <-notifier.queue:
			notifier.deliver(notification)
		case <-notifier.done:
			return
		}
	}
}

func (notifier *notifier) deliver(notification ChangeNotification) {
	if notifier.sink == nil {
		return
	}
	err := notifier.emit(notification)
	if err != nil {
		notifier.sinkErrors.Add(1)
		notifier.logWarn("notification delivery failed", map[string]string{
			"path":       notification.Path,
			"event_type": notification.EventType,
			"error":      err.Error(),
		})
		return
	}
	notifier.delivered.Add(1)
}

func (notifier *notifier) emit(notification ChangeNotification) (err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			err = fmt.Errorf("sink panic: %v", recovered)
		}
	}()
	return notifier.sink.Emit(notifier.ctx, notification)
}

func (notifier *notifier) close() {
	notifier.closeOnce.Do(func() {
		close(notifier.done)
	})
	<-notifier.stopped
}

func (notifier *notifier) logWarn(message string, fields map[string]string) {
	if notifier.logger == nil {
		return
	}
	merged := make(map[string]string, len(notifier.fields)+len(fields))
	for key, value := range notifier.fields {
		merged[key] = value
	}
	for key, value := range fields {
		merged[key] = value
	}
	notifier.logger.Warn(message, merged)
}
