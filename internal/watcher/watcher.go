package watcher

import (
	"context"
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"

	"mdview/internal/logging"
)

// DirectoryWatcher runs one debounced subscription. It is created by
// Service.WatchDirectory and lives until its Registry is closed.
type DirectoryWatcher struct {
	path          string
	subscription  Subscription
	debouncer     *debouncer
	filter        extensionFilter
	notifier      *notifier
	logger        *logging.Logger
	done          chan struct{}
	stopped       chan struct{}
	closeOnce     sync.Once
	inert         atomic.Bool
	rawEvents     atomic.Uint64
	flushed       atomic.Uint64
	filtered      atomic.Uint64
	backendErrors atomic.Uint64
}

func newDirectoryWatcher(ctx context.Context, path string, subscription Subscription, sink Sink, options Options) *DirectoryWatcher {
	fields := map[string]string{"watch_path": path}
	watcher := &DirectoryWatcher{
		path:         path,
		subscription: subscription,
		filter:       newExtensionFilter(),
		logger:       options.Logger,
		done:         make(chan struct{}),
		stopped:      make(chan struct{}),
	}
	watcher.notifier = newNotifier(ctx, sink, options.QueueSize, options.Logger, withWatcherFields(fields))
	watcher.debouncer = newDebouncer(options.Clock, options.Debounce, watcher.flush)
	go watcher.run()
	return watcher
}

// Path returns the watched root.
func (watcher *DirectoryWatcher) Path() string {
	if watcher == nil {
		return ""
	}
	return watcher.path
}

// Inert reports whether the watched root has been removed. An inert watcher
// stays registered but will not produce further notifications for the tree.
func (watcher *DirectoryWatcher) Inert() bool {
	if watcher == nil {
		return false
	}
	return watcher.inert.Load()
}

// Close stops the subscription and discards pending debounce windows.
func (watcher *DirectoryWatcher) Close() error {
	if watcher == nil {
		return nil
	}
	var err error
	watcher.closeOnce.Do(func() {
		close(watcher.done)
		err = watcher.subscription.Close()
		<-watcher.stopped
		watcher.debouncer.stop()
		watcher.notifier.close()
	})
	return err
}

func (watcher *DirectoryWatcher) run() {
	defer close(watcher.stopped)
	events := watcher.subscription.Events()
	errs := watcher.subscription.Errors()
	for {
		select {
		case event, ok := <-events:
			if !ok {
				return
			}
			watcher.handleEvent(event)
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			watcher.handleError(err)
		case <-watcher.done:
			return
		}
	}
}

func (watcher *DirectoryWatcher) handleEvent(event RawEvent) {
	watcher.rawEvents.Add(1)
	if event.Kind == KindRemoved && watcher.touchesRoot(event.Paths) && watcher.inert.CompareAndSwap(false, true) {
		watcher.logWarn("watched directory removed", map[string]string{
			"state": "inert",
		})
	}
	watcher.debouncer.add(event)
}

func (watcher *DirectoryWatcher) touchesRoot(paths []string) bool {
	for _, path := range paths {
		if filepath.Clean(path) == watcher.path {
			return true
		}
	}
	return false
}

func (watcher *DirectoryWatcher) flush(event CoalescedEvent) {
	watcher.flushed.Add(1)
	notification, ok := watcher.filter.admit(event)
	if !ok {
		watcher.filtered.Add(1)
		return
	}
	watcher.logDebug("change settled", map[string]string{
		"path":       notification.Path,
		"event_type": notification.EventType,
	})
	watcher.notifier.enqueue(notification)
}

func (watcher *DirectoryWatcher) handleError(err error) {
	if err == nil {
		return
	}
	watcher.backendErrors.Add(1)
	watcher.logWarn("watcher error", map[string]string{
		"error": err.Error(),
	})
}

// Metrics reports counters for this watcher.
func (watcher *DirectoryWatcher) Metrics() Metrics {
	if watcher == nil {
		return Metrics{}
	}
	inert := 0
	if watcher.inert.Load() {
		inert = 1
	}
	return Metrics{
		Watches:       1,
		Inert:         inert,
		RawEvents:     watcher.rawEvents.Load(),
		Flushed:       watcher.flushed.Load(),
		Filtered:      watcher.filtered.Load(),
		Delivered:     watcher.notifier.delivered.Load(),
		SinkErrors:    watcher.notifier.sinkErrors.Load(),
		Dropped:       watcher.notifier.dropped.Load(),
		BackendErrors: watcher.backendErrors.Load(),
	}
}

func (watcher *DirectoryWatcher) logWarn(message string, fields map[string]string) {
	if watcher == nil || watcher.logger == nil {
		return
	}
	fields["watch_path"] = watcher.path
	watcher.logger.Warn(message, withWatcherFields(fields))
}

func (watcher *DirectoryWatcher) logDebug(message string, fields map[string]string) {
	if watcher == nil || watcher.logger == nil {
		return
	}
	fields["watch_path"] = watcher.path
	fields["pending"] = strconv.Itoa(watcher.debouncer.pending())
	watcher.logger.Debug(message, withWatcherFields(fields))
}

func withWatcherFields(fields map[string]string) map[string]string {
	merged := make(map[string]string, len(fields)+2)
	merged["mdview.category"] = "watcher"
	merged["mdview.source"] = "backend"
	for key, value := range fields {
		merged[key] = value
	}
	return merged
}
