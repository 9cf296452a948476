package watcher

import (
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"mdview/internal/logging"

	"github.com/fsnotify/fsnotify"
)

const (
	backendEventBuffer = 64
	backendErrorBuffer = 4
)

// FSNotifyBackend subscribes through fsnotify. Recursion is emulated by adding
// one watch per directory and following directory creation.
type FSNotifyBackend struct {
	logger *logging.Logger
}

func NewFSNotifyBackend(logger *logging.Logger) *FSNotifyBackend {
	return &FSNotifyBackend{logger: logger}
}

type fsnotifySubscription struct {
	source    *fsnotify.Watcher
	root      string
	recursive bool
	logger    *logging.Logger
	events    chan RawEvent
	errors    chan error
	done      chan struct{}
	closeOnce sync.Once
	mutex     sync.Mutex
	watched   map[string]struct{}
}

// Subscribe starts watching path. The returned subscription owns the
// underlying fsnotify watcher until Close.
func (backend *FSNotifyBackend) Subscribe(path string, recursive bool) (Subscription, error) {
	if path == "" {
		return nil, errors.New("path is required")
	}
	source, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	var logger *logging.Logger
	if backend != nil {
		logger = backend.logger
	}
	subscription := &fsnotifySubscription{
		source:    source,
		root:      path,
		recursive: recursive,
		logger:    logger,
		events:    make(chan RawEvent, backendEventBuffer),
		errors:    make(chan error, backendErrorBuffer),
		done:      make(chan struct{}),
		watched:   make(map[string]struct{}),
	}

	dirs := []string{path}
	if recursive {
		dirs, err = collectRecursiveDirs(path)
		if err != nil {
			_ = source.Close()
			return nil, err
		}
	}
	for _, dir := range dirs {
		if err := subscription.add(dir); err != nil {
			_ = source.Close()
			return nil, err
		}
	}
	subscription.logDebug("subscription started", map[string]string{
		"path":    path,
		"watches": strconv.Itoa(len(dirs)),
	})

	go subscription.forward()
	return subscription, nil
}

func (subscription *fsnotifySubscription) Events() <-chan RawEvent {
	return subscription.events
}

func (subscription *fsnotifySubscription) Errors() <-chan error {
	return subscription.errors
}

func (subscription *fsnotifySubscription) Close() error {
	var err error
	subscription.closeOnce.Do(func() {
		close(subscription.done)
		err = subscription.source.Close()
	})
	return err
}

func (subscription *fsnotifySubscription) add(dir string) error {
	subscription.mutex.Lock()
	if _, ok := subscription.watched[dir]; ok {
		subscription.mutex.Unlock()
		return nil
	}
	subscription.watched[dir] = struct{}{}
	subscription.mutex.Unlock()

	if err := subscription.source.Add(dir); err != nil {
		subscription.mutex.Lock()
		delete(subscription.watched, dir)
		subscription.mutex.Unlock()
		return err
	}
	return nil
}

func (subscription *fsnotifySubscription) forget(path string) {
	subscription.mutex.Lock()
	delete(subscription.watched, path)
	subscription.mutex.Unlock()
}

func (subscription *fsnotifySubscription) forward() {
	for {
		select {
		case event, ok := <-subscription.source.Events:
			if !ok {
				return
			}
			subscription.handle(event)
		case err, ok := <-subscription.source.Errors:
			if !ok {
				return
			}
			select {
			case subscription.errors <- err:
			case <-subscription.done:
				return
			}
		case <-subscription.done:
			return
		}
	}
}

func (subscription *fsnotifySubscription) handle(event fsnotify.Event) {
	kind := kindForOp(event.Op)
	if kind == KindRemoved || event.Has(fsnotify.Rename) {
		subscription.forget(event.Name)
	}
	if !subscription.send(RawEvent{Kind: kind, Paths: []string{event.Name}}) {
		return
	}
	if kind != KindCreated || !subscription.recursive {
		return
	}
	info, err := os.Stat(event.Name)
	if err != nil || !info.IsDir() {
		return
	}
	subscription.followDirectory(event.Name)
}

// followDirectory watches a newly created directory tree and reports files
// already inside it, which were written before the watch existed.
func (subscription *fsnotifySubscription) followDirectory(dir string) {
	dirs, err := collectRecursiveDirs(dir)
	if err != nil {
		subscription.logDebug("new directory vanished", map[string]string{
			"path":  dir,
			"error": err.Error(),
		})
		return
	}
	for _, path := range dirs {
		if err := subscription.add(path); err != nil {
			subscription.reportError(err)
		}
	}
	files := collectFiles(dir)
	if len(files) == 0 {
		return
	}
	subscription.send(RawEvent{Kind: KindCreated, Paths: files})
}

func (subscription *fsnotifySubscription) send(event RawEvent) bool {
	select {
	case subscription.events <- event:
		return true
	case <-subscription.done:
		return false
	}
}

func (subscription *fsnotifySubscription) reportError(err error) {
	select {
	case subscription.errors <- err:
	case <-subscription.done:
	default:
	}
}

func (subscription *fsnotifySubscription) logDebug(message string, fields map[string]string) {
	if subscription.logger == nil {
		return
	}
	subscription.logger.Debug(message, withWatcherFields(fields))
}

// kindForOp maps fsnotify ops. A rename reports the old name and is treated
// as a modification of that path.
func kindForOp(op fsnotify.Op) Kind {
	switch {
	case op.Has(fsnotify.Create):
		return KindCreated
	case op.Has(fsnotify.Remove):
		return KindRemoved
	case op.Has(fsnotify.Write), op.Has(fsnotify.Rename):
		return KindModified
	default:
		return KindOther
	}
}

func cleanRoot(path string) string {
	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}
	return filepath.Clean(path)
}
