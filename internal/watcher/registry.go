package watcher

import (
	"errors"
	"sync"
)

// Registry owns every DirectoryWatcher for the lifetime of the process. It is
// append-only: watchers are never removed, only closed together at shutdown.
type Registry struct {
	mutex    sync.Mutex
	watchers []*DirectoryWatcher
	closed   bool
}

func NewRegistry() *Registry {
	return &Registry{}
}

var errRegistryClosed = errors.New("watcher registry is closed")

// Add takes ownership of watcher. After CloseAll it refuses new entries.
func (registry *Registry) Add(watcher *DirectoryWatcher) error {
	if registry == nil {
		return errors.New("watcher registry is nil")
	}
	registry.mutex.Lock()
	defer registry.mutex.Unlock()
	if registry.closed {
		return errRegistryClosed
	}
	registry.watchers = append(registry.watchers, watcher)
	return nil
}

func (registry *Registry) Len() int {
	if registry == nil {
		return 0
	}
	registry.mutex.Lock()
	defer registry.mutex.Unlock()
	return len(registry.watchers)
}

// Paths lists watched roots in registration order, duplicates included.
func (registry *Registry) Paths() []string {
	watchers := registry.snapshot()
	paths := make([]string, 0, len(watchers))
	for _, watcher := range watchers {
		paths = append(paths, watcher.Path())
	}
	return paths
}

// Watches reports every registered watch in registration order. Inert
// watches stay listed after their root is removed.
func (registry *Registry) Watches() []WatchStatus {
	watchers := registry.snapshot()
	statuses := make([]WatchStatus, 0, len(watchers))
	for _, watcher := range watchers {
		statuses = append(statuses, WatchStatus{Path: watcher.Path(), Inert: watcher.Inert()})
	}
	return statuses
}

// Metrics sums the counters of every registered watcher.
func (registry *Registry) Metrics() Metrics {
	total := Metrics{}
	for _, watcher := range registry.snapshot() {
		total = total.add(watcher.Metrics())
	}
	return total
}

// CloseAll closes every watcher. It is meant to run once at process exit.
func (registry *Registry) CloseAll() error {
	if registry == nil {
		return nil
	}
	registry.mutex.Lock()
	registry.closed = true
	watchers := registry.watchers
	registry.mutex.Unlock()

	var errs []error
	for _, watcher := range watchers {
		if err := watcher.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (registry *Registry) snapshot() []*DirectoryWatcher {
	if registry == nil {
		return nil
	}
	registry.mutex.Lock()
	defer registry.mutex.Unlock()
	watchers := make([]*DirectoryWatcher, len(registry.watchers))
	copy(watchers, registry.watchers)
	return watchers
}
