package watcher

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// DefaultDebounceWindow is how long a path must stay quiet before it flushes.
const DefaultDebounceWindow = 500 * time.Millisecond

type debounceEntry struct {
	timer      *clock.Timer
	kind       Kind
	generation uint64
}

// debouncer coalesces raw events per path. Each path owns its own timer, so a
// busy path never delays the flush of another one.
type debouncer struct {
	clock      clock.Clock
	window     time.Duration
	flush      func(CoalescedEvent)
	mutex      sync.Mutex
	entries    map[string]*debounceEntry
	generation uint64
	stopped    bool
}

func newDebouncer(clk clock.Clock, window time.Duration, flush func(CoalescedEvent)) *debouncer {
	if clk == nil {
		clk = clock.New()
	}
	if window <= 0 {
		window = DefaultDebounceWindow
	}
	return &debouncer{
		clock:   clk,
		window:  window,
		flush:   flush,
		entries: make(map[string]*debounceEntry),
	}
}

// add records kind for every path in the event and restarts their timers.
// A path keeps KindCreated when writes follow its create in the same window.
// It returns how many pending states were overwritten.
func (debouncer *debouncer) add(event RawEvent) int {
	if debouncer == nil {
		return 0
	}
	debouncer.mutex.Lock()
	defer debouncer.mutex.Unlock()
	if debouncer.stopped {
		return 0
	}

	replaced := 0
	for _, path := range event.Paths {
		if path == "" {
			continue
		}
		entry, ok := debouncer.entries[path]
		if ok {
			replaced++
			entry.timer.Stop()
		} else {
			entry = &debounceEntry{}
			debouncer.entries[path] = entry
		}
		debouncer.generation++
		generation := debouncer.generation
		entry.kind = mergeKind(entry.kind, event.Kind, ok)
		entry.generation = generation
		entry.timer = debouncer.clock.AfterFunc(debouncer.window, func() {
			debouncer.fire(path, generation)
		})
	}
	return replaced
}

// mergeKind picks the kind a path settles on. The latest kind wins, except
// that writes following a pending create still settle as a create.
func mergeKind(pending, next Kind, hasPending bool) Kind {
	if hasPending && pending == KindCreated && next == KindModified {
		return KindCreated
	}
	return next
}

// fire flushes path unless a newer event rescheduled it after this timer was armed.
func (debouncer *debouncer) fire(path string, generation uint64) {
	debouncer.mutex.Lock()
	if debouncer.stopped {
		debouncer.mutex.Unlock()
		return
	}
	entry, ok := debouncer.entries[path]
	if !ok || entry.generation != generation {
		debouncer.mutex.Unlock()
		return
	}
	delete(debouncer.entries, path)
	kind := entry.kind
	debouncer.mutex.Unlock()

	if debouncer.flush != nil {
		debouncer.flush(CoalescedEvent{Path: path, Kind: kind})
	}
}

func (debouncer *debouncer) pending() int {
	if debouncer == nil {
		return 0
	}
	debouncer.mutex.Lock()
	defer debouncer.mutex.Unlock()
	return len(debouncer.entries)
}

// stop cancels every pending timer. Incomplete windows are discarded.
func (debouncer *debouncer) stop() {
	if debouncer == nil {
		return
	}
	debouncer.mutex.Lock()
	defer debouncer.mutex.Unlock()
	debouncer.stopped = true
	for _, entry := range debouncer.entries {
		if entry.timer != nil {
			entry.timer.Stop()
		}
	}
	debouncer.entries = nil
}
