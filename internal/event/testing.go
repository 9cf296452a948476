package event

import (
	"sync"
	"testing"
	"time"
)

const mockBusBuffer = 16

// MockBus stands in for the UI bus in tests. It remembers every published
// event and copies each one to the open subscriptions without blocking.
type MockBus[T any] struct {
	mu        sync.Mutex
	published []T
	listeners []chan T
}

var (
	_ Publisher[Event] = (*MockBus[Event])(nil)
	_ Publisher[Event] = (*Bus[Event])(nil)
)

func NewMockBus[T any]() *MockBus[T] {
	return &MockBus[T]{}
}

func (bus *MockBus[T]) Publish(event T) {
	if bus == nil {
		return
	}
	bus.mu.Lock()
	defer bus.mu.Unlock()
	bus.published = append(bus.published, event)
	for _, listener := range bus.listeners {
		select {
		case listener <- event:
		default:
		}
	}
}

// Subscribe receives events published after the call. The cancel func closes
// the channel.
func (bus *MockBus[T]) Subscribe() (<-chan T, func()) {
	if bus == nil {
		return closedChannel[T]()
	}
	listener := make(chan T, mockBusBuffer)
	bus.mu.Lock()
	bus.listeners = append(bus.listeners, listener)
	bus.mu.Unlock()

	var once sync.Once
	return listener, func() {
		once.Do(func() {
			bus.mu.Lock()
			defer bus.mu.Unlock()
			for i, candidate := range bus.listeners {
				if candidate == listener {
					bus.listeners = append(bus.listeners[:i], bus.listeners[i+1:]...)
					close(listener)
					return
				}
			}
		})
	}
}

// Close ends every open subscription. Published events stay readable.
func (bus *MockBus[T]) Close() {
	if bus == nil {
		return
	}
	bus.mu.Lock()
	listeners := bus.listeners
	bus.listeners = nil
	bus.mu.Unlock()
	for _, listener := range listeners {
		close(listener)
	}
}

func (bus *MockBus[T]) Events() []T {
	if bus == nil {
		return nil
	}
	bus.mu.Lock()
	defer bus.mu.Unlock()
	return append([]T(nil), bus.published...)
}

// EventsOfType filters Events by their Type().
func (bus *MockBus[T]) EventsOfType(eventType string) []T {
	var matched []T
	for _, event := range bus.Events() {
		if eventTypeOf(event) == eventType {
			matched = append(matched, event)
		}
	}
	return matched
}

// ReceiveWithTimeout waits for a single event or fails the test.
func ReceiveWithTimeout[T any](t *testing.T, ch <-chan T, timeout time.Duration) T {
	t.Helper()
	select {
	case event, ok := <-ch:
		if !ok {
			t.Fatal("event channel closed")
		}
		return event
	case <-time.After(timeout):
		t.Fatalf("no event within %s", timeout)
	}
	var zero T
	return zero
}

// RequireFileChanged fails the test unless got is a file-changed event for
// path with the given change.
func RequireFileChanged(t *testing.T, got Event, path, change string) FileChangedEvent {
	t.Helper()
	changed, ok := got.(FileChangedEvent)
	if !ok {
		t.Fatalf("expected %s event, got %T", TypeFileChanged, got)
	}
	if changed.Path != path || changed.Change != change {
		t.Fatalf("expected %s %s, got %s %s", change, path, changed.Change, changed.Path)
	}
	return changed
}

// RequireFileOpen fails the test unless got is a file-open event for path.
func RequireFileOpen(t *testing.T, got Event, path string) FileOpenEvent {
	t.Helper()
	open, ok := got.(FileOpenEvent)
	if !ok {
		t.Fatalf("expected %s event, got %T", TypeFileOpen, got)
	}
	if open.Path != path {
		t.Fatalf("expected file-open for %s, got %s", path, open.Path)
	}
	return open
}
