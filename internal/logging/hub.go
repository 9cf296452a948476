package logging

import (
	"sync"
	"sync/atomic"
)

const defaultSubscriberBuffer = 100

// LogHub fans live entries out to subscribers. Sends never block: a
// subscriber whose buffer is full misses the entry and the miss is counted.
type LogHub struct {
	mu      sync.Mutex
	nextID  uint64
	subs    map[uint64]chan LogEntry
	closed  bool
	dropped atomic.Uint64
}

func NewLogHub() *LogHub {
	return &LogHub{
		subs: make(map[uint64]chan LogEntry),
	}
}

// Subscribe registers a subscriber with the given buffer size. The returned
// func unsubscribes and closes the channel; calling it twice is safe.
func (hub *LogHub) Subscribe(buffer int) (<-chan LogEntry, func()) {
	if hub == nil {
		return nil, func() {}
	}
	if buffer <= 0 {
		buffer = defaultSubscriberBuffer
	}

	hub.mu.Lock()
	defer hub.mu.Unlock()
	if hub.closed {
		ch := make(chan LogEntry)
		close(ch)
		return ch, func() {}
	}
	hub.nextID++
	id := hub.nextID
	ch := make(chan LogEntry, buffer)
	hub.subs[id] = ch
	return ch, func() {
		hub.mu.Lock()
		defer hub.mu.Unlock()
		if existing, ok := hub.subs[id]; ok {
			delete(hub.subs, id)
			close(existing)
		}
	}
}

// Broadcast holds the lock while sending so an unsubscribe cannot close a
// channel mid-send.
func (hub *LogHub) Broadcast(entry LogEntry) {
	if hub == nil {
		return
	}
	hub.mu.Lock()
	defer hub.mu.Unlock()
	if hub.closed {
		return
	}
	for _, ch := range hub.subs {
		select {
		case ch <- entry:
		default:
			hub.dropped.Add(1)
		}
	}
}

func (hub *LogHub) Len() int {
	if hub == nil {
		return 0
	}
	hub.mu.Lock()
	defer hub.mu.Unlock()
	return len(hub.subs)
}

// Dropped reports entries missed by slow subscribers.
func (hub *LogHub) Dropped() uint64 {
	if hub == nil {
		return 0
	}
	return hub.dropped.Load()
}

func (hub *LogHub) Close() {
	if hub == nil {
		return
	}
	hub.mu.Lock()
	defer hub.mu.Unlock()
	if hub.closed {
		return
	}
	hub.closed = true
	for id, ch := range hub.subs {
		delete(hub.subs, id)
		close(ch)
	}
}
