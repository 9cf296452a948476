package event

import (
	"context"
	"reflect"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"mdview/internal/buffer"
	"mdview/internal/logging"
	"mdview/internal/metrics"
)

const defaultSubscriberBufferSize = 128
const defaultDropWarningThreshold = 0.01
const defaultDropWarningInterval = 30 * time.Second

type BusOptions struct {
	Name                 string
	SubscriberBufferSize int
	BlockOnFull          bool
	WriteTimeout         time.Duration
	MaxSubscribers       int
	DropWarningThreshold float64
	DropWarningInterval  time.Duration
	HistorySize          int
	Registry             *metrics.Registry
	Logger               *logging.Logger
}

// Bus fans events out to subscriber channels. Slow subscribers lose events
// unless BlockOnFull is set, in which case a subscriber that stays full past
// WriteTimeout is disconnected.
type Bus[T any] struct {
	mu          sync.Mutex
	subscribers map[uint64]subscription[T]
	nextSubID   uint64
	closed      bool
	closeOnce   sync.Once
	options     BusOptions
	registry    *metrics.Registry
	logger      *logging.Logger
	published   atomic.Int64
	dropped     atomic.Int64
	lastWarning atomic.Int64
	history     *buffer.Ring[T]
}

// Publisher is the publishing half of a bus, satisfied by Bus and MockBus.
type Publisher[T any] interface {
	Publish(event T)
}

type typedEvent interface {
	Type() string
}

type subscription[T any] struct {
	id     uint64
	ch     chan T
	filter func(T) bool
}

func NewBus[T any](ctx context.Context, opts BusOptions) *Bus[T] {
	if ctx == nil {
		ctx = context.Background()
	}
	if opts.SubscriberBufferSize <= 0 {
		opts.SubscriberBufferSize = defaultSubscriberBufferSize
	}
	if opts.DropWarningThreshold <= 0 {
		opts.DropWarningThreshold = defaultDropWarningThreshold
	}
	if opts.DropWarningInterval <= 0 {
		opts.DropWarningInterval = defaultDropWarningInterval
	}
	bus := &Bus[T]{
		subscribers: make(map[uint64]subscription[T]),
		options:     opts,
		registry:    opts.Registry,
		logger:      opts.Logger,
	}
	if opts.HistorySize > 0 {
		bus.history = buffer.NewRing[T](opts.HistorySize)
	}
	if bus.registry == nil {
		bus.registry = metrics.Default
	}
	if done := ctx.Done(); done != nil {
		go func() {
			<-done
			bus.Close()
		}()
	}
	return bus
}

func (b *Bus[T]) Subscribe() (<-chan T, func()) {
	return b.SubscribeFiltered(nil)
}

func (b *Bus[T]) SubscribeFiltered(filter func(T) bool) (<-chan T, func()) {
	if b == nil {
		return closedChannel[T]()
	}

	ch := make(chan T, b.options.SubscriberBufferSize)
	id := atomic.AddUint64(&b.nextSubID, 1)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	if b.options.MaxSubscribers > 0 && len(b.subscribers) >= b.options.MaxSubscribers {
		b.mu.Unlock()
		close(ch)
		b.logWarn("subscriber limit reached", map[string]string{
			"limit": strconv.Itoa(b.options.MaxSubscribers),
		})
		return ch, func() {}
	}
	b.subscribers[id] = subscription[T]{id: id, ch: ch, filter: filter}
	filtered, unfiltered := b.countSubscribersLocked()
	b.mu.Unlock()

	b.registry.SetEventSubscriberCounts(b.busName(), filtered, unfiltered)

	return ch, func() {
		b.removeSubscriber(id)
	}
}

// SubscribeTypes delivers only events whose Type() is one of eventTypes.
func (b *Bus[T]) SubscribeTypes(eventTypes ...string) (<-chan T, func()) {
	typeSet := make(map[string]struct{}, len(eventTypes))
	for _, eventType := range eventTypes {
		if eventType != "" {
			typeSet[eventType] = struct{}{}
		}
	}
	if len(typeSet) == 0 {
		return closedChannel[T]()
	}
	return b.SubscribeFiltered(func(event T) bool {
		typed, ok := any(event).(typedEvent)
		if !ok {
			return false
		}
		_, matched := typeSet[typed.Type()]
		return matched
	})
}

func (b *Bus[T]) Publish(event T) {
	if b == nil || isNil(event) {
		return
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	if b.history != nil {
		b.history.Add(event)
	}
	subscribers := make([]subscription[T], 0, len(b.subscribers))
	for _, sub := range b.subscribers {
		subscribers = append(subscribers, sub)
	}
	b.mu.Unlock()

	eventType := eventTypeOf(event)
	b.published.Add(1)
	b.registry.IncEventPublished(b.busName(), eventType)

	for _, sub := range subscribers {
		if !b.filterAllows(sub, event) {
			continue
		}
		b.sendToSubscriber(sub, event, eventType)
	}
}

func (b *Bus[T]) Close() {
	if b == nil {
		return
	}
	b.closeOnce.Do(func() {
		b.mu.Lock()
		b.closed = true
		subscribers := b.subscribers
		b.subscribers = make(map[uint64]subscription[T])
		b.mu.Unlock()

		for _, sub := range subscribers {
			close(sub.ch)
		}
		b.registry.SetEventSubscriberCounts(b.busName(), 0, 0)
	})
}

// History returns up to count of the most recent events, oldest first. A
// count of zero returns everything retained.
func (b *Bus[T]) History(count int) []T {
	if b == nil {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.history == nil {
		return nil
	}
	if count <= 0 {
		return b.history.List()
	}
	return b.history.Last(count)
}

func (b *Bus[T]) SubscriberCount() int {
	if b == nil {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subscribers)
}

// Stats returns totals of published and dropped deliveries.
func (b *Bus[T]) Stats() (published, dropped int64) {
	if b == nil {
		return 0, 0
	}
	return b.published.Load(), b.dropped.Load()
}

func (b *Bus[T]) sendToSubscriber(sub subscription[T], event T, eventType string) {
	var delivered bool
	if b.options.BlockOnFull {
		delivered = b.safeSend(sub, func() bool {
			if b.options.WriteTimeout <= 0 {
				sub.ch <- event
				return true
			}
			timer := time.NewTimer(b.options.WriteTimeout)
			defer timer.Stop()
			select {
			case sub.ch <- event:
				return true
			case <-timer.C:
				return false
			}
		})
		if !delivered {
			b.removeSubscriber(sub.id)
			b.logWarn("slow subscriber disconnected", map[string]string{
				"event_type": eventType,
			})
		}
	} else {
		delivered = b.safeSend(sub, func() bool {
			select {
			case sub.ch <- event:
				return true
			default:
				return false
			}
		})
	}
	if !delivered {
		b.dropped.Add(1)
		b.registry.IncEventDropped(b.busName(), eventType)
		b.maybeWarnDropRate()
	}
}

// safeSend treats a send on a channel closed by a concurrent cancel as a miss.
func (b *Bus[T]) safeSend(sub subscription[T], send func() bool) (delivered bool) {
	defer func() {
		if recover() != nil {
			b.removeSubscriber(sub.id)
			delivered = false
		}
	}()
	return send()
}

func (b *Bus[T]) removeSubscriber(id uint64) {
	b.mu.Lock()
	existing, ok := b.subscribers[id]
	if ok {
		delete(b.subscribers, id)
	}
	filtered, unfiltered := b.countSubscribersLocked()
	b.mu.Unlock()

	if !ok {
		return
	}
	close(existing.ch)
	b.registry.SetEventSubscriberCounts(b.busName(), filtered, unfiltered)
}

func (b *Bus[T]) filterAllows(sub subscription[T], event T) (allowed bool) {
	if sub.filter == nil {
		return true
	}
	defer func() {
		if recover() != nil {
			b.logWarn("subscriber filter panicked", nil)
			b.removeSubscriber(sub.id)
			allowed = false
		}
	}()
	return sub.filter(event)
}

func (b *Bus[T]) countSubscribersLocked() (filtered int, unfiltered int) {
	for _, sub := range b.subscribers {
		if sub.filter == nil {
			unfiltered++
		} else {
			filtered++
		}
	}
	return filtered, unfiltered
}

func (b *Bus[T]) busName() string {
	if b.options.Name == "" {
		return "event_bus"
	}
	return b.options.Name
}

func (b *Bus[T]) maybeWarnDropRate() {
	published := b.published.Load()
	dropped := b.dropped.Load()
	if published == 0 || dropped == 0 {
		return
	}
	rate := float64(dropped) / float64(published)
	if rate < b.options.DropWarningThreshold {
		return
	}
	now := time.Now()
	lastNanos := b.lastWarning.Load()
	if lastNanos > 0 && now.Sub(time.Unix(0, lastNanos)) < b.options.DropWarningInterval {
		return
	}
	if !b.lastWarning.CompareAndSwap(lastNanos, now.UnixNano()) {
		return
	}
	b.logWarn("event drop rate high", map[string]string{
		"rate":      strconv.FormatFloat(rate*100, 'f', 2, 64) + "%",
		"dropped":   strconv.FormatInt(dropped, 10),
		"published": strconv.FormatInt(published, 10),
	})
}

func (b *Bus[T]) logWarn(message string, fields map[string]string) {
	if b.logger == nil {
		return
	}
	merged := map[string]string{"bus": b.busName()}
	for key, value := range fields {
		merged[key] = value
	}
	b.logger.Warn(message, merged)
}

func eventTypeOf[T any](event T) string {
	typed, ok := any(event).(typedEvent)
	if !ok || typed.Type() == "" {
		return "unknown"
	}
	return typed.Type()
}

func closedChannel[T any]() (<-chan T, func()) {
	ch := make(chan T)
	close(ch)
	return ch, func() {}
}

func isNil[T any](value T) bool {
	kind := reflect.ValueOf(value)
	if !kind.IsValid() {
		return true
	}
	switch kind.Kind() {
	case reflect.Chan, reflect.Func, reflect.Map, reflect.Pointer, reflect.Interface, reflect.Slice:
		return kind.IsNil()
	default:
		return false
	}
}
