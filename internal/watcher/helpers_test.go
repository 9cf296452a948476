package watcher

import (
	"context"
	"errors"
	"sync"
	"time"
)

const waitTimeout = 2 * time.Second

type recordingSink struct {
	mutex         sync.Mutex
	notifications chan ChangeNotification
	err           error
	calls         int
}

func newRecordingSink() *recordingSink {
	return &recordingSink{notifications: make(chan ChangeNotification, 32)}
}

func (sink *recordingSink) Emit(_ context.Context, notification ChangeNotification) error {
	sink.mutex.Lock()
	sink.calls++
	err := sink.err
	sink.mutex.Unlock()
	select {
	case sink.notifications <- notification:
	default:
	}
	return err
}

func (sink *recordingSink) setError(err error) {
	sink.mutex.Lock()
	sink.err = err
	sink.mutex.Unlock()
}

func waitForNotification(notifications <-chan ChangeNotification) (ChangeNotification, bool) {
	select {
	case notification := <-notifications:
		return notification, true
	case <-time.After(waitTimeout):
		return ChangeNotification{}, false
	}
}

func expectNoNotification(notifications <-chan ChangeNotification, wait time.Duration) (ChangeNotification, bool) {
	select {
	case notification := <-notifications:
		return notification, false
	case <-time.After(wait):
		return ChangeNotification{}, true
	}
}

type fakeSubscription struct {
	events    chan RawEvent
	errors    chan error
	closeOnce sync.Once
	closed    chan struct{}
}

func newFakeSubscription() *fakeSubscription {
	return &fakeSubscription{
		events: make(chan RawEvent, 16),
		errors: make(chan error, 4),
		closed: make(chan struct{}),
	}
}

func (subscription *fakeSubscription) Events() <-chan RawEvent { return subscription.events }
func (subscription *fakeSubscription) Errors() <-chan error    { return subscription.errors }

func (subscription *fakeSubscription) Close() error {
	subscription.closeOnce.Do(func() {
		close(subscription.closed)
	})
	return nil
}

type fakeBackend struct {
	mutex         sync.Mutex
	err           error
	subscriptions []*fakeSubscription
	paths         []string
}

func (backend *fakeBackend) Subscribe(path string, recursive bool) (Subscription, error) {
	backend.mutex.Lock()
	defer backend.mutex.Unlock()
	backend.paths = append(backend.paths, path)
	if backend.err != nil {
		return nil, backend.err
	}
	if !recursive {
		return nil, errors.New("expected recursive subscription")
	}
	subscription := newFakeSubscription()
	backend.subscriptions = append(backend.subscriptions, subscription)
	return subscription, nil
}

func (backend *fakeBackend) last() *fakeSubscription {
	backend.mutex.Lock()
	defer backend.mutex.Unlock()
	if len(backend.subscriptions) == 0 {
		return nil
	}
	return backend.subscriptions[len(backend.subscriptions)-1]
}

func (backend *fakeBackend) calls() int {
	backend.mutex.Lock()
	defer backend.mutex.Unlock()
	return len(backend.paths)
}

// waitFor polls until condition holds or the timeout expires.
func waitFor(condition func() bool) bool {
	deadline := time.Now().Add(waitTimeout)
	for time.Now().Before(deadline) {
		if condition() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return condition()
}
