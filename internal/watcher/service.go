package watcher

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"sync/atomic"

	"mdview/internal/logging"
)

// Service starts directory watches and hands them to a Registry.
type Service struct {
	ctx           context.Context
	backend       Backend
	sink          Sink
	registry      *Registry
	options       Options
	logger        *logging.Logger
	requests      atomic.Uint64
	setupFailures atomic.Uint64
}

// NewService builds a Service. ctx bounds sink deliveries for every watcher it
// starts. A nil registry gets a private one; a nil backend uses fsnotify.
func NewService(ctx context.Context, sink Sink, registry *Registry, options Options) *Service {
	if ctx == nil {
		ctx = context.Background()
	}
	if registry == nil {
		registry = NewRegistry()
	}
	if options.Backend == nil {
		options.Backend = NewFSNotifyBackend(options.Logger)
	}
	if options.Debounce <= 0 {
		options.Debounce = DefaultDebounceWindow
	}
	return &Service{
		ctx:      ctx,
		backend:  options.Backend,
		sink:     sink,
		registry: registry,
		options:  options,
		logger:   options.Logger,
	}
}

// WatchDirectory validates path, subscribes recursively and registers the
// resulting watcher before returning. It returns as soon as the subscription
// is live and never waits for events. Repeated calls for the same directory
// start independent watchers.
func (service *Service) WatchDirectory(ctx context.Context, path string) error {
	if service == nil {
		return errors.New("watch service is nil")
	}
	if ctx != nil {
		if err := ctx.Err(); err != nil {
			return err
		}
	}
	service.requests.Add(1)
	if path == "" {
		return fmt.Errorf("%w: empty path", ErrPathNotFound)
	}
	root := cleanRoot(path)
	if _, err := os.Stat(root); err != nil {
		service.logInfo("watch rejected", map[string]string{
			"path":  root,
			"error": err.Error(),
		})
		return fmt.Errorf("%w: %s", ErrPathNotFound, path)
	}

	subscription, err := service.backend.Subscribe(root, true)
	if err != nil {
		service.setupFailures.Add(1)
		service.logWarn("watch setup failed", map[string]string{
			"path":  root,
			"error": err.Error(),
		})
		return &WatchSetupError{Path: root, Err: err}
	}

	watcher := newDirectoryWatcher(service.ctx, root, subscription, service.sink, service.options)
	if err := service.registry.Add(watcher); err != nil {
		_ = watcher.Close()
		service.setupFailures.Add(1)
		return &WatchSetupError{Path: root, Err: err}
	}

	service.logInfo("watching directory", map[string]string{
		"path":    root,
		"watches": strconv.Itoa(service.registry.Len()),
	})
	return nil
}

// Registry returns the registry that owns this service's watchers.
func (service *Service) Registry() *Registry {
	if service == nil {
		return nil
	}
	return service.registry
}

// Requests reports how many watch requests were made and how many failed at setup.
func (service *Service) Requests() (total uint64, setupFailures uint64) {
	if service == nil {
		return 0, 0
	}
	return service.requests.Load(), service.setupFailures.Load()
}

func (service *Service) logInfo(message string, fields map[string]string) {
	if service.logger == nil {
		return
	}
	service.logger.Info(message, withWatcherFields(fields))
}

func (service *Service) logWarn(message string, fields map[string]string) {
	if service.logger == nil {
		return
	}
	service.logger.Warn(message, withWatcherFields(fields))
}
