package desktop

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"runtime"
	"sync"
	"time"

	"mdview/internal/event"
	"mdview/internal/logging"
	"mdview/internal/metrics"
	"mdview/internal/watcher"
)

// DirectoryWatcher starts a directory watch.
type DirectoryWatcher interface {
	WatchDirectory(ctx context.Context, path string) error
}

type Options struct {
	Watcher     DirectoryWatcher
	Registry    *watcher.Registry
	Events      event.Publisher[event.Event]
	StartupFile string
	Launcher    Launcher
	GOOS        string
	Server      *http.Server
	Logger      *logging.Logger
	Metrics     *metrics.Registry
}

// App implements the commands the frontend invokes and owns shutdown.
type App struct {
	watcher      DirectoryWatcher
	registry     *watcher.Registry
	events       event.Publisher[event.Event]
	launcher     Launcher
	goos         string
	server       *http.Server
	logger       *logging.Logger
	metrics      *metrics.Registry
	mutex        sync.Mutex
	startupFile  string
	shutdown     chan struct{}
	shutdownOnce sync.Once
}

func NewApp(options Options) *App {
	launcher := options.Launcher
	if launcher == nil {
		launcher = startDetached
	}
	goos := options.GOOS
	if goos == "" {
		goos = runtime.GOOS
	}
	return &App{
		watcher:     options.Watcher,
		registry:    options.Registry,
		events:      options.Events,
		launcher:    launcher,
		goos:        goos,
		server:      options.Server,
		logger:      options.Logger,
		metrics:     options.Metrics,
		startupFile: options.StartupFile,
		shutdown:    make(chan struct{}),
	}
}

// Greet answers the frontend's liveness check.
func (a *App) Greet(name string) string {
	return fmt.Sprintf("Hello, %s! You've been greeted from mdview!", name)
}

// FrontendReady hands over the launch file once. It returns true when a
// file-open event was emitted.
func (a *App) FrontendReady() bool {
	if a == nil {
		return false
	}
	a.mutex.Lock()
	path := a.startupFile
	a.startupFile = ""
	a.mutex.Unlock()

	if path == "" {
		a.logInfo("frontend ready", nil)
		return false
	}
	if a.events != nil {
		a.events.Publish(event.NewFileOpenEvent(path))
	}
	a.metrics.IncStartupOpen()
	a.logInfo("frontend ready", map[string]string{
		"startup_file": path,
	})
	return true
}

// PendingStartupFile reports the launch file that has not been delivered yet.
func (a *App) PendingStartupFile() string {
	if a == nil {
		return ""
	}
	a.mutex.Lock()
	defer a.mutex.Unlock()
	return a.startupFile
}

// RevealInFileManager shows path in the platform file manager.
func (a *App) RevealInFileManager(path string) error {
	if a == nil {
		return errors.New("app is nil")
	}
	err := reveal(a.launcher, a.goos, path)
	a.metrics.IncReveal(err)
	if err != nil {
		a.logWarn("reveal failed", map[string]string{
			"path":  path,
			"error": err.Error(),
		})
	}
	return err
}

// WatchDirectory starts watching path for image changes.
func (a *App) WatchDirectory(ctx context.Context, path string) error {
	if a == nil || a.watcher == nil {
		return errors.New("watcher unavailable")
	}
	a.metrics.IncWatchRequest()
	err := a.watcher.WatchDirectory(ctx, path)
	switch {
	case err == nil:
	case errors.Is(err, watcher.ErrPathNotFound):
		a.metrics.IncWatchFailure("path_not_found")
	case errors.Is(err, watcher.ErrWatchSetupFailed):
		a.metrics.IncWatchFailure("watch_setup_failed")
	default:
		a.metrics.IncWatchFailure("other")
	}
	return err
}

// Shutdown stops the HTTP server and then closes every watcher. It runs once.
func (a *App) Shutdown(ctx context.Context) {
	if a == nil {
		return
	}
	a.shutdownOnce.Do(func() {
		if a.server != nil {
			shutdownContext, cancel := context.WithTimeout(ctx, 5*time.Second)
			if err := a.server.Shutdown(shutdownContext); err != nil {
				a.logWarn("server shutdown failed", map[string]string{
					"error": err.Error(),
				})
			}
			cancel()
		}
		if a.registry != nil {
			if err := a.registry.CloseAll(); err != nil {
				a.logWarn("watcher shutdown failed", map[string]string{
					"error": err.Error(),
				})
			}
		}
		close(a.shutdown)
	})
}

func (a *App) ShutdownDone() <-chan struct{} {
	if a == nil {
		return nil
	}
	return a.shutdown
}

func (a *App) logInfo(message string, fields map[string]string) {
	if a.logger == nil {
		return
	}
	a.logger.Info(message, fields)
}

func (a *App) logWarn(message string, fields map[string]string) {
	if a.logger == nil {
		return
	}
	a.logger.Warn(message, fields)
}
