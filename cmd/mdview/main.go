package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"mdview/internal/api"
	"mdview/internal/desktop"
	"mdview/internal/event"
	"mdview/internal/logging"
	"mdview/internal/metrics"
	"mdview/internal/notify"
	"mdview/internal/server"
	"mdview/internal/version"
	"mdview/internal/watcher"
)

const (
	uiEventsBusName         = "ui_events"
	uiEventsHistorySize     = 64
	httpServerShutdownDelay = 5 * time.Second
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	cfg, err := server.LoadConfig(args)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		fmt.Fprintf(stderr, "mdview: %v\n", err)
		return 2
	}
	if cfg.ShowVersion {
		fmt.Fprintln(stdout, version.Current().String())
		return 0
	}

	logger := logging.NewLoggerWithOutput(logging.NewLogBuffer(logging.DefaultBufferSize), cfg.LogLevel, stderr)
	server.LogVersionInfo(logger)
	server.LogStartupFlags(logger, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	backend := newBackend(ctx, cfg, logger, &metrics.Registry{})
	backend.watchInitial(ctx, cfg.WatchDirs)

	listener, err := net.Listen("tcp", backend.server.Addr)
	if err != nil {
		logger.Error("listen failed", map[string]string{
			"addr":  backend.server.Addr,
			"error": err.Error(),
		})
		_ = backend.shutdown(context.Background())
		return 1
	}

	signalCh := make(chan os.Signal, 2)
	signal.Notify(signalCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(signalCh)
	stopCtx, stop := context.WithCancel(ctx)
	defer stop()
	stopSignals := watchShutdownSignals(logger, stop, signalCh)
	defer stopSignals()

	if err := backend.serve(stopCtx, listener); err != nil {
		return 1
	}
	return 0
}

// backend bundles the long-lived components behind the HTTP API.
type backend struct {
	logger   *logging.Logger
	metrics  *metrics.Registry
	bus      *event.Bus[event.Event]
	watchers *watcher.Registry
	app      *desktop.App
	server   *http.Server
}

func newBackend(ctx context.Context, cfg server.Config, logger *logging.Logger, registry *metrics.Registry) *backend {
	bus := event.NewBus[event.Event](ctx, event.BusOptions{
		Name:        uiEventsBusName,
		HistorySize: uiEventsHistorySize,
		Registry:    registry,
		Logger:      logger.Named("event"),
	})

	sink := notify.Fanout{
		notify.NewBusSink(bus),
		notify.NewLogSink(logger.Named("notify")),
	}
	watchers := watcher.NewRegistry()
	service := watcher.NewService(ctx, sink, watchers, watcher.Options{
		Logger:   logger.Named("watcher"),
		Debounce: cfg.Debounce,
	})
	registry.SetWatcherSource(func() metrics.WatcherSnapshot {
		snapshot := watchers.Metrics()
		return metrics.WatcherSnapshot{
			Watches:       watchers.Len(),
			Inert:         snapshot.Inert,
			RawEvents:     snapshot.RawEvents,
			Flushed:       snapshot.Flushed,
			Filtered:      snapshot.Filtered,
			Delivered:     snapshot.Delivered,
			SinkErrors:    snapshot.SinkErrors,
			Dropped:       snapshot.Dropped,
			BackendErrors: snapshot.BackendErrors,
		}
	})

	mux := http.NewServeMux()
	httpServer := &http.Server{
		Addr:              net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	app := desktop.NewApp(desktop.Options{
		Watcher:     service,
		Registry:    watchers,
		Events:      bus,
		StartupFile: desktop.StartupFile(cfg.Args),
		Server:      httpServer,
		Logger:      logger.Named("desktop"),
		Metrics:     registry,
	})

	api.RegisterRoutes(mux, api.RouteOptions{
		Commands:       app,
		Registry:       watchers,
		Events:         bus,
		Metrics:        registry,
		Logger:         logger,
		AuthToken:      cfg.AuthToken,
		AllowedOrigins: cfg.AllowedOrigins,
	})

	return &backend{
		logger:   logger,
		metrics:  registry,
		bus:      bus,
		watchers: watchers,
		app:      app,
		server:   httpServer,
	}
}

// watchInitial starts the configured watches. Failures are logged and do not
// stop startup.
func (backend *backend) watchInitial(ctx context.Context, dirs []string) {
	for _, dir := range dirs {
		if err := backend.app.WatchDirectory(ctx, dir); err != nil {
			backend.logger.Warn("initial watch failed", map[string]string{
				"path":  dir,
				"error": err.Error(),
			})
		}
	}
}

// serve runs the HTTP server until stop is canceled or the server fails, then
// shuts everything down.
func (backend *backend) serve(stop context.Context, listener net.Listener) error {
	backend.logger.Info("mdview listening", map[string]string{
		"addr": listener.Addr().String(),
	})

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- backend.server.Serve(listener)
	}()

	var runErr error
	select {
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			backend.logger.Error("http server stopped", map[string]string{
				"error": err.Error(),
			})
			runErr = err
		}
	case <-stop.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), httpServerShutdownDelay)
	defer cancel()
	if err := backend.shutdown(shutdownCtx); err != nil {
		runErr = errors.Join(runErr, err)
	}
	return runErr
}

func (backend *backend) shutdown(ctx context.Context) error {
	coordinator := newShutdownCoordinator(backend.logger)
	coordinator.Add("app", func(ctx context.Context) error {
		backend.app.Shutdown(ctx)
		return nil
	})
	coordinator.Add("events", func(context.Context) error {
		backend.bus.Close()
		return nil
	})
	return coordinator.Run(ctx)
}
