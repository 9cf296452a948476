package api

import (
	"net/http"

	"mdview/internal/logging"
	"mdview/internal/metrics"
	"mdview/internal/watcher"
)

type RouteOptions struct {
	Commands       Commands
	Registry       *watcher.Registry
	Events         EventSource
	Metrics        *metrics.Registry
	Logger         *logging.Logger
	AuthToken      string
	AllowedOrigins []string
}

// RegisterRoutes mounts the REST API and the websocket streams on mux.
func RegisterRoutes(mux *http.ServeMux, options RouteOptions) {
	logger := options.Logger.Named("api")
	token := options.AuthToken
	rest := &RestHandler{
		Commands: options.Commands,
		Registry: options.Registry,
		Metrics:  options.Metrics,
		Logger:   logger,
	}

	mux.Handle("/api/watch", restHandler(token, logger, rest.handleWatch))
	mux.Handle("/api/reveal", restHandler(token, logger, rest.handleReveal))
	mux.Handle("/api/ready", restHandler(token, logger, rest.handleReady))
	mux.Handle("/api/greet", restHandler(token, logger, rest.handleGreet))
	mux.Handle("/api/status", restHandler(token, logger, rest.handleStatus))
	mux.Handle("/api/metrics", restHandler(token, logger, rest.handleMetrics))
	mux.Handle("/api/logs", restHandler(token, logger, rest.handleLogs))
	mux.Handle("/api/", securityHeadersMiddleware(cacheControlNoStore, http.NotFoundHandler()))

	mux.Handle("/ws/events", securityHeadersMiddleware(cacheControlNoStore, &EventsHandler{
		Bus:            options.Events,
		Logger:         logger,
		Metrics:        options.Metrics,
		AuthToken:      token,
		AllowedOrigins: options.AllowedOrigins,
	}))
	mux.Handle("/ws/logs", securityHeadersMiddleware(cacheControlNoStore, &LogsHandler{
		Logger:         options.Logger,
		AuthToken:      token,
		AllowedOrigins: options.AllowedOrigins,
	}))

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		setSecurityHeaders(w, cacheControlNoCache)
		if token != "" {
			w.Header().Set("X-Mdview-Auth", "required")
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("mdview ok\n"))
	})
}
