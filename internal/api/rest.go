package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"mdview/internal/logging"
	"mdview/internal/metrics"
	"mdview/internal/version"
	"mdview/internal/watcher"
)

// Commands are the desktop operations exposed over REST.
type Commands interface {
	Greet(name string) string
	FrontendReady() bool
	RevealInFileManager(path string) error
	WatchDirectory(ctx context.Context, path string) error
}

type RestHandler struct {
	Commands Commands
	Registry *watcher.Registry
	Metrics  *metrics.Registry
	Logger   *logging.Logger
}

type pathRequest struct {
	Path string `json:"path"`
}

type readyResponse struct {
	Delivered bool `json:"delivered"`
}

type greetResponse struct {
	Message string `json:"message"`
}

type statusResponse struct {
	Version      version.Info          `json:"version"`
	WatchCount   int                   `json:"watch_count"`
	WatchedPaths []string              `json:"watched_paths"`
	Watches      []watcher.WatchStatus `json:"watches"`
	Watcher      watcherMetrics        `json:"watcher"`
}

type watcherMetrics struct {
	Inert         int    `json:"inert"`
	RawEvents     uint64 `json:"raw_events"`
	Flushed       uint64 `json:"flushed"`
	Filtered      uint64 `json:"filtered"`
	Delivered     uint64 `json:"delivered"`
	SinkErrors    uint64 `json:"sink_errors"`
	Dropped       uint64 `json:"dropped"`
	BackendErrors uint64 `json:"backend_errors"`
}

type logQuery struct {
	Limit int
	Level logging.Level
	Since *time.Time
}

func (h *RestHandler) requireCommands() *apiError {
	if h.Commands == nil {
		return &apiError{Status: http.StatusServiceUnavailable, Message: "desktop commands unavailable"}
	}
	return nil
}

func (h *RestHandler) handleWatch(w http.ResponseWriter, r *http.Request) *apiError {
	if r.Method != http.MethodPost {
		return methodNotAllowed(w, "POST")
	}
	if err := h.requireCommands(); err != nil {
		return err
	}
	var request pathRequest
	if err := decodeJSONBody(r, &request); err != nil {
		return err
	}
	path := strings.TrimSpace(request.Path)
	if path == "" {
		return &apiError{Status: http.StatusBadRequest, Message: "missing path"}
	}

	if err := h.Commands.WatchDirectory(r.Context(), path); err != nil {
		return watchError(err)
	}
	w.WriteHeader(http.StatusNoContent)
	return nil
}

func watchError(err error) *apiError {
	switch {
	case errors.Is(err, watcher.ErrPathNotFound):
		return &apiError{Status: http.StatusNotFound, Code: codePathNotFound, Message: err.Error()}
	case errors.Is(err, watcher.ErrWatchSetupFailed):
		return &apiError{Status: http.StatusInternalServerError, Code: codeWatchSetupFailed, Message: err.Error()}
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return &apiError{Status: http.StatusServiceUnavailable, Message: err.Error()}
	default:
		return &apiError{Status: http.StatusInternalServerError, Message: err.Error()}
	}
}

func (h *RestHandler) handleReveal(w http.ResponseWriter, r *http.Request) *apiError {
	if r.Method != http.MethodPost {
		return methodNotAllowed(w, "POST")
	}
	if err := h.requireCommands(); err != nil {
		return err
	}
	var request pathRequest
	if err := decodeJSONBody(r, &request); err != nil {
		return err
	}
	if strings.TrimSpace(request.Path) == "" {
		return &apiError{Status: http.StatusBadRequest, Message: "missing path"}
	}
	if err := h.Commands.RevealInFileManager(request.Path); err != nil {
		return &apiError{Status: http.StatusBadRequest, Code: codeRevealFailed, Message: err.Error()}
	}
	w.WriteHeader(http.StatusNoContent)
	return nil
}

func (h *RestHandler) handleReady(w http.ResponseWriter, r *http.Request) *apiError {
	if r.Method != http.MethodPost {
		return methodNotAllowed(w, "POST")
	}
	if err := h.requireCommands(); err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, readyResponse{Delivered: h.Commands.FrontendReady()})
	return nil
}

func (h *RestHandler) handleGreet(w http.ResponseWriter, r *http.Request) *apiError {
	if r.Method != http.MethodGet {
		return methodNotAllowed(w, "GET")
	}
	if err := h.requireCommands(); err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, greetResponse{Message: h.Commands.Greet(r.URL.Query().Get("name"))})
	return nil
}

func (h *RestHandler) handleStatus(w http.ResponseWriter, r *http.Request) *apiError {
	if r.Method != http.MethodGet {
		return methodNotAllowed(w, "GET")
	}
	snapshot := h.Registry.Metrics()
	paths := h.Registry.Paths()
	if paths == nil {
		paths = []string{}
	}
	writeJSON(w, http.StatusOK, statusResponse{
		Version:      version.Current(),
		WatchCount:   h.Registry.Len(),
		WatchedPaths: paths,
		Watches:      h.Registry.Watches(),
		Watcher: watcherMetrics{
			Inert:         snapshot.Inert,
			RawEvents:     snapshot.RawEvents,
			Flushed:       snapshot.Flushed,
			Filtered:      snapshot.Filtered,
			Delivered:     snapshot.Delivered,
			SinkErrors:    snapshot.SinkErrors,
			Dropped:       snapshot.Dropped,
			BackendErrors: snapshot.BackendErrors,
		},
	})
	return nil
}

func (h *RestHandler) handleMetrics(w http.ResponseWriter, r *http.Request) *apiError {
	if r.Method != http.MethodGet {
		return methodNotAllowed(w, "GET")
	}
	if h.Metrics == nil {
		return &apiError{Status: http.StatusServiceUnavailable, Message: "metrics unavailable"}
	}
	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	if err := h.Metrics.WritePrometheus(w); err != nil && h.Logger != nil {
		h.Logger.Warn("write metrics failed", map[string]string{
			"error": err.Error(),
		})
	}
	return nil
}

func (h *RestHandler) handleLogs(w http.ResponseWriter, r *http.Request) *apiError {
	if r.Method != http.MethodGet {
		return methodNotAllowed(w, "GET")
	}
	if h.Logger == nil || h.Logger.Buffer() == nil {
		return &apiError{Status: http.StatusServiceUnavailable, Message: "log buffer unavailable"}
	}
	query, err := parseLogQuery(r)
	if err != nil {
		return err
	}
	entries := h.Logger.Buffer().Recent(0, query.Level)
	writeJSON(w, http.StatusOK, filterLogEntries(entries, query))
	return nil
}

func parseLogQuery(r *http.Request) (logQuery, *apiError) {
	values := r.URL.Query()
	query := logQuery{
		Limit: 100,
	}

	if rawLimit := strings.TrimSpace(values.Get("limit")); rawLimit != "" {
		limit, err := strconv.Atoi(rawLimit)
		if err != nil || limit <= 0 {
			return query, &apiError{Status: http.StatusBadRequest, Message: "invalid limit"}
		}
		query.Limit = limit
	}

	if rawSince := strings.TrimSpace(values.Get("since")); rawSince != "" {
		parsed, err := time.Parse(time.RFC3339, rawSince)
		if err != nil {
			return query, &apiError{Status: http.StatusBadRequest, Message: "invalid since timestamp"}
		}
		query.Since = &parsed
	}

	if rawLevel := strings.TrimSpace(values.Get("level")); rawLevel != "" {
		level, ok := logging.ParseLevel(rawLevel)
		if !ok {
			return query, &apiError{Status: http.StatusBadRequest, Message: "invalid log level"}
		}
		query.Level = level
	}

	return query, nil
}

func filterLogEntries(entries []logging.LogEntry, query logQuery) []logging.LogEntry {
	filtered := make([]logging.LogEntry, 0, len(entries))
	for _, entry := range entries {
		if query.Since != nil && entry.Timestamp.Before(*query.Since) {
			continue
		}
		filtered = append(filtered, entry)
	}
	if query.Limit > 0 && len(filtered) > query.Limit {
		filtered = filtered[len(filtered)-query.Limit:]
	}
	return filtered
}
