package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"mdview/internal/logging"
	"mdview/internal/metrics"
	"mdview/internal/notify"
	"mdview/internal/watcher"
)

type fakeCommands struct {
	mu        sync.Mutex
	watchErr  error
	revealErr error
	ready     bool
	watched   []string
	revealed  []string
}

func (commands *fakeCommands) Greet(name string) string {
	return fmt.Sprintf("Hello, %s! You've been greeted from mdview!", name)
}

func (commands *fakeCommands) FrontendReady() bool {
	commands.mu.Lock()
	defer commands.mu.Unlock()
	ready := commands.ready
	commands.ready = false
	return ready
}

func (commands *fakeCommands) RevealInFileManager(path string) error {
	commands.mu.Lock()
	defer commands.mu.Unlock()
	commands.revealed = append(commands.revealed, path)
	return commands.revealErr
}

func (commands *fakeCommands) WatchDirectory(_ context.Context, path string) error {
	commands.mu.Lock()
	defer commands.mu.Unlock()
	commands.watched = append(commands.watched, path)
	return commands.watchErr
}

func newTestMux(t *testing.T, options RouteOptions) *http.ServeMux {
	t.Helper()
	mux := http.NewServeMux()
	RegisterRoutes(mux, options)
	return mux
}

func doRequest(t *testing.T, handler http.Handler, method, target, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	}
	for key, value := range headers {
		req.Header.Set(key, value)
	}
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	return res
}

func decodeError(t *testing.T, res *httptest.ResponseRecorder) errorResponse {
	t.Helper()
	var payload errorResponse
	if err := json.NewDecoder(res.Body).Decode(&payload); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	return payload
}

func TestWatchEndpointReturnsNoContent(t *testing.T) {
	commands := &fakeCommands{}
	mux := newTestMux(t, RouteOptions{Commands: commands})

	res := doRequest(t, mux, http.MethodPost, "/api/watch", `{"path":"/tmp/images"}`, nil)
	if res.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d: %s", res.Code, res.Body.String())
	}
	if len(commands.watched) != 1 || commands.watched[0] != "/tmp/images" {
		t.Fatalf("unexpected watched paths %v", commands.watched)
	}
}

func TestWatchEndpointMapsErrors(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{
			name:   "path not found",
			err:    fmt.Errorf("%w: /missing", watcher.ErrPathNotFound),
			status: http.StatusNotFound,
			code:   "path_not_found",
		},
		{
			name:   "setup failed",
			err:    &watcher.WatchSetupError{Path: "/tmp", Err: errors.New("too many watches")},
			status: http.StatusInternalServerError,
			code:   "watch_setup_failed",
		},
		{
			name:   "other",
			err:    errors.New("boom"),
			status: http.StatusInternalServerError,
			code:   "internal_error",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			mux := newTestMux(t, RouteOptions{Commands: &fakeCommands{watchErr: tc.err}})
			res := doRequest(t, mux, http.MethodPost, "/api/watch", `{"path":"/tmp"}`, nil)
			if res.Code != tc.status {
				t.Fatalf("expected %d, got %d", tc.status, res.Code)
			}
			if payload := decodeError(t, res); payload.Code != tc.code {
				t.Fatalf("expected code %q, got %q", tc.code, payload.Code)
			}
		})
	}
}

func TestWatchEndpointValidatesRequest(t *testing.T) {
	mux := newTestMux(t, RouteOptions{Commands: &fakeCommands{}})

	if res := doRequest(t, mux, http.MethodGet, "/api/watch", "", nil); res.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", res.Code)
	} else if res.Header().Get("Allow") != "POST" {
		t.Fatalf("expected Allow header, got %q", res.Header().Get("Allow"))
	}
	if res := doRequest(t, mux, http.MethodPost, "/api/watch", `{"path":"  "}`, nil); res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for blank path, got %d", res.Code)
	}
	if res := doRequest(t, mux, http.MethodPost, "/api/watch", `{"dir":"/tmp"}`, nil); res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown field, got %d", res.Code)
	}
	if res := doRequest(t, mux, http.MethodPost, "/api/watch", "", nil); res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty body, got %d", res.Code)
	}
}

func TestWatchEndpointWithRealService(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	registry := watcher.NewRegistry()
	service := watcher.NewService(ctx, notify.NewMemorySink(), registry, watcher.Options{})
	t.Cleanup(func() {
		_ = registry.CloseAll()
	})
	mux := newTestMux(t, RouteOptions{Commands: serviceCommands{service}, Registry: registry})

	dir := t.TempDir()
	res := doRequest(t, mux, http.MethodPost, "/api/watch", fmt.Sprintf(`{"path":%q}`, dir), nil)
	if res.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d: %s", res.Code, res.Body.String())
	}

	res = doRequest(t, mux, http.MethodGet, "/api/status", "", nil)
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
	var status statusResponse
	if err := json.NewDecoder(res.Body).Decode(&status); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if status.WatchCount != 1 || len(status.WatchedPaths) != 1 {
		t.Fatalf("expected one watch, got %+v", status)
	}

	missing := dir + "/nope"
	res = doRequest(t, mux, http.MethodPost, "/api/watch", fmt.Sprintf(`{"path":%q}`, missing), nil)
	if res.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for missing dir, got %d", res.Code)
	}
	if registry.Len() != 1 {
		t.Fatalf("expected failed watch to leave registry unchanged, got %d", registry.Len())
	}
}

func TestStatusReportsInertWatch(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	registry := watcher.NewRegistry()
	service := watcher.NewService(ctx, notify.NewMemorySink(), registry, watcher.Options{})
	t.Cleanup(func() {
		_ = registry.CloseAll()
	})
	mux := newTestMux(t, RouteOptions{Commands: serviceCommands{service}, Registry: registry})

	base, err := filepath.EvalSymlinks(t.TempDir())
	if err != nil {
		t.Fatalf("resolve temp dir: %v", err)
	}
	dir := filepath.Join(base, "gallery")
	if err := os.Mkdir(dir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if res := doRequest(t, mux, http.MethodPost, "/api/watch", fmt.Sprintf(`{"path":%q}`, dir), nil); res.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d: %s", res.Code, res.Body.String())
	}
	if err := os.RemoveAll(dir); err != nil {
		t.Fatalf("remove dir: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	var status statusResponse
	for {
		res := doRequest(t, mux, http.MethodGet, "/api/status", "", nil)
		if res.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", res.Code)
		}
		status = statusResponse{}
		if err := json.NewDecoder(res.Body).Decode(&status); err != nil {
			t.Fatalf("decode status: %v", err)
		}
		if len(status.Watches) == 1 && status.Watches[0].Inert {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("expected inert watch in status, got %+v", status)
		}
		time.Sleep(10 * time.Millisecond)
	}
	if status.Watches[0].Path != dir || status.WatchCount != 1 || status.Watcher.Inert != 1 {
		t.Fatalf("unexpected status %+v", status)
	}
}

type serviceCommands struct {
	service *watcher.Service
}

func (commands serviceCommands) Greet(name string) string { return name }

func (commands serviceCommands) FrontendReady() bool { return false }

func (commands serviceCommands) RevealInFileManager(string) error { return nil }

func (commands serviceCommands) WatchDirectory(ctx context.Context, path string) error {
	return commands.service.WatchDirectory(ctx, path)
}

func TestRevealEndpoint(t *testing.T) {
	commands := &fakeCommands{}
	mux := newTestMux(t, RouteOptions{Commands: commands})

	res := doRequest(t, mux, http.MethodPost, "/api/reveal", `{"path":"/tmp/a.png"}`, nil)
	if res.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", res.Code)
	}

	commands.revealErr = errors.New("open file location: no parent directory")
	res = doRequest(t, mux, http.MethodPost, "/api/reveal", `{"path":"a.png"}`, nil)
	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", res.Code)
	}
	if payload := decodeError(t, res); payload.Code != "reveal_failed" {
		t.Fatalf("expected reveal_failed, got %q", payload.Code)
	}
}

func TestReadyEndpointDeliversOnce(t *testing.T) {
	commands := &fakeCommands{ready: true}
	mux := newTestMux(t, RouteOptions{Commands: commands})

	for i, want := range []bool{true, false} {
		res := doRequest(t, mux, http.MethodPost, "/api/ready", "", nil)
		if res.Code != http.StatusOK {
			t.Fatalf("call %d: expected 200, got %d", i, res.Code)
		}
		var payload readyResponse
		if err := json.NewDecoder(res.Body).Decode(&payload); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if payload.Delivered != want {
			t.Fatalf("call %d: expected delivered=%t", i, want)
		}
	}
}

func TestGreetEndpoint(t *testing.T) {
	mux := newTestMux(t, RouteOptions{Commands: &fakeCommands{}})
	res := doRequest(t, mux, http.MethodGet, "/api/greet?name=Ada", "", nil)
	var payload greetResponse
	if err := json.NewDecoder(res.Body).Decode(&payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if payload.Message != "Hello, Ada! You've been greeted from mdview!" {
		t.Fatalf("unexpected greeting %q", payload.Message)
	}
}

func TestCommandsUnavailable(t *testing.T) {
	mux := newTestMux(t, RouteOptions{})
	res := doRequest(t, mux, http.MethodPost, "/api/ready", "", nil)
	if res.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", res.Code)
	}
}

func TestRestRequiresToken(t *testing.T) {
	mux := newTestMux(t, RouteOptions{Commands: &fakeCommands{}, AuthToken: "secret"})

	res := doRequest(t, mux, http.MethodGet, "/api/status", "", nil)
	if res.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", res.Code)
	}
	if res.Header().Get("Cache-Control") != cacheControlNoStore {
		t.Fatalf("expected no-store cache control on errors")
	}
	res = doRequest(t, mux, http.MethodGet, "/api/status", "", map[string]string{"Authorization": "Bearer secret"})
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200 with bearer token, got %d", res.Code)
	}
	res = doRequest(t, mux, http.MethodGet, "/api/status?token=secret", "", nil)
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200 with query token, got %d", res.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	registry := &metrics.Registry{}
	registry.IncWatchRequest()
	mux := newTestMux(t, RouteOptions{Metrics: registry})

	res := doRequest(t, mux, http.MethodGet, "/api/metrics", "", nil)
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
	if !strings.HasPrefix(res.Header().Get("Content-Type"), "text/plain") {
		t.Fatalf("unexpected content type %q", res.Header().Get("Content-Type"))
	}
	if !strings.Contains(res.Body.String(), "mdview_watch_requests_total 1") {
		t.Fatalf("missing watch counter:\n%s", res.Body.String())
	}

	res = doRequest(t, newTestMux(t, RouteOptions{}), http.MethodGet, "/api/metrics", "", nil)
	if res.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 without registry, got %d", res.Code)
	}
}

func TestLogsEndpointFilters(t *testing.T) {
	logger := logging.NewLoggerWithOutput(logging.NewLogBuffer(20), logging.LevelDebug, nil)
	logger.Debug("debug entry", nil)
	logger.Warn("warn entry", nil)
	logger.Error("error entry", nil)
	mux := newTestMux(t, RouteOptions{Logger: logger})

	res := doRequest(t, mux, http.MethodGet, "/api/logs?level=warning&limit=1", "", nil)
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
	var entries []logging.LogEntry
	if err := json.NewDecoder(res.Body).Decode(&entries); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(entries) != 1 || entries[0].Message != "error entry" {
		t.Fatalf("unexpected entries %+v", entries)
	}

	for _, query := range []string{"limit=0", "level=loud", "since=yesterday"} {
		if res := doRequest(t, mux, http.MethodGet, "/api/logs?"+query, "", nil); res.Code != http.StatusBadRequest {
			t.Fatalf("expected 400 for %s, got %d", query, res.Code)
		}
	}
}

func TestUnknownAPIRouteIsNotFound(t *testing.T) {
	mux := newTestMux(t, RouteOptions{})
	if res := doRequest(t, mux, http.MethodGet, "/api/nope", "", nil); res.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", res.Code)
	}
	res := doRequest(t, mux, http.MethodGet, "/", "", nil)
	if res.Code != http.StatusOK || !strings.Contains(res.Body.String(), "mdview ok") {
		t.Fatalf("unexpected root response %d %q", res.Code, res.Body.String())
	}
}
