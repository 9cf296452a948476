package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"mdview/internal/logging"

	"github.com/gorilla/websocket"
)

const logSnapshotLimit = 200

// LogsHandler streams log entries over a websocket, starting with a snapshot
// of the recent buffer. Clients change the minimum level with {"level": "warning"}.
type LogsHandler struct {
	Logger         *logging.Logger
	AuthToken      string
	AllowedOrigins []string
}

type logFilterMessage struct {
	Level string `json:"level"`
}

type levelFilter struct {
	mu    sync.RWMutex
	level logging.Level
}

func (f *levelFilter) Get() logging.Level {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.level
}

func (f *levelFilter) Set(level logging.Level) {
	f.mu.Lock()
	f.level = level
	f.mu.Unlock()
}

func (h *LogsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !authorizeWS(w, r, h.AuthToken, h.Logger) {
		return
	}

	filter := &levelFilter{}
	if rawLevel := r.URL.Query().Get("level"); rawLevel != "" {
		if level, ok := logging.ParseLevel(rawLevel); ok {
			filter.Set(level)
		}
	}

	output, cancel := h.Logger.Subscribe()
	defer cancel()
	if output == nil {
		rejectWS(w, r, h.Logger, http.StatusServiceUnavailable, "log stream unavailable")
		return
	}
	snapshot := h.Logger.Buffer().Recent(logSnapshotLimit, "")

	conn, err := upgradeWebSocket(w, r, h.AllowedOrigins)
	if err != nil {
		logWSFailure(h.Logger, r, http.StatusBadRequest, "websocket upgrade failed", err)
		return
	}
	defer conn.Close()

	// The snapshot goes out before the writer starts so frames never interleave.
	if err := writeLogSnapshot(conn, snapshot, filter.Get()); err != nil {
		return
	}

	writer, err := startWSWriter(conn, wsStreamConfig[logging.LogEntry]{
		Output: output,
		Logger: h.Logger,
		Encode: func(entry logging.LogEntry) (any, bool) {
			return entry, logging.LevelAtLeast(entry.Level, filter.Get())
		},
	})
	if err != nil {
		closeWS(conn, r, h.Logger, http.StatusInternalServerError, "log stream unavailable", err)
		return
	}
	defer writer.Stop()

	readUntilClosed(conn, func(msg []byte) {
		var payload logFilterMessage
		if err := json.Unmarshal(msg, &payload); err != nil {
			return
		}
		level, ok := logging.ParseLevel(payload.Level)
		if !ok {
			level = ""
		}
		filter.Set(level)
	})
}

func writeLogSnapshot(conn *websocket.Conn, entries []logging.LogEntry, minLevel logging.Level) error {
	deadline := time.Now().Add(wsWriteTimeout)
	for _, entry := range entries {
		if !logging.LevelAtLeast(entry.Level, minLevel) {
			continue
		}
		if err := conn.SetWriteDeadline(deadline); err != nil {
			return err
		}
		if err := conn.WriteJSON(entry); err != nil {
			return err
		}
	}
	return nil
}
