package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"mdview/internal/logging"

	"github.com/gorilla/websocket"
)

const (
	wsReadBufferSize  = 1024
	wsWriteBufferSize = 1024
	wsWriteTimeout    = 10 * time.Second
	wsMaxCloseReason  = 123
)

var (
	errWSNilConn          = errors.New("websocket connection is nil")
	errWSNilOutput        = errors.New("websocket output channel is nil")
	errUnexpectedWSBinary = errors.New("unexpected websocket payload type")
)

// wsStreamConfig describes how values from Output become websocket frames.
// Encode returns false to skip a value. Send defaults to a JSON text frame.
type wsStreamConfig[T any] struct {
	Output       <-chan T
	Encode       func(T) (any, bool)
	Send         func(*websocket.Conn, any) error
	WriteTimeout time.Duration
	Logger       *logging.Logger
}

// wsWriter owns the write side of a connection; gorilla allows one concurrent
// writer, so every frame after startup goes through its goroutine.
type wsWriter struct {
	conn     *websocket.Conn
	stopOnce sync.Once
	done     chan struct{}
	finished chan struct{}
}

func (writer *wsWriter) Stop() {
	if writer == nil {
		return
	}
	writer.stopOnce.Do(func() {
		close(writer.done)
	})
}

// Finished is closed once the write goroutine has returned.
func (writer *wsWriter) Finished() <-chan struct{} {
	return writer.finished
}

func upgradeWebSocket(w http.ResponseWriter, r *http.Request, allowedOrigins []string) (*websocket.Conn, error) {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  wsReadBufferSize,
		WriteBufferSize: wsWriteBufferSize,
		CheckOrigin: func(r *http.Request) bool {
			return isOriginAllowed(r, allowedOrigins)
		},
	}
	return upgrader.Upgrade(w, r, nil)
}

// startWSWriter forwards config.Output to conn until Output closes, a write
// fails or Stop is called.
func startWSWriter[T any](conn *websocket.Conn, config wsStreamConfig[T]) (*wsWriter, error) {
	if conn == nil {
		return nil, errWSNilConn
	}
	if config.Output == nil {
		return nil, errWSNilOutput
	}
	timeout := config.WriteTimeout
	if timeout <= 0 {
		timeout = wsWriteTimeout
	}
	encode := config.Encode
	if encode == nil {
		encode = func(value T) (any, bool) { return value, true }
	}
	send := config.Send
	if send == nil {
		send = sendJSONFrame
	}

	writer := &wsWriter{
		conn:     conn,
		done:     make(chan struct{}),
		finished: make(chan struct{}),
	}
	go func() {
		defer close(writer.finished)
		for {
			var value T
			var ok bool
			select {
			case <-writer.done:
				return
			case value, ok = <-config.Output:
				if !ok {
					return
				}
			}
			frame, keep := encode(value)
			if !keep {
				continue
			}
			if err := conn.SetWriteDeadline(time.Now().Add(timeout)); err != nil {
				return
			}
			if err := send(conn, frame); err != nil {
				config.Logger.Debug("websocket write failed", map[string]string{
					"remote_addr": conn.RemoteAddr().String(),
					"error":       err.Error(),
				})
				return
			}
		}
	}()
	return writer, nil
}

// readUntilClosed drains client frames until the peer goes away, handing text
// frames to onText when it is set.
func readUntilClosed(conn *websocket.Conn, onText func([]byte)) {
	for {
		msgType, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if msgType == websocket.TextMessage && onText != nil {
			onText(msg)
		}
	}
}

// rejectWS refuses a request before the upgrade with a plain HTTP error.
func rejectWS(w http.ResponseWriter, r *http.Request, logger *logging.Logger, status int, reason string) {
	logWSFailure(logger, r, status, reason, nil)
	http.Error(w, reason, status)
}

// authorizeWS rejects the request with 401 when the token does not match.
func authorizeWS(w http.ResponseWriter, r *http.Request, token string, logger *logging.Logger) bool {
	if validateToken(r, token) {
		return true
	}
	rejectWS(w, r, logger, http.StatusUnauthorized, "unauthorized")
	return false
}

type wsErrorPayload struct {
	Type      string `json:"type"`
	Message   string `json:"message"`
	Status    int    `json:"status"`
	CloseCode int    `json:"close_code,omitempty"`
}

// closeWS tells an upgraded client why the stream ends: an error envelope,
// then a close frame carrying the matching close code.
func closeWS(conn *websocket.Conn, r *http.Request, logger *logging.Logger, status int, reason string, cause error) {
	logWSFailure(logger, r, status, reason, cause)
	closeCode := closeCodeForStatus(status)
	deadline := time.Now().Add(wsWriteTimeout)
	_ = conn.SetWriteDeadline(deadline)
	_ = conn.WriteJSON(wsErrorPayload{
		Type:      "error",
		Message:   reason,
		Status:    status,
		CloseCode: closeCode,
	})
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(closeCode, truncateCloseReason(reason)), deadline)
	_ = conn.Close()
}

func logWSFailure(logger *logging.Logger, r *http.Request, status int, reason string, cause error) {
	if logger == nil || r == nil {
		return
	}
	fields := map[string]string{
		"path":       r.URL.Path,
		"status":     strconv.Itoa(status),
		"close_code": strconv.Itoa(closeCodeForStatus(status)),
		"message":    reason,
	}
	if r.RemoteAddr != "" {
		fields["remote_addr"] = r.RemoteAddr
	}
	if cause != nil {
		fields["error"] = cause.Error()
	}
	if status >= http.StatusInternalServerError {
		logger.Error("websocket error", fields)
		return
	}
	logger.Warn("websocket error", fields)
}

func closeCodeForStatus(status int) int {
	switch {
	case status == http.StatusBadRequest:
		return websocket.CloseProtocolError
	case status == http.StatusServiceUnavailable:
		return websocket.CloseTryAgainLater
	case status >= http.StatusBadRequest && status < http.StatusInternalServerError:
		return websocket.ClosePolicyViolation
	default:
		return websocket.CloseInternalServerErr
	}
}

func truncateCloseReason(reason string) string {
	reason = strings.TrimSpace(reason)
	if len(reason) <= wsMaxCloseReason {
		return reason
	}
	return reason[:wsMaxCloseReason]
}

func sendJSONFrame(conn *websocket.Conn, frame any) error {
	return conn.WriteJSON(frame)
}

func sendBinaryFrame(conn *websocket.Conn, frame any) error {
	data, ok := frame.([]byte)
	if !ok {
		return errUnexpectedWSBinary
	}
	return conn.WriteMessage(websocket.BinaryMessage, data)
}
