package session

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/parleyhq/parley/errors"
	"github.com/parleyhq/parley/protocol"
)

// writeDeadline bounds how long a single frame write may block on a
// slow client before the write is abandoned.
const writeDeadline = 10 * time.Second

// wsTransport adapts a gorilla websocket connection to the Transport
// interface. Writes are serialized with a mutex; gorilla panics on
// concurrent writes to the same connection.
type wsTransport struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
	closed  atomic.Bool
}

// NewWebSocketTransport wraps an upgraded websocket connection
func NewWebSocketTransport(conn *websocket.Conn) Transport {
	return &wsTransport{conn: conn}
}

// WriteFrame serializes and writes one frame as a text message
func (t *wsTransport) WriteFrame(f *protocol.Frame) error {
	if t.closed.Load() {
		return errors.ErrTransportClosed
	}

	data, err := f.Encode()
	if err != nil {
		return err
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	_ = t.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
	if err := t.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return errors.WrapTransient(err, "wsTransport", "WriteFrame", "write message")
	}
	return nil
}

// Close sends a close control frame with the given code and closes the
// underlying connection. Repeated calls are no-ops.
func (t *wsTransport) Close(code int, reason string) error {
	if !t.closed.CompareAndSwap(false, true) {
		return nil
	}

	t.writeMu.Lock()
	_ = t.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
	// Best effort: the peer may already be gone.
	_ = t.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason))
	t.writeMu.Unlock()

	return t.conn.Close()
}

// IsOpen reports whether the transport accepts writes
func (t *wsTransport) IsOpen() bool {
	return !t.closed.Load()
}
