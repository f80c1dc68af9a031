package transport

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// WebSocketTransport carries OCP.1 frames in binary WebSocket messages,
// as used by AES70 devices that expose an _ocaws._tcp service. A message
// may hold several frames; they are returned one by one.
type WebSocketTransport struct {
	mu       sync.RWMutex
	conn     *websocket.Conn
	maxFrame int

	writeMu sync.Mutex

	readMu  sync.Mutex
	pending [][]byte
}

// NewWebSocketTransport creates a WebSocket transport
func NewWebSocketTransport(maxFrame int) *WebSocketTransport {
	return &WebSocketTransport{maxFrame: maxFrame}
}

// NewWebSocketTransportFromConn wraps an upgraded server-side connection
func NewWebSocketTransportFromConn(conn *websocket.Conn, maxFrame int) *WebSocketTransport {
	conn.SetReadLimit(int64(maxFrame) * 4)
	return &WebSocketTransport{conn: conn, maxFrame: maxFrame}
}

func websocketURL(address string) string {
	if strings.HasPrefix(address, "ws://") || strings.HasPrefix(address, "wss://") {
		return address
	}
	return "ws://" + address + "/"
}

// Dial opens the WebSocket connection. address is a ws:// or wss:// URL
// or a bare host:port.
func (t *WebSocketTransport) Dial(ctx context.Context, address string) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, websocketURL(address), nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", address, err)
	}
	conn.SetReadLimit(int64(t.maxFrame) * 4)

	t.mu.Lock()
	old := t.conn
	t.conn = conn
	t.mu.Unlock()

	t.readMu.Lock()
	t.pending = nil
	t.readMu.Unlock()

	if old != nil {
		old.Close()
	}
	return nil
}

// Close closes the connection
func (t *WebSocketTransport) Close() error {
	t.mu.Lock()
	conn := t.conn
	t.conn = nil
	t.mu.Unlock()

	if conn == nil {
		return nil
	}
	t.writeMu.Lock()
	conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(100*time.Millisecond))
	t.writeMu.Unlock()
	return conn.Close()
}

// IsConnected reports whether a connection is open
func (t *WebSocketTransport) IsConnected() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.conn != nil
}

// Send writes one frame as a binary message
func (t *WebSocketTransport) Send(ctx context.Context, frame []byte) error {
	t.mu.RLock()
	conn := t.conn
	t.mu.RUnlock()

	if conn == nil {
		return ErrNotOpen
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(3 * time.Second)
	}
	conn.SetWriteDeadline(deadline)
	if err := conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
		return fmt.Errorf("write websocket: %w", err)
	}
	return nil
}

// Receive returns the next frame, reading a new message when none is
// buffered. Non-binary messages are ignored.
func (t *WebSocketTransport) Receive(ctx context.Context) ([]byte, error) {
	t.readMu.Lock()
	defer t.readMu.Unlock()

	for len(t.pending) == 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		t.mu.RLock()
		conn := t.conn
		t.mu.RUnlock()
		if conn == nil {
			return nil, ErrNotOpen
		}

		deadline, _ := ctx.Deadline()
		conn.SetReadDeadline(deadline)
		stop := context.AfterFunc(ctx, func() {
			conn.SetReadDeadline(time.Now())
		})
		kind, data, err := conn.ReadMessage()
		stop()
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			return nil, fmt.Errorf("read websocket: %w", err)
		}
		if kind != websocket.BinaryMessage {
			continue
		}
		t.pending = t.split(data)
	}

	frame := t.pending[0]
	t.pending = t.pending[1:]
	return frame, nil
}

// split cuts a message into frames. A trailing partial or implausible
// frame is returned as is so the decoder can report it.
func (t *WebSocketTransport) split(data []byte) [][]byte {
	var frames [][]byte
	for len(data) > 0 {
		n := frameLength(data, t.maxFrame)
		if n == 0 || n > len(data) {
			frames = append(frames, data)
			break
		}
		frames = append(frames, data[:n:n])
		data = data[n:]
	}
	return frames
}
