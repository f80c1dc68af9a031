// Package transport provides the byte carriers for OCP.1 frames
package transport

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"
)

const (
	syncByte   = 0x3B
	headerSize = 10
)

// ErrNotOpen is returned when sending or receiving without a connection
var ErrNotOpen = errors.New("transport not open")

// frameLength validates a frame header and returns the frame size
// including the sync byte, or 0 if the header is not plausible
func frameLength(header []byte, maxFrame int) int {
	if len(header) < headerSize || header[0] != syncByte {
		return 0
	}
	if binary.BigEndian.Uint16(header[1:3]) != 1 || header[7] > 4 || binary.BigEndian.Uint16(header[8:10]) == 0 {
		return 0
	}
	size := binary.BigEndian.Uint32(header[3:7])
	if size < headerSize || int64(size)+1 > int64(maxFrame) {
		return 0
	}
	return int(size) + 1
}

// TCPTransport carries OCP.1 over a TCP stream. Frames are delimited by
// the size field of their header; garbage between frames is skipped up to
// the next plausible header.
type TCPTransport struct {
	mu           sync.RWMutex
	conn         net.Conn
	reader       *bufio.Reader
	maxFrame     int
	writeTimeout time.Duration

	readMu sync.Mutex
}

// NewTCPTransport creates a TCP transport accepting frames up to maxFrame bytes
func NewTCPTransport(maxFrame int) *TCPTransport {
	return &TCPTransport{
		maxFrame:     maxFrame,
		writeTimeout: 3 * time.Second,
	}
}

// NewTCPTransportFromConn wraps an accepted connection
func NewTCPTransportFromConn(conn net.Conn, maxFrame int) *TCPTransport {
	t := NewTCPTransport(maxFrame)
	t.conn = conn
	t.reader = bufio.NewReader(conn)
	return t
}

// Dial connects to address (host:port). Any previous connection is closed.
func (t *TCPTransport) Dial(ctx context.Context, address string) error {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", address)
	if err != nil {
		return fmt.Errorf("dial %s: %w", address, err)
	}
	if tcp, ok := conn.(*net.TCPConn); ok {
		tcp.SetNoDelay(true)
	}

	t.mu.Lock()
	old := t.conn
	t.conn = conn
	t.reader = bufio.NewReader(conn)
	t.mu.Unlock()

	if old != nil {
		old.Close()
	}
	return nil
}

// Close closes the connection. Closing a closed transport is a no-op.
func (t *TCPTransport) Close() error {
	t.mu.Lock()
	conn := t.conn
	t.conn = nil
	t.mu.Unlock()

	if conn == nil {
		return nil
	}
	return conn.Close()
}

// IsConnected reports whether a connection is open
func (t *TCPTransport) IsConnected() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.conn != nil
}

// RemoteAddr returns the peer address, or nil
func (t *TCPTransport) RemoteAddr() net.Addr {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.conn == nil {
		return nil
	}
	return t.conn.RemoteAddr()
}

// Send writes one frame
func (t *TCPTransport) Send(ctx context.Context, frame []byte) error {
	t.mu.RLock()
	conn := t.conn
	writeTimeout := t.writeTimeout
	t.mu.RUnlock()

	if conn == nil {
		return ErrNotOpen
	}

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(writeTimeout)
	}
	if err := conn.SetWriteDeadline(deadline); err != nil {
		return fmt.Errorf("set write deadline: %w", err)
	}

	n, err := conn.Write(frame)
	if err != nil {
		return fmt.Errorf("write TCP: %w", err)
	}
	if n != len(frame) {
		return fmt.Errorf("short write: %d of %d bytes", n, len(frame))
	}
	return nil
}

// Receive blocks until one complete frame has been read. Cancelling ctx
// interrupts the read.
func (t *TCPTransport) Receive(ctx context.Context) ([]byte, error) {
	t.readMu.Lock()
	defer t.readMu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	t.mu.RLock()
	conn := t.conn
	reader := t.reader
	t.mu.RUnlock()

	if conn == nil {
		return nil, ErrNotOpen
	}

	deadline, _ := ctx.Deadline()
	if err := conn.SetReadDeadline(deadline); err != nil {
		return nil, fmt.Errorf("set read deadline: %w", err)
	}
	stop := context.AfterFunc(ctx, func() {
		conn.SetReadDeadline(time.Now())
	})
	defer stop()

	for {
		b, err := reader.ReadByte()
		if err != nil {
			return nil, readError(ctx, err)
		}
		if b != syncByte {
			continue
		}
		if err := reader.UnreadByte(); err != nil {
			return nil, err
		}

		header, err := reader.Peek(headerSize)
		if err != nil {
			return nil, readError(ctx, err)
		}
		n := frameLength(header, t.maxFrame)
		if n == 0 {
			// Not a frame start, skip the sync byte and resynchronise
			reader.Discard(1)
			continue
		}

		frame := make([]byte, n)
		if _, err := io.ReadFull(reader, frame); err != nil {
			return nil, readError(ctx, err)
		}
		return frame, nil
	}
}

func readError(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if errors.Is(err, io.EOF) {
		return fmt.Errorf("connection closed by peer: %w", err)
	}
	return fmt.Errorf("read TCP: %w", err)
}
