package transport

import (
	"context"
	"encoding/binary"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// keepAliveFrame builds an 11 byte KeepAlive frame
func keepAliveFrame(seconds uint16) []byte {
	b := []byte{syncByte, 0, 1, 0, 0, 0, 10, 4, 0, 1}
	return binary.BigEndian.AppendUint16(b, seconds)
}

func listen(t *testing.T) net.Listener {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })
	return ln
}

func TestFrameLength(t *testing.T) {
	frame := keepAliveFrame(1)
	assert.Equal(t, 11, frameLength(frame, 1024))
	assert.Equal(t, 0, frameLength(frame[:9], 1024))
	assert.Equal(t, 0, frameLength(frame, 10))

	bad := append([]byte(nil), frame...)
	bad[7] = 9
	assert.Equal(t, 0, frameLength(bad, 1024))

	bad = append([]byte(nil), frame...)
	binary.BigEndian.PutUint32(bad[3:], 3)
	assert.Equal(t, 0, frameLength(bad, 1024))
}

func TestTCPFraming(t *testing.T) {
	ln := listen(t)

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		// garbage, a false sync byte, then two frames in one write
		stream := []byte{0x00, 0xFF, syncByte, 0x07}
		stream = append(stream, keepAliveFrame(1)...)
		stream = append(stream, keepAliveFrame(2)...)
		conn.Write(stream[:7])
		time.Sleep(10 * time.Millisecond)
		conn.Write(stream[7:])
		time.Sleep(100 * time.Millisecond)
	}()

	tr := NewTCPTransport(1024)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, tr.Dial(ctx, ln.Addr().String()))
	defer tr.Close()
	assert.True(t, tr.IsConnected())
	assert.NotNil(t, tr.RemoteAddr())

	frame, err := tr.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, keepAliveFrame(1), frame)

	frame, err = tr.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, keepAliveFrame(2), frame)

	_, err = tr.Receive(ctx)
	assert.Error(t, err)
}

func TestTCPSendReceive(t *testing.T) {
	ln := listen(t)
	accepted := make(chan *TCPTransport, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		accepted <- NewTCPTransportFromConn(conn, 1024)
	}()

	client := NewTCPTransport(1024)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, client.Dial(ctx, ln.Addr().String()))
	defer client.Close()

	server := <-accepted
	defer server.Close()

	require.NoError(t, client.Send(ctx, keepAliveFrame(5)))
	frame, err := server.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, keepAliveFrame(5), frame)
}

func TestTCPReceiveCancel(t *testing.T) {
	ln := listen(t)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		time.Sleep(500 * time.Millisecond)
		conn.Close()
	}()

	tr := NewTCPTransport(1024)
	require.NoError(t, tr.Dial(context.Background(), ln.Addr().String()))
	defer tr.Close()

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	start := time.Now()
	_, err := tr.Receive(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), 400*time.Millisecond)
}

func TestTCPClosed(t *testing.T) {
	tr := NewTCPTransport(1024)
	assert.False(t, tr.IsConnected())
	assert.NoError(t, tr.Close())
	assert.ErrorIs(t, tr.Send(context.Background(), keepAliveFrame(1)), ErrNotOpen)
	_, err := tr.Receive(context.Background())
	assert.ErrorIs(t, err, ErrNotOpen)
	assert.Nil(t, tr.RemoteAddr())
}

func TestTCPDialRefused(t *testing.T) {
	ln := listen(t)
	addr := ln.Addr().String()
	ln.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	assert.Error(t, NewTCPTransport(1024).Dial(ctx, addr))
}
