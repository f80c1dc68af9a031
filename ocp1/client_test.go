// Copyright 2025 Edgeo SCADA
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package ocp1

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeTransport is an in-memory device link
type fakeTransport struct {
	mu        sync.Mutex
	reachable bool
	connected bool
	dials     int
	sent      [][]byte
	incoming  chan []byte
	closed    chan struct{}
}

func newFakeTransport(reachable bool) *fakeTransport {
	return &fakeTransport{
		reachable: reachable,
		incoming:  make(chan []byte, 16),
		closed:    make(chan struct{}),
	}
}

func (f *fakeTransport) Dial(ctx context.Context, address string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dials++
	if !f.reachable {
		return errors.New("connection refused")
	}
	f.connected = true
	f.closed = make(chan struct{})
	return nil
}

func (f *fakeTransport) Send(ctx context.Context, frame []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.connected {
		return errors.New("not connected")
	}
	f.sent = append(f.sent, append([]byte(nil), frame...))
	return nil
}

func (f *fakeTransport) Receive(ctx context.Context) ([]byte, error) {
	f.mu.Lock()
	closed := f.closed
	connected := f.connected
	f.mu.Unlock()
	if !connected {
		return nil, io.EOF
	}
	select {
	case frame := <-f.incoming:
		return frame, nil
	case <-closed:
		return nil, io.EOF
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.connected {
		f.connected = false
		close(f.closed)
	}
	return nil
}

func (f *fakeTransport) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeTransport) setReachable(v bool) {
	f.mu.Lock()
	f.reachable = v
	f.mu.Unlock()
}

func (f *fakeTransport) dialCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.dials
}

func (f *fakeTransport) sentFrames() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.sent...)
}

type update struct {
	def   CommandDefinition
	value Variant
}

type recorder struct {
	mu      sync.Mutex
	updates []update
	errs    []error
	est     atomic.Int32
	lost    atomic.Int32
}

func (r *recorder) options() []Option {
	return []Option{
		WithUpdateHandler(func(def CommandDefinition, v Variant) {
			r.mu.Lock()
			r.updates = append(r.updates, update{def, v})
			r.mu.Unlock()
		}),
		WithErrorHandler(func(err error) {
			r.mu.Lock()
			r.errs = append(r.errs, err)
			r.mu.Unlock()
		}),
		WithOnConnectionEstablished(func() { r.est.Add(1) }),
		WithOnConnectionLost(func() { r.lost.Add(1) }),
	}
}

func (r *recorder) snapshot() ([]update, []error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]update(nil), r.updates...), append([]error(nil), r.errs...)
}

func newTestClient(t *testing.T, tr *fakeTransport, rec *recorder, extra ...Option) *Client {
	t.Helper()
	opts := []Option{
		WithAddress("device:50014"),
		WithTransport(tr),
		WithRetryInterval(20 * time.Millisecond),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	}
	opts = append(opts, rec.options()...)
	opts = append(opts, extra...)
	c, err := NewClient(opts...)
	require.NoError(t, err)
	t.Cleanup(func() { c.Stop() })
	return c
}

func TestHandlesAreMonotonic(t *testing.T) {
	tr := newFakeTransport(true)
	c := newTestClient(t, tr, &recorder{})
	require.True(t, c.Start())

	def := NewDefinition(0x100, DataTypeFloat32, 4, 1)
	for i := 0; i < 10; i++ {
		handle, err := c.GetValue(def)
		require.NoError(t, err)
		assert.Equal(t, uint32(2+i), handle)
	}
	assert.Equal(t, 10, c.PendingCount())
	assert.Len(t, tr.sentFrames(), 10)
}

func TestHandleWrapSkipsReservedIDs(t *testing.T) {
	c := newTestClient(t, newFakeTransport(true), &recorder{})
	c.nextHandle = 0xFFFFFFFF

	assert.Equal(t, uint32(0xFFFFFFFF), c.allocHandleLocked())
	assert.Equal(t, uint32(2), c.allocHandleLocked())
	assert.Equal(t, uint32(3), c.allocHandleLocked())
}

func TestSendWhileDisconnected(t *testing.T) {
	tr := newFakeTransport(false)
	c := newTestClient(t, tr, &recorder{})

	handle, err := c.GetValue(NewDefinition(0x100, DataTypeFloat32, 4, 1))
	assert.Equal(t, uint32(2), handle)
	assert.True(t, IsNotConnected(err))
	assert.Zero(t, c.PendingCount())
	assert.Empty(t, tr.sentFrames())

	handle, _ = c.GetValue(NewDefinition(0x100, DataTypeFloat32, 4, 1))
	assert.Equal(t, uint32(3), handle)
}

func TestGetValueEndToEnd(t *testing.T) {
	tr := newFakeTransport(true)
	rec := &recorder{}
	c := newTestClient(t, tr, rec)
	require.True(t, c.Start())

	def := NewDefinition(0x00020001, DataTypeFloat32, 4, 1)
	handle, err := c.GetValue(def)
	require.NoError(t, err)

	frames := tr.sentFrames()
	require.Len(t, frames, 1)
	assert.Equal(t, []byte{0x3B, 0x00, 0x01}, frames[0][:3])
	assert.Equal(t, byte(1), frames[0][7])

	resp := &Response{Handle: handle, Status: StatusOK, ParamCount: 1, Params: DataFromFloat32(-3.5)}
	assert.True(t, c.ProcessReceivedData(resp.Encode()))

	updates, errs := rec.snapshot()
	require.Len(t, updates, 1)
	assert.Empty(t, errs)
	assert.True(t, updates[0].def.MatchesObject(def))
	f, err := updates[0].value.ToFloat32()
	require.NoError(t, err)
	assert.Equal(t, float32(-3.5), f)
	assert.Zero(t, c.PendingCount())

	// a second response for the same handle is unknown
	assert.True(t, c.ProcessReceivedData(resp.Encode()))
	updates, errs = rec.snapshot()
	assert.Len(t, updates, 1)
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], ErrUnknownHandle)
	assert.Equal(t, int64(1), c.Metrics().UnknownHandles.Value())
}

func TestResponseStatusIsReported(t *testing.T) {
	tr := newFakeTransport(true)
	rec := &recorder{}
	c := newTestClient(t, tr, rec)
	require.True(t, c.Start())

	handle, err := c.SetValue(NewDefinition(0x100, DataTypeFloat32, 4, 1), NewFloat32(1))
	require.NoError(t, err)

	c.ProcessReceivedData((&Response{Handle: handle, Status: StatusParameterOutOfRange}).Encode())

	updates, errs := rec.snapshot()
	assert.Empty(t, updates)
	require.Len(t, errs, 1)
	assert.True(t, IsStatus(errs[0], StatusParameterOutOfRange))
	assert.ErrorIs(t, errs[0], &StatusError{})
	assert.Zero(t, c.PendingCount())
	assert.Equal(t, int64(1), c.Metrics().RequestsFailed.Value())
}

func TestEmptySuccessResolvesSilently(t *testing.T) {
	tr := newFakeTransport(true)
	rec := &recorder{}
	c := newTestClient(t, tr, rec)
	require.True(t, c.Start())

	handle, err := c.Subscribe(NewDefinition(0x100, DataTypeFloat32, 4, 1))
	require.NoError(t, err)
	c.ProcessReceivedData((&Response{Handle: handle, Status: StatusOK}).Encode())

	updates, errs := rec.snapshot()
	assert.Empty(t, updates)
	assert.Empty(t, errs)
	assert.Zero(t, c.PendingCount())
	assert.Equal(t, int64(1), c.Metrics().RequestsSucceeded.Value())
}

func TestNotificationRouting(t *testing.T) {
	tr := newFakeTransport(true)
	rec := &recorder{}
	c := newTestClient(t, tr, rec)
	require.True(t, c.Start())

	mute := NewDefinition(0x10000201, DataTypeUint8, 4, 1)
	gain := NewDefinition(0x10000202, DataTypeFloat32, 4, 1)
	_, err := c.Subscribe(mute)
	require.NoError(t, err)
	c.RegisterBinding(gain)
	c.RegisterBinding(gain)
	assert.Len(t, c.Bindings(), 2)

	sent := tr.sentFrames()
	require.Len(t, sent, 1)
	msg, err := Decode(sent[0])
	require.NoError(t, err)
	assert.Equal(t, ONoSubscriptionManager, msg.(*Command).TargetONo)

	c.ProcessReceivedData(NewNotification(0x10000202, 4, 1, DataFromFloat32(-6)).Encode())
	c.ProcessReceivedData(NewNotification(0x10000201, 4, 1, []byte{2}).Encode())
	c.ProcessReceivedData(NewNotification(0x10000203, 4, 1, []byte{1}).Encode())

	updates, errs := rec.snapshot()
	require.Len(t, updates, 2)
	assert.True(t, updates[0].def.MatchesObject(gain))
	assert.True(t, updates[0].value.Equal(NewFloat32(-6)))
	assert.True(t, updates[1].def.MatchesObject(mute))
	assert.True(t, updates[1].value.Equal(NewUint8(2)))
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], ErrUnmatchedNotification)

	_, err = c.Unsubscribe(mute)
	require.NoError(t, err)
	assert.Len(t, c.Bindings(), 1)
}

func TestMalformedFramesAreDropped(t *testing.T) {
	rec := &recorder{}
	c := newTestClient(t, newFakeTransport(true), rec)

	assert.False(t, c.ProcessReceivedData([]byte{0x3B, 0, 1}))
	assert.False(t, c.ProcessReceivedData([]byte("GET / HTTP/1.1\r\n\r\n")))
	assert.Equal(t, int64(2), c.Metrics().FramesDropped.Value())

	assert.True(t, c.ProcessReceivedData((&KeepAlive{HeartbeatSeconds: 1}).Encode()))
	assert.Equal(t, int64(1), c.Metrics().KeepAlivesReceived.Value())
}

func TestReconnectUntilReachable(t *testing.T) {
	tr := newFakeTransport(false)
	rec := &recorder{}
	c := newTestClient(t, tr, rec)

	assert.False(t, c.Start())
	assert.Equal(t, StateConnecting, c.State())

	assert.Eventually(t, func() bool { return tr.dialCount() >= 3 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, StateConnecting, c.State())

	tr.setReachable(true)
	assert.Eventually(t, func() bool { return c.State() == StateConnected }, time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(1), rec.est.Load())

	dials := tr.dialCount()
	time.Sleep(80 * time.Millisecond)
	assert.Equal(t, dials, tr.dialCount(), "retry timer must stop once connected")
	assert.Equal(t, int64(dials), c.Metrics().ConnectAttempts.Value())
}

func TestConnectionLossReconnects(t *testing.T) {
	tr := newFakeTransport(true)
	rec := &recorder{}
	c := newTestClient(t, tr, rec)
	require.True(t, c.Start())

	_, err := c.GetValue(NewDefinition(0x100, DataTypeFloat32, 4, 1))
	require.NoError(t, err)

	tr.setReachable(false)
	tr.Close()

	assert.Eventually(t, func() bool { return rec.lost.Load() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, StateConnecting, c.State())
	assert.Zero(t, c.PendingCount())

	tr.setReachable(true)
	assert.Eventually(t, func() bool { return c.State() == StateConnected }, time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(2), rec.est.Load())
}

func TestStopWhileConnecting(t *testing.T) {
	tr := newFakeTransport(false)
	rec := &recorder{}
	c := newTestClient(t, tr, rec)

	c.Start()
	assert.False(t, c.Stop())
	assert.Equal(t, StateDisconnected, c.State())
	assert.False(t, c.IsStarted())

	dials := tr.dialCount()
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, dials, tr.dialCount(), "no retry after stop")
	assert.Zero(t, rec.lost.Load())
}

func TestStopWhileConnected(t *testing.T) {
	tr := newFakeTransport(true)
	rec := &recorder{}
	c := newTestClient(t, tr, rec)
	require.True(t, c.Start())

	_, err := c.GetValue(NewDefinition(0x100, DataTypeFloat32, 4, 1))
	require.NoError(t, err)

	assert.True(t, c.Stop())
	assert.False(t, c.Stop())
	assert.Equal(t, StateDisconnected, c.State())
	assert.Zero(t, c.PendingCount())
	assert.Equal(t, int32(1), rec.lost.Load())
	assert.False(t, tr.IsConnected())
}

func TestStartTwiceReportsState(t *testing.T) {
	tr := newFakeTransport(true)
	rec := &recorder{}
	c := newTestClient(t, tr, rec)

	require.True(t, c.Start())
	assert.True(t, c.Start())
	assert.Equal(t, 1, tr.dialCount())
	assert.Equal(t, int32(1), rec.est.Load())

	down := newFakeTransport(false)
	c2 := newTestClient(t, down, &recorder{})
	assert.False(t, c2.Start())
	assert.False(t, c2.Start())
	assert.Equal(t, StateConnecting, c2.State())
}

func TestStartWithoutEndpoint(t *testing.T) {
	c, err := NewClient(
		WithTransport(newFakeTransport(true)),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	require.NoError(t, err)
	defer c.Stop()

	assert.False(t, c.Start())
	c.SetEndpoint("127.0.0.1", 50014)
	assert.Equal(t, "127.0.0.1:50014", c.Endpoint())
}

func TestKeepAliveTimeout(t *testing.T) {
	tr := newFakeTransport(true)
	rec := &recorder{}
	c := newTestClient(t, tr, rec, WithKeepAlive(10*time.Millisecond), WithRetryInterval(time.Hour))
	require.True(t, c.Start())

	assert.Eventually(t, func() bool { return len(tr.sentFrames()) > 0 }, time.Second, 2*time.Millisecond)
	msg, err := Decode(tr.sentFrames()[0])
	require.NoError(t, err)
	assert.Equal(t, MessageKeepAlive, msg.Type())

	assert.Eventually(t, func() bool { return rec.lost.Load() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, int64(1), c.Metrics().OnlineTimeouts.Value())
	assert.Equal(t, StateConnecting, c.State())
}

func TestFrameObserver(t *testing.T) {
	tr := newFakeTransport(true)
	var in, out atomic.Int32
	c := newTestClient(t, tr, &recorder{}, WithFrameObserver(func(dir Direction, frame []byte) {
		if dir == DirectionIn {
			in.Add(1)
		} else {
			out.Add(1)
		}
	}))
	require.True(t, c.Start())

	_, err := c.GetValue(NewDefinition(0x100, DataTypeFloat32, 4, 1))
	require.NoError(t, err)
	tr.incoming <- (&KeepAlive{HeartbeatSeconds: 1}).Encode()

	assert.Eventually(t, func() bool { return in.Load() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(1), out.Load())
}
