package simulator

import (
	"context"
	"io"
	"log/slog"
	"net"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgeo/drivers/ocp1/ocp1"
)

var (
	gain = ocp1.NewDefinition(0x20010502, ocp1.DataTypeFloat32, 4, 1)
	mute = ocp1.NewDefinition(0x20010501, ocp1.DataTypeUint8, 4, 1)
	name = ocp1.NewDefinition(0x20010507, ocp1.DataTypeString, 5, 1)
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type updates struct {
	mu     sync.Mutex
	values map[uint32]ocp1.Variant
	errs   []error
}

func (u *updates) options() []ocp1.Option {
	return []ocp1.Option{
		ocp1.WithUpdateHandler(func(def ocp1.CommandDefinition, v ocp1.Variant) {
			u.mu.Lock()
			u.values[def.TargetONo] = v
			u.mu.Unlock()
		}),
		ocp1.WithErrorHandler(func(err error) {
			u.mu.Lock()
			u.errs = append(u.errs, err)
			u.mu.Unlock()
		}),
	}
}

func (u *updates) value(ono uint32) (ocp1.Variant, bool) {
	u.mu.Lock()
	defer u.mu.Unlock()
	v, ok := u.values[ono]
	return v, ok
}

func (u *updates) errors() []error {
	u.mu.Lock()
	defer u.mu.Unlock()
	return append([]error(nil), u.errs...)
}

func startTCP(t *testing.T, sim *Simulator) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		sim.Serve(ctx, ln)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
		sim.DropSessions()
	})
	return ln.Addr().String()
}

func newClient(t *testing.T, u *updates, opts ...ocp1.Option) *ocp1.Client {
	t.Helper()
	all := append([]ocp1.Option{
		ocp1.WithLogger(quietLogger()),
		ocp1.WithConnectTimeout(time.Second),
		ocp1.WithRetryInterval(20 * time.Millisecond),
	}, u.options()...)
	c, err := ocp1.NewClient(append(all, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { c.Stop() })
	return c
}

func TestGetSetAndNotify(t *testing.T) {
	sim := New([]ocp1.CommandDefinition{gain, mute, name}, WithLogger(quietLogger()))
	addr := startTCP(t, sim)

	u := &updates{values: make(map[uint32]ocp1.Variant)}
	c := newClient(t, u, ocp1.WithAddress(addr))
	require.True(t, c.Start())

	_, err := c.Subscribe(mute)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return c.PendingCount() == 0 }, time.Second, 5*time.Millisecond)

	require.NoError(t, sim.Set(mute, ocp1.NewUint8(1)))
	require.Eventually(t, func() bool {
		v, ok := u.value(mute.TargetONo)
		return ok && v.Equal(ocp1.NewUint8(1))
	}, time.Second, 5*time.Millisecond)

	_, err = c.SetValue(gain, ocp1.NewFloat32(-3.5))
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		v, ok := sim.Value(gain)
		return ok && v.Equal(ocp1.NewFloat32(-3.5))
	}, time.Second, 5*time.Millisecond)

	_, err = c.GetValue(gain)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		v, ok := u.value(gain.TargetONo)
		return ok && v.Equal(ocp1.NewFloat32(-3.5))
	}, time.Second, 5*time.Millisecond)

	_, err = c.SetValue(name, ocp1.NewString("Bühne"))
	require.NoError(t, err)
	_, err = c.GetValue(name)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		v, ok := u.value(name.TargetONo)
		if !ok {
			return false
		}
		s, _ := v.ToString()
		return s == "Bühne"
	}, time.Second, 5*time.Millisecond)

	assert.Empty(t, u.errors())
	assert.Equal(t, int64(1), sim.Stats().Notifications.Value())
}

func TestGetReportsRange(t *testing.T) {
	sim := New([]ocp1.CommandDefinition{gain}, WithLogger(quietLogger()))
	require.NoError(t, sim.Set(gain, ocp1.NewFloat32(-6)))
	require.NoError(t, sim.SetRange(gain, ocp1.NewFloat32(-120), ocp1.NewFloat32(10)))
	addr := startTCP(t, sim)

	u := &updates{values: make(map[uint32]ocp1.Variant)}
	c := newClient(t, u, ocp1.WithAddress(addr))
	require.True(t, c.Start())

	_, err := c.GetValue(gain)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		v, ok := u.value(gain.TargetONo)
		return ok && v.Equal(ocp1.NewFloat32(-6))
	}, time.Second, 5*time.Millisecond)
}

func TestStatusErrors(t *testing.T) {
	sim := New([]ocp1.CommandDefinition{gain}, WithLogger(quietLogger()))
	addr := startTCP(t, sim)

	u := &updates{values: make(map[uint32]ocp1.Variant)}
	c := newClient(t, u, ocp1.WithAddress(addr))
	require.True(t, c.Start())

	_, err := c.GetValue(ocp1.NewDefinition(0x7777, ocp1.DataTypeFloat32, 4, 1))
	require.NoError(t, err)
	_, err = c.GetValue(ocp1.NewDefinition(gain.TargetONo, ocp1.DataTypeFloat32, 9, 1))
	require.NoError(t, err)
	_, err = c.SetValue(ocp1.NewDefinition(gain.TargetONo, ocp1.DataTypeUint8, 4, 1), ocp1.NewUint8(1))
	require.NoError(t, err)

	require.Eventually(t, func() bool { return len(u.errors()) == 3 }, time.Second, 5*time.Millisecond)
	errs := u.errors()
	assert.True(t, ocp1.IsStatus(errs[0], ocp1.StatusBadONo))
	assert.True(t, ocp1.IsStatus(errs[1], ocp1.StatusBadMethod))
	assert.True(t, ocp1.IsStatus(errs[2], ocp1.StatusParameterError))
}

func TestUnsubscribeStopsNotifications(t *testing.T) {
	sim := New([]ocp1.CommandDefinition{mute}, WithLogger(quietLogger()))
	addr := startTCP(t, sim)

	u := &updates{values: make(map[uint32]ocp1.Variant)}
	c := newClient(t, u, ocp1.WithAddress(addr))
	require.True(t, c.Start())

	_, err := c.Subscribe(mute)
	require.NoError(t, err)
	_, err = c.Unsubscribe(mute)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return c.PendingCount() == 0 }, time.Second, 5*time.Millisecond)

	require.NoError(t, sim.Set(mute, ocp1.NewUint8(1)))
	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, sim.Stats().Notifications.Value())
	assert.Empty(t, u.errors())
}

func TestClientReconnectsAfterDrop(t *testing.T) {
	sim := New([]ocp1.CommandDefinition{gain}, WithLogger(quietLogger()))
	addr := startTCP(t, sim)

	u := &updates{values: make(map[uint32]ocp1.Variant)}
	var lost atomic.Int32
	c := newClient(t, u, ocp1.WithAddress(addr), ocp1.WithOnConnectionLost(func() { lost.Add(1) }))
	require.True(t, c.Start())
	require.Eventually(t, func() bool { return sim.SessionCount() == 1 }, time.Second, 5*time.Millisecond)

	sim.DropSessions()
	require.Eventually(t, func() bool { return lost.Load() == 1 }, time.Second, 5*time.Millisecond)

	require.Eventually(t, func() bool { return c.State() == ocp1.StateConnected }, time.Second, 5*time.Millisecond)
	assert.GreaterOrEqual(t, c.Metrics().ConnectSuccesses.Value(), int64(2))
}

func TestKeepAliveKeepsSessionOnline(t *testing.T) {
	sim := New([]ocp1.CommandDefinition{gain}, WithLogger(quietLogger()), WithKeepAlive(10*time.Millisecond))
	addr := startTCP(t, sim)

	u := &updates{values: make(map[uint32]ocp1.Variant)}
	c := newClient(t, u, ocp1.WithAddress(addr), ocp1.WithKeepAlive(10*time.Millisecond))
	require.True(t, c.Start())

	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, ocp1.StateConnected, c.State())
	assert.Zero(t, c.Metrics().OnlineTimeouts.Value())
	assert.Positive(t, c.Metrics().KeepAlivesReceived.Value())
	assert.Positive(t, sim.Stats().KeepAlives.Value())
}

func TestWebSocket(t *testing.T) {
	sim := New([]ocp1.CommandDefinition{gain}, WithLogger(quietLogger()))
	require.NoError(t, sim.Set(gain, ocp1.NewFloat32(2)))
	srv := httptest.NewServer(sim)
	defer srv.Close()

	u := &updates{values: make(map[uint32]ocp1.Variant)}
	c := newClient(t, u,
		ocp1.WithTransport(ocp1.NewWebSocketTransport()),
		ocp1.WithAddress("ws://"+strings.TrimPrefix(srv.URL, "http://")),
	)
	require.True(t, c.Start())

	_, err := c.GetValue(gain)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		v, ok := u.value(gain.TargetONo)
		return ok && v.Equal(ocp1.NewFloat32(2))
	}, time.Second, 5*time.Millisecond)
}
