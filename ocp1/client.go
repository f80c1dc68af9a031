package ocp1

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// ConnectionState represents the client connection state
type ConnectionState int32

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConnected
)

func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "unknown"
	}
}

// RequestKind names the operation behind a pending handle
type RequestKind uint8

const (
	RequestGetValue RequestKind = iota
	RequestSetValue
	RequestAddSubscription
	RequestRemoveSubscription
)

func (k RequestKind) String() string {
	switch k {
	case RequestGetValue:
		return "get-value"
	case RequestSetValue:
		return "set-value"
	case RequestAddSubscription:
		return "add-subscription"
	case RequestRemoveSubscription:
		return "remove-subscription"
	default:
		return fmt.Sprintf("request(%d)", k)
	}
}

type pendingRequest struct {
	def    CommandDefinition
	kind   RequestKind
	sentAt time.Time
	span   trace.Span
}

// Client is an OCP.1 controller session with a single device. It keeps
// the connection up while started, correlates responses with requests by
// handle and routes property change notifications to registered bindings.
//
// All state is guarded by one mutex. Callbacks run after it is released
// and may call back into the client.
type Client struct {
	opts      *clientOptions
	transport Transport
	metrics   *Metrics
	logger    *slog.Logger
	sessionID uuid.UUID

	mu         sync.Mutex
	address    string
	state      ConnectionState
	started    bool
	nextHandle uint32
	pending    map[uint32]*pendingRequest
	bindings   []CommandDefinition

	retryTimer *time.Timer
	retryGen   uint64

	connGen        uint64
	receiverCancel context.CancelFunc
	keepAliveTimer *time.Timer
	lastReceive    time.Time
}

// NewClient creates a new OCP.1 client. Without WithTransport the client
// speaks plain OCP.1 over TCP.
func NewClient(opts ...Option) (*Client, error) {
	options := defaultOptions()
	for _, opt := range opts {
		opt(options)
	}
	if options.connectTimeout <= 0 || options.retryInterval <= 0 {
		return nil, fmt.Errorf("ocp1: connect timeout and retry interval must be positive")
	}

	c := &Client{
		opts:       options,
		transport:  options.transport,
		metrics:    NewMetrics(),
		sessionID:  uuid.New(),
		address:    options.address,
		nextHandle: firstHandle,
		pending:    make(map[uint32]*pendingRequest),
	}
	if c.transport == nil {
		c.transport = NewTCPTransport()
	}
	c.logger = options.logger.With(slog.String("session", c.sessionID.String()))
	return c, nil
}

// SetEndpoint changes the device address used by the next connection
// attempt. The current connection, if any, is kept.
func (c *Client) SetEndpoint(host string, port int) {
	c.mu.Lock()
	c.address = net.JoinHostPort(host, strconv.Itoa(port))
	c.mu.Unlock()
}

// Endpoint returns the configured device address
func (c *Client) Endpoint() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.address
}

// SessionID identifies this client in logs and captures
func (c *Client) SessionID() uuid.UUID {
	return c.sessionID
}

// State returns the current connection state
func (c *Client) State() ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// IsStarted reports whether the client is trying to stay connected
func (c *Client) IsStarted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.started
}

// Metrics returns the client metrics
func (c *Client) Metrics() *Metrics {
	return c.metrics
}

// PendingCount returns the number of requests awaiting a response
func (c *Client) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// PendingHandles returns the outstanding handles in ascending order
func (c *Client) PendingHandles() []uint32 {
	c.mu.Lock()
	handles := make([]uint32, 0, len(c.pending))
	for h := range c.pending {
		handles = append(handles, h)
	}
	c.mu.Unlock()
	slices.Sort(handles)
	return handles
}

// Start makes the client keep a connection to the endpoint. One
// connection attempt is made immediately; if it fails the client retries
// at the retry interval until Stop is called. Start reports whether the
// client is connected on return.
func (c *Client) Start() bool {
	c.mu.Lock()
	if c.started {
		connected := c.state == StateConnected
		c.mu.Unlock()
		return connected
	}
	c.started = true

	connected := c.connectLocked()
	if !connected {
		c.state = StateConnecting
		c.armRetryLocked()
	}
	c.mu.Unlock()

	if connected {
		c.connectionEstablished()
	}
	return connected
}

// Stop closes the connection and cancels reconnection. It is safe to call
// in any state. The connection lost callback runs only if a connection
// was actually closed, which is also what Stop reports.
func (c *Client) Stop() bool {
	c.mu.Lock()
	wasConnected := c.state == StateConnected
	c.started = false
	c.stopRetryLocked()
	c.teardownLocked(errors.New("stopped"))
	c.state = StateDisconnected
	c.mu.Unlock()

	if wasConnected {
		c.metrics.Disconnects.Inc()
		c.logger.Info("disconnected")
		c.connectionLost()
	}
	return wasConnected
}

// connectLocked makes one bounded connection attempt
func (c *Client) connectLocked() bool {
	if c.address == "" {
		c.logger.Warn("no endpoint configured")
		return false
	}
	c.metrics.ConnectAttempts.Inc()

	ctx, cancel := context.WithTimeout(context.Background(), c.opts.connectTimeout)
	err := c.transport.Dial(ctx, c.address)
	cancel()
	if err != nil {
		c.metrics.ConnectFailures.Inc()
		c.logger.Debug("connect failed",
			slog.String("address", c.address),
			slog.String("error", err.Error()),
		)
		return false
	}

	c.metrics.ConnectSuccesses.Inc()
	c.stopRetryLocked()
	c.state = StateConnected
	c.connGen++
	c.lastReceive = time.Now()

	rctx, rcancel := context.WithCancel(context.Background())
	c.receiverCancel = rcancel
	go c.receiver(rctx, c.connGen)

	if c.opts.keepAlive > 0 {
		gen := c.connGen
		c.keepAliveTimer = time.AfterFunc(c.opts.keepAlive, func() { c.keepAliveTick(gen) })
	}

	c.logger.Info("connected", slog.String("address", c.address))
	return true
}

// teardownLocked releases the connection and everything tied to it
func (c *Client) teardownLocked(reason error) {
	c.connGen++
	if c.receiverCancel != nil {
		c.receiverCancel()
		c.receiverCancel = nil
	}
	if c.keepAliveTimer != nil {
		c.keepAliveTimer.Stop()
		c.keepAliveTimer = nil
	}
	if err := c.transport.Close(); err != nil {
		c.logger.Debug("close transport", slog.String("error", err.Error()))
	}
	for handle, p := range c.pending {
		p.span.RecordError(reason)
		p.span.SetStatus(codes.Error, reason.Error())
		p.span.End()
		delete(c.pending, handle)
	}
	c.metrics.PendingRequests.Set(0)
}

func (c *Client) armRetryLocked() {
	if c.retryTimer != nil {
		return
	}
	c.retryGen++
	gen := c.retryGen
	c.retryTimer = time.AfterFunc(c.opts.retryInterval, func() { c.retry(gen) })
}

func (c *Client) stopRetryLocked() {
	if c.retryTimer != nil {
		c.retryTimer.Stop()
		c.retryTimer = nil
	}
	c.retryGen++
}

// retry runs on the retry timer. A tick from a cancelled timer is ignored.
func (c *Client) retry(gen uint64) {
	c.mu.Lock()
	if gen != c.retryGen || !c.started || c.state == StateConnected {
		c.mu.Unlock()
		return
	}
	if c.connectLocked() {
		c.mu.Unlock()
		c.connectionEstablished()
		return
	}
	c.retryTimer.Reset(c.opts.retryInterval)
	c.mu.Unlock()
}

// receiver reads frames for one connection generation
func (c *Client) receiver(ctx context.Context, gen uint64) {
	for {
		frame, err := c.transport.Receive(ctx)
		if err != nil {
			c.dropConnection(gen, err)
			return
		}

		c.mu.Lock()
		current := gen == c.connGen
		if current {
			c.lastReceive = time.Now()
		}
		c.mu.Unlock()
		if !current {
			return
		}

		c.ProcessReceivedData(frame)
	}
}

// dropConnection handles an unsolicited loss of connection gen
func (c *Client) dropConnection(gen uint64, cause error) {
	c.mu.Lock()
	if gen != c.connGen || c.state != StateConnected {
		c.mu.Unlock()
		return
	}
	c.teardownLocked(cause)
	if c.started {
		c.state = StateConnecting
		c.armRetryLocked()
	} else {
		c.state = StateDisconnected
	}
	c.mu.Unlock()

	c.metrics.Disconnects.Inc()
	c.logger.Info("connection lost", slog.String("error", cause.Error()))
	c.connectionLost()
}

// keepAliveTick sends a KeepAlive and checks that the device is still
// talking to us
func (c *Client) keepAliveTick(gen uint64) {
	interval := c.opts.keepAlive

	c.mu.Lock()
	if gen != c.connGen || c.state != StateConnected {
		c.mu.Unlock()
		return
	}
	silent := time.Since(c.lastReceive)
	if silent > 3*interval {
		c.mu.Unlock()
		c.metrics.OnlineTimeouts.Inc()
		c.dropConnection(gen, fmt.Errorf("no traffic for %s", silent.Round(time.Millisecond)))
		return
	}
	c.keepAliveTimer.Reset(interval)
	c.mu.Unlock()

	seconds := uint16(max(1, interval/time.Second))
	if err := c.sendFrame((&KeepAlive{HeartbeatSeconds: seconds}).Encode()); err != nil {
		c.logger.Debug("send keepalive", slog.String("error", err.Error()))
		return
	}
	c.metrics.KeepAlivesSent.Inc()
}

// sendFrame writes one frame if connected
func (c *Client) sendFrame(frame []byte) error {
	if c.State() != StateConnected {
		return ErrNotConnected
	}
	ctx, cancel := context.WithTimeout(context.Background(), c.opts.writeTimeout)
	defer cancel()

	if c.opts.observer != nil {
		c.opts.observer(DirectionOut, frame)
	}
	if err := c.transport.Send(ctx, frame); err != nil {
		return err
	}
	c.metrics.BytesSent.Add(int64(len(frame)))
	return nil
}

// SendData writes a raw frame. It fails with ErrNotConnected while no
// connection is up.
func (c *Client) SendData(frame []byte) error {
	return c.sendFrame(frame)
}

// RegisterBinding makes notifications for def reach the update handler.
// Registering the same property twice keeps a single entry.
func (c *Client) RegisterBinding(def CommandDefinition) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, b := range c.bindings {
		if b.MatchesObject(def) {
			return
		}
	}
	c.bindings = append(c.bindings, def)
	c.metrics.Bindings.Set(int64(len(c.bindings)))
}

// UnregisterBinding removes def from notification routing
func (c *Client) UnregisterBinding(def CommandDefinition) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.bindings = slices.DeleteFunc(c.bindings, def.MatchesObject)
	c.metrics.Bindings.Set(int64(len(c.bindings)))
}

// Bindings returns the registered bindings
func (c *Client) Bindings() []CommandDefinition {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.bindings)
}

// GetValue requests the current value of the bound property
func (c *Client) GetValue(def CommandDefinition) (uint32, error) {
	return c.SendRequest(def, RequestGetValue, Variant{})
}

// SetValue asks the device to change the bound property to v
func (c *Client) SetValue(def CommandDefinition, v Variant) (uint32, error) {
	return c.SendRequest(def, RequestSetValue, v)
}

// Subscribe registers def and asks the device for change notifications
func (c *Client) Subscribe(def CommandDefinition) (uint32, error) {
	c.RegisterBinding(def)
	return c.SendRequest(def, RequestAddSubscription, Variant{})
}

// Unsubscribe unregisters def and withdraws the device subscription
func (c *Client) Unsubscribe(def CommandDefinition) (uint32, error) {
	c.UnregisterBinding(def)
	return c.SendRequest(def, RequestRemoveSubscription, Variant{})
}

// SendRequest builds the command of the given kind for def, assigns it a
// handle and sends it. value is only used by RequestSetValue.
//
// The handle is returned even when the command could not be sent; the
// error then tells the caller and no response will be awaited for it.
func (c *Client) SendRequest(def CommandDefinition, kind RequestKind, value Variant) (uint32, error) {
	var cmd CommandDefinition
	switch kind {
	case RequestGetValue:
		cmd = def.GetValueCommand()
	case RequestSetValue:
		var err error
		if cmd, err = def.SetValueCommand(value); err != nil {
			return InvalidSessionID, err
		}
	case RequestAddSubscription:
		cmd = def.AddSubscriptionCommand()
	case RequestRemoveSubscription:
		cmd = def.RemoveSubscriptionCommand()
	default:
		return InvalidSessionID, fmt.Errorf("ocp1: unknown request kind %d", kind)
	}

	_, span := c.opts.tracer.Start(context.Background(), "ocp1."+kind.String(),
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("ocp1.ono", fmt.Sprintf("0x%08x", def.TargetONo)),
			attribute.Int("ocp1.property_level", int(def.PropDefLevel)),
			attribute.Int("ocp1.property_index", int(def.PropIndex)),
		),
	)

	c.mu.Lock()
	handle := c.allocHandleLocked()
	c.pending[handle] = &pendingRequest{def: def, kind: kind, sentAt: time.Now(), span: span}
	c.metrics.PendingRequests.Set(int64(len(c.pending)))
	c.mu.Unlock()
	span.SetAttributes(attribute.Int64("ocp1.handle", int64(handle)))

	err := c.sendFrame(cmd.Command(handle).Encode())
	if err != nil {
		c.mu.Lock()
		if _, ok := c.pending[handle]; ok {
			delete(c.pending, handle)
			c.metrics.PendingRequests.Set(int64(len(c.pending)))
		}
		c.mu.Unlock()
		c.metrics.SendFailures.Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, "not sent")
		span.End()
		if errors.Is(err, ErrNotConnected) {
			return handle, err
		}
		return handle, fmt.Errorf("send %s: %w", kind, err)
	}

	c.metrics.RequestsSent.Inc()
	c.logger.Debug("request sent",
		slog.Uint64("handle", uint64(handle)),
		slog.String("kind", kind.String()),
		slog.String("binding", def.String()),
	)
	return handle, nil
}

// allocHandleLocked returns the next handle, never 0 or 1
func (c *Client) allocHandleLocked() uint32 {
	if c.nextHandle < firstHandle {
		c.nextHandle = firstHandle
	}
	h := c.nextHandle
	c.nextHandle++
	return h
}

// ProcessReceivedData decodes one frame and dispatches it. It reports
// whether the frame was a valid OCP.1 message; malformed frames are
// dropped and counted.
func (c *Client) ProcessReceivedData(frame []byte) bool {
	c.metrics.BytesReceived.Add(int64(len(frame)))
	c.metrics.RecordActivity()
	if c.opts.observer != nil {
		c.opts.observer(DirectionIn, frame)
	}

	msg, err := Decode(frame)
	if err != nil {
		c.metrics.FramesDropped.Inc()
		level := slog.LevelDebug
		if c.opts.logLimiter.Allow() {
			level = slog.LevelWarn
		}
		c.logger.Log(context.Background(), level, "dropped frame", slog.Int("bytes", len(frame)), slog.String("error", err.Error()))
		return false
	}

	switch m := msg.(type) {
	case *Notification:
		c.handleNotification(m)
	case *Response:
		c.handleResponse(m)
	case *KeepAlive:
		c.metrics.KeepAlivesReceived.Inc()
		c.mu.Lock()
		c.lastReceive = time.Now()
		c.mu.Unlock()
	case *Command:
		c.logger.Debug("ignoring command from device", slog.Uint64("handle", uint64(m.Handle)))
	}
	return true
}

func (c *Client) handleNotification(m *Notification) {
	c.metrics.NotificationsReceived.Inc()

	c.mu.Lock()
	var def CommandDefinition
	found := false
	for _, b := range c.bindings {
		if b.MatchesProperty(m.EmitterONo, m.PropDefLevel, m.PropIndex) {
			def, found = b, true
			break
		}
	}
	c.mu.Unlock()

	if !found {
		c.metrics.UnmatchedNotifications.Inc()
		c.report(fmt.Errorf("%w: ono 0x%08x property %d.%d", ErrUnmatchedNotification, m.EmitterONo, m.PropDefLevel, m.PropIndex))
		return
	}

	value, err := def.ValueFromData(m.ParamCount, m.Value)
	if err != nil {
		c.report(fmt.Errorf("notification for %s: %w", def, err))
		return
	}
	if c.opts.onUpdate != nil {
		c.opts.onUpdate(def, value)
	}
}

func (c *Client) handleResponse(m *Response) {
	c.metrics.ResponsesReceived.Inc()

	c.mu.Lock()
	p, ok := c.pending[m.Handle]
	if ok {
		delete(c.pending, m.Handle)
		c.metrics.PendingRequests.Set(int64(len(c.pending)))
	}
	c.mu.Unlock()

	if !ok {
		c.metrics.UnknownHandles.Inc()
		c.report(fmt.Errorf("%w: %d", ErrUnknownHandle, m.Handle))
		return
	}

	c.metrics.RequestLatency.Record(time.Since(p.sentAt))
	p.span.SetAttributes(attribute.String("ocp1.status", m.Status.String()))
	defer p.span.End()

	if m.Status != StatusOK {
		c.metrics.RequestsFailed.Inc()
		p.span.SetStatus(codes.Error, m.Status.String())
		c.report(&StatusError{Handle: m.Handle, ONo: p.def.TargetONo, Status: m.Status})
		return
	}
	c.metrics.RequestsSucceeded.Inc()

	if m.ParamCount == 0 {
		c.logger.Debug("request succeeded",
			slog.Uint64("handle", uint64(m.Handle)),
			slog.String("kind", p.kind.String()),
		)
		return
	}

	value, err := p.def.ValueFromData(m.ParamCount, m.Params)
	if err != nil {
		p.span.RecordError(err)
		c.report(fmt.Errorf("response %d for %s: %w", m.Handle, p.def, err))
		return
	}
	if c.opts.onUpdate != nil {
		c.opts.onUpdate(p.def, value)
	}
}

// report logs an asynchronous failure and passes it to the error handler.
// Logging is rate limited; the handler sees every error.
func (c *Client) report(err error) {
	if c.opts.logLimiter.Allow() {
		var se *StatusError
		if errors.As(err, &se) {
			c.logger.Warn("request failed",
				slog.Uint64("handle", uint64(se.Handle)),
				slog.String("status", se.Status.String()),
				slog.Int("code", int(se.Status)),
			)
		} else {
			c.logger.Warn("dropped message", slog.String("error", err.Error()))
		}
	}
	if c.opts.onError != nil {
		c.opts.onError(err)
	}
}

func (c *Client) connectionEstablished() {
	if c.opts.onEstablished != nil {
		c.opts.onEstablished()
	}
}

func (c *Client) connectionLost() {
	if c.opts.onLost != nil {
		c.opts.onLost()
	}
}
