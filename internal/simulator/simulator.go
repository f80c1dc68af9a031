// Package simulator implements an OCP.1 device that serves a property
// store. It answers GetValue, SetValue and subscription commands and sends
// property change notifications to subscribed controllers.
package simulator

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/edgeo/drivers/ocp1/internal/transport"
	"github.com/edgeo/drivers/ocp1/ocp1"
)

// propKey addresses a property the way commands do: object number and
// class level
type propKey struct {
	ono   uint32
	level uint16
}

type property struct {
	def   ocp1.CommandDefinition
	value []byte
	min   []byte
	max   []byte
}

// Stats counts simulator traffic
type Stats struct {
	Sessions      ocp1.Gauge
	Commands      ocp1.Counter
	Notifications ocp1.Counter
	KeepAlives    ocp1.Counter
	Rejected      ocp1.Counter
}

// Option configures a Simulator
type Option func(*Simulator)

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Simulator) {
		s.logger = logger
	}
}

// WithKeepAlive makes the device send a KeepAlive every interval
func WithKeepAlive(interval time.Duration) Option {
	return func(s *Simulator) {
		s.keepAlive = interval
	}
}

// Simulator is an in-process OCP.1 device
type Simulator struct {
	logger    *slog.Logger
	keepAlive time.Duration
	stats     Stats
	upgrader  websocket.Upgrader

	mu       sync.Mutex
	props    map[propKey]*property
	sessions map[*session]struct{}
}

// New creates a simulator serving the given properties, each initialised
// to the zero value of its type
func New(defs []ocp1.CommandDefinition, opts ...Option) *Simulator {
	s := &Simulator{
		logger:   slog.Default(),
		props:    make(map[propKey]*property, len(defs)),
		sessions: make(map[*session]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	for _, def := range defs {
		s.Define(def)
	}
	return s
}

// Stats returns the traffic counters
func (s *Simulator) Stats() *Stats {
	return &s.stats
}

// Define adds a property. An existing property keeps its value.
func (s *Simulator) Define(def ocp1.CommandDefinition) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := propKey{def.TargetONo, def.PropDefLevel}
	if _, ok := s.props[k]; ok {
		return
	}
	s.props[k] = &property{def: def, value: zeroValue(def.DataType)}
}

func zeroValue(t ocp1.DataType) []byte {
	switch {
	case t.FixedSize() > 0:
		return make([]byte, t.FixedSize())
	case t == ocp1.DataTypeDBPosition:
		return ocp1.DataFromPosition(0, 0, 0)
	default:
		// empty string or blob
		return []byte{0, 0}
	}
}

// Set changes a property as if the device had changed it locally, and
// notifies subscribers
func (s *Simulator) Set(def ocp1.CommandDefinition, v ocp1.Variant) error {
	data, err := v.ToParamData(def.DataType)
	if err != nil {
		return err
	}
	return s.store(propKey{def.TargetONo, def.PropDefLevel}, data)
}

// SetRange attaches limits that GetValue reports after the value
func (s *Simulator) SetRange(def ocp1.CommandDefinition, min, max ocp1.Variant) error {
	lo, err := min.ToParamData(def.DataType)
	if err != nil {
		return err
	}
	hi, err := max.ToParamData(def.DataType)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.props[propKey{def.TargetONo, def.PropDefLevel}]
	if !ok {
		return fmt.Errorf("simulator: no property %s", def)
	}
	p.min, p.max = lo, hi
	return nil
}

// Value returns the current value of a property
func (s *Simulator) Value(def ocp1.CommandDefinition) (ocp1.Variant, bool) {
	s.mu.Lock()
	p, ok := s.props[propKey{def.TargetONo, def.PropDefLevel}]
	var data []byte
	if ok {
		data = bytes.Clone(p.value)
	}
	s.mu.Unlock()
	if !ok {
		return ocp1.Variant{}, false
	}
	v, err := ocp1.VariantFromData(data, def.DataType)
	return v, err == nil
}

// store writes a value and fans out notifications
func (s *Simulator) store(k propKey, data []byte) error {
	s.mu.Lock()
	p, ok := s.props[k]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("simulator: no property 0x%08x level %d", k.ono, k.level)
	}
	if !validWidth(p.def.DataType, data) {
		s.mu.Unlock()
		return fmt.Errorf("simulator: %d bytes is not a %s", len(data), p.def.DataType)
	}
	changed := !bytes.Equal(p.value, data)
	p.value = bytes.Clone(data)
	def := p.def

	var targets []*session
	if changed {
		for sess := range s.sessions {
			if sess.subscribed(k.ono) {
				targets = append(targets, sess)
			}
		}
	}
	s.mu.Unlock()

	if len(targets) == 0 {
		return nil
	}
	frame := ocp1.NewNotification(def.TargetONo, def.PropDefLevel, def.PropIndex, data).Encode()
	for _, sess := range targets {
		if err := sess.send(frame); err != nil {
			s.logger.Debug("notification not delivered", slog.String("remote", sess.remote), slog.String("error", err.Error()))
			continue
		}
		s.stats.Notifications.Inc()
	}
	return nil
}

func validWidth(t ocp1.DataType, data []byte) bool {
	if n := t.FixedSize(); n > 0 {
		return len(data) == n
	}
	switch t {
	case ocp1.DataTypeDBPosition:
		return len(data) == 12 || len(data) == 24
	case ocp1.DataTypeString, ocp1.DataTypeBlob:
		return len(data) >= 2
	}
	return len(data) > 0
}

// Serve accepts controllers on ln until ctx is cancelled or the listener
// fails
func (s *Simulator) Serve(ctx context.Context, ln net.Listener) error {
	stop := context.AfterFunc(ctx, func() { ln.Close() })
	defer stop()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}
		t := transport.NewTCPTransportFromConn(conn, ocp1.MaxMessageSize)
		go s.run(ctx, t, conn.RemoteAddr().String())
	}
}

// ListenAndServe listens on addr and serves controllers
func (s *Simulator) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.logger.Info("simulator listening", slog.String("address", ln.Addr().String()))
	return s.Serve(ctx, ln)
}

// ServeHTTP upgrades the request to a WebSocket and serves one controller
// on it
func (s *Simulator) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}
	t := transport.NewWebSocketTransportFromConn(conn, ocp1.MaxMessageSize)
	s.run(r.Context(), t, r.RemoteAddr)
}

// DropSessions closes every controller connection
func (s *Simulator) DropSessions() {
	s.mu.Lock()
	sessions := make([]*session, 0, len(s.sessions))
	for sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.mu.Unlock()
	for _, sess := range sessions {
		sess.close()
	}
}

// SessionCount returns the number of connected controllers
func (s *Simulator) SessionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// frameTransport is the server side of a connection
type frameTransport interface {
	Send(ctx context.Context, frame []byte) error
	Receive(ctx context.Context) ([]byte, error)
	Close() error
}

type session struct {
	t      frameTransport
	remote string
	ctx    context.Context
	cancel context.CancelFunc

	mu   sync.Mutex
	subs map[uint32]struct{}
}

func (sess *session) subscribed(ono uint32) bool {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	_, ok := sess.subs[ono]
	return ok
}

func (sess *session) send(frame []byte) error {
	ctx, cancel := context.WithTimeout(sess.ctx, 3*time.Second)
	defer cancel()
	return sess.t.Send(ctx, frame)
}

func (sess *session) close() {
	sess.cancel()
	sess.t.Close()
}

// run serves one controller until it disconnects
func (s *Simulator) run(ctx context.Context, t frameTransport, remote string) {
	ctx, cancel := context.WithCancel(ctx)
	sess := &session{t: t, remote: remote, ctx: ctx, cancel: cancel, subs: make(map[uint32]struct{})}

	s.mu.Lock()
	s.sessions[sess] = struct{}{}
	s.stats.Sessions.Set(int64(len(s.sessions)))
	s.mu.Unlock()

	logger := s.logger.With(slog.String("remote", remote))
	logger.Info("controller connected")

	defer func() {
		sess.close()
		s.mu.Lock()
		delete(s.sessions, sess)
		s.stats.Sessions.Set(int64(len(s.sessions)))
		s.mu.Unlock()
		logger.Info("controller disconnected")
	}()

	if s.keepAlive > 0 {
		go s.keepAliveLoop(sess)
	}

	for {
		frame, err := t.Receive(ctx)
		if err != nil {
			return
		}
		msg, err := ocp1.Decode(frame)
		if err != nil {
			s.stats.Rejected.Inc()
			logger.Debug("dropped frame", slog.String("error", err.Error()))
			continue
		}

		switch m := msg.(type) {
		case *ocp1.Command:
			s.stats.Commands.Inc()
			resp := s.handleCommand(sess, m)
			if m.ResponseRequired {
				if err := sess.send(resp.Encode()); err != nil {
					return
				}
			}
		case *ocp1.KeepAlive:
			s.stats.KeepAlives.Inc()
			if s.keepAlive == 0 {
				if err := sess.send((&ocp1.KeepAlive{HeartbeatSeconds: m.HeartbeatSeconds}).Encode()); err != nil {
					return
				}
			}
		default:
			logger.Debug("ignoring message", slog.String("type", msg.Type().String()))
		}
	}
}

func (s *Simulator) keepAliveLoop(sess *session) {
	ticker := time.NewTicker(s.keepAlive)
	defer ticker.Stop()
	seconds := uint16(max(1, s.keepAlive/time.Second))
	for {
		select {
		case <-sess.ctx.Done():
			return
		case <-ticker.C:
			if err := sess.send((&ocp1.KeepAlive{HeartbeatSeconds: seconds}).Encode()); err != nil {
				return
			}
		}
	}
}

func (s *Simulator) handleCommand(sess *session, m *ocp1.Command) *ocp1.Response {
	resp := &ocp1.Response{Handle: m.Handle, Status: ocp1.StatusOK}

	if m.TargetONo == ocp1.ONoSubscriptionManager {
		resp.Status = s.handleSubscription(sess, m)
		return resp
	}

	k := propKey{m.TargetONo, m.MethodDefLevel}
	s.mu.Lock()
	p, ok := s.props[k]
	known := ok
	if !ok {
		for pk := range s.props {
			if pk.ono == m.TargetONo {
				known = true
				break
			}
		}
	}
	var value, lo, hi []byte
	if ok {
		value, lo, hi = bytes.Clone(p.value), bytes.Clone(p.min), bytes.Clone(p.max)
	}
	s.mu.Unlock()

	switch {
	case !known:
		resp.Status = ocp1.StatusBadONo
	case !ok:
		resp.Status = ocp1.StatusBadMethod
	case m.MethodIndex == ocp1.MethodGetValue:
		resp.ParamCount = 1
		resp.Params = value
		if lo != nil && hi != nil {
			resp.ParamCount = 3
			resp.Params = append(append(value, lo...), hi...)
		}
	case m.MethodIndex == ocp1.MethodSetValue:
		if m.ParamCount != 1 {
			resp.Status = ocp1.StatusParameterError
			break
		}
		if err := s.store(k, m.Params); err != nil {
			resp.Status = ocp1.StatusParameterError
		}
	default:
		resp.Status = ocp1.StatusBadMethod
	}
	return resp
}

// handleSubscription serves AddSubscription and RemoveSubscription. Only
// the emitter object number is used; a subscription covers every property
// of that object.
func (s *Simulator) handleSubscription(sess *session, m *ocp1.Command) ocp1.Status {
	if m.MethodDefLevel != ocp1.SubscriptionManagerDefLevel || len(m.Params) < 16 {
		return ocp1.StatusBadMethod
	}
	emitter := binary.BigEndian.Uint32(m.Params[0:4])

	s.mu.Lock()
	known := false
	for pk := range s.props {
		if pk.ono == emitter {
			known = true
			break
		}
	}
	s.mu.Unlock()
	if !known {
		return ocp1.StatusBadONo
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()
	switch m.MethodIndex {
	case ocp1.MethodAddSubscription:
		sess.subs[emitter] = struct{}{}
	case ocp1.MethodRemoveSubscription:
		delete(sess.subs, emitter)
	default:
		return ocp1.StatusBadMethod
	}
	return ocp1.StatusOK
}
