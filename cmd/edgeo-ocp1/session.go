package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/edgeo/drivers/ocp1/capture"
	"github.com/edgeo/drivers/ocp1/catalog"
	"github.com/edgeo/drivers/ocp1/internal/bridge"
	"github.com/edgeo/drivers/ocp1/ocp1"
)

// session is a connected client plus the bookkeeping the one-shot
// commands need to wait for answers
type session struct {
	client   *ocp1.Client
	catalog  *catalog.Catalog
	values   *bridge.Bridge
	recorder *capture.Recorder

	connected chan struct{}
	once      sync.Once

	mu       sync.Mutex
	results  map[uint32]*result
	watchers []func(def ocp1.CommandDefinition, v ocp1.Variant)
}

// result is the outcome of one request sent through the session
type result struct {
	ono    uint32
	status chan ocp1.Status
}

// loadCatalog returns the DS100 catalog merged with --catalog
func loadCatalog() (*catalog.Catalog, error) {
	cat := catalog.DS100()
	if catalogFile == "" {
		return cat, nil
	}
	extra, err := catalog.Load(catalogFile)
	if err != nil {
		return nil, err
	}
	cat.Merge(extra)
	return cat, nil
}

// deviceAddress is the dial address for --host and --port
func deviceAddress() (string, error) {
	if host == "" {
		return "", errors.New("device address is required (-H or --host)")
	}
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	if useWebSocket {
		return "ws://" + addr + "/", nil
	}
	return addr, nil
}

// newSession creates a client for the configured device. Call connect to
// start it.
func newSession(cat *catalog.Catalog, extra ...ocp1.Option) (*session, error) {
	addr, err := deviceAddress()
	if err != nil {
		return nil, err
	}

	s := &session{
		catalog:   cat,
		values:    bridge.New(cat, logger, timeout),
		connected: make(chan struct{}),
		results:   make(map[uint32]*result),
	}

	opts := []ocp1.Option{
		ocp1.WithAddress(addr),
		ocp1.WithConnectTimeout(timeout),
		ocp1.WithRetryInterval(retryInterval),
		ocp1.WithLogger(logger),
		ocp1.WithUpdateHandler(s.handleUpdate),
		ocp1.WithErrorHandler(s.handleError),
		ocp1.WithOnConnectionEstablished(func() {
			s.once.Do(func() { close(s.connected) })
		}),
		ocp1.WithOnConnectionLost(func() {
			logger.Debug("connection lost", slog.String("address", addr))
		}),
	}
	if useWebSocket {
		opts = append(opts, ocp1.WithTransport(ocp1.NewWebSocketTransport()))
	}
	if keepAlive > 0 {
		opts = append(opts, ocp1.WithKeepAlive(keepAlive))
	}
	opts = append(opts, ocp1.WithFrameObserver(s.observe))
	opts = append(opts, extra...)

	client, err := ocp1.NewClient(opts...)
	if err != nil {
		return nil, err
	}
	s.client = client
	s.values.Attach(client)

	if captureFile != "" {
		rec, err := capture.Create(captureFile, client.SessionID().String())
		if err != nil {
			return nil, fmt.Errorf("open capture: %w", err)
		}
		rec.SetRemote(addr)
		s.recorder = rec
	}
	return s, nil
}

// observe runs before the client dispatches a frame. Outgoing frames are
// written under the client lock, so only incoming ones touch s.mu.
func (s *session) observe(dir ocp1.Direction, frame []byte) {
	if s.recorder != nil {
		s.recorder.Observe(dir, frame)
	}
	if dir != ocp1.DirectionIn {
		return
	}
	msg, err := ocp1.Decode(frame)
	if err != nil {
		return
	}
	resp, ok := msg.(*ocp1.Response)
	if !ok {
		return
	}
	s.mu.Lock()
	if r, ok := s.results[resp.Handle]; ok {
		select {
		case r.status <- resp.Status:
		default:
		}
	}
	s.mu.Unlock()
}

func (s *session) handleUpdate(def ocp1.CommandDefinition, v ocp1.Variant) {
	s.values.HandleUpdate(def, v)
	s.mu.Lock()
	watchers := slices.Clone(s.watchers)
	s.mu.Unlock()
	for _, w := range watchers {
		w(def, v)
	}
}

func (s *session) handleError(err error) {
	s.values.HandleError(err)
	logger.Debug("client error", slog.String("error", err.Error()))
}

// onUpdate adds a callback for every value the client delivers
func (s *session) onUpdate(f func(def ocp1.CommandDefinition, v ocp1.Variant)) {
	s.mu.Lock()
	s.watchers = append(s.watchers, f)
	s.mu.Unlock()
}

// connect starts the client and waits for the first connection
func (s *session) connect(ctx context.Context) error {
	if s.client.Start() {
		return nil
	}
	select {
	case <-s.connected:
		return nil
	case <-ctx.Done():
		s.client.Stop()
		return fmt.Errorf("connect %s: %w", s.client.Endpoint(), ctx.Err())
	}
}

func (s *session) close() {
	s.client.Stop()
	if s.recorder != nil {
		if err := s.recorder.Close(); err != nil {
			logger.Warn("capture", slog.String("error", err.Error()))
		}
		logger.Debug("capture closed", slog.Int("frames", s.recorder.Count()))
	}
}

// get reads one value
func (s *session) get(def ocp1.CommandDefinition) (ocp1.Variant, error) {
	return s.values.Read(def)
}

// write sends a SetValue command and tracks its result for await.
// The handle is registered before the response can be observed.
func (s *session) write(def ocp1.CommandDefinition, v ocp1.Variant) (uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	handle, err := s.client.SetValue(def, v)
	if err != nil {
		return handle, err
	}
	s.results[handle] = &result{ono: def.TargetONo, status: make(chan ocp1.Status, 1)}
	return handle, nil
}

// await waits until the request with handle is answered. It returns a
// StatusError when the device rejected it.
func (s *session) await(ctx context.Context, handle uint32) error {
	s.mu.Lock()
	r, ok := s.results[handle]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("handle %d: %w", handle, ocp1.ErrUnknownHandle)
	}
	defer func() {
		s.mu.Lock()
		delete(s.results, handle)
		s.mu.Unlock()
	}()

	select {
	case status := <-r.status:
		if status != ocp1.StatusOK {
			return &ocp1.StatusError{Handle: handle, ONo: r.ono, Status: status}
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("no response for handle %d: %w", handle, ctx.Err())
	}
}

// resolveObject finds an object by catalog name or builds one from a raw
// object number such as 0x10010502
func resolveObject(cat *catalog.Catalog, name, typeName string, level, index uint16) (string, ocp1.CommandDefinition, error) {
	if def, ok := cat.Lookup(name); ok {
		if typeName != "" {
			t, err := ocp1.ParseDataType(typeName)
			if err != nil {
				return "", ocp1.CommandDefinition{}, err
			}
			def.DataType = t
		}
		return name, def, nil
	}

	ono, err := strconv.ParseUint(name, 0, 32)
	if err != nil {
		return "", ocp1.CommandDefinition{}, fmt.Errorf("unknown object %q (not in catalog, not an object number)", name)
	}
	if typeName == "" {
		for _, e := range cat.FindByONo(uint32(ono)) {
			if e.Definition.PropDefLevel == level && e.Definition.PropIndex == index {
				return e.Name, e.Definition, nil
			}
		}
		return "", ocp1.CommandDefinition{}, fmt.Errorf("object %s is not in the catalog and needs --type", name)
	}
	t, err := ocp1.ParseDataType(typeName)
	if err != nil {
		return "", ocp1.CommandDefinition{}, err
	}
	def := ocp1.NewDefinition(uint32(ono), t, level, index)
	if n := cat.NameOf(def); n != "" {
		return n, def, nil
	}
	return strings.ToLower(name), def, nil
}
