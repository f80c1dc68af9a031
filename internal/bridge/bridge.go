// Package bridge exposes one OCP.1 device over HTTP: named object values
// as a small REST API and client metrics for Prometheus.
package bridge

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/edgeo/drivers/ocp1/catalog"
	"github.com/edgeo/drivers/ocp1/ocp1"
)

// Client is the part of ocp1.Client the bridge drives
type Client interface {
	GetValue(def ocp1.CommandDefinition) (uint32, error)
	SetValue(def ocp1.CommandDefinition, v ocp1.Variant) (uint32, error)
	Subscribe(def ocp1.CommandDefinition) (uint32, error)
	Unsubscribe(def ocp1.CommandDefinition) (uint32, error)
	State() ocp1.ConnectionState
	Endpoint() string
	PendingCount() int
	Metrics() *ocp1.Metrics
}

type propKey struct {
	ono   uint32
	level uint16
	index uint16
}

func keyOf(def ocp1.CommandDefinition) propKey {
	return propKey{def.TargetONo, def.PropDefLevel, def.PropIndex}
}

type cached struct {
	value   ocp1.Variant
	updated time.Time
}

type result struct {
	value ocp1.Variant
	err   error
}

// Bridge caches the latest value of every property it has seen and
// serves them over HTTP. Feed it with HandleUpdate and HandleError.
type Bridge struct {
	catalog *catalog.Catalog
	logger  *slog.Logger
	timeout time.Duration

	mu      sync.Mutex
	client  Client
	cache   map[propKey]cached
	waiters map[propKey][]chan result
	handles map[uint32]propKey
}

// New creates a bridge for the objects of cat. timeout bounds how long a
// GET waits for the device.
func New(cat *catalog.Catalog, logger *slog.Logger, timeout time.Duration) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bridge{
		catalog: cat,
		logger:  logger,
		timeout: timeout,
		cache:   make(map[propKey]cached),
		waiters: make(map[propKey][]chan result),
		handles: make(map[uint32]propKey),
	}
}

// Attach sets the client the bridge sends requests through
func (b *Bridge) Attach(c Client) {
	b.mu.Lock()
	b.client = c
	b.mu.Unlock()
}

// HandleUpdate is an ocp1.UpdateHandler
func (b *Bridge) HandleUpdate(def ocp1.CommandDefinition, v ocp1.Variant) {
	k := keyOf(def)
	b.mu.Lock()
	b.cache[k] = cached{value: v, updated: time.Now()}
	waiters := b.waiters[k]
	delete(b.waiters, k)
	for h, hk := range b.handles {
		if hk == k {
			delete(b.handles, h)
		}
	}
	b.mu.Unlock()

	for _, ch := range waiters {
		ch <- result{value: v}
	}
}

// HandleError is an ocp1.ErrorHandler. Status errors fail the GET waiting
// on the same request.
func (b *Bridge) HandleError(err error) {
	var se *ocp1.StatusError
	if !errors.As(err, &se) {
		return
	}
	b.mu.Lock()
	k, ok := b.handles[se.Handle]
	var waiters []chan result
	if ok {
		delete(b.handles, se.Handle)
		waiters = b.waiters[k]
		delete(b.waiters, k)
	}
	b.mu.Unlock()

	for _, ch := range waiters {
		ch <- result{err: err}
	}
}

// Cached returns the last value seen for def
func (b *Bridge) Cached(def ocp1.CommandDefinition) (ocp1.Variant, time.Time, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	c, ok := b.cache[keyOf(def)]
	return c.value, c.updated, ok
}

func (b *Bridge) currentClient() (Client, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.client == nil {
		return nil, ocp1.ErrNotConnected
	}
	return b.client, nil
}

// Read requests the value of def and waits for it
func (b *Bridge) Read(def ocp1.CommandDefinition) (ocp1.Variant, error) {
	c, err := b.currentClient()
	if err != nil {
		return ocp1.Variant{}, err
	}

	k := keyOf(def)
	ch := make(chan result, 1)

	// the handle must be known before a status error for it can arrive;
	// client handlers never run under the client's own lock
	b.mu.Lock()
	handle, err := c.GetValue(def)
	if err != nil {
		b.mu.Unlock()
		return ocp1.Variant{}, err
	}
	b.waiters[k] = append(b.waiters[k], ch)
	b.handles[handle] = k
	b.mu.Unlock()

	timer := time.NewTimer(b.timeout)
	defer timer.Stop()
	select {
	case r := <-ch:
		return r.value, r.err
	case <-timer.C:
		b.dropWaiter(k, ch)
		b.mu.Lock()
		delete(b.handles, handle)
		b.mu.Unlock()
		return ocp1.Variant{}, fmt.Errorf("no response for %s within %s", def, b.timeout)
	}
}

func (b *Bridge) dropWaiter(k propKey, ch chan result) {
	b.mu.Lock()
	defer b.mu.Unlock()
	list := b.waiters[k]
	for i, w := range list {
		if w == ch {
			b.waiters[k] = append(list[:i], list[i+1:]...)
			break
		}
	}
	if len(b.waiters[k]) == 0 {
		delete(b.waiters, k)
	}
}

// Router returns the HTTP API:
//
//	GET    /healthz
//	GET    /metrics
//	GET    /api/state
//	GET    /api/objects
//	GET    /api/objects/{name}            ?cached=true for the cached value
//	PUT    /api/objects/{name}            {"value": "..."}
//	POST   /api/objects/{name}/subscription
//	DELETE /api/objects/{name}/subscription
func (b *Bridge) Router(registry *prometheus.Registry) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(b.logRequests)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	if registry != nil {
		r.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	}

	r.Route("/api", func(r chi.Router) {
		r.Get("/state", b.getState)
		r.Get("/objects", b.listObjects)
		r.Route("/objects/{name}", func(r chi.Router) {
			r.Get("/", b.getObject)
			r.Put("/", b.putObject)
			r.Post("/subscription", b.subscribe)
			r.Delete("/subscription", b.unsubscribe)
		})
	})
	return r
}

func (b *Bridge) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		b.logger.Debug("http request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", ww.Status()),
			slog.Duration("duration", time.Since(start)),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

type objectJSON struct {
	Name    string     `json:"name"`
	ONo     string     `json:"ono"`
	Type    string     `json:"type"`
	Level   uint16     `json:"level"`
	Index   uint16     `json:"index"`
	Value   any        `json:"value,omitempty"`
	Updated *time.Time `json:"updated,omitempty"`
}

func (b *Bridge) objectJSON(name string, def ocp1.CommandDefinition) objectJSON {
	o := objectJSON{
		Name:  name,
		ONo:   fmt.Sprintf("0x%08x", def.TargetONo),
		Type:  def.DataType.String(),
		Level: def.PropDefLevel,
		Index: def.PropIndex,
	}
	if v, updated, ok := b.Cached(def); ok {
		o.Value = v.Interface()
		o.Updated = &updated
	}
	return o
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func errorStatus(err error) int {
	switch {
	case ocp1.IsNotConnected(err):
		return http.StatusServiceUnavailable
	case errors.Is(err, &ocp1.StatusError{}):
		return http.StatusBadGateway
	case ocp1.IsConversion(err):
		return http.StatusBadRequest
	default:
		return http.StatusGatewayTimeout
	}
}

func (b *Bridge) lookup(w http.ResponseWriter, r *http.Request) (string, ocp1.CommandDefinition, bool) {
	name := chi.URLParam(r, "name")
	def, ok := b.catalog.Lookup(name)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Errorf("unknown object %q", name))
		return "", ocp1.CommandDefinition{}, false
	}
	return name, def, true
}

func (b *Bridge) getState(w http.ResponseWriter, r *http.Request) {
	c, err := b.currentClient()
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"state":    c.State().String(),
		"endpoint": c.Endpoint(),
		"pending":  c.PendingCount(),
		"objects":  b.catalog.Len(),
	})
}

func (b *Bridge) listObjects(w http.ResponseWriter, r *http.Request) {
	entries := b.catalog.Filter(r.URL.Query().Get("q"))
	out := make([]objectJSON, 0, len(entries))
	for _, e := range entries {
		out = append(out, b.objectJSON(e.Name, e.Definition))
	}
	writeJSON(w, http.StatusOK, out)
}

func (b *Bridge) getObject(w http.ResponseWriter, r *http.Request) {
	name, def, ok := b.lookup(w, r)
	if !ok {
		return
	}
	if r.URL.Query().Get("cached") == "true" {
		if _, _, ok := b.Cached(def); !ok {
			writeError(w, http.StatusNotFound, fmt.Errorf("no value for %s yet", name))
			return
		}
		writeJSON(w, http.StatusOK, b.objectJSON(name, def))
		return
	}
	if _, err := b.Read(def); err != nil {
		writeError(w, errorStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, b.objectJSON(name, def))
}

func (b *Bridge) putObject(w http.ResponseWriter, r *http.Request) {
	_, def, ok := b.lookup(w, r)
	if !ok {
		return
	}
	var body struct {
		Value json.RawMessage `json:"value"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || len(body.Value) == 0 {
		writeError(w, http.StatusBadRequest, fmt.Errorf("body must be {\"value\": ...}"))
		return
	}
	v, err := variantFromJSON(body.Value, def.DataType)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	c, err := b.currentClient()
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	handle, err := c.SetValue(def, v)
	if err != nil {
		writeError(w, errorStatus(err), err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"handle": handle})
}

// variantFromJSON accepts a JSON string, number or bool, or an array of
// three numbers for positions
func variantFromJSON(raw json.RawMessage, t ocp1.DataType) (ocp1.Variant, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return ocp1.ParseVariant(s, t)
	}
	var pos []float32
	if err := json.Unmarshal(raw, &pos); err == nil {
		if len(pos) != 3 {
			return ocp1.Variant{}, fmt.Errorf("position needs 3 coordinates, got %d", len(pos))
		}
		return ocp1.NewPosition(pos[0], pos[1], pos[2]), nil
	}
	return ocp1.ParseVariant(string(raw), t)
}

func (b *Bridge) subscribe(w http.ResponseWriter, r *http.Request) {
	b.subscription(w, r, true)
}

func (b *Bridge) unsubscribe(w http.ResponseWriter, r *http.Request) {
	b.subscription(w, r, false)
}

func (b *Bridge) subscription(w http.ResponseWriter, r *http.Request, add bool) {
	_, def, ok := b.lookup(w, r)
	if !ok {
		return
	}
	c, err := b.currentClient()
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	var handle uint32
	if add {
		handle, err = c.Subscribe(def)
	} else {
		handle, err = c.Unsubscribe(def)
	}
	if err != nil {
		writeError(w, errorStatus(err), err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"handle": handle})
}
