package capture

import (
	"io"
	"os"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/edgeo/drivers/ocp1/ocp1"
)

// Recorder appends frames to a capture stream. It is safe for concurrent
// use; Observe matches ocp1.FrameObserver.
type Recorder struct {
	mu      sync.Mutex
	w       io.Writer
	closer  io.Closer
	encoder *cbor.Encoder
	session string
	remote  string
	count   int
	err     error
	closed  bool
	now     func() time.Time
}

// NewRecorder records to w under the given session id. An empty session
// gets a fresh one.
func NewRecorder(w io.Writer, session string) *Recorder {
	if session == "" {
		session = NewSessionID()
	}
	r := &Recorder{
		w:       w,
		encoder: NewEncoder(w),
		session: session,
		now:     time.Now,
	}
	if c, ok := w.(io.Closer); ok {
		r.closer = c
	}
	return r
}

// Create opens path for appending and records to it
func Create(path, session string) (*Recorder, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	return NewRecorder(f, session), nil
}

// SetRemote tags subsequent events with the peer address
func (r *Recorder) SetRemote(addr string) {
	r.mu.Lock()
	r.remote = addr
	r.mu.Unlock()
}

// Session returns the session id written to every event
func (r *Recorder) Session() string {
	return r.session
}

// Observe records one frame. Write errors are kept and reported by Err
// and Close; capturing never interrupts the session.
func (r *Recorder) Observe(dir ocp1.Direction, frame []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed || r.err != nil {
		return
	}
	e := Event{
		Timestamp: r.now(),
		Session:   r.session,
		Direction: dir,
		Frame:     append([]byte(nil), frame...),
		Remote:    r.remote,
	}
	if err := r.encoder.Encode(e); err != nil {
		r.err = err
		return
	}
	r.count++
}

// Count returns the number of recorded frames
func (r *Recorder) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}

// Err returns the first write error
func (r *Recorder) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// Close stops recording and closes the underlying writer if it is a
// Closer. It is safe to call more than once.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	if r.closer != nil {
		if err := r.closer.Close(); err != nil {
			return err
		}
	}
	return r.err
}
