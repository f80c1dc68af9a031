package capture

import (
	"errors"
	"io"
	"os"

	"github.com/fxamacker/cbor/v2"

	"github.com/edgeo/drivers/ocp1/ocp1"
)

// Filter selects events. Zero fields match everything.
type Filter struct {
	Session   string
	Direction *ocp1.Direction
	Types     []ocp1.MessageType
}

func (f *Filter) matches(e Event) bool {
	if f.Session != "" && e.Session != f.Session {
		return false
	}
	if f.Direction != nil && e.Direction != *f.Direction {
		return false
	}
	if len(f.Types) > 0 {
		h, err := ocp1.DecodeHeader(e.Frame)
		if err != nil {
			return false
		}
		for _, t := range f.Types {
			if h.Type == t {
				return true
			}
		}
		return false
	}
	return true
}

// Reader iterates over the events of a capture stream
type Reader struct {
	decoder *cbor.Decoder
	closer  io.Closer
	filter  Filter
}

// NewReader reads events from r
func NewReader(r io.Reader, filter Filter) *Reader {
	rd := &Reader{decoder: NewDecoder(r), filter: filter}
	if c, ok := r.(io.Closer); ok {
		rd.closer = c
	}
	return rd
}

// Open reads the capture file at path
func Open(path string, filter Filter) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	return NewReader(f, filter), nil
}

// Next returns the next matching event, or io.EOF at the end of the
// stream
func (r *Reader) Next() (Event, error) {
	for {
		var e Event
		if err := r.decoder.Decode(&e); err != nil {
			if errors.Is(err, io.EOF) {
				return Event{}, io.EOF
			}
			return Event{}, err
		}
		if r.filter.matches(e) {
			return e, nil
		}
	}
}

// All reads the remaining matching events
func (r *Reader) All() ([]Event, error) {
	var events []Event
	for {
		e, err := r.Next()
		if errors.Is(err, io.EOF) {
			return events, nil
		}
		if err != nil {
			return events, err
		}
		events = append(events, e)
	}
}

// Close closes the underlying file
func (r *Reader) Close() error {
	if r.closer == nil {
		return nil
	}
	return r.closer.Close()
}
