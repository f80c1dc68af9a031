// Package capture records OCP.1 frames to a CBOR file and reads them back.
//
// A capture file is a plain sequence of CBOR encoded Events. Frames are
// stored as received, so malformed traffic is preserved for inspection.
package capture

import (
	"fmt"
	"io"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"

	"github.com/edgeo/drivers/ocp1/ocp1"
)

// Event is one captured frame
type Event struct {
	Timestamp time.Time      `cbor:"1,keyasint"`
	Session   string         `cbor:"2,keyasint"`
	Direction ocp1.Direction `cbor:"3,keyasint"`
	Frame     []byte         `cbor:"4,keyasint"`

	// Remote is the peer address when known
	Remote string `cbor:"5,keyasint,omitempty"`
}

// Message decodes the captured frame
func (e Event) Message() (ocp1.Message, error) {
	return ocp1.Decode(e.Frame)
}

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.EncOptions{
		Sort:          cbor.SortCanonical,
		IndefLength:   cbor.IndefLengthForbidden,
		NilContainers: cbor.NilContainerAsNull,
		Time:          cbor.TimeRFC3339Nano,
	}.EncMode()
	if err != nil {
		panic(fmt.Sprintf("capture: CBOR encoder mode: %v", err))
	}
	decMode, err = cbor.DecOptions{
		DupMapKey:   cbor.DupMapKeyQuiet,
		IndefLength: cbor.IndefLengthAllowed,
	}.DecMode()
	if err != nil {
		panic(fmt.Sprintf("capture: CBOR decoder mode: %v", err))
	}
}

// EncodeEvent encodes one event
func EncodeEvent(e Event) ([]byte, error) {
	return encMode.Marshal(e)
}

// DecodeEvent decodes one event
func DecodeEvent(data []byte) (Event, error) {
	var e Event
	if err := decMode.Unmarshal(data, &e); err != nil {
		return Event{}, err
	}
	return e, nil
}

// NewEncoder returns an event stream encoder writing to w
func NewEncoder(w io.Writer) *cbor.Encoder {
	return encMode.NewEncoder(w)
}

// NewDecoder returns an event stream decoder reading from r
func NewDecoder(r io.Reader) *cbor.Decoder {
	return decMode.NewDecoder(r)
}

// NewSessionID returns a fresh session identifier for a recorder
func NewSessionID() string {
	return uuid.NewString()
}
