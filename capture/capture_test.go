package capture

import (
	"bytes"
	"errors"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgeo/drivers/ocp1/ocp1"
)

func TestEventRoundTrip(t *testing.T) {
	e := Event{
		Timestamp: time.Date(2025, 3, 1, 12, 0, 0, 123456789, time.UTC),
		Session:   "s1",
		Direction: ocp1.DirectionOut,
		Frame:     (&ocp1.KeepAlive{HeartbeatSeconds: 1}).Encode(),
		Remote:    "10.0.0.2:50014",
	}
	data, err := EncodeEvent(e)
	require.NoError(t, err)

	got, err := DecodeEvent(data)
	require.NoError(t, err)
	assert.True(t, e.Timestamp.Equal(got.Timestamp))
	got.Timestamp = e.Timestamp
	assert.Equal(t, e, got)

	msg, err := got.Message()
	require.NoError(t, err)
	assert.Equal(t, ocp1.MessageKeepAlive, msg.Type())
}

func TestRecordAndRead(t *testing.T) {
	var buf bytes.Buffer
	rec := NewRecorder(&buf, "")
	assert.NotEmpty(t, rec.Session())

	resp := (&ocp1.Response{Handle: 2, ParamCount: 1, Params: ocp1.DataFromFloat32(-3.5)}).Encode()
	cmd := ocp1.NewDefinition(0x100, ocp1.DataTypeFloat32, 4, 1).GetValueCommand().Command(2).Encode()

	rec.SetRemote("device:50014")
	rec.Observe(ocp1.DirectionOut, cmd)
	rec.Observe(ocp1.DirectionIn, resp)
	rec.Observe(ocp1.DirectionIn, []byte{0xDE, 0xAD})
	assert.Equal(t, 3, rec.Count())
	require.NoError(t, rec.Err())

	events, err := NewReader(bytes.NewReader(buf.Bytes()), Filter{}).All()
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, cmd, events[0].Frame)
	assert.Equal(t, ocp1.DirectionOut, events[0].Direction)
	assert.Equal(t, "device:50014", events[0].Remote)
	assert.Equal(t, rec.Session(), events[2].Session)

	_, err = events[2].Message()
	assert.Error(t, err)

	in := ocp1.DirectionIn
	events, err = NewReader(bytes.NewReader(buf.Bytes()), Filter{Direction: &in}).All()
	require.NoError(t, err)
	assert.Len(t, events, 2)

	events, err = NewReader(bytes.NewReader(buf.Bytes()), Filter{Types: []ocp1.MessageType{ocp1.MessageResponse}}).All()
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, resp, events[0].Frame)

	events, err = NewReader(bytes.NewReader(buf.Bytes()), Filter{Session: "other"}).All()
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestRecorderFrameIsCopied(t *testing.T) {
	var buf bytes.Buffer
	rec := NewRecorder(&buf, "s")
	frame := (&ocp1.KeepAlive{HeartbeatSeconds: 1}).Encode()
	rec.Observe(ocp1.DirectionIn, frame)
	frame[0] = 0

	r := NewReader(&buf, Filter{})
	e, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, ocp1.SyncByte, e.Frame[0])

	_, err = r.Next()
	assert.ErrorIs(t, err, io.EOF)
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("disk full") }

func TestRecorderKeepsFirstError(t *testing.T) {
	rec := NewRecorder(failingWriter{}, "s")
	rec.Observe(ocp1.DirectionIn, []byte{1})
	rec.Observe(ocp1.DirectionIn, []byte{2})
	assert.Zero(t, rec.Count())
	assert.EqualError(t, rec.Err(), "disk full")
	assert.Error(t, rec.Close())
	assert.NoError(t, rec.Close())
}

func TestCaptureFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.cbor")

	rec, err := Create(path, "file-session")
	require.NoError(t, err)
	rec.Observe(ocp1.DirectionIn, (&ocp1.KeepAlive{HeartbeatSeconds: 1}).Encode())
	require.NoError(t, rec.Close())
	rec.Observe(ocp1.DirectionIn, (&ocp1.KeepAlive{HeartbeatSeconds: 2}).Encode())

	r, err := Open(path, Filter{})
	require.NoError(t, err)
	defer r.Close()

	events, err := r.All()
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "file-session", events[0].Session)

	_, err = Open(filepath.Join(t.TempDir(), "missing.cbor"), Filter{})
	assert.Error(t, err)
}
