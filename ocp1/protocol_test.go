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
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeaderSizeFormulas(t *testing.T) {
	tests := []struct {
		name string
		msg  Message
		size uint32
	}{
		{"command", &Command{ResponseRequired: true, Handle: 2, TargetONo: 1, MethodDefLevel: 4, MethodIndex: 1, ParamCount: 1, Params: []byte{1, 2, 3, 4}}, 30},
		{"notification", NewNotification(0x10000001, 4, 1, []byte{0, 0, 0, 0}), 41},
		{"response", &Response{Handle: 7, ParamCount: 1, Params: []byte{9, 9}}, 21},
		{"keepalive", &KeepAlive{HeartbeatSeconds: 5}, 11},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := tt.msg.Encode()
			assert.Equal(t, SyncByte, data[0])
			assert.Equal(t, tt.size, binary.BigEndian.Uint32(data[3:7]))
			assert.Equal(t, byte(tt.msg.Type()), data[7])
			assert.Len(t, data, int(tt.size)+1)

			h, err := DecodeHeader(data)
			require.NoError(t, err)
			assert.Equal(t, uint16(1), h.Count)
		})
	}
}

func TestRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		msg  Message
	}{
		{"command response required", &Command{ResponseRequired: true, Handle: 0xFFFFFFFF, TargetONo: 0x10000205, MethodDefLevel: 4, MethodIndex: 2, ParamCount: 1, Params: []byte{0x40, 0x20, 0, 0}}},
		{"command", &Command{Handle: 0, TargetONo: 42, MethodDefLevel: 3, MethodIndex: 1, ParamCount: 0}},
		{"notification", NewNotification(0x0D010002, 3, 1, []byte{0x3F, 0x80, 0, 0, 0x40, 0, 0, 0, 0x40, 0x40, 0, 0})},
		{"notification with context", &Notification{
			TargetONo: 9, MethodDefLevel: 3, MethodIndex: 1, ParamCount: 2,
			Context: []byte{0xAA, 0xBB}, EmitterONo: 9, EventDefLevel: 1, EventIndex: 1,
			PropDefLevel: 5, PropIndex: 2, Value: []byte{0x01}, ChangeType: 1,
		}},
		{"response", &Response{Handle: 2, Status: StatusOK, ParamCount: 1, Params: []byte{0xC0, 0x60, 0, 0}}},
		{"response with status", &Response{Handle: 99, Status: StatusBadONo, ParamCount: 0}},
		{"keepalive", &KeepAlive{HeartbeatSeconds: 1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Decode(tt.msg.Encode())
			require.NoError(t, err)
			assert.Equal(t, tt.msg, got)
		})
	}
}

func TestDecodeRejectsHeaders(t *testing.T) {
	valid := (&KeepAlive{HeartbeatSeconds: 1}).Encode()

	mutate := func(f func(b []byte)) []byte {
		b := append([]byte(nil), valid...)
		f(b)
		return b
	}

	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"short", valid[:9]},
		{"sync", mutate(func(b []byte) { b[0] = 0x3A })},
		{"version", mutate(func(b []byte) { b[2] = 2 })},
		{"size", mutate(func(b []byte) { binary.BigEndian.PutUint32(b[3:], 9) })},
		{"type", mutate(func(b []byte) { b[7] = 5 })},
		{"count", mutate(func(b []byte) { b[9] = 0 })},
		{"truncated", valid[:11]},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := Decode(tt.data)
			assert.Nil(t, msg)
			assert.Error(t, err)
		})
	}
}

func TestDecodeNotificationValidation(t *testing.T) {
	base := NewNotification(0x100, 4, 1, []byte{1, 2, 3, 4})

	tests := []struct {
		name   string
		modify func(n *Notification)
	}{
		{"zero target", func(n *Notification) { n.TargetONo = 0 }},
		{"zero emitter", func(n *Notification) { n.EmitterONo = 0 }},
		{"method level", func(n *Notification) { n.MethodDefLevel = 0 }},
		{"method index", func(n *Notification) { n.MethodIndex = 0 }},
		{"param count", func(n *Notification) { n.ParamCount = 0 }},
		{"event level", func(n *Notification) { n.EventDefLevel = 2 }},
		{"event index", func(n *Notification) { n.EventIndex = 3 }},
		{"property level", func(n *Notification) { n.PropDefLevel = 0 }},
		{"property index", func(n *Notification) { n.PropIndex = 0 }},
		{"empty value", func(n *Notification) { n.Value = nil }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n := *base
			tt.modify(&n)
			msg, err := Decode(n.Encode())
			assert.Nil(t, msg)
			assert.ErrorIs(t, err, ErrInvalidMessage)
		})
	}
}

func TestDecodeNotificationBoundsChecked(t *testing.T) {
	data := NewNotification(0x100, 4, 1, []byte{1, 2, 3, 4}).Encode()

	// A context length pointing past the end of the frame
	binary.BigEndian.PutUint16(data[23:25], 0xFFF0)
	msg, err := Decode(data)
	assert.Nil(t, msg)
	assert.Error(t, err)

	// A notification size claiming more value bytes than present
	data = NewNotification(0x100, 4, 1, []byte{1, 2, 3, 4}).Encode()
	binary.BigEndian.PutUint32(data[10:14], 1000)
	msg, err = Decode(data)
	assert.Nil(t, msg)
	assert.Error(t, err)
}

func TestDecodeResponseValidation(t *testing.T) {
	t.Run("zero handle", func(t *testing.T) {
		msg, err := Decode((&Response{Handle: 0, ParamCount: 0}).Encode())
		assert.Nil(t, msg)
		assert.ErrorIs(t, err, ErrInvalidMessage)
	})

	t.Run("response size too small", func(t *testing.T) {
		data := (&Response{Handle: 5}).Encode()
		binary.BigEndian.PutUint32(data[10:14], 9)
		msg, err := Decode(data)
		assert.Nil(t, msg)
		assert.Error(t, err)
	})

	t.Run("response size past frame", func(t *testing.T) {
		data := (&Response{Handle: 5, ParamCount: 1, Params: []byte{1}}).Encode()
		binary.BigEndian.PutUint32(data[10:14], 400)
		msg, err := Decode(data)
		assert.Nil(t, msg)
		assert.Error(t, err)
	})

	t.Run("status is not a decode failure", func(t *testing.T) {
		msg, err := Decode((&Response{Handle: 5, Status: StatusLocked}).Encode())
		require.NoError(t, err)
		assert.Equal(t, StatusLocked, msg.(*Response).Status)
	})
}

func TestDecodeCommandRejectsZeroTarget(t *testing.T) {
	msg, err := Decode((&Command{ResponseRequired: true, Handle: 3}).Encode())
	assert.Nil(t, msg)
	assert.ErrorIs(t, err, ErrInvalidMessage)

	msg, err = Decode((&Command{ResponseRequired: true, Handle: 0, TargetONo: 1}).Encode())
	assert.Nil(t, msg)
	assert.ErrorIs(t, err, ErrInvalidMessage)
}

func TestDecodeIgnoresTrailingBytes(t *testing.T) {
	data := append((&KeepAlive{HeartbeatSeconds: 3}).Encode(), 0x3B, 0x00)
	msg, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, &KeepAlive{HeartbeatSeconds: 3}, msg)
}

func TestDecodeNeverPanics(t *testing.T) {
	seeds := [][]byte{
		(&Response{Handle: 2, ParamCount: 1, Params: []byte{1, 2, 3, 4}}).Encode(),
		NewNotification(1, 4, 1, []byte{1}).Encode(),
		(&Command{ResponseRequired: true, Handle: 2, TargetONo: 1}).Encode(),
	}
	for _, seed := range seeds {
		for cut := 0; cut <= len(seed); cut++ {
			assert.NotPanics(t, func() { Decode(seed[:cut]) })
		}
		for i := 10; i < len(seed); i++ {
			b := append([]byte(nil), seed...)
			b[i] = 0xFF
			assert.NotPanics(t, func() { Decode(b) })
		}
	}
}

func TestDescribe(t *testing.T) {
	assert.Contains(t, Describe(&Response{Handle: 4, Status: StatusBadMethod}), "BadMethod")
	assert.Contains(t, Describe(&KeepAlive{HeartbeatSeconds: 2}), "2s")
	assert.Contains(t, Describe(NewNotification(0x20001, 4, 1, []byte{1})), "0x00020001")
}
