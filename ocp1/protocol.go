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
	"encoding/hex"
	"fmt"
)

// Header is the fixed 10 byte OCP.1 frame header. Size counts every byte
// of the frame except the sync byte.
type Header struct {
	Sync    byte
	Version uint16
	Size    uint32
	Type    MessageType
	Count   uint16
}

// Valid reports whether the header can start a decodable frame
func (h Header) Valid() bool {
	return h.Sync == SyncByte &&
		h.Version == ProtocolVersion &&
		h.Size >= HeaderSize &&
		h.Type.Valid() &&
		h.Count > 0
}

// FrameLength is the total number of bytes of the frame, sync byte included
func (h Header) FrameLength() int {
	return int(h.Size) + 1
}

// DecodeHeader reads and validates a header
func DecodeHeader(data []byte) (Header, error) {
	if len(data) < HeaderSize {
		return Header{}, fmt.Errorf("%w: %d bytes", ErrInvalidHeader, len(data))
	}
	h := Header{
		Sync:    data[0],
		Version: binary.BigEndian.Uint16(data[1:3]),
		Size:    binary.BigEndian.Uint32(data[3:7]),
		Type:    MessageType(data[7]),
		Count:   binary.BigEndian.Uint16(data[8:10]),
	}
	if !h.Valid() {
		return h, fmt.Errorf("%w: sync=0x%02x version=%d size=%d type=%d count=%d",
			ErrInvalidHeader, h.Sync, h.Version, h.Size, h.Type, h.Count)
	}
	return h, nil
}

// appendHeader writes a header for a frame of the given type and size field
func appendHeader(buf []byte, t MessageType, size uint32) []byte {
	buf = append(buf, SyncByte)
	buf = binary.BigEndian.AppendUint16(buf, ProtocolVersion)
	buf = binary.BigEndian.AppendUint32(buf, size)
	buf = append(buf, byte(t))
	return binary.BigEndian.AppendUint16(buf, 1)
}

// Message is one decoded OCP.1 PDU
type Message interface {
	Type() MessageType
	Encode() []byte
}

// Command invokes a method on a device object. When ResponseRequired is
// set it is sent as CommandResponseRequired and the device answers with a
// Response carrying the same handle.
type Command struct {
	ResponseRequired bool
	Handle           uint32
	TargetONo        uint32
	MethodDefLevel   uint16
	MethodIndex      uint16
	ParamCount       uint8
	Params           []byte
}

// Type returns MessageCommandResponseRequired or MessageCommand
func (m *Command) Type() MessageType {
	if m.ResponseRequired {
		return MessageCommandResponseRequired
	}
	return MessageCommand
}

// Encode serializes the command
func (m *Command) Encode() []byte {
	size := uint32(26 + len(m.Params))
	buf := make([]byte, 0, size+1)
	buf = appendHeader(buf, m.Type(), size)
	buf = binary.BigEndian.AppendUint32(buf, size-9)
	buf = binary.BigEndian.AppendUint32(buf, m.Handle)
	buf = binary.BigEndian.AppendUint32(buf, m.TargetONo)
	buf = binary.BigEndian.AppendUint16(buf, m.MethodDefLevel)
	buf = binary.BigEndian.AppendUint16(buf, m.MethodIndex)
	buf = append(buf, m.ParamCount)
	return append(buf, m.Params...)
}

// Notification reports a property change of a subscribed object
type Notification struct {
	TargetONo      uint32
	MethodDefLevel uint16
	MethodIndex    uint16
	ParamCount     uint8
	Context        []byte
	EmitterONo     uint32
	EventDefLevel  uint16
	EventIndex     uint16
	PropDefLevel   uint16
	PropIndex      uint16
	Value          []byte
	ChangeType     uint8
}

// NewNotification builds a PropertyChanged notification for the object
// ono whose property level.index changed to value
func NewNotification(ono uint32, propDefLevel, propIndex uint16, value []byte) *Notification {
	return &Notification{
		TargetONo:      ono,
		MethodDefLevel: 3,
		MethodIndex:    1,
		ParamCount:     2,
		EmitterONo:     ono,
		EventDefLevel:  EventDefLevel,
		EventIndex:     EventIndex,
		PropDefLevel:   propDefLevel,
		PropIndex:      propIndex,
		Value:          value,
		ChangeType:     PropertyChangeCurrent,
	}
}

// Type returns MessageNotification
func (m *Notification) Type() MessageType { return MessageNotification }

// Encode serializes the notification
func (m *Notification) Encode() []byte {
	size := uint32(37 + len(m.Context) + len(m.Value))
	buf := make([]byte, 0, size+1)
	buf = appendHeader(buf, MessageNotification, size)
	buf = binary.BigEndian.AppendUint32(buf, size-9)
	buf = binary.BigEndian.AppendUint32(buf, m.TargetONo)
	buf = binary.BigEndian.AppendUint16(buf, m.MethodDefLevel)
	buf = binary.BigEndian.AppendUint16(buf, m.MethodIndex)
	buf = append(buf, m.ParamCount)
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(m.Context)))
	buf = append(buf, m.Context...)
	buf = binary.BigEndian.AppendUint32(buf, m.EmitterONo)
	buf = binary.BigEndian.AppendUint16(buf, m.EventDefLevel)
	buf = binary.BigEndian.AppendUint16(buf, m.EventIndex)
	buf = binary.BigEndian.AppendUint16(buf, m.PropDefLevel)
	buf = binary.BigEndian.AppendUint16(buf, m.PropIndex)
	buf = append(buf, m.Value...)
	return append(buf, m.ChangeType)
}

// Response answers a CommandResponseRequired
type Response struct {
	Handle     uint32
	Status     Status
	ParamCount uint8
	Params     []byte
}

// Type returns MessageResponse
func (m *Response) Type() MessageType { return MessageResponse }

// Encode serializes the response
func (m *Response) Encode() []byte {
	size := uint32(19 + len(m.Params))
	buf := make([]byte, 0, size+1)
	buf = appendHeader(buf, MessageResponse, size)
	buf = binary.BigEndian.AppendUint32(buf, size-9)
	buf = binary.BigEndian.AppendUint32(buf, m.Handle)
	buf = append(buf, byte(m.Status))
	buf = append(buf, m.ParamCount)
	return append(buf, m.Params...)
}

// KeepAlive carries the heartbeat interval in seconds
type KeepAlive struct {
	HeartbeatSeconds uint16
}

// Type returns MessageKeepAlive
func (m *KeepAlive) Type() MessageType { return MessageKeepAlive }

// Encode serializes the keepalive
func (m *KeepAlive) Encode() []byte {
	buf := make([]byte, 0, 12)
	buf = appendHeader(buf, MessageKeepAlive, 11)
	return binary.BigEndian.AppendUint16(buf, m.HeartbeatSeconds)
}

// Decode parses one OCP.1 frame. The returned error wraps
// ErrInvalidHeader or ErrInvalidMessage; the message is nil in that case.
// Bytes past the frame length given by the header are ignored.
func Decode(data []byte) (Message, error) {
	h, err := DecodeHeader(data)
	if err != nil {
		return nil, err
	}
	if len(data) < h.FrameLength() {
		return nil, fmt.Errorf("%w: truncated frame, have %d of %d bytes", ErrInvalidMessage, len(data), h.FrameLength())
	}
	data = data[:h.FrameLength()]

	switch h.Type {
	case MessageCommand, MessageCommandResponseRequired:
		return decodeCommand(h, data)
	case MessageNotification:
		return decodeNotification(data)
	case MessageResponse:
		return decodeResponse(data)
	case MessageKeepAlive:
		return decodeKeepAlive(data)
	}
	return nil, fmt.Errorf("%w: type %d", ErrInvalidMessage, h.Type)
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrInvalidMessage}, args...)...)
}

func decodeCommand(h Header, data []byte) (Message, error) {
	if len(data) < 27 {
		return nil, invalid("command too short (%d bytes)", len(data))
	}
	commandSize := binary.BigEndian.Uint32(data[10:14])
	if commandSize < 17 {
		return nil, invalid("command size %d", commandSize)
	}
	paramLen := int(commandSize) - 17
	if len(data) < 27+paramLen {
		return nil, invalid("command parameters exceed frame")
	}
	m := &Command{
		ResponseRequired: h.Type == MessageCommandResponseRequired,
		Handle:           binary.BigEndian.Uint32(data[14:18]),
		TargetONo:        binary.BigEndian.Uint32(data[18:22]),
		MethodDefLevel:   binary.BigEndian.Uint16(data[22:24]),
		MethodIndex:      binary.BigEndian.Uint16(data[24:26]),
		ParamCount:       data[26],
		Params:           append([]byte(nil), data[27:27+paramLen]...),
	}
	if m.TargetONo == 0 {
		return nil, invalid("command target ono 0")
	}
	if m.ResponseRequired && m.Handle == InvalidSessionID {
		return nil, invalid("command handle 0")
	}
	return m, nil
}

func decodeNotification(data []byte) (Message, error) {
	if len(data) < 25 {
		return nil, invalid("notification too short (%d bytes)", len(data))
	}
	notificationSize := int(binary.BigEndian.Uint32(data[10:14]))
	m := &Notification{
		TargetONo:      binary.BigEndian.Uint32(data[14:18]),
		MethodDefLevel: binary.BigEndian.Uint16(data[18:20]),
		MethodIndex:    binary.BigEndian.Uint16(data[20:22]),
		ParamCount:     data[22],
		ChangeType:     PropertyChangeCurrent,
	}
	contextLen := int(binary.BigEndian.Uint16(data[23:25]))
	valueLen := notificationSize - 28 - contextLen
	if valueLen < 1 {
		return nil, invalid("notification without value")
	}
	base := 25 + contextLen
	if len(data) < base+12+valueLen {
		return nil, invalid("notification fields exceed frame")
	}
	m.Context = append([]byte(nil), data[25:base]...)
	m.EmitterONo = binary.BigEndian.Uint32(data[base : base+4])
	m.EventDefLevel = binary.BigEndian.Uint16(data[base+4 : base+6])
	m.EventIndex = binary.BigEndian.Uint16(data[base+6 : base+8])
	m.PropDefLevel = binary.BigEndian.Uint16(data[base+8 : base+10])
	m.PropIndex = binary.BigEndian.Uint16(data[base+10 : base+12])
	m.Value = append([]byte(nil), data[base+12:base+12+valueLen]...)
	if end := base + 12 + valueLen; end < len(data) {
		m.ChangeType = data[end]
	}

	switch {
	case m.TargetONo == 0:
		return nil, invalid("notification target ono 0")
	case m.MethodDefLevel < 1 || m.MethodIndex < 1:
		return nil, invalid("notification method %d.%d", m.MethodDefLevel, m.MethodIndex)
	case m.ParamCount < 1:
		return nil, invalid("notification without parameters")
	case m.EmitterONo == 0:
		return nil, invalid("notification emitter ono 0")
	case m.EventDefLevel != EventDefLevel || m.EventIndex != EventIndex:
		return nil, invalid("notification event %d.%d", m.EventDefLevel, m.EventIndex)
	case m.PropDefLevel == 0 || m.PropIndex == 0:
		return nil, invalid("notification property %d.%d", m.PropDefLevel, m.PropIndex)
	}
	return m, nil
}

func decodeResponse(data []byte) (Message, error) {
	if len(data) < 20 {
		return nil, invalid("response too short (%d bytes)", len(data))
	}
	responseSize := binary.BigEndian.Uint32(data[10:14])
	if responseSize < 10 {
		return nil, invalid("response size %d", responseSize)
	}
	paramLen := int(responseSize) - 10
	if len(data) < 20+paramLen {
		return nil, invalid("response parameters exceed frame")
	}
	m := &Response{
		Handle:     binary.BigEndian.Uint32(data[14:18]),
		Status:     Status(data[18]),
		ParamCount: data[19],
		Params:     append([]byte(nil), data[20:20+paramLen]...),
	}
	if m.Handle == InvalidSessionID {
		return nil, invalid("response handle 0")
	}
	return m, nil
}

func decodeKeepAlive(data []byte) (Message, error) {
	if len(data) < 12 {
		return nil, invalid("keepalive too short (%d bytes)", len(data))
	}
	return &KeepAlive{HeartbeatSeconds: binary.BigEndian.Uint16(data[10:12])}, nil
}

// Describe renders a message on one line for logs and dumps
func Describe(m Message) string {
	switch v := m.(type) {
	case *Command:
		return fmt.Sprintf("%s handle=%d ono=0x%08x method=%d.%d params=%d [%s]",
			v.Type(), v.Handle, v.TargetONo, v.MethodDefLevel, v.MethodIndex, v.ParamCount, hex.EncodeToString(v.Params))
	case *Notification:
		return fmt.Sprintf("notification ono=0x%08x emitter=0x%08x property=%d.%d value=[%s]",
			v.TargetONo, v.EmitterONo, v.PropDefLevel, v.PropIndex, hex.EncodeToString(v.Value))
	case *Response:
		return fmt.Sprintf("response handle=%d status=%s params=%d [%s]",
			v.Handle, v.Status, v.ParamCount, hex.EncodeToString(v.Params))
	case *KeepAlive:
		return fmt.Sprintf("keepalive heartbeat=%ds", v.HeartbeatSeconds)
	case nil:
		return "<nil>"
	}
	return m.Type().String()
}
