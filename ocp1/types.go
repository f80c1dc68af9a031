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
	"fmt"
	"strings"
)

// Protocol constants
const (
	// SyncByte starts every OCP.1 frame
	SyncByte byte = 0x3B

	// ProtocolVersion is the only OCP.1 version on the wire
	ProtocolVersion uint16 = 1

	// HeaderSize is the fixed length of the frame header
	HeaderSize = 10

	// DefaultPort is the customary OCP.1 TCP port
	DefaultPort = 50014

	// MaxMessageSize bounds the size field accepted by stream transports
	MaxMessageSize = 64 * 1024
)

// Session ids reserved by AES70. Request handles never take these values.
const (
	InvalidSessionID uint32 = 0
	LocalSessionID   uint32 = 1
	firstHandle      uint32 = 2
)

// Well-known object numbers and method ids
const (
	ONoSubscriptionManager uint32 = 0x00000004

	SubscriptionManagerDefLevel uint16 = 3
	MethodAddSubscription       uint16 = 1
	MethodRemoveSubscription    uint16 = 2

	MethodGetValue uint16 = 1
	MethodSetValue uint16 = 2

	// OcaRoot.PropertyChanged event
	EventDefLevel uint16 = 1
	EventIndex    uint16 = 1

	// OcaSubscriptionManager.NotificationDeliveryMode Reliable
	DeliveryModeReliable uint8 = 1

	// OcaPropertyChangeType CurrentChanged
	PropertyChangeCurrent uint8 = 1
)

// MessageType identifies the OCP.1 PDU kind
type MessageType uint8

const (
	MessageCommand                 MessageType = 0
	MessageCommandResponseRequired MessageType = 1
	MessageNotification            MessageType = 2
	MessageResponse                MessageType = 3
	MessageKeepAlive               MessageType = 4
)

func (t MessageType) String() string {
	switch t {
	case MessageCommand:
		return "command"
	case MessageCommandResponseRequired:
		return "command-response-required"
	case MessageNotification:
		return "notification"
	case MessageResponse:
		return "response"
	case MessageKeepAlive:
		return "keepalive"
	default:
		return fmt.Sprintf("message-type(%d)", t)
	}
}

// Valid reports whether t is one of the five defined kinds
func (t MessageType) Valid() bool {
	return t <= MessageKeepAlive
}

// DataType is an OCA base data type code
type DataType uint8

const (
	DataTypeNone         DataType = 0
	DataTypeBoolean      DataType = 1
	DataTypeInt8         DataType = 2
	DataTypeInt16        DataType = 3
	DataTypeInt32        DataType = 4
	DataTypeInt64        DataType = 5
	DataTypeUint8        DataType = 6
	DataTypeUint16       DataType = 7
	DataTypeUint32       DataType = 8
	DataTypeUint64       DataType = 9
	DataTypeFloat32      DataType = 10
	DataTypeFloat64      DataType = 11
	DataTypeString       DataType = 13
	DataTypeBitString    DataType = 14
	DataTypeBlob         DataType = 15
	DataTypeBlobFixedLen DataType = 16
	// DataTypeDBPosition is the vendor type used for x/y/z coordinates
	DataTypeDBPosition DataType = 32
	DataTypeCustom     DataType = 128
)

var dataTypeNames = map[DataType]string{
	DataTypeNone:         "none",
	DataTypeBoolean:      "boolean",
	DataTypeInt8:         "int8",
	DataTypeInt16:        "int16",
	DataTypeInt32:        "int32",
	DataTypeInt64:        "int64",
	DataTypeUint8:        "uint8",
	DataTypeUint16:       "uint16",
	DataTypeUint32:       "uint32",
	DataTypeUint64:       "uint64",
	DataTypeFloat32:      "float32",
	DataTypeFloat64:      "float64",
	DataTypeString:       "string",
	DataTypeBitString:    "bitstring",
	DataTypeBlob:         "blob",
	DataTypeBlobFixedLen: "blob-fixed",
	DataTypeDBPosition:   "position",
	DataTypeCustom:       "custom",
}

func (t DataType) String() string {
	if name, ok := dataTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("data-type(%d)", t)
}

// ParseDataType resolves a data type name as printed by String.
// A few common aliases are accepted.
func ParseDataType(s string) (DataType, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	switch name {
	case "bool":
		return DataTypeBoolean, nil
	case "float", "gain":
		return DataTypeFloat32, nil
	case "double":
		return DataTypeFloat64, nil
	case "db-position", "dbposition":
		return DataTypeDBPosition, nil
	}
	for t, n := range dataTypeNames {
		if n == name {
			return t, nil
		}
	}
	return DataTypeNone, fmt.Errorf("%w: %q", ErrUnsupportedType, s)
}

// FixedSize returns the wire width of fixed-size types, or 0
func (t DataType) FixedSize() int {
	switch t {
	case DataTypeBoolean, DataTypeInt8, DataTypeUint8:
		return 1
	case DataTypeInt16, DataTypeUint16:
		return 2
	case DataTypeInt32, DataTypeUint32, DataTypeFloat32:
		return 4
	case DataTypeInt64, DataTypeUint64, DataTypeFloat64:
		return 8
	default:
		return 0
	}
}
