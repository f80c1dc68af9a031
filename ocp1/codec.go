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
	"fmt"
	"math"
	"unicode/utf8"
)

// Parameter data codec. All integers and floats are big-endian.

func sizeError(t DataType, want string, got int) error {
	return &ConversionError{
		From:   fmt.Sprintf("%d bytes", got),
		To:     t.String(),
		Reason: "expected " + want + " bytes",
	}
}

// DataToBool decodes a one byte OcaBoolean
func DataToBool(data []byte) (bool, error) {
	if len(data) != 1 {
		return false, sizeError(DataTypeBoolean, "1", len(data))
	}
	return data[0] != 0, nil
}

// DataFromBool encodes an OcaBoolean
func DataFromBool(v bool) []byte {
	if v {
		return []byte{1}
	}
	return []byte{0}
}

// DataToUint8 decodes an OcaUint8
func DataToUint8(data []byte) (uint8, error) {
	if len(data) != 1 {
		return 0, sizeError(DataTypeUint8, "1", len(data))
	}
	return data[0], nil
}

// DataFromUint8 encodes an OcaUint8
func DataFromUint8(v uint8) []byte {
	return []byte{v}
}

// DataToUint16 decodes an OcaUint16
func DataToUint16(data []byte) (uint16, error) {
	if len(data) != 2 {
		return 0, sizeError(DataTypeUint16, "2", len(data))
	}
	return binary.BigEndian.Uint16(data), nil
}

// DataFromUint16 encodes an OcaUint16
func DataFromUint16(v uint16) []byte {
	return binary.BigEndian.AppendUint16(nil, v)
}

// DataToUint32 decodes an OcaUint32
func DataToUint32(data []byte) (uint32, error) {
	if len(data) != 4 {
		return 0, sizeError(DataTypeUint32, "4", len(data))
	}
	return binary.BigEndian.Uint32(data), nil
}

// DataFromUint32 encodes an OcaUint32
func DataFromUint32(v uint32) []byte {
	return binary.BigEndian.AppendUint32(nil, v)
}

// DataToUint64 decodes an OcaUint64
func DataToUint64(data []byte) (uint64, error) {
	if len(data) != 8 {
		return 0, sizeError(DataTypeUint64, "8", len(data))
	}
	return binary.BigEndian.Uint64(data), nil
}

// DataFromUint64 encodes an OcaUint64
func DataFromUint64(v uint64) []byte {
	return binary.BigEndian.AppendUint64(nil, v)
}

// DataToInt32 decodes an OcaInt32
func DataToInt32(data []byte) (int32, error) {
	if len(data) != 4 {
		return 0, sizeError(DataTypeInt32, "4", len(data))
	}
	return int32(binary.BigEndian.Uint32(data)), nil
}

// DataFromInt32 encodes an OcaInt32
func DataFromInt32(v int32) []byte {
	return binary.BigEndian.AppendUint32(nil, uint32(v))
}

// DataToFloat32 decodes an OcaFloat32
func DataToFloat32(data []byte) (float32, error) {
	if len(data) != 4 {
		return 0, sizeError(DataTypeFloat32, "4", len(data))
	}
	return math.Float32frombits(binary.BigEndian.Uint32(data)), nil
}

// DataFromFloat32 encodes an OcaFloat32
func DataFromFloat32(v float32) []byte {
	return binary.BigEndian.AppendUint32(nil, math.Float32bits(v))
}

// DataToFloat64 decodes an OcaFloat64
func DataToFloat64(data []byte) (float64, error) {
	if len(data) != 8 {
		return 0, sizeError(DataTypeFloat64, "8", len(data))
	}
	return math.Float64frombits(binary.BigEndian.Uint64(data)), nil
}

// DataFromFloat64 encodes an OcaFloat64
func DataFromFloat64(v float64) []byte {
	return binary.BigEndian.AppendUint64(nil, math.Float64bits(v))
}

// DataToString decodes an OcaString: a u16 character count followed by
// that many UTF-8 encoded characters. Trailing bytes are ignored.
func DataToString(data []byte) (string, error) {
	s, _, err := readString(data)
	return s, err
}

// readString decodes one OcaString and reports how many bytes it used
func readString(data []byte) (string, int, error) {
	if len(data) < 2 {
		return "", 0, sizeError(DataTypeString, "at least 2", len(data))
	}
	count := int(binary.BigEndian.Uint16(data))
	offset := 2
	for i := 0; i < count; i++ {
		if offset >= len(data) {
			return "", 0, &ConversionError{From: "bytes", To: "string", Reason: "truncated string"}
		}
		r, size := utf8.DecodeRune(data[offset:])
		if r == utf8.RuneError && size <= 1 {
			return "", 0, &ConversionError{From: "bytes", To: "string", Reason: "invalid UTF-8"}
		}
		offset += size
	}
	return string(data[2:offset]), offset, nil
}

// DataFromString encodes an OcaString. Strings longer than 65535
// characters are truncated.
func DataFromString(s string) []byte {
	count := utf8.RuneCountInString(s)
	if count > math.MaxUint16 {
		end := 0
		for i := 0; i < math.MaxUint16; i++ {
			_, size := utf8.DecodeRuneInString(s[end:])
			end += size
		}
		s = s[:end]
		count = math.MaxUint16
	}
	out := make([]byte, 0, 2+len(s))
	out = binary.BigEndian.AppendUint16(out, uint16(count))
	return append(out, s...)
}

// DataFromBlob encodes an OcaBlob: u16 length followed by the bytes
func DataFromBlob(b []byte) []byte {
	if len(b) > math.MaxUint16 {
		b = b[:math.MaxUint16]
	}
	out := make([]byte, 0, 2+len(b))
	out = binary.BigEndian.AppendUint16(out, uint16(len(b)))
	return append(out, b...)
}

// DataToBlob decodes an OcaBlob and returns its content
func DataToBlob(data []byte) ([]byte, error) {
	if len(data) < 2 {
		return nil, sizeError(DataTypeBlob, "at least 2", len(data))
	}
	n := int(binary.BigEndian.Uint16(data))
	if len(data) < 2+n {
		return nil, &ConversionError{From: "bytes", To: "blob", Reason: "truncated blob"}
	}
	return data[2 : 2+n], nil
}

// DataFromPosition encodes three coordinates as 12 bytes
func DataFromPosition(x, y, z float32) []byte {
	out := make([]byte, 0, 12)
	out = binary.BigEndian.AppendUint32(out, math.Float32bits(x))
	out = binary.BigEndian.AppendUint32(out, math.Float32bits(y))
	return binary.BigEndian.AppendUint32(out, math.Float32bits(z))
}

// readFloats decodes n consecutive float32 values
func readFloats(data []byte, n int) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = math.Float32frombits(binary.BigEndian.Uint32(data[i*4:]))
	}
	return out
}
