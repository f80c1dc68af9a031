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
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Kind is the tag of a Variant
type Kind uint8

const (
	KindNone Kind = iota
	KindBool
	KindInt32
	KindUint8
	KindUint16
	KindUint32
	KindUint64
	KindFloat32
	KindFloat64
	KindString
	KindBytes
)

var kindNames = [...]string{
	KindNone:    "none",
	KindBool:    "bool",
	KindInt32:   "int32",
	KindUint8:   "uint8",
	KindUint16:  "uint16",
	KindUint32:  "uint32",
	KindUint64:  "uint64",
	KindFloat32: "float32",
	KindFloat64: "float64",
	KindString:  "string",
	KindBytes:   "bytes",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", k)
}

// Variant holds exactly one value of a closed set of kinds. The zero value
// is invalid (KindNone). Conversions never modify the stored value.
type Variant struct {
	kind Kind
	u    uint64
	i    int64
	f    float64
	s    string
	raw  []byte
}

// NewBool creates a boolean Variant
func NewBool(v bool) Variant {
	var u uint64
	if v {
		u = 1
	}
	return Variant{kind: KindBool, u: u}
}

// NewInt32 creates an int32 Variant
func NewInt32(v int32) Variant { return Variant{kind: KindInt32, i: int64(v)} }

// NewUint8 creates a uint8 Variant
func NewUint8(v uint8) Variant { return Variant{kind: KindUint8, u: uint64(v)} }

// NewUint16 creates a uint16 Variant
func NewUint16(v uint16) Variant { return Variant{kind: KindUint16, u: uint64(v)} }

// NewUint32 creates a uint32 Variant
func NewUint32(v uint32) Variant { return Variant{kind: KindUint32, u: uint64(v)} }

// NewUint64 creates a uint64 Variant
func NewUint64(v uint64) Variant { return Variant{kind: KindUint64, u: v} }

// NewFloat32 creates a float32 Variant
func NewFloat32(v float32) Variant { return Variant{kind: KindFloat32, f: float64(v)} }

// NewFloat64 creates a float64 Variant
func NewFloat64(v float64) Variant { return Variant{kind: KindFloat64, f: v} }

// NewString creates a string Variant
func NewString(v string) Variant { return Variant{kind: KindString, s: v} }

// NewBytes creates a byte vector Variant. The slice is copied.
func NewBytes(v []byte) Variant {
	return Variant{kind: KindBytes, raw: bytes.Clone(v)}
}

// NewPosition stores three coordinates as 12 big-endian bytes
func NewPosition(x, y, z float32) Variant {
	return Variant{kind: KindBytes, raw: DataFromPosition(x, y, z)}
}

// VariantFromData decodes parameter data of the given OCA type. On failure
// the returned Variant is invalid and the error says why.
func VariantFromData(data []byte, t DataType) (Variant, error) {
	switch t {
	case DataTypeBoolean:
		v, err := DataToBool(data)
		if err != nil {
			return Variant{}, err
		}
		return NewBool(v), nil
	case DataTypeInt32:
		v, err := DataToInt32(data)
		if err != nil {
			return Variant{}, err
		}
		return NewInt32(v), nil
	case DataTypeUint8:
		v, err := DataToUint8(data)
		if err != nil {
			return Variant{}, err
		}
		return NewUint8(v), nil
	case DataTypeUint16:
		v, err := DataToUint16(data)
		if err != nil {
			return Variant{}, err
		}
		return NewUint16(v), nil
	case DataTypeUint32:
		v, err := DataToUint32(data)
		if err != nil {
			return Variant{}, err
		}
		return NewUint32(v), nil
	case DataTypeUint64:
		v, err := DataToUint64(data)
		if err != nil {
			return Variant{}, err
		}
		return NewUint64(v), nil
	case DataTypeFloat32:
		v, err := DataToFloat32(data)
		if err != nil {
			return Variant{}, err
		}
		return NewFloat32(v), nil
	case DataTypeFloat64:
		v, err := DataToFloat64(data)
		if err != nil {
			return Variant{}, err
		}
		return NewFloat64(v), nil
	case DataTypeString:
		v, err := DataToString(data)
		if err != nil {
			return Variant{}, err
		}
		return NewString(v), nil
	case DataTypeBlob:
		// Stored with its length prefix
		if len(data) < 2 {
			return Variant{}, sizeError(t, "at least 2", len(data))
		}
		return NewBytes(data), nil
	case DataTypeDBPosition:
		// 3 floats (x, y, z), 6 floats (plus rotation) or 9 floats
		// (current, min and max x, y, z)
		switch len(data) {
		case 12, 24, 36:
			return NewBytes(data), nil
		}
		return Variant{}, sizeError(t, "12, 24 or 36", len(data))
	default:
		return Variant{}, fmt.Errorf("%w: %s", ErrUnsupportedType, t)
	}
}

// Kind returns the tag of the stored value
func (v Variant) Kind() Kind { return v.kind }

// IsValid reports whether the Variant holds a value
func (v Variant) IsValid() bool { return v.kind != KindNone }

func (v Variant) convErr(to string, reason string) error {
	return &ConversionError{From: v.kind.String(), To: to, Reason: reason}
}

// ToBool converts the value to a boolean. Numbers are true when > 0,
// strings when equal to "true".
func (v Variant) ToBool() (bool, error) {
	switch v.kind {
	case KindBool, KindUint8, KindUint16, KindUint32, KindUint64:
		return v.u > 0, nil
	case KindInt32:
		return v.i > 0, nil
	case KindFloat32, KindFloat64:
		return v.f > 0, nil
	case KindString:
		return v.s == "true", nil
	case KindBytes:
		return DataToBool(v.raw)
	}
	return false, v.convErr("bool", "")
}

// integer reduces the numeric kinds to an int64 (rounded for floats).
// Strings are parsed.
func (v Variant) integer(to string) (int64, error) {
	switch v.kind {
	case KindBool, KindUint8, KindUint16, KindUint32, KindUint64:
		return int64(v.u), nil
	case KindInt32:
		return v.i, nil
	case KindFloat32, KindFloat64:
		return int64(math.Round(v.f)), nil
	case KindString:
		n, ok := parseInteger(v.s)
		if !ok {
			return 0, v.convErr(to, fmt.Sprintf("%q is not a number", v.s))
		}
		return n, nil
	}
	return 0, v.convErr(to, "")
}

// parseInteger reads decimal text, or hex with an explicit 0x prefix.
// Decimal fractions are rounded.
func parseInteger(text string) (int64, bool) {
	s := strings.TrimSpace(text)
	if h, ok := strings.CutPrefix(strings.ToLower(s), "0x"); ok {
		n, err := strconv.ParseUint(h, 16, 64)
		return int64(n), err == nil
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n, true
	}
	if n, err := strconv.ParseUint(s, 10, 64); err == nil {
		return int64(n), true
	}
	if strings.ContainsAny(s, "_xXpP") {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || f >= 0x1p63 || f < -0x1p63 {
		return 0, false
	}
	return int64(math.Round(f)), true
}

// ToInt32 converts the value to int32. Wider values are truncated.
func (v Variant) ToInt32() (int32, error) {
	if v.kind == KindBytes {
		return DataToInt32(v.raw)
	}
	n, err := v.integer("int32")
	return int32(n), err
}

// ToUint8 converts the value to uint8. Wider values are truncated.
func (v Variant) ToUint8() (uint8, error) {
	if v.kind == KindBytes {
		return DataToUint8(v.raw)
	}
	n, err := v.integer("uint8")
	return uint8(n), err
}

// ToUint16 converts the value to uint16. Wider values are truncated.
func (v Variant) ToUint16() (uint16, error) {
	if v.kind == KindBytes {
		return DataToUint16(v.raw)
	}
	n, err := v.integer("uint16")
	return uint16(n), err
}

// ToUint32 converts the value to uint32. Wider values are truncated.
func (v Variant) ToUint32() (uint32, error) {
	if v.kind == KindBytes {
		return DataToUint32(v.raw)
	}
	n, err := v.integer("uint32")
	return uint32(n), err
}

// ToUint64 converts the value to uint64
func (v Variant) ToUint64() (uint64, error) {
	switch v.kind {
	case KindBytes:
		return DataToUint64(v.raw)
	case KindUint64:
		return v.u, nil
	}
	n, err := v.integer("uint64")
	return uint64(n), err
}

func (v Variant) float(to string) (float64, error) {
	switch v.kind {
	case KindBool, KindUint8, KindUint16, KindUint32, KindUint64:
		return float64(v.u), nil
	case KindInt32:
		return float64(v.i), nil
	case KindFloat32, KindFloat64:
		return v.f, nil
	case KindString:
		f, err := strconv.ParseFloat(strings.TrimSpace(v.s), 64)
		if err != nil {
			return 0, v.convErr(to, fmt.Sprintf("%q is not a number", v.s))
		}
		return f, nil
	}
	return 0, v.convErr(to, "")
}

// ToFloat32 converts the value to float32
func (v Variant) ToFloat32() (float32, error) {
	if v.kind == KindBytes {
		return DataToFloat32(v.raw)
	}
	f, err := v.float("float32")
	return float32(f), err
}

// ToFloat64 converts the value to float64
func (v Variant) ToFloat64() (float64, error) {
	if v.kind == KindBytes {
		return DataToFloat64(v.raw)
	}
	return v.float("float64")
}

// ToString converts the value to its textual form. Byte vectors are
// decoded as an OcaString.
func (v Variant) ToString() (string, error) {
	switch v.kind {
	case KindBool:
		return strconv.FormatBool(v.u != 0), nil
	case KindInt32:
		return strconv.FormatInt(v.i, 10), nil
	case KindUint8, KindUint16, KindUint32, KindUint64:
		return strconv.FormatUint(v.u, 10), nil
	case KindFloat32:
		return strconv.FormatFloat(v.f, 'g', -1, 32), nil
	case KindFloat64:
		return strconv.FormatFloat(v.f, 'g', -1, 64), nil
	case KindString:
		return v.s, nil
	case KindBytes:
		return DataToString(v.raw)
	}
	return "", v.convErr("string", "")
}

// ToBytes returns the natural wire encoding of the value
func (v Variant) ToBytes() ([]byte, error) {
	return v.ToParamData(DataTypeNone)
}

// ToParamData encodes the value as parameter data of type t. DataTypeNone
// selects the encoding of the stored kind.
func (v Variant) ToParamData(t DataType) ([]byte, error) {
	if t == DataTypeNone {
		switch v.kind {
		case KindBool:
			return DataFromBool(v.u != 0), nil
		case KindInt32:
			return DataFromInt32(int32(v.i)), nil
		case KindUint8:
			return DataFromUint8(uint8(v.u)), nil
		case KindUint16:
			return DataFromUint16(uint16(v.u)), nil
		case KindUint32:
			return DataFromUint32(uint32(v.u)), nil
		case KindUint64:
			return DataFromUint64(v.u), nil
		case KindFloat32:
			return DataFromFloat32(float32(v.f)), nil
		case KindFloat64:
			return DataFromFloat64(v.f), nil
		case KindString:
			return DataFromString(v.s), nil
		case KindBytes:
			return bytes.Clone(v.raw), nil
		}
		return nil, v.convErr("bytes", "empty value")
	}

	switch t {
	case DataTypeBoolean:
		b, err := v.ToBool()
		return DataFromBool(b), err
	case DataTypeInt32:
		n, err := v.ToInt32()
		return DataFromInt32(n), err
	case DataTypeUint8:
		n, err := v.ToUint8()
		return DataFromUint8(n), err
	case DataTypeUint16:
		n, err := v.ToUint16()
		return DataFromUint16(n), err
	case DataTypeUint32:
		n, err := v.ToUint32()
		return DataFromUint32(n), err
	case DataTypeUint64:
		n, err := v.ToUint64()
		return DataFromUint64(n), err
	case DataTypeFloat32:
		f, err := v.ToFloat32()
		return DataFromFloat32(f), err
	case DataTypeFloat64:
		f, err := v.ToFloat64()
		return DataFromFloat64(f), err
	case DataTypeString:
		s, err := v.ToString()
		return DataFromString(s), err
	case DataTypeBlob:
		if v.kind == KindBytes && len(v.raw) >= 2 {
			return bytes.Clone(v.raw), nil
		}
		b, err := v.ToBytes()
		if err != nil {
			return nil, err
		}
		return DataFromBlob(b), nil
	case DataTypeDBPosition:
		// x, y, z or x, y, z plus rotation
		if v.kind == KindBytes && (len(v.raw) == 12 || len(v.raw) == 24) {
			return bytes.Clone(v.raw), nil
		}
		return nil, v.convErr(t.String(), "expected 12 or 24 bytes")
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupportedType, t)
}

// ToPosition decodes x, y, z from a 12 or 36 byte value. A 36 byte value
// carries current, minimum and maximum; the current position is returned.
func (v Variant) ToPosition() (x, y, z float32, err error) {
	if v.kind != KindBytes || (len(v.raw) != 12 && len(v.raw) != 36) {
		return 0, 0, 0, v.convErr("position", fmt.Sprintf("expected 12 or 36 bytes, got %d", len(v.raw)))
	}
	f := readFloats(v.raw, 3)
	return f[0], f[1], f[2], nil
}

// ToPositionAndRotation decodes x, y, z, horizontal, vertical and rotation
// angles from a 24 byte value
func (v Variant) ToPositionAndRotation() (x, y, z, hor, vert, rot float32, err error) {
	if v.kind != KindBytes || len(v.raw) != 24 {
		return 0, 0, 0, 0, 0, 0, v.convErr("position-and-rotation", fmt.Sprintf("expected 24 bytes, got %d", len(v.raw)))
	}
	f := readFloats(v.raw, 6)
	return f[0], f[1], f[2], f[3], f[4], f[5], nil
}

// ToBoolVector decodes a u16 count followed by one byte per element
func (v Variant) ToBoolVector() ([]bool, error) {
	if v.kind != KindBytes || len(v.raw) < 2 {
		return nil, v.convErr("bool-vector", "missing count")
	}
	n := int(binary.BigEndian.Uint16(v.raw))
	if len(v.raw) != 2+n {
		return nil, v.convErr("bool-vector", fmt.Sprintf("count %d does not match %d bytes", n, len(v.raw)-2))
	}
	out := make([]bool, n)
	for i := range out {
		out[i] = v.raw[2+i] != 0
	}
	return out, nil
}

// ToStringArray decodes a u16 count followed by that many OcaStrings
func (v Variant) ToStringArray() ([]string, error) {
	if v.kind != KindBytes || len(v.raw) < 2 {
		return nil, v.convErr("string-array", "missing count")
	}
	n := int(binary.BigEndian.Uint16(v.raw))
	out := make([]string, 0, n)
	offset := 2
	for offset < len(v.raw) {
		s, used, err := readString(v.raw[offset:])
		if err != nil {
			return nil, err
		}
		out = append(out, s)
		offset += used
	}
	if len(out) != n {
		return nil, v.convErr("string-array", fmt.Sprintf("expected %d strings, decoded %d", n, len(out)))
	}
	return out, nil
}

// Equal reports whether both Variants have the same kind and value
func (v Variant) Equal(other Variant) bool {
	if v.kind != other.kind {
		return false
	}
	switch v.kind {
	case KindNone:
		return true
	case KindInt32:
		return v.i == other.i
	case KindFloat32, KindFloat64:
		return v.f == other.f
	case KindString:
		return v.s == other.s
	case KindBytes:
		return bytes.Equal(v.raw, other.raw)
	default:
		return v.u == other.u
	}
}

// Interface returns the stored value as a native Go value
func (v Variant) Interface() any {
	switch v.kind {
	case KindBool:
		return v.u != 0
	case KindInt32:
		return int32(v.i)
	case KindUint8:
		return uint8(v.u)
	case KindUint16:
		return uint16(v.u)
	case KindUint32:
		return uint32(v.u)
	case KindUint64:
		return v.u
	case KindFloat32:
		return float32(v.f)
	case KindFloat64:
		return v.f
	case KindString:
		return v.s
	case KindBytes:
		return bytes.Clone(v.raw)
	}
	return nil
}

func (v Variant) String() string {
	switch v.kind {
	case KindNone:
		return "<none>"
	case KindBytes:
		if x, y, z, err := v.ToPosition(); err == nil {
			return fmt.Sprintf("(%g, %g, %g)", x, y, z)
		}
		return hex.EncodeToString(v.raw)
	}
	s, _ := v.ToString()
	return s
}

// ParseVariant builds a Variant of the kind matching t from user text.
// Positions are written as "x,y,z".
func ParseVariant(text string, t DataType) (Variant, error) {
	if t == DataTypeDBPosition {
		parts := strings.Split(text, ",")
		if len(parts) != 3 && len(parts) != 6 {
			return Variant{}, &ConversionError{From: "string", To: t.String(), Reason: "expected x,y,z"}
		}
		return positionFromText(parts)
	}
	switch t {
	case DataTypeBoolean:
		b, err := strconv.ParseBool(strings.TrimSpace(text))
		if err != nil {
			return Variant{}, &ConversionError{From: "string", To: t.String(), Reason: err.Error()}
		}
		return NewBool(b), nil
	case DataTypeBlob:
		b, err := hex.DecodeString(strings.TrimSpace(text))
		if err != nil {
			return Variant{}, &ConversionError{From: "string", To: t.String(), Reason: err.Error()}
		}
		return NewBytes(DataFromBlob(b)), nil
	case DataTypeInt32, DataTypeUint8, DataTypeUint16, DataTypeUint32, DataTypeUint64:
		return integerFromText(text, t)
	}
	s := NewString(text)
	data, err := s.ToParamData(t)
	if err != nil {
		return Variant{}, err
	}
	return VariantFromData(data, t)
}

// integerFromText rejects text outside the range of t instead of
// narrowing it.
func integerFromText(text string, t DataType) (Variant, error) {
	n, ok := parseInteger(text)
	if !ok {
		return Variant{}, &ConversionError{From: "string", To: t.String(), Reason: fmt.Sprintf("%q is not a number", text)}
	}
	outOfRange := &ConversionError{From: "string", To: t.String(), Reason: fmt.Sprintf("%s is out of range", strings.TrimSpace(text))}
	switch t {
	case DataTypeInt32:
		if n < math.MinInt32 || n > math.MaxInt32 {
			return Variant{}, outOfRange
		}
		return NewInt32(int32(n)), nil
	case DataTypeUint8:
		if n < 0 || n > math.MaxUint8 {
			return Variant{}, outOfRange
		}
		return NewUint8(uint8(n)), nil
	case DataTypeUint16:
		if n < 0 || n > math.MaxUint16 {
			return Variant{}, outOfRange
		}
		return NewUint16(uint16(n)), nil
	case DataTypeUint32:
		if n < 0 || n > math.MaxUint32 {
			return Variant{}, outOfRange
		}
		return NewUint32(uint32(n)), nil
	}
	// values above MaxInt64 come back from parseInteger as negative int64
	if n < 0 && strings.HasPrefix(strings.TrimSpace(text), "-") {
		return Variant{}, outOfRange
	}
	return NewUint64(uint64(n)), nil
}

func positionFromText(parts []string) (Variant, error) {
	raw := make([]byte, 0, 4*len(parts))
	for _, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 32)
		if err != nil {
			return Variant{}, &ConversionError{From: "string", To: "position", Reason: err.Error()}
		}
		raw = append(raw, DataFromFloat32(float32(f))...)
	}
	return Variant{kind: KindBytes, raw: raw}, nil
}
