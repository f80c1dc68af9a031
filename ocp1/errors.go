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
	"errors"
	"fmt"
)

// Sentinel errors
var (
	ErrInvalidMessage        = errors.New("ocp1: invalid message")
	ErrInvalidHeader         = errors.New("ocp1: invalid header")
	ErrNotConnected          = errors.New("ocp1: not connected")
	ErrUnknownHandle         = errors.New("ocp1: unknown response handle")
	ErrUnmatchedNotification = errors.New("ocp1: notification matches no binding")
	ErrConversion            = errors.New("ocp1: value conversion failed")
	ErrUnsupportedType       = errors.New("ocp1: unsupported data type")
)

// Status is the OCA response status code
type Status uint8

const (
	StatusOK                   Status = 0
	StatusProtocolVersionError Status = 1
	StatusDeviceError          Status = 2
	StatusLocked               Status = 3
	StatusBadFormat            Status = 4
	StatusBadONo               Status = 5
	StatusParameterError       Status = 6
	StatusParameterOutOfRange  Status = 7
	StatusNotImplemented       Status = 8
	StatusInvalidRequest       Status = 9
	StatusProcessingFailed     Status = 10
	StatusBadMethod            Status = 11
	StatusPartiallySucceeded   Status = 12
	StatusTimeout              Status = 13
	StatusBufferOverflow       Status = 14
)

var statusNames = map[Status]string{
	StatusOK:                   "OK",
	StatusProtocolVersionError: "ProtocolVersionError",
	StatusDeviceError:          "DeviceError",
	StatusLocked:               "Locked",
	StatusBadFormat:            "BadFormat",
	StatusBadONo:               "BadONo",
	StatusParameterError:       "ParameterError",
	StatusParameterOutOfRange:  "ParameterOutOfRange",
	StatusNotImplemented:       "NotImplemented",
	StatusInvalidRequest:       "InvalidRequest",
	StatusProcessingFailed:     "ProcessingFailed",
	StatusBadMethod:            "BadMethod",
	StatusPartiallySucceeded:   "PartiallySucceeded",
	StatusTimeout:              "Timeout",
	StatusBufferOverflow:       "BufferOverflow",
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("status(%d)", s)
}

// StatusError reports a response that carried a non-OK status
type StatusError struct {
	Handle uint32
	ONo    uint32
	Status Status
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("ocp1: handle %d (ono 0x%08x) failed: %s", e.Handle, e.ONo, e.Status)
}

// Is matches any StatusError, or one with the same status when target sets it
func (e *StatusError) Is(target error) bool {
	t, ok := target.(*StatusError)
	if !ok {
		return false
	}
	return t.Status == StatusOK || t.Status == e.Status
}

// ConversionError describes a failed Variant conversion
type ConversionError struct {
	From   string
	To     string
	Reason string
}

func (e *ConversionError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("ocp1: cannot convert %s to %s", e.From, e.To)
	}
	return fmt.Sprintf("ocp1: cannot convert %s to %s: %s", e.From, e.To, e.Reason)
}

func (e *ConversionError) Is(target error) bool {
	return target == ErrConversion
}

// IsStatus checks if the error is a StatusError with the given status
func IsStatus(err error, status Status) bool {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Status == status
	}
	return false
}

// IsConversion checks if the error is a conversion failure
func IsConversion(err error) bool {
	return errors.Is(err, ErrConversion)
}

// IsNotConnected checks if the request was not sent for lack of a connection
func IsNotConnected(err error) bool {
	return errors.Is(err, ErrNotConnected)
}
