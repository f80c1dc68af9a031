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
	"context"

	"github.com/edgeo/drivers/ocp1/internal/transport"
)

// Transport carries complete OCP.1 frames to and from one device.
// Receive blocks until a whole frame is available; it returns an error
// once the connection is gone. A Transport may be dialled again after
// Close.
type Transport interface {
	Dial(ctx context.Context, address string) error
	Send(ctx context.Context, frame []byte) error
	Receive(ctx context.Context) ([]byte, error)
	Close() error
	IsConnected() bool
}

// NewTCPTransport returns the stream transport used for plain OCP.1
func NewTCPTransport() Transport {
	return transport.NewTCPTransport(MaxMessageSize)
}

// NewWebSocketTransport returns a transport that carries OCP.1 frames in
// binary WebSocket messages. The dial address is a ws:// or wss:// URL,
// or host:port, in which case ws://host:port/ is used.
func NewWebSocketTransport() Transport {
	return transport.NewWebSocketTransport(MaxMessageSize)
}
