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
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"
)

// UpdateHandler receives decoded values from responses and notifications
type UpdateHandler func(def CommandDefinition, value Variant)

// ErrorHandler receives failures that have no caller to return to: non-OK
// response statuses, unknown handles, unmatched notifications and values
// that could not be decoded
type ErrorHandler func(err error)

// FrameObserver sees every frame sent or received, before decoding
type FrameObserver func(dir Direction, frame []byte)

// Direction of a frame relative to this process
type Direction uint8

const (
	DirectionIn Direction = iota
	DirectionOut
)

func (d Direction) String() string {
	if d == DirectionOut {
		return "out"
	}
	return "in"
}

// clientOptions holds configuration for the OCP.1 client
type clientOptions struct {
	// Endpoint
	address   string
	transport Transport

	// Timing
	connectTimeout time.Duration
	retryInterval  time.Duration
	writeTimeout   time.Duration
	keepAlive      time.Duration

	// Callbacks
	onUpdate      UpdateHandler
	onError       ErrorHandler
	onEstablished func()
	onLost        func()
	observer      FrameObserver

	// Logging and tracing
	logger     *slog.Logger
	logLimiter *rate.Limiter
	tracer     trace.Tracer
}

// defaultOptions returns the default client options
func defaultOptions() *clientOptions {
	return &clientOptions{
		connectTimeout: 50 * time.Millisecond,
		retryInterval:  500 * time.Millisecond,
		writeTimeout:   3 * time.Second,
		logger:         slog.Default(),
		logLimiter:     rate.NewLimiter(rate.Every(time.Second), 10),
		tracer:         otel.Tracer("github.com/edgeo/drivers/ocp1"),
	}
}

// Option is a functional option for configuring the client
type Option func(*clientOptions)

// WithAddress sets the device endpoint as host:port, or a WebSocket URL
// when used with a WebSocket transport
func WithAddress(address string) Option {
	return func(o *clientOptions) {
		o.address = address
	}
}

// WithTransport replaces the default TCP transport
func WithTransport(t Transport) Option {
	return func(o *clientOptions) {
		o.transport = t
	}
}

// WithConnectTimeout bounds each connection attempt
func WithConnectTimeout(d time.Duration) Option {
	return func(o *clientOptions) {
		o.connectTimeout = d
	}
}

// WithRetryInterval sets the delay between connection attempts
func WithRetryInterval(d time.Duration) Option {
	return func(o *clientOptions) {
		o.retryInterval = d
	}
}

// WithWriteTimeout bounds a single send
func WithWriteTimeout(d time.Duration) Option {
	return func(o *clientOptions) {
		o.writeTimeout = d
	}
}

// WithKeepAlive enables KeepAlive messages every interval while connected.
// A link that stays silent for three intervals is treated as lost.
func WithKeepAlive(interval time.Duration) Option {
	return func(o *clientOptions) {
		o.keepAlive = interval
	}
}

// WithUpdateHandler sets the handler for received values
func WithUpdateHandler(h UpdateHandler) Option {
	return func(o *clientOptions) {
		o.onUpdate = h
	}
}

// WithErrorHandler sets the handler for asynchronous failures
func WithErrorHandler(h ErrorHandler) Option {
	return func(o *clientOptions) {
		o.onError = h
	}
}

// WithOnConnectionEstablished sets the callback run after each connect
func WithOnConnectionEstablished(f func()) Option {
	return func(o *clientOptions) {
		o.onEstablished = f
	}
}

// WithOnConnectionLost sets the callback run after each disconnect
func WithOnConnectionLost(f func()) Option {
	return func(o *clientOptions) {
		o.onLost = f
	}
}

// WithFrameObserver installs a tap on raw traffic
func WithFrameObserver(f FrameObserver) Option {
	return func(o *clientOptions) {
		o.observer = f
	}
}

// WithLogger sets the logger for the client
func WithLogger(logger *slog.Logger) Option {
	return func(o *clientOptions) {
		o.logger = logger
	}
}

// WithLogRate limits warnings about dropped frames and unmatched traffic
func WithLogRate(limit rate.Limit, burst int) Option {
	return func(o *clientOptions) {
		o.logLimiter = rate.NewLimiter(limit, burst)
	}
}

// WithTracer sets the tracer used for request spans
func WithTracer(t trace.Tracer) Option {
	return func(o *clientOptions) {
		o.tracer = t
	}
}
