/*
 *
 * Copyright 2025 gRPC authors.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 *
 */

// Package webview runs a web view out of process. The host side creates the
// shared segment, launches the child and exchanges protocol messages with
// it; the child side maps the segment, loads a Backend and serves requests
// on its GUI goroutine.
package webview

import (
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/DISTRHO/DPF-sub001/internal/metrics"
)

var (
	// ErrUnavailable is returned once the child view cannot be used: it
	// failed to start, exited, or broke the protocol. The host keeps running.
	ErrUnavailable = errors.New("webview: unavailable")

	// ErrReadyTimeout is returned by Host.Start when the child does not
	// acknowledge Init in time.
	ErrReadyTimeout = errors.New("webview: child not ready in time")

	// ErrNoBackend is returned when no provider could load a backend.
	ErrNoBackend = errors.New("webview: no backend available")
)

// Child exit codes.
const (
	ExitOK      = 0
	ExitFailure = 1
)

// Option configures a Host or a Child.
type Option func(*options)

type options struct {
	log        *zap.Logger
	metrics    *metrics.Metrics
	executable string
	waitSlice  time.Duration
}

func defaultOptions() options {
	return options{
		log:       zap.NewNop(),
		waitSlice: time.Second,
	}
}

// WithLogger sets the logger. A nil logger discards output.
func WithLogger(log *zap.Logger) Option {
	return func(o *options) {
		if log != nil {
			o.log = log
		}
	}
}

// WithMetrics records frames, wakes and child lifecycle on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithExecutable sets the binary the host launches as the child. It
// defaults to the running executable.
func WithExecutable(path string) Option {
	return func(o *options) { o.executable = path }
}

// WithWaitSlice bounds each blocking wait of the child's link listener.
func WithWaitSlice(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.waitSlice = d
		}
	}
}
