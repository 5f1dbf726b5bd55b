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

// Package metrics holds the Prometheus collectors for the web view link.
//
// A nil *Metrics is valid and records nothing, so components take one
// unconditionally.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Child stop outcomes.
const (
	OutcomeExited   = "exited"
	OutcomeGraceful = "graceful"
	OutcomeKilled   = "killed"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// Link metrics
	FramesTotal         *prometheus.CounterVec
	FlowControlFailures *prometheus.CounterVec
	WakeTimeouts        *prometheus.CounterVec
	LinkCorruptions     prometheus.Counter

	// Child process metrics
	ChildStarts prometheus.Counter
	ChildStops  *prometheus.CounterVec
}

// New registers the collectors on reg. A nil reg uses the default registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)

	return &Metrics{
		FramesTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "webview_frames_total",
				Help: "Frames committed or consumed, by direction and message kind",
			},
			[]string{"direction", "kind"},
		),
		FlowControlFailures: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "webview_flow_control_failures_total",
				Help: "Frames discarded because the channel was full",
			},
			[]string{"direction"},
		),
		WakeTimeouts: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "webview_wake_timeouts_total",
				Help: "Bounded waits that expired without a signal",
			},
			[]string{"side"},
		),
		LinkCorruptions: f.NewCounter(
			prometheus.CounterOpts{
				Name: "webview_link_corruptions_total",
				Help: "Links torn down after a malformed frame",
			},
		),
		ChildStarts: f.NewCounter(
			prometheus.CounterOpts{
				Name: "webview_child_starts_total",
				Help: "Child processes launched",
			},
		),
		ChildStops: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "webview_child_stops_total",
				Help: "Child processes reaped, by how they ended",
			},
			[]string{"outcome"},
		),
	}
}

// RecordFrame counts one frame.
func (m *Metrics) RecordFrame(direction, kind string) {
	if m == nil {
		return
	}
	m.FramesTotal.WithLabelValues(direction, kind).Inc()
}

// RecordFlowControl counts one discarded frame.
func (m *Metrics) RecordFlowControl(direction string) {
	if m == nil {
		return
	}
	m.FlowControlFailures.WithLabelValues(direction).Inc()
}

// RecordWakeTimeout counts one expired wait.
func (m *Metrics) RecordWakeTimeout(side string) {
	if m == nil {
		return
	}
	m.WakeTimeouts.WithLabelValues(side).Inc()
}

// RecordCorruption counts one torn-down link.
func (m *Metrics) RecordCorruption() {
	if m == nil {
		return
	}
	m.LinkCorruptions.Inc()
}

// RecordChildStart counts one launch.
func (m *Metrics) RecordChildStart() {
	if m == nil {
		return
	}
	m.ChildStarts.Inc()
}

// RecordChildStop counts one reaped child.
func (m *Metrics) RecordChildStop(outcome string) {
	if m == nil {
		return
	}
	m.ChildStops.WithLabelValues(outcome).Inc()
}
