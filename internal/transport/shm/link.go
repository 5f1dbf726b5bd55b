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

package shm

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/DISTRHO/DPF-sub001/internal/metrics"
)

// DefaultNameAttempts bounds name probing in CreateUnique.
const DefaultNameAttempts = 64

// Side identifies which process holds a link.
type Side int

const (
	// HostSide creates the segment, writes ToChild and reads ToParent.
	HostSide Side = iota
	// ChildSide maps the segment, writes ToParent and reads ToChild.
	ChildSide
)

func (s Side) String() string {
	if s == HostSide {
		return "host"
	}
	return "child"
}

func (s Side) outbound() Direction {
	if s == HostSide {
		return ToChild
	}
	return ToParent
}

func (s Side) inbound() Direction {
	if s == HostSide {
		return ToParent
	}
	return ToChild
}

// Option configures Create, CreateUnique and Open.
type Option func(*options)

type options struct {
	log      *zap.Logger
	metrics  *metrics.Metrics
	kind     WakeKind
	capacity uint32
	attempts int
}

func defaultOptions() options {
	return options{
		log:      zap.NewNop(),
		kind:     DefaultWakeKind(),
		capacity: ChannelCapacity,
		attempts: DefaultNameAttempts,
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

// WithMetrics records link events on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithWakeKind overrides the wake primitive selected for this build. Both
// peers must agree.
func WithWakeKind(kind WakeKind) Option {
	return func(o *options) { o.kind = kind }
}

// WithCapacity overrides the per-channel capacity of a created segment.
// Peers opening it must pass the same value.
func WithCapacity(capacity uint32) Option {
	return func(o *options) { o.capacity = capacity }
}

// WithNameAttempts bounds name probing in CreateUnique.
func WithNameAttempts(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.attempts = n
		}
	}
}

// Link is one process's end of a shared segment: an outbound channel it
// produces into and an inbound channel it consumes from, each with its own
// waker.
type Link struct {
	seg  *Segment
	side Side
	kind WakeKind

	out     *Channel
	in      *Channel
	outWake Waker
	inWake  Waker

	log     *zap.Logger
	metrics *metrics.Metrics

	closeOnce sync.Once
	closeErr  error
	closed    atomic.Bool
}

// nameCounter feeds CreateUnique. It is shared by all links of a process.
var nameCounter atomic.Uint64

// Create allocates and maps a new segment named name for the host side.
// ErrNameInUse is returned if the name exists.
func Create(name string, opts ...Option) (*Link, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return create(name, o)
}

// CreateUnique creates a segment named "/{prefix}-{n}", probing n until an
// unused name is found or the attempts are exhausted.
func CreateUnique(prefix string, opts ...Option) (*Link, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	for i := 0; i < o.attempts; i++ {
		name := fmt.Sprintf("/%s-%d", prefix, nameCounter.Add(1))
		l, err := create(name, o)
		if errors.Is(err, ErrNameInUse) {
			o.log.Debug("segment name in use", zap.String("name", name))
			continue
		}
		return l, err
	}
	return nil, fmt.Errorf("%w: %d attempts with prefix %q", ErrNameExhausted, o.attempts, prefix)
}

func create(name string, o options) (*Link, error) {
	if err := checkCapacity(o.capacity); err != nil {
		return nil, err
	}
	seg, err := createSegment(name, o.capacity, o.kind)
	if err != nil {
		return nil, err
	}
	l, err := attach(seg, HostSide, o)
	if err != nil {
		seg.Close()
		seg.Remove()
		return nil, err
	}
	l.log.Debug("segment created",
		zap.String("path", seg.Path),
		zap.Uint64("size", seg.Header().TotalSize()),
		zap.Stringer("wake", o.kind))
	return l, nil
}

// Open maps an existing segment for the child side. A segment written by a
// build with a different layout, capacity or wake primitive is rejected with
// ErrLayoutMismatch.
func Open(name string, opts ...Option) (*Link, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	seg, err := openSegment(name, o.kind)
	if err != nil {
		return nil, err
	}
	if got := seg.Header().Capacity(); got != o.capacity {
		seg.Close()
		return nil, fmt.Errorf("%w: capacity %d, this build uses %d", ErrLayoutMismatch, got, o.capacity)
	}
	l, err := attach(seg, ChildSide, o)
	if err != nil {
		seg.Close()
		return nil, err
	}
	return l, nil
}

func attach(seg *Segment, side Side, o options) (*Link, error) {
	log := o.log.With(zap.String("segment", seg.Name), zap.Stringer("side", side))
	l := &Link{
		seg:     seg,
		side:    side,
		kind:    o.kind,
		log:     log,
		metrics: o.metrics,
	}

	outDir, inDir := side.outbound(), side.inbound()
	l.out = newChannel(seg.channelHeader(outDir), seg.channelData(outDir), outDir, log, o.metrics)
	l.in = newChannel(seg.channelHeader(inDir), seg.channelData(inDir), inDir, log, o.metrics)

	create := side == HostSide
	var err error
	if l.outWake, err = newWaker(o.kind, seg, outDir, create); err != nil {
		return nil, err
	}
	if l.inWake, err = newWaker(o.kind, seg, inDir, create); err != nil {
		l.outWake.Close()
		return nil, err
	}
	return l, nil
}

// Name returns the segment name.
func (l *Link) Name() string { return l.seg.Name }

// Side returns the side this link was opened for.
func (l *Link) Side() Side { return l.side }

// Outbound returns the channel this side produces into.
func (l *Link) Outbound() *Channel { return l.out }

// Inbound returns the channel this side consumes from.
func (l *Link) Inbound() *Channel { return l.in }

// Signal wakes the peer after a commit.
func (l *Link) Signal() error {
	if l.closed.Load() {
		return ErrClosed
	}
	return l.outWake.Signal()
}

// Wait blocks until the peer signals or timeout elapses.
func (l *Link) Wait(timeout time.Duration) bool {
	if l.closed.Load() {
		return false
	}
	if l.inWake.Wait(timeout) {
		return true
	}
	l.metrics.RecordWakeTimeout(l.side.String())
	return false
}

// Interrupt wakes a goroutine of this process blocked in Wait. The peer may
// see it as a spurious wakeup.
func (l *Link) Interrupt() error {
	if l.closed.Load() {
		return ErrClosed
	}
	return l.inWake.Signal()
}

// Valid reports whether both ends still consider the link alive.
func (l *Link) Valid() bool {
	if l.closed.Load() {
		return false
	}
	return l.seg.Header().Valid()
}

// Close marks the segment invalid, wakes both directions once so a blocked
// peer observes it, and unmaps. The host also unlinks the segment. Close is
// idempotent but must not run concurrently with other methods of l.
func (l *Link) Close() error {
	l.closeOnce.Do(func() {
		l.seg.Header().SetValid(false)
		l.outWake.Signal()
		l.inWake.Signal()
		l.closed.Store(true)

		var firstErr error
		for _, w := range []Waker{l.outWake, l.inWake} {
			if err := w.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		if err := l.seg.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		if l.side == HostSide {
			if err := l.seg.Remove(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		l.closeErr = firstErr
		l.log.Debug("link closed")
	})
	return l.closeErr
}

// LinkState is a diagnostic snapshot of a link.
type LinkState struct {
	Name        string
	Side        Side
	Valid       bool
	WakeKind    WakeKind
	SegmentSize uint64
	HostPID     uint32
	ChildPID    uint32
	Outbound    ChannelState
	Inbound     ChannelState
}

// State snapshots the link. It returns ErrClosed after Close.
func (l *Link) State() (LinkState, error) {
	if l.closed.Load() {
		return LinkState{}, ErrClosed
	}
	h := l.seg.Header()
	return LinkState{
		Name:        l.seg.Name,
		Side:        l.side,
		Valid:       h.Valid(),
		WakeKind:    h.WakeKind(),
		SegmentSize: h.TotalSize(),
		HostPID:     h.HostPID(),
		ChildPID:    h.ChildPID(),
		Outbound:    l.out.State(),
		Inbound:     l.in.State(),
	}, nil
}
