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
	"encoding/binary"
	"fmt"
	"math"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/DISTRHO/DPF-sub001/internal/metrics"
)

// Channel is one direction of a link: a fixed-capacity circular byte
// buffer carrying frames built from typed writes.
//
// Exactly one goroutine (in one process) may write and exactly one may read.
// Writes never block. A write that does not fit poisons the pending frame,
// and the next Commit discards it and returns ErrFlowControl; frames are
// never partially published. Commit makes the frame visible with a single
// store of head.
//
// All multi-byte values are little-endian.
type Channel struct {
	hdr  *ChannelHeader
	data []byte
	size uint32
	dir  Direction

	log     *zap.Logger
	metrics *metrics.Metrics

	// Process-local; report a failure streak once.
	errWriting bool
	errReading bool
}

func newChannel(hdr *ChannelHeader, data []byte, dir Direction, log *zap.Logger, m *metrics.Metrics) *Channel {
	if log == nil {
		log = zap.NewNop()
	}
	return &Channel{
		hdr:     hdr,
		data:    data,
		size:    uint32(len(data)),
		dir:     dir,
		log:     log.With(zap.Stringer("direction", dir)),
		metrics: m,
	}
}

// NewHeapChannel returns a channel backed by process memory. It has the
// same semantics as a channel in a segment and is used where both ends live
// in one process.
func NewHeapChannel(capacity uint32, dir Direction, log *zap.Logger, m *metrics.Metrics) (*Channel, error) {
	if err := checkCapacity(capacity); err != nil {
		return nil, err
	}
	hdr := &ChannelHeader{capacity: capacity}
	return newChannel(hdr, make([]byte, capacity), dir, log, m), nil
}

// Capacity returns the size of the data area. At most Capacity()-1 bytes
// can be in flight.
func (c *Channel) Capacity() uint32 { return c.size }

// Direction reports which way the channel carries frames.
func (c *Channel) Direction() Direction { return c.dir }

// free returns the bytes the producer may still add to the pending frame.
func (c *Channel) free() uint32 {
	tail := atomic.LoadUint32(&c.hdr.tail)
	wrtn := atomic.LoadUint32(&c.hdr.written)
	if tail > wrtn {
		return tail - wrtn - 1
	}
	return c.size + tail - wrtn - 1
}

// readable returns the committed bytes not yet consumed.
func (c *Channel) readable() uint32 {
	head := atomic.LoadUint32(&c.hdr.head)
	tail := atomic.LoadUint32(&c.hdr.tail)
	if head >= tail {
		return head - tail
	}
	return c.size + head - tail
}

// write appends p to the pending frame.
func (c *Channel) write(p []byte) error {
	if atomic.LoadUint32(&c.hdr.invalid) != 0 {
		return ErrFlowControl
	}
	n := uint32(len(p))
	if n == 0 {
		return nil
	}
	if free := c.free(); uint64(len(p)) >= uint64(c.size) || n > free {
		atomic.StoreUint32(&c.hdr.invalid, 1)
		if !c.errWriting {
			c.errWriting = true
			c.log.Warn("channel full, discarding frame",
				zap.Int("size", len(p)), zap.Uint32("free", free))
		}
		return fmt.Errorf("%w: %d bytes, %d free", ErrFlowControl, len(p), free)
	}

	wrtn := atomic.LoadUint32(&c.hdr.written)
	first := copy(c.data[wrtn:], p)
	copy(c.data, p[first:])

	wrtn += n
	if wrtn >= c.size {
		wrtn -= c.size
	}
	atomic.StoreUint32(&c.hdr.written, wrtn)
	return nil
}

// WriteUint32 appends v to the pending frame.
func (c *Channel) WriteUint32(v uint32) error {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	return c.write(b[:])
}

// WriteInt32 appends v to the pending frame.
func (c *Channel) WriteInt32(v int32) error {
	return c.WriteUint32(uint32(v))
}

// WriteUint64 appends v to the pending frame.
func (c *Channel) WriteUint64(v uint64) error {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	return c.write(b[:])
}

// WriteInt64 appends v to the pending frame.
func (c *Channel) WriteInt64(v int64) error {
	return c.WriteUint64(uint64(v))
}

// WriteDouble appends the IEEE-754 bits of v to the pending frame.
func (c *Channel) WriteDouble(v float64) error {
	return c.WriteUint64(math.Float64bits(v))
}

// WriteBool appends v as a single byte.
func (c *Channel) WriteBool(v bool) error {
	var b [1]byte
	if v {
		b[0] = 1
	}
	return c.write(b[:])
}

// WriteBlob appends a u32 length followed by p.
func (c *Channel) WriteBlob(p []byte) error {
	if err := c.WriteUint32(uint32(len(p))); err != nil {
		return err
	}
	return c.write(p)
}

// WriteString appends s as a blob.
func (c *Channel) WriteString(s string) error {
	return c.WriteBlob([]byte(s))
}

// Commit publishes the pending frame. If any write of the frame failed the
// frame is dropped and ErrFlowControl is returned; the channel is then
// ready for the next frame.
func (c *Channel) Commit() error {
	if atomic.LoadUint32(&c.hdr.invalid) != 0 {
		c.Discard()
		c.metrics.RecordFlowControl(c.dir.String())
		return ErrFlowControl
	}
	wrtn := atomic.LoadUint32(&c.hdr.written)
	if wrtn == atomic.LoadUint32(&c.hdr.head) {
		return ErrEmptyFrame
	}
	atomic.StoreUint32(&c.hdr.head, wrtn)
	c.errWriting = false
	return nil
}

// Discard drops the pending frame without publishing it.
func (c *Channel) Discard() {
	atomic.StoreUint32(&c.hdr.written, atomic.LoadUint32(&c.hdr.head))
	atomic.StoreUint32(&c.hdr.invalid, 0)
}

// HasData reports whether a committed frame is waiting. Consumer only.
func (c *Channel) HasData() bool {
	return atomic.LoadUint32(&c.hdr.head) != atomic.LoadUint32(&c.hdr.tail)
}

// read consumes exactly len(p) committed bytes. Running out of committed
// bytes mid-frame means the peer broke framing.
func (c *Channel) read(p []byte) error {
	n := uint32(len(p))
	if avail := c.readable(); uint64(len(p)) >= uint64(c.size) || n > avail {
		if !c.errReading {
			c.errReading = true
			c.log.Error("short read", zap.Int("want", len(p)), zap.Uint32("available", avail))
		}
		return fmt.Errorf("%w: short read of %d bytes, %d available", ErrCorrupt, len(p), avail)
	}

	tail := atomic.LoadUint32(&c.hdr.tail)
	first := copy(p, c.data[tail:])
	copy(p[first:], c.data)

	tail += n
	if tail >= c.size {
		tail -= c.size
	}
	atomic.StoreUint32(&c.hdr.tail, tail)
	c.errReading = false
	return nil
}

// ReadUint32 consumes a u32.
func (c *Channel) ReadUint32() (uint32, error) {
	var b [4]byte
	if err := c.read(b[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b[:]), nil
}

// ReadInt32 consumes an i32.
func (c *Channel) ReadInt32() (int32, error) {
	v, err := c.ReadUint32()
	return int32(v), err
}

// ReadUint64 consumes a u64.
func (c *Channel) ReadUint64() (uint64, error) {
	var b [8]byte
	if err := c.read(b[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b[:]), nil
}

// ReadInt64 consumes an i64.
func (c *Channel) ReadInt64() (int64, error) {
	v, err := c.ReadUint64()
	return int64(v), err
}

// ReadDouble consumes an IEEE-754 double.
func (c *Channel) ReadDouble() (float64, error) {
	v, err := c.ReadUint64()
	return math.Float64frombits(v), err
}

// ReadBool consumes a single byte.
func (c *Channel) ReadBool() (bool, error) {
	var b [1]byte
	if err := c.read(b[:]); err != nil {
		return false, err
	}
	return b[0] != 0, nil
}

// ReadBlob consumes a length-prefixed blob. The returned slice is a copy.
func (c *Channel) ReadBlob() ([]byte, error) {
	n, err := c.ReadUint32()
	if err != nil {
		return nil, err
	}
	if n >= c.size {
		return nil, fmt.Errorf("%w: blob length %d exceeds capacity %d", ErrCorrupt, n, c.size)
	}
	p := make([]byte, n)
	if n == 0 {
		return p, nil
	}
	if err := c.read(p); err != nil {
		return nil, err
	}
	return p, nil
}

// ReadString consumes a blob as a string.
func (c *Channel) ReadString() (string, error) {
	p, err := c.ReadBlob()
	if err != nil {
		return "", err
	}
	return string(p), nil
}

// Flush resets all positions to zero. Only valid while no peer can observe
// the channel.
func (c *Channel) Flush() {
	atomic.StoreUint32(&c.hdr.head, 0)
	atomic.StoreUint32(&c.hdr.tail, 0)
	atomic.StoreUint32(&c.hdr.written, 0)
	atomic.StoreUint32(&c.hdr.invalid, 0)
	c.errWriting = false
	c.errReading = false
}

// ChannelState is a point-in-time snapshot of a channel.
type ChannelState struct {
	Direction Direction
	Capacity  uint32
	Head      uint32
	Tail      uint32
	Pending   uint32 // uncommitted bytes of the current frame
	Readable  uint32 // committed bytes not yet consumed
	Free      uint32 // bytes the producer may still write
	Poisoned  bool   // pending frame will be discarded
}

// State snapshots the channel positions. The fields are loaded one by one
// and may be mutually inconsistent while peers are active.
func (c *Channel) State() ChannelState {
	head := atomic.LoadUint32(&c.hdr.head)
	wrtn := atomic.LoadUint32(&c.hdr.written)
	pending := wrtn - head
	if wrtn < head {
		pending = c.size + wrtn - head
	}
	return ChannelState{
		Direction: c.dir,
		Capacity:  c.size,
		Head:      head,
		Tail:      atomic.LoadUint32(&c.hdr.tail),
		Pending:   pending,
		Readable:  c.readable(),
		Free:      c.free(),
		Poisoned:  atomic.LoadUint32(&c.hdr.invalid) != 0,
	}
}
