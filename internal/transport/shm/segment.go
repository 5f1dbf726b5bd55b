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
	"fmt"
	"os"
	"sync/atomic"
	"unsafe"
)

// Memory layout constants
const (
	// Magic bytes for segment identification
	SegmentMagic = "DPFWVSHM"

	// Layout version. Bumped whenever any offset below changes.
	SegmentVersion = uint32(1)

	// Segment header size (aligned to 64 bytes)
	SegmentHeaderSize = 64

	// Channel header size (aligned to 64 bytes)
	ChannelHeaderSize = 64

	// ChannelCapacity is the data area of each channel in a segment. Both
	// peers must be built with the same value.
	ChannelCapacity = 1 << 20

	// Smallest capacity accepted for heap channels and test segments.
	MinChannelCapacity = 16
)

// SegmentHeader is the segment header at offset 0 of the mapping.
type SegmentHeader struct {
	magic     [8]byte  // 0x00: "DPFWVSHM"
	version   uint32   // 0x08: layout version
	valid     uint32   // 0x0C: 1 while the host keeps the link alive
	totalSize uint64   // 0x10: total segment size
	capacity  uint32   // 0x18: per-channel data capacity
	wakeKind  uint32   // 0x1C: WakeKind used by both channels
	hostPID   uint32   // 0x20: creating process
	childPID  uint32   // 0x24: mapping process
	reserved  [24]byte // 0x28-0x3F: reserved/padding to 64B
}

// Valid reports whether the host still keeps the link alive.
func (h *SegmentHeader) Valid() bool {
	return atomic.LoadUint32(&h.valid) != 0
}

// SetValid sets the valid flag
func (h *SegmentHeader) SetValid(valid bool) {
	var val uint32
	if valid {
		val = 1
	}
	atomic.StoreUint32(&h.valid, val)
}

// Version returns the layout version
func (h *SegmentHeader) Version() uint32 {
	return atomic.LoadUint32(&h.version)
}

// TotalSize returns the total segment size
func (h *SegmentHeader) TotalSize() uint64 {
	return atomic.LoadUint64(&h.totalSize)
}

// Capacity returns the per-channel capacity
func (h *SegmentHeader) Capacity() uint32 {
	return atomic.LoadUint32(&h.capacity)
}

// WakeKind returns the wake primitive recorded by the host
func (h *SegmentHeader) WakeKind() WakeKind {
	return WakeKind(atomic.LoadUint32(&h.wakeKind))
}

// HostPID returns the host process ID
func (h *SegmentHeader) HostPID() uint32 {
	return atomic.LoadUint32(&h.hostPID)
}

// ChildPID returns the child process ID, zero until the child maps the segment
func (h *SegmentHeader) ChildPID() uint32 {
	return atomic.LoadUint32(&h.childPID)
}

// SetChildPID records the child process ID
func (h *SegmentHeader) SetChildPID(pid uint32) {
	atomic.StoreUint32(&h.childPID, pid)
}

// ChannelHeader is the shared state of one direction. The data area of
// capacity bytes follows it directly.
//
// head is published by the producer; tail is advanced by the consumer.
// written and invalid belong to the producer's pending frame and are never
// read by the consumer.
type ChannelHeader struct {
	wake     uint32   // 0x00: futex word (futex builds only)
	pad      uint32   // 0x04: padding
	head     uint32   // 0x08: committed write position
	tail     uint32   // 0x0C: read position
	written  uint32   // 0x10: pending write position
	invalid  uint32   // 0x14: pending frame rejected by a failed write
	capacity uint32   // 0x18: data area size
	reserved [36]byte // 0x1C-0x3F: reserved/padding to 64B
}

// Head returns the committed write position
func (c *ChannelHeader) Head() uint32 {
	return atomic.LoadUint32(&c.head)
}

// Tail returns the read position
func (c *ChannelHeader) Tail() uint32 {
	return atomic.LoadUint32(&c.tail)
}

// Capacity returns the data area size
func (c *ChannelHeader) Capacity() uint32 {
	return atomic.LoadUint32(&c.capacity)
}

// Direction selects one of the two channels of a segment.
type Direction int

const (
	// ToChild carries frames written by the host.
	ToChild Direction = iota
	// ToParent carries frames written by the child.
	ToParent
)

func (d Direction) String() string {
	switch d {
	case ToChild:
		return "to_child"
	case ToParent:
		return "to_parent"
	}
	return fmt.Sprintf("direction(%d)", int(d))
}

// SegmentSize returns the mapping size for channels of the given capacity.
func SegmentSize(capacity uint32) uint64 {
	return SegmentHeaderSize + 2*alignTo64(ChannelHeaderSize+uint64(capacity))
}

func channelOffset(capacity uint32, d Direction) uint64 {
	return SegmentHeaderSize + uint64(d)*alignTo64(ChannelHeaderSize+uint64(capacity))
}

// alignTo64 aligns a size to 64-byte boundary
func alignTo64(size uint64) uint64 {
	return (size + 63) &^ 63
}

// IsPowerOfTwo returns true if n is a power of two
func IsPowerOfTwo(n uint64) bool {
	return n > 0 && (n&(n-1)) == 0
}

// checkCapacity rejects channel capacities the ring cannot use.
func checkCapacity(capacity uint32) error {
	if capacity < MinChannelCapacity {
		return fmt.Errorf("shm: channel capacity %d below minimum %d", capacity, MinChannelCapacity)
	}
	if !IsPowerOfTwo(uint64(capacity)) {
		return fmt.Errorf("shm: channel capacity %d is not a power of two", capacity)
	}
	return nil
}

// RoundCapacity returns the next power of two >= n, with a minimum of
// MinChannelCapacity.
func RoundCapacity(n uint32) uint32 {
	if n < MinChannelCapacity {
		return MinChannelCapacity
	}
	x := uint64(n)
	if IsPowerOfTwo(x) {
		return n
	}
	x--
	x |= x >> 1
	x |= x >> 2
	x |= x >> 4
	x |= x >> 8
	x |= x >> 16
	x++
	return uint32(x)
}

// Segment represents a mapped shared memory segment
type Segment struct {
	Name string   // Name as given by the host, e.g. "/dpf-webview-1"
	Path string   // Backing file in the shared memory namespace
	File *os.File // File descriptor for the shared memory file
	Mem  []byte   // Memory-mapped region

	owner bool // created by this process
}

// Header returns the typed view of the segment header.
func (s *Segment) Header() *SegmentHeader {
	return (*SegmentHeader)(unsafe.Pointer(&s.Mem[0]))
}

func (s *Segment) channelHeader(d Direction) *ChannelHeader {
	off := channelOffset(s.Header().Capacity(), d)
	return (*ChannelHeader)(unsafe.Pointer(&s.Mem[off]))
}

func (s *Segment) channelData(d Direction) []byte {
	capacity := s.Header().Capacity()
	off := channelOffset(capacity, d) + ChannelHeaderSize
	return s.Mem[off : off+uint64(capacity) : off+uint64(capacity)]
}

// init writes a fresh header. Only the creating process calls it, before
// any peer can map the segment.
func (s *Segment) init(capacity uint32, kind WakeKind) {
	h := s.Header()
	copy(h.magic[:], SegmentMagic)
	atomic.StoreUint32(&h.version, SegmentVersion)
	atomic.StoreUint64(&h.totalSize, SegmentSize(capacity))
	atomic.StoreUint32(&h.capacity, capacity)
	atomic.StoreUint32(&h.wakeKind, uint32(kind))
	atomic.StoreUint32(&h.hostPID, uint32(os.Getpid()))
	for _, d := range []Direction{ToChild, ToParent} {
		c := s.channelHeader(d)
		atomic.StoreUint32(&c.capacity, capacity)
		atomic.StoreUint32(&c.wake, 0)
	}
	h.SetValid(true)
}

// validate checks a segment mapped by the child against this build.
func (s *Segment) validate(kind WakeKind) error {
	if uint64(len(s.Mem)) < SegmentHeaderSize {
		return fmt.Errorf("%w: segment is %d bytes", ErrLayoutMismatch, len(s.Mem))
	}
	h := s.Header()
	if string(h.magic[:]) != SegmentMagic {
		return fmt.Errorf("%w: invalid magic bytes", ErrLayoutMismatch)
	}
	if h.Version() != SegmentVersion {
		return fmt.Errorf("%w: version %d, expected %d", ErrLayoutMismatch, h.Version(), SegmentVersion)
	}
	if h.Capacity() < MinChannelCapacity {
		return fmt.Errorf("%w: capacity %d below minimum %d", ErrLayoutMismatch, h.Capacity(), MinChannelCapacity)
	}
	if h.TotalSize() != SegmentSize(h.Capacity()) || uint64(len(s.Mem)) != h.TotalSize() {
		return fmt.Errorf("%w: total size %d, mapped %d, expected %d",
			ErrLayoutMismatch, h.TotalSize(), len(s.Mem), SegmentSize(h.Capacity()))
	}
	if h.WakeKind() != kind {
		return fmt.Errorf("%w: wake primitive %s, this build uses %s", ErrLayoutMismatch, h.WakeKind(), kind)
	}
	for _, d := range []Direction{ToChild, ToParent} {
		if got := s.channelHeader(d).Capacity(); got != h.Capacity() {
			return fmt.Errorf("%w: %s capacity %d, header says %d", ErrLayoutMismatch, d, got, h.Capacity())
		}
	}
	return nil
}

// Close unmaps the memory and closes the file
func (s *Segment) Close() error {
	var firstErr error

	if s.Mem != nil {
		if err := munmap(s.Mem); err != nil && firstErr == nil {
			firstErr = err
		}
		s.Mem = nil
	}

	if s.File != nil {
		if err := s.File.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		s.File = nil
	}

	return firstErr
}

// Remove unlinks the backing object. Peers that already mapped it keep
// their mapping.
func (s *Segment) Remove() error {
	return RemoveSegment(s.Name)
}

// RemoveSegment removes a shared memory segment by name
func RemoveSegment(name string) error {
	path, err := segmentPath(name)
	if err != nil {
		return err
	}
	return os.Remove(path)
}

// SegmentExists checks if a shared memory segment exists
func SegmentExists(name string) bool {
	path, err := segmentPath(name)
	if err != nil {
		return false
	}
	_, err = os.Stat(path)
	return err == nil
}
