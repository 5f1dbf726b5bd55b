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
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
)

func TestSegmentHeaderLayout(t *testing.T) {
	var h SegmentHeader
	assert.Equal(t, uintptr(SegmentHeaderSize), unsafe.Sizeof(h), "segment header size")

	tests := []struct {
		name   string
		offset uintptr
		want   uintptr
	}{
		{"magic", unsafe.Offsetof(h.magic), 0x00},
		{"version", unsafe.Offsetof(h.version), 0x08},
		{"valid", unsafe.Offsetof(h.valid), 0x0C},
		{"totalSize", unsafe.Offsetof(h.totalSize), 0x10},
		{"capacity", unsafe.Offsetof(h.capacity), 0x18},
		{"wakeKind", unsafe.Offsetof(h.wakeKind), 0x1C},
		{"hostPID", unsafe.Offsetof(h.hostPID), 0x20},
		{"childPID", unsafe.Offsetof(h.childPID), 0x24},
		{"reserved", unsafe.Offsetof(h.reserved), 0x28},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.offset, "offset of %s", tt.name)
	}
}

func TestChannelHeaderLayout(t *testing.T) {
	var c ChannelHeader
	assert.Equal(t, uintptr(ChannelHeaderSize), unsafe.Sizeof(c), "channel header size")

	tests := []struct {
		name   string
		offset uintptr
		want   uintptr
	}{
		{"wake", unsafe.Offsetof(c.wake), 0x00},
		{"head", unsafe.Offsetof(c.head), 0x08},
		{"tail", unsafe.Offsetof(c.tail), 0x0C},
		{"written", unsafe.Offsetof(c.written), 0x10},
		{"invalid", unsafe.Offsetof(c.invalid), 0x14},
		{"capacity", unsafe.Offsetof(c.capacity), 0x18},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.offset, "offset of %s", tt.name)
	}
}

func TestSegmentSize(t *testing.T) {
	assert.Equal(t, uint64(64+2*(64+ChannelCapacity)), SegmentSize(ChannelCapacity))
	assert.Equal(t, uint64(64+64+64+64+64), SegmentSize(64))
	// Unaligned capacities are padded so the second channel header stays aligned.
	assert.Equal(t, uint64(0), channelOffset(100, ToParent)%64)
	assert.Equal(t, uint64(0), SegmentSize(100)%64)
	assert.Equal(t, uint64(64+2*128), SegmentSize(10))
}

func TestRoundCapacity(t *testing.T) {
	tests := []struct {
		in, want uint32
	}{
		{0, MinChannelCapacity},
		{1, MinChannelCapacity},
		{16, 16},
		{17, 32},
		{1000, 1024},
		{1 << 20, 1 << 20},
		{(1 << 20) + 1, 1 << 21},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, RoundCapacity(tt.in), "RoundCapacity(%d)", tt.in)
	}
}
