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
	"bytes"
	"math"
	"runtime"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DISTRHO/DPF-sub001/internal/metrics"
)

func TestNewHeapChannelMinimum(t *testing.T) {
	_, err := NewHeapChannel(MinChannelCapacity-1, ToChild, nil, nil)
	assert.Error(t, err)
	_, err = NewHeapChannel(100, ToChild, nil, nil)
	assert.ErrorContains(t, err, "not a power of two")

	ch := newTestChannel(t, MinChannelCapacity)
	assert.Equal(t, uint32(MinChannelCapacity), ch.Capacity())
	assert.Equal(t, uint32(MinChannelCapacity-1), ch.State().Free, "one byte always stays free")
}

func TestChannelRoundTrip(t *testing.T) {
	ch := newTestChannel(t, 256)

	require.NoError(t, ch.WriteUint32(0xDEADBEEF))
	require.NoError(t, ch.WriteInt32(-42))
	require.NoError(t, ch.WriteUint64(math.MaxUint64 - 1))
	require.NoError(t, ch.WriteInt64(math.MinInt64))
	require.NoError(t, ch.WriteDouble(1.25))
	require.NoError(t, ch.WriteBool(true))
	require.NoError(t, ch.WriteBlob([]byte{1, 2, 3}))
	require.NoError(t, ch.WriteString("about:blank"))
	require.NoError(t, ch.WriteString(""))

	assert.False(t, ch.HasData(), "nothing is visible before commit")
	require.NoError(t, ch.Commit())
	require.True(t, ch.HasData())

	u32, err := ch.ReadUint32()
	require.NoError(t, err)
	assert.Equal(t, uint32(0xDEADBEEF), u32)

	i32, err := ch.ReadInt32()
	require.NoError(t, err)
	assert.Equal(t, int32(-42), i32)

	u64, err := ch.ReadUint64()
	require.NoError(t, err)
	assert.Equal(t, uint64(math.MaxUint64-1), u64)

	i64, err := ch.ReadInt64()
	require.NoError(t, err)
	assert.Equal(t, int64(math.MinInt64), i64)

	d, err := ch.ReadDouble()
	require.NoError(t, err)
	assert.Equal(t, 1.25, d)

	b, err := ch.ReadBool()
	require.NoError(t, err)
	assert.True(t, b)

	blob, err := ch.ReadBlob()
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, blob)

	s, err := ch.ReadString()
	require.NoError(t, err)
	assert.Equal(t, "about:blank", s)

	s, err = ch.ReadString()
	require.NoError(t, err)
	assert.Empty(t, s)

	assert.False(t, ch.HasData())
}

func TestChannelLittleEndian(t *testing.T) {
	ch := newTestChannel(t, 64)
	require.NoError(t, ch.WriteUint32(0x01020304))
	require.NoError(t, ch.Commit())
	assert.Equal(t, []byte{0x04, 0x03, 0x02, 0x01}, ch.data[:4])
}

func TestChannelCommitEmpty(t *testing.T) {
	ch := newTestChannel(t, 64)
	assert.ErrorIs(t, ch.Commit(), ErrEmptyFrame)
}

func TestChannelFlowControl(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	ch, err := NewHeapChannel(64, ToParent, nil, m)
	require.NoError(t, err)

	first := bytes.Repeat([]byte{0xAA}, 32)
	require.NoError(t, ch.WriteBlob(first))
	require.NoError(t, ch.Commit())
	headBefore := ch.State().Head

	// The length prefix fits, the payload does not.
	require.NoError(t, ch.WriteUint32(40))
	err = ch.write(bytes.Repeat([]byte{0xBB}, 40))
	require.ErrorIs(t, err, ErrFlowControl)
	assert.True(t, ch.State().Poisoned)

	// Every later write of the poisoned frame fails too.
	assert.ErrorIs(t, ch.WriteUint32(1), ErrFlowControl)

	assert.ErrorIs(t, ch.Commit(), ErrFlowControl)
	st := ch.State()
	assert.Equal(t, headBefore, st.Head, "head unchanged by a failed frame")
	assert.Zero(t, st.Pending)
	assert.False(t, st.Poisoned)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.FlowControlFailures.WithLabelValues("to_parent")))

	// Prior content intact.
	got, err := ch.ReadBlob()
	require.NoError(t, err)
	assert.Equal(t, first, got)
	assert.False(t, ch.HasData())

	// The channel accepts new frames once space frees up.
	require.NoError(t, ch.WriteBlob(bytes.Repeat([]byte{0xCC}, 40)))
	require.NoError(t, ch.Commit())
}

func TestChannelWriteLargerThanCapacity(t *testing.T) {
	ch := newTestChannel(t, 64)
	assert.ErrorIs(t, ch.write(make([]byte, 64)), ErrFlowControl)
	assert.ErrorIs(t, ch.Commit(), ErrFlowControl)

	// Largest frame that fits an empty channel.
	require.NoError(t, ch.write(make([]byte, 63)))
	require.NoError(t, ch.Commit())
	assert.Zero(t, ch.State().Free)
}

func TestChannelDiscard(t *testing.T) {
	ch := newTestChannel(t, 64)
	require.NoError(t, ch.WriteUint32(7))
	ch.Discard()
	assert.ErrorIs(t, ch.Commit(), ErrEmptyFrame)
	assert.False(t, ch.HasData())
}

func TestChannelWraparound(t *testing.T) {
	const capacity = 64
	ch := newTestChannel(t, capacity)

	var total int
	for seq := uint64(0); total <= 4*capacity; seq++ {
		require.NoError(t, ch.WriteUint64(seq))
		require.NoError(t, ch.WriteBlob([]byte{byte(seq), byte(seq >> 8), 0x5A}))
		require.NoError(t, ch.Commit())
		total += 8 + 4 + 3

		got, err := ch.ReadUint64()
		require.NoError(t, err)
		require.Equal(t, seq, got)
		blob, err := ch.ReadBlob()
		require.NoError(t, err)
		require.Equal(t, []byte{byte(seq), byte(seq >> 8), 0x5A}, blob)

		st := ch.State()
		require.Less(t, st.Head, uint32(capacity))
		require.Equal(t, st.Head, st.Tail)
	}
	assert.Greater(t, total, 2*capacity)
}

func TestChannelShortRead(t *testing.T) {
	ch := newTestChannel(t, 64)

	_, err := ch.ReadUint32()
	assert.ErrorIs(t, err, ErrCorrupt, "read from an empty channel")

	require.NoError(t, ch.WriteBool(true))
	require.NoError(t, ch.Commit())
	_, err = ch.ReadUint32()
	assert.ErrorIs(t, err, ErrCorrupt, "read past head")

	// A short read consumes nothing.
	b, err := ch.ReadBool()
	require.NoError(t, err)
	assert.True(t, b)
}

func TestChannelBlobLengthCorrupt(t *testing.T) {
	ch := newTestChannel(t, 64)
	require.NoError(t, ch.WriteUint32(1000))
	require.NoError(t, ch.Commit())
	_, err := ch.ReadBlob()
	assert.ErrorIs(t, err, ErrCorrupt)
}

func TestChannelFlush(t *testing.T) {
	ch := newTestChannel(t, 64)
	require.NoError(t, ch.WriteUint64(1))
	require.NoError(t, ch.Commit())
	require.NoError(t, ch.WriteUint32(2))

	ch.Flush()
	st := ch.State()
	assert.Zero(t, st.Head)
	assert.Zero(t, st.Tail)
	assert.Zero(t, st.Pending)
	assert.False(t, ch.HasData())
}

// TestChannelSPSC runs one producer and one consumer goroutine over a small
// channel so that frames wrap many times and the producer hits flow control.
func TestChannelSPSC(t *testing.T) {
	const frames = 10000
	ch := newTestChannel(t, 256)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		payload := make([]byte, 0, 16)
		for seq := uint64(0); seq < frames; {
			payload = payload[:seq%16]
			for i := range payload {
				payload[i] = byte(seq)
			}
			ch.WriteUint64(seq)
			ch.WriteBlob(payload)
			if err := ch.Commit(); err != nil {
				runtime.Gosched()
				continue
			}
			seq++
		}
	}()

	for want := uint64(0); want < frames; {
		if !ch.HasData() {
			runtime.Gosched()
			continue
		}
		got, err := ch.ReadUint64()
		require.NoError(t, err)
		require.Equal(t, want, got, "frames arrive in write order")
		blob, err := ch.ReadBlob()
		require.NoError(t, err)
		require.Len(t, blob, int(want%16))
		for _, b := range blob {
			require.Equal(t, byte(want), b)
		}
		want++
	}
	wg.Wait()
	assert.False(t, ch.HasData())
}
