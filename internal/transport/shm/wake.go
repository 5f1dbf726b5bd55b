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
	"time"
)

// WakeKind identifies the wake primitive used by a segment. It is recorded
// in the segment header so a peer built with a different primitive is
// rejected at Open.
type WakeKind uint32

const (
	// WakeFutex waits on the channel's futex word. Linux only.
	WakeFutex WakeKind = 1
	// WakeSemaphore uses a named FIFO next to the segment as a counting
	// semaphore.
	WakeSemaphore WakeKind = 2
)

func (k WakeKind) String() string {
	switch k {
	case WakeFutex:
		return "futex"
	case WakeSemaphore:
		return "semaphore"
	}
	return fmt.Sprintf("wake(%d)", uint32(k))
}

// DefaultWakeKind returns the primitive selected for this build: the futex
// on Linux, the semaphore elsewhere or with the shmsem build tag.
func DefaultWakeKind() WakeKind {
	return defaultWakeKind
}

// spinIterations bounds the busy check before a waiter blocks.
const spinIterations = 64

// Waker is a binary event shared by two processes. Signal coalesces bursts;
// Wait consumes one signal.
type Waker interface {
	// Signal marks the event. It never blocks.
	Signal() error
	// Wait blocks until the event is signalled or timeout elapses, and
	// reports whether a signal was consumed.
	Wait(timeout time.Duration) bool
	// Close releases process-local resources.
	Close() error
}

// newWaker returns the waker of one channel of seg. The creating side
// allocates any named object; the opening side attaches to it.
func newWaker(kind WakeKind, seg *Segment, d Direction, create bool) (Waker, error) {
	switch kind {
	case WakeFutex:
		return newFutexWaker(&seg.channelHeader(d).wake)
	case WakeSemaphore:
		path := semaphorePath(seg.Path, d)
		if create {
			return createSemWaker(path)
		}
		return openSemWaker(path)
	}
	return nil, fmt.Errorf("%w: wake primitive %s", ErrUnsupported, kind)
}

// semaphorePath names the FIFO backing the semaphore of one direction.
func semaphorePath(segPath string, d Direction) string {
	switch d {
	case ToChild:
		return segPath + ".tochild.sem"
	default:
		return segPath + ".toparent.sem"
	}
}
