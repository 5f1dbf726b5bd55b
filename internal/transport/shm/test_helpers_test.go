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

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

// testAddress returns a segment name unique to this test run.
func testAddress(t *testing.T) string {
	t.Helper()
	return "/dpf-test-" + uuid.NewString()
}

// createTestLink creates a host link with a unique name and registers
// cleanup so the segment and semaphores are removed even if the test fails.
func createTestLink(t *testing.T, opts ...Option) *Link {
	t.Helper()

	name := testAddress(t)
	l, err := Create(name, opts...)
	require.NoError(t, err, "failed to create test link %s", name)

	t.Cleanup(func() {
		l.Close()
		RemoveSegment(name)
	})
	return l
}

// openTestLink opens the child side of host and closes it on cleanup.
func openTestLink(t *testing.T, host *Link, opts ...Option) *Link {
	t.Helper()

	l, err := Open(host.Name(), opts...)
	require.NoError(t, err, "failed to open test link %s", host.Name())
	t.Cleanup(func() { l.Close() })
	return l
}

// newTestChannel returns a heap channel of the given capacity.
func newTestChannel(t *testing.T, capacity uint32) *Channel {
	t.Helper()
	ch, err := NewHeapChannel(capacity, ToChild, nil, nil)
	require.NoError(t, err)
	return ch
}

// wakeKinds lists the primitives usable on this platform.
func wakeKinds() []WakeKind {
	kinds := []WakeKind{WakeSemaphore}
	if futexSupported {
		kinds = append([]WakeKind{WakeFutex}, kinds...)
	}
	return kinds
}
