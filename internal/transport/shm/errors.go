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

import "errors"

var (
	// ErrFlowControl is returned by Commit when a write of the pending frame
	// did not fit in the free space of the channel. The frame was discarded.
	ErrFlowControl = errors.New("shm: channel full, frame discarded")

	// ErrEmptyFrame is returned by Commit when nothing was written since the
	// last commit.
	ErrEmptyFrame = errors.New("shm: nothing to commit")

	// ErrCorrupt indicates a read that would consume more bytes than the peer
	// committed, or a frame that cannot be decoded.
	ErrCorrupt = errors.New("shm: channel corrupted")

	// ErrLayoutMismatch indicates the segment was created by a build with a
	// different layout, capacity or wake primitive.
	ErrLayoutMismatch = errors.New("shm: segment layout mismatch")

	// ErrNameInUse indicates that a segment with the requested name exists.
	ErrNameInUse = errors.New("shm: segment name in use")

	// ErrNameExhausted indicates that no free segment name was found within
	// the allowed number of attempts.
	ErrNameExhausted = errors.New("shm: no free segment name")

	// ErrClosed indicates the link has been closed locally.
	ErrClosed = errors.New("shm: link closed")

	// ErrUnsupported is returned on platforms without shared memory support.
	ErrUnsupported = errors.New("shm: not supported on this platform")

	// ErrWakeTimeout is returned by futexWaitTimeout when the wait times out.
	ErrWakeTimeout = errors.New("shm: wake timeout")
)
