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

// Package shm implements the shared memory transport that links a host
// process with an out-of-process web view renderer.
//
// A single segment holds two framed channels, one per direction. Each channel
// is a fixed-capacity circular byte buffer with exactly one producer and one
// consumer. Producers stage typed writes and publish them with a single
// atomic store of the head cursor; consumers observe frames only after that
// store. Each channel is paired with a wake primitive so a consumer can sleep
// until the producer has data: a shared futex word on Linux and a named
// counting semaphore elsewhere, selected at compile time.
//
// The transport never blocks on writes. A frame that does not fit in the free
// space is rejected and must be abandoned by the caller. A read that would
// consume more bytes than were committed indicates a misbehaving peer and is
// reported as ErrCorrupt; the link is not recoverable after that.
package shm
