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

//go:build linux

package shm

import (
	"fmt"
	"runtime"
	"sync/atomic"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Linux futex operations. The words live in a MAP_SHARED mapping watched by
// two processes, so the private variants must not be used.
const (
	futexWaitOp = 0 // FUTEX_WAIT
	futexWakeOp = 1 // FUTEX_WAKE
)

const futexSupported = true

// futexWaker is a binary event over a 32-bit word: 0 idle, 1 signalled.
type futexWaker struct {
	word *uint32
}

func newFutexWaker(word *uint32) (Waker, error) {
	return &futexWaker{word: word}, nil
}

// Signal wakes one waiter if it moved the word from idle to signalled.
func (w *futexWaker) Signal() error {
	if !atomic.CompareAndSwapUint32(w.word, 0, 1) {
		return nil
	}
	_, err := futexWake(w.word, 1)
	return err
}

func (w *futexWaker) Wait(timeout time.Duration) bool {
	for i := 0; i < spinIterations; i++ {
		if atomic.CompareAndSwapUint32(w.word, 1, 0) {
			return true
		}
		runtime.Gosched()
	}

	deadline := time.Now().Add(timeout)
	for {
		if atomic.CompareAndSwapUint32(w.word, 1, 0) {
			return true
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return false
		}
		if err := futexWaitTimeout(w.word, 0, remaining); err != nil && err != ErrWakeTimeout {
			return false
		}
	}
}

func (w *futexWaker) Close() error { return nil }

// futexWaitTimeout sleeps while *addr == val, for at most timeout.
// Spurious returns are reported as nil; callers re-check the word.
func futexWaitTimeout(addr *uint32, val uint32, timeout time.Duration) error {
	if atomic.LoadUint32(addr) != val {
		return nil
	}

	ts := unix.NsecToTimespec(timeout.Nanoseconds())
	_, _, errno := unix.Syscall6(
		unix.SYS_FUTEX,
		uintptr(unsafe.Pointer(addr)), // uaddr - address to wait on
		futexWaitOp,                   // futex_op - shared wait
		uintptr(val),                  // val - expected value
		uintptr(unsafe.Pointer(&ts)),  // timeout - relative timespec
		0,                             // uaddr2 - unused
		0,                             // val3 - unused
	)

	switch errno {
	case 0, unix.EAGAIN, unix.EINTR:
		return nil
	case unix.ETIMEDOUT:
		return ErrWakeTimeout
	}
	return fmt.Errorf("futex wait failed: %w", errno)
}

// futexWake wakes up to n waiters on addr and returns how many woke.
func futexWake(addr *uint32, n int) (int, error) {
	r1, _, errno := unix.Syscall6(
		unix.SYS_FUTEX,
		uintptr(unsafe.Pointer(addr)), // uaddr - address to wake on
		futexWakeOp,                   // futex_op - shared wake
		uintptr(n),                    // val - number of waiters to wake
		0,                             // timeout - unused for wake
		0,                             // uaddr2 - unused
		0,                             // val3 - unused
	)
	if errno != 0 {
		return 0, fmt.Errorf("futex wake failed: %w", errno)
	}
	return int(r1), nil
}
