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

//go:build unix

package shm

import (
	"errors"
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"
)

// semWaker is a counting semaphore over a named FIFO: each byte in the pipe
// is one post. Both processes open the FIFO read-write and non-blocking, so
// neither open nor Signal ever waits for the peer.
type semWaker struct {
	fd     int
	path   string
	owner  bool
	closed atomic.Bool
}

func createSemWaker(path string) (Waker, error) {
	w, err := createSem(path)
	if err != nil {
		return nil, err
	}
	return w, nil
}

func openSemWaker(path string) (Waker, error) {
	w, err := openSem(path)
	if err != nil {
		return nil, err
	}
	return w, nil
}

// createSem makes a fresh FIFO at path, replacing a stale one left by a
// crashed host.
func createSem(path string) (*semWaker, error) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to remove stale semaphore %s: %w", path, err)
	}
	if err := unix.Mkfifo(path, 0600); err != nil {
		return nil, fmt.Errorf("failed to create semaphore %s: %w", path, err)
	}
	w, err := openSem(path)
	if err != nil {
		os.Remove(path)
		return nil, err
	}
	w.owner = true
	return w, nil
}

func openSem(path string) (*semWaker, error) {
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to open semaphore %s: %w", path, err)
	}
	return &semWaker{fd: fd, path: path}, nil
}

// Signal posts once. A full pipe already holds pending posts, so the waiter
// is guaranteed to wake and the post is dropped.
func (w *semWaker) Signal() error {
	if w.closed.Load() {
		return ErrClosed
	}
	b := [1]byte{1}
	for {
		_, err := unix.Write(w.fd, b[:])
		switch err {
		case nil, unix.EAGAIN:
			return nil
		case unix.EINTR:
			continue
		}
		return fmt.Errorf("semaphore post failed: %w", err)
	}
}

func (w *semWaker) Wait(timeout time.Duration) bool {
	if w.closed.Load() {
		return false
	}
	deadline := time.Now().Add(timeout)
	var b [1]byte
	for {
		n, err := unix.Read(w.fd, b[:])
		if n == 1 {
			return true
		}
		switch err {
		case unix.EINTR:
			continue
		case unix.EAGAIN:
		default:
			return false
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return false
		}
		ms := int((remaining + time.Millisecond - 1) / time.Millisecond)
		fds := []unix.PollFd{{Fd: int32(w.fd), Events: unix.POLLIN}}
		if _, err := unix.Poll(fds, ms); err != nil && err != unix.EINTR {
			return false
		}
	}
}

func (w *semWaker) Close() error {
	if !w.closed.CompareAndSwap(false, true) {
		return nil
	}
	err := unix.Close(w.fd)
	if w.owner {
		if rmErr := os.Remove(w.path); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) && err == nil {
			err = rmErr
		}
	}
	return err
}
