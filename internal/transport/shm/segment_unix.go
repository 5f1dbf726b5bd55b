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
	"path/filepath"

	"golang.org/x/sys/unix"
)

// createSegment creates and maps a fresh segment. The name must not exist;
// ErrNameInUse is returned when it does so callers can probe the next one.
func createSegment(name string, capacity uint32, kind WakeKind) (*Segment, error) {
	path, err := segmentPath(name)
	if err != nil {
		return nil, err
	}

	// Create the file with exclusive access
	file, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0600)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("%w: %s", ErrNameInUse, name)
		}
		return nil, fmt.Errorf("failed to create segment file %s: %w", path, err)
	}

	// Ensure cleanup on error
	cleanup := func() {
		file.Close()
		os.Remove(path)
	}

	totalSize := SegmentSize(capacity)
	if err := file.Truncate(int64(totalSize)); err != nil {
		cleanup()
		return nil, fmt.Errorf("failed to resize segment file: %w", err)
	}

	mem, err := mmapFile(file, int(totalSize))
	if err != nil {
		cleanup()
		return nil, err
	}

	seg := &Segment{Name: name, Path: path, File: file, Mem: mem, owner: true}
	seg.init(capacity, kind)
	return seg, nil
}

// openSegment maps an existing segment and checks its layout.
func openSegment(name string, kind WakeKind) (*Segment, error) {
	path, err := segmentPath(name)
	if err != nil {
		return nil, err
	}

	file, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to open segment file %s: %w", path, err)
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to stat segment file: %w", err)
	}

	size := info.Size()
	if size < SegmentHeaderSize {
		file.Close()
		return nil, fmt.Errorf("%w: segment file is %d bytes", ErrLayoutMismatch, size)
	}

	mem, err := mmapFile(file, int(size))
	if err != nil {
		file.Close()
		return nil, err
	}

	seg := &Segment{Name: name, Path: path, File: file, Mem: mem}
	if err := seg.validate(kind); err != nil {
		seg.Close()
		return nil, err
	}
	seg.Header().SetChildPID(uint32(os.Getpid()))
	return seg, nil
}

// segmentPath maps a POSIX shm name ("/name") to its backing file. /dev/shm
// is used when present, the temporary directory otherwise.
func segmentPath(name string) (string, error) {
	base := name
	for len(base) > 0 && base[0] == '/' {
		base = base[1:]
	}
	if base == "" || filepath.Base(base) != base {
		return "", fmt.Errorf("shm: invalid segment name %q", name)
	}
	if isDevShmAvailable() {
		return filepath.Join("/dev/shm", base), nil
	}
	return filepath.Join(os.TempDir(), base), nil
}

// isDevShmAvailable checks if /dev/shm is available and writable
func isDevShmAvailable() bool {
	info, err := os.Stat("/dev/shm")
	if err != nil || !info.IsDir() {
		return false
	}
	return unix.Access("/dev/shm", unix.W_OK) == nil
}

// mmapFile memory maps a file
func mmapFile(file *os.File, size int) ([]byte, error) {
	data, err := unix.Mmap(int(file.Fd()), 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("failed to mmap segment: %w", err)
	}
	return data, nil
}

// munmap unmaps a memory-mapped region
func munmap(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	if err := unix.Munmap(data); err != nil {
		return fmt.Errorf("munmap failed: %w", err)
	}
	return nil
}
