//go:build linux

/*
 * Copyright 2025 SREDiag Authors
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
 */

package shm

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/shirou/gopsutil/v3/disk"
	"golang.org/x/sys/unix"
)

// DefaultPathPrefix is where segment backing files live on Linux.
const DefaultPathPrefix = "/dev/shm"

type osState struct {
	file *os.File
	path string
}

// SegmentPath returns the backing file path for a segment name under prefix.
// An empty prefix selects /dev/shm when available, os.TempDir() otherwise.
func SegmentPath(prefix, name string) string {
	if prefix == "" {
		prefix = DefaultPathPrefix
		if info, err := os.Stat(prefix); err != nil || !info.IsDir() {
			prefix = os.TempDir()
		}
	}
	return filepath.Join(prefix, "shm_bridge_"+name)
}

// canCreateOnDevShm reports whether /dev/shm has room for size bytes. Paths
// outside /dev/shm are not space-checked here.
func canCreateOnDevShm(size uint64, path string) bool {
	if !strings.HasPrefix(path, "/dev/shm") {
		return true
	}
	stat, err := disk.Usage("/dev/shm")
	if err != nil {
		return true
	}
	return stat.Free >= size
}

// Create creates, sizes, maps and zeroes the named segment. Creation is
// exclusive: a pre-existing mapping yields ErrSegmentExists.
func Create(prefix, name string) (*Segment, error) {
	if err := VerifyLayout(); err != nil {
		return nil, err
	}
	path := SegmentPath(prefix, name)
	if !canCreateOnDevShm(uint64(SegmentSize), path) {
		return nil, fmt.Errorf("%w: path %s, size %d", ErrShareMemoryHadNotLeftSpace, path, SegmentSize)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0o600)
	if err != nil {
		if os.IsExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrSegmentExists, path)
		}
		return nil, fmt.Errorf("shm: create segment file %s: %w", path, err)
	}
	cleanup := func() {
		_ = f.Close()
		_ = os.Remove(path)
	}

	if err := f.Truncate(int64(SegmentSize)); err != nil {
		cleanup()
		return nil, fmt.Errorf("shm: truncate segment file: %w", err)
	}
	mem, err := unix.Mmap(int(f.Fd()), 0, SegmentSize, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		cleanup()
		return nil, fmt.Errorf("shm: mmap segment: %w", err)
	}
	zeroMem(mem)

	return &Segment{
		mem:     mem,
		name:    name,
		owner:   true,
		osState: osState{file: f, path: path},
	}, nil
}

// Open maps an existing named segment read/write. It fails fast when the
// mapping does not exist; connect-time retries belong to the launcher, not
// here.
func Open(prefix, name string) (*Segment, error) {
	if err := VerifyLayout(); err != nil {
		return nil, err
	}
	path := SegmentPath(prefix, name)

	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrSegmentNotFound, path)
		}
		return nil, fmt.Errorf("shm: open segment file %s: %w", path, err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("shm: stat segment file: %w", err)
	}
	if info.Size() < int64(SegmentSize) {
		_ = f.Close()
		return nil, fmt.Errorf("%w: have %d bytes, need %d", ErrSegmentTruncated, info.Size(), SegmentSize)
	}
	mem, err := unix.Mmap(int(f.Fd()), 0, SegmentSize, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("shm: mmap segment: %w", err)
	}

	return &Segment{
		mem:     mem,
		name:    name,
		owner:   false,
		osState: osState{file: f, path: path},
	}, nil
}

// Close unmaps the segment and closes the backing file. The owner also
// unlinks the file so a dead responder does not hold the name forever.
func (s *Segment) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	var firstErr error
	if s.mem != nil {
		if err := unix.Munmap(s.mem); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("shm: munmap: %w", err)
		}
		s.mem = nil
	}
	if s.file != nil {
		if err := s.file.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		s.file = nil
	}
	if s.owner && s.path != "" {
		if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
