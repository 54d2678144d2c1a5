//go:build windows

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
	"unsafe"

	"golang.org/x/sys/windows"
)

type osState struct {
	handle windows.Handle
	view   uintptr
}

func mappingName(name string) string {
	return "Local\\shm_bridge_" + name
}

// Create creates and maps the named pagefile-backed mapping, zeroed by the
// kernel. Windows has no O_EXCL for named mappings, so existence is probed
// with OpenFileMapping first; the window between probe and create is accepted
// because exactly one responder per name is a deployment invariant.
func Create(prefix, name string) (*Segment, error) {
	if err := VerifyLayout(); err != nil {
		return nil, err
	}
	namep, err := windows.UTF16PtrFromString(mappingName(name))
	if err != nil {
		return nil, fmt.Errorf("shm: invalid segment name: %w", err)
	}

	if h, err := windows.OpenFileMapping(windows.FILE_MAP_READ, false, namep); err == nil {
		_ = windows.CloseHandle(h)
		return nil, fmt.Errorf("%w: %s", ErrSegmentExists, name)
	}

	h, err := windows.CreateFileMapping(windows.InvalidHandle, nil, windows.PAGE_READWRITE, 0, uint32(SegmentSize), namep)
	if err != nil {
		return nil, fmt.Errorf("shm: CreateFileMapping: %w", err)
	}
	view, err := windows.MapViewOfFile(h, windows.FILE_MAP_READ|windows.FILE_MAP_WRITE, 0, 0, uintptr(SegmentSize))
	if err != nil {
		_ = windows.CloseHandle(h)
		return nil, fmt.Errorf("shm: MapViewOfFile: %w", err)
	}
	mem := unsafe.Slice((*byte)(unsafe.Pointer(view)), SegmentSize)
	zeroMem(mem)

	return &Segment{
		mem:     mem,
		name:    name,
		owner:   true,
		osState: osState{handle: h, view: view},
	}, nil
}

// Open maps an existing named mapping read/write and fails fast when it does
// not exist.
func Open(prefix, name string) (*Segment, error) {
	if err := VerifyLayout(); err != nil {
		return nil, err
	}
	namep, err := windows.UTF16PtrFromString(mappingName(name))
	if err != nil {
		return nil, fmt.Errorf("shm: invalid segment name: %w", err)
	}

	h, err := windows.OpenFileMapping(windows.FILE_MAP_READ|windows.FILE_MAP_WRITE, false, namep)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrSegmentNotFound, name)
	}
	view, err := windows.MapViewOfFile(h, windows.FILE_MAP_READ|windows.FILE_MAP_WRITE, 0, 0, uintptr(SegmentSize))
	if err != nil {
		_ = windows.CloseHandle(h)
		return nil, fmt.Errorf("shm: MapViewOfFile: %w", err)
	}
	mem := unsafe.Slice((*byte)(unsafe.Pointer(view)), SegmentSize)

	return &Segment{
		mem:     mem,
		name:    name,
		owner:   false,
		osState: osState{handle: h, view: view},
	}, nil
}

// Close unmaps the view and closes the mapping handle. The mapping itself is
// released by the kernel once the last handle goes away.
func (s *Segment) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	var firstErr error
	if s.view != 0 {
		if err := windows.UnmapViewOfFile(s.view); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("shm: UnmapViewOfFile: %w", err)
		}
		s.view = 0
		s.mem = nil
	}
	if s.handle != 0 {
		if err := windows.CloseHandle(s.handle); err != nil && firstErr == nil {
			firstErr = err
		}
		s.handle = 0
	}
	return firstErr
}
