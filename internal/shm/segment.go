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
	"errors"
	"sync/atomic"
	"unsafe"
)

var (
	// ErrSegmentExists is returned by Create when the named mapping already
	// exists. Creation is exclusive: exactly one responder owns a segment.
	ErrSegmentExists = errors.New("shm: segment already exists")

	// ErrSegmentNotFound is returned by Open when the named mapping does not
	// exist yet. Open never creates.
	ErrSegmentNotFound = errors.New("shm: segment not found")

	// ErrSegmentTruncated is returned by Open when the mapping exists but is
	// smaller than the layout requires.
	ErrSegmentTruncated = errors.New("shm: segment smaller than layout")

	// ErrShareMemoryHadNotLeftSpace is returned by Create when the shared
	// memory filesystem has no room for the segment.
	ErrShareMemoryHadNotLeftSpace = errors.New("shm: share memory had not left space")
)

// Segment is one process's view of the shared mapping. Both processes read
// and write every field; the request/response flag discipline in the bridge
// package is the only thing serializing access.
//
// All control-field accessors go through sync/atomic. Go's atomics are
// sequentially consistent, which is strictly stronger than the acquire/release
// ordering the protocol needs: a raised flag is never observed before the
// payload bytes written ahead of it.
type Segment struct {
	mem    []byte
	name   string
	owner  bool
	closed atomic.Bool

	// platform-specific handle state, set by segment_{linux,windows}.go
	osState
}

// Name returns the segment name shared between the two processes.
func (s *Segment) Name() string { return s.name }

// Owner reports whether this process created the mapping.
func (s *Segment) Owner() bool { return s.owner }

func (s *Segment) u32(off int) *uint32 {
	return (*uint32)(unsafe.Pointer(&s.mem[off]))
}

func (s *Segment) u64(off int) *uint64 {
	return (*uint64)(unsafe.Pointer(&s.mem[off]))
}

// RequestFlag returns the current request flag state.
func (s *Segment) RequestFlag() uint32 {
	return atomic.LoadUint32(s.u32(OffRequestFlag))
}

// SetRequestFlag publishes a request flag transition.
func (s *Segment) SetRequestFlag(v uint32) {
	atomic.StoreUint32(s.u32(OffRequestFlag), v)
}

// ResponseFlag returns the current response flag state.
func (s *Segment) ResponseFlag() uint32 {
	return atomic.LoadUint32(s.u32(OffResponseFlag))
}

// SetResponseFlag publishes a response flag transition.
func (s *Segment) SetResponseFlag(v uint32) {
	atomic.StoreUint32(s.u32(OffResponseFlag), v)
}

// SequenceID returns the sequence number of the most recently published
// request.
func (s *Segment) SequenceID() uint32 {
	return atomic.LoadUint32(s.u32(OffSequenceID))
}

// SetSequenceID publishes a new request sequence number.
func (s *Segment) SetSequenceID(v uint32) {
	atomic.StoreUint32(s.u32(OffSequenceID), v)
}

// ResponseSeq returns the sequence number the current response answers.
func (s *Segment) ResponseSeq() uint32 {
	return atomic.LoadUint32(s.u32(OffResponseSeq))
}

// SetResponseSeq binds the response buffer to the request it answers, so a
// late answer to a timed-out request is detectable by the initiator.
func (s *Segment) SetResponseSeq(v uint32) {
	atomic.StoreUint32(s.u32(OffResponseSeq), v)
}

// RequestSize returns the number of valid bytes in the request buffer.
func (s *Segment) RequestSize() uint32 {
	return atomic.LoadUint32(s.u32(OffRequestSize))
}

// SetRequestSize records the number of valid bytes in the request buffer.
func (s *Segment) SetRequestSize(v uint32) {
	atomic.StoreUint32(s.u32(OffRequestSize), v)
}

// ResponseSize returns the number of valid bytes in the response buffer.
func (s *Segment) ResponseSize() uint32 {
	return atomic.LoadUint32(s.u32(OffResponseSize))
}

// SetResponseSize records the number of valid bytes in the response buffer.
func (s *Segment) SetResponseSize(v uint32) {
	atomic.StoreUint32(s.u32(OffResponseSize), v)
}

// LastRequestTime returns the microsecond timestamp of the last published
// request. Diagnostics only.
func (s *Segment) LastRequestTime() uint64 {
	return atomic.LoadUint64(s.u64(OffLastRequestTime))
}

// SetLastRequestTime records the microsecond timestamp of a published request.
func (s *Segment) SetLastRequestTime(v uint64) {
	atomic.StoreUint64(s.u64(OffLastRequestTime), v)
}

// LastResponseTime returns the microsecond timestamp of the last completed
// response. Diagnostics only.
func (s *Segment) LastResponseTime() uint64 {
	return atomic.LoadUint64(s.u64(OffLastResponseTime))
}

// SetLastResponseTime records the microsecond timestamp of a completed
// response.
func (s *Segment) SetLastResponseTime(v uint64) {
	atomic.StoreUint64(s.u64(OffLastResponseTime), v)
}

// WriteRequest copies a request payload into the request buffer. The caller
// must have validated len(b) <= MaxPayload.
func (s *Segment) WriteRequest(b []byte) {
	copy(s.mem[OffRequestData:OffRequestData+MaxPayload], b)
}

// ReadRequest returns a copy of the first n request bytes, clamped to
// MaxPayload.
func (s *Segment) ReadRequest(n uint32) []byte {
	if n > MaxPayload {
		n = MaxPayload
	}
	out := make([]byte, n)
	copy(out, s.mem[OffRequestData:OffRequestData+int(n)])
	return out
}

// AppendRequest appends the first n request bytes to dst, clamped to
// MaxPayload. Unlike ReadRequest it reuses dst's capacity, so a caller that
// recycles its staging buffer copies without allocating.
func (s *Segment) AppendRequest(dst []byte, n uint32) []byte {
	if n > MaxPayload {
		n = MaxPayload
	}
	return append(dst, s.mem[OffRequestData:OffRequestData+int(n)]...)
}

// ZeroRequest clears the first n bytes of the request buffer so stale bytes
// cannot leak into a future under-sized read.
func (s *Segment) ZeroRequest(n uint32) {
	if n > MaxPayload {
		n = MaxPayload
	}
	region := s.mem[OffRequestData : OffRequestData+int(n)]
	for i := range region {
		region[i] = 0
	}
}

// WriteResponse copies a response payload into the response buffer. The
// caller must have validated len(b) <= MaxPayload.
func (s *Segment) WriteResponse(b []byte) {
	copy(s.mem[OffResponseData:OffResponseData+MaxPayload], b)
}

// ReadResponse returns a copy of the first n response bytes, clamped to
// MaxPayload.
func (s *Segment) ReadResponse(n uint32) []byte {
	if n > MaxPayload {
		n = MaxPayload
	}
	out := make([]byte, n)
	copy(out, s.mem[OffResponseData:OffResponseData+int(n)])
	return out
}

func zeroMem(mem []byte) {
	for i := range mem {
		mem[i] = 0
	}
}
