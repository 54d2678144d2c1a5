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

// Package shm maps the fixed-layout request/response segment shared by the
// initiator and the responder process. The layout is declared as an explicit
// schema of (offset, width) pairs rather than a Go struct so that both sides
// of the process boundary agree on byte positions without depending on any
// compiler's padding rules.
package shm

import "fmt"

// Segment field offsets, in bytes from the start of the mapping. Control
// fields come first and are 4-byte aligned so Go atomics are valid on them;
// the two 64-bit timestamp fields sit after the payload buffers on an 8-byte
// boundary.
const (
	OffRequestFlag  = 0  // uint32: 0 idle, 1 request pending, 2 processing
	OffResponseFlag = 4  // uint32: 0 no response, 1 response ready
	OffSequenceID   = 8  // uint32: strictly increasing per request
	OffResponseSeq  = 12 // uint32: sequence the current response answers
	OffRequestSize  = 16 // uint32: valid bytes in the request buffer
	OffResponseSize = 20 // uint32: valid bytes in the response buffer

	OffRequestData  = 24
	OffResponseData = OffRequestData + MaxPayload

	OffLastRequestTime  = OffResponseData + MaxPayload // uint64, microseconds
	OffLastResponseTime = OffLastRequestTime + 8       // uint64, microseconds

	// MaxPayload is the hard size limit for a single request or response.
	// The buffers never resize; oversized payloads must be rejected before
	// the segment is touched.
	MaxPayload = 4096

	// SegmentSize is the total byte size of the mapping.
	SegmentSize = OffLastResponseTime + 8
)

// Request flag states.
const (
	FlagIdle       = 0
	FlagRequested  = 1
	FlagProcessing = 2
)

// Response flag states.
const (
	FlagNoResponse    = 0
	FlagResponseReady = 1
)

// VerifyLayout checks the schema invariants the protocol relies on: atomic
// fields on 4-byte boundaries, timestamps on 8-byte boundaries, buffers not
// overlapping. It exists so a layout edit that breaks cross-process agreement
// fails loudly at startup instead of corrupting exchanges.
func VerifyLayout() error {
	atomicFields := []struct {
		name string
		off  int
	}{
		{"request_flag", OffRequestFlag},
		{"response_flag", OffResponseFlag},
		{"sequence_id", OffSequenceID},
		{"response_seq", OffResponseSeq},
		{"request_size", OffRequestSize},
		{"response_size", OffResponseSize},
	}
	for _, f := range atomicFields {
		if f.off%4 != 0 {
			return fmt.Errorf("shm: field %s at offset %d is not 4-byte aligned", f.name, f.off)
		}
	}
	if OffLastRequestTime%8 != 0 || OffLastResponseTime%8 != 0 {
		return fmt.Errorf("shm: timestamp fields are not 8-byte aligned")
	}
	if OffRequestData+MaxPayload > OffResponseData {
		return fmt.Errorf("shm: request buffer overlaps response buffer")
	}
	if OffResponseData+MaxPayload > OffLastRequestTime {
		return fmt.Errorf("shm: response buffer overlaps timestamp fields")
	}
	if SegmentSize != OffLastResponseTime+8 {
		return fmt.Errorf("shm: segment size %d does not match layout end", SegmentSize)
	}
	return nil
}
