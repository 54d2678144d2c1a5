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

package bridge

import (
	"errors"

	"github.com/srediag/shm-bridge/internal/shm"
)

var (
	// ErrPayloadTooLarge means the request exceeds the fixed 4096-byte
	// payload buffer. Raised before any shared-memory write.
	ErrPayloadTooLarge = errors.New("bridge: payload exceeds segment buffer")

	// ErrTimeout means the round trip did not complete within the bound.
	// Delivery is at most once: the request may or may not have been
	// processed, and the transport does not retry.
	ErrTimeout = errors.New("bridge: request timed out")

	// ErrCallInFlight means Send was called while another call on the same
	// client was still outstanding. The protocol has no pipelining.
	ErrCallInFlight = errors.New("bridge: another call is in flight")

	// ErrClosed means the client or responder has been closed.
	ErrClosed = errors.New("bridge: closed")

	// ErrSlotDirty means the request slot is still occupied, typically by a
	// request that previously timed out and was never answered. The caller
	// must discard this client and reconnect.
	ErrSlotDirty = errors.New("bridge: request slot still occupied by an unanswered request")

	// ErrSegmentNotFound re-exports the segment-open failure: the responder
	// has not created the mapping (or it disappeared). Fatal, not retryable;
	// only the launcher handshake retries connecting.
	ErrSegmentNotFound = shm.ErrSegmentNotFound

	// ErrSegmentExists re-exports the exclusive-creation failure on the
	// responder side.
	ErrSegmentExists = shm.ErrSegmentExists

	// ErrShareMemoryHadNotLeftSpace re-exports the /dev/shm free-space
	// failure hit when creating a segment.
	ErrShareMemoryHadNotLeftSpace = shm.ErrShareMemoryHadNotLeftSpace
)
