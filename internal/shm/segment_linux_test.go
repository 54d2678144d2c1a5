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
	"math/rand"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSegmentName() string {
	return "unit_test_" + strconv.Itoa(int(rand.Int63())) + "_" + strconv.Itoa(time.Now().Nanosecond())
}

func TestCreateOpenClose(t *testing.T) {
	name := testSegmentName()

	owner, err := Create("", name)
	require.NoError(t, err)
	assert.True(t, owner.Owner())
	defer func() { _ = owner.Close() }()

	peer, err := Open("", name)
	require.NoError(t, err)
	assert.False(t, peer.Owner())
	defer func() { _ = peer.Close() }()

	// Writes through one mapping are visible through the other.
	owner.SetSequenceID(42)
	owner.SetRequestFlag(FlagRequested)
	assert.Equal(t, uint32(42), peer.SequenceID())
	assert.Equal(t, uint32(FlagRequested), peer.RequestFlag())

	payload := []byte("pe32_rd_id 3")
	peer.SetRequestSize(uint32(len(payload)))
	peer.WriteRequest(payload)
	assert.Equal(t, payload, owner.ReadRequest(owner.RequestSize()))
}

func TestCreateIsExclusive(t *testing.T) {
	name := testSegmentName()
	owner, err := Create("", name)
	require.NoError(t, err)
	defer func() { _ = owner.Close() }()

	_, err = Create("", name)
	assert.ErrorIs(t, err, ErrSegmentExists)
}

func TestOpenMissingSegment(t *testing.T) {
	_, err := Open("", testSegmentName())
	assert.ErrorIs(t, err, ErrSegmentNotFound)
}

func TestOpenTruncatedSegment(t *testing.T) {
	name := testSegmentName()
	path := SegmentPath("", name)
	require.NoError(t, os.WriteFile(path, make([]byte, 16), 0o600))
	defer func() { _ = os.Remove(path) }()

	_, err := Open("", name)
	assert.ErrorIs(t, err, ErrSegmentTruncated)
}

func TestOwnerCloseRemovesBackingFile(t *testing.T) {
	name := testSegmentName()
	owner, err := Create("", name)
	require.NoError(t, err)

	path := SegmentPath("", name)
	_, err = os.Stat(path)
	require.NoError(t, err)

	require.NoError(t, owner.Close())
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))

	// Close is idempotent.
	assert.NoError(t, owner.Close())
}

func TestZeroRequest(t *testing.T) {
	name := testSegmentName()
	seg, err := Create("", name)
	require.NoError(t, err)
	defer func() { _ = seg.Close() }()

	payload := []byte("pe32_set_vih 0 3 1.8")
	seg.WriteRequest(payload)
	seg.ZeroRequest(uint32(len(payload)))
	assert.Equal(t, make([]byte, len(payload)), seg.ReadRequest(uint32(len(payload))))
}

func TestAppendRequestReusesCapacity(t *testing.T) {
	name := testSegmentName()
	seg, err := Create("", name)
	require.NoError(t, err)
	defer func() { _ = seg.Close() }()

	payload := []byte("pe32_wr_reg 0 7f")
	seg.WriteRequest(payload)

	staging := make([]byte, 0, MaxPayload)
	got := seg.AppendRequest(staging, uint32(len(payload)))
	assert.Equal(t, payload, got)
	assert.Equal(t, &staging[:1][0], &got[0], "copy must land in the caller's buffer")

	// A corrupt size field clamps instead of reading past the buffer.
	assert.Len(t, seg.AppendRequest(nil, MaxPayload+500), MaxPayload)
}

func TestReadClampsToMaxPayload(t *testing.T) {
	name := testSegmentName()
	seg, err := Create("", name)
	require.NoError(t, err)
	defer func() { _ = seg.Close() }()

	// A corrupt size field must not read past the buffer.
	assert.Len(t, seg.ReadRequest(MaxPayload+500), MaxPayload)
	assert.Len(t, seg.ReadResponse(^uint32(0)), MaxPayload)
}
