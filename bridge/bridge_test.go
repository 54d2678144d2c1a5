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
	"bytes"
	"math/rand"
	"os/exec"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/srediag/shm-bridge/api"
	"github.com/srediag/shm-bridge/dispatch"
	"github.com/srediag/shm-bridge/internal/shm"
)

type BridgeTestSuite struct {
	suite.Suite
}

func TestBridgeSuite(t *testing.T) {
	suite.Run(t, new(BridgeTestSuite))
}

func testConfig() *Config {
	cfg := DefaultConfig()
	cfg.Name = "bridge_test_" + strconv.Itoa(int(rand.Int63())) + "_" + strconv.Itoa(time.Now().Nanosecond())
	cfg.Wait = SleepWait{SpinBudget: 64, YieldBudget: 64, Interval: 20 * time.Microsecond}
	cfg.JournalSize = 16
	return cfg
}

var echoHandler = api.HandlerFunc(func(request []byte) ([]byte, error) {
	out := make([]byte, len(request))
	copy(out, request)
	return out, nil
})

// startBridge creates the segment, runs the serve loop in the background and
// returns a connected client.
func startBridge(t *testing.T, cfg *Config, h api.Handler) (*Client, *Responder, func()) {
	t.Helper()
	responder, err := NewResponder(cfg, h)
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = responder.Serve()
	}()

	client, err := Connect(cfg)
	require.NoError(t, err)

	return client, responder, func() {
		_ = client.Close()
		responder.Stop()
		<-done
		_ = responder.Close()
	}
}

func (s *BridgeTestSuite) startResponder(cfg *Config, h api.Handler) (*Client, *Responder, func()) {
	return startBridge(s.T(), cfg, h)
}

func (s *BridgeTestSuite) TestEchoRoundTrip() {
	client, _, stop := s.startResponder(testConfig(), echoHandler)
	defer stop()

	for _, payload := range [][]byte{
		[]byte("echo hello"),
		[]byte("x"),
		bytes.Repeat([]byte("a"), shm.MaxPayload),
	} {
		got, err := client.Send(payload, time.Second)
		s.Require().NoError(err)
		s.Require().Equal(payload, got)
	}
}

func (s *BridgeTestSuite) TestDispatchRoundTrip() {
	client, responder, stop := s.startResponder(testConfig(), dispatch.NewRegistry())
	defer stop()

	got, err := client.Send([]byte("echo hello"), time.Second)
	s.Require().NoError(err)
	s.Require().Equal("hello", string(got))

	got, err = client.Send([]byte("ping"), time.Second)
	s.Require().NoError(err)
	s.Require().Equal("pong", string(got))

	got, err = client.Send([]byte("pe32_rd_id 3"), time.Second)
	s.Require().NoError(err)
	s.Require().Equal("Unknown command :pe32_rd_id", string(got))

	entries := responder.Journal().Drain()
	s.Require().Len(entries, 3)
	s.Require().Equal("echo", entries[0].Command)
	s.Require().Equal("ping", entries[1].Command)
}

func (s *BridgeTestSuite) TestOversizedPayloadRejectedBeforeSegmentWrite() {
	cfg := testConfig()
	client, _, stop := s.startResponder(cfg, echoHandler)
	defer stop()

	before := client.seg.SequenceID()
	_, err := client.Send(bytes.Repeat([]byte("b"), 5000), time.Second)
	s.Require().ErrorIs(err, ErrPayloadTooLarge)
	// Nothing was published.
	s.Require().Equal(before, client.seg.SequenceID())
	s.Require().Equal(uint32(shm.FlagIdle), client.seg.RequestFlag())
}

func (s *BridgeTestSuite) TestSequenceStrictlyIncreasing() {
	client, _, stop := s.startResponder(testConfig(), echoHandler)
	defer stop()

	var last uint32
	for i := 0; i < 10; i++ {
		_, err := client.Send([]byte("tick"), time.Second)
		s.Require().NoError(err)
		seq := client.Sequence()
		s.Require().Greater(seq, last)
		last = seq
	}
}

func (s *BridgeTestSuite) TestHandlerErrorBecomesMarkerResponse() {
	handler := api.HandlerFunc(func(request []byte) ([]byte, error) {
		return nil, &exec.Error{Name: "pe32_init", Err: exec.ErrNotFound}
	})
	client, _, stop := s.startResponder(testConfig(), handler)
	defer stop()

	got, err := client.Send([]byte("pe32_init"), time.Second)
	s.Require().NoError(err, "handler errors travel as payloads, not transport errors")
	s.Require().True(IsErrorMarker(got))
}

func (s *BridgeTestSuite) TestHandlerPanicContained() {
	handler := api.HandlerFunc(func(request []byte) ([]byte, error) {
		panic("driver fault")
	})
	client, _, stop := s.startResponder(testConfig(), handler)
	defer stop()

	got, err := client.Send([]byte("boom"), time.Second)
	s.Require().NoError(err)
	s.Require().True(IsErrorMarker(got))
	s.Require().Contains(string(got), "driver fault")

	// The loop survives the panic.
	got, err = client.Send([]byte("still alive"), time.Second)
	s.Require().NoError(err)
	s.Require().True(IsErrorMarker(got))
}

func (s *BridgeTestSuite) TestTimeoutWithoutResponder() {
	cfg := testConfig()
	// Segment exists but nobody serves it.
	responder, err := NewResponder(cfg, echoHandler)
	s.Require().NoError(err)
	defer func() { _ = responder.Close() }()

	client, err := Connect(cfg)
	s.Require().NoError(err)
	defer func() { _ = client.Close() }()

	start := time.Now()
	_, err = client.Send([]byte("anyone there"), 50*time.Millisecond)
	elapsed := time.Since(start)
	s.Require().ErrorIs(err, ErrTimeout)
	s.Require().GreaterOrEqual(elapsed, 50*time.Millisecond)
	s.Require().Less(elapsed, time.Second)

	// The abandoned request still occupies the slot; the client is burned.
	_, err = client.Send([]byte("again"), 50*time.Millisecond)
	s.Require().ErrorIs(err, ErrSlotDirty)
}

func (s *BridgeTestSuite) TestLateResponseDiscarded() {
	var delay sync.Map
	handler := api.HandlerFunc(func(request []byte) ([]byte, error) {
		if _, slow := delay.Load(string(request)); slow {
			time.Sleep(150 * time.Millisecond)
		}
		return append([]byte("ack "), request...), nil
	})
	delay.Store("slow", struct{}{})

	client, _, stop := s.startResponder(testConfig(), handler)
	defer stop()

	_, err := client.Send([]byte("slow"), 30*time.Millisecond)
	s.Require().ErrorIs(err, ErrTimeout)

	// Let the responder finish the abandoned request and free the slot.
	time.Sleep(300 * time.Millisecond)

	// The late answer to "slow" must not surface as the answer to "fast".
	got, err := client.Send([]byte("fast"), time.Second)
	s.Require().NoError(err)
	s.Require().Equal("ack fast", string(got))
}

func (s *BridgeTestSuite) TestConcurrentSendRejected() {
	handler := api.HandlerFunc(func(request []byte) ([]byte, error) {
		time.Sleep(100 * time.Millisecond)
		return request, nil
	})
	client, _, stop := s.startResponder(testConfig(), handler)
	defer stop()

	firstDone := make(chan error, 1)
	go func() {
		_, err := client.Send([]byte("first"), time.Second)
		firstDone <- err
	}()

	time.Sleep(20 * time.Millisecond)
	_, err := client.Send([]byte("second"), time.Second)
	s.Require().ErrorIs(err, ErrCallInFlight)
	s.Require().NoError(<-firstDone)
}

func (s *BridgeTestSuite) TestResponderStopsWhenParentDies() {
	// A reaped child pid stands in for a crashed initiator.
	child := exec.Command("true")
	s.Require().NoError(child.Run())
	deadPID := child.Process.Pid

	cfg := testConfig()
	cfg.ParentPID = deadPID
	cfg.LivenessInterval = 10 * time.Millisecond

	responder, err := NewResponder(cfg, echoHandler)
	s.Require().NoError(err)
	defer func() { _ = responder.Close() }()

	done := make(chan error, 1)
	go func() { done <- responder.Serve() }()

	select {
	case err := <-done:
		s.Require().NoError(err, "parent loss is a voluntary shutdown, not an error")
	case <-time.After(2 * time.Second):
		s.Fail("responder did not notice parent death")
	}
}

func (s *BridgeTestSuite) TestServeAfterStop() {
	cfg := testConfig()
	responder, err := NewResponder(cfg, echoHandler)
	s.Require().NoError(err)
	defer func() { _ = responder.Close() }()

	responder.Stop()
	s.Require().ErrorIs(responder.Serve(), ErrClosed)
}

func (s *BridgeTestSuite) TestConnectWithoutResponder() {
	cfg := testConfig()
	_, err := Connect(cfg)
	s.Require().ErrorIs(err, ErrSegmentNotFound)
}

func (s *BridgeTestSuite) TestCloseDuringSend() {
	cfg := testConfig()
	// Segment exists but nobody serves it, so Send polls until closed.
	responder, err := NewResponder(cfg, echoHandler)
	s.Require().NoError(err)
	defer func() { _ = responder.Close() }()

	client, err := Connect(cfg)
	s.Require().NoError(err)

	sendDone := make(chan error, 1)
	go func() {
		_, err := client.Send([]byte("hang"), time.Minute)
		sendDone <- err
	}()
	time.Sleep(20 * time.Millisecond)

	// Close must wait out the polling Send rather than unmap under it.
	s.Require().NoError(client.Close())
	select {
	case err := <-sendDone:
		s.Require().ErrorIs(err, ErrClosed)
	case <-time.After(time.Second):
		s.Fail("send did not observe the closed client")
	}
}

func (s *BridgeTestSuite) TestCloseDuringServe() {
	cfg := testConfig()
	responder, err := NewResponder(cfg, echoHandler)
	s.Require().NoError(err)

	serveDone := make(chan error, 1)
	go func() { serveDone <- responder.Serve() }()
	time.Sleep(20 * time.Millisecond)

	// Close blocks until the loop exits, so by the time it returns Serve has
	// already finished.
	s.Require().NoError(responder.Close())
	select {
	case err := <-serveDone:
		s.Require().NoError(err)
	case <-time.After(time.Second):
		s.Fail("serve loop still running after Close returned")
	}
}

func (s *BridgeTestSuite) TestSendAfterClose() {
	client, _, stop := s.startResponder(testConfig(), echoHandler)
	defer stop()

	s.Require().NoError(client.Close())
	_, err := client.Send([]byte("late"), time.Second)
	s.Require().ErrorIs(err, ErrClosed)
}
