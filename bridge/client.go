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
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/srediag/shm-bridge/internal/shm"
)

// Client is the initiator side of the bridge: it opens an existing segment,
// publishes requests and busy-polls for completion. One client owns its own
// sequence counter; there is no process-wide transport state.
//
// Send must not be called concurrently on one client — the protocol supports
// exactly one outstanding request. Concurrent calls fail with
// ErrCallInFlight instead of corrupting the segment.
type Client struct {
	mu     sync.Mutex
	seg    *shm.Segment
	cfg    *Config
	seq    uint32
	closed atomic.Bool

	otelSends metric.Int64Counter
}

// Connect opens the named segment created by a responder. The mapping not
// existing is a fatal transport setup error; connect-time retries are the
// launcher's job.
func Connect(cfg *Config) (*Client, error) {
	if err := VerifyConfig(cfg); err != nil {
		return nil, err
	}
	seg, err := shm.Open(cfg.PathPrefix, cfg.Name)
	if err != nil {
		return nil, err
	}
	c := &Client{seg: seg, cfg: cfg}
	if cfg.Meter != nil {
		c.otelSends, err = cfg.Meter.Int64Counter("shmbridge.client.sends")
		if err != nil {
			internalLogger.warnf("otel counter init failed: %v", err)
		}
	}
	internalLogger.infof("client connected to segment %q", cfg.Name)
	return c, nil
}

// Send performs one request/response round trip, blocking the caller for the
// duration. timeout <= 0 falls back to Config.SendTimeout; in debug mode the
// wait is unbounded.
//
// On timeout the request slot is left as is and delivery is at most once:
// the responder may still answer late, in which case the stale response is
// detected by its sequence binding and discarded by a later call.
func (c *Client) Send(request []byte, timeout time.Duration) ([]byte, error) {
	if c.closed.Load() {
		return nil, ErrClosed
	}
	if len(request) > shm.MaxPayload {
		if c.cfg.Metrics != nil {
			c.cfg.Metrics.Oversized.Inc()
		}
		return nil, fmt.Errorf("%w: %d bytes, max %d", ErrPayloadTooLarge, len(request), shm.MaxPayload)
	}
	if !c.mu.TryLock() {
		return nil, ErrCallInFlight
	}
	defer c.mu.Unlock()

	// Close may have won the lock between the entry check and here, in which
	// case the segment is already unmapped.
	if c.closed.Load() {
		return nil, ErrClosed
	}

	if c.cfg.Tracer != nil {
		_, span := c.cfg.Tracer.Start(context.Background(), "shmbridge.Send")
		defer span.End()
	}

	// A non-idle request flag means a previously timed-out request still
	// occupies the slot; writing over it would race the responder.
	if c.seg.RequestFlag() != shm.FlagIdle {
		return nil, ErrSlotDirty
	}
	c.discardStaleResponse()

	seq := atomic.AddUint32(&c.seq, 1)
	start := time.Now()

	// Publication order matters: size and payload before the sequence,
	// sequence before the flag. The responder's acquire loads then can never
	// observe the raised flag without the bytes it describes.
	c.seg.SetRequestSize(uint32(len(request)))
	c.seg.WriteRequest(request)
	c.seg.SetLastRequestTime(uint64(start.UnixMicro()))
	c.seg.SetSequenceID(seq)
	c.seg.SetRequestFlag(shm.FlagRequested)

	if c.cfg.Metrics != nil {
		c.cfg.Metrics.Requests.Inc()
	}
	if c.otelSends != nil {
		c.otelSends.Add(context.Background(), 1)
	}

	if timeout <= 0 {
		timeout = c.cfg.SendTimeout
	}
	var deadline time.Time
	if !c.cfg.Debug {
		deadline = start.Add(timeout)
	}

	spins := 0
	for {
		if c.seg.ResponseFlag() == shm.FlagResponseReady {
			if c.seg.ResponseSeq() != seq {
				// Late answer to an abandoned request; drop it and keep
				// waiting for ours.
				c.seg.SetResponseFlag(shm.FlagNoResponse)
			} else if c.seg.RequestFlag() == shm.FlagIdle {
				break
			}
		}
		if c.closed.Load() {
			return nil, ErrClosed
		}
		if !deadline.IsZero() && time.Now().After(deadline) {
			if c.cfg.Metrics != nil {
				c.cfg.Metrics.Timeouts.Inc()
			}
			return nil, fmt.Errorf("%w: no response after %s (seq %d)", ErrTimeout, timeout, seq)
		}
		c.cfg.Wait.Wait(spins)
		spins++
	}

	response := c.seg.ReadResponse(c.seg.ResponseSize())
	c.seg.SetResponseFlag(shm.FlagNoResponse)
	// Consumed request bytes must not survive into the next exchange.
	c.seg.ZeroRequest(uint32(len(request)))

	if c.cfg.Metrics != nil {
		c.cfg.Metrics.RoundTrip.Observe(time.Since(start).Seconds())
	}
	return response, nil
}

// discardStaleResponse clears a ready response left over from a timed-out
// exchange so it cannot be misread as the answer to the next request. Any
// response visible before a request is published is by definition stale.
func (c *Client) discardStaleResponse() {
	if c.seg.ResponseFlag() == shm.FlagResponseReady {
		internalLogger.debugf("discarding stale response for seq %d", c.seg.ResponseSeq())
		c.seg.SetResponseFlag(shm.FlagNoResponse)
	}
}

// Sequence returns the last sequence number this client allocated.
func (c *Client) Sequence() uint32 {
	return atomic.LoadUint32(&c.seq)
}

// Close unmaps the segment. An in-flight Send fails with ErrClosed on its
// next poll; Close blocks until that call has released the segment, so the
// mapping is never torn down under a live poll loop.
func (c *Client) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.seg.Close()
}
