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
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/heptiolabs/healthcheck"
	"github.com/panjf2000/ants/v2"
	"github.com/valyala/bytebufferpool"

	"github.com/srediag/shm-bridge/api"
	"github.com/srediag/shm-bridge/internal/shm"
)

// errorMarkerPrefix tags responses that report a handler failure rather than
// a handler result. The transport itself never fails a call for a handler
// error; the marker travels as an ordinary payload.
const errorMarkerPrefix = "error: "

// Responder owns the shared segment and services one request at a time. It
// is the only writer of the response fields and the only reader of the
// request fields while a request is in flight.
type Responder struct {
	// mu is held by Serve for the lifetime of the loop; Close acquires it so
	// the segment is never unmapped under a live poll.
	mu sync.Mutex

	seg        *shm.Segment
	cfg        *Config
	handler    api.Handler
	supervisor *Supervisor
	journal    *Journal

	// Handler invocations run on a single-worker pool so a panicking
	// handler is recovered without tearing down the serve loop's goroutine
	// state, and so the loop never allocates a goroutine per request.
	pool *ants.Pool

	health  *http.Server
	state   atomic.Uint32 // 0 idle, 1 serving, 2 stopped
	lastSeq uint32
}

const (
	responderIdle    = 0
	responderServing = 1
	responderStopped = 2
)

// NewResponder exclusively creates the named segment and prepares the serve
// loop. Segment creation failure is fatal: the loop never starts and the
// operator sees the error immediately.
func NewResponder(cfg *Config, handler api.Handler) (*Responder, error) {
	if err := VerifyConfig(cfg); err != nil {
		return nil, err
	}
	if handler == nil {
		return nil, fmt.Errorf("bridge: handler must not be nil")
	}
	seg, err := shm.Create(cfg.PathPrefix, cfg.Name)
	if err != nil {
		return nil, err
	}
	pool, err := ants.NewPool(1)
	if err != nil {
		_ = seg.Close()
		return nil, fmt.Errorf("bridge: handler pool: %w", err)
	}
	r := &Responder{
		seg:        seg,
		cfg:        cfg,
		handler:    handler,
		supervisor: NewSupervisor(cfg.ParentPID, cfg.LivenessInterval),
		journal:    NewJournal(cfg.JournalSize),
		pool:       pool,
	}
	if cfg.HealthAddr != "" {
		r.startHealthServer(cfg.HealthAddr)
	}
	internalLogger.infof("responder created segment %q (parent pid %d)", cfg.Name, cfg.ParentPID)
	return r, nil
}

// Journal exposes the recent-exchange journal; nil when journaling is
// disabled.
func (r *Responder) Journal() *Journal { return r.journal }

// Serve polls the segment for requests until Stop is called or the liveness
// supervisor reports the parent process gone. Parent loss is a voluntary,
// orderly shutdown and returns nil.
func (r *Responder) Serve() error {
	if !r.state.CompareAndSwap(responderIdle, responderServing) {
		return ErrClosed
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	internalLogger.infof("responder serving segment %q", r.seg.Name())

	spins := 0
	for r.state.Load() == responderServing {
		seq := r.seg.SequenceID()
		flag := r.seg.RequestFlag()

		if flag == shm.FlagRequested && seq != r.lastSeq {
			r.service(seq)
			spins = 0
			continue
		}

		if !r.supervisor.Poll(time.Now()) {
			internalLogger.infof("parent process %d gone, responder exiting", r.cfg.ParentPID)
			r.state.Store(responderStopped)
			return nil
		}

		r.cfg.Wait.Wait(spins)
		spins++
	}
	return nil
}

// service runs one IDLE -> REQUESTED -> PROCESSING -> RESPONDED cycle.
func (r *Responder) service(seq uint32) {
	start := time.Now()
	r.seg.SetRequestFlag(shm.FlagProcessing)

	// The request is staged through a pooled buffer; it is only valid until
	// this cycle completes, and handlers must copy what they retain.
	stage := bytebufferpool.Get()
	defer bytebufferpool.Put(stage)
	size := r.seg.RequestSize()
	stage.B = r.seg.AppendRequest(stage.B[:0], size)
	request := stage.B
	if r.cfg.Debug {
		internalLogger.debugf("request seq=%d size=%d payload=%q", seq, size, request)
	}

	response, failed := r.invoke(request)

	r.seg.WriteResponse(response)
	r.seg.SetResponseSize(uint32(len(response)))
	r.seg.SetResponseSeq(seq)
	r.seg.SetLastResponseTime(uint64(time.Now().UnixMicro()))
	// The consumed request bytes are cleared while the slot is still ours.
	r.seg.ZeroRequest(size)
	// Response readiness must become visible before the request slot frees,
	// else the initiator could publish a new request into fields this cycle
	// is still using.
	r.seg.SetResponseFlag(shm.FlagResponseReady)
	r.seg.SetRequestFlag(shm.FlagIdle)
	r.lastSeq = seq

	if r.cfg.Metrics != nil {
		r.cfg.Metrics.Served.Inc()
		if failed {
			r.cfg.Metrics.HandlerErrors.Inc()
		}
	}
	r.journal.Record(Exchange{
		Sequence: seq,
		Command:  firstToken(request),
		Latency:  time.Since(start),
		Failed:   failed,
	})
}

// invoke runs the handler on the worker pool, converting errors and panics
// into error-marker responses. A fault never unwinds past this point.
func (r *Responder) invoke(request []byte) (response []byte, failed bool) {
	done := make(chan struct{})
	err := r.pool.Submit(func() {
		defer close(done)
		defer func() {
			if p := recover(); p != nil {
				internalLogger.errorf("handler panic: %v", p)
				response, failed = errorMarker(fmt.Sprintf("handler panic: %v", p)), true
			}
		}()
		out, herr := r.handler.Handle(request)
		if herr != nil {
			response, failed = errorMarker(herr.Error()), true
			return
		}
		response = out
	})
	if err != nil {
		return errorMarker(fmt.Sprintf("handler pool: %v", err)), true
	}
	<-done

	if len(response) > shm.MaxPayload {
		return errorMarker(fmt.Sprintf("response of %d bytes exceeds buffer", len(response))), true
	}
	return response, failed
}

// errorMarker builds the textual failure payload sent in place of a handler
// result.
func errorMarker(msg string) []byte {
	out := []byte(errorMarkerPrefix + msg)
	if len(out) > shm.MaxPayload {
		out = out[:shm.MaxPayload]
	}
	return out
}

// IsErrorMarker reports whether a response payload is an error-marker rather
// than a handler result.
func IsErrorMarker(response []byte) bool {
	return bytes.HasPrefix(response, []byte(errorMarkerPrefix))
}

// Stop asks the serve loop to exit after its current iteration.
func (r *Responder) Stop() {
	r.state.Store(responderStopped)
}

// Close stops the loop, releases the worker pool, shuts down the health
// endpoint and removes the segment. It blocks until a running Serve has
// exited, so teardown never races the poll loop.
func (r *Responder) Close() error {
	r.Stop()
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pool.Release()
	if r.health != nil {
		_ = r.health.Close()
	}
	return r.seg.Close()
}

func (r *Responder) startHealthServer(addr string) {
	health := healthcheck.NewHandler()
	health.AddLivenessCheck("parent-process", func() error {
		if !r.supervisor.ParentAlive() {
			return fmt.Errorf("parent pid %d is gone", r.cfg.ParentPID)
		}
		return nil
	})
	health.AddReadinessCheck("serving", func() error {
		if r.state.Load() != responderServing {
			return fmt.Errorf("responder not serving")
		}
		return nil
	})
	r.health = &http.Server{Addr: addr, Handler: health}
	go func() {
		if err := r.health.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			internalLogger.warnf("health endpoint: %v", err)
		}
	}()
}

// firstToken returns the command name at the head of a tokenized payload.
func firstToken(payload []byte) string {
	if i := bytes.IndexByte(payload, ' '); i >= 0 {
		return string(payload[:i])
	}
	return string(payload)
}
