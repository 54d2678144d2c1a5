/*
 * Copyright 2025 SREDiag Authors
 * Copyright 2023 CloudWeGo Authors
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
	"fmt"
	"sync"
	"time"

	"github.com/Workiva/go-datastructures/queue"
)

// Exchange is one journaled request/response cycle.
type Exchange struct {
	Sequence uint32
	Command  string // first token of the request payload
	Latency  time.Duration
	Failed   bool
}

func (e Exchange) String() string {
	status := "ok"
	if e.Failed {
		status = "error"
	}
	return fmt.Sprintf("seq=%d cmd=%s latency=%s status=%s", e.Sequence, e.Command, e.Latency, status)
}

// Journal keeps a bounded ring of recent exchanges for debug inspection,
// the responder-side analogue of DebugQueueDetail. When full, the oldest
// entry is dropped to make room.
type Journal struct {
	mu sync.Mutex
	rb *queue.RingBuffer
}

// NewJournal returns a journal holding at most size entries; size <= 0
// returns nil (journaling disabled).
func NewJournal(size int) *Journal {
	if size <= 0 {
		return nil
	}
	return &Journal{rb: queue.NewRingBuffer(uint64(size))}
}

// Record appends an exchange, evicting the oldest entry when full. Safe to
// call on a nil journal.
func (j *Journal) Record(e Exchange) {
	if j == nil {
		return
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	ok, err := j.rb.Offer(e)
	if err != nil {
		return
	}
	if !ok {
		if _, err := j.rb.Poll(time.Millisecond); err != nil {
			return
		}
		_, _ = j.rb.Offer(e)
	}
}

// Len reports the number of journaled exchanges.
func (j *Journal) Len() int {
	if j == nil {
		return 0
	}
	return int(j.rb.Len())
}

// Drain removes and returns all journaled exchanges, oldest first.
func (j *Journal) Drain() []Exchange {
	if j == nil {
		return nil
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]Exchange, 0, j.rb.Len())
	for j.rb.Len() > 0 {
		v, err := j.rb.Poll(time.Millisecond)
		if err != nil {
			break
		}
		if e, ok := v.(Exchange); ok {
			out = append(out, e)
		}
	}
	return out
}
