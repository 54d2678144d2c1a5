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
	"time"

	"github.com/shirou/gopsutil/v3/process"
)

// Supervisor watches the process that spawned the responder. When that
// process disappears the responder must terminate voluntarily, otherwise a
// crashed or force-killed initiator leaves an orphaned responder holding the
// segment forever.
type Supervisor struct {
	pid      int32
	interval time.Duration
	lastPoll time.Time
}

// NewSupervisor returns a supervisor for pid, polling at most once per
// interval. pid <= 0 disables supervision entirely.
func NewSupervisor(pid int, interval time.Duration) *Supervisor {
	if interval <= 0 {
		interval = defaultLivenessInterval
	}
	return &Supervisor{pid: int32(pid), interval: interval}
}

// Enabled reports whether a parent process is being watched.
func (s *Supervisor) Enabled() bool {
	return s != nil && s.pid > 0
}

// ParentAlive queries the OS for the watched pid. Probe errors count as
// alive: terminating the responder on a transient psutil failure would be
// worse than one extra poll interval of life.
func (s *Supervisor) ParentAlive() bool {
	if !s.Enabled() {
		return true
	}
	exists, err := process.PidExists(s.pid)
	if err != nil {
		internalLogger.warnf("liveness probe for pid %d failed: %v", s.pid, err)
		return true
	}
	return exists
}

// Poll is the rate-limited check the responder loop calls every iteration.
// It returns false only when the interval has elapsed and the parent is
// gone.
func (s *Supervisor) Poll(now time.Time) bool {
	if !s.Enabled() {
		return true
	}
	if now.Sub(s.lastPoll) < s.interval {
		return true
	}
	s.lastPoll = now
	return s.ParentAlive()
}
