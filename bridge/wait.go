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
	"runtime"
	"time"
)

// WaitStrategy decides how a polling loop spends the gap between checks of
// the segment's control fields. It trades wake latency against CPU burn;
// protocol correctness never depends on the strategy chosen.
//
// Wait receives the number of consecutive unproductive polls since the last
// observed work, so a strategy can escalate from spinning to yielding to
// sleeping.
type WaitStrategy interface {
	Wait(spins int)
}

// SpinWait burns the core: no yield, minimum latency. For deployments that
// dedicate a core to the bridge.
type SpinWait struct{}

// Wait does nothing.
func (SpinWait) Wait(int) {}

// YieldWait spins for a small budget, then releases the time slice each
// poll. This matches the original transport's Sleep(0) behavior and is the
// default.
type YieldWait struct {
	// SpinBudget is the number of polls to spin before yielding. Zero means
	// yield immediately.
	SpinBudget int
}

// Wait yields the processor once the spin budget is exhausted.
func (w YieldWait) Wait(spins int) {
	if spins < w.SpinBudget {
		return
	}
	runtime.Gosched()
}

// SleepWait spins, then yields, then sleeps a fixed interval per poll. The
// CPU-frugal end of the spectrum.
type SleepWait struct {
	SpinBudget  int
	YieldBudget int
	// Interval is the sleep applied after both budgets are exhausted.
	// Zero defaults to 50µs.
	Interval time.Duration
}

// Wait escalates spin -> yield -> sleep based on the unproductive poll count.
func (w SleepWait) Wait(spins int) {
	if spins < w.SpinBudget {
		return
	}
	if spins < w.SpinBudget+w.YieldBudget {
		runtime.Gosched()
		return
	}
	d := w.Interval
	if d <= 0 {
		d = 50 * time.Microsecond
	}
	time.Sleep(d)
}

// defaultWait is the spin-then-yield policy both loops fall back to.
func defaultWait() WaitStrategy {
	return YieldWait{SpinBudget: 64}
}
