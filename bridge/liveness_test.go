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
	"os"
	"os/exec"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSupervisorDisabled(t *testing.T) {
	s := NewSupervisor(0, time.Millisecond)
	assert.False(t, s.Enabled())
	assert.True(t, s.ParentAlive())
	assert.True(t, s.Poll(time.Now()))
}

func TestSupervisorOwnProcessAlive(t *testing.T) {
	s := NewSupervisor(os.Getpid(), time.Millisecond)
	assert.True(t, s.Enabled())
	assert.True(t, s.ParentAlive())
}

func TestSupervisorDetectsDeadProcess(t *testing.T) {
	child := exec.Command("true")
	require.NoError(t, child.Run())

	s := NewSupervisor(child.Process.Pid, time.Millisecond)
	assert.False(t, s.ParentAlive())
}

func TestSupervisorPollRateLimited(t *testing.T) {
	child := exec.Command("true")
	require.NoError(t, child.Run())

	s := NewSupervisor(child.Process.Pid, time.Hour)
	now := time.Now()
	// First poll within the interval of the zero lastPoll time still probes.
	assert.False(t, s.Poll(now))
	// The dead parent is not re-probed until the interval elapses.
	assert.True(t, s.Poll(now.Add(time.Minute)))
	assert.False(t, s.Poll(now.Add(2*time.Hour)))
}
