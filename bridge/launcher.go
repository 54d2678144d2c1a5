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
	"os"
	"os/exec"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	defaultSettleDelay     = 200 * time.Millisecond
	defaultConnectInterval = 100 * time.Millisecond
	defaultConnectAttempts = 20
)

// LaunchConfig describes how to spawn and connect to a responder process.
// The spawn -> settle -> bounded-connect handshake is the only place in the
// bridge where retries exist.
type LaunchConfig struct {
	// Path is the responder executable.
	Path string

	// Config is the transport configuration shared with the child; the
	// child receives this process's pid and the debug flag as its two
	// positional arguments.
	Config *Config

	// SettleDelay is the fixed wait between spawning and the first connect
	// attempt, giving the child time to create the segment.
	SettleDelay time.Duration

	// ConnectInterval and ConnectAttempts bound the connect retry loop.
	ConnectInterval time.Duration
	ConnectAttempts uint64
}

// Peer is a launched responder process plus the client connected to it.
type Peer struct {
	Client *Client
	cmd    *exec.Cmd
}

// Launch spawns the responder executable, waits for it to settle, then
// connects under a bounded constant-backoff policy. On any failure the child
// is killed before the error is returned.
func Launch(ctx context.Context, lc LaunchConfig) (*Peer, error) {
	if lc.Path == "" {
		return nil, fmt.Errorf("bridge: launch path must not be empty")
	}
	if lc.Config == nil {
		lc.Config = DefaultConfig()
	}
	if err := VerifyConfig(lc.Config); err != nil {
		return nil, err
	}
	if lc.SettleDelay <= 0 {
		lc.SettleDelay = defaultSettleDelay
	}
	if lc.ConnectInterval <= 0 {
		lc.ConnectInterval = defaultConnectInterval
	}
	if lc.ConnectAttempts == 0 {
		lc.ConnectAttempts = defaultConnectAttempts
	}

	debugArg := "0"
	if lc.Config.Debug {
		debugArg = "1"
	}
	cmd := exec.Command(lc.Path, strconv.Itoa(os.Getpid()), debugArg)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("bridge: spawn responder %s: %w", lc.Path, err)
	}
	internalLogger.infof("spawned responder pid %d", cmd.Process.Pid)

	select {
	case <-time.After(lc.SettleDelay):
	case <-ctx.Done():
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
		return nil, ctx.Err()
	}

	var client *Client
	connect := func() error {
		var err error
		client, err = Connect(lc.Config)
		return err
	}
	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(lc.ConnectInterval), lc.ConnectAttempts),
		ctx,
	)
	if err := backoff.Retry(connect, policy); err != nil {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
		return nil, fmt.Errorf("bridge: connect to responder: %w", err)
	}

	return &Peer{Client: client, cmd: cmd}, nil
}

// Pid returns the responder process id.
func (p *Peer) Pid() int {
	return p.cmd.Process.Pid
}

// Close disconnects the client and terminates the responder. The responder's
// own liveness supervision would catch our exit eventually; killing it here
// just makes shutdown prompt.
func (p *Peer) Close() error {
	err := p.Client.Close()
	if p.cmd.Process != nil {
		_ = p.cmd.Process.Kill()
	}
	_ = p.cmd.Wait()
	return err
}
