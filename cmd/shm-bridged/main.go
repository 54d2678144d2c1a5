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

// shm-bridged is the responder process of the shared-memory bridge. It is
// spawned by the initiator with two positional arguments:
//
//	shm-bridged <parent-pid> <debug 0|1>
//
// It creates the shared segment, services tokenized commands until the
// parent process exits, then terminates voluntarily with exit code 0.
// Failure to create the segment exits non-zero.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/srediag/shm-bridge/bridge"
	"github.com/srediag/shm-bridge/dispatch"
)

func main() {
	os.Exit(run())
}

func run() int {
	if len(os.Args) < 3 {
		fmt.Fprintln(os.Stderr, "usage: shm-bridged <parent-pid> <debug 0|1>")
		return 2
	}
	parentPID, err := strconv.Atoi(os.Args[1])
	if err != nil || parentPID <= 0 {
		fmt.Fprintf(os.Stderr, "invalid parent pid %q\n", os.Args[1])
		return 2
	}
	debug := os.Args[2] == "1"

	cfg := bridge.DefaultConfig()
	cfg.ParentPID = parentPID
	cfg.Debug = debug
	if name := os.Getenv("SHMBRIDGE_SEGMENT"); name != "" {
		cfg.Name = name
	}
	if addr := os.Getenv("SHMBRIDGE_HEALTH_ADDR"); addr != "" {
		cfg.HealthAddr = addr
	}

	registry := dispatch.NewRegistry()
	responder, err := bridge.NewResponder(cfg, registry)
	if err != nil {
		fmt.Fprintf(os.Stderr, "segment creation failed: %v\n", err)
		return 1
	}
	defer responder.Close()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		responder.Stop()
	}()

	if err := responder.Serve(); err != nil {
		fmt.Fprintf(os.Stderr, "responder failed: %v\n", err)
		return 1
	}

	if debug {
		for _, e := range responder.Journal().Drain() {
			fmt.Println(e)
		}
	}
	return 0
}
