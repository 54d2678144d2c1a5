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
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const (
	defaultSegmentName      = "shm_bridge"
	defaultSendTimeout      = 5 * time.Second
	defaultLivenessInterval = 100 * time.Millisecond
	defaultJournalSize      = 256
)

// Config carries the settings shared by both sides of the bridge plus the
// side-specific knobs. Zero values fall back to defaults in VerifyConfig.
type Config struct {
	// Name identifies the shared segment; both processes must agree on it.
	Name string

	// PathPrefix overrides where segment backing files live (Linux only;
	// default /dev/shm with a TempDir fallback).
	PathPrefix string

	// Wait is the polling backoff policy. Nil selects spin-then-yield.
	Wait WaitStrategy

	// SendTimeout bounds a Client round trip when Send is called with a
	// non-positive timeout. Ignored in debug mode.
	SendTimeout time.Duration

	// Debug disables the client's timeout bound for interactive inspection
	// and turns on verbose responder logging.
	Debug bool

	// ParentPID is the process the responder's liveness supervisor watches.
	// Zero disables supervision (used by in-process tests).
	ParentPID int

	// LivenessInterval is how often the responder re-checks the parent.
	LivenessInterval time.Duration

	// JournalSize bounds the responder's recent-exchange journal. Zero
	// selects the default; negative disables the journal.
	JournalSize int

	// HealthAddr, when non-empty, serves liveness/readiness probes over
	// HTTP from the responder.
	HealthAddr string

	// Metrics receives prometheus counters for both sides when non-nil.
	Metrics *Metrics

	// Meter and Tracer hook OpenTelemetry instrumentation onto the send
	// path. Both optional.
	Meter  metric.Meter
	Tracer trace.Tracer
}

// DefaultConfig returns a Config with the defaults filled in.
func DefaultConfig() *Config {
	return &Config{
		Name:             defaultSegmentName,
		Wait:             defaultWait(),
		SendTimeout:      defaultSendTimeout,
		LivenessInterval: defaultLivenessInterval,
		JournalSize:      defaultJournalSize,
	}
}

// VerifyConfig validates a Config and fills in defaulted fields in place.
func VerifyConfig(c *Config) error {
	if c == nil {
		return fmt.Errorf("bridge: config is nil")
	}
	if c.Name == "" {
		return fmt.Errorf("bridge: segment name must not be empty")
	}
	if strings.ContainsAny(c.Name, "/\\ ") {
		return fmt.Errorf("bridge: segment name %q must not contain path separators or spaces", c.Name)
	}
	if c.ParentPID < 0 {
		return fmt.Errorf("bridge: parent pid %d is negative", c.ParentPID)
	}
	if c.Wait == nil {
		c.Wait = defaultWait()
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = defaultSendTimeout
	}
	if c.LivenessInterval <= 0 {
		c.LivenessInterval = defaultLivenessInterval
	}
	if c.JournalSize == 0 {
		c.JournalSize = defaultJournalSize
	}
	return nil
}
