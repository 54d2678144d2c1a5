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

import "github.com/prometheus/client_golang/prometheus"

// Metrics aggregates the bridge's prometheus instruments. One Metrics value
// may be shared by a Client and a Responder living in the same process (as
// the in-process tests do); across processes each side registers its own.
type Metrics struct {
	// Client side.
	Requests  prometheus.Counter
	Timeouts  prometheus.Counter
	Oversized prometheus.Counter
	RoundTrip prometheus.Histogram

	// Responder side.
	Served        prometheus.Counter
	HandlerErrors prometheus.Counter
}

// NewMetrics builds the instrument set and registers it with reg when reg is
// non-nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Requests: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "shmbridge_client_requests_total",
			Help: "Requests published to the shared segment.",
		}),
		Timeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "shmbridge_client_timeouts_total",
			Help: "Round trips that exceeded the timeout bound.",
		}),
		Oversized: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "shmbridge_client_oversized_total",
			Help: "Requests rejected for exceeding the payload buffer.",
		}),
		RoundTrip: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name: "shmbridge_client_round_trip_seconds",
			Help: "Request/response round-trip latency.",
			// The hot path is microseconds; buckets start well below 1ms.
			Buckets: prometheus.ExponentialBuckets(5e-6, 4, 10),
		}),
		Served: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "shmbridge_responder_served_total",
			Help: "Requests serviced by the responder loop.",
		}),
		HandlerErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "shmbridge_responder_handler_errors_total",
			Help: "Handler failures converted to error-marker responses.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.Requests, m.Timeouts, m.Oversized, m.RoundTrip, m.Served, m.HandlerErrors)
	}
	return m
}
