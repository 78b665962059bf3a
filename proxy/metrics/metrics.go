// Copyright 2023 Fortio Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package metrics exposes goproxy's counters to Prometheus.
//
// Adapted from fortio's metrics package, which wrote a handful of ad hoc
// text gauges straight to an http.ResponseWriter. goproxy instead
// registers real [github.com/prometheus/client_golang] collectors so the
// usual /metrics handler (promhttp.Handler()) can be mounted by whatever
// wires the event sink together; this package owns only the collectors.
// The Sink glue lives in proxy/sink/promsink and the HTTP exposition in
// main.go.
package metrics // import "goproxy/proxy/metrics"

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Collectors holds every goproxy counter registered with Prometheus.
type Collectors struct {
	RequestsTotal      *prometheus.CounterVec
	BytesSentTotal     *prometheus.CounterVec
	BytesReceivedTotal *prometheus.CounterVec
	BlockedTotal       *prometheus.CounterVec
	RateLimitedTotal   *prometheus.CounterVec
}

// NewCollectors creates and registers the goproxy collectors against reg.
// Pass prometheus.NewRegistry() for an isolated registry (tests) or
// prometheus.DefaultRegisterer to expose via the default /metrics path.
func NewCollectors(reg prometheus.Registerer) *Collectors {
	c := &Collectors{
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "goproxy_requests_total",
			Help: "Total number of completed proxy requests, by host and protocol.",
		}, []string{"host", "protocol"}),
		BytesSentTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "goproxy_bytes_sent_total",
			Help: "Total bytes sent from origin to client, by host.",
		}, []string{"host"}),
		BytesReceivedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "goproxy_bytes_received_total",
			Help: "Total bytes received from client to origin, by host.",
		}, []string{"host"}),
		BlockedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "goproxy_blocked_total",
			Help: "Total requests rejected by the blocklist, by host.",
		}, []string{"host"}),
		RateLimitedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "goproxy_ratelimited_total",
			Help: "Total requests rejected by the rate limiter, by source IP.",
		}, []string{"source_ip"}),
	}
	reg.MustRegister(c.RequestsTotal, c.BytesSentTotal, c.BytesReceivedTotal, c.BlockedTotal, c.RateLimitedTotal)
	return c
}
