// Copyright 2017 Fortio Authors
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

// Package promsink feeds goproxy/proxy/metrics' registered collectors
// from the C10 Sink interface, so the usual promhttp.Handler() exposes
// live traffic counters alongside whatever other backends are wired.
package promsink // import "goproxy/proxy/sink/promsink"

import (
	"goproxy/proxy/domainstats"
	"goproxy/proxy/metrics"
	"goproxy/proxy/sink"
)

// Sink increments metrics.Collectors on every event. It never flushes
// anything at shutdown: Prometheus scrapes continuously, it has no
// end-of-run summary to write.
type Sink struct {
	collectors *metrics.Collectors
}

// New wraps collectors in a Sink.
func New(collectors *metrics.Collectors) *Sink {
	return &Sink{collectors: collectors}
}

func (s *Sink) EmitRequestCompleted(e sink.RequestCompleted) {
	s.collectors.RequestsTotal.WithLabelValues(e.Host, string(e.Protocol)).Inc()
	s.collectors.BytesSentTotal.WithLabelValues(e.Host).Add(float64(e.BytesSent))
	s.collectors.BytesReceivedTotal.WithLabelValues(e.Host).Add(float64(e.BytesReceived))
}

func (s *Sink) EmitRequestBlocked(e sink.RequestBlocked) {
	s.collectors.BlockedTotal.WithLabelValues(e.Host).Inc()
}

func (s *Sink) EmitRateLimited(e sink.RateLimited) {
	s.collectors.RateLimitedTotal.WithLabelValues(e.SourceIP).Inc()
}

// FlushSummary is a no-op; see Sink.
func (s *Sink) FlushSummary(map[string]domainstats.Summary) {}
