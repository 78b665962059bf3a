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

// Package domainstats aggregates per-hostname traffic counters under a
// single lock and reduces them to a snapshot with derived averages.
//
// Request and byte counts are plain uint64 fields; duration and ttfb are
// tracked with [goproxy/stats].Counter (adapted from fortio's own stats
// package: Sum/Count already give us the cumulative totals a Counter.Avg()
// call needs, so they reuse it directly instead of hand rolled running sums).
package domainstats // import "goproxy/proxy/domainstats"

import (
	"sync"

	"goproxy/stats"
)

// Entry is one host's accumulated traffic counters.
type Entry struct {
	Requests      uint64
	BytesSent     uint64
	BytesReceived uint64
	duration      stats.Counter
	ttfb          stats.Counter
}

// Summary is a derived, read-only snapshot of one host's Entry, produced
// by Reduce. Averages are computed once, outside the aggregator's lock.
type Summary struct {
	Requests      uint64  `json:"requests"`
	BytesSent     uint64  `json:"bytes_sent"`
	BytesReceived uint64  `json:"bytes_received"`
	AvgDuration   float64 `json:"avg_duration"`
	AvgTTFB       float64 `json:"avg_ttfb"`
}

// Aggregator is the thread-safe, process-wide per-host stats map. One lock
// protects every mutation; the zero value is ready to use.
type Aggregator struct {
	mu      sync.Mutex
	entries map[string]*Entry
}

// New creates an empty Aggregator.
func New() *Aggregator {
	return &Aggregator{entries: make(map[string]*Entry)}
}

// Record adds one completed request's counters to host's entry, creating
// the entry lazily on first use. ttfb is only added when hasTTFB is true
// (a denied/errored request before any byte was sent has none).
func (a *Aggregator) Record(host string, bytesSent, bytesReceived uint64, duration float64, ttfb float64, hasTTFB bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.entries == nil {
		a.entries = make(map[string]*Entry)
	}
	e, ok := a.entries[host]
	if !ok {
		e = &Entry{}
		a.entries[host] = e
	}
	e.Requests++
	e.BytesSent += bytesSent
	e.BytesReceived += bytesReceived
	e.duration.Record(duration)
	if hasTTFB {
		e.ttfb.Record(ttfb)
	}
}

// Reduce snapshots the stats map under lock, then derives per-host
// averages outside the lock (as spec.md §4.5 requires), returning a fresh
// map safe to read or serialize without further synchronization.
func (a *Aggregator) Reduce() map[string]Summary {
	a.mu.Lock()
	snapshot := make(map[string]Entry, len(a.entries))
	for host, e := range a.entries {
		snapshot[host] = *e
	}
	a.mu.Unlock()

	out := make(map[string]Summary, len(snapshot))
	for host, e := range snapshot {
		out[host] = Summary{
			Requests:      e.Requests,
			BytesSent:     e.BytesSent,
			BytesReceived: e.BytesReceived,
			AvgDuration:   e.duration.Avg(),
			AvgTTFB:       e.ttfb.Avg(),
		}
	}
	return out
}
