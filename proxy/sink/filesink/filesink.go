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

// Package filesink writes one JSON document per completed request and a
// text summary report (plus a top-domains chart) at shutdown, grounded on
// logging_utils.py's log_request/log_blocked_request/generate_text_summary/
// generate_chart: same directory layout under Logs/, same "skip nil
// fields" JSON shape, same per-request filename pattern (now using
// github.com/google/uuid instead of Python's uuid.uuid1()).
package filesink // import "goproxy/proxy/sink/filesink"

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"goproxy/proxy/domainstats"
	"goproxy/proxy/sink"
	"goproxy/proxy/sink/chart"

	"github.com/google/uuid"

	"fortio.org/log"
)

const (
	trafficDir = "Website Traffic"
	blockedDir = "Blocked Logs"
	summaryDir = "Summary Logs"
)

// Sink writes JSON excerpt files under root (typically "Logs").
type Sink struct {
	root string
}

// New resets root (removing any prior run's files, mirroring main.py's
// shutil.rmtree("Logs") on startup when logging is enabled) and returns a
// Sink ready to receive events.
func New(root string) (*Sink, error) {
	if err := os.RemoveAll(root); err != nil {
		return nil, fmt.Errorf("filesink: clearing %s: %w", root, err)
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("filesink: creating %s: %w", root, err)
	}
	return &Sink{root: root}, nil
}

type requestDoc struct {
	Timestamp     string `json:"Timestamp"`
	Host          string `json:"Host,omitempty"`
	SourceIP      string `json:"Source IP,omitempty"`
	Protocol      string `json:"Protocol,omitempty"`
	BytesSent     uint64 `json:"Bytes sent,omitempty"`
	BytesReceived uint64 `json:"Bytes received,omitempty"`
	Duration      string `json:"Request duration (s),omitempty"`
	TTFB          string `json:"TTFB (s),omitempty"`
}

func (s *Sink) EmitRequestCompleted(e sink.RequestCompleted) {
	dir := filepath.Join(s.root, trafficDir, e.Host)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		log.Errf("filesink: mkdir %s: %v", dir, err)
		return
	}
	doc := requestDoc{
		Timestamp:     time.Now().Format("2006-01-02 15:04:05"),
		Host:          e.Host,
		SourceIP:      e.SourceIP,
		Protocol:      string(e.Protocol),
		BytesSent:     e.BytesSent,
		BytesReceived: e.BytesReceived,
		Duration:      fmt.Sprintf("%.6f", e.Duration),
	}
	if e.HasTTFB {
		doc.TTFB = fmt.Sprintf("%.6f", e.TTFB)
	}
	s.writeJSON(filepath.Join(dir, fmt.Sprintf("%s_%s.json", e.Host, uuid.New())), doc)
}

type blockedDoc struct {
	Timestamp       string `json:"Timestamp"`
	BlockedHostname string `json:"Blocked hostname"`
	ClientIP        string `json:"Client IP"`
}

func (s *Sink) EmitRequestBlocked(e sink.RequestBlocked) {
	dir := filepath.Join(s.root, blockedDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		log.Errf("filesink: mkdir %s: %v", dir, err)
		return
	}
	doc := blockedDoc{
		Timestamp:       time.Now().Format("2006-01-02 15:04:05"),
		BlockedHostname: e.Host,
		ClientIP:        e.SourceIP,
	}
	s.writeJSON(filepath.Join(dir, fmt.Sprintf("blocked_%s.json", uuid.New())), doc)
}

// EmitRateLimited is a no-op: the Python original never wrote a
// per-violation JSON file for rate limiting (only db_logger.py did, via
// sqlsink here); filesink only ever tracked requests and blocks.
func (s *Sink) EmitRateLimited(sink.RateLimited) {}

func (s *Sink) writeJSON(path string, v interface{}) {
	data, err := json.MarshalIndent(v, "", "    ")
	if err != nil {
		log.Errf("filesink: marshal %s: %v", path, err)
		return
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		log.Errf("filesink: write %s: %v", path, err)
	}
}

// FlushSummary writes a text summary report of the final stats snapshot,
// grounded on logging_utils.generate_text_summary: totals, then the top
// 5 domains by request count.
func (s *Sink) FlushSummary(snapshot map[string]domainstats.Summary) {
	dir := filepath.Join(s.root, summaryDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		log.Errf("filesink: mkdir %s: %v", dir, err)
		return
	}

	var totalRequests, totalSent, totalReceived uint64
	type ranked struct {
		host string
		domainstats.Summary
	}
	rows := make([]ranked, 0, len(snapshot))
	for host, summary := range snapshot {
		totalRequests += summary.Requests
		totalSent += summary.BytesSent
		totalReceived += summary.BytesReceived
		rows = append(rows, ranked{host, summary})
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Requests > rows[j].Requests })

	lines := fmt.Sprintf("Total requests handled: %d\nTotal bytes sent: %d\nTotal bytes received: %d\n\nTop 5 domains by request count:\n",
		totalRequests, totalSent, totalReceived)
	top := rows
	if len(top) > 5 {
		top = top[:5]
	}
	for i, r := range top {
		lines += fmt.Sprintf("%d. %s - Requests: %d, Avg Duration: %.3fs, Bytes Sent: %d, Bytes Received: %d\n",
			i+1, r.host, r.Requests, r.AvgDuration, r.BytesSent, r.BytesReceived)
	}

	path := filepath.Join(dir, "summary_report.txt")
	if err := os.WriteFile(path, []byte(lines), 0o644); err != nil {
		log.Errf("filesink: write %s: %v", path, err)
	}

	// main.py calls generate_chart(domain_stats) alongside the text summary
	// at shutdown; chart.Render degrades to a log line on its own if
	// plotting fails, so a failure here never affects the rest of flush.
	chart.Render(dir, snapshot)
}
