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

package sqlsink

import (
	"testing"

	"goproxy/proxy/sink"
)

func TestOpenCreatesSchemaAndInserts(t *testing.T) {
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer s.Close()

	s.EmitRequestCompleted(sink.RequestCompleted{
		Host: "example.com", SourceIP: "1.2.3.4", Port: 80,
		Protocol: sink.ProtocolHTTP, BytesSent: 100, BytesReceived: 50,
		Duration: 0.2, TTFB: 0.05,
	})
	s.EmitRequestBlocked(sink.RequestBlocked{Host: "m.youtube.com", SourceIP: "1.2.3.4"})
	s.EmitRateLimited(sink.RateLimited{SourceIP: "1.2.3.4", CurrentCount: 100})

	var count int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM requests").Scan(&count); err != nil {
		t.Fatalf("query requests: %v", err)
	}
	if count != 1 {
		t.Errorf("requests count = %d, want 1", count)
	}

	if err := s.db.QueryRow("SELECT COUNT(*) FROM blocked_requests").Scan(&count); err != nil {
		t.Fatalf("query blocked_requests: %v", err)
	}
	if count != 1 {
		t.Errorf("blocked_requests count = %d, want 1", count)
	}

	if err := s.db.QueryRow("SELECT COUNT(*) FROM rate_limit_violations").Scan(&count); err != nil {
		t.Fatalf("query rate_limit_violations: %v", err)
	}
	if count != 1 {
		t.Errorf("rate_limit_violations count = %d, want 1", count)
	}
}

func TestFlushSummaryIsNoop(t *testing.T) {
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer s.Close()
	s.FlushSummary(nil) // must not panic
}
