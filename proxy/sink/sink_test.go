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

package sink

import (
	"testing"

	"goproxy/proxy/domainstats"
)

type recordingSink struct {
	completed []RequestCompleted
	blocked   []RequestBlocked
	limited   []RateLimited
	flushed   int
}

func (r *recordingSink) EmitRequestCompleted(e RequestCompleted) { r.completed = append(r.completed, e) }
func (r *recordingSink) EmitRequestBlocked(e RequestBlocked)     { r.blocked = append(r.blocked, e) }
func (r *recordingSink) EmitRateLimited(e RateLimited)           { r.limited = append(r.limited, e) }
func (r *recordingSink) FlushSummary(map[string]domainstats.Summary) { r.flushed++ }

type panickingSink struct{}

func (panickingSink) EmitRequestCompleted(RequestCompleted) { panic("boom") }
func (panickingSink) EmitRequestBlocked(RequestBlocked)     { panic("boom") }
func (panickingSink) EmitRateLimited(RateLimited)           { panic("boom") }
func (panickingSink) FlushSummary(map[string]domainstats.Summary) { panic("boom") }

func TestNopSinkDiscards(t *testing.T) {
	var s NopSink
	s.EmitRequestCompleted(RequestCompleted{Host: "a"})
	s.EmitRequestBlocked(RequestBlocked{Host: "a"})
	s.EmitRateLimited(RateLimited{SourceIP: "1.2.3.4"})
	s.FlushSummary(nil)
}

func TestMultiSinkFansOutInOrder(t *testing.T) {
	r1, r2 := &recordingSink{}, &recordingSink{}
	m := New(r1, r2)
	m.EmitRequestCompleted(RequestCompleted{Host: "a"})
	m.EmitRequestBlocked(RequestBlocked{Host: "b"})
	m.EmitRateLimited(RateLimited{SourceIP: "1.2.3.4", CurrentCount: 100})
	m.FlushSummary(map[string]domainstats.Summary{})

	for _, r := range []*recordingSink{r1, r2} {
		if len(r.completed) != 1 || r.completed[0].Host != "a" {
			t.Errorf("completed = %+v, want one event for host a", r.completed)
		}
		if len(r.blocked) != 1 || r.blocked[0].Host != "b" {
			t.Errorf("blocked = %+v, want one event for host b", r.blocked)
		}
		if len(r.limited) != 1 || r.limited[0].CurrentCount != 100 {
			t.Errorf("limited = %+v, want one event with count 100", r.limited)
		}
		if r.flushed != 1 {
			t.Errorf("flushed = %d, want 1", r.flushed)
		}
	}
}

func TestMultiSinkEmptyBehavesAsNop(t *testing.T) {
	m := New()
	m.EmitRequestCompleted(RequestCompleted{})
	m.FlushSummary(nil)
}

func TestMultiSinkSurvivesPanickingBackend(t *testing.T) {
	// EventSinkError per spec.md §7: best-effort, never fail the request.
	r := &recordingSink{}
	m := New(panickingSink{}, r)
	m.EmitRequestCompleted(RequestCompleted{Host: "a"})
	m.EmitRequestBlocked(RequestBlocked{Host: "a"})
	m.EmitRateLimited(RateLimited{SourceIP: "1.2.3.4"})
	m.FlushSummary(map[string]domainstats.Summary{})

	if len(r.completed) != 1 || len(r.blocked) != 1 || len(r.limited) != 1 || r.flushed != 1 {
		t.Errorf("downstream sink did not receive all events after a panicking backend: %+v", r)
	}
}
