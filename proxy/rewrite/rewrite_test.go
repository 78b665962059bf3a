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

package rewrite

import (
	"strings"
	"testing"
)

func TestRewriteAbsoluteForm(t *testing.T) {
	// S1 from the scenario table: absolute-form HTTP request.
	in := "GET http://example.com/a?b=1 HTTP/1.1\r\nHost: example.com\r\nConnection: keep-alive\r\n\r\n"
	out := Rewrite(in)
	lines := strings.Split(out, "\r\n")
	if lines[0] != "GET /a?b=1 HTTP/1.1" {
		t.Errorf("first line = %q, want rewritten path", lines[0])
	}
	if !strings.Contains(out, "Connection: close") {
		t.Errorf("missing Connection: close in %q", out)
	}
	if strings.Contains(out, "keep-alive") {
		t.Errorf("old Connection value leaked through: %q", out)
	}
	if !strings.Contains(out, "Host: example.com") {
		t.Errorf("unrelated header dropped: %q", out)
	}
}

func TestRewriteNoPath(t *testing.T) {
	in := "GET http://example.com HTTP/1.1\r\n\r\n"
	out := Rewrite(in)
	firstLine := strings.Split(out, "\r\n")[0]
	if firstLine != "GET / HTTP/1.1" {
		t.Errorf("first line = %q, want \"GET / HTTP/1.1\"", firstLine)
	}
}

func TestRewriteInsertsConnectionClose(t *testing.T) {
	in := "GET /x HTTP/1.1\r\nHost: example.com\r\n\r\n"
	out := Rewrite(in)
	if strings.Count(out, "Connection:") != 1 {
		t.Errorf("expected exactly one Connection header, got %q", out)
	}
	if !strings.Contains(out, "Connection: close\r\n\r\n") {
		t.Errorf("Connection: close not inserted before terminating blank line: %q", out)
	}
}

func TestRewriteNoBlankLine(t *testing.T) {
	// Design note: tolerate input with no terminating blank line.
	in := "GET /x HTTP/1.1\r\nHost: example.com"
	out := Rewrite(in)
	if !strings.HasSuffix(out, "Connection: close") {
		t.Errorf("Connection: close not appended at end of %q", out)
	}
}

func TestRewriteIdempotent(t *testing.T) {
	inputs := []string{
		"GET http://example.com/a?b=1 HTTP/1.1\r\nHost: example.com\r\nConnection: keep-alive\r\n\r\n",
		"POST /x HTTP/1.1\r\nHost: example.com\r\n\r\nbody",
		"GET /x HTTP/1.1\r\nHost: example.com",
	}
	for _, in := range inputs {
		once := Rewrite(in)
		twice := Rewrite(once)
		if once != twice {
			t.Errorf("Rewrite not idempotent for %q:\n once=%q\ntwice=%q", in, once, twice)
		}
	}
}

func TestRewritePreservesOtherHeaders(t *testing.T) {
	in := "GET /x HTTP/1.1\r\nHost: example.com\r\nX-Foo: bar\r\nConnection: keep-alive\r\n\r\n"
	out := Rewrite(in)
	if !strings.Contains(out, "X-Foo: bar") {
		t.Errorf("X-Foo header dropped: %q", out)
	}
	if !strings.Contains(out, "Host: example.com") {
		t.Errorf("Host header dropped: %q", out)
	}
}
