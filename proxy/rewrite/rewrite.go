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

// Package rewrite normalizes an HTTP/1.x request line and Connection
// header before it is relayed to the origin server.
package rewrite // import "goproxy/proxy/rewrite"

import (
	"regexp"
	"strings"
)

// absoluteTarget matches an absolute-form request target
// (scheme://host[:port][/path]) and captures the path-and-query part.
var absoluteTarget = regexp.MustCompile(`^https?://[^/]+(/.*)?$`)

// Rewrite rewrites request, an HTTP/1.x request serialized with CRLF line
// endings, so that:
//   - an absolute-form request target is replaced by the origin-form
//     path (and query), defaulting to "/" when there is none;
//   - the Connection header is forced to "close", inserted before the
//     blank line terminating the header block (or appended if the
//     request has no blank line at all).
//
// All other header lines, their order, and the original line endings are
// preserved verbatim. Rewrite is idempotent: Rewrite(Rewrite(r)) == Rewrite(r).
func Rewrite(request string) string {
	lines := strings.Split(request, "\r\n")
	if len(lines) == 0 {
		return request
	}

	lines[0] = rewriteRequestLine(lines[0])

	headerLines := lines[1:]
	out := make([]string, 0, len(headerLines)+1)
	found := false
	blankIdx := -1
	for _, line := range headerLines {
		if isConnectionHeader(line) {
			out = append(out, "Connection: close")
			found = true
			continue
		}
		if !found && blankIdx < 0 && line == "" {
			blankIdx = len(out)
		}
		out = append(out, line)
	}
	if !found {
		if blankIdx < 0 {
			blankIdx = len(out)
		}
		out = insertAt(out, blankIdx, "Connection: close")
	}

	return strings.Join(append([]string{lines[0]}, out...), "\r\n")
}

// insertAt inserts v into s at index idx, shifting the tail right.
func insertAt(s []string, idx int, v string) []string {
	s = append(s, "")
	copy(s[idx+1:], s[idx:])
	s[idx] = v
	return s
}

// rewriteRequestLine strips the scheme and host from an absolute-form
// request target, leaving the method, path-and-query, and protocol
// version untouched.
func rewriteRequestLine(requestLine string) string {
	parts := strings.SplitN(requestLine, " ", 3)
	if len(parts) < 2 {
		return requestLine
	}
	m := absoluteTarget.FindStringSubmatch(parts[1])
	if m == nil {
		return requestLine
	}
	path := m[1]
	if path == "" {
		path = "/"
	}
	parts[1] = path
	return strings.Join(parts, " ")
}

// isConnectionHeader reports whether line is a "Connection:" header,
// matching the key case-insensitively as HTTP requires.
func isConnectionHeader(line string) bool {
	idx := strings.IndexByte(line, ':')
	if idx < 0 {
		return false
	}
	return strings.EqualFold(strings.TrimSpace(line[:idx]), "Connection")
}
