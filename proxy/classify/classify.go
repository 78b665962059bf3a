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

// Package classify parses the first bytes of a client connection into a
// destination (host, port) and a CONNECT-vs-plain-HTTP verdict.
package classify // import "goproxy/proxy/classify"

import (
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/net/idna"
)

// targetRE matches an absolute-form or scheme-less request target:
// [scheme://]host[:port][/path]. An origin-form target ("/path") does not
// match.
var targetRE = regexp.MustCompile(`^(https?://)?([^/:]+)(?::(\d+))?(/.*)?$`)

// Fingerprint is the parsed destination of a client request.
type Fingerprint struct {
	Host      string // lowercased
	Port      uint16
	IsTunnel  bool // true for CONNECT
	RequestID string
}

// Classify parses buf, the first bytes read from a client connection, and
// returns the request's destination. The boolean result is false when buf
// could not be parsed as a minimally well formed HTTP/1.x request line or
// CONNECT target; Classify never panics on malformed input.
func Classify(buf []byte) (Fingerprint, bool) {
	text := toUTF8Lossy(buf)
	firstLine, _, _ := strings.Cut(text, "\r\n")
	if firstLine == "" {
		firstLine, _, _ = strings.Cut(text, "\n")
	}
	firstLine = strings.TrimSpace(firstLine)

	parts := strings.SplitN(firstLine, " ", 3)
	if len(parts) < 2 {
		return Fingerprint{}, false
	}
	method := strings.ToUpper(parts[0])
	target := parts[1]

	if method == "CONNECT" {
		return classifyConnect(target)
	}
	return classifyAbsolute(target)
}

func classifyConnect(target string) (Fingerprint, bool) {
	host, portStr, ok := strings.Cut(target, ":")
	if !ok {
		return Fingerprint{}, false
	}
	port, err := parsePort(portStr)
	if err != nil {
		return Fingerprint{}, false
	}
	return Fingerprint{Host: normalizeHost(host), Port: port, IsTunnel: true}, true
}

func classifyAbsolute(target string) (Fingerprint, bool) {
	m := targetRE.FindStringSubmatch(target)
	if m == nil {
		return Fingerprint{}, false
	}
	host := m[2]
	if host == "" {
		return Fingerprint{}, false
	}
	var port uint16
	if m[3] != "" {
		p, err := parsePort(m[3])
		if err != nil {
			return Fingerprint{}, false
		}
		port = p
	} else if strings.HasPrefix(target, "https://") {
		port = 443
	} else {
		port = 80
	}
	return Fingerprint{Host: normalizeHost(host), Port: port, IsTunnel: false}, true
}

// parsePort parses s as a TCP port in [1, 65535].
func parsePort(s string) (uint16, error) {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, err
	}
	if n < 1 || n > 65535 {
		return 0, strconv.ErrRange
	}
	return uint16(n), nil
}

// normalizeHost lowercases host and, best effort, converts an
// internationalized domain name to its ASCII (punycode) form so blocklist
// matching and DNS resolution both operate on the same representation.
// On any IDNA conversion failure the lowercased input is used as is: the
// classifier never rejects a request solely because of IDNA issues.
func normalizeHost(host string) string {
	host = strings.ToLower(strings.TrimSpace(host))
	if ascii, err := idna.Lookup.ToASCII(host); err == nil {
		return ascii
	}
	return host
}

// toUTF8Lossy decodes buf as UTF-8, replacing invalid sequences with the
// Unicode replacement character rather than failing, matching the
// "decode with lossy replacement" requirement for untrusted wire bytes.
func toUTF8Lossy(buf []byte) string {
	return strings.ToValidUTF8(string(buf), "�")
}
