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

// Package worker runs the per-connection state machine: admit, read,
// classify, policy, resolve, dispatch, report.
//
// Grounded on fnet's handleProxyRequest (dial, relay, close, never
// propagate the error up the accept loop) but generalized into the
// multi-stage pipeline spec.md §4.8 describes, with early, best-effort
// status-line responses on every error terminal.
package worker // import "goproxy/proxy/worker"

import (
	"net"
	"strings"
	"time"

	"goproxy/fnet"
	"goproxy/proxy/blocklist"
	"goproxy/proxy/classify"
	"goproxy/proxy/domainstats"
	"goproxy/proxy/forward"
	"goproxy/proxy/ratelimit"
	"goproxy/proxy/sink"
	"goproxy/proxy/tunnel"

	"fortio.org/log"
)

// ReadTimeout is the client socket read timeout, per spec.md §4.8/§5.
const ReadTimeout = 1 * time.Second

// MaxRequestSize bounds the first-buffer read, per spec.md §3 BUFFER_SIZE.
const MaxRequestSize = 65536

// statusLine is the best-effort error response written before closing,
// per spec.md §4.8/§6: "HTTP/1.1 <code> <reason>\r\n\r\n", no body.
var statusLine = map[int]string{
	400: "HTTP/1.1 400 Bad Request\r\n\r\n",
	403: "HTTP/1.1 403 Forbidden\r\n\r\n",
	429: "HTTP/1.1 429 Too Many Requests\r\n\r\n",
	502: "HTTP/1.1 502 Bad Gateway\r\n\r\n",
}

// Worker holds the shared, process-wide collaborators every connection's
// handling needs. It carries no per-connection state: Handle is safe to
// call concurrently from many goroutines against the same Worker.
type Worker struct {
	Limiter   *ratelimit.Limiter
	Blocklist *blocklist.Blocklist
	Stats     *domainstats.Aggregator
	Sink      sink.Sink
	Forwarder *forward.Forwarder
	Tunneler  *tunnel.Tunneler
	Resolve   func(host string) (string, error)
}

// New builds a Worker wired to the given shared collaborators. sink may
// be nil; it is then replaced by sink.NopSink for the forwarder/tunneler.
func New(limiter *ratelimit.Limiter, bl *blocklist.Blocklist, stats *domainstats.Aggregator, sk sink.Sink) *Worker {
	if sk == nil {
		sk = sink.NopSink{}
	}
	return &Worker{
		Limiter:   limiter,
		Blocklist: bl,
		Stats:     stats,
		Sink:      sk,
		Forwarder: forward.New(sk, stats),
		Tunneler:  tunnel.New(sk, stats),
		Resolve:   resolveHost,
	}
}

func resolveHost(host string) (string, error) {
	addr := fnet.Resolve(host, "80")
	if addr == nil {
		return "", &net.DNSError{Err: "resolution failed", Name: host}
	}
	return addr.(*net.TCPAddr).IP.String(), nil
}

// Handle runs one client connection through ACCEPTED -> ... -> CLOSED. It
// never panics and never returns an error: every failure path writes a
// best-effort status line (where applicable) and closes conn.
func (w *Worker) Handle(conn net.Conn) {
	defer conn.Close()

	sourceIP := peerIP(conn.RemoteAddr())

	// ADMIT-CHECK
	admitted, count := w.Limiter.Admit(sourceIP, time.Now())
	if !admitted {
		w.reject(conn, 429)
		w.Sink.EmitRateLimited(sink.RateLimited{SourceIP: sourceIP, CurrentCount: count})
		return
	}

	// READ-REQUEST
	raw, err := readRequest(conn)
	if err != nil {
		log.LogVf("worker: read error from %s: %v", sourceIP, err)
		w.reject(conn, 502)
		return
	}
	if len(raw) == 0 {
		w.reject(conn, 502)
		return
	}

	// CLASSIFY
	fp, ok := classify.Classify(raw)
	if !ok {
		w.reject(conn, 400)
		return
	}

	// POLICY
	if w.Blocklist.Match(fp.Host) {
		w.reject(conn, 403)
		w.Sink.EmitRequestBlocked(sink.RequestBlocked{Host: fp.Host, SourceIP: sourceIP})
		return
	}

	// RESOLVE
	ip, err := w.Resolve(fp.Host)
	if err != nil {
		log.LogVf("worker: resolve error for %s: %v", fp.Host, err)
		w.reject(conn, 502)
		return
	}

	// DISPATCH
	if fp.IsTunnel {
		if _, err := w.Tunneler.Serve(conn, fp, ip, sourceIP); err != nil {
			log.LogVf("worker: tunnel dial failed for %s: %v", fp.Host, err)
			w.reject(conn, 502)
		}
		return
	}
	if _, err := w.Forwarder.Serve(conn, fp, raw, ip, sourceIP); err != nil {
		// Spec.md §7/§4.6 step 2: an HTTP origin dial failure closes the
		// client silently, no status line. 502 is reserved for the CONNECT
		// dial failure above.
		log.LogVf("worker: forward dial failed for %s: %v", fp.Host, err)
	}
	// REPORT happens inside Serve (stats + sink emission); CLOSED is the
	// deferred conn.Close() above.
}

// reject writes the best-effort status line for code and returns; any
// write error is ignored (the connection is being torn down regardless).
func (w *Worker) reject(conn net.Conn, code int) {
	line, ok := statusLine[code]
	if !ok {
		return
	}
	_ = conn.SetWriteDeadline(time.Now().Add(ReadTimeout))
	_, _ = conn.Write([]byte(line))
}

// readRequest reads up to MaxRequestSize bytes from conn, honoring
// ReadTimeout, stopping as soon as the header block's blank line is seen
// (or the buffer fills, or the peer closes).
func readRequest(conn net.Conn) ([]byte, error) {
	_ = conn.SetReadDeadline(time.Now().Add(ReadTimeout))
	buf := make([]byte, 0, 4096)
	chunk := make([]byte, 4096)
	for len(buf) < MaxRequestSize {
		n, err := conn.Read(chunk[:min(len(chunk), MaxRequestSize-len(buf))])
		if n > 0 {
			buf = append(buf, chunk[:n]...)
			if strings.Contains(string(buf), "\r\n\r\n") || strings.Contains(string(buf), "\n\n") {
				break
			}
		}
		if err != nil {
			if n == 0 {
				return buf, err
			}
			break
		}
	}
	return buf, nil
}

// peerIP extracts the host component of addr, per spec.md §4.8: "if peer
// address is a tuple/struct, take the host component; otherwise
// stringify."
func peerIP(addr net.Addr) string {
	if tcpAddr, ok := addr.(*net.TCPAddr); ok {
		return tcpAddr.IP.String()
	}
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String()
	}
	return host
}
