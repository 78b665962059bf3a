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

// Package forward implements the plain-HTTP half of the proxy: dial the
// origin, send the rewritten request, and stream the response back to the
// client while measuring TTFB and duration.
//
// Grounded on fortio's fhttp/http_forwarder.go teeing logic (dial, copy,
// log, never propagate the error up) but reworked around a raw net.Conn
// dial instead of net/http's client, since the wire contract here is
// "send these exact bytes, relay whatever comes back" rather than
// "build an http.Request".
package forward // import "goproxy/proxy/forward"

import (
	"errors"
	"net"
	"strconv"
	"time"

	"goproxy/proxy/classify"
	"goproxy/proxy/domainstats"
	"goproxy/proxy/rewrite"
	"goproxy/proxy/sink"

	"fortio.org/log"
)

// BufferSize bounds both the per-read chunk size and the retained
// excerpts of request/response, per spec.md §3 BUFFER_SIZE.
const BufferSize = 65536

// DialTimeout is the origin connect timeout for plain HTTP, per spec.md
// §3 origin_connect_timeout_http.
const DialTimeout = 5 * time.Second

// Dialer abstracts origin dialing so tests can substitute an in-memory
// listener instead of a real network dial.
type Dialer interface {
	DialTimeout(network, address string, timeout time.Duration) (net.Conn, error)
}

// NetDialer dials real TCP sockets via the standard library.
type NetDialer struct{}

func (NetDialer) DialTimeout(network, address string, timeout time.Duration) (net.Conn, error) {
	return net.DialTimeout(network, address, timeout)
}

// Forwarder handles one plain-HTTP request end to end.
type Forwarder struct {
	Dialer Dialer
	Sink   sink.Sink
	Stats  *domainstats.Aggregator
}

// New creates a Forwarder with the real network dialer.
func New(s sink.Sink, stats *domainstats.Aggregator) *Forwarder {
	return &Forwarder{Dialer: NetDialer{}, Sink: s, Stats: stats}
}

// ErrOriginDial is returned (wrapped) when the origin dial fails, so
// callers can tell an OriginDialFailure apart from a mid-stream error.
var ErrOriginDial = errors.New("origin dial failed")

// Result reports what Serve measured. Serve has already recorded it in the
// stats aggregator and emitted it to the sink by the time it returns;
// WroteAnything tells whether any response byte reached the client.
type Result struct {
	BytesSent     uint64 // origin -> client
	BytesReceived uint64 // client's original request bytes
	Duration      float64
	TTFB          float64
	HasTTFB       bool
	Response      []byte // excerpt, <= BufferSize
	WroteAnything bool
}

// Serve dials ip:port, sends the rewritten request bytes, and streams the
// origin's response to client until EOF or a non-transient read error.
// raw is the original first-buffer bytes (used both for rewriting and for
// the bytes_received count); fp.Host keys the stats entry and the emitted
// event and appears in log lines.
func (f *Forwarder) Serve(client net.Conn, fp classify.Fingerprint, raw []byte, ip, sourceIP string) (Result, error) {
	start := time.Now()
	res := Result{BytesReceived: uint64(len(raw))}

	addr := net.JoinHostPort(ip, strconv.Itoa(int(fp.Port)))
	origin, err := f.Dialer.DialTimeout("tcp", addr, DialTimeout)
	if err != nil {
		return res, wrapDial(err)
	}
	defer origin.Close()

	rewritten := rewrite.Rewrite(string(raw))
	if _, err := origin.Write([]byte(rewritten)); err != nil {
		log.Errf("forward: error writing request to origin %s for %s: %v", addr, fp.Host, err)
		return res, err
	}

	buf := make([]byte, BufferSize)
	for {
		if tc, ok := origin.(interface {
			SetReadDeadline(time.Time) error
		}); ok {
			_ = tc.SetReadDeadline(time.Now().Add(DialTimeout))
		}
		n, rerr := origin.Read(buf)
		if n > 0 {
			if !res.HasTTFB {
				res.TTFB = time.Since(start).Seconds()
				res.HasTTFB = true
			}
			if _, werr := client.Write(buf[:n]); werr != nil {
				log.LogVf("forward: client write error for %s: %v", fp.Host, werr)
				break
			}
			res.BytesSent += uint64(n)
			res.WroteAnything = true
			if len(res.Response) < BufferSize {
				room := BufferSize - len(res.Response)
				if room > n {
					room = n
				}
				res.Response = append(res.Response, buf[:room]...)
			}
		}
		if rerr != nil {
			if isTimeout(rerr) {
				continue // transient: origin read timeout, keep looping
			}
			break // EOF, reset, broken pipe: normal termination
		}
	}

	res.Duration = time.Since(start).Seconds()

	if f.Stats != nil {
		f.Stats.Record(fp.Host, res.BytesSent, res.BytesReceived, res.Duration, res.TTFB, res.HasTTFB)
	}
	if f.Sink != nil {
		excerpt := raw
		if len(excerpt) > BufferSize {
			excerpt = excerpt[:BufferSize]
		}
		f.Sink.EmitRequestCompleted(sink.RequestCompleted{
			Host:          fp.Host,
			SourceIP:      sourceIP,
			Port:          fp.Port,
			Protocol:      sink.ProtocolHTTP,
			BytesSent:     res.BytesSent,
			BytesReceived: res.BytesReceived,
			Duration:      res.Duration,
			TTFB:          res.TTFB,
			HasTTFB:       res.HasTTFB,
			RawRequest:    excerpt,
			Response:      res.Response,
		})
	}
	return res, nil
}

func wrapDial(err error) error {
	return &dialError{err: err}
}

type dialError struct{ err error }

func (d *dialError) Error() string { return ErrOriginDial.Error() + ": " + d.err.Error() }
func (d *dialError) Unwrap() error { return ErrOriginDial }

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
