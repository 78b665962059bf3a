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

// Package tunnel implements the CONNECT half of the proxy: an opaque
// bidirectional TCP bridge between client and origin.
//
// Grounded on fnet's old Proxy/transfer relay (dial, two-way io.Copy,
// half-close, wg.Wait) but replaces its "two goroutines plus a
// WaitGroup with no return value" shape with a relay type whose run()
// reports its byte count and error back over a channel, per the design
// note against lambda-wrapped threads that return values by appending
// to an outer list.
package tunnel // import "goproxy/proxy/tunnel"

import (
	"net"
	"strconv"
	"time"

	"goproxy/proxy/classify"
	"goproxy/proxy/domainstats"
	"goproxy/proxy/sink"

	"fortio.org/log"
)

// BufferSize bounds each relay's per-read chunk, per spec.md §3 BUFFER_SIZE.
const BufferSize = 65536

// DialTimeout is the origin connect timeout for CONNECT tunnels, per
// spec.md §3 origin_connect_timeout_https.
const DialTimeout = 2 * time.Second

// Established is the exact success response written to the client before
// any relay byte flows, per spec.md §6.
const Established = "HTTP/1.1 200 Connection Established\r\n\r\n"

// Dialer abstracts origin dialing so tests can substitute a local listener.
type Dialer interface {
	DialTimeout(network, address string, timeout time.Duration) (net.Conn, error)
}

// NetDialer dials real TCP sockets via the standard library.
type NetDialer struct{}

func (NetDialer) DialTimeout(network, address string, timeout time.Duration) (net.Conn, error) {
	return net.DialTimeout(network, address, timeout)
}

// Tunneler handles one CONNECT request end to end.
type Tunneler struct {
	Dialer Dialer
	Sink   sink.Sink
	Stats  *domainstats.Aggregator
}

// New creates a Tunneler with the real network dialer.
func New(s sink.Sink, stats *domainstats.Aggregator) *Tunneler {
	return &Tunneler{Dialer: NetDialer{}, Sink: s, Stats: stats}
}

// relayResult is what one direction's relay yields on termination.
type relayResult struct {
	bytes uint64
	err   error
}

// relay copies from src to dst in BufferSize chunks until EOF or error,
// then reports its byte count on done. Replaces the teacher's
// transfer(wg *sync.WaitGroup, ...) with a value-returning primitive:
// no outer list, no WaitGroup captured by closure.
func relay(dst, src net.Conn, done chan<- relayResult) {
	buf := make([]byte, BufferSize)
	var total uint64
	for {
		n, rerr := src.Read(buf)
		if n > 0 {
			if _, werr := dst.Write(buf[:n]); werr != nil {
				done <- relayResult{bytes: total, err: werr}
				return
			}
			total += uint64(n)
		}
		if rerr != nil {
			done <- relayResult{bytes: total, err: nil} // EOF/reset/broken-pipe: normal termination
			return
		}
	}
}

// ErrOriginDial is the sentinel returned, unwrapped, when the origin dial
// fails.
var ErrOriginDial = tunnelDialError{}

type tunnelDialError struct{}

func (tunnelDialError) Error() string { return "origin dial failed" }

// Result carries what the worker needs after Serve returns.
type Result struct {
	BytesSent     uint64 // origin -> client
	BytesReceived uint64 // client -> origin
	Duration      float64
	TTFB          float64
}

// Serve dials ip:port, writes the 200 Connection Established response,
// then bridges client and origin bidirectionally until both relays
// terminate.
func (t *Tunneler) Serve(client net.Conn, fp classify.Fingerprint, ip, sourceIP string) (Result, error) {
	start := time.Now()

	addr := net.JoinHostPort(ip, strconv.Itoa(int(fp.Port)))
	origin, err := t.Dialer.DialTimeout("tcp", addr, DialTimeout)
	if err != nil {
		return Result{}, ErrOriginDial
	}
	defer origin.Close()

	if _, err := client.Write([]byte(Established)); err != nil {
		log.LogVf("tunnel: error writing 200 to client for %s: %v", fp.Host, err)
		return Result{}, err
	}
	ttfb := time.Since(start).Seconds()

	clientToOrigin := make(chan relayResult, 1)
	originToClient := make(chan relayResult, 1)
	go relay(origin, client, clientToOrigin)
	go relay(client, origin, originToClient)

	// A single half-close must tear down both directions together (spec.md
	// §4.7 step 4): as soon as either relay terminates, close both sockets
	// so the other relay's blocked Read unblocks instead of leaking.
	var c2o, o2c relayResult
	select {
	case c2o = <-clientToOrigin:
		_ = client.Close()
		_ = origin.Close()
		o2c = <-originToClient
	case o2c = <-originToClient:
		_ = client.Close()
		_ = origin.Close()
		c2o = <-clientToOrigin
	}

	res := Result{
		BytesSent:     o2c.bytes,
		BytesReceived: c2o.bytes,
		Duration:      time.Since(start).Seconds(),
		TTFB:          ttfb,
	}

	if t.Stats != nil {
		t.Stats.Record(fp.Host, res.BytesSent, res.BytesReceived, res.Duration, res.TTFB, true)
	}
	if t.Sink != nil {
		t.Sink.EmitRequestCompleted(sink.RequestCompleted{
			Host:          fp.Host,
			SourceIP:      sourceIP,
			Port:          fp.Port,
			Protocol:      sink.ProtocolConnect,
			BytesSent:     res.BytesSent,
			BytesReceived: res.BytesReceived,
			Duration:      res.Duration,
			TTFB:          res.TTFB,
			HasTTFB:       true,
		})
	}
	return res, nil
}
