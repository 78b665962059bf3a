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

package tunnel

import (
	"io"
	"net"
	"strconv"
	"testing"
	"time"

	"goproxy/proxy/classify"
	"goproxy/proxy/domainstats"
	"goproxy/proxy/sink"
)

type recordingSink struct {
	completed []sink.RequestCompleted
}

func (r *recordingSink) EmitRequestCompleted(e sink.RequestCompleted) { r.completed = append(r.completed, e) }
func (r *recordingSink) EmitRequestBlocked(sink.RequestBlocked)       {}
func (r *recordingSink) EmitRateLimited(sink.RateLimited)             {}
func (r *recordingSink) FlushSummary(map[string]domainstats.Summary)  {}

// echoOrigin accepts one connection and echoes everything it reads back,
// so bytes written by the client end up as bytes_sent in the Result.
func echoOrigin(t *testing.T) net.Listener {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		_, _ = io.Copy(conn, conn)
	}()
	return ln
}

func TestServeWritesEstablishedThenRelays(t *testing.T) {
	// S2 scenario.
	ln := echoOrigin(t)
	defer ln.Close()
	host, portStr, _ := net.SplitHostPort(ln.Addr().String())
	port, _ := strconv.Atoi(portStr)

	clientSide, workerSide := net.Pipe()
	defer clientSide.Close()

	stats := domainstats.New()
	rs := &recordingSink{}
	tu := New(rs, stats)
	fp := classify.Fingerprint{Host: "example.com", Port: uint16(port), IsTunnel: true}

	readDone := make(chan string, 1)
	go func() {
		buf := make([]byte, 512)
		n, _ := clientSide.Read(buf)
		readDone <- string(buf[:n])
	}()

	go func() {
		// Give the 200 response time to be read before sending payload bytes.
		time.Sleep(20 * time.Millisecond)
		_, _ = clientSide.Write([]byte("ping"))
		buf := make([]byte, 512)
		_, _ = clientSide.Read(buf) // read the echoed "ping" back
		clientSide.Close()
	}()

	res, err := tu.Serve(workerSide, fp, host, "9.9.9.9")
	if err != nil {
		t.Fatalf("Serve() error = %v", err)
	}

	first := <-readDone
	if first != Established {
		t.Errorf("first bytes to client = %q, want %q", first, Established)
	}
	if res.BytesReceived == 0 {
		t.Error("BytesReceived = 0, want > 0 (client sent \"ping\")")
	}
	if len(rs.completed) != 1 || rs.completed[0].Protocol != sink.ProtocolConnect {
		t.Fatalf("sink events = %+v, want one CONNECT completion", rs.completed)
	}
	summary := stats.Reduce()["example.com"]
	if summary.Requests != 1 {
		t.Errorf("aggregator Requests = %d, want 1", summary.Requests)
	}
}

type failingDialer struct{}

func (failingDialer) DialTimeout(string, string, time.Duration) (net.Conn, error) {
	return nil, net.UnknownNetworkError("boom")
}

func TestServeDialFailureNeverWritesEstablished(t *testing.T) {
	tu := &Tunneler{Dialer: failingDialer{}}
	client, other := net.Pipe()
	defer other.Close()
	fp := classify.Fingerprint{Host: "example.com", Port: 443, IsTunnel: true}

	errc := make(chan error, 1)
	go func() {
		_, err := tu.Serve(client, fp, "1.2.3.4", "9.9.9.9")
		errc <- err
	}()

	// Nothing should ever arrive on other: give the goroutine a moment,
	// then close and make sure Serve returned the dial error.
	time.Sleep(20 * time.Millisecond)
	client.Close()
	if err := <-errc; err != ErrOriginDial {
		t.Errorf("Serve() error = %v, want ErrOriginDial", err)
	}
}

func TestByteAccountingMatchesBothDirections(t *testing.T) {
	// P8: bytes_sent + bytes_received equals total bytes actually
	// forwarded in both directions.
	ln := echoOrigin(t)
	defer ln.Close()
	host, portStr, _ := net.SplitHostPort(ln.Addr().String())
	port, _ := strconv.Atoi(portStr)

	clientSide, workerSide := net.Pipe()
	defer clientSide.Close()
	tu := New(&recordingSink{}, domainstats.New())
	fp := classify.Fingerprint{Host: "example.com", Port: uint16(port), IsTunnel: true}

	go func() {
		buf := make([]byte, 512)
		clientSide.Read(buf) // the 200 response
		clientSide.Write([]byte("hello world"))
		clientSide.Read(buf) // echoed back
		clientSide.Close()
	}()

	res, err := tu.Serve(workerSide, fp, host, "9.9.9.9")
	if err != nil {
		t.Fatalf("Serve() error = %v", err)
	}
	if res.BytesReceived != uint64(len("hello world")) {
		t.Errorf("BytesReceived = %d, want %d", res.BytesReceived, len("hello world"))
	}
	if res.BytesSent != res.BytesReceived {
		t.Errorf("BytesSent = %d, want equal to BytesReceived %d (echo origin)", res.BytesSent, res.BytesReceived)
	}
}
