// Package tcpsplice implements component G, the TCP Splicer: accept loops
// on the direct and proxy listeners, original-destination resolution via
// internal/pfnat, direct-or-CONNECT dialing, and bidirectional byte
// copying.
//
// Grounded almost directly on pkg/proxy/proxy.go's Proxy.Run/handleConnection/pipe,
// generalized from "always dial a hardcoded SOCKS5 relay" to "dial direct
// or CONNECT-dial through the configured upstream depending on which
// listener accepted the connection."
package tcpsplice

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/datawire/dlib/dlog"
	"golang.org/x/sync/semaphore"

	"github.com/rustsocks/rustsocks/internal/pfnat"
)

// connectTimeout bounds dialing the upstream (direct or proxy).
const connectTimeout = 5 * time.Second

// connectResponseLimit is spec.md §4.G's "read the first response chunk (≤
// 1024 bytes)".
const connectResponseLimit = 1024

// Splicer accepts PF-redirected TCP connections on two listeners — one
// relayed through an HTTP CONNECT proxy, one dialed directly — and pipes
// each to its resolved original destination.
type Splicer struct {
	resolver      *pfnat.Resolver
	proxyUpstream string
	capacity      *semaphore.Weighted
}

// New constructs a Splicer. proxyUpstream is the HTTP CONNECT proxy address
// used for connections accepted on the proxy listener; limit bounds the
// number of connections spliced concurrently (shared across both
// listeners, as in the teacher's Proxy.Run).
func New(resolver *pfnat.Resolver, proxyUpstream string, limit int64) *Splicer {
	return &Splicer{resolver: resolver, proxyUpstream: proxyUpstream, capacity: semaphore.NewWeighted(limit)}
}

// RunDirect accepts on ln and dials the resolved original destination
// directly for each connection.
func (s *Splicer) RunDirect(ctx context.Context, ln net.Listener) error {
	return s.run(ctx, ln, s.dialDirect)
}

// RunProxy accepts on ln and relays each connection through the configured
// HTTP CONNECT upstream.
func (s *Splicer) RunProxy(ctx context.Context, ln net.Listener) error {
	return s.run(ctx, ln, s.dialProxy)
}

// dialFunc dials whatever upstream a connection should reach, given the
// connection's resolved original destination.
type dialFunc func(ctx context.Context, origDst *net.TCPAddr) (net.Conn, error)

func (s *Splicer) run(ctx context.Context, ln net.Listener, dial dialFunc) error {
	capacity := s.capacity

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			dlog.Errorf(ctx, "tcpsplice: accept on %s: %v", ln.Addr(), err)
			continue
		}
		tcpConn, ok := conn.(*net.TCPConn)
		if !ok {
			dlog.Errorf(ctx, "tcpsplice: unexpected connection type %T on %s", conn, ln.Addr())
			conn.Close()
			continue
		}

		if err := capacity.Acquire(ctx, 1); err != nil {
			conn.Close()
			return nil
		}
		go func() {
			defer capacity.Release(1)
			s.handle(ctx, tcpConn, dial)
		}()
	}
}

func (s *Splicer) handle(ctx context.Context, conn *net.TCPConn, dial dialFunc) {
	defer conn.Close()

	origDst, err := s.resolver.DestinationOfTCP(conn)
	if err != nil {
		dlog.Errorf(ctx, "tcpsplice: resolving original destination for %s: %v", conn.RemoteAddr(), err)
		return
	}

	setInboundSocketOptions(ctx, conn)

	dlog.Debugf(ctx, "tcpsplice: %s -> %s", conn.RemoteAddr(), origDst)

	dialCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	upstream, err := dial(dialCtx, origDst)
	if err != nil {
		dlog.Errorf(ctx, "tcpsplice: dialing %s for %s: %v", origDst, conn.RemoteAddr(), err)
		return
	}
	defer upstream.Close()

	var wg sync.WaitGroup
	wg.Add(2)
	go pipe(ctx, conn, upstream, &wg)
	go pipe(ctx, upstream, conn, &wg)
	wg.Wait()
}

func (s *Splicer) dialDirect(ctx context.Context, origDst *net.TCPAddr) (net.Conn, error) {
	var d net.Dialer
	return d.DialContext(ctx, "tcp", origDst.String())
}

func (s *Splicer) dialProxy(ctx context.Context, origDst *net.TCPAddr) (net.Conn, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", s.proxyUpstream)
	if err != nil {
		return nil, fmt.Errorf("dialing CONNECT upstream %s: %w", s.proxyUpstream, err)
	}

	if err := sendConnectRequest(conn, origDst); err != nil {
		conn.Close()
		return nil, err
	}
	return conn, nil
}

// sendConnectRequest issues the exact CONNECT request line spec.md §6
// mandates and reads up to connectResponseLimit bytes of response, checking
// its status (spec.md §9 Open Question 1: always check, never skip).
func sendConnectRequest(conn net.Conn, origDst *net.TCPAddr) error {
	hostPort := origDst.String()
	req := fmt.Sprintf("CONNECT %s HTTP/1.1\r\nHost: %s\r\n\r\n", hostPort, hostPort)
	if _, err := conn.Write([]byte(req)); err != nil {
		return fmt.Errorf("writing CONNECT request: %w", err)
	}

	r := bufio.NewReaderSize(io.LimitReader(conn, connectResponseLimit), connectResponseLimit)
	status, err := r.ReadString('\n')
	if err != nil && status == "" {
		return fmt.Errorf("reading CONNECT response: %w", err)
	}
	// Drain the rest of the response headers up to the blank line, or the
	// connectResponseLimit cap, whichever comes first.
	for {
		line, err := r.ReadString('\n')
		if err != nil || line == "\r\n" || line == "\n" {
			break
		}
	}

	if !strings.HasPrefix(status, "HTTP/1.1 200") {
		return fmt.Errorf("CONNECT to %s refused: %s", hostPort, strings.TrimSpace(status))
	}
	return nil
}

func pipe(ctx context.Context, from, to net.Conn, wg *sync.WaitGroup) {
	defer wg.Done()

	var closed int32
	closeOnce := func() {
		if atomic.CompareAndSwapInt32(&closed, 0, 1) {
			from.Close()
		}
	}
	defer closeOnce()

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-stop:
		case <-ctx.Done():
			closeOnce()
		}
	}()

	buf := make([]byte, 64*1024)
	for {
		n, err := from.Read(buf)
		if err != nil {
			if err != io.EOF {
				dlog.Debugf(ctx, "tcpsplice: read from %s: %v", from.RemoteAddr(), err)
			}
			return
		}
		if _, err := to.Write(buf[:n]); err != nil {
			dlog.Debugf(ctx, "tcpsplice: write to %s: %v", to.RemoteAddr(), err)
			return
		}
	}
}
