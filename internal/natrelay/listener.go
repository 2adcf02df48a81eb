// Package natrelay implements components B, D, E and F of the UDP relay:
// the redirect listener, per-peer Dispatcher, NAT table, and the driver
// loop that ties them together.
//
// Grounded on original_source/src/udp_relay/{mod,manager,send,checker}.rs
// for the algorithm, and on pkg/client/daemon/proxy/proxy.go for the
// dlog-per-flow logging idiom and net.ListenConfig{Control: ...} socket
// setup pattern used throughout the teacher's daemon tree
// (cmd/edgectl/misc_unix.go).
package natrelay

import (
	"context"
	"fmt"
	"net"

	"github.com/rustsocks/rustsocks/internal/pfnat"
)

// Listener is component B, the UDP Redirect Listener: a UDP socket able to
// receive datagrams whose destination is not locally assigned (PF hands it
// traffic aimed at the original, pre-redirect address), paired with the PF
// resolver needed to recover that original destination per packet.
type Listener struct {
	conn     *net.UDPConn
	resolver *pfnat.Resolver
}

// Listen opens a UDP socket on addr with SO_REUSEADDR and IP_BINDANY (so it
// can receive datagrams redirected from addresses the host does not itself
// own), and pairs it with resolver for destination_of_udp lookups.
func Listen(addr *net.UDPAddr, resolver *pfnat.Resolver) (*Listener, error) {
	lc := net.ListenConfig{Control: controlBindAny}
	pc, err := lc.ListenPacket(context.Background(), "udp", addr.String())
	if err != nil {
		return nil, fmt.Errorf("natrelay: listen udp %s: %w", addr, err)
	}
	conn, ok := pc.(*net.UDPConn)
	if !ok {
		pc.Close()
		return nil, fmt.Errorf("natrelay: unexpected conn type %T for udp listener", pc)
	}
	return &Listener{conn: conn, resolver: resolver}, nil
}

// Close releases the listening socket.
func (l *Listener) Close() error {
	return l.conn.Close()
}

// LookupError wraps a per-packet PF lookup failure: the listener socket
// itself is healthy, only this one datagram's original destination could
// not be recovered (spec.md §4.A: "lookup returns no entry — per-flow
// error, log and drop").
type LookupError struct {
	Peer *net.UDPAddr
	Err  error
}

func (e *LookupError) Error() string {
	return fmt.Sprintf("natrelay: resolving original destination for %s: %v", e.Peer, e.Err)
}

func (e *LookupError) Unwrap() error { return e.Err }

// RecvDestFrom implements spec.md §4.B's recv_dest_from: receive one
// datagram, then synchronously recover its original (pre-redirect)
// destination from the packet filter. A *LookupError return means the
// datagram itself (n, peer) is valid but has no recoverable destination;
// any other error means the listener socket has failed.
func (l *Listener) RecvDestFrom(buf []byte) (n int, peer *net.UDPAddr, dst *net.UDPAddr, err error) {
	n, peer, err = l.conn.ReadFromUDP(buf)
	if err != nil {
		return 0, nil, nil, err
	}
	local := l.conn.LocalAddr().(*net.UDPAddr)
	dst, err = l.resolver.DestinationOfUDP(local, peer)
	if err != nil {
		return n, peer, nil, &LookupError{Peer: peer, Err: err}
	}
	return n, peer, dst, nil
}
