// Package pfnat recovers the pre-redirect destination of a PF-redirected
// flow by asking the kernel packet filter device for the natural lookup of
// the flow's 5-tuple (component A of the design: the PF Original-Destination
// Resolver).
//
// It is grounded on pkg/nat/route_darwin.go's pfRouter.GetOriginalDst (same
// "ask the filter for the accepted connection's own local/peer addresses"
// shape) and, for the exact ioctl this spec also needs for UDP, on the
// DIOCNATLOOK struct layout and call in
// other_examples/31aaabe4_XTLS-Xray-core__common-net-destination.go.go.
package pfnat

import (
	"errors"
	"net"
)

// ErrNotFound is returned when the packet filter has no matching NAT/rdr
// state for the requested flow.
var ErrNotFound = errors.New("pfnat: no matching state in packet filter")

// Resolver queries /dev/pf for the original destination of redirected
// flows. A Resolver is safe for concurrent use; lookups are one-shot ioctls,
// there is no persistent kernel-side state to protect.
type Resolver struct {
	dev resolverDev
}

// Open opens /dev/pf read-only. Failure here is startup-fatal per spec.md §7.
func Open() (*Resolver, error) {
	dev, err := openDev()
	if err != nil {
		return nil, err
	}
	return &Resolver{dev: dev}, nil
}

// Close releases the /dev/pf handle.
func (r *Resolver) Close() error {
	return r.dev.Close()
}

// DestinationOfTCP returns the pre-redirect destination of an accepted TCP
// connection, recovered from the connection's own local/remote addresses.
func (r *Resolver) DestinationOfTCP(conn *net.TCPConn) (*net.TCPAddr, error) {
	local := conn.LocalAddr().(*net.TCPAddr)
	remote := conn.RemoteAddr().(*net.TCPAddr)
	ip, port, err := r.dev.natLook(protoTCP, remote.IP, remote.Port, local.IP, local.Port)
	if err != nil {
		return nil, err
	}
	return &net.TCPAddr{IP: ip, Port: port}, nil
}

// DestinationOfUDP returns the pre-redirect destination that a datagram
// received on listenAddr from peer was originally aimed at.
func (r *Resolver) DestinationOfUDP(listenAddr, peer *net.UDPAddr) (*net.UDPAddr, error) {
	ip, port, err := r.dev.natLook(protoUDP, peer.IP, peer.Port, listenAddr.IP, listenAddr.Port)
	if err != nil {
		return nil, err
	}
	return &net.UDPAddr{IP: ip, Port: port}, nil
}

type proto uint8

const (
	protoTCP proto = 6  // IPPROTO_TCP
	protoUDP proto = 17 // IPPROTO_UDP
)

// resolverDev is the platform-specific half: one ioctl, one close.
type resolverDev interface {
	natLook(p proto, srcIP net.IP, srcPort int, dstIP net.IP, dstPort int) (net.IP, int, error)
	Close() error
}
