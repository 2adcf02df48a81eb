// Package outbound implements component H, the two outbound socket kinds
// a Dispatcher (internal/natrelay) can use to reach the real server on
// behalf of a redirected UDP peer: a plain local UDP socket, or a UDP
// association relayed through a SOCKS5 proxy.
//
// Grounded on original_source/src/utils/socks/mod.rs's BasicSocket trait,
// which both kinds implement there; its send_to and recv_from are expressed
// here as a Go interface, and binding happens when Factory.New opens the
// socket.
package outbound

import (
	"context"
	"net"
)

// Socket is the capability set spec.md §3's OutboundSocketKind requires: an
// outbound UDP endpoint a Dispatcher can send to and receive from, without
// needing to know whether traffic goes direct or through a SOCKS5 relay.
type Socket interface {
	// SendTo sends payload to target, translating it to whatever address
	// form the underlying transport needs (a plain UDP address for
	// Direct, a SOCKS5 encapsulated datagram for Proxy).
	SendTo(ctx context.Context, payload []byte, target *net.UDPAddr) (int, error)

	// RecvFrom blocks until a datagram arrives, returning its payload and
	// the real endpoint it came from (decapsulated, in the Proxy case).
	RecvFrom(ctx context.Context, buf []byte) (n int, from *net.UDPAddr, err error)

	// Close releases the underlying socket(s).
	Close() error
}

// Kind selects which Socket implementation a Dispatcher should lazily
// create on first outbound packet.
type Kind int

const (
	// Direct is a plain UDP socket bound to 0.0.0.0:0.
	Direct Kind = iota
	// Proxy is a SOCKS5 UDP ASSOCIATE relayed through ProxyAddr.
	Proxy
)

// Factory builds a fresh Socket of the configured Kind. A Dispatcher holds
// one Factory and calls New each time its socket needs re-creating after a
// failure (spec.md §4.D item 2).
type Factory struct {
	Kind      Kind
	ProxyAddr string // host:port of the SOCKS5 relay, only used when Kind == Proxy.
}

// New opens a fresh outbound socket of the configured kind.
func (f Factory) New(ctx context.Context) (Socket, error) {
	switch f.Kind {
	case Direct:
		return newDirectSocket()
	case Proxy:
		return newProxySocket(ctx, f.ProxyAddr)
	default:
		panic("outbound: unknown Kind")
	}
}
