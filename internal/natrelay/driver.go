package natrelay

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/datawire/dlib/dlog"

	"github.com/rustsocks/rustsocks/internal/outbound"
	"github.com/rustsocks/rustsocks/internal/rawsock"
)

// keepAliveChannelSize bounds the channel every Dispatcher reports peer
// activity on (spec.md §5: "Keep-alive channel is bounded similarly").
const keepAliveChannelSize = 1024

// Driver is component F, the UDP Relay Driver: the single goroutine that
// reads from the redirect listener, routes datagrams through the NAT
// Manager, and drives the cleanup and keep-alive housekeeping.
type Driver struct {
	listener *Listener
	manager  *Manager
	expiry   time.Duration
}

// NewDriver wires a Listener, an outbound.Factory, and a shared rawsock.Sender
// into a ready-to-run Driver, with NAT entries expiring after expiry.
func NewDriver(ctx context.Context, listener *Listener, factory outbound.Factory, sender *rawsock.Sender, expiry time.Duration) *Driver {
	keepAliveRx := make(chan *net.UDPAddr, keepAliveChannelSize)
	manager := NewManager(ctx, factory, sender, keepAliveRx, expiry)
	return &Driver{listener: listener, manager: manager, expiry: expiry}
}

// Run implements spec.md §4.F: a cleanup ticker with period D, and a loop
// selecting among cleanup ticks, keep-alive receives, and listener receives.
// It runs until ctx is cancelled.
func (d *Driver) Run(ctx context.Context) error {
	cleanupPeriod := d.expiry
	ticker := time.NewTicker(cleanupPeriod)
	defer ticker.Stop()

	keepAliveRx := d.manager.keepAliveTx // same channel, Driver owns the receive side
	recvC := make(chan recvResult)
	go d.recvLoop(ctx, recvC)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-ticker.C:
			d.manager.CleanupExpired()

		case peer := <-keepAliveRx:
			d.manager.KeepAlive(peer)

		case res := <-recvC:
			if res.err != nil {
				var lookupErr *LookupError
				if errors.As(res.err, &lookupErr) {
					dlog.Debugf(ctx, "natrelay: %v", lookupErr)
					continue
				}
				dlog.Errorf(ctx, "natrelay: listener receive failed: %v", res.err)
				return res.err
			}
			if res.n == 0 {
				// Zero-length datagrams are ICMP-port-unreachable
				// artifacts on some platforms, per spec.md §4.F.
				continue
			}
			// IPv4-mapped IPv6 destinations are not unmapped before
			// dispatch here (spec.md §9 Open Question 2, left
			// unimplemented per SPEC_FULL.md §4): doing so would need
			// res.dst.IP.To4(), but the raw-send path is IPv4-only
			// anyway (Non-goals), so a mapped-IPv6 dst can never be
			// usefully relayed back by component C regardless.
			if err := d.manager.SendTo(res.peer, res.dst, res.payload); err != nil {
				dlog.Warnf(ctx, "natrelay: dropping datagram from %s: %v", res.peer, err)
			}
		}
	}
}

// recvResult is one completed RecvDestFrom, shuttled to the driver's select
// loop by recvLoop so blocking listener reads don't starve the other arms.
type recvResult struct {
	n       int
	peer    *net.UDPAddr
	dst     *net.UDPAddr
	payload []byte
	err     error
}

func (d *Driver) recvLoop(ctx context.Context, out chan<- recvResult) {
	buf := make([]byte, maxUDPPayload)
	for {
		n, peer, dst, err := d.listener.RecvDestFrom(buf)
		if err != nil {
			select {
			case out <- recvResult{err: err}:
			case <-ctx.Done():
				return
			}
			var lookupErr *LookupError
			if errors.As(err, &lookupErr) {
				// Per-packet failure; the listener socket is fine.
				continue
			}
			return
		}
		payload := make([]byte, n)
		copy(payload, buf[:n])
		select {
		case out <- recvResult{n: n, peer: peer, dst: dst, payload: payload}:
		case <-ctx.Done():
			return
		}
	}
}
