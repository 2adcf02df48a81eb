package natrelay

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/datawire/dlib/dlog"

	"github.com/rustsocks/rustsocks/internal/outbound"
	"github.com/rustsocks/rustsocks/internal/rawsock"
)

// maxUDPPayload bounds the Dispatcher's reusable receive buffer (spec.md
// §4.D).
const maxUDPPayload = 65536

// sendChannelSize is UDP_ASSOCIATION_SEND_CHANNEL_SIZE from spec.md §5.
const sendChannelSize = 1024

const keepAlivePeriod = time.Second

// outboundJob is one (target, payload) pair enqueued by the NAT Manager for
// a Dispatcher to send out.
type outboundJob struct {
	target  *net.UDPAddr
	payload []byte
}

// inboundMsg is pushed by a socket-reader goroutine to the Dispatcher's main
// loop. err set means the outbound socket died and must be recreated.
type inboundMsg struct {
	n    int
	from *net.UDPAddr
	buf  []byte
	err  error
}

// Dispatcher is component D, the UDP Send Worker: one per client peer,
// owning an outbound socket of the configured kind and bridging replies
// back through the shared raw sender.
type Dispatcher struct {
	peerAddr    *net.UDPAddr
	factory     outbound.Factory
	sender      *rawsock.Sender
	queue       chan outboundJob
	keepAliveTx chan<- *net.UDPAddr

	sock     outbound.Socket
	inboundC chan inboundMsg

	// closeMu serializes Enqueue against Close. The NAT table's background
	// janitor (see manager.go) can call Close from a goroutine other than
	// the one calling Enqueue, so "check queue is open, then send" must be
	// atomic or a send can land on an already-closed channel and panic.
	closeMu sync.Mutex
	closed  bool
}

// NewDispatcher constructs a Dispatcher for peerAddr. It does not open an
// outbound socket or start its loop; call Run to do both.
func NewDispatcher(peerAddr *net.UDPAddr, factory outbound.Factory, sender *rawsock.Sender, keepAliveTx chan<- *net.UDPAddr) *Dispatcher {
	return &Dispatcher{
		peerAddr:    peerAddr,
		factory:     factory,
		sender:      sender,
		queue:       make(chan outboundJob, sendChannelSize),
		keepAliveTx: keepAliveTx,
		inboundC:    make(chan inboundMsg),
	}
}

// Enqueue offers (target, payload) to the Dispatcher's outbound queue,
// non-blocking. Returns false if the queue is full or closed, per spec.md
// §5's backpressure policy (drop, do not retry).
func (d *Dispatcher) Enqueue(target *net.UDPAddr, payload []byte) bool {
	d.closeMu.Lock()
	defer d.closeMu.Unlock()
	if d.closed {
		return false
	}
	select {
	case d.queue <- outboundJob{target: target, payload: payload}:
		return true
	default:
		return false
	}
}

// Close stops accepting new outbound jobs; Run exits once the queue drains
// and this close is observed, per spec.md §4.D item 4. Safe to call more
// than once and safe to race against Enqueue.
func (d *Dispatcher) Close() {
	d.closeMu.Lock()
	defer d.closeMu.Unlock()
	if d.closed {
		return
	}
	d.closed = true
	close(d.queue)
}

// Closed reports whether Close has already run, so the NAT Manager can tell
// a dispatcher evicted out from under it (by the LRU's background janitor,
// see manager.go) apart from one merely backed up, and replace it instead of
// reusing a Dispatcher that will never accept work again.
func (d *Dispatcher) Closed() bool {
	d.closeMu.Lock()
	defer d.closeMu.Unlock()
	return d.closed
}

// Run is the Dispatcher's main loop (spec.md §4.D). It blocks until ctx is
// cancelled or the queue is closed and drained.
func (d *Dispatcher) Run(ctx context.Context) {
	defer d.closeSocket()

	ticker := time.NewTicker(keepAlivePeriod)
	defer ticker.Stop()
	armed := false

	for {
		select {
		case <-ctx.Done():
			return

		case job, ok := <-d.queue:
			if !ok {
				return
			}
			d.sendOutbound(ctx, job)

		case msg := <-d.inboundC:
			if msg.err != nil {
				dlog.Warnf(ctx, "natrelay: outbound socket for peer %s failed: %v, will recreate on next send", d.peerAddr, msg.err)
				d.closeSocket()
				continue
			}
			armed = true
			if _, err := d.sender.Send(ctx, msg.from, d.peerAddr, msg.buf); err != nil {
				dlog.Warnf(ctx, "natrelay: raw-send %s -> %s failed: %v", msg.from, d.peerAddr, err)
			}

		case <-ticker.C:
			if !armed {
				continue
			}
			select {
			case d.keepAliveTx <- d.peerAddr:
				armed = false
			default:
				// Channel full or closed; next tick retries.
			}
		}
	}
}

func (d *Dispatcher) sendOutbound(ctx context.Context, job outboundJob) {
	if d.sock == nil {
		sock, err := d.factory.New(ctx)
		if err != nil {
			dlog.Warnf(ctx, "natrelay: opening outbound socket for peer %s: %v", d.peerAddr, err)
			return
		}
		d.sock = sock
		go readInbound(ctx, sock, d.inboundC)
	}

	n, err := d.sock.SendTo(ctx, job.payload, job.target)
	if err != nil {
		dlog.Warnf(ctx, "natrelay: outbound send to %s for peer %s failed: %v", job.target, d.peerAddr, err)
		d.closeSocket()
		return
	}
	if n < len(job.payload) {
		dlog.Warnf(ctx, "natrelay: short send to %s: sent %d of %d bytes", job.target, n, len(job.payload))
	}
}

func (d *Dispatcher) closeSocket() {
	if d.sock == nil {
		return
	}
	d.sock.Close()
	d.sock = nil
}

// readInbound pumps sock.RecvFrom into ch until it errors, then reports the
// error once and exits. It is spawned fresh each time sendOutbound (re)opens
// a socket, so a dead reader never outlives the socket it served.
//
// Every send to ch also watches ctx.Done(): Run's deferred closeSocket makes
// RecvFrom return an error right after ctx is cancelled, but by then Run has
// already returned and stopped reading ch, so an unconditional send would
// block forever and leak this goroutine.
func readInbound(ctx context.Context, sock outbound.Socket, ch chan<- inboundMsg) {
	buf := make([]byte, maxUDPPayload)
	for {
		n, from, err := sock.RecvFrom(ctx, buf)
		if err != nil {
			select {
			case ch <- inboundMsg{err: err}:
			case <-ctx.Done():
			}
			return
		}
		cp := make([]byte, n)
		copy(cp, buf[:n])
		select {
		case ch <- inboundMsg{n: n, from: from, buf: cp}:
		case <-ctx.Done():
			return
		}
	}
}
