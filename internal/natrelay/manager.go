package natrelay

import (
	"context"
	"fmt"
	"net"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/rustsocks/rustsocks/internal/outbound"
	"github.com/rustsocks/rustsocks/internal/rawsock"
)

// DefaultExpiry is spec.md §3's default NAT entry expiry D (5 minutes).
const DefaultExpiry = 5 * time.Minute

// natTableSize bounds the LRU's backing array; entries are evicted by age
// (TTL), this is only a hard ceiling against unbounded peer growth.
const natTableSize = 8192

// Manager is component E, the UDP NAT Manager: an LRU-by-time map from peer
// Endpoint to Dispatcher, accessed exclusively from the Relay Driver's
// goroutine (spec.md §4.E: "no internal locking needed beyond the LRU
// structure's own invariants").
type Manager struct {
	ctx         context.Context
	factory     outbound.Factory
	sender      *rawsock.Sender
	keepAliveTx chan *net.UDPAddr

	table *lru.LRU[string, *Dispatcher]
}

// NewManager constructs a Manager whose Dispatchers use factory to open
// outbound sockets and sender to relay server replies back to peers.
// keepAliveTx is the channel every Dispatcher reports activity on; the
// Relay Driver owns its receive end.
func NewManager(ctx context.Context, factory outbound.Factory, sender *rawsock.Sender, keepAliveTx chan *net.UDPAddr, expiry time.Duration) *Manager {
	m := &Manager{ctx: ctx, factory: factory, sender: sender, keepAliveTx: keepAliveTx}
	m.table = lru.NewLRU[string, *Dispatcher](natTableSize, m.onEvict, expiry)
	return m
}

func (m *Manager) onEvict(_ string, d *Dispatcher) {
	d.Close()
}

// SendTo implements spec.md §4.E's send_to: look up peer, refreshing its
// LRU position on hit, creating a Dispatcher on miss, then forward (target,
// bytes) to it. The forwarding error (full/closed queue) is surfaced, not
// retried, per spec.md §4.E.
func (m *Manager) SendTo(peer, target *net.UDPAddr, payload []byte) error {
	key := peer.String()

	d, ok := m.table.Get(key)
	if !ok || d.Closed() {
		// d.Closed() catches a Dispatcher the LRU's background janitor
		// evicted (and closed) between some earlier Get and now: reusing it
		// would silently drop every packet for this peer until the stale
		// entry's re-added TTL next expires, instead of recovering
		// immediately with a fresh Dispatcher.
		d = NewDispatcher(peer, m.factory, m.sender, m.keepAliveTx)
		go d.Run(m.ctx)
	}
	// Add unconditionally: besides inserting on miss, re-adding an
	// existing key resets its TTL clock and moves it to the front of the
	// LRU, which is the "refresh position" spec.md §3 requires on every
	// access. Relying on Get alone would only be correct if it were
	// guaranteed to extend the TTL, which this package does not document.
	m.table.Add(key, d)

	if !d.Enqueue(target, payload) {
		return fmt.Errorf("natrelay: outbound queue for peer %s is full or closed", peer)
	}
	return nil
}

// KeepAlive implements spec.md §4.E's keep_alive: refresh peer's LRU
// position without creating an entry if one is not present.
func (m *Manager) KeepAlive(peer *net.UDPAddr) {
	key := peer.String()
	if d, ok := m.table.Get(key); ok && !d.Closed() {
		m.table.Add(key, d)
	}
}

// CleanupExpired implements spec.md §4.E's cleanup_expired. expirable.LRU
// runs its own background janitor that removes entries as they age past
// their TTL and calls onEvict for each, so expired Dispatchers are closed by
// that janitor. The Keys call here only lists the unexpired keys: it does
// not remove an expired entry or call onEvict for it, so an entry that has
// expired but not yet been swept stays in the table (and counts in Len)
// until the janitor's next pass.
func (m *Manager) CleanupExpired() {
	m.table.Keys()
}

// Len reports the number of live NAT entries, for tests and diagnostics.
func (m *Manager) Len() int {
	return m.table.Len()
}
