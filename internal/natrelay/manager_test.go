package natrelay

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustsocks/rustsocks/internal/outbound"
)

func newTestManager(t *testing.T, expiry time.Duration) (*Manager, chan *net.UDPAddr) {
	t.Helper()
	keepAliveCh := make(chan *net.UDPAddr, keepAliveChannelSize)
	factory := outbound.Factory{Kind: outbound.Direct}
	m := NewManager(context.Background(), factory, nil, keepAliveCh, expiry)
	t.Cleanup(func() {
		for _, k := range m.table.Keys() {
			m.table.Remove(k)
		}
	})
	return m, keepAliveCh
}

func TestManagerSendToCreatesDispatcherOnce(t *testing.T) {
	m, _ := newTestManager(t, time.Minute)
	peer := &net.UDPAddr{IP: net.ParseIP("10.0.0.5"), Port: 55555}
	target := &net.UDPAddr{IP: net.ParseIP("8.8.8.8"), Port: 53}

	require.NoError(t, m.SendTo(peer, target, []byte("ping")))
	assert.Equal(t, 1, m.Len())

	require.NoError(t, m.SendTo(peer, target, []byte("ping2")))
	assert.Equal(t, 1, m.Len(), "second send for the same peer reuses the Dispatcher")
}

func TestManagerEvictionClosesDispatcher(t *testing.T) {
	m, _ := newTestManager(t, 30*time.Millisecond)
	peer := &net.UDPAddr{IP: net.ParseIP("10.0.0.6"), Port: 1234}
	target := &net.UDPAddr{IP: net.ParseIP("8.8.4.4"), Port: 53}

	require.NoError(t, m.SendTo(peer, target, []byte("x")))
	require.Equal(t, 1, m.Len())
	d, ok := m.table.Peek(peer.String())
	require.True(t, ok)

	require.Eventually(t, func() bool {
		m.CleanupExpired()
		return m.Len() == 0
	}, time.Second, 5*time.Millisecond, "entry should expire and be evicted")
	assert.True(t, d.Closed(), "eviction must close the entry's Dispatcher")
}

func TestManagerKeepAliveDoesNotCreate(t *testing.T) {
	m, _ := newTestManager(t, time.Minute)
	peer := &net.UDPAddr{IP: net.ParseIP("10.0.0.7"), Port: 9999}

	m.KeepAlive(peer)
	assert.Equal(t, 0, m.Len(), "keep-alive for an unknown peer must not create an entry")
}
