package natrelay

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/rustsocks/rustsocks/internal/outbound"
	"github.com/rustsocks/rustsocks/internal/rawsock"
)

func TestDispatcherEnqueueBackpressure(t *testing.T) {
	peer := &net.UDPAddr{IP: net.ParseIP("10.0.0.9"), Port: 4444}
	target := &net.UDPAddr{IP: net.ParseIP("1.1.1.1"), Port: 53}
	d := NewDispatcher(peer, outbound.Factory{Kind: outbound.Direct}, nil, make(chan *net.UDPAddr, 1))

	for i := 0; i < sendChannelSize; i++ {
		assert.True(t, d.Enqueue(target, []byte("x")), "queue should accept up to its capacity")
	}
	assert.False(t, d.Enqueue(target, []byte("overflow")), "queue is full, enqueue must report failure rather than block")
}

func TestDispatcherCloseEndsEnqueue(t *testing.T) {
	peer := &net.UDPAddr{IP: net.ParseIP("10.0.0.10"), Port: 5555}
	d := NewDispatcher(peer, outbound.Factory{Kind: outbound.Direct}, nil, make(chan *net.UDPAddr, 1))
	d.Close()
	assert.False(t, d.Enqueue(peer, []byte("x")), "enqueue after close must report failure, not panic")
}

func TestDispatcherCloseIsIdempotentAndRaceSafe(t *testing.T) {
	peer := &net.UDPAddr{IP: net.ParseIP("10.0.0.12"), Port: 7777}
	target := &net.UDPAddr{IP: net.ParseIP("1.1.1.1"), Port: 53}
	d := NewDispatcher(peer, outbound.Factory{Kind: outbound.Direct}, nil, make(chan *net.UDPAddr, 1))

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		d.Close()
	}()
	go func() {
		defer wg.Done()
		d.Enqueue(target, []byte("x"))
	}()
	wg.Wait()

	assert.NotPanics(t, d.Close, "Close must be idempotent")
}

// One inbound packet arms the keep-alive for a single tick, not permanently:
// without this, a peer that stops sending never has its NAT entry expire
// (spec.md §8, "untouched for > D seconds is evicted before 2D elapses").
func TestDispatcherKeepAliveFiresOncePerInboundBurst(t *testing.T) {
	peer := &net.UDPAddr{IP: net.ParseIP("10.0.0.11"), Port: 6666}
	from := &net.UDPAddr{IP: net.ParseIP("8.8.8.8"), Port: 53}
	keepAliveTx := make(chan *net.UDPAddr, 1)
	d := NewDispatcher(peer, outbound.Factory{Kind: outbound.Direct}, &rawsock.Sender{}, keepAliveTx)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	d.inboundC <- inboundMsg{n: 3, from: from, buf: []byte("abc")}

	select {
	case got := <-keepAliveTx:
		assert.Equal(t, peer, got)
	case <-time.After(2 * keepAlivePeriod):
		t.Fatal("expected one keep-alive after a single inbound packet armed the dispatcher")
	}

	select {
	case <-keepAliveTx:
		t.Fatal("dispatcher re-armed without new inbound activity")
	case <-time.After(2 * keepAlivePeriod):
		// No further keep-alive: confirms the armed latch was consumed.
	}
}
