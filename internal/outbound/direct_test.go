package outbound

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDirectSocketRoundTrip(t *testing.T) {
	echo, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 0})
	require.NoError(t, err)
	defer echo.Close()

	go func() {
		buf := make([]byte, 1500)
		n, addr, err := echo.ReadFromUDP(buf)
		if err != nil {
			return
		}
		echo.WriteToUDP(buf[:n], addr)
	}()

	sock, err := (Factory{Kind: Direct}).New(context.Background())
	require.NoError(t, err)
	defer sock.Close()

	target := echo.LocalAddr().(*net.UDPAddr)
	_, err = sock.SendTo(context.Background(), []byte("ping"), target)
	require.NoError(t, err)

	buf := make([]byte, 1500)
	done := make(chan struct{})
	var n int
	go func() {
		n, _, err = sock.RecvFrom(context.Background(), buf)
		close(done)
	}()

	select {
	case <-done:
		require.NoError(t, err)
		require.Equal(t, "ping", string(buf[:n]))
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for echo")
	}
}
