package socks5

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncapsulateDecapsulateRoundTrip(t *testing.T) {
	dst := &net.UDPAddr{IP: net.ParseIP("93.184.216.34"), Port: 443}
	payload := []byte("hello")

	wrapped := Encapsulate(dst, payload)
	from, got, err := Decapsulate(wrapped)
	require.NoError(t, err)
	assert.Equal(t, dst.IP.String(), from.IP.String())
	assert.Equal(t, dst.Port, from.Port)
	assert.Equal(t, payload, got)
}

func TestDecapsulateRejectsFragmented(t *testing.T) {
	buf := []byte{0, 0, 1, atypIPv4, 1, 2, 3, 4, 0, 80, 'x'}
	_, _, err := Decapsulate(buf)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "fragmented")
}

// fakeServer implements just enough of RFC 1928 to let Handshake succeed.
func fakeServer(t *testing.T, relay *net.UDPAddr) net.Listener {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()

		greeting := make([]byte, 3)
		if _, err := readFull(conn, greeting); err != nil {
			return
		}
		conn.Write([]byte{version5, methodNoAuth})

		req := make([]byte, 10)
		if _, err := readFull(conn, req); err != nil {
			return
		}

		ip4 := relay.IP.To4()
		reply := []byte{version5, repSucceeded, 0, atypIPv4, ip4[0], ip4[1], ip4[2], ip4[3], byte(relay.Port >> 8), byte(relay.Port)}
		conn.Write(reply)

		// Keep the control connection open until the test closes it.
		buf := make([]byte, 1)
		conn.Read(buf)
	}()

	return ln
}

func TestHandshake(t *testing.T) {
	relay := &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 40000}
	ln := fakeServer(t, relay)
	defer ln.Close()

	conn, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	assoc, err := Handshake(conn)
	require.NoError(t, err)
	assert.Equal(t, relay.String(), assoc.Relay.String())
}
