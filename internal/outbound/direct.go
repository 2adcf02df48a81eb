package outbound

import (
	"context"
	"net"
)

// directSocket is the Direct variant of spec.md §3's OutboundSocketKind: a
// plain UDP socket bound to 0.0.0.0:0, used as-is.
type directSocket struct {
	conn *net.UDPConn
}

func newDirectSocket() (Socket, error) {
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4zero, Port: 0})
	if err != nil {
		return nil, err
	}
	return &directSocket{conn: conn}, nil
}

func (d *directSocket) SendTo(_ context.Context, payload []byte, target *net.UDPAddr) (int, error) {
	return d.conn.WriteToUDP(payload, target)
}

func (d *directSocket) RecvFrom(_ context.Context, buf []byte) (int, *net.UDPAddr, error) {
	n, addr, err := d.conn.ReadFromUDP(buf)
	return n, addr, err
}

func (d *directSocket) Close() error {
	return d.conn.Close()
}
