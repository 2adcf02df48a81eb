package outbound

import (
	"context"
	"fmt"
	"net"

	"github.com/rustsocks/rustsocks/internal/socks5"
)

// proxySocket is the Proxy(P) variant of spec.md §3's OutboundSocketKind: a
// SOCKS5 UDP association relayed through proxyAddr. It owns both the TCP
// control connection the association lives on and the UDP socket used to
// exchange encapsulated datagrams with the relay address the proxy handed
// back.
type proxySocket struct {
	control net.Conn
	relay   *net.UDPAddr
	udp     *net.UDPConn
}

func newProxySocket(_ context.Context, proxyAddr string) (Socket, error) {
	control, err := net.Dial("tcp", proxyAddr)
	if err != nil {
		return nil, fmt.Errorf("outbound: dialing SOCKS5 control channel %s: %w", proxyAddr, err)
	}

	assoc, err := socks5.Handshake(control)
	if err != nil {
		control.Close()
		return nil, err
	}

	udp, err := net.DialUDP("udp", nil, assoc.Relay)
	if err != nil {
		control.Close()
		return nil, fmt.Errorf("outbound: dialing SOCKS5 relay %s: %w", assoc.Relay, err)
	}

	return &proxySocket{control: control, relay: assoc.Relay, udp: udp}, nil
}

func (p *proxySocket) SendTo(_ context.Context, payload []byte, target *net.UDPAddr) (int, error) {
	wrapped := socks5.Encapsulate(target, payload)
	return p.udp.Write(wrapped)
}

func (p *proxySocket) RecvFrom(_ context.Context, buf []byte) (int, *net.UDPAddr, error) {
	n, err := p.udp.Read(buf)
	if err != nil {
		return 0, nil, err
	}
	from, payload, err := socks5.Decapsulate(buf[:n])
	if err != nil {
		return 0, nil, err
	}
	copy(buf, payload)
	return len(payload), from, nil
}

func (p *proxySocket) Close() error {
	udpErr := p.udp.Close()
	ctlErr := p.control.Close()
	if udpErr != nil {
		return udpErr
	}
	return ctlErr
}
