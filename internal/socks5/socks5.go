// Package socks5 implements the minimal subset of RFC 1928 needed for a
// UDP ASSOCIATE: the no-auth greeting, the ASSOCIATE request/reply, and the
// UDP datagram header that wraps every relayed packet.
//
// This is a supplemented feature (SPEC_FULL.md §8): original_source's
// src/utils/socks/mod.rs names a Socks5UdpClient collaborator but the
// retrieved pack does not include its implementation file, so this is
// written directly from RFC 1928 rather than grounded on a specific source
// file, in the teacher's terse networking-code style (pkg/client/daemon/proxy/proxy.go).
package socks5

import (
	"encoding/binary"
	"fmt"
	"net"
)

const (
	version5 = 0x05

	methodNoAuth = 0x00

	cmdUDPAssociate = 0x03

	atypIPv4   = 0x01
	atypDomain = 0x03
	atypIPv6   = 0x04

	repSucceeded = 0x00
)

// Association is the result of a completed UDP ASSOCIATE handshake: a TCP
// control connection that must stay open for the life of the association,
// and the relay address datagrams must be sent to.
type Association struct {
	// Control is the TCP connection the ASSOCIATE request was made on.
	// RFC 1928: the association is valid only as long as this stays open.
	Control net.Conn
	// Relay is the BND.ADDR/BND.PORT the proxy returned: the UDP address
	// to send encapsulated datagrams to and receive them from.
	Relay *net.UDPAddr
}

// Handshake performs the greeting and UDP ASSOCIATE request over an
// already-connected TCP control channel, and returns the resulting
// Association. The caller owns control's lifetime.
func Handshake(control net.Conn) (*Association, error) {
	if err := greet(control); err != nil {
		return nil, fmt.Errorf("socks5: greeting: %w", err)
	}
	relay, err := associate(control)
	if err != nil {
		return nil, fmt.Errorf("socks5: associate: %w", err)
	}
	return &Association{Control: control, Relay: relay}, nil
}

func greet(c net.Conn) error {
	// VER=5, NMETHODS=1, METHODS=[NO AUTH]
	if _, err := c.Write([]byte{version5, 1, methodNoAuth}); err != nil {
		return err
	}
	resp := make([]byte, 2)
	if _, err := readFull(c, resp); err != nil {
		return err
	}
	if resp[0] != version5 {
		return fmt.Errorf("unexpected version %d in greeting reply", resp[0])
	}
	if resp[1] != methodNoAuth {
		return fmt.Errorf("proxy rejected no-auth method (selected 0x%02x)", resp[1])
	}
	return nil
}

func associate(c net.Conn) (*net.UDPAddr, error) {
	// The DST.ADDR/DST.PORT of the request is the address the client will
	// send UDP datagrams FROM; 0.0.0.0:0 lets the proxy accept from any
	// source, which is what every SOCKS5 server in practice expects here.
	req := []byte{version5, cmdUDPAssociate, 0x00, atypIPv4, 0, 0, 0, 0, 0, 0}
	if _, err := c.Write(req); err != nil {
		return nil, err
	}

	hdr := make([]byte, 4)
	if _, err := readFull(c, hdr); err != nil {
		return nil, err
	}
	if hdr[0] != version5 {
		return nil, fmt.Errorf("unexpected version %d in reply", hdr[0])
	}
	if hdr[1] != repSucceeded {
		return nil, fmt.Errorf("proxy refused UDP ASSOCIATE, reply code 0x%02x", hdr[1])
	}

	addr, err := readAddr(c, hdr[3])
	if err != nil {
		return nil, err
	}
	return addr, nil
}

// Encapsulate wraps payload in the SOCKS5 UDP request header (RFC 1928
// §7): RSV(2)=0 FRAG(1)=0 ATYP+DST.ADDR+DST.PORT, then the payload.
// Fragmentation is not supported (spec.md §1 Non-goals); FRAG is always 0.
func Encapsulate(dst *net.UDPAddr, payload []byte) []byte {
	ip4 := dst.IP.To4()
	var head []byte
	if ip4 != nil {
		head = make([]byte, 4+4+2)
		head[3] = atypIPv4
		copy(head[4:8], ip4)
		binary.BigEndian.PutUint16(head[8:10], uint16(dst.Port))
	} else {
		ip6 := dst.IP.To16()
		head = make([]byte, 4+16+2)
		head[3] = atypIPv6
		copy(head[4:20], ip6)
		binary.BigEndian.PutUint16(head[20:22], uint16(dst.Port))
	}
	return append(head, payload...)
}

// Decapsulate strips the SOCKS5 UDP header from a datagram received on the
// relay socket, returning the real origin address and the payload.
func Decapsulate(buf []byte) (from *net.UDPAddr, payload []byte, err error) {
	if len(buf) < 4 {
		return nil, nil, fmt.Errorf("socks5: datagram too short (%d bytes)", len(buf))
	}
	if buf[2] != 0 {
		return nil, nil, fmt.Errorf("socks5: fragmented datagrams are not supported (FRAG=%d)", buf[2])
	}
	atyp := buf[3]
	rest := buf[4:]

	var ip net.IP
	switch atyp {
	case atypIPv4:
		if len(rest) < 4+2 {
			return nil, nil, fmt.Errorf("socks5: truncated IPv4 datagram header")
		}
		ip = append(net.IP(nil), rest[:4]...)
		rest = rest[4:]
	case atypIPv6:
		if len(rest) < 16+2 {
			return nil, nil, fmt.Errorf("socks5: truncated IPv6 datagram header")
		}
		ip = append(net.IP(nil), rest[:16]...)
		rest = rest[16:]
	case atypDomain:
		return nil, nil, fmt.Errorf("socks5: domain-name datagram addresses are not supported")
	default:
		return nil, nil, fmt.Errorf("socks5: unknown ATYP 0x%02x", atyp)
	}

	port := binary.BigEndian.Uint16(rest[:2])
	return &net.UDPAddr{IP: ip, Port: int(port)}, rest[2:], nil
}

func readAddr(c net.Conn, atyp byte) (*net.UDPAddr, error) {
	var ip net.IP
	switch atyp {
	case atypIPv4:
		buf := make([]byte, 4)
		if _, err := readFull(c, buf); err != nil {
			return nil, err
		}
		ip = net.IP(buf)
	case atypIPv6:
		buf := make([]byte, 16)
		if _, err := readFull(c, buf); err != nil {
			return nil, err
		}
		ip = net.IP(buf)
	case atypDomain:
		lenBuf := make([]byte, 1)
		if _, err := readFull(c, lenBuf); err != nil {
			return nil, err
		}
		nameBuf := make([]byte, lenBuf[0])
		if _, err := readFull(c, nameBuf); err != nil {
			return nil, err
		}
		resolved, err := net.ResolveIPAddr("ip", string(nameBuf))
		if err != nil {
			return nil, fmt.Errorf("resolving relay domain %q: %w", nameBuf, err)
		}
		ip = resolved.IP
	default:
		return nil, fmt.Errorf("unknown ATYP 0x%02x in reply", atyp)
	}

	portBuf := make([]byte, 2)
	if _, err := readFull(c, portBuf); err != nil {
		return nil, err
	}
	return &net.UDPAddr{IP: ip, Port: int(binary.BigEndian.Uint16(portBuf))}, nil
}

func readFull(c net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := c.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}
