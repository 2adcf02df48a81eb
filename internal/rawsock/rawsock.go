// Package rawsock implements component C, the Raw IP Sender: a
// process-wide SOCK_RAW/IP_HDRINCL socket used to emit UDP-in-IP
// datagrams wearing an arbitrary source address, so that server-to-client
// UDP traffic can be made to look like it came from the original
// destination.
//
// Grounded on original_source/src/utils/raw_socket.rs for the header
// layout and the EAGAIN-retry-on-writable send loop, translated to the Go
// idiom of wrapping the raw fd in a net.IPConn (via net.FilePacketConn) so
// the runtime netpoller parks the caller's goroutine on EWOULDBLOCK instead
// of busy-polling (the Go analogue of the Rust tokio::io::unix::AsyncFd used
// there).
package rawsock

import (
	"context"
	"encoding/binary"
	"fmt"
	"net"

	"github.com/datawire/dlib/dlog"
)

// maxUnfragmentedPayload is the payload size above which a warning is
// logged; it is not enforced (fragmentation is out of scope, spec.md §1).
const maxUnfragmentedPayload = 1472

const (
	ipHeaderLen  = 20
	udpHeaderLen = 8
	headerLen    = ipHeaderLen + udpHeaderLen
)

// Sender is the shared raw socket used by every Dispatcher to spoof
// server-to-client UDP return traffic. Safe for concurrent use: each Send
// call builds its own buffer and issues one WriteTo; the kernel serializes
// concurrent sendto(2) calls made against the same socket.
type Sender struct {
	conn *net.IPConn
}

// New opens the raw socket. Failure (not running as root) is startup-fatal
// per spec.md §7.
func New() (*Sender, error) {
	conn, err := newRawIPConn()
	if err != nil {
		return nil, err
	}
	return &Sender{conn: conn}, nil
}

// Close releases the raw socket.
func (s *Sender) Close() error {
	return s.conn.Close()
}

// Send emits a UDP datagram from src to dst carrying payload, with src
// spoofed via IP_HDRINCL. Only IPv4 endpoints are supported (spec.md §1
// Non-goals). It returns the number of payload bytes sent.
func (s *Sender) Send(ctx context.Context, src, dst *net.UDPAddr, payload []byte) (int, error) {
	srcIP, dstIP := src.IP.To4(), dst.IP.To4()
	if srcIP == nil || dstIP == nil {
		return 0, fmt.Errorf("rawsock: only IPv4 endpoints are supported (src=%s dst=%s)", src, dst)
	}
	if len(payload) > maxUnfragmentedPayload {
		dlog.Warnf(ctx, "rawsock: payload of %d bytes exceeds %d, fragmentation is not supported; sending anyway", len(payload), maxUnfragmentedPayload)
	}

	buf := buildPacket(srcIP, dstIP, src.Port, dst.Port, payload)

	n, err := s.conn.WriteToIP(buf, &net.IPAddr{IP: dstIP})
	if err != nil {
		return 0, err
	}
	sent := n - headerLen
	if sent < 0 {
		sent = 0
	}
	return sent, nil
}

// buildPacket lays out [IPv4 header(20)][UDP header(8)][payload]. Checksums
// are left zero per spec.md §4.C. The IPv4 total-length field is written in
// host byte order, not network byte order: this is the documented macOS/BSD
// raw-socket quirk from spec.md §4.C and §9, and macOS only runs on
// little-endian hardware, so it is written with binary.LittleEndian here
// rather than swapped into network order like every other multi-byte field.
func buildPacket(srcIP, dstIP net.IP, srcPort, dstPort int, payload []byte) []byte {
	buf := make([]byte, headerLen+len(payload))
	totalLen := uint16(headerLen + len(payload))

	// IPv4 header.
	buf[0] = (4 << 4) | 5 // version=4, IHL=5 (20 bytes, no options)
	buf[1] = 0            // TOS
	binary.LittleEndian.PutUint16(buf[2:4], totalLen)
	binary.BigEndian.PutUint16(buf[4:6], 0) // id: kernel fills
	binary.BigEndian.PutUint16(buf[6:8], 0) // flags/frag offset
	buf[8] = 64                             // TTL
	buf[9] = 17                             // IPPROTO_UDP
	binary.BigEndian.PutUint16(buf[10:12], 0) // checksum: kernel fills/ignores
	copy(buf[12:16], srcIP)
	copy(buf[16:20], dstIP)

	// UDP header.
	udp := buf[ipHeaderLen:headerLen]
	binary.BigEndian.PutUint16(udp[0:2], uint16(srcPort))
	binary.BigEndian.PutUint16(udp[2:4], uint16(dstPort))
	binary.BigEndian.PutUint16(udp[4:6], uint16(udpHeaderLen+len(payload)))
	binary.BigEndian.PutUint16(udp[6:8], 0) // checksum disabled

	copy(buf[headerLen:], payload)
	return buf
}
