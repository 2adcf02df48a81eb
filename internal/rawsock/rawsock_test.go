package rawsock

import (
	"encoding/binary"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildPacketLayout(t *testing.T) {
	srcIP := net.ParseIP("10.0.0.1").To4()
	dstIP := net.ParseIP("10.0.0.2").To4()
	payload := []byte("hello nat")

	buf := buildPacket(srcIP, dstIP, 53, 54321, payload)
	require.Len(t, buf, headerLen+len(payload))

	assert.Equal(t, byte(0x45), buf[0], "version/IHL nibble")

	gotTotalLen := binary.LittleEndian.Uint16(buf[2:4])
	assert.Equal(t, uint16(headerLen+len(payload)), gotTotalLen, "total length is written host-endian")

	assert.Equal(t, byte(64), buf[8], "TTL")
	assert.Equal(t, byte(17), buf[9], "protocol is UDP")
	assert.Equal(t, net.IP(buf[12:16]).String(), srcIP.String())
	assert.Equal(t, net.IP(buf[16:20]).String(), dstIP.String())

	udp := buf[ipHeaderLen:headerLen]
	assert.Equal(t, uint16(53), binary.BigEndian.Uint16(udp[0:2]), "source port is network-endian")
	assert.Equal(t, uint16(54321), binary.BigEndian.Uint16(udp[2:4]), "dest port is network-endian")
	assert.Equal(t, uint16(udpHeaderLen+len(payload)), binary.BigEndian.Uint16(udp[4:6]), "UDP length")
	assert.Equal(t, uint16(0), binary.BigEndian.Uint16(udp[6:8]), "UDP checksum disabled")

	assert.Equal(t, payload, buf[headerLen:])
}

func TestSendRejectsIPv6(t *testing.T) {
	s := &Sender{}
	src := &net.UDPAddr{IP: net.ParseIP("::1"), Port: 1}
	dst := &net.UDPAddr{IP: net.ParseIP("::2"), Port: 2}

	_, err := s.Send(nil, src, dst, nil) //nolint:staticcheck // nil ctx is fine, call returns before any ctx use
	require.Error(t, err)
	assert.Contains(t, err.Error(), "only IPv4 endpoints are supported")
}
