//go:build darwin

package pfnat

import (
	"fmt"
	"net"
	"os"
	"syscall"
	"unsafe"

	"golang.org/x/sys/unix"
)

// pfioc_natlook, as declared in <net/pfvar.h>. pf_addr is a 16-byte union
// (big enough for either an in_addr or an in6_addr); the port fields are
// 2-byte big-endian. Layout and the _IOWR derivation below are grounded on
// other_examples/31aaabe4_XTLS-Xray-core__common-net-destination.go.go's
// OriginalDst, which reimplements the same struct for the same purpose.
type pfiocNatlook struct {
	saddr, daddr, rsaddr, rdaddr          [16]byte
	sport, dport, rsport, rdport          [2]byte
	af, pfProto, protoVariant, direction  uint8
}

const (
	iocOut      = 0x40000000
	iocIn       = 0x80000000
	iocInOut    = iocIn | iocOut
	iocParmMask = 0x1fff
	natlookLen  = 4*16 + 4*2 + 4*1

	// #define DIOCNATLOOK _IOWR('D', 23, struct pfioc_natlook)
	diocNatlook = iocInOut | ((natlookLen & iocParmMask) << 16) | ('D' << 8) | 23

	pfOut = 2 // direction: packet went out of the redirecting interface
)

type darwinDev struct {
	f *os.File
}

func openDev() (resolverDev, error) {
	f, err := os.OpenFile("/dev/pf", os.O_RDONLY, 0)
	if err != nil {
		return nil, fmt.Errorf("open /dev/pf: %w", err)
	}
	return &darwinDev{f: f}, nil
}

func (d *darwinDev) Close() error {
	return d.f.Close()
}

func (d *darwinDev) natLook(p proto, srcIP net.IP, srcPort int, dstIP net.IP, dstPort int) (net.IP, int, error) {
	var nl pfiocNatlook
	nl.pfProto = uint8(p)
	nl.direction = pfOut

	src4, dst4 := srcIP.To4(), dstIP.To4()
	if src4 != nil && dst4 != nil {
		nl.af = unix.AF_INET
		copy(nl.saddr[:net.IPv4len], src4)
		copy(nl.daddr[:net.IPv4len], dst4)
	} else {
		nl.af = unix.AF_INET6
		copy(nl.saddr[:], srcIP.To16())
		copy(nl.daddr[:], dstIP.To16())
	}
	nl.sport[0], nl.sport[1] = byte(srcPort>>8), byte(srcPort)
	nl.dport[0], nl.dport[1] = byte(dstPort>>8), byte(dstPort)

	_, _, errno := syscall.Syscall(syscall.SYS_IOCTL, d.f.Fd(), uintptr(diocNatlook), uintptr(unsafe.Pointer(&nl)))
	if errno == unix.ENOENT {
		return nil, 0, ErrNotFound
	}
	if errno != 0 {
		return nil, 0, os.NewSyscallError("ioctl DIOCNATLOOK", errno)
	}

	var ip net.IP
	switch nl.af {
	case unix.AF_INET:
		ip = make(net.IP, net.IPv4len)
		copy(ip, nl.rdaddr[:net.IPv4len])
	case unix.AF_INET6:
		ip = make(net.IP, net.IPv6len)
		copy(ip, nl.rdaddr[:])
	}
	port := int(nl.rdport[0])<<8 | int(nl.rdport[1])
	return ip, port, nil
}
