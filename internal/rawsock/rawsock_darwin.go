//go:build darwin

package rawsock

import (
	"fmt"
	"net"
	"os"

	"golang.org/x/sys/unix"
)

// newRawIPConn opens an AF_INET/SOCK_RAW/IPPROTO_UDP socket with
// IP_HDRINCL set, then hands the fd to the Go runtime as a net.IPConn so
// WriteToIP/ReadFrom block the calling goroutine instead of the thread.
// Grounded on original_source/src/utils/raw_socket.rs's
// RawSocket::new, which opens the same socket type and sets the same
// option before registering the fd with its async reactor.
func newRawIPConn() (*net.IPConn, error) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_RAW, unix.IPPROTO_UDP)
	if err != nil {
		return nil, fmt.Errorf("rawsock: socket: %w", err)
	}

	if err := unix.SetsockoptInt(fd, unix.IPPROTO_IP, unix.IP_HDRINCL, 1); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("rawsock: setsockopt IP_HDRINCL: %w", err)
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("rawsock: set nonblocking: %w", err)
	}

	f := os.NewFile(uintptr(fd), "rawsock")
	pc, err := net.FilePacketConn(f)
	// FilePacketConn dup(2)s the fd; the original must be closed either way.
	f.Close()
	if err != nil {
		return nil, fmt.Errorf("rawsock: FilePacketConn: %w", err)
	}

	ipConn, ok := pc.(*net.IPConn)
	if !ok {
		pc.Close()
		return nil, fmt.Errorf("rawsock: unexpected conn type %T for raw IP socket", pc)
	}
	return ipConn, nil
}
