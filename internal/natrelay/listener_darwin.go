//go:build darwin

package natrelay

import (
	"syscall"

	"golang.org/x/sys/unix"
)

// IP_BINDANY is not in x/sys/unix's darwin constant set; its value is fixed
// ABI from <netinet/in.h> (IP_BINDANY = 24 on macOS/BSD).
const sysIPBindAny = 24

// controlBindAny sets SO_REUSEADDR and IP_BINDANY on the listener socket
// before bind, so it can receive datagrams PF redirects whose destination
// address is not one the host itself owns. Grounded on
// cmd/edgectl/misc_unix.go's net.ListenConfig{Control: ...} pattern for
// setting socket options ahead of bind via syscall.RawConn.Control.
func controlBindAny(_, _ string, c syscall.RawConn) error {
	var sockErr error
	err := c.Control(func(fd uintptr) {
		if sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); sockErr != nil {
			return
		}
		sockErr = unix.SetsockoptInt(int(fd), unix.IPPROTO_IP, sysIPBindAny, 1)
	})
	if err != nil {
		return err
	}
	return sockErr
}
