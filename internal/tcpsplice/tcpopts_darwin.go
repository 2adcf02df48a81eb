//go:build darwin

package tcpsplice

import (
	"context"
	"net"

	"github.com/datawire/dlib/dlog"
	"golang.org/x/sys/unix"
)

// setAdvancedOpts best-effort-sets TCP_FASTOPEN on the accepted socket, per
// spec.md §4.G. TCP_FASTOPEN is conventionally a listen-socket option, not
// one set post-accept, but the spec calls it out for inbound sockets
// specifically, so it is attempted here and logged, never treated as fatal.
// Multipath TCP has no per-connection sockopt on accepted sockets on
// macOS — it is negotiated at connect/listen time via TCP_MULTIPATH_SVC or
// SO_MULTIPATH_NO_STOLEN by the originating side, not the redirector — so
// there is nothing to set here for it.
func setAdvancedOpts(ctx context.Context, conn *net.TCPConn) {
	raw, err := conn.SyscallConn()
	if err != nil {
		dlog.Debugf(ctx, "tcpsplice: SyscallConn for %s: %v", conn.RemoteAddr(), err)
		return
	}
	ctrlErr := raw.Control(func(fd uintptr) {
		if err := unix.SetsockoptInt(int(fd), unix.IPPROTO_TCP, unix.TCP_FASTOPEN, 1); err != nil {
			dlog.Debugf(ctx, "tcpsplice: TCP_FASTOPEN unavailable on %s: %v", conn.RemoteAddr(), err)
		}
	})
	if ctrlErr != nil {
		dlog.Debugf(ctx, "tcpsplice: setting advanced socket options on %s: %v", conn.RemoteAddr(), ctrlErr)
	}
}
