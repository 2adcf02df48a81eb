package tcpsplice

import (
	"context"
	"net"

	"github.com/datawire/dlib/dlog"
)

// setInboundSocketOptions applies spec.md §4.G's "TCP socket options to set
// on accepted inbound sockets when available": TCP_NODELAY always (plain
// net.TCPConn API), and TCP_FASTOPEN on a best-effort, log-only basis via
// the platform-specific setAdvancedOpts. No multipath TCP option is set
// (see tcpopts_darwin.go).
func setInboundSocketOptions(ctx context.Context, conn *net.TCPConn) {
	if err := conn.SetNoDelay(true); err != nil {
		dlog.Debugf(ctx, "tcpsplice: TCP_NODELAY unavailable on %s: %v", conn.RemoteAddr(), err)
	}
	setAdvancedOpts(ctx, conn)
}
