//go:build !darwin

package tcpsplice

import (
	"context"
	"net"
)

// setAdvancedOpts is a no-op off darwin; this program only targets macOS
// (spec.md §1 Non-goals: non-macOS packet-filter back-ends).
func setAdvancedOpts(_ context.Context, _ *net.TCPConn) {}
