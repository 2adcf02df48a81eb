//go:build !darwin

package natrelay

import "syscall"

// controlBindAny is a no-op off darwin: IP_BINDANY is a BSD/macOS-only
// socket option and this program only targets macOS (spec.md §1
// Non-goals: non-macOS PF back-ends).
func controlBindAny(_, _ string, _ syscall.RawConn) error {
	return nil
}
