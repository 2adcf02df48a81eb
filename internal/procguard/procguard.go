// Package procguard performs the startup-fatal checks spec.md §7 calls out:
// the process must run as root (raw sockets, /dev/pf) and must have enough
// file descriptors headroom for one socket per NAT entry and per spliced
// TCP connection.
package procguard

import (
	"context"
	"fmt"
	"os"
	"syscall"

	"github.com/datawire/dlib/dlog"
)

// MinFileLimit is the smallest RLIMIT_NOFILE this program will run with.
const MinFileLimit = 4096

// RequireRoot fails unless the effective UID is 0.
func RequireRoot() error {
	if os.Geteuid() != 0 {
		return fmt.Errorf("rustsocks must run as root (raw sockets and /dev/pf require it)")
	}
	return nil
}

// RequireFileLimit raises RLIMIT_NOFILE to at least min, failing if the hard
// limit is below min. Adapted from the teacher's pkg/proxy/proxy.go
// setRlimit, generalized from "best effort, log and continue" into a
// startup-fatal check, since this program's per-flow socket count is
// unbounded by design (one dispatcher socket per NAT peer).
func RequireFileLimit(ctx context.Context, min uint64) error {
	var limit syscall.Rlimit
	if err := syscall.Getrlimit(syscall.RLIMIT_NOFILE, &limit); err != nil {
		return fmt.Errorf("getrlimit RLIMIT_NOFILE: %w", err)
	}
	dlog.Debugf(ctx, "initial RLIMIT_NOFILE: cur=%d max=%d", limit.Cur, limit.Max)

	if limit.Cur >= min {
		return nil
	}
	if limit.Max < min {
		return fmt.Errorf("RLIMIT_NOFILE hard limit %d is below required minimum %d", limit.Max, min)
	}

	limit.Cur = min
	if err := syscall.Setrlimit(syscall.RLIMIT_NOFILE, &limit); err != nil {
		return fmt.Errorf("setrlimit RLIMIT_NOFILE to %d: %w", min, err)
	}
	dlog.Debugf(ctx, "raised RLIMIT_NOFILE to %d", min)
	return nil
}
