//go:build !darwin

package rawsock

import (
	"errors"
	"net"
	"runtime"
)

var errUnsupported = errors.New("rawsock: raw IP_HDRINCL sending is only implemented on darwin, running on " + runtime.GOOS)

func newRawIPConn() (*net.IPConn, error) {
	return nil, errUnsupported
}
