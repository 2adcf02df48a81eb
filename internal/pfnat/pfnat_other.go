//go:build !darwin

package pfnat

import (
	"errors"
	"net"
	"runtime"
)

var errUnsupported = errors.New("pfnat: packet filter natlook is only implemented on darwin, running on " + runtime.GOOS)

type otherDev struct{}

func openDev() (resolverDev, error) {
	return nil, errUnsupported
}

func (otherDev) Close() error { return nil }

func (otherDev) natLook(proto, net.IP, int, net.IP, int) (net.IP, int, error) {
	return nil, 0, errUnsupported
}
