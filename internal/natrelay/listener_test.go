package natrelay

import (
	"errors"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLookupErrorUnwrap(t *testing.T) {
	inner := errors.New("no matching state in packet filter")
	peer := &net.UDPAddr{IP: net.ParseIP("10.0.0.1"), Port: 1}
	err := &LookupError{Peer: peer, Err: inner}

	assert.ErrorIs(t, err, inner)
	assert.Contains(t, err.Error(), peer.String())
}
