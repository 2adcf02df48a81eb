// Package config resolves rustsocks' three positional CLI endpoints
// (spec.md §6), kept separate from cobra flag parsing so it is unit
// testable without constructing a cobra.Command, matching the ambient
// stack's split between argv handling and pure config in the teacher's
// cmd/ tree.
package config

import (
	"fmt"
	"net"
)

// Config is a fully parsed rustsocks invocation.
type Config struct {
	// ProxyListen is where PF redirects TCP connections that should be
	// relayed through ProxyUpstream.
	ProxyListen *net.TCPAddr
	// DirectListen is where PF redirects TCP connections (and, paired
	// with the UDP redirect listener on the same address, UDP flows)
	// that should be relayed directly to their original destination.
	DirectListen *net.TCPAddr
	// ProxyUpstream is the HTTP CONNECT proxy used for ProxyListen
	// connections.
	ProxyUpstream *net.TCPAddr
}

// Load parses the three positional arguments spec.md §6 names:
// <proxy-listen-ep> <direct-listen-ep> <proxy-upstream-ep>.
func Load(args []string) (*Config, error) {
	if len(args) != 3 {
		return nil, fmt.Errorf("expected 3 arguments (proxy-listen-ep direct-listen-ep proxy-upstream-ep), got %d", len(args))
	}

	proxyListen, err := net.ResolveTCPAddr("tcp", args[0])
	if err != nil {
		return nil, fmt.Errorf("parsing proxy-listen-ep %q: %w", args[0], err)
	}
	directListen, err := net.ResolveTCPAddr("tcp", args[1])
	if err != nil {
		return nil, fmt.Errorf("parsing direct-listen-ep %q: %w", args[1], err)
	}
	proxyUpstream, err := net.ResolveTCPAddr("tcp", args[2])
	if err != nil {
		return nil, fmt.Errorf("parsing proxy-upstream-ep %q: %w", args[2], err)
	}

	return &Config{
		ProxyListen:   proxyListen,
		DirectListen:  directListen,
		ProxyUpstream: proxyUpstream,
	}, nil
}
