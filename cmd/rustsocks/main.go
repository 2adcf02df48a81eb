// Command rustsocks is a transparent TCP/UDP redirector for macOS: it
// recovers the original destination of packet-filter-redirected flows and
// relays them either directly or through an upstream HTTP CONNECT proxy.
package main

import (
	"context"
	"fmt"
	"net"
	"os"

	"github.com/spf13/cobra"

	"github.com/datawire/dlib/dgroup"
	"github.com/datawire/dlib/dlog"

	"github.com/rustsocks/rustsocks/internal/config"
	"github.com/rustsocks/rustsocks/internal/logging"
	"github.com/rustsocks/rustsocks/internal/natrelay"
	"github.com/rustsocks/rustsocks/internal/outbound"
	"github.com/rustsocks/rustsocks/internal/pfnat"
	"github.com/rustsocks/rustsocks/internal/procguard"
	"github.com/rustsocks/rustsocks/internal/rawsock"
	"github.com/rustsocks/rustsocks/internal/tcpsplice"
)

// connectionLimit bounds the number of TCP connections spliced at once,
// shared across the direct and proxy listeners (spec.md §5).
const connectionLimit = 2048

// socks5RelayAddr is the SOCKS5 UDP ASSOCIATE relay used by the Proxy
// outbound socket kind, deliberately independent of ProxyUpstream per
// SPEC_FULL.md §4's third resolved Open Question.
const socks5RelayAddr = "127.0.0.1:20170"

func main() {
	var logLevel string
	var udpOutboundKind string

	cmd := &cobra.Command{
		Use:           "rustsocks <proxy-listen-ep> <direct-listen-ep> <proxy-upstream-ep>",
		Short:         "Transparent TCP/UDP redirector for macOS packet-filter rdr-to rules",
		Args:          cobra.ExactArgs(3),
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	cmd.Flags().StringVar(&logLevel, "log-level", "", "log level (overrides LOG_LEVEL)")
	cmd.Flags().StringVar(&udpOutboundKind, "udp-outbound", "direct", "outbound socket kind Dispatchers use for relayed UDP flows ('direct' or 'socks5')")

	cmd.RunE = func(_ *cobra.Command, args []string) error {
		ctx := logging.WithBaseLogger(context.Background(), logLevel)
		factory, err := outboundFactory(udpOutboundKind)
		if err != nil {
			return err
		}
		return run(ctx, args, factory)
	}

	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func outboundFactory(kind string) (outbound.Factory, error) {
	switch kind {
	case "direct":
		return outbound.Factory{Kind: outbound.Direct}, nil
	case "socks5":
		return outbound.Factory{Kind: outbound.Proxy, ProxyAddr: socks5RelayAddr}, nil
	default:
		return outbound.Factory{}, fmt.Errorf("unknown --udp-outbound kind %q (want 'direct' or 'socks5')", kind)
	}
}

func run(ctx context.Context, args []string, factory outbound.Factory) error {
	cfg, err := config.Load(args)
	if err != nil {
		return err
	}

	if err := procguard.RequireRoot(); err != nil {
		return err
	}
	if err := procguard.RequireFileLimit(ctx, procguard.MinFileLimit); err != nil {
		return err
	}

	resolver, err := pfnat.Open()
	if err != nil {
		return fmt.Errorf("opening packet filter device: %w", err)
	}
	defer resolver.Close()

	sender, err := rawsock.New()
	if err != nil {
		return fmt.Errorf("opening raw IP sender: %w", err)
	}
	defer sender.Close()

	udpListener, err := natrelay.Listen(&net.UDPAddr{IP: cfg.DirectListen.IP, Port: cfg.DirectListen.Port}, resolver)
	if err != nil {
		return fmt.Errorf("opening udp redirect listener on %s: %w", cfg.DirectListen, err)
	}
	defer udpListener.Close()

	directTCPListener, err := net.ListenTCP("tcp", cfg.DirectListen)
	if err != nil {
		return fmt.Errorf("opening direct tcp listener on %s: %w", cfg.DirectListen, err)
	}
	defer directTCPListener.Close()

	proxyTCPListener, err := net.ListenTCP("tcp", cfg.ProxyListen)
	if err != nil {
		return fmt.Errorf("opening proxy tcp listener on %s: %w", cfg.ProxyListen, err)
	}
	defer proxyTCPListener.Close()

	splicer := tcpsplice.New(resolver, cfg.ProxyUpstream.String(), connectionLimit)

	dlog.Infof(ctx, "rustsocks starting: proxy=%s direct=%s upstream=%s", cfg.ProxyListen, cfg.DirectListen, cfg.ProxyUpstream)

	g := dgroup.NewGroup(ctx, dgroup.GroupConfig{EnableSignalHandling: true})

	g.Go("direct-tcp", func(ctx context.Context) error {
		return splicer.RunDirect(ctx, directTCPListener)
	})
	g.Go("proxy-tcp", func(ctx context.Context) error {
		return splicer.RunProxy(ctx, proxyTCPListener)
	})
	g.Go("udp-relay", func(ctx context.Context) error {
		driver := natrelay.NewDriver(ctx, udpListener, factory, sender, natrelay.DefaultExpiry)
		return driver.Run(ctx)
	})

	return g.Wait()
}
