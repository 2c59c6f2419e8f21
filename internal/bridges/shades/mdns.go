package shades

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/pion/mdns/v2"
	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"
)

// defaultMDNSTimeout bounds one multicast DNS query.
const defaultMDNSTimeout = 4 * time.Second

// MDNSResolver resolves .local gateway hostnames with multicast DNS
// queries. Each Resolve opens short-lived multicast listeners, queries,
// and tears them down; elections are rare enough that connection reuse
// is not worth the lifecycle management.
type MDNSResolver struct {
	timeout time.Duration
}

// NewMDNSResolver creates a resolver with the given per-query timeout.
// A non-positive timeout selects the default.
func NewMDNSResolver(timeout time.Duration) *MDNSResolver {
	if timeout <= 0 {
		timeout = defaultMDNSTimeout
	}
	return &MDNSResolver{timeout: timeout}
}

// Resolve queries the local network for the host's address.
func (r *MDNSResolver) Resolve(ctx context.Context, host string) (string, error) {
	addr4, err := net.ResolveUDPAddr("udp4", mdns.DefaultAddressIPv4)
	if err != nil {
		return "", fmt.Errorf("resolving mdns udp4 address: %w", err)
	}
	l4, err := net.ListenUDP("udp4", addr4)
	if err != nil {
		return "", fmt.Errorf("listening udp4 for mdns: %w", err)
	}

	// IPv6 is best-effort; v4-only hosts still resolve.
	var p6 *ipv6.PacketConn
	if addr6, err := net.ResolveUDPAddr("udp6", mdns.DefaultAddressIPv6); err == nil {
		if l6, err := net.ListenUDP("udp6", addr6); err == nil {
			p6 = ipv6.NewPacketConn(l6)
		}
	}

	conn, err := mdns.Server(ipv4.NewPacketConn(l4), p6, &mdns.Config{})
	if err != nil {
		l4.Close()
		return "", fmt.Errorf("starting mdns listener: %w", err)
	}
	defer conn.Close()

	qctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	_, src, err := conn.Query(qctx, host)
	if err != nil {
		return "", fmt.Errorf("querying %q: %w", host, err)
	}
	return src.String(), nil
}
