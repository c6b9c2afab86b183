// Package proxy builds the dialer used for outbound client connections.
package proxy

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"time"

	xproxy "golang.org/x/net/proxy"
)

// ContextDialer is satisfied by *net.Dialer and by the SOCKS5 dialer from
// golang.org/x/net/proxy.
type ContextDialer interface {
	DialContext(ctx context.Context, network, addr string) (net.Conn, error)
}

// NewDialer returns a direct TCP dialer when socksAddr is empty, or a dialer
// that tunnels through the SOCKS5 proxy at socksAddr. timeout bounds the
// TCP connect to the target (or to the proxy); 0 means no bound.
func NewDialer(socksAddr string, timeout time.Duration) (ContextDialer, error) {
	direct := &net.Dialer{Timeout: timeout}
	if socksAddr == "" {
		return direct, nil
	}

	d, err := xproxy.SOCKS5("tcp", socksAddr, nil, direct)
	if err != nil {
		return nil, fmt.Errorf("proxy: building SOCKS5 dialer for %q: %w", socksAddr, err)
	}

	cd, ok := d.(ContextDialer)
	if !ok {
		return nil, fmt.Errorf("proxy: SOCKS5 dialer for %q does not support contexts", socksAddr)
	}

	slog.Debug("proxy: using SOCKS5", "proxy", socksAddr)
	return cd, nil
}
