// Package keepalive wraps TCP listeners and dialers to enable keep-alive
// probes, so dead peers (e.g. a client whose network vanished mid-query)
// are eventually reaped rather than pinning connection state forever.
package keepalive

import (
	"context"
	"net"
	"time"
)

// Period between keep-alive probes of accepted and dialed connections.
const Period = 3 * time.Minute

// Dialer is a net.Dialer with keep-alive enabled. Clients of the server
// should prefer it over a zero-valued Dialer.
var Dialer = &net.Dialer{
	Timeout:   30 * time.Second,
	KeepAlive: Period,
}

// DialerFunc dials |addr| with |ctx| using Dialer.
func DialerFunc(ctx context.Context, addr string) (net.Conn, error) {
	return Dialer.DialContext(ctx, "tcp", addr)
}

// TCPListener sets TCP keep-alive timeouts on accepted connections.
type TCPListener struct {
	*net.TCPListener
}

func (ln TCPListener) Accept() (net.Conn, error) {
	var tc, err = ln.AcceptTCP()
	if err != nil {
		return nil, err
	}
	tc.SetKeepAlive(true)
	tc.SetKeepAlivePeriod(Period)
	return tc, nil
}
