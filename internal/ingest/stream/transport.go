package stream

import (
	"context"
	"net"
	"net/http"
	"time"
)

// deadlineConn re-arms the read deadline before every read, so a stream
// that goes silent for longer than the timeout fails with a timeout error
// while a busy stream never does.
type deadlineConn struct {
	net.Conn
	timeout time.Duration
}

func (c *deadlineConn) Read(b []byte) (int, error) {
	if c.timeout > 0 {
		if err := c.Conn.SetReadDeadline(time.Now().Add(c.timeout)); err != nil {
			return 0, err
		}
	}
	return c.Conn.Read(b)
}

func newHTTPClient(s Settings) *http.Client {
	dialer := &net.Dialer{
		Timeout:   s.ConnectTimeout,
		KeepAlive: 30 * time.Second,
	}

	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			conn, err := dialer.DialContext(ctx, network, addr)
			if err != nil {
				return nil, err
			}
			return &deadlineConn{Conn: conn, timeout: s.ReadTimeout}, nil
		},
		TLSHandshakeTimeout: s.ConnectTimeout,
		// Each stream owns its connection; never hand it back to a pool
		DisableKeepAlives: true,
	}

	// No overall Timeout: the response body is read for as long as the
	// stream stays up.
	return &http.Client{Transport: transport}
}
