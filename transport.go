package forward

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"time"
)

// dialFunc matches net.Dialer.DialContext. It is a transport field so tests
// can script connection failures without a listener.
type dialFunc func(ctx context.Context, network, addr string) (net.Conn, error)

// transport owns at most one live connection to the forward server. It is
// either disconnected (conn == nil) or connected; any write or read error
// tears the connection down, because after a failed I/O the peer's framing
// state is unknown and the stream must never be reused. The transport is not
// safe for concurrent use on its own; the Client serializes access around one
// send attempt at a time.
type transport struct {
	network      string // "tcp", "tls", or "unix"
	addr         string // host:port, or the socket path for "unix"
	dialTimeout  time.Duration
	writeTimeout time.Duration
	skipVerify   bool
	dial         dialFunc
	conn         net.Conn
}

func newTransport(host string, cfg *Config) *transport {
	t := &transport{
		network:      cfg.Network,
		dialTimeout:  cfg.ConnectTimeout,
		writeTimeout: cfg.WriteTimeout,
		skipVerify:   cfg.InsecureSkipVerify,
	}

	// compose addr to the format used by dialers
	if cfg.Network == "unix" {
		t.addr = host
	} else {
		t.addr = fmt.Sprintf("%s:%d", host, cfg.Port)
	}

	t.dial = t.netDial
	return t
}

func (t *transport) netDial(ctx context.Context, network, addr string) (net.Conn, error) {
	var d net.Dialer

	switch network {
	case "tcp", "unix":
		return d.DialContext(ctx, network, addr)
	case "tls":
		tlsDialer := tls.Dialer{
			NetDialer: &d,
			Config:    &tls.Config{InsecureSkipVerify: t.skipVerify},
		}
		return tlsDialer.DialContext(ctx, "tcp", addr)
	default:
		return nil, fmt.Errorf("unsupported forward transport protocol: %s", network)
	}
}

func (t *transport) connected() bool { return t.conn != nil }

// connect dials the server, bounded by the dial timeout. Any previous
// connection must already be torn down.
func (t *transport) connect(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, t.dialTimeout)
	defer cancel()

	conn, err := t.dial(ctx, t.network, t.addr)
	if err != nil {
		return fmt.Errorf("%w: addr: %s: network: %s: %v", ErrConnect, t.addr, t.network, err)
	}
	t.conn = conn
	return nil
}

// writeAll writes the complete buffer or fails. A partial write is treated as
// a full failure and tears down the connection, because the peer cannot be
// assumed to have received a coherent prefix of a framed message.
func (t *transport) writeAll(p []byte) error {
	if t.conn == nil {
		return fmt.Errorf("%w: not connected", ErrWrite)
	}
	if t.writeTimeout > 0 {
		t.conn.SetWriteDeadline(time.Now().Add(t.writeTimeout))
	}
	if _, err := t.conn.Write(p); err != nil {
		t.teardown()
		return fmt.Errorf("%w: %v", ErrWrite, err)
	}
	return nil
}

// read waits until the given deadline for response bytes. Timeouts and I/O
// errors both tear down the connection; a stale partial response must never
// be left for a future caller to read.
func (t *transport) read(p []byte, deadline time.Time) (int, error) {
	if t.conn == nil {
		return 0, fmt.Errorf("%w: not connected", ErrRead)
	}
	t.conn.SetReadDeadline(deadline)
	n, err := t.conn.Read(p)
	if err != nil {
		t.teardown()
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			return n, fmt.Errorf("%w: %v", ErrReadTimeout, err)
		}
		return n, fmt.Errorf("%w: %v", ErrRead, err)
	}
	return n, nil
}

func (t *transport) teardown() {
	if t.conn != nil {
		t.conn.Close()
		t.conn = nil
	}
}

func (t *transport) close() error {
	if t.conn == nil {
		return nil
	}
	err := t.conn.Close()
	t.conn = nil
	return err
}
