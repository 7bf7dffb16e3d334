package transport

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/sheerbytes/fluxcopy/internal/transfer"
	"golang.org/x/net/netutil"
)

const dialTimeout = 5 * time.Second

// TCP carries each transfer session on its own TCP connection.
type TCP struct {
	// SocketBuffer sets SO_RCVBUF and SO_SNDBUF on every connection. Zero keeps the OS default.
	SocketBuffer int
	Logger       *slog.Logger
}

var _ transfer.Transport = (*TCP)(nil)

func (t *TCP) Name() string { return "tcp" }

// Dial connects to addr. The dial itself times out; the established
// connection has no deadlines.
func (t *TCP) Dial(ctx context.Context, addr string) (transfer.Stream, error) {
	d := net.Dialer{Timeout: dialTimeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	t.tune(conn)
	return conn, nil
}

// Listen binds addr. When maxConns is positive, Accept blocks while that
// many connections are open.
func (t *TCP) Listen(addr string, maxConns int) (transfer.Listener, error) {
	raw, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	// Tune below the limiter, which hides the *net.TCPConn.
	var ln net.Listener = &tuningListener{Listener: raw, t: t}
	if maxConns > 0 {
		ln = netutil.LimitListener(ln, maxConns)
	}
	return &tcpListener{ln: ln}, nil
}

func (t *TCP) tune(conn net.Conn) {
	res := ApplyTCPBuffers(conn, t.SocketBuffer, t.SocketBuffer)
	if res.Status == StatusDenied && t.Logger != nil {
		t.Logger.Warn("socket buffer tuning denied", "error", res.Err)
	}
}

type tuningListener struct {
	net.Listener
	t *TCP
}

func (l *tuningListener) Accept() (net.Conn, error) {
	conn, err := l.Listener.Accept()
	if err != nil {
		return nil, err
	}
	l.t.tune(conn)
	return conn, nil
}

type tcpListener struct {
	ln net.Listener
}

func (l *tcpListener) Accept(ctx context.Context) (transfer.Stream, error) {
	conn, err := acceptWithContext(ctx, l.ln)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

func (l *tcpListener) Addr() net.Addr { return l.ln.Addr() }

func (l *tcpListener) Close() error { return l.ln.Close() }

// acceptWithContext closes ln when ctx ends so a blocked Accept returns.
func acceptWithContext(ctx context.Context, ln net.Listener) (net.Conn, error) {
	type res struct {
		conn net.Conn
		err  error
	}
	ch := make(chan res, 1)
	go func() {
		c, err := ln.Accept()
		ch <- res{conn: c, err: err}
	}()
	select {
	case <-ctx.Done():
		_ = ln.Close()
		if r := <-ch; r.conn != nil {
			_ = r.conn.Close()
		}
		return nil, ctx.Err()
	case r := <-ch:
		return r.conn, r.err
	}
}
