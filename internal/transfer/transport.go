package transfer

import (
	"context"
	"io"
	"net"
)

// Transport establishes the byte streams that carry one transfer session each.
// Implementations exist for TCP and QUIC; the protocol is identical on both.
type Transport interface {
	// Dial opens a new stream to the receiver at addr.
	Dial(ctx context.Context, addr string) (Stream, error)

	// Listen binds addr and returns a Listener producing one Stream per
	// incoming session. maxConns bounds the number of concurrently open
	// streams; zero means unbounded.
	Listen(addr string, maxConns int) (Listener, error)

	// Name returns the transport identifier used in configuration.
	Name() string
}

// Listener accepts incoming transfer sessions.
type Listener interface {
	// Accept blocks until a new session arrives or ctx is done.
	Accept(ctx context.Context) (Stream, error)

	// Addr returns the bound address.
	Addr() net.Addr

	// Close stops accepting. Streams already returned stay open.
	Close() error
}

// Stream is a reliable, ordered, bidirectional byte stream between two peers.
// It is owned by exactly one worker for its whole lifetime.
type Stream interface {
	io.Reader
	io.Writer
	// Close releases the stream. After Close is called, Read and Write operations
	// will return errors.
	Close() error
}

// RemoteAddresser exposes the peer address when the transport knows it.
type RemoteAddresser interface {
	RemoteAddr() net.Addr
}

// RemoteAddrOf returns the remote address of s as a string, or "" when unknown.
func RemoteAddrOf(s Stream) string {
	if ra, ok := s.(RemoteAddresser); ok && ra.RemoteAddr() != nil {
		return ra.RemoteAddr().String()
	}
	return ""
}
