package transfer

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
)

// ErrNoListener is returned by MockTransport.Dial when nothing listens on addr.
var ErrNoListener = errors.New("connection refused")

// MockTransport is an in-memory Transport for tests. Each dial produces a
// net.Pipe pair; addresses are plain names local to the transport value.
type MockTransport struct {
	// WrapDial, if set, wraps the n-th dialed stream (1-based) before it is
	// returned to the caller.
	WrapDial func(n int, s Stream) Stream

	mu        sync.Mutex
	listeners map[string]*mockListener
	dials     int
}

var _ Transport = (*MockTransport)(nil)

func NewMockTransport() *MockTransport {
	return &MockTransport{listeners: make(map[string]*mockListener)}
}

func (t *MockTransport) Name() string { return "mock" }

// Dial blocks until the listener on addr accepts the stream or ctx is done.
func (t *MockTransport) Dial(ctx context.Context, addr string) (Stream, error) {
	t.mu.Lock()
	l, ok := t.listeners[addr]
	t.dials++
	n := t.dials
	t.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("dial %s: %w", addr, ErrNoListener)
	}

	local, remote := net.Pipe()
	select {
	case l.incoming <- remote:
	case <-l.closed:
		local.Close()
		remote.Close()
		return nil, fmt.Errorf("dial %s: %w", addr, ErrNoListener)
	case <-ctx.Done():
		local.Close()
		remote.Close()
		return nil, ctx.Err()
	}

	var s Stream = local
	if t.WrapDial != nil {
		s = t.WrapDial(n, s)
	}
	return s, nil
}

// Listen registers addr. maxConns bounds the streams open at once.
func (t *MockTransport) Listen(addr string, maxConns int) (Listener, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, exists := t.listeners[addr]; exists {
		return nil, fmt.Errorf("listen %s: address already in use", addr)
	}
	l := &mockListener{
		t:        t,
		addr:     mockAddr(addr),
		incoming: make(chan net.Conn),
		closed:   make(chan struct{}),
	}
	if maxConns > 0 {
		l.slots = make(chan struct{}, maxConns)
	}
	t.listeners[addr] = l
	return l, nil
}

type mockListener struct {
	t         *MockTransport
	addr      mockAddr
	incoming  chan net.Conn
	closed    chan struct{}
	closeOnce sync.Once
	slots     chan struct{}
}

func (l *mockListener) Accept(ctx context.Context) (Stream, error) {
	if l.slots != nil {
		select {
		case l.slots <- struct{}{}:
		case <-l.closed:
			return nil, net.ErrClosed
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	select {
	case conn := <-l.incoming:
		return &mockStream{Conn: conn, slots: l.slots}, nil
	case <-l.closed:
		l.release()
		return nil, net.ErrClosed
	case <-ctx.Done():
		l.release()
		return nil, ctx.Err()
	}
}

func (l *mockListener) release() {
	if l.slots != nil {
		<-l.slots
	}
}

func (l *mockListener) Addr() net.Addr { return l.addr }

func (l *mockListener) Close() error {
	l.closeOnce.Do(func() {
		close(l.closed)
		l.t.mu.Lock()
		delete(l.t.listeners, string(l.addr))
		l.t.mu.Unlock()
	})
	return nil
}

// mockStream is the accepting end of a pipe; closing it frees a slot.
type mockStream struct {
	net.Conn
	slots chan struct{}
	once  sync.Once
}

func (s *mockStream) Close() error {
	err := s.Conn.Close()
	s.once.Do(func() {
		if s.slots != nil {
			<-s.slots
		}
	})
	return err
}

type mockAddr string

func (a mockAddr) Network() string { return "mock" }
func (a mockAddr) String() string  { return string(a) }
