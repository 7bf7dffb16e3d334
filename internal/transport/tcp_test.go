package transport

import (
	"context"
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"github.com/sheerbytes/fluxcopy/internal/transfer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTCP_DialAccept(t *testing.T) {
	tr := &TCP{SocketBuffer: 256 * 1024}
	ln, err := tr.Listen("127.0.0.1:0", 0)
	require.NoError(t, err)
	defer ln.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	accepted := make(chan transfer.Stream, 1)
	go func() {
		s, err := ln.Accept(ctx)
		if err == nil {
			accepted <- s
		}
	}()

	client, err := tr.Dial(ctx, ln.Addr().String())
	require.NoError(t, err)
	defer client.Close()

	server := <-accepted
	defer server.Close()

	_, err = client.Write([]byte("ping"))
	require.NoError(t, err)
	buf := make([]byte, 4)
	_, err = io.ReadFull(server, buf)
	require.NoError(t, err)
	assert.Equal(t, "ping", string(buf))
	assert.NotEmpty(t, transfer.RemoteAddrOf(server))
}

func TestTCP_AcceptHonoursContext(t *testing.T) {
	tr := &TCP{}
	ln, err := tr.Listen("127.0.0.1:0", 0)
	require.NoError(t, err)
	defer ln.Close()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	_, err = ln.Accept(ctx)
	assert.True(t, errors.Is(err, context.Canceled), "got %v", err)
}

func TestTCP_MaxConnsBlocksAccept(t *testing.T) {
	tr := &TCP{}
	ln, err := tr.Listen("127.0.0.1:0", 1)
	require.NoError(t, err)
	defer ln.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c1, err := tr.Dial(ctx, ln.Addr().String())
	require.NoError(t, err)
	defer c1.Close()
	c2, err := tr.Dial(ctx, ln.Addr().String())
	require.NoError(t, err)
	defer c2.Close()

	first, err := ln.Accept(ctx)
	require.NoError(t, err)

	second := make(chan transfer.Stream, 1)
	go func() {
		s, err := ln.Accept(ctx)
		if err == nil {
			second <- s
		}
	}()

	select {
	case <-second:
		t.Fatal("second connection accepted while the limit was reached")
	case <-time.After(100 * time.Millisecond):
	}

	require.NoError(t, first.Close())

	select {
	case s := <-second:
		s.Close()
	case <-ctx.Done():
		t.Fatal("second connection never accepted after a slot was freed")
	}
}

func TestApplyTCPBuffers(t *testing.T) {
	assert.Equal(t, StatusSkip, ApplyTCPBuffers(nil, 0, 0).Status)

	p1, p2 := net.Pipe()
	defer p1.Close()
	defer p2.Close()
	assert.Equal(t, StatusNA, ApplyTCPBuffers(p1, 1024, 1024).Status)
}

func TestClampTCPBuffer(t *testing.T) {
	if got := clampTCPBuffer(1); got != minTCPBuffer {
		t.Fatalf("expected clamp to min, got %d", got)
	}
	if got := clampTCPBuffer(maxTCPBuffer + 1); got != maxTCPBuffer {
		t.Fatalf("expected clamp to max, got %d", got)
	}
	if got := clampTCPBuffer(1 << 20); got != 1<<20 {
		t.Fatalf("expected in-range value to stay, got %d", got)
	}
}
