package quictransport

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/quic-go/quic-go"
	"github.com/sheerbytes/fluxcopy/internal/transfer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServerConfig(t *testing.T) {
	config, err := ServerConfig()
	require.NoError(t, err)

	require.NotEmpty(t, config.Certificates)
	assert.Contains(t, config.NextProtos, ALPNProtocol)

	cert := config.Certificates[0]
	assert.NotNil(t, cert.PrivateKey)
	assert.NotEmpty(t, cert.Certificate)
}

func TestClientConfig(t *testing.T) {
	config := ClientConfig()
	if !config.InsecureSkipVerify {
		t.Error("ClientConfig InsecureSkipVerify should be true")
	}
	assert.Contains(t, config.NextProtos, ALPNProtocol)
}

func TestDefaultQUICConfig_SingleStream(t *testing.T) {
	cfg := DefaultQUICConfig()
	assert.Equal(t, int64(1), cfg.MaxIncomingStreams)
	assert.LessOrEqual(t, cfg.InitialStreamReceiveWindow, cfg.MaxStreamReceiveWindow)
}

func TestTransport_RoundTrip(t *testing.T) {
	tr := &Transport{}
	ln, err := tr.Listen("127.0.0.1:0", 1)
	require.NoError(t, err)
	defer ln.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
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

	_, err = client.Write([]byte("ping"))
	require.NoError(t, err)

	var server transfer.Stream
	select {
	case server = <-accepted:
	case <-ctx.Done():
		t.Fatal("stream was never accepted")
	}

	buf := make([]byte, 4)
	_, err = io.ReadFull(server, buf)
	require.NoError(t, err)
	assert.Equal(t, "ping", string(buf))

	_, err = server.Write([]byte("pong"))
	require.NoError(t, err)
	_, err = io.ReadFull(client, buf)
	require.NoError(t, err)
	assert.Equal(t, "pong", string(buf))
	assert.NotEmpty(t, transfer.RemoteAddrOf(server))

	require.NoError(t, client.Close())
	server.Close()
}

func TestListener_SilentPeerDoesNotBlockAccept(t *testing.T) {
	tr := &Transport{}
	ln, err := tr.Listen("127.0.0.1:0", 0)
	require.NoError(t, err)
	defer ln.Close()
	addr := ln.Addr().String()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Opens a stream but never writes, so the stream never reaches the listener.
	silent, err := quic.DialAddr(ctx, addr, ClientConfig(), DefaultQUICConfig())
	require.NoError(t, err)
	defer silent.CloseWithError(0, "")
	_, err = silent.OpenStreamSync(ctx)
	require.NoError(t, err)

	first, err := ln.Accept(ctx)
	require.NoError(t, err)

	accepted := make(chan transfer.Stream, 1)
	go func() {
		s, err := ln.Accept(ctx)
		if err == nil {
			accepted <- s
		}
	}()

	client, err := tr.Dial(ctx, addr)
	require.NoError(t, err)
	_, err = client.Write([]byte("ping"))
	require.NoError(t, err)

	var second transfer.Stream
	select {
	case second = <-accepted:
	case <-time.After(5 * time.Second):
		t.Fatal("accept is held up by a peer that never sent data")
	}
	buf := make([]byte, 4)
	_, err = io.ReadFull(second, buf)
	require.NoError(t, err)
	assert.Equal(t, "ping", string(buf))
	require.NoError(t, client.Close())
	second.Close()

	// Closing the silent session unblocks its pending read without lingering.
	readErr := make(chan error, 1)
	go func() {
		_, err := first.Read(make([]byte, 1))
		readErr <- err
	}()
	time.Sleep(20 * time.Millisecond)

	start := time.Now()
	first.Close()
	assert.Less(t, time.Since(start), closeLinger)
	select {
	case err := <-readErr:
		assert.Error(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("read on a closed silent session did not return")
	}
}
