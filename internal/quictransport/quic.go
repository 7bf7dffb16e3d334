package quictransport

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"fmt"
	"log/slog"
	"math/big"
	"net"
	"sync"
	"time"

	"github.com/quic-go/quic-go"
	"github.com/sheerbytes/fluxcopy/internal/transfer"
)

const (
	// ALPNProtocol is the Application-Layer Protocol Negotiation identifier for fluxcopy over QUIC.
	ALPNProtocol = "fluxcopy-v1"

	// closeLinger bounds how long the accepting side waits for the dialer to
	// hang up first, so the last ack is delivered before the connection closes.
	closeLinger = 2 * time.Second
)

// ServerConfig returns a TLS configuration with a fresh self-signed certificate.
// The certificate is never verified by clients; it exists because QUIC requires TLS.
func ServerConfig() (*tls.Config, error) {
	cert, err := generateSelfSignedCert()
	if err != nil {
		return nil, fmt.Errorf("failed to generate self-signed certificate: %w", err)
	}
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		NextProtos:   []string{ALPNProtocol},
	}, nil
}

// ClientConfig returns a TLS configuration for dialing.
// Uses InsecureSkipVerify since the transfer is not authenticated.
func ClientConfig() *tls.Config {
	return &tls.Config{
		InsecureSkipVerify: true,
		NextProtos:         []string{ALPNProtocol},
	}
}

// DefaultQUICConfig returns the QUIC settings used on both sides: one stream
// per connection and large receive windows for bulk payloads.
func DefaultQUICConfig() *quic.Config {
	return &quic.Config{
		KeepAlivePeriod:                10 * time.Second,
		MaxIdleTimeout:                 30 * time.Second,
		MaxIncomingStreams:             1,
		InitialConnectionReceiveWindow: 2 * 1024 * 1024,
		MaxConnectionReceiveWindow:     64 * 1024 * 1024,
		InitialStreamReceiveWindow:     2 * 1024 * 1024,
		MaxStreamReceiveWindow:         64 * 1024 * 1024,
	}
}

func generateSelfSignedCert() (tls.Certificate, error) {
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return tls.Certificate{}, err
	}

	template := x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{Organization: []string{"fluxcopy"}},
		NotBefore:             time.Now().Add(-time.Minute),
		NotAfter:              time.Now().Add(365 * 24 * time.Hour),
		KeyUsage:              x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
	}

	certDER, err := x509.CreateCertificate(rand.Reader, &template, &template, &priv.PublicKey, priv)
	if err != nil {
		return tls.Certificate{}, err
	}

	return tls.Certificate{
		Certificate: [][]byte{certDER},
		PrivateKey:  priv,
	}, nil
}

// Transport carries each transfer session on its own QUIC connection with a
// single bidirectional stream.
type Transport struct {
	Logger *slog.Logger
}

var _ transfer.Transport = (*Transport)(nil)

func (t *Transport) Name() string { return "quic" }

// Dial connects to addr and opens the session stream.
func (t *Transport) Dial(ctx context.Context, addr string) (transfer.Stream, error) {
	conn, err := quic.DialAddr(ctx, addr, ClientConfig(), DefaultQUICConfig())
	if err != nil {
		return nil, fmt.Errorf("QUIC dial failed: %w", err)
	}
	str, err := conn.OpenStreamSync(ctx)
	if err != nil {
		_ = conn.CloseWithError(0, "open stream failed")
		return nil, fmt.Errorf("failed to open stream: %w", err)
	}
	return newDialedStream(conn, str), nil
}

// Listen binds a UDP socket on addr. When maxConns is positive, Accept
// blocks while that many sessions are open.
func (t *Transport) Listen(addr string, maxConns int) (transfer.Listener, error) {
	tlsConf, err := ServerConfig()
	if err != nil {
		return nil, err
	}
	ln, err := quic.ListenAddr(addr, tlsConf, DefaultQUICConfig())
	if err != nil {
		return nil, fmt.Errorf("QUIC listen failed: %w", err)
	}
	if t.Logger != nil {
		t.Logger.Info("QUIC listener created", "local_addr", ln.Addr())
	}
	l := &listener{ln: ln}
	if maxConns > 0 {
		l.slots = make(chan struct{}, maxConns)
	}
	return l, nil
}

type listener struct {
	ln    *quic.Listener
	slots chan struct{}
}

// Accept returns once a connection completes its handshake. The stream itself
// is accepted on first use, so a peer that never sends only blocks its own
// session.
func (l *listener) Accept(ctx context.Context) (transfer.Stream, error) {
	release := func() {}
	if l.slots != nil {
		select {
		case l.slots <- struct{}{}:
			release = func() { <-l.slots }
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	conn, err := l.ln.Accept(ctx)
	if err != nil {
		release()
		return nil, err
	}
	return &stream{conn: conn, release: release, ready: make(chan struct{})}, nil
}

func (l *listener) Addr() net.Addr { return l.ln.Addr() }

func (l *listener) Close() error { return l.ln.Close() }

type stream struct {
	conn    *quic.Conn
	dialer  bool
	release func()

	// str is set by the dialer up front, or on the accepting side by the
	// first Read or Write. ready is closed once it is known.
	acceptOnce sync.Once
	ready      chan struct{}
	str        *quic.Stream
	strErr     error

	closeOnce sync.Once
	closeErr  error
}

func newDialedStream(conn *quic.Conn, str *quic.Stream) *stream {
	s := &stream{conn: conn, dialer: true, str: str, ready: make(chan struct{})}
	s.acceptOnce.Do(func() { close(s.ready) })
	return s
}

// get returns the stream, waiting for the peer to open it if needed. The wait
// ends when the peer sends its first bytes or the connection closes.
func (s *stream) get() (*quic.Stream, error) {
	s.acceptOnce.Do(func() {
		str, err := s.conn.AcceptStream(s.conn.Context())
		if err != nil {
			s.strErr = fmt.Errorf("failed to accept stream: %w", err)
		}
		s.str = str
		close(s.ready)
	})
	return s.str, s.strErr
}

func (s *stream) Read(p []byte) (int, error) {
	str, err := s.get()
	if err != nil {
		return 0, err
	}
	return str.Read(p)
}

func (s *stream) Write(p []byte) (int, error) {
	str, err := s.get()
	if err != nil {
		return 0, err
	}
	return str.Write(p)
}

func (s *stream) RemoteAddr() net.Addr { return s.conn.RemoteAddr() }

// Close finishes the send side and tears down the connection. The accepting
// side waits briefly for the dialer to close first. A stream the peer never
// opened is dropped without waiting.
func (s *stream) Close() error {
	s.closeOnce.Do(func() {
		select {
		case <-s.ready:
			if s.str != nil {
				_ = s.str.Close()
				if !s.dialer {
					select {
					case <-s.conn.Context().Done():
					case <-time.After(closeLinger):
					}
				}
			}
		default:
		}
		s.closeErr = s.conn.CloseWithError(0, "")
		if s.release != nil {
			s.release()
		}
	})
	return s.closeErr
}
