package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sheerbytes/fluxcopy/internal/transfer"
	"github.com/spf13/afero"
)

// acceptBackoff is the pause after a transient accept error.
const acceptBackoff = 50 * time.Millisecond

// ServerOptions configures the receiver.
type ServerOptions struct {
	OutDir      string
	StrictNames bool
	ChunkSize   int
}

// ServerStats is a snapshot of the receiver counters.
type ServerStats struct {
	Active         int64  `json:"active"`
	Accepted       uint64 `json:"accepted"`
	SessionsFailed uint64 `json:"sessions_failed"`
	FilesReceived  uint64 `json:"files_received"`
	FilesVerified  uint64 `json:"files_verified"`
	BytesVerified  int64  `json:"bytes_verified"`
}

// Server accepts connections and runs one receiving session per connection.
type Server struct {
	fs   afero.Fs
	opts ServerOptions
	log  *slog.Logger

	mu     sync.Mutex
	active map[transfer.Stream]struct{}
	wg     sync.WaitGroup

	accepted atomic.Uint64
	failed   atomic.Uint64
	received atomic.Uint64
	verified atomic.Uint64
	bytes    atomic.Int64
	live     atomic.Int64
}

// NewServer builds a receiver writing into opts.OutDir on fsys.
func NewServer(fsys afero.Fs, opts ServerOptions, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Server{
		fs:     fsys,
		opts:   opts,
		log:    logger,
		active: make(map[transfer.Stream]struct{}),
	}
}

// CheckOutDir verifies that dir exists and is a directory.
func CheckOutDir(fsys afero.Fs, dir string) error {
	ok, err := afero.IsDir(fsys, dir)
	if err != nil {
		return fmt.Errorf("output directory %s: %w", dir, err)
	}
	if !ok {
		return fmt.Errorf("output directory %s is not a directory", dir)
	}
	return nil
}

// Serve accepts streams from ln until ctx is cancelled or ln fails. On
// shutdown it closes ln and every active stream, then waits for the session
// goroutines to return. It returns nil after a shutdown requested via ctx.
func (s *Server) Serve(ctx context.Context, ln transfer.Listener) error {
	s.log.Info("listening", "addr", ln.Addr().String(), "out", s.opts.OutDir, "strict_names", s.opts.StrictNames)

	var serveErr error
	for {
		stream, err := ln.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			if errors.Is(err, net.ErrClosed) {
				serveErr = err
				break
			}
			s.log.Warn("accept failed", "error", err)
			select {
			case <-ctx.Done():
			case <-time.After(acceptBackoff):
			}
			continue
		}
		s.accepted.Add(1)
		if !s.track(stream) {
			_ = stream.Close()
			break
		}
		s.wg.Add(1)
		go s.handle(ctx, stream)
	}

	_ = ln.Close()
	s.closeActive()
	s.wg.Wait()

	st := s.Stats()
	s.log.Info("server stopped",
		"accepted", st.Accepted,
		"sessions_failed", st.SessionsFailed,
		"files_verified", st.FilesVerified,
		"bytes_verified", st.BytesVerified,
	)
	return serveErr
}

// Stats returns a snapshot of the counters.
func (s *Server) Stats() ServerStats {
	return ServerStats{
		Active:         s.live.Load(),
		Accepted:       s.accepted.Load(),
		SessionsFailed: s.failed.Load(),
		FilesReceived:  s.received.Load(),
		FilesVerified:  s.verified.Load(),
		BytesVerified:  s.bytes.Load(),
	}
}

func (s *Server) handle(ctx context.Context, stream transfer.Stream) {
	defer s.wg.Done()
	defer s.untrack(stream)

	session := newSessionID()
	s.log.Info("connection established", "session", session, "remote", transfer.RemoteAddrOf(stream))

	res := transfer.ReceiveSession(ctx, stream, s.fs, transfer.ReceiveOptions{
		OutDir:      s.opts.OutDir,
		StrictNames: s.opts.StrictNames,
		ChunkSize:   s.opts.ChunkSize,
		Session:     session,
		Logger:      s.log,
	})
	s.received.Add(uint64(res.Received))
	s.verified.Add(uint64(res.Verified))
	s.bytes.Add(res.Bytes)
	if res.Err != nil {
		s.failed.Add(1)
	}
}

// track registers stream as active. It reports false once shutdown has begun.
func (s *Server) track(stream transfer.Stream) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == nil {
		return false
	}
	s.active[stream] = struct{}{}
	s.live.Add(1)
	return true
}

func (s *Server) untrack(stream transfer.Stream) {
	s.mu.Lock()
	if s.active != nil {
		delete(s.active, stream)
	}
	s.mu.Unlock()
	s.live.Add(-1)
	_ = stream.Close()
}

func (s *Server) closeActive() {
	s.mu.Lock()
	active := s.active
	s.active = nil
	s.mu.Unlock()
	// A stream's Close may linger, so all of them are closed at once.
	var wg sync.WaitGroup
	for stream := range active {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = stream.Close()
		}()
	}
	wg.Wait()
}
