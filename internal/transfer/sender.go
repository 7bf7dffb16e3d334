package transfer

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/sheerbytes/fluxcopy/internal/bufpool"
	"github.com/spf13/afero"
)

// SendOptions configures a sender worker.
type SendOptions struct {
	ChunkSize int
	Session   string
	Logger    *slog.Logger
	// Progress, if set, is called with the number of payload bytes read from
	// each source chunk. It may be called from several workers at once.
	Progress func(n int)
}

// SendResult is the outcome of one sender worker.
type SendResult struct {
	Worker    int
	Session   string
	Assigned  int
	Confirmed int
	Rejected  int
	Bytes     int64 // sum of sizes acknowledged with StatusOK
	Err       error
}

// SendAssignment transmits every task of a over s, in order, and waits for an
// acknowledgment after each file. Only files acknowledged with StatusOK count
// towards Bytes. The first stream or file error aborts the remaining tasks;
// the caller owns s and closes it.
func SendAssignment(ctx context.Context, s Stream, fsys afero.Fs, a Assignment, opts SendOptions) SendResult {
	res := SendResult{Worker: a.Index, Session: opts.Session, Assigned: len(a.Tasks)}
	if len(a.Tasks) == 0 {
		return res
	}

	log := loggerOrDiscard(opts.Logger).With("worker", a.Index, "session", opts.Session)
	chunkSize := opts.ChunkSize
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	pool := bufpool.For(chunkSize)
	buf := pool.Get()
	defer pool.Put(buf)

	started := time.Now()
	log.Info("worker started", "files", len(a.Tasks), "bytes", a.TotalBytes())

	w := bufio.NewWriterSize(s, chunkSize)
	r := bufio.NewReader(s)

	if err := WriteCount(w, uint64(len(a.Tasks))); err != nil {
		res.Err = err
		log.Error("transfer aborted", "error", err)
		return res
	}

	for _, task := range a.Tasks {
		if err := ctx.Err(); err != nil {
			res.Err = err
			break
		}
		ack, err := sendFile(ctx, w, r, fsys, task, buf, opts.Progress, log)
		if err != nil {
			res.Err = err
			log.Error("transfer aborted", "file", task.Name, "error", err)
			break
		}
		if ack.OK() {
			res.Confirmed++
			res.Bytes += task.Size
			log.Info("file received by peer", "file", task.Name, "at", ack.Timestamp)
			continue
		}
		res.Rejected++
		log.Warn("file not confirmed", "file", task.Name, "status", ack.Status)
	}

	log.Info("worker finished",
		"confirmed", res.Confirmed,
		"rejected", res.Rejected,
		"bytes", res.Bytes,
		"duration", time.Since(started).Round(time.Millisecond),
	)
	return res
}

func sendFile(ctx context.Context, w *bufio.Writer, r io.Reader, fsys afero.Fs, task FileTask, buf []byte, progress func(int), log *slog.Logger) (Ack, error) {
	f, err := fsys.Open(task.Path)
	if err != nil {
		return Ack{}, fmt.Errorf("failed to open file: %w", err)
	}
	defer f.Close()

	log.Info("sending file", "file", task.Name, "size", task.Size)

	if err := WriteHeader(w, Header{Length: uint64(task.Size), Name: task.Name}); err != nil {
		return Ack{}, err
	}

	var src io.Reader = contextReader{ctx: ctx, r: f}
	if progress != nil {
		src = progressReader{r: src, fn: progress}
	}
	cr := NewChecksumReader(src)
	if _, err := CopyExact(w, cr, uint64(task.Size), buf); err != nil {
		return Ack{}, fmt.Errorf("failed to stream %s: %w", task.Name, err)
	}
	sum := cr.Sum32()
	if err := WriteChecksum(w, sum); err != nil {
		return Ack{}, err
	}
	// The ack read below blocks until the peer has the whole record.
	if err := w.Flush(); err != nil {
		return Ack{}, fmt.Errorf("failed to flush stream: %w", err)
	}
	log.Info("sent file", "file", task.Name, "size", task.Size, "checksum", sum)

	return ReadAck(r)
}

// contextReader fails reads once ctx is done.
type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}

type progressReader struct {
	r  io.Reader
	fn func(int)
}

func (p progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 {
		p.fn(n)
	}
	return n, err
}

func loggerOrDiscard(l *slog.Logger) *slog.Logger {
	if l == nil {
		return slog.New(slog.DiscardHandler)
	}
	return l
}
