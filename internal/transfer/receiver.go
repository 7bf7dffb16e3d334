package transfer

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/sheerbytes/fluxcopy/internal/bufpool"
	"github.com/spf13/afero"
)

// TimestampLayout formats the receipt time sent with a successful ack.
const TimestampLayout = "15:04:05.000000000"

// ReceiveOptions configures a receiver worker.
type ReceiveOptions struct {
	OutDir string
	// StrictNames refuses names containing path separators or directory
	// references. When false, names are joined to OutDir unchecked.
	StrictNames bool
	ChunkSize   int
	Session     string
	Logger      *slog.Logger
	Now         func() time.Time
}

// ReceiveResult is the outcome of one receiver worker.
type ReceiveResult struct {
	Session  string
	Declared uint64
	Received int // records fully consumed, including refused ones
	Verified int // records acknowledged with StatusOK
	Bytes    int64
	Err      error
}

// ReceiveSession reads the declared file count from s and then that many
// records, writing each payload under opts.OutDir. A file is acknowledged
// only when its checksum matches; a mismatch gets StatusChecksumMismatch and
// a refused name gets StatusBadName. The caller owns s and closes it.
func ReceiveSession(ctx context.Context, s Stream, fsys afero.Fs, opts ReceiveOptions) ReceiveResult {
	res := ReceiveResult{Session: opts.Session}
	log := loggerOrDiscard(opts.Logger).With("session", opts.Session)
	if opts.Now == nil {
		opts.Now = time.Now
	}
	chunkSize := opts.ChunkSize
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	pool := bufpool.For(chunkSize)
	buf := pool.Get()
	defer pool.Put(buf)

	r := bufio.NewReaderSize(contextReader{ctx: ctx, r: s}, chunkSize)
	w := bufio.NewWriter(s)

	count, err := ReadCount(r)
	if err != nil {
		res.Err = err
		log.Error("session failed", "error", err)
		return res
	}
	res.Declared = count
	log.Info("session started", "files", count)

	for i := uint64(0); i < count; i++ {
		rec, err := receiveFile(r, w, fsys, opts, buf, log)
		if err != nil {
			res.Err = err
			log.Error("session failed", "received", res.Received, "error", err)
			return res
		}
		res.Received++
		if rec.verified {
			res.Verified++
			res.Bytes += int64(rec.length)
		}
	}

	log.Info("session finished", "received", res.Received, "verified", res.Verified, "bytes", res.Bytes)
	return res
}

type received struct {
	length   uint64
	verified bool
}

func receiveFile(r io.Reader, w *bufio.Writer, fsys afero.Fs, opts ReceiveOptions, buf []byte, log *slog.Logger) (received, error) {
	h, err := ReadHeader(r)
	if err != nil {
		return received{}, err
	}
	rec := received{length: h.Length}
	log.Info("reading file", "file", h.Name, "size", h.Length)

	if opts.StrictNames {
		if err := validateFilename(h.Name); err != nil {
			if err := discardRecord(r, h, buf); err != nil {
				return rec, err
			}
			log.Warn("file refused", "file", h.Name, "error", err)
			return rec, sendAck(w, Ack{Status: StatusBadName})
		}
	}

	path := filepath.Join(opts.OutDir, h.Name)
	sum, err := writePayload(r, fsys, path, h.Length, buf)
	if err != nil {
		return rec, err
	}
	want, err := ReadChecksum(r)
	if err != nil {
		return rec, err
	}

	rec.verified = sum == want
	log.Info("file received",
		"file", h.Name,
		"size", h.Length,
		"checksum", sum,
		"matched", rec.verified,
	)
	if !rec.verified {
		return rec, sendAck(w, Ack{Status: StatusChecksumMismatch})
	}
	return rec, sendAck(w, Ack{Status: StatusOK, Timestamp: opts.Now().Format(TimestampLayout)})
}

// writePayload copies exactly n bytes into a freshly created file at path and
// returns their checksum. The file is closed on every path.
func writePayload(r io.Reader, fsys afero.Fs, path string, n uint64, buf []byte) (sum uint32, err error) {
	f, err := fsys.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return 0, fmt.Errorf("failed to create output file: %w", err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("failed to close output file: %w", cerr)
		}
	}()

	cw := NewChecksumWriter(f)
	if _, err := CopyExact(cw, r, n, buf); err != nil {
		return 0, err
	}
	return cw.Sum32(), nil
}

// discardRecord consumes the payload and checksum of a refused record so the
// next header starts at the right offset.
func discardRecord(r io.Reader, h Header, buf []byte) error {
	if _, err := CopyExact(io.Discard, r, h.Length, buf); err != nil {
		return err
	}
	_, err := ReadChecksum(r)
	return err
}

func sendAck(w *bufio.Writer, a Ack) error {
	if err := WriteAck(w, a); err != nil {
		return err
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("failed to flush ack: %w", err)
	}
	return nil
}
