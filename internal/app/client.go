package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sheerbytes/fluxcopy/internal/bench"
	"github.com/sheerbytes/fluxcopy/internal/progress"
	"github.com/sheerbytes/fluxcopy/internal/transfer"
	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"
)

// ErrNoFiles is returned when a client run is started with nothing to send.
var ErrNoFiles = errors.New("no files to send")

// ClientOptions configures a sending run.
type ClientOptions struct {
	Addr        string
	Concurrency int
	ChunkSize   int

	// ProgressInterval is the period of the "progress" log line; 0 disables it.
	ProgressInterval time.Duration
}

// Client sends a set of files to one receiver over several connections.
type Client struct {
	transport transfer.Transport
	fs        afero.Fs
	opts      ClientOptions
	log       *slog.Logger
	now       func() time.Time
	meter     *progress.Meter
}

// Report is the outcome of a client run.
type Report struct {
	Requested int
	Files     int
	Results   []transfer.SendResult
	Summary   bench.Summary
}

// Connections is the number of workers that were started.
func (r Report) Connections() int { return len(r.Results) }

// Confirmed counts files the receiver acknowledged with a success status.
func (r Report) Confirmed() int {
	n := 0
	for _, res := range r.Results {
		n += res.Confirmed
	}
	return n
}

// Failed returns the results of workers that did not finish their assignment.
func (r Report) Failed() []transfer.SendResult {
	var out []transfer.SendResult
	for _, res := range r.Results {
		if res.Err != nil {
			out = append(out, res)
		}
	}
	return out
}

// OK reports whether every file was confirmed.
func (r Report) OK() bool {
	return r.Files > 0 && r.Confirmed() == r.Files
}

// NewClient builds a client that dials opts.Addr with t and reads sources from fsys.
func NewClient(t transfer.Transport, fsys afero.Fs, opts ClientOptions, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Client{transport: t, fs: fsys, opts: opts, log: logger, now: time.Now, meter: progress.NewMeter()}
}

// Run partitions files across connections, runs one worker per connection
// and waits for all of them. A failing worker does not stop the others; its
// error is kept in its SendResult.
func (c *Client) Run(ctx context.Context, files []transfer.FileTask) (Report, error) {
	report := Report{Requested: c.opts.Concurrency, Files: len(files)}
	if len(files) == 0 {
		return report, ErrNoFiles
	}

	assignments := transfer.Partition(files, c.opts.Concurrency)
	var total int64
	for _, f := range files {
		total += f.Size
	}
	c.log.Info("starting transfer",
		"addr", c.opts.Addr,
		"transport", c.transport.Name(),
		"files", len(files),
		"bytes", total,
		"requested_concurrency", c.opts.Concurrency,
		"concurrency", len(assignments),
	)

	results := make([]transfer.SendResult, len(assignments))
	start := c.now()
	c.meter.Start(total)
	if c.opts.ProgressInterval > 0 {
		pt := newProgressTicker(c.meter, c.opts.ProgressInterval, c.log)
		defer pt.Stop()
	}

	// No group context: a failing worker must not cancel its siblings.
	var g errgroup.Group
	g.SetLimit(len(assignments))
	for i, a := range assignments {
		g.Go(func() error {
			results[i] = c.runWorker(ctx, a)
			if err := results[i].Err; err != nil {
				return fmt.Errorf("worker %d: %w", a.Index, err)
			}
			return nil
		})
	}
	waitErr := g.Wait()

	var done int64
	for _, res := range results {
		done += res.Bytes
	}
	report.Results = results
	report.Summary = bench.Summarize(start, c.now(), done, total)

	c.log.Info("transfer finished", report.Summary.Attrs()...)
	c.log.Info(benchSummaryLine("SEND", report.Summary, len(assignments)))
	if waitErr != nil {
		c.log.Warn("transfer incomplete", "failed_workers", len(report.Failed()), "first_error", waitErr)
	}
	for _, res := range report.Failed() {
		c.log.Warn("worker failed",
			"worker", res.Worker,
			"session", res.Session,
			"confirmed", res.Confirmed,
			"assigned", res.Assigned,
			"error", res.Err,
		)
	}
	return report, nil
}

func (c *Client) runWorker(ctx context.Context, a transfer.Assignment) transfer.SendResult {
	session := newSessionID()
	stream, err := c.transport.Dial(ctx, c.opts.Addr)
	if err != nil {
		c.log.Error("connection failed", "worker", a.Index, "session", session, "addr", c.opts.Addr, "error", err)
		return transfer.SendResult{
			Worker:   a.Index,
			Session:  session,
			Assigned: len(a.Tasks),
			Err:      fmt.Errorf("dial %s: %w", c.opts.Addr, err),
		}
	}
	defer stream.Close()
	// Cancellation must also reach a worker blocked on the peer.
	stop := context.AfterFunc(ctx, func() { _ = stream.Close() })
	defer stop()

	c.log.Debug("connection established", "worker", a.Index, "session", session, "remote", transfer.RemoteAddrOf(stream))
	return transfer.SendAssignment(ctx, stream, c.fs, a, transfer.SendOptions{
		ChunkSize: c.opts.ChunkSize,
		Session:   session,
		Logger:    c.log,
		Progress:  c.meter.Add,
	})
}
