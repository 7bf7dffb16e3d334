package app

import (
	"log/slog"
	"sync"
	"time"

	"github.com/sheerbytes/fluxcopy/internal/progress"
)

// progressTicker logs the meter at a fixed interval until stopped.
type progressTicker struct {
	meter  *progress.Meter
	log    *slog.Logger
	ticker *time.Ticker
	done   chan struct{}
	exited chan struct{}
	once   sync.Once
}

func newProgressTicker(meter *progress.Meter, interval time.Duration, log *slog.Logger) *progressTicker {
	pt := &progressTicker{
		meter:  meter,
		log:    log,
		ticker: time.NewTicker(interval),
		done:   make(chan struct{}),
		exited: make(chan struct{}),
	}
	go pt.run()
	return pt
}

func (p *progressTicker) run() {
	defer close(p.exited)
	defer p.ticker.Stop()
	for {
		select {
		case <-p.ticker.C:
			p.log.Info("progress", p.meter.Snapshot().Attrs()...)
		case <-p.done:
			return
		}
	}
}

// Stop ends the ticker and waits for its goroutine. Safe to call twice.
func (p *progressTicker) Stop() {
	p.once.Do(func() { close(p.done) })
	<-p.exited
}
