package progress

import (
	"sync"
	"time"
)

// Stats is a point-in-time view of a Meter.
type Stats struct {
	BytesDone int64
	Total     int64
	RateBps   float64 // smoothed bytes per second
	ETA       time.Duration
	Percent   float64
	Elapsed   time.Duration
}

// Attrs returns the stats as slog key/value pairs.
func (s Stats) Attrs() []any {
	return []any{
		"bytes", s.BytesDone,
		"total_bytes", s.Total,
		"percent", float64(int(s.Percent*10)) / 10,
		"mb_per_sec", s.RateBps / 1e6,
		"eta", s.ETA.Round(time.Second),
		"elapsed", s.Elapsed.Round(time.Millisecond),
	}
}

// Meter counts bytes against a known total and keeps an exponentially
// weighted rate. It is safe for concurrent use.
type Meter struct {
	mu        sync.Mutex
	total     int64
	done      int64
	startedAt time.Time
	lastAt    time.Time
	lastDone  int64
	rateBps   float64
	alpha     float64
	now       func() time.Time
}

// NewMeter returns a meter using the wall clock.
func NewMeter() *Meter {
	return NewMeterWithNow(time.Now)
}

// NewMeterWithNow returns a meter with a custom time source.
func NewMeterWithNow(now func() time.Time) *Meter {
	if now == nil {
		now = time.Now
	}
	return &Meter{alpha: 0.2, now: now}
}

// Start resets the meter for a run of totalBytes.
func (m *Meter) Start(totalBytes int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.total = totalBytes
	m.done = 0
	m.startedAt = m.now()
	m.lastAt = m.startedAt
	m.lastDone = 0
	m.rateBps = 0
}

// Add records n more bytes. Samples closer together than the clock
// resolution are folded into the next one.
func (m *Meter) Add(n int) {
	if n <= 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.done += int64(n)
	now := m.now()
	dt := now.Sub(m.lastAt).Seconds()
	if dt <= 0 {
		return
	}
	inst := float64(m.done-m.lastDone) / dt
	if m.rateBps == 0 {
		m.rateBps = inst
	} else {
		m.rateBps = m.alpha*inst + (1-m.alpha)*m.rateBps
	}
	m.lastAt = now
	m.lastDone = m.done
}

// Snapshot returns the current stats.
func (m *Meter) Snapshot() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := Stats{
		BytesDone: m.done,
		Total:     m.total,
		RateBps:   m.rateBps,
		Elapsed:   m.now().Sub(m.startedAt),
	}
	if m.total > 0 {
		s.Percent = float64(m.done) / float64(m.total) * 100
	}
	if m.rateBps > 0 && m.total > m.done {
		s.ETA = time.Duration(float64(m.total-m.done) / m.rateBps * float64(time.Second))
	}
	return s
}
