package progress

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMeter_RateAndETA(t *testing.T) {
	now := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)
	m := NewMeterWithNow(func() time.Time { return now })
	m.Start(2000)

	now = now.Add(time.Second)
	m.Add(1000)

	s := m.Snapshot()
	assert.Equal(t, int64(1000), s.BytesDone)
	assert.InDelta(t, 1000, s.RateBps, 1)
	assert.InDelta(t, float64(time.Second), float64(s.ETA), float64(10*time.Millisecond))
	assert.InDelta(t, 50, s.Percent, 0.001)
	assert.Equal(t, time.Second, s.Elapsed)
}

func TestMeter_Smoothing(t *testing.T) {
	now := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)
	m := NewMeterWithNow(func() time.Time { return now })
	m.Start(10000)

	now = now.Add(time.Second)
	m.Add(1000)
	now = now.Add(time.Second)
	m.Add(3000)

	// 0.2*3000 + 0.8*1000
	assert.InDelta(t, 1400, m.Snapshot().RateBps, 1)
}

func TestMeter_SameInstantSamplesFold(t *testing.T) {
	now := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)
	m := NewMeterWithNow(func() time.Time { return now })
	m.Start(100)

	m.Add(10)
	m.Add(10)
	assert.Zero(t, m.Snapshot().RateBps)

	now = now.Add(time.Second)
	m.Add(10)
	assert.InDelta(t, 30, m.Snapshot().RateBps, 0.001)
}

func TestMeter_ConcurrentAdds(t *testing.T) {
	m := NewMeter()
	m.Start(8 * 1000)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 1000; j++ {
				m.Add(1)
			}
		}()
	}
	wg.Wait()

	s := m.Snapshot()
	assert.Equal(t, int64(8000), s.BytesDone)
	assert.InDelta(t, 100, s.Percent, 0.001)
	assert.Zero(t, s.ETA)
}

func TestMeter_IgnoresNonPositive(t *testing.T) {
	m := NewMeter()
	m.Start(10)
	m.Add(0)
	m.Add(-5)
	assert.Zero(t, m.Snapshot().BytesDone)
}
