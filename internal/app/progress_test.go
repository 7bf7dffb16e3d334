package app

import (
	"bytes"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sheerbytes/fluxcopy/internal/progress"
	"github.com/stretchr/testify/assert"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestProgressTicker_LogsUntilStopped(t *testing.T) {
	var out syncBuffer
	log := slog.New(slog.NewTextHandler(&out, nil))

	m := progress.NewMeter()
	m.Start(100)
	m.Add(50)

	pt := newProgressTicker(m, 5*time.Millisecond, log)
	assert.Eventually(t, func() bool {
		return strings.Contains(out.String(), "msg=progress")
	}, 2*time.Second, 5*time.Millisecond)

	pt.Stop()
	pt.Stop()
	n := strings.Count(out.String(), "msg=progress")
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, n, strings.Count(out.String(), "msg=progress"))
	assert.Contains(t, out.String(), "percent=50")
}
