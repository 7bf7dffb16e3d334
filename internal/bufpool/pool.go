package bufpool

import (
	"sync"
)

// Pool hands out fixed-size copy buffers to transfer workers.
// Each worker takes one buffer for the lifetime of a file and returns it
// when the file is done, so the pool stays as small as the number of
// concurrently active files.
type Pool struct {
	pool    sync.Pool
	bufSize int
}

// New creates a pool of buffers of exactly bufSize bytes.
func New(bufSize int) *Pool {
	if bufSize <= 0 {
		panic("bufSize must be positive")
	}
	p := &Pool{bufSize: bufSize}
	p.pool.New = func() any {
		b := make([]byte, bufSize)
		return &b
	}
	return p
}

// Get returns a buffer of BufSize bytes.
func (p *Pool) Get() []byte {
	b := p.pool.Get().(*[]byte)
	if cap(*b) < p.bufSize {
		return make([]byte, p.bufSize)
	}
	return (*b)[:p.bufSize]
}

// Put returns buf to the pool. Buffers smaller than BufSize are dropped.
func (p *Pool) Put(buf []byte) {
	if cap(buf) < p.bufSize {
		return
	}
	buf = buf[:p.bufSize]
	p.pool.Put(&buf)
}

// BufSize returns the size of buffers in this pool.
func (p *Pool) BufSize() int {
	return p.bufSize
}

var pools sync.Map // map[int]*Pool

// For returns the shared pool for size, creating it on first use.
func For(size int) *Pool {
	if p, ok := pools.Load(size); ok {
		return p.(*Pool)
	}
	actual, _ := pools.LoadOrStore(size, New(size))
	return actual.(*Pool)
}
