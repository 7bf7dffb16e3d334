package termio

import (
	"io"
	"os"
	"sync"
)

// item is either a chunk to write or, when done is set, a flush marker.
type item struct {
	buf  []byte
	done chan struct{}
}

type writer struct {
	file *os.File
	ch   chan item
}

func (w *writer) Write(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	buf := make([]byte, len(p))
	copy(buf, p)
	w.ch <- item{buf: buf}
	return len(p), nil
}

// Sync blocks until everything written before the call reached the file.
func (w *writer) Sync() {
	done := make(chan struct{})
	w.ch <- item{done: done}
	<-done
}

type manager struct {
	once   sync.Once
	stdout *writer
	stderr *writer
}

var global manager

func Init() {
	global.once.Do(func() {
		global.stdout = newWriter(os.Stdout)
		global.stderr = newWriter(os.Stderr)
	})
}

func newWriter(f *os.File) *writer {
	w := &writer{
		file: f,
		ch:   make(chan item, 1024),
	}
	go func() {
		for it := range w.ch {
			if it.done != nil {
				close(it.done)
				continue
			}
			_, _ = w.file.Write(it.buf)
		}
	}()
	return w
}

func Stdout() io.Writer {
	Init()
	return global.stdout
}

func Stderr() io.Writer {
	Init()
	return global.stderr
}

// Sync drains stdout and stderr. Call it before the process exits.
func Sync() {
	Init()
	global.stdout.Sync()
	global.stderr.Sync()
}
