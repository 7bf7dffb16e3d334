package transfer

import (
	"hash/crc32"
	"io"
)

var crc32cTable = crc32.MakeTable(crc32.Castagnoli)

// Checksum returns the CRC32C of data.
func Checksum(data []byte) uint32 {
	return crc32.Checksum(data, crc32cTable)
}

// ChecksumReader accumulates a CRC32C over every byte read through it.
type ChecksumReader struct {
	r   io.Reader
	crc uint32
	n   uint64
}

// NewChecksumReader wraps r with a fresh accumulator.
func NewChecksumReader(r io.Reader) *ChecksumReader {
	return &ChecksumReader{r: r}
}

func (c *ChecksumReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	if n > 0 {
		c.crc = crc32.Update(c.crc, crc32cTable, p[:n])
		c.n += uint64(n)
	}
	return n, err
}

// Sum32 returns the checksum of all bytes read so far.
func (c *ChecksumReader) Sum32() uint32 { return c.crc }

// Count returns the number of bytes read so far.
func (c *ChecksumReader) Count() uint64 { return c.n }

// Reset clears the accumulator and switches to a new source.
func (c *ChecksumReader) Reset(r io.Reader) {
	c.r = r
	c.crc = 0
	c.n = 0
}

// ChecksumWriter accumulates a CRC32C over every byte accepted by the wrapped writer.
type ChecksumWriter struct {
	w   io.Writer
	crc uint32
	n   uint64
}

// NewChecksumWriter wraps w with a fresh accumulator.
func NewChecksumWriter(w io.Writer) *ChecksumWriter {
	return &ChecksumWriter{w: w}
}

func (c *ChecksumWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	if n > 0 {
		c.crc = crc32.Update(c.crc, crc32cTable, p[:n])
		c.n += uint64(n)
	}
	return n, err
}

// Sum32 returns the checksum of all bytes written so far.
func (c *ChecksumWriter) Sum32() uint32 { return c.crc }

// Count returns the number of bytes written so far.
func (c *ChecksumWriter) Count() uint64 { return c.n }

// Reset clears the accumulator and switches to a new sink.
func (c *ChecksumWriter) Reset(w io.Writer) {
	c.w = w
	c.crc = 0
	c.n = 0
}
