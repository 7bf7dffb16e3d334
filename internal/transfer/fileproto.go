package transfer

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode/utf16"
	"unicode/utf8"
)

const (
	// StatusOK acknowledges a file whose checksum matched.
	StatusOK int32 = 200
	// StatusBadName refuses a file whose name was rejected by the receiver.
	StatusBadName int32 = 400
	// StatusChecksumMismatch refuses a file whose checksum did not match.
	StatusChecksumMismatch int32 = 422

	// DefaultChunkSize is the payload copy buffer size.
	DefaultChunkSize = 4096

	maxEncodedNameLength = 0xFFFF
	checksumHighMask     = uint64(0xFFFFFFFF) << 32
)

var (
	// ErrTruncated indicates the stream ended before the declared payload length was read.
	ErrTruncated = errors.New("truncated payload")
	// ErrNameTooLong indicates the encoded filename does not fit the u16 length prefix.
	ErrNameTooLong = errors.New("filename too long")
	// ErrMalformedName indicates the filename bytes are not valid modified UTF-8.
	ErrMalformedName = errors.New("malformed filename encoding")
	// ErrBadChecksumField indicates the checksum field carries bits above the low 32.
	ErrBadChecksumField = errors.New("checksum field out of range")
	// ErrInvalidFilename indicates the filename contains path separators or is otherwise unsafe.
	ErrInvalidFilename = errors.New("invalid filename")
)

// Header is the metadata that precedes each file payload on the wire.
type Header struct {
	Length uint64
	Name   string
}

// Ack is the receiver's reply after a file payload and checksum were consumed.
type Ack struct {
	Status    int32
	Timestamp string
}

// OK reports whether the ack confirms the file.
func (a Ack) OK() bool {
	return a.Status == StatusOK
}

// WriteCount writes the number of files that will follow on this connection.
func WriteCount(w io.Writer, n uint64) error {
	if err := binary.Write(w, binary.BigEndian, n); err != nil {
		return fmt.Errorf("failed to write file count: %w", err)
	}
	return nil
}

// ReadCount reads the per-connection file count.
func ReadCount(r io.Reader) (uint64, error) {
	var n uint64
	if err := binary.Read(r, binary.BigEndian, &n); err != nil {
		return 0, fmt.Errorf("failed to read file count: %w", err)
	}
	return n, nil
}

// WriteHeader writes the file length followed by the length-prefixed name.
func WriteHeader(w io.Writer, h Header) error {
	if err := binary.Write(w, binary.BigEndian, h.Length); err != nil {
		return fmt.Errorf("failed to write file length: %w", err)
	}
	if err := WriteUTF(w, h.Name); err != nil {
		return fmt.Errorf("failed to write filename: %w", err)
	}
	return nil
}

// ReadHeader reads a file header written by WriteHeader.
func ReadHeader(r io.Reader) (Header, error) {
	var h Header
	if err := binary.Read(r, binary.BigEndian, &h.Length); err != nil {
		return Header{}, fmt.Errorf("failed to read file length: %w", err)
	}
	name, err := ReadUTF(r)
	if err != nil {
		return Header{}, fmt.Errorf("failed to read filename: %w", err)
	}
	h.Name = name
	return h, nil
}

// WriteChecksum writes the CRC32C value in the low 32 bits of a u64 field.
func WriteChecksum(w io.Writer, sum uint32) error {
	if err := binary.Write(w, binary.BigEndian, uint64(sum)); err != nil {
		return fmt.Errorf("failed to write checksum: %w", err)
	}
	return nil
}

// ReadChecksum reads the trailing checksum field.
func ReadChecksum(r io.Reader) (uint32, error) {
	var v uint64
	if err := binary.Read(r, binary.BigEndian, &v); err != nil {
		return 0, fmt.Errorf("failed to read checksum: %w", err)
	}
	if v&checksumHighMask != 0 {
		return 0, fmt.Errorf("%w: %#x", ErrBadChecksumField, v)
	}
	return uint32(v), nil
}

// WriteAck writes an acknowledgment. The timestamp is only sent with StatusOK.
func WriteAck(w io.Writer, a Ack) error {
	if err := binary.Write(w, binary.BigEndian, a.Status); err != nil {
		return fmt.Errorf("failed to write ack status: %w", err)
	}
	if !a.OK() {
		return nil
	}
	if err := WriteUTF(w, a.Timestamp); err != nil {
		return fmt.Errorf("failed to write ack timestamp: %w", err)
	}
	return nil
}

// ReadAck reads an acknowledgment written by WriteAck.
func ReadAck(r io.Reader) (Ack, error) {
	var a Ack
	if err := binary.Read(r, binary.BigEndian, &a.Status); err != nil {
		return Ack{}, fmt.Errorf("failed to read ack status: %w", err)
	}
	if !a.OK() {
		return a, nil
	}
	ts, err := ReadUTF(r)
	if err != nil {
		return Ack{}, fmt.Errorf("failed to read ack timestamp: %w", err)
	}
	a.Timestamp = ts
	return a, nil
}

// CopyExact copies exactly n bytes from src to dst in chunks of len(buf).
// It never reads past n. A source that ends early yields ErrTruncated.
func CopyExact(dst io.Writer, src io.Reader, n uint64, buf []byte) (uint64, error) {
	if len(buf) == 0 {
		buf = make([]byte, DefaultChunkSize)
	}
	var copied uint64
	for copied < n {
		chunk := buf
		if remaining := n - copied; remaining < uint64(len(chunk)) {
			chunk = chunk[:remaining]
		}
		read, err := io.ReadFull(src, chunk)
		if read > 0 {
			if _, werr := dst.Write(chunk[:read]); werr != nil {
				return copied, fmt.Errorf("failed to write payload: %w", werr)
			}
			copied += uint64(read)
		}
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return copied, fmt.Errorf("%w: got %d of %d bytes", ErrTruncated, copied, n)
			}
			return copied, fmt.Errorf("failed to read payload: %w", err)
		}
	}
	return copied, nil
}

// WriteUTF writes s as a u16 byte length followed by its modified UTF-8 encoding.
func WriteUTF(w io.Writer, s string) error {
	encoded, err := encodeModifiedUTF8(s)
	if err != nil {
		return err
	}
	if err := binary.Write(w, binary.BigEndian, uint16(len(encoded))); err != nil {
		return err
	}
	_, err = w.Write(encoded)
	return err
}

// ReadUTF reads a string written by WriteUTF.
func ReadUTF(r io.Reader) (string, error) {
	var n uint16
	if err := binary.Read(r, binary.BigEndian, &n); err != nil {
		return "", err
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return decodeModifiedUTF8(buf)
}

// encodeModifiedUTF8 encodes NUL as two bytes and supplementary characters
// as surrogate pairs of three bytes each.
func encodeModifiedUTF8(s string) ([]byte, error) {
	if !utf8.ValidString(s) {
		return nil, ErrMalformedName
	}
	out := make([]byte, 0, len(s))
	for _, r := range s {
		if r > 0xFFFF {
			hi, lo := utf16.EncodeRune(r)
			out = appendUnit(out, uint16(hi))
			out = appendUnit(out, uint16(lo))
		} else {
			out = appendUnit(out, uint16(r))
		}
		if len(out) > maxEncodedNameLength {
			return nil, fmt.Errorf("%w: more than %d encoded bytes", ErrNameTooLong, maxEncodedNameLength)
		}
	}
	return out, nil
}

func appendUnit(out []byte, c uint16) []byte {
	switch {
	case c != 0 && c < 0x80:
		return append(out, byte(c))
	case c < 0x800:
		return append(out, 0xC0|byte(c>>6), 0x80|byte(c&0x3F))
	default:
		return append(out, 0xE0|byte(c>>12), 0x80|byte((c>>6)&0x3F), 0x80|byte(c&0x3F))
	}
}

func decodeModifiedUTF8(b []byte) (string, error) {
	units := make([]uint16, 0, len(b))
	for i := 0; i < len(b); {
		c := b[i]
		switch {
		case c < 0x80:
			if c == 0 {
				return "", ErrMalformedName
			}
			units = append(units, uint16(c))
			i++
		case c&0xE0 == 0xC0:
			if i+1 >= len(b) || b[i+1]&0xC0 != 0x80 {
				return "", ErrMalformedName
			}
			units = append(units, uint16(c&0x1F)<<6|uint16(b[i+1]&0x3F))
			i += 2
		case c&0xF0 == 0xE0:
			if i+2 >= len(b) || b[i+1]&0xC0 != 0x80 || b[i+2]&0xC0 != 0x80 {
				return "", ErrMalformedName
			}
			units = append(units, uint16(c&0x0F)<<12|uint16(b[i+1]&0x3F)<<6|uint16(b[i+2]&0x3F))
			i += 3
		default:
			return "", ErrMalformedName
		}
	}
	var sb strings.Builder
	sb.Grow(len(units))
	for i := 0; i < len(units); i++ {
		u := rune(units[i])
		if utf16.IsSurrogate(u) {
			if i+1 >= len(units) {
				return "", ErrMalformedName
			}
			r := utf16.DecodeRune(u, rune(units[i+1]))
			if r == utf8.RuneError {
				return "", ErrMalformedName
			}
			sb.WriteRune(r)
			i++
			continue
		}
		sb.WriteRune(u)
	}
	return sb.String(), nil
}

// validateFilename ensures the filename is a plain base name:
// - Must not be empty
// - Must not contain path separators
// - Must not be a directory reference
func validateFilename(filename string) error {
	if filename == "" {
		return ErrInvalidFilename
	}
	if strings.ContainsAny(filename, `/\`) {
		return ErrInvalidFilename
	}
	if filename == "." || filename == ".." {
		return ErrInvalidFilename
	}
	return nil
}
