package transport

import (
	"net"
	"strings"
)

const (
	StatusOK     = "ok"
	StatusNA     = "n/a"
	StatusDenied = "denied"
	StatusSkip   = "default"

	minTCPBuffer = 64 * 1024
	maxTCPBuffer = 64 * 1024 * 1024
)

// TCPTuneResult reports which socket buffer sizes were requested and whether
// the kernel accepted them.
type TCPTuneResult struct {
	RequestedR int
	RequestedW int
	Status     string
	Err        string
}

// ApplyTCPBuffers sets the socket receive and send buffers on conn.
// A size of zero leaves the OS default in place.
func ApplyTCPBuffers(conn net.Conn, r, w int) TCPTuneResult {
	result := TCPTuneResult{Status: StatusOK}
	if r <= 0 && w <= 0 {
		result.Status = StatusSkip
		return result
	}
	tcp, ok := conn.(*net.TCPConn)
	if !ok {
		result.Status = StatusNA
		result.Err = "not a TCP connection"
		return result
	}

	var errs []string
	if r > 0 {
		result.RequestedR = clampTCPBuffer(r)
		if err := tcp.SetReadBuffer(result.RequestedR); err != nil {
			errs = append(errs, "read: "+err.Error())
		}
	}
	if w > 0 {
		result.RequestedW = clampTCPBuffer(w)
		if err := tcp.SetWriteBuffer(result.RequestedW); err != nil {
			errs = append(errs, "write: "+err.Error())
		}
	}
	if len(errs) > 0 {
		result.Status = StatusDenied
		result.Err = strings.Join(errs, "; ")
	}
	return result
}

func clampTCPBuffer(n int) int {
	if n < minTCPBuffer {
		return minTCPBuffer
	}
	if n > maxTCPBuffer {
		return maxTCPBuffer
	}
	return n
}
