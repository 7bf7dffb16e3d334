package transport

import (
	"fmt"
	"time"
)

// FormatMB renders n bytes in decimal megabytes.
func FormatMB(n int64) string {
	if n <= 0 {
		return "0.00 MB"
	}
	return fmt.Sprintf("%.2f MB", float64(n)/1e6)
}

// FormatRate renders n bytes over d as decimal megabytes per second.
func FormatRate(n int64, d time.Duration) string {
	if n <= 0 || d <= 0 {
		return "0.00 MB/s"
	}
	return fmt.Sprintf("%.2f MB/s", float64(n)/1e6/d.Seconds())
}
