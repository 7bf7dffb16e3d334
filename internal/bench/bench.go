package bench

import "time"

// Summary is the end-of-run throughput report.
type Summary struct {
	Start    time.Time
	End      time.Time
	Bytes    int64 // acknowledged bytes
	Total    int64 // bytes that were scheduled
	Elapsed  time.Duration
	MB       float64 // decimal megabytes (10^6 bytes)
	AvgMBps  float64
	Complete bool
}

// Summarize computes the run totals. Elapsed time is measured with fractional
// seconds so sub-second runs still report a rate.
func Summarize(start, end time.Time, bytesDone, totalBytes int64) Summary {
	elapsed := end.Sub(start)
	if elapsed < 0 {
		elapsed = 0
	}
	s := Summary{
		Start:    start,
		End:      end,
		Bytes:    bytesDone,
		Total:    totalBytes,
		Elapsed:  elapsed,
		MB:       float64(bytesDone) / 1e6,
		Complete: bytesDone == totalBytes,
	}
	if elapsed > 0 {
		s.AvgMBps = s.MB / elapsed.Seconds()
	}
	return s
}

// Attrs returns the summary as slog key/value pairs.
func (s Summary) Attrs() []any {
	return []any{
		"start", s.Start.Format(time.TimeOnly),
		"end", s.End.Format(time.TimeOnly),
		"duration", s.Elapsed.Round(time.Millisecond),
		"bytes", s.Bytes,
		"total_bytes", s.Total,
		"mb", s.MB,
		"mb_per_sec", s.AvgMBps,
	}
}
