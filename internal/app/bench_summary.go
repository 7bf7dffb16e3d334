package app

import (
	"fmt"

	"github.com/sheerbytes/fluxcopy/internal/bench"
	"github.com/sheerbytes/fluxcopy/internal/transport"
)

func benchSummaryLine(label string, s bench.Summary, connections int) string {
	return fmt.Sprintf("BENCH %s: sent=%s of %s in %.3fs avg=%s conns=%d",
		label,
		transport.FormatMB(s.Bytes),
		transport.FormatMB(s.Total),
		s.Elapsed.Seconds(),
		transport.FormatRate(s.Bytes, s.Elapsed),
		connections,
	)
}
