package app

import (
	"fmt"
	"log/slog"

	"github.com/sheerbytes/fluxcopy/internal/config"
	"github.com/sheerbytes/fluxcopy/internal/quictransport"
	"github.com/sheerbytes/fluxcopy/internal/transfer"
	"github.com/sheerbytes/fluxcopy/internal/transport"
)

// NewTransport returns the transport registered under name.
// socketBuffer only applies to TCP.
func NewTransport(name string, socketBuffer int, logger *slog.Logger) (transfer.Transport, error) {
	switch name {
	case config.TransportTCP, "":
		return &transport.TCP{SocketBuffer: socketBuffer, Logger: logger}, nil
	case config.TransportQUIC:
		return &quictransport.Transport{Logger: logger}, nil
	default:
		return nil, fmt.Errorf("unknown transport %q", name)
	}
}
