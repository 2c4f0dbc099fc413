//go:build !linux

package socketcan

import (
	"errors"
	"time"

	"github.com/evdash/telemetryd/internal/can"
)

// Config mirrors the linux build so cmd code compiles everywhere.
type Config struct {
	FilterIDs   []uint16
	ReadTimeout time.Duration
}

// Open reports SocketCAN as unavailable on non-linux platforms.
func Open(iface string, cfg Config) (can.Bus, error) {
	return nil, errors.New("socketcan unsupported on this platform")
}
