package telemetry

import (
	"errors"
	"fmt"

	"github.com/evdash/telemetryd/internal/can"
	"github.com/evdash/telemetryd/internal/codec"
	"github.com/evdash/telemetryd/internal/metrics"
)

// ErrMalformedFrame is returned when an inbound frame's payload is shorter
// than the decoder for its arbitration ID requires. The caller logs it and
// drops the frame; it is never fatal.
var ErrMalformedFrame = errors.New("telemetry: malformed frame")

// IDConfig binds arbitration IDs and scaling constants to the dispatcher.
// The IDs and the SOC byte offset shifted between firmware revisions, so they
// are configuration, not hardwired behavior.
type IDConfig struct {
	EnvFrameID    uint16 // cabin/trunk temperature pair, two LE floats
	SpeedFrameID  uint16 // raw speed, one LE float, meters per second
	SOCFrameID    uint16 // pack state of charge
	BPSFrameID    uint16 // battery protection system fault line
	StatusFrameID uint16 // outbound host status (ignored on loopback)

	SOCByteOffset int     // payload index of the 0-100 SOC byte
	MaxSpeedMPS   float32 // full-scale speed for the percent gauge
	MaxPackWh     float32 // pack capacity in watt hours
}

// DefaultIDConfig matches the final firmware revision of the bus layout.
func DefaultIDConfig() IDConfig {
	return IDConfig{
		EnvFrameID:    0x110,
		SpeedFrameID:  0x120,
		SOCFrameID:    0x121,
		BPSFrameID:    0x122,
		StatusFrameID: 0x7A0,
		SOCByteOffset: 0,
		MaxSpeedMPS:   16,
		MaxPackWh:     4471,
	}
}

// Dispatcher classifies inbound frames by arbitration ID and decodes their
// payloads into updates. Stateless after construction and safe for concurrent
// use, though in practice only the ingest loop calls it.
type Dispatcher struct {
	cfg IDConfig
}

// NewDispatcher builds a dispatcher for the given ID layout.
func NewDispatcher(cfg IDConfig) *Dispatcher { return &Dispatcher{cfg: cfg} }

// Dispatch routes one frame to zero or more updates. Unknown IDs (including
// our own status frame looping back) produce no updates and no error. A
// payload shorter than its ID's decoder requires returns ErrMalformedFrame;
// Dispatch never panics and never reads past the frame's length.
func (d *Dispatcher) Dispatch(fr can.Frame) ([]Update, error) {
	payload := fr.Payload()
	switch fr.ID {
	case d.cfg.EnvFrameID:
		cabin, trunk, err := codec.Float32Pair(payload)
		if err != nil {
			return nil, d.malformed(fr, err)
		}
		return []Update{CabinTemp{Celsius: cabin}, TrunkTemp{Celsius: trunk}}, nil

	case d.cfg.SpeedFrameID:
		raw, err := codec.Float32LE(payload)
		if err != nil {
			return nil, d.malformed(fr, err)
		}
		return []Update{Speed{
			RawMPS:  raw,
			MPH:     codec.MPSToMPH(raw),
			Percent: codec.ClampPercent(raw * 100 / d.cfg.MaxSpeedMPS),
		}}, nil

	case d.cfg.SOCFrameID:
		pct, err := codec.ByteAt(payload, d.cfg.SOCByteOffset)
		if err != nil {
			return nil, d.malformed(fr, err)
		}
		return []Update{PackSOC{
			Percent:   pct,
			WattHours: float32(pct) / 100 * d.cfg.MaxPackWh,
		}}, nil

	case d.cfg.BPSFrameID:
		b, err := codec.ByteAt(payload, 0)
		if err != nil {
			return nil, d.malformed(fr, err)
		}
		return []Update{BPSFault{Faulted: b != 0}}, nil

	case d.cfg.StatusFrameID:
		// Our own status frame echoed back by the bus; not an error and
		// not worth counting as unknown.
		return nil, nil
	}
	// The transport filter should only admit known IDs, but it is not
	// trusted: anything else is silently ignored.
	metrics.IncUnknownID()
	return nil, nil
}

func (d *Dispatcher) malformed(fr can.Frame, err error) error {
	metrics.IncMalformed()
	return fmt.Errorf("%w: id %03X len %d: %v", ErrMalformedFrame, fr.ID, fr.Len, err)
}
