// Package codec implements the pure payload conversions of the telemetry
// wire protocol: little-endian float extraction, display scaling helpers and
// the fixed-width host status encoding. It performs no I/O and is safe for
// concurrent use.
package codec

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// ErrShortPayload is returned when a payload is shorter than the decoder for
// its frame type requires. Decoders never read past the supplied slice.
var ErrShortPayload = errors.New("codec: payload too short")

// MetersPerSecondToMPH is the exact m/s to mph conversion factor. Earlier
// firmware revisions used the rounded 2.24; the exact value is canonical.
const MetersPerSecondToMPH = 2.23694

// Float32LE interprets the first 4 bytes of b as a little-endian IEEE-754
// float. Fewer than 4 bytes is an error, never a silent truncation.
func Float32LE(b []byte) (float32, error) {
	if len(b) < 4 {
		return 0, fmt.Errorf("%w: need 4 bytes, got %d", ErrShortPayload, len(b))
	}
	return math.Float32frombits(binary.LittleEndian.Uint32(b[:4])), nil
}

// Float32Pair decodes two independent little-endian floats from one 8-byte
// payload (the cabin/trunk temperature pair).
func Float32Pair(b []byte) (float32, float32, error) {
	if len(b) < 8 {
		return 0, 0, fmt.Errorf("%w: need 8 bytes, got %d", ErrShortPayload, len(b))
	}
	first := math.Float32frombits(binary.LittleEndian.Uint32(b[0:4]))
	second := math.Float32frombits(binary.LittleEndian.Uint32(b[4:8]))
	return first, second, nil
}

// ByteAt returns the byte at off, bounds-checked.
func ByteAt(b []byte, off int) (byte, error) {
	if off < 0 || off >= len(b) {
		return 0, fmt.Errorf("%w: offset %d outside %d bytes", ErrShortPayload, off, len(b))
	}
	return b[off], nil
}

// EncodeFloat32LE writes v into 4 little-endian bytes. Round-trips Float32LE
// bit-exactly.
func EncodeFloat32LE(v float32) [4]byte {
	var out [4]byte
	binary.LittleEndian.PutUint32(out[:], math.Float32bits(v))
	return out
}

// EncodeFloat32Pair packs two floats into one 8-byte payload.
func EncodeFloat32Pair(a, b float32) [8]byte {
	var out [8]byte
	binary.LittleEndian.PutUint32(out[0:4], math.Float32bits(a))
	binary.LittleEndian.PutUint32(out[4:8], math.Float32bits(b))
	return out
}

// ClampPercent saturates x into [0,100]. Values outside the range are pinned
// to the nearest bound, never wrapped.
func ClampPercent(x float32) float32 {
	switch {
	case x < 0:
		return 0
	case x > 100:
		return 100
	}
	return x
}

// MPSToMPH converts meters per second to miles per hour.
func MPSToMPH(v float32) float32 { return v * MetersPerSecondToMPH }

// HostStatus is one sampling cycle's view of the host machine. Each field is
// independently optional: a probe that failed leaves its Valid flag false and
// the encoder substitutes zero.
type HostStatus struct {
	TempC    float64
	TempOK   bool
	Voltage  float64
	VoltOK   bool
	RAMPct   float64
	RAMOK    bool
	CPUPct   float64
	CPUOK    bool
	LogBytes uint64
	LogOK    bool
}

// EncodeHostStatus packs a snapshot into the 8-byte status frame payload:
//
//	0     temperature, integer part, truncated to signed 8 bits
//	1     voltage * 10, truncated to 8 bits
//	2     RAM percent, truncated
//	3     CPU percent, truncated
//	4..5  log size in whole MiB, big-endian 16 bits
//	6..7  reserved, zero
//
// The packing truncates rather than rounds. That loses precision on purpose:
// paired receivers decode exactly this layout, so it must not change.
func EncodeHostStatus(s HostStatus) [8]byte {
	var out [8]byte
	if s.TempOK {
		out[0] = uint8(int8(int(s.TempC)))
	}
	if s.VoltOK {
		// Scale in float32: the source value is a single-precision sensor
		// reading, so 5.1 scales to 51, not float64's 50.999....
		out[1] = uint8(int(float32(s.Voltage) * 10))
	}
	if s.RAMOK {
		out[2] = uint8(int(s.RAMPct))
	}
	if s.CPUOK {
		out[3] = uint8(int(s.CPUPct))
	}
	if s.LogOK {
		mib := s.LogBytes / (1024 * 1024)
		binary.BigEndian.PutUint16(out[4:6], uint16(mib))
	}
	return out
}
