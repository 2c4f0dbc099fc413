//go:build linux

package socketcan

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"time"

	"golang.org/x/sys/unix"

	"github.com/evdash/telemetryd/internal/can"
)

// Config tunes the raw CAN socket.
type Config struct {
	// FilterIDs restricts reception to these 11-bit arbitration IDs. Empty
	// means no kernel filter (dispatcher still ignores unknown IDs).
	FilterIDs []uint16
	// ReadTimeout bounds a blocking Receive so shutdown latency never
	// exceeds one timeout window. Zero means block indefinitely.
	ReadTimeout time.Duration
}

// Device is a raw AF_CAN socket bound to one interface. It implements
// can.Bus.
type Device struct {
	fd int
}

var _ can.Bus = (*Device)(nil)

// Open binds a raw CAN socket to iface and applies the config.
func Open(iface string, cfg Config) (*Device, error) {
	fd, err := unix.Socket(unix.AF_CAN, unix.SOCK_RAW, unix.CAN_RAW)
	if err != nil {
		return nil, fmt.Errorf("socket(AF_CAN): %w", err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_CAN_RAW, unix.CAN_RAW_FD_FRAMES, 0); err != nil {
		// Older kernels may not know this option; ignore ENOPROTOOPT
		if err != unix.ENOPROTOOPT {
			_ = unix.Close(fd)
			return nil, fmt.Errorf("disable CAN FD: %w", err)
		}
	}
	if len(cfg.FilterIDs) > 0 {
		filters := make([]unix.CanFilter, 0, len(cfg.FilterIDs))
		for _, id := range cfg.FilterIDs {
			filters = append(filters, unix.CanFilter{
				Id:   uint32(id),
				Mask: unix.CAN_SFF_MASK | unix.CAN_EFF_FLAG | unix.CAN_RTR_FLAG,
			})
		}
		if err := unix.SetsockoptCanRawFilter(fd, unix.SOL_CAN_RAW, unix.CAN_RAW_FILTER, filters); err != nil {
			_ = unix.Close(fd)
			return nil, fmt.Errorf("set rx filter: %w", err)
		}
	}
	if cfg.ReadTimeout > 0 {
		tv := unix.NsecToTimeval(cfg.ReadTimeout.Nanoseconds())
		if err := unix.SetsockoptTimeval(fd, unix.SOL_SOCKET, unix.SO_RCVTIMEO, &tv); err != nil {
			_ = unix.Close(fd)
			return nil, fmt.Errorf("set read timeout: %w", err)
		}
	}
	ifi, err := net.InterfaceByName(iface)
	if err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("if %q: %w", iface, err)
	}
	sa := &unix.SockaddrCAN{Ifindex: ifi.Index}
	if err := unix.Bind(fd, sa); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("bind(can@%s): %w", iface, err)
	}
	return &Device{fd: fd}, nil
}

// Close releases the socket.
func (d *Device) Close() error { return unix.Close(d.fd) }

// Receive reads one classic CAN frame. A timeout elapsing without data maps
// to can.ErrRxTimeout so callers can treat it as a transient absence.
func (d *Device) Receive() (can.Frame, error) {
	var fr can.Frame
	var buf [unix.CAN_MTU]byte // classic CAN MTU = 16 bytes
	n, err := unix.Read(d.fd, buf[:])
	if err != nil {
		if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EWOULDBLOCK) {
			return fr, can.ErrRxTimeout
		}
		if errors.Is(err, unix.EBADF) {
			return fr, can.ErrClosed
		}
		return fr, err
	}
	if n != unix.CAN_MTU {
		return fr, fmt.Errorf("short read: %d", n)
	}

	// struct can_frame (linux/can.h):
	//   can_id  u32   [0:4]  (includes EFF/RTR/ERR flags)
	//   can_dlc u8    [4]
	//   pad     3B    [5:8]
	//   data    [8]   [8:16]
	//
	// The kernel provides fields in host byte order. On common Linux archs
	// (little-endian) this matches binary.LittleEndian.
	id := binary.LittleEndian.Uint32(buf[0:4])
	dlc := int(buf[4])
	if dlc > can.MaxDataLen {
		dlc = can.MaxDataLen
	}

	fr.ID = uint16(id & unix.CAN_SFF_MASK)
	fr.Len = uint8(dlc)
	copy(fr.Data[:], buf[8:8+dlc])
	return fr, nil
}

// Send writes one classic CAN frame.
func (d *Device) Send(fr can.Frame) error {
	if err := fr.Validate(); err != nil {
		return err
	}
	var buf [unix.CAN_MTU]byte
	binary.LittleEndian.PutUint32(buf[0:4], uint32(fr.ID))
	buf[4] = fr.Len
	copy(buf[8:], fr.Data[:fr.Len])
	_, err := unix.Write(d.fd, buf[:])
	return err
}
