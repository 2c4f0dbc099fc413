package can

import (
	"errors"
	"fmt"
	"strings"
)

// MaxStdID is the largest 11-bit (standard) arbitration identifier.
const MaxStdID = 0x7FF

// MaxDataLen is the classic CAN payload limit.
const MaxDataLen = 8

// Frame is one classic CAN message: an 11-bit arbitration ID plus up to 8
// payload bytes. Only the first Len bytes of Data are valid. Frames are
// passed by value and never shared mutably between components.
type Frame struct {
	ID   uint16
	Len  uint8
	Data [8]byte
}

var (
	ErrInvalidID  = errors.New("can: arbitration id exceeds 11 bits")
	ErrInvalidLen = errors.New("can: data length exceeds 8")
)

// NewFrame builds a frame from id and payload. It returns an error for
// out-of-range identifiers or payloads longer than 8 bytes.
func NewFrame(id uint16, data []byte) (Frame, error) {
	var f Frame
	if id > MaxStdID {
		return f, ErrInvalidID
	}
	if len(data) > MaxDataLen {
		return f, ErrInvalidLen
	}
	f.ID = id
	f.Len = uint8(len(data))
	copy(f.Data[:], data)
	return f, nil
}

// Validate reports whether the frame fields are in range.
func (f Frame) Validate() error {
	if f.ID > MaxStdID {
		return ErrInvalidID
	}
	if f.Len > MaxDataLen {
		return ErrInvalidLen
	}
	return nil
}

// Payload returns the valid portion of the data array.
func (f Frame) Payload() []byte { return f.Data[:f.Len] }

// String renders the frame as "<id> [<len>] <bytes>", e.g.
// "110 [8] 00 00 80 3F 00 00 00 40". This is the representation the frame
// log persists.
func (f Frame) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%03X [%d]", f.ID, f.Len)
	for _, d := range f.Payload() {
		fmt.Fprintf(&b, " %02X", d)
	}
	return b.String()
}
