package can

import "errors"

// Bus is a CAN endpoint carrying classic 11-bit frames. The ingest loop owns
// its Bus exclusively: no other component calls Receive or Send on it
// concurrently. Implementations must make Close safe to call once while a
// Receive is in flight.
type Bus interface {
	// Receive blocks until the next frame arrives, the receive timeout
	// elapses (ErrRxTimeout), or the bus is closed (ErrClosed).
	Receive() (Frame, error)
	// Send transmits one frame.
	Send(Frame) error
	Close() error
}

var (
	// ErrClosed indicates the bus has been closed.
	ErrClosed = errors.New("can: bus closed")
	// ErrRxTimeout indicates no frame arrived within the receive window.
	// Callers treat it as a transient absent result, not a failure.
	ErrRxTimeout = errors.New("can: receive timeout")
)
