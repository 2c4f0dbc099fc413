// Package ingest runs the bus-facing background task: it receives frames,
// records and dispatches them, and on a cadence transmits the host status
// frame. Nothing here is fatal except an externally requested stop.
package ingest

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/evdash/telemetryd/internal/can"
	"github.com/evdash/telemetryd/internal/codec"
	"github.com/evdash/telemetryd/internal/framelog"
	"github.com/evdash/telemetryd/internal/logging"
	"github.com/evdash/telemetryd/internal/metrics"
	"github.com/evdash/telemetryd/internal/telemetry"
	"github.com/evdash/telemetryd/internal/transport"
)

// State is the loop's lifecycle position.
type State int32

const (
	StateRunning State = iota
	StateStopRequested
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateStopRequested:
		return "stop_requested"
	case StateStopped:
		return "stopped"
	}
	return "unknown"
}

// Sampler produces one host status snapshot per call.
type Sampler interface {
	Sample(ctx context.Context) codec.HostStatus
}

const (
	txQueueSize  = 64
	rxBackoffMin = 20 * time.Millisecond
	rxBackoffMax = 500 * time.Millisecond
)

// ErrTxOverflow is returned when the status TX queue is full.
var ErrTxOverflow = errors.New("ingest: tx overflow")

// Loop owns the bus for its entire lifetime; no other component may call
// Receive or Send on it. Construct with NewLoop, drive with Run, stop with
// Stop (or by cancelling Run's context).
type Loop struct {
	bus         can.Bus
	disp        *telemetry.Dispatcher
	sink        telemetry.Sink
	flog        *framelog.Log
	sampler     Sampler
	statusID    uint16
	statusEvery time.Duration
	l           *slog.Logger

	state     atomic.Int32
	cancel    context.CancelFunc
	cancelMu  sync.Mutex
	done      chan struct{}
	closeBus  sync.Once
	busCloses atomic.Int32 // observable in tests: must end at exactly 1

	// sleepFn is a seam for the backoff tests.
	sleepFn func(time.Duration)
}

// Option configures a Loop.
type Option func(*Loop)

// WithSink sets the telemetry update consumer.
func WithSink(s telemetry.Sink) Option { return func(lp *Loop) { lp.sink = s } }

// WithFrameLog attaches the persistent frame log.
func WithFrameLog(fl *framelog.Log) Option { return func(lp *Loop) { lp.flog = fl } }

// WithSampler enables the periodic status cycle.
func WithSampler(s Sampler) Option { return func(lp *Loop) { lp.sampler = s } }

// WithStatusFrameID sets the outbound status arbitration ID.
func WithStatusFrameID(id uint16) Option { return func(lp *Loop) { lp.statusID = id } }

// WithStatusInterval sets the status cadence; <=0 disables the cycle.
func WithStatusInterval(d time.Duration) Option { return func(lp *Loop) { lp.statusEvery = d } }

// WithLogger overrides the operational logger.
func WithLogger(l *slog.Logger) Option { return func(lp *Loop) { lp.l = l } }

// NewLoop builds an ingest loop bound to bus and dispatcher.
func NewLoop(bus can.Bus, disp *telemetry.Dispatcher, opts ...Option) *Loop {
	lp := &Loop{
		bus:         bus,
		disp:        disp,
		statusEvery: time.Second,
		done:        make(chan struct{}),
		sleepFn:     time.Sleep,
	}
	for _, o := range opts {
		o(lp)
	}
	if lp.l == nil {
		lp.l = logging.L()
	}
	return lp
}

// State returns the current lifecycle state.
func (lp *Loop) State() State { return State(lp.state.Load()) }

// Done closes when the loop has fully stopped and released the bus.
func (lp *Loop) Done() <-chan struct{} { return lp.done }

// Stop requests a cooperative shutdown. The loop finishes its in-flight
// blocking receive, observes the request, and transitions to Stopped.
func (lp *Loop) Stop() {
	if lp.state.CompareAndSwap(int32(StateRunning), int32(StateStopRequested)) {
		lp.l.Info("ingest_stop_requested")
	}
	lp.cancelMu.Lock()
	if lp.cancel != nil {
		lp.cancel()
	}
	lp.cancelMu.Unlock()
}

// Run drives the loop until Stop is called or ctx is cancelled. It returns
// after the bus has been released. Run must be called at most once.
func (lp *Loop) Run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	lp.cancelMu.Lock()
	lp.cancel = cancel
	lp.cancelMu.Unlock()

	defer func() {
		cancel()
		lp.releaseBus()
		lp.state.Store(int32(StateStopped))
		lp.l.Info("ingest_stopped")
		close(lp.done)
	}()

	tx := transport.NewAsyncTx(ctx, txQueueSize, lp.bus.Send, transport.Hooks{
		OnError: func(fr can.Frame, err error) {
			metrics.IncError(metrics.ErrBusWrite)
			lp.l.Warn("status_tx_error", "id", fr.ID, "error", err)
		},
		OnAfter: func(fr can.Frame) {
			metrics.IncTx()
			lp.recordFrame(framelog.TX, fr)
		},
		OnDrop: func(fr can.Frame) error {
			metrics.IncError(metrics.ErrBusOver)
			return ErrTxOverflow
		},
	})
	defer tx.Close()

	var wg sync.WaitGroup
	if lp.sampler != nil && lp.statusEvery > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			lp.statusCycle(ctx, tx)
		}()
	}
	defer wg.Wait()

	backoff := rxBackoffMin
	for {
		if lp.stopRequested(ctx) {
			return
		}
		fr, err := lp.bus.Receive()
		if err != nil {
			if lp.stopRequested(ctx) {
				return
			}
			if errors.Is(err, can.ErrRxTimeout) {
				// Absent result: transient, keep receiving.
				continue
			}
			metrics.IncError(metrics.ErrBusRead)
			lp.l.Warn("bus_read_error", "error", err, "backoff", backoff)
			lp.sleepFn(backoff)
			backoff *= 2
			if backoff > rxBackoffMax {
				backoff = rxBackoffMax
			}
			continue
		}
		backoff = rxBackoffMin
		metrics.IncRx()
		lp.recordFrame(framelog.RX, fr)
		lp.handleFrame(fr)
	}
}

func (lp *Loop) stopRequested(ctx context.Context) bool {
	if State(lp.state.Load()) == StateStopRequested {
		return true
	}
	select {
	case <-ctx.Done():
		lp.state.CompareAndSwap(int32(StateRunning), int32(StateStopRequested))
		return true
	default:
		return false
	}
}

func (lp *Loop) handleFrame(fr can.Frame) {
	ups, err := lp.disp.Dispatch(fr)
	if err != nil {
		// Malformed payload: log it, skip the update, keep going.
		lp.l.Warn("frame_discarded", "frame", fr.String(), "error", err)
		return
	}
	for _, u := range ups {
		metrics.IncUpdate(u.Kind())
		if lp.sink != nil {
			lp.sink.OnUpdate(u)
		}
	}
}

// statusCycle samples host status on the configured cadence, encodes it and
// queues the status frame. Sampling runs here, off the receive path, so the
// CPU probe's averaging window never starves frame reception.
func (lp *Loop) statusCycle(ctx context.Context, tx transport.FrameSink) {
	t := time.NewTicker(lp.statusEvery)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			snap := lp.sampler.Sample(ctx)
			payload := codec.EncodeHostStatus(snap)
			fr := can.Frame{ID: lp.statusID, Len: uint8(len(payload))}
			copy(fr.Data[:], payload[:])
			if err := tx.SendFrame(fr); err != nil {
				// Cycle skipped; ingestion is unaffected.
				lp.l.Warn("status_cycle_skipped", "error", err)
				continue
			}
			metrics.IncStatusCycle()
		case <-ctx.Done():
			return
		}
	}
}

func (lp *Loop) recordFrame(dir framelog.Direction, fr can.Frame) {
	if lp.flog == nil {
		return
	}
	if err := lp.flog.Record(dir, fr); err != nil {
		// Never into the frame log itself: that is the failing component.
		metrics.IncLogWriteError()
		metrics.IncError(metrics.ErrLogWrite)
		lp.l.Error("framelog_write_failed", "error", err)
	}
}

func (lp *Loop) releaseBus() {
	lp.closeBus.Do(func() {
		lp.busCloses.Add(1)
		if err := lp.bus.Close(); err != nil {
			lp.l.Warn("bus_close_error", "error", err)
		}
	})
}

// BusCloseCount reports how many times the bus handle has been closed.
func (lp *Loop) BusCloseCount() int { return int(lp.busCloses.Load()) }
