package ingest

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evdash/telemetryd/internal/can"
	"github.com/evdash/telemetryd/internal/codec"
	"github.com/evdash/telemetryd/internal/framelog"
	"github.com/evdash/telemetryd/internal/telemetry"
)

type recordingSink struct {
	mu  sync.Mutex
	got []telemetry.Update
}

func (r *recordingSink) OnUpdate(u telemetry.Update) {
	r.mu.Lock()
	r.got = append(r.got, u)
	r.mu.Unlock()
}

func (r *recordingSink) snapshot() []telemetry.Update {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]telemetry.Update, len(r.got))
	copy(out, r.got)
	return out
}

type fixedSampler struct {
	status codec.HostStatus
}

func (f fixedSampler) Sample(context.Context) codec.HostStatus { return f.status }

// harness wires a loop to a loopback bus with a peer endpoint for the test to
// act as the rest of the bus.
type harness struct {
	bus  *can.LoopbackBus
	peer can.Bus
	sink *recordingSink
	flog *framelog.Log
	loop *Loop
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	bus := can.NewLoopbackBus()
	t.Cleanup(func() { bus.Close() })

	flog, err := framelog.Open(filepath.Join(t.TempDir(), "frames.log"))
	require.NoError(t, err)
	t.Cleanup(func() { flog.Close() })

	h := &harness{
		bus:  bus,
		peer: bus.Open(),
		sink: &recordingSink{},
		flog: flog,
	}
	base := []Option{
		WithSink(h.sink),
		WithFrameLog(flog),
		WithStatusInterval(0), // off unless a test turns it on
	}
	h.loop = NewLoop(bus.Open(), telemetry.NewDispatcher(telemetry.DefaultIDConfig()), append(base, opts...)...)
	return h
}

// stop requests shutdown and unblocks the in-flight receive by closing the bus.
func (h *harness) stop(t *testing.T) {
	t.Helper()
	h.loop.Stop()
	h.bus.Close()
	select {
	case <-h.loop.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("loop did not stop")
	}
}

func (h *harness) logLines(t *testing.T) []string {
	t.Helper()
	data, err := os.ReadFile(h.flog.Path())
	require.NoError(t, err)
	s := strings.TrimRight(string(data), "\n")
	if s == "" {
		return nil
	}
	return strings.Split(s, "\n")
}

func sendFrame(t *testing.T, peer can.Bus, id uint16, data []byte) {
	t.Helper()
	fr, err := can.NewFrame(id, data)
	require.NoError(t, err)
	require.NoError(t, peer.Send(fr))
}

func TestLoopDispatchesInArrivalOrder(t *testing.T) {
	h := newHarness(t)
	go h.loop.Run(context.Background())

	env := codec.EncodeFloat32Pair(21.5, 15.0)
	speed := codec.EncodeFloat32LE(8.0)
	sendFrame(t, h.peer, 0x110, env[:])
	sendFrame(t, h.peer, 0x120, speed[:])
	sendFrame(t, h.peer, 0x121, []byte{75, 0, 0, 0, 0, 0, 0, 0})

	require.Eventually(t, func() bool { return len(h.sink.snapshot()) == 4 },
		2*time.Second, 10*time.Millisecond)
	h.stop(t)

	got := h.sink.snapshot()
	assert.Equal(t, telemetry.CabinTemp{Celsius: 21.5}, got[0])
	assert.Equal(t, telemetry.TrunkTemp{Celsius: 15.0}, got[1])
	sp, ok := got[2].(telemetry.Speed)
	require.True(t, ok)
	assert.Equal(t, float32(8.0), sp.RawMPS)
	soc, ok := got[3].(telemetry.PackSOC)
	require.True(t, ok)
	assert.Equal(t, uint8(75), soc.Percent)
}

func TestLoopLogsEveryFrameInOrder(t *testing.T) {
	h := newHarness(t)
	go h.loop.Run(context.Background())

	const n = 20
	for i := 0; i < n; i++ {
		sendFrame(t, h.peer, 0x122, []byte{byte(i % 2)})
	}
	require.Eventually(t, func() bool { return len(h.sink.snapshot()) == n },
		2*time.Second, 10*time.Millisecond)
	h.stop(t)

	lines := h.logLines(t)
	require.Len(t, lines, n)
	for i, line := range lines {
		assert.Contains(t, line, "RX 122", "line %d", i)
	}
}

func TestLoopMalformedFrameIsSkippedNotFatal(t *testing.T) {
	h := newHarness(t)
	go h.loop.Run(context.Background())

	sendFrame(t, h.peer, 0x110, []byte{1, 2, 3}) // env frame needs 8 bytes
	good := codec.EncodeFloat32Pair(1.0, 2.0)
	sendFrame(t, h.peer, 0x110, good[:])

	require.Eventually(t, func() bool { return len(h.sink.snapshot()) == 2 },
		2*time.Second, 10*time.Millisecond)
	h.stop(t)

	// Both frames were still logged, in order.
	lines := h.logLines(t)
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "RX 110 [3]")
	assert.Contains(t, lines[1], "RX 110 [8]")
}

func TestLoopUnknownIDProducesNoUpdates(t *testing.T) {
	h := newHarness(t)
	go h.loop.Run(context.Background())

	sendFrame(t, h.peer, 0x3FF, []byte{1, 2, 3, 4})
	env := codec.EncodeFloat32Pair(1.0, 2.0)
	sendFrame(t, h.peer, 0x110, env[:])

	require.Eventually(t, func() bool { return len(h.sink.snapshot()) == 2 },
		2*time.Second, 10*time.Millisecond)
	h.stop(t)
	for _, u := range h.sink.snapshot() {
		assert.NotEqual(t, "unknown", u.Kind())
	}
}

func TestLoopStatusCycle(t *testing.T) {
	status := codec.HostStatus{
		TempC: 45.0, TempOK: true,
		Voltage: 5.1, VoltOK: true,
		RAMPct: 30.0, RAMOK: true,
		CPUPct: 12.0, CPUOK: true,
		LogBytes: 2 * 1024 * 1024, LogOK: true,
	}
	h := newHarness(t,
		WithSampler(fixedSampler{status: status}),
		WithStatusFrameID(0x7A0),
		WithStatusInterval(20*time.Millisecond),
	)
	go h.loop.Run(context.Background())

	// The peer observes the transmitted status frame.
	fr, err := h.peer.Receive()
	require.NoError(t, err)
	assert.Equal(t, uint16(0x7A0), fr.ID)
	assert.Equal(t, uint8(8), fr.Len)
	assert.Equal(t, [8]byte{45, 51, 30, 12, 0, 2, 0, 0}, fr.Data)

	require.Eventually(t, func() bool {
		for _, line := range h.logLines(t) {
			if strings.Contains(line, "TX 7A0") {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)
	h.stop(t)
}

func TestLoopStopReleasesBusExactlyOnce(t *testing.T) {
	h := newHarness(t)
	go h.loop.Run(context.Background())

	require.Eventually(t, func() bool { return h.loop.State() == StateRunning },
		time.Second, time.Millisecond)

	h.loop.Stop()
	// Unblock the in-flight receive with one more frame.
	sendFrame(t, h.peer, 0x122, []byte{0})

	select {
	case <-h.loop.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("loop did not reach Stopped within one receive cycle")
	}
	assert.Equal(t, StateStopped, h.loop.State())
	assert.Equal(t, 1, h.loop.BusCloseCount())

	// Redundant stops must not close the bus again.
	h.loop.Stop()
	assert.Equal(t, 1, h.loop.BusCloseCount())
}

func TestLoopContextCancelStops(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	go h.loop.Run(ctx)

	cancel()
	sendFrame(t, h.peer, 0x122, []byte{0})

	select {
	case <-h.loop.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("loop did not stop on context cancel")
	}
	assert.Equal(t, StateStopped, h.loop.State())
}

func TestLoopReadErrorBacksOff(t *testing.T) {
	h := newHarness(t)
	var slept []time.Duration
	var mu sync.Mutex
	h.loop.sleepFn = func(d time.Duration) {
		mu.Lock()
		slept = append(slept, d)
		mu.Unlock()
	}
	go h.loop.Run(context.Background())

	require.Eventually(t, func() bool { return h.loop.State() == StateRunning },
		time.Second, time.Millisecond)

	// Closing only the loop's view is not possible on loopback; close the bus
	// without a stop request so Receive keeps failing and backoff kicks in.
	h.bus.Close()
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(slept) >= 3
	}, 2*time.Second, 5*time.Millisecond)

	h.loop.Stop()
	<-h.loop.Done()

	mu.Lock()
	defer mu.Unlock()
	require.GreaterOrEqual(t, len(slept), 3)
	assert.Equal(t, rxBackoffMin, slept[0])
	assert.Equal(t, 2*rxBackoffMin, slept[1])
	assert.Equal(t, 4*rxBackoffMin, slept[2])
	for _, d := range slept {
		assert.LessOrEqual(t, d, rxBackoffMax)
	}
}
