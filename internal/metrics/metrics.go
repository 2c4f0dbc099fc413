package metrics

import (
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/evdash/telemetryd/internal/logging"
)

// Prometheus counters
var (
	RxFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "can_rx_frames_total",
		Help: "Total CAN frames received from the bus.",
	})
	TxFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "can_tx_frames_total",
		Help: "Total host status frames transmitted onto the bus.",
	})
	MalformedFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "malformed_frames_total",
		Help: "Total inbound frames rejected (payload shorter than the decoder for their ID requires).",
	})
	UnknownIDFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "unknown_id_frames_total",
		Help: "Total inbound frames ignored because no decoder is registered for their arbitration ID.",
	})
	TelemetryUpdates = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "telemetry_updates_total",
		Help: "Telemetry updates emitted to the sink, by kind.",
	}, []string{"kind"})
	SinkDrops = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sink_dropped_updates_total",
		Help: "Updates dropped because the foreground consumer was slow.",
	})
	LogWriteErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "framelog_write_errors_total",
		Help: "Frame log append failures (processing continues without the record).",
	})
	MetricProbeErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "host_probe_errors_total",
		Help: "Host status probes that yielded no value, by probe.",
	}, []string{"probe"})
	StatusCycles = promauto.NewCounter(prometheus.CounterOpts{
		Name: "status_cycles_total",
		Help: "Completed host status sample/encode/transmit cycles.",
	})
	BuildInfo = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "build_info",
		Help: "Build metadata (value is always 1).",
	}, []string{"version", "commit", "date"})
	Errors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "errors_total",
		Help: "Error counters by subsystem.",
	}, []string{"where"})
	readinessMu sync.RWMutex
	readinessFn func() bool
)

// Error label constants (stable label values to bound cardinality)
const (
	ErrBusRead    = "bus_read"
	ErrBusWrite   = "bus_write"
	ErrBusOver    = "bus_tx_overflow"
	ErrLogWrite   = "framelog_write"
	ErrHostSample = "host_sample"
)

// Probe label constants for MetricProbeErrors.
const (
	ProbeTemp    = "temperature"
	ProbeVoltage = "voltage"
	ProbeRAM     = "ram"
	ProbeCPU     = "cpu"
	ProbeLogSize = "log_size"
)

// StartHTTP serves Prometheus metrics at /metrics plus a /ready probe.
func StartHTTP(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		if IsReady() {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ready\n"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("not ready\n"))
	})

	srv := &http.Server{
		Addr:    addr,
		Handler: mux,
	}
	go func() {
		logging.L().Info("metrics_listen", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.L().Error("metrics_http_error", "error", err)
		}
	}()
	return srv
}

// Local mirrored counters for easy logging (avoid Prometheus scraping in-process)
var (
	localRx          uint64
	localTx          uint64
	localMalformed   uint64
	localUnknown     uint64
	localUpdates     uint64
	localSinkDrops   uint64
	localLogErrors   uint64
	localProbeErrors uint64
	localCycles      uint64
	localErrors      uint64
)

// Snapshot is a cheap copy of local counters.
type Snapshot struct {
	Rx          uint64
	Tx          uint64
	Malformed   uint64
	UnknownID   uint64
	Updates     uint64 // sum across update kinds
	SinkDrops   uint64
	LogErrors   uint64
	ProbeErrors uint64 // sum across probes
	Cycles      uint64
	Errors      uint64 // sum across error labels
}

func Snap() Snapshot {
	return Snapshot{
		Rx:          atomic.LoadUint64(&localRx),
		Tx:          atomic.LoadUint64(&localTx),
		Malformed:   atomic.LoadUint64(&localMalformed),
		UnknownID:   atomic.LoadUint64(&localUnknown),
		Updates:     atomic.LoadUint64(&localUpdates),
		SinkDrops:   atomic.LoadUint64(&localSinkDrops),
		LogErrors:   atomic.LoadUint64(&localLogErrors),
		ProbeErrors: atomic.LoadUint64(&localProbeErrors),
		Cycles:      atomic.LoadUint64(&localCycles),
		Errors:      atomic.LoadUint64(&localErrors),
	}
}

// Wrapper helpers to keep call sites simple.
func IncRx() {
	RxFrames.Inc()
	atomic.AddUint64(&localRx, 1)
}

func IncTx() {
	TxFrames.Inc()
	atomic.AddUint64(&localTx, 1)
}

func IncMalformed() {
	MalformedFrames.Inc()
	atomic.AddUint64(&localMalformed, 1)
}

func IncUnknownID() {
	UnknownIDFrames.Inc()
	atomic.AddUint64(&localUnknown, 1)
}

// IncUpdate counts one emitted telemetry update of the given kind.
func IncUpdate(kind string) {
	TelemetryUpdates.WithLabelValues(kind).Inc()
	atomic.AddUint64(&localUpdates, 1)
}

func IncSinkDrop() {
	SinkDrops.Inc()
	atomic.AddUint64(&localSinkDrops, 1)
}

func IncLogWriteError() {
	LogWriteErrors.Inc()
	atomic.AddUint64(&localLogErrors, 1)
}

// IncProbeError counts one failed host status probe.
func IncProbeError(probe string) {
	MetricProbeErrors.WithLabelValues(probe).Inc()
	atomic.AddUint64(&localProbeErrors, 1)
}

func IncStatusCycle() {
	StatusCycles.Inc()
	atomic.AddUint64(&localCycles, 1)
}

func IncError(label string) {
	Errors.WithLabelValues(label).Inc()
	atomic.AddUint64(&localErrors, 1)
}

// InitBuildInfo sets the build info gauge (should be called once at startup).
func InitBuildInfo(version, commit, date string) {
	BuildInfo.WithLabelValues(version, commit, date).Set(1)
	// Pre-register common error label series so first error does not log a registration latency.
	for _, lbl := range []string{
		ErrBusRead, ErrBusWrite, ErrBusOver, ErrLogWrite, ErrHostSample,
	} {
		Errors.WithLabelValues(lbl).Add(0)
	}
	for _, p := range []string{ProbeTemp, ProbeVoltage, ProbeRAM, ProbeCPU, ProbeLogSize} {
		MetricProbeErrors.WithLabelValues(p).Add(0)
	}
}

// SetReadinessFunc registers a function used by /ready and IsReady.
func SetReadinessFunc(fn func() bool) { readinessMu.Lock(); readinessFn = fn; readinessMu.Unlock() }

// IsReady invokes the registered readiness function if present.
func IsReady() bool {
	readinessMu.RLock()
	fn := readinessFn
	readinessMu.RUnlock()
	if fn == nil { // if not set yet, treat as ready so metrics endpoint doesn't flap
		return true
	}
	return fn()
}
