package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/evdash/telemetryd/internal/can"
	"github.com/evdash/telemetryd/internal/telemetry"
)

type appConfig struct {
	backend         string
	canIf           string
	readTimeout     time.Duration
	logFormat       string
	logLevel        string
	metricsAddr     string
	logMetricsEvery time.Duration
	frameLogPath    string
	statusInterval  time.Duration
	measureCmd      string
	sinkBuffer      int
	loopbackSim     bool
	ids             telemetry.IDConfig
}

func parseFlags() (*appConfig, bool) {
	cfg := &appConfig{ids: telemetry.DefaultIDConfig()}
	def := cfg.ids
	backend := flag.String("backend", "socketcan", "CAN backend: socketcan|loopback")
	canIf := flag.String("can-if", "can0", "SocketCAN interface (when --backend=socketcan)")
	readTimeout := flag.Duration("read-timeout", 250*time.Millisecond, "Bus receive timeout (bounds shutdown latency)")
	logFormat := flag.String("log-format", "text", "Log format: text|json")
	logLevel := flag.String("log-level", "info", "Log level: debug|info|warn|error")
	metricsAddr := flag.String("metrics-addr", "", "Metrics HTTP listen address (e.g., :9100); empty disables")
	logMetricsEvery := flag.Duration("log-metrics-interval", 0, "If >0, periodically log metrics counters (for non-Prometheus setups)")
	frameLog := flag.String("frame-log", "/var/log/telemetryd/frames.log", "Telemetry frame log path")
	statusEvery := flag.Duration("status-interval", time.Second, "Host status frame cadence; 0 disables")
	measureCmd := flag.String("measure-cmd", "vcgencmd", "Measurement utility for temperature/voltage probes")
	sinkBuffer := flag.Int("sink-buffer", 256, "Telemetry update buffer towards the presentation layer")
	loopbackSim := flag.Bool("loopback-sim", false, "With --backend=loopback, synthesize telemetry frames")
	envID := flag.Uint("env-id", uint(def.EnvFrameID), "Arbitration ID of the cabin/trunk temperature frame")
	speedID := flag.Uint("speed-id", uint(def.SpeedFrameID), "Arbitration ID of the speed frame")
	socID := flag.Uint("soc-id", uint(def.SOCFrameID), "Arbitration ID of the pack SOC frame")
	bpsID := flag.Uint("bps-id", uint(def.BPSFrameID), "Arbitration ID of the BPS fault frame")
	statusID := flag.Uint("status-id", uint(def.StatusFrameID), "Arbitration ID of the outbound host status frame")
	socOffset := flag.Int("soc-offset", def.SOCByteOffset, "Payload byte offset of the SOC percentage")
	maxSpeed := flag.Float64("max-speed-mps", float64(def.MaxSpeedMPS), "Full-scale speed in m/s for the percent gauge")
	maxPackWh := flag.Float64("max-pack-wh", float64(def.MaxPackWh), "Pack capacity in watt hours")
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	// Track which flags were explicitly set to give them precedence over env.
	setFlags := map[string]struct{}{}
	flag.Visit(func(f *flag.Flag) { setFlags[f.Name] = struct{}{} })
	cfg.backend = *backend
	cfg.canIf = *canIf
	cfg.readTimeout = *readTimeout
	cfg.logFormat = *logFormat
	cfg.logLevel = *logLevel
	cfg.metricsAddr = *metricsAddr
	cfg.logMetricsEvery = *logMetricsEvery
	cfg.frameLogPath = *frameLog
	cfg.statusInterval = *statusEvery
	cfg.measureCmd = *measureCmd
	cfg.sinkBuffer = *sinkBuffer
	cfg.loopbackSim = *loopbackSim
	cfg.ids.EnvFrameID = uint16(*envID)
	cfg.ids.SpeedFrameID = uint16(*speedID)
	cfg.ids.SOCFrameID = uint16(*socID)
	cfg.ids.BPSFrameID = uint16(*bpsID)
	cfg.ids.StatusFrameID = uint16(*statusID)
	cfg.ids.SOCByteOffset = *socOffset
	cfg.ids.MaxSpeedMPS = float32(*maxSpeed)
	cfg.ids.MaxPackWh = float32(*maxPackWh)

	if err := applyEnvOverrides(cfg, setFlags); err != nil {
		fmt.Printf("environment override error: %v\n", err)
		return nil, *showVersion
	}
	if err := cfg.validate(); err != nil {
		fmt.Printf("configuration error: %v\n", err)
		return nil, *showVersion
	}
	return cfg, *showVersion
}

// inboundIDs is the allowed inbound arbitration ID set, used for the kernel
// RX filter.
func (c *appConfig) inboundIDs() []uint16 {
	return []uint16{
		c.ids.EnvFrameID,
		c.ids.SpeedFrameID,
		c.ids.SOCFrameID,
		c.ids.BPSFrameID,
	}
}

// validate performs basic semantic validation of the parsed configuration.
// It does not attempt to open devices or files, only checks values/ranges.
func (c *appConfig) validate() error {
	if c == nil {
		return errors.New("nil config")
	}
	switch c.logFormat {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log-format: %s", c.logFormat)
	}
	switch c.logLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log-level: %s", c.logLevel)
	}
	switch c.backend {
	case "socketcan", "loopback":
	default:
		return fmt.Errorf("invalid backend: %s", c.backend)
	}
	if c.readTimeout <= 0 {
		return fmt.Errorf("read-timeout must be > 0")
	}
	if c.statusInterval < 0 {
		return fmt.Errorf("status-interval must be >= 0")
	}
	if c.sinkBuffer <= 0 {
		return fmt.Errorf("sink-buffer must be > 0 (got %d)", c.sinkBuffer)
	}
	if c.frameLogPath == "" {
		return errors.New("frame-log must not be empty")
	}
	if c.ids.MaxSpeedMPS <= 0 {
		return fmt.Errorf("max-speed-mps must be > 0")
	}
	if c.ids.MaxPackWh <= 0 {
		return fmt.Errorf("max-pack-wh must be > 0")
	}
	if c.ids.SOCByteOffset < 0 || c.ids.SOCByteOffset >= can.MaxDataLen {
		return fmt.Errorf("soc-offset must be in [0,%d)", can.MaxDataLen)
	}
	for name, id := range map[string]uint16{
		"env-id":    c.ids.EnvFrameID,
		"speed-id":  c.ids.SpeedFrameID,
		"soc-id":    c.ids.SOCFrameID,
		"bps-id":    c.ids.BPSFrameID,
		"status-id": c.ids.StatusFrameID,
	} {
		if id > can.MaxStdID {
			return fmt.Errorf("%s exceeds 11 bits: %#x", name, id)
		}
	}
	for _, in := range c.inboundIDs() {
		if in == c.ids.StatusFrameID {
			return fmt.Errorf("status-id %#x collides with an inbound id", c.ids.StatusFrameID)
		}
	}
	return nil
}

// applyEnvOverrides maps TELEMETRYD_* environment variables to config fields
// unless a corresponding flag was explicitly set. Empty values are ignored.
// Duration accepts Go time.ParseDuration format.
func applyEnvOverrides(c *appConfig, set map[string]struct{}) error {
	var firstErr error
	get := func(k string) (string, bool) { v, ok := os.LookupEnv(k); return strings.TrimSpace(v), ok }
	if _, ok := set["backend"]; !ok {
		if v, ok := get("TELEMETRYD_BACKEND"); ok && v != "" {
			c.backend = v
		}
	}
	if _, ok := set["can-if"]; !ok {
		if v, ok := get("TELEMETRYD_IF"); ok && v != "" {
			c.canIf = v
		}
	}
	if _, ok := set["read-timeout"]; !ok {
		if v, ok := get("TELEMETRYD_READ_TIMEOUT"); ok && v != "" {
			if d, err := time.ParseDuration(v); err == nil && d > 0 {
				c.readTimeout = d
			} else if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("invalid TELEMETRYD_READ_TIMEOUT: %w", err)
			}
		}
	}
	if _, ok := set["log-format"]; !ok {
		if v, ok := get("TELEMETRYD_LOG_FORMAT"); ok && v != "" {
			c.logFormat = v
		}
	}
	if _, ok := set["log-level"]; !ok {
		if v, ok := get("TELEMETRYD_LOG_LEVEL"); ok && v != "" {
			c.logLevel = v
		}
	}
	if _, ok := set["metrics-addr"]; !ok {
		if v, ok := get("TELEMETRYD_METRICS"); ok {
			c.metricsAddr = v
		}
	}
	if _, ok := set["log-metrics-interval"]; !ok {
		if v, ok := get("TELEMETRYD_LOG_METRICS_INTERVAL"); ok && v != "" {
			if d, err := time.ParseDuration(v); err == nil && d >= 0 {
				c.logMetricsEvery = d
			} else if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("invalid TELEMETRYD_LOG_METRICS_INTERVAL: %w", err)
			}
		}
	}
	if _, ok := set["frame-log"]; !ok {
		if v, ok := get("TELEMETRYD_FRAME_LOG"); ok && v != "" {
			c.frameLogPath = v
		}
	}
	if _, ok := set["status-interval"]; !ok {
		if v, ok := get("TELEMETRYD_STATUS_INTERVAL"); ok && v != "" {
			if d, err := time.ParseDuration(v); err == nil && d >= 0 {
				c.statusInterval = d
			} else if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("invalid TELEMETRYD_STATUS_INTERVAL: %w", err)
			}
		}
	}
	if _, ok := set["measure-cmd"]; !ok {
		if v, ok := get("TELEMETRYD_MEASURE_CMD"); ok && v != "" {
			c.measureCmd = v
		}
	}
	if _, ok := set["sink-buffer"]; !ok {
		if v, ok := get("TELEMETRYD_SINK_BUFFER"); ok && v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				c.sinkBuffer = n
			} else if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("invalid TELEMETRYD_SINK_BUFFER: %w", err)
			}
		}
	}
	return firstErr
}
