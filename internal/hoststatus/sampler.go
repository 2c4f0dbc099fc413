// Package hoststatus gathers host machine metrics for the outbound status
// frame. Every probe degrades independently: a failed or slow probe leaves
// its field absent and never blocks the other four.
package hoststatus

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"

	"github.com/evdash/telemetryd/internal/codec"
	"github.com/evdash/telemetryd/internal/logging"
	"github.com/evdash/telemetryd/internal/metrics"
)

// Sizer reports the current byte size of the telemetry log.
type Sizer interface {
	Size() (uint64, error)
}

// DefaultCommand is the firmware measurement utility queried for temperature
// and core voltage.
const DefaultCommand = "vcgencmd"

// Sampler collects one HostStatus per call. The CPU probe averages usage over
// CPUWindow, so a whole Sample takes about that long; callers run it off the
// frame-receive path.
type Sampler struct {
	Command   string        // measurement utility (temperature, voltage)
	Sizer     Sizer         // telemetry log, may be nil
	CPUWindow time.Duration // CPU usage averaging window
	Timeout   time.Duration // bound on one full sampling cycle

	// Probe seams, overridden in tests.
	run        func(ctx context.Context, name string, args ...string) ([]byte, error)
	memPercent func(ctx context.Context) (float64, error)
	cpuPercent func(ctx context.Context, window time.Duration) (float64, error)
}

// New builds a sampler with production probes.
func New(command string, sizer Sizer) *Sampler {
	if command == "" {
		command = DefaultCommand
	}
	return &Sampler{
		Command:   command,
		Sizer:     sizer,
		CPUWindow: time.Second,
		Timeout:   3 * time.Second,
		run: func(ctx context.Context, name string, args ...string) ([]byte, error) {
			return exec.CommandContext(ctx, name, args...).Output()
		},
		memPercent: func(ctx context.Context) (float64, error) {
			vm, err := mem.VirtualMemoryWithContext(ctx)
			if err != nil {
				return 0, err
			}
			return vm.UsedPercent, nil
		},
		cpuPercent: func(ctx context.Context, window time.Duration) (float64, error) {
			pcts, err := cpu.PercentWithContext(ctx, window, false)
			if err != nil {
				return 0, err
			}
			if len(pcts) == 0 {
				return 0, fmt.Errorf("cpu: no aggregate sample")
			}
			return pcts[0], nil
		},
	}
}

// Sample gathers all five metrics concurrently and assembles a snapshot from
// whatever succeeded. It never returns an error: absence is per-field.
func (s *Sampler) Sample(ctx context.Context) codec.HostStatus {
	ctx, cancel := context.WithTimeout(ctx, s.Timeout)
	defer cancel()

	var (
		st codec.HostStatus
		mu sync.Mutex
		wg sync.WaitGroup
	)
	probe := func(name string, fn func() error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(); err != nil {
				metrics.IncProbeError(name)
				logging.L().Debug("host_probe_failed", "probe", name, "error", err)
			}
		}()
	}

	probe(metrics.ProbeTemp, func() error {
		v, err := s.measure(ctx, "measure_temp", "temp")
		if err != nil {
			return err
		}
		mu.Lock()
		st.TempC, st.TempOK = v, true
		mu.Unlock()
		return nil
	})
	probe(metrics.ProbeVoltage, func() error {
		v, err := s.measure(ctx, "measure_volts", "volt", "core")
		if err != nil {
			return err
		}
		mu.Lock()
		st.Voltage, st.VoltOK = v, true
		mu.Unlock()
		return nil
	})
	probe(metrics.ProbeRAM, func() error {
		v, err := s.memPercent(ctx)
		if err != nil {
			return err
		}
		mu.Lock()
		st.RAMPct, st.RAMOK = v, true
		mu.Unlock()
		return nil
	})
	probe(metrics.ProbeCPU, func() error {
		v, err := s.cpuPercent(ctx, s.CPUWindow)
		if err != nil {
			return err
		}
		mu.Lock()
		st.CPUPct, st.CPUOK = v, true
		mu.Unlock()
		return nil
	})
	probe(metrics.ProbeLogSize, func() error {
		if s.Sizer == nil {
			return fmt.Errorf("no log attached")
		}
		n, err := s.Sizer.Size()
		if err != nil {
			return err
		}
		mu.Lock()
		st.LogBytes, st.LogOK = n, true
		mu.Unlock()
		return nil
	})

	wg.Wait()
	return st
}

// measure invokes the measurement utility and parses its key=value output.
// extra arguments after the subcommand select the probe channel.
func (s *Sampler) measure(ctx context.Context, sub, key string, args ...string) (float64, error) {
	out, err := s.run(ctx, s.Command, append([]string{sub}, args...)...)
	if err != nil {
		return 0, fmt.Errorf("%s %s: %w", s.Command, sub, err)
	}
	return ParseMeasurement(string(out), key)
}

// ParseMeasurement extracts the numeric value from a measurement line of the
// form "name=<number><unit>", e.g. "temp=45.0'C" or "volt=1.2000V". The unit
// suffix is whatever trails the longest numeric prefix.
func ParseMeasurement(line, key string) (float64, error) {
	line = strings.TrimSpace(line)
	eq := strings.IndexByte(line, '=')
	if eq < 0 {
		return 0, fmt.Errorf("measurement %q: missing '='", line)
	}
	if got := line[:eq]; got != key {
		return 0, fmt.Errorf("measurement %q: key %q, want %q", line, got, key)
	}
	rest := line[eq+1:]
	end := 0
	for end < len(rest) {
		c := rest[end]
		if (c >= '0' && c <= '9') || c == '.' || (end == 0 && (c == '-' || c == '+')) {
			end++
			continue
		}
		break
	}
	if end == 0 {
		return 0, fmt.Errorf("measurement %q: no numeric value", line)
	}
	v, err := strconv.ParseFloat(rest[:end], 64)
	if err != nil {
		return 0, fmt.Errorf("measurement %q: %w", line, err)
	}
	return v, nil
}
