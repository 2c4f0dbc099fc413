package main

import (
	"context"
	"log/slog"
	"sync"

	"github.com/evdash/telemetryd/internal/telemetry"
)

// The daemon is headless: these sinks stand in for the UI shell's dashboard
// and logger pages, rendering updates as structured log lines. A real
// presentation layer replaces them without touching the core.

// dashboardSink renders display-ready quantities.
type dashboardSink struct {
	l *slog.Logger
}

func (d *dashboardSink) OnUpdate(u telemetry.Update) {
	switch v := u.(type) {
	case telemetry.CabinTemp:
		d.l.Info("dash_cabin_temp", "celsius", v.Celsius)
	case telemetry.TrunkTemp:
		d.l.Info("dash_trunk_temp", "celsius", v.Celsius)
	case telemetry.Speed:
		d.l.Info("dash_speed", "mps", v.RawMPS, "mph", v.MPH, "percent", v.Percent)
	case telemetry.PackSOC:
		d.l.Info("dash_pack_soc", "percent", v.Percent, "watt_hours", v.WattHours)
	case telemetry.BPSFault:
		if v.Faulted {
			d.l.Warn("dash_bps_fault", "faulted", true)
		} else {
			d.l.Info("dash_bps_fault", "faulted", false)
		}
	}
}

// loggerSink is the raw-values page.
type loggerSink struct {
	l *slog.Logger
}

func (s *loggerSink) OnUpdate(u telemetry.Update) {
	s.l.Info("telemetry_update", "kind", u.Kind(), "value", u)
}

// startForeground owns the receive side of the update channel: it drains
// updates on its own schedule and routes them to the active page. The router
// is returned so the page-switch trigger can toggle it.
func startForeground(ctx context.Context, sink *telemetry.ChanSink, l *slog.Logger, wg *sync.WaitGroup) *telemetry.Router {
	router := telemetry.NewRouter()
	router.Register(telemetry.PageDashboard, &dashboardSink{l: l})
	router.Register(telemetry.PageLogger, &loggerSink{l: l})

	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case u := <-sink.Updates():
				router.OnUpdate(u)
			case <-ctx.Done():
				return
			}
		}
	}()
	return router
}
