package telemetry

import (
	"sync"

	"github.com/evdash/telemetryd/internal/metrics"
)

// Sink consumes telemetry updates. The UI shell implements it; the core never
// calls into presentation logic beyond OnUpdate.
type Sink interface {
	OnUpdate(Update)
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(Update)

func (f SinkFunc) OnUpdate(u Update) { f(u) }

// ChanSink delivers updates over a buffered channel with send-and-forget
// semantics: if the foreground consumer falls behind and the buffer fills,
// the update is dropped and counted rather than blocking the ingest loop.
type ChanSink struct {
	ch chan Update
}

// NewChanSink creates a sink buffering up to buf updates.
func NewChanSink(buf int) *ChanSink {
	if buf <= 0 {
		buf = 64
	}
	return &ChanSink{ch: make(chan Update, buf)}
}

// OnUpdate enqueues without blocking; full buffer drops the update.
func (s *ChanSink) OnUpdate(u Update) {
	select {
	case s.ch <- u:
	default:
		metrics.IncSinkDrop()
	}
}

// Updates exposes the receive side for the foreground to drain.
func (s *ChanSink) Updates() <-chan Update { return s.ch }

// Page identifies which presentation surface is active.
type Page int

const (
	PageDashboard Page = iota
	PageLogger
)

func (p Page) String() string {
	switch p {
	case PageDashboard:
		return "dashboard"
	case PageLogger:
		return "logger"
	}
	return "unknown"
}

// Router forwards updates to the sink registered for the currently active
// page. Page selection is an explicit enum switched by the page-change
// trigger, not runtime type inspection of widgets.
type Router struct {
	mu    sync.RWMutex
	page  Page
	sinks map[Page]Sink
}

// NewRouter creates a router starting on the dashboard page.
func NewRouter() *Router {
	return &Router{sinks: make(map[Page]Sink)}
}

// Register binds a sink to a page, replacing any previous binding.
func (r *Router) Register(p Page, s Sink) {
	r.mu.Lock()
	r.sinks[p] = s
	r.mu.Unlock()
}

// Page returns the currently active page.
func (r *Router) Page() Page {
	r.mu.RLock()
	p := r.page
	r.mu.RUnlock()
	return p
}

// Switch toggles between the dashboard and logger pages and returns the page
// now active.
func (r *Router) Switch() Page {
	r.mu.Lock()
	if r.page == PageDashboard {
		r.page = PageLogger
	} else {
		r.page = PageDashboard
	}
	p := r.page
	r.mu.Unlock()
	return p
}

// OnUpdate forwards to the active page's sink only. Pages without a sink
// swallow updates.
func (r *Router) OnUpdate(u Update) {
	r.mu.RLock()
	s := r.sinks[r.page]
	r.mu.RUnlock()
	if s != nil {
		s.OnUpdate(u)
	}
}
