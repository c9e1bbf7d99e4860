// Package dispatch rate-gates decoded frames and hands them to a consumer
// on its own goroutine.
package dispatch

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/teslashibe/go-camwatch/pkg/capture"
)

// dropLogEvery controls how often rate-gate drops are logged.
const dropLogEvery = 30

// Handler consumes delivered frames. Calls are serialized.
type Handler func(capture.FrameInfo)

// Clock returns the current time.
type Clock func() time.Time

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) {
		if l != nil {
			d.logger = l
		}
	}
}

// WithClock replaces time.Now for the rate gate.
func WithClock(c Clock) Option {
	return func(d *Dispatcher) {
		if c != nil {
			d.now = c
		}
	}
}

// Stats holds dispatcher counters.
type Stats struct {
	Received    uint64 `json:"received"`
	Accepted    uint64 `json:"accepted"`
	Delivered   uint64 `json:"delivered"`
	RateDropped uint64 `json:"rate_dropped"`
	BusyDropped uint64 `json:"busy_dropped"`
	TargetFPS   uint32 `json:"target_fps"`
}

// Dispatcher forwards at most targetFPS frames per second to a Handler.
//
// OnFrameReady never blocks: accepted frames go through a one-slot channel
// to a single delivery goroutine. When that slot is still occupied the
// frame is dropped and the gate does not advance, so the next frame is
// eligible immediately.
type Dispatcher struct {
	logger  *slog.Logger
	now     Clock
	handler Handler

	mu        sync.Mutex
	targetFPS uint32
	interval  time.Duration
	lastEmit  time.Time
	closed    bool

	queue chan capture.FrameInfo
	done  chan struct{}

	received    atomic.Uint64
	accepted    atomic.Uint64
	delivered   atomic.Uint64
	rateDropped atomic.Uint64
	busyDropped atomic.Uint64
}

// New starts a dispatcher delivering to handler. fps 0 forwards every frame.
func New(fps uint32, handler Handler, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		logger:  slog.Default(),
		now:     time.Now,
		handler: handler,
		queue:   make(chan capture.FrameInfo, 1),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.setTargetFPS(fps)
	go d.deliver()
	return d
}

func intervalFor(fps uint32) time.Duration {
	if fps == 0 {
		return 0
	}
	return time.Second / time.Duration(fps)
}

func (d *Dispatcher) setTargetFPS(fps uint32) {
	d.targetFPS = fps
	d.interval = intervalFor(fps)
}

// SetTargetFPS changes the rate gate. 0 disables gating.
func (d *Dispatcher) SetTargetFPS(fps uint32) {
	d.mu.Lock()
	d.setTargetFPS(fps)
	d.mu.Unlock()
	d.logger.Debug("dispatcher rate changed", "fps", fps)
}

// OnFrameReady offers f to the consumer. It reports whether the frame was
// queued for delivery.
func (d *Dispatcher) OnFrameReady(f *capture.Frame) bool {
	if f == nil {
		return false
	}
	d.received.Add(1)

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return false
	}
	now := d.now()
	if d.interval > 0 && !d.lastEmit.IsZero() && now.Sub(d.lastEmit) < d.interval {
		if n := d.rateDropped.Add(1); n%dropLogEvery == 0 {
			d.logger.Debug("dropping frames above target rate", "dropped", n, "fps", d.targetFPS)
		}
		return false
	}

	select {
	case d.queue <- f.Info():
	default:
		if n := d.busyDropped.Add(1); n%dropLogEvery == 0 {
			d.logger.Debug("consumer busy, dropping frames", "dropped", n)
		}
		return false
	}
	if now.After(d.lastEmit) {
		d.lastEmit = now
	}
	d.accepted.Add(1)
	return true
}

func (d *Dispatcher) deliver() {
	defer close(d.done)
	for info := range d.queue {
		if d.handler != nil {
			d.handler(info)
		}
		d.delivered.Add(1)
	}
}

// LastEmit returns the time the last accepted frame passed the gate.
func (d *Dispatcher) LastEmit() time.Time {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastEmit
}

// Stats returns a snapshot of the counters.
func (d *Dispatcher) Stats() Stats {
	d.mu.Lock()
	fps := d.targetFPS
	d.mu.Unlock()
	return Stats{
		Received:    d.received.Load(),
		Accepted:    d.accepted.Load(),
		Delivered:   d.delivered.Load(),
		RateDropped: d.rateDropped.Load(),
		BusyDropped: d.busyDropped.Load(),
		TargetFPS:   fps,
	}
}

// Close stops accepting frames and waits for the in-flight delivery, if
// any, to finish. Safe to call twice.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		<-d.done
		return
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()
	<-d.done
}
