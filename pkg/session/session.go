// Package session binds one capture backend to one dispatcher and runs the
// acquire-decode-dispatch loop.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/teslashibe/go-camwatch/pkg/capture"
	"github.com/teslashibe/go-camwatch/pkg/dispatch"
)

// DefaultStallTimeout is how long the loop may go without a frame before
// the stall handler fires.
const DefaultStallTimeout = 5 * time.Second

// DefaultRetryInterval is the minimum spacing between acquire attempts
// that come back empty, such as after the device is unplugged.
const DefaultRetryInterval = time.Second / 30

// ErrSessionActive is returned by StartCapture while a capture is running.
var ErrSessionActive = errors.New("capture session already active")

// DeviceInfo is the caller-facing view of a capture device.
type DeviceInfo struct {
	Name string `json:"name"`
	Path string `json:"path"`
}

// Option configures a Session.
type Option func(*Session)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Session) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithResolution asks the backend for a frame size. Zero means no
// preference.
func WithResolution(width, height int) Option {
	return func(s *Session) {
		s.width, s.height = width, height
	}
}

// WithStallTimeout overrides DefaultStallTimeout. 0 disables the watchdog.
func WithStallTimeout(d time.Duration) Option {
	return func(s *Session) {
		s.stallTimeout = d
	}
}

// WithRetryInterval overrides DefaultRetryInterval.
func WithRetryInterval(d time.Duration) Option {
	return func(s *Session) {
		s.retryInterval = d
	}
}

// WithStallHandler is called from the capture goroutine once per stall.
// fn must not call back into the Session.
func WithStallHandler(fn func(silence time.Duration)) Option {
	return func(s *Session) {
		s.onStall = fn
	}
}

// WithPathCheck replaces the literal device path check used during
// resolution.
func WithPathCheck(fn func(string) bool) Option {
	return func(s *Session) {
		s.pathExists = fn
	}
}

// Session owns a backend for the duration of a capture. Only one capture
// can run on a Session at a time.
type Session struct {
	id      string
	backend capture.Backend
	logger  *slog.Logger

	width, height int
	stallTimeout  time.Duration
	retryInterval time.Duration
	onStall       func(time.Duration)
	pathExists    func(string) bool

	mu         sync.Mutex
	active     bool
	stop       chan struct{}
	done       chan struct{}
	dispatcher *dispatch.Dispatcher
	device     capture.DeviceDescriptor
	startedAt  time.Time

	latestMu sync.RWMutex
	latest   *capture.Frame

	frames    atomic.Uint64
	stalls    atomic.Uint64
	lastFrame atomic.Int64
}

// New creates an idle session over backend.
func New(backend capture.Backend, opts ...Option) *Session {
	s := &Session{
		id:            uuid.New().String(),
		backend:       backend,
		logger:        slog.Default(),
		stallTimeout:  DefaultStallTimeout,
		retryInterval: DefaultRetryInterval,
		pathExists:    pathExists,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("session", s.id)
	return s
}

func pathExists(p string) bool {
	_, err := os.Stat(p)
	return err == nil
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Backend returns the underlying capture backend.
func (s *Session) Backend() capture.Backend { return s.backend }

// Active reports whether a capture is running.
func (s *Session) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// ListDevices enumerates devices on the session's backend.
func (s *Session) ListDevices() ([]DeviceInfo, error) {
	devs, err := s.backend.ListDevices()
	if err != nil {
		return nil, err
	}
	out := make([]DeviceInfo, 0, len(devs))
	for _, d := range devs {
		out = append(out, DeviceInfo{Name: d.Name, Path: d.ID})
	}
	return out, nil
}

// StartCapture resolves nameOrPath, opens and configures the device, starts
// streaming and spawns the capture goroutine. Any failure releases
// everything acquired so far before returning. ctx bounds establishment
// only; use StopCapture to end the capture.
func (s *Session) StartCapture(ctx context.Context, nameOrPath string, fps uint32, onFrame dispatch.Handler) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active {
		return ErrSessionActive
	}

	dev, err := s.establish(ctx, nameOrPath, fps)
	if err != nil {
		if stopErr := s.backend.Stop(); stopErr != nil {
			s.logger.Warn("unwind after failed start reported errors", "error", stopErr)
		}
		s.logger.Error("capture start failed", "device", nameOrPath, "error", err)
		return err
	}

	s.device = dev
	s.startedAt = time.Now()
	s.lastFrame.Store(s.startedAt.UnixNano())
	s.dispatcher = dispatch.New(fps, onFrame, dispatch.WithLogger(s.logger))
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	s.active = true
	go s.loop(s.stop, s.done, s.dispatcher)

	s.logger.Info("capture started",
		"device", dev.Name,
		"path", dev.ID,
		"format", s.backend.Format().String(),
		"fps", fps,
	)
	return nil
}

func (s *Session) establish(ctx context.Context, nameOrPath string, fps uint32) (capture.DeviceDescriptor, error) {
	devs, err := s.backend.ListDevices()
	if err != nil {
		return capture.DeviceDescriptor{}, fmt.Errorf("list devices: %w", err)
	}
	dev, match, err := capture.ResolveDevice(devs, nameOrPath, s.pathExists)
	if err != nil {
		return capture.DeviceDescriptor{}, err
	}
	if match == capture.MatchFirstAvailable {
		s.logger.Warn("requested device not found, using first available",
			"requested", nameOrPath, "device", dev.Name, "path", dev.ID)
	}

	steps := []func() error{
		func() error { return s.backend.Open(dev) },
		func() error {
			return s.backend.Configure(capture.FormatRequest{Width: s.width, Height: s.height, FPS: fps})
		},
		s.backend.Start,
	}
	for _, step := range steps {
		if err := ctx.Err(); err != nil {
			return capture.DeviceDescriptor{}, err
		}
		if err := step(); err != nil {
			return capture.DeviceDescriptor{}, err
		}
	}
	return dev, nil
}

func (s *Session) loop(stop <-chan struct{}, done chan<- struct{}, d *dispatch.Dispatcher) {
	defer close(done)

	stalled := false
	for {
		select {
		case <-stop:
			return
		default:
		}

		began := time.Now()
		f := s.backend.AcquireFrame()
		if f == nil {
			silence := time.Since(time.Unix(0, s.lastFrame.Load()))
			if s.stallTimeout > 0 && !stalled && silence >= s.stallTimeout {
				stalled = true
				s.stalls.Add(1)
				s.logger.Error("no frames received", "device", s.device.Name, "silence", silence)
				if s.onStall != nil {
					s.onStall(silence)
				}
			}
			if !s.backoff(stop, time.Since(began)) {
				return
			}
			continue
		}

		if stalled {
			stalled = false
			s.logger.Info("frames resumed", "device", s.device.Name)
		}
		s.lastFrame.Store(f.Captured.UnixNano())
		s.frames.Add(1)

		s.latestMu.Lock()
		s.latest = f
		s.latestMu.Unlock()

		d.OnFrameReady(f)
	}
}

// backoff waits out the rest of the retry interval after an empty acquire
// that took elapsed. It returns false if stop closed while waiting.
func (s *Session) backoff(stop <-chan struct{}, elapsed time.Duration) bool {
	wait := s.retryInterval - elapsed
	if wait <= 0 {
		return true
	}
	t := time.NewTimer(wait)
	defer t.Stop()
	select {
	case <-stop:
		return false
	case <-t.C:
		return true
	}
}

// StopCapture ends the capture: it signals the loop, waits for it, closes
// the dispatcher and releases the device. Safe to call at any time.
func (s *Session) StopCapture() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.active {
		return
	}
	close(s.stop)
	<-s.done
	s.dispatcher.Close()
	if err := s.backend.Stop(); err != nil {
		s.logger.Warn("backend teardown reported errors", "error", err)
	}
	s.active = false

	s.logger.Info("capture stopped",
		"device", s.device.Name,
		"frames", s.frames.Load(),
		"uptime", time.Since(s.startedAt).Round(time.Millisecond),
	)
}

// GetFrame returns a copy of the most recent frame.
func (s *Session) GetFrame() (capture.FrameInfo, bool) {
	s.latestMu.RLock()
	defer s.latestMu.RUnlock()
	if s.latest == nil {
		return capture.FrameInfo{}, false
	}
	return s.latest.Info(), true
}

// SetTargetFPS changes the delivery rate of a running capture.
func (s *Session) SetTargetFPS(fps uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dispatcher != nil && s.active {
		s.dispatcher.SetTargetFPS(fps)
	}
}

// Stats is a point-in-time view of a session.
type Stats struct {
	ID          string         `json:"id"`
	Active      bool           `json:"active"`
	Backend     capture.Kind   `json:"backend"`
	State       string         `json:"state"`
	Device      DeviceInfo     `json:"device"`
	Format      string         `json:"format,omitempty"`
	StartedAt   time.Time      `json:"started_at,omitempty"`
	LastFrameAt time.Time      `json:"last_frame_at,omitempty"`
	Frames      uint64         `json:"frames"`
	Stalls      uint64         `json:"stalls"`
	Dispatch    dispatch.Stats `json:"dispatch"`
	Capture     *capture.Stats `json:"capture,omitempty"`
}

// Stats returns session, dispatcher and backend counters.
func (s *Session) Stats() Stats {
	s.mu.Lock()
	st := Stats{
		ID:        s.id,
		Active:    s.active,
		Backend:   s.backend.Name(),
		State:     s.backend.State().String(),
		Device:    DeviceInfo{Name: s.device.Name, Path: s.device.ID},
		StartedAt: s.startedAt,
		Frames:    s.frames.Load(),
		Stalls:    s.stalls.Load(),
	}
	if s.active {
		st.Format = s.backend.Format().String()
		st.LastFrameAt = time.Unix(0, s.lastFrame.Load())
	}
	if s.dispatcher != nil {
		st.Dispatch = s.dispatcher.Stats()
	}
	s.mu.Unlock()

	if b, ok := s.backend.(capture.BackendWithStats); ok {
		cs := b.Stats()
		st.Capture = &cs
	}
	return st
}
