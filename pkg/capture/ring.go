package capture

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/teslashibe/go-camwatch/pkg/pixfmt"
)

// RingDevice is the device side of a RingBackend: a node that hands out a
// Driver for its buffer ring and answers format queries.
type RingDevice interface {
	Kind() Kind
	List() ([]DeviceDescriptor, error)

	// Open acquires the native handle and checks capabilities.
	Open(dev DeviceDescriptor) (Driver, error)
	// Close releases the native handle.
	Close() error

	// Formats lists advertised capture formats.
	Formats(req FormatRequest) ([]Format, error)
	// SetFormat applies f and returns what the device accepted.
	SetFormat(f Format) (Format, error)
	// CurrentFormat returns the active format and its frame size in bytes.
	CurrentFormat() (Format, int, error)
	// SetFrameRate requests fps and returns the resulting interval in 100ns.
	SetFrameRate(fps uint32) (int64, error)
}

// RingBackend runs the capture state machine over a Pool of driver
// buffers. Used by the V4L2 and mock backends.
type RingBackend struct {
	cfg    Config
	logger *slog.Logger
	device RingDevice

	// streamMu is held shared by AcquireFrame and exclusively by Stop, so
	// buffers are never unmapped under an in-flight acquire.
	streamMu sync.RWMutex

	mu      sync.Mutex
	state   State
	desc    DeviceDescriptor
	driver  Driver
	format  Format
	pool    *Pool
	handles teardown

	seq            atomic.Uint64
	framesCaptured atomic.Int64
	decodeFailures atomic.Int64
	timeouts       atomic.Int64
}

// NewRingBackend wraps device in the capture state machine.
func NewRingBackend(cfg Config, device RingDevice, logger *slog.Logger) *RingBackend {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BufferCount < 2 {
		cfg.BufferCount = DefaultBufferCount
	}
	if cfg.FrameTimeout <= 0 {
		cfg.FrameTimeout = FrameWaitTimeout
	}
	return &RingBackend{
		cfg:    cfg,
		logger: logger.With("backend", string(device.Kind())),
		device: device,
	}
}

func (b *RingBackend) Name() Kind { return b.device.Kind() }

func (b *RingBackend) ListDevices() ([]DeviceDescriptor, error) {
	devs, err := b.device.List()
	if err != nil {
		return nil, err
	}
	b.logger.Debug("enumerated devices", "count", len(devs))
	return devs, nil
}

// Open acquires the device. Closed -> Opened.
func (b *RingBackend) Open(dev DeviceDescriptor) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state != StateClosed {
		return fmt.Errorf("%w: open from %s", ErrInvalidState, b.state)
	}

	driver, err := b.device.Open(dev)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrDeviceOpenFailed, dev.ID, err)
	}
	b.desc = dev
	b.driver = driver
	b.handles.push("close device", func() error {
		b.driver = nil
		return b.device.Close()
	})
	b.state = StateOpened

	b.logger.Info("opened capture device", "device", dev.Name, "path", dev.ID)
	return nil
}

// Configure negotiates a format, applies the frame rate and maps the
// buffer ring. Opened -> Configured; the device stays Opened on failure.
func (b *RingBackend) Configure(req FormatRequest) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state != StateOpened {
		return fmt.Errorf("%w: configure from %s", ErrInvalidState, b.state)
	}

	caps, err := b.device.Formats(req)
	if err != nil {
		b.logger.Warn("format enumeration failed", "device", b.desc.Name, "error", err)
	}

	neg, note, err := Negotiate(caps, req, b.device.SetFormat, func() (Format, error) {
		f, _, err := b.device.CurrentFormat()
		return f, err
	})
	if note != "" {
		b.logger.Warn("using device current format", "device", b.desc.Name, "reason", note)
	}
	if err != nil {
		return err
	}

	format, size, err := b.device.CurrentFormat()
	if err != nil {
		return fmt.Errorf("%w: read back format: %v", ErrFormatNegotiationFailed, err)
	}
	format.FrameInterval100ns = neg.Format.FrameInterval100ns

	if req.FPS > 0 {
		interval, err := b.device.SetFrameRate(req.FPS)
		if err != nil {
			b.logger.Warn("could not set frame rate", "device", b.desc.Name, "fps", req.FPS, "error", err)
		} else if interval > 0 {
			format.FrameInterval100ns = interval
		}
	}

	if size <= 0 {
		size = pixfmt.FrameSize(format.PixelFormat, format.Width, format.Height)
	}
	pool, err := AllocatePool(b.driver, b.cfg.BufferCount, size)
	if err != nil {
		return err
	}

	b.pool = pool
	b.format = format
	b.handles.push("release buffers", func() error {
		b.pool = nil
		return pool.Close()
	})
	b.state = StateConfigured

	b.logger.Info("configured capture format",
		"device", b.desc.Name,
		"format", format.String(),
		"branch", neg.Branch.String(),
		"convert", neg.NeedsConversion,
		"buffers", pool.Len(),
	)
	return nil
}

// Start queues every buffer and turns streaming on. Configured -> Streaming.
func (b *RingBackend) Start() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state != StateConfigured {
		return fmt.Errorf("%w: start from %s", ErrInvalidState, b.state)
	}
	if err := b.pool.Start(); err != nil {
		return err
	}
	b.state = StateStreaming
	b.logger.Info("capture streaming", "device", b.desc.Name)
	return nil
}

// AcquireFrame dequeues one buffer, converts it and requeues it before
// returning.
func (b *RingBackend) AcquireFrame() *Frame {
	b.streamMu.RLock()
	defer b.streamMu.RUnlock()

	b.mu.Lock()
	if b.state != StateStreaming {
		b.mu.Unlock()
		return nil
	}
	pool, format := b.pool, b.format
	b.mu.Unlock()

	return acquireAndDecode(pool, b.cfg.FrameTimeout, format, b.logger, &b.seq, b.counters())
}

// Stop tears everything down in reverse order of acquisition. Idempotent.
func (b *RingBackend) Stop() error {
	b.streamMu.Lock()
	defer b.streamMu.Unlock()
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateClosed {
		return nil
	}
	err := b.handles.run()
	b.state = StateClosed
	b.format = Format{}
	if err != nil {
		b.logger.Warn("capture teardown reported errors", "device", b.desc.Name, "error", err)
	} else {
		b.logger.Info("capture stopped", "device", b.desc.Name)
	}
	return err
}

func (b *RingBackend) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *RingBackend) Format() Format {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.format
}

// Stats returns backend counters and current buffer ownership.
func (b *RingBackend) Stats() Stats {
	s := Stats{
		FramesCaptured: b.framesCaptured.Load(),
		DecodeFailures: b.decodeFailures.Load(),
		Timeouts:       b.timeouts.Load(),
	}
	b.mu.Lock()
	pool := b.pool
	b.mu.Unlock()
	if pool != nil {
		s.BuffersDriver, s.BuffersApp = pool.Counts()
	}
	return s
}

func (b *RingBackend) counters() frameCounters {
	return frameCounters{
		captured:       &b.framesCaptured,
		decodeFailures: &b.decodeFailures,
		timeouts:       &b.timeouts,
	}
}

var _ BackendWithStats = (*RingBackend)(nil)

type frameCounters struct {
	captured       *atomic.Int64
	decodeFailures *atomic.Int64
	timeouts       *atomic.Int64
}

// acquireAndDecode is the body of AcquireFrame shared by every backend.
func acquireAndDecode(src frameSource, timeout time.Duration, format Format, logger *slog.Logger, seq *atomic.Uint64, c frameCounters) *Frame {
	lease, err := src.AcquireFilled(timeout)
	if err != nil {
		if errors.Is(err, ErrNoFrameAvailable) {
			c.timeouts.Add(1)
		} else {
			logger.Debug("acquire failed", "error", err)
		}
		return nil
	}

	res, err := decodeLease(lease, format, logger)
	if err != nil {
		c.decodeFailures.Add(1)
		logger.Debug("dropping frame", "format", format.PixelFormat.String(), "error", err)
		return nil
	}
	c.captured.Add(1)
	return newFrame(seq.Add(1), res)
}
