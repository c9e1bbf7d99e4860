package capture

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/teslashibe/go-camwatch/pkg/pixfmt"
)

// MockStage names a lifecycle step where the mock can be told to fail.
type MockStage string

const (
	MockFailOpen       MockStage = "open"
	MockFailAllocate   MockStage = "allocate"
	MockFailQueue      MockStage = "queue"
	MockFailStreamOn   MockStage = "stream-on"
	MockFailSetFormat  MockStage = "set-format"
	MockFailCurrent    MockStage = "current-format"
	MockFailFrameRate  MockStage = "frame-rate"
	MockFailEnumFormat MockStage = "enum-format"
)

var errMockInjected = errors.New("injected failure")

// MockDevice is an in-memory RingDevice producing a moving test pattern.
type MockDevice struct {
	mu       sync.Mutex
	devices  []DeviceDescriptor
	formats  []Format
	current  Format
	interval time.Duration
	failures map[MockStage]bool
	opened   bool
	driver   *memDriver
	fill     func(buf []byte, f Format, seq uint64) int
}

// MockOption configures a MockDevice.
type MockOption func(*MockDevice)

// WithMockDevices replaces the enumerated device list.
func WithMockDevices(devs ...DeviceDescriptor) MockOption {
	return func(m *MockDevice) {
		m.devices = UniqueNames(append([]DeviceDescriptor(nil), devs...))
	}
}

// WithMockFormats replaces the advertised formats. The first one becomes
// the device's current format.
func WithMockFormats(formats ...Format) MockOption {
	return func(m *MockDevice) {
		m.formats = append([]Format(nil), formats...)
		if len(formats) > 0 {
			m.current = formats[0]
		}
	}
}

// WithMockFrameInterval sets how often the mock driver fills a buffer.
func WithMockFrameInterval(d time.Duration) MockOption {
	return func(m *MockDevice) {
		m.interval = d
	}
}

// WithMockFailure makes the given stage fail.
func WithMockFailure(stage MockStage) MockOption {
	return func(m *MockDevice) {
		m.failures[stage] = true
	}
}

// WithMockFill replaces the pattern generator. fill returns the number of
// bytes written.
func WithMockFill(fill func(buf []byte, f Format, seq uint64) int) MockOption {
	return func(m *MockDevice) {
		m.fill = fill
	}
}

// NewMockDevice creates a mock device advertising YUYV and RGB24 at 320x240.
func NewMockDevice(opts ...MockOption) *MockDevice {
	m := &MockDevice{
		devices: []DeviceDescriptor{
			{ID: "mock://0", Name: "Mock Camera"},
		},
		formats: []Format{
			{PixelFormat: pixfmt.YUYV, Width: 320, Height: 240, FrameInterval100ns: IntervalForFPS(30)},
			{PixelFormat: pixfmt.RGB24, Width: 320, Height: 240, FrameInterval100ns: IntervalForFPS(30)},
		},
		interval: 33 * time.Millisecond,
		failures: make(map[MockStage]bool),
		fill:     fillPattern,
	}
	m.current = m.formats[0]
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// NewMockBackend creates a RingBackend over a MockDevice.
func NewMockBackend(cfg Config, logger *slog.Logger, opts ...MockOption) *RingBackend {
	return NewRingBackend(cfg, NewMockDevice(opts...), logger)
}

func (m *MockDevice) Kind() Kind { return KindMock }

func (m *MockDevice) List() ([]DeviceDescriptor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]DeviceDescriptor(nil), m.devices...), nil
}

func (m *MockDevice) Open(dev DeviceDescriptor) (Driver, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failures[MockFailOpen] {
		return nil, errMockInjected
	}
	m.opened = true
	m.driver = &memDriver{device: m}
	return m.driver, nil
}

func (m *MockDevice) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.opened = false
	m.driver = nil
	return nil
}

// Opened reports whether the native handle is currently held.
func (m *MockDevice) Opened() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.opened
}

func (m *MockDevice) Formats(FormatRequest) ([]Format, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failures[MockFailEnumFormat] {
		return nil, errMockInjected
	}
	return append([]Format(nil), m.formats...), nil
}

func (m *MockDevice) SetFormat(f Format) (Format, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failures[MockFailSetFormat] {
		return Format{}, errMockInjected
	}
	m.current = f
	return f, nil
}

func (m *MockDevice) CurrentFormat() (Format, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failures[MockFailCurrent] {
		return Format{}, 0, errMockInjected
	}
	size := pixfmt.FrameSize(m.current.PixelFormat, m.current.Width, m.current.Height)
	if size == 0 {
		size = m.current.Width * m.current.Height * 3
	}
	return m.current, size, nil
}

func (m *MockDevice) SetFrameRate(fps uint32) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failures[MockFailFrameRate] {
		return 0, errMockInjected
	}
	return IntervalForFPS(fps), nil
}

var _ RingDevice = (*MockDevice)(nil)

// fillPattern writes a horizontal ramp that shifts each frame.
func fillPattern(buf []byte, f Format, seq uint64) int {
	n := pixfmt.FrameSize(f.PixelFormat, f.Width, f.Height)
	if n == 0 || n > len(buf) {
		n = len(buf)
	}
	for i := 0; i < n; i++ {
		buf[i] = byte(uint64(i) + seq*8)
	}
	return n
}

// memDriver is a Driver over heap buffers. Each WaitReady call sleeps one
// frame interval and then reports the oldest queued buffer as filled.
type memDriver struct {
	device *MockDevice

	mu        sync.Mutex
	buffers   [][]byte
	queued    []int
	streaming bool
	seq       uint64
}

func (d *memDriver) fail(stage MockStage) bool {
	d.device.mu.Lock()
	defer d.device.mu.Unlock()
	return d.device.failures[stage]
}

func (d *memDriver) RequestBuffers(count int) (int, error) {
	if count > 0 && d.fail(MockFailAllocate) {
		return 0, errMockInjected
	}
	_, size, err := d.device.CurrentFormat()
	if err != nil {
		return 0, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.buffers = make([][]byte, count)
	for i := range d.buffers {
		d.buffers[i] = make([]byte, size)
	}
	d.queued = nil
	return count, nil
}

func (d *memDriver) MapBuffer(index int) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if index < 0 || index >= len(d.buffers) {
		return nil, fmt.Errorf("no buffer %d", index)
	}
	return d.buffers[index], nil
}

func (d *memDriver) UnmapBuffer(int, []byte) error { return nil }

func (d *memDriver) QueueBuffer(index int) error {
	if d.fail(MockFailQueue) {
		return errMockInjected
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, q := range d.queued {
		if q == index {
			return fmt.Errorf("buffer %d already queued", index)
		}
	}
	d.queued = append(d.queued, index)
	return nil
}

func (d *memDriver) WaitReady(timeout time.Duration) (bool, error) {
	d.mu.Lock()
	ready := d.streaming && len(d.queued) > 0
	d.mu.Unlock()

	d.device.mu.Lock()
	interval := d.device.interval
	d.device.mu.Unlock()

	if !ready || interval > timeout {
		time.Sleep(timeout)
		return false, nil
	}
	time.Sleep(interval)
	return true, nil
}

func (d *memDriver) DequeueBuffer() (int, int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.streaming || len(d.queued) == 0 {
		return 0, 0, ErrNoFrameAvailable
	}
	idx := d.queued[0]
	d.queued = d.queued[1:]
	d.seq++

	d.device.mu.Lock()
	f, fill := d.device.current, d.device.fill
	d.device.mu.Unlock()

	n := fill(d.buffers[idx], f, d.seq)
	return idx, n, nil
}

func (d *memDriver) StreamOn() error {
	if d.fail(MockFailStreamOn) {
		return errMockInjected
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.streaming = true
	return nil
}

func (d *memDriver) StreamOff() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.streaming = false
	d.queued = nil
	return nil
}

// Queued returns the number of buffers waiting in the driver.
func (d *memDriver) Queued() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.queued)
}

var _ Driver = (*memDriver)(nil)
