// Package motion detects scene changes by comparing each frame against a
// baseline and emits JPEG-encoded change events.
package motion

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/teslashibe/go-camwatch/pkg/capture"
	"github.com/teslashibe/go-camwatch/pkg/imageproc"
)

// Defaults.
const (
	DefaultThreshold    = 0.1
	DefaultPixels       = 1000
	DefaultInitialDelay = 10 * time.Second
	DefaultCooldown     = 300 * time.Second

	// MaxPixels caps IncreasePixels at the largest frame accepted.
	MaxPixels = imageproc.MaxDimension * imageproc.MaxDimension
)

var (
	// ErrNoBaseline is returned by LastImage before the first frame.
	ErrNoBaseline = errors.New("no baseline frame yet")

	// ErrOpaqueFrame is returned for frames that are not RGB24.
	ErrOpaqueFrame = errors.New("frame is not RGB24")
)

// Config holds detector thresholds.
type Config struct {
	// Threshold is the per-pixel average channel difference, as a
	// fraction of 255, above which a pixel counts as changed.
	Threshold float64 `json:"threshold"`

	// Pixels is how many changed pixels make a scene change.
	Pixels int `json:"pixels"`

	// Quality is the JPEG quality of event images.
	Quality int `json:"quality"`

	// InitialDelay suppresses alerts after the detector is created.
	InitialDelay time.Duration `json:"initial_delay"`

	// Cooldown is the minimum time between two alerts.
	Cooldown time.Duration `json:"cooldown"`
}

// DefaultConfig returns the stock thresholds.
func DefaultConfig() Config {
	return Config{
		Threshold:    DefaultThreshold,
		Pixels:       DefaultPixels,
		Quality:      imageproc.DefaultQuality,
		InitialDelay: DefaultInitialDelay,
		Cooldown:     DefaultCooldown,
	}
}

// Validate checks the thresholds.
func (c Config) Validate() error {
	if c.Threshold < 0 || c.Threshold > 1 || c.Threshold != c.Threshold {
		return fmt.Errorf("threshold must be in [0,1], got %v", c.Threshold)
	}
	if c.Pixels < 1 {
		return fmt.Errorf("pixels must be positive, got %d", c.Pixels)
	}
	if c.Quality < 1 || c.Quality > 100 {
		return fmt.Errorf("quality must be between 1 and 100, got %d", c.Quality)
	}
	if c.InitialDelay < 0 || c.Cooldown < 0 {
		return fmt.Errorf("delays must not be negative")
	}
	return nil
}

// Event describes one detected change.
type Event struct {
	ID         uuid.UUID `json:"id"`
	Time       time.Time `json:"time"`
	DiffPixels int       `json:"diff_pixels"`
	Width      int       `json:"width"`
	Height     int       `json:"height"`

	// Alert is true when the event passed the warmup and cooldown gates
	// and was handed to the change handler.
	Alert bool `json:"alert"`

	JPEG []byte `json:"-"`
}

// Option configures a Detector.
type Option func(*Detector)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *Detector) {
		if l != nil {
			d.logger = l
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(d *Detector) {
		if now != nil {
			d.now = now
		}
	}
}

// WithChangeHandler registers fn for alerting events.
func WithChangeHandler(fn func(Event)) Option {
	return func(d *Detector) {
		d.onChange = fn
	}
}

// Stats holds detector counters.
type Stats struct {
	Frames      uint64    `json:"frames"`
	Changes     uint64    `json:"changes"`
	Alerts      uint64    `json:"alerts"`
	Errors      uint64    `json:"errors"`
	LastChange  time.Time `json:"last_change,omitempty"`
	LastAlert   time.Time `json:"last_alert,omitempty"`
	Pixels      int       `json:"pixels"`
	HasBaseline bool      `json:"has_baseline"`
}

// Detector compares frames against a baseline. The baseline only moves
// when a change is detected, so slow drift accumulates until it crosses
// the pixel threshold.
type Detector struct {
	logger   *slog.Logger
	now      func() time.Time
	onChange func(Event)

	mu         sync.Mutex
	cfg        Config
	created    time.Time
	baseline   []byte
	width      int
	height     int
	lastChange time.Time
	lastAlert  time.Time

	frames  atomic.Uint64
	changes atomic.Uint64
	alerts  atomic.Uint64
	errs    atomic.Uint64
}

// NewDetector creates a detector. Invalid thresholds are rejected.
func NewDetector(cfg Config, opts ...Option) (*Detector, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	d := &Detector{
		logger: slog.Default(),
		now:    time.Now,
		cfg:    cfg,
	}
	for _, opt := range opts {
		opt(d)
	}
	d.created = d.now()
	return d, nil
}

// Process compares info against the baseline. It returns nil when nothing
// changed. The first frame, and any frame whose size differs from the
// baseline, becomes the new baseline without an event.
func (d *Detector) Process(info capture.FrameInfo) (*Event, error) {
	d.frames.Add(1)
	if info.Opaque {
		d.errs.Add(1)
		return nil, ErrOpaqueFrame
	}
	w, h := int(info.Width), int(info.Height)

	d.mu.Lock()
	if d.baseline == nil || d.width != w || d.height != h {
		d.setBaselineLocked(info.Data, w, h)
		d.mu.Unlock()
		d.logger.Debug("baseline reset", "width", w, "height", h)
		return nil, nil
	}

	cfg := d.cfg
	diff, err := imageproc.CompareRGBImages(d.baseline, info.Data, w, h, cfg.Threshold)
	if err != nil {
		d.mu.Unlock()
		d.errs.Add(1)
		return nil, fmt.Errorf("compare frames: %w", err)
	}
	if diff < cfg.Pixels {
		d.mu.Unlock()
		return nil, nil
	}

	jpeg, err := imageproc.EncodeJPEG(info.Data, w, h, cfg.Quality)
	if err != nil {
		d.mu.Unlock()
		d.errs.Add(1)
		return nil, fmt.Errorf("encode change image: %w", err)
	}
	d.setBaselineLocked(info.Data, w, h)

	now := d.now()
	ev := &Event{
		ID:         uuid.New(),
		Time:       now,
		DiffPixels: diff,
		Width:      w,
		Height:     h,
		JPEG:       jpeg,
	}
	d.lastChange = now
	if now.Sub(d.created) >= cfg.InitialDelay &&
		(d.lastAlert.IsZero() || now.Sub(d.lastAlert) >= cfg.Cooldown) {
		ev.Alert = true
		d.lastAlert = now
	}
	onChange := d.onChange
	d.mu.Unlock()

	d.changes.Add(1)
	d.logger.Info("scene change detected", "diff_pixels", diff, "alert", ev.Alert)
	if ev.Alert {
		d.alerts.Add(1)
		if onChange != nil {
			onChange(*ev)
		}
	}
	return ev, nil
}

func (d *Detector) setBaselineLocked(data []byte, w, h int) {
	if cap(d.baseline) < len(data) {
		d.baseline = make([]byte, len(data))
	}
	d.baseline = d.baseline[:len(data)]
	copy(d.baseline, data)
	d.width, d.height = w, h
}

// LastImage encodes the current baseline as JPEG.
func (d *Detector) LastImage() ([]byte, error) {
	d.mu.Lock()
	if d.baseline == nil {
		d.mu.Unlock()
		return nil, ErrNoBaseline
	}
	data := append([]byte(nil), d.baseline...)
	w, h, q := d.width, d.height, d.cfg.Quality
	d.mu.Unlock()
	return imageproc.EncodeJPEG(data, w, h, q)
}

// Reset drops the baseline so the next frame starts over.
func (d *Detector) Reset() {
	d.mu.Lock()
	d.baseline = nil
	d.width, d.height = 0, 0
	d.mu.Unlock()
}

// IncreasePixels doubles the pixel threshold, up to MaxPixels, making
// detection less sensitive, and returns the new value.
func (d *Detector) IncreasePixels() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cfg.Pixels = min(d.cfg.Pixels*2, MaxPixels)
	d.logger.Info("change threshold raised", "pixels", d.cfg.Pixels)
	return d.cfg.Pixels
}

// DecreasePixels halves the pixel threshold, rounding up, and returns the
// new value.
func (d *Detector) DecreasePixels() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cfg.Pixels = (d.cfg.Pixels + 1) / 2
	d.logger.Info("change threshold lowered", "pixels", d.cfg.Pixels)
	return d.cfg.Pixels
}

// Config returns the active thresholds.
func (d *Detector) Config() Config {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cfg
}

// SetConfig replaces the thresholds. The baseline and timers are kept.
func (d *Detector) SetConfig(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	d.mu.Lock()
	d.cfg = cfg
	d.mu.Unlock()
	return nil
}

// Stats returns a snapshot of the counters.
func (d *Detector) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return Stats{
		Frames:      d.frames.Load(),
		Changes:     d.changes.Load(),
		Alerts:      d.alerts.Load(),
		Errors:      d.errs.Load(),
		LastChange:  d.lastChange,
		LastAlert:   d.lastAlert,
		Pixels:      d.cfg.Pixels,
		HasBaseline: d.baseline != nil,
	}
}
