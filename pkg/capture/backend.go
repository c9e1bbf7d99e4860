package capture

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/teslashibe/go-camwatch/pkg/imageproc"
	"github.com/teslashibe/go-camwatch/pkg/pixfmt"
)

// Backend is a platform capture implementation.
//
// The lifecycle is Closed -> Opened -> Configured -> Streaming -> Closed.
// Configure failures leave the backend Opened. Stop always tears down to
// Closed and may be called in any state.
type Backend interface {
	// Name returns the backend kind.
	Name() Kind

	// ListDevices enumerates usable capture devices.
	ListDevices() ([]DeviceDescriptor, error)

	// Open acquires the device handle. Closed -> Opened.
	Open(dev DeviceDescriptor) error

	// Configure negotiates a format and allocates buffers. Opened -> Configured.
	Configure(req FormatRequest) error

	// Start queues all buffers and starts streaming. Configured -> Streaming.
	Start() error

	// AcquireFrame waits up to the frame timeout for one decoded frame.
	// It returns nil on timeout, on a per-frame decode failure, or when
	// the backend is not streaming.
	AcquireFrame() *Frame

	// Stop releases everything and returns to Closed. Idempotent.
	Stop() error

	// State returns the current lifecycle state.
	State() State

	// Format returns the negotiated format. Zero before Configure.
	Format() Format
}

// Stats holds backend counters.
type Stats struct {
	FramesCaptured int64 `json:"frames_captured"`
	DecodeFailures int64 `json:"decode_failures"`
	Timeouts       int64 `json:"timeouts"`
	BuffersDriver  int   `json:"buffers_driver"`
	BuffersApp     int   `json:"buffers_app"`
}

// BackendWithStats extends Backend with counters.
type BackendWithStats interface {
	Backend
	Stats() Stats
}

// frameSource is the acquire/release contract shared by the mmap ring and
// the single-slot mailbox.
type frameSource interface {
	AcquireFilled(timeout time.Duration) (*Lease, error)
	Counts() (driver, app int)
}

// decodeLease converts the leased buffer and hands it straight back to the
// driver. The returned frame never aliases the buffer.
func decodeLease(l *Lease, f Format, logger *slog.Logger) (pixfmt.Result, error) {
	res, err := pixfmt.Convert(f.PixelFormat, l.Bytes(), f.Width, f.Height, imageproc.DecodeJPEG)
	if relErr := l.Release(); relErr != nil {
		logger.Warn("buffer requeue failed", "index", l.Index(), "error", relErr)
	}
	if err != nil {
		return pixfmt.Result{}, fmt.Errorf("%w: %w", ErrDecodeFailed, err)
	}
	return res, nil
}

func newFrame(seq uint64, res pixfmt.Result) *Frame {
	return &Frame{
		ID:       uuid.New(),
		Seq:      seq,
		Width:    res.Width,
		Height:   res.Height,
		Data:     res.Data,
		Opaque:   res.Opaque,
		Captured: time.Now(),
	}
}
