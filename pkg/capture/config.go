package capture

import (
	"fmt"
	"time"
)

// Kind names a capture backend implementation.
type Kind string

const (
	// KindAuto selects the best backend compiled into this binary.
	KindAuto Kind = "auto"
	// KindV4L2 drives a Linux video character device directly.
	KindV4L2 Kind = "v4l2"
	// KindGStreamer drives a GStreamer capture graph.
	KindGStreamer Kind = "gstreamer"
	// KindMock produces synthetic frames without hardware.
	KindMock Kind = "mock"
)

const (
	// DefaultBufferCount is the number of driver buffers requested.
	DefaultBufferCount = 4

	// FrameWaitTimeout bounds a single AcquireFrame call.
	FrameWaitTimeout = 2 * time.Second
)

// Config holds backend settings.
type Config struct {
	// Backend selects the implementation.
	// Default: "auto"
	Backend Kind `yaml:"backend" json:"backend"`

	// BufferCount is the size of the driver buffer ring. Minimum 2.
	BufferCount int `yaml:"buffer_count" json:"buffer_count"`

	// FrameTimeout bounds the readiness wait in AcquireFrame.
	FrameTimeout time.Duration `yaml:"frame_timeout" json:"frame_timeout"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Backend:      KindAuto,
		BufferCount:  DefaultBufferCount,
		FrameTimeout: FrameWaitTimeout,
	}
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	switch c.Backend {
	case KindAuto, KindV4L2, KindGStreamer, KindMock:
	default:
		return fmt.Errorf("unknown backend %q", c.Backend)
	}
	if c.BufferCount < 2 {
		return fmt.Errorf("buffer_count must be at least 2, got %d", c.BufferCount)
	}
	if c.FrameTimeout <= 0 {
		return fmt.Errorf("frame_timeout must be positive, got %v", c.FrameTimeout)
	}
	return nil
}

// FormatRequest carries caller preferences into Configure. Zero fields mean
// no preference.
type FormatRequest struct {
	Width  int
	Height int
	FPS    uint32
}
