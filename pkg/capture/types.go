// Package capture drives camera devices through a small state machine and
// yields decoded RGB24 frames.
//
// Backends are chosen at build time: V4L2 on Linux, a GStreamer graph when
// built with the gstreamer tag, and an in-memory mock everywhere.
package capture

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/teslashibe/go-camwatch/pkg/pixfmt"
)

// DeviceDescriptor identifies one camera. ID is a device path such as
// /dev/video0 or a backend URI such as video://0.
type DeviceDescriptor struct {
	ID   string `json:"path"`
	Name string `json:"name"`
}

// Format is a negotiated capture format. Immutable once chosen.
type Format struct {
	PixelFormat        pixfmt.PixelFormat `json:"pixel_format"`
	Width              int                `json:"width"`
	Height             int                `json:"height"`
	FrameInterval100ns int64              `json:"frame_interval_100ns"`
}

// FPS returns the nominal frame rate, or 0 when the interval is unknown.
func (f Format) FPS() float64 {
	if f.FrameInterval100ns <= 0 {
		return 0
	}
	return 1e7 / float64(f.FrameInterval100ns)
}

func (f Format) String() string {
	if fps := f.FPS(); fps > 0 {
		return fmt.Sprintf("%s %dx%d@%.1f", f.PixelFormat, f.Width, f.Height, fps)
	}
	return fmt.Sprintf("%s %dx%d", f.PixelFormat, f.Width, f.Height)
}

// IntervalForFPS converts a frame rate into 100ns units.
func IntervalForFPS(fps uint32) int64 {
	if fps == 0 {
		return 0
	}
	return int64(1e7) / int64(fps)
}

// Frame is one decoded image. Data is a fresh allocation owned by whoever
// holds the Frame; it never aliases a driver buffer.
type Frame struct {
	ID       uuid.UUID
	Seq      uint64
	Width    int
	Height   int
	Data     []byte
	Opaque   bool
	Captured time.Time
}

// Info returns an independent copy of the frame for handing to consumers.
func (f *Frame) Info() FrameInfo {
	data := make([]byte, len(f.Data))
	copy(data, f.Data)
	return FrameInfo{
		Width:    uint32(f.Width),
		Height:   uint32(f.Height),
		DataSize: uint32(len(data)),
		Data:     data,
		Opaque:   f.Opaque,
	}
}

// FrameInfo is the consumer-facing frame snapshot.
type FrameInfo struct {
	Width    uint32 `json:"width"`
	Height   uint32 `json:"height"`
	DataSize uint32 `json:"data_size"`
	Data     []byte `json:"-"`

	// Opaque is set when Data holds the device's raw bytes rather than
	// RGB24.
	Opaque bool `json:"opaque,omitempty"`
}

// State is a backend lifecycle state.
type State int

const (
	StateClosed State = iota
	StateOpened
	StateConfigured
	StateStreaming
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpened:
		return "opened"
	case StateConfigured:
		return "configured"
	case StateStreaming:
		return "streaming"
	}
	return fmt.Sprintf("state(%d)", int(s))
}
