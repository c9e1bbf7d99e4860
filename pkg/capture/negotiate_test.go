package capture

import (
	"errors"
	"testing"

	"github.com/teslashibe/go-camwatch/pkg/pixfmt"
)

func fmtOf(p pixfmt.PixelFormat, w, h int) Format {
	return Format{PixelFormat: p, Width: w, Height: h}
}

func TestSelectFormat(t *testing.T) {
	tests := []struct {
		name   string
		caps   []Format
		want   pixfmt.PixelFormat
		branch Branch
		ok     bool
	}{
		{"rgb beats earlier yuv", []Format{fmtOf(pixfmt.YUYV, 640, 480), fmtOf(pixfmt.RGB24, 640, 480)}, pixfmt.RGB24, BranchRGB, true},
		{"rgb32 counts as rgb", []Format{fmtOf(pixfmt.MJPEG, 640, 480), fmtOf(pixfmt.RGB32, 640, 480)}, pixfmt.RGB32, BranchRGB, true},
		{"first yuv wins", []Format{fmtOf(pixfmt.NV12, 640, 480), fmtOf(pixfmt.YUY2, 320, 240), fmtOf(pixfmt.YUYV, 640, 480)}, pixfmt.YUY2, BranchYUV, true},
		{"nothing usable", []Format{fmtOf(pixfmt.MJPEG, 640, 480), fmtOf(pixfmt.NV12, 640, 480)}, pixfmt.Unknown, BranchNone, false},
		{"empty", nil, pixfmt.Unknown, BranchNone, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, branch, ok := SelectFormat(tt.caps)
			if ok != tt.ok || branch != tt.branch || got.PixelFormat != tt.want {
				t.Errorf("Expected (%s, %s, %v), got (%s, %s, %v)", tt.want, tt.branch, tt.ok, got.PixelFormat, branch, ok)
			}
		})
	}
}

func TestNegotiate_AppliesChoice(t *testing.T) {
	caps := []Format{fmtOf(pixfmt.YUYV, 320, 240), fmtOf(pixfmt.YUYV, 640, 480)}
	var applied Format
	set := func(f Format) (Format, error) { applied = f; return f, nil }
	current := func() (Format, error) { t.Fatal("current format read unexpectedly"); return Format{}, nil }

	neg, note, err := Negotiate(caps, FormatRequest{Width: 640, Height: 480, FPS: 10}, set, current)
	if err != nil {
		t.Fatalf("Negotiate failed: %v", err)
	}
	if note != "" {
		t.Errorf("Expected no note, got %q", note)
	}
	if applied.Width != 640 || applied.Height != 480 {
		t.Errorf("Expected requested size 640x480, got %dx%d", applied.Width, applied.Height)
	}
	if applied.FrameInterval100ns != 1000000 {
		t.Errorf("Expected interval 1000000, got %d", applied.FrameInterval100ns)
	}
	if neg.Branch != BranchYUV || !neg.NeedsConversion {
		t.Errorf("Expected yuv branch needing conversion, got %+v", neg)
	}
}

func TestNegotiate_RGB24NeedsNoConversion(t *testing.T) {
	set := func(f Format) (Format, error) { return f, nil }
	neg, _, err := Negotiate([]Format{fmtOf(pixfmt.RGB24, 8, 8)}, FormatRequest{}, set, nil)
	if err != nil {
		t.Fatalf("Negotiate failed: %v", err)
	}
	if neg.NeedsConversion {
		t.Error("Expected RGB24 to need no conversion")
	}
}

func TestNegotiate_FallsBackToCurrent(t *testing.T) {
	cur := fmtOf(pixfmt.MJPEG, 1280, 720)
	current := func() (Format, error) { return cur, nil }

	t.Run("no candidates", func(t *testing.T) {
		neg, note, err := Negotiate([]Format{fmtOf(pixfmt.MJPEG, 640, 480)}, FormatRequest{}, nil, current)
		if err != nil {
			t.Fatalf("Negotiate failed: %v", err)
		}
		if neg.Branch != BranchCurrent || neg.Format != cur {
			t.Errorf("Expected current format, got %+v", neg)
		}
		if note == "" {
			t.Error("Expected a note explaining the fallback")
		}
	})

	t.Run("set rejected", func(t *testing.T) {
		set := func(Format) (Format, error) { return Format{}, errors.New("busy") }
		neg, note, err := Negotiate([]Format{fmtOf(pixfmt.RGB24, 640, 480)}, FormatRequest{}, set, current)
		if err != nil {
			t.Fatalf("Negotiate failed: %v", err)
		}
		if neg.Branch != BranchCurrent {
			t.Errorf("Expected device-current branch, got %s", neg.Branch)
		}
		if note == "" {
			t.Error("Expected a note explaining the fallback")
		}
	})
}

func TestNegotiate_CurrentUnreadable(t *testing.T) {
	current := func() (Format, error) { return Format{}, errors.New("ioctl failed") }
	_, _, err := Negotiate(nil, FormatRequest{}, nil, current)
	if !errors.Is(err, ErrFormatNegotiationFailed) {
		t.Errorf("Expected ErrFormatNegotiationFailed, got %v", err)
	}

	zero := func() (Format, error) { return fmtOf(pixfmt.YUYV, 0, 0), nil }
	if _, _, err := Negotiate(nil, FormatRequest{}, nil, zero); !errors.Is(err, ErrFormatNegotiationFailed) {
		t.Errorf("Expected ErrFormatNegotiationFailed for 0x0, got %v", err)
	}
}
