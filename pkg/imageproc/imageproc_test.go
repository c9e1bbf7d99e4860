package imageproc

import (
	"bytes"
	"errors"
	"testing"
)

func gradient(w, h int) []byte {
	buf := make([]byte, w*h*3)
	for i := range buf {
		buf[i] = byte(i * 7)
	}
	return buf
}

func complement(buf []byte) []byte {
	out := make([]byte, len(buf))
	for i, v := range buf {
		out[i] = ^v
	}
	return out
}

func TestCompareSelfIsZero(t *testing.T) {
	img := gradient(16, 9)
	for _, th := range []float64{0, 0.1, 0.5, 1} {
		n, err := CompareRGBImages(img, img, 16, 9, th)
		if err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		if n != 0 {
			t.Errorf("Expected 0 differing pixels at threshold %v, got %d", th, n)
		}
	}
}

func TestCompareComplementAtZero(t *testing.T) {
	const w, h = 16, 9
	img := gradient(w, h)
	n, err := CompareRGBImages(img, complement(img), w, h, 0)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if n != w*h {
		t.Errorf("Expected %d differing pixels, got %d", w*h, n)
	}
}

func TestDiffPixelCountTruncates(t *testing.T) {
	// avgDiff of 25 is not greater than int(0.1*255) = 25
	a := []byte{0, 0, 0}
	b := []byte{25, 25, 25}
	if n := DiffPixelCount(a, b, 1, 1, 0.1); n != 0 {
		t.Errorf("Expected 0 at the boundary, got %d", n)
	}
	b = []byte{26, 26, 26}
	if n := DiffPixelCount(a, b, 1, 1, 0.1); n != 1 {
		t.Errorf("Expected 1 above the boundary, got %d", n)
	}
}

func TestCompareRejectsBadInput(t *testing.T) {
	img := gradient(4, 4)
	tests := []struct {
		name      string
		a, b      []byte
		w, h      int
		threshold float64
	}{
		{"negative threshold", img, img, 4, 4, -0.1},
		{"threshold above one", img, img, 4, 4, 1.5},
		{"short first buffer", img[:10], img, 4, 4, 0.1},
		{"short second buffer", img, img[:10], 4, 4, 0.1},
		{"zero width", img, img, 0, 4, 0.1},
		{"oversized", img, img, 10001, 1, 0.1},
	}
	for _, tt := range tests {
		if _, err := CompareRGBImages(tt.a, tt.b, tt.w, tt.h, tt.threshold); !errors.Is(err, ErrInvalidArgument) {
			t.Errorf("%s: Expected ErrInvalidArgument, got %v", tt.name, err)
		}
	}
}

func TestConvertRGBToJPEGValidates(t *testing.T) {
	if _, err := ConvertRGBToJPEG(make([]byte, 10), 4, 4); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("Expected ErrInvalidArgument for short buffer, got %v", err)
	}
	if _, err := ConvertRGBToJPEG(nil, 0, 0); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("Expected ErrInvalidArgument for zero size, got %v", err)
	}
}

func TestEncodeJPEGRoundTrip(t *testing.T) {
	const w, h = 32, 24
	img := bytes.Repeat([]byte{200, 40, 40}, w*h)

	out, err := ConvertRGBToJPEG(img, w, h)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if len(out) < 2 || out[0] != 0xff || out[1] != 0xd8 {
		t.Fatalf("Expected JPEG SOI marker, got % x", out[:2])
	}

	again, _ := EncodeJPEG(img, w, h, DefaultQuality)
	if !bytes.Equal(out, again) {
		t.Error("Expected deterministic JPEG output")
	}

	rgb, dw, dh, err := DecodeJPEG(out)
	if err != nil {
		t.Fatalf("Unexpected decode error: %v", err)
	}
	if dw != w || dh != h {
		t.Errorf("Expected %dx%d, got %dx%d", w, h, dw, dh)
	}
	if n := DiffPixelCount(img, rgb, w, h, 0.1); n != 0 {
		t.Errorf("Expected lossy round trip within threshold, got %d differing pixels", n)
	}
}

func TestDecodeJPEGGarbage(t *testing.T) {
	if _, _, _, err := DecodeJPEG([]byte{1, 2, 3, 4}); !errors.Is(err, ErrDecodeFailed) {
		t.Errorf("Expected ErrDecodeFailed, got %v", err)
	}
	if _, _, _, err := DecodeJPEG(nil); !errors.Is(err, ErrDecodeFailed) {
		t.Errorf("Expected ErrDecodeFailed for empty input, got %v", err)
	}
}

func TestEncodeJPEGShortInput(t *testing.T) {
	if _, err := EncodeJPEG([]byte{1, 2}, 2, 2, 85); !errors.Is(err, ErrEncodeFailed) {
		t.Errorf("Expected ErrEncodeFailed, got %v", err)
	}
}
