package imageproc

import (
	"errors"
	"fmt"
)

// DefaultQuality is the JPEG quality used when callers do not pick one.
const DefaultQuality = 85

var (
	// ErrEncodeFailed is returned when the encoder fails or produces no output.
	ErrEncodeFailed = errors.New("jpeg encode failed")

	// ErrDecodeFailed is returned when a compressed frame cannot be decoded.
	ErrDecodeFailed = errors.New("jpeg decode failed")
)

// EncodeJPEG compresses a packed RGB24 frame. Output is deterministic for a
// given input and quality. quality <= 0 selects DefaultQuality.
func EncodeJPEG(rgb []byte, width, height, quality int) ([]byte, error) {
	if quality <= 0 {
		quality = DefaultQuality
	}
	if quality > 100 {
		quality = 100
	}
	if width <= 0 || height <= 0 || len(rgb) < width*height*3 {
		return nil, fmt.Errorf("%w: %dx%d frame with %d bytes", ErrEncodeFailed, width, height, len(rgb))
	}

	out, err := defaultCodec.Encode(rgb, width, height, quality)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrEncodeFailed, defaultCodec.Name(), err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: %s produced no output", ErrEncodeFailed, defaultCodec.Name())
	}
	return out, nil
}

// DecodeJPEG decompresses a JPEG still (one MJPEG frame) into RGB24.
func DecodeJPEG(data []byte) ([]byte, int, int, error) {
	if len(data) == 0 {
		return nil, 0, 0, fmt.Errorf("%w: empty input", ErrDecodeFailed)
	}
	rgb, w, h, err := defaultCodec.Decode(data)
	if err != nil {
		return nil, 0, 0, fmt.Errorf("%w: %v", ErrDecodeFailed, err)
	}
	return rgb, w, h, nil
}
