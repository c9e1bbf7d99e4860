package imageproc

import (
	"errors"
	"fmt"
	"math"
)

// MaxDimension bounds width and height accepted from callers.
const MaxDimension = 10000

// ErrInvalidArgument is returned when a caller passes bad dimensions,
// thresholds, or undersized buffers.
var ErrInvalidArgument = errors.New("invalid argument")

func validateFrame(name string, buf []byte, width, height int) error {
	if width <= 0 || width > MaxDimension || height <= 0 || height > MaxDimension {
		return fmt.Errorf("%w: dimensions %dx%d outside (0, %d]", ErrInvalidArgument, width, height, MaxDimension)
	}
	if need := width * height * 3; len(buf) < need {
		return fmt.Errorf("%w: %s has %d bytes, need %d", ErrInvalidArgument, name, len(buf), need)
	}
	return nil
}

// ConvertRGBToJPEG validates its input and encodes at DefaultQuality.
func ConvertRGBToJPEG(buf []byte, width, height int) ([]byte, error) {
	if err := validateFrame("buffer", buf, width, height); err != nil {
		return nil, err
	}
	return EncodeJPEG(buf, width, height, DefaultQuality)
}

// CompareRGBImages validates its input and returns DiffPixelCount.
func CompareRGBImages(a, b []byte, width, height int, threshold float64) (int, error) {
	if math.IsNaN(threshold) || threshold < 0 || threshold > 1 {
		return 0, fmt.Errorf("%w: threshold %v outside [0, 1]", ErrInvalidArgument, threshold)
	}
	if err := validateFrame("first buffer", a, width, height); err != nil {
		return 0, err
	}
	if err := validateFrame("second buffer", b, width, height); err != nil {
		return 0, err
	}
	return DiffPixelCount(a, b, width, height, threshold), nil
}
