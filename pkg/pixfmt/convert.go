package pixfmt

import (
	"errors"
	"fmt"
)

var (
	// ErrShortBuffer is returned when a source buffer is smaller than the
	// frame it claims to hold.
	ErrShortBuffer = errors.New("pixfmt: source buffer too short")

	// ErrBadDimensions is returned for non-positive width or height.
	ErrBadDimensions = errors.New("pixfmt: invalid dimensions")

	// ErrSizeMismatch is returned when a compressed frame decodes to a
	// size other than the negotiated one.
	ErrSizeMismatch = errors.New("pixfmt: decoded size does not match format")
)

// JPEGDecoder decodes a compressed still into RGB24 plus its dimensions.
type JPEGDecoder func(data []byte) (rgb []byte, width, height int, err error)

// Result is a converted frame.
type Result struct {
	Data   []byte
	Width  int
	Height int

	// Opaque marks raw bytes passed through from a format with no converter.
	// Data is not RGB24 in that case.
	Opaque bool
}

func clamp(v int) uint8 {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return uint8(v)
}

// YUVToRGB applies the BT.601 studio-swing fixed point transform.
func YUVToRGB(y, u, v uint8) (r, g, b uint8) {
	c := int(y) - 16
	d := int(u) - 128
	e := int(v) - 128
	r = clamp((298*c + 409*e + 128) >> 8)
	g = clamp((298*c - 100*d - 208*e + 128) >> 8)
	b = clamp((298*c + 516*d + 128) >> 8)
	return r, g, b
}

func checkDims(w, h int) error {
	if w <= 0 || h <= 0 {
		return fmt.Errorf("%w: %dx%d", ErrBadDimensions, w, h)
	}
	return nil
}

func ensureDst(dst []byte, n int) []byte {
	if cap(dst) >= n {
		return dst[:n]
	}
	return make([]byte, n)
}

// YUYVToRGB24 decodes packed Y0 U Y1 V samples. dst is reused when large
// enough; the returned slice holds the result.
func YUYVToRGB24(dst, src []byte, w, h int) ([]byte, error) {
	if err := checkDims(w, h); err != nil {
		return nil, err
	}
	n := w * h
	if len(src) < n*2 {
		return nil, fmt.Errorf("%w: yuyv needs %d bytes, got %d", ErrShortBuffer, n*2, len(src))
	}
	dst = ensureDst(dst, n*3)

	i := 0
	for ; i+1 < n; i += 2 {
		s := src[i*2 : i*2+4]
		y0, u, y1, v := s[0], s[1], s[2], s[3]
		o := dst[i*3 : i*3+6]
		o[0], o[1], o[2] = YUVToRGB(y0, u, v)
		o[3], o[4], o[5] = YUVToRGB(y1, u, v)
	}
	if i < n {
		// odd pixel count leaves a half pair with no V sample
		o := dst[i*3 : i*3+3]
		o[0], o[1], o[2] = YUVToRGB(src[i*2], src[i*2+1], 128)
	}
	return dst, nil
}

// NV12ToRGB24 decodes a full-resolution Y plane followed by an interleaved
// UV plane subsampled 2x2.
func NV12ToRGB24(dst, src []byte, w, h int) ([]byte, error) {
	if err := checkDims(w, h); err != nil {
		return nil, err
	}
	need := FrameSize(NV12, w, h)
	if len(src) < need {
		return nil, fmt.Errorf("%w: nv12 needs %d bytes, got %d", ErrShortBuffer, need, len(src))
	}
	dst = ensureDst(dst, w*h*3)

	yPlane := src[:w*h]
	uvPlane := src[w*h:]
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			uvIndex := (y/2)*w + (x &^ 1)
			u := uvPlane[uvIndex]
			v := uint8(128)
			if x|1 < w {
				v = uvPlane[uvIndex+1]
			}
			o := (y*w + x) * 3
			dst[o], dst[o+1], dst[o+2] = YUVToRGB(yPlane[y*w+x], u, v)
		}
	}
	return dst, nil
}

// GreyToRGB24 replicates each luma sample into three channels.
func GreyToRGB24(dst, src []byte, w, h int) ([]byte, error) {
	if err := checkDims(w, h); err != nil {
		return nil, err
	}
	n := w * h
	if len(src) < n {
		return nil, fmt.Errorf("%w: grey needs %d bytes, got %d", ErrShortBuffer, n, len(src))
	}
	dst = ensureDst(dst, n*3)
	for i := 0; i < n; i++ {
		g := src[i]
		dst[i*3], dst[i*3+1], dst[i*3+2] = g, g, g
	}
	return dst, nil
}

// RGB32ToRGB24 drops the padding byte of each R, G, B, X pixel.
func RGB32ToRGB24(dst, src []byte, w, h int) ([]byte, error) {
	if err := checkDims(w, h); err != nil {
		return nil, err
	}
	n := w * h
	if len(src) < n*4 {
		return nil, fmt.Errorf("%w: rgb32 needs %d bytes, got %d", ErrShortBuffer, n*4, len(src))
	}
	dst = ensureDst(dst, n*3)
	for i := 0; i < n; i++ {
		copy(dst[i*3:i*3+3], src[i*4:i*4+3])
	}
	return dst, nil
}

// BGR24ToRGB24 swaps the red and blue channels.
func BGR24ToRGB24(dst, src []byte, w, h int) ([]byte, error) {
	if err := checkDims(w, h); err != nil {
		return nil, err
	}
	n := w * h
	if len(src) < n*3 {
		return nil, fmt.Errorf("%w: bgr24 needs %d bytes, got %d", ErrShortBuffer, n*3, len(src))
	}
	dst = ensureDst(dst, n*3)
	for i := 0; i < n; i++ {
		b, g, r := src[i*3], src[i*3+1], src[i*3+2]
		dst[i*3], dst[i*3+1], dst[i*3+2] = r, g, b
	}
	return dst, nil
}

// Convert turns a raw buffer in format p into a freshly allocated RGB24
// frame. The result never aliases src. Formats without a converter are
// copied through and marked Opaque. decode may be nil when MJPEG frames are
// not expected. A decoded MJPEG frame must match w x h when both are set.
func Convert(p PixelFormat, src []byte, w, h int, decode JPEGDecoder) (Result, error) {
	var (
		out []byte
		err error
	)
	switch p {
	case RGB24:
		if err = checkDims(w, h); err != nil {
			return Result{}, err
		}
		if len(src) < w*h*3 {
			return Result{}, fmt.Errorf("%w: rgb24 needs %d bytes, got %d", ErrShortBuffer, w*h*3, len(src))
		}
		out = append([]byte(nil), src[:w*h*3]...)
	case RGB32:
		out, err = RGB32ToRGB24(nil, src, w, h)
	case BGR24:
		out, err = BGR24ToRGB24(nil, src, w, h)
	case YUYV, YUY2:
		out, err = YUYVToRGB24(nil, src, w, h)
	case NV12:
		out, err = NV12ToRGB24(nil, src, w, h)
	case GREY:
		out, err = GreyToRGB24(nil, src, w, h)
	case MJPEG:
		if decode == nil {
			return Result{}, fmt.Errorf("pixfmt: no jpeg decoder configured")
		}
		rgb, dw, dh, derr := decode(src)
		if derr != nil {
			return Result{}, derr
		}
		if w > 0 && h > 0 && (dw != w || dh != h) {
			return Result{}, fmt.Errorf("%w: expected %dx%d, got %dx%d", ErrSizeMismatch, w, h, dw, dh)
		}
		return Result{Data: rgb, Width: dw, Height: dh}, nil
	default:
		return Result{
			Data:   append([]byte(nil), src...),
			Width:  w,
			Height: h,
			Opaque: true,
		}, nil
	}
	if err != nil {
		return Result{}, err
	}
	return Result{Data: out, Width: w, Height: h}, nil
}
