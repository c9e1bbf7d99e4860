// Package pixfmt converts raw sensor buffers into packed RGB24.
package pixfmt

import "fmt"

// PixelFormat identifies a raw frame layout by its FourCC code.
type PixelFormat uint32

// FourCC packs four characters into a little-endian code, the same way the
// kernel video headers do.
func FourCC(a, b, c, d byte) PixelFormat {
	return PixelFormat(uint32(a) | uint32(b)<<8 | uint32(c)<<16 | uint32(d)<<24)
}

// Supported pixel formats.
var (
	RGB24 = FourCC('R', 'G', 'B', '3')
	RGB32 = FourCC('R', 'G', 'B', '4') // R, G, B, X
	BGR24 = FourCC('B', 'G', 'R', '3')
	YUYV  = FourCC('Y', 'U', 'Y', 'V')
	YUY2  = FourCC('Y', 'U', 'Y', '2') // same layout as YUYV
	MJPEG = FourCC('M', 'J', 'P', 'G')
	NV12  = FourCC('N', 'V', '1', '2')
	GREY  = FourCC('G', 'R', 'E', 'Y')
)

// Unknown is the zero value, used when a device reports nothing usable.
const Unknown PixelFormat = 0

var names = map[PixelFormat]string{
	RGB24: "RGB24",
	RGB32: "RGB32",
	BGR24: "BGR24",
	YUYV:  "YUYV",
	YUY2:  "YUY2",
	MJPEG: "MJPEG",
	NV12:  "NV12",
	GREY:  "GREY",
}

func (p PixelFormat) String() string {
	if n, ok := names[p]; ok {
		return n
	}
	if p == Unknown {
		return "unknown"
	}
	b := []byte{byte(p), byte(p >> 8), byte(p >> 16), byte(p >> 24)}
	for i, c := range b {
		if c < 0x20 || c > 0x7e {
			b[i] = '?'
		}
	}
	return fmt.Sprintf("%s(0x%08x)", b, uint32(p))
}

// ParseName maps a format name (case sensitive, as printed by String) back
// to its code.
func ParseName(name string) (PixelFormat, bool) {
	for p, n := range names {
		if n == name {
			return p, true
		}
	}
	return Unknown, false
}

// IsRGB reports whether p is one of the packed RGB layouts that need no
// colour-space conversion.
func (p PixelFormat) IsRGB() bool {
	return p == RGB24 || p == RGB32
}

// IsYUV422 reports whether p is packed 4:2:2 YUV.
func (p PixelFormat) IsYUV422() bool {
	return p == YUYV || p == YUY2
}

// FrameSize returns the number of bytes one w×h frame occupies in format p,
// or 0 when the size is not fixed (compressed or unknown formats).
func FrameSize(p PixelFormat, w, h int) int {
	switch p {
	case RGB24, BGR24:
		return w * h * 3
	case RGB32:
		return w * h * 4
	case YUYV, YUY2:
		return w * h * 2
	case NV12:
		return w*h + w*((h+1)/2)
	case GREY:
		return w * h
	}
	return 0
}
