//go:build linux && (amd64 || arm64)

package capture

import "unsafe"

// Struct sizes must match the kernel ABI exactly.
var (
	_ [0]struct{} = [unsafe.Sizeof(v4l2Capability{}) - 104]struct{}{}
	_ [0]struct{} = [unsafe.Sizeof(v4l2Fmtdesc{}) - 64]struct{}{}
	_ [0]struct{} = [unsafe.Sizeof(v4l2Frmsizeenum{}) - 44]struct{}{}
	_ [0]struct{} = [unsafe.Sizeof(v4l2Frmivalenum{}) - 52]struct{}{}
	_ [0]struct{} = [unsafe.Sizeof(v4l2Format{}) - 208]struct{}{}
	_ [0]struct{} = [unsafe.Sizeof(v4l2PixFormat{}) - 48]struct{}{}
	_ [0]struct{} = [unsafe.Sizeof(v4l2RequestBuffers{}) - 20]struct{}{}
	_ [0]struct{} = [unsafe.Sizeof(v4l2Buffer{}) - 88]struct{}{}
	_ [0]struct{} = [unsafe.Sizeof(v4l2StreamParm{}) - 204]struct{}{}

	_ [0]struct{} = [unsafe.Offsetof(v4l2Buffer{}.m) - 64]struct{}{}
)

// IOCTL request codes for 64-bit architectures.
const (
	vidiocQuerycap           = 0x80685600
	vidiocEnumFmt            = 0xc0405602
	vidiocGFmt               = 0xc0d05604
	vidiocSFmt               = 0xc0d05605
	vidiocReqbufs            = 0xc0145608
	vidiocQuerybuf           = 0xc0585609
	vidiocQbuf               = 0xc058560f
	vidiocDqbuf              = 0xc0585611
	vidiocStreamon           = 0x40045612
	vidiocStreamoff          = 0x40045613
	vidiocGParm              = 0xc0cc5615
	vidiocSParm              = 0xc0cc5616
	vidiocEnumFramesizes     = 0xc02c564a
	vidiocEnumFrameintervals = 0xc034564b
)

const (
	v4l2BufTypeVideoCapture = 1
	v4l2MemoryMmap          = 1
	v4l2FieldAny            = 0

	v4l2CapVideoCapture = 0x00000001
	v4l2CapStreaming    = 0x04000000
	v4l2CapDeviceCaps   = 0x80000000
	v4l2CapTimePerFrame = 0x1000

	v4l2FrmsizeTypeDiscrete = 1
	v4l2FrmivalTypeDiscrete = 1
)

type v4l2Capability struct {
	driver       [16]byte
	card         [32]byte
	busInfo      [32]byte
	version      uint32
	capabilities uint32
	deviceCaps   uint32
	reserved     [3]uint32
}

// captureCaps returns the capabilities of this node rather than the whole
// physical device when the driver reports them.
func (c *v4l2Capability) captureCaps() uint32 {
	if c.capabilities&v4l2CapDeviceCaps != 0 {
		return c.deviceCaps
	}
	return c.capabilities
}

type v4l2Fmtdesc struct {
	index       uint32
	typ         uint32
	flags       uint32
	description [32]byte
	pixelformat uint32
	mbusCode    uint32
	reserved    [3]uint32
}

type v4l2Frmsizeenum struct {
	index       uint32
	pixelFormat uint32
	typ         uint32
	// discrete {width, height} or stepwise {min_w, max_w, step_w, min_h, max_h, step_h}
	size     [6]uint32
	reserved [2]uint32
}

type v4l2Fract struct {
	numerator   uint32
	denominator uint32
}

type v4l2Frmivalenum struct {
	index       uint32
	pixelFormat uint32
	width       uint32
	height      uint32
	typ         uint32
	discrete    v4l2Fract
	_           [16]byte
	reserved    [2]uint32
}

type v4l2PixFormat struct {
	width        uint32
	height       uint32
	pixelformat  uint32
	field        uint32
	bytesperline uint32
	sizeimage    uint32
	colorspace   uint32
	priv         uint32
	flags        uint32
	ycbcrEnc     uint32
	quantization uint32
	xferFunc     uint32
}

// v4l2Format pads the union to 8-byte alignment as the kernel does on
// 64-bit targets.
type v4l2Format struct {
	typ uint32
	_   [4]byte
	raw [200]byte
}

func (f *v4l2Format) pix() *v4l2PixFormat {
	return (*v4l2PixFormat)(unsafe.Pointer(&f.raw[0]))
}

type v4l2RequestBuffers struct {
	count        uint32
	typ          uint32
	memory       uint32
	capabilities uint32
	flags        uint8
	reserved     [3]uint8
}

type v4l2Buffer struct {
	index     uint32
	typ       uint32
	bytesUsed uint32
	flags     uint32
	field     uint32
	_         [4]byte
	timestamp [16]byte
	timecode  [16]byte
	sequence  uint32
	memory    uint32
	m         uint64 // union: mmap offset in the low 32 bits
	length    uint32
	reserved2 uint32
	requestFD int32
	_         [4]byte
}

type v4l2CaptureParm struct {
	capability   uint32
	capturemode  uint32
	timeperframe v4l2Fract
	extendedmode uint32
	readbuffers  uint32
	reserved     [4]uint32
}

type v4l2StreamParm struct {
	typ     uint32
	capture v4l2CaptureParm
	_       [160]byte
}
