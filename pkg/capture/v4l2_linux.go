//go:build linux && (amd64 || arm64)

package capture

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/teslashibe/go-camwatch/pkg/pixfmt"
)

const (
	videoClassDir = "/sys/class/video4linux"
	devDir        = "/dev"
)

// v4l2Device is a Linux video character device using memory-mapped
// streaming I/O.
type v4l2Device struct {
	fd int
}

const v4l2Compiled = true

func newV4L2Backend(cfg Config, logger *slog.Logger) (Backend, error) {
	return NewRingBackend(cfg, &v4l2Device{fd: -1}, logger), nil
}

func (d *v4l2Device) Kind() Kind { return KindV4L2 }

// List scans sysfs for capture nodes, probing /dev/video0..63 when sysfs
// is unavailable.
func (d *v4l2Device) List() ([]DeviceDescriptor, error) {
	return enumerateVideoNodes(os.DirFS(videoClassDir), devDir, probeV4L2), nil
}

func probeV4L2(path string) bool {
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
	if err != nil {
		return false
	}
	defer unix.Close(fd)

	if _, err := queryCaptureCaps(fd); err != nil {
		return false
	}
	desc := v4l2Fmtdesc{index: 0, typ: v4l2BufTypeVideoCapture}
	return ioctl(fd, vidiocEnumFmt, unsafe.Pointer(&desc)) == nil
}

func queryCaptureCaps(fd int) (uint32, error) {
	var c v4l2Capability
	if err := ioctl(fd, vidiocQuerycap, unsafe.Pointer(&c)); err != nil {
		return 0, fmt.Errorf("query capabilities: %w", err)
	}
	caps := c.captureCaps()
	if caps&v4l2CapVideoCapture == 0 {
		return caps, errors.New("not a video capture device")
	}
	if caps&v4l2CapStreaming == 0 {
		return caps, errors.New("device does not support streaming i/o")
	}
	return caps, nil
}

// Open opens the node non-blocking and checks its capabilities.
func (d *v4l2Device) Open(dev DeviceDescriptor) (Driver, error) {
	fd, err := unix.Open(dev.ID, unix.O_RDWR|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, err
	}
	if _, err := queryCaptureCaps(fd); err != nil {
		unix.Close(fd)
		return nil, err
	}
	d.fd = fd
	return &v4l2Driver{fd: fd}, nil
}

func (d *v4l2Device) Close() error {
	if d.fd < 0 {
		return nil
	}
	err := unix.Close(d.fd)
	d.fd = -1
	return err
}

func (d *v4l2Device) Formats(req FormatRequest) ([]Format, error) {
	return enumerateFormats(d.fd, req)
}

func (d *v4l2Device) SetFormat(f Format) (Format, error) {
	return setFormat(d.fd, f)
}

func (d *v4l2Device) CurrentFormat() (Format, int, error) {
	f, size, err := getFormat(d.fd)
	return f, int(size), err
}

func (d *v4l2Device) SetFrameRate(fps uint32) (int64, error) {
	return setFrameRate(d.fd, fps)
}

var _ RingDevice = (*v4l2Device)(nil)

// v4l2Driver implements Driver on an open device node.
type v4l2Driver struct {
	fd int
}

func (d *v4l2Driver) RequestBuffers(count int) (int, error) {
	req := v4l2RequestBuffers{
		count:  uint32(count),
		typ:    v4l2BufTypeVideoCapture,
		memory: v4l2MemoryMmap,
	}
	if err := ioctl(d.fd, vidiocReqbufs, unsafe.Pointer(&req)); err != nil {
		return 0, err
	}
	return int(req.count), nil
}

func (d *v4l2Driver) MapBuffer(index int) ([]byte, error) {
	buf := v4l2Buffer{
		index:  uint32(index),
		typ:    v4l2BufTypeVideoCapture,
		memory: v4l2MemoryMmap,
	}
	if err := ioctl(d.fd, vidiocQuerybuf, unsafe.Pointer(&buf)); err != nil {
		return nil, fmt.Errorf("query buffer: %w", err)
	}
	offset := int64(uint32(buf.m))
	return unix.Mmap(d.fd, offset, int(buf.length), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
}

func (d *v4l2Driver) UnmapBuffer(_ int, region []byte) error {
	if region == nil {
		return nil
	}
	return unix.Munmap(region)
}

func (d *v4l2Driver) QueueBuffer(index int) error {
	buf := v4l2Buffer{
		index:  uint32(index),
		typ:    v4l2BufTypeVideoCapture,
		memory: v4l2MemoryMmap,
	}
	return ioctl(d.fd, vidiocQbuf, unsafe.Pointer(&buf))
}

func (d *v4l2Driver) WaitReady(timeout time.Duration) (bool, error) {
	fds := []unix.PollFd{{Fd: int32(d.fd), Events: unix.POLLIN}}
	deadline := time.Now().Add(timeout)
	for {
		ms := int(time.Until(deadline).Milliseconds())
		if ms < 0 {
			ms = 0
		}
		n, err := unix.Poll(fds, ms)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return false, err
		}
		if n == 0 {
			return false, nil
		}
		if fds[0].Revents&(unix.POLLERR|unix.POLLNVAL) != 0 {
			return false, fmt.Errorf("poll revents 0x%x", fds[0].Revents)
		}
		return true, nil
	}
}

func (d *v4l2Driver) DequeueBuffer() (int, int, error) {
	buf := v4l2Buffer{
		typ:    v4l2BufTypeVideoCapture,
		memory: v4l2MemoryMmap,
	}
	if err := ioctl(d.fd, vidiocDqbuf, unsafe.Pointer(&buf)); err != nil {
		if err == unix.EAGAIN {
			return 0, 0, ErrNoFrameAvailable
		}
		return 0, 0, err
	}
	return int(buf.index), int(buf.bytesUsed), nil
}

func (d *v4l2Driver) StreamOn() error {
	typ := uint32(v4l2BufTypeVideoCapture)
	return ioctl(d.fd, vidiocStreamon, unsafe.Pointer(&typ))
}

func (d *v4l2Driver) StreamOff() error {
	typ := uint32(v4l2BufTypeVideoCapture)
	return ioctl(d.fd, vidiocStreamoff, unsafe.Pointer(&typ))
}

var _ Driver = (*v4l2Driver)(nil)

// ioctl issues a request, retrying when interrupted by a signal.
func ioctl(fd int, req uintptr, arg unsafe.Pointer) error {
	for {
		_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), req, uintptr(arg))
		if errno == unix.EINTR {
			continue
		}
		if errno != 0 {
			return errno
		}
		return nil
	}
}

// enumerateFormats lists every pixel format with its discrete frame sizes.
// Stepwise sizes contribute the requested size when it fits, else the
// largest.
func enumerateFormats(fd int, req FormatRequest) ([]Format, error) {
	var out []Format
	for i := uint32(0); ; i++ {
		desc := v4l2Fmtdesc{index: i, typ: v4l2BufTypeVideoCapture}
		if err := ioctl(fd, vidiocEnumFmt, unsafe.Pointer(&desc)); err != nil {
			if err == unix.EINVAL {
				break
			}
			return out, fmt.Errorf("enumerate format %d: %w", i, err)
		}
		pf := pixfmt.PixelFormat(desc.pixelformat)
		for _, size := range enumerateSizes(fd, desc.pixelformat, req) {
			out = append(out, Format{
				PixelFormat:        pf,
				Width:              int(size[0]),
				Height:             int(size[1]),
				FrameInterval100ns: firstInterval(fd, desc.pixelformat, size[0], size[1]),
			})
		}
	}
	return out, nil
}

func enumerateSizes(fd int, pf uint32, req FormatRequest) [][2]uint32 {
	var sizes [][2]uint32
	for i := uint32(0); ; i++ {
		fs := v4l2Frmsizeenum{index: i, pixelFormat: pf}
		if err := ioctl(fd, vidiocEnumFramesizes, unsafe.Pointer(&fs)); err != nil {
			break
		}
		if fs.typ == v4l2FrmsizeTypeDiscrete {
			sizes = append(sizes, [2]uint32{fs.size[0], fs.size[1]})
			continue
		}
		minW, maxW, minH, maxH := fs.size[0], fs.size[1], fs.size[3], fs.size[4]
		w, h := maxW, maxH
		if rw, rh := uint32(req.Width), uint32(req.Height); rw >= minW && rw <= maxW && rh >= minH && rh <= maxH {
			w, h = rw, rh
		}
		sizes = append(sizes, [2]uint32{w, h})
		break
	}
	return sizes
}

func firstInterval(fd int, pf, w, h uint32) int64 {
	iv := v4l2Frmivalenum{index: 0, pixelFormat: pf, width: w, height: h}
	if err := ioctl(fd, vidiocEnumFrameintervals, unsafe.Pointer(&iv)); err != nil {
		return 0
	}
	return fractTo100ns(iv.discrete)
}

func fractTo100ns(f v4l2Fract) int64 {
	if f.denominator == 0 {
		return 0
	}
	return int64(f.numerator) * 1e7 / int64(f.denominator)
}

func getFormat(fd int) (Format, uint32, error) {
	f := v4l2Format{typ: v4l2BufTypeVideoCapture}
	if err := ioctl(fd, vidiocGFmt, unsafe.Pointer(&f)); err != nil {
		return Format{}, 0, err
	}
	p := f.pix()
	return Format{
		PixelFormat: pixfmt.PixelFormat(p.pixelformat),
		Width:       int(p.width),
		Height:      int(p.height),
	}, p.sizeimage, nil
}

func setFormat(fd int, want Format) (Format, error) {
	f := v4l2Format{typ: v4l2BufTypeVideoCapture}
	if err := ioctl(fd, vidiocGFmt, unsafe.Pointer(&f)); err != nil {
		return Format{}, err
	}
	p := f.pix()
	p.width = uint32(want.Width)
	p.height = uint32(want.Height)
	p.pixelformat = uint32(want.PixelFormat)
	p.field = v4l2FieldAny
	if err := ioctl(fd, vidiocSFmt, unsafe.Pointer(&f)); err != nil {
		return Format{}, err
	}
	if got := pixfmt.PixelFormat(p.pixelformat); got != want.PixelFormat {
		return Format{}, fmt.Errorf("driver substituted %s for %s", got, want.PixelFormat)
	}
	return Format{
		PixelFormat:        want.PixelFormat,
		Width:              int(p.width),
		Height:             int(p.height),
		FrameInterval100ns: want.FrameInterval100ns,
	}, nil
}

// setFrameRate requests 1/fps seconds per frame and returns what the
// driver settled on.
func setFrameRate(fd int, fps uint32) (int64, error) {
	parm := v4l2StreamParm{typ: v4l2BufTypeVideoCapture}
	if err := ioctl(fd, vidiocGParm, unsafe.Pointer(&parm)); err != nil {
		return 0, err
	}
	if parm.capture.capability&v4l2CapTimePerFrame == 0 {
		return 0, errors.New("driver cannot set time per frame")
	}
	parm.capture.timeperframe = v4l2Fract{numerator: 1, denominator: fps}
	if err := ioctl(fd, vidiocSParm, unsafe.Pointer(&parm)); err != nil {
		return 0, err
	}
	return fractTo100ns(parm.capture.timeperframe), nil
}
