//go:build gstreamer

package capture

import (
	"fmt"
	"log/slog"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"

	"github.com/teslashibe/go-camwatch/pkg/pixfmt"
)

const graphDeviceScheme = "video://"

var gstInitOnce sync.Once

// GraphBackend captures through a GStreamer pipeline
// source ! capsfilter ! appsink. Samples are pushed by the appsink callback
// into a single-slot Mailbox.
type GraphBackend struct {
	cfg    Config
	logger *slog.Logger

	streamMu sync.RWMutex

	mu       sync.Mutex
	state    State
	desc     DeviceDescriptor
	format   Format
	pipeline *gst.Pipeline
	source   *gst.Element
	filter   *gst.Element
	sink     *app.Sink
	mailbox  *Mailbox
	handles  teardown

	seq            atomic.Uint64
	framesCaptured atomic.Int64
	decodeFailures atomic.Int64
	timeouts       atomic.Int64
}

const graphCompiled = true

func newGraphBackend(cfg Config, logger *slog.Logger) (Backend, error) {
	gstInitOnce.Do(func() { gst.Init(nil) })
	return &GraphBackend{cfg: cfg, logger: logger.With("backend", string(KindGStreamer))}, nil
}

func (b *GraphBackend) Name() Kind { return KindGStreamer }

// sourceElement returns the platform capture element and the property that
// selects a device on it.
func sourceElement() (factory, prop string) {
	switch runtime.GOOS {
	case "windows":
		return "ksvideosrc", "device-index"
	case "darwin":
		return "avfvideosrc", "device-index"
	default:
		return "v4l2src", "device"
	}
}

func graphIndex(id string) (int, error) {
	if !strings.HasPrefix(id, graphDeviceScheme) {
		return 0, fmt.Errorf("not a %s device id: %q", graphDeviceScheme, id)
	}
	return strconv.Atoi(strings.TrimPrefix(id, graphDeviceScheme))
}

func newSource(index int) (*gst.Element, error) {
	factory, prop := sourceElement()
	src, err := gst.NewElement(factory)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", factory, err)
	}
	if prop == "device" {
		err = src.SetProperty(prop, fmt.Sprintf("/dev/video%d", index))
	} else {
		err = src.SetProperty(prop, index)
	}
	if err != nil {
		return nil, fmt.Errorf("select device %d: %w", index, err)
	}
	return src, nil
}

// ListDevices probes device indices 0..63 on the platform source element.
// Nodes that do not open or advertise no caps are skipped.
func (b *GraphBackend) ListDevices() ([]DeviceDescriptor, error) {
	var devs []DeviceDescriptor
	for i := 0; i < MaxProbeIndex; i++ {
		src, err := newSource(i)
		if err != nil {
			return nil, err
		}
		if err := src.SetState(gst.StateReady); err != nil {
			src.SetState(gst.StateNull)
			continue
		}
		formats := sourceFormats(src)
		name := fmt.Sprintf("Video Device %d", i)
		if v, err := src.GetProperty("device-name"); err == nil {
			if s, ok := v.(string); ok && s != "" {
				name = s
			}
		}
		src.SetState(gst.StateNull)
		if len(formats) == 0 {
			continue
		}
		devs = append(devs, DeviceDescriptor{ID: fmt.Sprintf("%s%d", graphDeviceScheme, i), Name: name})
	}
	b.logger.Debug("enumerated devices", "count", len(devs))
	return UniqueNames(devs), nil
}

// Open builds the pipeline and brings the source to READY.
func (b *GraphBackend) Open(dev DeviceDescriptor) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state != StateClosed {
		return fmt.Errorf("%w: open from %s", ErrInvalidState, b.state)
	}
	index, err := graphIndex(dev.ID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDeviceOpenFailed, err)
	}

	if err := b.buildPipeline(index); err != nil {
		b.handles.run()
		return fmt.Errorf("%w: %s: %v", ErrDeviceOpenFailed, dev.ID, err)
	}
	if err := b.source.SetState(gst.StateReady); err != nil {
		b.handles.run()
		return fmt.Errorf("%w: %s: %v", ErrDeviceOpenFailed, dev.ID, err)
	}

	b.desc = dev
	b.state = StateOpened
	b.logger.Info("opened capture device", "device", dev.Name, "path", dev.ID)
	return nil
}

func (b *GraphBackend) buildPipeline(index int) error {
	pipeline, err := gst.NewPipeline("")
	if err != nil {
		return fmt.Errorf("create pipeline: %w", err)
	}
	b.pipeline = pipeline
	b.handles.push("stop pipeline", func() error {
		err := pipeline.SetState(gst.StateNull)
		b.pipeline, b.source, b.filter, b.sink = nil, nil, nil, nil
		return err
	})

	src, err := newSource(index)
	if err != nil {
		return err
	}
	filter, err := gst.NewElement("capsfilter")
	if err != nil {
		return fmt.Errorf("create capsfilter: %w", err)
	}
	sink, err := app.NewAppSink()
	if err != nil {
		return fmt.Errorf("create appsink: %w", err)
	}
	sink.SetProperty("sync", false)
	sink.SetProperty("max-buffers", 1)
	sink.SetProperty("drop", true)

	if err := pipeline.AddMany(src, filter, sink.Element); err != nil {
		return fmt.Errorf("add elements: %w", err)
	}
	if err := gst.ElementLinkMany(src, filter, sink.Element); err != nil {
		return fmt.Errorf("link elements: %w", err)
	}
	b.source, b.filter, b.sink = src, filter, sink
	return nil
}

// Configure reads the source caps, negotiates a format and installs the
// sample callback.
func (b *GraphBackend) Configure(req FormatRequest) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state != StateOpened {
		return fmt.Errorf("%w: configure from %s", ErrInvalidState, b.state)
	}

	caps := sourceFormats(b.source)
	neg, note, err := Negotiate(caps, req, b.applyFormat, b.currentFormat)
	if note != "" {
		b.logger.Warn("using device current format", "device", b.desc.Name, "reason", note)
	}
	if err != nil {
		return err
	}

	mark := b.handles.len()
	mailbox := NewMailbox()
	b.handles.push("close mailbox", func() error {
		mailbox.Close()
		b.mailbox = nil
		return nil
	})
	frameBytes := pixfmt.FrameSize(neg.Format.PixelFormat, neg.Format.Width, neg.Format.Height)
	if frameBytes == 0 {
		frameBytes = neg.Format.Width * neg.Format.Height * 3
	}
	if frameBytes <= 0 {
		b.handles.unwindTo(mark)
		return fmt.Errorf("%w: cannot size a %s slot", ErrBufferAllocationFailed, neg.Format)
	}
	b.sink.SetCallbacks(&app.SinkCallbacks{
		NewSampleFunc: func(sink *app.Sink) gst.FlowReturn {
			pushSample(sink, mailbox)
			return gst.FlowOK
		},
	})

	b.mailbox = mailbox
	b.format = neg.Format
	b.state = StateConfigured
	b.logger.Info("configured capture format",
		"device", b.desc.Name,
		"format", neg.Format.String(),
		"branch", neg.Branch.String(),
		"convert", neg.NeedsConversion,
	)
	return nil
}

// decodableCaps admits every format the converter handles, at any size.
const decodableCaps = "video/x-raw,format={RGB,RGBx,BGR,YUY2,NV12,GRAY8}; image/jpeg"

// currentFormat lets the source pick its own format, runs the pipeline
// until the appsink pad carries negotiated caps, and pins what it finds.
func (b *GraphBackend) currentFormat() (Format, error) {
	open := gst.NewCapsFromString(decodableCaps)
	if err := b.filter.SetProperty("caps", open); err != nil {
		return Format{}, err
	}
	b.sink.SetCaps(open)

	pad := b.sink.GetStaticPad("sink")
	if pad == nil {
		return Format{}, fmt.Errorf("appsink has no sink pad")
	}
	if err := b.pipeline.SetState(gst.StatePlaying); err != nil {
		return Format{}, fmt.Errorf("start probe: %w", err)
	}
	defer b.pipeline.SetState(gst.StateReady)

	deadline := time.Now().Add(b.cfg.FrameTimeout)
	for time.Now().Before(deadline) {
		if caps := pad.GetCurrentCaps(); caps != nil && caps.GetSize() > 0 {
			f, ok := structFormat(caps.GetStructureAt(0))
			if !ok {
				return Format{}, fmt.Errorf("unsupported negotiated caps %s", caps.String())
			}
			if _, err := b.applyFormat(f); err != nil {
				return Format{}, err
			}
			return f, nil
		}
		time.Sleep(10 * time.Millisecond)
	}
	return Format{}, fmt.Errorf("no caps negotiated within %v", b.cfg.FrameTimeout)
}

// applyFormat pins the capsfilter and appsink to f.
func (b *GraphBackend) applyFormat(f Format) (Format, error) {
	caps := gst.NewCapsFromString(capsString(f))
	if caps == nil {
		return Format{}, fmt.Errorf("cannot express %s as caps", f)
	}
	if err := b.filter.SetProperty("caps", caps); err != nil {
		return Format{}, err
	}
	b.sink.SetCaps(caps)
	return f, nil
}

func pushSample(sink *app.Sink, mailbox *Mailbox) {
	sample := sink.PullSample()
	if sample == nil {
		return
	}
	buffer := sample.GetBuffer()
	if buffer == nil {
		return
	}
	mapInfo := buffer.Map(gst.MapRead)
	if data := mapInfo.Bytes(); len(data) > 0 {
		mailbox.Put(data)
	}
	buffer.Unmap()
}

// Start sets the pipeline to PLAYING.
func (b *GraphBackend) Start() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state != StateConfigured {
		return fmt.Errorf("%w: start from %s", ErrInvalidState, b.state)
	}
	if err := b.pipeline.SetState(gst.StatePlaying); err != nil {
		b.pipeline.SetState(gst.StateReady)
		return fmt.Errorf("%w: %v", ErrStreamStartFailed, err)
	}
	b.state = StateStreaming
	b.logger.Info("capture streaming", "device", b.desc.Name)
	return nil
}

// AcquireFrame leases the latest sample, converts it and frees the slot.
func (b *GraphBackend) AcquireFrame() *Frame {
	b.streamMu.RLock()
	defer b.streamMu.RUnlock()

	b.mu.Lock()
	if b.state != StateStreaming {
		b.mu.Unlock()
		return nil
	}
	mailbox, format := b.mailbox, b.format
	b.mu.Unlock()

	b.drainBus()
	return acquireAndDecode(mailbox, b.cfg.FrameTimeout, format, b.logger, &b.seq, frameCounters{
		captured:       &b.framesCaptured,
		decodeFailures: &b.decodeFailures,
		timeouts:       &b.timeouts,
	})
}

// drainBus logs pipeline errors without blocking.
func (b *GraphBackend) drainBus() {
	b.mu.Lock()
	pipeline := b.pipeline
	b.mu.Unlock()
	if pipeline == nil {
		return
	}
	bus := pipeline.GetPipelineBus()
	for msg := bus.TimedPop(0); msg != nil; msg = bus.TimedPop(0) {
		switch msg.Type() {
		case gst.MessageError:
			gerr := msg.ParseError()
			b.logger.Error("pipeline error", "device", b.desc.Name, "error", gerr.Error(), "debug", gerr.DebugString())
		case gst.MessageEOS:
			b.logger.Warn("pipeline reached end of stream", "device", b.desc.Name)
		}
	}
}

// Stop tears the pipeline down in reverse order of construction.
func (b *GraphBackend) Stop() error {
	b.streamMu.Lock()
	defer b.streamMu.Unlock()
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateClosed {
		return nil
	}
	err := b.handles.run()
	b.state = StateClosed
	b.format = Format{}
	b.logger.Info("capture stopped", "device", b.desc.Name)
	return err
}

func (b *GraphBackend) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *GraphBackend) Format() Format {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.format
}

// Stats returns backend counters.
func (b *GraphBackend) Stats() Stats {
	s := Stats{
		FramesCaptured: b.framesCaptured.Load(),
		DecodeFailures: b.decodeFailures.Load(),
		Timeouts:       b.timeouts.Load(),
	}
	b.mu.Lock()
	mailbox := b.mailbox
	b.mu.Unlock()
	if mailbox != nil {
		s.BuffersDriver, s.BuffersApp = mailbox.Counts()
	}
	return s
}

var _ BackendWithStats = (*GraphBackend)(nil)

var gstFormats = map[string]pixfmt.PixelFormat{
	"RGB":   pixfmt.RGB24,
	"RGBx":  pixfmt.RGB32,
	"BGR":   pixfmt.BGR24,
	"YUY2":  pixfmt.YUY2,
	"NV12":  pixfmt.NV12,
	"GRAY8": pixfmt.GREY,
}

func capsString(f Format) string {
	var b strings.Builder
	if f.PixelFormat == pixfmt.MJPEG {
		b.WriteString("image/jpeg")
	} else {
		name := ""
		for n, p := range gstFormats {
			if p == f.PixelFormat {
				name = n
			}
		}
		if f.PixelFormat == pixfmt.YUYV {
			name = "YUY2"
		}
		fmt.Fprintf(&b, "video/x-raw,format=%s", name)
	}
	fmt.Fprintf(&b, ",width=%d,height=%d", f.Width, f.Height)
	if fps := f.FPS(); fps >= 1 {
		fmt.Fprintf(&b, ",framerate=%d/1", int(fps+0.5))
	}
	return b.String()
}

// sourceFormats lists the fixed structures a source pad advertises.
// Ranged or listed fields are skipped; currentFormat covers sources that
// only advertise ranges.
func sourceFormats(src *gst.Element) []Format {
	pad := src.GetStaticPad("src")
	if pad == nil {
		return nil
	}
	caps := pad.QueryCaps(gst.NewAnyCaps())
	if caps == nil {
		return nil
	}

	var out []Format
	for i := 0; i < caps.GetSize(); i++ {
		if f, ok := structFormat(caps.GetStructureAt(i)); ok {
			out = append(out, f)
		}
	}
	return out
}

// structFormat converts one fixed caps structure.
func structFormat(s *gst.Structure) (Format, bool) {
	if s == nil {
		return Format{}, false
	}
	var pf pixfmt.PixelFormat
	switch s.Name() {
	case "image/jpeg":
		pf = pixfmt.MJPEG
	case "video/x-raw":
		v, err := s.GetValue("format")
		if err != nil {
			return Format{}, false
		}
		name, ok := v.(string)
		if !ok {
			return Format{}, false
		}
		if pf, ok = gstFormats[name]; !ok {
			return Format{}, false
		}
	default:
		return Format{}, false
	}
	w, okW := intField(s, "width")
	h, okH := intField(s, "height")
	if !okW || !okH {
		return Format{}, false
	}
	return Format{PixelFormat: pf, Width: w, Height: h}, true
}

func intField(s *gst.Structure, key string) (int, bool) {
	v, err := s.GetValue(key)
	if err != nil {
		return 0, false
	}
	n, ok := v.(int)
	return n, ok && n > 0
}
