package capture

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/teslashibe/go-camwatch/pkg/pixfmt"
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Backend = KindMock
	cfg.FrameTimeout = 200 * time.Millisecond
	return cfg
}

func openMock(t *testing.T, opts ...MockOption) (*RingBackend, *MockDevice) {
	t.Helper()
	opts = append([]MockOption{WithMockFrameInterval(time.Millisecond)}, opts...)
	dev := NewMockDevice(opts...)
	b := NewRingBackend(testConfig(), dev, nil)
	devs, err := b.ListDevices()
	if err != nil || len(devs) == 0 {
		t.Fatalf("ListDevices failed: %v", err)
	}
	if err := b.Open(devs[0]); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	return b, dev
}

func TestRingBackend_Lifecycle(t *testing.T) {
	b, dev := openMock(t)
	if b.State() != StateOpened {
		t.Fatalf("Expected opened, got %s", b.State())
	}

	if err := b.Configure(FormatRequest{FPS: 15}); err != nil {
		t.Fatalf("Configure failed: %v", err)
	}
	if b.State() != StateConfigured {
		t.Fatalf("Expected configured, got %s", b.State())
	}
	if f := b.Format(); f.PixelFormat != pixfmt.RGB24 || f.FrameInterval100ns != IntervalForFPS(15) {
		t.Errorf("Expected RGB24 at 15fps, got %s", f)
	}

	if err := b.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if b.State() != StateStreaming {
		t.Fatalf("Expected streaming, got %s", b.State())
	}

	var prev uint64
	for i := 0; i < 5; i++ {
		f := b.AcquireFrame()
		if f == nil {
			t.Fatalf("AcquireFrame %d returned nil", i)
		}
		if f.Width != 320 || f.Height != 240 || len(f.Data) != 320*240*3 {
			t.Errorf("Unexpected frame %dx%d len %d", f.Width, f.Height, len(f.Data))
		}
		if f.Seq <= prev {
			t.Errorf("Expected increasing seq, got %d after %d", f.Seq, prev)
		}
		prev = f.Seq
		st := b.Stats()
		if st.BuffersDriver+st.BuffersApp != DefaultBufferCount {
			t.Errorf("Expected %d buffers accounted, got %+v", DefaultBufferCount, st)
		}
	}

	if err := b.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if b.State() != StateClosed {
		t.Errorf("Expected closed, got %s", b.State())
	}
	if dev.Opened() {
		t.Error("Expected device handle released")
	}
	if err := b.Stop(); err != nil {
		t.Errorf("Second Stop failed: %v", err)
	}
	if (b.Format() != Format{}) {
		t.Errorf("Expected zero format after Stop, got %s", b.Format())
	}
}

func TestRingBackend_ConvertsYUYV(t *testing.T) {
	b, _ := openMock(t, WithMockFormats(Format{PixelFormat: pixfmt.YUYV, Width: 4, Height: 2}))
	defer b.Stop()

	if err := b.Configure(FormatRequest{}); err != nil {
		t.Fatalf("Configure failed: %v", err)
	}
	if err := b.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	f := b.AcquireFrame()
	if f == nil {
		t.Fatal("AcquireFrame returned nil")
	}
	if len(f.Data) != 4*2*3 {
		t.Errorf("Expected RGB24 output of %d bytes, got %d", 4*2*3, len(f.Data))
	}
}

func TestRingBackend_UnknownFormatIsOpaque(t *testing.T) {
	yu12 := pixfmt.FourCC('Y', 'U', '1', '2')
	b, _ := openMock(t, WithMockFormats(Format{PixelFormat: yu12, Width: 8, Height: 4}))
	defer b.Stop()

	if err := b.Configure(FormatRequest{}); err != nil {
		t.Fatalf("Configure failed: %v", err)
	}
	if err := b.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	f := b.AcquireFrame()
	if f == nil {
		t.Fatal("AcquireFrame returned nil")
	}
	if !f.Opaque {
		t.Error("Expected raw passthrough frame to be opaque")
	}
	if info := f.Info(); !info.Opaque {
		t.Error("Expected FrameInfo to carry the opaque flag")
	}
}

func TestRingBackend_ConfigureFailureStaysOpened(t *testing.T) {
	for _, stage := range []MockStage{MockFailAllocate, MockFailCurrent} {
		t.Run(string(stage), func(t *testing.T) {
			b, dev := openMock(t, WithMockFailure(stage))
			defer b.Stop()

			if err := b.Configure(FormatRequest{}); err == nil {
				t.Fatal("Expected Configure to fail")
			}
			if b.State() != StateOpened {
				t.Errorf("Expected opened after failed Configure, got %s", b.State())
			}
			if !dev.Opened() {
				t.Error("Expected device still open")
			}
		})
	}
}

func TestRingBackend_FrameRateFailureIsWarning(t *testing.T) {
	b, _ := openMock(t, WithMockFailure(MockFailFrameRate))
	defer b.Stop()

	if err := b.Configure(FormatRequest{FPS: 5}); err != nil {
		t.Fatalf("Expected Configure to tolerate frame rate failure, got %v", err)
	}
}

func TestRingBackend_StartFailure(t *testing.T) {
	b, _ := openMock(t, WithMockFailure(MockFailStreamOn))
	defer b.Stop()

	if err := b.Configure(FormatRequest{}); err != nil {
		t.Fatalf("Configure failed: %v", err)
	}
	if err := b.Start(); !errors.Is(err, ErrStreamStartFailed) {
		t.Fatalf("Expected ErrStreamStartFailed, got %v", err)
	}
	if b.State() != StateConfigured {
		t.Errorf("Expected configured after failed Start, got %s", b.State())
	}
	st := b.Stats()
	if st.BuffersDriver != 0 || st.BuffersApp != DefaultBufferCount {
		t.Errorf("Expected all buffers app-owned, got %+v", st)
	}
}

func TestRingBackend_OpenFailure(t *testing.T) {
	b := NewMockBackend(testConfig(), nil, WithMockFailure(MockFailOpen))
	if err := b.Open(DeviceDescriptor{ID: "mock://0"}); !errors.Is(err, ErrDeviceOpenFailed) {
		t.Errorf("Expected ErrDeviceOpenFailed, got %v", err)
	}
	if b.State() != StateClosed {
		t.Errorf("Expected closed, got %s", b.State())
	}
}

func TestRingBackend_WrongStateCalls(t *testing.T) {
	b := NewMockBackend(testConfig(), nil)
	if err := b.Configure(FormatRequest{}); !errors.Is(err, ErrInvalidState) {
		t.Errorf("Expected ErrInvalidState from Configure, got %v", err)
	}
	if err := b.Start(); !errors.Is(err, ErrInvalidState) {
		t.Errorf("Expected ErrInvalidState from Start, got %v", err)
	}
	if f := b.AcquireFrame(); f != nil {
		t.Error("Expected nil frame when closed")
	}
	if err := b.Stop(); err != nil {
		t.Errorf("Stop on closed backend failed: %v", err)
	}
}

func TestRingBackend_DecodeFailureDropsFrame(t *testing.T) {
	b, _ := openMock(t, WithMockFormats(Format{PixelFormat: pixfmt.MJPEG, Width: 16, Height: 16}))
	defer b.Stop()

	if err := b.Configure(FormatRequest{}); err != nil {
		t.Fatalf("Configure failed: %v", err)
	}
	if err := b.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if f := b.AcquireFrame(); f != nil {
		t.Error("Expected nil for an undecodable frame")
	}
	st := b.Stats()
	if st.DecodeFailures != 1 {
		t.Errorf("Expected 1 decode failure, got %d", st.DecodeFailures)
	}
	if st.BuffersDriver != DefaultBufferCount {
		t.Errorf("Expected the failed buffer requeued, got %+v", st)
	}
}

func TestRingBackend_StopDuringAcquire(t *testing.T) {
	b, _ := openMock(t, WithMockFrameInterval(20*time.Millisecond))
	if err := b.Configure(FormatRequest{}); err != nil {
		t.Fatalf("Configure failed: %v", err)
	}
	if err := b.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for b.State() == StateStreaming {
			b.AcquireFrame()
		}
	}()
	time.Sleep(50 * time.Millisecond)
	if err := b.Stop(); err != nil {
		t.Errorf("Stop failed: %v", err)
	}
	wg.Wait()
}
