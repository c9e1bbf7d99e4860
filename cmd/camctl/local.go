package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/teslashibe/go-camwatch/internal/log"
	"github.com/teslashibe/go-camwatch/pkg/capture"
	"github.com/teslashibe/go-camwatch/pkg/imageproc"
	"github.com/teslashibe/go-camwatch/pkg/session"
)

func newSession(backend string, debug bool, opts ...session.Option) (*session.Session, error) {
	level := "warn"
	if debug {
		level = "debug"
	}
	logger := log.Init(level)

	cfg := capture.DefaultConfig()
	cfg.Backend = capture.Kind(backend)
	b, err := capture.NewBackend(cfg, logger)
	if err != nil {
		return nil, err
	}
	return session.New(b, append([]session.Option{session.WithLogger(logger)}, opts...)...), nil
}

// runDevices lists capture devices by display name
func runDevices(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("devices", flag.ExitOnError)
	backend := fs.String("backend", "auto", "Capture backend")
	debug := fs.Bool("debug", false, "Enable debug logging")
	fs.Parse(args)

	s, err := newSession(*backend, *debug)
	if err != nil {
		return err
	}
	devs, err := s.ListDevices()
	if err != nil {
		return err
	}
	if len(devs) == 0 {
		fmt.Println("No capture devices found")
		return nil
	}
	fmt.Printf("📷 %d device(s) via %s\n", len(devs), s.Backend().Name())
	for i, d := range devs {
		fmt.Printf("  %d. %-32s %s\n", i+1, d.Name, d.Path)
	}
	return nil
}

// runSnapshot captures one frame and writes it as a JPEG
func runSnapshot(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("snapshot", flag.ExitOnError)
	backend := fs.String("backend", "auto", "Capture backend")
	camera := fs.String("camera", "", "Camera name substring or device path")
	out := fs.String("o", "snapshot.jpg", "Output file")
	width := fs.Int("width", 0, "Preferred width")
	height := fs.Int("height", 0, "Preferred height")
	skip := fs.Int("skip", 5, "Frames to discard while exposure settles")
	timeout := fs.Duration("timeout", 10*time.Second, "Give up after this long")
	debug := fs.Bool("debug", false, "Enable debug logging")
	fs.Parse(args)

	s, err := newSession(*backend, *debug, session.WithResolution(*width, *height))
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()

	frames := make(chan capture.FrameInfo, 1)
	seen := 0
	err = s.StartCapture(ctx, *camera, 0, func(info capture.FrameInfo) {
		seen++
		if seen <= *skip {
			return
		}
		select {
		case frames <- info:
		default:
		}
	})
	if err != nil {
		return err
	}
	defer s.StopCapture()

	var info capture.FrameInfo
	select {
	case info = <-frames:
	case <-ctx.Done():
		return fmt.Errorf("no frame within %v", *timeout)
	}
	if info.Opaque {
		return fmt.Errorf("device format %s has no RGB conversion", s.Backend().Format().PixelFormat)
	}

	jpg, err := imageproc.ConvertRGBToJPEG(info.Data, int(info.Width), int(info.Height))
	if err != nil {
		return err
	}
	if err := os.WriteFile(*out, jpg, 0644); err != nil {
		return err
	}
	st := s.Stats()
	fmt.Printf("✅ %s: %dx%d from %s (%d bytes)\n", *out, info.Width, info.Height, st.Device.Name, len(jpg))
	return nil
}
