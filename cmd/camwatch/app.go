package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/teslashibe/go-camwatch/internal/config"
	"github.com/teslashibe/go-camwatch/internal/snapshot"
	"github.com/teslashibe/go-camwatch/pkg/camera"
	"github.com/teslashibe/go-camwatch/pkg/capture"
	"github.com/teslashibe/go-camwatch/pkg/hub"
	"github.com/teslashibe/go-camwatch/pkg/motion"
	"github.com/teslashibe/go-camwatch/pkg/session"
	"github.com/teslashibe/go-camwatch/pkg/web"
)

// app wires capture, detection, events and the API together.
type app struct {
	cfg    *config.Config
	logger *slog.Logger

	session  *session.Session
	detector *motion.Detector
	settings *camera.Manager
	events   *hub.Hub
	snaps    *snapshot.Writer
	server   *web.Server
}

func newApp(cfg *config.Config, logger *slog.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger, events: hub.New(logger)}

	capCfg := capture.DefaultConfig()
	capCfg.Backend = capture.Kind(cfg.CameraBackend)
	backend, err := capture.NewBackend(capCfg, logger)
	if err != nil {
		return nil, err
	}

	seed := camera.DefaultConfig()
	seed.FPS = cfg.CameraFPS
	seed.Quality = cfg.JPEGQuality
	seed.DiffThreshold = cfg.DiffThreshold
	seed.DiffPixels = cfg.DiffPixels
	seed.AlertCooldownSec = seconds(cfg.AlertCooldown)
	seed.InitialDelaySec = seconds(cfg.InitialDelay)
	seed.SaveSnapshots = cfg.SnapshotDir != ""
	if errs := seed.Validate(); len(errs) > 0 {
		return nil, fmt.Errorf("invalid detection settings: %v", errs)
	}
	a.settings = camera.NewManager(seed)

	if cfg.SnapshotDir != "" {
		a.snaps = snapshot.NewWriter(cfg.SnapshotDir, cfg.CameraName, logger)
	}

	a.detector, err = motion.NewDetector(seed.Motion(),
		motion.WithLogger(logger),
		motion.WithChangeHandler(a.onAlert),
	)
	if err != nil {
		return nil, err
	}

	a.session = session.New(backend,
		session.WithLogger(logger),
		session.WithResolution(cfg.CameraWidth, cfg.CameraHeight),
		session.WithStallHandler(a.onStall),
	)

	a.settings.OnConfigChange = a.applySettings

	if addr := cfg.ListenAddr(); addr != "" {
		a.server = web.NewServer(addr, web.Deps{
			Capture:  a.session,
			Detector: a.detector,
			Config:   a.settings,
			Events:   a.events,
			Logger:   logger,
		})
	}
	return a, nil
}

// Run captures until ctx is canceled.
func (a *app) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		a.events.Run(ctx)
	}()

	errCh := make(chan error, 1)
	if a.server != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := a.server.Run(ctx); err != nil {
				errCh <- fmt.Errorf("http api: %w", err)
			}
		}()
	}

	if err := a.session.StartCapture(ctx, a.cfg.CameraName, uint32(a.settings.GetConfig().FPS), a.onFrame); err != nil {
		cancel()
		wg.Wait()
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return fmt.Errorf("start capture: %w", err)
	}
	st := a.session.Stats()
	a.logger.Info("watching", "device", st.Device.Name, "path", st.Device.Path, "format", st.Format, "session", st.ID)
	a.events.Publish(hub.NewEvent(hub.EventCapture, st))

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
	}

	a.logger.Info("shutting down")
	a.session.StopCapture()
	cancel()
	wg.Wait()

	ds := a.detector.Stats()
	a.logger.Info("stopped", "frames", ds.Frames, "changes", ds.Changes, "alerts", ds.Alerts)
	return runErr
}

func (a *app) onFrame(info capture.FrameInfo) {
	ev, err := a.detector.Process(info)
	if err != nil {
		a.logger.Debug("frame skipped", "error", err)
		return
	}
	if ev == nil {
		return
	}
	a.logger.Debug("scene change", "id", ev.ID, "diff_pixels", ev.DiffPixels, "alert", ev.Alert)
	a.events.Publish(hub.NewEvent(hub.EventChange, ev))
}

// onAlert runs for changes that passed warmup and cooldown.
func (a *app) onAlert(ev motion.Event) {
	a.logger.Info("change alert", "id", ev.ID, "diff_pixels", ev.DiffPixels)
	if a.snaps == nil || !a.settings.GetConfig().SaveSnapshots {
		return
	}
	if _, err := a.snaps.Save(ev); err != nil {
		a.logger.Warn("snapshot failed", "error", err)
	}
}

func (a *app) onStall(silence time.Duration) {
	a.events.Publish(hub.NewEvent(hub.EventStall, map[string]any{
		"silence_ms": silence.Milliseconds(),
	}))
}

func (a *app) applySettings(cfg camera.Config) error {
	if err := a.detector.SetConfig(cfg.Motion()); err != nil {
		return err
	}
	a.session.SetTargetFPS(uint32(cfg.FPS))
	return nil
}
