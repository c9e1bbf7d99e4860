// camwatch - watches a camera and reports scene changes
//
// Captures frames at a fixed rate, compares each against a baseline and
// publishes change events over a websocket. Settings come from .env and
// the environment; flags override both.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/teslashibe/go-camwatch/internal/config"
	"github.com/teslashibe/go-camwatch/internal/log"
)

func main() {
	cfg, err := parseFlags()
	if err != nil {
		fmt.Fprintf(os.Stderr, "❌ Configuration error: %v\n", err)
		os.Exit(2)
	}
	logger := log.Init(cfg.LogLevel)

	app, err := newApp(cfg, logger)
	if err != nil {
		logger.Error("initialization failed", "error", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := app.Run(ctx); err != nil {
		logger.Error("runtime error", "error", err)
		os.Exit(1)
	}
}

// parseFlags loads .env and the environment, then applies flag overrides.
func parseFlags() (*config.Config, error) {
	envFile := flag.String("env", ".env", "Path to .env file")
	camera := flag.String("camera", "", "Camera name substring or device path (overrides CAMERA_NAME)")
	backend := flag.String("backend", "", "Capture backend: auto, v4l2, gstreamer, mock")
	fps := flag.Int("fps", -1, "Frames per second to analyse, 0 = every frame")
	width := flag.Int("width", 0, "Preferred capture width")
	height := flag.Int("height", 0, "Preferred capture height")
	pixels := flag.Int("diff-pixels", 0, "Changed pixels that count as a scene change")
	cooldown := flag.Duration("cooldown", 0, "Minimum gap between alerts")
	snapDir := flag.String("snapshots", "", "Directory for change images (overrides SNAPSHOT_DIR)")
	port := flag.Int("port", -1, "HTTP port, 0 disables the API")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	cfg, err := config.Load(*envFile)
	if err != nil {
		return nil, err
	}

	if *camera != "" {
		cfg.CameraName = *camera
	}
	if *backend != "" {
		cfg.CameraBackend = *backend
	}
	if *fps >= 0 {
		cfg.CameraFPS = *fps
	}
	if *width > 0 {
		cfg.CameraWidth = *width
	}
	if *height > 0 {
		cfg.CameraHeight = *height
	}
	if *pixels > 0 {
		cfg.DiffPixels = *pixels
	}
	if *cooldown > 0 {
		cfg.AlertCooldown = *cooldown
	}
	if *snapDir != "" {
		cfg.SnapshotDir = *snapDir
	}
	if *port >= 0 {
		cfg.HTTPPort = *port
	}
	if *debug {
		cfg.LogLevel = "debug"
	}
	return cfg, cfg.Validate()
}

func seconds(d time.Duration) int {
	return int(d / time.Second)
}
