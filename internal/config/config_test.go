package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

var keys = []string{
	"CAMERA_NAME", "CAMERA_BACKEND", "CAMERA_FPS", "CAMERA_WIDTH", "CAMERA_HEIGHT",
	"DIFF_THRESHOLD", "DIFF_PIXELS", "ALERT_COOLDOWN", "INITIAL_DELAY", "JPEG_QUALITY",
	"SNAPSHOT_DIR", "HTTP_PORT", "LOG_LEVEL",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range keys {
		t.Setenv(k, "")
	}
}

func TestFromEnv_Defaults(t *testing.T) {
	clearEnv(t)
	cfg := FromEnv()

	if cfg.CameraFPS != 1 {
		t.Errorf("Expected CameraFPS=1, got %d", cfg.CameraFPS)
	}
	if cfg.CameraBackend != "auto" {
		t.Errorf("Expected backend auto, got %q", cfg.CameraBackend)
	}
	if cfg.DiffThreshold != 0.1 || cfg.DiffPixels != 1000 {
		t.Errorf("Expected 0.1/1000, got %v/%d", cfg.DiffThreshold, cfg.DiffPixels)
	}
	if cfg.AlertCooldown != 300*time.Second || cfg.InitialDelay != 10*time.Second {
		t.Errorf("Unexpected delays %v/%v", cfg.AlertCooldown, cfg.InitialDelay)
	}
	if cfg.JPEGQuality != 85 || cfg.HTTPPort != 8080 {
		t.Errorf("Unexpected quality/port %d/%d", cfg.JPEGQuality, cfg.HTTPPort)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Default config invalid: %v", err)
	}
}

func TestFromEnv_Overrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("CAMERA_NAME", "Porch")
	t.Setenv("CAMERA_FPS", "5")
	t.Setenv("DIFF_THRESHOLD", "0.25")
	t.Setenv("ALERT_COOLDOWN", "90")
	t.Setenv("INITIAL_DELAY", "1m")
	t.Setenv("HTTP_PORT", "0")
	t.Setenv("JPEG_QUALITY", "not-a-number")

	cfg := FromEnv()
	if cfg.CameraName != "Porch" || cfg.CameraFPS != 5 {
		t.Errorf("Unexpected camera settings %q/%d", cfg.CameraName, cfg.CameraFPS)
	}
	if cfg.DiffThreshold != 0.25 {
		t.Errorf("Expected 0.25, got %v", cfg.DiffThreshold)
	}
	if cfg.AlertCooldown != 90*time.Second {
		t.Errorf("Expected bare seconds parsed, got %v", cfg.AlertCooldown)
	}
	if cfg.InitialDelay != time.Minute {
		t.Errorf("Expected 1m, got %v", cfg.InitialDelay)
	}
	if cfg.JPEGQuality != 85 {
		t.Errorf("Expected fallback to 85, got %d", cfg.JPEGQuality)
	}
	if cfg.ListenAddr() != "" {
		t.Errorf("Expected server disabled, got %q", cfg.ListenAddr())
	}
}

func TestLoad_DotEnv(t *testing.T) {
	clearEnv(t)
	os.Unsetenv("CAMERA_NAME")
	os.Unsetenv("DIFF_PIXELS")
	t.Setenv("CAMERA_FPS", "7")

	path := filepath.Join(t.TempDir(), "test.env")
	data := "CAMERA_NAME=Garage\nCAMERA_FPS=2\nDIFF_PIXELS=500\n"
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		os.Unsetenv("CAMERA_NAME")
		os.Unsetenv("DIFF_PIXELS")
	})

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.CameraName != "Garage" || cfg.DiffPixels != 500 {
		t.Errorf("Expected values from file, got %q/%d", cfg.CameraName, cfg.DiffPixels)
	}
	if cfg.CameraFPS != 7 {
		t.Errorf("Expected environment to win over file, got %d", cfg.CameraFPS)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	clearEnv(t)
	if _, err := Load(filepath.Join(t.TempDir(), "absent.env")); err != nil {
		t.Errorf("Expected missing file tolerated, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	clearEnv(t)
	cfg := FromEnv()
	cfg.DiffThreshold = 2
	cfg.JPEGQuality = 0
	if err := cfg.Validate(); err == nil {
		t.Error("Expected validation error")
	}
}
