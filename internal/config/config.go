// Package config loads camwatch process settings from the environment,
// after reading an optional .env file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds process-level settings. Runtime-tunable values are seeded
// from here into pkg/camera.
type Config struct {
	CameraName    string
	CameraBackend string
	CameraFPS     int
	CameraWidth   int
	CameraHeight  int

	DiffThreshold float64
	DiffPixels    int
	AlertCooldown time.Duration
	InitialDelay  time.Duration
	JPEGQuality   int

	SnapshotDir string
	HTTPPort    int
	LogLevel    string
}

// Load reads files (default ".env") into the environment without
// overriding variables that are already set, then builds a Config. Missing
// files are ignored.
func Load(files ...string) (*Config, error) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", f, err)
		}
	}
	return FromEnv(), nil
}

// FromEnv builds a Config from the current environment.
func FromEnv() *Config {
	return &Config{
		CameraName:    getEnv("CAMERA_NAME", ""),
		CameraBackend: getEnv("CAMERA_BACKEND", "auto"),
		CameraFPS:     getEnvAsInt("CAMERA_FPS", 1),
		CameraWidth:   getEnvAsInt("CAMERA_WIDTH", 0),
		CameraHeight:  getEnvAsInt("CAMERA_HEIGHT", 0),

		DiffThreshold: getEnvAsFloat("DIFF_THRESHOLD", 0.1),
		DiffPixels:    getEnvAsInt("DIFF_PIXELS", 1000),
		AlertCooldown: getEnvAsDuration("ALERT_COOLDOWN", 300*time.Second),
		InitialDelay:  getEnvAsDuration("INITIAL_DELAY", 10*time.Second),
		JPEGQuality:   getEnvAsInt("JPEG_QUALITY", 85),

		SnapshotDir: getEnv("SNAPSHOT_DIR", ""),
		HTTPPort:    getEnvAsInt("HTTP_PORT", 8080),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
	}
}

// Validate reports settings no component could accept.
func (c *Config) Validate() error {
	var errs []error
	if c.CameraFPS < 0 {
		errs = append(errs, fmt.Errorf("CAMERA_FPS must not be negative, got %d", c.CameraFPS))
	}
	if c.CameraWidth < 0 || c.CameraHeight < 0 {
		errs = append(errs, fmt.Errorf("CAMERA_WIDTH/CAMERA_HEIGHT must not be negative"))
	}
	if c.DiffThreshold < 0 || c.DiffThreshold > 1 {
		errs = append(errs, fmt.Errorf("DIFF_THRESHOLD must be in [0,1], got %v", c.DiffThreshold))
	}
	if c.DiffPixels < 1 {
		errs = append(errs, fmt.Errorf("DIFF_PIXELS must be positive, got %d", c.DiffPixels))
	}
	if c.JPEGQuality < 1 || c.JPEGQuality > 100 {
		errs = append(errs, fmt.Errorf("JPEG_QUALITY must be between 1 and 100, got %d", c.JPEGQuality))
	}
	if c.HTTPPort < 0 || c.HTTPPort > 65535 {
		errs = append(errs, fmt.Errorf("HTTP_PORT out of range: %d", c.HTTPPort))
	}
	return errors.Join(errs...)
}

// ListenAddr returns the HTTP listen address, or "" when the server is
// disabled with HTTP_PORT=0.
func (c *Config) ListenAddr() string {
	if c.HTTPPort == 0 {
		return ""
	}
	return ":" + strconv.Itoa(c.HTTPPort)
}

func getEnv(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := getEnv(key, ""); value != "" {
		if v, err := strconv.Atoi(value); err == nil {
			return v
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := getEnv(key, ""); value != "" {
		if v, err := strconv.ParseFloat(value, 64); err == nil {
			return v
		}
	}
	return defaultValue
}

// getEnvAsDuration accepts Go durations ("90s", "5m") or bare seconds.
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	value := getEnv(key, "")
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second
	}
	return defaultValue
}
