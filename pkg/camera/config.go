// Package camera holds the runtime-tunable capture and change-detection
// settings exposed over the camwatch API.
package camera

import (
	"time"

	"github.com/teslashibe/go-camwatch/pkg/imageproc"
	"github.com/teslashibe/go-camwatch/pkg/motion"
)

// Config holds settings that can change while capture is running.
type Config struct {
	// === Delivery ===
	FPS     int `json:"fps"`     // Frames per second handed to the detector, 0 = every frame
	Quality int `json:"quality"` // JPEG quality 1-100 for change images

	// === Change detection ===
	// DiffThreshold is the per-pixel average channel difference, as a
	// fraction of 255, above which a pixel counts as changed.
	DiffThreshold float64 `json:"diff_threshold"`

	// DiffPixels is how many changed pixels make a scene change.
	DiffPixels int `json:"diff_pixels"`

	// === Alerting ===
	AlertCooldownSec int  `json:"alert_cooldown_sec"` // Minimum gap between alerts
	InitialDelaySec  int  `json:"initial_delay_sec"`  // Warmup before the first alert
	SaveSnapshots    bool `json:"save_snapshots"`     // Write alert images to disk
}

// Limits.
const (
	MaxFPS        = 60
	MaxDiffPixels = imageproc.MaxDimension * imageproc.MaxDimension
	MaxDelaySec   = 24 * 60 * 60
)

// DefaultConfig returns the stock settings: one frame a second, 10%
// threshold, 1000 pixels, five minute cooldown.
func DefaultConfig() Config {
	return Config{
		FPS:              1,
		Quality:          imageproc.DefaultQuality,
		DiffThreshold:    motion.DefaultThreshold,
		DiffPixels:       motion.DefaultPixels,
		AlertCooldownSec: int(motion.DefaultCooldown / time.Second),
		InitialDelaySec:  int(motion.DefaultInitialDelay / time.Second),
		SaveSnapshots:    true,
	}
}

// Validate checks if the config values are within valid ranges.
// Returns a list of validation errors, or nil if valid.
func (c *Config) Validate() []string {
	var errors []string

	if c.FPS < 0 || c.FPS > MaxFPS {
		errors = append(errors, "fps must be between 0 and 60")
	}
	if c.Quality < 1 || c.Quality > 100 {
		errors = append(errors, "quality must be between 1 and 100")
	}
	if c.DiffThreshold < 0 || c.DiffThreshold > 1 || c.DiffThreshold != c.DiffThreshold {
		errors = append(errors, "diff_threshold must be between 0.0 and 1.0")
	}
	if c.DiffPixels < 1 || c.DiffPixels > MaxDiffPixels {
		errors = append(errors, "diff_pixels must be between 1 and 100000000")
	}
	if c.AlertCooldownSec < 0 || c.AlertCooldownSec > MaxDelaySec {
		errors = append(errors, "alert_cooldown_sec must be between 0 and 86400")
	}
	if c.InitialDelaySec < 0 || c.InitialDelaySec > MaxDelaySec {
		errors = append(errors, "initial_delay_sec must be between 0 and 86400")
	}

	return errors
}

// Motion converts the detection settings for pkg/motion.
func (c Config) Motion() motion.Config {
	return motion.Config{
		Threshold:    c.DiffThreshold,
		Pixels:       c.DiffPixels,
		Quality:      c.Quality,
		InitialDelay: time.Duration(c.InitialDelaySec) * time.Second,
		Cooldown:     time.Duration(c.AlertCooldownSec) * time.Second,
	}
}
