package camera

import "sort"

// Preset names for common configurations
const (
	PresetDefault   = "default"
	PresetSensitive = "sensitive"
	PresetRelaxed   = "relaxed"
	PresetWatchful  = "watchful"
	PresetQuiet     = "quiet"
)

// Presets returns all available preset configurations.
func Presets() map[string]Config {
	return map[string]Config{
		PresetDefault:   DefaultConfig(),
		PresetSensitive: SensitiveConfig(),
		PresetRelaxed:   RelaxedConfig(),
		PresetWatchful:  WatchfulConfig(),
		PresetQuiet:     QuietConfig(),
	}
}

// PresetNames returns the available preset names, sorted.
func PresetNames() []string {
	names := make([]string, 0, 5)
	for name := range Presets() {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// GetPreset returns a preset config by name, or nil if not found.
func GetPreset(name string) *Config {
	if cfg, ok := Presets()[name]; ok {
		return &cfg
	}
	return nil
}

// SensitiveConfig catches small or low-contrast movement.
func SensitiveConfig() Config {
	cfg := DefaultConfig()
	cfg.DiffThreshold = 0.05
	cfg.DiffPixels = 250
	return cfg
}

// RelaxedConfig ignores foliage, flicker and small animals.
func RelaxedConfig() Config {
	cfg := DefaultConfig()
	cfg.DiffThreshold = 0.2
	cfg.DiffPixels = 5000
	return cfg
}

// WatchfulConfig samples faster and alerts more often.
func WatchfulConfig() Config {
	cfg := DefaultConfig()
	cfg.FPS = 5
	cfg.AlertCooldownSec = 30
	return cfg
}

// QuietConfig keeps detecting but rarely alerts and saves nothing.
func QuietConfig() Config {
	cfg := DefaultConfig()
	cfg.AlertCooldownSec = 3600
	cfg.SaveSnapshots = false
	return cfg
}
