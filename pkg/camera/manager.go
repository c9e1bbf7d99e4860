package camera

import (
	"encoding/json"
	"fmt"
	"sync"
)

// Manager holds the current configuration and applies updates.
type Manager struct {
	config Config
	mu     sync.RWMutex

	// OnConfigChange is called after a valid update is stored. An error
	// is reported to the caller but the new config stays.
	OnConfigChange func(cfg Config) error
}

// NewManager creates a manager seeded with cfg.
func NewManager(cfg Config) *Manager {
	return &Manager{config: cfg}
}

// GetConfig returns the current configuration.
func (m *Manager) GetConfig() Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config
}

// SetConfig validates and stores cfg.
func (m *Manager) SetConfig(cfg Config) error {
	if errs := cfg.Validate(); len(errs) > 0 {
		return fmt.Errorf("validation failed: %v", errs)
	}

	m.mu.Lock()
	m.config = cfg
	callback := m.OnConfigChange
	m.mu.Unlock()

	if callback != nil {
		if err := callback(cfg); err != nil {
			return fmt.Errorf("failed to apply config: %w", err)
		}
	}
	return nil
}

// UpdateConfig applies a partial update from decoded JSON. A "preset" key
// replaces the base config before the other keys are applied. Unknown keys
// are rejected.
func (m *Manager) UpdateConfig(params map[string]interface{}) error {
	cfg := m.GetConfig()

	if raw, ok := params["preset"]; ok {
		name, _ := raw.(string)
		preset := GetPreset(name)
		if preset == nil {
			return fmt.Errorf("unknown preset: %v", raw)
		}
		cfg = *preset
	}

	for key, value := range params {
		var ok bool
		switch key {
		case "preset":
			continue
		case "fps":
			cfg.FPS, ok = toInt(value)
		case "quality":
			cfg.Quality, ok = toInt(value)
		case "diff_threshold":
			cfg.DiffThreshold, ok = toFloat(value)
		case "diff_pixels":
			cfg.DiffPixels, ok = toInt(value)
		case "alert_cooldown_sec":
			cfg.AlertCooldownSec, ok = toInt(value)
		case "initial_delay_sec":
			cfg.InitialDelaySec, ok = toInt(value)
		case "save_snapshots":
			cfg.SaveSnapshots, ok = value.(bool)
		default:
			return fmt.Errorf("unknown setting: %s", key)
		}
		if !ok {
			return fmt.Errorf("invalid value for %s: %v", key, value)
		}
	}

	return m.SetConfig(cfg)
}

// GetConfigJSON returns the current config as a map for JSON responses.
func (m *Manager) GetConfigJSON() map[string]interface{} {
	data, _ := json.Marshal(m.GetConfig())
	var result map[string]interface{}
	json.Unmarshal(data, &result)
	return result
}

func toInt(v interface{}) (int, bool) {
	switch val := v.(type) {
	case int:
		return val, true
	case int64:
		return int(val), true
	case float64:
		if val != float64(int(val)) {
			return 0, false
		}
		return int(val), true
	case json.Number:
		i, err := val.Int64()
		if err == nil {
			return int(i), true
		}
	}
	return 0, false
}

func toFloat(v interface{}) (float64, bool) {
	switch val := v.(type) {
	case float64:
		return val, true
	case float32:
		return float64(val), true
	case int:
		return float64(val), true
	case int64:
		return float64(val), true
	case json.Number:
		f, err := val.Float64()
		if err == nil {
			return f, true
		}
	}
	return 0, false
}
