// Package projectconfig provides the ProjectConfig struct and loader for
// .battery.yaml app-level configuration files.
package projectconfig

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Default values for app configuration. New() references them and no
// other code should duplicate them. The interval and threshold values
// match the built-in defaults in internal/recorder, internal/heartbeat
// and internal/session.
const (
	DefaultDataDirName = "Custom Tests Battery Data"

	DefaultHeartbeatMS     = 1000
	DefaultResourceCheckMS = 5000
	DefaultTaskPollMS      = 3000
	DefaultAutoSaveMS      = 2000
	DefaultEmergencySaveMS = 5000

	DefaultMemoryWarnPercent     = 80.0
	DefaultMemoryCriticalPercent = 90.0
	DefaultCPUWarnPercent        = 95.0

	DefaultMaxSessionAgeDays = 7
)

// DefaultDataRoot returns the default storage root, the battery data
// folder under the user's Documents directory. When the home directory
// cannot be resolved it falls back to the bare folder name, relative to
// the working directory.
func DefaultDataRoot() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return DefaultDataDirName
	}
	return filepath.Join(home, "Documents", DefaultDataDirName)
}

// IntervalsConfig holds the save and watcher cadences in milliseconds.
type IntervalsConfig struct {
	HeartbeatMS     int `yaml:"heartbeat_ms,omitempty"`
	ResourceCheckMS int `yaml:"resource_check_ms,omitempty"`
	TaskPollMS      int `yaml:"task_poll_ms,omitempty"`
	AutoSaveMS      int `yaml:"auto_save_ms,omitempty"`
	EmergencySaveMS int `yaml:"emergency_save_ms,omitempty"`
}

// ThresholdsConfig holds the resource warning levels in percent.
type ThresholdsConfig struct {
	MemoryWarnPercent     float64 `yaml:"memory_warn_percent,omitempty"`
	MemoryCriticalPercent float64 `yaml:"memory_critical_percent,omitempty"`
	CPUWarnPercent        float64 `yaml:"cpu_warn_percent,omitempty"`
}

// RecoveryConfig holds recovery acceptance settings.
type RecoveryConfig struct {
	MaxSessionAgeDays int `yaml:"max_session_age_days,omitempty"`
}

// ProjectConfig is the top-level configuration loaded from .battery.yaml.
type ProjectConfig struct {
	DataRoot   string           `yaml:"data_root,omitempty"`
	Intervals  IntervalsConfig  `yaml:"intervals,omitempty"`
	Thresholds ThresholdsConfig `yaml:"thresholds,omitempty"`
	Recovery   RecoveryConfig   `yaml:"recovery,omitempty"`
}

// New returns a ProjectConfig with all hard-coded defaults populated.
func New() *ProjectConfig {
	return &ProjectConfig{
		DataRoot: DefaultDataRoot(),
		Intervals: IntervalsConfig{
			HeartbeatMS:     DefaultHeartbeatMS,
			ResourceCheckMS: DefaultResourceCheckMS,
			TaskPollMS:      DefaultTaskPollMS,
			AutoSaveMS:      DefaultAutoSaveMS,
			EmergencySaveMS: DefaultEmergencySaveMS,
		},
		Thresholds: ThresholdsConfig{
			MemoryWarnPercent:     DefaultMemoryWarnPercent,
			MemoryCriticalPercent: DefaultMemoryCriticalPercent,
			CPUWarnPercent:        DefaultCPUWarnPercent,
		},
		Recovery: RecoveryConfig{
			MaxSessionAgeDays: DefaultMaxSessionAgeDays,
		},
	}
}

// Load finds .battery.yaml by walking up from startDir (max 10 levels),
// unmarshals it, and fills in missing fields with defaults.
// If no config file is found, returns defaults with a nil error.
// Real I/O errors (e.g. permission denied) are returned to the caller.
func Load(startDir string) (*ProjectConfig, error) {
	cfg := New()

	data, err := findConfigFile(startDir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil // no file found → return defaults
		}
		return nil, fmt.Errorf("loading .battery.yaml: %w", err)
	}

	var fileCfg ProjectConfig
	if err := yaml.Unmarshal(data, &fileCfg); err != nil {
		return nil, fmt.Errorf("parsing .battery.yaml: %w", err)
	}

	// Merge file values onto defaults.
	mergeConfig(cfg, &fileCfg)
	return cfg, nil
}

// findConfigFile walks up from dir looking for .battery.yaml (max 10
// levels). Returns os.ErrNotExist if no config file is found. Propagates
// real I/O errors (e.g. permission denied) instead of silently
// swallowing them.
func findConfigFile(dir string) ([]byte, error) {
	// Convert to absolute path so filepath.Dir(".") walks correctly.
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolving path %q: %w", dir, err)
	}
	dir = absDir

	for i := 0; i < 10; i++ {
		p := filepath.Join(dir, ".battery.yaml")
		data, err := os.ReadFile(p)
		if err == nil {
			return data, nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("reading %q: %w", p, err)
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break // reached filesystem root
		}
		dir = parent
	}
	return nil, os.ErrNotExist
}

// mergeConfig overlays non-zero values from src onto dst.
func mergeConfig(dst, src *ProjectConfig) {
	if src.DataRoot != "" {
		dst.DataRoot = src.DataRoot
	}

	// Intervals
	if src.Intervals.HeartbeatMS != 0 {
		dst.Intervals.HeartbeatMS = src.Intervals.HeartbeatMS
	}
	if src.Intervals.ResourceCheckMS != 0 {
		dst.Intervals.ResourceCheckMS = src.Intervals.ResourceCheckMS
	}
	if src.Intervals.TaskPollMS != 0 {
		dst.Intervals.TaskPollMS = src.Intervals.TaskPollMS
	}
	if src.Intervals.AutoSaveMS != 0 {
		dst.Intervals.AutoSaveMS = src.Intervals.AutoSaveMS
	}
	if src.Intervals.EmergencySaveMS != 0 {
		dst.Intervals.EmergencySaveMS = src.Intervals.EmergencySaveMS
	}

	// Thresholds
	if src.Thresholds.MemoryWarnPercent != 0 {
		dst.Thresholds.MemoryWarnPercent = src.Thresholds.MemoryWarnPercent
	}
	if src.Thresholds.MemoryCriticalPercent != 0 {
		dst.Thresholds.MemoryCriticalPercent = src.Thresholds.MemoryCriticalPercent
	}
	if src.Thresholds.CPUWarnPercent != 0 {
		dst.Thresholds.CPUWarnPercent = src.Thresholds.CPUWarnPercent
	}

	// Recovery
	if src.Recovery.MaxSessionAgeDays != 0 {
		dst.Recovery.MaxSessionAgeDays = src.Recovery.MaxSessionAgeDays
	}
}
