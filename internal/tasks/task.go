package tasks

import (
	"context"
	"fmt"

	"github.com/go-viper/mapstructure/v2"
)

//go:generate go tool mockgen -source=task.go -destination=mock_module.go -package=tasks

// Module is the interface implemented by every battery task.
//
// A module owns stimulus generation and its own progress counters. It
// never persists anything itself: the recorder snapshots StateSnapshot()
// alongside every trial, and on resume replays stored state back through
// RestoreState and RestoreTrialData.
type Module interface {
	// Name returns the task identifier used in queues and filenames.
	Name() string

	// Configure applies a task configuration map. Unknown keys are
	// ignored so stored configurations from older runs still decode.
	Configure(config map[string]any) error

	// TotalTrials returns the number of main trials after configuration.
	TotalTrials() int

	// RunTrial produces the stimulus record for one trial. trialIndex is
	// zero-based; records carry a one-based trial_number.
	RunTrial(ctx context.Context, trialIndex int) (map[string]any, error)

	// RestoreTrialData rebuilds derived counters from previously
	// recorded trials after a resume.
	RestoreTrialData(trials []map[string]any)

	// RestoreState applies a saved state snapshot. Keys absent from the
	// snapshot leave the current value untouched.
	RestoreState(state map[string]any) error

	// StateSnapshot reports the module state persisted with each trial.
	StateSnapshot() map[string]any
}

// Base carries the position attributes every module persists and every
// resume restores before any module-specific state.
type Base struct {
	CurrentTrialIndex int  `json:"current_trial_index" mapstructure:"current_trial_index"`
	PracticeMode      bool `json:"practice_mode" mapstructure:"practice_mode"`
	IsPaused          bool `json:"is_paused" mapstructure:"is_paused"`
	IsInBreak         bool `json:"is_in_break" mapstructure:"is_in_break"`
	PracticeIndex     int  `json:"practice_index" mapstructure:"practice_index"`
}

func (b *Base) snapshot() map[string]any {
	return map[string]any{
		"current_trial_index": b.CurrentTrialIndex,
		"practice_mode":       b.PracticeMode,
		"is_paused":           b.IsPaused,
		"is_in_break":         b.IsInBreak,
		"practice_index":      b.PracticeIndex,
	}
}

// restoreInto decodes a state map over dst, which must be a pointer to a
// struct seeded with the module's current values.
func restoreInto(state map[string]any, dst any) error {
	if err := mapstructure.Decode(state, dst); err != nil {
		return fmt.Errorf("restoring task state: %w", err)
	}
	return nil
}

// decodeConfig decodes a configuration map over dst, leaving absent keys
// at their current (default) values.
func decodeConfig(config map[string]any, dst any) error {
	return mapstructure.Decode(config, dst)
}
