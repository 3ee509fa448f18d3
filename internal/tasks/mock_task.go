package tasks

import (
	"context"
	"fmt"
	"time"
)

// MockName is the queue identifier for the scripted harness task.
const MockName = "mock"

// MockTaskConfig holds the configurable parameters of the mock task.
type MockTaskConfig struct {
	NumTrials    int `mapstructure:"num_trials"`
	FailAtTrial  int `mapstructure:"fail_at_trial"`
	TrialDelayMS int `mapstructure:"trial_delay_ms"`
}

// DefaultMockTaskConfig returns the stock configuration.
func DefaultMockTaskConfig() MockTaskConfig {
	return MockTaskConfig{NumTrials: 5}
}

// MockTask is a deterministic module for exercising the harness without
// a real task. Responses and reaction times are scripted; fail_at_trial
// makes RunTrial return an error at that one-based trial, which is how
// crash handling is driven end to end.
type MockTask struct {
	Base
	name   string
	config MockTaskConfig
}

// NewMockTask creates a mock module with defaults.
func NewMockTask() *MockTask {
	return &MockTask{name: MockName, config: DefaultMockTaskConfig()}
}

// NewMockTaskAs creates a mock module that reports the given name. A
// rehearsal run swaps one in per queue entry, and the session document
// keeps the real task names so completion tracking still lines up.
func NewMockTaskAs(name string) *MockTask {
	m := NewMockTask()
	m.name = name
	return m
}

func (m *MockTask) Name() string { return m.name }

func (m *MockTask) Configure(config map[string]any) error {
	if err := decodeConfig(config, &m.config); err != nil {
		return fmt.Errorf("configuring mock task: %w", err)
	}
	if m.config.NumTrials < 1 {
		return fmt.Errorf("mock num_trials must be at least 1, got %d", m.config.NumTrials)
	}
	return nil
}

func (m *MockTask) TotalTrials() int { return m.config.NumTrials }

func (m *MockTask) RunTrial(ctx context.Context, trialIndex int) (map[string]any, error) {
	trialNumber := trialIndex + 1
	if m.config.FailAtTrial > 0 && trialNumber == m.config.FailAtTrial {
		return nil, fmt.Errorf("scripted failure at trial %d", trialNumber)
	}
	if m.config.TrialDelayMS > 0 {
		select {
		case <-time.After(time.Duration(m.config.TrialDelayMS) * time.Millisecond):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	} else if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.CurrentTrialIndex = trialNumber
	return map[string]any{
		"trial_number":     trialNumber,
		"response":         fmt.Sprintf("mock response for trial %d", trialNumber),
		"correct":          trialNumber%5 != 0,
		"reaction_time_ms": float64(250 + 17*trialIndex),
		"phase":            "main",
	}, nil
}

func (m *MockTask) RestoreTrialData(trials []map[string]any) {
	if len(trials) > m.CurrentTrialIndex {
		m.CurrentTrialIndex = len(trials)
	}
}

func (m *MockTask) RestoreState(state map[string]any) error {
	return restoreInto(state, &m.Base)
}

func (m *MockTask) StateSnapshot() map[string]any {
	return m.Base.snapshot()
}
