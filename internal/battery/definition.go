// Package battery loads battery definition files and runs them end to
// end: open the participant's session, settle any pending recovery
// decision, then drive each task module through its trials with the
// persistence harness attached.
package battery

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/brodbeck-lab/battery/internal/validation"
)

// Definition is a parsed battery file: the ordered list of tasks one
// session runs, plus optional cadence overrides.
type Definition struct {
	Participant string     `yaml:"participant,omitempty"`
	Description string     `yaml:"description,omitempty"`
	Tasks       []TaskSpec `yaml:"tasks"`
	Intervals   Intervals  `yaml:"intervals,omitempty"`
}

// TaskSpec names one task in the battery. Config is handed to the module
// as-is; TotalTrials is a shorthand that folds into it.
type TaskSpec struct {
	Name        string         `yaml:"name"`
	TotalTrials int            `yaml:"total_trials,omitempty"`
	Config      map[string]any `yaml:"config,omitempty"`
}

// Intervals overrides the save and monitoring cadences, in milliseconds.
// Zero keeps the package default for that cadence.
type Intervals struct {
	AutoSaveMS      int `yaml:"auto_save_ms,omitempty"`
	EmergencySaveMS int `yaml:"emergency_save_ms,omitempty"`
	HeartbeatMS     int `yaml:"heartbeat_ms,omitempty"`
	ResourceCheckMS int `yaml:"resource_check_ms,omitempty"`
	TaskPollMS      int `yaml:"task_poll_ms,omitempty"`
}

// Load reads and validates a battery definition file.
func Load(path string) (*Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse checks raw YAML against the battery schema and decodes it.
func Parse(data []byte) (*Definition, error) {
	if errs := validation.ValidateBatteryBytes(data); len(errs) > 0 {
		return nil, fmt.Errorf("battery definition invalid: %s", strings.Join(errs, "; "))
	}
	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("parsing battery definition: %w", err)
	}
	if err := def.Validate(); err != nil {
		return nil, err
	}
	return &def, nil
}

// Validate checks the constraints the schema cannot express.
func (d *Definition) Validate() error {
	if len(d.Tasks) == 0 {
		return errors.New("battery needs at least one task")
	}
	seen := make(map[string]bool, len(d.Tasks))
	for i, t := range d.Tasks {
		if strings.TrimSpace(t.Name) == "" {
			return fmt.Errorf("task %d: name is required", i+1)
		}
		// Completion records match queue entries by exact name, so a
		// duplicate would read as already finished as soon as the first
		// instance completes.
		if seen[t.Name] {
			return fmt.Errorf("task %q appears twice in the battery", t.Name)
		}
		seen[t.Name] = true
		if t.TotalTrials < 0 {
			return fmt.Errorf("task %q: total_trials cannot be negative", t.Name)
		}
	}
	return d.Intervals.validate()
}

func (iv Intervals) validate() error {
	for _, c := range []struct {
		name string
		ms   int
	}{
		{"auto_save_ms", iv.AutoSaveMS},
		{"emergency_save_ms", iv.EmergencySaveMS},
		{"heartbeat_ms", iv.HeartbeatMS},
		{"resource_check_ms", iv.ResourceCheckMS},
		{"task_poll_ms", iv.TaskPollMS},
	} {
		if c.ms != 0 && c.ms < 100 {
			return fmt.Errorf("intervals.%s must be at least 100, got %d", c.name, c.ms)
		}
	}
	return nil
}

// TaskNames returns the task queue the definition describes, in order.
func (d *Definition) TaskNames() []string {
	names := make([]string, 0, len(d.Tasks))
	for _, t := range d.Tasks {
		names = append(names, t.Name)
	}
	return names
}

// Task returns the spec for a task name.
func (d *Definition) Task(name string) (TaskSpec, bool) {
	for _, t := range d.Tasks {
		if t.Name == name {
			return t, true
		}
	}
	return TaskSpec{}, false
}

// EffectiveConfig returns the module configuration with TotalTrials
// folded in under num_trials, the key every built-in module reads. An
// explicit num_trials in the config wins.
func (t TaskSpec) EffectiveConfig() map[string]any {
	config := make(map[string]any, len(t.Config)+1)
	for k, v := range t.Config {
		config[k] = v
	}
	if t.TotalTrials > 0 {
		if _, ok := config["num_trials"]; !ok {
			config["num_trials"] = t.TotalTrials
		}
	}
	return config
}
