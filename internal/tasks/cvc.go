package tasks

import (
	"context"
	"fmt"
	"math/rand"
)

// CVCNamingName is the queue identifier for the syllable naming task.
const CVCNamingName = "cvc_naming"

var (
	cvcConsonants = []string{"B", "D", "F", "G", "H", "J", "K", "L", "M", "N", "P", "R", "S", "T", "V", "Z"}
	cvcVowels     = []string{"A", "E", "I", "O", "U"}
)

// CVCNamingConfig holds the configurable parameters of the naming task.
type CVCNamingConfig struct {
	NumTrials         int   `mapstructure:"num_trials"`
	PracticeTrials    int   `mapstructure:"practice_trials"`
	DisplayDurationMS int   `mapstructure:"display_duration_ms"`
	ITIDurationMS     int   `mapstructure:"iti_duration_ms"`
	Seed              int64 `mapstructure:"seed"`
}

// DefaultCVCNamingConfig returns the stock configuration.
func DefaultCVCNamingConfig() CVCNamingConfig {
	return CVCNamingConfig{
		NumTrials:         50,
		PracticeTrials:    10,
		DisplayDurationMS: 2000,
		ITIDurationMS:     500,
	}
}

// CVCNaming presents consonant-vowel-consonant syllables to be read
// aloud. Syllables are generated deterministically for a given seed,
// never repeating the same consonant in onset and coda.
type CVCNaming struct {
	Base
	config    CVCNamingConfig
	syllables []string
}

// NewCVCNaming creates an unconfigured naming module with defaults.
func NewCVCNaming() *CVCNaming {
	c := &CVCNaming{config: DefaultCVCNamingConfig()}
	c.syllables = buildSyllables(c.config.NumTrials, c.config.Seed)
	return c
}

func (c *CVCNaming) Name() string { return CVCNamingName }

func (c *CVCNaming) Configure(config map[string]any) error {
	if err := decodeConfig(config, &c.config); err != nil {
		return fmt.Errorf("configuring cvc_naming: %w", err)
	}
	if c.config.NumTrials < 1 {
		return fmt.Errorf("cvc_naming num_trials must be at least 1, got %d", c.config.NumTrials)
	}
	c.syllables = buildSyllables(c.config.NumTrials, c.config.Seed)
	return nil
}

func (c *CVCNaming) TotalTrials() int { return c.config.NumTrials }

func (c *CVCNaming) RunTrial(ctx context.Context, trialIndex int) (map[string]any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if trialIndex < 0 || trialIndex >= len(c.syllables) {
		return nil, fmt.Errorf("cvc_naming trial index %d out of range [0,%d)", trialIndex, len(c.syllables))
	}
	c.CurrentTrialIndex = trialIndex + 1
	return map[string]any{
		"trial_number":        trialIndex + 1,
		"syllable":            c.syllables[trialIndex],
		"phase":               "main",
		"display_duration_ms": c.config.DisplayDurationMS,
	}, nil
}

func (c *CVCNaming) RestoreTrialData(trials []map[string]any) {
	if len(trials) > c.CurrentTrialIndex {
		c.CurrentTrialIndex = len(trials)
	}
}

func (c *CVCNaming) RestoreState(state map[string]any) error {
	return restoreInto(state, &c.Base)
}

func (c *CVCNaming) StateSnapshot() map[string]any {
	return c.Base.snapshot()
}

func buildSyllables(n int, seed int64) []string {
	rng := rand.New(rand.NewSource(seed))
	out := make([]string, n)
	for i := range out {
		onset := cvcConsonants[rng.Intn(len(cvcConsonants))]
		vowel := cvcVowels[rng.Intn(len(cvcVowels))]
		coda := cvcConsonants[rng.Intn(len(cvcConsonants))]
		for coda == onset {
			coda = cvcConsonants[rng.Intn(len(cvcConsonants))]
		}
		out[i] = onset + vowel + coda
	}
	return out
}
