package tasks

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"strings"
)

// StroopName is the queue identifier for the color-word naming task.
const StroopName = "stroop"

var (
	stroopWords    = []string{"RED", "BLUE", "GREEN", "YELLOW"}
	stroopColors   = []string{"red", "blue", "green", "yellow"}
	stroopNeutrals = []string{"DEEP", "LEGAL", "POOR", "BAD"}
)

// StroopConfig holds the configurable parameters of the color-word task.
type StroopConfig struct {
	NumTrials          int     `mapstructure:"num_trials"`
	PracticeTrials     int     `mapstructure:"practice_trials"`
	RecordingDuration  float64 `mapstructure:"recording_duration"`
	PreStimulusDelayMS int     `mapstructure:"pre_stimulus_delay_ms"`
	Seed               int64   `mapstructure:"seed"`
}

// DefaultStroopConfig returns the stock configuration.
func DefaultStroopConfig() StroopConfig {
	return StroopConfig{
		NumTrials:          10,
		PracticeTrials:     6,
		RecordingDuration:  3.0,
		PreStimulusDelayMS: 200,
	}
}

type stroopTrial struct {
	Condition string
	Word      string
	TextColor string
}

// Stroop presents color words drawn in congruent, incongruent or neutral
// ink. The trial sequence is balanced 40/30/30 across conditions and is
// deterministic for a given seed, so every participant sees the same
// stimuli.
type Stroop struct {
	Base
	config   StroopConfig
	sequence []stroopTrial
}

// NewStroop creates an unconfigured color-word module with defaults.
func NewStroop() *Stroop {
	s := &Stroop{config: DefaultStroopConfig()}
	s.sequence = buildStroopSequence(s.config.NumTrials, s.config.Seed)
	return s
}

func (s *Stroop) Name() string { return StroopName }

func (s *Stroop) Configure(config map[string]any) error {
	if err := decodeConfig(config, &s.config); err != nil {
		return fmt.Errorf("configuring stroop: %w", err)
	}
	if s.config.NumTrials < 1 {
		return fmt.Errorf("stroop num_trials must be at least 1, got %d", s.config.NumTrials)
	}
	s.sequence = buildStroopSequence(s.config.NumTrials, s.config.Seed)
	return nil
}

func (s *Stroop) TotalTrials() int { return s.config.NumTrials }

func (s *Stroop) RunTrial(ctx context.Context, trialIndex int) (map[string]any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if trialIndex < 0 || trialIndex >= len(s.sequence) {
		return nil, fmt.Errorf("stroop trial index %d out of range [0,%d)", trialIndex, len(s.sequence))
	}
	t := s.sequence[trialIndex]
	s.CurrentTrialIndex = trialIndex + 1
	return map[string]any{
		"trial_number":      trialIndex + 1,
		"condition":         t.Condition,
		"word":              t.Word,
		"text_color":        t.TextColor,
		"phase":             "main",
		"balanced_sequence": true,
	}, nil
}

func (s *Stroop) RestoreTrialData(trials []map[string]any) {
	if len(trials) > s.CurrentTrialIndex {
		s.CurrentTrialIndex = len(trials)
	}
}

func (s *Stroop) RestoreState(state map[string]any) error {
	return restoreInto(state, &s.Base)
}

func (s *Stroop) StateSnapshot() map[string]any {
	return s.Base.snapshot()
}

// buildStroopSequence draws a balanced subset from the condition pools:
// 40% congruent, 30% incongruent, the remainder neutral. Pools are
// cycled when a target exceeds the pool size.
func buildStroopSequence(numTrials int, seed int64) []stroopTrial {
	rng := rand.New(rand.NewSource(seed))

	var congruent, incongruent, neutral []stroopTrial
	for i, word := range stroopWords {
		for r := 0; r < 8; r++ {
			congruent = append(congruent, stroopTrial{"congruent", word, stroopColors[i]})
		}
	}
	for _, word := range stroopWords {
		for _, color := range stroopColors {
			if strings.ToLower(word) == color {
				continue
			}
			for r := 0; r < 2; r++ {
				incongruent = append(incongruent, stroopTrial{"incongruent", word, color})
			}
		}
	}
	for _, word := range stroopNeutrals {
		for _, color := range stroopColors {
			for r := 0; r < 6; r++ {
				neutral = append(neutral, stroopTrial{"neutral", word, color})
			}
		}
	}

	targetCongruent := int(math.Round(float64(numTrials) * 0.4))
	targetIncongruent := int(math.Round(float64(numTrials) * 0.3))
	targetNeutral := numTrials - targetCongruent - targetIncongruent

	sequence := make([]stroopTrial, 0, numTrials)
	sequence = append(sequence, samplePool(rng, congruent, targetCongruent)...)
	sequence = append(sequence, samplePool(rng, incongruent, targetIncongruent)...)
	sequence = append(sequence, samplePool(rng, neutral, targetNeutral)...)
	rng.Shuffle(len(sequence), func(i, j int) {
		sequence[i], sequence[j] = sequence[j], sequence[i]
	})
	return sequence
}

func samplePool(rng *rand.Rand, pool []stroopTrial, n int) []stroopTrial {
	if n <= 0 || len(pool) == 0 {
		return nil
	}
	shuffled := make([]stroopTrial, len(pool))
	copy(shuffled, pool)
	rng.Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})
	out := make([]stroopTrial, n)
	for i := 0; i < n; i++ {
		out[i] = shuffled[i%len(shuffled)]
	}
	return out
}
