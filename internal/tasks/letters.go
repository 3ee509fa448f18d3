package tasks

import (
	"context"
	_ "embed"
	"fmt"
	"os"
	"strings"
)

// LetterMonitoringName is the queue identifier for the letter stream task.
const LetterMonitoringName = "letter_monitoring"

// Two parallel stimulus lists in CSV rows of char,label pairs. A label of
// -1 marks a letter whose trailing three-letter window forms a word.
//
//go:embed letters_builtin.seq
var builtinLetterSequence string

// LetterMonitoringConfig holds the configurable parameters of the letter
// stream task.
type LetterMonitoringConfig struct {
	NumTrials        int    `mapstructure:"num_trials"`
	StimulusList     int    `mapstructure:"stimulus_list"`
	LetterDurationMS int    `mapstructure:"letter_duration_ms"`
	SequenceFile     string `mapstructure:"sequence_file"`
}

// DefaultLetterMonitoringConfig returns the stock configuration.
func DefaultLetterMonitoringConfig() LetterMonitoringConfig {
	return LetterMonitoringConfig{
		NumTrials:        0, // 0 means the full sequence
		StimulusList:     1,
		LetterDurationMS: 2000,
	}
}

type letterStimulus struct {
	Letter string
	IsWord bool
}

type letterState struct {
	Base           `mapstructure:",squash"`
	WordsPresented int `mapstructure:"words_presented"`
}

// LetterMonitoring streams single letters and marks the ones that
// complete a three-letter word, which the participant must detect.
type LetterMonitoring struct {
	Base
	config         LetterMonitoringConfig
	sequence       []letterStimulus
	wordsPresented int
}

// NewLetterMonitoring creates an unconfigured letter stream module with
// the built-in sequence.
func NewLetterMonitoring() *LetterMonitoring {
	l := &LetterMonitoring{config: DefaultLetterMonitoringConfig()}
	l.sequence = parseLetterSequence(builtinLetterSequence, l.config.StimulusList)
	return l
}

func (l *LetterMonitoring) Name() string { return LetterMonitoringName }

func (l *LetterMonitoring) Configure(config map[string]any) error {
	if err := decodeConfig(config, &l.config); err != nil {
		return fmt.Errorf("configuring letter_monitoring: %w", err)
	}
	if l.config.StimulusList != 1 && l.config.StimulusList != 2 {
		return fmt.Errorf("letter_monitoring stimulus_list must be 1 or 2, got %d", l.config.StimulusList)
	}

	raw := builtinLetterSequence
	if l.config.SequenceFile != "" {
		data, err := os.ReadFile(l.config.SequenceFile)
		if err != nil {
			return fmt.Errorf("reading sequence file: %w", err)
		}
		raw = string(data)
	}
	l.sequence = parseLetterSequence(raw, l.config.StimulusList)
	if len(l.sequence) == 0 {
		return fmt.Errorf("letter_monitoring sequence is empty")
	}
	return nil
}

func (l *LetterMonitoring) TotalTrials() int {
	if l.config.NumTrials > 0 {
		return l.config.NumTrials
	}
	return len(l.sequence)
}

func (l *LetterMonitoring) RunTrial(ctx context.Context, trialIndex int) (map[string]any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if trialIndex < 0 || trialIndex >= l.TotalTrials() {
		return nil, fmt.Errorf("letter_monitoring trial index %d out of range [0,%d)", trialIndex, l.TotalTrials())
	}
	stim := l.sequence[trialIndex%len(l.sequence)]
	if stim.IsWord {
		l.wordsPresented++
	}
	l.CurrentTrialIndex = trialIndex + 1
	return map[string]any{
		"trial_number":       trialIndex + 1,
		"letter":             stim.Letter,
		"is_cvc_word":        stim.IsWord,
		"phase":              "main",
		"stimulus_list":      l.config.StimulusList,
		"letter_duration_ms": l.config.LetterDurationMS,
		"words_presented":    l.wordsPresented,
	}, nil
}

// RestoreTrialData recounts the word-completing letters already shown so
// the running tally continues where the interrupted run stopped.
func (l *LetterMonitoring) RestoreTrialData(trials []map[string]any) {
	words := 0
	for _, trial := range trials {
		if isWord, ok := trial["is_cvc_word"].(bool); ok && isWord {
			words++
		}
	}
	l.wordsPresented = words
	if len(trials) > l.CurrentTrialIndex {
		l.CurrentTrialIndex = len(trials)
	}
}

func (l *LetterMonitoring) RestoreState(state map[string]any) error {
	st := letterState{Base: l.Base, WordsPresented: l.wordsPresented}
	if err := restoreInto(state, &st); err != nil {
		return err
	}
	l.Base = st.Base
	l.wordsPresented = st.WordsPresented
	return nil
}

func (l *LetterMonitoring) StateSnapshot() map[string]any {
	snap := l.Base.snapshot()
	snap["words_presented"] = l.wordsPresented
	return snap
}

// parseLetterSequence reads CSV rows of char,label pairs, selecting the
// requested 1-based list. Malformed rows are skipped.
func parseLetterSequence(raw string, list int) []letterStimulus {
	if list < 1 {
		list = 1
	}
	var seq []letterStimulus
	for _, line := range strings.Split(raw, "\n") {
		parts := strings.Split(strings.TrimSpace(line), ",")
		if len(parts) < list*2 {
			continue
		}
		char := strings.TrimSpace(parts[(list-1)*2])
		label := strings.TrimSpace(parts[list*2-1])
		if char == "" {
			continue
		}
		seq = append(seq, letterStimulus{Letter: char, IsWord: label == "-1"})
	}
	return seq
}
