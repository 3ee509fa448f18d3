package tasks

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuiltinRegistry(t *testing.T) {
	r := Builtin()
	assert.ElementsMatch(t, []string{"stroop", "cvc_naming", "letter_monitoring", "mock"}, r.Names())

	m, err := r.Create("stroop", map[string]any{"num_trials": 20})
	require.NoError(t, err)
	assert.Equal(t, "stroop", m.Name())
	assert.Equal(t, 20, m.TotalTrials())
}

func TestRegistryUnknownTask(t *testing.T) {
	r := Builtin()
	_, err := r.Create("digit_span", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "digit_span")
}

func TestRegistryConfigureError(t *testing.T) {
	r := Builtin()
	_, err := r.Create("mock", map[string]any{"num_trials": 0})
	require.Error(t, err)
}

func TestStroopBalancedSequence(t *testing.T) {
	s := NewStroop()
	require.NoError(t, s.Configure(map[string]any{"num_trials": 10}))

	counts := map[string]int{}
	for _, trial := range s.sequence {
		counts[trial.Condition]++
		switch trial.Condition {
		case "congruent":
			assert.Equal(t, trial.TextColor, stroopColorFor(trial.Word))
		case "incongruent":
			assert.NotEqual(t, trial.TextColor, stroopColorFor(trial.Word))
			assert.Contains(t, stroopWords, trial.Word)
		case "neutral":
			assert.Contains(t, stroopNeutrals, trial.Word)
		default:
			t.Fatalf("unknown condition %q", trial.Condition)
		}
	}
	assert.Equal(t, 4, counts["congruent"])
	assert.Equal(t, 3, counts["incongruent"])
	assert.Equal(t, 3, counts["neutral"])
}

func stroopColorFor(word string) string {
	for i, w := range stroopWords {
		if w == word {
			return stroopColors[i]
		}
	}
	return ""
}

func TestStroopSequenceDeterministic(t *testing.T) {
	a := NewStroop()
	b := NewStroop()
	require.NoError(t, a.Configure(map[string]any{"num_trials": 40, "seed": 7}))
	require.NoError(t, b.Configure(map[string]any{"num_trials": 40, "seed": 7}))
	assert.Equal(t, a.sequence, b.sequence)
}

func TestStroopRunTrial(t *testing.T) {
	s := NewStroop()
	require.NoError(t, s.Configure(nil))

	record, err := s.RunTrial(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, 1, record["trial_number"])
	assert.NotEmpty(t, record["word"])
	assert.NotEmpty(t, record["text_color"])
	assert.Equal(t, 1, s.CurrentTrialIndex)

	_, err = s.RunTrial(context.Background(), 99)
	require.Error(t, err)
}

func TestStroopConfigRejectsZeroTrials(t *testing.T) {
	s := NewStroop()
	require.Error(t, s.Configure(map[string]any{"num_trials": 0}))
}

func TestConfigureAcceptsJSONNumbers(t *testing.T) {
	// Configurations restored from a JSON document arrive as float64.
	s := NewStroop()
	require.NoError(t, s.Configure(map[string]any{"num_trials": float64(12), "seed": float64(3)}))
	assert.Equal(t, 12, s.TotalTrials())
}

func TestCVCSyllables(t *testing.T) {
	c := NewCVCNaming()
	require.NoError(t, c.Configure(map[string]any{"num_trials": 30, "seed": 11}))
	require.Len(t, c.syllables, 30)

	for _, syl := range c.syllables {
		require.Len(t, syl, 3)
		assert.Contains(t, cvcConsonants, string(syl[0]))
		assert.Contains(t, cvcVowels, string(syl[1]))
		assert.Contains(t, cvcConsonants, string(syl[2]))
		assert.NotEqual(t, syl[0], syl[2], "onset and coda must differ in %q", syl)
	}

	record, err := c.RunTrial(context.Background(), 4)
	require.NoError(t, err)
	assert.Equal(t, 5, record["trial_number"])
	assert.Equal(t, c.syllables[4], record["syllable"])
}

func TestCVCDeterministic(t *testing.T) {
	a := NewCVCNaming()
	b := NewCVCNaming()
	require.NoError(t, a.Configure(map[string]any{"seed": 5}))
	require.NoError(t, b.Configure(map[string]any{"seed": 5}))
	assert.Equal(t, a.syllables, b.syllables)
}

func TestLetterSequenceParsing(t *testing.T) {
	list1 := parseLetterSequence(builtinLetterSequence, 1)
	list2 := parseLetterSequence(builtinLetterSequence, 2)
	require.Len(t, list1, 24)
	require.Len(t, list2, 24)

	words := func(seq []letterStimulus) int {
		n := 0
		for _, s := range seq {
			if s.IsWord {
				n++
			}
		}
		return n
	}
	assert.Equal(t, 6, words(list1))
	assert.Equal(t, 6, words(list2))

	// The third letter of list 1 completes MUD.
	assert.Equal(t, "D", list1[2].Letter)
	assert.True(t, list1[2].IsWord)
}

func TestLetterSequenceSkipsMalformedRows(t *testing.T) {
	seq := parseLetterSequence("A,0\n\nnot a row\nB,-1\n", 1)
	require.Len(t, seq, 2)
	assert.False(t, seq[0].IsWord)
	assert.True(t, seq[1].IsWord)
}

func TestLetterMonitoringWordTally(t *testing.T) {
	l := NewLetterMonitoring()
	require.NoError(t, l.Configure(nil))

	ctx := context.Background()
	for i := 0; i < 8; i++ {
		_, err := l.RunTrial(ctx, i)
		require.NoError(t, err)
	}
	// D at trial 3 and T at trial 8 complete words.
	assert.Equal(t, 2, l.wordsPresented)

	snap := l.StateSnapshot()
	assert.Equal(t, 2, snap["words_presented"])
	assert.Equal(t, 8, snap["current_trial_index"])
}

func TestLetterMonitoringRestore(t *testing.T) {
	l := NewLetterMonitoring()
	require.NoError(t, l.Configure(nil))

	trials := []map[string]any{
		{"trial_number": 1, "is_cvc_word": false},
		{"trial_number": 2, "is_cvc_word": false},
		{"trial_number": 3, "is_cvc_word": true},
	}
	l.RestoreTrialData(trials)
	assert.Equal(t, 1, l.wordsPresented)
	assert.Equal(t, 3, l.CurrentTrialIndex)

	// State maps restored from JSON carry float64 numbers.
	err := l.RestoreState(map[string]any{
		"current_trial_index": float64(5),
		"practice_mode":       true,
		"words_presented":     float64(2),
	})
	require.NoError(t, err)
	assert.Equal(t, 5, l.CurrentTrialIndex)
	assert.True(t, l.PracticeMode)
	assert.Equal(t, 2, l.wordsPresented)
	// Keys absent from the snapshot keep their current values.
	assert.False(t, l.IsPaused)
}

func TestLetterMonitoringRejectsBadList(t *testing.T) {
	l := NewLetterMonitoring()
	require.Error(t, l.Configure(map[string]any{"stimulus_list": 3}))
}

func TestMockTaskScriptedTrials(t *testing.T) {
	m := NewMockTask()
	require.NoError(t, m.Configure(map[string]any{"num_trials": 6}))
	assert.Equal(t, 6, m.TotalTrials())

	ctx := context.Background()
	record, err := m.RunTrial(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, record["trial_number"])
	assert.Equal(t, "mock response for trial 1", record["response"])
	assert.Equal(t, true, record["correct"])
	assert.Equal(t, float64(250), record["reaction_time_ms"])

	record, err = m.RunTrial(ctx, 4)
	require.NoError(t, err)
	assert.Equal(t, false, record["correct"], "every fifth trial is scripted incorrect")
}

func TestMockTaskStandsInUnderRealName(t *testing.T) {
	// A rehearsal mock takes over a queue entry, so it must answer to the
	// real task's name and swallow that task's configuration keys.
	m := NewMockTaskAs("stroop")
	require.NoError(t, m.Configure(map[string]any{"num_trials": 4, "seed": 42}))
	assert.Equal(t, "stroop", m.Name())
	assert.Equal(t, 4, m.TotalTrials())
}

func TestMockTaskScriptedFailure(t *testing.T) {
	m := NewMockTask()
	require.NoError(t, m.Configure(map[string]any{"num_trials": 5, "fail_at_trial": 3}))

	ctx := context.Background()
	_, err := m.RunTrial(ctx, 1)
	require.NoError(t, err)

	_, err = m.RunTrial(ctx, 2)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "trial 3")
}

func TestMockTaskHonorsContext(t *testing.T) {
	m := NewMockTask()
	require.NoError(t, m.Configure(map[string]any{"num_trials": 2, "trial_delay_ms": 5000}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := m.RunTrial(ctx, 0)
	require.ErrorIs(t, err, context.Canceled)
}
