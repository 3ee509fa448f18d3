package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brodbeck-lab/battery/internal/session"
)

// resetCLIGlobals zeroes the package-level flag vars so prior tests don't leak.
func resetCLIGlobals() {
	batteryPath = ""
	participantFlag = ""
	mockTasks = false
	dataRootFlag = ""
}

// runCLI executes the root command with the given args and returns the
// combined output. Stdin is empty so any accidental interactive path
// fails fast instead of hanging the test.
func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	resetCLIGlobals()

	cmd := newRootCommand()
	var output bytes.Buffer
	cmd.SetOut(&output)
	cmd.SetErr(&output)
	cmd.SetIn(strings.NewReader(""))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return output.String(), err
}

// writeBattery writes a battery definition YAML into a temp dir and
// returns its path.
func writeBattery(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "battery.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

// ---------------------------------------------------------------------------
// Argument validation
// ---------------------------------------------------------------------------

func TestRunCommand_RequiresBatteryFlag(t *testing.T) {
	_, err := runCLI(t, "run")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--battery is required")
}

func TestRunCommand_InvalidDefinition(t *testing.T) {
	path := writeBattery(t, "tasks: []\n")

	_, err := runCLI(t, "run", "--battery", path, "--data-root", t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "loading battery definition")
}

func TestRunCommand_MissingDefinitionFile(t *testing.T) {
	_, err := runCLI(t, "run", "--battery", "nonexistent.yaml", "--data-root", t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "loading battery definition")
}

func TestRunCommand_RejectsBadParticipantID(t *testing.T) {
	path := writeBattery(t, "tasks:\n  - name: mock\n    total_trials: 2\n")

	_, err := runCLI(t, "run", "--battery", path, "--participant", "P001/../evil", "--data-root", t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "letters, digits")
}

// ---------------------------------------------------------------------------
// Full runs
// ---------------------------------------------------------------------------

func TestRunCommand_CompletesBattery(t *testing.T) {
	root := t.TempDir()
	path := writeBattery(t, `description: Smoke battery
tasks:
  - name: mock
    total_trials: 3
`)

	out, err := runCLI(t, "run", "--battery", path, "--participant", "P001", "--data-root", root)
	require.NoError(t, err)

	assert.Contains(t, out, "Description: Smoke battery")
	assert.Contains(t, out, "Participant: P001")
	assert.Contains(t, out, "[1/1] Task mock (3 trials)")
	assert.Contains(t, out, "done (3 trials)")
	assert.Contains(t, out, "SESSION SUMMARY")
	assert.Contains(t, out, "Trials recorded: 3")

	dataFiles, err := filepath.Glob(filepath.Join(root, "P001", "data", "mock-*.json"))
	require.NoError(t, err)
	require.Len(t, dataFiles, 1)

	// A fully completed session leaves no recovery artifacts behind.
	paths := session.NewPaths(root, "P001")
	_, statErr := os.Stat(paths.SessionFile())
	assert.True(t, os.IsNotExist(statErr), "session file should be cleaned up after completion")
}

func TestRunCommand_ParticipantFromDefinition(t *testing.T) {
	root := t.TempDir()
	path := writeBattery(t, `participant: P077
tasks:
  - name: mock
    total_trials: 2
`)

	out, err := runCLI(t, "run", "--battery", path, "--data-root", root)
	require.NoError(t, err)
	assert.Contains(t, out, "Participant: P077")

	dataFiles, err := filepath.Glob(filepath.Join(root, "P077", "data", "mock-*.json"))
	require.NoError(t, err)
	assert.Len(t, dataFiles, 1)
}

func TestRunCommand_MockFlagSubstitutesModules(t *testing.T) {
	root := t.TempDir()
	path := writeBattery(t, `tasks:
  - name: stroop
    total_trials: 4
    config:
      seed: 42
`)

	out, err := runCLI(t, "run", "--battery", path, "--participant", "P002", "--data-root", root, "--mock")
	require.NoError(t, err)
	assert.Contains(t, out, "Mode: mock")
	assert.Contains(t, out, "Trials recorded: 4")

	// The data file keeps the real task name even though the scripted
	// module produced the trials.
	dataFiles, err := filepath.Glob(filepath.Join(root, "P002", "data", "stroop-*.json"))
	require.NoError(t, err)
	require.Len(t, dataFiles, 1)

	raw, err := os.ReadFile(dataFiles[0])
	require.NoError(t, err)
	var data map[string]any
	require.NoError(t, json.Unmarshal(raw, &data))
	assert.Equal(t, "stroop", data["task_name"])

	trials, ok := data["trials"].([]any)
	require.True(t, ok)
	require.Len(t, trials, 4)
	first, ok := trials[0].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, first["response"], "mock response")
}

// ---------------------------------------------------------------------------
// Halted runs
// ---------------------------------------------------------------------------

func TestRunCommand_HaltedRunReturnsAbortedError(t *testing.T) {
	root := t.TempDir()
	path := writeBattery(t, `tasks:
  - name: mock
    config:
      num_trials: 3
      fail_at_trial: 2
`)

	out, err := runCLI(t, "run", "--battery", path, "--participant", "P003", "--data-root", root)
	require.Error(t, err)

	var aborted *SessionAbortedError
	require.True(t, errors.As(err, &aborted), "expected SessionAbortedError, got %T: %v", err, err)
	assert.Equal(t, "P003", aborted.Participant)
	assert.Contains(t, err.Error(), "progress saved")
	assert.Contains(t, err.Error(), "scripted failure at trial 2")
	assert.Contains(t, out, "Session halted")

	// The stored document must be offered for resume on the next launch.
	ins := session.Inspect(root, "P003", time.Now(), 0)
	assert.True(t, ins.Recoverable, "halted session should be recoverable, reason: %s", ins.Reason)
	require.NotNil(t, ins.Doc)
	require.NotNil(t, ins.Doc.CurrentTask)
	assert.Equal(t, "mock", *ins.Doc.CurrentTask)
	require.NotNil(t, ins.Doc.CurrentTaskState)
	assert.Equal(t, 1, len(ins.Doc.CurrentTaskState.TrialData), "the trial before the failure should be on disk")
}
