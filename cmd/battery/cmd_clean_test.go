package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brodbeck-lab/battery/internal/session"
)

func TestCleanCommand_RequiresParticipant(t *testing.T) {
	_, err := runCLI(t, "clean", "--data-root", t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--participant is required")
}

func TestCleanCommand_RemovesRecoveryArtifactsOnly(t *testing.T) {
	root := t.TempDir()
	seedInterruptedSession(t, root, "P301", 2, 5)

	paths := session.NewPaths(root, "P301")
	dataFile := filepath.Join(paths.DataDir(), "stroop-20250101-120000.json")
	require.NoError(t, os.WriteFile(dataFile, []byte("{}\n"), 0o644))
	require.NoError(t, os.MkdirAll(paths.LogsDir(), 0o755))
	logFile := filepath.Join(paths.LogsDir(), "20250101T120000Z-session.jsonl")
	require.NoError(t, os.WriteFile(logFile, []byte("{}\n"), 0o644))

	out, err := runCLI(t, "clean", "--participant", "P301", "--data-root", root)
	require.NoError(t, err)
	assert.Contains(t, out, "removed")
	assert.Contains(t, out, session.SessionFileName)
	assert.Contains(t, out, "note: the removed session was resumable")

	_, statErr := os.Stat(paths.SessionFile())
	assert.True(t, os.IsNotExist(statErr))
	_, statErr = os.Stat(paths.RecoveryFile())
	assert.True(t, os.IsNotExist(statErr))

	// The durable outputs stay in place.
	assert.FileExists(t, dataFile)
	assert.FileExists(t, logFile)

	out, err = runCLI(t, "clean", "--participant", "P301", "--data-root", root)
	require.NoError(t, err)
	assert.Contains(t, out, "Nothing to clean for P301")
}

func TestCleanCommand_ClosedSessionHasNoResumableNote(t *testing.T) {
	root := t.TempDir()
	seedClosedSession(t, root, "P302")

	out, err := runCLI(t, "clean", "--participant", "P302", "--data-root", root)
	require.NoError(t, err)
	assert.Contains(t, out, "removed")
	assert.NotContains(t, out, "was resumable")
}

func TestCleanCommand_ReportsFlag(t *testing.T) {
	root := t.TempDir()
	seedClosedSession(t, root, "P303")

	paths := session.NewPaths(root, "P303")
	report := filepath.Join(paths.CrashReportsDir(), "crash_report_20250101_120000.json")
	require.NoError(t, os.WriteFile(report, []byte("{}\n"), 0o644))

	// Crash reports survive a plain clean.
	_, err := runCLI(t, "clean", "--participant", "P303", "--data-root", root)
	require.NoError(t, err)
	assert.FileExists(t, report)

	_, err = runCLI(t, "clean", "--participant", "P303", "--data-root", root, "--reports")
	require.NoError(t, err)
	assert.NoDirExists(t, paths.CrashReportsDir())
}
