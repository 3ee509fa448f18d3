package recorder

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/brodbeck-lab/battery/internal/scheduler"
	"github.com/brodbeck-lab/battery/internal/session"
	"github.com/brodbeck-lab/battery/internal/tasks"
)

var testNow = time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func openTestStore(t *testing.T, root string) *session.Store {
	t.Helper()
	store, err := session.Open("P001", root, session.WithClock(fixedClock(testNow)))
	require.NoError(t, err)
	return store
}

func newMockRecorder(t *testing.T, store *session.Store, sched scheduler.Scheduler, opts ...Option) (*Recorder, *tasks.MockTask) {
	t.Helper()
	module := tasks.NewMockTask()
	require.NoError(t, module.Configure(map[string]any{"num_trials": 10}))
	opts = append([]Option{WithClock(fixedClock(testNow))}, opts...)
	return New(store, module, sched, opts...), module
}

func readSessionFile(t *testing.T, store *session.Store) map[string]any {
	t.Helper()
	data, err := os.ReadFile(store.Paths().SessionFile())
	require.NoError(t, err)
	var doc map[string]any
	require.NoError(t, json.Unmarshal(data, &doc))
	return doc
}

func diskTrialCount(t *testing.T, store *session.Store) int {
	t.Helper()
	doc := readSessionFile(t, store)
	state, ok := doc["current_task_state"].(map[string]any)
	if !ok {
		return -1
	}
	trials, ok := state["trial_data"].([]any)
	if !ok {
		return 0
	}
	return len(trials)
}

func TestStartFreshTask(t *testing.T) {
	store := openTestStore(t, t.TempDir())
	rec, _ := newMockRecorder(t, store, scheduler.NewManual())

	resumed, err := rec.StartWithRecovery(map[string]any{"num_trials": 10}, 10)
	require.NoError(t, err)
	assert.False(t, resumed)
	assert.False(t, rec.RecoveryMode())

	state, ok := store.CurrentTaskSnapshot()
	require.True(t, ok)
	assert.Equal(t, "mock", state.TaskName)
	assert.Equal(t, 10, state.TotalTrials)
	assert.Equal(t, 10, state.Config["num_trials"])
	assert.Equal(t, true, state.Config["recovery_enabled"])
	assert.Equal(t, 10, state.Config["total_trials"])
}

func TestStartTwiceFails(t *testing.T) {
	store := openTestStore(t, t.TempDir())
	rec, _ := newMockRecorder(t, store, scheduler.NewManual())

	_, err := rec.StartWithRecovery(nil, 10)
	require.NoError(t, err)
	_, err = rec.StartWithRecovery(nil, 10)
	require.Error(t, err)
}

func TestRecordBeforeStart(t *testing.T) {
	store := openTestStore(t, t.TempDir())
	rec, _ := newMockRecorder(t, store, scheduler.NewManual())

	err := rec.RecordTrial(map[string]any{"trial_number": 1})
	require.ErrorIs(t, err, ErrNotStarted)
}

func TestRecordTrialEnrichment(t *testing.T) {
	store := openTestStore(t, t.TempDir())
	rec, _ := newMockRecorder(t, store, scheduler.NewManual())

	_, err := rec.StartWithRecovery(nil, 10)
	require.NoError(t, err)
	require.NoError(t, rec.RecordTrial(map[string]any{"trial_number": 1, "response": "red"}))

	state, ok := store.CurrentTaskSnapshot()
	require.True(t, ok)
	require.Len(t, state.TrialData, 1)

	trial := state.TrialData[0]
	assert.Equal(t, "red", trial["response"])
	assert.Equal(t, "mock", trial["task_name"])
	assert.Equal(t, false, trial["recovery_mode"])
	assert.Equal(t, 0, trial["session_trial_index"])
	assert.NotEmpty(t, trial["save_timestamp"])

	snapshot, ok := trial["task_state_snapshot"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, snapshot, "current_trial_index")

	// Default threshold of 1: the trial is already on disk.
	assert.Equal(t, 1, diskTrialCount(t, store))
}

func TestThresholdDefersDiskWrite(t *testing.T) {
	store := openTestStore(t, t.TempDir())
	rec, _ := newMockRecorder(t, store, scheduler.NewManual(), WithStateChangeThreshold(3))

	_, err := rec.StartWithRecovery(nil, 10)
	require.NoError(t, err)

	require.NoError(t, rec.RecordTrial(map[string]any{"trial_number": 1}))
	require.NoError(t, rec.RecordTrial(map[string]any{"trial_number": 2}))
	assert.Equal(t, 0, diskTrialCount(t, store), "below threshold, disk write deferred to the cadence")

	require.NoError(t, rec.RecordTrial(map[string]any{"trial_number": 3}))
	assert.Equal(t, 3, diskTrialCount(t, store), "threshold reached, immediate save")
}

func TestAutoSaveCadenceWritesDisk(t *testing.T) {
	store := openTestStore(t, t.TempDir())
	manual := scheduler.NewManual()
	rec, _ := newMockRecorder(t, store, manual, WithStateChangeThreshold(100))

	_, err := rec.StartWithRecovery(nil, 10)
	require.NoError(t, err)
	require.NoError(t, rec.RecordTrial(map[string]any{"trial_number": 1}))
	assert.Equal(t, 0, diskTrialCount(t, store))

	require.True(t, manual.Fire("mock/auto-save"))
	assert.Equal(t, 1, diskTrialCount(t, store))

	doc := readSessionFile(t, store)
	state := doc["current_task_state"].(map[string]any)
	merged, ok := state["task_specific_state"].(map[string]any)
	require.True(t, ok)
	assert.EqualValues(t, 1, merged["auto_save_count"])
	assert.NotEmpty(t, merged["last_auto_save"])
	assert.Contains(t, merged, "current_trial_index")
}

func TestAutoSaveNoopAfterCompletion(t *testing.T) {
	store := openTestStore(t, t.TempDir())
	manual := scheduler.NewManual()
	rec, _ := newMockRecorder(t, store, manual)

	_, err := rec.StartWithRecovery(nil, 10)
	require.NoError(t, err)
	require.NoError(t, rec.RecordTrial(map[string]any{"trial_number": 1}))
	require.NoError(t, rec.CompleteWithRecovery(nil))

	require.NoError(t, os.Remove(store.Paths().SessionFile()))
	manual.Fire("mock/auto-save")
	assert.NoFileExists(t, store.Paths().SessionFile())
}

func TestCompleteRecordsCompletion(t *testing.T) {
	store := openTestStore(t, t.TempDir())
	rec, _ := newMockRecorder(t, store, scheduler.NewManual())

	_, err := rec.StartWithRecovery(nil, 10)
	require.NoError(t, err)
	require.NoError(t, rec.RecordTrial(map[string]any{"trial_number": 1}))
	require.NoError(t, rec.RecordTrial(map[string]any{"trial_number": 2}))

	require.NoError(t, rec.CompleteWithRecovery(map[string]any{"score": 95}))
	assert.True(t, rec.Completed())

	doc := store.Document()
	require.Len(t, doc.CompletedTasks, 1)
	record := doc.CompletedTasks[0]
	assert.Equal(t, "mock", record.TaskName)
	assert.Equal(t, 2, record.TrialsCompleted)
	assert.True(t, record.CompletedSuccessfully)
	assert.Equal(t, 95, record.CompletionData["score"])
	assert.Equal(t, 2, record.CompletionData["total_trials_completed"])
	assert.Equal(t, false, record.CompletionData["recovery_mode"])
	assert.Contains(t, record.CompletionData, "final_task_state")
	assert.Contains(t, record.CompletionData, "task_duration")

	assert.Nil(t, doc.CurrentTask)
	assert.Nil(t, doc.CurrentTaskState)

	err = rec.RecordTrial(map[string]any{"trial_number": 3})
	require.ErrorIs(t, err, session.ErrTaskCompleted)
}

func TestCompleteStopsCadences(t *testing.T) {
	store := openTestStore(t, t.TempDir())
	manual := scheduler.NewManual()
	rec, _ := newMockRecorder(t, store, manual)

	_, err := rec.StartWithRecovery(nil, 10)
	require.NoError(t, err)
	require.NoError(t, rec.CompleteWithRecovery(nil))

	assert.True(t, manual.Stopped("mock/auto-save"))
	assert.True(t, manual.Stopped("mock/emergency-save"))
}

func TestResumeRestoresModuleState(t *testing.T) {
	root := t.TempDir()

	// First run: two trials land, then the process dies without cleanup.
	store1 := openTestStore(t, root)
	rec1, _ := newMockRecorder(t, store1, scheduler.NewManual())
	_, err := rec1.StartWithRecovery(map[string]any{"num_trials": 10}, 10)
	require.NoError(t, err)
	require.NoError(t, rec1.RecordTrial(map[string]any{"trial_number": 1}))
	require.NoError(t, rec1.RecordTrial(map[string]any{"trial_number": 2}))

	// Next launch offers the stored session; the participant resumes.
	store2 := openTestStore(t, root)
	_, pending := store2.RecoveryPending()
	require.True(t, pending)
	_, err = store2.ResumeRecovered()
	require.NoError(t, err)

	ctrl := gomock.NewController(t)
	module := tasks.NewMockModule(ctrl)
	module.EXPECT().Name().Return("mock").AnyTimes()
	module.EXPECT().RestoreTrialData(gomock.Len(2))
	module.EXPECT().RestoreState(gomock.Any()).Return(nil)
	module.EXPECT().StateSnapshot().Return(map[string]any{"current_trial_index": 2}).AnyTimes()

	rec2 := New(store2, module, scheduler.NewManual(), WithClock(fixedClock(testNow)))
	resumed, err := rec2.StartWithRecovery(map[string]any{"num_trials": 10}, 10)
	require.NoError(t, err)
	assert.True(t, resumed)
	assert.True(t, rec2.RecoveryMode())
	assert.Equal(t, 2, rec2.TrialCount())

	// New trials continue the buffer rather than replacing it.
	require.NoError(t, rec2.RecordTrial(map[string]any{"trial_number": 3}))
	state, ok := store2.CurrentTaskSnapshot()
	require.True(t, ok)
	assert.Len(t, state.TrialData, 3)
	assert.Equal(t, true, state.TrialData[2]["recovery_mode"])
}

func TestResumeDropsInvalidTrials(t *testing.T) {
	root := t.TempDir()

	store1 := openTestStore(t, root)
	require.NoError(t, store1.StartTask("mock", nil, 10))
	require.NoError(t, store1.RecordTrial(map[string]any{"trial_number": 1}))
	require.NoError(t, store1.RecordTrial(map[string]any{"response": "orphaned"}))
	require.NoError(t, store1.RecordTrial(map[string]any{"trial_number": 3}))
	store1.Save()

	store2 := openTestStore(t, root)
	_, err := store2.ResumeRecovered()
	require.NoError(t, err)

	rec, module := newMockRecorder(t, store2, scheduler.NewManual())
	resumed, err := rec.StartWithRecovery(nil, 10)
	require.NoError(t, err)
	require.True(t, resumed)

	assert.Equal(t, 2, rec.TrialCount(), "the record without trial_number is dropped")
	assert.Equal(t, 2, module.CurrentTrialIndex)
}

func TestEmergencySaveGatedOnCriticalData(t *testing.T) {
	store := openTestStore(t, t.TempDir())
	manual := scheduler.NewManual()
	rec, module := newMockRecorder(t, store, manual)

	_, err := rec.StartWithRecovery(nil, 10)
	require.NoError(t, err)

	emergencyFile := store.Paths().TaskEmergencyFile("mock")
	manual.Fire("mock/emergency-save")
	assert.NoFileExists(t, emergencyFile, "no critical data yet")

	trial, err := module.RunTrial(context.Background(), 0)
	require.NoError(t, err)
	require.NoError(t, rec.RecordTrial(trial))
	manual.Fire("mock/emergency-save")
	require.FileExists(t, emergencyFile)

	data, err := os.ReadFile(emergencyFile)
	require.NoError(t, err)
	var critical map[string]any
	require.NoError(t, json.Unmarshal(data, &critical))
	assert.Equal(t, "mock", critical["task_name"])
	assert.EqualValues(t, 1, critical["critical_trial_count"])
	assert.EqualValues(t, 1, critical["current_position"])
	assert.Equal(t, false, critical["recovery_mode"])
	assert.Equal(t, false, critical["task_completed"])
	assert.Equal(t, "organized_v2", critical["folder_structure"])
	assert.NotEmpty(t, critical["emergency_save_time"])

	// The flag resets after a successful emergency save.
	require.NoError(t, os.Remove(emergencyFile))
	manual.Fire("mock/emergency-save")
	assert.NoFileExists(t, emergencyFile, "nothing new to save")
}

func TestEmergencySaveFallsBack(t *testing.T) {
	store := openTestStore(t, t.TempDir())
	manual := scheduler.NewManual()
	rec, _ := newMockRecorder(t, store, manual)

	_, err := rec.StartWithRecovery(nil, 10)
	require.NoError(t, err)
	require.NoError(t, rec.RecordTrial(map[string]any{"trial_number": 1}))

	// Break the organized location: a plain file where the directory
	// should be makes MkdirAll fail.
	require.NoError(t, os.RemoveAll(store.Paths().EmergencySavesDir()))
	require.NoError(t, os.WriteFile(store.Paths().EmergencySavesDir(), []byte("x"), 0644))

	rec.EmergencyFlush()

	fallback := store.Paths().TaskEmergencyFallbackFile("mock")
	require.FileExists(t, fallback)

	data, err := os.ReadFile(fallback)
	require.NoError(t, err)
	var critical map[string]any
	require.NoError(t, json.Unmarshal(data, &critical))
	assert.Equal(t, "participant folder fallback", critical["save_location"])
}

func TestCompletedRecorderRejectsTrials(t *testing.T) {
	store := openTestStore(t, t.TempDir())
	rec, _ := newMockRecorder(t, store, scheduler.NewManual())

	_, err := rec.StartWithRecovery(nil, 10)
	require.NoError(t, err)
	require.NoError(t, rec.CompleteWithRecovery(nil))

	err = rec.RecordTrial(map[string]any{"trial_number": 1})
	require.ErrorIs(t, err, session.ErrTaskCompleted)

	count, last := rec.SaveErrors()
	assert.Equal(t, 0, count, "the completion guard rejects before any save is attempted")
	assert.NoError(t, last)
}

func TestSaveErrorTracking(t *testing.T) {
	store := openTestStore(t, t.TempDir())
	rec, _ := newMockRecorder(t, store, scheduler.NewManual())

	_, err := rec.StartWithRecovery(nil, 10)
	require.NoError(t, err)

	// Complete the task behind the recorder's back so its store writes
	// start failing.
	_, err = store.CompleteTask("mock", nil)
	require.NoError(t, err)

	for i := 1; i <= 3; i++ {
		require.Error(t, rec.RecordTrial(map[string]any{"trial_number": i}))
	}
	count, last := rec.SaveErrors()
	assert.Equal(t, 3, count)
	assert.ErrorIs(t, last, session.ErrNoActiveTask)
}
