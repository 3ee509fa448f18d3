// Package recorder drives persistence for one running task: trial
// buffering, routine and threshold-triggered saves, minimal emergency
// snapshots, and the completion handshake that prevents false recovery
// prompts on the next launch.
package recorder

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/brodbeck-lab/battery/internal/fsx"
	"github.com/brodbeck-lab/battery/internal/scheduler"
	"github.com/brodbeck-lab/battery/internal/session"
	"github.com/brodbeck-lab/battery/internal/tasks"
)

// Cadence defaults. The state change threshold of 1 means every recorded
// trial forces a full save rather than waiting for the routine timer.
const (
	DefaultAutoSaveInterval      = 2 * time.Second
	DefaultEmergencySaveInterval = 5 * time.Second
	DefaultStateChangeThreshold  = 1
	DefaultStopWait              = 3 * time.Second

	maxSaveErrors = 5
)

// ErrNotStarted is returned by operations that require StartWithRecovery
// to have run first.
var ErrNotStarted = errors.New("task recording not started")

// Option configures a Recorder.
type Option func(*Recorder)

// WithAutoSaveInterval overrides the routine save cadence.
func WithAutoSaveInterval(d time.Duration) Option {
	return func(r *Recorder) { r.autoSaveInterval = d }
}

// WithEmergencySaveInterval overrides the emergency snapshot cadence.
func WithEmergencySaveInterval(d time.Duration) Option {
	return func(r *Recorder) { r.emergencySaveInterval = d }
}

// WithStateChangeThreshold overrides how many recorded trials force an
// immediate full save.
func WithStateChangeThreshold(n int) Option {
	return func(r *Recorder) { r.stateChangeThreshold = n }
}

// WithStopWait overrides how long CompleteWithRecovery waits for cadence
// bodies to drain before abandoning them.
func WithStopWait(d time.Duration) Option {
	return func(r *Recorder) { r.stopWait = d }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(r *Recorder) { r.now = now }
}

// Recorder owns the persistence lifecycle of one task instance. A fresh
// instance is required per task run; completion is terminal.
//
// The task module is not goroutine safe, so cadence bodies never touch
// it: they work from the state snapshot captured with the most recent
// trial.
type Recorder struct {
	store  *session.Store
	module tasks.Module
	sched  scheduler.Scheduler
	now    func() time.Time

	autoSaveInterval      time.Duration
	emergencySaveInterval time.Duration
	stateChangeThreshold  int
	stopWait              time.Duration

	mu                 sync.Mutex
	started            bool
	completed          bool
	recoveryMode       bool
	originalTrialIndex int
	trialData          []map[string]any
	lastSnapshot       map[string]any
	stateChangeCount   int
	criticalChanged    bool
	autoSaveCount      int
	saveErrorCount     int
	lastSaveError      error
	taskStartTime      time.Time

	routine   scheduler.Cadence
	emergency scheduler.Cadence
}

// New creates a recorder for one task run.
func New(store *session.Store, module tasks.Module, sched scheduler.Scheduler, opts ...Option) *Recorder {
	r := &Recorder{
		store:                 store,
		module:                module,
		sched:                 sched,
		now:                   time.Now,
		autoSaveInterval:      DefaultAutoSaveInterval,
		emergencySaveInterval: DefaultEmergencySaveInterval,
		stateChangeThreshold:  DefaultStateChangeThreshold,
		stopWait:              DefaultStopWait,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// StartWithRecovery opens the task in the session store and starts the
// save cadences. If the store still holds an unfinished state for this
// task, the run resumes: stored trials are validated (records without a
// trial_number are dropped), handed back to the module, and the module's
// saved state is reapplied. Returns whether a previous run was resumed.
func (r *Recorder) StartWithRecovery(config map[string]any, totalTrials int) (bool, error) {
	name := r.module.Name()

	r.mu.Lock()
	if r.started {
		r.mu.Unlock()
		return false, fmt.Errorf("task %q recording already started", name)
	}

	prior, resuming := r.store.OpenTaskState(name)
	if err := r.store.StartTask(name, startConfig(config, totalTrials, r.now(), resuming), totalTrials); err != nil {
		r.mu.Unlock()
		return false, err
	}

	if resuming {
		valid, dropped := validateTrials(prior.TrialData)
		if dropped > 0 {
			slog.Warn("dropped restored trials failing validation",
				"task", name, "dropped", dropped, "kept", len(valid))
		}
		r.recoveryMode = true
		r.originalTrialIndex = len(valid)
		r.trialData = append(r.trialData, valid...)
		r.module.RestoreTrialData(valid)
		if len(prior.State) > 0 {
			if err := r.module.RestoreState(prior.State); err != nil {
				slog.Warn("task state restore incomplete", "task", name, "error", err)
			}
		}
		slog.Info("resumed task from stored state",
			"task", name, "trials_restored", len(valid), "resuming_at", r.originalTrialIndex+1)
	}

	r.started = true
	r.taskStartTime = r.now()
	r.lastSnapshot = r.module.StateSnapshot()
	r.mu.Unlock()

	r.routine = r.sched.Every(name+"/auto-save", r.autoSaveInterval, r.autoSaveTaskState)
	r.emergency = r.sched.Every(name+"/emergency-save", r.emergencySaveInterval, r.emergencySaveCriticalData)
	return resuming, nil
}

// startConfig merges the run metadata the store keeps with the task
// configuration. On a resume the stored configuration is passed through
// unchanged.
func startConfig(config map[string]any, totalTrials int, now time.Time, resuming bool) map[string]any {
	if resuming {
		return config
	}
	merged := make(map[string]any, len(config)+3)
	for k, v := range config {
		merged[k] = v
	}
	merged["total_trials"] = totalTrials
	merged["start_time"] = now.Format(time.RFC3339)
	merged["recovery_enabled"] = true
	return merged
}

// validateTrials keeps only restored records carrying a trial_number.
func validateTrials(trials []map[string]any) (valid []map[string]any, dropped int) {
	for _, trial := range trials {
		if _, ok := trial["trial_number"]; !ok {
			dropped++
			continue
		}
		valid = append(valid, trial)
	}
	return valid, dropped
}

// RecordTrial enriches one trial record with recovery metadata, appends
// it to the session store, and forces an immediate full save once the
// state change threshold is reached.
func (r *Recorder) RecordTrial(trial map[string]any) error {
	r.mu.Lock()
	if !r.started {
		r.mu.Unlock()
		return ErrNotStarted
	}
	if r.completed {
		r.mu.Unlock()
		return session.ErrTaskCompleted
	}

	snapshot := r.module.StateSnapshot()
	enriched := make(map[string]any, len(trial)+6)
	for k, v := range trial {
		enriched[k] = v
	}
	now := r.now()
	enriched["task_name"] = r.module.Name()
	enriched["save_timestamp"] = now.Format(time.RFC3339)
	enriched["recovery_mode"] = r.recoveryMode
	enriched["session_trial_index"] = r.stateChangeCount
	enriched["task_elapsed_time"] = now.Sub(r.taskStartTime).Seconds()
	enriched["task_state_snapshot"] = snapshot

	if err := r.store.RecordTrial(enriched); err != nil {
		r.noteSaveErrorLocked(err)
		tooMany := r.saveErrorCount >= maxSaveErrors
		r.mu.Unlock()
		if tooMany {
			r.emergencySaveCriticalData()
		}
		return err
	}

	r.trialData = append(r.trialData, enriched)
	r.lastSnapshot = snapshot
	r.criticalChanged = true
	r.stateChangeCount++
	immediate := r.stateChangeCount >= r.stateChangeThreshold
	if immediate {
		r.stateChangeCount = 0
	}
	r.mu.Unlock()

	if immediate {
		r.ImmediateSave()
	}
	return nil
}

// CompleteWithRecovery stops the save cadences, performs a final save,
// and records the completion with the session store. The completion
// payload merges the recovery bookkeeping over finalData.
//
// Deliberately not idempotent: a second call records a second completion,
// matching the store's documented behavior.
func (r *Recorder) CompleteWithRecovery(finalData map[string]any) error {
	r.mu.Lock()
	if !r.started {
		r.mu.Unlock()
		return ErrNotStarted
	}
	r.completed = true
	routine, emergency := r.routine, r.emergency
	r.mu.Unlock()

	if routine != nil && !routine.Stop(r.stopWait) {
		slog.Warn("auto-save cadence did not drain before completion", "task", r.module.Name())
	}
	if emergency != nil && !emergency.Stop(r.stopWait) {
		slog.Warn("emergency cadence did not drain before completion", "task", r.module.Name())
	}

	// Final persist of whatever the cadences last merged. The module's
	// closing state travels in the completion payload instead.
	r.store.Save()

	r.mu.Lock()
	now := r.now()
	payload := make(map[string]any, len(finalData)+9)
	for k, v := range finalData {
		payload[k] = v
	}
	payload["recovery_mode"] = r.recoveryMode
	payload["original_trial_index"] = r.originalTrialIndex
	payload["total_trials_completed"] = len(r.trialData)
	payload["completion_timestamp"] = now.Format(time.RFC3339)
	payload["save_error_count"] = r.saveErrorCount
	payload["state_change_count"] = r.stateChangeCount
	payload["final_task_state"] = r.module.StateSnapshot()
	payload["task_duration"] = now.Sub(r.taskStartTime).Seconds()
	name := r.module.Name()
	r.mu.Unlock()

	if _, err := r.store.CompleteTask(name, payload); err != nil {
		return fmt.Errorf("completing task %q: %w", name, err)
	}
	return nil
}

// Abort stops the save cadences and persists whatever was captured,
// without recording a completion. The task stays open in the session
// document, which is what a later launch needs to offer resume. Safe to
// call after CompleteWithRecovery; it does nothing then.
func (r *Recorder) Abort() {
	r.mu.Lock()
	if !r.started || r.completed {
		r.mu.Unlock()
		return
	}
	routine, emergency := r.routine, r.emergency
	r.routine, r.emergency = nil, nil
	r.mu.Unlock()

	if routine != nil && !routine.Stop(r.stopWait) {
		slog.Warn("auto-save cadence did not drain before abort", "task", r.module.Name())
	}
	if emergency != nil && !emergency.Stop(r.stopWait) {
		slog.Warn("emergency cadence did not drain before abort", "task", r.module.Name())
	}
	r.ImmediateSave()
}

// ImmediateSave merges the latest captured module state into the session
// document and writes it to disk, regardless of cadence timing.
func (r *Recorder) ImmediateSave() {
	r.syncModuleState()
	if !r.store.Save() {
		r.mu.Lock()
		r.noteSaveErrorLocked(errors.New("session save failed"))
		r.mu.Unlock()
	}
}

// autoSaveTaskState is the routine cadence body.
func (r *Recorder) autoSaveTaskState() {
	r.mu.Lock()
	if !r.started || r.completed {
		r.mu.Unlock()
		return
	}
	r.mu.Unlock()
	r.ImmediateSave()
}

// syncModuleState pushes the most recent trial-time snapshot plus save
// bookkeeping into the store's open task state. No-op once completed.
func (r *Recorder) syncModuleState() {
	r.mu.Lock()
	if !r.started || r.completed {
		r.mu.Unlock()
		return
	}
	r.autoSaveCount++
	merged := make(map[string]any, len(r.lastSnapshot)+3)
	for k, v := range r.lastSnapshot {
		merged[k] = v
	}
	merged["last_auto_save"] = r.now().Format(time.RFC3339)
	merged["auto_save_count"] = r.autoSaveCount
	merged["save_error_count"] = r.saveErrorCount
	r.mu.Unlock()

	if err := r.store.UpdateTaskState(merged); err != nil {
		r.mu.Lock()
		r.noteSaveErrorLocked(err)
		r.mu.Unlock()
	}
}

// emergencySaveCriticalData writes the minimal snapshot that must survive
// even when the full document cannot be written. It fires only when new
// critical data arrived since the last emergency save. The organized
// location under system/emergency_saves is tried first, then the flat
// fallback in the participant folder: data survival outranks
// organization.
func (r *Recorder) emergencySaveCriticalData() {
	r.mu.Lock()
	if !r.criticalChanged || !r.started {
		r.mu.Unlock()
		return
	}
	critical := map[string]any{
		"task_name":            r.module.Name(),
		"emergency_save_time":  r.now().Format(time.RFC3339),
		"critical_trial_count": len(r.trialData),
		"current_position":     currentPosition(r.lastSnapshot),
		"recovery_mode":        r.recoveryMode,
		"task_completed":       r.completed,
		"folder_structure":     "organized_v2",
		"save_location":        "system/emergency_saves/",
	}
	name := r.module.Name()
	r.mu.Unlock()

	paths := r.store.Paths()
	if err := os.MkdirAll(paths.EmergencySavesDir(), 0755); err == nil {
		if err := fsx.WriteJSONFile(paths.TaskEmergencyFile(name), critical); err == nil {
			r.mu.Lock()
			r.criticalChanged = false
			r.mu.Unlock()
			return
		}
	}

	critical["save_location"] = "participant folder fallback"
	if err := fsx.WriteJSONFile(paths.TaskEmergencyFallbackFile(name), critical); err != nil {
		slog.Error("emergency save failed in both locations", "task", name, "error", err)
		return
	}
	slog.Warn("emergency save fell back to participant folder", "task", name)
	r.mu.Lock()
	r.criticalChanged = false
	r.mu.Unlock()
}

// EmergencyFlush forces the emergency snapshot path, used by the crash
// cascade.
func (r *Recorder) EmergencyFlush() {
	r.emergencySaveCriticalData()
}

func (r *Recorder) noteSaveErrorLocked(err error) {
	r.saveErrorCount++
	r.lastSaveError = err
	slog.Warn("task save error", "task", r.module.Name(),
		"count", r.saveErrorCount, "error", err)
}

// currentPosition reads the trial cursor from a state snapshot.
func currentPosition(snapshot map[string]any) int {
	switch v := snapshot["current_trial_index"].(type) {
	case int:
		return v
	case float64:
		return int(v)
	}
	return 0
}

// RecoveryMode reports whether this run resumed a previous one.
func (r *Recorder) RecoveryMode() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.recoveryMode
}

// TrialCount returns the number of trials buffered this run, restored
// ones included.
func (r *Recorder) TrialCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.trialData)
}

// Trials returns the buffered trial records, restored ones included. The
// store drops trial data when a task completes, so data export reads it
// from here. Callers must treat the records as read-only.
func (r *Recorder) Trials() []map[string]any {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]map[string]any(nil), r.trialData...)
}

// Completed reports whether CompleteWithRecovery has run.
func (r *Recorder) Completed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.completed
}

// SaveErrors returns the consecutive save failure count and the most
// recent failure.
func (r *Recorder) SaveErrors() (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.saveErrorCount, r.lastSaveError
}
