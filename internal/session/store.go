package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/brodbeck-lab/battery/internal/canon"
	"github.com/brodbeck-lab/battery/internal/fsx"
	"github.com/brodbeck-lab/battery/internal/validation"
)

// ErrNoRecoveryPending is returned by ResumeRecovered and DiscardRecovered
// when Open found nothing to recover.
var ErrNoRecoveryPending = errors.New("no recoverable session pending")

// Store owns the session document for one participant and every mutation
// of it. All access is serialized through an internal mutex: the watcher's
// background emergency-save cannot race a main-flow save.
type Store struct {
	mu    sync.Mutex
	doc   *Document
	paths Paths
	log   EventLogger
	now   func() time.Time

	maxAge          time.Duration
	pendingRecovery bool
	openNote        string
}

// StoreOption configures a Store at Open time.
type StoreOption func(*Store)

// WithEventLogger wires the session audit log.
func WithEventLogger(l EventLogger) StoreOption {
	return func(s *Store) { s.log = l }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) StoreOption {
	return func(s *Store) { s.now = now }
}

// WithMaxSessionAge overrides the recovery age cutoff.
func WithMaxSessionAge(d time.Duration) StoreOption {
	return func(s *Store) { s.maxAge = d }
}

// Open loads the stored session for a participant, or creates a fresh one.
//
// When a stored document exists but is corrupt or fails the recoverability
// predicate, its recovery-only artifacts are deleted (exported data files
// are never touched) and a fresh active document takes its place. When the
// stored document IS recoverable, the store holds it and every mutating
// operation returns ErrRecoveryPending until the caller either
// ResumeRecovered or DiscardRecovered.
func Open(participantID, storageRoot string, opts ...StoreOption) (*Store, error) {
	if participantID == "" {
		return nil, errors.New("participant id is required")
	}
	paths := NewPaths(storageRoot, participantID)
	if err := paths.EnsureLayout(); err != nil {
		return nil, fmt.Errorf("preparing participant folder: %w", err)
	}

	s := &Store{
		paths:  paths,
		log:    NopLogger{},
		now:    func() time.Time { return time.Now().UTC() },
		maxAge: DefaultMaxSessionAge,
	}
	for _, opt := range opts {
		opt(s)
	}

	loaded, loadErr := s.loadStoredDocument()
	switch {
	case loadErr == nil && loaded != nil:
		verdict := Evaluate(loaded, s.now(), s.maxAge)
		if verdict.Recoverable {
			s.doc = loaded
			s.pendingRecovery = true
			s.openNote = "recoverable session found"
			return s, nil
		}
		slog.Debug("stored session not recoverable", "participant", participantID, "reason", verdict.Reason)
		s.openNote = verdict.Reason
		s.cleanupRecoveryArtifactsLocked()
	case loadErr != nil:
		slog.Warn("stored session unreadable, starting fresh", "participant", participantID, "error", loadErr)
		s.openNote = loadErr.Error()
		s.cleanupRecoveryArtifactsLocked()
	default:
		s.openNote = "no stored session"
	}

	s.doc = NewDocument(participantID, uuid.NewString(), s.now())
	s.saveLocked()
	s.log.Log(NewEvent(EventSessionStart, SessionStartData(participantID, s.doc.SessionID, 0)))
	return s, nil
}

// loadStoredDocument reads and validates session_state.json, falling back
// to the recovery wrapper when the primary is damaged. (nil, nil) means no
// stored session exists.
func (s *Store) loadStoredDocument() (*Document, error) {
	data, err := os.ReadFile(s.paths.SessionFile())
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return s.loadFromRecoveryWrapper(fmt.Errorf("reading session file: %w", err))
	}
	doc, err := decodeDocument(data)
	if err != nil {
		return s.loadFromRecoveryWrapper(err)
	}
	return doc, nil
}

// loadFromRecoveryWrapper cross-checks recovery_data.json after a primary
// failure. primaryErr is returned when the wrapper cannot help either.
func (s *Store) loadFromRecoveryWrapper(primaryErr error) (*Document, error) {
	data, err := os.ReadFile(s.paths.RecoveryFile())
	if err != nil {
		return nil, primaryErr
	}
	if errs := validation.ValidateRecoveryBytes(data); len(errs) > 0 {
		return nil, primaryErr
	}
	var wrapper RecoveryWrapper
	if err := json.Unmarshal(data, &wrapper); err != nil {
		return nil, primaryErr
	}
	if wrapper.Checksum != "" {
		digest, err := canon.Digest(wrapper.SessionData)
		if err != nil || digest != wrapper.Checksum {
			return nil, primaryErr
		}
	}
	doc, err := decodeDocument(wrapper.SessionData)
	if err != nil {
		return nil, primaryErr
	}
	slog.Warn("primary session file damaged, recovered from wrapper",
		"participant", doc.ParticipantID, "primary_error", primaryErr)
	return doc, nil
}

func decodeDocument(data []byte) (*Document, error) {
	if errs := validation.ValidateSessionBytes(data); len(errs) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrCorruptDocument, errs[0])
	}
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptDocument, err)
	}
	return &doc, nil
}

// ParticipantID returns the participant this store was opened for.
func (s *Store) ParticipantID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doc.ParticipantID
}

// SessionID returns the unique id of the current run.
func (s *Store) SessionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doc.SessionID
}

// Paths exposes the participant folder layout for collaborators that
// write their own artifacts (heartbeat, crash reports, exports).
func (s *Store) Paths() Paths {
	return s.paths
}

// OpenNote describes what Open found: "no stored session", a denial
// reason, or "recoverable session found".
func (s *Store) OpenNote() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.openNote
}

// RecoveryPending reports whether Open found a recoverable session that
// still needs a resume-or-discard decision.
func (s *Store) RecoveryPending() (RecoverySummary, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.pendingRecovery {
		return RecoverySummary{}, false
	}
	return Summarize(s.doc), true
}

// ResumeRecovered accepts the pending recovery: the loaded document stays
// current, its recovery counter is bumped, and the open task is flagged as
// rehydrated.
func (s *Store) ResumeRecovered() (RecoverySummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.pendingRecovery {
		return RecoverySummary{}, ErrNoRecoveryPending
	}
	s.pendingRecovery = false
	s.doc.RecoveryCount++
	if s.doc.CurrentTaskState != nil {
		s.doc.CurrentTaskState.RecoveryMode = true
	}
	s.saveLocked()
	summary := Summarize(s.doc)
	s.log.Log(NewEvent(EventSessionResume,
		SessionResumeData(s.doc.ParticipantID, summary.CurrentTask, summary.TrialsBuffered, s.doc.RecoveryCount)))
	return summary, nil
}

// DiscardRecovered declines the pending recovery: artifacts are removed
// and a fresh document replaces the stored one.
func (s *Store) DiscardRecovered() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.pendingRecovery {
		return ErrNoRecoveryPending
	}
	s.pendingRecovery = false
	discarded := s.doc.ParticipantID
	s.cleanupRecoveryArtifactsLocked()
	s.doc = NewDocument(discarded, uuid.NewString(), s.now())
	s.saveLocked()
	s.log.Log(NewEvent(EventRecoveryDiscarded, map[string]any{"participant_id": discarded}))
	return nil
}

// SetTaskQueue replaces the task queue and persists immediately.
func (s *Store) SetTaskQueue(names []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pendingRecovery {
		return ErrRecoveryPending
	}
	if s.doc.Completed || !s.doc.Active {
		return ErrSessionEnded
	}
	s.doc.TaskQueue = append([]string(nil), names...)
	s.saveLocked()
	return nil
}

// StartTask opens a task. If the current task state already describes
// this task unfinished (a resumed session), the existing trial buffer is
// preserved and the state enters recovery mode; otherwise a fresh state is
// created. Persists immediately.
func (s *Store) StartTask(name string, config map[string]any, totalTrials int) error {
	if name == "" {
		return errors.New("task name is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pendingRecovery {
		return ErrRecoveryPending
	}
	if s.doc.Completed || !s.doc.Active {
		return ErrSessionEnded
	}

	state := s.doc.CurrentTaskState
	if state != nil && state.TaskName == name && !state.Finished() {
		// Resume in place: the buffer survives, only the mode changes.
		state.RecoveryMode = true
		state.Status = StatusInProgress
		if config != nil {
			state.Config = config
		}
		if totalTrials > 0 {
			state.TotalTrials = totalTrials
		}
		taskName := name
		s.doc.CurrentTask = &taskName
		s.saveLocked()
		s.log.Log(NewEvent(EventTaskResume, TaskStartData(name, state.TotalTrials, true)))
		return nil
	}

	if state != nil && !state.Finished() {
		slog.Warn("starting task while another is open, replacing its state",
			"open_task", state.TaskName, "new_task", name)
	}
	taskName := name
	s.doc.CurrentTask = &taskName
	s.doc.CurrentTaskState = &TaskState{
		TaskName:    name,
		StartTime:   s.now(),
		Status:      StatusInProgress,
		TrialData:   []map[string]any{},
		Config:      config,
		TotalTrials: totalTrials,
	}
	s.saveLocked()
	s.log.Log(NewEvent(EventTaskStart, TaskStartData(name, totalTrials, false)))
	return nil
}

// RecordTrial appends one trial record to the open task's buffer and
// stamps last_save_time. It does not flush to disk; save cadence belongs
// to the caller.
func (s *Store) RecordTrial(trial map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pendingRecovery {
		return ErrRecoveryPending
	}
	state := s.doc.CurrentTaskState
	if state == nil {
		return ErrNoActiveTask
	}
	if state.Finished() {
		return ErrTaskCompleted
	}
	state.TrialData = append(state.TrialData, trial)
	now := s.now()
	s.doc.LastSaveTime = &now

	s.log.Log(NewEvent(EventTrialRecorded,
		TrialRecordedData(state.TaskName, trialNumber(trial), len(state.TrialData))))
	return nil
}

// UpdateTaskState merges a module state snapshot into the open task's
// task_specific_state in memory. The next save, routine or forced,
// persists it.
func (s *Store) UpdateTaskState(snapshot map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pendingRecovery {
		return ErrRecoveryPending
	}
	state := s.doc.CurrentTaskState
	if state == nil {
		return ErrNoActiveTask
	}
	if state.Finished() {
		return ErrTaskCompleted
	}
	if state.State == nil {
		state.State = make(map[string]any, len(snapshot))
	}
	for k, v := range snapshot {
		state.State[k] = v
	}
	return nil
}

// trialNumber extracts the trial_number field, tolerating the float64 that
// json decoding produces for restored buffers.
func trialNumber(trial map[string]any) int {
	switch n := trial["trial_number"].(type) {
	case int:
		return n
	case float64:
		return int(n)
	}
	return 0
}

// CompleteTask appends a completion record for the named task, marks the
// open state completed, clears the current task, and persists. Clearing
// current_task is what prevents the next launch from offering a false
// resume prompt. When every queued task has a completion record the whole
// session transitions to completed and recovery-only artifacts are
// removed.
//
// Known gap kept from the shipping behavior: this method does not check
// whether the task already has a completion record, so calling it twice
// appends two records.
func (s *Store) CompleteTask(taskName string, completionData map[string]any) (sessionCompleted bool, err error) {
	if taskName == "" {
		return false, errors.New("task name is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pendingRecovery {
		return false, ErrRecoveryPending
	}

	now := s.now()
	trials := 0
	if s.doc.CurrentTaskState != nil {
		trials = len(s.doc.CurrentTaskState.TrialData)
	}
	success := true
	if v, ok := completionData["completed_successfully"].(bool); ok {
		success = v
	}
	s.doc.CompletedTasks = append(s.doc.CompletedTasks, CompletionRecord{
		TaskName:              taskName,
		CompletionTime:        now,
		TrialsCompleted:       trials,
		CompletionData:        completionData,
		CompletedSuccessfully: success,
	})

	if state := s.doc.CurrentTaskState; state != nil && state.TaskName == taskName {
		state.Status = StatusCompleted
		state.TaskCompleted = true
		state.CompletionTime = &now
	}
	s.doc.CurrentTask = nil
	s.doc.CurrentTaskState = nil
	s.saveLocked()
	s.log.Log(NewEvent(EventTaskComplete, TaskCompleteData(taskName, trials, success)))

	if !s.doc.Completed && s.doc.AllTasksCompleted() {
		s.endSessionLocked(true)
		return true, nil
	}
	return false, nil
}

// Save persists the document: backup copy of the previous primary, then
// the primary itself, then the redundant recovery wrapper. The three
// writes are independent; a backup failure never blocks the primary.
// Returns whether the primary write succeeded.
func (s *Store) Save() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked()
}

func (s *Store) saveLocked() bool {
	now := s.now()
	s.doc.LastSaveTime = &now

	// Backup of the previous on-disk document, best effort.
	if _, err := os.Stat(s.paths.SessionFile()); err == nil {
		if err := fsx.CopyFile(s.paths.SessionFile(), s.paths.BackupFile(), 0644); err != nil {
			slog.Warn("session backup failed", "error", err)
			s.log.Log(NewEvent(EventSaveFailed, SaveFailedData("backup", err)))
		}
	}

	docBytes, err := json.MarshalIndent(s.doc, "", "  ")
	if err != nil {
		slog.Error("session document not serializable", "error", err)
		s.log.Log(NewEvent(EventSaveFailed, SaveFailedData("marshal", err)))
		return false
	}
	docBytes = append(docBytes, '\n')

	ok := true
	if err := fsx.WriteFileAtomic(s.paths.SessionFile(), docBytes, 0644); err != nil {
		slog.Error("primary session save failed", "error", err)
		s.log.Log(NewEvent(EventSaveFailed, SaveFailedData("primary", err)))
		ok = false
	}

	wrapper := RecoveryWrapper{
		SessionData:     docBytes,
		BackupTimestamp: now,
		RecoveryVersion: RecoveryVersion,
	}
	if digest, err := canon.Digest(docBytes); err == nil {
		wrapper.Checksum = digest
	}
	if err := fsx.WriteJSONFile(s.paths.RecoveryFile(), wrapper); err != nil {
		slog.Warn("recovery copy save failed", "error", err)
		s.log.Log(NewEvent(EventSaveFailed, SaveFailedData("recovery", err)))
	}
	return ok
}

// EmergencySave flags the document as crashed, runs the normal save
// sequence, and writes a standalone never-overwritten snapshot. Returns
// whether both the primary save and the snapshot landed.
func (s *Store) EmergencySave(reason string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.doc.CrashDetected = true
	s.doc.CrashReason = &reason
	saved := s.saveLocked()

	now := s.now()
	snapshot := map[string]any{
		"emergency_save_time": now,
		"participant_id":      s.doc.ParticipantID,
		"session_data":        s.doc,
		"save_reason":         reason,
	}
	snapshotOK := true
	if err := fsx.WriteJSONFile(s.paths.EmergencySessionFile(now), snapshot); err != nil {
		slog.Error("emergency snapshot failed", "error", err)
		s.log.Log(NewEvent(EventSaveFailed, SaveFailedData("emergency_snapshot", err)))
		snapshotOK = false
	}
	s.log.Log(NewEvent(EventEmergencySave, EmergencySaveData(reason, saved && snapshotOK)))
	return saved && snapshotOK
}

// EndSession marks the session inactive without requiring completion and
// persists. A cleanly ended session is never offered for resume.
func (s *Store) EndSession() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.doc.Completed || !s.doc.Active {
		return true
	}
	now := s.now()
	s.doc.Active = false
	s.doc.EndTime = &now
	ok := s.saveLocked()
	s.log.Log(NewEvent(EventSessionEnd, map[string]any{
		"participant_id": s.doc.ParticipantID,
	}))
	return ok
}

// endSessionLocked finishes a fully completed session and removes the
// recovery-only artifacts. Exported data files are left untouched.
func (s *Store) endSessionLocked(completed bool) {
	now := s.now()
	s.doc.Completed = completed
	s.doc.Active = false
	s.doc.EndTime = &now
	s.saveLocked()
	s.log.Log(NewEvent(EventSessionComplete, map[string]any{
		"participant_id":  s.doc.ParticipantID,
		"tasks_completed": len(s.doc.CompletedTasks),
	}))
	s.cleanupRecoveryArtifactsLocked()
}

// cleanupRecoveryArtifactsLocked removes the files that exist only to
// support recovery: primary document, recovery wrapper, heartbeat files.
// Each removal is independent and best effort.
func (s *Store) cleanupRecoveryArtifactsLocked() {
	for _, path := range []string{
		s.paths.SessionFile(),
		s.paths.RecoveryFile(),
		s.paths.HeartbeatFile(),
		s.paths.HeartbeatMetaFile(),
	} {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			slog.Warn("could not remove recovery artifact", "path", path, "error", err)
		}
	}
}

// Document returns a deep copy of the current session document.
func (s *Store) Document() *Document {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doc.Clone()
}

// OpenTaskState returns a copy of the current task state when it matches
// the given name and is unfinished. The recorder uses this to decide
// between a fresh start and recovery.
func (s *Store) OpenTaskState(name string) (*TaskState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	state := s.doc.CurrentTaskState
	if state == nil || state.TaskName != name || state.Finished() {
		return nil, false
	}
	return state.clone(), true
}

// CurrentTaskSnapshot returns a copy of whatever task state is open.
func (s *Store) CurrentTaskSnapshot() (*TaskState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.doc.CurrentTaskState == nil {
		return nil, false
	}
	return s.doc.CurrentTaskState.clone(), true
}

// Active reports whether the session is still running.
func (s *Store) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doc.Active
}

// Completed reports whether every queued task finished and the session
// was closed out.
func (s *Store) Completed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doc.Completed
}

// EventLog exposes the audit logger so collaborators (watcher, monitor)
// can record their own events alongside the store's.
func (s *Store) EventLog() EventLogger {
	return s.log
}

// Close releases the audit log. It does not end the session: an unclosed
// active document is exactly what the next launch needs to offer resume.
func (s *Store) Close() error {
	return s.log.Close()
}
