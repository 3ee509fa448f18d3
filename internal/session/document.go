// Package session owns the canonical session document for one participant
// and its persistence: primary file, backup rotation, redundant recovery
// copy, and the predicate deciding whether a stored session may be resumed.
package session

import (
	"encoding/json"
	"errors"
	"time"
)

// Task status values stored in a TaskState. Only the first two are written
// by this code; the legacy values appear in documents produced by earlier
// releases and must still be recognized.
const (
	StatusInProgress = "in_progress"
	StatusCompleted  = "completed"

	legacyStatusFinished = "finished"
	legacyStatusDone     = "done"
)

// RecoveryVersion is stamped into every recovery wrapper.
const RecoveryVersion = "2.0"

var (
	// ErrNoActiveTask is returned by trial and completion operations when
	// no task is open.
	ErrNoActiveTask = errors.New("no active task")
	// ErrTaskCompleted is returned when a trial arrives for a task whose
	// state already reached completion.
	ErrTaskCompleted = errors.New("task already completed")
	// ErrSessionEnded is returned when an operation requires an active
	// session but the session has been completed or closed.
	ErrSessionEnded = errors.New("session has ended")
	// ErrRecoveryPending is returned when a recoverable prior session was
	// found and the caller has not yet resumed or discarded it.
	ErrRecoveryPending = errors.New("recovery decision pending")
	// ErrCorruptDocument marks a persisted document that failed schema
	// validation, checksum cross-check, or JSON decoding.
	ErrCorruptDocument = errors.New("corrupt session document")
)

// Document is the canonical session state for one participant run.
// The JSON layout is the on-disk format of session_state.json.
type Document struct {
	ParticipantID    string             `json:"participant_id"`
	SessionID        string             `json:"session_id"`
	StartTime        time.Time          `json:"start_time"`
	Active           bool               `json:"active"`
	Completed        bool               `json:"completed"`
	EndTime          *time.Time         `json:"end_time"`
	CurrentTask      *string            `json:"current_task"`
	CurrentTaskState *TaskState         `json:"current_task_state"`
	TaskQueue        []string           `json:"task_queue"`
	CompletedTasks   []CompletionRecord `json:"completed_tasks"`
	CrashDetected    bool               `json:"crash_detected"`
	CrashReason      *string            `json:"crash_reason"`
	RecoveryCount    int                `json:"recovery_count"`
	LastSaveTime     *time.Time         `json:"last_save_time"`
}

// TaskState describes the one task currently open in a session. It exists
// only while Document.CurrentTask is set and is destroyed when the owning
// session clears it.
type TaskState struct {
	TaskName       string           `json:"task_name"`
	StartTime      time.Time        `json:"start_time"`
	Status         string           `json:"status"`
	TrialData      []map[string]any `json:"trial_data"`
	TaskCompleted  bool             `json:"task_completed"`
	CompletionTime *time.Time       `json:"completion_time"`
	RecoveryMode   bool             `json:"recovery_mode"`
	Config         map[string]any   `json:"config"`
	TotalTrials    int              `json:"total_trials"`
	State          map[string]any   `json:"task_specific_state,omitempty"`
}

// Finished reports whether the state describes a task that already ran to
// completion, checking the bool and the status string independently since
// legacy documents sometimes set only one of the two.
func (ts *TaskState) Finished() bool {
	if ts == nil {
		return false
	}
	if ts.TaskCompleted {
		return true
	}
	switch ts.Status {
	case StatusCompleted, legacyStatusFinished, legacyStatusDone:
		return true
	}
	return false
}

// CompletionRecord is appended to Document.CompletedTasks exactly once per
// task completion and never mutated afterwards.
type CompletionRecord struct {
	TaskName              string         `json:"task_name"`
	CompletionTime        time.Time      `json:"completion_time"`
	TrialsCompleted       int            `json:"trials_completed"`
	CompletionData        map[string]any `json:"completion_data"`
	CompletedSuccessfully bool           `json:"completed_successfully"`
}

// RecoveryWrapper is the on-disk format of recovery_data.json: a redundant
// copy of the session document for cross-checking the primary file.
// SessionData stays raw so the checksum covers the exact persisted bytes.
type RecoveryWrapper struct {
	SessionData     json.RawMessage `json:"session_data"`
	BackupTimestamp time.Time       `json:"backup_timestamp"`
	RecoveryVersion string          `json:"recovery_version"`
	Checksum        string          `json:"checksum,omitempty"`
}

// NewDocument returns a fresh active document for a participant.
func NewDocument(participantID, sessionID string, now time.Time) *Document {
	return &Document{
		ParticipantID:  participantID,
		SessionID:      sessionID,
		StartTime:      now,
		Active:         true,
		TaskQueue:      []string{},
		CompletedTasks: []CompletionRecord{},
	}
}

// HasCompleted reports whether a completion record exists for the task
// name. Matching is by exact string: a task renamed between releases will
// not be recognized as the same task.
func (d *Document) HasCompleted(taskName string) bool {
	for _, rec := range d.CompletedTasks {
		if rec.TaskName == taskName {
			return true
		}
	}
	return false
}

// AllTasksCompleted reports whether every name in the task queue has a
// completion record. An empty queue never counts as completed.
func (d *Document) AllTasksCompleted() bool {
	if len(d.TaskQueue) == 0 {
		return false
	}
	for _, name := range d.TaskQueue {
		if !d.HasCompleted(name) {
			return false
		}
	}
	return true
}

// Clone returns a deep copy of the document. Snapshots handed to other
// goroutines (heartbeat metadata, crash reports, recovery prompts) must
// not alias the live document.
func (d *Document) Clone() *Document {
	if d == nil {
		return nil
	}
	out := *d
	out.EndTime = cloneTimePtr(d.EndTime)
	out.CurrentTask = cloneStringPtr(d.CurrentTask)
	out.CrashReason = cloneStringPtr(d.CrashReason)
	out.LastSaveTime = cloneTimePtr(d.LastSaveTime)
	out.TaskQueue = append([]string(nil), d.TaskQueue...)
	out.CompletedTasks = make([]CompletionRecord, len(d.CompletedTasks))
	for i, rec := range d.CompletedTasks {
		out.CompletedTasks[i] = rec
		out.CompletedTasks[i].CompletionData = cloneMap(rec.CompletionData)
	}
	out.CurrentTaskState = d.CurrentTaskState.clone()
	return &out
}

func (ts *TaskState) clone() *TaskState {
	if ts == nil {
		return nil
	}
	out := *ts
	out.CompletionTime = cloneTimePtr(ts.CompletionTime)
	out.Config = cloneMap(ts.Config)
	out.State = cloneMap(ts.State)
	out.TrialData = make([]map[string]any, len(ts.TrialData))
	for i, trial := range ts.TrialData {
		out.TrialData[i] = cloneMap(trial)
	}
	return &out
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func cloneTimePtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func cloneStringPtr(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}
