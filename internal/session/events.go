package session

import (
	"fmt"
	"time"
)

// EventType identifies the kind of session event.
type EventType string

const (
	EventSessionStart      EventType = "session_start"
	EventSessionResume     EventType = "session_resume"
	EventSessionComplete   EventType = "session_complete"
	EventSessionEnd        EventType = "session_end"
	EventRecoveryDiscarded EventType = "recovery_discarded"
	EventTaskStart         EventType = "task_start"
	EventTaskResume        EventType = "task_resume"
	EventTaskComplete      EventType = "task_complete"
	EventTrialRecorded     EventType = "trial_recorded"
	EventSaveFailed        EventType = "save_failed"
	EventEmergencySave     EventType = "emergency_save"
	EventResourceWarning   EventType = "resource_warning"
	EventCrash             EventType = "crash"
	EventError             EventType = "error"
)

// Event is a single timestamped entry in a session log.
type Event struct {
	Timestamp time.Time      `json:"timestamp"`
	Type      EventType      `json:"type"`
	Data      map[string]any `json:"data,omitempty"`
}

// NewEvent creates an event with the current timestamp.
func NewEvent(t EventType, data map[string]any) Event {
	return Event{
		Timestamp: time.Now().UTC(),
		Type:      t,
		Data:      data,
	}
}

// SessionStartData returns event data for a session start.
func SessionStartData(participantID, sessionID string, taskCount int) map[string]any {
	return map[string]any{
		"participant_id": participantID,
		"session_id":     sessionID,
		"task_count":     taskCount,
	}
}

// SessionResumeData returns event data for a recovered session resume.
func SessionResumeData(participantID, currentTask string, trialsBuffered, recoveryCount int) map[string]any {
	return map[string]any{
		"participant_id":  participantID,
		"current_task":    currentTask,
		"trials_buffered": trialsBuffered,
		"recovery_count":  recoveryCount,
	}
}

// TaskStartData returns event data for a task start.
func TaskStartData(taskName string, totalTrials int, recoveryMode bool) map[string]any {
	return map[string]any{
		"task_name":     taskName,
		"total_trials":  totalTrials,
		"recovery_mode": recoveryMode,
	}
}

// TaskCompleteData returns event data for a task completion.
func TaskCompleteData(taskName string, trialsCompleted int, success bool) map[string]any {
	return map[string]any{
		"task_name":        taskName,
		"trials_completed": trialsCompleted,
		"success":          success,
	}
}

// TrialRecordedData returns event data for one recorded trial.
func TrialRecordedData(taskName string, trialNumber, bufferLen int) map[string]any {
	return map[string]any{
		"task_name":    taskName,
		"trial_number": trialNumber,
		"buffer_len":   bufferLen,
	}
}

// SaveFailedData returns event data for a failed persistence step.
func SaveFailedData(step string, err error) map[string]any {
	return map[string]any{
		"step":  step,
		"error": err.Error(),
	}
}

// EmergencySaveData returns event data for an emergency save.
func EmergencySaveData(reason string, success bool) map[string]any {
	return map[string]any{
		"reason":  reason,
		"success": success,
	}
}

// ResourceWarningData returns event data for a resource threshold breach.
func ResourceWarningData(kind string, percent float64) map[string]any {
	return map[string]any{
		"kind":    kind,
		"percent": percent,
		"message": fmt.Sprintf("high %s usage: %.1f%%", kind, percent),
	}
}

// CrashData returns event data for a handled crash.
func CrashData(kind, message string) map[string]any {
	return map[string]any{
		"kind":    kind,
		"message": message,
	}
}

// ErrorData returns event data for an error.
func ErrorData(message string, details map[string]any) map[string]any {
	d := map[string]any{
		"message": message,
	}
	for k, v := range details {
		d[k] = v
	}
	return d
}
