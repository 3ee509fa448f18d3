package session

import (
	"fmt"
	"time"
)

// DefaultMaxSessionAge is the cutoff beyond which a stored session is
// never offered for resume.
const DefaultMaxSessionAge = 7 * 24 * time.Hour

// Verdict is the result of evaluating a stored document for recovery.
// Reason is a human-readable explanation for verdicts that deny recovery;
// it feeds the status command and the session event log.
type Verdict struct {
	Recoverable bool
	Reason      string
}

func deny(reason string) Verdict {
	return Verdict{Recoverable: false, Reason: reason}
}

// Evaluate applies the recoverability predicate to a document. It is a
// pure function of its arguments: no I/O, no clock reads, no mutation.
//
// A document is recoverable only when it describes a session that was
// genuinely interrupted mid-task. Everything else (finished sessions,
// cleanly closed sessions, sessions idling between tasks, stale sessions)
// is denied so the next launch never shows a false resume prompt.
func Evaluate(doc *Document, now time.Time, maxAge time.Duration) Verdict {
	if doc == nil {
		return deny("no session document")
	}
	if doc.Completed {
		return deny("session already completed")
	}
	if !doc.Active {
		return deny("session was closed cleanly")
	}
	if doc.CurrentTask == nil || *doc.CurrentTask == "" {
		return deny("no task was open")
	}
	if doc.HasCompleted(*doc.CurrentTask) {
		return deny(fmt.Sprintf("task %q already has a completion record", *doc.CurrentTask))
	}
	state := doc.CurrentTaskState
	if state == nil {
		return deny("open task has no recorded state")
	}
	if state.Finished() {
		return deny(fmt.Sprintf("task %q already finished (status %q)", state.TaskName, state.Status))
	}
	if maxAge <= 0 {
		maxAge = DefaultMaxSessionAge
	}
	if age := now.Sub(doc.StartTime); age > maxAge {
		return deny(fmt.Sprintf("session is %.1f days old, past the %.0f-day cutoff",
			age.Hours()/24, maxAge.Hours()/24))
	}
	return Verdict{Recoverable: true}
}

// Recoverable reports whether a stored document may be offered for resume.
func Recoverable(doc *Document, now time.Time, maxAge time.Duration) bool {
	return Evaluate(doc, now, maxAge).Recoverable
}

// RecoverySummary is the snapshot shown to the participant (or operator)
// when asking whether to resume a prior session.
type RecoverySummary struct {
	ParticipantID  string
	SessionID      string
	StartTime      time.Time
	CurrentTask    string
	TrialsBuffered int
	TaskQueue      []string
	CompletedCount int
	CrashDetected  bool
	CrashReason    string
	LastSaveTime   *time.Time
}

// Summarize builds the recovery summary for a recoverable document. The
// caller is responsible for only invoking it on documents that passed
// Evaluate.
func Summarize(doc *Document) RecoverySummary {
	s := RecoverySummary{
		ParticipantID:  doc.ParticipantID,
		SessionID:      doc.SessionID,
		StartTime:      doc.StartTime,
		TaskQueue:      append([]string(nil), doc.TaskQueue...),
		CompletedCount: len(doc.CompletedTasks),
		CrashDetected:  doc.CrashDetected,
		LastSaveTime:   cloneTimePtr(doc.LastSaveTime),
	}
	if doc.CurrentTask != nil {
		s.CurrentTask = *doc.CurrentTask
	}
	if doc.CurrentTaskState != nil {
		s.TrialsBuffered = len(doc.CurrentTaskState.TrialData)
	}
	if doc.CrashReason != nil {
		s.CrashReason = *doc.CrashReason
	}
	return s
}
