// Package export writes the per-task data file after a task completes.
// Data files land under the participant's data directory and are never
// touched by session cleanup or recovery, so they are the durable result
// of a run even when everything else is discarded.
package export

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/brodbeck-lab/battery/internal/fsx"
	"github.com/brodbeck-lab/battery/internal/metrics"
	"github.com/brodbeck-lab/battery/internal/session"
)

// reactionTimeField is the trial record key summary statistics are
// computed from. Task modules that measure reaction time store it here
// in milliseconds.
const reactionTimeField = "reaction_time_ms"

// sanitize replaces characters that are unsafe in filenames.
var unsafeChars = regexp.MustCompile(`[^a-zA-Z0-9_-]`)

func sanitizeName(name string) string {
	s := strings.ToLower(strings.TrimSpace(name))
	s = strings.ReplaceAll(s, " ", "-")
	s = unsafeChars.ReplaceAllString(s, "")
	if s == "" {
		s = "unnamed"
	}
	return s
}

// Filename returns the data file name for a task run.
func Filename(taskName string, ts time.Time) string {
	return fmt.Sprintf("%s-%s.json", sanitizeName(taskName), ts.Format("20060102-150405"))
}

// TaskData is the on-disk format of one exported task run.
type TaskData struct {
	TaskName        string           `json:"task_name"`
	ParticipantID   string           `json:"participant_id"`
	SessionID       string           `json:"session_id"`
	StartedAt       time.Time        `json:"started_at"`
	CompletedAt     time.Time        `json:"completed_at"`
	DurationSeconds float64          `json:"duration_seconds"`
	Recovery        RecoveryInfo     `json:"recovery"`
	Trials          []map[string]any `json:"trials"`
	Completion      map[string]any   `json:"completion"`
	Summary         Summary          `json:"summary"`
}

// RecoveryInfo records how the run related to the crash recovery
// machinery, so a data file can be interpreted without the session
// document that produced it.
type RecoveryInfo struct {
	Resumed        bool   `json:"resumed"`
	ResumedAtTrial int    `json:"resumed_at_trial,omitempty"`
	CrashDetected  bool   `json:"crash_detected"`
	CrashReason    string `json:"crash_reason,omitempty"`
	RecoveryCount  int    `json:"recovery_count"`
}

// Summary carries the per-run performance statistics.
type Summary struct {
	TotalTrials   int      `json:"total_trials"`
	CorrectTrials int      `json:"correct_trials"`
	Accuracy      float64  `json:"accuracy"`
	ReactionTime  *RTStats `json:"reaction_time,omitempty"`
}

// RTStats summarizes the reaction time distribution. Present only when
// at least one trial carried a reaction time.
type RTStats struct {
	Samples  int     `json:"samples"`
	MeanMs   float64 `json:"mean_ms"`
	StdDevMs float64 `json:"stddev_ms"`
	MinMs    float64 `json:"min_ms"`
	MaxMs    float64 `json:"max_ms"`
	CI95Low  float64 `json:"ci95_low_ms"`
	CI95High float64 `json:"ci95_high_ms"`
}

// Build constructs the export document for one completed task. trials is
// the full trial buffer for the run, restored records included; rec is
// the completion record the session store appended for it.
//
// The start time is recovered from the completion payload's task_duration
// so the export does not need the task state the store already destroyed.
func Build(doc *session.Document, rec session.CompletionRecord, trials []map[string]any) *TaskData {
	duration := durationSeconds(rec.CompletionData)
	started := rec.CompletionTime.Add(-time.Duration(duration * float64(time.Second)))

	d := &TaskData{
		TaskName:        rec.TaskName,
		StartedAt:       started,
		CompletedAt:     rec.CompletionTime,
		DurationSeconds: duration,
		Trials:          trials,
		Completion:      rec.CompletionData,
		Summary:         Summarize(trials),
	}
	if doc != nil {
		d.ParticipantID = doc.ParticipantID
		d.SessionID = doc.SessionID
		d.Recovery.CrashDetected = doc.CrashDetected
		if doc.CrashReason != nil {
			d.Recovery.CrashReason = *doc.CrashReason
		}
		d.Recovery.RecoveryCount = doc.RecoveryCount
	}
	if resumed, ok := rec.CompletionData["recovery_mode"].(bool); ok && resumed {
		d.Recovery.Resumed = true
		d.Recovery.ResumedAtTrial = intValue(rec.CompletionData["original_trial_index"])
	}
	return d
}

// Summarize computes performance statistics over a trial buffer.
func Summarize(trials []map[string]any) Summary {
	s := Summary{
		TotalTrials:   len(trials),
		CorrectTrials: metrics.CountCorrect(trials),
	}
	s.Accuracy = metrics.Accuracy(s.CorrectTrials, s.TotalTrials)

	rts := metrics.NumericField(trials, reactionTimeField)
	if len(rts) == 0 {
		return s
	}
	lo, hi := metrics.ConfidenceInterval95(rts)
	s.ReactionTime = &RTStats{
		Samples:  len(rts),
		MeanMs:   metrics.Mean(rts),
		StdDevMs: metrics.StdDev(rts),
		MinMs:    metrics.Min(rts),
		MaxMs:    metrics.Max(rts),
		CI95Low:  lo,
		CI95High: hi,
	}
	return s
}

// Write serializes a TaskData document into dir and returns its path. An
// existing file at the target path is copied aside first so a repeated
// completion of the same run never destroys data.
func Write(dir string, d *TaskData) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create data dir: %w", err)
	}

	path := filepath.Join(dir, Filename(d.TaskName, d.StartedAt))
	if err := backupExisting(path, d.CompletedAt); err != nil {
		return "", err
	}
	if err := fsx.WriteJSONFile(path, d); err != nil {
		return "", fmt.Errorf("write task data: %w", err)
	}
	return path, nil
}

func backupExisting(path string, ts time.Time) error {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("stat existing data file: %w", err)
	}
	backup := fmt.Sprintf("%s.backup_%s", path, ts.Format("20060102_150405"))
	if err := fsx.CopyFile(path, backup, 0644); err != nil {
		return fmt.Errorf("back up existing data file: %w", err)
	}
	return nil
}

func durationSeconds(payload map[string]any) float64 {
	switch v := payload["task_duration"].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	}
	return 0
}

func intValue(raw any) int {
	switch v := raw.(type) {
	case int:
		return v
	case float64:
		return int(v)
	}
	return 0
}
