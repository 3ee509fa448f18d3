package crash

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/brodbeck-lab/battery/internal/fsx"
	"github.com/brodbeck-lab/battery/internal/session"
)

// Record is the diagnostic snapshot written for one handled failure. The
// JSON layout matches the v2 report format so existing analysis scripts
// keep parsing it; the running process never reads a report back.
type Record struct {
	ReportID         string     `json:"report_id"`
	Timestamp        time.Time  `json:"timestamp"`
	Kind             string     `json:"exception_type"`
	Message          string     `json:"exception_message"`
	Stack            string     `json:"traceback"`
	ProcessID        int        `json:"process_id"`
	CrashCount       int        `json:"crash_count"`
	Application      string     `json:"application"`
	Version          string     `json:"version"`
	RuntimeVersion   string     `json:"runtime_version"`
	Platform         string     `json:"platform"`
	MemoryUsageMB    float64    `json:"memory_usage"`
	CPUPercent       float64    `json:"cpu_percent"`
	WorkingDirectory string     `json:"working_directory"`
	CommandLine      string     `json:"command_line"`
	ParticipantID    string     `json:"participant_id,omitempty"`
	CurrentTask      string     `json:"current_task,omitempty"`
	SessionStartTime *time.Time `json:"session_start_time,omitempty"`
	TrialsCompleted  int        `json:"trials_completed,omitempty"`
}

func (m *Monitor) buildRecord(kind, message string, stack []byte, count int, store *session.Store) Record {
	rec := Record{
		ReportID:       uuid.NewString(),
		Timestamp:      m.now(),
		Kind:           kind,
		Message:        message,
		Stack:          string(stack),
		ProcessID:      os.Getpid(),
		CrashCount:     count,
		Application:    "Custom Tests Battery",
		Version:        session.RecoveryVersion,
		RuntimeVersion: runtime.Version(),
		Platform:       runtime.GOOS + "/" + runtime.GOARCH,
		CommandLine:    strings.Join(os.Args, " "),
	}
	if wd, err := os.Getwd(); err == nil {
		rec.WorkingDirectory = wd
	}
	if m.sampler != nil {
		if snap, err := m.sampler.Sample(); err == nil {
			rec.MemoryUsageMB = snap.ProcessMemoryMB
			rec.CPUPercent = snap.ProcessCPUPercent
		}
	}
	if store != nil {
		doc := store.Document()
		rec.ParticipantID = doc.ParticipantID
		start := doc.StartTime
		rec.SessionStartTime = &start
		if doc.CurrentTask != nil {
			rec.CurrentTask = *doc.CurrentTask
		}
		if doc.CurrentTaskState != nil {
			rec.TrialsCompleted = len(doc.CurrentTaskState.TrialData)
		}
	}
	return rec
}

// saveEverything is tier (a) of the cascade. With a store attached the
// store's own emergency save does the work; otherwise, or when that save
// reports failure, a plain-text basic save is written, and if even that
// fails a last-resort file lands in the working directory. Data survival
// outranks organization.
func (m *Monitor) saveEverything(store *session.Store, reason string, rec Record) {
	if store != nil {
		if store.EmergencySave(reason) {
			return
		}
		slog.Error("session emergency save failed, writing basic save")
	}
	if err := m.basicEmergencySave(store, reason, rec); err != nil {
		slog.Error("basic emergency save failed", "error", err)
		if err := m.lastResortSave(rec); err != nil {
			slog.Error("all save tiers failed", "error", err)
		}
	}
}

func (m *Monitor) basicEmergencySave(store *session.Store, reason string, rec Record) error {
	participant := "unknown"
	dir := filepath.Join(m.fallback, session.SystemDirName, session.EmergencySavesDirName)
	if store != nil {
		participant = store.ParticipantID()
		dir = store.Paths().EmergencySavesDir()
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating emergency save directory: %w", err)
	}

	path := filepath.Join(dir, fmt.Sprintf("BASIC_EMERGENCY_SAVE_%s.txt",
		rec.Timestamp.Format("20060102_150405")))

	var b strings.Builder
	b.WriteString("BASIC EMERGENCY SAVE - CUSTOM TESTS BATTERY\n")
	b.WriteString(strings.Repeat("=", 50) + "\n\n")
	fmt.Fprintf(&b, "Emergency save time: %s\n", rec.Timestamp.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(&b, "Crash reason: %s\n", reason)
	fmt.Fprintf(&b, "Process ID: %d\n", rec.ProcessID)
	fmt.Fprintf(&b, "Participant ID: %s\n", participant)
	fmt.Fprintf(&b, "Crash count: %d\n", rec.CrashCount)

	if err := os.WriteFile(path, []byte(b.String()), 0644); err != nil {
		return fmt.Errorf("writing basic emergency save: %w", err)
	}
	slog.Info("basic emergency save written", "path", path)
	return nil
}

// lastResortSave writes next to wherever the process happens to be running.
// Deliberately as dumb as possible.
func (m *Monitor) lastResortSave(rec Record) error {
	path := fmt.Sprintf("LAST_RESORT_SAVE_%s.txt", rec.Timestamp.Format("20060102_150405"))

	var b strings.Builder
	b.WriteString("LAST RESORT EMERGENCY SAVE\n")
	b.WriteString(strings.Repeat("=", 30) + "\n")
	fmt.Fprintf(&b, "Time: %s\n", rec.Timestamp.Format(time.RFC3339))
	fmt.Fprintf(&b, "Failure: %s\n", rec.Kind)
	fmt.Fprintf(&b, "Message: %s\n", rec.Message)
	fmt.Fprintf(&b, "PID: %d\n", rec.ProcessID)

	if err := os.WriteFile(path, []byte(b.String()), 0644); err != nil {
		return fmt.Errorf("writing last resort save: %w", err)
	}
	slog.Info("last resort save written", "path", path)
	return nil
}

func (m *Monitor) writeReport(store *session.Store, rec Record) {
	var jsonPath, textPath string
	if store != nil {
		jsonPath, textPath = store.Paths().CrashReportFiles(rec.Timestamp)
	} else {
		dir := filepath.Join(m.fallback, session.CrashReportsDirName)
		jsonPath, textPath = session.CrashReportFilesIn(dir, rec.Timestamp)
	}

	if err := os.MkdirAll(filepath.Dir(jsonPath), 0755); err != nil {
		slog.Error("creating crash report directory", "error", err)
		return
	}
	if err := fsx.WriteJSONFile(jsonPath, rec); err != nil {
		slog.Error("writing crash report", "path", jsonPath, "error", err)
	}
	if err := fsx.WriteFileAtomic(textPath, []byte(renderReport(rec)), 0644); err != nil {
		slog.Error("writing crash report text", "path", textPath, "error", err)
	}
	slog.Info("crash report written", "report_id", rec.ReportID, "path", jsonPath)
}

// renderReport is the human-readable twin of the JSON report.
func renderReport(rec Record) string {
	var b strings.Builder
	b.WriteString("CRASH REPORT - CUSTOM TESTS BATTERY\n")
	b.WriteString(strings.Repeat("=", 60) + "\n\n")
	fmt.Fprintf(&b, "Report ID:     %s\n", rec.ReportID)
	fmt.Fprintf(&b, "Time:          %s\n", rec.Timestamp.Format(time.RFC3339))
	fmt.Fprintf(&b, "Failure:       %s\n", rec.Kind)
	fmt.Fprintf(&b, "Message:       %s\n", rec.Message)
	fmt.Fprintf(&b, "Process ID:    %d\n", rec.ProcessID)
	fmt.Fprintf(&b, "Crash count:   %d\n", rec.CrashCount)
	fmt.Fprintf(&b, "Runtime:       %s %s\n", rec.RuntimeVersion, rec.Platform)
	fmt.Fprintf(&b, "Memory (MB):   %.1f\n", rec.MemoryUsageMB)
	fmt.Fprintf(&b, "CPU percent:   %.1f\n", rec.CPUPercent)
	fmt.Fprintf(&b, "Working dir:   %s\n", rec.WorkingDirectory)
	fmt.Fprintf(&b, "Command line:  %s\n", rec.CommandLine)
	if rec.ParticipantID != "" {
		fmt.Fprintf(&b, "Participant:   %s\n", rec.ParticipantID)
		fmt.Fprintf(&b, "Current task:  %s\n", rec.CurrentTask)
		fmt.Fprintf(&b, "Trials saved:  %d\n", rec.TrialsCompleted)
	}
	if rec.Stack != "" {
		b.WriteString("\nStack trace:\n")
		b.WriteString(rec.Stack)
		if !strings.HasSuffix(rec.Stack, "\n") {
			b.WriteString("\n")
		}
	}
	return b.String()
}
