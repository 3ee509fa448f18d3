package session

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"
)

// File and directory names inside a participant folder. Task data exports
// under DataDirName are never touched by recovery cleanup.
const (
	SessionFileName       = "session_state.json"
	BackupFileName        = "session_backup.json"
	RecoveryFileName      = "recovery_data.json"
	SystemDirName         = "system"
	HeartbeatFileName     = "app_heartbeat.txt"
	HeartbeatMetaFileName = "app_heartbeat_metadata.json"
	EmergencySavesDirName = "emergency_saves"
	CrashReportsDirName   = "crash_reports"
	DataDirName           = "data"
	LogsDirName           = "logs"
)

var unsafeChars = regexp.MustCompile(`[^a-zA-Z0-9_-]`)

// SanitizeName replaces filesystem-unfriendly characters with underscores.
func SanitizeName(name string) string {
	return unsafeChars.ReplaceAllString(name, "_")
}

// Paths resolves every artifact location for one participant.
type Paths struct {
	Root           string
	ParticipantDir string
}

// NewPaths builds the path set for a participant under a storage root.
func NewPaths(root, participantID string) Paths {
	return Paths{
		Root:           root,
		ParticipantDir: filepath.Join(root, SanitizeName(participantID)),
	}
}

// EnsureLayout creates the participant directory tree.
func (p Paths) EnsureLayout() error {
	for _, dir := range []string{
		p.ParticipantDir,
		p.SystemDir(),
		p.EmergencySavesDir(),
		p.CrashReportsDir(),
		p.DataDir(),
	} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("creating %s: %w", dir, err)
		}
	}
	return nil
}

func (p Paths) SessionFile() string  { return filepath.Join(p.ParticipantDir, SessionFileName) }
func (p Paths) BackupFile() string   { return filepath.Join(p.ParticipantDir, BackupFileName) }
func (p Paths) RecoveryFile() string { return filepath.Join(p.ParticipantDir, RecoveryFileName) }

func (p Paths) SystemDir() string { return filepath.Join(p.ParticipantDir, SystemDirName) }
func (p Paths) HeartbeatFile() string {
	return filepath.Join(p.SystemDir(), HeartbeatFileName)
}
func (p Paths) HeartbeatMetaFile() string {
	return filepath.Join(p.SystemDir(), HeartbeatMetaFileName)
}

func (p Paths) EmergencySavesDir() string {
	return filepath.Join(p.SystemDir(), EmergencySavesDirName)
}

// TaskEmergencyFile is the per-task minimal snapshot, overwritten on each
// emergency cadence.
func (p Paths) TaskEmergencyFile(taskName string) string {
	name := strings.ToLower(strings.ReplaceAll(taskName, " ", "_"))
	return filepath.Join(p.EmergencySavesDir(), fmt.Sprintf("emergency_%s.json", SanitizeName(name)))
}

// TaskEmergencyFallbackFile is the flat second-tier location used when the
// organized emergency_saves directory cannot be written.
func (p Paths) TaskEmergencyFallbackFile(taskName string) string {
	name := strings.ToLower(strings.ReplaceAll(taskName, " ", "_"))
	return filepath.Join(p.ParticipantDir, fmt.Sprintf("emergency_%s_fallback.json", SanitizeName(name)))
}

// EmergencySessionFile is the standalone never-overwritten snapshot
// written by an emergency save.
func (p Paths) EmergencySessionFile(ts time.Time) string {
	return filepath.Join(p.ParticipantDir,
		fmt.Sprintf("EMERGENCY_SESSION_%s.json", ts.Format("20060102_150405")))
}

func (p Paths) CrashReportsDir() string {
	return filepath.Join(p.ParticipantDir, CrashReportsDirName)
}

// CrashReportFiles returns the JSON and text report paths for a crash at
// the given time.
func (p Paths) CrashReportFiles(ts time.Time) (jsonPath, textPath string) {
	return CrashReportFilesIn(p.CrashReportsDir(), ts)
}

// CrashReportFilesIn names the report pair inside an arbitrary directory,
// for crashes that happen before any participant session exists.
func CrashReportFilesIn(dir string, ts time.Time) (jsonPath, textPath string) {
	base := filepath.Join(dir, fmt.Sprintf("crash_report_%s", ts.Format("20060102_150405")))
	return base + ".json", base + ".txt"
}

func (p Paths) DataDir() string { return filepath.Join(p.ParticipantDir, DataDirName) }
func (p Paths) LogsDir() string { return filepath.Join(p.ParticipantDir, LogsDirName) }

// ListParticipants returns the participant folder names under a storage
// root, sorted. Folder name is the participant id. A missing root means
// no participants yet, not an error.
func ListParticipants(root string) ([]string, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading storage root: %w", err)
	}
	var out []string
	for _, e := range entries {
		if !e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		out = append(out, e.Name())
	}
	sort.Strings(out)
	return out, nil
}
