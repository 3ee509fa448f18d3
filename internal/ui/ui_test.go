package ui

import (
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brodbeck-lab/battery/internal/session"
)

func TestValidateParticipantID(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr string
	}{
		{"simple", "P001", ""},
		{"mixed", "sub_01-a", ""},
		{"padded", "  P001  ", ""},
		{"empty", "", "participant id is required"},
		{"blank", "   ", "participant id is required"},
		{"space inside", "P 001", "participant id may only contain letters, digits, '-' and '_'"},
		{"slash", "P/001", "participant id may only contain letters, digits, '-' and '_'"},
		{"too long", strings.Repeat("a", 65), "participant id is too long (max 64 characters)"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateParticipantID(tt.input)
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				assert.EqualError(t, err, tt.wantErr)
			}
		})
	}
}

func TestSummaryTextShowsSessionDetails(t *testing.T) {
	started := time.Date(2026, 3, 10, 12, 0, 5, 0, time.UTC)
	saved := started.Add(30 * time.Minute)
	s := session.RecoverySummary{
		ParticipantID:  "P042",
		CurrentTask:    "stroop",
		TrialsBuffered: 12,
		StartTime:      started,
		LastSaveTime:   &saved,
		CrashDetected:  true,
		CrashReason:    "high memory usage",
	}

	text := summaryText(s, started.Add(34*time.Minute))

	assert.Contains(t, text, "Participant: P042")
	assert.Contains(t, text, "Current task: stroop")
	assert.Contains(t, text, "Trials completed: 12")
	assert.Contains(t, text, "Session started: 2026-03-10 12:00:05 (34m ago)")
	assert.Contains(t, text, "Last saved: 2026-03-10 12:30:05")
	assert.Contains(t, text, "Crash detected: high memory usage")
	assert.Contains(t, text, "Your progress has been automatically saved and can be restored.")
}

func TestSummaryTextWithoutOptionalFields(t *testing.T) {
	s := session.RecoverySummary{
		ParticipantID: "P001",
		CurrentTask:   "cvc",
		StartTime:     time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC),
	}

	text := summaryText(s, s.StartTime.Add(10*time.Second))

	assert.Contains(t, text, "Last saved: Unknown")
	assert.NotContains(t, text, "Crash detected")
	assert.Contains(t, text, "(10s ago)")
}

func TestAgoString(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{-5 * time.Second, "0s"},
		{30 * time.Second, "30s"},
		{90 * time.Second, "1m"},
		{59 * time.Minute, "59m"},
		{2*time.Hour + 30*time.Minute, "2h30m"},
		{25*time.Hour + 5*time.Minute, "25h05m"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, agoString(tt.d))
	}
}

func TestMetadataFileName(t *testing.T) {
	ts := time.Date(2026, 3, 10, 12, 0, 5, 0, time.UTC)
	assert.Equal(t, "metadata_20260310_120005.txt", MetadataFileName(ts))
}

func TestWriteMetadataRendersReport(t *testing.T) {
	root := t.TempDir()
	paths := session.NewPaths(root, "P042")
	now := time.Date(2026, 3, 10, 12, 0, 5, 0, time.UTC)

	b := &Biodata{
		ParticipantID:   "P042",
		AgeOrBirthDate:  "34",
		Gender:          "Female",
		Handedness:      "Right-handed",
		PrimaryLanguage: "English",
		Consent:         true,
	}

	path, err := WriteMetadata(paths, b, now)
	require.NoError(t, err)
	assert.Equal(t, "metadata_20260310_120005.txt", strings.TrimPrefix(path, paths.ParticipantDir+string(os.PathSeparator)))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	text := string(raw)

	assert.Contains(t, text, "CUSTOM TESTS BATTERY - PARTICIPANT BIODATA")
	assert.Contains(t, text, strings.Repeat("=", 50))
	assert.Contains(t, text, "Data Collection Date: 2026-03-10 12:00:05")
	assert.Contains(t, text, "Storage Location: "+root)
	assert.Contains(t, text, "Participant Folder: P042")
	assert.Contains(t, text, "Metadata File: metadata_20260310_120005.txt")
	assert.Contains(t, text, "Crash Recovery: ENABLED")
	assert.Contains(t, text, "PARTICIPANT INFORMATION:")

	// Field labels are left-padded to a fixed width.
	assert.Contains(t, text, "Participant ID"+strings.Repeat(" ", 21)+": P042")
	assert.Contains(t, text, "Consent to Participate"+strings.Repeat(" ", 13)+": Yes")
	assert.Contains(t, text, "Additional Information/Notes"+strings.Repeat(" ", 7)+": [Not provided]")

	assert.Contains(t, text, "End of Biodata Report")
	assert.Contains(t, text, "Generated by Custom Tests Battery v2.0")
}

func TestBiodataFieldOrder(t *testing.T) {
	b := &Biodata{ParticipantID: "X"}
	var labels []string
	for _, f := range b.fields() {
		labels = append(labels, f.label)
	}
	assert.Equal(t, []string{
		"Participant ID",
		"Date of Birth or Age",
		"Gender/Sex",
		"Handedness",
		"Primary Language",
		"Consent to Participate",
		"Additional Information/Notes",
	}, labels)
}
