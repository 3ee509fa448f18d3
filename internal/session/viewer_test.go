package session

import (
	"strings"
	"testing"
	"time"
)

func TestRenderTimeline(t *testing.T) {
	base := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	events := []Event{
		{Timestamp: base, Type: EventSessionStart, Data: SessionStartData("P001", "run-1", 3)},
		{Timestamp: base.Add(2 * time.Second), Type: EventTaskStart, Data: TaskStartData("stroop", 40, false)},
		{Timestamp: base.Add(5 * time.Second), Type: EventTrialRecorded, Data: TrialRecordedData("stroop", 1, 1)},
		{Timestamp: base.Add(8 * time.Second), Type: EventEmergencySave, Data: EmergencySaveData("high memory usage", true)},
		{Timestamp: base.Add(10 * time.Second), Type: EventTaskComplete, Data: TaskCompleteData("stroop", 40, true)},
		{Timestamp: base.Add(12 * time.Second), Type: EventSessionComplete, Data: nil},
	}

	var sb strings.Builder
	RenderTimeline(&sb, events)
	out := sb.String()

	for _, want := range []string{"P001", "stroop", "EMERGENCY SAVE", "high memory usage"} {
		if !strings.Contains(out, want) {
			t.Errorf("timeline missing %q:\n%s", want, out)
		}
	}
}

func TestRenderTimelineEmpty(t *testing.T) {
	var sb strings.Builder
	RenderTimeline(&sb, nil)
	if !strings.Contains(sb.String(), "No events") {
		t.Errorf("unexpected output: %s", sb.String())
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{250 * time.Millisecond, "   250ms"},
		{3 * time.Second, "   3.0s"},
		{90 * time.Second, "  90.0s"},
	}
	for _, tt := range tests {
		if got := formatDuration(tt.d); got != tt.want {
			t.Errorf("formatDuration(%v) = %q, want %q", tt.d, got, tt.want)
		}
	}
}
