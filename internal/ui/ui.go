// Package ui implements the operator-facing prompts of the battery: the
// resume-or-restart decision for a recovered session and the participant
// intake form. Prompts run as huh forms and switch to accessible line
// mode when input is not a terminal, so they stay usable in scripts and
// over piped input.
package ui

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/charmbracelet/huh"
	"golang.org/x/term"

	"github.com/brodbeck-lab/battery/internal/fsx"
	"github.com/brodbeck-lab/battery/internal/session"
)

// ErrNoConsent is returned by CollectBiodata when the participant declines
// to take part. The battery must not run without consent.
var ErrNoConsent = errors.New("participant did not consent")

var participantIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// ValidateParticipantID enforces the identifier rules participant folders
// depend on: IDs become directory names, so only filesystem-safe
// characters are allowed.
func ValidateParticipantID(s string) error {
	s = strings.TrimSpace(s)
	if s == "" {
		return errors.New("participant id is required")
	}
	if len(s) > 64 {
		return errors.New("participant id is too long (max 64 characters)")
	}
	if !participantIDPattern.MatchString(s) {
		return errors.New("participant id may only contain letters, digits, '-' and '_'")
	}
	return nil
}

// ConfirmRecovery shows the recovered-session summary and asks whether to
// continue it. Returns true to resume, false to start fresh.
func ConfirmRecovery(in io.Reader, out io.Writer, snapshot session.RecoverySummary) (bool, error) {
	resume := true

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title("Previous session found").
				Description(summaryText(snapshot, time.Now())).
				Affirmative("Continue session").
				Negative("Start new session").
				Value(&resume),
		),
	).
		WithInput(in).
		WithOutput(out)

	if err := runForm(form, in); err != nil {
		return false, fmt.Errorf("recovery prompt failed: %w", err)
	}
	return resume, nil
}

// summaryText renders the session details shown above the recovery
// question.
func summaryText(s session.RecoverySummary, now time.Time) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Participant: %s\n", s.ParticipantID)
	fmt.Fprintf(&b, "Current task: %s\n", s.CurrentTask)
	fmt.Fprintf(&b, "Trials completed: %d\n", s.TrialsBuffered)
	fmt.Fprintf(&b, "Session started: %s (%s ago)\n",
		s.StartTime.Format("2006-01-02 15:04:05"), agoString(now.Sub(s.StartTime)))
	if s.LastSaveTime != nil {
		fmt.Fprintf(&b, "Last saved: %s\n", s.LastSaveTime.Format("2006-01-02 15:04:05"))
	} else {
		b.WriteString("Last saved: Unknown\n")
	}
	if s.CrashDetected {
		reason := s.CrashReason
		if reason == "" {
			reason = "unknown"
		}
		fmt.Fprintf(&b, "Crash detected: %s\n", reason)
	}
	b.WriteString("\nYour progress has been automatically saved and can be restored.")
	return b.String()
}

// agoString formats an elapsed duration the way the prompt shows it.
func agoString(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	default:
		return fmt.Sprintf("%dh%02dm", int(d.Hours()), int(d.Minutes())%60)
	}
}

// Biodata holds the participant intake fields.
type Biodata struct {
	ParticipantID   string
	AgeOrBirthDate  string
	Gender          string
	Handedness      string
	PrimaryLanguage string
	Consent         bool
	Notes           string
}

var (
	genderOptions     = []string{"Male", "Female", "Other", "Prefer not to say"}
	handednessOptions = []string{"Right-handed", "Left-handed", "Ambidextrous"}
	languageOptions = []string{
		"English", "Spanish", "French", "Mandarin", "Cantonese", "Hindi",
		"Arabic", "Russian", "Portuguese", "Bengali", "Other",
	}
)

// CollectBiodata runs the participant intake form. existing pre-populates
// the participant id suggestions so returning participants keep their
// folder. Returns ErrNoConsent when consent is declined.
func CollectBiodata(in io.Reader, out io.Writer, existing []string) (*Biodata, error) {
	b := &Biodata{Consent: true}

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Participant ID").
				Description("Letters, digits, '-' and '_' only. This becomes the data folder name.").
				Placeholder("P001").
				Suggestions(existing).
				Value(&b.ParticipantID).
				Validate(ValidateParticipantID),
			huh.NewInput().
				Title("Date of birth or age").
				Placeholder("1992-04-01 or 34").
				Value(&b.AgeOrBirthDate).
				Validate(func(s string) error {
					if strings.TrimSpace(s) == "" {
						return errors.New("date of birth or age is required")
					}
					return nil
				}),
			huh.NewSelect[string]().
				Title("Gender/Sex").
				Options(huh.NewOptions(genderOptions...)...).
				Value(&b.Gender),
			huh.NewSelect[string]().
				Title("Handedness").
				Options(huh.NewOptions(handednessOptions...)...).
				Value(&b.Handedness),
			huh.NewSelect[string]().
				Title("Primary language").
				Options(huh.NewOptions(languageOptions...)...).
				Value(&b.PrimaryLanguage),
			huh.NewConfirm().
				Title("Consent to participate").
				Description("The participant agrees to take part in this research battery.").
				Affirmative("Consent given").
				Negative("No consent").
				Value(&b.Consent),
			huh.NewText().
				Title("Additional information / notes").
				Placeholder("Optional").
				Value(&b.Notes),
		),
	).
		WithInput(in).
		WithOutput(out)

	if err := runForm(form, in); err != nil {
		return nil, fmt.Errorf("intake form failed: %w", err)
	}
	if !b.Consent {
		return nil, ErrNoConsent
	}

	b.ParticipantID = strings.TrimSpace(b.ParticipantID)
	b.AgeOrBirthDate = strings.TrimSpace(b.AgeOrBirthDate)
	b.Notes = strings.TrimSpace(b.Notes)
	return b, nil
}

// runForm runs a huh form, in accessible mode when input is not a TTY
// (tests, piped input).
func runForm(form *huh.Form, in io.Reader) error {
	if f, ok := in.(*os.File); !ok || !term.IsTerminal(int(f.Fd())) {
		form = form.WithAccessible(true)
	}
	return form.Run()
}

// MetadataFileName names the biodata report for a collection time.
func MetadataFileName(ts time.Time) string {
	return fmt.Sprintf("metadata_%s.txt", ts.Format("20060102_150405"))
}

// WriteMetadata renders the biodata report into the participant folder
// and returns its path. The report is the plain text file the intake
// screen has always produced; downstream tooling greps it, so the layout
// is part of the format.
func WriteMetadata(paths session.Paths, b *Biodata, now time.Time) (string, error) {
	if err := os.MkdirAll(paths.ParticipantDir, 0755); err != nil {
		return "", fmt.Errorf("creating participant folder: %w", err)
	}
	name := MetadataFileName(now)
	path := filepath.Join(paths.ParticipantDir, name)
	if err := fsx.WriteFileAtomic(path, []byte(renderMetadata(b, paths, name, now)), 0644); err != nil {
		return "", fmt.Errorf("writing biodata report: %w", err)
	}
	return path, nil
}

func renderMetadata(b *Biodata, paths session.Paths, fileName string, now time.Time) string {
	var sb strings.Builder
	sb.WriteString("CUSTOM TESTS BATTERY - PARTICIPANT BIODATA\n")
	sb.WriteString(strings.Repeat("=", 50) + "\n\n")
	fmt.Fprintf(&sb, "Data Collection Date: %s\n", now.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(&sb, "Storage Location: %s\n", paths.Root)
	fmt.Fprintf(&sb, "Participant Folder: %s\n", b.ParticipantID)
	fmt.Fprintf(&sb, "Metadata File: %s\n", fileName)
	sb.WriteString("Crash Recovery: ENABLED\n")
	sb.WriteString("Session Management: ACTIVE\n\n")
	sb.WriteString("PARTICIPANT INFORMATION:\n")
	sb.WriteString(strings.Repeat("-", 30) + "\n\n")

	for _, f := range b.fields() {
		fmt.Fprintf(&sb, "%-35s: %s\n", f.label, orNotProvided(f.value))
	}

	sb.WriteString("\n" + strings.Repeat("=", 50) + "\n")
	sb.WriteString("End of Biodata Report\n\n")
	fmt.Fprintf(&sb, "Generated by Custom Tests Battery v%s\n", session.RecoveryVersion)
	return sb.String()
}

type fieldValue struct {
	label string
	value string
}

func (b *Biodata) fields() []fieldValue {
	return []fieldValue{
		{"Participant ID", b.ParticipantID},
		{"Date of Birth or Age", b.AgeOrBirthDate},
		{"Gender/Sex", b.Gender},
		{"Handedness", b.Handedness},
		{"Primary Language", b.PrimaryLanguage},
		{"Consent to Participate", yesNo(b.Consent)},
		{"Additional Information/Notes", b.Notes},
	}
}

func yesNo(v bool) string {
	if v {
		return "Yes"
	}
	return "No"
}

func orNotProvided(s string) string {
	if strings.TrimSpace(s) == "" {
		return "[Not provided]"
	}
	return s
}
