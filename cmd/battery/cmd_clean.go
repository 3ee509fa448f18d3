package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/brodbeck-lab/battery/internal/session"
	"github.com/brodbeck-lab/battery/internal/ui"
)

func newCleanCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "clean",
		Short: "Remove recovery artifacts for a participant",
		Long: `Remove a participant's stored session, backups, heartbeat files and
emergency saves.

Exported task data and session logs are never touched. --reports also
removes crash reports.`,
		Args: cobra.NoArgs,
		RunE: runClean,
	}

	cmd.Flags().StringP("participant", "p", "", "Participant ID (required)")
	cmd.Flags().Bool("reports", false, "Also remove crash reports")

	return cmd
}

func runClean(cmd *cobra.Command, args []string) error {
	participant, err := cmd.Flags().GetString("participant")
	if err != nil {
		return err
	}
	if participant == "" {
		return errors.New("--participant is required")
	}
	if err := ui.ValidateParticipantID(participant); err != nil {
		return err
	}
	reports, err := cmd.Flags().GetBool("reports")
	if err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	maxAge := time.Duration(cfg.Recovery.MaxSessionAgeDays) * 24 * time.Hour
	wasResumable := session.Inspect(cfg.DataRoot, participant, time.Now(), maxAge).Recoverable

	paths := session.NewPaths(cfg.DataRoot, participant)
	removed, err := cleanRecoveryArtifacts(paths, reports)
	if err != nil {
		return err
	}

	if len(removed) == 0 {
		fmt.Fprintf(w, "Nothing to clean for %s\n", participant) //nolint:errcheck
		return nil
	}
	for _, p := range removed {
		fmt.Fprintf(w, "removed %s\n", p) //nolint:errcheck
	}
	if wasResumable {
		fmt.Fprintln(w, "note: the removed session was resumable") //nolint:errcheck
	}
	return nil
}

// cleanRecoveryArtifacts deletes the recovery-side files of one
// participant folder. Data exports under data/ and event logs under
// logs/ stay in place.
func cleanRecoveryArtifacts(paths session.Paths, includeReports bool) ([]string, error) {
	var removed []string

	files := []string{
		paths.SessionFile(),
		paths.BackupFile(),
		paths.RecoveryFile(),
		paths.HeartbeatFile(),
		paths.HeartbeatMetaFile(),
	}
	for _, pattern := range []string{
		filepath.Join(paths.ParticipantDir, "EMERGENCY_SESSION_*.json"),
		filepath.Join(paths.ParticipantDir, "emergency_*_fallback.json"),
	} {
		matches, err := filepath.Glob(pattern)
		if err != nil {
			return removed, err
		}
		files = append(files, matches...)
	}
	for _, f := range files {
		err := os.Remove(f)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return removed, fmt.Errorf("removing %s: %w", f, err)
		}
		removed = append(removed, f)
	}

	dirs := []string{paths.EmergencySavesDir()}
	if includeReports {
		dirs = append(dirs, paths.CrashReportsDir())
	}
	for _, d := range dirs {
		if _, err := os.Stat(d); os.IsNotExist(err) {
			continue
		}
		if err := os.RemoveAll(d); err != nil {
			return removed, fmt.Errorf("removing %s: %w", d, err)
		}
		removed = append(removed, d)
	}
	return removed, nil
}
