package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/brodbeck-lab/battery/internal/session"
	"github.com/brodbeck-lab/battery/internal/ui"
)

func newLogCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "log",
		Short: "Show session event logs for a participant",
		Long: `Render a participant's session event log as a timeline.

Without --file the newest log is rendered. --list shows the available
log files instead.`,
		Args: cobra.NoArgs,
		RunE: runLog,
	}

	cmd.Flags().StringP("participant", "p", "", "Participant ID (required)")
	cmd.Flags().Bool("list", false, "List log files instead of rendering")
	cmd.Flags().String("file", "", "Render a specific log file")

	return cmd
}

func runLog(cmd *cobra.Command, args []string) error {
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
	list, err := cmd.Flags().GetBool("list")
	if err != nil {
		return err
	}
	file, err := cmd.Flags().GetString("file")
	if err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	paths := session.NewPaths(cfg.DataRoot, participant)
	w := cmd.OutOrStdout()

	logs, err := session.ListLogs(paths.LogsDir())
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}

	if list {
		if len(logs) == 0 {
			fmt.Fprintf(w, "No session logs for %s\n", participant) //nolint:errcheck
			return nil
		}
		for _, lf := range logs {
			fmt.Fprintf(w, "%s  %4d events  %6d bytes  %s\n", //nolint:errcheck
				lf.ModTime.Format("2006-01-02 15:04:05"), lf.NumEvents, lf.Size, lf.Name)
		}
		return nil
	}

	path := file
	if path == "" {
		if len(logs) == 0 {
			return fmt.Errorf("no session logs for %s", participant)
		}
		path = logs[0].Path
	}

	events, err := session.ReadEvents(path)
	if err != nil {
		return err
	}
	session.RenderTimeline(w, events)
	return nil
}
