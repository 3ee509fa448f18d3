package main

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/brodbeck-lab/battery/internal/projectconfig"
)

var version = "dev"

var dataRootFlag string

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "battery",
		Short: "Battery - crash-safe runner for the research task battery",
		Long: `Battery runs a research task battery with continuous session persistence.

Every trial is saved to disk as it completes. If the program crashes,
loses power or is killed mid-task, the next launch for the same
participant offers to resume exactly where the session stopped.`,
		Version:      version,
		SilenceUsage: true,
	}

	debugLogging := cmd.PersistentFlags().Bool("debug", false, "Enable debug logging")
	cmd.PersistentFlags().StringVar(&dataRootFlag, "data-root", "", "Participant data directory (overrides .battery.yaml)")
	cmd.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		if *debugLogging {
			slog.SetLogLoggerLevel(slog.LevelDebug)
		}
	}

	// Add subcommands
	cmd.AddCommand(newRunCommand())
	cmd.AddCommand(newStatusCommand())
	cmd.AddCommand(newTasksCommand())
	cmd.AddCommand(newCleanCommand())
	cmd.AddCommand(newLogCommand())

	return cmd
}

// loadConfig resolves the app configuration for the current directory.
// The --data-root flag overrides the configured storage root.
func loadConfig() (*projectconfig.ProjectConfig, error) {
	cfg, err := projectconfig.Load(".")
	if err != nil {
		return nil, err
	}
	if dataRootFlag != "" {
		cfg.DataRoot = dataRootFlag
	}
	return cfg, nil
}

func execute() error {
	rootCmd := newRootCommand()
	return rootCmd.Execute()
}
